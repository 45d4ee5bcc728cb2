package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloramed/telehealth-backend/internal/orders"
	"github.com/veloramed/telehealth-backend/internal/payments"
	"github.com/veloramed/telehealth-backend/pkg/db/models"
	"github.com/veloramed/telehealth-backend/pkg/enums"
	"github.com/veloramed/telehealth-backend/pkg/genie"
	"github.com/veloramed/telehealth-backend/pkg/logger"
	"github.com/veloramed/telehealth-backend/pkg/outbox"
	"github.com/veloramed/telehealth-backend/pkg/outbox/payloads"
)

// Outcome tells the controller what happened to a delivery.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Failure reasons recorded on phases when the gateway reports a terminal state.
const (
	reasonVoided    = "voided by gateway"
	reasonCancelled = "cancelled"
	reasonFailed    = "failed"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type consultationConfirmer interface {
	ConfirmConsultationPayment(ctx context.Context, input payments.ConsultationConfirmation) (*models.Order, error)
}

type tokenSyncer interface {
	SyncStoredTokens(ctx context.Context, userID uuid.UUID, gatewayCustomerID string) (int, error)
}

type sessionSource interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
}

type refSource interface {
	FindByTransactionID(ctx context.Context, transactionID string) (*models.GatewayTransactionRef, error)
}

// Service routes authenticated gateway deliveries to the matching state
// transition. Signature checks happen in the controller before dispatch.
type Service interface {
	HandleEvent(ctx context.Context, event genie.WebhookEvent) (Outcome, error)
}

// ServiceParams wires the dispatcher dependencies.
type ServiceParams struct {
	Orders   orders.Repository
	Refs     refSource
	Sessions sessionSource
	Payments consultationConfirmer
	Methods  tokenSyncer
	Guard    *Guard
	Tx       txRunner
	Outbox   outboxPublisher
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	orders   orders.Repository
	refs     refSource
	sessions sessionSource
	payments consultationConfirmer
	methods  tokenSyncer
	guard    *Guard
	tx       txRunner
	outbox   outboxPublisher
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the webhook dispatcher.
func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, errors.New("orders repository is required")
	}
	if params.Refs == nil {
		return nil, errors.New("transaction ref source is required")
	}
	if params.Sessions == nil {
		return nil, errors.New("session source is required")
	}
	if params.Payments == nil {
		return nil, errors.New("payment orchestrator is required")
	}
	if params.Guard == nil {
		return nil, errors.New("idempotency guard is required")
	}
	if params.Tx == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox publisher is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		orders:   params.Orders,
		refs:     params.Refs,
		sessions: params.Sessions,
		payments: params.Payments,
		methods:  params.Methods,
		guard:    params.Guard,
		tx:       params.Tx,
		outbox:   params.Outbox,
		logg:     params.Logger,
		now:      now,
	}, nil
}

func (s *service) HandleEvent(ctx context.Context, event genie.WebhookEvent) (Outcome, error) {
	if event.TransactionID == "" {
		return OutcomeIgnored, errors.New("delivery has no transaction id")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"transaction_id": event.TransactionID,
		"event_type":     event.EventType,
		"state":          event.State,
	})

	// Progress notifications carry no state change worth recording.
	if event.State == genie.StateInitiated || event.State == genie.StateQRCodeGenerated {
		s.logg.Info(logCtx, "gateway progress notification")
		return OutcomeIgnored, nil
	}

	first, err := s.guard.CheckAndMark(ctx, event.TransactionID, event.State)
	if err != nil {
		return OutcomeIgnored, fmt.Errorf("idempotency check: %w", err)
	}
	if !first {
		s.logg.Info(logCtx, "duplicate webhook delivery dropped")
		return OutcomeDuplicate, nil
	}

	outcome, err := s.dispatch(logCtx, event)
	if err != nil {
		// Free the claim so the gateway's retry can land.
		if relErr := s.guard.Release(ctx, event.TransactionID, event.State); relErr != nil {
			s.logg.Error(logCtx, "releasing idempotency claim", relErr)
		}
		return outcome, err
	}
	return outcome, nil
}

func (s *service) dispatch(ctx context.Context, event genie.WebhookEvent) (Outcome, error) {
	if event.EventType == genie.EventCardTokenized {
		return s.handleTokenized(ctx, event)
	}

	switch event.State {
	case genie.StateConfirmed:
		return s.handleConfirmed(ctx, event)
	case genie.StateVoided:
		return s.handleTerminal(ctx, event, reasonVoided, enums.OrderStatusCancelled, enums.PaymentStatusVoided)
	case genie.StateCancelled:
		return s.handleTerminal(ctx, event, reasonCancelled, enums.OrderStatusCancelled, enums.PaymentStatusCancelled)
	case genie.StateFailed:
		return s.handleTerminal(ctx, event, reasonFailed, enums.OrderStatusPaymentFailed, enums.PaymentStatusFailed)
	default:
		s.logg.Warn(ctx, "unhandled gateway state")
		return OutcomeIgnored, nil
	}
}

// handleConfirmed settles a charge. A confirmed consultation payment with no
// order yet triggers the order-creation sequence; a confirmed product payment
// completes the second phase.
func (s *service) handleConfirmed(ctx context.Context, event genie.WebhookEvent) (Outcome, error) {
	ref, err := s.refs.FindByTransactionID(ctx, event.TransactionID)
	if err != nil {
		return OutcomeIgnored, err
	}

	if ref != nil && ref.Purpose == enums.PurposeConsultation && ref.OrderID == nil {
		if ref.SessionID == nil {
			return OutcomeIgnored, errors.New("consultation ref has no session")
		}
		session, err := s.sessions.FindByID(ctx, *ref.SessionID)
		if err != nil {
			return OutcomeIgnored, err
		}
		order, err := s.payments.ConfirmConsultationPayment(ctx, payments.ConsultationConfirmation{
			Session:       session,
			UserID:        ref.UserID,
			TransactionID: event.TransactionID,
		})
		if err != nil {
			return OutcomeIgnored, err
		}
		logCtx := s.logg.WithField(ctx, "order_id", order.ID.String())
		s.logg.Info(logCtx, "consultation payment confirmed")
		return OutcomeProcessed, nil
	}

	// Product payment, or a consultation replay that already has its order.
	order, err := s.findOrderForTransaction(ctx, event.TransactionID)
	if err != nil {
		return OutcomeIgnored, err
	}
	if order == nil {
		s.logg.Warn(ctx, "confirmed transaction matches no order")
		return OutcomeIgnored, nil
	}

	isProductPayment := order.ProductPaymentID != nil && *order.ProductPaymentID == event.TransactionID
	now := s.now()

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		phase, err := repo.FindPhaseByTransactionID(ctx, event.TransactionID)
		if err != nil {
			return err
		}
		amount := 0
		phaseType := enums.PhaseConsultation
		if phase != nil {
			amount = phase.AmountCents
			phaseType = phase.PhaseType
			if _, err := repo.CompletePhase(ctx, phase.ID, now); err != nil {
				return err
			}
		}
		if !isProductPayment {
			return nil
		}
		if _, err := repo.UpdateOrderWhere(ctx, order.ID,
			map[string]any{"product_payment_id": event.TransactionID},
			map[string]any{
				"status":         enums.OrderStatusProcessing,
				"payment_status": enums.PaymentStatusFullyPaid,
			},
		); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentConfirmed,
			AggregateType: enums.AggregatePaymentPhase,
			AggregateID:   order.ID,
			Data: payloads.PaymentConfirmedEvent{
				OrderID:            order.ID,
				GenieTransactionID: event.TransactionID,
				Phase:              phaseType,
				AmountCents:        amount,
				PaymentStatus:      enums.PaymentStatusFullyPaid,
				ConfirmedAt:        now,
			},
		})
	})
	if err != nil {
		return OutcomeIgnored, err
	}

	s.logg.Info(ctx, "gateway payment confirmed")
	return OutcomeProcessed, nil
}

// handleTerminal applies VOIDED / CANCELLED / FAILED uniformly: the matched
// phase fails with the given reason and the order is stamped with the mapped
// status pair.
func (s *service) handleTerminal(ctx context.Context, event genie.WebhookEvent, reason string, orderStatus enums.OrderStatus, paymentStatus enums.PaymentStatus) (Outcome, error) {
	order, err := s.findOrderForTransaction(ctx, event.TransactionID)
	if err != nil {
		return OutcomeIgnored, err
	}
	if order == nil {
		// An abandoned consultation charge never produced an order.
		s.logg.Info(ctx, "terminal state for unmatched transaction")
		return OutcomeIgnored, nil
	}

	now := s.now()
	eventType := enums.EventPaymentFailed
	if paymentStatus == enums.PaymentStatusVoided {
		eventType = enums.EventPaymentVoided
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		phase, err := repo.FindPhaseByTransactionID(ctx, event.TransactionID)
		if err != nil {
			return err
		}
		phaseType := enums.PhaseConsultation
		if phase != nil {
			phaseType = phase.PhaseType
			if _, err := repo.FailPhase(ctx, phase.ID, enums.PhaseStatusFailed, reason, now); err != nil {
				return err
			}
		}
		if err := repo.UpdateOrder(ctx, order.ID, map[string]any{
			"status":         orderStatus,
			"payment_status": paymentStatus,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregatePaymentPhase,
			AggregateID:   order.ID,
			Data: payloads.PaymentFailedEvent{
				OrderID:            order.ID,
				GenieTransactionID: event.TransactionID,
				Phase:              phaseType,
				FailureReason:      reason,
				FailedAt:           now,
			},
		})
	})
	if err != nil {
		return OutcomeIgnored, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id": order.ID.String(),
		"reason":   reason,
	})
	s.logg.Warn(logCtx, "gateway payment ended terminally")
	return OutcomeProcessed, nil
}

// handleTokenized syncs the customer's stored tokens after a successful card
// tokenization.
func (s *service) handleTokenized(ctx context.Context, event genie.WebhookEvent) (Outcome, error) {
	if s.methods == nil {
		s.logg.Warn(ctx, "payment method sync not configured")
		return OutcomeIgnored, nil
	}
	if event.CustomerID == "" {
		return OutcomeIgnored, errors.New("tokenization delivery has no customer id")
	}

	ref, err := s.refs.FindByTransactionID(ctx, event.TransactionID)
	if err != nil {
		return OutcomeIgnored, err
	}
	if ref == nil {
		s.logg.Warn(ctx, "tokenization for unknown transaction")
		return OutcomeIgnored, nil
	}

	stored, err := s.methods.SyncStoredTokens(ctx, ref.UserID, event.CustomerID)
	if err != nil {
		return OutcomeIgnored, err
	}
	logCtx := s.logg.WithField(ctx, "new_tokens", stored)
	s.logg.Info(logCtx, "card tokenized")
	return OutcomeProcessed, nil
}

func (s *service) findOrderForTransaction(ctx context.Context, transactionID string) (*models.Order, error) {
	order, err := s.orders.FindByConsultationPaymentID(ctx, transactionID)
	if err != nil || order != nil {
		return order, err
	}
	return s.orders.FindByProductPaymentID(ctx, transactionID)
}
