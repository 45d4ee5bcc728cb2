package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloramed/telehealth-backend/internal/orders"
	"github.com/veloramed/telehealth-backend/pkg/clinical"
	"github.com/veloramed/telehealth-backend/pkg/config"
	"github.com/veloramed/telehealth-backend/pkg/db/models"
	"github.com/veloramed/telehealth-backend/pkg/enums"
	pkgerrors "github.com/veloramed/telehealth-backend/pkg/errors"
	"github.com/veloramed/telehealth-backend/pkg/genie"
	"github.com/veloramed/telehealth-backend/pkg/logger"
	"github.com/veloramed/telehealth-backend/pkg/outbox"
	"github.com/veloramed/telehealth-backend/pkg/outbox/payloads"
	"github.com/veloramed/telehealth-backend/pkg/types"
)

const (
	consultationProductSKU  = "telehealth-consultation"
	consultationProductName = "Telehealth Consultation"

	// reasonGatewayTimeout marks phases whose initiation or charge call ran
	// past the gateway deadline.
	reasonGatewayTimeout = "gateway_timeout"
	reasonChargeFailed   = "stored_token_charge_failed"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type gatewayClient interface {
	CreateTransactionWithProducts(ctx context.Context, input genie.CreateTransactionInput) (*genie.Transaction, error)
	ChargeStoredToken(ctx context.Context, input genie.ChargeStoredTokenInput) (*genie.Transaction, error)
	Currency() string
}

// tokenSource resolves the stored card to charge for a user.
type tokenSource interface {
	FindChargeableToken(ctx context.Context, userID uuid.UUID) (*models.PaymentMethod, error)
}

type reviewSubmitter interface {
	SubmitForReview(ctx context.Context, sub clinical.Submission) error
}

// Service drives both payment paths: the synchronous full_upfront order and
// the two-phase consultation_first flow.
type Service interface {
	// ProcessPayment starts the correct path for the session's cart.
	ProcessPayment(ctx context.Context, input ProcessPaymentInput) (*ProcessPaymentResult, error)
	// ConfirmConsultationPayment runs the order-creation sequence once the
	// gateway confirms the consultation charge.
	ConfirmConsultationPayment(ctx context.Context, input ConsultationConfirmation) (*models.Order, error)
	// StartProductPhase replaces the order's lines with the approved set and
	// charges the stored token for phase two.
	StartProductPhase(ctx context.Context, orderID uuid.UUID, approved []ApprovedItem) (*models.Order, error)
}

// ProcessPaymentInput is a validated, owner-checked session ready to pay.
type ProcessPaymentInput struct {
	Session  *models.CheckoutSession
	CallerID uuid.UUID
}

// ProcessPaymentResult tells the client what happened and, for
// consultation_first, where to send the shopper.
type ProcessPaymentResult struct {
	FlowType      enums.PaymentFlowType `json:"flow_type"`
	OrderID       *uuid.UUID            `json:"order_id,omitempty"`
	TransactionID string                `json:"transaction_id,omitempty"`
	RedirectURL   string                `json:"redirect_url,omitempty"`
}

// ConsultationConfirmation carries the webhook-resolved context for a
// confirmed consultation charge.
type ConsultationConfirmation struct {
	Session       *models.CheckoutSession
	UserID        uuid.UUID
	TransactionID string
}

// ApprovedItem is one physician-approved product line. Quantities may differ
// from what the shopper originally requested.
type ApprovedItem struct {
	ProductID      string `json:"product_id" validate:"required"`
	Name           string `json:"name" validate:"required"`
	Qty            int    `json:"quantity" validate:"gt=0"`
	UnitPriceCents int    `json:"unit_price_cents" validate:"gte=0"`
}

// ServiceParams wires the orchestrator dependencies. Clinical is optional;
// when absent the review submission is skipped with a log line.
type ServiceParams struct {
	Orders   orders.Repository
	Refs     RefRepository
	Tokens   tokenSource
	Gateway  gatewayClient
	Tx       txRunner
	Outbox   outboxPublisher
	Clinical reviewSubmitter
	Logger   *logger.Logger
	Checkout config.CheckoutConfig

	// GatewayTimeout bounds every gateway call; zero means 15s.
	GatewayTimeout time.Duration
	Now            func() time.Time
}

type service struct {
	orders   orders.Repository
	refs     RefRepository
	tokens   tokenSource
	gateway  gatewayClient
	tx       txRunner
	outbox   outboxPublisher
	clinical reviewSubmitter
	logg     *logger.Logger
	cfg      config.CheckoutConfig
	timeout  time.Duration
	now      func() time.Time
}

// NewService builds the payment orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, errors.New("orders repository is required")
	}
	if params.Refs == nil {
		return nil, errors.New("transaction ref repository is required")
	}
	if params.Gateway == nil {
		return nil, errors.New("gateway client is required")
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
	timeout := params.GatewayTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		orders:   params.Orders,
		refs:     params.Refs,
		tokens:   params.Tokens,
		gateway:  params.Gateway,
		tx:       params.Tx,
		outbox:   params.Outbox,
		clinical: params.Clinical,
		logg:     params.Logger,
		cfg:      params.Checkout,
		timeout:  timeout,
		now:      now,
	}, nil
}

func (s *service) ProcessPayment(ctx context.Context, input ProcessPaymentInput) (*ProcessPaymentResult, error) {
	session := input.Session
	if session == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session is required")
	}
	if session.Status != enums.SessionStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "session is not active")
	}
	if len(session.CartItems) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	if session.UserID == nil || *session.UserID != input.CallerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "session must belong to the paying account")
	}

	flow := DetermineFlowType(session.CartItems)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"session_id": session.ID.String(),
		"flow_type":  flow,
	})

	switch flow {
	case enums.FlowConsultationFirst:
		return s.startConsultationPhase(logCtx, session)
	default:
		return s.createUpfrontOrder(logCtx, session)
	}
}

// createUpfrontOrder builds the order synchronously. The gateway charge for
// this path is confirmed inline today; the processing/confirmed transition is
// the integration point for a hosted-payment hand-off later.
func (s *service) createUpfrontOrder(ctx context.Context, session *models.CheckoutSession) (*ProcessPaymentResult, error) {
	order := &models.Order{
		UserID:             *session.UserID,
		SessionID:          &session.ID,
		Status:             enums.OrderStatusPending,
		PaymentFlowType:    enums.FlowFullUpfront,
		ConsultationStatus: enums.ConsultationStatusNotRequired,
		PaymentStatus:      enums.PaymentStatusPending,
		TotalCents:         session.CartTotalCents,
		DeliveryAddress:    session.ShippingAddress,
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}

	if err := s.orders.CreateItems(ctx, orderItemsFromCart(order.ID, session.CartItems)); err != nil {
		// Compensating delete keeps orphan orders out of the table.
		if delErr := s.orders.DeleteOrder(ctx, order.ID); delErr != nil {
			s.logg.Error(ctx, "compensating order delete failed", delErr)
		}
		return nil, fmt.Errorf("creating order items: %w", err)
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		if err := repo.UpdateOrder(ctx, order.ID, map[string]any{
			"status":         enums.OrderStatusProcessing,
			"payment_status": enums.PaymentStatusConfirmed,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderCreatedEvent{
				OrderID:        order.ID,
				UserID:         order.UserID,
				SessionID:      order.SessionID,
				FlowType:       enums.FlowFullUpfront,
				Status:         enums.OrderStatusProcessing,
				TotalCents:     order.TotalCents,
				RequiresReview: false,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithField(ctx, "order_id", order.ID.String())
	s.logg.Info(logCtx, "upfront order created")

	return &ProcessPaymentResult{
		FlowType: enums.FlowFullUpfront,
		OrderID:  &order.ID,
	}, nil
}

// startConsultationPhase opens the consultation-fee transaction. No order
// exists yet; one is created when the gateway confirms the charge.
func (s *service) startConsultationPhase(ctx context.Context, session *models.CheckoutSession) (*ProcessPaymentResult, error) {
	fee := ConsultationFeeCents(session.CartItems, s.cfg.ConsultationFeeCents)
	if fee <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "consultation fee is not configured")
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	txn, err := s.gateway.CreateTransactionWithProducts(gwCtx, genie.CreateTransactionInput{
		Amount:   genie.AmountFromCents(fee),
		Currency: s.gateway.Currency(),
		Products: []genie.Product{{
			Name:      consultationProductName,
			SKU:       consultationProductSKU,
			Qty:       1,
			UnitPrice: genie.AmountFromCents(fee),
		}},
	})
	if err != nil {
		return nil, s.gatewayError(ctx, err, "consultation transaction")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.refs.WithTx(tx).Insert(ctx, &models.GatewayTransactionRef{
			GenieTransactionID: txn.ID,
			UserID:             *session.UserID,
			SessionID:          &session.ID,
			Purpose:            enums.PurposeConsultation,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("recording transaction ref: %w", err)
	}

	logCtx := s.logg.WithField(ctx, "transaction_id", txn.ID)
	s.logg.Info(logCtx, "consultation transaction opened")

	return &ProcessPaymentResult{
		FlowType:      enums.FlowConsultationFirst,
		TransactionID: txn.ID,
		RedirectURL:   txn.RedirectURL,
	}, nil
}

func (s *service) ConfirmConsultationPayment(ctx context.Context, input ConsultationConfirmation) (*models.Order, error) {
	session := input.Session
	if session == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session is required")
	}
	if input.TransactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}

	// A replayed CONFIRMED delivery finds the order already created.
	if existing, err := s.orders.FindByConsultationPaymentID(ctx, input.TransactionID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	now := s.now()
	fee := ConsultationFeeCents(session.CartItems, s.cfg.ConsultationFeeCents)
	transactionID := input.TransactionID

	order := &models.Order{
		UserID:                input.UserID,
		SessionID:             &session.ID,
		Status:                enums.OrderStatusPhysicianReview,
		PaymentFlowType:       enums.FlowConsultationFirst,
		ConsultationStatus:    enums.ConsultationStatusPaid,
		PaymentStatus:         enums.PaymentStatusConsultationPaid,
		ConsultationPaymentID: &transactionID,
		TotalCents:            session.CartTotalCents,
		ConsultationFeeCents:  fee,
		DeliveryAddress:       session.ShippingAddress,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		if err := repo.CreateOrder(ctx, order); err != nil {
			return err
		}
		if err := repo.CreateItems(ctx, orderItemsFromCart(order.ID, session.CartItems)); err != nil {
			return err
		}
		if err := repo.CreatePhase(ctx, &models.OrderPaymentPhase{
			OrderID:            order.ID,
			PhaseType:          enums.PhaseConsultation,
			PhaseStatus:        enums.PhaseStatusCompleted,
			GenieTransactionID: transactionID,
			AmountCents:        fee,
			Currency:           s.gateway.Currency(),
			InitiatedAt:        now,
			CompletedAt:        &now,
		}); err != nil {
			return err
		}
		if err := s.refs.WithTx(tx).AttachOrder(ctx, transactionID, order.ID); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderCreatedEvent{
				OrderID:        order.ID,
				UserID:         order.UserID,
				SessionID:      order.SessionID,
				FlowType:       enums.FlowConsultationFirst,
				Status:         enums.OrderStatusPhysicianReview,
				TotalCents:     order.TotalCents,
				RequiresReview: true,
			},
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventConsultationPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.ConsultationPaidEvent{
				OrderID:              order.ID,
				UserID:               order.UserID,
				GenieTransactionID:   transactionID,
				ConsultationFeeCents: fee,
				PaidAt:               now,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":       order.ID.String(),
		"transaction_id": transactionID,
	})
	s.logg.Info(logCtx, "consultation order created")

	s.submitForReview(logCtx, order, session)

	return order, nil
}

// submitForReview hands the questionnaire to the review platform. Failure is
// logged and never rolls back the order.
func (s *service) submitForReview(ctx context.Context, order *models.Order, session *models.CheckoutSession) {
	if s.clinical == nil {
		s.logg.Warn(ctx, "clinical client not configured, skipping review submission")
		return
	}
	sub := clinical.Submission{
		OrderID:        order.ID,
		UserID:         order.UserID,
		HealthVertical: healthVertical(session.CartItems),
	}
	if session.CustomerInfo != nil {
		sub.Responses = map[string]any(*session.CustomerInfo)
	}
	if err := s.clinical.SubmitForReview(ctx, sub); err != nil {
		s.logg.Error(ctx, "review submission failed", err)
	}
}

func (s *service) StartProductPhase(ctx context.Context, orderID uuid.UUID, approved []ApprovedItem) (*models.Order, error) {
	if len(approved) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "approved item list is empty")
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentFlowType != enums.FlowConsultationFirst {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not a consultation-first order")
	}
	if order.ConsultationStatus != enums.ConsultationStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "consultation fee has not been paid")
	}
	if order.ProductPaymentID != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "product charge already started")
	}

	if s.tokens == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "stored payment methods are unavailable")
	}
	method, err := s.tokens.FindChargeableToken(ctx, order.UserID)
	if err != nil {
		return nil, err
	}
	if method == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no stored payment method for this account")
	}

	items := make([]models.OrderItem, 0, len(approved))
	products := make([]genie.Product, 0, len(approved))
	total := 0
	for _, line := range approved {
		lineTotal := line.UnitPriceCents * line.Qty
		total += lineTotal
		items = append(items, models.OrderItem{
			OrderID:        order.ID,
			ProductID:      line.ProductID,
			Name:           line.Name,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
			TotalCents:     lineTotal,
		})
		products = append(products, genie.Product{
			Name:      line.Name,
			SKU:       line.ProductID,
			Qty:       line.Qty,
			UnitPrice: genie.AmountFromCents(line.UnitPriceCents),
		})
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	txn, err := s.gateway.CreateTransactionWithProducts(gwCtx, genie.CreateTransactionInput{
		CustomerID: method.GatewayCustomerID,
		Amount:     genie.AmountFromCents(total),
		Currency:   s.gateway.Currency(),
		Products:   products,
	})
	if err != nil {
		if markErr := s.markProductChargeFailed(ctx, order, uuid.Nil, failureReason(err)); markErr != nil {
			s.logg.Error(ctx, "marking product charge failure", markErr)
		}
		return nil, s.gatewayError(ctx, err, "product transaction")
	}

	now := s.now()
	phase := &models.OrderPaymentPhase{
		OrderID:            order.ID,
		PhaseType:          enums.PhaseProducts,
		PhaseStatus:        enums.PhaseStatusProcessing,
		GenieTransactionID: txn.ID,
		AmountCents:        total,
		Currency:           s.gateway.Currency(),
		InitiatedAt:        now,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		if err := repo.ReplaceItems(ctx, order.ID, items); err != nil {
			return err
		}
		if err := repo.UpdateOrder(ctx, order.ID, map[string]any{
			"product_payment_id": txn.ID,
			"total_cents":        total,
		}); err != nil {
			return err
		}
		if err := repo.CreatePhase(ctx, phase); err != nil {
			return err
		}
		return s.refs.WithTx(tx).Insert(ctx, &models.GatewayTransactionRef{
			GenieTransactionID: txn.ID,
			UserID:             order.UserID,
			SessionID:          order.SessionID,
			OrderID:            &order.ID,
			Purpose:            enums.PurposeProducts,
		})
	})
	if err != nil {
		return nil, err
	}

	chargeCtx, cancelCharge := context.WithTimeout(ctx, s.timeout)
	defer cancelCharge()
	_, err = s.gateway.ChargeStoredToken(chargeCtx, genie.ChargeStoredTokenInput{
		CustomerID:    method.GatewayCustomerID,
		Token:         method.GatewayToken,
		TransactionID: txn.ID,
		Amount:        genie.AmountFromCents(total),
		Currency:      s.gateway.Currency(),
	})
	if err != nil {
		// The approval stands. Payment is a separate fact; a human retries it.
		if markErr := s.markProductChargeFailed(ctx, order, phase.ID, failureReason(err)); markErr != nil {
			s.logg.Error(ctx, "marking product charge failure", markErr)
		}
		return nil, s.gatewayError(ctx, err, "stored token charge")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":       order.ID.String(),
		"transaction_id": txn.ID,
		"amount_cents":   total,
	})
	s.logg.Info(logCtx, "product charge submitted")

	return s.orders.FindByID(ctx, order.ID)
}

func (s *service) markProductChargeFailed(ctx context.Context, order *models.Order, phaseID uuid.UUID, reason string) error {
	now := s.now()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		if phaseID != uuid.Nil {
			if _, err := repo.FailPhase(ctx, phaseID, enums.PhaseStatusFailed, reason, now); err != nil {
				return err
			}
		}
		if err := repo.UpdateOrder(ctx, order.ID, map[string]any{
			"status":         enums.OrderStatusPaymentFailed,
			"payment_status": enums.PaymentStatusFailed,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePaymentPhase,
			AggregateID:   order.ID,
			Data: payloads.PaymentFailedEvent{
				OrderID:       order.ID,
				Phase:         enums.PhaseProducts,
				FailureReason: reason,
				FailedAt:      now,
			},
		})
	})
}

func (s *service) gatewayError(ctx context.Context, err error, operation string) error {
	s.logg.Error(ctx, "gateway call failed", err)
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway timed out").
			WithDetails(map[string]any{"operation": operation, "reason": reasonGatewayTimeout})
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway rejected the "+operation)
}

func failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return reasonGatewayTimeout
	}
	return reasonChargeFailed
}

func healthVertical(items []types.CartItem) string {
	for _, item := range items {
		if item.RequiresConsultation && item.HealthVertical != "" {
			return item.HealthVertical
		}
	}
	return ""
}

func orderItemsFromCart(orderID uuid.UUID, cart []types.CartItem) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(cart))
	for _, line := range cart {
		items = append(items, models.OrderItem{
			OrderID:              orderID,
			ProductID:            line.ProductID,
			Name:                 line.Name,
			Qty:                  line.Qty,
			UnitPriceCents:       line.UnitPriceCents,
			TotalCents:           line.LineTotalCents(),
			RequiresConsultation: line.RequiresConsultation,
		})
	}
	return items
}
