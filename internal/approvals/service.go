package approvals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloramed/telehealth-backend/internal/orders"
	"github.com/veloramed/telehealth-backend/internal/payments"
	"github.com/veloramed/telehealth-backend/pkg/db/models"
	"github.com/veloramed/telehealth-backend/pkg/enums"
	pkgerrors "github.com/veloramed/telehealth-backend/pkg/errors"
	"github.com/veloramed/telehealth-backend/pkg/logger"
	"github.com/veloramed/telehealth-backend/pkg/outbox"
	"github.com/veloramed/telehealth-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type phaseStarter interface {
	StartProductPhase(ctx context.Context, orderID uuid.UUID, approved []payments.ApprovedItem) (*models.Order, error)
}

// Decision is the physician's verdict on a reviewed order.
type Decision struct {
	Approved       bool
	ReviewerID     string
	PhysicianNotes *string
	// ApprovedItems replaces the order's lines on approval. Empty means the
	// original request is approved unchanged.
	ApprovedItems []payments.ApprovedItem
}

// Service applies physician review decisions. Rejection is terminal; approval
// hands off to the payment orchestrator for the product charge.
type Service interface {
	HandleDecision(ctx context.Context, orderID uuid.UUID, decision Decision) (*models.Order, error)
}

// ServiceParams wires the approval handler dependencies.
type ServiceParams struct {
	Orders   orders.Repository
	Payments phaseStarter
	Tx       txRunner
	Outbox   outboxPublisher
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	orders   orders.Repository
	payments phaseStarter
	tx       txRunner
	outbox   outboxPublisher
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the approval handler.
func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, errors.New("orders repository is required")
	}
	if params.Payments == nil {
		return nil, errors.New("payment orchestrator is required")
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
		payments: params.Payments,
		tx:       params.Tx,
		outbox:   params.Outbox,
		logg:     params.Logger,
		now:      now,
	}, nil
}

func (s *service) HandleDecision(ctx context.Context, orderID uuid.UUID, decision Decision) (*models.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentFlowType != enums.FlowConsultationFirst {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not under physician review")
	}
	if order.ConsultationStatus != enums.ConsultationStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "consultation fee has not been paid")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id": orderID.String(),
		"approved": decision.Approved,
	})

	if !decision.Approved {
		return s.reject(logCtx, order, decision)
	}
	return s.approve(logCtx, order, decision)
}

// reject is terminal. No product charge ever happens for this order.
func (s *service) reject(ctx context.Context, order *models.Order, decision Decision) (*models.Order, error) {
	now := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		updates := map[string]any{
			"status":              enums.OrderStatusRejected,
			"consultation_status": enums.ConsultationStatusRejected,
		}
		if decision.PhysicianNotes != nil {
			updates["physician_notes"] = *decision.PhysicianNotes
		}
		applied, err := repo.UpdateOrderWhere(ctx, order.ID,
			map[string]any{"status": enums.OrderStatusPhysicianReview},
			updates,
		)
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has already been decided")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRejected,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderDecisionEvent{
				OrderID:    order.ID,
				UserID:     order.UserID,
				Status:     enums.OrderStatusRejected,
				Approved:   false,
				ReviewerID: decision.ReviewerID,
				DecidedAt:  now,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(ctx, "order rejected by physician")
	return s.orders.FindByID(ctx, order.ID)
}

func (s *service) approve(ctx context.Context, order *models.Order, decision Decision) (*models.Order, error) {
	now := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		updates := map[string]any{
			"status": enums.OrderStatusApprovedPendingPayment,
		}
		if decision.PhysicianNotes != nil {
			updates["physician_notes"] = *decision.PhysicianNotes
		}
		applied, err := repo.UpdateOrderWhere(ctx, order.ID,
			map[string]any{"status": enums.OrderStatusPhysicianReview},
			updates,
		)
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has already been decided")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderApproved,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderDecisionEvent{
				OrderID:    order.ID,
				UserID:     order.UserID,
				Status:     enums.OrderStatusApprovedPendingPayment,
				Approved:   true,
				ReviewerID: decision.ReviewerID,
				DecidedAt:  now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(ctx, "order approved by physician")

	approved := decision.ApprovedItems
	if len(approved) == 0 {
		approved = approvedFromItems(order.Items)
	}

	// The approval is a recorded fact from here on. A failed charge leaves
	// the order payment_failed without undoing the decision.
	updated, chargeErr := s.payments.StartProductPhase(ctx, order.ID, approved)
	if chargeErr != nil {
		s.logg.Error(ctx, "product charge after approval failed", chargeErr)
		latest, loadErr := s.orders.FindByID(ctx, order.ID)
		if loadErr != nil {
			return nil, loadErr
		}
		return latest, chargeErr
	}
	return updated, nil
}

func approvedFromItems(items []models.OrderItem) []payments.ApprovedItem {
	approved := make([]payments.ApprovedItem, 0, len(items))
	for _, item := range items {
		approved = append(approved, payments.ApprovedItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Qty:            item.Qty,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	return approved
}
