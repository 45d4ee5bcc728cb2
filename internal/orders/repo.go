package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloramed/telehealth-backend/pkg/db/models"
	"github.com/veloramed/telehealth-backend/pkg/enums"
	pkgerrors "github.com/veloramed/telehealth-backend/pkg/errors"
)

// Repository persists orders, their items, and their payment phases.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrder(ctx context.Context, order *models.Order) error
	// DeleteOrder exists solely for the compensating delete immediately
	// after a failed item insert. Everywhere else cancellation is a
	// status change.
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByConsultationPaymentID(ctx context.Context, transactionID string) (*models.Order, error)
	FindByProductPaymentID(ctx context.Context, transactionID string) (*models.Order, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error
	// UpdateOrderWhere applies updates only when the row still matches the
	// conditions; reports whether a row was touched.
	UpdateOrderWhere(ctx context.Context, id uuid.UUID, conditions map[string]any, updates map[string]any) (bool, error)

	CreateItems(ctx context.Context, items []models.OrderItem) error
	ReplaceItems(ctx context.Context, orderID uuid.UUID, items []models.OrderItem) error

	CreatePhase(ctx context.Context, phase *models.OrderPaymentPhase) error
	FindPhaseByTransactionID(ctx context.Context, transactionID string) (*models.OrderPaymentPhase, error)
	FindActivePhase(ctx context.Context, orderID uuid.UUID, phaseType enums.PhaseType) (*models.OrderPaymentPhase, error)
	// CompletePhase and FailPhase transition a phase terminally, guarded so
	// an already-terminal phase is never reopened or double-applied.
	CompletePhase(ctx context.Context, phaseID uuid.UUID, completedAt time.Time) (bool, error)
	FailPhase(ctx context.Context, phaseID uuid.UUID, status enums.PhaseStatus, reason string, failedAt time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository on the provided DB handle.
func NewRepository(db *gorm.DB) Repository {
	if db == nil {
		return nil
	}
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Omit("Items", "Phases").Create(order).Error
}

func (r *repository) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.Order{}).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Phases").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByConsultationPaymentID(ctx context.Context, transactionID string) (*models.Order, error) {
	return r.findByPaymentColumn(ctx, "consultation_payment_id", transactionID)
}

func (r *repository) FindByProductPaymentID(ctx context.Context, transactionID string) (*models.Order, error) {
	return r.findByPaymentColumn(ctx, "product_payment_id", transactionID)
}

func (r *repository) findByPaymentColumn(ctx context.Context, column, transactionID string) (*models.Order, error) {
	if transactionID == "" {
		return nil, nil
	}
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Phases").
		Where(column+" = ?", transactionID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) UpdateOrderWhere(ctx context.Context, id uuid.UUID, conditions map[string]any, updates map[string]any) (bool, error) {
	if len(updates) == 0 {
		return false, nil
	}
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id)
	for column, value := range conditions {
		query = query.Where(column+" = ?", value)
	}
	res := query.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) CreateItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return errors.New("no items to insert")
	}
	for i := range items {
		if items[i].ID == uuid.Nil {
			items[i].ID = uuid.New()
		}
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) ReplaceItems(ctx context.Context, orderID uuid.UUID, items []models.OrderItem) error {
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Delete(&models.OrderItem{}).Error; err != nil {
		return err
	}
	return r.CreateItems(ctx, items)
}

func (r *repository) CreatePhase(ctx context.Context, phase *models.OrderPaymentPhase) error {
	if phase.ID == uuid.Nil {
		phase.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(phase).Error
}

func (r *repository) FindPhaseByTransactionID(ctx context.Context, transactionID string) (*models.OrderPaymentPhase, error) {
	if transactionID == "" {
		return nil, nil
	}
	var phase models.OrderPaymentPhase
	err := r.db.WithContext(ctx).
		Where("genie_transaction_id = ?", transactionID).
		First(&phase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &phase, nil
}

func (r *repository) FindActivePhase(ctx context.Context, orderID uuid.UUID, phaseType enums.PhaseType) (*models.OrderPaymentPhase, error) {
	var phase models.OrderPaymentPhase
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND phase_type = ?", orderID, phaseType).
		Where("phase_status IN ?", []enums.PhaseStatus{enums.PhaseStatusPending, enums.PhaseStatusProcessing}).
		First(&phase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &phase, nil
}

func (r *repository) CompletePhase(ctx context.Context, phaseID uuid.UUID, completedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderPaymentPhase{}).
		Where("id = ?", phaseID).
		Where("phase_status IN ?", []enums.PhaseStatus{enums.PhaseStatusPending, enums.PhaseStatusProcessing}).
		Updates(map[string]any{
			"phase_status": enums.PhaseStatusCompleted,
			"completed_at": completedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FailPhase(ctx context.Context, phaseID uuid.UUID, status enums.PhaseStatus, reason string, failedAt time.Time) (bool, error) {
	if status != enums.PhaseStatusFailed && status != enums.PhaseStatusCancelled {
		return false, errors.New("terminal phase status must be failed or cancelled")
	}
	res := r.db.WithContext(ctx).
		Model(&models.OrderPaymentPhase{}).
		Where("id = ?", phaseID).
		Where("phase_status IN ?", []enums.PhaseStatus{enums.PhaseStatusPending, enums.PhaseStatusProcessing}).
		Updates(map[string]any{
			"phase_status":   status,
			"failure_reason": reason,
			"failed_at":      failedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
