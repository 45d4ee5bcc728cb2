package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/veloramed/telehealth-backend/pkg/db/models"
)

// RefRepository persists the gateway-transaction-to-checkout-context mapping.
// A row is written in the same transaction that records the initiated charge
// so the webhook handler can always resolve context by transaction id.
type RefRepository interface {
	WithTx(tx *gorm.DB) RefRepository
	Insert(ctx context.Context, ref *models.GatewayTransactionRef) error
	FindByTransactionID(ctx context.Context, transactionID string) (*models.GatewayTransactionRef, error)
	AttachOrder(ctx context.Context, transactionID string, orderID uuid.UUID) error
}

type refRepository struct {
	db *gorm.DB
}

// NewRefRepository builds a transaction-reference repository.
func NewRefRepository(db *gorm.DB) RefRepository {
	if db == nil {
		return nil
	}
	return &refRepository{db: db}
}

func (r *refRepository) WithTx(tx *gorm.DB) RefRepository {
	if tx == nil {
		return r
	}
	return &refRepository{db: tx}
}

func (r *refRepository) Insert(ctx context.Context, ref *models.GatewayTransactionRef) error {
	if ref.GenieTransactionID == "" {
		return errors.New("gateway transaction id is required")
	}
	// A replayed initiation for the same transaction id is a no-op.
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(ref).Error
}

func (r *refRepository) FindByTransactionID(ctx context.Context, transactionID string) (*models.GatewayTransactionRef, error) {
	if transactionID == "" {
		return nil, nil
	}
	var ref models.GatewayTransactionRef
	err := r.db.WithContext(ctx).
		Where("genie_transaction_id = ?", transactionID).
		First(&ref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ref, nil
}

func (r *refRepository) AttachOrder(ctx context.Context, transactionID string, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.GatewayTransactionRef{}).
		Where("genie_transaction_id = ?", transactionID).
		Update("order_id", orderID).Error
}
