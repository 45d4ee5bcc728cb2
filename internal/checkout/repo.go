package checkout

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

// Repository persists checkout sessions and their audit events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, session *models.CheckoutSession) error
	FindByToken(ctx context.Context, token string) (*models.CheckoutSession, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
	// UpdateVersioned applies updates only when the stored version still
	// matches, bumping the version on success. A stale version yields
	// CONFLICT so concurrent transitions cannot double-apply.
	UpdateVersioned(ctx context.Context, id uuid.UUID, version int, updates map[string]any) error
	MarkExpired(ctx context.Context, id uuid.UUID) error
	InsertEvent(ctx context.Context, event *models.CheckoutSessionEvent) error
	FindEvents(ctx context.Context, sessionID uuid.UUID) ([]models.CheckoutSessionEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a session repository on the provided DB handle.
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

func (r *repository) Create(ctx context.Context, session *models.CheckoutSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repository) FindByToken(ctx context.Context, token string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := r.db.WithContext(ctx).
		Where("session_token = ?", token).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "session not found")
		}
		return nil, err
	}
	return &session, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "session not found")
		}
		return nil, err
	}
	return &session, nil
}

func (r *repository) UpdateVersioned(ctx context.Context, id uuid.UUID, version int, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	payload := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		payload[k] = v
	}
	payload["version"] = gorm.Expr("version + 1")

	res := r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("id = ? AND version = ?", id, version).
		Updates(payload)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "session was modified concurrently")
	}
	return nil
}

// MarkExpired flips status unconditionally; expiry is driven by wall clock,
// not by version, so a concurrent update must not keep a dead session alive.
func (r *repository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("id = ? AND status = ?", id, enums.SessionStatusActive).
		Updates(map[string]any{
			"status":     enums.SessionStatusExpired,
			"updated_at": time.Now(),
		}).Error
}

func (r *repository) InsertEvent(ctx context.Context, event *models.CheckoutSessionEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) FindEvents(ctx context.Context, sessionID uuid.UUID) ([]models.CheckoutSessionEvent, error) {
	var events []models.CheckoutSessionEvent
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}
