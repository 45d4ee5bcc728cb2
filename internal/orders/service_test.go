package orders

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/veloramed/telehealth-backend/pkg/enums"
	pkgerrors "github.com/veloramed/telehealth-backend/pkg/errors"
	"github.com/veloramed/telehealth-backend/pkg/logger"
	"github.com/veloramed/telehealth-backend/pkg/outbox"
)

type serviceTxRunner struct {
	db *gorm.DB
}

func (r serviceTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type serviceOutbox struct {
	events []outbox.DomainEvent
}

func (r *serviceOutbox) Emit(_ context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if tx == nil {
		panic("emit outside transaction")
	}
	r.events = append(r.events, event)
	return nil
}

func newOrdersService(t *testing.T, db *gorm.DB, box *serviceOutbox) Service {
	t.Helper()

	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(db),
		Tx:     serviceTxRunner{db: db},
		Outbox: box,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Now:    func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	})
	require.NoError(t, err)
	return svc
}

func TestGetForUserChecksOwnership(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	svc := newOrdersService(t, db, &serviceOutbox{})
	ctx := context.Background()

	order := newTestOrder(t, repo, nil)

	found, err := svc.GetForUser(ctx, order.UserID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)

	_, err = svc.GetForUser(ctx, uuid.New(), order.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeForbidden, typed.Code())
}

func TestCancelPendingOrder(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	box := &serviceOutbox{}
	svc := newOrdersService(t, db, box)
	ctx := context.Background()

	order := newTestOrder(t, repo, nil)

	cancelled, err := svc.Cancel(ctx, order.UserID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)

	require.Len(t, box.events, 1)
	assert.Equal(t, enums.EventOrderCancelled, box.events[0].EventType)
	assert.Equal(t, order.ID, box.events[0].AggregateID)
}

func TestCancelRefusedAfterTerminalState(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	box := &serviceOutbox{}
	svc := newOrdersService(t, db, box)
	ctx := context.Background()

	order := newTestOrder(t, repo, nil)
	require.NoError(t, repo.UpdateOrder(ctx, order.ID, map[string]any{
		"status": enums.OrderStatusCompleted,
	}))

	_, err := svc.Cancel(ctx, order.UserID, order.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
	assert.Empty(t, box.events)

	found, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, found.Status)
}
