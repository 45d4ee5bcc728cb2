package paymentmethods

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/veloramed/telehealth-backend/pkg/db/models"
	"github.com/veloramed/telehealth-backend/pkg/enums"
	"github.com/veloramed/telehealth-backend/pkg/genie"
	"github.com/veloramed/telehealth-backend/pkg/logger"
	"github.com/veloramed/telehealth-backend/pkg/outbox"
)

func setupPaymentMethodsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	table := `
CREATE TABLE IF NOT EXISTS payment_methods (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  gateway_customer_id TEXT NOT NULL,
  gateway_token TEXT NOT NULL,
  brand TEXT,
  last4 TEXT,
  expiry_month INTEGER NOT NULL,
  expiry_year INTEGER NOT NULL,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (user_id, gateway_token)
);`
	require.NoError(t, db.Exec(table).Error)
	return db
}

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (r *recordingOutbox) Emit(_ context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if tx == nil {
		panic("emit outside transaction")
	}
	r.events = append(r.events, event)
	return nil
}

type stubTokenLister struct {
	tokens []genie.StoredToken
	err    error
}

func (s stubTokenLister) GetCustomerTokens(context.Context, string) ([]genie.StoredToken, error) {
	return s.tokens, s.err
}

func newSyncService(t *testing.T, db *gorm.DB, lister stubTokenLister, box *recordingOutbox, now time.Time) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:    NewRepository(db),
		Gateway: lister,
		Tx:      testTxRunner{db: db},
		Outbox:  box,
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Now:     func() time.Time { return now },
	})
	require.NoError(t, err)
	return svc
}

func TestWidenExpiryYear(t *testing.T) {
	now := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 2030, WidenExpiryYear(30, now))
	assert.Equal(t, 2026, WidenExpiryYear(26, now))
	// Below the current two-digit year means the next century.
	assert.Equal(t, 2124, WidenExpiryYear(24, now))
	// Four-digit input passes through untouched.
	assert.Equal(t, 2031, WidenExpiryYear(2031, now))
}

func TestSyncStoredTokensDedup(t *testing.T) {
	db := setupPaymentMethodsTestDB(t)
	ctx := context.Background()
	userID := uuid.New()
	now := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	repo := NewRepository(db)

	require.NoError(t, repo.Insert(ctx, &models.PaymentMethod{
		UserID:            userID,
		GatewayCustomerID: "cus_1",
		GatewayToken:      "tok_existing",
		ExpiryMonth:       4,
		ExpiryYear:        2028,
	}))

	box := &recordingOutbox{}
	svc := newSyncService(t, db, stubTokenLister{tokens: []genie.StoredToken{
		{Token: "tok_existing", Brand: "visa", Last4: "4242", ExpiryMonth: 4, ExpiryYear: 28},
		{Token: "tok_new", Brand: "mastercard", Last4: "4444", ExpiryMonth: 9, ExpiryYear: 30},
	}}, box, now)

	stored, err := svc.SyncStoredTokens(ctx, userID, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored)

	methods, err := svc.ListForUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, methods, 2)

	added, err := repo.FindByUserAndToken(ctx, userID, "tok_new")
	require.NoError(t, err)
	require.NotNil(t, added)
	assert.Equal(t, 2030, added.ExpiryYear)
	assert.Equal(t, "mastercard", added.Brand)

	require.Len(t, box.events, 1)
	assert.Equal(t, enums.EventPaymentMethodStored, box.events[0].EventType)

	// A second sync with the same vault contents stores nothing new.
	stored, err = svc.SyncStoredTokens(ctx, userID, "cus_1")
	require.NoError(t, err)
	assert.Zero(t, stored)
	assert.Len(t, box.events, 1)
}

func TestFindChargeableTokenPrefersNewest(t *testing.T) {
	db := setupPaymentMethodsTestDB(t)
	ctx := context.Background()
	userID := uuid.New()
	repo := NewRepository(db)

	older := &models.PaymentMethod{
		UserID:            userID,
		GatewayCustomerID: "cus_1",
		GatewayToken:      "tok_old",
		ExpiryMonth:       1,
		ExpiryYear:        2027,
		CreatedAt:         time.Now().Add(-time.Hour),
	}
	newer := &models.PaymentMethod{
		UserID:            userID,
		GatewayCustomerID: "cus_1",
		GatewayToken:      "tok_new",
		ExpiryMonth:       1,
		ExpiryYear:        2029,
		CreatedAt:         time.Now(),
	}
	require.NoError(t, repo.Insert(ctx, older))
	require.NoError(t, repo.Insert(ctx, newer))

	svc := newSyncService(t, db, stubTokenLister{}, &recordingOutbox{}, time.Now())
	method, err := svc.FindChargeableToken(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, method)
	assert.Equal(t, "tok_new", method.GatewayToken)

	missing, err := svc.FindChargeableToken(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
