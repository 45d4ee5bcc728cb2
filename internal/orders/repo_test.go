package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/veloramed/telehealth-backend/pkg/db/models"
	"github.com/veloramed/telehealth-backend/pkg/enums"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	ordersTable := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  session_id TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  payment_flow_type TEXT NOT NULL,
  consultation_status TEXT NOT NULL DEFAULT 'not_required',
  payment_status TEXT NOT NULL DEFAULT 'pending',
  consultation_payment_id TEXT,
  product_payment_id TEXT,
  total_cents INTEGER NOT NULL,
  consultation_fee_cents INTEGER NOT NULL DEFAULT 0,
  delivery_address TEXT,
  payment_metadata TEXT,
  physician_notes TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	itemsTable := `
CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  name TEXT NOT NULL,
  qty INTEGER NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  total_cents INTEGER NOT NULL,
  requires_consultation INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`
	phasesTable := `
CREATE TABLE IF NOT EXISTS order_payment_phases (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  phase_type TEXT NOT NULL,
  phase_status TEXT NOT NULL DEFAULT 'pending',
  genie_transaction_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  failure_reason TEXT,
  initiated_at DATETIME NOT NULL,
  completed_at DATETIME,
  failed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(ordersTable).Error)
	require.NoError(t, db.Exec(itemsTable).Error)
	require.NoError(t, db.Exec(phasesTable).Error)
	return db
}

func newTestOrder(t *testing.T, repo Repository, mutate func(*models.Order)) *models.Order {
	t.Helper()

	order := &models.Order{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		Status:          enums.OrderStatusPending,
		PaymentFlowType: enums.FlowFullUpfront,
		PaymentStatus:   enums.PaymentStatusPending,
		TotalCents:      5000,
	}
	if mutate != nil {
		mutate(order)
	}
	require.NoError(t, repo.CreateOrder(context.Background(), order))
	return order
}

func TestRepositoryCreateAndFindOrder(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := newTestOrder(t, repo, nil)
	require.NoError(t, repo.CreateItems(ctx, []models.OrderItem{
		{OrderID: order.ID, ProductID: "p1", Name: "Finasteride", Qty: 2, UnitPriceCents: 2500, TotalCents: 5000, RequiresConsultation: true},
	}))

	found, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.UserID, found.UserID)
	require.Len(t, found.Items, 1)
	assert.Equal(t, "p1", found.Items[0].ProductID)
	assert.True(t, found.Items[0].RequiresConsultation)
}

func TestRepositoryDeleteOrderCompensation(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := newTestOrder(t, repo, nil)
	require.NoError(t, repo.DeleteOrder(ctx, order.ID))

	_, err := repo.FindByID(ctx, order.ID)
	require.Error(t, err)
}

func TestRepositoryFindByPaymentIDs(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	consultationTx := "txn_consult_1"
	order := newTestOrder(t, repo, func(o *models.Order) {
		o.PaymentFlowType = enums.FlowConsultationFirst
		o.ConsultationPaymentID = &consultationTx
	})

	found, err := repo.FindByConsultationPaymentID(ctx, consultationTx)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, order.ID, found.ID)

	// Unknown transaction IDs are not an error, only an absence.
	found, err = repo.FindByProductPaymentID(ctx, "txn_missing")
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = repo.FindByConsultationPaymentID(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRepositoryUpdateOrderWhere(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := newTestOrder(t, repo, func(o *models.Order) {
		o.Status = enums.OrderStatusPhysicianReview
		o.PaymentFlowType = enums.FlowConsultationFirst
		o.ConsultationStatus = enums.ConsultationStatusPaid
	})

	applied, err := repo.UpdateOrderWhere(ctx, order.ID,
		map[string]any{"status": enums.OrderStatusPhysicianReview},
		map[string]any{"status": enums.OrderStatusApprovedPendingPayment},
	)
	require.NoError(t, err)
	assert.True(t, applied)

	// A second identical transition finds no matching row.
	applied, err = repo.UpdateOrderWhere(ctx, order.ID,
		map[string]any{"status": enums.OrderStatusPhysicianReview},
		map[string]any{"status": enums.OrderStatusApprovedPendingPayment},
	)
	require.NoError(t, err)
	assert.False(t, applied)

	found, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusApprovedPendingPayment, found.Status)
}

func TestRepositoryReplaceItems(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := newTestOrder(t, repo, nil)
	require.NoError(t, repo.CreateItems(ctx, []models.OrderItem{
		{OrderID: order.ID, ProductID: "p1", Name: "Requested", Qty: 3, UnitPriceCents: 1000, TotalCents: 3000},
	}))

	require.NoError(t, repo.ReplaceItems(ctx, order.ID, []models.OrderItem{
		{OrderID: order.ID, ProductID: "p2", Name: "Approved", Qty: 1, UnitPriceCents: 2000, TotalCents: 2000},
	}))

	found, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, found.Items, 1)
	assert.Equal(t, "p2", found.Items[0].ProductID)
	assert.Equal(t, 1, found.Items[0].Qty)
}

func TestRepositoryPhaseLifecycle(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	order := newTestOrder(t, repo, nil)
	phase := &models.OrderPaymentPhase{
		OrderID:            order.ID,
		PhaseType:          enums.PhaseConsultation,
		PhaseStatus:        enums.PhaseStatusProcessing,
		GenieTransactionID: "txn_phase_1",
		AmountCents:        1500,
		Currency:           "USD",
		InitiatedAt:        now,
	}
	require.NoError(t, repo.CreatePhase(ctx, phase))

	active, err := repo.FindActivePhase(ctx, order.ID, enums.PhaseConsultation)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, phase.ID, active.ID)

	byTx, err := repo.FindPhaseByTransactionID(ctx, "txn_phase_1")
	require.NoError(t, err)
	require.NotNil(t, byTx)
	assert.Equal(t, phase.ID, byTx.ID)

	applied, err := repo.CompletePhase(ctx, phase.ID, now)
	require.NoError(t, err)
	assert.True(t, applied)

	// Completed phases never transition again.
	applied, err = repo.CompletePhase(ctx, phase.ID, now)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = repo.FailPhase(ctx, phase.ID, enums.PhaseStatusFailed, "late webhook", now)
	require.NoError(t, err)
	assert.False(t, applied)

	active, err = repo.FindActivePhase(ctx, order.ID, enums.PhaseConsultation)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestRepositoryFailPhase(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	order := newTestOrder(t, repo, nil)
	phase := &models.OrderPaymentPhase{
		OrderID:            order.ID,
		PhaseType:          enums.PhaseProducts,
		PhaseStatus:        enums.PhaseStatusPending,
		GenieTransactionID: "txn_phase_2",
		AmountCents:        4200,
		Currency:           "USD",
		InitiatedAt:        now,
	}
	require.NoError(t, repo.CreatePhase(ctx, phase))

	_, err := repo.FailPhase(ctx, phase.ID, enums.PhaseStatusCompleted, "nope", now)
	require.Error(t, err)

	applied, err := repo.FailPhase(ctx, phase.ID, enums.PhaseStatusFailed, "card_declined", now)
	require.NoError(t, err)
	assert.True(t, applied)

	byTx, err := repo.FindPhaseByTransactionID(ctx, "txn_phase_2")
	require.NoError(t, err)
	require.NotNil(t, byTx)
	assert.Equal(t, enums.PhaseStatusFailed, byTx.PhaseStatus)
	require.NotNil(t, byTx.FailureReason)
	assert.Equal(t, "card_declined", *byTx.FailureReason)
}
