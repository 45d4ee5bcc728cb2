package approvals

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/veloramed/telehealth-backend/internal/orders"
	"github.com/veloramed/telehealth-backend/internal/payments"
	"github.com/veloramed/telehealth-backend/pkg/db/models"
	"github.com/veloramed/telehealth-backend/pkg/enums"
	pkgerrors "github.com/veloramed/telehealth-backend/pkg/errors"
	"github.com/veloramed/telehealth-backend/pkg/logger"
	"github.com/veloramed/telehealth-backend/pkg/outbox"
)

func setupApprovalsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{`
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
);`, `
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
);`, `
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
);`}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
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

type stubPhaseStarter struct {
	repo  orders.Repository
	calls [][]payments.ApprovedItem
	err   error
}

func (s *stubPhaseStarter) StartProductPhase(ctx context.Context, orderID uuid.UUID, approved []payments.ApprovedItem) (*models.Order, error) {
	s.calls = append(s.calls, approved)
	if s.err != nil {
		return nil, s.err
	}
	return s.repo.FindByID(ctx, orderID)
}

type approvalsHarness struct {
	svc     Service
	db      *gorm.DB
	orders  orders.Repository
	starter *stubPhaseStarter
	outbox  *recordingOutbox
}

func newApprovalsHarness(t *testing.T) *approvalsHarness {
	t.Helper()

	db := setupApprovalsTestDB(t)
	repo := orders.NewRepository(db)
	h := &approvalsHarness{
		db:      db,
		orders:  repo,
		starter: &stubPhaseStarter{repo: repo},
		outbox:  &recordingOutbox{},
	}

	svc, err := NewService(ServiceParams{
		Orders:   repo,
		Payments: h.starter,
		Tx:       testTxRunner{db: db},
		Outbox:   h.outbox,
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Now:      func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func reviewedOrder(t *testing.T, h *approvalsHarness) *models.Order {
	t.Helper()
	ctx := context.Background()
	consultTx := "txn_" + uuid.NewString()[:8]
	order := &models.Order{
		UserID:                uuid.New(),
		Status:                enums.OrderStatusPhysicianReview,
		PaymentFlowType:       enums.FlowConsultationFirst,
		ConsultationStatus:    enums.ConsultationStatusPaid,
		PaymentStatus:         enums.PaymentStatusConsultationPaid,
		ConsultationPaymentID: &consultTx,
		TotalCents:            6000,
		ConsultationFeeCents:  1500,
	}
	require.NoError(t, h.orders.CreateOrder(ctx, order))
	require.NoError(t, h.orders.CreateItems(ctx, []models.OrderItem{
		{OrderID: order.ID, ProductID: "rx1", Name: "Finasteride", Qty: 2, UnitPriceCents: 3000, TotalCents: 6000, RequiresConsultation: true},
	}))

	loaded, err := h.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	return loaded
}

func TestHandleDecisionPreconditions(t *testing.T) {
	h := newApprovalsHarness(t)
	ctx := context.Background()

	_, err := h.svc.HandleDecision(ctx, uuid.New(), Decision{Approved: true})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())

	upfront := &models.Order{
		UserID:          uuid.New(),
		Status:          enums.OrderStatusProcessing,
		PaymentFlowType: enums.FlowFullUpfront,
		TotalCents:      1000,
	}
	require.NoError(t, h.orders.CreateOrder(ctx, upfront))
	_, err = h.svc.HandleDecision(ctx, upfront.ID, Decision{Approved: true})
	typed = pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	unpaid := &models.Order{
		UserID:             uuid.New(),
		Status:             enums.OrderStatusPhysicianReview,
		PaymentFlowType:    enums.FlowConsultationFirst,
		ConsultationStatus: enums.ConsultationStatusPending,
		TotalCents:         1000,
	}
	require.NoError(t, h.orders.CreateOrder(ctx, unpaid))
	_, err = h.svc.HandleDecision(ctx, unpaid.ID, Decision{Approved: false})
	typed = pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	// No mutation happened on the precondition failures.
	kept, err := h.orders.FindByID(ctx, unpaid.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPhysicianReview, kept.Status)
	assert.Empty(t, h.outbox.events)
	assert.Empty(t, h.starter.calls)
}

func TestHandleDecisionReject(t *testing.T) {
	h := newApprovalsHarness(t)
	ctx := context.Background()
	order := reviewedOrder(t, h)

	notes := "contraindicated with current medication"
	rejected, err := h.svc.HandleDecision(ctx, order.ID, Decision{
		Approved:       false,
		ReviewerID:     "dr-145",
		PhysicianNotes: &notes,
	})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusRejected, rejected.Status)
	assert.Equal(t, enums.ConsultationStatusRejected, rejected.ConsultationStatus)
	require.NotNil(t, rejected.PhysicianNotes)
	assert.Equal(t, notes, *rejected.PhysicianNotes)

	// Rejection never starts a product charge.
	assert.Empty(t, h.starter.calls)
	assert.Empty(t, rejected.Phases)

	require.Len(t, h.outbox.events, 1)
	assert.Equal(t, enums.EventOrderRejected, h.outbox.events[0].EventType)

	// The decision is terminal.
	_, err = h.svc.HandleDecision(ctx, order.ID, Decision{Approved: true})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestHandleDecisionApprove(t *testing.T) {
	h := newApprovalsHarness(t)
	ctx := context.Background()
	order := reviewedOrder(t, h)

	approved, err := h.svc.HandleDecision(ctx, order.ID, Decision{
		Approved:   true,
		ReviewerID: "dr-145",
		ApprovedItems: []payments.ApprovedItem{
			{ProductID: "rx1", Name: "Finasteride", Qty: 1, UnitPriceCents: 3000},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusApprovedPendingPayment, approved.Status)

	require.Len(t, h.starter.calls, 1)
	require.Len(t, h.starter.calls[0], 1)
	assert.Equal(t, 1, h.starter.calls[0][0].Qty)

	require.Len(t, h.outbox.events, 1)
	assert.Equal(t, enums.EventOrderApproved, h.outbox.events[0].EventType)
}

func TestHandleDecisionApproveDefaultsToRequestedItems(t *testing.T) {
	h := newApprovalsHarness(t)
	ctx := context.Background()
	order := reviewedOrder(t, h)

	_, err := h.svc.HandleDecision(ctx, order.ID, Decision{Approved: true})
	require.NoError(t, err)

	require.Len(t, h.starter.calls, 1)
	require.Len(t, h.starter.calls[0], 1)
	assert.Equal(t, "rx1", h.starter.calls[0][0].ProductID)
	assert.Equal(t, 2, h.starter.calls[0][0].Qty)
}

func TestHandleDecisionApproveChargeFailureKeepsApproval(t *testing.T) {
	h := newApprovalsHarness(t)
	ctx := context.Background()
	order := reviewedOrder(t, h)

	h.starter.err = errors.New("card declined")
	latest, err := h.svc.HandleDecision(ctx, order.ID, Decision{Approved: true})
	require.Error(t, err)

	// The approval survived the failed charge.
	require.NotNil(t, latest)
	assert.Equal(t, enums.OrderStatusApprovedPendingPayment, latest.Status)
	require.Len(t, h.outbox.events, 1)
	assert.Equal(t, enums.EventOrderApproved, h.outbox.events[0].EventType)
}
