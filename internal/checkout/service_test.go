package checkout

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/veloramed/telehealth-backend/pkg/config"
	"github.com/veloramed/telehealth-backend/pkg/db/models"
	"github.com/veloramed/telehealth-backend/pkg/enums"
	pkgerrors "github.com/veloramed/telehealth-backend/pkg/errors"
	"github.com/veloramed/telehealth-backend/pkg/logger"
	"github.com/veloramed/telehealth-backend/pkg/outbox"
	"github.com/veloramed/telehealth-backend/pkg/types"
)

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

type serviceHarness struct {
	svc    Service
	db     *gorm.DB
	repo   Repository
	outbox *recordingOutbox
	now    time.Time
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()

	db := setupCheckoutTestDB(t)
	repo := NewRepository(db)
	box := &recordingOutbox{}
	// The clock starts at the wall clock so CreatedAt rows written by the
	// DB layer line up with the injected time.
	h := &serviceHarness{
		db:     db,
		repo:   repo,
		outbox: box,
		now:    time.Now().UTC().Truncate(time.Second),
	}

	svc, err := NewService(ServiceParams{
		Repo:   repo,
		Tx:     testTxRunner{db: db},
		Outbox: box,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Config: config.CheckoutConfig{
			SessionTTL:     7 * 24 * time.Hour,
			SessionHardCap: 30 * 24 * time.Hour,
			RenewalWindow:  24 * time.Hour,
		},
		Now: func() time.Time { return h.now },
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *serviceHarness) eventTypes(t *testing.T, sessionID uuid.UUID) []enums.SessionEventType {
	t.Helper()
	events, err := h.repo.FindEvents(context.Background(), sessionID)
	require.NoError(t, err)
	kinds := make([]enums.SessionEventType, len(events))
	for i, e := range events {
		kinds[i] = e.EventType
	}
	return kinds
}

func TestCreateSessionComputesTotalServerSide(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	session, err := h.svc.CreateSession(ctx, CreateSessionInput{
		CartItems: []types.CartItem{
			{ProductID: "p1", Name: "Finasteride", Qty: 2, UnitPriceCents: 1000},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2000, session.CartTotalCents)
	assert.Equal(t, enums.StepInformation, session.CurrentStep)
	assert.Equal(t, enums.SessionStatusActive, session.Status)
	assert.Regexp(t, `^cs_[0-9a-f]{30}$`, session.SessionToken)
	assert.Equal(t, h.now.Add(7*24*time.Hour), session.ExpiresAt)

	kinds := h.eventTypes(t, session.ID)
	assert.Equal(t, []enums.SessionEventType{enums.SessionEventCreated}, kinds)
}

func TestCreateSessionAuthenticatedStartsAtPayment(t *testing.T) {
	h := newServiceHarness(t)
	userID := uuid.New()

	session, err := h.svc.CreateSession(context.Background(), CreateSessionInput{
		UserID: &userID,
		CartItems: []types.CartItem{
			{ProductID: "p2", Name: "Minoxidil", Qty: 1, UnitPriceCents: 2500},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.StepPayment, session.CurrentStep)
}

func TestCreateSessionRejectsEmptyCart(t *testing.T) {
	h := newServiceHarness(t)

	_, err := h.svc.CreateSession(context.Background(), CreateSessionInput{})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestUpdateSessionStepTransitions(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	session, err := h.svc.CreateSession(ctx, CreateSessionInput{
		CartItems: []types.CartItem{{ProductID: "p1", Name: "A", Qty: 1, UnitPriceCents: 500}},
	})
	require.NoError(t, err)

	// Skipping ahead two steps is refused.
	step := string(enums.StepProcessing)
	_, err = h.svc.UpdateSession(ctx, session.SessionToken, nil, UpdateSessionInput{CurrentStep: &step})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	// One step forward is accepted and audited.
	step = string(enums.StepPayment)
	updated, err := h.svc.UpdateSession(ctx, session.SessionToken, nil, UpdateSessionInput{CurrentStep: &step})
	require.NoError(t, err)
	assert.Equal(t, enums.StepPayment, updated.CurrentStep)

	kinds := h.eventTypes(t, session.ID)
	assert.Contains(t, kinds, enums.SessionEventProgressed)
}

func TestUpdateSessionIdenticalPatchIsQuiet(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	session, err := h.svc.CreateSession(ctx, CreateSessionInput{
		CartItems: []types.CartItem{{ProductID: "p1", Name: "A", Qty: 1, UnitPriceCents: 500}},
	})
	require.NoError(t, err)

	step := string(enums.StepInformation)
	_, err = h.svc.UpdateSession(ctx, session.SessionToken, nil, UpdateSessionInput{CurrentStep: &step})
	require.NoError(t, err)

	kinds := h.eventTypes(t, session.ID)
	assert.NotContains(t, kinds, enums.SessionEventProgressed)
}

func TestUpdateSessionAdoptsSignedInUser(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	session, err := h.svc.CreateSession(ctx, CreateSessionInput{
		CartItems: []types.CartItem{{ProductID: "p1", Name: "A", Qty: 1, UnitPriceCents: 500}},
	})
	require.NoError(t, err)

	userID := uuid.New()
	updated, err := h.svc.UpdateSession(ctx, session.SessionToken, &userID, UpdateSessionInput{})
	require.NoError(t, err)
	require.NotNil(t, updated.UserID)
	assert.Equal(t, userID, *updated.UserID)
}

func TestUpdateSessionOwnershipEnforced(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	owner := uuid.New()

	session, err := h.svc.CreateSession(ctx, CreateSessionInput{
		UserID:    &owner,
		CartItems: []types.CartItem{{ProductID: "p1", Name: "A", Qty: 1, UnitPriceCents: 500}},
	})
	require.NoError(t, err)

	_, err = h.svc.GetSession(ctx, session.SessionToken, nil)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeUnauthorized, typed.Code())

	stranger := uuid.New()
	_, err = h.svc.GetSession(ctx, session.SessionToken, &stranger)
	typed = pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeForbidden, typed.Code())

	_, err = h.svc.GetSession(ctx, session.SessionToken, &owner)
	require.NoError(t, err)
}

func TestUpdateSessionTerminalStatusRejected(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	session, err := h.svc.CreateSession(ctx, CreateSessionInput{
		CartItems: []types.CartItem{{ProductID: "p1", Name: "A", Qty: 1, UnitPriceCents: 500}},
	})
	require.NoError(t, err)

	_, err = h.svc.CancelSession(ctx, session.SessionToken, nil)
	require.NoError(t, err)

	step := string(enums.StepPayment)
	_, err = h.svc.UpdateSession(ctx, session.SessionToken, nil, UpdateSessionInput{CurrentStep: &step})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestExtendSessionHardCap(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	session, err := h.svc.CreateSession(ctx, CreateSessionInput{
		CartItems: []types.CartItem{{ProductID: "p1", Name: "A", Qty: 1, UnitPriceCents: 500}},
	})
	require.NoError(t, err)

	// 10 days in: extension slides the window to now + 7 days.
	h.now = h.now.Add(10 * 24 * time.Hour)
	extended, err := h.svc.ExtendSession(ctx, session.SessionToken, nil)
	require.NoError(t, err)
	assert.Equal(t, h.now.Add(7*24*time.Hour).Unix(), extended.ExpiresAt.Unix())

	// 31 days in: too old to extend.
	h.now = h.now.Add(21 * 24 * time.Hour)
	_, err = h.svc.ExtendSession(ctx, session.SessionToken, nil)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestCompleteSessionLifecycle(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	session, err := h.svc.CreateSession(ctx, CreateSessionInput{
		CartItems: []types.CartItem{{ProductID: "p1", Name: "A", Qty: 1, UnitPriceCents: 500}},
	})
	require.NoError(t, err)

	// Completing before processing is refused.
	_, err = h.svc.CompleteSession(ctx, session.SessionToken, nil)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	// Walk the steps in order.
	for _, step := range []string{"payment", "processing"} {
		stepVal := step
		_, err = h.svc.UpdateSession(ctx, session.SessionToken, nil, UpdateSessionInput{CurrentStep: &stepVal})
		require.NoError(t, err)
	}

	h.now = h.now.Add(42 * time.Minute)
	completed, err := h.svc.CompleteSession(ctx, session.SessionToken, nil)
	require.NoError(t, err)
	assert.Equal(t, enums.SessionStatusCompleted, completed.Status)
	assert.Equal(t, enums.StepComplete, completed.CurrentStep)
	require.NotNil(t, completed.CompletedAt)

	events, err := h.repo.FindEvents(ctx, session.ID)
	require.NoError(t, err)
	completedCount := 0
	for _, e := range events {
		if e.EventType == enums.SessionEventCompleted {
			completedCount++
			require.NotNil(t, e.Metadata)
			minutes, ok := (*e.Metadata)["completion_time_minutes"].(float64)
			require.True(t, ok)
			assert.GreaterOrEqual(t, minutes, float64(0))
		}
	}
	assert.Equal(t, 1, completedCount)

	require.Len(t, h.outbox.events, 1)
	assert.Equal(t, enums.EventSessionCompleted, h.outbox.events[0].EventType)
}

func TestEvaluateStepAccessRedirects(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	// Unknown token bounces to cart.
	decision, err := h.svc.EvaluateStepAccess(ctx, "cs_000000000000000000000000000000", "payment", PageViewMeta{})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, RedirectCart, decision.RedirectTarget)
	assert.Equal(t, ReasonSessionNotFound, decision.Reason)

	session, err := h.svc.CreateSession(ctx, CreateSessionInput{
		CartItems: []types.CartItem{{ProductID: "p1", Name: "A", Qty: 1, UnitPriceCents: 500}},
	})
	require.NoError(t, err)

	// Forward skip redirects inside the flow.
	decision, err = h.svc.EvaluateStepAccess(ctx, session.SessionToken, "processing", PageViewMeta{})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, RedirectCheckout, decision.RedirectTarget)
	assert.Equal(t, enums.StepPayment, decision.RedirectStep)

	// A reachable step is allowed.
	decision, err = h.svc.EvaluateStepAccess(ctx, session.SessionToken, "information", PageViewMeta{})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// Clock expiry flips the session and bounces to cart.
	h.now = h.now.Add(8 * 24 * time.Hour)
	decision, err = h.svc.EvaluateStepAccess(ctx, session.SessionToken, "payment", PageViewMeta{})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonSessionExpired, decision.Reason)

	stored, err := h.repo.FindByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SessionStatusExpired, stored.Status)
}

func TestEvaluateStepAccessFastForwardPersists(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	userID := uuid.New()

	session := newTestSession(t, h.db, func(s *models.CheckoutSession) {
		s.UserID = &userID
		s.ExpiresAt = h.now.Add(7 * 24 * time.Hour)
		s.CreatedAt = h.now
	})

	decision, err := h.svc.EvaluateStepAccess(ctx, session.SessionToken, "information", PageViewMeta{})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, enums.StepPayment, decision.RedirectStep)
	assert.Equal(t, ReasonAuthFastForward, decision.Reason)

	stored, err := h.repo.FindByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.StepPayment, stored.CurrentStep)
}

func TestEvaluateStepAccessSlidesExpiry(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	session := newTestSession(t, h.db, func(s *models.CheckoutSession) {
		s.ExpiresAt = h.now.Add(12 * time.Hour)
		s.CreatedAt = h.now.Add(-6 * 24 * time.Hour)
	})

	decision, err := h.svc.EvaluateStepAccess(ctx, session.SessionToken, "information", PageViewMeta{})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	stored, err := h.repo.FindByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, h.now.Add(7*24*time.Hour).Unix(), stored.ExpiresAt.Unix())
}

func TestEvaluateStepAccessRecordsPageView(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	session := newTestSession(t, h.db, func(s *models.CheckoutSession) {
		s.ExpiresAt = h.now.Add(7 * 24 * time.Hour)
		s.CreatedAt = h.now
	})

	referrer := "https://shop.veloramed.com/cart"
	_, err := h.svc.EvaluateStepAccess(ctx, session.SessionToken, "information", PageViewMeta{Referrer: &referrer})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, err := h.repo.FindEvents(ctx, session.ID)
		if err != nil {
			return false
		}
		for _, e := range events {
			if e.EventType == enums.SessionEventPageView {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}
