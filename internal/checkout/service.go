package checkout

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veloramed/telehealth-backend/pkg/config"
	"github.com/veloramed/telehealth-backend/pkg/db/models"
	"github.com/veloramed/telehealth-backend/pkg/enums"
	pkgerrors "github.com/veloramed/telehealth-backend/pkg/errors"
	"github.com/veloramed/telehealth-backend/pkg/logger"
	"github.com/veloramed/telehealth-backend/pkg/outbox"
	"github.com/veloramed/telehealth-backend/pkg/outbox/payloads"
	"github.com/veloramed/telehealth-backend/pkg/types"
)

const sessionTokenBytes = 15

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service drives the checkout session lifecycle.
type Service interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*models.CheckoutSession, error)
	GetSession(ctx context.Context, token string, callerID *uuid.UUID) (*models.CheckoutSession, error)
	UpdateSession(ctx context.Context, token string, callerID *uuid.UUID, input UpdateSessionInput) (*models.CheckoutSession, error)
	ExtendSession(ctx context.Context, token string, callerID *uuid.UUID) (*models.CheckoutSession, error)
	CancelSession(ctx context.Context, token string, callerID *uuid.UUID) (*models.CheckoutSession, error)
	CompleteSession(ctx context.Context, token string, callerID *uuid.UUID) (*models.CheckoutSession, error)
	EvaluateStepAccess(ctx context.Context, token string, requestedStep string, meta PageViewMeta) (StepDecision, error)
}

// CreateSessionInput carries the client-supplied session seed. The cart total
// is always recomputed server-side.
type CreateSessionInput struct {
	UserID       *uuid.UUID
	CartItems    []types.CartItem
	CustomerInfo *types.JSONMap
}

// UpdateSessionInput is the patch allow-list. Nil fields are untouched; any
// other attribute a client sends is dropped before it reaches here.
type UpdateSessionInput struct {
	CurrentStep             *string
	CustomerInfo            *types.JSONMap
	ShippingAddress         *types.Address
	BillingAddress          *types.Address
	SelectedPaymentMethodID *string
	PaymentIntentID         *string
}

// PageViewMeta is recorded with every step-guard evaluation.
type PageViewMeta struct {
	Referrer  *string
	IPAddress *string
	UserAgent *string
}

// ServiceParams wires the session service dependencies.
type ServiceParams struct {
	Repo   Repository
	Tx     txRunner
	Outbox outboxPublisher
	Logger *logger.Logger
	Config config.CheckoutConfig

	// Now and TokenFn are overridable for tests.
	Now     func() time.Time
	TokenFn func() (string, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	logg    *logger.Logger
	cfg     config.CheckoutConfig
	now     func() time.Time
	tokenFn func() (string, error)
}

// NewService builds the checkout session service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, errors.New("session repository is required")
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
	tokenFn := params.TokenFn
	if tokenFn == nil {
		tokenFn = newSessionToken
	}
	cfg := params.Config
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	if cfg.SessionHardCap <= 0 {
		cfg.SessionHardCap = 30 * 24 * time.Hour
	}
	if cfg.RenewalWindow <= 0 {
		cfg.RenewalWindow = 24 * time.Hour
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		outbox:  params.Outbox,
		logg:    params.Logger,
		cfg:     cfg,
		now:     now,
		tokenFn: tokenFn,
	}, nil
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return "cs_" + hex.EncodeToString(buf), nil
}

func (s *service) CreateSession(ctx context.Context, input CreateSessionInput) (*models.CheckoutSession, error) {
	if len(input.CartItems) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart contains no items")
	}
	total := 0
	for _, item := range input.CartItems {
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive")
		}
		if item.UnitPriceCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item price cannot be negative")
		}
		total += item.LineTotalCents()
	}

	token, err := s.tokenFn()
	if err != nil {
		return nil, err
	}

	now := s.now()
	step := enums.StepInformation
	if input.UserID != nil {
		step = enums.StepPayment
	}

	session := &models.CheckoutSession{
		SessionToken:   token,
		UserID:         input.UserID,
		Status:         enums.SessionStatusActive,
		CurrentStep:    step,
		CartItems:      input.CartItems,
		CartTotalCents: total,
		CustomerInfo:   input.CustomerInfo,
		ExpiresAt:      now.Add(s.cfg.SessionTTL),
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, session); err != nil {
			return err
		}
		stepName := string(step)
		return repo.InsertEvent(ctx, &models.CheckoutSessionEvent{
			SessionID: session.ID,
			EventType: enums.SessionEventCreated,
			Step:      &stepName,
		})
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *service) GetSession(ctx context.Context, token string, callerID *uuid.UUID) (*models.CheckoutSession, error) {
	session, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(session, callerID); err != nil {
		return nil, err
	}
	s.expireIfStale(ctx, session)
	return session, nil
}

func (s *service) UpdateSession(ctx context.Context, token string, callerID *uuid.UUID, input UpdateSessionInput) (*models.CheckoutSession, error) {
	session, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(session, callerID); err != nil {
		return nil, err
	}
	if s.expireIfStale(ctx, session) {
		return nil, pkgerrors.New(pkgerrors.CodeGone, "session expired")
	}
	if session.Status != enums.SessionStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "session is no longer active")
	}

	updates := map[string]any{}
	stepChanged := false
	var nextStep enums.CheckoutStep

	if input.CurrentStep != nil {
		parsed, err := enums.ParseCheckoutStep(*input.CurrentStep)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid checkout step")
		}
		if parsed.Index() > session.CurrentStep.Index()+1 {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "step transition skips ahead").
				WithDetails(map[string]any{"step": string(parsed)})
		}
		if parsed != session.CurrentStep {
			updates["current_step"] = parsed
			stepChanged = true
			nextStep = parsed
		}
	}
	if input.CustomerInfo != nil {
		updates["customer_info"] = input.CustomerInfo
	}
	if input.ShippingAddress != nil {
		updates["shipping_address"] = input.ShippingAddress
	}
	if input.BillingAddress != nil {
		updates["billing_address"] = input.BillingAddress
	}
	if input.SelectedPaymentMethodID != nil {
		updates["selected_payment_method_id"] = *input.SelectedPaymentMethodID
	}
	if input.PaymentIntentID != nil {
		updates["payment_intent_id"] = *input.PaymentIntentID
	}
	// A signed-in caller adopts an anonymous session (sign up mid-checkout).
	if callerID != nil && session.UserID == nil {
		updates["user_id"] = *callerID
	}

	if len(updates) == 0 {
		return session, nil
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateVersioned(ctx, session.ID, session.Version, updates); err != nil {
			return err
		}
		if stepChanged {
			stepName := string(nextStep)
			return repo.InsertEvent(ctx, &models.CheckoutSessionEvent{
				SessionID: session.ID,
				EventType: enums.SessionEventProgressed,
				Step:      &stepName,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, session.ID)
}

func (s *service) ExtendSession(ctx context.Context, token string, callerID *uuid.UUID) (*models.CheckoutSession, error) {
	session, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(session, callerID); err != nil {
		return nil, err
	}
	if session.Status != enums.SessionStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "session is no longer active")
	}

	now := s.now()
	if now.Sub(session.CreatedAt) > s.cfg.SessionHardCap {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "session too old to extend")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateVersioned(ctx, session.ID, session.Version, map[string]any{
			"expires_at": now.Add(s.cfg.SessionTTL),
		}); err != nil {
			return err
		}
		return repo.InsertEvent(ctx, &models.CheckoutSessionEvent{
			SessionID: session.ID,
			EventType: enums.SessionEventExtended,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, session.ID)
}

func (s *service) CancelSession(ctx context.Context, token string, callerID *uuid.UUID) (*models.CheckoutSession, error) {
	session, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(session, callerID); err != nil {
		return nil, err
	}
	if session.Status != enums.SessionStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "session is no longer active")
	}

	now := s.now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateVersioned(ctx, session.ID, session.Version, map[string]any{
			"status": enums.SessionStatusCancelled,
		}); err != nil {
			return err
		}
		if err := repo.InsertEvent(ctx, &models.CheckoutSessionEvent{
			SessionID: session.ID,
			EventType: enums.SessionEventCancelled,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSessionCancelled,
			AggregateType: enums.AggregateCheckoutSession,
			AggregateID:   session.ID,
			Data: payloads.SessionCancelledEvent{
				SessionID:    session.ID,
				SessionToken: session.SessionToken,
				UserID:       session.UserID,
				CancelledAt:  now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, session.ID)
}

func (s *service) CompleteSession(ctx context.Context, token string, callerID *uuid.UUID) (*models.CheckoutSession, error) {
	session, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.checkOwnership(session, callerID); err != nil {
		return nil, err
	}
	if session.Status != enums.SessionStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "session is no longer active")
	}
	if session.CurrentStep != enums.StepProcessing {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "session can only complete from processing").
			WithDetails(map[string]any{"step": string(session.CurrentStep)})
	}

	now := s.now()
	completionMinutes := now.Sub(session.CreatedAt).Minutes()
	if completionMinutes < 0 {
		completionMinutes = 0
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateVersioned(ctx, session.ID, session.Version, map[string]any{
			"status":       enums.SessionStatusCompleted,
			"current_step": enums.StepComplete,
			"completed_at": now,
		}); err != nil {
			return err
		}
		stepName := string(enums.StepComplete)
		meta := types.JSONMap{"completion_time_minutes": completionMinutes}
		if err := repo.InsertEvent(ctx, &models.CheckoutSessionEvent{
			SessionID: session.ID,
			EventType: enums.SessionEventCompleted,
			Step:      &stepName,
			Metadata:  &meta,
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSessionCompleted,
			AggregateType: enums.AggregateCheckoutSession,
			AggregateID:   session.ID,
			Data: payloads.SessionCompletedEvent{
				SessionID:    session.ID,
				SessionToken: session.SessionToken,
				UserID:       session.UserID,
				CompletedAt:  now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, session.ID)
}

// EvaluateStepAccess runs the step-guard rules for one page request. Refusals
// come back as redirect decisions, not errors; errors are reserved for
// storage failures, which the caller treats as a fail-closed redirect to cart.
func (s *service) EvaluateStepAccess(ctx context.Context, token string, requestedStep string, meta PageViewMeta) (StepDecision, error) {
	session, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			return redirectToCart(ReasonSessionNotFound), nil
		}
		return StepDecision{}, err
	}

	if s.expireIfStale(ctx, session) {
		return redirectToCart(ReasonSessionExpired), nil
	}
	if session.Status == enums.SessionStatusCancelled || session.Status == enums.SessionStatusExpired {
		return redirectToCart(ReasonSessionInactive), nil
	}

	decision := evaluateStepOrder(session, enums.CheckoutStep(requestedStep))

	// Persist the authenticated fast-forward so the session lands on payment.
	if decision.Reason == ReasonAuthFastForward && session.CurrentStep == enums.StepInformation {
		if err := s.repo.UpdateVersioned(ctx, session.ID, session.Version, map[string]any{
			"current_step": enums.StepPayment,
		}); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "fast-forward persist failed")
		}
	}

	s.renewIfClosing(ctx, session)
	s.recordPageView(ctx, session, requestedStep, meta)

	return decision, nil
}

func (s *service) checkOwnership(session *models.CheckoutSession, callerID *uuid.UUID) error {
	if session.UserID == nil {
		return nil
	}
	if callerID == nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required for this session")
	}
	if *callerID != *session.UserID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "session belongs to another user")
	}
	return nil
}

// expireIfStale flips a clock-expired session to expired. Returns true when
// the session is past its expiry.
func (s *service) expireIfStale(ctx context.Context, session *models.CheckoutSession) bool {
	if session.Status != enums.SessionStatusActive {
		return false
	}
	if !s.now().After(session.ExpiresAt) {
		return false
	}
	if err := s.repo.MarkExpired(ctx, session.ID); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "mark expired failed")
	}
	session.Status = enums.SessionStatusExpired
	return true
}

// renewIfClosing slides the expiry window forward when the session is within
// the renewal window, honoring the hard cap from creation.
func (s *service) renewIfClosing(ctx context.Context, session *models.CheckoutSession) {
	if session.Status != enums.SessionStatusActive {
		return
	}
	now := s.now()
	if session.ExpiresAt.Sub(now) > s.cfg.RenewalWindow {
		return
	}
	if now.Sub(session.CreatedAt) > s.cfg.SessionHardCap {
		return
	}
	if err := s.repo.UpdateVersioned(ctx, session.ID, session.Version, map[string]any{
		"expires_at": now.Add(s.cfg.SessionTTL),
	}); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "sliding renewal failed")
	}
}

// recordPageView appends the audit row without blocking the request.
func (s *service) recordPageView(ctx context.Context, session *models.CheckoutSession, step string, meta PageViewMeta) {
	event := &models.CheckoutSessionEvent{
		SessionID: session.ID,
		EventType: enums.SessionEventPageView,
		Referrer:  meta.Referrer,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if step != "" {
		event.Step = &step
	}

	logg := s.logg
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.InsertEvent(bgCtx, event); err != nil {
			logg.Warn(logg.WithField(bgCtx, "error", err.Error()), "page view audit failed")
		}
	}()
}
