package paymentmethods

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/veloramed/telehealth-backend/pkg/db/models"
	"github.com/veloramed/telehealth-backend/pkg/enums"
	"github.com/veloramed/telehealth-backend/pkg/genie"
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

type tokenLister interface {
	GetCustomerTokens(ctx context.Context, customerID string) ([]genie.StoredToken, error)
}

// Service keeps locally stored payment methods in step with the gateway's
// token vault.
type Service interface {
	// SyncStoredTokens pulls the customer's token list from the gateway and
	// stores any token not yet on file. Returns the number of new methods.
	SyncStoredTokens(ctx context.Context, userID uuid.UUID, gatewayCustomerID string) (int, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.PaymentMethod, error)
	FindChargeableToken(ctx context.Context, userID uuid.UUID) (*models.PaymentMethod, error)
}

// ServiceParams wires the payment method service dependencies.
type ServiceParams struct {
	Repo    Repository
	Gateway tokenLister
	Tx      txRunner
	Outbox  outboxPublisher
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	repo    Repository
	gateway tokenLister
	tx      txRunner
	outbox  outboxPublisher
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds the payment method service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, errors.New("payment method repository is required")
	}
	if params.Gateway == nil {
		return nil, errors.New("gateway client is required")
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
		repo:    params.Repo,
		gateway: params.Gateway,
		tx:      params.Tx,
		outbox:  params.Outbox,
		logg:    params.Logger,
		now:     now,
	}, nil
}

func (s *service) SyncStoredTokens(ctx context.Context, userID uuid.UUID, gatewayCustomerID string) (int, error) {
	if gatewayCustomerID == "" {
		return 0, errors.New("gateway customer id is required")
	}

	tokens, err := s.gateway.GetCustomerTokens(ctx, gatewayCustomerID)
	if err != nil {
		return 0, err
	}

	stored := 0
	var syncErr error
	for _, token := range tokens {
		if token.Token == "" {
			continue
		}
		existing, err := s.repo.FindByUserAndToken(ctx, userID, token.Token)
		if err != nil {
			syncErr = multierr.Append(syncErr, err)
			continue
		}
		if existing != nil {
			continue
		}

		method := &models.PaymentMethod{
			UserID:            userID,
			GatewayCustomerID: gatewayCustomerID,
			GatewayToken:      token.Token,
			Brand:             token.Brand,
			Last4:             token.Last4,
			ExpiryMonth:       token.ExpiryMonth,
			ExpiryYear:        WidenExpiryYear(token.ExpiryYear, s.now()),
		}
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).Insert(ctx, method); err != nil {
				return err
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPaymentMethodStored,
				AggregateType: enums.AggregateOrder,
				AggregateID:   method.ID,
				Data: payloads.PaymentMethodStoredEvent{
					UserID:          userID,
					PaymentMethodID: method.ID,
					Brand:           method.Brand,
					Last4:           method.Last4,
					StoredAt:        s.now(),
				},
			})
		})
		if err != nil {
			// One bad token must not stop the rest of the list.
			syncErr = multierr.Append(syncErr, err)
			continue
		}
		stored++
	}

	if stored > 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"user_id":    userID.String(),
			"new_tokens": stored,
		})
		s.logg.Info(logCtx, "stored payment methods synced")
	}
	return stored, syncErr
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.PaymentMethod, error) {
	return s.repo.ListForUser(ctx, userID)
}

func (s *service) FindChargeableToken(ctx context.Context, userID uuid.UUID) (*models.PaymentMethod, error) {
	return s.repo.FindLatestForUser(ctx, userID)
}

// WidenExpiryYear converts the gateway's two-digit expiry year into a full
// four-digit year. A two-digit value below the current two-digit year is taken
// to mean the next century rollover. Four-digit input passes through.
func WidenExpiryYear(year int, now time.Time) int {
	if year >= 100 {
		return year
	}
	if year < 0 {
		return 0
	}
	currentYY := now.Year() % 100
	century := now.Year() - currentYY
	if year < currentYY {
		century += 100
	}
	return century + year
}
