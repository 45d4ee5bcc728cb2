package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/veloramed/telehealth-backend/api/responses"
	genieweb "github.com/veloramed/telehealth-backend/internal/webhooks"
	pkgerrors "github.com/veloramed/telehealth-backend/pkg/errors"
	"github.com/veloramed/telehealth-backend/pkg/genie"
	"github.com/veloramed/telehealth-backend/pkg/logger"
	"github.com/veloramed/telehealth-backend/pkg/metrics"
)

type GenieWebhookService interface {
	HandleEvent(ctx context.Context, event genie.WebhookEvent) (genieweb.Outcome, error)
}

type genieClient interface {
	APIKey() string
}

// GenieWebhook receives gateway callbacks. The signature is checked against
// the raw body headers before anything touches the database; a bad signature
// is rejected with no side effects.
func GenieWebhook(svc GenieWebhookService, client genieClient, webhookMetrics *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		started := time.Now()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "genie client unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		nonce := r.Header.Get(genie.HeaderSignatureNonce)
		timestamp := r.Header.Get(genie.HeaderSignatureTimestamp)
		signature := r.Header.Get(genie.HeaderSignature)
		if !genie.VerifySignature(nonce, timestamp, client.APIKey(), signature) {
			if webhookMetrics != nil {
				webhookMetrics.IncRejected("signature")
			}
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature"))
			return
		}

		var event genie.WebhookEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			if webhookMetrics != nil {
				webhookMetrics.IncRejected("malformed_body")
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}
		if event.EventType == "" {
			event.EventType = genie.EventTransactionStateChanged
		}

		outcome, err := svc.HandleEvent(ctx, event)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if webhookMetrics != nil {
			webhookMetrics.ObserveDuration(event.EventType, time.Since(started))
			switch outcome {
			case genieweb.OutcomeDuplicate:
				webhookMetrics.IncDuplicate(event.EventType)
			case genieweb.OutcomeProcessed:
				webhookMetrics.IncProcessed(event.EventType, event.State)
			}
		}

		responses.WriteSuccess(w, map[string]string{"outcome": string(outcome)})
	}
}
