package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	genieweb "github.com/veloramed/telehealth-backend/internal/webhooks"
	"github.com/veloramed/telehealth-backend/pkg/genie"
)

type fakeGenieService struct {
	calls   []genie.WebhookEvent
	outcome genieweb.Outcome
	err     error
}

func (f *fakeGenieService) HandleEvent(_ context.Context, event genie.WebhookEvent) (genieweb.Outcome, error) {
	f.calls = append(f.calls, event)
	if f.err != nil {
		return "", f.err
	}
	return f.outcome, nil
}

type fakeGenieClient struct {
	apiKey string
}

func (f fakeGenieClient) APIKey() string { return f.apiKey }

func signedGenieRequest(t *testing.T, apiKey string, event genie.WebhookEvent) *http.Request {
	t.Helper()

	body, err := json.Marshal(event)
	require.NoError(t, err)

	nonce := "nonce-1"
	timestamp := "1724800000"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/genie", bytes.NewReader(body))
	req.Header.Set(genie.HeaderSignatureNonce, nonce)
	req.Header.Set(genie.HeaderSignatureTimestamp, timestamp)
	req.Header.Set(genie.HeaderSignature, genie.ComputeSignature(nonce, timestamp, apiKey))
	return req
}

func TestGenieWebhookProcessesSignedEvent(t *testing.T) {
	svc := &fakeGenieService{outcome: genieweb.OutcomeProcessed}
	handler := GenieWebhook(svc, fakeGenieClient{apiKey: "key"}, nil, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedGenieRequest(t, "key", genie.WebhookEvent{
		EventType:     genie.EventTransactionStateChanged,
		TransactionID: "txn_1",
		State:         genie.StateConfirmed,
	}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, svc.calls, 1)
	assert.Equal(t, "txn_1", svc.calls[0].TransactionID)
	assert.Contains(t, rec.Body.String(), "processed")
}

func TestGenieWebhookRejectsBadSignatureBeforeDispatch(t *testing.T) {
	svc := &fakeGenieService{outcome: genieweb.OutcomeProcessed}
	handler := GenieWebhook(svc, fakeGenieClient{apiKey: "key"}, nil, nil)

	req := signedGenieRequest(t, "wrong-key", genie.WebhookEvent{
		EventType:     genie.EventTransactionStateChanged,
		TransactionID: "txn_1",
		State:         genie.StateConfirmed,
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, svc.calls)
}

func TestGenieWebhookDefaultsEventType(t *testing.T) {
	svc := &fakeGenieService{outcome: genieweb.OutcomeIgnored}
	handler := GenieWebhook(svc, fakeGenieClient{apiKey: "key"}, nil, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedGenieRequest(t, "key", genie.WebhookEvent{
		TransactionID: "txn_2",
		State:         genie.StateInitiated,
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.calls, 1)
	assert.Equal(t, genie.EventTransactionStateChanged, svc.calls[0].EventType)
}
