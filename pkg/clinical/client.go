package clinical

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veloramed/telehealth-backend/pkg/config"
	"github.com/veloramed/telehealth-backend/pkg/logger"
)

const defaultTimeout = 10 * time.Second

// Submission hands an order's questionnaire responses to the physician review
// platform.
type Submission struct {
	OrderID        uuid.UUID      `json:"orderId"`
	UserID         uuid.UUID      `json:"userId"`
	HealthVertical string         `json:"healthVertical"`
	Responses      map[string]any `json:"responses,omitempty"`
}

// Client talks to the clinical review platform. Calls are best effort; the
// caller decides whether a failure blocks anything.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logg       *logger.Logger
}

// NewClient validates the configuration and builds the review-platform client.
func NewClient(cfg config.ClinicalConfig, logg *logger.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("clinical base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		logg:       logg,
	}, nil
}

// SubmitForReview queues the order with the physician review platform.
func (c *Client) SubmitForReview(ctx context.Context, sub Submission) error {
	if sub.OrderID == uuid.Nil {
		return errors.New("order id is required")
	}

	encoded, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encoding submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/reviews", bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submitting review for order %s: %w", sub.OrderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("review submission for order %s: status %d: %s", sub.OrderID, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if c.logg != nil {
		logCtx := c.logg.WithField(ctx, "order_id", sub.OrderID.String())
		c.logg.Info(logCtx, "order submitted for physician review")
	}
	return nil
}
