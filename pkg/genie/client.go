package genie

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

	"github.com/shopspring/decimal"

	"github.com/veloramed/telehealth-backend/pkg/config"
	"github.com/veloramed/telehealth-backend/pkg/logger"
)

var (
	errBaseURLRequired = errors.New("genie base url is required")
	errAPIKeyRequired  = errors.New("genie api key is required")
)

const defaultTimeout = 15 * time.Second

// Client speaks the gateway's REST API. Every call carries the configured
// timeout; a timed-out initiation is surfaced to callers as a plain error so
// they can mark the affected phase failed.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	merchantID string
	currency   string
}

// NewClient validates the configuration and builds the gateway client.
func NewClient(ctx context.Context, cfg config.GenieConfig, logg *logger.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if logg != nil {
		logg.Info(ctx, "genie client initialized")
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		merchantID: strings.TrimSpace(cfg.MerchantID),
		currency:   strings.TrimSpace(cfg.Currency),
	}, nil
}

// APIKey returns the shared secret used for webhook signature checks.
func (c *Client) APIKey() string {
	if c == nil {
		return ""
	}
	return c.apiKey
}

// Currency returns the configured settlement currency.
func (c *Client) Currency() string {
	if c == nil || c.currency == "" {
		return "USD"
	}
	return c.currency
}

// AmountFromCents renders integer cents as the major-unit decimal string the
// gateway expects.
func AmountFromCents(cents int) string {
	return decimal.NewFromInt(int64(cents)).Div(decimal.NewFromInt(100)).StringFixed(2)
}

// CreateCustomer registers the shopper with the gateway.
func (c *Client) CreateCustomer(ctx context.Context, input CreateCustomerInput) (*Customer, error) {
	var out Customer
	if err := c.do(ctx, http.MethodPost, "/v1/customers", input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateAddCardTransaction opens a zero-value transaction whose completion
// tokenizes the shopper's card.
func (c *Client) CreateAddCardTransaction(ctx context.Context, customerID string) (*Transaction, error) {
	if customerID == "" {
		return nil, errors.New("customer id is required")
	}
	payload := map[string]string{"customerId": customerID, "currency": c.Currency()}
	var out Transaction
	if err := c.do(ctx, http.MethodPost, "/v1/transactions/add-card", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTransactionWithProducts opens a hosted-payment transaction for the
// given product lines.
func (c *Client) CreateTransactionWithProducts(ctx context.Context, input CreateTransactionInput) (*Transaction, error) {
	if input.Currency == "" {
		input.Currency = c.Currency()
	}
	if len(input.Products) == 0 {
		return nil, errors.New("at least one product is required")
	}
	var out Transaction
	if err := c.do(ctx, http.MethodPost, "/v1/transactions", input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChargeStoredToken charges a tokenized card against an open transaction.
func (c *Client) ChargeStoredToken(ctx context.Context, input ChargeStoredTokenInput) (*Transaction, error) {
	if input.Token == "" {
		return nil, errors.New("stored token is required")
	}
	if input.Currency == "" {
		input.Currency = c.Currency()
	}
	var out Transaction
	if err := c.do(ctx, http.MethodPost, "/v1/transactions/charge-token", input, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCustomerTokens lists the stored card tokens held for a customer.
func (c *Client) GetCustomerTokens(ctx context.Context, customerID string) ([]StoredToken, error) {
	if customerID == "" {
		return nil, errors.New("customer id is required")
	}
	var out struct {
		Tokens []StoredToken `json:"tokens"`
	}
	path := fmt.Sprintf("/v1/customers/%s/tokens", customerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Tokens, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.merchantID != "" {
		req.Header.Set("X-Merchant-Id", c.merchantID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("genie %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("genie %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
