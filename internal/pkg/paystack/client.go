package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rebooked/marketplace/internal/pkg/env"
)

const defaultBaseURL = "https://api.paystack.co"

var ErrNotConfigured = errors.New("PAYSTACK_SECRET_KEY is not configured")

// APIError is a non-2xx or status=false response from Paystack.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack: status=%d message=%s", e.StatusCode, e.Message)
}

// Retryable reports whether the call may succeed if repeated later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	SecretKey  string
	BaseURL    string
	Currency   string
	HTTPClient *http.Client
}

func NewClientFromEnv() *Client {
	return &Client{
		SecretKey: strings.TrimSpace(env.GetEnv("PAYSTACK_SECRET_KEY", "")),
		BaseURL:   strings.TrimRight(strings.TrimSpace(env.GetEnv("PAYSTACK_BASE_URL", defaultBaseURL)), "/"),
		Currency:  env.GetEnv("PAYSTACK_CURRENCY", "ZAR"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Configured reports whether a secret key is present.
func (c *Client) Configured() bool {
	return c != nil && c.SecretKey != ""
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type RecipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
	Description   string `json:"description,omitempty"`
}

type Recipient struct {
	RecipientCode string `json:"recipient_code"`
	Active        bool   `json:"active"`
	Name          string `json:"name"`
}

func (c *Client) CreateRecipient(ctx context.Context, in RecipientRequest) (*Recipient, error) {
	if in.Type == "" {
		in.Type = "basa"
	}
	if in.Currency == "" {
		in.Currency = c.Currency
	}
	var out Recipient
	if err := c.do(ctx, http.MethodPost, "/transferrecipient", in, &out); err != nil {
		return nil, err
	}
	if out.RecipientCode == "" {
		return nil, errors.New("paystack returned empty recipient_code")
	}
	return &out, nil
}

type TransferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference"`
	Currency  string `json:"currency,omitempty"`
}

type TransferResult struct {
	TransferCode string `json:"transfer_code"`
	Reference    string `json:"reference"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
}

func (c *Client) InitiateTransfer(ctx context.Context, in TransferRequest) (*TransferResult, error) {
	if in.Source == "" {
		in.Source = "balance"
	}
	if in.Currency == "" {
		in.Currency = c.Currency
	}
	var out TransferResult
	if err := c.do(ctx, http.MethodPost, "/transfer", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type RefundResult struct {
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

// Refund refunds a transaction. amount 0 refunds the full charge.
func (c *Client) Refund(ctx context.Context, reference string, amount int64) (*RefundResult, error) {
	body := map[string]any{"transaction": reference}
	if amount > 0 {
		body["amount"] = amount
	}
	var out RefundResult
	if err := c.do(ctx, http.MethodPost, "/refund", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type Transaction struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Domain    string `json:"domain"`
}

func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	var out Transaction
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var resBody envelope
	if err := json.Unmarshal(raw, &resBody); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !resBody.Status {
		return &APIError{StatusCode: resp.StatusCode, Message: resBody.Message}
	}
	if out != nil && len(resBody.Data) > 0 {
		if err := json.Unmarshal(resBody.Data, out); err != nil {
			return fmt.Errorf("decode paystack %s response: %w", path, err)
		}
	}
	return nil
}
