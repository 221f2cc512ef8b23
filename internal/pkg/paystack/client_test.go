package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &Client{SecretKey: "sk_test", BaseURL: srv.URL, Currency: "ZAR", HTTPClient: srv.Client()}
}

func TestCreateRecipient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transferrecipient", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var in RecipientRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "basa", in.Type)
		assert.Equal(t, "ZAR", in.Currency)
		assert.Equal(t, "0123456789", in.AccountNumber)

		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"recipient_code":"RCP_abc","active":true}}`))
	})

	rcp, err := c.CreateRecipient(context.Background(), RecipientRequest{Name: "Seller", AccountNumber: "0123456789", BankCode: "250655"})
	require.NoError(t, err)
	assert.Equal(t, "RCP_abc", rcp.RecipientCode)
}

func TestAPIErrorOnStatusFalse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Account number is invalid"}`))
	})

	_, err := c.CreateRecipient(context.Background(), RecipientRequest{Name: "x"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Account number is invalid", apiErr.Message)
	assert.False(t, apiErr.Retryable())
}

func TestRetryableOnServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream down`))
	})

	_, err := c.Refund(context.Background(), "ref-1", 0)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Retryable())
}

func TestRefundSendsTransaction(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "ref-9", in["transaction"])
		_, hasAmount := in["amount"]
		assert.False(t, hasAmount)
		_, _ = w.Write([]byte(`{"status":true,"message":"queued","data":{"status":"pending","amount":15000}}`))
	})

	res, err := c.Refund(context.Background(), "ref-9", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), res.Amount)
}

func TestNotConfigured(t *testing.T) {
	c := &Client{}
	_, err := c.VerifyTransaction(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"event":"charge.success","data":{"reference":"ref-1"}}`)
	secret := "sk_test_secret"
	sig := Sign(payload, secret)

	assert.True(t, VerifySignature(payload, sig, secret))
	assert.True(t, VerifySignature(payload, "  "+sig+" ", secret))
	assert.False(t, VerifySignature(payload, sig, "other"))
	assert.False(t, VerifySignature([]byte(`{}`), sig, secret))
	assert.False(t, VerifySignature(payload, "not-hex", secret))
	assert.False(t, VerifySignature(payload, "", secret))
	assert.False(t, VerifySignature(payload, sig, ""))
}
