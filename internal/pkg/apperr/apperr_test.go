package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "book not available", err: ErrBookNotAvailable, want: http.StatusNotFound},
		{name: "wrapped conflict", err: fmt.Errorf("purchase: %w", ErrBookUpdateFailed), want: http.StatusConflict},
		{name: "signature", err: ErrInvalidSignature, want: http.StatusUnauthorized},
		{name: "timeout", err: fmt.Errorf("send: %w", context.DeadlineExceeded), want: http.StatusGatewayTimeout},
		{name: "plain", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, CodeAmountMismatch, Code(New(CodeAmountMismatch, http.StatusBadRequest, "x")))
	assert.Equal(t, CodeTimeout, Code(context.DeadlineExceeded))
	assert.Equal(t, CodeInternal, Code(errors.New("boom")))
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := ErrOrderNotFound.WithDetail("order_id", "o-1")
	assert.True(t, errors.Is(err, ErrOrderNotFound))
	assert.False(t, errors.Is(err, ErrBookNotAvailable))
	assert.Equal(t, "o-1", DetailsOf(err)["order_id"])
	assert.Empty(t, ErrOrderNotFound.Details, "WithDetail must not mutate the sentinel")
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("duplicate key")
	err := New(CodeOrderCreationFailed, http.StatusInternalServerError, "insert failed").Wrap(cause)
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "duplicate key")
}
