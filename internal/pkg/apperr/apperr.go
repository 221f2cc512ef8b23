// Package apperr defines the coded errors returned by the marketplace API.
//
// Every error that reaches a controller is either an *Error (with its own
// code and HTTP status) or an unclassified error that maps to
// INTERNAL_SERVER_ERROR.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced in API responses.
const (
	CodeInvalidJSON             = "INVALID_JSON"
	CodeMissingRequiredFields   = "MISSING_REQUIRED_FIELDS"
	CodeInvalidAmountFormat     = "INVALID_AMOUNT_FORMAT"
	CodeBookNotAvailable        = "BOOK_NOT_AVAILABLE"
	CodeAmountMismatch          = "AMOUNT_MISMATCH"
	CodeBuyerNotFound           = "BUYER_NOT_FOUND"
	CodeSellerNotFound          = "SELLER_NOT_FOUND"
	CodeSelfPurchaseNotAllowed  = "SELF_PURCHASE_NOT_ALLOWED"
	CodeBookUpdateFailed        = "BOOK_UPDATE_FAILED"
	CodeOrderCreationFailed     = "ORDER_CREATION_FAILED"
	CodeDuplicatePaymentRef     = "DUPLICATE_PAYMENT_REFERENCE"
	CodeInternal                = "INTERNAL_SERVER_ERROR"
	CodeTimeout                 = "TIMEOUT"
	CodeInvalidJSONPayload      = "INVALID_JSON_PAYLOAD"
	CodeMissingWebhookData      = "MISSING_WEBHOOK_DATA"
	CodeInvalidWebhookSignature = "INVALID_WEBHOOK_SIGNATURE"
	CodeUnhandledEvent          = "UNHANDLED_EVENT"
	CodeWebhookProcessingError  = "WEBHOOK_PROCESSING_ERROR"
	CodeOrderNotFound           = "ORDER_NOT_FOUND"
	CodeNotOrderSeller          = "NOT_ORDER_SELLER"
	CodeInvalidOrderState       = "INVALID_ORDER_STATE"
	CodeCommitDeadlinePassed    = "COMMIT_DEADLINE_PASSED"
	CodeCommitFailed            = "COMMIT_FAILED"
	CodeDeclineFailed           = "DECLINE_FAILED"
	CodeNoCompletedOrders       = "NO_COMPLETED_ORDERS"
	CodeBankingNotFound         = "BANKING_DETAILS_NOT_FOUND"
	CodeBankingDecryptionFailed = "BANKING_DECRYPTION_FAILED"
	CodeRecipientCreationFailed = "RECIPIENT_CREATION_FAILED"
	CodeNoTransferableOrders    = "NO_TRANSFERABLE_ORDERS"
	CodeTransferFailed          = "TRANSFER_FAILED"
	CodeInvalidDeliveryStatus   = "INVALID_DELIVERY_STATUS"
)

// Error is a classified application error.
type Error struct {
	Code    string
	Status  int
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// WithDetail returns a copy of e with an extra detail key.
func (e *Error) WithDetail(key string, value any) *Error {
	out := *e
	out.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	out := *e
	out.Err = cause
	return &out
}

func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Sentinels usable with errors.Is.
var (
	ErrBookNotAvailable   = New(CodeBookNotAvailable, http.StatusNotFound, "book not available")
	ErrBookUpdateFailed   = New(CodeBookUpdateFailed, http.StatusConflict, "book was purchased by someone else")
	ErrOrderNotFound      = New(CodeOrderNotFound, http.StatusNotFound, "order not found")
	ErrInvalidOrderState  = New(CodeInvalidOrderState, http.StatusConflict, "order is not in a state that allows this action")
	ErrDeadlinePassed     = New(CodeCommitDeadlinePassed, http.StatusConflict, "commit deadline has passed")
	ErrNotOrderSeller     = New(CodeNotOrderSeller, http.StatusForbidden, "order belongs to another seller")
	ErrNoCompletedOrders  = New(CodeNoCompletedOrders, http.StatusBadRequest, "No completed orders found")
	ErrBankingNotFound    = New(CodeBankingNotFound, http.StatusNotFound, "banking details not found")
	ErrInvalidSignature   = New(CodeInvalidWebhookSignature, http.StatusUnauthorized, "invalid webhook signature")
	ErrUnhandledEvent     = New(CodeUnhandledEvent, http.StatusBadRequest, "unhandled webhook event")
	ErrMissingWebhookData = New(CodeMissingWebhookData, http.StatusBadRequest, "webhook event and data are required")
)

// Code returns the API code for err.
func Code(err error) string {
	var e *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &e):
		return e.Code
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// HTTPStatus returns the HTTP status for err.
func HTTPStatus(err error) int {
	var e *Error
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &e):
		if e.Status == 0 {
			return http.StatusInternalServerError
		}
		return e.Status
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// DetailsOf returns the details map of a coded error, if any.
func DetailsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) && len(e.Details) > 0 {
		return e.Details
	}
	return map[string]any{}
}
