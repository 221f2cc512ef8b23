package purchase

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/rebooked/marketplace/internal/pkg/apperr"
)

// Request is a purchase of one book by one buyer.
type Request struct {
	BookID           string          `json:"book_id" validate:"required"`
	BuyerID          string          `json:"buyer_id" validate:"required"`
	SellerID         string          `json:"seller_id" validate:"required"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentReference string          `json:"payment_reference" validate:"required"`
	BuyerEmail       string          `json:"buyer_email,omitempty"`
	ShippingAddress  map[string]any  `json:"shipping_address,omitempty"`
	// Source records which path created the order: direct or webhook.
	Source string `json:"-"`
	// ProviderReference is the charge reference at the payment provider when
	// it differs from PaymentReference (multi-item carts).
	ProviderReference string `json:"-"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type rawRequest struct {
	BookID           string          `json:"book_id"`
	BuyerID          string          `json:"buyer_id"`
	SellerID         string          `json:"seller_id"`
	Amount           json.RawMessage `json:"amount"`
	PaymentReference string          `json:"payment_reference"`
	BuyerEmail       string          `json:"buyer_email"`
	ShippingAddress  map[string]any  `json:"shipping_address"`
}

// ParseRequest decodes a purchase body. amount must be a bare JSON number.
func ParseRequest(body []byte) (Request, error) {
	var raw rawRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return Request{}, apperr.New(apperr.CodeInvalidJSON, http.StatusBadRequest, "Request body is not valid JSON").Wrap(err)
	}

	req := Request{
		BookID:           strings.TrimSpace(raw.BookID),
		BuyerID:          strings.TrimSpace(raw.BuyerID),
		SellerID:         strings.TrimSpace(raw.SellerID),
		PaymentReference: strings.TrimSpace(raw.PaymentReference),
		BuyerEmail:       strings.TrimSpace(raw.BuyerEmail),
		ShippingAddress:  raw.ShippingAddress,
		Source:           "direct",
	}

	amount := bytes.TrimSpace(raw.Amount)
	missingAmount := len(amount) == 0 || bytes.Equal(amount, []byte("null"))
	if err := req.validateFields(missingAmount); err != nil {
		return Request{}, err
	}

	// A quoted string is rejected: decimal would parse "150" but JSON clients
	// must send a number.
	if amount[0] != '-' && (amount[0] < '0' || amount[0] > '9') {
		return Request{}, invalidAmount(string(amount))
	}
	d, err := decimal.NewFromString(string(amount))
	if err != nil {
		return Request{}, invalidAmount(string(amount))
	}
	req.Amount = d
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Validate checks required fields and that the amount is positive.
func (r Request) Validate() error {
	if err := r.validateFields(false); err != nil {
		return err
	}
	if !r.Amount.IsPositive() {
		return invalidAmount(r.Amount.String())
	}
	return nil
}

func (r Request) validateFields(missingAmount bool) error {
	var missing []string
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			missing = append(missing, fe.Field())
		}
	}
	if missingAmount {
		missing = append(missing, "amount")
	}
	if len(missing) > 0 {
		return apperr.New(apperr.CodeMissingRequiredFields, http.StatusBadRequest, "Missing required fields").
			WithDetail("missing_fields", missing)
	}
	return nil
}

// usableEmail reports whether addr can be mailed. buyer_email is optional
// and unchecked on input; an unusable one falls back to the profile email.
func usableEmail(addr string) bool {
	return addr != "" && validate.Var(addr, "email") == nil
}

func invalidAmount(got string) error {
	return apperr.New(apperr.CodeInvalidAmountFormat, http.StatusBadRequest, "Amount must be a positive number").
		WithDetail("amount", got)
}
