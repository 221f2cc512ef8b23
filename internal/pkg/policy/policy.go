// Package policy holds the marketplace business constants that used to be
// hardcoded: commit window, commission split and price tolerance.
package policy

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/rebooked/marketplace/internal/pkg/env"
)

// Policy is validated on load; a bad value aborts startup.
type Policy struct {
	CommitWindow     time.Duration   `validate:"gt=0"`
	CommissionRate   decimal.Decimal `validate:"-"`
	DeliveryFeeShare decimal.Decimal `validate:"-"`
	AmountTolerance  decimal.Decimal `validate:"-"`
	OpsEmail         string          `validate:"required,email"`
	MailMaxRetries   int             `validate:"gte=1,lte=20"`
}

// Default returns the production defaults.
func Default() Policy {
	return Policy{
		CommitWindow:     48 * time.Hour,
		CommissionRate:   decimal.NewFromFloat(0.10),
		DeliveryFeeShare: decimal.NewFromInt(1),
		AmountTolerance:  decimal.NewFromFloat(0.01),
		OpsEmail:         "ops@rebooked.local",
		MailMaxRetries:   3,
	}
}

// Load reads overrides from the environment on top of Default.
func Load() (Policy, error) {
	p := Default()
	if h := env.GetEnvInt("COMMIT_WINDOW_HOURS", 0); h > 0 {
		p.CommitWindow = time.Duration(h) * time.Hour
	}
	p.CommissionRate = decimalEnv("PLATFORM_COMMISSION_RATE", p.CommissionRate)
	p.DeliveryFeeShare = decimalEnv("PLATFORM_DELIVERY_FEE_SHARE", p.DeliveryFeeShare)
	p.AmountTolerance = decimalEnv("AMOUNT_TOLERANCE", p.AmountTolerance)
	if ops := strings.TrimSpace(env.GetEnv("OPS_EMAIL", "")); ops != "" {
		p.OpsEmail = ops
	}
	p.MailMaxRetries = env.GetEnvInt("MAIL_MAX_RETRIES", p.MailMaxRetries)
	return p, p.Validate()
}

// Validate checks struct tags plus the decimal ranges validator can't express.
func (p Policy) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		return err
	}
	if p.CommissionRate.IsNegative() || p.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return errInvalidRate("commission rate")
	}
	if p.DeliveryFeeShare.IsNegative() || p.DeliveryFeeShare.GreaterThan(decimal.NewFromInt(1)) {
		return errInvalidRate("delivery fee share")
	}
	if p.AmountTolerance.IsNegative() {
		return errInvalidRate("amount tolerance")
	}
	return nil
}

type errInvalidRate string

func (e errInvalidRate) Error() string { return string(e) + " must be between 0 and 1" }

func decimalEnv(key string, def decimal.Decimal) decimal.Decimal {
	raw := strings.TrimSpace(env.GetEnv(key, ""))
	if raw == "" {
		return def
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return def
	}
	return v
}
