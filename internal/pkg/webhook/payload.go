package webhook

import (
	"encoding/json"
	"strings"
)

// Paystack event names.
const (
	EventChargeSuccess      = "charge.success"
	EventTransactionSuccess = "transaction.success"
	EventChargeFailed       = "charge.failed"
	EventTransactionFailed  = "transaction.failed"
	EventTransferSuccess    = "transfer.success"
	EventTransferFailed     = "transfer.failed"
	EventTransferReversed   = "transfer.reversed"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Data is the subset of the provider's data object the ingestor reads.
type Data struct {
	Reference    string `json:"reference"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Domain       string `json:"domain"`
	TransferCode string `json:"transfer_code"`
	Reason       string `json:"reason"`
	Customer     struct {
		Email string `json:"email"`
	} `json:"customer"`
}

func (e envelope) hasData() bool {
	d := strings.TrimSpace(string(e.Data))
	return d != "" && d != "null" && d != "{}"
}

// isTestPayload recognises sandbox traffic. Only these deliveries may skip
// signature verification, and only outside production.
func isTestPayload(d Data) bool {
	return strings.HasPrefix(d.Reference, "test_") ||
		strings.HasPrefix(d.Reference, "TEST-") ||
		d.Domain == "test"
}
