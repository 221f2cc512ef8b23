package models

import "time"

const WebhookProviderPaystack = "paystack"

// Webhook processing outcomes stored on the audit row.
const (
	WebhookOutcomeReceived  = "received"
	WebhookOutcomeProcessed = "processed"
	WebhookOutcomeDuplicate = "duplicate_webhook_detected"
	WebhookOutcomeRejected  = "rejected"
	WebhookOutcomeUnhandled = "unhandled"
	WebhookOutcomeFailed    = "failed"
	WebhookOutcomeIgnored   = "ignored"
)

// WebhookEvent is the audit row written for every inbound webhook delivery,
// before any processing happens.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index" json:"provider"`
	Event           string     `gorm:"type:varchar(100);not null;index" json:"event"`
	Reference       string     `gorm:"type:varchar(191);index" json:"reference"`
	Status          string     `gorm:"type:varchar(32)" json:"status"`
	RawPayload      string     `gorm:"type:longtext;not null" json:"raw_payload"`
	SignatureValid  bool       `gorm:"default:false" json:"signature_valid"`
	Outcome         string     `gorm:"type:varchar(64);not null;default:'received';index" json:"outcome"`
	ProcessingError string     `gorm:"type:text" json:"processing_error,omitempty"`
	ReceivedAt      time.Time  `gorm:"index" json:"received_at"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
}
