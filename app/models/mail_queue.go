package models

import "time"

type MailStatus string

const (
	MailStatusPending MailStatus = "pending"
	MailStatusSending MailStatus = "sending"
	MailStatusSent    MailStatus = "sent"
	MailStatusFailed  MailStatus = "failed"
)

type MailPriority string

const (
	MailPriorityUrgent MailPriority = "urgent"
	MailPriorityHigh   MailPriority = "high"
	MailPriorityNormal MailPriority = "normal"
	MailPriorityLow    MailPriority = "low"
)

// Rank orders priorities for the queue consumer, lower first.
func (p MailPriority) Rank() int {
	switch p {
	case MailPriorityUrgent:
		return 0
	case MailPriorityHigh:
		return 1
	case MailPriorityLow:
		return 3
	default:
		return 2
	}
}

// MailQueue is a durable email waiting for (re)delivery by the queue consumer.
type MailQueue struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	ToEmail      string       `gorm:"type:varchar(200);not null" json:"to_email"`
	Subject      string       `gorm:"type:varchar(255);not null" json:"subject"`
	HTMLContent  string       `gorm:"type:longtext" json:"html_content"`
	Status       MailStatus   `gorm:"type:varchar(16);not null;default:'pending';index:idx_mail_queue_status_priority,priority:1" json:"status"`
	Priority     MailPriority `gorm:"type:varchar(16);not null;default:'normal';index:idx_mail_queue_status_priority,priority:2" json:"priority"`
	RetryCount   int          `gorm:"default:0" json:"retry_count"`
	EmailType    string       `gorm:"type:varchar(64);index" json:"email_type"`
	ReferenceID  string       `gorm:"type:varchar(191);index" json:"reference_id"`
	ErrorMessage string       `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
	SentAt       *time.Time   `gorm:"type:timestamp;default:null" json:"sent_at,omitempty"`
}

func (MailQueue) TableName() string {
	return "mail_queue"
}
