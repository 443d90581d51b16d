package models

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus is the state of an outbox row.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSent    JobStatus = "sent"
	JobDead    JobStatus = "dead"
)

// Email job kinds.
const (
	JobKindInvoice       = "invoice"
	JobKindOverdueNotice = "overdue_notice"
)

// EmailJob is a durable outbound email. InvoiceID is a plain reference
// without a foreign key so delivery history outlives deleted invoices.
type EmailJob struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Key       string `gorm:"size:36;not null;uniqueIndex" json:"key"`
	Kind      string `gorm:"size:32;not null" json:"kind"`
	UserID    uint   `gorm:"not null;index" json:"user_id"`
	InvoiceID *uint  `gorm:"index" json:"invoice_id,omitempty"`
	Recipient string `gorm:"size:255;not null" json:"recipient"`

	Status        JobStatus  `gorm:"size:16;not null;index:idx_email_jobs_due,priority:1" json:"status"`
	NextAttemptAt time.Time  `gorm:"not null;index:idx_email_jobs_due,priority:2" json:"next_attempt_at"`
	Attempts      int        `gorm:"not null" json:"attempts"`
	MaxAttempts   int        `gorm:"not null" json:"max_attempts"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
	LastError     string     `gorm:"size:2000" json:"last_error,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`

	Payload datatypes.JSON `json:"payload,omitempty"`
}

// GetUserID implements the Ownable interface.
func (j *EmailJob) GetUserID() uint {
	return j.UserID
}

// All lists every model for AutoMigrate, parents first.
func All() []any {
	return []any{
		&User{}, &UserProfile{},
		&InvoiceTemplate{}, &RecurringInvoice{}, &RecurringItem{},
		&Invoice{}, &LineItem{},
		&EmailJob{},
	}
}
