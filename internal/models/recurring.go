package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Frequency is the recurrence period of a RecurringInvoice.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

var Frequencies = []Frequency{FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly}

func (f Frequency) Valid() bool {
	for _, v := range Frequencies {
		if f == v {
			return true
		}
	}
	return false
}

// Advance returns the period date after t. Month based frequencies keep
// anchorDay when the target month has it and clamp to the month end otherwise,
// so a schedule started on the 31st does not drift.
func (f Frequency) Advance(t time.Time, anchorDay int) time.Time {
	t = DateOf(t)
	switch f {
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyQuarterly:
		return addMonths(t, 3, anchorDay)
	case FrequencyYearly:
		return addMonths(t, 12, anchorDay)
	default:
		return addMonths(t, 1, anchorDay)
	}
}

func addMonths(t time.Time, n, anchorDay int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	last := first.AddDate(0, 1, -1).Day()
	day := anchorDay
	if day < 1 {
		day = t.Day()
	}
	if day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

// RecurringInvoice periodically spawns invoices.
type RecurringInvoice struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID uint   `gorm:"not null;index" json:"user_id"`
	Name   string `gorm:"size:120;not null" json:"name"`

	ClientName    string `gorm:"size:255;not null" json:"client_name"`
	ClientEmail   string `gorm:"size:255" json:"client_email,omitempty"`
	ClientPhone   string `gorm:"size:50" json:"client_phone,omitempty"`
	ClientAddress string `gorm:"size:1000" json:"client_address,omitempty"`

	Currency string          `gorm:"size:3;not null" json:"currency"`
	TaxRate  decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"tax_rate"`
	Notes    string          `gorm:"size:2000" json:"notes,omitempty"`
	DueDays  int             `gorm:"not null" json:"due_days"`

	Frequency   Frequency  `gorm:"size:16;not null" json:"frequency"`
	StartDate   time.Time  `gorm:"type:date;not null" json:"start_date"`
	NextRunDate time.Time  `gorm:"type:date;not null;index" json:"next_run_date"`
	EndDate     *time.Time `gorm:"type:date" json:"end_date,omitempty"`
	Active      bool       `gorm:"not null;index" json:"active"`
	AutoSend    bool       `gorm:"not null" json:"auto_send"`

	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	GeneratedCount int        `gorm:"not null" json:"generated_count"`

	Items []RecurringItem `gorm:"foreignKey:RecurringInvoiceID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// GetUserID implements the Ownable interface.
func (r *RecurringInvoice) GetUserID() uint {
	return r.UserID
}

// NextAfter returns the period following period.
func (r *RecurringInvoice) NextAfter(period time.Time) time.Time {
	return r.Frequency.Advance(period, r.StartDate.Day())
}

// Ended reports whether period lies beyond EndDate.
func (r *RecurringInvoice) Ended(period time.Time) bool {
	return r.EndDate != nil && DateOf(period).After(DateOf(*r.EndDate))
}

// RecurringItem is a line copied onto each generated invoice.
type RecurringItem struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	RecurringInvoiceID uint            `gorm:"not null;index" json:"recurring_invoice_id"`
	Position           int             `gorm:"not null" json:"position"`
	Description        string          `gorm:"size:500;not null" json:"description"`
	Quantity           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"quantity"`
	UnitPrice          decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"unit_price"`
}
