package models

import (
	"fmt"
	"time"
	_ "time/tzdata" // time zone validation without system zoneinfo

	"github.com/shopspring/decimal"
)

// Billing plans shown on the billing settings page.
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// Currencies lists the ISO codes offered in forms.
var Currencies = []string{"USD", "EUR", "GBP", "CAD", "AUD", "CHF", "JPY", "INR", "NGN", "KES", "ZAR"}

// FirstInvoiceNumber is the sequence value of a new account's first invoice.
const FirstInvoiceNumber = 1001

// UserProfile carries the business fields printed on invoices.
type UserProfile struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID uint `gorm:"uniqueIndex;not null" json:"user_id"`

	CompanyName string `gorm:"size:255" json:"company_name"`
	Address     string `gorm:"size:1000" json:"address,omitempty"`
	Phone       string `gorm:"size:50" json:"phone,omitempty"`
	TaxID       string `gorm:"size:64" json:"tax_id,omitempty"`

	// Branding
	LogoKey string `gorm:"size:255" json:"-"`
	LogoURL string `gorm:"size:500" json:"logo_url,omitempty"`

	Currency          string          `gorm:"size:3;not null" json:"currency"`
	TaxRate           decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"tax_rate"`
	InvoicePrefix     string          `gorm:"size:16;not null" json:"invoice_prefix"`
	NextInvoiceNumber int64           `gorm:"not null" json:"next_invoice_number"`
	Timezone          string          `gorm:"size:64;not null" json:"timezone"`
	DefaultDueDays    int             `gorm:"not null" json:"default_due_days"`

	NotifyOnSend  bool `json:"notify_on_send"`
	NotifyOverdue bool `json:"notify_overdue"`

	Plan string `gorm:"size:16;not null" json:"plan"`
}

// NewUserProfile returns the profile created at signup.
func NewUserProfile(userID uint) UserProfile {
	return UserProfile{
		UserID:            userID,
		Currency:          "USD",
		TaxRate:           decimal.Zero,
		InvoicePrefix:     "INV",
		NextInvoiceNumber: FirstInvoiceNumber,
		Timezone:          "UTC",
		DefaultDueDays:    30,
		NotifyOverdue:     true,
		Plan:              PlanFree,
	}
}

// GetUserID implements the Ownable interface.
func (p *UserProfile) GetUserID() uint {
	return p.UserID
}

// FormatNumber renders an invoice number such as INV-1001.
func (p *UserProfile) FormatNumber(seq int64) string {
	prefix := p.InvoicePrefix
	if prefix == "" {
		prefix = "INV"
	}
	return fmt.Sprintf("%s-%d", prefix, seq)
}

// Location returns the profile time zone, UTC when unknown.
func (p *UserProfile) Location() *time.Location {
	if loc, err := time.LoadLocation(p.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

// Today is the current calendar day in the profile time zone.
func (p *UserProfile) Today(now time.Time) time.Time {
	return DateOf(now.In(p.Location()))
}
