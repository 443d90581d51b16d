package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceStatus represents the status of an invoice.
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "draft"
	InvoiceStatusUnpaid  InvoiceStatus = "unpaid"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
)

// InvoiceStatuses lists every status in display order.
var InvoiceStatuses = []InvoiceStatus{InvoiceStatusDraft, InvoiceStatusUnpaid, InvoiceStatusOverdue, InvoiceStatusPaid}

// Valid reports whether s is a known status.
func (s InvoiceStatus) Valid() bool {
	for _, v := range InvoiceStatuses {
		if s == v {
			return true
		}
	}
	return false
}

var hundred = decimal.NewFromInt(100)

// Invoice is a bill issued by a user to a client.
// Implements the Ownable interface for ownership-based authorization.
type Invoice struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// UserID is the owner of this invoice; Number is unique per owner.
	UserID uint   `gorm:"not null;index;uniqueIndex:idx_invoices_user_number,priority:1" json:"user_id"`
	Number string `gorm:"size:64;not null;uniqueIndex:idx_invoices_user_number,priority:2" json:"number"`

	ClientName    string `gorm:"size:255;not null" json:"client_name"`
	ClientEmail   string `gorm:"size:255" json:"client_email,omitempty"`
	ClientPhone   string `gorm:"size:50" json:"client_phone,omitempty"`
	ClientAddress string `gorm:"size:1000" json:"client_address,omitempty"`

	Currency string          `gorm:"size:3;not null" json:"currency"`
	TaxRate  decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"tax_rate"` // percent
	Subtotal decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"subtotal"`
	Tax      decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"tax"`
	Total    decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"total"`

	Status    InvoiceStatus `gorm:"size:16;not null;index" json:"status"`
	IssueDate time.Time     `gorm:"type:date;not null;index" json:"issue_date"`
	DueDate   time.Time     `gorm:"type:date;not null" json:"due_date"`
	Notes     string        `gorm:"size:2000" json:"notes,omitempty"`

	// Origin links. A recurring definition produces at most one invoice per period.
	TemplateID         *uint      `gorm:"index" json:"template_id,omitempty"`
	RecurringInvoiceID *uint      `gorm:"uniqueIndex:idx_invoices_recurring_period,priority:1" json:"recurring_invoice_id,omitempty"`
	RecurringPeriod    *time.Time `gorm:"type:date;uniqueIndex:idx_invoices_recurring_period,priority:2" json:"recurring_period,omitempty"`

	ShareToken *string    `gorm:"size:36;uniqueIndex" json:"-"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`

	Items []LineItem `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// GetUserID implements the Ownable interface for authorization.
func (i *Invoice) GetUserID() uint {
	return i.UserID
}

// CanEdit is false once the invoice is paid.
func (i *Invoice) CanEdit() bool {
	return i.Status != InvoiceStatusPaid
}

// IsPastDue reports whether an open invoice is past its due date on day.
func (i *Invoice) IsPastDue(day time.Time) bool {
	if i.Status == InvoiceStatusPaid || i.Status == InvoiceStatusDraft {
		return false
	}
	return DateOf(day).After(DateOf(i.DueDate))
}

// Recalculate derives line totals, subtotal, tax and total from Items and TaxRate.
func (i *Invoice) Recalculate() {
	sub := decimal.Zero
	for idx := range i.Items {
		i.Items[idx].computeTotal()
		sub = sub.Add(i.Items[idx].LineTotal)
	}
	i.Subtotal = sub
	i.Tax = sub.Mul(i.TaxRate).Div(hundred).Round(2)
	i.Total = i.Subtotal.Add(i.Tax)
}

// BeforeSave keeps Total equal to Subtotal + Tax on every write.
func (i *Invoice) BeforeSave(tx *gorm.DB) error {
	i.Total = i.Subtotal.Add(i.Tax)
	return nil
}

// LineItem is one billable row on an invoice.
type LineItem struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	InvoiceID   uint            `gorm:"not null;index" json:"invoice_id"`
	Position    int             `gorm:"not null" json:"position"`
	Description string          `gorm:"size:500;not null" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"unit_price"`
	LineTotal   decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"line_total"`
}

func (li *LineItem) computeTotal() {
	li.LineTotal = li.Quantity.Mul(li.UnitPrice)
}

// BeforeSave keeps LineTotal equal to Quantity × UnitPrice.
func (li *LineItem) BeforeSave(tx *gorm.DB) error {
	li.computeTotal()
	return nil
}

// DateOf truncates t to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
