package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// InvoiceTemplate is a reusable set of default invoice fields.
type InvoiceTemplate struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID uint   `gorm:"not null;index" json:"user_id"`
	Name   string `gorm:"size:120;not null" json:"name"`

	ClientName    string `gorm:"size:255" json:"client_name,omitempty"`
	ClientEmail   string `gorm:"size:255" json:"client_email,omitempty"`
	ClientPhone   string `gorm:"size:50" json:"client_phone,omitempty"`
	ClientAddress string `gorm:"size:1000" json:"client_address,omitempty"`

	Currency string          `gorm:"size:3;not null" json:"currency"`
	TaxRate  decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"tax_rate"`
	Notes    string          `gorm:"size:2000" json:"notes,omitempty"`
	DueDays  int             `gorm:"not null" json:"due_days"`

	// Items holds []TemplateItem as JSON.
	Items datatypes.JSON `json:"items,omitempty"`
}

// TemplateItem is a default line stored on a template.
type TemplateItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// GetUserID implements the Ownable interface.
func (t *InvoiceTemplate) GetUserID() uint {
	return t.UserID
}

// DefaultItems decodes the JSON item list.
func (t *InvoiceTemplate) DefaultItems() ([]TemplateItem, error) {
	if len(t.Items) == 0 {
		return nil, nil
	}
	var items []TemplateItem
	if err := json.Unmarshal(t.Items, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SetDefaultItems encodes items into the JSON column.
func (t *InvoiceTemplate) SetDefaultItems(items []TemplateItem) error {
	if len(items) == 0 {
		t.Items = nil
		return nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	t.Items = datatypes.JSON(b)
	return nil
}
