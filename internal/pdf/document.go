// Package pdf renders invoices to PDF.
package pdf

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/diewo77/invoiceflow/internal/models"
)

// Renderer turns a Document into PDF bytes. Implementations must be pure:
// the same Document always yields the same bytes.
type Renderer interface {
	Render(ctx context.Context, doc Document) ([]byte, error)
}

// Party is a seller or client block.
type Party struct {
	Name    string
	Address string
	Email   string
	Phone   string
	TaxID   string
}

// Line is one printed line item.
type Line struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
}

// Document is everything printed on an invoice.
type Document struct {
	Number    string
	Status    models.InvoiceStatus
	IssueDate time.Time
	DueDate   time.Time
	// Stamp is written as the PDF creation and modification dates.
	Stamp    time.Time
	Seller   Party
	Client   Party
	Currency string
	TaxRate  decimal.Decimal
	Lines    []Line
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
	Notes    string
}

// FromInvoice builds a Document from an invoice with preloaded items.
func FromInvoice(profile *models.UserProfile, sellerEmail string, inv *models.Invoice) Document {
	doc := Document{
		Number:    inv.Number,
		Status:    inv.Status,
		IssueDate: inv.IssueDate,
		DueDate:   inv.DueDate,
		Stamp:     inv.UpdatedAt.UTC().Truncate(time.Second),
		Client: Party{
			Name:    inv.ClientName,
			Address: inv.ClientAddress,
			Email:   inv.ClientEmail,
			Phone:   inv.ClientPhone,
		},
		Currency: inv.Currency,
		TaxRate:  inv.TaxRate,
		Subtotal: inv.Subtotal,
		Tax:      inv.Tax,
		Total:    inv.Total,
		Notes:    inv.Notes,
	}
	if profile != nil {
		doc.Seller = Party{
			Name:    profile.CompanyName,
			Address: profile.Address,
			Email:   sellerEmail,
			Phone:   profile.Phone,
			TaxID:   profile.TaxID,
		}
	}
	for _, it := range inv.Items {
		doc.Lines = append(doc.Lines, Line{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Total:       it.LineTotal,
		})
	}
	return doc
}

// Filename is the download name for an invoice PDF.
func Filename(number string) string {
	if number == "" {
		return "invoice.pdf"
	}
	return "invoice-" + number + ".pdf"
}
