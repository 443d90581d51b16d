package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/internal/db/dbtest"
	"github.com/diewo77/invoiceflow/internal/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, dd int) time.Time { return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC) }

type fixture struct {
	db       *gorm.DB
	profiles *ProfileService
	invoices *InvoiceService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	return &fixture{db: conn, profiles: NewProfileService(conn), invoices: NewInvoiceService(conn)}
}

func (f *fixture) signup(t *testing.T, email string) *models.User {
	t.Helper()
	u, err := f.profiles.Signup(context.Background(), SignupInput{
		Name:     "Jane Owner",
		Email:    email,
		Password: "correct-horse",
		Confirm:  "correct-horse",
	})
	if err != nil {
		t.Fatalf("Signup(%s): %v", email, err)
	}
	return u
}

// acmeInput is the reference invoice: 2 x 50 + 1 x 100 at 10% tax.
func acmeInput() InvoiceInput {
	return InvoiceInput{
		ClientName:  "Acme",
		ClientEmail: "ap@acme.test",
		Currency:    "USD",
		TaxRate:     d("10"),
		IssueDate:   day(2026, 3, 1),
		DueDate:     day(2026, 3, 31),
		Items: []LineItemInput{
			{Description: "Design", Quantity: d("2"), UnitPrice: d("50")},
			{Description: "Hosting", Quantity: d("1"), UnitPrice: d("100")},
		},
	}
}

func (f *fixture) create(t *testing.T, userID uint, in InvoiceInput) *models.Invoice {
	t.Helper()
	inv, err := f.invoices.Create(context.Background(), userID, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return inv
}

func count(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}
