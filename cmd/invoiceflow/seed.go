package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/services"
)

type seedInvoice struct {
	client  string
	email   string
	status  models.InvoiceStatus
	daysAgo int
	items   []services.LineItemInput
}

func item(desc, qty, price string) services.LineItemInput {
	return services.LineItemInput{
		Description: desc,
		Quantity:    decimal.RequireFromString(qty),
		UnitPrice:   decimal.RequireFromString(price),
	}
}

// seed creates a demo account with a few invoices, a template and a recurring
// definition. Running it again for the same account does nothing.
func seed(ctx context.Context, app *App, email, password string) error {
	if _, err := app.profiles.Authenticate(ctx, email, password); err == nil {
		zap.L().Info("demo account already exists", zap.String("email", email))
		return nil
	} else if !errors.Is(err, services.ErrInvalidCredentials) {
		return err
	}

	user, err := app.profiles.Signup(ctx, services.SignupInput{
		Name:     "Demo Studio",
		Email:    email,
		Password: password,
		Confirm:  password,
	})
	if err != nil {
		return fmt.Errorf("seed: signup: %w", err)
	}
	err = app.profiles.UpdateBusiness(ctx, user.ID, services.BusinessInput{
		CompanyName:    "Demo Studio",
		Address:        "12 Market Street\nSpringfield",
		Phone:          "+1 555 0100",
		Currency:       "USD",
		TaxRate:        decimal.NewFromInt(10),
		InvoicePrefix:  "DEMO",
		Timezone:       "UTC",
		DefaultDueDays: 14,
	})
	if err != nil {
		return fmt.Errorf("seed: business: %w", err)
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	invoices := []seedInvoice{
		{"Acme Corp", "ap@acme.example", models.InvoiceStatusPaid, 75, []services.LineItemInput{item("Website redesign", "1", "2400"), item("Hosting (3 months)", "3", "25")}},
		{"Globex", "billing@globex.example", models.InvoiceStatusPaid, 40, []services.LineItemInput{item("Logo design", "1", "650")}},
		{"Initech", "finance@initech.example", models.InvoiceStatusOverdue, 35, []services.LineItemInput{item("Consulting", "6", "120")}},
		{"Acme Corp", "ap@acme.example", models.InvoiceStatusUnpaid, 5, []services.LineItemInput{item("Maintenance", "4", "80")}},
		{"Umbrella", "", models.InvoiceStatusDraft, 0, []services.LineItemInput{item("Workshop", "1", "900")}},
	}
	for _, s := range invoices {
		issued := today.AddDate(0, 0, -s.daysAgo)
		_, err := app.invoices.Create(ctx, user.ID, services.InvoiceInput{
			ClientName:  s.client,
			ClientEmail: s.email,
			Currency:    "USD",
			TaxRate:     decimal.NewFromInt(10),
			IssueDate:   issued,
			DueDate:     issued.AddDate(0, 0, 14),
			Status:      s.status,
			Items:       s.items,
		})
		if err != nil {
			return fmt.Errorf("seed: invoice for %s: %w", s.client, err)
		}
	}

	_, err = app.templates.Create(ctx, user.ID, services.TemplateInput{
		Name:       "Monthly retainer",
		ClientName: "Acme Corp",
		Currency:   "USD",
		TaxRate:    decimal.NewFromInt(10),
		DueDays:    14,
		Items:      []services.LineItemInput{item("Retainer", "1", "1500")},
	})
	if err != nil {
		return fmt.Errorf("seed: template: %w", err)
	}

	_, err = app.recurring.Create(ctx, user.ID, services.RecurringInput{
		Name:        "Hosting",
		ClientName:  "Globex",
		ClientEmail: "billing@globex.example",
		Currency:    "USD",
		TaxRate:     decimal.NewFromInt(10),
		DueDays:     14,
		Frequency:   models.FrequencyMonthly,
		StartDate:   today.AddDate(0, 1, 0),
		Active:      true,
		Items:       []services.LineItemInput{item("Managed hosting", "1", "49")},
	})
	if err != nil {
		return fmt.Errorf("seed: recurring: %w", err)
	}

	zap.L().Info("demo account created", zap.String("email", email), zap.Uint("user_id", user.ID))
	return nil
}
