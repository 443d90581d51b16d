package services

import (
	"context"
	"errors"
	"testing"

	"github.com/diewo77/invoiceflow/internal/models"
)

func TestTemplateApplyPrefillsInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "owner@example.com")
	svc := NewTemplateService(f.db)

	tpl, err := svc.Create(ctx, u.ID, TemplateInput{
		Name:       "Monthly retainer",
		ClientName: "Acme",
		Currency:   "usd",
		TaxRate:    d("10"),
		DueDays:    7,
		Items: []LineItemInput{
			{Description: "Retainer", Quantity: d("1"), UnitPrice: d("500")},
			{Description: " ", UnitPrice: d("0")},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tpl.Currency != "USD" {
		t.Errorf("Currency = %q", tpl.Currency)
	}

	stored, err := svc.Get(ctx, u.ID, tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	in, err := Apply(stored, day(2026, 3, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(in.Items) != 1 || in.Items[0].Description != "Retainer" {
		t.Fatalf("items = %+v (blank rows should be dropped)", in.Items)
	}
	if !in.DueDate.Equal(day(2026, 3, 8)) || in.TemplateID == nil || *in.TemplateID != tpl.ID {
		t.Errorf("applied input = %+v", in)
	}

	inv := f.create(t, u.ID, in)
	if !inv.Total.Equal(d("550")) || inv.TemplateID == nil {
		t.Errorf("invoice from template: total %s template %v", inv.Total, inv.TemplateID)
	}
}

func TestTemplateWithoutItemsAppliesOneBlankLine(t *testing.T) {
	in, err := Apply(&models.InvoiceTemplate{ID: 3, Currency: "USD", DueDays: 30}, day(2026, 3, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(in.Items) != 1 || !in.Items[0].Quantity.Equal(d("1")) {
		t.Errorf("items = %+v", in.Items)
	}
}

func TestTemplateCRUDIsScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "owner@example.com")
	other := f.signup(t, "other@example.com")
	svc := NewTemplateService(f.db)

	tpl, err := svc.Create(ctx, u.ID, TemplateInput{Name: "Basic", Currency: "USD"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, other.ID, tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign Get = %v", err)
	}
	if _, err := svc.Update(ctx, u.ID, tpl.ID, TemplateInput{Name: "Renamed", Currency: "GBP"}); err != nil {
		t.Fatal(err)
	}
	list, _ := svc.List(ctx, u.ID)
	if len(list) != 1 || list[0].Name != "Renamed" || list[0].Currency != "GBP" {
		t.Errorf("List = %+v", list)
	}
	if err := svc.Delete(ctx, other.ID, tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign Delete = %v", err)
	}
	if err := svc.Delete(ctx, u.ID, tpl.ID); err != nil {
		t.Fatal(err)
	}

	_, err = svc.Create(ctx, u.ID, TemplateInput{Currency: "XXX", DueDays: 400})
	v, _ := ViolationsOf(err)
	if v["name"] != "required" || v["currency"] != "invalid_choice" || v["due_days"] != "out_of_range" {
		t.Errorf("violations = %v", v)
	}
}
