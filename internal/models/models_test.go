package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y int, m time.Month, day int) time.Time { return time.Date(y, m, day, 0, 0, 0, 0, time.UTC) }

func TestInvoice_GetUserID(t *testing.T) {
	inv := &Invoice{UserID: 42}
	if got := inv.GetUserID(); got != 42 {
		t.Errorf("GetUserID() = %d, want 42", got)
	}
}

func TestInvoice_Recalculate(t *testing.T) {
	tests := []struct {
		name     string
		taxRate  string
		items    [][2]string
		subtotal string
		tax      string
		total    string
	}{
		{"acme example", "10", [][2]string{{"2", "50"}, {"1", "100"}}, "200", "20", "220"},
		{"no tax", "0", [][2]string{{"3", "19.99"}}, "59.97", "0", "59.97"},
		{"fractional quantity", "20", [][2]string{{"1.5", "33.33"}}, "49.995", "10", "59.995"},
		{"tax rounds half away from zero", "5.5", [][2]string{{"1", "10.10"}}, "10.1", "0.56", "10.66"},
		{"no items", "10", nil, "0", "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &Invoice{TaxRate: d(tt.taxRate)}
			for _, it := range tt.items {
				inv.Items = append(inv.Items, LineItem{Quantity: d(it[0]), UnitPrice: d(it[1])})
			}
			inv.Recalculate()
			if !inv.Subtotal.Equal(d(tt.subtotal)) {
				t.Errorf("Subtotal = %s, want %s", inv.Subtotal, tt.subtotal)
			}
			if !inv.Tax.Equal(d(tt.tax)) {
				t.Errorf("Tax = %s, want %s", inv.Tax, tt.tax)
			}
			if !inv.Total.Equal(d(tt.total)) {
				t.Errorf("Total = %s, want %s", inv.Total, tt.total)
			}
			if !inv.Total.Equal(inv.Subtotal.Add(inv.Tax)) {
				t.Errorf("Total != Subtotal + Tax")
			}
			for _, li := range inv.Items {
				if !li.LineTotal.Equal(li.Quantity.Mul(li.UnitPrice)) {
					t.Errorf("LineTotal = %s, want %s", li.LineTotal, li.Quantity.Mul(li.UnitPrice))
				}
			}
		})
	}
}

func TestInvoice_BeforeSaveRepairsTotal(t *testing.T) {
	inv := &Invoice{Subtotal: d("100"), Tax: d("7.5"), Total: d("1")}
	if err := inv.BeforeSave(nil); err != nil {
		t.Fatal(err)
	}
	if !inv.Total.Equal(d("107.5")) {
		t.Errorf("Total = %s, want 107.5", inv.Total)
	}
}

func TestInvoice_IsPastDue(t *testing.T) {
	due := date(2026, 3, 10)
	tests := []struct {
		status InvoiceStatus
		day    time.Time
		want   bool
	}{
		{InvoiceStatusUnpaid, date(2026, 3, 10), false},
		{InvoiceStatusUnpaid, date(2026, 3, 11), true},
		{InvoiceStatusPaid, date(2026, 4, 1), false},
		{InvoiceStatusDraft, date(2026, 4, 1), false},
		{InvoiceStatusOverdue, date(2026, 4, 1), true},
	}
	for _, tt := range tests {
		inv := &Invoice{Status: tt.status, DueDate: due}
		if got := inv.IsPastDue(tt.day); got != tt.want {
			t.Errorf("IsPastDue(%s, %s) = %v, want %v", tt.status, tt.day.Format("2006-01-02"), got, tt.want)
		}
	}
}

func TestInvoiceStatus_Valid(t *testing.T) {
	if !InvoiceStatusOverdue.Valid() || InvoiceStatus("cancelled").Valid() {
		t.Error("unexpected Valid() result")
	}
}

func TestUserProfile_Defaults(t *testing.T) {
	p := NewUserProfile(7)
	if got := p.FormatNumber(p.NextInvoiceNumber); got != "INV-1001" {
		t.Errorf("FormatNumber() = %q, want INV-1001", got)
	}
	p.InvoicePrefix = "ACME"
	if got := p.FormatNumber(12); got != "ACME-12" {
		t.Errorf("FormatNumber() = %q", got)
	}
	p.Timezone = "Not/AZone"
	if p.Location() != time.UTC {
		t.Errorf("unknown zone should fall back to UTC")
	}
}

func TestUserProfile_Today(t *testing.T) {
	p := NewUserProfile(1)
	p.Timezone = "Asia/Tokyo"
	now := time.Date(2026, 1, 31, 20, 0, 0, 0, time.UTC) // Feb 1st 05:00 in Tokyo
	if got := p.Today(now); !got.Equal(date(2026, 2, 1)) {
		t.Errorf("Today() = %v, want 2026-02-01", got)
	}
}

func TestFrequency_Advance(t *testing.T) {
	tests := []struct {
		name   string
		f      Frequency
		from   time.Time
		anchor int
		want   time.Time
	}{
		{"weekly", FrequencyWeekly, date(2026, 1, 28), 28, date(2026, 2, 4)},
		{"monthly plain", FrequencyMonthly, date(2026, 1, 15), 15, date(2026, 2, 15)},
		{"monthly clamps", FrequencyMonthly, date(2026, 1, 31), 31, date(2026, 2, 28)},
		{"monthly restores anchor", FrequencyMonthly, date(2026, 2, 28), 31, date(2026, 3, 31)},
		{"quarterly", FrequencyQuarterly, date(2026, 11, 30), 30, date(2027, 2, 28)},
		{"yearly leap", FrequencyYearly, date(2028, 2, 29), 29, date(2029, 2, 28)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Advance(tt.from, tt.anchor); !got.Equal(tt.want) {
				t.Errorf("Advance() = %s, want %s", got.Format("2006-01-02"), tt.want.Format("2006-01-02"))
			}
		})
	}
}

func TestRecurringInvoice_Ended(t *testing.T) {
	end := date(2026, 6, 30)
	r := &RecurringInvoice{EndDate: &end}
	if r.Ended(date(2026, 6, 30)) || !r.Ended(date(2026, 7, 1)) {
		t.Error("Ended() boundary is inclusive of EndDate")
	}
	r.EndDate = nil
	if r.Ended(date(2100, 1, 1)) {
		t.Error("no end date never ends")
	}
}

func TestInvoiceTemplate_DefaultItems(t *testing.T) {
	tpl := &InvoiceTemplate{}
	items, err := tpl.DefaultItems()
	if err != nil || items != nil {
		t.Fatalf("empty template: %v %v", items, err)
	}
	want := []TemplateItem{{Description: "Hosting", Quantity: d("1"), UnitPrice: d("25.50")}}
	if err := tpl.SetDefaultItems(want); err != nil {
		t.Fatal(err)
	}
	got, err := tpl.DefaultItems()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Description != "Hosting" || !got[0].UnitPrice.Equal(d("25.5")) {
		t.Errorf("DefaultItems() = %+v", got)
	}
}
