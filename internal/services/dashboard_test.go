package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/diewo77/invoiceflow/internal/models"
)

func seedDashboard(t *testing.T, f *fixture, userID uint) {
	t.Helper()
	rows := []struct {
		client string
		status models.InvoiceStatus
		issued time.Time
		qty    string
		price  string
		tax    string
	}{
		{"Acme", models.InvoiceStatusPaid, day(2026, 1, 10), "2", "50", "10"},
		{"Acme", models.InvoiceStatusPaid, day(2026, 3, 2), "1", "300", "0"},
		{"Globex", models.InvoiceStatusPaid, day(2026, 3, 5), "4", "25", "0"},
		{"Globex", models.InvoiceStatusUnpaid, day(2026, 3, 6), "3", "19.99", "0"},
		{"Initech", models.InvoiceStatusOverdue, day(2025, 12, 20), "1", "80", "25"},
		{"Initech", models.InvoiceStatusDraft, day(2026, 3, 9), "1", "45.53", "0"},
	}
	for _, r := range rows {
		in := acmeInput()
		in.ClientName = r.client
		in.Status = r.status
		in.IssueDate, in.DueDate = r.issued, r.issued.AddDate(0, 0, 30)
		in.TaxRate = d(r.tax)
		in.Items = []LineItemInput{{Description: "Work", Quantity: d(r.qty), UnitPrice: d(r.price)}}
		f.create(t, userID, in)
	}
}

func TestSummaryMatchesBruteForce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "owner@example.com")
	seedDashboard(t, f, u.ID)
	// Another user's invoices must not leak into the figures.
	other := f.signup(t, "other@example.com")
	f.create(t, other.ID, acmeInput())

	got, err := NewDashboardService(f.db).Summary(ctx, u.ID)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}

	all, err := f.invoices.GetMany(ctx, u.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[models.InvoiceStatus]StatusStat{}
	for _, st := range models.InvoiceStatuses {
		want[st] = StatusStat{Status: st}
	}
	total := decimal.Zero
	for _, inv := range all {
		s := want[inv.Status]
		s.Count++
		s.Sum = s.Sum.Add(inv.Total)
		want[inv.Status] = s
		total = total.Add(inv.Total)
	}
	for st, s := range want {
		if s.Count > 0 {
			s.Average = s.Sum.Div(decimal.NewFromInt(s.Count)).Round(2)
			want[st] = s
		}
	}

	opt := cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })
	if diff := cmp.Diff(want, got.ByStatus, opt); diff != "" {
		t.Errorf("ByStatus mismatch (-want +got):\n%s", diff)
	}
	if got.InvoiceCount != int64(len(all)) || !got.TotalBilled.Equal(total) {
		t.Errorf("count=%d total=%s, want %d %s", got.InvoiceCount, got.TotalBilled, len(all), total)
	}
	if avg := total.Div(decimal.NewFromInt(int64(len(all)))).Round(2); !got.AverageValue.Equal(avg) {
		t.Errorf("AverageValue = %s, want %s", got.AverageValue, avg)
	}
	if !got.Revenue.Equal(d("510")) {
		t.Errorf("Revenue = %s, want 510", got.Revenue)
	}
	if !got.Outstanding.Equal(d("159.97")) || !got.OverdueAmount.Equal(d("100")) || got.OverdueCount != 1 {
		t.Errorf("Outstanding=%s Overdue=%s/%d", got.Outstanding, got.OverdueAmount, got.OverdueCount)
	}
	if got.DraftCount != 1 || got.PaidCount != 3 {
		t.Errorf("DraftCount=%d PaidCount=%d", got.DraftCount, got.PaidCount)
	}
	if len(got.Recent) != 5 {
		t.Errorf("Recent = %d rows, want 5", len(got.Recent))
	}
	for _, inv := range got.Recent {
		if inv.UserID != u.ID {
			t.Errorf("recent invoice of user %d", inv.UserID)
		}
	}
}

func TestSummaryEmpty(t *testing.T) {
	f := newFixture(t)
	u := f.signup(t, "owner@example.com")
	got, err := NewDashboardService(f.db).Summary(context.Background(), u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.InvoiceCount != 0 || !got.TotalBilled.IsZero() || !got.AverageValue.IsZero() || len(got.ByStatus) != 4 {
		t.Errorf("empty summary = %+v", got)
	}
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t)
	u := f.signup(t, "owner@example.com")
	seedDashboard(t, f, u.ID)

	svc := NewDashboardService(f.db)
	svc.now = func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) }
	got, err := svc.Analytics(context.Background(), u.ID, 3)
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}

	opt := cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })
	wantMonths := []MonthStat{
		{Month: "2026-01", Issued: d("110"), Revenue: d("110"), Count: 1},
		{Month: "2026-02"},
		{Month: "2026-03", Issued: d("505.5"), Revenue: d("400"), Count: 4},
	}
	if diff := cmp.Diff(wantMonths, got.Months, opt); diff != "" {
		t.Errorf("Months mismatch (-want +got):\n%s", diff)
	}

	wantClients := []ClientStat{
		{ClientName: "Acme", Invoices: 2, Amount: d("410")},
		{ClientName: "Globex", Invoices: 1, Amount: d("100")},
	}
	if diff := cmp.Diff(wantClients, got.TopClients, opt); diff != "" {
		t.Errorf("TopClients mismatch (-want +got):\n%s", diff)
	}
	if len(got.ByStatus) != 4 || got.ByStatus[0].Status != models.InvoiceStatusDraft {
		t.Errorf("ByStatus = %+v", got.ByStatus)
	}
}
