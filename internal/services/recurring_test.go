package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/queue"
)

func recurringInput(freq models.Frequency, start time.Time) RecurringInput {
	return RecurringInput{
		Name:        "Hosting",
		ClientName:  "Acme",
		ClientEmail: "ap@acme.test",
		Currency:    "USD",
		TaxRate:     d("10"),
		DueDays:     14,
		Frequency:   freq,
		StartDate:   start,
		Active:      true,
		Items:       []LineItemInput{{Description: "Managed hosting", Quantity: d("1"), UnitPrice: d("100")}},
	}
}

func newRecurring(t *testing.T, f *fixture) (*RecurringService, *queue.Queue) {
	t.Helper()
	q := queue.New(f.db, queue.Options{})
	return NewRecurringService(f.db, q), q
}

func TestRunDueTwiceGeneratesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "owner@example.com")
	svc, _ := newRecurring(t, f)

	r, err := svc.Create(ctx, u.ID, recurringInput(models.FrequencyMonthly, day(2026, 1, 31)))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Date(2026, 1, 31, 8, 0, 0, 0, time.UTC)
	res, err := svc.RunDue(ctx, now)
	if err != nil || res.Generated != 1 {
		t.Fatalf("first RunDue = %+v, %v", res, err)
	}
	res, err = svc.RunDue(ctx, now.Add(time.Hour))
	if err != nil || res.Generated != 0 {
		t.Fatalf("second RunDue = %+v, %v", res, err)
	}
	if n := count(t, f.db, &models.Invoice{}); n != 1 {
		t.Fatalf("invoices = %d, want 1", n)
	}

	var inv models.Invoice
	if err := f.db.Preload("Items").First(&inv).Error; err != nil {
		t.Fatal(err)
	}
	if inv.RecurringInvoiceID == nil || *inv.RecurringInvoiceID != r.ID || inv.RecurringPeriod == nil || !inv.RecurringPeriod.Equal(day(2026, 1, 31)) {
		t.Errorf("origin = %v %v", inv.RecurringInvoiceID, inv.RecurringPeriod)
	}
	if inv.Status != models.InvoiceStatusDraft || !inv.Total.Equal(d("110")) || len(inv.Items) != 1 {
		t.Errorf("generated invoice = status %s total %s items %d", inv.Status, inv.Total, len(inv.Items))
	}
	if !inv.DueDate.Equal(day(2026, 2, 14)) {
		t.Errorf("DueDate = %s", inv.DueDate)
	}

	got, _ := svc.Get(ctx, u.ID, r.ID)
	if !got.NextRunDate.Equal(day(2026, 2, 28)) || got.GeneratedCount != 1 || got.LastRunAt == nil {
		t.Errorf("after run: next=%s count=%d last=%v", got.NextRunDate, got.GeneratedCount, got.LastRunAt)
	}
}

func TestRunDueCatchesUpMissedPeriods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "owner@example.com")
	svc, _ := newRecurring(t, f)
	r, err := svc.Create(ctx, u.ID, recurringInput(models.FrequencyMonthly, day(2026, 1, 15)))
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.RunDue(ctx, time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if res.Generated != 4 {
		t.Errorf("Generated = %d, want 4", res.Generated)
	}
	var periods []time.Time
	if err := f.db.Model(&models.Invoice{}).Order("recurring_period").Pluck("recurring_period", &periods).Error; err != nil {
		t.Fatal(err)
	}
	want := []time.Time{day(2026, 1, 15), day(2026, 2, 15), day(2026, 3, 15), day(2026, 4, 15)}
	if len(periods) != len(want) {
		t.Fatalf("periods = %v", periods)
	}
	for i := range want {
		if !periods[i].Equal(want[i]) {
			t.Errorf("period %d = %s, want %s", i, periods[i], want[i])
		}
	}
	got, _ := svc.Get(ctx, u.ID, r.ID)
	if !got.NextRunDate.Equal(day(2026, 5, 15)) {
		t.Errorf("NextRunDate = %s", got.NextRunDate)
	}
}

func TestRunDueBoundsCatchUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "owner@example.com")
	svc, _ := newRecurring(t, f)
	if _, err := svc.Create(ctx, u.ID, recurringInput(models.FrequencyWeekly, day(2025, 1, 6))); err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := svc.RunDue(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Generated != MaxCatchUp {
		t.Errorf("first run generated %d, want %d", res.Generated, MaxCatchUp)
	}
	res, _ = svc.RunDue(ctx, now)
	if res.Generated != MaxCatchUp {
		t.Errorf("second run generated %d, want %d", res.Generated, MaxCatchUp)
	}
}

func TestRunDueStopsAtEndDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "owner@example.com")
	svc, _ := newRecurring(t, f)

	in := recurringInput(models.FrequencyWeekly, day(2026, 3, 2))
	end := day(2026, 3, 10)
	in.EndDate = &end
	r, err := svc.Create(ctx, u.ID, in)
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.RunDue(ctx, time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if res.Generated != 2 || res.Deactivated != 1 {
		t.Errorf("RunDue = %+v, want 2 generated and 1 deactivated", res)
	}
	got, _ := svc.Get(ctx, u.ID, r.ID)
	if got.Active {
		t.Error("definition still active after its end date")
	}
	res, _ = svc.RunDue(ctx, time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC))
	if res.Generated != 0 {
		t.Errorf("inactive definition generated %d", res.Generated)
	}
}

func TestRunDueUsesOwnerToday(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "owner@example.com")
	if err := f.db.Model(&models.UserProfile{}).Where("user_id = ?", u.ID).Update("timezone", "America/Los_Angeles").Error; err != nil {
		t.Fatal(err)
	}
	svc, _ := newRecurring(t, f)
	if _, err := svc.Create(ctx, u.ID, recurringInput(models.FrequencyMonthly, day(2026, 3, 1))); err != nil {
		t.Fatal(err)
	}

	// 03:00 UTC on March 1st is still February 28th in Los Angeles.
	res, _ := svc.RunDue(ctx, time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC))
	if res.Generated != 0 {
		t.Errorf("generated before the owner's day started")
	}
	res, _ = svc.RunDue(ctx, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	if res.Generated != 1 {
		t.Errorf("Generated = %d, want 1", res.Generated)
	}
}

func TestAutoSendEnqueuesInSameTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "owner@example.com")
	svc, q := newRecurring(t, f)

	in := recurringInput(models.FrequencyMonthly, day(2026, 3, 1))
	in.AutoSend = true
	if _, err := svc.Create(ctx, u.ID, in); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RunDue(ctx, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	jobs, err := q.Recent(ctx, u.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Kind != models.JobKindInvoice || jobs[0].Recipient != "ap@acme.test" || jobs[0].InvoiceID == nil {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestGenerateLosesStaleClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "owner@example.com")
	svc, _ := newRecurring(t, f)
	r, err := svc.Create(ctx, u.ID, recurringInput(models.FrequencyMonthly, day(2026, 3, 1)))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := svc.RunDue(ctx, now); err != nil {
		t.Fatal(err)
	}

	// A second worker still holding the old next_run_date must not generate.
	_, err = svc.generate(ctx, r, day(2026, 3, 1), day(2026, 4, 1), now)
	if !errors.Is(err, errClaimLost) {
		t.Errorf("generate with stale period = %v, want errClaimLost", err)
	}
	if n := count(t, f.db, &models.Invoice{}); n != 1 {
		t.Errorf("invoices = %d, want 1", n)
	}
}

func TestRecurringValidation(t *testing.T) {
	in := recurringInput("daily", day(2026, 3, 1))
	in.AutoSend = true
	in.ClientEmail = ""
	end := day(2026, 2, 1)
	in.EndDate = &end
	in.normalize()
	v := in.Validate()
	for field, code := range map[string]string{"frequency": "invalid_choice", "client_email": "required", "end_date": "out_of_range"} {
		if v[field] != code {
			t.Errorf("violation %s = %q, want %q", field, v[field], code)
		}
	}
}

func TestRecurringUpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.signup(t, "owner@example.com")
	svc, _ := newRecurring(t, f)
	r, err := svc.Create(ctx, u.ID, recurringInput(models.FrequencyMonthly, day(2026, 3, 1)))
	if err != nil {
		t.Fatal(err)
	}

	in := recurringInput(models.FrequencyQuarterly, day(2026, 4, 1))
	in.Items = append(in.Items, LineItemInput{Description: "Backups", Quantity: d("1"), UnitPrice: d("20")})
	got, err := svc.Update(ctx, u.ID, r.ID, in)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !got.NextRunDate.Equal(day(2026, 4, 1)) || len(got.Items) != 2 {
		t.Errorf("after update next=%s items=%d", got.NextRunDate, len(got.Items))
	}
	if n := count(t, f.db, &models.RecurringItem{}); n != 2 {
		t.Errorf("recurring items = %d", n)
	}

	if err := svc.SetActive(ctx, u.ID, r.ID, false); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, u.ID+1, r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("foreign delete = %v", err)
	}
	if err := svc.Delete(ctx, u.ID, r.ID); err != nil {
		t.Fatal(err)
	}
	if n := count(t, f.db, &models.RecurringItem{}); n != 0 {
		t.Errorf("recurring items after delete = %d", n)
	}
}
