package queue

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/diewo77/invoiceflow/internal/db/dbtest"
	"github.com/diewo77/invoiceflow/internal/models"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newQueue(t *testing.T) (*Queue, *clock) {
	t.Helper()
	conn := dbtest.Open(t)
	q := New(conn, Options{MaxAttempts: 3, BackoffBase: time.Minute, BackoffMax: 10 * time.Minute, LockTimeout: 5 * time.Minute})
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	q.SetClock(c.now)
	return q, c
}

func enqueue(t *testing.T, q *Queue, delay time.Duration) *models.EmailJob {
	t.Helper()
	id := uint(7)
	job, err := q.Enqueue(context.Background(), Message{
		Kind:      models.JobKindInvoice,
		UserID:    1,
		InvoiceID: &id,
		Recipient: "ap@acme.test",
		Payload:   map[string]string{"note": "hi"},
		Delay:     delay,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job
}

func TestClaimOnlyOnce(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()
	job := enqueue(t, q, 0)
	if job.Key == "" || job.Status != models.JobPending {
		t.Fatalf("unexpected job: %+v", job)
	}

	got, err := q.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(got) != 1 || got[0].Status != models.JobRunning || got[0].Attempts != 1 || got[0].LockedUntil == nil {
		t.Fatalf("claimed = %+v", got)
	}
	again, err := q.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("job claimed twice: %+v", again)
	}
}

func TestClaimRespectsDelay(t *testing.T) {
	q, c := newQueue(t)
	ctx := context.Background()
	enqueue(t, q, 10*time.Minute)

	if got, _ := q.Claim(ctx, 10); len(got) != 0 {
		t.Fatalf("delayed job claimed early")
	}
	c.advance(10 * time.Minute)
	if got, _ := q.Claim(ctx, 10); len(got) != 1 {
		t.Fatalf("delayed job not claimed when due")
	}
}

func TestFailSchedulesBackoffThenDeadLetters(t *testing.T) {
	q, c := newQueue(t)
	ctx := context.Background()
	enqueue(t, q, 0)

	wantDelays := []time.Duration{time.Minute, 2 * time.Minute}
	for i, want := range wantDelays {
		jobs, err := q.Claim(ctx, 1)
		if err != nil || len(jobs) != 1 {
			t.Fatalf("attempt %d: claim = %v, %v", i+1, jobs, err)
		}
		job := &jobs[0]
		status, err := q.Fail(ctx, job, errors.New("502 from provider"))
		if err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if status != models.JobPending {
			t.Fatalf("attempt %d: status = %s, want pending", i+1, status)
		}
		if got := job.NextAttemptAt.Sub(c.t); got != want {
			t.Fatalf("attempt %d: delay = %v, want %v", i+1, got, want)
		}
		if got, _ := q.Claim(ctx, 1); len(got) != 0 {
			t.Fatalf("attempt %d: claimed before backoff elapsed", i+1)
		}
		c.advance(want)
	}

	jobs, _ := q.Claim(ctx, 1)
	if len(jobs) != 1 || jobs[0].Attempts != 3 {
		t.Fatalf("final claim = %+v", jobs)
	}
	status, err := q.Fail(ctx, &jobs[0], errors.New("still failing"))
	if err != nil || status != models.JobDead {
		t.Fatalf("exhausted job: status %s err %v", status, err)
	}

	var stored models.EmailJob
	if err := q.db.First(&stored, jobs[0].ID).Error; err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.JobDead || stored.LastError != "still failing" || stored.LockedUntil != nil {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestFailPermanentDeadLettersImmediately(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()
	enqueue(t, q, 0)
	jobs, _ := q.Claim(ctx, 1)

	status, err := q.Fail(ctx, &jobs[0], Permanent(errors.New("sender not verified")))
	if err != nil {
		t.Fatal(err)
	}
	if status != models.JobDead {
		t.Fatalf("status = %s, want dead", status)
	}
}

func TestFailStoresBoundedUTF8Error(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()
	enqueue(t, q, 0)
	jobs, _ := q.Claim(ctx, 1)

	// A multi-byte rune straddles the cut, and the tail holds a stray byte.
	cause := errors.New(strings.Repeat("a", maxErrorText-1) + "é" + "\xff rest of body")
	status, err := q.Fail(ctx, &jobs[0], cause)
	if err != nil || status != models.JobPending {
		t.Fatalf("Fail = %s, %v", status, err)
	}

	var stored models.EmailJob
	if err := q.db.First(&stored, jobs[0].ID).Error; err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(stored.LastError) || len(stored.LastError) != maxErrorText-1 {
		t.Errorf("last_error: %d bytes, valid UTF-8 %v", len(stored.LastError), utf8.ValidString(stored.LastError))
	}
	if got := errorText(errors.New("ok \xff")); got != "ok " {
		t.Errorf("errorText = %q", got)
	}
}

func TestFailHonoursRetryAfter(t *testing.T) {
	q, c := newQueue(t)
	ctx := context.Background()
	enqueue(t, q, 0)
	jobs, _ := q.Claim(ctx, 1)

	if _, err := q.Fail(ctx, &jobs[0], RetryAfter(errors.New("429"), 7*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if got := jobs[0].NextAttemptAt.Sub(c.t); got != 7*time.Minute {
		t.Fatalf("delay = %v, want 7m", got)
	}
}

func TestExpiredLockIsReclaimed(t *testing.T) {
	q, c := newQueue(t)
	ctx := context.Background()
	enqueue(t, q, 0)

	first, _ := q.Claim(ctx, 1)
	if len(first) != 1 {
		t.Fatal("first claim failed")
	}
	c.advance(4 * time.Minute)
	if got, _ := q.Claim(ctx, 1); len(got) != 0 {
		t.Fatal("live lock was stolen")
	}
	c.advance(2 * time.Minute)
	second, _ := q.Claim(ctx, 1)
	if len(second) != 1 || second[0].Attempts != 2 {
		t.Fatalf("expired lock not reclaimed: %+v", second)
	}

	// The crashed worker comes back and must not overwrite the new claim.
	if err := q.Complete(ctx, &first[0]); !errors.Is(err, ErrLockLost) {
		t.Fatalf("stale Complete = %v, want ErrLockLost", err)
	}
	if err := q.Complete(ctx, &second[0]); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestRetryDeadJob(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()
	job := enqueue(t, q, 0)
	jobs, _ := q.Claim(ctx, 1)
	if _, err := q.Fail(ctx, &jobs[0], Permanent(errors.New("bad address"))); err != nil {
		t.Fatal(err)
	}

	if err := q.Retry(ctx, 2, job.ID); !errors.Is(err, ErrNoJob) {
		t.Fatalf("other user's Retry = %v, want ErrNoJob", err)
	}
	if err := q.Retry(ctx, 1, job.ID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if err := q.Retry(ctx, 1, job.ID); !errors.Is(err, ErrNoJob) {
		t.Fatalf("Retry of pending job = %v, want ErrNoJob", err)
	}
	again, _ := q.Claim(ctx, 1)
	if len(again) != 1 || again[0].Attempts != 1 {
		t.Fatalf("retried job claim = %+v", again)
	}
}

func TestStatsAndRecent(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()
	enqueue(t, q, 0)
	enqueue(t, q, 0)
	jobs, _ := q.Claim(ctx, 1)
	if err := q.Complete(ctx, &jobs[0]); err != nil {
		t.Fatal(err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats[models.JobSent] != 1 || stats[models.JobPending] != 1 || stats[models.JobDead] != 0 {
		t.Fatalf("stats = %v", stats)
	}
	recent, err := q.Recent(ctx, 1, 10)
	if err != nil || len(recent) != 2 {
		t.Fatalf("Recent = %v, %v", recent, err)
	}
	if recent[0].ID < recent[1].ID {
		t.Fatal("Recent should be newest first")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{8, 60 * time.Minute},
		{50, 60 * time.Minute},
	}
	for _, tt := range tests {
		if got := Backoff(30*time.Second, time.Hour, tt.attempt); got != tt.want {
			t.Errorf("Backoff(attempt %d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestWorkerRunOnce(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		enqueue(t, q, 0)
	}

	var handled atomic.Int32
	h := HandlerFunc(func(ctx context.Context, job *models.EmailJob) error {
		if handled.Add(1) == 1 {
			return Permanent(errors.New("boom"))
		}
		return nil
	})
	w := NewWorker(q, h, WorkerOptions{Concurrency: 2, BatchSize: 10})

	n, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 5 || handled.Load() != 5 {
		t.Fatalf("handled %d/%d, want 5", n, handled.Load())
	}
	stats, _ := q.Stats(ctx)
	if stats[models.JobSent] != 4 || stats[models.JobDead] != 1 {
		t.Fatalf("stats = %v", stats)
	}
	if n, _ := w.RunOnce(ctx); n != 0 {
		t.Fatalf("second RunOnce handled %d jobs", n)
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	q, _ := newQueue(t)
	w := NewWorker(q, HandlerFunc(func(context.Context, *models.EmailJob) error { return nil }),
		WorkerOptions{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
