package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunStartsTasksImmediatelyAndStops(t *testing.T) {
	s := New()
	var fast, slow atomic.Int32
	if err := s.Add("fast", 5*time.Millisecond, func(context.Context, time.Time) error {
		fast.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("slow", time.Hour, func(context.Context, time.Time) error {
		slow.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for fast.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("fast task ran %d times", fast.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if slow.Load() != 1 {
		t.Errorf("slow task ran %d times, want 1", slow.Load())
	}
}

func TestRunTaskRecordsStatus(t *testing.T) {
	s := New()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	boom := errors.New("boom")
	var gotNow time.Time
	_ = s.Add("sweep", time.Minute, func(_ context.Context, now time.Time) error {
		gotNow = now
		return boom
	})
	_ = s.Add("panics", time.Minute, func(context.Context, time.Time) error {
		panic("bad")
	})

	ctx := context.Background()
	if !s.RunTask(ctx, "sweep") || !s.RunTask(ctx, "panics") {
		t.Fatal("RunTask reported unknown task")
	}
	if s.RunTask(ctx, "missing") {
		t.Error("RunTask(missing) = true")
	}
	if !gotNow.Equal(fixed) {
		t.Errorf("task now = %s", gotNow)
	}

	st := s.Status()
	if len(st) != 2 || st[0].Name != "panics" || st[1].Name != "sweep" {
		t.Fatalf("Status = %+v", st)
	}
	if st[0].LastErr != "panic: bad" || st[1].LastErr != "boom" || st[1].Runs != 1 || !st[1].LastRun.Equal(fixed) {
		t.Errorf("Status = %+v", st)
	}
}

func TestAddValidation(t *testing.T) {
	s := New()
	if err := s.Add("zero", 0, func(context.Context, time.Time) error { return nil }); err == nil {
		t.Error("zero interval accepted")
	}
}
