package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/diewo77/invoiceflow/internal/models"
)

// Handler processes one claimed job. Returning nil marks it sent; errors
// wrapped with Permanent dead-letter it; other errors schedule a retry.
type Handler interface {
	Handle(ctx context.Context, job *models.EmailJob) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *models.EmailJob) error

func (f HandlerFunc) Handle(ctx context.Context, job *models.EmailJob) error { return f(ctx, job) }

// WorkerOptions tune polling.
type WorkerOptions struct {
	Concurrency  int
	BatchSize    int
	PollInterval time.Duration
	// JobTimeout bounds a single Handle call.
	JobTimeout time.Duration
}

// Worker polls the queue and runs handlers with bounded concurrency.
type Worker struct {
	queue   *Queue
	handler Handler
	opts    WorkerOptions
	log     *zap.Logger
}

// NewWorker creates a Worker.
func NewWorker(q *Queue, h Handler, opts WorkerOptions) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = opts.Concurrency
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = time.Minute
	}
	return &Worker{queue: q, handler: h, opts: opts, log: zap.L().Named("queue")}
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another poll so a backlog drains without waiting for the ticker.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started",
		zap.Int("concurrency", w.opts.Concurrency),
		zap.Duration("poll_interval", w.opts.PollInterval),
	)
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		n, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Error("poll failed", zap.Error(err))
		}
		if n >= w.opts.BatchSize && ctx.Err() == nil {
			continue
		}
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch, processes it and returns the number of jobs
// handled.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	jobs, err := w.queue.Claim(ctx, w.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(w.opts.Concurrency)
	for i := range jobs {
		job := &jobs[i]
		g.Go(func() error {
			w.process(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return len(jobs), nil
}

func (w *Worker) process(ctx context.Context, job *models.EmailJob) {
	fields := []zap.Field{
		zap.Uint("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Int("attempt", job.Attempts),
	}
	jobCtx, cancel := context.WithTimeout(ctx, w.opts.JobTimeout)
	err := w.handler.Handle(jobCtx, job)
	cancel()

	// Bookkeeping must survive shutdown of the parent context.
	bctx, bcancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer bcancel()

	if err == nil {
		if cerr := w.queue.Complete(bctx, job); cerr != nil {
			w.log.Error("complete job", append(fields, zap.Error(cerr))...)
			return
		}
		w.log.Info("job sent", fields...)
		return
	}

	status, ferr := w.queue.Fail(bctx, job, err)
	switch {
	case errors.Is(ferr, ErrLockLost):
		w.log.Warn("job lock lost", append(fields, zap.Error(err))...)
	case ferr != nil:
		w.log.Error("record job failure", append(fields, zap.Error(ferr))...)
	case status == models.JobDead:
		w.log.Error("job dead-lettered", append(fields, zap.Error(err))...)
	default:
		w.log.Warn("job failed, retry scheduled",
			append(fields, zap.Error(err), zap.Time("next_attempt_at", job.NextAttemptAt))...)
	}
}
