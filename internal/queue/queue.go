// Package queue is a database backed outbox for outbound email. Jobs are
// claimed with conditional updates, so several workers may poll the same
// table. Delivery is at-least-once.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/internal/models"
)

// ErrNoJob is returned when a job does not exist or is not in the state the
// operation requires.
var ErrNoJob = errors.New("queue: job not found")

// Options tune retry behaviour.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	LockTimeout time.Duration
}

// DefaultOptions mirror the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 6,
		BackoffBase: 30 * time.Second,
		BackoffMax:  time.Hour,
		LockTimeout: 5 * time.Minute,
	}
}

// Queue reads and writes email_jobs rows.
type Queue struct {
	db   *gorm.DB
	opts Options
	now  func() time.Time
}

// New creates a Queue. Zero option fields take their defaults.
func New(db *gorm.DB, opts Options) *Queue {
	def := DefaultOptions()
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = def.BackoffBase
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = def.BackoffMax
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = def.LockTimeout
	}
	return &Queue{db: db, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the time source. Tests only.
func (q *Queue) SetClock(now func() time.Time) { q.now = now }

// Message describes a job to enqueue.
type Message struct {
	Kind      string
	UserID    uint
	InvoiceID *uint
	Recipient string
	// Payload is stored as JSON and handed back to the handler.
	Payload any
	Delay   time.Duration
}

// Enqueue stores a new pending job.
func (q *Queue) Enqueue(ctx context.Context, msg Message) (*models.EmailJob, error) {
	return q.EnqueueTx(q.db.WithContext(ctx), msg)
}

// EnqueueTx stores a new pending job using tx, so the job commits or rolls
// back together with the caller's other writes.
func (q *Queue) EnqueueTx(tx *gorm.DB, msg Message) (*models.EmailJob, error) {
	if msg.Kind == "" || msg.Recipient == "" || msg.UserID == 0 {
		return nil, errors.New("queue: kind, recipient and user are required")
	}
	job := &models.EmailJob{
		Key:           uuid.NewString(),
		Kind:          msg.Kind,
		UserID:        msg.UserID,
		InvoiceID:     msg.InvoiceID,
		Recipient:     msg.Recipient,
		Status:        models.JobPending,
		NextAttemptAt: q.now().Add(msg.Delay),
		MaxAttempts:   q.opts.MaxAttempts,
	}
	if msg.Payload != nil {
		b, err := json.Marshal(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("queue: encode payload: %w", err)
		}
		job.Payload = datatypes.JSON(b)
	}
	if err := tx.Create(job).Error; err != nil {
		return nil, fmt.Errorf("queue: enqueue: %w", err)
	}
	return job, nil
}

// Claim locks up to limit due jobs for this worker. A job is due when it is
// pending and its next attempt time has passed, or when it is running but
// its lock expired (the previous worker died). Each claim increments
// Attempts.
func (q *Queue) Claim(ctx context.Context, limit int) ([]models.EmailJob, error) {
	if limit < 1 {
		limit = 1
	}
	now := q.now()
	db := q.db.WithContext(ctx)

	var ids []uint
	err := db.Model(&models.EmailJob{}).
		Where(dueClause, models.JobPending, now, models.JobRunning, now).
		Order("next_attempt_at").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("queue: select due jobs: %w", err)
	}

	claimed := make([]uint, 0, len(ids))
	lockedUntil := now.Add(q.opts.LockTimeout)
	for _, id := range ids {
		res := db.Model(&models.EmailJob{}).
			Where("id = ?", id).
			Where(dueClause, models.JobPending, now, models.JobRunning, now).
			Updates(map[string]any{
				"status":       models.JobRunning,
				"locked_until": lockedUntil,
				"attempts":     gorm.Expr("attempts + 1"),
				"updated_at":   now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("queue: claim job %d: %w", id, res.Error)
		}
		if res.RowsAffected == 1 {
			claimed = append(claimed, id)
		}
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	var jobs []models.EmailJob
	if err := db.Where("id IN ?", claimed).Order("next_attempt_at").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("queue: load claimed jobs: %w", err)
	}
	return jobs, nil
}

const dueClause = "((status = ? AND next_attempt_at <= ?) OR (status = ? AND locked_until < ?))"

// ownedBy matches the claim a worker holds. A worker whose lock expired and
// whose job was re-claimed elsewhere no longer matches.
func ownedBy(db *gorm.DB, job *models.EmailJob) *gorm.DB {
	return db.Model(&models.EmailJob{}).
		Where("id = ? AND status = ? AND attempts = ?", job.ID, models.JobRunning, job.Attempts)
}

// ErrLockLost is returned by Complete and Fail when another worker
// re-claimed the job in the meantime.
var ErrLockLost = errors.New("queue: job lock lost")

// Complete marks a claimed job sent.
func (q *Queue) Complete(ctx context.Context, job *models.EmailJob) error {
	now := q.now()
	res := ownedBy(q.db.WithContext(ctx), job).Updates(map[string]any{
		"status":       models.JobSent,
		"sent_at":      now,
		"locked_until": nil,
		"last_error":   "",
		"updated_at":   now,
	})
	if res.Error != nil {
		return fmt.Errorf("queue: complete job %d: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLockLost
	}
	job.Status = models.JobSent
	job.SentAt = &now
	job.LockedUntil = nil
	return nil
}

const maxErrorText = 2000

// errorText is cause as stored in last_error: at most maxErrorText bytes of
// valid UTF-8.
func errorText(cause error) string {
	if cause == nil {
		return ""
	}
	msg := cause.Error()
	if len(msg) > maxErrorText {
		msg = msg[:maxErrorText]
	}
	return strings.ToValidUTF8(msg, "")
}

// Fail records a failed attempt. Permanent errors and jobs out of attempts
// go to the dead state; anything else is rescheduled with backoff.
// It returns the resulting status.
func (q *Queue) Fail(ctx context.Context, job *models.EmailJob, cause error) (models.JobStatus, error) {
	now := q.now()
	msg := errorText(cause)

	updates := map[string]any{
		"locked_until": nil,
		"last_error":   msg,
		"updated_at":   now,
	}
	status := models.JobPending
	if IsPermanent(cause) || job.Attempts >= job.MaxAttempts {
		status = models.JobDead
	} else {
		delay := Backoff(q.opts.BackoffBase, q.opts.BackoffMax, job.Attempts)
		if hint := retryAfter(cause); hint > delay {
			delay = hint
		}
		updates["next_attempt_at"] = now.Add(delay)
		job.NextAttemptAt = now.Add(delay)
	}
	updates["status"] = status

	res := ownedBy(q.db.WithContext(ctx), job).Updates(updates)
	if res.Error != nil {
		return "", fmt.Errorf("queue: fail job %d: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return "", ErrLockLost
	}
	job.Status = status
	job.LastError = msg
	job.LockedUntil = nil
	return status, nil
}

// Retry moves a dead job owned by userID back to pending with a fresh
// attempt budget.
func (q *Queue) Retry(ctx context.Context, userID, id uint) error {
	now := q.now()
	res := q.db.WithContext(ctx).Model(&models.EmailJob{}).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, models.JobDead).
		Updates(map[string]any{
			"status":          models.JobPending,
			"attempts":        0,
			"next_attempt_at": now,
			"updated_at":      now,
		})
	if res.Error != nil {
		return fmt.Errorf("queue: retry job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNoJob
	}
	return nil
}

// Get loads a job owned by userID.
func (q *Queue) Get(ctx context.Context, userID, id uint) (*models.EmailJob, error) {
	var job models.EmailJob
	err := q.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Recent lists a user's latest jobs, newest first.
func (q *Queue) Recent(ctx context.Context, userID uint, limit int) ([]models.EmailJob, error) {
	var jobs []models.EmailJob
	err := q.db.WithContext(ctx).
		Omit("payload").
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// Stats counts jobs per status across all users.
func (q *Queue) Stats(ctx context.Context) (map[models.JobStatus]int64, error) {
	var rows []struct {
		Status models.JobStatus
		N      int64
	}
	err := q.db.WithContext(ctx).Model(&models.EmailJob{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[models.JobStatus]int64{
		models.JobPending: 0, models.JobRunning: 0, models.JobSent: 0, models.JobDead: 0,
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
