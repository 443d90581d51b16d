package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/queue"
	"github.com/diewo77/invoiceflow/validation"
)

// MaxCatchUp bounds how many missed periods one run generates per
// definition. The rest follow on later runs.
const MaxCatchUp = 12

// ErrPeriodGenerated is returned when an invoice already exists for a
// recurring definition and period.
var ErrPeriodGenerated = errors.New("invoice already generated for this period")

var errClaimLost = errors.New("recurring period claimed elsewhere")

// RecurringInput is the recurring invoice form.
type RecurringInput struct {
	Name          string
	ClientName    string
	ClientEmail   string
	ClientPhone   string
	ClientAddress string
	Currency      string
	TaxRate       decimal.Decimal
	Notes         string
	DueDays       int
	Frequency     models.Frequency
	StartDate     time.Time
	EndDate       *time.Time
	Active        bool
	AutoSend      bool
	Items         []LineItemInput
}

func (in *RecurringInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.ClientName = strings.TrimSpace(in.ClientName)
	in.ClientEmail = strings.TrimSpace(in.ClientEmail)
	in.ClientPhone = strings.TrimSpace(in.ClientPhone)
	in.ClientAddress = strings.TrimSpace(in.ClientAddress)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Notes = strings.TrimSpace(in.Notes)
	in.StartDate = models.DateOf(in.StartDate)
	if in.EndDate != nil {
		end := models.DateOf(*in.EndDate)
		in.EndDate = &end
	}
	for i := range in.Items {
		in.Items[i].Description = strings.TrimSpace(in.Items[i].Description)
	}
}

// Validate checks the recurring form.
func (in RecurringInput) Validate() validation.Violations {
	v := validation.Violations{}
	validation.Required("name", in.Name, v)
	validation.MaxLength("name", in.Name, 120, v)
	validation.Required("client_name", in.ClientName, v)
	validation.MaxLength("client_name", in.ClientName, 255, v)
	validation.Email("client_email", in.ClientEmail, v)
	if in.AutoSend {
		validation.Required("client_email", in.ClientEmail, v)
	}
	validation.OneOf("currency", in.Currency, models.Currencies, v)
	validation.Range("tax_rate", in.TaxRate, decimal.Zero, maxTaxRate, v)
	validation.MaxPlaces("tax_rate", in.TaxRate, 2, v)
	validation.MaxLength("notes", in.Notes, 2000, v)
	if in.DueDays < 0 || in.DueDays > 365 {
		v.Add("due_days", "out_of_range")
	}
	if !in.Frequency.Valid() {
		v.Add("frequency", "invalid_choice")
	}
	if in.StartDate.IsZero() {
		v.Add("start_date", "required")
	}
	if in.EndDate != nil && !in.StartDate.IsZero() && in.EndDate.Before(in.StartDate) {
		v.Add("end_date", "out_of_range")
	}
	if len(in.Items) == 0 {
		v.Add("items", "no_items")
	}
	validateItems(in.Items, v)
	return v
}

// RunResult summarises one RunDue pass.
type RunResult struct {
	Generated   int
	Skipped     int
	Deactivated int
	Failed      int
}

// RecurringService manages recurring definitions and generates their
// invoices.
type RecurringService struct {
	db    *gorm.DB
	queue *queue.Queue
	log   *zap.Logger
}

func NewRecurringService(db *gorm.DB, q *queue.Queue) *RecurringService {
	return &RecurringService{db: db, queue: q, log: zap.L().Named("recurring")}
}

// List returns the user's definitions with items.
func (s *RecurringService) List(ctx context.Context, userID uint) ([]models.RecurringInvoice, error) {
	var out []models.RecurringInvoice
	err := s.db.WithContext(ctx).
		Preload("Items", orderedItems).
		Where("user_id = ?", userID).
		Order("active DESC, next_run_date, id").
		Find(&out).Error
	return out, err
}

// Get loads one definition with items.
func (s *RecurringService) Get(ctx context.Context, userID, id uint) (*models.RecurringInvoice, error) {
	var r models.RecurringInvoice
	err := s.db.WithContext(ctx).
		Preload("Items", orderedItems).
		Where("id = ? AND user_id = ?", id, userID).
		First(&r).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// Create stores a definition; its first period is StartDate.
func (s *RecurringService) Create(ctx context.Context, userID uint, in RecurringInput) (*models.RecurringInvoice, error) {
	in.normalize()
	if err := Invalid(in.Validate()); err != nil {
		return nil, err
	}
	r := &models.RecurringInvoice{UserID: userID, NextRunDate: in.StartDate}
	fillRecurring(r, in)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(r).Error; err != nil {
			return fmt.Errorf("create recurring: %w", err)
		}
		return insertRecurringItemsTx(tx, r, in.Items)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Update overwrites a definition and its items. The schedule restarts from
// StartDate only while nothing has been generated yet.
func (s *RecurringService) Update(ctx context.Context, userID, id uint, in RecurringInput) (*models.RecurringInvoice, error) {
	in.normalize()
	if err := Invalid(in.Validate()); err != nil {
		return nil, err
	}
	var r models.RecurringInvoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&r).Error; err != nil {
			return notFound(err)
		}
		if r.GeneratedCount == 0 {
			r.NextRunDate = in.StartDate
		}
		fillRecurring(&r, in)
		if err := tx.Omit(clause.Associations).Save(&r).Error; err != nil {
			return fmt.Errorf("update recurring: %w", err)
		}
		if err := tx.Where("recurring_invoice_id = ?", r.ID).Delete(&models.RecurringItem{}).Error; err != nil {
			return err
		}
		return insertRecurringItemsTx(tx, &r, in.Items)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func fillRecurring(r *models.RecurringInvoice, in RecurringInput) {
	r.Name = in.Name
	r.ClientName = in.ClientName
	r.ClientEmail = in.ClientEmail
	r.ClientPhone = in.ClientPhone
	r.ClientAddress = in.ClientAddress
	r.Currency = in.Currency
	r.TaxRate = in.TaxRate
	r.Notes = in.Notes
	r.DueDays = in.DueDays
	r.Frequency = in.Frequency
	r.StartDate = in.StartDate
	r.EndDate = in.EndDate
	r.Active = in.Active
	r.AutoSend = in.AutoSend
}

func insertRecurringItemsTx(tx *gorm.DB, r *models.RecurringInvoice, in []LineItemInput) error {
	r.Items = make([]models.RecurringItem, 0, len(in))
	for i, it := range in {
		r.Items = append(r.Items, models.RecurringItem{
			RecurringInvoiceID: r.ID,
			Position:           i + 1,
			Description:        it.Description,
			Quantity:           it.Quantity,
			UnitPrice:          it.UnitPrice,
		})
	}
	if len(r.Items) == 0 {
		return nil
	}
	return tx.Create(&r.Items).Error
}

// Delete removes a definition. Invoices it generated stay.
func (s *RecurringService) Delete(ctx context.Context, userID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r models.RecurringInvoice
		if err := tx.Select("id").Where("id = ? AND user_id = ?", id, userID).First(&r).Error; err != nil {
			return notFound(err)
		}
		if err := tx.Where("recurring_invoice_id = ?", r.ID).Delete(&models.RecurringItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.RecurringInvoice{}, r.ID).Error
	})
}

// SetActive pauses or resumes a definition.
func (s *RecurringService) SetActive(ctx context.Context, userID, id uint, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.RecurringInvoice{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RunDue generates the invoices of every active definition whose next
// period has arrived in the owner's time zone. Each period is claimed by
// advancing next_run_date with a compare-and-swap inside the same
// transaction that creates the invoice, so concurrent or repeated runs
// produce one invoice per period.
func (s *RecurringService) RunDue(ctx context.Context, now time.Time) (RunResult, error) {
	var res RunResult
	horizon := models.DateOf(now.UTC()).AddDate(0, 0, 1)

	var due []models.RecurringInvoice
	err := s.db.WithContext(ctx).
		Preload("Items", orderedItems).
		Where("active = ? AND next_run_date <= ?", true, horizon).
		Order("next_run_date, id").
		Find(&due).Error
	if err != nil {
		return res, fmt.Errorf("select due recurring: %w", err)
	}

	profiles := map[uint]*models.UserProfile{}
	for i := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r := &due[i]
		p, ok := profiles[r.UserID]
		if !ok {
			if p, err = s.profile(ctx, r.UserID); err != nil {
				return res, err
			}
			profiles[r.UserID] = p
		}
		s.runOne(ctx, r, p.Today(now), now, &res)
	}
	return res, nil
}

func (s *RecurringService) profile(ctx context.Context, userID uint) (*models.UserProfile, error) {
	return profileTx(s.db.WithContext(ctx), userID)
}

func (s *RecurringService) runOne(ctx context.Context, r *models.RecurringInvoice, today, now time.Time, res *RunResult) {
	log := s.log.With(zap.Uint("recurring_id", r.ID), zap.Uint("user_id", r.UserID))
	for n := 0; n < MaxCatchUp && !r.NextRunDate.After(today); n++ {
		period := models.DateOf(r.NextRunDate)
		if r.Ended(period) {
			break
		}
		next := r.NextAfter(period)
		inv, err := s.generate(ctx, r, period, next, now)
		switch {
		case errors.Is(err, errClaimLost):
			res.Skipped++
			return
		case err != nil:
			res.Failed++
			log.Error("generate recurring invoice", zap.Time("period", period), zap.Error(err))
			return
		}
		r.NextRunDate = next
		r.GeneratedCount++
		if inv == nil {
			res.Skipped++
			continue
		}
		res.Generated++
		log.Info("recurring invoice generated", zap.Uint("invoice_id", inv.ID), zap.String("number", inv.Number), zap.Time("period", period))
	}
	if r.Ended(r.NextRunDate) {
		if err := s.deactivate(ctx, r); err != nil {
			log.Error("deactivate recurring", zap.Error(err))
			return
		}
		res.Deactivated++
	}
}

// generate claims period and creates its invoice. A nil invoice with a nil
// error means the period already had one.
func (s *RecurringService) generate(ctx context.Context, r *models.RecurringInvoice, period, next, now time.Time) (*models.Invoice, error) {
	var inv *models.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := tx.Model(&models.RecurringInvoice{}).
			Where("id = ? AND next_run_date = ? AND active = ?", r.ID, period, true).
			UpdateColumns(map[string]any{
				"next_run_date":   next,
				"last_run_at":     now.UTC(),
				"generated_count": gorm.Expr("generated_count + 1"),
				"updated_at":      now.UTC(),
			})
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			return errClaimLost
		}

		var existing int64
		if err := tx.Model(&models.Invoice{}).
			Where("recurring_invoice_id = ? AND recurring_period = ?", r.ID, period).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}

		var err error
		inv, err = createInvoiceTx(tx, r.UserID, periodInput(r, period), &origin{recurringID: r.ID, period: period}, now)
		if err != nil {
			return err
		}
		if r.AutoSend && r.ClientEmail != "" && s.queue != nil {
			if _, err := s.queue.EnqueueTx(tx, queue.Message{
				Kind:      models.JobKindInvoice,
				UserID:    r.UserID,
				InvoiceID: &inv.ID,
				Recipient: r.ClientEmail,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func periodInput(r *models.RecurringInvoice, period time.Time) InvoiceInput {
	in := InvoiceInput{
		ClientName:    r.ClientName,
		ClientEmail:   r.ClientEmail,
		ClientPhone:   r.ClientPhone,
		ClientAddress: r.ClientAddress,
		Currency:      r.Currency,
		TaxRate:       r.TaxRate,
		IssueDate:     period,
		DueDate:       period.AddDate(0, 0, r.DueDays),
		Notes:         r.Notes,
		Status:        models.InvoiceStatusDraft,
	}
	for _, it := range r.Items {
		in.Items = append(in.Items, LineItemInput{Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return in
}

func (s *RecurringService) deactivate(ctx context.Context, r *models.RecurringInvoice) error {
	r.Active = false
	return s.db.WithContext(ctx).Model(&models.RecurringInvoice{}).
		Where("id = ?", r.ID).
		UpdateColumn("active", false).Error
}
