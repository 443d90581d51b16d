package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/validation"
)

// MaxLineItems bounds a single invoice.
const MaxLineItems = 200

var maxTaxRate = decimal.NewFromInt(100)

// LineItemInput is one line of an invoice submission.
type LineItemInput struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// InvoiceInput is a typed invoice submission. A blank Number asks for the
// next number from the owner's sequence.
type InvoiceInput struct {
	Number        string
	ClientName    string
	ClientEmail   string
	ClientPhone   string
	ClientAddress string
	Currency      string
	TaxRate       decimal.Decimal
	IssueDate     time.Time
	DueDate       time.Time
	Notes         string
	Status        models.InvoiceStatus
	TemplateID    *uint
	Items         []LineItemInput
}

// Normalize trims text fields and applies defaults.
func (in *InvoiceInput) Normalize() {
	in.Number = strings.TrimSpace(in.Number)
	in.ClientName = strings.TrimSpace(in.ClientName)
	in.ClientEmail = strings.TrimSpace(in.ClientEmail)
	in.ClientPhone = strings.TrimSpace(in.ClientPhone)
	in.ClientAddress = strings.TrimSpace(in.ClientAddress)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Notes = strings.TrimSpace(in.Notes)
	if in.Status == "" {
		in.Status = models.InvoiceStatusDraft
	}
	for i := range in.Items {
		in.Items[i].Description = strings.TrimSpace(in.Items[i].Description)
	}
}

// Validate returns field violations keyed by form field name. Item fields
// are named items.N.description, items.N.quantity and items.N.unit_price.
func (in InvoiceInput) Validate() validation.Violations {
	v := validation.Violations{}
	validation.MaxLength("number", in.Number, 64, v)
	validation.Required("client_name", in.ClientName, v)
	validation.MaxLength("client_name", in.ClientName, 255, v)
	validation.Email("client_email", in.ClientEmail, v)
	validation.MaxLength("client_phone", in.ClientPhone, 50, v)
	validation.MaxLength("client_address", in.ClientAddress, 1000, v)
	validation.OneOf("currency", in.Currency, models.Currencies, v)
	validation.Range("tax_rate", in.TaxRate, decimal.Zero, maxTaxRate, v)
	validation.MaxPlaces("tax_rate", in.TaxRate, 2, v)
	if in.IssueDate.IsZero() {
		v.Add("issue_date", "required")
	}
	if in.DueDate.IsZero() {
		v.Add("due_date", "required")
	}
	if !in.IssueDate.IsZero() && !in.DueDate.IsZero() && models.DateOf(in.DueDate).Before(models.DateOf(in.IssueDate)) {
		v.Add("due_date", "due_before_issue")
	}
	validation.MaxLength("notes", in.Notes, 2000, v)
	if in.Status != "" && !in.Status.Valid() {
		v.Add("status", "invalid_choice")
	}
	if len(in.Items) == 0 {
		v.Add("items", "no_items")
	}
	validateItems(in.Items, v)
	return v
}

// DefaultInvoiceInput pre-fills a new invoice from the owner's profile.
func DefaultInvoiceInput(profile *models.UserProfile, today time.Time) InvoiceInput {
	return InvoiceInput{
		Currency:  profile.Currency,
		TaxRate:   profile.TaxRate,
		IssueDate: today,
		DueDate:   today.AddDate(0, 0, profile.DefaultDueDays),
		Status:    models.InvoiceStatusDraft,
		Items:     []LineItemInput{{Quantity: decimal.NewFromInt(1)}},
	}
}

// ListFilter selects a page of invoices.
type ListFilter struct {
	Status  models.InvoiceStatus
	Query   string
	Page    int
	PerPage int
}

// InvoicePage is one page of List results.
type InvoicePage struct {
	Invoices []models.Invoice
	Total    int64
	Page     int
	PerPage  int
}

// Pages is the number of pages for Total.
func (p InvoicePage) Pages() int {
	if p.PerPage == 0 {
		return 0
	}
	return int((p.Total + int64(p.PerPage) - 1) / int64(p.PerPage))
}

// InvoiceService implements invoice persistence. Every query is scoped to
// the owning user.
type InvoiceService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewInvoiceService(db *gorm.DB) *InvoiceService {
	return &InvoiceService{db: db, now: time.Now}
}

// origin links a generated invoice to its recurring definition.
type origin struct {
	recurringID uint
	period      time.Time
}

// Create validates in and stores the invoice and its items atomically.
func (s *InvoiceService) Create(ctx context.Context, userID uint, in InvoiceInput) (*models.Invoice, error) {
	in.Normalize()
	if err := Invalid(in.Validate()); err != nil {
		return nil, err
	}
	var inv *models.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = createInvoiceTx(tx, userID, in, nil, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// createInvoiceTx inserts one invoice and its items inside tx.
func createInvoiceTx(tx *gorm.DB, userID uint, in InvoiceInput, from *origin, now time.Time) (*models.Invoice, error) {
	number := in.Number
	if number == "" {
		var err error
		if number, err = allocateNumberTx(tx, userID); err != nil {
			return nil, err
		}
	}

	inv := &models.Invoice{
		UserID:        userID,
		Number:        number,
		ClientName:    in.ClientName,
		ClientEmail:   in.ClientEmail,
		ClientPhone:   in.ClientPhone,
		ClientAddress: in.ClientAddress,
		Currency:      in.Currency,
		TaxRate:       in.TaxRate,
		Status:        in.Status,
		IssueDate:     models.DateOf(in.IssueDate),
		DueDate:       models.DateOf(in.DueDate),
		Notes:         in.Notes,
		TemplateID:    in.TemplateID,
		Items:         buildItems(in.Items),
	}
	if inv.Status == models.InvoiceStatusPaid {
		paid := now.UTC()
		inv.PaidAt = &paid
	}
	if from != nil {
		period := models.DateOf(from.period)
		inv.RecurringInvoiceID = &from.recurringID
		inv.RecurringPeriod = &period
	}
	inv.Recalculate()

	if err := tx.Omit(clause.Associations).Create(inv).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if from != nil {
				return nil, ErrPeriodGenerated
			}
			return nil, ErrNumberTaken
		}
		return nil, fmt.Errorf("insert invoice: %w", err)
	}
	if err := insertItemsTx(tx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func buildItems(in []LineItemInput) []models.LineItem {
	items := make([]models.LineItem, 0, len(in))
	for i, it := range in {
		items = append(items, models.LineItem{
			Position:    i + 1,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return items
}

func insertItemsTx(tx *gorm.DB, inv *models.Invoice) error {
	if len(inv.Items) == 0 {
		return nil
	}
	for i := range inv.Items {
		inv.Items[i].ID = 0
		inv.Items[i].InvoiceID = inv.ID
	}
	if err := tx.Create(&inv.Items).Error; err != nil {
		return fmt.Errorf("insert line items: %w", err)
	}
	return nil
}

// allocateNumberTx takes the next free number from the owner's sequence.
// The sequence is advanced with a compare-and-swap so concurrent creators
// never share a number; numbers already taken by hand are skipped.
func allocateNumberTx(tx *gorm.DB, userID uint) (string, error) {
	profile, err := profileTx(tx, userID)
	if err != nil {
		return "", err
	}
	for range 1000 {
		seq := profile.NextInvoiceNumber
		res := tx.Model(&models.UserProfile{}).
			Where("id = ? AND next_invoice_number = ?", profile.ID, seq).
			UpdateColumn("next_invoice_number", seq+1)
		if res.Error != nil {
			return "", fmt.Errorf("advance invoice sequence: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			if err := tx.First(profile, profile.ID).Error; err != nil {
				return "", err
			}
			continue
		}
		profile.NextInvoiceNumber = seq + 1

		number := profile.FormatNumber(seq)
		var used int64
		if err := tx.Model(&models.Invoice{}).Where("user_id = ? AND number = ?", userID, number).Count(&used).Error; err != nil {
			return "", err
		}
		if used == 0 {
			return number, nil
		}
	}
	return "", errors.New("could not allocate an invoice number")
}

// Update replaces the invoice fields and its whole item batch atomically.
func (s *InvoiceService) Update(ctx context.Context, userID, id uint, in InvoiceInput) (*models.Invoice, error) {
	in.Normalize()
	if err := Invalid(in.Validate()); err != nil {
		return nil, err
	}
	var inv models.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&inv).Error; err != nil {
			return notFound(err)
		}
		if !inv.CanEdit() {
			return ErrInvoiceLocked
		}
		if in.Number != "" {
			inv.Number = in.Number
		}
		inv.ClientName = in.ClientName
		inv.ClientEmail = in.ClientEmail
		inv.ClientPhone = in.ClientPhone
		inv.ClientAddress = in.ClientAddress
		inv.Currency = in.Currency
		inv.TaxRate = in.TaxRate
		inv.IssueDate = models.DateOf(in.IssueDate)
		inv.DueDate = models.DateOf(in.DueDate)
		inv.Notes = in.Notes
		applyStatus(&inv, in.Status, s.now())
		inv.Items = buildItems(in.Items)
		inv.Recalculate()

		if err := tx.Omit(clause.Associations).Save(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrNumberTaken
			}
			return fmt.Errorf("update invoice: %w", err)
		}
		if err := tx.Where("invoice_id = ?", inv.ID).Delete(&models.LineItem{}).Error; err != nil {
			return fmt.Errorf("delete line items: %w", err)
		}
		return insertItemsTx(tx, &inv)
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func applyStatus(inv *models.Invoice, status models.InvoiceStatus, now time.Time) {
	if status == "" || status == inv.Status {
		return
	}
	inv.Status = status
	if status == models.InvoiceStatusPaid {
		paid := now.UTC()
		inv.PaidAt = &paid
	} else {
		inv.PaidAt = nil
	}
}

// Delete removes the invoice and its items. Email jobs keep their soft
// reference to the deleted id.
func (s *InvoiceService) Delete(ctx context.Context, userID, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv models.Invoice
		if err := tx.Select("id").Where("id = ? AND user_id = ?", id, userID).First(&inv).Error; err != nil {
			return notFound(err)
		}
		if err := tx.Where("invoice_id = ?", inv.ID).Delete(&models.LineItem{}).Error; err != nil {
			return fmt.Errorf("delete line items: %w", err)
		}
		if err := tx.Delete(&models.Invoice{}, inv.ID).Error; err != nil {
			return fmt.Errorf("delete invoice: %w", err)
		}
		return nil
	})
}

// Get loads an invoice with its items in two queries, whatever the number
// of items.
func (s *InvoiceService) Get(ctx context.Context, userID, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).
		Preload("Items", orderedItems).
		Where("id = ? AND user_id = ?", id, userID).
		First(&inv).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

// GetByShareToken loads a shared invoice for the public page.
func (s *InvoiceService) GetByShareToken(ctx context.Context, token string) (*models.Invoice, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, ErrNotFound
	}
	var inv models.Invoice
	err := s.db.WithContext(ctx).
		Preload("Items", orderedItems).
		Where("share_token = ?", token).
		First(&inv).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

// GetMany loads several invoices with items, still in two queries.
func (s *InvoiceService) GetMany(ctx context.Context, userID uint, ids []uint) ([]models.Invoice, error) {
	var invs []models.Invoice
	q := s.db.WithContext(ctx).Preload("Items", orderedItems).Where("user_id = ?", userID)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	err := q.Order("issue_date DESC, id DESC").Find(&invs).Error
	return invs, err
}

func orderedItems(db *gorm.DB) *gorm.DB { return db.Order("position") }

// List returns a page of the user's invoices, newest first.
func (s *InvoiceService) List(ctx context.Context, userID uint, f ListFilter) (InvoicePage, error) {
	if f.PerPage <= 0 || f.PerPage > 100 {
		f.PerPage = 20
	}
	if f.Page < 1 {
		f.Page = 1
	}
	page := InvoicePage{Page: f.Page, PerPage: f.PerPage}

	q := s.db.WithContext(ctx).Model(&models.Invoice{}).Where("user_id = ?", userID)
	if f.Status != "" && f.Status.Valid() {
		q = q.Where("status = ?", f.Status)
	}
	if term := strings.ToLower(strings.TrimSpace(f.Query)); term != "" {
		like := "%" + escapeLike(term) + "%"
		q = q.Where("(LOWER(number) LIKE ? ESCAPE '\\' OR LOWER(client_name) LIKE ? ESCAPE '\\')", like, like)
	}
	if err := q.Count(&page.Total).Error; err != nil {
		return page, err
	}
	err := q.Order("issue_date DESC, id DESC").
		Limit(f.PerPage).
		Offset((f.Page - 1) * f.PerPage).
		Find(&page.Invoices).Error
	return page, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// SetStatus moves an invoice to status, maintaining PaidAt.
func (s *InvoiceService) SetStatus(ctx context.Context, userID, id uint, status models.InvoiceStatus) error {
	if !status.Valid() {
		return Invalid(validation.Violations{"status": "invalid_choice"})
	}
	now := s.now().UTC()
	updates := map[string]any{"status": status, "updated_at": now, "paid_at": nil}
	if status == models.InvoiceStatusPaid {
		updates["paid_at"] = now
	}
	res := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND user_id = ?", id, userID).
		UpdateColumns(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSent records a successful delivery and moves drafts to unpaid.
func (s *InvoiceService) MarkSent(ctx context.Context, userID, id uint, at time.Time) error {
	at = at.UTC()
	res := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND user_id = ?", id, userID).
		UpdateColumns(map[string]any{
			"sent_at":    at,
			"updated_at": at,
			"status":     gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END", models.InvoiceStatusDraft, models.InvoiceStatusUnpaid),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkOverdue flips unpaid invoices whose due date has passed in their
// owner's time zone to overdue and returns them.
func (s *InvoiceService) MarkOverdue(ctx context.Context, now time.Time) ([]models.Invoice, error) {
	// No time zone is more than a day ahead of UTC.
	horizon := models.DateOf(now.UTC()).AddDate(0, 0, 1)
	var flipped []models.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []models.Invoice
		if err := tx.Where("status = ? AND due_date < ?", models.InvoiceStatusUnpaid, horizon).
			Order("user_id, due_date").
			Find(&candidates).Error; err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}
		profiles, err := profilesFor(tx, candidates)
		if err != nil {
			return err
		}
		var ids []uint
		for _, inv := range candidates {
			p := profiles[inv.UserID]
			if inv.IsPastDue(p.Today(now)) {
				ids = append(ids, inv.ID)
				inv.Status = models.InvoiceStatusOverdue
				flipped = append(flipped, inv)
			}
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&models.Invoice{}).
			Where("id IN ? AND status = ?", ids, models.InvoiceStatusUnpaid).
			UpdateColumns(map[string]any{"status": models.InvoiceStatusOverdue, "updated_at": now.UTC()}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("mark overdue: %w", err)
	}
	return flipped, nil
}

func profilesFor(tx *gorm.DB, invs []models.Invoice) (map[uint]*models.UserProfile, error) {
	seen := map[uint]bool{}
	var userIDs []uint
	for _, inv := range invs {
		if !seen[inv.UserID] {
			seen[inv.UserID] = true
			userIDs = append(userIDs, inv.UserID)
		}
	}
	var rows []models.UserProfile
	if err := tx.Where("user_id IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uint]*models.UserProfile, len(userIDs))
	for i := range rows {
		out[rows[i].UserID] = &rows[i]
	}
	for _, id := range userIDs {
		if out[id] == nil {
			p := models.NewUserProfile(id)
			out[id] = &p
		}
	}
	return out, nil
}

// EnsureShareToken returns the invoice's public token, creating it once.
func (s *InvoiceService) EnsureShareToken(ctx context.Context, userID, id uint) (string, error) {
	db := s.db.WithContext(ctx)
	var inv models.Invoice
	if err := db.Select("id", "share_token").Where("id = ? AND user_id = ?", id, userID).First(&inv).Error; err != nil {
		return "", notFound(err)
	}
	if inv.ShareToken != nil {
		return *inv.ShareToken, nil
	}
	token := uuid.NewString()
	res := db.Model(&models.Invoice{}).
		Where("id = ? AND share_token IS NULL", id).
		UpdateColumn("share_token", token)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		// Lost a race; use the winner's token.
		if err := db.Select("share_token").First(&inv, id).Error; err != nil {
			return "", err
		}
		return *inv.ShareToken, nil
	}
	return token, nil
}

// CountIssuedSince counts invoices created by userID since t.
func (s *InvoiceService) CountIssuedSince(ctx context.Context, userID uint, t time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("user_id = ? AND created_at >= ?", userID, t).
		Count(&n).Error
	return n, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
