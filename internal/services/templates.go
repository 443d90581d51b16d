package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/validation"
)

// TemplateInput is the invoice template form. Items are optional.
type TemplateInput struct {
	Name          string
	ClientName    string
	ClientEmail   string
	ClientPhone   string
	ClientAddress string
	Currency      string
	TaxRate       decimal.Decimal
	Notes         string
	DueDays       int
	Items         []LineItemInput
}

func (in *TemplateInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.ClientName = strings.TrimSpace(in.ClientName)
	in.ClientEmail = strings.TrimSpace(in.ClientEmail)
	in.ClientPhone = strings.TrimSpace(in.ClientPhone)
	in.ClientAddress = strings.TrimSpace(in.ClientAddress)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Notes = strings.TrimSpace(in.Notes)
	kept := in.Items[:0]
	for _, it := range in.Items {
		it.Description = strings.TrimSpace(it.Description)
		if it.Description == "" && it.UnitPrice.IsZero() {
			continue
		}
		kept = append(kept, it)
	}
	in.Items = kept
}

// Validate checks the template form.
func (in TemplateInput) Validate() validation.Violations {
	v := validation.Violations{}
	validation.Required("name", in.Name, v)
	validation.MaxLength("name", in.Name, 120, v)
	validation.MaxLength("client_name", in.ClientName, 255, v)
	validation.Email("client_email", in.ClientEmail, v)
	validation.OneOf("currency", in.Currency, models.Currencies, v)
	validation.Range("tax_rate", in.TaxRate, decimal.Zero, maxTaxRate, v)
	validation.MaxPlaces("tax_rate", in.TaxRate, 2, v)
	validation.MaxLength("notes", in.Notes, 2000, v)
	if in.DueDays < 0 || in.DueDays > 365 {
		v.Add("due_days", "out_of_range")
	}
	validateItems(in.Items, v)
	return v
}

func validateItems(items []LineItemInput, v validation.Violations) {
	if len(items) > MaxLineItems {
		v.Add("items", "too_long")
	}
	for i, it := range items {
		prefix := "items." + strconv.Itoa(i) + "."
		validation.Required(prefix+"description", it.Description, v)
		validation.MaxLength(prefix+"description", it.Description, 500, v)
		validation.Positive(prefix+"quantity", it.Quantity, v)
		validation.MaxPlaces(prefix+"quantity", it.Quantity, 2, v)
		validation.NonNegative(prefix+"unit_price", it.UnitPrice, v)
		validation.MaxPlaces(prefix+"unit_price", it.UnitPrice, 2, v)
	}
}

// TemplateService manages invoice templates.
type TemplateService struct {
	db *gorm.DB
}

func NewTemplateService(db *gorm.DB) *TemplateService { return &TemplateService{db: db} }

// List returns the user's templates by name.
func (s *TemplateService) List(ctx context.Context, userID uint) ([]models.InvoiceTemplate, error) {
	var out []models.InvoiceTemplate
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("name").Find(&out).Error
	return out, err
}

// Get loads one template.
func (s *TemplateService) Get(ctx context.Context, userID, id uint) (*models.InvoiceTemplate, error) {
	var t models.InvoiceTemplate
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// Create stores a new template.
func (s *TemplateService) Create(ctx context.Context, userID uint, in TemplateInput) (*models.InvoiceTemplate, error) {
	t := &models.InvoiceTemplate{UserID: userID}
	if err := fillTemplate(t, &in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	return t, nil
}

// Update overwrites a template.
func (s *TemplateService) Update(ctx context.Context, userID, id uint, in TemplateInput) (*models.InvoiceTemplate, error) {
	t, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := fillTemplate(t, &in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(t).Error; err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	return t, nil
}

func fillTemplate(t *models.InvoiceTemplate, in *TemplateInput) error {
	in.normalize()
	if err := Invalid(in.Validate()); err != nil {
		return err
	}
	t.Name = in.Name
	t.ClientName = in.ClientName
	t.ClientEmail = in.ClientEmail
	t.ClientPhone = in.ClientPhone
	t.ClientAddress = in.ClientAddress
	t.Currency = in.Currency
	t.TaxRate = in.TaxRate
	t.Notes = in.Notes
	t.DueDays = in.DueDays
	items := make([]models.TemplateItem, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, models.TemplateItem{Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return t.SetDefaultItems(items)
}

// Delete removes a template. Invoices created from it keep a dangling
// TemplateID, which only records provenance.
func (s *TemplateService) Delete(ctx context.Context, userID, id uint) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.InvoiceTemplate{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Apply turns a template into a pre-filled invoice input dated today.
func Apply(t *models.InvoiceTemplate, today time.Time) (InvoiceInput, error) {
	in := InvoiceInput{
		ClientName:    t.ClientName,
		ClientEmail:   t.ClientEmail,
		ClientPhone:   t.ClientPhone,
		ClientAddress: t.ClientAddress,
		Currency:      t.Currency,
		TaxRate:       t.TaxRate,
		IssueDate:     today,
		DueDate:       today.AddDate(0, 0, t.DueDays),
		Notes:         t.Notes,
		Status:        models.InvoiceStatusDraft,
		TemplateID:    &t.ID,
	}
	items, err := t.DefaultItems()
	if err != nil {
		return in, fmt.Errorf("template %d items: %w", t.ID, err)
	}
	for _, it := range items {
		in.Items = append(in.Items, LineItemInput{Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	if len(in.Items) == 0 {
		in.Items = []LineItemInput{{Quantity: decimal.NewFromInt(1)}}
	}
	return in, nil
}
