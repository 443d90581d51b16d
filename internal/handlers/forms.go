package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/schema"
	"github.com/shopspring/decimal"

	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/services"
	"github.com/diewo77/invoiceflow/validation"
)

// maxFormMemory bounds multipart parsing; logo uploads are capped separately.
const maxFormMemory = 4 << 20

var decoder = newSchemaDecoder()

// newSchemaDecoder decodes into the string-typed forms below. Parsing into
// domain types happens in Input so every field can report its own violation.
func newSchemaDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	d.ZeroEmpty(true)
	return d
}

// decodeForm parses the request body into dst.
func decodeForm(r *http.Request, dst any) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			return fmt.Errorf("parse multipart form: %w", err)
		}
	} else if err := r.ParseForm(); err != nil {
		return fmt.Errorf("parse form: %w", err)
	}
	if err := decoder.Decode(dst, r.PostForm); err != nil {
		return fmt.Errorf("decode form: %w", err)
	}
	return nil
}

// LineItemForm is one editable row. Rows left completely blank are dropped.
type LineItemForm struct {
	Description string `schema:"description"`
	Quantity    string `schema:"quantity"`
	UnitPrice   string `schema:"unit_price"`
}

func (f LineItemForm) blank() bool {
	return strings.TrimSpace(f.Description) == "" &&
		strings.TrimSpace(f.Quantity) == "" &&
		strings.TrimSpace(f.UnitPrice) == ""
}

func itemsInput(rows []LineItemForm, v validation.Violations) []services.LineItemInput {
	var out []services.LineItemInput
	for _, row := range rows {
		if row.blank() {
			continue
		}
		field := "items." + strconv.Itoa(len(out)) + "."
		out = append(out, services.LineItemInput{
			Description: row.Description,
			Quantity:    validation.Decimal(field+"quantity", row.Quantity, decimal.NewFromInt(1), v),
			UnitPrice:   validation.Decimal(field+"unit_price", row.UnitPrice, decimal.Zero, v),
		})
	}
	return out
}

func itemsForm(items []services.LineItemInput) []LineItemForm {
	out := make([]LineItemForm, 0, len(items)+1)
	for _, it := range items {
		out = append(out, LineItemForm{
			Description: it.Description,
			Quantity:    it.Quantity.String(),
			UnitPrice:   it.UnitPrice.StringFixed(2),
		})
	}
	return out
}

// editorRows drops blank rows, so indices match the items.N violation keys,
// and appends one empty row for the editor.
func editorRows(rows []LineItemForm) []LineItemForm {
	out := make([]LineItemForm, 0, len(rows)+1)
	for _, row := range rows {
		if !row.blank() {
			out = append(out, row)
		}
	}
	return append(out, LineItemForm{Quantity: "1"})
}

// ClientFields are shared by invoices, templates and recurring invoices.
type ClientFields struct {
	ClientName    string `schema:"client_name"`
	ClientEmail   string `schema:"client_email"`
	ClientPhone   string `schema:"client_phone"`
	ClientAddress string `schema:"client_address"`
}

// InvoiceForm is the create/edit invoice form.
type InvoiceForm struct {
	ClientFields
	Number     string         `schema:"number"`
	Currency   string         `schema:"currency"`
	TaxRate    string         `schema:"tax_rate"`
	IssueDate  string         `schema:"issue_date"`
	DueDate    string         `schema:"due_date"`
	Notes      string         `schema:"notes"`
	Status     string         `schema:"status"`
	TemplateID string         `schema:"template_id"`
	Items      []LineItemForm `schema:"items"`
}

// Input converts the form, collecting parse violations in v.
func (f *InvoiceForm) Input(v validation.Violations) services.InvoiceInput {
	in := services.InvoiceInput{
		Number:        f.Number,
		ClientName:    f.ClientName,
		ClientEmail:   f.ClientEmail,
		ClientPhone:   f.ClientPhone,
		ClientAddress: f.ClientAddress,
		Currency:      f.Currency,
		TaxRate:       validation.Decimal("tax_rate", f.TaxRate, decimal.Zero, v),
		IssueDate:     validation.Date("issue_date", f.IssueDate, v),
		DueDate:       validation.Date("due_date", f.DueDate, v),
		Notes:         f.Notes,
		Status:        models.InvoiceStatus(f.Status),
		Items:         itemsInput(f.Items, v),
	}
	if id, err := strconv.ParseUint(f.TemplateID, 10, 64); err == nil && id > 0 {
		tid := uint(id)
		in.TemplateID = &tid
	}
	return in
}

func invoiceFormFrom(in services.InvoiceInput) *InvoiceForm {
	f := &InvoiceForm{
		ClientFields: ClientFields{
			ClientName:    in.ClientName,
			ClientEmail:   in.ClientEmail,
			ClientPhone:   in.ClientPhone,
			ClientAddress: in.ClientAddress,
		},
		Number:    in.Number,
		Currency:  in.Currency,
		TaxRate:   in.TaxRate.String(),
		IssueDate: formatDate(in.IssueDate),
		DueDate:   formatDate(in.DueDate),
		Notes:     in.Notes,
		Status:    string(in.Status),
		Items:     itemsForm(in.Items),
	}
	if in.TemplateID != nil {
		f.TemplateID = strconv.FormatUint(uint64(*in.TemplateID), 10)
	}
	return f
}

func invoiceFormFromModel(inv *models.Invoice) *InvoiceForm {
	in := services.InvoiceInput{
		Number:        inv.Number,
		ClientName:    inv.ClientName,
		ClientEmail:   inv.ClientEmail,
		ClientPhone:   inv.ClientPhone,
		ClientAddress: inv.ClientAddress,
		Currency:      inv.Currency,
		TaxRate:       inv.TaxRate,
		IssueDate:     inv.IssueDate,
		DueDate:       inv.DueDate,
		Notes:         inv.Notes,
		Status:        inv.Status,
		TemplateID:    inv.TemplateID,
	}
	for _, it := range inv.Items {
		in.Items = append(in.Items, services.LineItemInput{Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return invoiceFormFrom(in)
}

// TemplateForm is the invoice template form.
type TemplateForm struct {
	ClientFields
	Name     string         `schema:"name"`
	Currency string         `schema:"currency"`
	TaxRate  string         `schema:"tax_rate"`
	Notes    string         `schema:"notes"`
	DueDays  string         `schema:"due_days"`
	Items    []LineItemForm `schema:"items"`
}

func (f *TemplateForm) Input(v validation.Violations) services.TemplateInput {
	return services.TemplateInput{
		Name:          f.Name,
		ClientName:    f.ClientName,
		ClientEmail:   f.ClientEmail,
		ClientPhone:   f.ClientPhone,
		ClientAddress: f.ClientAddress,
		Currency:      f.Currency,
		TaxRate:       validation.Decimal("tax_rate", f.TaxRate, decimal.Zero, v),
		Notes:         f.Notes,
		DueDays:       parseInt("due_days", f.DueDays, 30, v),
		Items:         itemsInput(f.Items, v),
	}
}

func templateFormFrom(t *models.InvoiceTemplate) (*TemplateForm, error) {
	in, err := services.Apply(t, time.Time{})
	if err != nil {
		return nil, err
	}
	return &TemplateForm{
		ClientFields: ClientFields{
			ClientName:    t.ClientName,
			ClientEmail:   t.ClientEmail,
			ClientPhone:   t.ClientPhone,
			ClientAddress: t.ClientAddress,
		},
		Name:     t.Name,
		Currency: t.Currency,
		TaxRate:  t.TaxRate.String(),
		Notes:    t.Notes,
		DueDays:  strconv.Itoa(t.DueDays),
		Items:    itemsForm(in.Items),
	}, nil
}

// RecurringForm is the recurring invoice form.
type RecurringForm struct {
	ClientFields
	Name      string         `schema:"name"`
	Currency  string         `schema:"currency"`
	TaxRate   string         `schema:"tax_rate"`
	Notes     string         `schema:"notes"`
	DueDays   string         `schema:"due_days"`
	Frequency string         `schema:"frequency"`
	StartDate string         `schema:"start_date"`
	EndDate   string         `schema:"end_date"`
	Active    bool           `schema:"active"`
	AutoSend  bool           `schema:"auto_send"`
	Items     []LineItemForm `schema:"items"`
}

func (f *RecurringForm) Input(v validation.Violations) services.RecurringInput {
	in := services.RecurringInput{
		Name:          f.Name,
		ClientName:    f.ClientName,
		ClientEmail:   f.ClientEmail,
		ClientPhone:   f.ClientPhone,
		ClientAddress: f.ClientAddress,
		Currency:      f.Currency,
		TaxRate:       validation.Decimal("tax_rate", f.TaxRate, decimal.Zero, v),
		Notes:         f.Notes,
		DueDays:       parseInt("due_days", f.DueDays, 30, v),
		Frequency:     models.Frequency(f.Frequency),
		StartDate:     validation.Date("start_date", f.StartDate, v),
		Active:        f.Active,
		AutoSend:      f.AutoSend,
		Items:         itemsInput(f.Items, v),
	}
	if end := validation.Date("end_date", f.EndDate, v); !end.IsZero() {
		in.EndDate = &end
	}
	return in
}

func recurringFormFrom(r *models.RecurringInvoice) *RecurringForm {
	f := &RecurringForm{
		ClientFields: ClientFields{
			ClientName:    r.ClientName,
			ClientEmail:   r.ClientEmail,
			ClientPhone:   r.ClientPhone,
			ClientAddress: r.ClientAddress,
		},
		Name:      r.Name,
		Currency:  r.Currency,
		TaxRate:   r.TaxRate.String(),
		Notes:     r.Notes,
		DueDays:   strconv.Itoa(r.DueDays),
		Frequency: string(r.Frequency),
		StartDate: formatDate(r.StartDate),
		Active:    r.Active,
		AutoSend:  r.AutoSend,
	}
	if r.EndDate != nil {
		f.EndDate = formatDate(*r.EndDate)
	}
	for _, it := range r.Items {
		f.Items = append(f.Items, LineItemForm{Description: it.Description, Quantity: it.Quantity.String(), UnitPrice: it.UnitPrice.StringFixed(2)})
	}
	return f
}

// BusinessForm is the business settings form. The logo arrives as a
// multipart file next to these fields.
type BusinessForm struct {
	CompanyName    string `schema:"company_name"`
	Address        string `schema:"address"`
	Phone          string `schema:"phone"`
	TaxID          string `schema:"tax_id"`
	Currency       string `schema:"currency"`
	TaxRate        string `schema:"tax_rate"`
	InvoicePrefix  string `schema:"invoice_prefix"`
	Timezone       string `schema:"timezone"`
	DefaultDueDays string `schema:"default_due_days"`
	RemoveLogo     bool   `schema:"remove_logo"`
}

func (f *BusinessForm) Input(v validation.Violations) services.BusinessInput {
	return services.BusinessInput{
		CompanyName:    f.CompanyName,
		Address:        f.Address,
		Phone:          f.Phone,
		TaxID:          f.TaxID,
		Currency:       f.Currency,
		TaxRate:        validation.Decimal("tax_rate", f.TaxRate, decimal.Zero, v),
		InvoicePrefix:  f.InvoicePrefix,
		Timezone:       f.Timezone,
		DefaultDueDays: parseInt("default_due_days", f.DefaultDueDays, 30, v),
	}
}

func businessFormFrom(p *models.UserProfile) *BusinessForm {
	return &BusinessForm{
		CompanyName:    p.CompanyName,
		Address:        p.Address,
		Phone:          p.Phone,
		TaxID:          p.TaxID,
		Currency:       p.Currency,
		TaxRate:        p.TaxRate.String(),
		InvoicePrefix:  p.InvoicePrefix,
		Timezone:       p.Timezone,
		DefaultDueDays: strconv.Itoa(p.DefaultDueDays),
	}
}

// SearchForm holds the invoice list filters from the query string.
type SearchForm struct {
	Status string `schema:"status"`
	Query  string `schema:"q"`
	Page   int    `schema:"page"`
}

func parseSearch(r *http.Request) SearchForm {
	var f SearchForm
	// Unparseable values fall back to the defaults below.
	_ = decoder.Decode(&f, r.URL.Query())
	if !models.InvoiceStatus(f.Status).Valid() {
		f.Status = ""
	}
	if f.Page < 1 {
		f.Page = 1
	}
	f.Query = strings.TrimSpace(f.Query)
	return f
}

func parseInt(field, value string, def int, v validation.Violations) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		v.Add(field, "invalid_number")
		return def
	}
	return n
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(validation.DateLayout)
}
