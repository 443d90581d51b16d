package mailer

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/*.subject.tmpl", "templates/*.txt.tmpl"))
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html.tmpl"))
)

// Content is a rendered subject and body pair.
type Content struct {
	Subject string
	Text    string
	HTML    string
}

// EmailLine is a preformatted line item.
type EmailLine struct {
	Description string
	Quantity    string
	UnitPrice   string
	Total       string
}

// InvoiceEmail holds the variables available to the invoice email.
// Amounts and dates are already formatted.
type InvoiceEmail struct {
	Number        string
	IssueDate     string
	DueDate       string
	ClientName    string
	BusinessName  string
	BusinessEmail string
	BusinessPhone string
	Currency      string
	TaxRate       string
	Items         []EmailLine
	Subtotal      string
	Tax           string
	Total         string
	Notes         string
	PublicURL     string
}

// OverdueLine is one invoice in an overdue notice.
type OverdueLine struct {
	Number     string
	ClientName string
	Total      string
	DueDate    string
}

// OverdueEmail holds the variables of the owner's overdue notice.
type OverdueEmail struct {
	OwnerName    string
	DashboardURL string
	Invoices     []OverdueLine
}

// ComposeInvoice renders the email sent to a client with an invoice.
func ComposeInvoice(data InvoiceEmail) (Content, error) {
	if data.BusinessName == "" {
		data.BusinessName = "InvoiceFlow"
	}
	return compose("invoice", data)
}

// ComposeOverdue renders the owner notice listing newly overdue invoices.
func ComposeOverdue(data OverdueEmail) (Content, error) {
	return compose("overdue", data)
}

func compose(name string, data any) (Content, error) {
	var c Content
	var buf bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&buf, name+".subject.tmpl", data); err != nil {
		return c, fmt.Errorf("render %s subject: %w", name, err)
	}
	c.Subject = strings.TrimSpace(buf.String())

	buf.Reset()
	if err := textTemplates.ExecuteTemplate(&buf, name+".txt.tmpl", data); err != nil {
		return c, fmt.Errorf("render %s text: %w", name, err)
	}
	c.Text = buf.String()

	buf.Reset()
	if err := htmlTemplates.ExecuteTemplate(&buf, name+".html.tmpl", data); err != nil {
		return c, fmt.Errorf("render %s html: %w", name, err)
	}
	c.HTML = buf.String()
	return c, nil
}
