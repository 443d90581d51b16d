// Package share builds links for sending invoices over messaging apps.
package share

import (
	"fmt"
	"strings"

	"github.com/google/go-querystring/query"
)

const whatsAppBase = "https://wa.me/"

type whatsAppParams struct {
	Text string `url:"text,omitempty"`
}

// WhatsAppURL returns a click-to-chat link. Only the digits of phone are
// kept; an empty phone lets the user pick the contact in the app.
func WhatsAppURL(phone, text string) (string, error) {
	v, err := query.Values(whatsAppParams{Text: text})
	if err != nil {
		return "", fmt.Errorf("share: encode query: %w", err)
	}
	u := whatsAppBase + Digits(phone)
	if enc := v.Encode(); enc != "" {
		u += "?" + enc
	}
	return u, nil
}

// Digits strips everything but 0-9 from s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// InvoiceMessage is the text that goes with a shared invoice.
type InvoiceMessage struct {
	BusinessName string
	ClientName   string
	Number       string
	Total        string
	DueDate      string
	PublicURL    string
}

// Text renders the message in one short paragraph.
func (m InvoiceMessage) Text() string {
	var b strings.Builder
	if m.ClientName != "" {
		fmt.Fprintf(&b, "Hello %s, ", m.ClientName)
	} else {
		b.WriteString("Hello, ")
	}
	fmt.Fprintf(&b, "here is invoice %s", m.Number)
	if m.BusinessName != "" {
		fmt.Fprintf(&b, " from %s", m.BusinessName)
	}
	fmt.Fprintf(&b, " for %s", m.Total)
	if m.DueDate != "" {
		fmt.Fprintf(&b, ", due %s", m.DueDate)
	}
	b.WriteString(".")
	if m.PublicURL != "" {
		fmt.Fprintf(&b, " View it here: %s", m.PublicURL)
	}
	return b.String()
}
