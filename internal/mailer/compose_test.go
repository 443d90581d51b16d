package mailer

import (
	"strings"
	"testing"
)

func TestComposeInvoice(t *testing.T) {
	c, err := ComposeInvoice(InvoiceEmail{
		Number:       "INV-1001",
		IssueDate:    "Mar 01, 2026",
		DueDate:      "Mar 31, 2026",
		ClientName:   "Acme <Corp>",
		BusinessName: "Northwind",
		Currency:     "USD",
		TaxRate:      "10",
		Items: []EmailLine{
			{Description: "Design", Quantity: "2", UnitPrice: "$50.00", Total: "$100.00"},
			{Description: "Hosting", Quantity: "1", UnitPrice: "$100.00", Total: "$100.00"},
		},
		Subtotal:  "$200.00",
		Tax:       "$20.00",
		Total:     "$220.00",
		PublicURL: "https://app.test/i/abc",
	})
	if err != nil {
		t.Fatalf("ComposeInvoice: %v", err)
	}
	if c.Subject != "Invoice INV-1001 from Northwind" {
		t.Errorf("Subject = %q", c.Subject)
	}
	for _, want := range []string{"Design: 2 x $50.00 = $100.00", "Total due (USD): $220.00", "https://app.test/i/abc"} {
		if !strings.Contains(c.Text, want) {
			t.Errorf("text body missing %q:\n%s", want, c.Text)
		}
	}
	if !strings.Contains(c.HTML, "Acme &lt;Corp&gt;") {
		t.Errorf("html body should escape client name:\n%s", c.HTML)
	}
}

func TestComposeOverdue(t *testing.T) {
	c, err := ComposeOverdue(OverdueEmail{
		OwnerName:    "Dana",
		DashboardURL: "https://app.test/dashboard",
		Invoices: []OverdueLine{
			{Number: "INV-1001", ClientName: "Acme", Total: "$220.00", DueDate: "Mar 31, 2026"},
		},
	})
	if err != nil {
		t.Fatalf("ComposeOverdue: %v", err)
	}
	if c.Subject != "1 invoice now overdue" {
		t.Errorf("Subject = %q", c.Subject)
	}
	if !strings.Contains(c.Text, "INV-1001 (Acme): $220.00") {
		t.Errorf("text body:\n%s", c.Text)
	}
}
