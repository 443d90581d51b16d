package share

import (
	"net/url"
	"testing"
)

func TestWhatsAppURL(t *testing.T) {
	tests := []struct {
		name, phone, text, want string
	}{
		{"phone and text", "+1 (555) 010-2030", "Invoice INV-1001", "https://wa.me/15550102030?text=Invoice+INV-1001"},
		{"no phone", "", "hi & bye", "https://wa.me/?text=hi+%26+bye"},
		{"no text", "44 20 7946 0000", "", "https://wa.me/442079460000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WhatsAppURL(tt.phone, tt.text)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("WhatsAppURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWhatsAppURLRoundTripsText(t *testing.T) {
	msg := InvoiceMessage{
		BusinessName: "Jane Design",
		ClientName:   "Acme",
		Number:       "INV-1001",
		Total:        "$220.00",
		DueDate:      "Mar 31, 2026",
		PublicURL:    "https://app.example.com/i/abc?x=1",
	}
	raw, err := WhatsAppURL("555", msg.Text())
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	want := "Hello Acme, here is invoice INV-1001 from Jane Design for $220.00, due Mar 31, 2026. View it here: https://app.example.com/i/abc?x=1"
	if got := u.Query().Get("text"); got != want {
		t.Errorf("text = %q\nwant   %q", got, want)
	}
}
