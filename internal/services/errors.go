// Package services holds the business operations behind the HTTP handlers,
// the queue worker and the scheduler.
package services

import (
	"errors"
	"sort"
	"strings"

	"github.com/diewo77/invoiceflow/validation"
)

var (
	// ErrNotFound is returned for rows that do not exist or belong to
	// another user.
	ErrNotFound = errors.New("not found")
	// ErrNumberTaken is returned when an invoice number is already used by
	// the same owner.
	ErrNumberTaken = errors.New("invoice number already used")
	// ErrInvoiceLocked is returned when editing a paid invoice.
	ErrInvoiceLocked = errors.New("paid invoices cannot be edited")
	// ErrEmailTaken is returned at signup for a known address.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials hides whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoRecipient is returned when sending an invoice without an address.
	ErrNoRecipient = errors.New("no recipient email")
)

// ValidationError carries field violations back to the form.
type ValidationError struct {
	Violations validation.Violations
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Violations))
	for f, msg := range e.Violations {
		fields = append(fields, f+": "+msg)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// Invalid wraps v, or returns nil when v is empty.
func Invalid(v validation.Violations) error {
	if v.Empty() {
		return nil
	}
	return &ValidationError{Violations: v}
}

// ViolationsOf extracts the violations from err.
func ViolationsOf(err error) (validation.Violations, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Violations, true
	}
	return nil, false
}
