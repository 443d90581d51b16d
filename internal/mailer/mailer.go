// Package mailer sends transactional email.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSenderUnverified is returned when the provider refuses the from
	// identity or the API key. Retrying will not help.
	ErrSenderUnverified = errors.New("mailer: sender not verified or key rejected")
	// ErrRateLimited is returned when the provider throttles requests.
	ErrRateLimited = errors.New("mailer: rate limited")
	// ErrInvalidMessage wraps Validate failures. The same message will
	// fail again, so it is never retried.
	ErrInvalidMessage = errors.New("mailer: invalid message")
)

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Address is a mailbox with an optional display name.
type Address struct {
	Name  string
	Email string
}

// Attachment is a file sent along with a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is a provider independent email.
type Message struct {
	From        Address
	To          []Address
	Bcc         []Address
	ReplyTo     *Address
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Validate checks the fields every provider requires.
func (m Message) Validate() error {
	if m.From.Email == "" {
		return fmt.Errorf("%w: missing from address", ErrInvalidMessage)
	}
	if len(m.To) == 0 {
		return fmt.Errorf("%w: missing recipient", ErrInvalidMessage)
	}
	if m.Subject == "" {
		return fmt.Errorf("%w: missing subject", ErrInvalidMessage)
	}
	if m.Text == "" && m.HTML == "" {
		return fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}
	return nil
}

// APIError describes a failed provider call.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("mailer: request failed: %v", e.Err)
	}
	return fmt.Sprintf("mailer: status %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// IsRetryable reports whether err is worth another attempt. Invalid messages
// and rejected senders are permanent; other errors that are not an *APIError
// are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return !errors.Is(err, ErrSenderUnverified) && !errors.Is(err, ErrInvalidMessage)
}

// RetryAfter returns the provider's retry hint, or zero.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}
