package mailer

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// DefaultBaseURL is the SendGrid v3 API host.
const DefaultBaseURL = "https://api.sendgrid.com"

const (
	sendPath     = "/v3/mail/send"
	maxErrorBody = 4096
)

// SendGrid is a Sender backed by the SendGrid v3 mail API.
type SendGrid struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	log        *zap.Logger
}

// NewSendGrid creates a SendGrid client. If httpClient is nil a client with
// a 15 second timeout is used.
func NewSendGrid(apiKey, baseURL string, httpClient *http.Client) *SendGrid {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &SendGrid{
		httpClient: httpClient,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        zap.L().Named("sendgrid"),
	}
}

// Send implements Sender.
func (c *SendGrid) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	req := sendgrid.GetRequest(c.apiKey, sendPath, c.baseURL)
	req.Method = rest.Post
	req.Headers["Content-Type"] = "application/json"
	req.Body = mail.GetRequestBody(buildV3Mail(msg))

	client := &rest.Client{HTTPClient: c.httpClient}
	resp, err := client.SendWithContext(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("send failed", zap.Error(err))
		return &APIError{Err: err}
	}
	header := http.Header(resp.Headers)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.log.Debug("message accepted",
			zap.Int("status", resp.StatusCode),
			zap.String("message_id", header.Get("X-Message-Id")),
			zap.String("subject", msg.Subject),
		)
		return nil
	}

	body := strings.TrimSpace(resp.Body)
	if len(body) > maxErrorBody {
		body = strings.ToValidUTF8(body[:maxErrorBody], "")
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: body}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		apiErr.Err = ErrSenderUnverified
	case resp.StatusCode == http.StatusTooManyRequests:
		apiErr.Err = ErrRateLimited
		apiErr.RetryAfter = parseRetryAfter(header.Get("Retry-After"), time.Now())
	}
	c.log.Warn("message rejected",
		zap.Int("status", resp.StatusCode),
		zap.String("body", apiErr.Body),
		zap.Bool("retryable", apiErr.Retryable()),
	)
	return apiErr
}

func buildV3Mail(msg Message) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(msg.From.Name, msg.From.Email))
	m.Subject = msg.Subject
	if msg.ReplyTo != nil {
		m.SetReplyTo(mail.NewEmail(msg.ReplyTo.Name, msg.ReplyTo.Email))
	}

	p := mail.NewPersonalization()
	for _, to := range msg.To {
		p.AddTos(mail.NewEmail(to.Name, to.Email))
	}
	for _, bcc := range msg.Bcc {
		p.AddBCCs(mail.NewEmail(bcc.Name, bcc.Email))
	}
	m.AddPersonalizations(p)

	// SendGrid requires text/plain before text/html.
	if msg.Text != "" {
		m.AddContent(mail.NewContent("text/plain", msg.Text))
	}
	if msg.HTML != "" {
		m.AddContent(mail.NewContent("text/html", msg.HTML))
	}

	for _, a := range msg.Attachments {
		att := mail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(a.Content))
		att.SetType(a.ContentType)
		att.SetFilename(a.Filename)
		att.SetDisposition("attachment")
		m.AddAttachment(att)
	}
	return m
}

// parseRetryAfter accepts delta seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
