package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/diewo77/invoiceflow/internal/mailer"
	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/pdf"
	"github.com/diewo77/invoiceflow/internal/queue"
	"github.com/diewo77/invoiceflow/validation"
)

const emailDateLayout = "Jan 02, 2006"

// DeliveryConfig holds the sender identity and the public base URL used in
// links.
type DeliveryConfig struct {
	FromAddress string
	FromName    string
	BaseURL     string
}

// Delivery queues invoice emails and is the queue handler that sends them.
type Delivery struct {
	invoices *InvoiceService
	profiles *ProfileService
	renderer pdf.Renderer
	sender   mailer.Sender
	queue    *queue.Queue
	cfg      DeliveryConfig
	now      func() time.Time
	log      *zap.Logger
}

func NewDelivery(invoices *InvoiceService, profiles *ProfileService, renderer pdf.Renderer, sender mailer.Sender, q *queue.Queue, cfg DeliveryConfig) *Delivery {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Delivery{
		invoices: invoices,
		profiles: profiles,
		renderer: renderer,
		sender:   sender,
		queue:    q,
		cfg:      cfg,
		now:      time.Now,
		log:      zap.L().Named("delivery"),
	}
}

// QueueInvoice schedules an invoice email. A blank recipient means the
// invoice's client email.
func (d *Delivery) QueueInvoice(ctx context.Context, userID, invoiceID uint, recipient string) (*models.EmailJob, error) {
	inv, err := d.invoices.Get(ctx, userID, invoiceID)
	if err != nil {
		return nil, err
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		recipient = inv.ClientEmail
	}
	if recipient == "" {
		return nil, ErrNoRecipient
	}
	v := validation.Violations{}
	validation.Email("recipient", recipient, v)
	if err := Invalid(v); err != nil {
		return nil, err
	}
	job, err := d.queue.Enqueue(ctx, queue.Message{
		Kind:      models.JobKindInvoice,
		UserID:    userID,
		InvoiceID: &inv.ID,
		Recipient: recipient,
	})
	if err != nil {
		return nil, err
	}
	d.log.Info("invoice queued",
		zap.Uint("invoice_id", inv.ID),
		zap.Uint("user_id", userID),
		zap.Uint("job_id", job.ID),
	)
	return job, nil
}

// Handle implements queue.Handler.
func (d *Delivery) Handle(ctx context.Context, job *models.EmailJob) error {
	switch job.Kind {
	case models.JobKindInvoice:
		return d.deliverInvoice(ctx, job)
	case models.JobKindOverdueNotice:
		return d.deliverOverdue(ctx, job)
	default:
		return queue.Permanent(fmt.Errorf("unknown job kind %q", job.Kind))
	}
}

func (d *Delivery) deliverInvoice(ctx context.Context, job *models.EmailJob) error {
	if job.InvoiceID == nil {
		return queue.Permanent(errors.New("invoice job without invoice id"))
	}
	inv, err := d.invoices.Get(ctx, job.UserID, *job.InvoiceID)
	if errors.Is(err, ErrNotFound) {
		return queue.Permanent(fmt.Errorf("invoice %d was deleted", *job.InvoiceID))
	}
	if err != nil {
		return err
	}
	user, err := d.profiles.User(ctx, job.UserID)
	if err != nil {
		return err
	}
	profile := user.Profile

	body, err := d.renderer.Render(ctx, pdf.FromInvoice(profile, user.Email, inv))
	if err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	token, err := d.invoices.EnsureShareToken(ctx, job.UserID, inv.ID)
	if err != nil {
		return err
	}

	content, err := mailer.ComposeInvoice(invoiceEmail(profile, user, inv, d.cfg.BaseURL+"/i/"+token))
	if err != nil {
		return queue.Permanent(err)
	}
	msg := mailer.Message{
		From:    d.from(profile),
		To:      []mailer.Address{{Name: inv.ClientName, Email: job.Recipient}},
		ReplyTo: &mailer.Address{Name: user.DisplayName(), Email: user.Email},
		Subject: content.Subject,
		Text:    content.Text,
		HTML:    content.HTML,
		Attachments: []mailer.Attachment{{
			Filename:    pdf.Filename(inv.Number),
			ContentType: "application/pdf",
			Content:     body,
		}},
	}
	if profile.NotifyOnSend && !strings.EqualFold(user.Email, job.Recipient) {
		msg.Bcc = []mailer.Address{{Email: user.Email}}
	}

	if err := d.sender.Send(ctx, msg); err != nil {
		d.log.Warn("invoice email failed",
			zap.Uint("invoice_id", inv.ID),
			zap.Uint("job_id", job.ID),
			zap.Error(err),
		)
		return classify(err)
	}
	// The email is out; a failure here must not trigger a resend.
	if err := d.invoices.MarkSent(ctx, job.UserID, inv.ID, d.now()); err != nil {
		d.log.Error("mark invoice sent", zap.Uint("invoice_id", inv.ID), zap.Error(err))
	}
	return nil
}

// classify maps provider errors onto queue retry semantics.
func classify(err error) error {
	if !mailer.IsRetryable(err) {
		return queue.Permanent(err)
	}
	return queue.RetryAfter(err, mailer.RetryAfter(err))
}

func (d *Delivery) from(profile *models.UserProfile) mailer.Address {
	name := d.cfg.FromName
	if profile != nil && profile.CompanyName != "" {
		name = profile.CompanyName
	}
	return mailer.Address{Name: name, Email: d.cfg.FromAddress}
}

func invoiceEmail(profile *models.UserProfile, user *models.User, inv *models.Invoice, publicURL string) mailer.InvoiceEmail {
	data := mailer.InvoiceEmail{
		Number:        inv.Number,
		IssueDate:     inv.IssueDate.Format(emailDateLayout),
		DueDate:       inv.DueDate.Format(emailDateLayout),
		ClientName:    inv.ClientName,
		BusinessName:  profile.CompanyName,
		BusinessEmail: user.Email,
		BusinessPhone: profile.Phone,
		Currency:      inv.Currency,
		TaxRate:       inv.TaxRate.String(),
		Subtotal:      pdf.Money(inv.Subtotal, inv.Currency),
		Tax:           pdf.Money(inv.Tax, inv.Currency),
		Total:         pdf.Money(inv.Total, inv.Currency),
		Notes:         inv.Notes,
		PublicURL:     publicURL,
	}
	for _, it := range inv.Items {
		data.Items = append(data.Items, mailer.EmailLine{
			Description: it.Description,
			Quantity:    pdf.Quantity(it.Quantity),
			UnitPrice:   pdf.Money(it.UnitPrice, inv.Currency),
			Total:       pdf.Money(it.LineTotal, inv.Currency),
		})
	}
	return data
}

type overduePayload struct {
	InvoiceIDs []uint `json:"invoice_ids"`
}

// SweepOverdue marks past-due invoices overdue and queues one notice per
// owner who asked for them. It returns the number of invoices flipped.
func (d *Delivery) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	flipped, err := d.invoices.MarkOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	if len(flipped) == 0 {
		return 0, nil
	}
	byUser := map[uint][]uint{}
	var order []uint
	for _, inv := range flipped {
		if _, ok := byUser[inv.UserID]; !ok {
			order = append(order, inv.UserID)
		}
		byUser[inv.UserID] = append(byUser[inv.UserID], inv.ID)
	}
	for _, userID := range order {
		user, err := d.profiles.User(ctx, userID)
		if err != nil {
			d.log.Error("load owner for overdue notice", zap.Uint("user_id", userID), zap.Error(err))
			continue
		}
		if !user.Profile.NotifyOverdue {
			continue
		}
		if _, err := d.queue.Enqueue(ctx, queue.Message{
			Kind:      models.JobKindOverdueNotice,
			UserID:    userID,
			Recipient: user.Email,
			Payload:   overduePayload{InvoiceIDs: byUser[userID]},
		}); err != nil {
			return len(flipped), err
		}
	}
	d.log.Info("overdue sweep", zap.Int("invoices", len(flipped)), zap.Int("owners", len(order)))
	return len(flipped), nil
}

func (d *Delivery) deliverOverdue(ctx context.Context, job *models.EmailJob) error {
	var payload overduePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Permanent(fmt.Errorf("decode overdue payload: %w", err))
	}
	if len(payload.InvoiceIDs) == 0 {
		return nil
	}
	invs, err := d.invoices.GetMany(ctx, job.UserID, payload.InvoiceIDs)
	if err != nil {
		return err
	}
	var lines []mailer.OverdueLine
	for _, inv := range invs {
		// Paid since the sweep: nothing to report.
		if inv.Status == models.InvoiceStatusPaid {
			continue
		}
		lines = append(lines, mailer.OverdueLine{
			Number:     inv.Number,
			ClientName: inv.ClientName,
			Total:      pdf.Money(inv.Total, inv.Currency),
			DueDate:    inv.DueDate.Format(emailDateLayout),
		})
	}
	if len(lines) == 0 {
		return nil
	}
	user, err := d.profiles.User(ctx, job.UserID)
	if err != nil {
		return err
	}
	content, err := mailer.ComposeOverdue(mailer.OverdueEmail{
		OwnerName:    user.DisplayName(),
		DashboardURL: d.cfg.BaseURL + "/dashboard",
		Invoices:     lines,
	})
	if err != nil {
		return queue.Permanent(err)
	}
	err = d.sender.Send(ctx, mailer.Message{
		From:    mailer.Address{Name: d.cfg.FromName, Email: d.cfg.FromAddress},
		To:      []mailer.Address{{Name: user.Name, Email: job.Recipient}},
		Subject: content.Subject,
		Text:    content.Text,
		HTML:    content.HTML,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}
