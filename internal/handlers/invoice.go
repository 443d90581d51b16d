package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/diewo77/invoiceflow/gate"
	"github.com/diewo77/invoiceflow/httpx"
	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/pdf"
	"github.com/diewo77/invoiceflow/internal/policy"
	"github.com/diewo77/invoiceflow/internal/services"
	"github.com/diewo77/invoiceflow/internal/share"
	"github.com/diewo77/invoiceflow/validation"
)

const invoicesPerPage = 20

// InvoiceHandler serves the invoice pages, downloads and the public share
// link.
type InvoiceHandler struct {
	*Page
	invoices  *services.InvoiceService
	profiles  *services.ProfileService
	templates *services.TemplateService
	delivery  *services.Delivery
	exporter  *services.Exporter
	renderer  pdf.Renderer
	baseURL   string
}

func NewInvoiceHandler(
	p *Page,
	invoices *services.InvoiceService,
	profiles *services.ProfileService,
	templates *services.TemplateService,
	delivery *services.Delivery,
	exporter *services.Exporter,
	renderer pdf.Renderer,
	baseURL string,
) *InvoiceHandler {
	return &InvoiceHandler{
		Page:      p,
		invoices:  invoices,
		profiles:  profiles,
		templates: templates,
		delivery:  delivery,
		exporter:  exporter,
		renderer:  renderer,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	f := parseSearch(r)
	page, err := h.invoices.List(r.Context(), userID(r), services.ListFilter{
		Status:  models.InvoiceStatus(f.Status),
		Query:   f.Query,
		Page:    f.Page,
		PerPage: invoicesPerPage,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data := map[string]any{
		"Invoices": page.Invoices,
		"Total":    page.Total,
		"Page":     page.Page,
		"Pages":    page.Pages(),
		"Filter":   f,
		"Statuses": models.InvoiceStatuses,
	}
	if page.Page > 1 {
		data["PrevURL"] = listURL(f, page.Page-1)
	}
	if page.Page < page.Pages() {
		data["NextURL"] = listURL(f, page.Page+1)
	}
	h.render(w, r, "invoices.html", data)
}

func listURL(f SearchForm, page int) string {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Query != "" {
		q.Set("q", f.Query)
	}
	q.Set("page", strconv.Itoa(page))
	return "/invoices?" + q.Encode()
}

// New shows an empty form, pre-filled from the profile or from ?template=ID.
func (h *InvoiceHandler) New(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	profile, err := h.profiles.Profile(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	today := profile.Today(h.now())
	in := services.DefaultInvoiceInput(profile, today)

	if raw := r.URL.Query().Get("template"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.notFound(w, r)
			return
		}
		tpl, err := h.templates.Get(r.Context(), uid, uint(id))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if in, err = services.Apply(tpl, today); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	form := invoiceFormFrom(in)
	form.Items = editorRows(form.Items)
	h.renderForm(w, r, http.StatusOK, form, nil, "/invoices")
}

func (h *InvoiceHandler) renderForm(w http.ResponseWriter, r *http.Request, status int, form *InvoiceForm, errs validation.Violations, action string) {
	templates, err := h.templates.List(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.View.PageStatus(w, r, status, "invoice_form.html", map[string]any{
		"Form":       form,
		"Errors":     errs,
		"Action":     action,
		"Editing":    action != "/invoices",
		"Templates":  templates,
		"Currencies": models.Currencies,
		"Statuses":   models.InvoiceStatuses,
	})
}

func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var form InvoiceForm
	if err := decodeForm(r, &form); err != nil {
		h.View.Error(w, r, http.StatusBadRequest, "generic_error")
		return
	}
	v := validation.Violations{}
	in := form.Input(v)
	if !v.Empty() {
		form.Items = editorRows(form.Items)
		h.renderForm(w, r, http.StatusUnprocessableEntity, &form, v, "/invoices")
		return
	}

	inv, err := h.invoices.Create(r.Context(), userID(r), in)
	if errs, ok := formViolations(err); ok {
		form.Items = editorRows(form.Items)
		h.renderForm(w, r, http.StatusUnprocessableEntity, &form, errs, "/invoices")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, invoicePath(inv.ID), "invoice_saved")
}

// formViolations folds the number conflict into the form errors.
func formViolations(err error) (validation.Violations, bool) {
	if errors.Is(err, services.ErrNumberTaken) {
		return validation.Violations{"number": "number_taken"}, true
	}
	return services.ViolationsOf(err)
}

func invoicePath(id uint) string {
	return "/invoices/" + strconv.FormatUint(uint64(id), 10)
}

// load fetches the invoice named by {id} and checks action on it.
func (h *InvoiceHandler) load(w http.ResponseWriter, r *http.Request, action gate.Action) (*models.Invoice, bool) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		h.notFound(w, r)
		return nil, false
	}
	inv, err := h.invoices.Get(r.Context(), userID(r), id)
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	if err := h.Gate.Authorize(r.Context(), action, policy.ResourceInvoice, inv); err != nil {
		if action == gate.ActionUpdate && !inv.CanEdit() {
			h.Flash.Error(r, "invoice_locked")
			http.Redirect(w, r, invoicePath(inv.ID), http.StatusSeeOther)
			return nil, false
		}
		h.fail(w, r, err)
		return nil, false
	}
	return inv, true
}

func (h *InvoiceHandler) Show(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.load(w, r, gate.ActionView)
	if !ok {
		return
	}
	data := map[string]any{
		"Invoice":  inv,
		"CanEdit":  h.Gate.Can(r.Context(), gate.ActionUpdate, policy.ResourceInvoice, inv),
		"Statuses": models.InvoiceStatuses,
	}
	if inv.ShareToken != nil {
		data["PublicURL"] = h.publicURL(*inv.ShareToken)
	}
	h.render(w, r, "invoice.html", data)
}

func (h *InvoiceHandler) Edit(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.load(w, r, gate.ActionUpdate)
	if !ok {
		return
	}
	form := invoiceFormFromModel(inv)
	form.Items = editorRows(form.Items)
	h.renderForm(w, r, http.StatusOK, form, nil, invoicePath(inv.ID))
}

func (h *InvoiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.load(w, r, gate.ActionUpdate)
	if !ok {
		return
	}
	var form InvoiceForm
	if err := decodeForm(r, &form); err != nil {
		h.View.Error(w, r, http.StatusBadRequest, "generic_error")
		return
	}
	action := invoicePath(inv.ID)
	v := validation.Violations{}
	in := form.Input(v)
	if !v.Empty() {
		form.Items = editorRows(form.Items)
		h.renderForm(w, r, http.StatusUnprocessableEntity, &form, v, action)
		return
	}

	_, err := h.invoices.Update(r.Context(), userID(r), inv.ID, in)
	if errors.Is(err, services.ErrInvoiceLocked) {
		h.Flash.Error(r, "invoice_locked")
		http.Redirect(w, r, action, http.StatusSeeOther)
		return
	}
	if errs, ok := formViolations(err); ok {
		form.Items = editorRows(form.Items)
		h.renderForm(w, r, http.StatusUnprocessableEntity, &form, errs, action)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, action, "invoice_saved")
}

func (h *InvoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.load(w, r, gate.ActionDelete)
	if !ok {
		return
	}
	if err := h.invoices.Delete(r.Context(), userID(r), inv.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, "/invoices", "invoice_deleted")
}

// SetStatus changes only the status; paid invoices can still be reopened.
func (h *InvoiceHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.load(w, r, gate.ActionView)
	if !ok {
		return
	}
	status := models.InvoiceStatus(r.PostFormValue("status"))
	err := h.invoices.SetStatus(r.Context(), userID(r), inv.ID, status)
	if _, invalid := services.ViolationsOf(err); invalid {
		h.Flash.Error(r, "invalid_choice")
		http.Redirect(w, r, invoicePath(inv.ID), http.StatusSeeOther)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, invoicePath(inv.ID), "status_updated")
}

func (h *InvoiceHandler) PDF(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.load(w, r, gate.ActionView)
	if !ok {
		return
	}
	h.writePDF(w, r, inv)
}

func (h *InvoiceHandler) writePDF(w http.ResponseWriter, r *http.Request, inv *models.Invoice) {
	user, err := h.profiles.User(r.Context(), inv.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.renderer.Render(r.Context(), pdf.FromInvoice(user.Profile, user.Email, inv))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Attachment(w, "application/pdf", pdf.Filename(inv.Number), b)
}

// Send queues the invoice email. The page returns immediately; the result
// shows up in the delivery history.
func (h *InvoiceHandler) Send(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.load(w, r, gate.ActionSend)
	if !ok {
		return
	}
	back := invoicePath(inv.ID)
	_, err := h.delivery.QueueInvoice(r.Context(), userID(r), inv.ID, r.PostFormValue("recipient"))
	v, invalid := services.ViolationsOf(err)
	switch {
	case errors.Is(err, services.ErrNoRecipient):
		h.Flash.Error(r, "no_recipient")
	case invalid:
		h.Flash.Error(r, v["recipient"])
	case err != nil:
		h.fail(w, r, err)
		return
	default:
		h.Flash.Success(r, "invoice_queued")
	}
	http.Redirect(w, r, back, http.StatusSeeOther)
}

// WhatsApp redirects to a wa.me click-to-chat link carrying the public URL.
func (h *InvoiceHandler) WhatsApp(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.load(w, r, gate.ActionShare)
	if !ok {
		return
	}
	token, err := h.invoices.EnsureShareToken(r.Context(), userID(r), inv.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	profile, err := h.profiles.Profile(r.Context(), inv.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	msg := share.InvoiceMessage{
		BusinessName: profile.CompanyName,
		ClientName:   inv.ClientName,
		Number:       inv.Number,
		Total:        pdf.Money(inv.Total, inv.Currency),
		DueDate:      inv.DueDate.Format("Jan 2, 2006"),
		PublicURL:    h.publicURL(token),
	}
	link, err := share.WhatsAppURL(inv.ClientPhone, msg.Text())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, link, http.StatusSeeOther)
}

func (h *InvoiceHandler) publicURL(token string) string {
	return h.baseURL + "/i/" + token
}

func exportStatus(r *http.Request) models.InvoiceStatus {
	st := models.InvoiceStatus(r.URL.Query().Get("status"))
	if !st.Valid() {
		return ""
	}
	return st
}

func exportName(ext string) string {
	return "invoices-" + time.Now().UTC().Format(validation.DateLayout) + ext
}

func (h *InvoiceHandler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	b, err := h.exporter.XLSX(r.Context(), userID(r), exportStatus(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Attachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", exportName(".xlsx"), b)
}

func (h *InvoiceHandler) ExportZIP(w http.ResponseWriter, r *http.Request) {
	b, err := h.exporter.ZIP(r.Context(), userID(r), exportStatus(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Attachment(w, "application/zip", exportName(".zip"), b)
}

// PublicShow renders the read-only page behind a share link. No session is
// needed; the unguessable token is the credential.
func (h *InvoiceHandler) PublicShow(w http.ResponseWriter, r *http.Request) {
	inv, profile, ok := h.shared(w, r)
	if !ok {
		return
	}
	h.render(w, r, "public_invoice.html", map[string]any{
		"Invoice": inv,
		"Profile": profile,
		"PDFURL":  "/i/" + r.PathValue("token") + "/pdf",
	})
}

func (h *InvoiceHandler) PublicPDF(w http.ResponseWriter, r *http.Request) {
	inv, _, ok := h.shared(w, r)
	if !ok {
		return
	}
	h.writePDF(w, r, inv)
}

func (h *InvoiceHandler) shared(w http.ResponseWriter, r *http.Request) (*models.Invoice, *models.UserProfile, bool) {
	inv, err := h.invoices.GetByShareToken(r.Context(), r.PathValue("token"))
	if err != nil {
		h.fail(w, r, err)
		return nil, nil, false
	}
	profile, err := h.profiles.Profile(r.Context(), inv.UserID)
	if err != nil {
		h.fail(w, r, err)
		return nil, nil, false
	}
	return inv, profile, true
}
