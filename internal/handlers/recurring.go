package handlers

import (
	"net/http"
	"strconv"

	"github.com/diewo77/invoiceflow/gate"
	"github.com/diewo77/invoiceflow/httpx"
	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/policy"
	"github.com/diewo77/invoiceflow/internal/services"
	"github.com/diewo77/invoiceflow/validation"
)

type RecurringHandler struct {
	*Page
	recurring *services.RecurringService
	profiles  *services.ProfileService
}

func NewRecurringHandler(p *Page, recurring *services.RecurringService, profiles *services.ProfileService) *RecurringHandler {
	return &RecurringHandler{Page: p, recurring: recurring, profiles: profiles}
}

func recurringPath(id uint) string {
	return "/recurring/" + strconv.FormatUint(uint64(id), 10)
}

func (h *RecurringHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.recurring.List(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "recurring.html", map[string]any{"Recurring": list})
}

func (h *RecurringHandler) form(w http.ResponseWriter, r *http.Request, status int, form *RecurringForm, errs validation.Violations, action string) {
	form.Items = editorRows(form.Items)
	h.View.PageStatus(w, r, status, "recurring_form.html", map[string]any{
		"Form":        form,
		"Errors":      errs,
		"Action":      action,
		"Editing":     action != "/recurring",
		"Currencies":  models.Currencies,
		"Frequencies": models.Frequencies,
	})
}

func (h *RecurringHandler) New(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profiles.Profile(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	form := &RecurringForm{
		Currency:  profile.Currency,
		TaxRate:   profile.TaxRate.String(),
		DueDays:   strconv.Itoa(profile.DefaultDueDays),
		Frequency: string(models.FrequencyMonthly),
		StartDate: formatDate(profile.Today(h.now())),
		Active:    true,
	}
	h.form(w, r, http.StatusOK, form, nil, "/recurring")
}

func (h *RecurringHandler) Create(w http.ResponseWriter, r *http.Request) {
	var form RecurringForm
	if err := decodeForm(r, &form); err != nil {
		h.View.Error(w, r, http.StatusBadRequest, "generic_error")
		return
	}
	v := validation.Violations{}
	in := form.Input(v)
	if !v.Empty() {
		h.form(w, r, http.StatusUnprocessableEntity, &form, v, "/recurring")
		return
	}
	_, err := h.recurring.Create(r.Context(), userID(r), in)
	if errs, ok := services.ViolationsOf(err); ok {
		h.form(w, r, http.StatusUnprocessableEntity, &form, errs, "/recurring")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, "/recurring", "recurring_saved")
}

func (h *RecurringHandler) load(w http.ResponseWriter, r *http.Request, action gate.Action) (*models.RecurringInvoice, bool) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		h.notFound(w, r)
		return nil, false
	}
	rec, err := h.recurring.Get(r.Context(), userID(r), id)
	if err == nil {
		err = h.Gate.Authorize(r.Context(), action, policy.ResourceRecurring, rec)
	}
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return rec, true
}

func (h *RecurringHandler) Edit(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r, gate.ActionUpdate)
	if !ok {
		return
	}
	h.form(w, r, http.StatusOK, recurringFormFrom(rec), nil, recurringPath(rec.ID))
}

func (h *RecurringHandler) Update(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r, gate.ActionUpdate)
	if !ok {
		return
	}
	var form RecurringForm
	if err := decodeForm(r, &form); err != nil {
		h.View.Error(w, r, http.StatusBadRequest, "generic_error")
		return
	}
	action := recurringPath(rec.ID)
	v := validation.Violations{}
	in := form.Input(v)
	if !v.Empty() {
		h.form(w, r, http.StatusUnprocessableEntity, &form, v, action)
		return
	}
	_, err := h.recurring.Update(r.Context(), userID(r), rec.ID, in)
	if errs, ok := services.ViolationsOf(err); ok {
		h.form(w, r, http.StatusUnprocessableEntity, &form, errs, action)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, "/recurring", "recurring_saved")
}

// Toggle pauses or resumes a definition.
func (h *RecurringHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r, gate.ActionUpdate)
	if !ok {
		return
	}
	if err := h.recurring.SetActive(r.Context(), userID(r), rec.ID, !rec.Active); err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, "/recurring", "recurring_saved")
}

func (h *RecurringHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r, gate.ActionDelete)
	if !ok {
		return
	}
	if err := h.recurring.Delete(r.Context(), userID(r), rec.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, "/recurring", "recurring_deleted")
}
