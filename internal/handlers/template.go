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

type TemplateHandler struct {
	*Page
	templates *services.TemplateService
	profiles  *services.ProfileService
}

func NewTemplateHandler(p *Page, templates *services.TemplateService, profiles *services.ProfileService) *TemplateHandler {
	return &TemplateHandler{Page: p, templates: templates, profiles: profiles}
}

func templatePath(id uint) string {
	return "/templates/" + strconv.FormatUint(uint64(id), 10)
}

func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.templates.List(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "templates.html", map[string]any{"Templates": list})
}

func (h *TemplateHandler) form(w http.ResponseWriter, r *http.Request, status int, form *TemplateForm, errs validation.Violations, action string) {
	form.Items = editorRows(form.Items)
	h.View.PageStatus(w, r, status, "template_form.html", map[string]any{
		"Form":       form,
		"Errors":     errs,
		"Action":     action,
		"Editing":    action != "/templates",
		"Currencies": models.Currencies,
	})
}

func (h *TemplateHandler) New(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profiles.Profile(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	form := &TemplateForm{
		Currency: profile.Currency,
		TaxRate:  profile.TaxRate.String(),
		DueDays:  strconv.Itoa(profile.DefaultDueDays),
	}
	h.form(w, r, http.StatusOK, form, nil, "/templates")
}

func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var form TemplateForm
	if err := decodeForm(r, &form); err != nil {
		h.View.Error(w, r, http.StatusBadRequest, "generic_error")
		return
	}
	v := validation.Violations{}
	in := form.Input(v)
	if !v.Empty() {
		h.form(w, r, http.StatusUnprocessableEntity, &form, v, "/templates")
		return
	}
	_, err := h.templates.Create(r.Context(), userID(r), in)
	if errs, ok := services.ViolationsOf(err); ok {
		h.form(w, r, http.StatusUnprocessableEntity, &form, errs, "/templates")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, "/templates", "template_saved")
}

func (h *TemplateHandler) load(w http.ResponseWriter, r *http.Request, action gate.Action) (*models.InvoiceTemplate, bool) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		h.notFound(w, r)
		return nil, false
	}
	t, err := h.templates.Get(r.Context(), userID(r), id)
	if err == nil {
		err = h.Gate.Authorize(r.Context(), action, policy.ResourceTemplate, t)
	}
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return t, true
}

func (h *TemplateHandler) Edit(w http.ResponseWriter, r *http.Request) {
	t, ok := h.load(w, r, gate.ActionUpdate)
	if !ok {
		return
	}
	form, err := templateFormFrom(t)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.form(w, r, http.StatusOK, form, nil, templatePath(t.ID))
}

func (h *TemplateHandler) Update(w http.ResponseWriter, r *http.Request) {
	t, ok := h.load(w, r, gate.ActionUpdate)
	if !ok {
		return
	}
	var form TemplateForm
	if err := decodeForm(r, &form); err != nil {
		h.View.Error(w, r, http.StatusBadRequest, "generic_error")
		return
	}
	action := templatePath(t.ID)
	v := validation.Violations{}
	in := form.Input(v)
	if !v.Empty() {
		h.form(w, r, http.StatusUnprocessableEntity, &form, v, action)
		return
	}
	_, err := h.templates.Update(r.Context(), userID(r), t.ID, in)
	if errs, ok := services.ViolationsOf(err); ok {
		h.form(w, r, http.StatusUnprocessableEntity, &form, errs, action)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, "/templates", "template_saved")
}

func (h *TemplateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	t, ok := h.load(w, r, gate.ActionDelete)
	if !ok {
		return
	}
	if err := h.templates.Delete(r.Context(), userID(r), t.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, "/templates", "template_deleted")
}
