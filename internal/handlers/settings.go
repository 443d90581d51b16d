package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/diewo77/invoiceflow/gate"
	"github.com/diewo77/invoiceflow/httpx"
	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/policy"
	"github.com/diewo77/invoiceflow/internal/queue"
	"github.com/diewo77/invoiceflow/internal/services"
	"github.com/diewo77/invoiceflow/internal/storage"
	"github.com/diewo77/invoiceflow/validation"
)

const recentDeliveries = 20

// Timezones offered in the business settings; any IANA name is accepted.
var commonTimezones = []string{
	"UTC", "Europe/London", "Europe/Paris", "Europe/Berlin", "Africa/Lagos",
	"Africa/Nairobi", "Asia/Kolkata", "Asia/Singapore", "Asia/Tokyo",
	"Australia/Sydney", "America/New_York", "America/Chicago",
	"America/Denver", "America/Los_Angeles", "America/Sao_Paulo",
}

// SettingsHandler serves the settings tabs.
type SettingsHandler struct {
	*Page
	profiles *services.ProfileService
	queue    *queue.Queue
	logos    storage.LogoStore
}

func NewSettingsHandler(p *Page, profiles *services.ProfileService, q *queue.Queue, logos storage.LogoStore) *SettingsHandler {
	return &SettingsHandler{Page: p, profiles: profiles, queue: q, logos: logos}
}

func (h *SettingsHandler) Profile(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	user, err := h.profiles.User(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data := map[string]any{"Tab": "profile", "Name": user.Name, "Email": user.Email}
	if r.Method == http.MethodGet {
		h.render(w, r, "settings_profile.html", data)
		return
	}

	in := services.AccountInput{Name: r.PostFormValue("name"), Email: r.PostFormValue("email")}
	err = h.profiles.UpdateAccount(r.Context(), uid, in)
	if v, ok := services.ViolationsOf(err); ok {
		data["Name"], data["Email"], data["Errors"] = in.Name, in.Email, v
		h.invalid(w, r, "settings_profile.html", data)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, "/settings/profile", "settings_saved")
}

func (h *SettingsHandler) businessPage(w http.ResponseWriter, r *http.Request, status int, form *BusinessForm, profile *models.UserProfile, errs validation.Violations) {
	h.View.PageStatus(w, r, status, "settings_business.html", map[string]any{
		"Tab":        "business",
		"Form":       form,
		"Profile":    profile,
		"Errors":     errs,
		"Currencies": models.Currencies,
		"Timezones":  commonTimezones,
	})
}

func (h *SettingsHandler) Business(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	profile, err := h.profiles.Profile(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if r.Method == http.MethodGet {
		h.businessPage(w, r, http.StatusOK, businessFormFrom(profile), profile, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxLogoSize+maxFormMemory)
	var form BusinessForm
	if err := decodeForm(r, &form); err != nil {
		h.View.Error(w, r, http.StatusBadRequest, "generic_error")
		return
	}
	v := validation.Violations{}
	in := form.Input(v)
	logo, err := uploadedLogo(r)
	switch {
	case errors.Is(err, storage.ErrUnsupportedImage):
		v.Add("logo", "unsupported_image")
	case errors.Is(err, storage.ErrImageTooLarge):
		v.Add("logo", "image_too_large")
	case err != nil:
		h.fail(w, r, err)
		return
	}
	if !v.Empty() {
		h.businessPage(w, r, http.StatusUnprocessableEntity, &form, profile, v)
		return
	}

	err = h.profiles.UpdateBusiness(r.Context(), uid, in)
	if errs, ok := services.ViolationsOf(err); ok {
		h.businessPage(w, r, http.StatusUnprocessableEntity, &form, profile, errs)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	switch {
	case logo != nil:
		key, url, err := storage.Save(r.Context(), h.logos, uid, logo)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if err := h.replaceLogo(r, uid, key, url); err != nil {
			h.fail(w, r, err)
			return
		}
	case form.RemoveLogo:
		if err := h.replaceLogo(r, uid, "", ""); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	h.redirect(w, r, "/settings/business", "settings_saved")
}

// uploadedLogo returns the validated "logo" file, or nil when none was sent.
func uploadedLogo(r *http.Request) (*storage.Image, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	file, _, err := r.FormFile("logo")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return storage.ReadImage(file)
}

// replaceLogo records the new logo and removes the previous object. A failed
// removal only leaves an orphan behind, so it is logged and ignored.
func (h *SettingsHandler) replaceLogo(r *http.Request, uid uint, key, url string) error {
	old, err := h.profiles.SetLogo(r.Context(), uid, key, url)
	if err != nil {
		return err
	}
	if old != "" && old != key {
		if err := h.logos.Delete(r.Context(), old); err != nil {
			zap.L().Warn("delete previous logo", zap.String("key", old), zap.Error(err))
		}
	}
	return nil
}

func (h *SettingsHandler) Security(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Tab": "security"}
	if r.Method == http.MethodGet {
		h.render(w, r, "settings_security.html", data)
		return
	}
	err := h.profiles.ChangePassword(r.Context(), userID(r),
		r.PostFormValue("current"), r.PostFormValue("password"), r.PostFormValue("confirm"))
	if v, ok := services.ViolationsOf(err); ok {
		data["Errors"] = v
		h.invalid(w, r, "settings_security.html", data)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, "/settings/security", "password_changed")
}

func (h *SettingsHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if r.Method == http.MethodPost {
		in := services.NotificationInput{
			NotifyOnSend:  r.PostFormValue("notify_on_send") == "true",
			NotifyOverdue: r.PostFormValue("notify_overdue") == "true",
		}
		if err := h.profiles.UpdateNotifications(r.Context(), uid, in); err != nil {
			h.fail(w, r, err)
			return
		}
		h.redirect(w, r, "/settings/notifications", "settings_saved")
		return
	}

	profile, err := h.profiles.Profile(r.Context(), uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	jobs, err := h.queue.Recent(r.Context(), uid, recentDeliveries)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "settings_notifications.html", map[string]any{
		"Tab":     "notifications",
		"Profile": profile,
		"Jobs":    jobs,
	})
}

// RetryDelivery puts a dead-lettered email back in the queue.
func (h *SettingsHandler) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := httpx.PathID(r, "id")
	if !ok {
		h.notFound(w, r)
		return
	}
	uid := userID(r)
	job, err := h.queue.Get(r.Context(), uid, id)
	if errors.Is(err, queue.ErrNoJob) {
		h.notFound(w, r)
		return
	}
	if err == nil {
		err = h.Gate.Authorize(r.Context(), gate.ActionSend, policy.ResourceDelivery, job)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.queue.Retry(r.Context(), uid, job.ID); errors.Is(err, queue.ErrNoJob) {
		h.Flash.Error(r, "delivery_not_dead")
		http.Redirect(w, r, "/settings/notifications", http.StatusSeeOther)
		return
	} else if err != nil {
		h.fail(w, r, err)
		return
	}
	h.redirect(w, r, "/settings/notifications", "delivery_requeued")
}

func (h *SettingsHandler) Billing(w http.ResponseWriter, r *http.Request) {
	usage, err := h.profiles.Usage(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "settings_billing.html", map[string]any{
		"Tab":   "billing",
		"Usage": usage,
		"Plans": services.PlanInvoiceLimits,
	})
}
