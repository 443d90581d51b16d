package handlers

import (
	"errors"
	"net/http"

	"github.com/diewo77/invoiceflow/auth"
	"github.com/diewo77/invoiceflow/internal/services"
)

type AuthHandler struct {
	*Page
	profiles *services.ProfileService
}

func NewAuthHandler(p *Page, profiles *services.ProfileService) *AuthHandler {
	return &AuthHandler{Page: p, profiles: profiles}
}

// Home is the landing page; signed-in users go straight to the dashboard.
func (h *AuthHandler) Home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		h.notFound(w, r)
		return
	}
	if _, ok := auth.UserIDFromContext(r.Context()); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.render(w, r, "home.html", nil)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("next")
	if r.Method == http.MethodGet {
		h.render(w, r, "login.html", map[string]any{"Next": next})
		return
	}

	if err := r.ParseForm(); err != nil {
		h.fail(w, r, err)
		return
	}
	email := r.PostFormValue("email")
	user, err := h.profiles.Authenticate(r.Context(), email, r.PostFormValue("password"))
	if errors.Is(err, services.ErrInvalidCredentials) {
		h.invalid(w, r, "login.html", map[string]any{
			"Email": email,
			"Next":  r.PostFormValue("next"),
			"Error": "invalid_credentials",
		})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	auth.CreateSession(w, user.ID)
	http.Redirect(w, r, auth.SafeNext(r.PostFormValue("next"), "/dashboard"), http.StatusSeeOther)
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		h.render(w, r, "signup.html", nil)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.fail(w, r, err)
		return
	}
	in := services.SignupInput{
		Name:     r.PostFormValue("name"),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
		Confirm:  r.PostFormValue("confirm"),
	}
	user, err := h.profiles.Signup(r.Context(), in)
	if v, ok := services.ViolationsOf(err); ok {
		h.invalid(w, r, "signup.html", map[string]any{"Name": in.Name, "Email": in.Email, "Errors": v})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	auth.CreateSession(w, user.ID)
	h.redirect(w, r, "/settings/business", "welcome")
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSession(w)
	h.redirect(w, r, "/", "logged_out")
}
