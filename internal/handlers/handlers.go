// Package handlers implements the HTML pages and form posts.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/diewo77/invoiceflow/auth"
	"github.com/diewo77/invoiceflow/gate"
	"github.com/diewo77/invoiceflow/internal/middleware"
	"github.com/diewo77/invoiceflow/internal/policy"
	"github.com/diewo77/invoiceflow/internal/services"
	"github.com/diewo77/invoiceflow/view"
)

// Page is shared by every page handler.
type Page struct {
	View  *view.Renderer
	Flash *middleware.Flasher
	Gate  *policy.AuthGate
	// Now defaults to time.Now.
	Now func() time.Time
}

func (p *Page) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func userID(r *http.Request) uint {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

// render writes a page, turning render failures into a 500.
func (p *Page) render(w http.ResponseWriter, r *http.Request, name string, data map[string]any) {
	p.View.Page(w, r, name, data)
}

// invalid re-renders a form with its violations.
func (p *Page) invalid(w http.ResponseWriter, r *http.Request, name string, data map[string]any) {
	p.View.PageStatus(w, r, http.StatusUnprocessableEntity, name, data)
}

// redirect queues a success flash and sends the browser to url.
func (p *Page) redirect(w http.ResponseWriter, r *http.Request, url, code string) {
	if code != "" {
		p.Flash.Success(r, code)
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// fail maps a service error to a response. Unknown errors are logged and
// shown as the generic error page.
func (p *Page) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		p.View.Error(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, gate.ErrUnauthorized):
		p.View.Error(w, r, http.StatusForbidden, "forbidden")
	default:
		zap.L().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Uint("user_id", userID(r)),
			zap.Error(err))
		p.View.Error(w, r, http.StatusInternalServerError, "generic_error")
	}
}

func (p *Page) notFound(w http.ResponseWriter, r *http.Request) {
	p.View.Error(w, r, http.StatusNotFound, "not_found")
}
