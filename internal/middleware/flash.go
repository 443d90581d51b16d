package middleware

import (
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"

	"github.com/diewo77/invoiceflow/i18n"
)

const (
	flashKey     = "flash"
	flashKindKey = "flash_kind"
)

// Flash kinds map to alert styles in the layout.
const (
	FlashSuccess = "success"
	FlashError   = "error"
)

// NewSessions builds the session manager used for one-shot flash messages.
// Authentication does not live here; it uses the signed auth cookie.
func NewSessions(secure bool) *scs.SessionManager {
	sm := scs.New()
	sm.Lifetime = 24 * time.Hour
	sm.IdleTimeout = time.Hour
	sm.Cookie.Name = "flash_session"
	sm.Cookie.HttpOnly = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = secure
	return sm
}

// Flasher stores translated messages shown on the next page render.
type Flasher struct {
	sessions *scs.SessionManager
}

func NewFlasher(sm *scs.SessionManager) *Flasher {
	return &Flasher{sessions: sm}
}

// Handler loads and saves the session around next.
func (f *Flasher) Handler(next http.Handler) http.Handler {
	return f.sessions.LoadAndSave(next)
}

// Success queues a translated success message.
func (f *Flasher) Success(r *http.Request, code string) {
	f.put(r, FlashSuccess, code)
}

// Error queues a translated error message.
func (f *Flasher) Error(r *http.Request, code string) {
	f.put(r, FlashError, code)
}

func (f *Flasher) put(r *http.Request, kind, code string) {
	f.sessions.Put(r.Context(), flashKey, i18n.T(LangFrom(r), code))
	f.sessions.Put(r.Context(), flashKindKey, kind)
}

// Pop returns and clears the pending message. ok is false when there is none.
func (f *Flasher) Pop(r *http.Request) (kind, msg string, ok bool) {
	msg = f.sessions.PopString(r.Context(), flashKey)
	kind = f.sessions.PopString(r.Context(), flashKindKey)
	if msg == "" {
		return "", "", false
	}
	if kind == "" {
		kind = FlashSuccess
	}
	return kind, msg, true
}
