// Package middleware holds the HTTP middleware wrapped around the router.
package middleware

import (
	"context"
	"net/http"

	"github.com/diewo77/invoiceflow/i18n"
)

type ctxKey string

const (
	ctxLang  ctxKey = "pref_lang"
	ctxTheme ctxKey = "pref_theme"

	prefCookieAge = 86400 * 30
	defaultTheme  = "system"
)

var themes = map[string]bool{"light": true, defaultTheme: true, "dark": true}

// resolvePref picks a preference from the query string, then the cookie of
// the same name. A valid query value is remembered in the cookie.
func resolvePref(w http.ResponseWriter, r *http.Request, name string, valid func(string) bool) string {
	if q := r.URL.Query().Get(name); valid(q) {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    q,
			Path:     "/",
			MaxAge:   prefCookieAge,
			SameSite: http.SameSiteLaxMode,
		})
		return q
	}
	if c, err := r.Cookie(name); err == nil && valid(c.Value) {
		return c.Value
	}
	return ""
}

// Prefs stores the UI language and theme in the request context. The language
// falls back to Accept-Language, the theme to "system".
func Prefs(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang := resolvePref(w, r, "lang", i18n.Supported)
		if lang == "" {
			lang = i18n.DetectLanguage(r.Header.Get("Accept-Language"))
		}
		theme := resolvePref(w, r, "theme", func(v string) bool { return themes[v] })
		if theme == "" {
			theme = defaultTheme
		}
		ctx := context.WithValue(r.Context(), ctxLang, lang)
		ctx = context.WithValue(ctx, ctxTheme, theme)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LangFrom returns the request language, or the default outside Prefs.
func LangFrom(r *http.Request) string {
	if v, ok := r.Context().Value(ctxLang).(string); ok && v != "" {
		return v
	}
	return i18n.DefaultLang
}

// ThemeFrom returns the request theme.
func ThemeFrom(r *http.Request) string {
	if v, ok := r.Context().Value(ctxTheme).(string); ok && v != "" {
		return v
	}
	return defaultTheme
}
