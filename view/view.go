// Package view renders the server-side HTML pages.
package view

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/diewo77/invoiceflow/auth"
	"github.com/diewo77/invoiceflow/i18n"
	"github.com/diewo77/invoiceflow/internal/pdf"
	"github.com/diewo77/invoiceflow/validation"
)

const (
	layoutName = "layout.html"
	dateLayout = "2006-01-02"
)

// Options wires request-scoped values into templates.
type Options struct {
	// Dev re-parses templates on every render.
	Dev bool
	// Static holds the assets served under /static/, used for cache busting.
	Static fs.FS
	Lang   func(*http.Request) string
	Theme  func(*http.Request) string
	Flash  func(*http.Request) (kind, msg string, ok bool)
}

// Renderer parses templates from an fs.FS: layout.html, partials/*.html and
// one file per page. Parsed pages are cached until Invalidate.
type Renderer struct {
	fsys fs.FS
	opts Options

	mu    sync.RWMutex
	cache map[string]*template.Template

	assetMu sync.Mutex
	assets  map[string]string

	log *zap.Logger
}

func New(fsys fs.FS, opts Options) *Renderer {
	if opts.Lang == nil {
		opts.Lang = func(*http.Request) string { return i18n.DefaultLang }
	}
	if opts.Theme == nil {
		opts.Theme = func(*http.Request) string { return "system" }
	}
	return &Renderer{
		fsys:   fsys,
		opts:   opts,
		cache:  map[string]*template.Template{},
		assets: map[string]string{},
		log:    zap.L().Named("view"),
	}
}

// Invalidate drops every cached template and asset hash.
func (v *Renderer) Invalidate() {
	v.mu.Lock()
	v.cache = map[string]*template.Template{}
	v.mu.Unlock()
	v.assetMu.Lock()
	v.assets = map[string]string{}
	v.assetMu.Unlock()
}

// Render executes page name with data and writes it with status. Output is
// buffered so a template error never leaves a half-written page.
func (v *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, name string, data map[string]any) error {
	t, err := v.lookup(name)
	if err != nil {
		return err
	}
	t, err = t.Clone()
	if err != nil {
		return err
	}
	t.Funcs(v.requestFuncs(r))

	if data == nil {
		data = map[string]any{}
	}
	v.defaults(r, data)

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return fmt.Errorf("view: execute %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err = buf.WriteTo(w)
	return err
}

// Page renders name with 200 and turns a render failure into a 500.
func (v *Renderer) Page(w http.ResponseWriter, r *http.Request, name string, data map[string]any) {
	v.PageStatus(w, r, http.StatusOK, name, data)
}

// PageStatus is Page with an explicit status, used for 422 form re-renders.
func (v *Renderer) PageStatus(w http.ResponseWriter, r *http.Request, status int, name string, data map[string]any) {
	if err := v.Render(w, r, status, name, data); err != nil {
		v.log.Error("render page", zap.String("page", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// Error renders error.html with a translated message code.
func (v *Renderer) Error(w http.ResponseWriter, r *http.Request, status int, code string) {
	data := map[string]any{"Status": status, "StatusText": http.StatusText(status), "Code": code}
	if err := v.Render(w, r, status, "error.html", data); err != nil {
		v.log.Error("render error page", zap.Error(err))
		http.Error(w, http.StatusText(status), status)
	}
}

func (v *Renderer) defaults(r *http.Request, data map[string]any) {
	if _, ok := data["IsLoggedIn"]; !ok {
		_, loggedIn := auth.UserIDFromContext(r.Context())
		data["IsLoggedIn"] = loggedIn
	}
	if _, ok := data["Path"]; !ok {
		data["Path"] = r.URL.Path
	}
	if v.opts.Flash != nil {
		if _, ok := data["Flash"]; !ok {
			if kind, msg, ok := v.opts.Flash(r); ok {
				data["Flash"] = map[string]string{"Kind": kind, "Message": msg}
			}
		}
	}
}

func (v *Renderer) lookup(name string) (*template.Template, error) {
	if !v.opts.Dev {
		v.mu.RLock()
		t, ok := v.cache[name]
		v.mu.RUnlock()
		if ok {
			return t, nil
		}
	}
	t, err := v.parse(name)
	if err != nil {
		return nil, err
	}
	if !v.opts.Dev {
		v.mu.Lock()
		v.cache[name] = t
		v.mu.Unlock()
	}
	return t, nil
}

func (v *Renderer) parse(name string) (*template.Template, error) {
	content, err := fs.ReadFile(v.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("view: %w", err)
	}
	partials, err := fs.Glob(v.fsys, "partials/*.html")
	if err != nil {
		return nil, err
	}
	// Full documents skip the layout but can still use the partials.
	root, files := layoutName, append([]string{layoutName, name}, partials...)
	if bytes.Contains(bytes.ToLower(content), []byte("<!doctype")) {
		root, files = name, append([]string{name}, partials...)
	}
	t, err := template.New(root).Funcs(baseFuncs()).ParseFS(v.fsys, files...)
	if err != nil {
		return nil, fmt.Errorf("view: parse %s: %w", name, err)
	}
	return t, nil
}

// baseFuncs are the helpers that do not depend on the request. The request
// funcs are declared here too so templates parse, then replaced per render.
func baseFuncs() template.FuncMap {
	return template.FuncMap{
		"t":     func(code string) string { return code },
		"lang":  func() string { return i18n.DefaultLang },
		"theme": func() string { return "system" },
		"asset": func(rel string) string { return "/static/" + rel },
		"year":  func() int { return time.Now().Year() },
		"money": pdf.Money,
		"qty":   pdf.Quantity,
		"date":  formatDate,
		"add":   func(a, b int) int { return a + b },
		"dec":   func(d decimal.Decimal) string { return d.StringFixed(2) },
		"lower": strings.ToLower,
		"pct":   percent,
		// fieldError returns the violation code for field, or "".
		"fieldError": fieldError,
		// dict creates a map from key-value pairs for passing to sub-templates.
		// Usage: {{ template "partial" (dict "Key1" val1 "Key2" val2) }}
		"dict": func(values ...any) map[string]any {
			if len(values)%2 != 0 {
				return nil
			}
			m := make(map[string]any, len(values)/2)
			for i := 0; i < len(values); i += 2 {
				key, ok := values[i].(string)
				if !ok {
					continue
				}
				m[key] = values[i+1]
			}
			return m
		},
	}
}

func (v *Renderer) requestFuncs(r *http.Request) template.FuncMap {
	lang := v.opts.Lang(r)
	theme := v.opts.Theme(r)
	return template.FuncMap{
		"t":     func(code string) string { return i18n.T(lang, code) },
		"lang":  func() string { return lang },
		"theme": func() string { return theme },
		"asset": v.asset,
	}
}

func formatDate(t any) string {
	switch d := t.(type) {
	case time.Time:
		if d.IsZero() {
			return ""
		}
		return d.Format(dateLayout)
	case *time.Time:
		if d == nil || d.IsZero() {
			return ""
		}
		return d.Format(dateLayout)
	}
	return ""
}

func fieldError(errs any, field string) string {
	switch e := errs.(type) {
	case validation.Violations:
		return e[field]
	case map[string]string:
		return e[field]
	}
	return ""
}

// percent scales v against peak for bar widths.
func percent(v decimal.Decimal, peak float64) int {
	if peak <= 0 {
		return 0
	}
	return int(v.InexactFloat64() / peak * 100)
}

// asset returns /static/<rel>?v=<hash> for cache busting.
func (v *Renderer) asset(rel string) string {
	if strings.HasPrefix(rel, "http://") || strings.HasPrefix(rel, "https://") || strings.HasPrefix(rel, "//") {
		return rel
	}
	v.assetMu.Lock()
	defer v.assetMu.Unlock()
	if u, ok := v.assets[rel]; ok && !v.opts.Dev {
		return u
	}
	u := "/static/" + rel
	if v.opts.Static != nil {
		if b, err := fs.ReadFile(v.opts.Static, rel); err == nil {
			h := sha1.Sum(b)
			u += "?v=" + fmt.Sprintf("%x", h[:8])
		}
	}
	v.assets[rel] = u
	return u
}
