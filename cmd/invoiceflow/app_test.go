package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/diewo77/invoiceflow/auth"
	"github.com/diewo77/invoiceflow/internal/config"
	"github.com/diewo77/invoiceflow/internal/db/dbtest"
	"github.com/diewo77/invoiceflow/internal/mailer"
	"github.com/diewo77/invoiceflow/internal/services"
	"github.com/diewo77/invoiceflow/internal/storage"
)

func newTestApp(t *testing.T) (*App, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.App.AllowedHosts = []string{"example.com"}
	cfg.App.BaseURL = "http://example.com"
	cfg.Storage.Dir = t.TempDir()

	app := NewApp(cfg, dbtest.Open(t), mailer.NewLogSender(), storage.NewFSStore(cfg.Storage.Dir, "/media"))
	h, err := app.Handler()
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	return app, h
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSignedInPagesRender(t *testing.T) {
	app, h := newTestApp(t)
	if err := seed(context.Background(), app, "demo@example.com", "demo-password"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	user, err := app.profiles.Authenticate(context.Background(), "demo@example.com", "demo-password")
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	auth.CreateSession(rec, user.ID)
	session := rec.Result().Cookies()[0]

	pages := []string{
		"/dashboard", "/analytics", "/analytics?months=3",
		"/invoices", "/invoices?status=paid&q=acme", "/invoices/new",
		"/templates", "/templates/new", "/recurring", "/recurring/new",
		"/settings/profile", "/settings/business", "/settings/security",
		"/settings/notifications", "/settings/billing",
	}
	for _, p := range pages {
		t.Run(p, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, p, nil)
			req.AddCookie(session)
			rec := serve(h, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("GET %s = %d\n%s", p, rec.Code, rec.Body)
			}
			if !strings.Contains(rec.Body.String(), "</html>") {
				t.Errorf("GET %s did not render a full page", p)
			}
		})
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := context.Background()
	for range 2 {
		if err := seed(ctx, app, "demo@example.com", "demo-password"); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	user, _ := app.profiles.Authenticate(ctx, "demo@example.com", "demo-password")
	page, err := app.invoices.List(ctx, user.ID, services.ListFilter{PerPage: 100})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 5 {
		t.Errorf("invoices after two seeds = %d, want 5", page.Total)
	}
}

func TestMiddlewareChain(t *testing.T) {
	_, h := newTestApp(t)

	t.Run("unknown host", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Host = "evil.test"
		if rec := serve(h, req); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})
	t.Run("cross-origin post", func(t *testing.T) {
		form := url.Values{"email": {"a@b.c"}, "password": {"x"}}
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Sec-Fetch-Site", "cross-site")
		req.Header.Set("Origin", "https://evil.test")
		if rec := serve(h, req); rec.Code != http.StatusForbidden {
			t.Errorf("status = %d", rec.Code)
		}
	})
	t.Run("security headers and health", func(t *testing.T) {
		rec := serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != http.StatusOK || rec.Header().Get("X-Frame-Options") != "DENY" {
			t.Errorf("healthz = %d, headers %v", rec.Code, rec.Header())
		}
	})
	t.Run("static assets", func(t *testing.T) {
		rec := serve(h, httptest.NewRequest(http.MethodGet, "/static/app.css", nil))
		if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/css") {
			t.Errorf("app.css = %d %q", rec.Code, rec.Header().Get("Content-Type"))
		}
	})
	t.Run("login required", func(t *testing.T) {
		rec := serve(h, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
		loc := rec.Header().Get("Location")
		if rec.Code != http.StatusSeeOther || !strings.HasPrefix(loc, "/login?next=") {
			t.Fatalf("dashboard = %d %q", rec.Code, loc)
		}
		next := strings.TrimPrefix(loc, "/login?next=")
		if got := auth.SafeNext(next, "/"); got != "/dashboard" {
			t.Errorf("next decodes to %q", got)
		}
	})
}

func TestSchedulerTasks(t *testing.T) {
	app, _ := newTestApp(t)
	s, err := app.Scheduler()
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, name := range []string{"recurring", "sweep-overdue"} {
		if !s.RunTask(ctx, name) {
			t.Errorf("task %s not registered", name)
		}
	}
	for _, st := range s.Status() {
		if st.LastErr != "" {
			t.Errorf("task %s failed: %s", st.Name, st.LastErr)
		}
	}
	if err := app.runRecurring(ctx, time.Now()); err != nil {
		t.Errorf("runRecurring: %v", err)
	}
}

func TestCLICommands(t *testing.T) {
	root := buildCLI()
	want := map[string]bool{"serve": false, "migrate": false, "seed": false, "worker": false, "recurring": false, "sweep-overdue": false}
	for _, c := range root.Commands {
		if _, ok := want[c.Name]; ok {
			want[c.Name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing command %q", name)
		}
	}
}
