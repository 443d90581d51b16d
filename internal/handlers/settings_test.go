package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func businessFields() map[string]string {
	return map[string]string{
		"company_name":     "Jane Design",
		"currency":         "EUR",
		"tax_rate":         "20",
		"invoice_prefix":   "JD",
		"timezone":         "Europe/Paris",
		"default_due_days": "30",
	}
}

func TestBusinessLogoUpload(t *testing.T) {
	tests := []struct {
		name     string
		file     []byte
		status   int
		wantText string
	}{
		{"png accepted", pngHeader, http.StatusSeeOther, ""},
		{"text rejected", []byte("just some text, not an image"), http.StatusUnprocessableEntity, "Upload a PNG, JPEG, GIF or WebP image"},
		{"oversized rejected", append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 2<<20)...), http.StatusUnprocessableEntity, "Image is too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newApp(t)
			u, session := a.session(t, "owner@example.com")
			body, ct := multipartBody(t, businessFields(), tt.file)
			req := httptest.NewRequest(http.MethodPost, "/settings/business", body)
			req.Header.Set("Content-Type", ct)

			rec := a.do(t, req, session)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.wantText != "" && !strings.Contains(rec.Body.String(), tt.wantText) {
				t.Errorf("body does not mention %q", tt.wantText)
			}

			p, err := a.profiles.Profile(context.Background(), u.ID)
			if err != nil {
				t.Fatal(err)
			}
			if tt.status != http.StatusSeeOther {
				if p.LogoKey != "" || p.CompanyName == "Jane Design" {
					t.Errorf("profile changed on a rejected upload: %+v", p)
				}
				return
			}
			if !strings.HasPrefix(p.LogoURL, "/media/logos/") || !strings.HasSuffix(p.LogoKey, ".png") {
				t.Errorf("logo = %q %q", p.LogoKey, p.LogoURL)
			}
			if p.Currency != "EUR" || p.InvoicePrefix != "JD" {
				t.Errorf("business fields not saved: %+v", p)
			}
		})
	}
}

func TestBusinessLogoReplaceAndRemove(t *testing.T) {
	a := newApp(t)
	u, session := a.session(t, "owner@example.com")
	upload := func(fields map[string]string, file []byte) {
		t.Helper()
		body, ct := multipartBody(t, fields, file)
		req := httptest.NewRequest(http.MethodPost, "/settings/business", body)
		req.Header.Set("Content-Type", ct)
		if rec := a.do(t, req, session); rec.Code != http.StatusSeeOther {
			t.Fatalf("status = %d", rec.Code)
		}
	}

	upload(businessFields(), pngHeader)
	first, _ := a.profiles.Profile(context.Background(), u.ID)
	upload(businessFields(), pngHeader)
	second, _ := a.profiles.Profile(context.Background(), u.ID)
	if first.LogoKey == second.LogoKey {
		t.Fatal("second upload reused the key")
	}
	if _, err := os.Stat(filepath.Join(a.logos.Dir, filepath.FromSlash(first.LogoKey))); !os.IsNotExist(err) {
		t.Errorf("previous logo still on disk: %v", err)
	}

	fields := businessFields()
	fields["remove_logo"] = "true"
	upload(fields, nil)
	third, _ := a.profiles.Profile(context.Background(), u.ID)
	if third.LogoKey != "" || third.LogoURL != "" {
		t.Errorf("logo not removed: %q %q", third.LogoKey, third.LogoURL)
	}
}

func TestHealth(t *testing.T) {
	a := newApp(t)
	rec := a.get(t, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var report healthReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.Status != "ok" || report.Database != "ok" {
		t.Errorf("report = %+v", report)
	}

	sqlDB, _ := a.db.DB()
	sqlDB.Close()
	if rec := a.get(t, "/health"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("closed db status = %d", rec.Code)
	}
}

func TestLoginAndSignup(t *testing.T) {
	a := newApp(t)
	a.session(t, "owner@example.com")

	rec := a.post(t, "/login", url.Values{"email": {"owner@example.com"}, "password": {"nope"}})
	if rec.Code != http.StatusUnprocessableEntity || !strings.Contains(rec.Body.String(), "Invalid email or password") {
		t.Errorf("bad password = %d", rec.Code)
	}

	rec = a.post(t, "/login", url.Values{"email": {"owner@example.com"}, "password": {"correct-horse"}})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/dashboard" {
		t.Errorf("login = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	if cookieNamed(rec, "session") == nil {
		t.Error("no session cookie after login")
	}

	rec = a.post(t, "/signup", url.Values{"name": {"New"}, "email": {"owner@example.com"}, "password": {"long-enough-1"}, "confirm": {"long-enough-1"}})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("duplicate signup = %d", rec.Code)
	}
	rec = a.post(t, "/signup", url.Values{"name": {"New"}, "email": {"new@example.com"}, "password": {"long-enough-1"}, "confirm": {"long-enough-1"}})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/settings/business" {
		t.Errorf("signup = %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestHomeRedirectsSignedInUsers(t *testing.T) {
	a := newApp(t)
	_, session := a.session(t, "owner@example.com")
	if rec := a.get(t, "/"); rec.Code != http.StatusOK {
		t.Errorf("anonymous home = %d", rec.Code)
	}
	if rec := a.get(t, "/", session); rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/dashboard" {
		t.Errorf("signed-in home = %d", rec.Code)
	}
	if rec := a.get(t, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown path = %d", rec.Code)
	}
}
