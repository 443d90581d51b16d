package handlers

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/auth"
	"github.com/diewo77/invoiceflow/internal/db/dbtest"
	"github.com/diewo77/invoiceflow/internal/mailer"
	"github.com/diewo77/invoiceflow/internal/middleware"
	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/pdf"
	"github.com/diewo77/invoiceflow/internal/policy"
	"github.com/diewo77/invoiceflow/internal/queue"
	"github.com/diewo77/invoiceflow/internal/services"
	"github.com/diewo77/invoiceflow/internal/storage"
	"github.com/diewo77/invoiceflow/view"
	"github.com/diewo77/invoiceflow/web"
)

type stubRenderer struct{}

func (stubRenderer) Render(_ context.Context, doc pdf.Document) ([]byte, error) {
	return []byte("%PDF-" + doc.Number), nil
}

type nopSender struct{}

func (nopSender) Send(context.Context, mailer.Message) error { return nil }

// app wires every page handler onto a mux the way the server does, backed by
// an in-memory database.
type app struct {
	db       *gorm.DB
	profiles *services.ProfileService
	invoices *services.InvoiceService
	queue    *queue.Queue
	logos    *storage.FSStore
	handler  http.Handler
}

func newApp(t *testing.T) *app {
	t.Helper()
	auth.SetSecret("handlers-test-secret")

	conn := dbtest.Open(t)
	profiles := services.NewProfileService(conn)
	invoices := services.NewInvoiceService(conn)
	templates := services.NewTemplateService(conn)
	q := queue.New(conn, queue.Options{})
	delivery := services.NewDelivery(invoices, profiles, stubRenderer{}, nopSender{}, q, services.DeliveryConfig{
		FromAddress: "invoices@invoiceflow.test",
		BaseURL:     "https://app.invoiceflow.test",
	})
	exporter := services.NewExporter(invoices, profiles, stubRenderer{})
	logos := storage.NewFSStore(t.TempDir(), "/media")

	flasher := middleware.NewFlasher(middleware.NewSessions(false))
	page := &Page{
		View: view.New(web.Templates(), view.Options{
			Static: web.Static(),
			Lang:   middleware.LangFrom,
			Theme:  middleware.ThemeFrom,
			Flash:  flasher.Pop,
		}),
		Flash: flasher,
		Gate:  policy.NewAuthGate(),
		Now:   func() time.Time { return testNow },
	}

	authH := NewAuthHandler(page, profiles)
	inv := NewInvoiceHandler(page, invoices, profiles, templates, delivery, exporter, stubRenderer{}, "https://app.invoiceflow.test/")
	settings := NewSettingsHandler(page, profiles, q, logos)
	health := NewHealthHandler(conn, q)
	recurring := NewRecurringHandler(page, services.NewRecurringService(conn, q), profiles)

	mux := http.NewServeMux()
	mux.HandleFunc("/", authH.Home)
	mux.HandleFunc("GET /login", authH.Login)
	mux.HandleFunc("POST /login", authH.Login)
	mux.HandleFunc("GET /signup", authH.Signup)
	mux.HandleFunc("POST /signup", authH.Signup)
	mux.HandleFunc("GET /health", health.Health)
	mux.HandleFunc("GET /i/{token}", inv.PublicShow)
	mux.HandleFunc("GET /i/{token}/pdf", inv.PublicPDF)

	private := http.NewServeMux()
	private.HandleFunc("GET /invoices", inv.List)
	private.HandleFunc("GET /invoices/new", inv.New)
	private.HandleFunc("POST /invoices", inv.Create)
	private.HandleFunc("GET /invoices/{id}", inv.Show)
	private.HandleFunc("GET /invoices/{id}/edit", inv.Edit)
	private.HandleFunc("POST /invoices/{id}", inv.Update)
	private.HandleFunc("GET /invoices/{id}/pdf", inv.PDF)
	private.HandleFunc("GET /invoices/{id}/share/whatsapp", inv.WhatsApp)
	private.HandleFunc("POST /invoices/{id}/send", inv.Send)
	private.HandleFunc("GET /recurring/new", recurring.New)
	private.HandleFunc("GET /settings/business", settings.Business)
	private.HandleFunc("POST /settings/business", settings.Business)
	for _, p := range []string{"/invoices", "/invoices/", "/recurring/", "/settings/"} {
		mux.Handle(p, auth.RequireAuth(private))
	}

	return &app{
		db:       conn,
		profiles: profiles,
		invoices: invoices,
		queue:    q,
		logos:    logos,
		handler:  middleware.Prefs(flasher.Handler(auth.Middleware(mux))),
	}
}

// session signs up a user and returns the auth cookie for them.
func (a *app) session(t *testing.T, email string) (*models.User, *http.Cookie) {
	t.Helper()
	u, err := a.profiles.Signup(context.Background(), services.SignupInput{
		Name: "Jane Owner", Email: email, Password: "correct-horse", Confirm: "correct-horse",
	})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	rec := httptest.NewRecorder()
	auth.CreateSession(rec, u.ID)
	return u, rec.Result().Cookies()[0]
}

func (a *app) do(t *testing.T, req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *app) get(t *testing.T, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	return a.do(t, httptest.NewRequest(http.MethodGet, target, nil), cookies...)
}

func (a *app) post(t *testing.T, target string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return a.do(t, req, cookies...)
}

var listAll = services.ListFilter{PerPage: 100}

// testNow is late evening in UTC, already the next day in Europe/Paris.
var testNow = time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)

func (a *app) invoice(t *testing.T, userID uint, status models.InvoiceStatus, edits ...func(*services.InvoiceInput)) *models.Invoice {
	t.Helper()
	in := services.InvoiceInput{
		ClientName:  "Acme",
		ClientEmail: "ap@acme.test",
		ClientPhone: "+1 555 0100",
		Currency:    "USD",
		Status:      status,
		IssueDate:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		DueDate:     time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Items: []services.LineItemInput{
			{Description: "Design", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(50)},
		},
	}
	for _, edit := range edits {
		edit(&in)
	}
	inv, err := a.invoices.Create(context.Background(), userID, in)
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return inv
}

// cookieNamed returns the response cookie called name, or nil.
func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func multipartBody(t *testing.T, fields map[string]string, file []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if file != nil {
		fw, err := mw.CreateFormFile("logo", "logo.bin")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(file); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}
