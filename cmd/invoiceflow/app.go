package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/auth"
	"github.com/diewo77/invoiceflow/gate"
	"github.com/diewo77/invoiceflow/internal/config"
	"github.com/diewo77/invoiceflow/internal/db"
	hdl "github.com/diewo77/invoiceflow/internal/handlers"
	"github.com/diewo77/invoiceflow/internal/mailer"
	"github.com/diewo77/invoiceflow/internal/middleware"
	"github.com/diewo77/invoiceflow/internal/pdf"
	"github.com/diewo77/invoiceflow/internal/policy"
	"github.com/diewo77/invoiceflow/internal/queue"
	"github.com/diewo77/invoiceflow/internal/scheduler"
	"github.com/diewo77/invoiceflow/internal/services"
	"github.com/diewo77/invoiceflow/internal/storage"
	"github.com/diewo77/invoiceflow/view"
	"github.com/diewo77/invoiceflow/web"
)

const shutdownTimeout = 10 * time.Second

// App holds the wired services shared by every command.
type App struct {
	cfg *config.Config
	db  *gorm.DB

	queue     *queue.Queue
	profiles  *services.ProfileService
	invoices  *services.InvoiceService
	templates *services.TemplateService
	recurring *services.RecurringService
	dashboard *services.DashboardService
	delivery  *services.Delivery
	exporter  *services.Exporter
	renderer  pdf.Renderer
	logos     storage.LogoStore

	flasher *middleware.Flasher
	gate    *policy.AuthGate
	view    *view.Renderer
	mux     *http.ServeMux
}

// setup loads configuration, connects and migrates the database and builds
// the services.
func setup(ctx context.Context) (*App, error) {
	cfg, conn, err := open(ctx)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn, *cfg); err != nil {
		closeDB(conn)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logos, err := newLogoStore(cfg.Storage)
	if err != nil {
		closeDB(conn)
		return nil, err
	}
	return NewApp(cfg, conn, newSender(cfg.Email), logos), nil
}

// NewApp wires the services and routes on an open database.
func NewApp(cfg *config.Config, conn *gorm.DB, sender mailer.Sender, logos storage.LogoStore) *App {
	q := queue.New(conn, queue.Options{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: cfg.Queue.BackoffBase,
		BackoffMax:  cfg.Queue.BackoffMax,
		LockTimeout: cfg.Queue.LockTimeout,
	})
	profiles := services.NewProfileService(conn)
	invoices := services.NewInvoiceService(conn)
	renderer := pdf.NewRenderer()

	auth.SetSecret(cfg.App.SecretKey)
	auth.SetSecureCookies(!cfg.App.Dev)
	auth.SetUserVerifier(profiles.Exists)

	a := &App{
		cfg:       cfg,
		db:        conn,
		queue:     q,
		profiles:  profiles,
		invoices:  invoices,
		templates: services.NewTemplateService(conn),
		recurring: services.NewRecurringService(conn, q),
		dashboard: services.NewDashboardService(conn),
		delivery: services.NewDelivery(invoices, profiles, renderer, sender, q, services.DeliveryConfig{
			FromAddress: cfg.Email.FromAddress,
			FromName:    cfg.Email.FromName,
			BaseURL:     cfg.App.BaseURL,
		}),
		exporter: services.NewExporter(invoices, profiles, renderer),
		renderer: renderer,
		logos:    logos,
		flasher:  middleware.NewFlasher(middleware.NewSessions(!cfg.App.Dev)),
		gate:     policy.NewAuthGate(),
		mux:      http.NewServeMux(),
	}
	a.view = view.New(a.templateFS(), view.Options{
		Static: web.Static(),
		Lang:   middleware.LangFrom,
		Theme:  middleware.ThemeFrom,
		Flash:  a.flasher.Pop,
	})
	a.setupRoutes()
	return a
}

func (a *App) templateFS() fs.FS {
	if dir := a.cfg.App.TemplatesDir; dir != "" {
		return os.DirFS(dir)
	}
	return web.Templates()
}

func newSender(cfg config.EmailConfig) mailer.Sender {
	if !cfg.Enabled() {
		zap.L().Warn("SENDGRID_API_KEY not set, emails are logged instead of sent")
		return mailer.NewLogSender()
	}
	return mailer.NewSendGrid(cfg.APIKey, cfg.BaseURL, &http.Client{Timeout: cfg.Timeout})
}

func newLogoStore(cfg config.StorageConfig) (storage.LogoStore, error) {
	if cfg.Driver == "s3" {
		return storage.NewS3Store(storage.S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PublicURL: cfg.PublicURL,
		})
	}
	return storage.NewFSStore(cfg.Dir, "/media"), nil
}

// Close releases the database connection.
func (a *App) Close() { closeDB(a.db) }

// Handler returns the router wrapped in the full middleware chain.
func (a *App) Handler() (http.Handler, error) {
	var h http.Handler = auth.Middleware(a.mux)
	h = a.flasher.Handler(h)
	h = middleware.Prefs(h)
	h = middleware.SecureHeaders(h)
	h, err := middleware.CrossOrigin([]string{a.cfg.App.BaseURL}, h)
	if err != nil {
		return nil, fmt.Errorf("trusted origin: %w", err)
	}
	h = middleware.AllowedHosts(a.cfg.App.AllowedHosts, h)
	h = handlers.CombinedLoggingHandler(os.Stdout, h)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(zap.L())),
		handlers.PrintRecoveryStack(a.cfg.App.Dev),
	)
	return recovery(h), nil
}

// setupRoutes configures all application routes.
func (a *App) setupRoutes() {
	page := &hdl.Page{View: a.view, Flash: a.flasher, Gate: a.gate}
	ah := hdl.NewAuthHandler(page, a.profiles)
	dh := hdl.NewDashboardHandler(page, a.dashboard, a.profiles)
	ih := hdl.NewInvoiceHandler(page, a.invoices, a.profiles, a.templates, a.delivery, a.exporter, a.renderer, a.cfg.App.BaseURL)
	th := hdl.NewTemplateHandler(page, a.templates, a.profiles)
	rh := hdl.NewRecurringHandler(page, a.recurring, a.profiles)
	sh := hdl.NewSettingsHandler(page, a.profiles, a.queue, a.logos)
	hh := hdl.NewHealthHandler(a.db, a.queue)

	// Public routes
	a.mux.HandleFunc("/", ah.Home)
	a.mux.HandleFunc("GET /login", ah.Login)
	a.mux.HandleFunc("POST /login", ah.Login)
	a.mux.HandleFunc("GET /signup", ah.Signup)
	a.mux.HandleFunc("POST /signup", ah.Signup)
	a.mux.HandleFunc("POST /logout", ah.Logout)
	a.mux.HandleFunc("GET /i/{token}", ih.PublicShow)
	a.mux.HandleFunc("GET /i/{token}/pdf", ih.PublicPDF)
	a.mux.HandleFunc("GET /health", hh.Health)
	a.mux.HandleFunc("GET /healthz", hh.Health)
	a.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(web.Static())))
	if fsStore, ok := a.logos.(*storage.FSStore); ok {
		a.mux.Handle("GET /media/", fsStore.Handler())
	}

	// Signed-in pages
	a.mux.Handle("GET /dashboard", a.private(dh.Dashboard))
	a.mux.Handle("GET /analytics", a.private(dh.Analytics))

	// Invoices
	a.mux.Handle("GET /invoices", a.allowed(policy.ResourceInvoice, gate.ActionList, ih.List))
	a.mux.Handle("GET /invoices/new", a.allowed(policy.ResourceInvoice, gate.ActionCreate, ih.New))
	a.mux.Handle("POST /invoices", a.allowed(policy.ResourceInvoice, gate.ActionCreate, ih.Create))
	a.mux.Handle("GET /invoices/export.xlsx", a.allowed(policy.ResourceInvoice, gate.ActionList, ih.ExportXLSX))
	a.mux.Handle("GET /invoices/export.zip", a.allowed(policy.ResourceInvoice, gate.ActionList, ih.ExportZIP))
	a.mux.Handle("GET /invoices/{id}", a.private(ih.Show))
	a.mux.Handle("GET /invoices/{id}/edit", a.private(ih.Edit))
	a.mux.Handle("POST /invoices/{id}", a.private(ih.Update))
	a.mux.Handle("POST /invoices/{id}/delete", a.private(ih.Delete))
	a.mux.Handle("POST /invoices/{id}/status", a.private(ih.SetStatus))
	a.mux.Handle("GET /invoices/{id}/pdf", a.private(ih.PDF))
	a.mux.Handle("POST /invoices/{id}/send", a.private(ih.Send))
	a.mux.Handle("GET /invoices/{id}/share/whatsapp", a.private(ih.WhatsApp))

	// Templates
	a.mux.Handle("GET /templates", a.allowed(policy.ResourceTemplate, gate.ActionList, th.List))
	a.mux.Handle("GET /templates/new", a.allowed(policy.ResourceTemplate, gate.ActionCreate, th.New))
	a.mux.Handle("POST /templates", a.allowed(policy.ResourceTemplate, gate.ActionCreate, th.Create))
	a.mux.Handle("GET /templates/{id}/edit", a.private(th.Edit))
	a.mux.Handle("POST /templates/{id}", a.private(th.Update))
	a.mux.Handle("POST /templates/{id}/delete", a.private(th.Delete))

	// Recurring invoices
	a.mux.Handle("GET /recurring", a.allowed(policy.ResourceRecurring, gate.ActionList, rh.List))
	a.mux.Handle("GET /recurring/new", a.allowed(policy.ResourceRecurring, gate.ActionCreate, rh.New))
	a.mux.Handle("POST /recurring", a.allowed(policy.ResourceRecurring, gate.ActionCreate, rh.Create))
	a.mux.Handle("GET /recurring/{id}/edit", a.private(rh.Edit))
	a.mux.Handle("POST /recurring/{id}", a.private(rh.Update))
	a.mux.Handle("POST /recurring/{id}/active", a.private(rh.Toggle))
	a.mux.Handle("POST /recurring/{id}/delete", a.private(rh.Delete))

	// Settings
	a.mux.Handle("GET /settings", a.private(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/settings/profile", http.StatusSeeOther)
	}))
	for path, h := range map[string]http.HandlerFunc{
		"/settings/profile":       sh.Profile,
		"/settings/business":      sh.Business,
		"/settings/security":      sh.Security,
		"/settings/notifications": sh.Notifications,
	} {
		a.mux.Handle("GET "+path, a.private(h))
		a.mux.Handle("POST "+path, a.private(h))
	}
	a.mux.Handle("GET /settings/billing", a.private(sh.Billing))
	a.mux.Handle("POST /settings/deliveries/{id}/retry", a.private(sh.RetryDelivery))
}

// private requires a signed-in user.
func (a *App) private(h http.HandlerFunc) http.Handler {
	return auth.RequireAuth(h)
}

// allowed requires a signed-in user with the collection-level permission.
func (a *App) allowed(resourceType string, action gate.Action, h http.HandlerFunc) http.Handler {
	return auth.RequireAuth(a.gate.RequirePermission(resourceType, action)(h))
}

// Worker builds the email queue worker.
func (a *App) Worker() *queue.Worker {
	return queue.NewWorker(a.queue, a.delivery, queue.WorkerOptions{
		Concurrency:  a.cfg.Queue.Workers,
		BatchSize:    a.cfg.Queue.BatchSize,
		PollInterval: a.cfg.Queue.PollInterval,
	})
}

// Scheduler registers the periodic jobs.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	s := scheduler.New()
	if err := s.Add("recurring", a.cfg.Scheduler.Interval, a.runRecurring); err != nil {
		return nil, err
	}
	if err := s.Add("sweep-overdue", a.cfg.Scheduler.Interval, a.sweepOverdue); err != nil {
		return nil, err
	}
	return s, nil
}

func (a *App) runRecurring(ctx context.Context, now time.Time) error {
	res, err := a.recurring.RunDue(ctx, now)
	if err != nil {
		return err
	}
	zap.L().Info("recurring invoices generated",
		zap.Int("generated", res.Generated),
		zap.Int("skipped", res.Skipped),
		zap.Int("deactivated", res.Deactivated),
		zap.Int("failed", res.Failed),
	)
	return nil
}

func (a *App) sweepOverdue(ctx context.Context, now time.Time) error {
	n, err := a.delivery.SweepOverdue(ctx, now)
	if err != nil {
		return err
	}
	zap.L().Info("overdue sweep finished", zap.Int("marked", n))
	return nil
}

// Serve runs the HTTP server and, when enabled, the queue worker and the
// scheduler until ctx is cancelled or one of them fails.
func (a *App) Serve(ctx context.Context, withWorker, withScheduler bool) error {
	handler, err := a.Handler()
	if err != nil {
		return err
	}
	var sched *scheduler.Scheduler
	if withScheduler {
		if sched, err = a.Scheduler(); err != nil {
			return err
		}
	}
	srv := &http.Server{
		Addr:         a.cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("server starting", zap.String("addr", srv.Addr), zap.Bool("dev", a.cfg.App.Dev))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		zap.L().Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if withWorker {
		w := a.Worker()
		g.Go(func() error { return w.Run(ctx) })
	}
	if sched != nil {
		g.Go(func() error { return sched.Run(ctx) })
	}
	if dir := a.cfg.App.TemplatesDir; dir != "" && a.cfg.App.Dev {
		g.Go(func() error {
			if err := a.view.Watch(ctx, dir); err != nil {
				zap.L().Warn("template watcher stopped", zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}
