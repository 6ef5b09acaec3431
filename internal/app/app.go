// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/notify-relay/internal/auth"
	"github.com/bissquit/notify-relay/internal/config"
	"github.com/bissquit/notify-relay/internal/directory"
	"github.com/bissquit/notify-relay/internal/notifications"
	"github.com/bissquit/notify-relay/internal/notifications/email"
	notificationspostgres "github.com/bissquit/notify-relay/internal/notifications/postgres"
	"github.com/bissquit/notify-relay/internal/notifications/sqlite"
	"github.com/bissquit/notify-relay/internal/notifications/telegram"
	"github.com/bissquit/notify-relay/internal/pkg/ctxlog"
	"github.com/bissquit/notify-relay/internal/pkg/httputil"
	"github.com/bissquit/notify-relay/internal/pkg/metrics"
	"github.com/bissquit/notify-relay/internal/pkg/postgres"
	"github.com/bissquit/notify-relay/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Store is the persistence the application needs: the dispatch engine's
// repository plus the directory's.
type Store interface {
	notifications.Repository
	directory.Repository
}

// storage is an opened Store with its lifecycle hooks.
type storage struct {
	Store
	close         func()
	recordMetrics func()
}

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	store         *storage
	engine        *notifications.Engine
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	store, err := openStorage(connectCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		store:         store,
		metricsCancel: metricsCancel,
	}

	go app.collectDBMetrics(metricsCtx)

	router, err := app.setupRouter()
	if err != nil {
		store.close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func openStorage(ctx context.Context, cfg config.DatabaseConfig) (*storage, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		repo, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		slog.Info("using sqlite storage", "path", cfg.SQLitePath)
		return &storage{
			Store: repo,
			close: func() { _ = repo.Close() },
			recordMetrics: func() {
				metrics.RecordSQLPoolMetrics(config.DriverSQLite, repo.DB().Stats())
			},
		}, nil

	default:
		if cfg.AutoMigrate {
			if err := postgres.Migrate(cfg.URL, cfg.MigrationsPath, postgres.MigrateUp); err != nil {
				return nil, fmt.Errorf("auto migrate: %w", err)
			}
		}

		pool, err := postgres.Connect(ctx, postgres.Config{
			URL:             cfg.URL,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnectAttempts: cfg.ConnectAttempts,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		return &storage{
			Store:         notificationspostgres.NewRepository(pool),
			close:         pool.Close,
			recordMetrics: func() { metrics.RecordDBPoolMetrics(pool) },
		}, nil
	}
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application. In-flight dispatches
// finish or observe cancellation before the store is closed.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.store.close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	a.store.recordMetrics()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.store.recordMetrics()
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Engine returns the dispatch engine for in-process callers.
func (a *App) Engine() *notifications.Engine {
	return a.engine
}

func (a *App) setupRouter() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger, "/healthz", "/readyz"))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.config.Server.RequestTimeout))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Notify Relay API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
	})

	engine, err := a.setupEngine()
	if err != nil {
		return nil, err
	}
	a.engine = engine

	notificationsHandler := notifications.NewHandler(engine, a.store)
	directoryHandler := directory.NewHandler(directory.NewService(a.store))

	authenticator := newAuthenticator(a.config.Auth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.AuthMiddleware(authenticator))

		notificationsHandler.RegisterRoutes(r)
		r.Route("/admin", directoryHandler.RegisterRoutes)
	})

	return r, nil
}

func (a *App) setupEngine() (*notifications.Engine, error) {
	n := a.config.Notifications

	telegramSender, err := telegram.NewSender(telegram.Config{
		Enabled:   n.Telegram.Enabled,
		BotToken:  n.Telegram.BotToken,
		APIURL:    n.Telegram.APIURL,
		RateLimit: n.Telegram.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram sender: %w", err)
	}
	if !n.Telegram.Enabled {
		slog.Warn("telegram sender is disabled: chat notifications will fail at send")
	}

	emailSender, err := email.NewSender(email.Config{
		Enabled:      n.Email.Enabled,
		SMTPHost:     n.Email.SMTPHost,
		SMTPPort:     n.Email.SMTPPort,
		SMTPUser:     n.Email.SMTPUser,
		SMTPPassword: n.Email.SMTPPassword,
		FromAddress:  n.Email.FromAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("create email sender: %w", err)
	}
	if !n.Email.Enabled {
		slog.Warn("email sender is disabled: email notifications will fail at send")
	}

	dispatcher := notifications.NewDispatcher(telegramSender, emailSender)
	renderer := notifications.NewRenderer(n.DefaultLocale, n.HTMLEncodeValues)

	slog.Info("dispatch engine configured",
		"channels", dispatcher.Channels(),
		"max_attempts", n.Retry.MaxAttempts,
		"base_delay", n.Retry.BaseDelay,
		"throttle_interval", n.ThrottleInterval,
		"default_locale", n.DefaultLocale,
		"html_encode_values", n.HTMLEncodeValues,
	)

	return notifications.NewEngine(a.store, dispatcher, renderer, notifications.EngineConfig{
		Retry: notifications.RetryPolicy{
			MaxAttempts: n.Retry.MaxAttempts,
			BaseDelay:   n.Retry.BaseDelay,
		},
		ThrottleInterval: n.ThrottleInterval,
		ChatChunkLimit:   n.Telegram.MaxMessageLength,
		ParseMode:        n.Telegram.ParseMode,
	}), nil
}

func newAuthenticator(cfg config.AuthConfig) *auth.Authenticator {
	keys := make([]auth.APIKey, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys = append(keys, auth.APIKey{Name: k.Name, Hash: k.Hash})
	}
	return auth.NewAuthenticator(auth.Config{
		JWTSecret: cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		APIKeys:   keys,
	})
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
