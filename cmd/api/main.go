// Package main is the entry point for the boutique API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cduval/boutique/internal/api"
	"github.com/cduval/boutique/internal/config"
	"github.com/cduval/boutique/internal/customer"
	"github.com/cduval/boutique/internal/db"
	"github.com/cduval/boutique/internal/health"
	"github.com/cduval/boutique/internal/mail"
	"github.com/cduval/boutique/internal/middleware"
	"github.com/cduval/boutique/internal/payment"
	"github.com/cduval/boutique/internal/tracing"
)

// application bundles the wired HTTP handler with the resources that need an
// orderly shutdown.
type application struct {
	handler  http.Handler
	shutdown []func(context.Context)
}

// close runs the shutdown hooks in reverse wiring order.
func (a *application) close(ctx context.Context) {
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		a.shutdown[i](ctx)
	}
}

// newApplication wires repositories, the payment processor client, the
// reconciler, background jobs, and the HTTP routes from configuration.
// Optional backends (database, redis, SumUp, Mailjet) degrade to in-memory
// or disabled equivalents when unset.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{}

	// Metrics
	reg := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(reg); err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}
	payMetrics := payment.NewMetrics()
	if err := payMetrics.Register(reg); err != nil {
		return nil, fmt.Errorf("register payment metrics: %w", err)
	}

	// Persistence
	var (
		paymentRepo  payment.Repository
		customerRepo customer.Repository
		webhookRepo  payment.WebhookRepository
		anomalyRepo  payment.AnomalyRepository
		dbChecker    api.HealthChecker
	)
	if cfg.DatabaseURL != "" {
		database, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		app.shutdown = append(app.shutdown, func(context.Context) {
			if err := database.Close(); err != nil {
				logger.Error("failed to close database", "error", err)
			}
		})

		paymentRepo = payment.NewPostgresRepository(database, logger)
		customerRepo = customer.NewPostgresRepository(database)
		webhookRepo = payment.NewPostgresWebhookRepository(database)
		anomalyRepo = payment.NewPostgresAnomalyRepository(database)
		dbChecker = health.NewDBChecker(database)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory repositories")
		paymentRepo = payment.NewInMemoryRepository()
		customerRepo = customer.NewInMemoryRepository()
		webhookRepo = payment.NewInMemoryWebhookRepository()
		anomalyRepo = payment.NewInMemoryAnomalyRepository()
	}

	// Rate-limit store
	var (
		rateLimitStore middleware.RateLimitStore
		redisChecker   api.HealthChecker
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient := redis.NewClient(opts)
		app.shutdown = append(app.shutdown, func(context.Context) {
			if err := redisClient.Close(); err != nil {
				logger.Error("failed to close redis client", "error", err)
			}
		})

		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient)
		redisChecker = health.NewRedisChecker(redisClient)
	} else {
		rateLimitStore = middleware.NewInMemoryRateLimitStore()
	}

	// Payment processor
	var sumupClient payment.Client
	if cfg.PaymentConfigured() {
		client, err := payment.NewSumUpClient(cfg.SumUpAPIKey, cfg.SumUpMerchantCode, cfg.SumUpAPIURL)
		if err != nil {
			return nil, fmt.Errorf("configure sumup client: %w", err)
		}
		sumupClient = client
	} else {
		logger.Warn("sumup credentials not set, checkout creation is disabled")
	}

	// Transactional email
	var notifier payment.Notifier
	if cfg.MailConfigured() {
		mailer := mail.NewMailer(mail.NewClient(cfg.MailjetAPIKey, cfg.MailjetSecretKey),
			cfg.MailSenderEmail, cfg.MailSenderName)
		notifier = mail.NewNotifier(mailer, customerRepo)
	} else {
		logger.Warn("mailjet credentials not set, confirmation emails are disabled")
	}

	reconciler := payment.NewReconciler(paymentRepo, anomalyRepo, notifier,
		payment.Policy(cfg.ReconcilePolicy), payMetrics, logger)

	// Stale-PENDING sweep needs the processor to look sessions up.
	if sumupClient != nil {
		sweeper := payment.NewSweeper(paymentRepo, sumupClient, reconciler, cfg.SweepOlderThan, logger)
		stop := make(chan struct{})
		go sweeper.Run(cfg.SweepInterval, stop)
		app.shutdown = append(app.shutdown, func(context.Context) { close(stop) })
	}

	// Tracing
	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "boutique-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: "otlp-" + cfg.OTLPProtocol,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: 1.0,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		return nil, fmt.Errorf("configure tracing: %w", err)
	}
	app.shutdown = append(app.shutdown, func(ctx context.Context) {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			logger.Error("failed to shut down tracer provider", "error", err)
		}
	})

	// Handlers
	checkoutHandlers := api.NewCheckoutHandlers(customerRepo, paymentRepo, anomalyRepo,
		sumupClient, cfg.PublicBaseURL, payMetrics)
	statusHandlers := api.NewStatusHandlers(reconciler, sumupClient)
	webhookHandlers := api.NewWebhookHandlers(cfg.SumUpWebhookSecret, reconciler, webhookRepo, payMetrics)
	adminHandlers := api.NewAdminHandlers(paymentRepo, anomalyRepo)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:    dbChecker,
		RedisChecker: redisChecker,
	})

	checkoutLimiter := middleware.RateLimiter(rateLimitStore, middleware.DefaultCheckoutLimit(), middleware.IPKeyFunc())

	mux := http.NewServeMux()
	mux.Handle("POST /payments/checkout", checkoutLimiter(http.HandlerFunc(checkoutHandlers.CreateCheckout)))
	mux.HandleFunc("GET /payments/status", statusHandlers.GetPaymentStatus)
	mux.HandleFunc("POST /webhooks/sumup", webhookHandlers.HandleSumUpWebhook)
	mux.HandleFunc("GET /admin/payments", adminHandlers.ListPayments)
	mux.HandleFunc("GET /admin/payments/", adminHandlers.GetPayment)
	mux.HandleFunc("GET /admin/anomalies", adminHandlers.ListAnomalies)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", rootHandler)

	globalLimiter := middleware.RateLimiter(rateLimitStore, middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimitPerMinute,
		WindowDuration:    time.Minute,
	}, middleware.IPKeyFunc())

	var handler http.Handler = globalLimiter(mux)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:         300,
	})(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	if cfg.TracingEnabled {
		handler = middleware.Tracing("boutique-api")(handler)
	}
	handler = middleware.RequestID(handler)
	app.handler = handler

	return app, nil
}

// rootHandler serves a service banner on the exact root path and a structured
// 404 everywhere no other route matched.
func rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
		api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"service":"boutique-api","version":"0.0.1"}`)); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func main() {
	configFile := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Boutique API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "configuration error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	app, err := newApplication(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		app.close(ctx)
		os.Exit(1)
	}
	app.close(ctx)

	logger.Info("server stopped")
}
