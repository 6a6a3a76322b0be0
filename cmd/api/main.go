package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/portal-scheduling/cmd/mainconfig"
	"github.com/wolfman30/portal-scheduling/internal/api/router"
	"github.com/wolfman30/portal-scheduling/internal/app/bootstrap"
	"github.com/wolfman30/portal-scheduling/internal/booking"
	"github.com/wolfman30/portal-scheduling/internal/bookings"
	"github.com/wolfman30/portal-scheduling/internal/compliance"
	appconfig "github.com/wolfman30/portal-scheduling/internal/config"
	"github.com/wolfman30/portal-scheduling/internal/http/handlers"
	"github.com/wolfman30/portal-scheduling/internal/notify"
	"github.com/wolfman30/portal-scheduling/internal/observability/metrics"
	"github.com/wolfman30/portal-scheduling/internal/portal"
	"github.com/wolfman30/portal-scheduling/internal/scheduling"
	"github.com/wolfman30/portal-scheduling/pkg/logging"
)

func main() {
	// Local development reads .env; deployed environments set variables directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting portal-scheduling API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if cfg.PortalBaseURL == "" {
		logger.Error("PORTAL_API_BASE_URL is required")
		os.Exit(1)
	}
	if cfg.PatientJWTSecret == "" {
		logger.Warn("PATIENT_JWT_SECRET empty; every /api request will be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsHandler, schedulingMetrics := setupMetrics()

	portalClient := portal.NewClient(cfg.PortalBaseURL, logger,
		portal.WithTimeout(cfg.PortalTimeout),
		portal.WithTokenBaseURL(cfg.TokenBaseURL()),
		portal.WithHeaderProvider(portal.StaticHeaders{
			APIKey:   cfg.PortalAPIKey,
			AppID:    cfg.PortalAppID,
			DeviceID: cfg.PortalDeviceID,
		}),
		portal.WithObserver(schedulingMetrics),
	)

	fetcher := scheduling.NewFetcher(portalClient, scheduling.FetcherConfig{
		MaxProfessionals: cfg.MaxProfessionalsPerSpecialty,
		Concurrency:      cfg.FetchConcurrency,
	}, logger)
	searchService := scheduling.NewService(fetcher, portalClient, schedulingMetrics, logger)

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	sessionStore := bootstrap.BuildSessionStore(redisClient, cfg, logger)

	pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	auditDB := bootstrap.OpenAuditDB(cfg.DatabaseURL, logger)

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	awsClients := mainconfig.NewAWSClients(awsCfg, cfg)
	emailSender := bootstrap.BuildEmailSender(cfg, awsClients.SES, logger)
	publisher, deliverer := bootstrap.BuildEventPublisher(cfg, awsClients.SQS, pool, logger)

	var ledger *bookings.Service
	if pool != nil {
		ledger = bookings.NewService(bookings.NewRepository(pool), logger)
	}

	driver := booking.NewDriver(portalClient, sessionStore, booking.Config{
		CountryCode:       cfg.PhoneCountryCode,
		AppointmentType:   cfg.AppointmentType,
		StaleBookingAfter: cfg.BookingStaleAfter,
	}, logger, driverOptions(ledger, auditDB, emailSender, publisher, schedulingMetrics, logger)...)

	var attempts handlers.AttemptLister
	if ledger != nil {
		attempts = ledger
	}
	r := router.New(&router.Config{
		Logger:             logger,
		Scheduling:         handlers.NewSchedulingHandler(searchService, logger),
		Booking:            handlers.NewBookingHandler(driver, attempts, logger),
		PatientJWTSecret:   cfg.PatientJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		HealthChecks:       healthChecks(redisClient, pool, auditDB),
	})

	var workers sync.WaitGroup
	if deliverer != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			deliverer.Start(ctx)
		}()
		logger.Info("booking event outbox delivery started", "queue_url", cfg.BookingEventsQueueURL)
	}

	// Smart searches fan out to the backend; the write timeout covers a slow
	// sequential fetch plus a full booking loop.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	workers.Wait()

	if redisClient != nil {
		_ = redisClient.Close()
	}
	if pool != nil {
		pool.Close()
	}
	if auditDB != nil {
		_ = auditDB.Close()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *metrics.SchedulingMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewSchedulingMetrics(registry)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), m
}

// driverOptions attaches only the hooks whose backing store is configured.
func driverOptions(ledger *bookings.Service, auditDB *sql.DB, sender notify.EmailSender, publisher booking.EventPublisher, observer *metrics.SchedulingMetrics, logger *logging.Logger) []booking.Option {
	var opts []booking.Option
	if ledger != nil {
		opts = append(opts, booking.WithLedger(ledger))
	}
	if auditDB != nil {
		opts = append(opts, booking.WithAuditor(compliance.NewAuditService(auditDB)))
	}
	if sender != nil {
		opts = append(opts, booking.WithNotifier(notify.NewItineraryNotifier(sender, logger)))
	}
	if publisher != nil {
		opts = append(opts, booking.WithEventPublisher(publisher))
	}
	if observer != nil {
		opts = append(opts, booking.WithObserver(observer))
	}
	return opts
}

func healthChecks(redisClient *redis.Client, pool *pgxpool.Pool, auditDB *sql.DB) map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	if pool != nil {
		checks["postgres"] = pool.Ping
	}
	if auditDB != nil {
		checks["audit_db"] = auditDB.PingContext
	}
	return checks
}
