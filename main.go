package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	alertapp "powerstation-cloud/internal/alerts/application"
	alertrepo "powerstation-cloud/internal/alerts/infrastructure/postgres"
	alerthttp "powerstation-cloud/internal/alerts/interfaces/http"
	"powerstation-cloud/internal/alerts/notify"
	"powerstation-cloud/internal/audit"
	"powerstation-cloud/internal/auth"
	collectionapp "powerstation-cloud/internal/collection/application"
	collectionhttp "powerstation-cloud/internal/collection/interfaces/http"
	devicerepo "powerstation-cloud/internal/devices/infrastructure/postgres"
	devicehttp "powerstation-cloud/internal/devices/interfaces/http"
	"powerstation-cloud/internal/ecocloud"
	"powerstation-cloud/internal/observability/metrics"
	readingrepo "powerstation-cloud/internal/readings/infrastructure/postgres"
	retentionapp "powerstation-cloud/internal/retention/application"
	retentionhttp "powerstation-cloud/internal/retention/interfaces/http"
	settingsrepo "powerstation-cloud/internal/settings/infrastructure/postgres"
	settingshttp "powerstation-cloud/internal/settings/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	deviceRepo := devicerepo.NewDeviceRepository(db)
	readingRepo := readingrepo.NewReadingRepository(db)
	settingsRepo := settingsrepo.NewSettingsRepository(db)
	logRepo := alertrepo.NewNotificationLogRepository(db)
	userDirectory := alertrepo.NewUserDirectory(db)

	cloudClient, err := ecocloud.NewClient(
		ecocloud.Credentials{AccessKey: cfg.AccessKey, SecretKey: cfg.SecretKey},
		ecocloud.WithBaseURL(cfg.CloudBaseURL),
	)
	if err != nil {
		logger.Fatalf("cloud client error: %v", err)
	}

	engineCfg, err := collectionapp.LoadConfig()
	if err != nil {
		logger.Fatalf("collector config error: %v", err)
	}

	scheduler, err := collectionapp.NewScheduler(settingsRepo)
	if err != nil {
		logger.Fatalf("scheduler error: %v", err)
	}

	var collectorOpts []collectionapp.CollectorOption
	if engineCfg.NotifyWebhookURL != "" {
		channel, err := notify.NewWebhookChannel(engineCfg.NotifyWebhookURL)
		if err != nil {
			logger.Fatalf("alert webhook error: %v", err)
		}
		tpl, err := notify.NewTemplate(engineCfg.NotifyTemplate)
		if err != nil {
			logger.Fatalf("alert template error: %v", err)
		}
		notifier, err := notify.NewNotifier(channel, tpl)
		if err != nil {
			logger.Fatalf("alert notifier error: %v", err)
		}
		evaluator, err := alertapp.NewEvaluator(
			settingsRepo,
			logRepo,
			readingRepo,
			userDirectory,
			notifier,
			logger,
			alertapp.WithSuppressionWindow(engineCfg.SuppressionWindow()),
			alertapp.WithOfflineLookback(engineCfg.OfflineLookback()),
		)
		if err != nil {
			logger.Fatalf("alert evaluator error: %v", err)
		}
		collectorOpts = append(collectorOpts, collectionapp.WithAlerter(evaluator))
	} else {
		logger.Printf("ALERT_WEBHOOK_URL not set, alert notifications disabled")
	}

	collector, err := collectionapp.NewCollector(cloudClient, deviceRepo, readingRepo, settingsRepo, scheduler, engineCfg, logger, collectorOpts...)
	if err != nil {
		logger.Fatalf("collector error: %v", err)
	}

	sweeper, err := retentionapp.NewSweeper(settingsRepo, readingRepo, logRepo, logger)
	if err != nil {
		logger.Fatalf("sweeper error: %v", err)
	}

	go func() {
		ticker := time.NewTicker(cfg.CollectionTick)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := collector.RunAllRounds(context.Background(), false); err != nil {
				logger.Printf("collection tick error: %v", err)
			}
		}
	}()

	// The sweep cutoff has day granularity, so hourly runs past the
	// first of the day are no-ops.
	go func() {
		ticker := time.NewTicker(cfg.RetentionTick)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := sweeper.SweepAll(context.Background()); err != nil {
				logger.Printf("retention tick error: %v", err)
			}
		}
	}()

	deviceHandler, err := devicehttp.NewHandler(deviceRepo, readingRepo, auditRepo)
	if err != nil {
		logger.Fatalf("device handler error: %v", err)
	}
	collectionHandler, err := collectionhttp.NewHandler(collector, auditRepo)
	if err != nil {
		logger.Fatalf("collection handler error: %v", err)
	}
	retentionHandler, err := retentionhttp.NewHandler(sweeper, settingsRepo, auditRepo)
	if err != nil {
		logger.Fatalf("retention handler error: %v", err)
	}
	settingsHandler, err := settingshttp.NewHandler(settingsRepo)
	if err != nil {
		logger.Fatalf("settings handler error: %v", err)
	}
	notificationHandler, err := alerthttp.NewHandler(logRepo)
	if err != nil {
		logger.Fatalf("notification handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/collection/run", collectionHandler)
	mux.Handle("/api/v1/retention/run", retentionHandler)
	mux.Handle("/api/v1/devices", deviceHandler)
	mux.Handle("/api/v1/devices/", deviceHandler)
	mux.Handle("/api/v1/settings/collection", settingsHandler)
	mux.Handle("/api/v1/settings/notifications", settingsHandler)
	mux.Handle("/api/v1/notifications", notificationHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL    string
	HTTPAddr       string
	AccessKey      string
	SecretKey      string
	CloudBaseURL   string
	JWTSecret      string
	CollectionTick time.Duration
	RetentionTick  time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:    getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:       getenvDefault("HTTP_ADDR", ":8080"),
		AccessKey:      getenvDefault("ECOFLOW_ACCESS_KEY", ""),
		SecretKey:      getenvDefault("ECOFLOW_SECRET_KEY", ""),
		CloudBaseURL:   getenvDefault("ECOFLOW_BASE_URL", ""),
		JWTSecret:      getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		CollectionTick: getenvDuration("COLLECTION_TICK", time.Minute),
		RetentionTick:  getenvDuration("RETENTION_TICK", time.Hour),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		log.Fatal("ECOFLOW_ACCESS_KEY and ECOFLOW_SECRET_KEY are required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
