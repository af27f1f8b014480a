package integration_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	alertapp "powerstation-cloud/internal/alerts/application"
	alertrepo "powerstation-cloud/internal/alerts/infrastructure/postgres"
	"powerstation-cloud/internal/alerts/notify"
	collectionapp "powerstation-cloud/internal/collection/application"
	devices "powerstation-cloud/internal/devices/domain"
	devicerepo "powerstation-cloud/internal/devices/infrastructure/postgres"
	"powerstation-cloud/internal/ecocloud"
	readingrepo "powerstation-cloud/internal/readings/infrastructure/postgres"
	retentionapp "powerstation-cloud/internal/retention/application"
	settingsrepo "powerstation-cloud/internal/settings/infrastructure/postgres"
)

func TestCollection_ClosedLoop(t *testing.T) {
	db := openDB(t)
	defer db.Close()

	ctx := context.Background()
	applySchema(t, db)
	cleanupTables(ctx, db)

	// Fake device cloud: one healthy device with a low battery.
	cloud := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/device/quota/all") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":"0","message":"Success","data":{
			"pd.soc":{"val":12,"scale":0},
			"pd.wattsInSum":{"val":0,"scale":0},
			"pd.wattsOutSum":{"val":150,"scale":0},
			"bms_bmsStatus.temp":{"val":31,"scale":0}
		}}`))
	}))
	defer cloud.Close()

	webhook := newCountingWebhook()
	gateway := httptest.NewServer(webhook)
	defer gateway.Close()

	logger := log.New(os.Stderr, "", 0)
	deviceStore := devicerepo.NewDeviceRepository(db)
	readingStore := readingrepo.NewReadingRepository(db)
	settingsStore := settingsrepo.NewSettingsRepository(db)
	logStore := alertrepo.NewNotificationLogRepository(db)
	directory := alertrepo.NewUserDirectory(db)

	if _, err := db.ExecContext(ctx, `INSERT INTO users (id, email) VALUES ('user-it', 'it@example.com')`); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	device := &devices.Device{
		ID:           devices.NewID(),
		UserID:       "user-it",
		SerialNumber: "R331IT0001",
		Name:         "IT Station",
		IsActive:     true,
	}
	if err := deviceStore.Register(ctx, device); err != nil {
		t.Fatalf("register device: %v", err)
	}

	client, err := ecocloud.NewClient(
		ecocloud.Credentials{AccessKey: "it-access", SecretKey: "it-secret"},
		ecocloud.WithBaseURL(cloud.URL),
	)
	if err != nil {
		t.Fatalf("cloud client: %v", err)
	}

	channel, err := notify.NewWebhookChannel(gateway.URL)
	if err != nil {
		t.Fatalf("webhook channel: %v", err)
	}
	notifier, err := notify.NewNotifier(channel, nil)
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	evaluator, err := alertapp.NewEvaluator(settingsStore, logStore, readingStore, directory, notifier, logger)
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}

	scheduler, err := collectionapp.NewScheduler(settingsStore)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	cfg := collectionapp.Config{Concurrency: 2, CallTimeoutSeconds: 5}
	collector, err := collectionapp.NewCollector(client, deviceStore, readingStore, settingsStore, scheduler, cfg, logger,
		collectionapp.WithAlerter(evaluator))
	if err != nil {
		t.Fatalf("collector: %v", err)
	}

	summary, err := collector.RunRound(ctx, "user-it", false)
	if err != nil {
		t.Fatalf("run round: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("summary = %+v, want one success", summary)
	}

	latest, err := readingStore.LatestByDevice(ctx, device.ID)
	if err != nil {
		t.Fatalf("latest reading: %v", err)
	}
	if latest == nil || latest.BatteryLevelPct != 12 {
		t.Fatalf("latest = %+v, want battery 12", latest)
	}

	setting, err := settingsStore.GetOrCreateCollection(ctx, "user-it")
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if setting.LastCollectionAt.IsZero() {
		t.Fatal("collection stamp did not advance")
	}

	// Battery 12% is under the default 20% threshold.
	if webhook.count() != 1 {
		t.Fatalf("webhook received %d notifications, want 1", webhook.count())
	}

	// A forced second round inside the suppression window must not
	// re-notify.
	if _, err := collector.RunRound(ctx, "user-it", true); err != nil {
		t.Fatalf("forced round: %v", err)
	}
	if webhook.count() != 1 {
		t.Fatalf("webhook received %d notifications after forced round, want 1", webhook.count())
	}

	// Retention removes rows older than the user's window.
	old := time.Now().UTC().AddDate(0, 0, -120)
	if _, err := db.ExecContext(ctx, `
INSERT INTO readings (device_id, battery_level_pct, input_watts, ac_input_watts, dc_input_watts,
	output_watts, ac_output_watts, dc_output_watts, usb_output_watts, temperature_c, status, raw_quota, recorded_at)
VALUES ($1, 50, 0, 0, 0, 0, 0, 0, 0, 25, 'standby', '{}', $2)`, device.ID, old); err != nil {
		t.Fatalf("seed old reading: %v", err)
	}

	sweeper, err := retentionapp.NewSweeper(settingsStore, readingStore, logStore, logger)
	if err != nil {
		t.Fatalf("sweeper: %v", err)
	}
	result, err := sweeper.SweepUser(ctx, *setting)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.ReadingsDeleted != 1 {
		t.Fatalf("sweep deleted %d readings, want 1", result.ReadingsDeleted)
	}
	if latest, err = readingStore.LatestByDevice(ctx, device.ID); err != nil || latest == nil {
		t.Fatalf("fresh reading must survive the sweep: %v", err)
	}
}

type countingWebhook struct {
	mu sync.Mutex
	n  int
}

func newCountingWebhook() *countingWebhook { return &countingWebhook{} }

func (c *countingWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "it-1"})
}

func (c *countingWebhook) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db
}

func applySchema(t *testing.T, db *sql.DB) {
	t.Helper()
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			serial_number TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, serial_number)
		)`,
		`CREATE TABLE IF NOT EXISTS readings (
			id BIGSERIAL PRIMARY KEY,
			device_id TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			battery_level_pct DOUBLE PRECISION NOT NULL,
			input_watts DOUBLE PRECISION NOT NULL,
			ac_input_watts DOUBLE PRECISION NOT NULL,
			dc_input_watts DOUBLE PRECISION NOT NULL,
			charging_type TEXT,
			output_watts DOUBLE PRECISION NOT NULL,
			ac_output_watts DOUBLE PRECISION NOT NULL,
			dc_output_watts DOUBLE PRECISION NOT NULL,
			usb_output_watts DOUBLE PRECISION NOT NULL,
			remaining_time_min DOUBLE PRECISION,
			temperature_c DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			raw_quota JSONB NOT NULL DEFAULT '{}',
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS collection_settings (
			user_id TEXT PRIMARY KEY,
			retention_period_days INT NOT NULL,
			auto_cleanup_enabled BOOLEAN NOT NULL,
			collection_interval_minutes INT NOT NULL,
			last_collection_at TIMESTAMPTZ,
			last_cleanup_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notification_settings (
			user_id TEXT PRIMARY KEY,
			low_battery_enabled BOOLEAN NOT NULL,
			low_battery_threshold_pct DOUBLE PRECISION NOT NULL,
			power_overload_enabled BOOLEAN NOT NULL,
			power_threshold_watts DOUBLE PRECISION NOT NULL,
			device_offline_enabled BOOLEAN NOT NULL,
			email_enabled BOOLEAN NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notification_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			sent_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL DEFAULT '',
			resource_id TEXT NOT NULL DEFAULT '',
			device_id TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			payload_digest TEXT NOT NULL DEFAULT '',
			ip TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, statement := range statements {
		if _, err := db.Exec(statement); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
}

func cleanupTables(ctx context.Context, db *sql.DB) {
	for _, table := range []string{"notification_logs", "readings", "devices", "collection_settings", "notification_settings", "audit_logs", "users"} {
		_, _ = db.ExecContext(ctx, "DELETE FROM "+table)
	}
}
