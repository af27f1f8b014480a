// perf_seed loads a synthetic fleet into Postgres: users with devices
// and a dense telemetry history, for retention-sweep and query load
// testing.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type config struct {
	dsn             string
	userPrefix      string
	userCount       int
	devicesPerUser  int
	days            int
	intervalMinutes int
}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}
	if cfg.userCount <= 0 || cfg.devicesPerUser <= 0 {
		log.Fatal("user-count and devices-per-user must be > 0")
	}
	if cfg.days <= 0 || cfg.intervalMinutes <= 0 {
		log.Fatal("days and interval-minutes must be > 0")
	}

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	start := time.Now().UTC().AddDate(0, 0, -cfg.days).Truncate(time.Minute)
	samplesPerDevice := cfg.days * 24 * 60 / cfg.intervalMinutes

	log.Printf("seeding: users=%d devices/user=%d samples/device=%d", cfg.userCount, cfg.devicesPerUser, samplesPerDevice)

	total := 0
	for u := 0; u < cfg.userCount; u++ {
		userID := fmt.Sprintf("%s-%04d", cfg.userPrefix, u+1)
		for d := 0; d < cfg.devicesPerUser; d++ {
			deviceID := fmt.Sprintf("%s-dev-%02d", userID, d+1)
			serial := fmt.Sprintf("R331PERF%04d%02d", u+1, d+1)
			if err := seedDevice(ctx, db, userID, deviceID, serial, d+1); err != nil {
				log.Fatalf("seed device %s: %v", deviceID, err)
			}
			n, err := seedReadings(ctx, db, deviceID, start, samplesPerDevice, cfg.intervalMinutes)
			if err != nil {
				log.Fatalf("seed readings %s: %v", deviceID, err)
			}
			total += n
		}
	}
	log.Printf("done: readings=%d", total)
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "dsn", envOr("PG_DSN", envOr("DATABASE_URL", "")), "postgres dsn")
	flag.StringVar(&cfg.userPrefix, "user-prefix", "perf-user", "user id prefix")
	flag.IntVar(&cfg.userCount, "user-count", 10, "number of users")
	flag.IntVar(&cfg.devicesPerUser, "devices-per-user", 3, "devices per user")
	flag.IntVar(&cfg.days, "days", 7, "history length in days")
	flag.IntVar(&cfg.intervalMinutes, "interval-minutes", 5, "sample spacing in minutes")
	flag.Parse()
	return cfg
}

func seedDevice(ctx context.Context, db *sql.DB, userID, deviceID, serial string, index int) error {
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, `
INSERT INTO devices (id, user_id, serial_number, name, type, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
ON CONFLICT (user_id, serial_number) DO NOTHING`,
		deviceID, userID, serial, fmt.Sprintf("Perf Station %d", index), "RIVER 2 Pro", now)
	return err
}

func seedReadings(ctx context.Context, db *sql.DB, deviceID string, start time.Time, samples, intervalMinutes int) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO readings (
	device_id, battery_level_pct, input_watts, ac_input_watts, dc_input_watts,
	charging_type, output_watts, ac_output_watts, dc_output_watts, usb_output_watts,
	remaining_time_min, temperature_c, status, raw_quota, recorded_at
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8, $9, $10,
	$11, $12, $13, '{}', $14
)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	soc := 40 + rand.Float64()*50
	for i := 0; i < samples; i++ {
		at := start.Add(time.Duration(i*intervalMinutes) * time.Minute)
		soc += (rand.Float64() - 0.5) * 3
		if soc < 5 {
			soc = 5
		}
		if soc > 100 {
			soc = 100
		}
		in := rand.Float64() * 200
		out := rand.Float64() * 300
		status := "standby"
		if in > out+10 {
			status = "charging"
		} else if out > in+10 {
			status = "discharging"
		}
		if _, err := stmt.ExecContext(ctx,
			deviceID, soc, in, in*0.8, in*0.2,
			"ac", out, out*0.7, out*0.1, out*0.2,
			120+rand.Float64()*600, 25+rand.Float64()*10, status, at,
		); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return samples, nil
}

func envOr(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
