package application

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config tunes the collection engine. Values load from an optional YAML
// file pointed at by COLLECTOR_CONFIG, with env fallbacks.
type Config struct {
	Concurrency              int    `yaml:"concurrency"`
	CallTimeoutSeconds       int    `yaml:"call_timeout_seconds"`
	SuppressionWindowMinutes int    `yaml:"suppression_window_minutes"`
	OfflineLookbackMinutes   int    `yaml:"offline_lookback_minutes"`
	NotifyTemplate           string `yaml:"notify_template"`
	NotifyWebhookURL         string `yaml:"notify_webhook_url"`
}

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		Concurrency:              getenvIntDefault("COLLECTOR_CONCURRENCY", 4),
		CallTimeoutSeconds:       getenvIntDefault("COLLECTOR_CALL_TIMEOUT_SECONDS", 10),
		SuppressionWindowMinutes: getenvIntDefault("ALERT_SUPPRESSION_MINUTES", 30),
		OfflineLookbackMinutes:   getenvIntDefault("ALERT_OFFLINE_LOOKBACK_MINUTES", 30),
		NotifyTemplate:           os.Getenv("ALERT_NOTIFY_TEMPLATE"),
		NotifyWebhookURL:         os.Getenv("ALERT_WEBHOOK_URL"),
	}

	if path := os.Getenv("COLLECTOR_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Concurrency <= 0 {
		return cfg, errors.New("collector: concurrency must be positive")
	}
	if cfg.CallTimeoutSeconds <= 0 {
		return cfg, errors.New("collector: call timeout must be positive")
	}
	return cfg, nil
}

// CallTimeout returns the per-call timeout as a duration.
func (c Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// SuppressionWindow returns the alert dedup window as a duration.
func (c Config) SuppressionWindow() time.Duration {
	return time.Duration(c.SuppressionWindowMinutes) * time.Minute
}

// OfflineLookback returns the offline detection window as a duration.
func (c Config) OfflineLookback() time.Duration {
	return time.Duration(c.OfflineLookbackMinutes) * time.Minute
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
