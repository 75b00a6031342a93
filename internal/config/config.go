// Package config provides configuration loading from environment variables.
package config

import (
	"time"

	"imagehub/internal/telemetry"
)

// ServiceConfig holds configuration for the coordination server.
type ServiceConfig struct {
	Port        string
	MetricsPort string

	InputDir  string // directory scanned for input images
	OutputDir string // directory processed images are written to

	SampleInterval time.Duration // telemetry cadence

	WebhookURL        string // empty disables the notifier
	WebhookSigningKey string // read from a secret file

	ShutdownDrainWait time.Duration // time for load balancers to drain (0 to skip)
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8765"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		InputDir:          GetEnv("INPUT_DIR", "images/input"),
		OutputDir:         GetEnv("OUTPUT_DIR", "images/output"),
		SampleInterval:    GetDurationEnv("TELEMETRY_INTERVAL", telemetry.DefaultInterval),
		WebhookURL:        GetEnv("WEBHOOK_URL", ""),
		WebhookSigningKey: GetSecretFile(GetEnv("WEBHOOK_SIGNING_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
	}
}
