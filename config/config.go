// Package config holds the recognized options of the telemetry kit with
// their defaults, validation, and loaders for files and the environment.
package config

import (
	"fmt"
	"net/url"
	"time"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
	"github.com/c0deZ3R0/go-telemetry-kit/logging"
)

// Config is the full configuration of a telemetry kit client.
type Config struct {
	// Enabled is the runtime master switch for event collection.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	AppKey        string `mapstructure:"app_key" yaml:"app_key" json:"app_key"`
	AppSecret     string `mapstructure:"app_secret" yaml:"app_secret" json:"-"`
	AnalyticsURL  string `mapstructure:"analytics_url" yaml:"analytics_url" json:"analytics_url"`
	RemoteDataURL string `mapstructure:"remote_data_url" yaml:"remote_data_url" json:"remote_data_url"`
	DeviceFamily  string `mapstructure:"device_family" yaml:"device_family" json:"device_family"`

	MaxEventSizeBytes         int           `mapstructure:"max_event_size_bytes" yaml:"max_event_size_bytes" json:"max_event_size_bytes"`
	BatchInterval             time.Duration `mapstructure:"batch_interval" yaml:"batch_interval" json:"batch_interval"`
	MaxBatchEvents            int           `mapstructure:"max_batch_events" yaml:"max_batch_events" json:"max_batch_events"`
	MaxBatchBytes             int           `mapstructure:"max_batch_bytes" yaml:"max_batch_bytes" json:"max_batch_bytes"`
	MaxTotalStoreBytes        int64         `mapstructure:"max_total_store_bytes" yaml:"max_total_store_bytes" json:"max_total_store_bytes"`
	MinBackgroundSendInterval time.Duration `mapstructure:"min_background_send_interval" yaml:"min_background_send_interval" json:"min_background_send_interval"`
	BackoffBase               time.Duration `mapstructure:"backoff_base" yaml:"backoff_base" json:"backoff_base"`
	BackoffCap                time.Duration `mapstructure:"backoff_cap" yaml:"backoff_cap" json:"backoff_cap"`
	SessionTimeout            time.Duration `mapstructure:"session_timeout" yaml:"session_timeout" json:"session_timeout"`
	TrackLifecycleEvents      bool          `mapstructure:"track_lifecycle_events" yaml:"track_lifecycle_events" json:"track_lifecycle_events"`

	RemoteRefreshInterval time.Duration `mapstructure:"remote_refresh_interval" yaml:"remote_refresh_interval" json:"remote_refresh_interval"`

	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" json:"request_timeout"`
	DatabasePath   string        `mapstructure:"database_path" yaml:"database_path" json:"database_path"`
	// StorageDriver selects the built-in store: "sqlite" (DatabasePath) or
	// "postgres" (DatabaseURL).
	StorageDriver string `mapstructure:"storage_driver" yaml:"storage_driver" json:"storage_driver"`
	DatabaseURL   string `mapstructure:"database_url" yaml:"database_url,omitempty" json:"-"`

	Log       logging.Config `mapstructure:"log" yaml:"log" json:"log"`
	Telemetry Telemetry      `mapstructure:"telemetry" yaml:"telemetry" json:"telemetry"`
}

// Telemetry configures where the kit reports about itself: OTLP metrics and
// event log records, and an optional Kafka mirror of admitted events.
type Telemetry struct {
	// OTLPEndpoint is host:port or a URL of an OTLP/gRPC collector. Empty
	// disables export.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	// EmitEventLogs sends every admitted event to the OTLP log exporter.
	EmitEventLogs bool     `mapstructure:"emit_event_logs" yaml:"emit_event_logs" json:"emit_event_logs"`
	KafkaBrokers  []string `mapstructure:"kafka_brokers" yaml:"kafka_brokers,omitempty" json:"kafka_brokers"`
	KafkaTopic    string   `mapstructure:"kafka_topic" yaml:"kafka_topic" json:"kafka_topic"`
}

// Storage drivers.
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Default returns the default configuration.
func Default() Config {
	return Config{
		Enabled:                   true,
		DeviceFamily:              "linux",
		MaxEventSizeBytes:         64 * 1024,
		BatchInterval:             15 * time.Second,
		MaxBatchEvents:            500,
		MaxBatchBytes:             500 * 1024,
		MaxTotalStoreBytes:        5 * 1024 * 1024,
		MinBackgroundSendInterval: 900 * time.Second,
		BackoffBase:               60 * time.Second,
		BackoffCap:                20 * time.Minute,
		SessionTimeout:            0,
		TrackLifecycleEvents:      true,
		RemoteRefreshInterval:     10 * time.Second,
		RequestTimeout:            60 * time.Second,
		DatabasePath:              "telemetrykit.db",
		StorageDriver:             StorageSQLite,
		Log:                       logging.DefaultConfig,
		Telemetry:                 Telemetry{ServiceName: "telemetrykit"},
	}
}

// Validate checks option ranges and cross-field constraints.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return syncErrors.NewValidationError(syncErrors.OpConfig, fmt.Errorf("config: "+format, args...))
	}

	switch {
	case c.MaxEventSizeBytes <= 0:
		return invalid("max_event_size_bytes must be positive")
	case c.MaxBatchEvents <= 0:
		return invalid("max_batch_events must be positive")
	case c.MaxBatchBytes < c.MaxEventSizeBytes:
		return invalid("max_batch_bytes (%d) must hold at least one maximum-size event (%d)", c.MaxBatchBytes, c.MaxEventSizeBytes)
	case c.MaxTotalStoreBytes < int64(c.MaxBatchBytes):
		return invalid("max_total_store_bytes must be at least max_batch_bytes")
	case c.BatchInterval < 0:
		return invalid("batch_interval must not be negative")
	case c.MinBackgroundSendInterval < 0:
		return invalid("min_background_send_interval must not be negative")
	case c.BackoffBase <= 0:
		return invalid("backoff_base must be positive")
	case c.BackoffCap < c.BackoffBase:
		return invalid("backoff_cap (%s) must be >= backoff_base (%s)", c.BackoffCap, c.BackoffBase)
	case c.SessionTimeout < 0:
		return invalid("session_timeout must not be negative")
	case c.RemoteRefreshInterval < 0:
		return invalid("remote_refresh_interval must not be negative")
	case c.RequestTimeout < 0:
		return invalid("request_timeout must not be negative")
	case c.StorageDriver != StorageSQLite && c.StorageDriver != StoragePostgres:
		return invalid("storage_driver must be %q or %q, got %q", StorageSQLite, StoragePostgres, c.StorageDriver)
	case c.StorageDriver == StoragePostgres && c.DatabaseURL == "":
		return invalid("database_url is required for the postgres storage driver")
	case len(c.Telemetry.KafkaBrokers) > 0 && c.Telemetry.KafkaTopic == "":
		return invalid("telemetry.kafka_topic is required when kafka_brokers are set")
	}

	for name, raw := range map[string]string{"analytics_url": c.AnalyticsURL, "remote_data_url": c.RemoteDataURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("%s must be an absolute http(s) URL, got %q", name, raw)
		}
	}
	return nil
}
