package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
)

// EnvPrefix prefixes every environment variable, e.g. TELEMETRYKIT_BATCH_INTERVAL.
const EnvPrefix = "TELEMETRYKIT"

// Load reads the optional config file at path (yaml, json or env, chosen by
// extension), overlays TELEMETRYKIT_* environment variables, and validates
// the result. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	registerDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "yml" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, syncErrors.NewValidationError(syncErrors.OpConfig, fmt.Errorf("read config %s: %w", path, err))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func registerDefaults(v *viper.Viper, d Config) {
	v.SetDefault("enabled", d.Enabled)
	v.SetDefault("app_key", d.AppKey)
	v.SetDefault("app_secret", d.AppSecret)
	v.SetDefault("analytics_url", d.AnalyticsURL)
	v.SetDefault("remote_data_url", d.RemoteDataURL)
	v.SetDefault("device_family", d.DeviceFamily)
	v.SetDefault("max_event_size_bytes", d.MaxEventSizeBytes)
	v.SetDefault("batch_interval", d.BatchInterval)
	v.SetDefault("max_batch_events", d.MaxBatchEvents)
	v.SetDefault("max_batch_bytes", d.MaxBatchBytes)
	v.SetDefault("max_total_store_bytes", d.MaxTotalStoreBytes)
	v.SetDefault("min_background_send_interval", d.MinBackgroundSendInterval)
	v.SetDefault("backoff_base", d.BackoffBase)
	v.SetDefault("backoff_cap", d.BackoffCap)
	v.SetDefault("session_timeout", d.SessionTimeout)
	v.SetDefault("track_lifecycle_events", d.TrackLifecycleEvents)
	v.SetDefault("remote_refresh_interval", d.RemoteRefreshInterval)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("database_path", d.DatabasePath)
	v.SetDefault("storage_driver", d.StorageDriver)
	v.SetDefault("database_url", d.DatabaseURL)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.add_source", d.Log.AddSource)
	v.SetDefault("log.environment", d.Log.Environment)
	v.SetDefault("telemetry.otlp_endpoint", d.Telemetry.OTLPEndpoint)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.emit_event_logs", d.Telemetry.EmitEventLogs)
	v.SetDefault("telemetry.kafka_brokers", d.Telemetry.KafkaBrokers)
	v.SetDefault("telemetry.kafka_topic", d.Telemetry.KafkaTopic)
}

// Parse decodes a YAML (or JSON, which is valid YAML) document onto the
// defaults and validates it. Durations are written as "15s", "20m".
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpConfig, fmt.Errorf("parse config: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and parses a standalone config file without consulting
// the environment.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpConfig, fmt.Errorf("read config %s: %w", path, err))
	}
	return Parse(data)
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
