package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-telemetry-kit/errors"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 64*1024, cfg.MaxEventSizeBytes)
	assert.Equal(t, 900*time.Second, cfg.MinBackgroundSendInterval)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero event size", func(c *Config) { c.MaxEventSizeBytes = 0 }},
		{"zero batch events", func(c *Config) { c.MaxBatchEvents = 0 }},
		{"batch smaller than event", func(c *Config) { c.MaxBatchBytes = c.MaxEventSizeBytes - 1 }},
		{"store smaller than batch", func(c *Config) { c.MaxTotalStoreBytes = int64(c.MaxBatchBytes) - 1 }},
		{"negative batch interval", func(c *Config) { c.BatchInterval = -time.Second }},
		{"zero backoff base", func(c *Config) { c.BackoffBase = 0 }},
		{"cap below base", func(c *Config) { c.BackoffCap = c.BackoffBase / 2 }},
		{"relative analytics url", func(c *Config) { c.AnalyticsURL = "/warp9" }},
		{"ftp remote data url", func(c *Config) { c.RemoteDataURL = "ftp://example.com" }},
		{"kafka brokers without topic", func(c *Config) { c.Telemetry.KafkaBrokers = []string{"localhost:9092"} }},
		{"unknown storage driver", func(c *Config) { c.StorageDriver = "bolt" }},
		{"postgres without url", func(c *Config) { c.StorageDriver = StoragePostgres }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, syncErrors.ErrCodeValidationFailure, syncErrors.CodeOf(err))
		})
	}
}

func TestParseYAML(t *testing.T) {
	cfg, err := Parse([]byte(`
app_key: abc
analytics_url: https://combine.example.com
batch_interval: 30s
backoff_cap: 1h
max_batch_events: 100
log:
  level: debug
  format: text
`))
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.AppKey)
	assert.Equal(t, 30*time.Second, cfg.BatchInterval)
	assert.Equal(t, time.Hour, cfg.BackoffCap)
	assert.Equal(t, 100, cfg.MaxBatchEvents)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, 60*time.Second, cfg.BackoffBase)
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"enabled": false, "remote_refresh_interval": "2m"}`))
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.RemoteRefreshInterval)
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte(`backoff_base: 0s`))
	require.Error(t, err)

	_, err = Parse([]byte("batch_interval: [not, a, duration]"))
	require.Error(t, err)
}

func TestLoadFileAndEnvironmentOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetrykit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch_interval: 20s\nmax_batch_events: 50\n"), 0o600))

	t.Setenv("TELEMETRYKIT_MAX_BATCH_EVENTS", "75")
	t.Setenv("TELEMETRYKIT_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, cfg.BatchInterval)
	assert.Equal(t, 75, cfg.MaxBatchEvents)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, Default().BackoffCap, cfg.BackoffCap)

	fromFile, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 50, fromFile.MaxBatchEvents)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("TELEMETRYKIT_BATCH_INTERVAL", "45s")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.BatchInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.AppKey = "key"
	data, err := Marshal(cfg)
	require.NoError(t, err)

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, *back)
}

func TestStorageDriver(t *testing.T) {
	cfg, err := Parse([]byte("storage_driver: postgres\ndatabase_url: postgres://kit@db/telemetry\n"))
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.StorageDriver)
	assert.Equal(t, "postgres://kit@db/telemetry", cfg.DatabaseURL)

	assert.Equal(t, StorageSQLite, Default().StorageDriver)
}

func TestTelemetrySection(t *testing.T) {
	cfg, err := Parse([]byte(`
telemetry:
  otlp_endpoint: localhost:4317
  emit_event_logs: true
  kafka_brokers: [k1:9092, k2:9092]
  kafka_topic: events
`))
	require.NoError(t, err)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "telemetrykit", cfg.Telemetry.ServiceName)
	assert.True(t, cfg.Telemetry.EmitEventLogs)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Telemetry.KafkaBrokers)

	t.Setenv("TELEMETRYKIT_TELEMETRY_KAFKA_TOPIC", "mirror")
	t.Setenv("TELEMETRYKIT_TELEMETRY_SERVICE_NAME", "console")
	loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mirror", loaded.Telemetry.KafkaTopic)
	assert.Equal(t, "console", loaded.Telemetry.ServiceName)
}
