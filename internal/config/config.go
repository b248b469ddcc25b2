// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Record store backends.
const (
	RecordStoreHTTP     = "http"
	RecordStorePostgres = "postgres"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the websocket listener binds (e.g. :1234).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the admin gRPC listener serving health and reflection.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`

	// JWTPublicKey is the PEM-encoded public key or path to file used to verify credentials.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTPrivateKey is the PEM-encoded private key or path to file; only the devtoken command uses it.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTIssuer is enforced as the iss claim when set.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is enforced as the aud claim when set.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`

	// RecordStore selects where persisted documents live: "http" or "postgres".
	RecordStore string `mapstructure:"RECORD_STORE"`
	// APIURL is the backend REST API base URL; required for the http record store.
	APIURL string `mapstructure:"API_URL"`
	// APITimeoutRaw is the per-request backend timeout (e.g. "10s").
	APITimeoutRaw string `mapstructure:"API_TIMEOUT"`
	// DatabaseURL is the Postgres DSN; required for the postgres record store and the migrate command.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// DebounceRaw is the save coalescing delay; "0", "off" or "false" disables debouncing.
	DebounceRaw string `mapstructure:"DEBOUNCE"`
	// DebounceMaxWaitRaw bounds how long a burst of edits may postpone a save.
	DebounceMaxWaitRaw string `mapstructure:"DEBOUNCE_MAX_WAIT"`
	// KeepaliveIntervalRaw is the liveness probe interval.
	KeepaliveIntervalRaw string `mapstructure:"KEEPALIVE_INTERVAL"`
	// WriteTimeoutRaw is the per-frame transport write deadline.
	WriteTimeoutRaw string `mapstructure:"WRITE_TIMEOUT"`
	// AllowedOrigins is a comma-separated list of accepted Origin headers; empty accepts any.
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	// Telemetry (optional). When Kafka brokers are set, lifecycle events are produced to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for lifecycle events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// LokiURL enables pushing lifecycle events to Grafana Loki (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// OTLPEndpoint enables OTLP export of traces, metrics and logs when set.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext OTLP connection.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// Parsed durations, filled by Load.
	APITimeout        time.Duration `mapstructure:"-"`
	Debounce          time.Duration `mapstructure:"-"`
	DebounceMaxWait   time.Duration `mapstructure:"-"`
	KeepaliveInterval time.Duration `mapstructure:"-"`
	WriteTimeout      time.Duration `mapstructure:"-"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":1234")
	v.SetDefault("GRPC_ADDR", ":8081")
	v.SetDefault("JWT_PUBLIC_KEY", "./public.pem")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("RECORD_STORE", RecordStoreHTTP)
	v.SetDefault("API_URL", "")
	v.SetDefault("API_TIMEOUT", "10s")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DEBOUNCE", "2s")
	v.SetDefault("DEBOUNCE_MAX_WAIT", "10s")
	v.SetDefault("KEEPALIVE_INTERVAL", "30s")
	v.SetDefault("WRITE_TIMEOUT", "10s")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "collab-session-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.JWTPublicKey == "" {
		return nil, errors.New("config: JWT_PUBLIC_KEY must be set")
	}

	switch cfg.RecordStore {
	case RecordStoreHTTP:
		if cfg.APIURL == "" {
			return nil, errors.New("config: API_URL must be set when RECORD_STORE=http")
		}
	case RecordStorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("config: DATABASE_URL must be set when RECORD_STORE=postgres")
		}
	default:
		return nil, fmt.Errorf("config: RECORD_STORE must be %q or %q, got %q", RecordStoreHTTP, RecordStorePostgres, cfg.RecordStore)
	}

	var err error
	if cfg.APITimeout, err = parsePositive("API_TIMEOUT", cfg.APITimeoutRaw); err != nil {
		return nil, err
	}
	if cfg.Debounce, err = parseDebounce(cfg.DebounceRaw); err != nil {
		return nil, err
	}
	if cfg.DebounceMaxWait, err = parsePositive("DEBOUNCE_MAX_WAIT", cfg.DebounceMaxWaitRaw); err != nil {
		return nil, err
	}
	if cfg.KeepaliveInterval, err = parsePositive("KEEPALIVE_INTERVAL", cfg.KeepaliveIntervalRaw); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = parsePositive("WRITE_TIMEOUT", cfg.WriteTimeoutRaw); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func parsePositive(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}

// parseDebounce returns 0 when debouncing is switched off.
func parseDebounce(raw string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "0", "off", "false":
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config: DEBOUNCE must be a duration or off, got %q", raw)
	}
	return d, nil
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TelemetryKafkaBrokers)
}

// AllowedOriginsList returns the accepted websocket origins.
func (c *Config) AllowedOriginsList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.AllowedOrigins)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DatabaseURL reads only DATABASE_URL from .env and the environment. The migrate command uses it so
// it does not depend on the server's record store settings.
func DatabaseURL() string {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()
	v.SetDefault("DATABASE_URL", "")
	return v.GetString("DATABASE_URL")
}
