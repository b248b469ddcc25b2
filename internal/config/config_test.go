package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// resetEnv clears the environment and sets the minimum required for Load to succeed, plus kv.
func resetEnv(kv ...string) {
	os.Clearenv()
	os.Setenv("API_URL", "http://backend.test/api")
	for i := 0; i+1 < len(kv); i += 2 {
		os.Setenv(kv[i], kv[i+1])
	}
}

func TestLoad_Defaults(t *testing.T) {
	resetEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":1234" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":1234")
	}
	if cfg.GRPCAddr != ":8081" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":8081")
	}
	if cfg.JWTPublicKey != "./public.pem" {
		t.Errorf("JWTPublicKey = %q, want %q", cfg.JWTPublicKey, "./public.pem")
	}
	if cfg.JWTIssuer != "" || cfg.JWTAudience != "" {
		t.Errorf("issuer/audience = %q/%q, want empty", cfg.JWTIssuer, cfg.JWTAudience)
	}
	if cfg.RecordStore != RecordStoreHTTP {
		t.Errorf("RecordStore = %q, want %q", cfg.RecordStore, RecordStoreHTTP)
	}
	if cfg.APITimeout != 10*time.Second {
		t.Errorf("APITimeout = %v, want 10s", cfg.APITimeout)
	}
	if cfg.Debounce != 2*time.Second {
		t.Errorf("Debounce = %v, want 2s", cfg.Debounce)
	}
	if cfg.DebounceMaxWait != 10*time.Second {
		t.Errorf("DebounceMaxWait = %v, want 10s", cfg.DebounceMaxWait)
	}
	if cfg.KeepaliveInterval != 30*time.Second {
		t.Errorf("KeepaliveInterval = %v, want 30s", cfg.KeepaliveInterval)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want 10s", cfg.WriteTimeout)
	}
	if cfg.TelemetryKafkaTopic != "collab-session-events" {
		t.Errorf("TelemetryKafkaTopic = %q, want collab-session-events", cfg.TelemetryKafkaTopic)
	}
	if cfg.OTLPInsecure {
		t.Error("OTLPInsecure should default to false")
	}
	if cfg.AllowedOriginsList() != nil {
		t.Errorf("AllowedOriginsList = %v, want nil", cfg.AllowedOriginsList())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	resetEnv(
		"HTTP_ADDR", ":9999",
		"JWT_ISSUER", "backend",
		"JWT_AUDIENCE", "collab",
		"KEEPALIVE_INTERVAL", "5s",
		"DEBOUNCE", "500ms",
		"OTEL_EXPORTER_OTLP_INSECURE", "true",
	)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want :9999", cfg.HTTPAddr)
	}
	if cfg.JWTIssuer != "backend" || cfg.JWTAudience != "collab" {
		t.Errorf("issuer/audience = %q/%q", cfg.JWTIssuer, cfg.JWTAudience)
	}
	if cfg.KeepaliveInterval != 5*time.Second {
		t.Errorf("KeepaliveInterval = %v, want 5s", cfg.KeepaliveInterval)
	}
	if cfg.Debounce != 500*time.Millisecond {
		t.Errorf("Debounce = %v, want 500ms", cfg.Debounce)
	}
	if !cfg.OTLPInsecure {
		t.Error("OTLPInsecure should be true")
	}
}

func TestLoad_DebounceDisabled(t *testing.T) {
	for _, v := range []string{"0", "off", "OFF", "false"} {
		t.Run(v, func(t *testing.T) {
			resetEnv("DEBOUNCE", v)
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Debounce != 0 {
				t.Errorf("Debounce = %v, want 0", cfg.Debounce)
			}
		})
	}
}

func TestLoad_RecordStore(t *testing.T) {
	testCases := []struct {
		name    string
		env     []string
		wantErr string
	}{
		{"http with url", []string{"RECORD_STORE", "http"}, ""},
		{"http without url", []string{"RECORD_STORE", "http", "API_URL", ""}, "API_URL"},
		{"postgres with dsn", []string{"RECORD_STORE", "postgres", "DATABASE_URL", "postgres://localhost/collab"}, ""},
		{"postgres without dsn", []string{"RECORD_STORE", "postgres"}, "DATABASE_URL"},
		{"unknown", []string{"RECORD_STORE", "redis"}, "RECORD_STORE"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resetEnv(tc.env...)
			cfg, err := Load()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Load: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Load should return error")
			}
			if cfg != nil {
				t.Error("Load should return nil config on error")
			}
			if !strings.HasPrefix(err.Error(), "config: ") || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %q, want config: error naming %s", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestLoad_InvalidDurations(t *testing.T) {
	testCases := []struct {
		key   string
		value string
	}{
		{"API_TIMEOUT", "soon"},
		{"API_TIMEOUT", "0"},
		{"DEBOUNCE", "later"},
		{"DEBOUNCE", "-1s"},
		{"DEBOUNCE_MAX_WAIT", "-10s"},
		{"KEEPALIVE_INTERVAL", "never"},
		{"WRITE_TIMEOUT", "0s"},
	}

	for _, tc := range testCases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			resetEnv(tc.key, tc.value)
			_, err := Load()
			if err == nil {
				t.Fatal("Load should return error")
			}
			if !strings.Contains(err.Error(), tc.key) {
				t.Errorf("error = %q, want it to name %s", err.Error(), tc.key)
			}
		})
	}
}

func TestAllowedOriginsList(t *testing.T) {
	resetEnv("ALLOWED_ORIGINS", " https://app.example.com, ,http://localhost:3000 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"https://app.example.com", "http://localhost:3000"}
	if got := cfg.AllowedOriginsList(); !reflect.DeepEqual(got, want) {
		t.Errorf("AllowedOriginsList = %v, want %v", got, want)
	}
}

func TestTelemetryKafkaBrokersList(t *testing.T) {
	testCases := []struct {
		name    string
		brokers string
		want    []string
	}{
		{"empty", "", nil},
		{"single", "localhost:9092", []string{"localhost:9092"}},
		{"multiple with spaces", "kafka-1:9092, kafka-2:9092 ,", []string{"kafka-1:9092", "kafka-2:9092"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{TelemetryKafkaBrokers: tc.brokers}
			if got := cfg.TelemetryKafkaBrokersList(); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("TelemetryKafkaBrokersList = %v, want %v", got, tc.want)
			}
		})
	}

	var nilCfg *Config
	if nilCfg.TelemetryKafkaBrokersList() != nil {
		t.Error("nil config should report no brokers")
	}
}

func TestDatabaseURL_IgnoresServerSettings(t *testing.T) {
	os.Clearenv()
	os.Setenv("RECORD_STORE", "bogus")
	os.Setenv("DATABASE_URL", "postgres://localhost/collab")

	if got := DatabaseURL(); got != "postgres://localhost/collab" {
		t.Errorf("DatabaseURL = %q", got)
	}
}
