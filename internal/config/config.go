package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Database      DatabaseConfig
	Vault         VaultConfig
	Sync          SyncRuntimeConfig
	Scheduler     SchedulerConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	Path      string
	LogTiming bool
}

// VaultConfig carries the credential encryption key. The key itself is
// decoded once at load and never logged.
type VaultConfig struct {
	Key []byte
}

type SyncRuntimeConfig struct {
	RunBudgetMinutes int
	RetryMaxAttempts int
	RetryBaseMS      int
	RetryMaxMS       int
	RequestRPS       float64
	RequestBurst     int
}

type SchedulerConfig struct {
	Enabled bool
}

type ObservabilityConfig struct {
	Enabled           bool
	OTLPEndpoint      string
	OTLPTraceHeaders  map[string]string
	OTLPMetricHeaders map[string]string
	ServiceName       string
	ServiceVer        string
	SamplingRatio     float64
	MetricsConsole    bool
}

func Load() (Config, error) {
	return load(true)
}

// LoadForTool loads config for CLI tools that do not need the vault key.
func LoadForTool() (Config, error) {
	return load(false)
}

func load(requireVaultKey bool) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("rostersync_env", "")
	v.SetDefault("app_env", "")
	v.SetDefault("go_env", "")
	v.SetDefault("rostersync_port", 8080)
	v.SetDefault("rostersync_db_path", "data/rostersync")
	v.SetDefault("rostersync_db_timing", false)
	v.SetDefault("rostersync_vault_key", "")
	v.SetDefault("rostersync_sync_budget_minutes", 10)
	v.SetDefault("rostersync_retry_max_attempts", 3)
	v.SetDefault("rostersync_retry_base_ms", 500)
	v.SetDefault("rostersync_retry_max_ms", 30000)
	v.SetDefault("rostersync_request_rps", 10.0)
	v.SetDefault("rostersync_request_burst", 5)
	v.SetDefault("rostersync_scheduler_enabled", true)
	v.SetDefault("rostersync_otel_enabled", false)
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("otel_exporter_otlp_headers", "")
	v.SetDefault("otel_exporter_otlp_traces_headers", "")
	v.SetDefault("otel_exporter_otlp_metrics_headers", "")
	v.SetDefault("otel_service_name", "rostersync")
	v.SetDefault("rostersync_service_name", "rostersync")
	v.SetDefault("rostersync_version", "dev")
	v.SetDefault("otel_service_version", "")
	v.SetDefault("rostersync_otel_sampling_ratio", 1.0)
	v.SetDefault("rostersync_otel_metrics_console", false)

	env := resolveEnvironment(v)
	port := v.GetInt("rostersync_port")
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid ROSTERSYNC_PORT: %d", port)
	}

	samplingRatio := v.GetFloat64("rostersync_otel_sampling_ratio")
	if samplingRatio < 0 {
		samplingRatio = 0
	}
	if samplingRatio > 1 {
		samplingRatio = 1
	}

	budgetMinutes := v.GetInt("rostersync_sync_budget_minutes")
	if budgetMinutes <= 0 {
		budgetMinutes = 10
	}
	retryAttempts := v.GetInt("rostersync_retry_max_attempts")
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	retryBase := v.GetInt("rostersync_retry_base_ms")
	if retryBase <= 0 {
		retryBase = 500
	}
	retryMax := v.GetInt("rostersync_retry_max_ms")
	if retryMax < retryBase {
		retryMax = retryBase
	}
	requestRPS := v.GetFloat64("rostersync_request_rps")
	if requestRPS <= 0 {
		requestRPS = 10
	}
	requestBurst := v.GetInt("rostersync_request_burst")
	if requestBurst <= 0 {
		requestBurst = 5
	}

	serviceName := strings.TrimSpace(v.GetString("otel_service_name"))
	if serviceName == "" {
		serviceName = strings.TrimSpace(v.GetString("rostersync_service_name"))
	}
	if serviceName == "" {
		serviceName = "rostersync"
	}

	serviceVersion := strings.TrimSpace(v.GetString("rostersync_version"))
	if serviceVersion == "" {
		serviceVersion = strings.TrimSpace(v.GetString("otel_service_version"))
	}
	if serviceVersion == "" {
		serviceVersion = "dev"
	}

	otlpEndpoint := strings.TrimSpace(v.GetString("otel_exporter_otlp_endpoint"))
	otlpCommonHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_headers"))
	otlpTraceHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_traces_headers"))
	otlpMetricHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_metrics_headers"))
	metricsConsole := v.GetBool("rostersync_otel_metrics_console")
	otelEnabled := v.GetBool("rostersync_otel_enabled") || otlpEndpoint != "" || metricsConsole

	cfg := Config{
		Environment: env,
		Server:      ServerConfig{Port: port},
		Database: DatabaseConfig{
			Path:      strings.TrimSpace(v.GetString("rostersync_db_path")),
			LogTiming: v.GetBool("rostersync_db_timing"),
		},
		Sync: SyncRuntimeConfig{
			RunBudgetMinutes: budgetMinutes,
			RetryMaxAttempts: retryAttempts,
			RetryBaseMS:      retryBase,
			RetryMaxMS:       retryMax,
			RequestRPS:       requestRPS,
			RequestBurst:     requestBurst,
		},
		Scheduler: SchedulerConfig{
			Enabled: v.GetBool("rostersync_scheduler_enabled"),
		},
		Observability: ObservabilityConfig{
			Enabled:           otelEnabled,
			OTLPEndpoint:      otlpEndpoint,
			OTLPTraceHeaders:  mergeHeaderMaps(otlpCommonHeaders, otlpTraceHeaders),
			OTLPMetricHeaders: mergeHeaderMaps(otlpCommonHeaders, otlpMetricHeaders),
			ServiceName:       serviceName,
			ServiceVer:        serviceVersion,
			SamplingRatio:     samplingRatio,
			MetricsConsole:    metricsConsole,
		},
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/rostersync"
	}

	keyHex := strings.TrimSpace(v.GetString("rostersync_vault_key"))
	switch {
	case keyHex != "":
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return Config{}, fmt.Errorf("ROSTERSYNC_VAULT_KEY is not valid hex")
		}
		if len(key) != 32 {
			return Config{}, fmt.Errorf("ROSTERSYNC_VAULT_KEY must be 32 bytes, got %d", len(key))
		}
		cfg.Vault.Key = key
	case requireVaultKey && !cfg.IsLocalDevelopment():
		return Config{}, fmt.Errorf("ROSTERSYNC_VAULT_KEY is required outside local/dev environments")
	case requireVaultKey:
		// Deterministic local-dev key so restarts can decrypt existing rows.
		cfg.Vault.Key = localDevVaultKey()
	}

	return cfg, nil
}

func localDevVaultKey() []byte {
	key := make([]byte, 32)
	copy(key, "rostersync-local-dev")
	return key
}

func parseOTLPHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pair := strings.SplitN(part, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key := strings.TrimSpace(pair[0])
		value := strings.TrimSpace(pair[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mergeHeaderMaps(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func (c Config) IsLocalDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "", "local", "dev", "development", "test":
		return true
	default:
		return false
	}
}

func (c Config) SyncRunBudget() time.Duration {
	return time.Duration(c.Sync.RunBudgetMinutes) * time.Minute
}

func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Sync.RetryBaseMS) * time.Millisecond
}

func (c Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Sync.RetryMaxMS) * time.Millisecond
}

func resolveEnvironment(v *viper.Viper) string {
	for _, key := range []string{"rostersync_env", "app_env", "go_env"} {
		value := strings.TrimSpace(v.GetString(key))
		if value != "" {
			return strings.ToLower(value)
		}
	}
	return ""
}
