package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	// Optional variables with defaults
	Port     string
	GoEnv    string
	LogLevel string

	DevelopmentMode bool
	AllowedOrigins  string

	// Rate Limits
	RateLimitWsIp string

	// Tracing
	OtelEnabled  bool
	OtelEndpoint string
}

// DefaultPort is used when PORT is unset.
const DefaultPort = "8080"

// ValidateEnv validates all environment variables and returns a Config
// object. Every variable has a default; invalid values are errors.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Optional: PORT (defaults to 8080, must be a valid port when set)
	cfg.Port = getEnvOrDefault("PORT", DefaultPort)
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Rate Limits (M = Minute, H = Hour)
	cfg.RateLimitWsIp = getEnvOrDefault("RATE_LIMIT_WS_IP", "120-M")

	// Tracing
	cfg.OtelEnabled = os.Getenv("OTEL_ENABLED") == "true"
	cfg.OtelEndpoint = getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	if cfg.OtelEnabled && !isValidHostPort(cfg.OtelEndpoint) {
		errors = append(errors, fmt.Sprintf("OTEL_EXPORTER_OTLP_ENDPOINT must be in format 'host:port' (got '%s')", cfg.OtelEndpoint))
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// Origins returns the allowed WebSocket/CORS origins. An unset variable
// falls back to the local development frontend; "*" allows every origin.
func (c *Config) Origins() []string {
	if c.AllowedOrigins == "" {
		return []string{"http://localhost:3000"}
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// AllowAllOrigins reports whether the origin allow-list is a wildcard.
func (c *Config) AllowAllOrigins() bool {
	for _, o := range c.Origins() {
		if o == "*" {
			return true
		}
	}
	return false
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// logValidatedConfig logs the validated configuration
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated",
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"allowed_origins", cfg.AllowedOrigins,
		"rate_limit_ws_ip", cfg.RateLimitWsIp,
		"otel_enabled", cfg.OtelEnabled,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
