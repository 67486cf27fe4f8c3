/*
Package config handles loading and validating application configuration
from environment variables. All values have sensible defaults so the
application can start with zero environment setup during local development.
*/
package config

import (
	"log/slog"      // slog = structured log. used for json logging in this app
	"os"            // used .Getenv calls and write logs to stdout.
	"path/filepath" // used to extract file base name form absolute path in logging.
	"strconv"
	"time"
)

// AppConfig struct holds all configuration values for the orchestrator.
// values are read once at startup and passed through the app via dependency
// injection. no global config variable is used. callers receive a
// *AppConfig explicitly, making dependencies visible and the code easier to test.
type AppConfig struct {
	// Port is the TCP port the HTTP server listens on
	Port string

	// DBPath is the file path to the SQLite database file.
	// when switching to Postgres, this field becomes the DSN connection string.
	DBPath string

	// NetworkName is the Docker network name that every sandbox container
	// is attached to, so the proxy can reach it over the loopback-mapped
	// host port (spec §6.4 NETWORK_NAME).
	NetworkName string

	// BaseDomain is the suffix appended to a subdomain to build the public
	// sandbox URL: "<uuid>.<BaseDomain>" (spec §6.4 BASE_DOMAIN).
	BaseDomain string

	// MaxPerUser caps concurrent running containers per subject (I3).
	MaxPerUser int

	// IdleLimit is the inactivity duration after which a running
	// container is reaped.
	IdleLimit time.Duration

	// LifetimeLimit is the absolute duration after which a running
	// container is reaped regardless of activity.
	LifetimeLimit time.Duration

	// CheckInterval is the watcher tick period.
	CheckInterval time.Duration

	// ReconcileInterval is the period between reconciliation passes.
	ReconcileInterval time.Duration

	// StoppedRetention is how long terminal Container Records are kept
	// before the reconciler purges them.
	StoppedRetention time.Duration

	// ProxyTimeout bounds each proxied non-WebSocket request of the
	// Subdomain Router / Proxy through its request context. WebSocket
	// upgrades are not bounded by it, and no separate idle-socket timeout
	// is set.
	ProxyTimeout time.Duration

	// UploadMaxSize caps the size (bytes) of an accepted exercise bundle.
	UploadMaxSize int64

	// LogFormat controls the output format of slog (logging library)
	// accepted values: "text" (default) | "json"
	// "text" gives readable terminal output during local development
	LogFormat string
}

// NewLogger constructs a *slog.Logger based on the LogFormat field of the config.
// "text" produces human-readable output for local development
// any other value (including "json") produces structured JSON output for production
// and Docker log shipping.
func (config *AppConfig) NewLogger() *slog.Logger {
	var handler slog.Handler // declaration of slog.Handler interface variable to hold the chosen log handler

	options := &slog.HandlerOptions{
		// AddSource adds the file name and line number to each log record
		// useful during development to trace log origins.
		AddSource: true,
		Level:     slog.LevelDebug,
		ReplaceAttr: func(groups []string, attribute slog.Attr) slog.Attr {
			if attribute.Key == slog.SourceKey {
				source := attribute.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return attribute
		},
	}

	if config.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, options) // text for local dev
	} else {
		handler = slog.NewJSONHandler(os.Stdout, options) // json for prod
	}

	return slog.New(handler)
}

// LoadAppConfig reads configuration from environment variables and returns a
// populated AppConfig struct. missing environment variables fall back to
// safe defaults from spec §6.4 so the app can run with zero setup.
func LoadAppConfig() *AppConfig {
	return &AppConfig{
		Port:              getEnv("PORT", "8080"),
		DBPath:            getEnv("DB_PATH", "./training.db"),
		NetworkName:       getEnv("NETWORK_NAME", "training_network"),
		BaseDomain:        getEnv("BASE_DOMAIN", "training.localhost"),
		MaxPerUser:        getEnvInt("MAX_PER_USER", 3),
		IdleLimit:         getEnvDuration("IDLE_LIMIT", 15*time.Minute),
		LifetimeLimit:     getEnvDuration("LIFETIME_LIMIT", 2*time.Hour),
		CheckInterval:     getEnvDuration("CHECK_INTERVAL", 60*time.Second),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 6*time.Hour),
		StoppedRetention:  getEnvDuration("STOPPED_RETENTION", 24*time.Hour),
		ProxyTimeout:      getEnvDuration("PROXY_TIMEOUT", 60*time.Second),
		UploadMaxSize:     getEnvInt64("UPLOAD_MAX_SIZE", 50<<20), // 50 MB
		LogFormat:         getEnv("LOG_FORMAT", "text"),
	}
}

// getEnv retrieves the value of an environment variable by key.
// if the variable is not set or is empty, the provided fallback value is returned.
// this avoids scattered os.Getenv calls with inline fallback logic throughout the codebase.
func getEnv(key, fallbackValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallbackValue
}

// getEnvInt parses an integer-valued environment variable, falling back to
// the given default when unset or unparsable.
func getEnvInt(key string, fallbackValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallbackValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallbackValue
	}
	return parsed
}

// getEnvInt64 parses an int64-valued environment variable (used for byte
// sizes), falling back to the given default when unset or unparsable.
func getEnvInt64(key string, fallbackValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallbackValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallbackValue
	}
	return parsed
}

// getEnvDuration parses a duration-valued environment variable (e.g. "15m",
// "2h"), falling back to the given default when unset or unparsable.
func getEnvDuration(key string, fallbackValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallbackValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallbackValue
	}
	return parsed
}
