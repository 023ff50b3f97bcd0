// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full service configuration, populated from environment
// variables with defaults suited to local runs.
type Config struct {
	Server        ServerConfig
	Upload        UploadConfig
	Jobs          JobsConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
	Profiling     ProfilingConfig
}

// ServerConfig controls the HTTP listener. RequestTimeout bounds reading and
// writing a single request; settlement uploads can be large, so the default
// is generous.
type ServerConfig struct {
	Host               string
	Port               int
	RequestTimeout     time.Duration
	RateLimitPerSecond int
	RateLimitBurst     int
}

// UploadConfig controls where uploads are spooled and how large they may be.
type UploadConfig struct {
	Dir      string
	MaxBytes int64
}

// JobsConfig sizes the processing worker pool. Zero values let the
// coordinator pick its own defaults. ParseTimeout bounds a single file's
// decode and parse; past it the job fails instead of hogging a worker.
type JobsConfig struct {
	Workers      int
	QueueSize    int
	ParseTimeout time.Duration
}

// DatabaseConfig describes the optional run-history database. When Enabled
// is false the service runs without persistence.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type ObservabilityConfig struct {
	MetricsEnabled bool
}

type ProfilingConfig struct {
	Enabled bool
	Port    int
}

// Load reads configuration from the environment. The first unparsable value
// fails the load.
func Load() (*Config, error) {
	r := &envReader{}
	cfg := &Config{
		Server: ServerConfig{
			Host:               r.str("HOST", "0.0.0.0"),
			Port:               r.int("PORT", 5000),
			RequestTimeout:     r.duration("REQUEST_TIMEOUT", 30*time.Minute),
			RateLimitPerSecond: r.int("RATE_LIMIT_PER_SECOND", 0),
			RateLimitBurst:     r.int("RATE_LIMIT_BURST", 0),
		},
		Upload: UploadConfig{
			Dir:      r.str("UPLOAD_DIR", "uploads"),
			MaxBytes: r.int64("UPLOAD_MAX_BYTES", 1<<30),
		},
		Jobs: JobsConfig{
			Workers:      r.int("JOB_WORKERS", 0),
			QueueSize:    r.int("JOB_QUEUE_SIZE", 0),
			ParseTimeout: r.duration("JOB_PARSE_TIMEOUT", 30*time.Minute),
		},
		Database: DatabaseConfig{
			Enabled:  r.boolean("DATABASE_ENABLED", false),
			Host:     r.str("DB_HOST", "localhost"),
			Port:     r.int("DB_PORT", 5432),
			User:     r.str("DB_USER", "postgres"),
			Password: r.str("DB_PASSWORD", ""),
			Name:     r.str("DB_NAME", "settlements"),
			SSLMode:  r.str("DB_SSLMODE", "disable"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: r.boolean("METRICS_ENABLED", true),
		},
		Profiling: ProfilingConfig{
			Enabled: r.boolean("PPROF_ENABLED", false),
			Port:    r.int("PPROF_PORT", 6060),
		},
	}
	if r.err != nil {
		return nil, r.err
	}
	return cfg, nil
}

// envReader reads typed environment variables and records the first parse
// failure instead of failing each call.
type envReader struct {
	err error
}

func (r *envReader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (r *envReader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *envReader) int64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *envReader) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}

func (r *envReader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
