// Package config loads service configuration from an optional YAML file with
// environment variable overrides. Environment wins so deployments can keep a
// checked-in base file and override per environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Notify   Notify   `yaml:"notify"`
	Jobs     Jobs     `yaml:"jobs"`
}

// Server holds HTTP listener settings.
type Server struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

// Database holds the Postgres connection settings. An empty DSN selects the
// in-memory store.
type Database struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	MigrationsDir   string        `yaml:"migrations_dir"`
	SeedsDir        string        `yaml:"seeds_dir"`
}

// Notify holds notification dispatcher settings.
type Notify struct {
	Enabled     bool          `yaml:"enabled"`
	QueueSize   int           `yaml:"queue_size"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// Jobs holds background job schedules in cron syntax.
type Jobs struct {
	ReconcileSchedule string `yaml:"reconcile_schedule"`
}

// Default returns the configuration used when no file and no overrides exist.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateLimitRPS:    50,
			RateLimitBurst:  100,
		},
		Database: Database{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			MigrationsDir:   "db/migrations",
			SeedsDir:        "db/seeds",
		},
		Notify: Notify{
			Enabled:     true,
			QueueSize:   256,
			SendTimeout: 5 * time.Second,
		},
		Jobs: Jobs{
			ReconcileSchedule: "17 3 * * *",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty or missing)
// and applies YES_* environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Missing file is fine; env and defaults carry the config.
		default:
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "YES_HTTP_ADDR")
	setString(&cfg.Database.DSN, "YES_PG_DSN")
	setString(&cfg.Database.MigrationsDir, "YES_MIGRATIONS_DIR")
	setString(&cfg.Database.SeedsDir, "YES_SEEDS_DIR")
	setString(&cfg.Jobs.ReconcileSchedule, "YES_RECONCILE_SCHEDULE")
	setInt(&cfg.Database.MaxOpenConns, "YES_PG_MAX_OPEN")
	setInt(&cfg.Database.MaxIdleConns, "YES_PG_MAX_IDLE")
	setInt(&cfg.Notify.QueueSize, "YES_NOTIFY_QUEUE")
	setBool(&cfg.Notify.Enabled, "YES_NOTIFY_ENABLED")
	setFloat(&cfg.Server.RateLimitRPS, "YES_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "YES_RATE_LIMIT_BURST")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Notify.QueueSize <= 0 {
		return fmt.Errorf("notify.queue_size must be > 0")
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("server.rate_limit_rps must be > 0")
	}
	return nil
}
