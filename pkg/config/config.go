package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/openwsm/openwsm/pkg/telemetry"
)

// Config is the full daemon configuration.
type Config struct {
	// Server configures the HTTP surface.
	Server ServerConfig `yaml:"server"`

	// Database configures the metadata and flight store.
	Database DatabaseConfig `yaml:"database"`

	// Scheduler configures the flight worker pool.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Orchestrator configures flight assembly behavior.
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Telemetry configures logging, metrics, tracing and events.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// ListenAddress is the host:port to bind.
	ListenAddress string `yaml:"listen_address" validate:"required"`
}

// DatabaseConfig selects and addresses the backing database.
type DatabaseConfig struct {
	// Driver is "sqlite" for solo deployments or "pgx" for PostgreSQL.
	Driver string `yaml:"driver" validate:"required,oneof=sqlite pgx"`

	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn" validate:"required"`

	// MigrateOnStart applies pending migrations during startup.
	MigrateOnStart bool `yaml:"migrate_on_start"`
}

// SchedulerConfig configures flight execution.
type SchedulerConfig struct {
	// Workers is the size of the flight worker pool.
	Workers int `yaml:"workers" validate:"min=1,max=64"`
}

// OrchestratorConfig configures flight assembly.
type OrchestratorConfig struct {
	// StateRule selects what a failed creation leaves behind:
	// DELETE_ON_FAILURE or BROKEN_ON_FAILURE.
	StateRule string `yaml:"state_rule" validate:"required,oneof=DELETE_ON_FAILURE BROKEN_ON_FAILURE"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: "127.0.0.1:8080",
		},
		Database: DatabaseConfig{
			Driver:         "sqlite",
			DSN:            "file:openwsm.db",
			MigrateOnStart: true,
		},
		Scheduler: SchedulerConfig{
			Workers: 4,
		},
		Orchestrator: OrchestratorConfig{
			StateRule: "DELETE_ON_FAILURE",
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads the configuration file, applies environment overrides and
// validates the result. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags and the
// telemetry section's own rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}

// applyEnv layers WSM_* environment variables over the file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("WSM_LISTEN_ADDRESS"); v != "" {
		cfg.Server.ListenAddress = v
	}
	if v := os.Getenv("WSM_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("WSM_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("WSM_SCHEDULER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.Workers = n
		}
	}
	if v := os.Getenv("WSM_STATE_RULE"); v != "" {
		cfg.Orchestrator.StateRule = v
	}
	if v := os.Getenv("WSM_LOG_LEVEL"); v != "" {
		cfg.Telemetry.Logging.Level = v
	}
	if v := os.Getenv("WSM_LOG_FORMAT"); v != "" {
		cfg.Telemetry.Logging.Format = v
	}
}
