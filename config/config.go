/*
Package config loads server configuration.

PURPOSE:
  One Config value assembled from, in order of increasing precedence:
    1. Built-in defaults (Default)
    2. A YAML file (optional)
    3. A .env file, loaded into the process environment (optional)
    4. ABSENCE_* environment variables

EXAMPLE FILE:
  server:
    port: 8080
    read_timeout: 15s
    allowed_origins: ["http://localhost:5173"]
  store:
    driver: sqlite
    sqlite_path: ./data/absence.db
    seed_file: ./policies.yaml
  auth:
    jwt_secret: change-me-to-something-long
  audit:
    log: true
    persist: true
    kafka:
      enabled: true
      brokers: ["localhost:9092"]
      topic: absence.events
  log:
    level: info

ENVIRONMENT:
  ABSENCE_PORT, ABSENCE_STORE_DRIVER, ABSENCE_SQLITE_PATH,
  ABSENCE_POSTGRES_DSN, ABSENCE_SEED_FILE, ABSENCE_JWT_SECRET, ABSENCE_ALLOWED_ORIGINS,
  ABSENCE_KAFKA_ENABLED, ABSENCE_KAFKA_BROKERS, ABSENCE_KAFKA_TOPIC,
  ABSENCE_LOG_LEVEL, ABSENCE_LOG_DEVELOPMENT
  List values are comma separated.

SEE ALSO:
  - logger.go: zap logger built from LogConfig
  - cmd/server/main.go: Consumer
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Auth   AuthConfig   `yaml:"auth"`
	Audit  AuditConfig  `yaml:"audit"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	// SeedFile is a policy catalog applied at startup (see factory/).
	SeedFile string `yaml:"seed_file"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type AuditConfig struct {
	// Log writes every event as a structured log line.
	Log bool `yaml:"log"`
	// Persist appends every event to the store's audit log.
	Persist bool        `yaml:"persist"`
	Kafka   KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Brokers    []string `yaml:"brokers"`
	Topic      string   `yaml:"topic"`
	BufferSize int      `yaml:"buffer_size"`
	MaxRetries uint64   `yaml:"max_retries"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a configuration that runs a single in-memory node. It is
// not valid until a JWT secret is supplied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Store: StoreConfig{
			Driver:     DriverMemory,
			SQLitePath: "absence.db",
		},
		Audit: AuditConfig{
			Log:     true,
			Persist: true,
			Kafka: KafkaConfig{
				Topic:      "absence.events",
				BufferSize: 1000,
				MaxRetries: 3,
			},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds a Config from path (may be empty) and the environment.
// envFiles defaults to ".env"; missing env files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = splitList(v)
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	if v, ok := lookup("ABSENCE_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ABSENCE_PORT: %w", err)
		}
		c.Server.Port = port
	}
	str("ABSENCE_STORE_DRIVER", &c.Store.Driver)
	str("ABSENCE_SQLITE_PATH", &c.Store.SQLitePath)
	str("ABSENCE_POSTGRES_DSN", &c.Store.PostgresDSN)
	str("ABSENCE_SEED_FILE", &c.Store.SeedFile)
	str("ABSENCE_JWT_SECRET", &c.Auth.JWTSecret)
	list("ABSENCE_ALLOWED_ORIGINS", &c.Server.AllowedOrigins)
	list("ABSENCE_KAFKA_BROKERS", &c.Audit.Kafka.Brokers)
	str("ABSENCE_KAFKA_TOPIC", &c.Audit.Kafka.Topic)
	str("ABSENCE_LOG_LEVEL", &c.Log.Level)

	if err := boolean("ABSENCE_KAFKA_ENABLED", &c.Audit.Kafka.Enabled); err != nil {
		return err
	}
	return boolean("ABSENCE_LOG_DEVELOPMENT", &c.Log.Development)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, sqlite, postgres", c.Store.Driver))
	}

	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}

	if k := c.Audit.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			errs = append(errs, errors.New("audit.kafka.brokers is required when kafka is enabled"))
		}
		if k.Topic == "" {
			errs = append(errs, errors.New("audit.kafka.topic is required when kafka is enabled"))
		}
		if k.BufferSize < 0 {
			errs = append(errs, errors.New("audit.kafka.buffer_size must not be negative"))
		}
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
