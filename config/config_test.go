package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: 9090
  read_timeout: 5s
store:
  driver: sqlite
  sqlite_path: /tmp/absence.db
auth:
  jwt_secret: yaml-secret
audit:
  kafka:
    enabled: true
    brokers: ["kafka-1:9092", "kafka-2:9092"]
log:
  level: debug
`)

	cfg, err := Load(path, noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "unset keys keep defaults")
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/tmp/absence.db", cfg.Store.SQLitePath)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Audit.Kafka.Brokers)
	assert.Equal(t, "absence.events", cfg.Audit.Kafka.Topic)
	assert.True(t, cfg.Audit.Persist)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvironmentWinsOverFile(t *testing.T) {
	// GIVEN: A file choosing sqlite on port 9090
	// WHEN: ABSENCE_* variables name postgres and another port
	// THEN: The environment values are used

	path := writeFile(t, "config.yaml", `
server:
  port: 9090
store:
  driver: sqlite
auth:
  jwt_secret: yaml-secret
`)
	t.Setenv("ABSENCE_PORT", "7070")
	t.Setenv("ABSENCE_STORE_DRIVER", "postgres")
	t.Setenv("ABSENCE_POSTGRES_DSN", "postgres://u:p@db:5432/absence")
	t.Setenv("ABSENCE_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ABSENCE_LOG_DEVELOPMENT", "true")
	t.Setenv("ABSENCE_SEED_FILE", "/etc/absence/policies.yaml")

	cfg, err := Load(path, noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://u:p@db:5432/absence", cfg.Store.PostgresDSN)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.True(t, cfg.Log.Development)
	assert.Equal(t, "/etc/absence/policies.yaml", cfg.Store.SeedFile)
}

func TestLoad_DotEnvFillsUnsetVariables(t *testing.T) {
	const key = "ABSENCE_JWT_SECRET"
	prev, had := os.LookupEnv(key)
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() {
		if had {
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
	})

	envFile := writeFile(t, ".env", "ABSENCE_JWT_SECRET=from-dotenv\n")

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Auth.JWTSecret)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), noEnvFile(t))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "server: [port")
		_, err := Load(path, noEnvFile(t))
		assert.ErrorContains(t, err, "parse config")
	})

	t.Run("bad env port", func(t *testing.T) {
		t.Setenv("ABSENCE_JWT_SECRET", "x")
		t.Setenv("ABSENCE_PORT", "eighty")
		_, err := Load("", noEnvFile(t))
		assert.ErrorContains(t, err, "ABSENCE_PORT")
	})
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.Auth.JWTSecret = "secret"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults plus secret", func(*Config) {}, ""},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "  " }, "jwt_secret"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"sqlite without path", func(c *Config) {
			c.Store.Driver = DriverSQLite
			c.Store.SQLitePath = ""
		}, "sqlite_path"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "postgres_dsn"},
		{"kafka without brokers", func(c *Config) { c.Audit.Kafka.Enabled = true }, "brokers"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	c := Default()
	c.Server.Port = 0
	c.Store.Driver = "mongo"

	err := c.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "server.port")
	assert.ErrorContains(t, err, "store.driver")
	assert.ErrorContains(t, err, "jwt_secret")
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = NewLogger(LogConfig{Level: "chatty"})
	assert.Error(t, err)
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "config.example.yaml"), noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "./policies.example.yaml", cfg.Store.SeedFile)
	assert.False(t, cfg.Audit.Kafka.Enabled)
}
