package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.SecretKey = "secret"
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "MCP_SQL", cfg.MCP.Name)
	assert.Equal(t, "servicio-autenticacion-interno", cfg.Auth.Issuer)
	assert.Equal(t, "mcp-api-interna", cfg.Auth.Audience)
	assert.Equal(t, "127.0.0.1:8000", cfg.Server.Addr())
}

func TestDefaultConfigNeedsSecret(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate())

	cfg.Auth.Enabled = false
	assert.NoError(t, cfg.Validate())
}

func TestReadYAML(t *testing.T) {
	path := writeConfig(t, "mcpsql.yaml", `
server:
  port: 9000
  shutdown_timeout: 3s
database:
  host: db.internal
  name: shop
  read_only: true
  query_timeout: 1m
auth:
  secret_key: s3cret
  algorithm: HS512
learning:
  backend: bolt
  path: /var/lib/mcpsql/notes.db
`)

	cfg := DefaultConfig()
	require.NoError(t, cfg.readFile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "shop", cfg.Database.Name)
	assert.True(t, cfg.Database.ReadOnly)
	assert.Equal(t, time.Minute, cfg.Database.QueryTimeout)
	assert.Equal(t, 3306, cfg.Database.Port, "unset keys keep defaults")
	assert.Equal(t, "HS512", cfg.Auth.Algorithm)
	assert.Equal(t, "bolt", cfg.Learning.Backend)
}

func TestReadTOML(t *testing.T) {
	path := writeConfig(t, "mcpsql.toml", `
[database]
host = "10.0.0.5"
port = 3307

[learning]
backend = "sqlite"
path = "notes.sqlite"

[log]
level = "debug"
`)

	cfg := DefaultConfig()
	require.NoError(t, cfg.readFile(path))

	assert.Equal(t, "10.0.0.5", cfg.Database.Host)
	assert.Equal(t, 3307, cfg.Database.Port)
	assert.Equal(t, "sqlite", cfg.Learning.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestReadUnsupportedFormat(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.readFile(writeConfig(t, "mcpsql.ini", "a=b")))
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.applyEnv(env(map[string]string{
		"USER_BD":          "app",
		"PASSWORD_BD":      "pw",
		"HOST_DB":          "mysql",
		"PORT_DB":          "3310",
		"DATABASE_MYSQL":   "inventory",
		"HOST_SERVER":      "0.0.0.0",
		"PORT_SERVER":      "8080",
		"SECRET_KEY":       "k",
		"ALGORITHM":        "HS384",
		"MCPSQL_READ_ONLY": "true",
		"SOMETHING_ELSE":   "ignored",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "app", cfg.Database.User)
	assert.Equal(t, "pw", cfg.Database.Password)
	assert.Equal(t, "mysql", cfg.Database.Host)
	assert.Equal(t, 3310, cfg.Database.Port)
	assert.Equal(t, "inventory", cfg.Database.Name)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "k", cfg.Auth.SecretKey)
	assert.Equal(t, "HS384", cfg.Auth.Algorithm)
	assert.True(t, cfg.Database.ReadOnly)
}

func TestApplyEnvInvalid(t *testing.T) {
	assert.Error(t, DefaultConfig().applyEnv(env(map[string]string{"PORT_DB": "abc"})))
	assert.Error(t, DefaultConfig().applyEnv(env(map[string]string{"MCPSQL_READ_ONLY": "maybe"})))
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := map[string]func(*Config){
		"algorithm": func(c *Config) { c.Auth.Algorithm = "RS256" },
		"backend":   func(c *Config) { c.Learning.Backend = "csv" },
		"log level": func(c *Config) { c.Log.Level = "trace" },
		"port":      func(c *Config) { c.Database.Port = 0 },
		"db name":   func(c *Config) { c.Database.Name = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Auth.SecretKey = "secret"
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadWithoutAuth(t *testing.T) {
	t.Setenv("SECRET_KEY", "")
	os.Unsetenv("SECRET_KEY")

	_, err := Load("")
	assert.Error(t, err)

	cfg, err := Load("", WithoutAuth())
	require.NoError(t, err)
	assert.False(t, cfg.Auth.Enabled)
}
