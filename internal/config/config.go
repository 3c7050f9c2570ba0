// Package config loads the server configuration from an optional YAML or
// TOML file and the process environment.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Learning LearningConfig `yaml:"learning" toml:"learning"`
	SlowLog  SlowLogConfig  `yaml:"slowlog" toml:"slowlog"`
	MCP      MCPConfig      `yaml:"mcp" toml:"mcp"`
	Log      LogConfig      `yaml:"log" toml:"log"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" toml:"host"`
	Port            int           `yaml:"port" toml:"port" validate:"gte=1,lte=65535"`
	Profiling       bool          `yaml:"profiling" toml:"profiling"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" validate:"gte=0"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host" toml:"host" validate:"required"`
	Port            int           `yaml:"port" toml:"port" validate:"gte=1,lte=65535"`
	User            string        `yaml:"user" toml:"user" validate:"required"`
	Password        string        `yaml:"password" toml:"password"`
	Name            string        `yaml:"name" toml:"name" validate:"required"`
	ReadOnly        bool          `yaml:"read_only" toml:"read_only"`
	MaxOpenConns    int           `yaml:"max_open_conns" toml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" toml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" toml:"conn_max_lifetime" validate:"gte=0"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" toml:"connect_timeout" validate:"gte=0"`
	QueryTimeout    time.Duration `yaml:"query_timeout" toml:"query_timeout" validate:"gte=0"`
}

type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	SecretKey string `yaml:"secret_key" toml:"secret_key" validate:"required_if=Enabled true"`
	Algorithm string `yaml:"algorithm" toml:"algorithm" validate:"oneof=HS256 HS384 HS512"`
	Issuer    string `yaml:"issuer" toml:"issuer"`
	Audience  string `yaml:"audience" toml:"audience"`
}

type LearningConfig struct {
	Backend string `yaml:"backend" toml:"backend" validate:"oneof=json bolt sqlite"`
	Path    string `yaml:"path" toml:"path" validate:"required"`
}

// SlowLogConfig restricts slow log imports to files below Dir. An empty Dir
// disables importing.
type SlowLogConfig struct {
	Dir string `yaml:"dir" toml:"dir"`
}

type MCPConfig struct {
	Name         string `yaml:"name" toml:"name" validate:"required"`
	Instructions string `yaml:"instructions" toml:"instructions"`
}

type LogConfig struct {
	Level string `yaml:"level" toml:"level" validate:"oneof=debug info warn error"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "127.0.0.1",
			Port:            3306,
			User:            "root",
			Name:            "mysql",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  10 * time.Second,
			QueryTimeout:    30 * time.Second,
		},
		Auth: AuthConfig{
			Enabled:   true,
			Algorithm: "HS256",
			Issuer:    "servicio-autenticacion-interno",
			Audience:  "mcp-api-interna",
		},
		Learning: LearningConfig{
			Backend: "json",
			Path:    filepath.Join("data", "learning", "query_notes.json"),
		},
		MCP: MCPConfig{
			Name:         "MCP_SQL",
			Instructions: "Inspect the schema before querying. Record what you learn from each query with add_query_learning_note and consult get_query_suggestions before writing new SQL.",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates the result.
// LoadOption adjusts the configuration after the file and the environment
// are applied and before it is validated.
type LoadOption func(*Config)

// WithoutAuth disables bearer authentication, for transports that never
// receive HTTP requests.
func WithoutAuth() LoadOption {
	return func(c *Config) { c.Auth.Enabled = false }
}

func Load(path string, opts ...LoadOption) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides file values with the variables the server has always
// been configured with.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"USER_BD":                 &c.Database.User,
		"PASSWORD_BD":             &c.Database.Password,
		"HOST_DB":                 &c.Database.Host,
		"DATABASE_MYSQL":          &c.Database.Name,
		"HOST_SERVER":             &c.Server.Host,
		"SECRET_KEY":              &c.Auth.SecretKey,
		"ALGORITHM":               &c.Auth.Algorithm,
		"MCPSQL_LEARNING_BACKEND": &c.Learning.Backend,
		"MCPSQL_LEARNING_PATH":    &c.Learning.Path,
		"MCPSQL_SLOWLOG_DIR":      &c.SlowLog.Dir,
		"MCPSQL_LOG_LEVEL":        &c.Log.Level,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT_DB":     &c.Database.Port,
		"PORT_SERVER": &c.Server.Port,
	}
	for name, dst := range ints {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}

	if v, ok := lookup("MCPSQL_READ_ONLY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MCPSQL_READ_ONLY: %w", err)
		}
		c.Database.ReadOnly = b
	}
	return nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
