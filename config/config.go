package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/xhit/go-str2duration/v2"

	"github.com/mcpbus-io/mcpresume/storages"
	"github.com/mcpbus-io/mcpresume/storages/pool"
)

const defaultBufferSize = 1024

const defaultConfig string = `{
	"addr": "localhost",
	"port": 8080,
	"mcpEndpoint": "/mcp",
	"streamBufferSize": 1024,
	"keepAlivePing": false,
	"keepAliveInterval": "5s",
	"sessionIdleTimeout": "30m",
	"shutdownTimeout": "10s",
	"eventsStorage": {
		"type": "inmemory",
		"table": "mcp_events",
		"replayPageSize": 256
	},
	"database": {
		"driver": "pgx",
		"port": 5432,
		"sslMode": "disable",
		"maxOpenConns": 10,
		"maxIdleConns": 5,
		"idleTimeout": "5m",
		"connectTimeout": "5s",
		"healthCheckInterval": "30s"
	},
	"redis": {
		"addr": "localhost:6379",
		"healthCheckInterval": "30s"
	}
}
`

type TlsConfig struct {
	CertFile string `json:"certFile"`
	KeyFile  string `json:"keyFile"`
}

type AuthConfig struct {
	AuthToken string `json:"authToken" env:"MCP_AUTH_TOKEN"`
}

type CorsConfig struct {
	AllowedOrigins []string `json:"allowedOrigins"`
}

type RedisConfig struct {
	URL                 string `json:"url" env:"MCP_REDIS_URL"`
	Addr                string `json:"addr" env:"MCP_REDIS_ADDR"`
	Username            string `json:"username"`
	Password            string `json:"password" env:"MCP_REDIS_PASSWORD"`
	DB                  int    `json:"db"`
	HealthCheckInterval string `json:"healthCheckInterval"`
}

type DatabaseConfig struct {
	Driver              string `json:"driver" env:"MCP_DB_DRIVER"`
	DSN                 string `json:"dsn" env:"MCP_DB_DSN"`
	Host                string `json:"host" env:"MCP_DB_HOST"`
	Port                uint   `json:"port" env:"MCP_DB_PORT"`
	User                string `json:"user" env:"MCP_DB_USER"`
	Password            string `json:"password" env:"MCP_DB_PASSWORD"`
	Name                string `json:"name" env:"MCP_DB_NAME"`
	SslMode             string `json:"sslMode" env:"MCP_DB_SSLMODE"`
	MaxOpenConns        int    `json:"maxOpenConns"`
	MaxIdleConns        int    `json:"maxIdleConns"`
	IdleTimeout         string `json:"idleTimeout"`
	ConnectTimeout      string `json:"connectTimeout"`
	HealthCheckInterval string `json:"healthCheckInterval"`
}

type EventsStorageConfig struct {
	Type           string `json:"type" env:"MCP_EVENTS_STORAGE"`
	Table          string `json:"table"`
	ReplayPageSize int    `json:"replayPageSize"`
}

type Config struct {
	Addr                string              `json:"addr" env:"MCP_ADDR"`
	Port                uint                `json:"port" env:"MCP_PORT"`
	McpEndpoint         string              `json:"mcpEndpoint"`
	Tls                 *TlsConfig          `json:"tls"`
	Auth                AuthConfig          `json:"auth"`
	Cors                *CorsConfig         `json:"cors"`
	DisableStreaming    bool                `json:"disableStreaming"`
	DisableStreamResume bool                `json:"disableStreamResume"`
	StreamBufferSize    uint                `json:"streamBufferSize"`
	KeepAlivePing       bool                `json:"keepAlivePing"`
	KeepAliveInterval   string              `json:"keepAliveInterval"`
	SessionIdleTimeout  string              `json:"sessionIdleTimeout"`
	ShutdownTimeout     string              `json:"shutdownTimeout"`
	EventsStorage       EventsStorageConfig `json:"eventsStorage"`
	Database            DatabaseConfig      `json:"database"`
	Redis               RedisConfig         `json:"redis"`

	// parsed from the string fields above by LoadConfig
	Durations Durations `json:"-"`
}

type Durations struct {
	KeepAliveInterval  time.Duration
	SessionIdleTimeout time.Duration
	ShutdownTimeout    time.Duration
	DbIdleTimeout      time.Duration
	DbConnectTimeout   time.Duration
	DbHealthCheck      time.Duration
	RedisHealthCheck   time.Duration
}

var supportedEventsStorages = []string{
	storages.InMemoryStorageType,
	storages.RedisStorageType,
	storages.SQLStorageType,
}

// LoadConfig loads and validates the server configuration. configData is
// merged over the built-in defaults, then MCP_* environment variables win.
func LoadConfig(configData []byte) (*Config, error) {
	var config Config
	if err := json.Unmarshal([]byte(defaultConfig), &config); err != nil {
		return nil, errors.Wrap(err, "failed to parse default config")
	}
	if configData != nil {
		if err := json.Unmarshal(configData, &config); err != nil {
			return nil, errors.Wrap(err, "failed to parse config")
		}
	}
	if err := env.Parse(&config); err != nil {
		return nil, errors.Wrap(err, "failed to read environment")
	}

	// Validate configuration
	if config.Addr == "" {
		return nil, errors.New("server address cannot be empty")
	}
	if config.Port == 0 {
		return nil, errors.New("server port cannot be 0")
	}
	if config.McpEndpoint == "" {
		return nil, errors.New("MCP endpoint cannot be empty")
	}
	if config.StreamBufferSize == 0 {
		config.StreamBufferSize = defaultBufferSize
	}
	if config.EventsStorage.Type == "" {
		config.EventsStorage.Type = storages.InMemoryStorageType
	}
	if !slices.Contains(supportedEventsStorages, config.EventsStorage.Type) {
		return nil, fmt.Errorf(`events storage type "%s" is not supported`, config.EventsStorage.Type)
	}
	if config.EventsStorage.Type == storages.SQLStorageType {
		if config.Database.Driver != pool.DriverPostgres && config.Database.Driver != pool.DriverSQLite {
			return nil, fmt.Errorf(`database driver "%s" is not supported`, config.Database.Driver)
		}
		if config.Database.DSN == "" && config.Database.Driver == pool.DriverSQLite {
			return nil, errors.New("sqlite database requires a dsn")
		}
		if config.Database.DSN == "" && config.Database.Host == "" {
			return nil, errors.New("database requires either a dsn or a host")
		}
	}
	if config.Tls != nil && (config.Tls.CertFile == "" || config.Tls.KeyFile == "") {
		return nil, errors.New("tls requires both certFile and keyFile")
	}

	durations := []struct {
		name  string
		value string
		into  *time.Duration
	}{
		{"keepAliveInterval", config.KeepAliveInterval, &config.Durations.KeepAliveInterval},
		{"sessionIdleTimeout", config.SessionIdleTimeout, &config.Durations.SessionIdleTimeout},
		{"shutdownTimeout", config.ShutdownTimeout, &config.Durations.ShutdownTimeout},
		{"database.idleTimeout", config.Database.IdleTimeout, &config.Durations.DbIdleTimeout},
		{"database.connectTimeout", config.Database.ConnectTimeout, &config.Durations.DbConnectTimeout},
		{"database.healthCheckInterval", config.Database.HealthCheckInterval, &config.Durations.DbHealthCheck},
		{"redis.healthCheckInterval", config.Redis.HealthCheckInterval, &config.Durations.RedisHealthCheck},
	}
	for _, d := range durations {
		parsed, err := parseDuration(d.value)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid %s", d.name)
		}
		*d.into = parsed
	}

	return &config, nil
}

// parseDuration accepts Go durations plus day and week units ("1d", "2w").
// An empty value means zero, which disables the feature it configures.
func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := str2duration.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.Newf("negative duration %q", value)
	}
	return d, nil
}

// DataSourceName returns the configured DSN, or builds a PostgreSQL URL from
// the discrete connection fields when no DSN is set.
func (d DatabaseConfig) DataSourceName() string {
	if d.DSN != "" {
		return d.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.FormatUint(uint64(d.Port), 10)),
		Path:   "/" + d.Name,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	if d.SslMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{d.SslMode}}.Encode()
	}
	return u.String()
}

func (c *Config) SQLLimits() pool.Limits {
	return pool.Limits{
		MaxOpenConns:   c.Database.MaxOpenConns,
		MaxIdleConns:   c.Database.MaxIdleConns,
		IdleTimeout:    c.Durations.DbIdleTimeout,
		ConnectTimeout: c.Durations.DbConnectTimeout,
	}
}

// RedisOptions prefers the URL form and falls back to the discrete fields.
func (r RedisConfig) RedisOptions() (*redis.Options, error) {
	if r.URL != "" {
		opts, err := redis.ParseURL(r.URL)
		if err != nil {
			return nil, errors.Wrap(err, "invalid redis url")
		}
		return opts, nil
	}
	if r.Addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	opts := &redis.Options{
		Addr: r.Addr,
	}
	if r.Username != "" {
		opts.Username = r.Username
	}
	if r.Password != "" {
		opts.Password = r.Password
	}
	if r.DB != 0 {
		opts.DB = r.DB
	}
	return opts, nil
}
