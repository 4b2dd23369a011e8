package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for RIoT Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database Database `yaml:"database"`
	MQTT     MQTT     `yaml:"mqtt"`
	API      API      `yaml:"api"`
	InfluxDB InfluxDB `yaml:"influxdb"`
	Logging  Logging  `yaml:"logging"`
	Security Security `yaml:"security"`
	Email    Email    `yaml:"email"`
}

// Database contains SQLite database settings.
type Database struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTT contains broker connection settings for the ingestion daemon.
type MQTT struct {
	Broker    MQTTBroker    `yaml:"broker"`
	Auth      MQTTAuth      `yaml:"auth"`
	Reconnect MQTTReconnect `yaml:"reconnect"`
}

// MQTTBroker contains MQTT broker connection details.
// The ingestion daemon appends a random suffix to ClientIDPrefix on every
// session so a stale or spoofed client identifier cannot evict it.
type MQTTBroker struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	TLS            bool   `yaml:"tls"`
	ClientIDPrefix string `yaml:"client_id_prefix"`
}

// MQTTAuth contains MQTT authentication credentials.
type MQTTAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnect contains reconnect backoff settings for the ingestion daemon.
// Delays are in seconds.
type MQTTReconnect struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// API contains HTTP API server settings.
type API struct {
	Host     string      `yaml:"host"`
	Port     int         `yaml:"port"`
	Timeouts APITimeouts `yaml:"timeouts"`
	CORS     CORS        `yaml:"cors"`
}

// APITimeouts contains HTTP timeout settings (seconds).
type APITimeouts struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORS contains Cross-Origin Resource Sharing settings.
type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// InfluxDB contains the optional telemetry mirror settings.
// When enabled, every ingested record is also written as a point.
type InfluxDB struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Logging contains logging settings.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Security contains authentication and rate-limit settings.
type Security struct {
	JWT         JWT         `yaml:"jwt"`
	RateLimit   RateLimit   `yaml:"rate_limit"`
	OneTimeCode OneTimeCode `yaml:"one_time_code"`
}

// JWT contains session token settings.
type JWT struct {
	Secret string `yaml:"secret"`
	// MaxAgeSeconds is the session token lifetime. Default: 24h.
	MaxAgeSeconds int64 `yaml:"max_age_seconds"`
}

// RateLimit configures the verification-email rate limiter.
type RateLimit struct {
	// IdleSeconds is the idle-expiry window per account. Default: 60.
	IdleSeconds int `yaml:"idle_seconds"`
}

// OneTimeCode configures the login-by-link code store.
type OneTimeCode struct {
	// TTLHours is how long an unconsumed code stays valid. Default: 12.
	TTLHours int `yaml:"ttl_hours"`
}

// Email contains SMTP settings for verification mail.
// When Enabled is false, verification links are logged instead of sent.
type Email struct {
	Enabled     bool   `yaml:"enabled"`
	SMTPHost    string `yaml:"smtp_host"`
	SMTPPort    int    `yaml:"smtp_port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	FromAddress string `yaml:"from_address"`
	// PublicURL is the externally reachable base URL used in verification links.
	PublicURL string `yaml:"public_url"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RIOT_SECTION_KEY
// For example: RIOT_DATABASE_PATH, RIOT_JWT_SECRET
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: Database{
			Path:        "./data/riot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTT{
			Broker: MQTTBroker{
				Host:           "localhost",
				Port:           1883,
				ClientIDPrefix: "riot-ingest",
			},
			Reconnect: MQTTReconnect{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: API{
			Host: "0.0.0.0",
			Port: 8888,
			Timeouts: APITimeouts{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: Security{
			JWT: JWT{
				MaxAgeSeconds: 86400,
			},
			RateLimit: RateLimit{
				IdleSeconds: 60,
			},
			OneTimeCode: OneTimeCode{
				TTLHours: 12,
			},
		},
		Email: Email{
			SMTPPort:  587,
			PublicURL: "http://localhost:8888",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RIOT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RIOT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("RIOT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RIOT_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("RIOT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RIOT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("RIOT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("RIOT_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("RIOT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("RIOT_SMTP_PASSWORD"); v != "" {
		cfg.Email.Password = v
	}

	// JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("RIOT_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	// The JWT secret signs every session token. An empty or short secret
	// would let an attacker forge an identity for any account.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set RIOT_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if c.Security.JWT.MaxAgeSeconds <= 0 {
		errs = append(errs, "security.jwt.max_age_seconds must be positive")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Email.Enabled && c.Email.SMTPHost == "" {
		errs = append(errs, "email.smtp_host is required when email is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// TokenMaxAge returns the session token lifetime as a Duration.
func (s Security) TokenMaxAge() time.Duration {
	return time.Duration(s.JWT.MaxAgeSeconds) * time.Second
}

// RateLimitIdle returns the rate limiter idle window as a Duration.
func (s Security) RateLimitIdle() time.Duration {
	return time.Duration(s.RateLimit.IdleSeconds) * time.Second
}

// OneTimeCodeTTL returns the one-time code lifetime as a Duration.
func (s Security) OneTimeCodeTTL() time.Duration {
	return time.Duration(s.OneTimeCode.TTLHours) * time.Hour
}

// ReadTimeout returns the API read timeout as a Duration.
func (a API) ReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// WriteTimeout returns the API write timeout as a Duration.
func (a API) WriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// IdleTimeout returns the API idle timeout as a Duration.
func (a API) IdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}
