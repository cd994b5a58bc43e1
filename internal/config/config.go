// ABOUTME: Configuration loading and parsing for microbe-gateway
// ABOUTME: Supports YAML files with environment variable expansion, env overrides and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left empty
const (
	DefaultHTTPAddr      = "0.0.0.0:8080"
	DefaultDriver        = "sqlite"
	DefaultIssuer        = "microbe.com"
	DefaultAudience      = "microbe.com"
	DefaultTokenTTL      = time.Hour
	DefaultRedisChannel  = "microbe:ready"
	DefaultRateWindow    = time.Minute
	DefaultWriteTimeout  = 10 * time.Second
	DefaultPingInterval  = 30 * time.Second
	DefaultStoreTimeout  = 10 * time.Second
	DefaultDedupeTTL     = 5 * time.Minute
	DefaultDedupeEntries = 10000
)

// Config represents the complete microbe-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" validate:"required,hostname_port"`

	// AllowedOrigins lists extra browser origin patterns (path.Match syntax)
	// accepted on the WebSocket handshake. Same-origin is always allowed.
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,required"`
}

// DatabaseConfig selects and locates the message store
type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	Path   string `yaml:"path" validate:"required_if=Driver sqlite"`
	DSN    string `yaml:"dsn" validate:"required_if=Driver postgres"`
}

// AuthConfig holds identity token configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" validate:"required,min=32"`
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	TokenTTL  time.Duration `yaml:"-" name:"token_ttl" validate:"gt=0"`

	TokenTTLRaw string `yaml:"token_ttl"`
}

// RedisConfig enables the cross-process relay and the send rate limiter.
// Both are off when Addr is empty.
type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Channel  string `yaml:"channel"`
}

// RateLimitConfig bounds how many messages one user may send per window.
// Messages of zero disables limiting.
type RateLimitConfig struct {
	Messages int           `yaml:"messages" validate:"gte=0"`
	Window   time.Duration `yaml:"-" name:"window" validate:"gt=0"`

	WindowRaw string `yaml:"window"`
}

// WebSocketConfig holds per-connection timing
type WebSocketConfig struct {
	WriteTimeout time.Duration `yaml:"-" name:"write_timeout" validate:"gt=0"`
	PingInterval time.Duration `yaml:"-" name:"ping_interval" validate:"gt=0"`
	StoreTimeout time.Duration `yaml:"-" name:"store_timeout" validate:"gt=0"`

	// Raw string values for YAML unmarshaling
	WriteTimeoutRaw string `yaml:"write_timeout"`
	PingIntervalRaw string `yaml:"ping_interval"`
	StoreTimeoutRaw string `yaml:"store_timeout"`
}

// DedupeConfig sizes the client message id cache
type DedupeConfig struct {
	TTL        time.Duration `yaml:"-" name:"ttl" validate:"gt=0"`
	MaxEntries int           `yaml:"max_entries" validate:"gt=0"`

	TTLRaw string `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// envOverrides are applied after the YAML file, for container deployments
// where secrets and paths come from the environment.
type envOverrides struct {
	HTTPAddr  *string `env:"MICROBE_HTTP_ADDR"`
	DBDriver  *string `env:"MICROBE_DB_DRIVER"`
	DBPath    *string `env:"MICROBE_DB_PATH"`
	DBDSN     *string `env:"MICROBE_DB_DSN"`
	JWTSecret *string `env:"MICROBE_JWT_SECRET"`
	RedisAddr *string `env:"MICROBE_REDIS_ADDR"`
	LogLevel  *string `env:"MICROBE_LOG_LEVEL"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report YAML paths rather than Go field names. Parsed durations carry
	// their key in a name tag since their yaml tag is "-".
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("name"); name != "" {
			return name
		}
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return v
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// MICROBE_* environment overrides are applied after parsing.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for configuration already in memory.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return err
	}

	set := func(dst *string, v *string) {
		if v != nil && *v != "" {
			*dst = *v
		}
	}
	set(&cfg.Server.HTTPAddr, o.HTTPAddr)
	set(&cfg.Database.Driver, o.DBDriver)
	set(&cfg.Database.Path, o.DBPath)
	set(&cfg.Database.DSN, o.DBDSN)
	set(&cfg.Auth.JWTSecret, o.JWTSecret)
	set(&cfg.Redis.Addr, o.RedisAddr)
	set(&cfg.Logging.Level, o.LogLevel)
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DefaultDriver
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = DefaultIssuer
	}
	if cfg.Auth.Audience == "" {
		cfg.Auth.Audience = DefaultAudience
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = DefaultTokenTTL
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = DefaultRedisChannel
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = DefaultRateWindow
	}
	if cfg.WebSocket.WriteTimeout == 0 {
		cfg.WebSocket.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.WebSocket.PingInterval == 0 {
		cfg.WebSocket.PingInterval = DefaultPingInterval
	}
	if cfg.WebSocket.StoreTimeout == 0 {
		cfg.WebSocket.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Dedupe.TTL == 0 {
		cfg.Dedupe.TTL = DefaultDedupeTTL
	}
	if cfg.Dedupe.MaxEntries == 0 {
		cfg.Dedupe.MaxEntries = DefaultDedupeEntries
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	return describe(verrs[0])
}

// describe turns a validator failure into a message naming the YAML key.
func describe(fe validator.FieldError) error {
	// Namespace is "Config.section.key"; drop the root
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Errorf("%s is required", field)
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "min":
		return fmt.Errorf("%s must be at least %s characters", field, fe.Param())
	case "hostname_port":
		return fmt.Errorf("%s must be host:port, got %q", field, fe.Value())
	case "gt":
		return fmt.Errorf("%s must be positive", field)
	case "gte":
		return fmt.Errorf("%s must not be negative", field)
	default:
		return fmt.Errorf("%s is invalid (%s)", field, fe.Tag())
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"ratelimit.window", cfg.RateLimit.WindowRaw, &cfg.RateLimit.Window},
		{"websocket.write_timeout", cfg.WebSocket.WriteTimeoutRaw, &cfg.WebSocket.WriteTimeout},
		{"websocket.ping_interval", cfg.WebSocket.PingIntervalRaw, &cfg.WebSocket.PingInterval},
		{"websocket.store_timeout", cfg.WebSocket.StoreTimeoutRaw, &cfg.WebSocket.StoreTimeout},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
