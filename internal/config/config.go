package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone database for hosts without one

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrNoListAccess is returned when the listing route has no credential configured.
var ErrNoListAccess = errors.New("LIST_ACCESS_ID or LIST_ACCESS_HASH is required")

var validate = validator.New()

// Config holds all configuration for the application.
type Config struct {
	Port string `envconfig:"PORT" default:"8000" validate:"required,number"`
	Env  string `envconfig:"ENV" default:"development" validate:"oneof=development production test"`

	// Storage
	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite" validate:"oneof=postgres sqlite"`
	DatabaseURL string `envconfig:"DATABASE_URL" validate:"required_if=StoreDriver postgres"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/confide.db"`
	PoolSize    int    `envconfig:"POOL_SIZE" default:"5" validate:"min=1,max=100"`

	ConnectRetries uint64        `envconfig:"CONNECT_RETRIES" default:"3" validate:"max=20"`
	RetryBackoff   time.Duration `envconfig:"CONNECT_RETRY_BACKOFF" default:"500ms"`

	// Listing access: a plain integer id, or a bcrypt hash of the credential
	ListAccessID   string `envconfig:"LIST_ACCESS_ID" validate:"omitempty,number"`
	ListAccessHash string `envconfig:"LIST_ACCESS_HASH"`

	// Presentation
	Timezone    string `envconfig:"TIMEZONE" default:"Asia/Kolkata" validate:"required"`
	TemplateDir string `envconfig:"TEMPLATE_DIR"`
	StaticDir   string `envconfig:"STATIC_DIR" default:"web/static"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error"`
	LogFile  string `envconfig:"LOG_FILE" default:"log_files/app.log"`

	// Rate limiting
	RedisURL           string   `envconfig:"REDIS_URL"`
	RateLimitWhitelist []string `envconfig:"RATE_LIMIT_WHITELIST"` // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     `envconfig:"AUTO_BLOCK_ENABLED" default:"false"`

	// Peers allowed to name the client in X-Forwarded-For; empty trusts nobody
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES" validate:"dive,ip|cidr"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`

	// Tracing is off unless an OTLP endpoint is set
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `envconfig:"OTEL_SERVICE_NAME" default:"confide"`

	// Location is resolved from Timezone by Load.
	Location *time.Location `ignored:"true"`

	accessID *int
}

// Load reads configuration from environment variables.
// It loads from a .env file first if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.RateLimitWhitelist = cleanList(cfg.RateLimitWhitelist)
	cfg.CORSAllowedOrigins = cleanList(cfg.CORSAllowedOrigins)
	cfg.TrustedProxies = cleanList(cfg.TrustedProxies)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.ListAccessID == "" && cfg.ListAccessHash == "" {
		return nil, fmt.Errorf("config: %w", ErrNoListAccess)
	}
	if cfg.ListAccessID != "" {
		id, err := strconv.Atoi(cfg.ListAccessID)
		if err != nil {
			return nil, fmt.Errorf("config: LIST_ACCESS_ID: %w", err)
		}
		cfg.accessID = &id
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: TIMEZONE: %w", err)
	}
	cfg.Location = loc

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// AccessID returns the integer listing id parsed by Load, or nil when none is
// configured.
func (c *Config) AccessID() *int {
	return c.accessID
}

func cleanList(in []string) []string {
	var out []string
	for _, entry := range in {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
