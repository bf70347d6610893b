package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	DBQueryTimeout   time.Duration `mapstructure:"DB_QUERY_TIMEOUT"`
	AuthIssuer       string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience     string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL      string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey   string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	LogFile          string        `mapstructure:"LOG_FILE"`
	LogMaxSizeMB     int           `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups    int           `mapstructure:"LOG_MAX_BACKUPS"`
	KafkaBrokers     []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaAuditTopic  string        `mapstructure:"KAFKA_AUDIT_TOPIC"`
	MetricsEnabled   bool          `mapstructure:"METRICS_ENABLED"`
	HospitalTimezone string        `mapstructure:"HOSPITAL_TIMEZONE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_QUERY_TIMEOUT",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "LOG_LEVEL", "LOG_FILE", "LOG_MAX_SIZE_MB",
	"LOG_MAX_BACKUPS", "KAFKA_BROKERS", "KAFKA_AUDIT_TOPIC", "METRICS_ENABLED", "HOSPITAL_TIMEZONE",
}

// Load reads .env (when present) and the environment. Environment
// variables win over the file.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_QUERY_TIMEOUT", "5s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("KAFKA_AUDIT_TOPIC", "sgfc.waitlist.audit")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("HOSPITAL_TIMEZONE", "America/Sao_Paulo")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location loads the hospital time zone used to count waiting days.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.HospitalTimezone)
	if err != nil {
		return nil, fmt.Errorf("HOSPITAL_TIMEZONE %q: %w", c.HospitalTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside development
// either AUTH_ISSUER or AUTH_SIGNING_KEY must be set so that real JWT
// authentication is enforced.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_SIGNING_KEY must be set outside development (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("invalid pool size: DB_MIN_CONNS=%d DB_MAX_CONNS=%d", c.DBMinConns, c.DBMaxConns)
	}
	if c.DBQueryTimeout <= 0 {
		return fmt.Errorf("DB_QUERY_TIMEOUT must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaAuditTopic == "" {
		return fmt.Errorf("KAFKA_AUDIT_TOPIC is required when KAFKA_BROKERS is set")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
