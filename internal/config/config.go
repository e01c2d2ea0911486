package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

const devSecret = "supersecret-dev-key"

type Config struct {
	Mode     Mode   `mapstructure:"mode"`
	HTTPAddr string `mapstructure:"http_addr"`
	SiteID   string `mapstructure:"site_id"`

	DB        DBConfig        `mapstructure:"db"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type AuthConfig struct {
	Secret      string        `mapstructure:"secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	EnableLocal bool          `mapstructure:"enable_local"`
	// AllowClaimRole trusts the token's role when the users table has no row
	// for the subject. Meant for offline classrooms.
	AllowClaimRole bool `mapstructure:"allow_claim_role"`
}

type CORSConfig struct {
	OriginsOnline  []string `mapstructure:"origins_online"`
	OriginsOffline []string `mapstructure:"origins_offline"`
}

type LogConfig struct {
	Debug bool   `mapstructure:"debug"`
	File  string `mapstructure:"file"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"` // empty disables the preview cache
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RateLimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

type ScoringConfig struct {
	// MissingPolicy is "zero" or "exclude".
	MissingPolicy string `mapstructure:"missing_policy"`
}

// CORSOrigins returns the allowed origins for the configured mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORS.OriginsOnline
	}
	return c.CORS.OriginsOffline
}

// Load reads config.yaml from the given directories (default "." and
// "./configs") when present, then applies SCORMETRY_* and legacy env vars.
func Load(paths ...string) (Config, error) {
	v := viper.New()
	if len(paths) == 0 {
		paths = []string{".", "./configs"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("SCORMETRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy names take effect when the prefixed variable is absent.
	bind := func(key string, legacy ...string) {
		envs := append([]string{"SCORMETRY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, legacy...)
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
	bind("mode", "MODE")
	bind("http_addr", "HTTP_ADDR")
	bind("site_id", "SITE_ID")
	bind("db.driver", "DB_DRIVER")
	bind("db.dsn", "DB_DSN")
	bind("auth.secret", "AUTH_HMAC_SECRET")
	bind("auth.enable_local", "ENABLE_LOCAL_AUTH")
	bind("cors.origins_online", "CORS_ORIGINS_ONLINE")
	bind("cors.origins_offline", "CORS_ORIGINS_OFFLINE")
	bind("redis.addr", "REDIS_ADDR")
	bind("redis.password", "REDIS_PASSWORD")
	bind("tracing.enabled", "TRACING_ENABLED")
	bind("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORS.OriginsOnline = trimAll(cfg.CORS.OriginsOnline)
	cfg.CORS.OriginsOffline = trimAll(cfg.CORS.OriginsOffline)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(ModeOffline))
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("site_id", "local")
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "")
	v.SetDefault("auth.secret", devSecret)
	v.SetDefault("auth.token_ttl", 8*time.Hour)
	v.SetDefault("auth.enable_local", true)
	v.SetDefault("auth.allow_claim_role", false)
	v.SetDefault("cors.origins_online", []string{"https://scormetry.example.com"})
	v.SetDefault("cors.origins_offline", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("log.debug", false)
	v.SetDefault("log.file", "logs/scormetry.log")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 10*time.Minute)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.collector_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("rate_limit.max_requests", 120)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("scoring.missing_policy", "zero")
}

func (c Config) validate() error {
	switch c.Mode {
	case ModeOffline, ModeOnline:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported db driver %q", c.DB.Driver)
	}
	switch c.Scoring.MissingPolicy {
	case "zero", "exclude":
	default:
		return fmt.Errorf("invalid scoring.missing_policy %q", c.Scoring.MissingPolicy)
	}
	if c.Mode == ModeOnline {
		if c.Auth.Secret == devSecret || len(c.Auth.Secret) < 32 {
			return fmt.Errorf("auth secret is too short (%d chars), must be at least 32 characters in online mode", len(c.Auth.Secret))
		}
	}
	if c.RateLimit.MaxRequests <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate_limit.max_requests and rate_limit.window must be positive")
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
