// Package config loads and validates the ratelimitd configuration from a YAML
// file plus RATELIMITD_ environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/orbitex/ratelimitd/internal/ratelimit"
)

// Config is the explicit, validated application configuration. Every field is
// enumerated with a default; there is no ad hoc settings lookup at runtime.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	LogLevel  string          `mapstructure:"log_level"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig holds shared-store connection settings. An empty address means
// no shared store: the limiter runs in local-only mode.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// AuthConfig holds the adapter's credential settings.
type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	AdminToken string `mapstructure:"admin_token"`
}

// RateLimitConfig holds the engine settings and the static rule list.
type RateLimitConfig struct {
	StoreTimeout    time.Duration `mapstructure:"store_timeout" validate:"gt=0"`
	FallbackEnabled bool          `mapstructure:"fallback_enabled"`
	LocalCacheSize  int           `mapstructure:"local_cache_size" validate:"gt=0"`
	ExcludedPaths   []string      `mapstructure:"excluded_paths"`
	Rules           []RuleConfig  `mapstructure:"rules" validate:"dive"`
}

// RuleConfig is the file representation of one rate limit rule.
type RuleConfig struct {
	Endpoint    string `mapstructure:"endpoint" validate:"required"`
	Window      string `mapstructure:"window" validate:"required"`
	MaxRequests int    `mapstructure:"max_requests" validate:"gt=0"`
	Burst       int    `mapstructure:"burst" validate:"gte=0"`
	Description string `mapstructure:"description"`
}

// Load reads configuration from the given file (optional), applies defaults
// and environment overrides, and validates the result. A broken rule aborts
// loading: configuration errors are deployment-time defects.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RATELIMITD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if _, err := cfg.RateLimit.BuildRules(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// BuildRules converts the file rules into validated engine rules.
func (c RateLimitConfig) BuildRules() ([]ratelimit.Rule, error) {
	rules := make([]ratelimit.Rule, 0, len(c.Rules))
	for _, rc := range c.Rules {
		window, err := ratelimit.ParseWindow(rc.Window)
		if err != nil {
			return nil, fmt.Errorf("rule for %s: %w", rc.Endpoint, err)
		}
		rule, err := ratelimit.NewRule(rc.Endpoint, window, rc.MaxRequests, rc.Burst, rc.Description)
		if err != nil {
			return nil, fmt.Errorf("rule for %s: %w", rc.Endpoint, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.store_timeout", 2*time.Second)
	v.SetDefault("ratelimit.fallback_enabled", true)
	v.SetDefault("ratelimit.local_cache_size", ratelimit.DefaultLocalCacheSize)
	v.SetDefault("ratelimit.excluded_paths", []string{"/health", "/metrics"})
}
