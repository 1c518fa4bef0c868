// Package config loads server settings from the environment, an optional
// .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the server configuration
type Config struct {
	Port  int  `mapstructure:"PORT"`
	Debug bool `mapstructure:"DEBUG"`

	JWTSecret      string `mapstructure:"JWT_SECRET"`
	APIKeys        string `mapstructure:"API_KEYS"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	EnginePath     string `mapstructure:"ENGINE_PATH"`
	EnginePoolSize int    `mapstructure:"ENGINE_POOL_SIZE"`

	RedisURL    string `mapstructure:"REDIS_URL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	NatsURL     string `mapstructure:"NATS_URL"`

	DefaultInitialSeconds   int `mapstructure:"DEFAULT_INITIAL_SECONDS"`
	DefaultIncrementSeconds int `mapstructure:"DEFAULT_INCREMENT_SECONDS"`
	RatingWindow            int `mapstructure:"RATING_WINDOW"`

	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var defaults = map[string]interface{}{
	"PORT":                      8080,
	"DEBUG":                     false,
	"JWT_SECRET":                "",
	"API_KEYS":                  "",
	"ALLOWED_ORIGINS":           "http://localhost:3000",
	"ENGINE_PATH":               "",
	"ENGINE_POOL_SIZE":          2,
	"REDIS_URL":                 "",
	"DATABASE_URL":              "",
	"NATS_URL":                  "",
	"DEFAULT_INITIAL_SECONDS":   600,
	"DEFAULT_INCREMENT_SECONDS": 5,
	"RATING_WINDOW":             200,
	"SHUTDOWN_TIMEOUT":          "20s",
}

// Load reads .env (if present), then the config file at path (if non-empty),
// with environment variables taking precedence over both
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Port)
	case c.EnginePath != "" && c.EnginePoolSize <= 0:
		return fmt.Errorf("engine pool size must be positive, got %d", c.EnginePoolSize)
	case c.DefaultInitialSeconds < 0 || c.DefaultIncrementSeconds < 0:
		return errors.New("default time control must not be negative")
	case c.RatingWindow < 0:
		return fmt.Errorf("rating window must not be negative, got %d", c.RatingWindow)
	}
	return nil
}

// Origins returns the configured CORS/WebSocket origins
func (c *Config) Origins() []string {
	var origins []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
