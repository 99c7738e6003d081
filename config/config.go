// Package config loads the chat server settings from the environment, with
// an optional .env file for local runs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every setting of the chat server.
type Config struct {
	Host string `env:"HOST,default=0.0.0.0"`
	Port int    `env:"PORT,default=4000" validate:"min=1,max=65535"`

	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT,default=console" validate:"oneof=console json"`
	LogDir    string `env:"LOG_DIR"`

	MaxLineBytes  int           `env:"MAX_LINE_BYTES,default=65536" validate:"min=64"`
	SendQueueSize int           `env:"SEND_QUEUE_SIZE,default=256" validate:"min=1"`
	WriteTimeout  time.Duration `env:"WRITE_TIMEOUT,default=10s" validate:"min=0"`

	// IdleTimeout of 0 leaves idle sessions connected forever.
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT,default=0s" validate:"min=0"`
	IdleSweepInterval time.Duration `env:"IDLE_SWEEP_INTERVAL,default=10s" validate:"min=0"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s" validate:"min=0"`

	PresenceRedisAddr string `env:"PRESENCE_REDIS_ADDR" validate:"omitempty,hostname_port"`
	PresenceRedisKey  string `env:"PRESENCE_REDIS_KEY,default=linechat:online"`
}

var validate = validator.New()

// Load reads the given .env files (or ".env" when none are named) if they
// exist, then the process environment, then validates the result. Variables
// already set in the environment win over .env entries.
//
// Parameters:
//   - files: Optional .env paths
//
// Returns:
//   - The validated Config, or an error naming the failing setting
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks value ranges and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.IdleTimeoutEnabled() && c.IdleSweepInterval <= 0 {
		return fmt.Errorf("invalid config: IDLE_SWEEP_INTERVAL must be positive when IDLE_TIMEOUT is set")
	}

	return nil
}

// Addr returns the listen address built from Host and Port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IdleTimeoutEnabled reports whether idle sessions are swept.
func (c Config) IdleTimeoutEnabled() bool {
	return c.IdleTimeout > 0
}
