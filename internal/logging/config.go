package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Valid output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config controls logger construction.
type Config struct {
	// Level is the minimum level to emit: debug, info, warn, error.
	Level string `koanf:"level"`

	// Format selects the encoder: json or console.
	Format string `koanf:"format"`

	// Development enables DPanic-on-bug behavior and caller annotation.
	Development bool `koanf:"development"`

	// Fields are constant fields attached to every entry.
	Fields map[string]string `koanf:"fields"`
}

// DefaultConfig returns a production JSON logger config at info level.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: FormatJSON,
	}
}

// Validate checks the config for unusable values.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	if c.Format != FormatJSON && c.Format != FormatConsole {
		return fmt.Errorf("invalid log format %q (expected %q or %q)", c.Format, FormatJSON, FormatConsole)
	}
	return nil
}
