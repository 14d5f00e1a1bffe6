// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package config holds the screencap command configuration. Values come
// from viper: defaults registered by SetDefaults, an optional YAML file,
// SCREENCAP_* environment variables and command flags.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gogpu/screencap/adapter/imageconv"
	"github.com/gogpu/screencap/compositor"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// SCREENCAP_CAPTURE_TIMEOUT for capture.timeout.
const EnvPrefix = "SCREENCAP"

// Config represents the complete screencap configuration
type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	Capture CaptureConfig `mapstructure:"capture"`
	Image   ImageConfig   `mapstructure:"image"`
	Bench   BenchConfig   `mapstructure:"bench"`
	Serve   ServeConfig   `mapstructure:"serve"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// DeviceConfig controls adapter selection
type DeviceConfig struct {
	// Adapter restricts selection to adapters whose name contains this
	// substring (case-insensitive). Empty selects the best adapter.
	Adapter string `mapstructure:"adapter"`
}

// CaptureConfig controls which output is captured and how
type CaptureConfig struct {
	// Driver is the compositor driver name. Empty picks the registry default.
	Driver string `mapstructure:"driver"`
	// Output selects the output: empty for the primary output, a number
	// for a display index, anything else matches the output name.
	Output string `mapstructure:"output"`
	// Timeout bounds blocking frame waits
	Timeout time.Duration `mapstructure:"timeout"`
	// CopyTimeout bounds a single GPU to host copy
	CopyTimeout time.Duration `mapstructure:"copy_timeout"`
}

// ImageConfig controls still image encoding
type ImageConfig struct {
	// Format is used when the output path has no recognized extension
	Format string `mapstructure:"format"`
	// Quality is the JPEG quality, 1-100
	Quality int `mapstructure:"quality"`
}

// BenchConfig controls the bench command
type BenchConfig struct {
	Sessions int           `mapstructure:"sessions"`
	Duration time.Duration `mapstructure:"duration"`
}

// ServeConfig controls the serve command
type ServeConfig struct {
	Addr string `mapstructure:"addr"`
	// FPS is the per-client websocket frame rate
	FPS int `mapstructure:"fps"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`
}

// Default returns a Config with all defaults applied
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Timeout:     2 * time.Second,
			CopyTimeout: 5 * time.Second,
		},
		Image: ImageConfig{
			Format:  "png",
			Quality: imageconv.DefaultJPEGQuality,
		},
		Bench: BenchConfig{
			Sessions: 1,
			Duration: 5 * time.Second,
		},
		Serve: ServeConfig{
			Addr: "127.0.0.1:8080",
			FPS:  30,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// SetDefaults registers every default with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("device.adapter", defaults.Device.Adapter)

	viper.SetDefault("capture.driver", defaults.Capture.Driver)
	viper.SetDefault("capture.output", defaults.Capture.Output)
	viper.SetDefault("capture.timeout", defaults.Capture.Timeout)
	viper.SetDefault("capture.copy_timeout", defaults.Capture.CopyTimeout)

	viper.SetDefault("image.format", defaults.Image.Format)
	viper.SetDefault("image.quality", defaults.Image.Quality)

	viper.SetDefault("bench.sessions", defaults.Bench.Sessions)
	viper.SetDefault("bench.duration", defaults.Bench.Duration)

	viper.SetDefault("serve.addr", defaults.Serve.Addr)
	viper.SetDefault("serve.fps", defaults.Serve.FPS)

	viper.SetDefault("logging.level", defaults.Logging.Level)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Selector converts Capture.Output into a compositor selector.
func (c *CaptureConfig) Selector() compositor.Selector {
	out := strings.TrimSpace(c.Output)
	if out == "" {
		return compositor.Primary()
	}
	if n, err := strconv.Atoi(out); err == nil && n >= 0 {
		return compositor.Display(n)
	}
	return compositor.Named(out)
}

// FormatFor returns the image format for path, falling back to
// Image.Format when the extension is unknown or path is empty.
func (c *ImageConfig) FormatFor(path string) (imageconv.Format, error) {
	if path != "" {
		if f, err := imageconv.FormatFromPath(path); err == nil {
			return f, nil
		}
	}
	return imageconv.ParseFormat(c.Format)
}

// SlogLevel returns the configured level as a slog.Level
func (c *LoggingConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelWarn
	}
	return lvl
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "screencap")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".screencap"
	}
	return filepath.Join(home, ".config", "screencap")
}

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the configuration and returns every problem found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.Capture.Timeout <= 0 {
		errs = append(errs, ValidationError{"capture.timeout", c.Capture.Timeout, "must be positive"})
	}
	if c.Capture.CopyTimeout <= 0 {
		errs = append(errs, ValidationError{"capture.copy_timeout", c.Capture.CopyTimeout, "must be positive"})
	}
	if _, err := imageconv.ParseFormat(c.Image.Format); err != nil {
		errs = append(errs, ValidationError{"image.format", c.Image.Format, "unknown image format"})
	}
	if c.Image.Quality < 1 || c.Image.Quality > 100 {
		errs = append(errs, ValidationError{"image.quality", c.Image.Quality, "must be between 1 and 100"})
	}
	if c.Bench.Sessions < 1 {
		errs = append(errs, ValidationError{"bench.sessions", c.Bench.Sessions, "must be at least 1"})
	}
	if c.Bench.Duration <= 0 {
		errs = append(errs, ValidationError{"bench.duration", c.Bench.Duration, "must be positive"})
	}
	if c.Serve.FPS < 1 || c.Serve.FPS > 240 {
		errs = append(errs, ValidationError{"serve.fps", c.Serve.FPS, "must be between 1 and 240"})
	}
	if !validLevel(c.Logging.Level) {
		errs = append(errs, ValidationError{"logging.level", c.Logging.Level, "must be one of " + strings.Join(ValidLogLevels(), ", ")})
	}
	return errs
}

func validLevel(level string) bool {
	for _, l := range ValidLogLevels() {
		if strings.EqualFold(l, level) {
			return true
		}
	}
	return false
}
