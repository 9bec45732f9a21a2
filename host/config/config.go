// Package config loads the YAML configuration for the host tools.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"rotomod/core"
)

// Config is the top-level YAML configuration for the host tools.
//
// The file is the primary configuration surface; flags exist for small
// ad-hoc overrides. Defaults and validation live here so the rest of
// the code can assume a well-formed config.
type Config struct {
	// Serial link to the module board
	Serial SerialConfig `yaml:"serial"`

	// Settings pushed to the module before streaming
	Module ModuleConfig `yaml:"module"`

	// Live websocket monitor
	Monitor MonitorConfig `yaml:"monitor"`

	// Session archive database
	Archive ArchiveConfig `yaml:"archive"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type SerialConfig struct {
	Device    string `yaml:"device"`
	Baud      int    `yaml:"baud"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// ModuleConfig is the user-facing module setup as represented in YAML.
// It uses YAML-friendly int types; ranges are enforced by Validate.
type ModuleConfig struct {
	WrapPoint int  `yaml:"wrap_point"`
	Unipolar  bool `yaml:"unipolar"`

	Thresholds []int `yaml:"thresholds,omitempty"`
	Events     bool  `yaml:"events"`

	PeripheralStream bool `yaml:"peripheral_stream"`
	Prefix           int  `yaml:"prefix,omitempty"`
}

type MonitorConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

type ArchiveConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Serial: SerialConfig{
			Device:    "/dev/ttyACM0",
			Baud:      115200,
			TimeoutMS: 500,
		},
		Module: ModuleConfig{
			WrapPoint: core.DefaultWrapPoint,
		},
		Monitor: MonitorConfig{
			Listen: ":8632",
			Path:   "/ws",
		},
		Archive: ArchiveConfig{
			Path: "~/.local/share/rotomod/sessions.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Notes:
//   - Unknown fields are rejected (helps catch typos) via KnownFields(true).
//   - Values missing from the file keep their defaults.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies flag values on top of a loaded config. Flags
// pass pointers; a nil pointer means "not set, keep the config value".
type FlagOverrides struct {
	Device *string
	Baud   *int

	WrapPoint *int
	Unipolar  *bool

	Listen      *string
	ArchivePath *string

	LogLevel *string
}

// Apply merges the overrides into cfg. Nil pointers are ignored.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Device != nil {
		cfg.Serial.Device = *o.Device
	}
	if o.Baud != nil {
		cfg.Serial.Baud = *o.Baud
	}
	if o.WrapPoint != nil {
		cfg.Module.WrapPoint = *o.WrapPoint
	}
	if o.Unipolar != nil {
		cfg.Module.Unipolar = *o.Unipolar
	}
	if o.Listen != nil {
		cfg.Monitor.Listen = *o.Listen
	}
	if o.ArchivePath != nil {
		cfg.Archive.Path = *o.ArchivePath
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults, file and overrides have been applied.
func (c *Config) Validate() error {
	if c.Serial.Device == "" {
		return errors.New("serial.device must not be empty")
	}
	if c.Serial.Baud <= 0 {
		return errors.New("serial.baud must be > 0")
	}
	if c.Serial.TimeoutMS < 0 {
		return errors.New("serial.timeout_ms must be >= 0")
	}

	if c.Module.WrapPoint < 0 || c.Module.WrapPoint > 32767 {
		return errors.New("module.wrap_point must be between 0 and 32767")
	}
	if len(c.Module.Thresholds) > core.MaxThresholds {
		return fmt.Errorf("module.thresholds supports at most %d values", core.MaxThresholds)
	}
	for i, v := range c.Module.Thresholds {
		if v < -32768 || v > 32767 {
			return fmt.Errorf("module.thresholds[%d] out of the 16-bit position range", i)
		}
	}
	if c.Module.Prefix < 0 || c.Module.Prefix > 255 {
		return errors.New("module.prefix must be a byte value")
	}

	if c.Monitor.Listen == "" {
		return errors.New("monitor.listen must not be empty")
	}
	if c.Monitor.Path == "" || c.Monitor.Path[0] != '/' {
		return errors.New("monitor.path must start with '/'")
	}

	if c.Archive.Path == "" {
		return errors.New("archive.path must not be empty")
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// ThresholdValues returns the configured thresholds in wire width.
func (c *ModuleConfig) ThresholdValues() []int16 {
	if len(c.Thresholds) == 0 {
		return nil
	}
	out := make([]int16, len(c.Thresholds))
	for i, v := range c.Thresholds {
		out[i] = int16(v)
	}
	return out
}

// ExpandPath expands a leading "~" in a path using $HOME.
// This is handy for config values like archive.path.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
