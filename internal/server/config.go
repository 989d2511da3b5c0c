package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iwvelando/indirect-rates/internal/config"
	"github.com/iwvelando/indirect-rates/pkg/constants"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of the serve command. Sizes and durations are
// parsed while decoding, so a loaded Config is ready to use.
type Config struct {
	Address        string   `yaml:"address"`
	MaxUploadSize  ByteSize `yaml:"maxUploadSize"`
	RequestTimeout Duration `yaml:"requestTimeout"`
	AllowedOrigins []string `yaml:"allowedOrigins"`

	// RunConfig is the run configuration applied to requests that upload none.
	RunConfig string               `yaml:"runConfig"`
	Logging   config.LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the settings used when no server file exists.
func DefaultConfig() *Config {
	return &Config{
		Address:        constants.DefaultServerAddress,
		MaxUploadSize:  ByteSize(constants.DefaultMaxUploadSizeBytes),
		RequestTimeout: Duration(constants.DefaultRequestTimeout),
		AllowedOrigins: []string{"*"},
	}
}

// LoadConfig reads the server settings at path over the defaults. A missing
// file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read server config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse server config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return fmt.Errorf("server address is required")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("maxUploadSize must be positive, got %d", c.MaxUploadSize)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("requestTimeout must be positive, got %s", time.Duration(c.RequestTimeout))
	}
	return nil
}

// Options returns the handler options these settings describe.
func (c *Config) Options(version string, defaults *config.Configuration) Options {
	return Options{
		MaxUploadSize:  int64(c.MaxUploadSize),
		Version:        version,
		AllowedOrigins: c.AllowedOrigins,
		Timeout:        time.Duration(c.RequestTimeout),
		Defaults:       defaults,
	}
}

// ByteSize is a byte count written as a number with an optional unit suffix.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	n, err := ParseSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*b = ByteSize(n)
	return nil
}

// Duration is a time.Duration written as "30s", "2m" and so on.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := time.ParseDuration(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, node.Value, err)
	}
	*d = Duration(v)
	return nil
}

var sizeUnits = map[string]int64{
	"":   1,
	"B":  1,
	"K":  1 << 10,
	"KB": 1 << 10,
	"M":  1 << 20,
	"MB": 1 << 20,
	"G":  1 << 30,
	"GB": 1 << 30,
}

// ParseSize converts "256K", "10MB" or a bare byte count into bytes. An empty
// value is the default upload size.
func ParseSize(value string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(value))
	if s == "" {
		return constants.DefaultMaxUploadSizeBytes, nil
	}

	digits := strings.TrimRight(s, "BKMG ")
	unit := strings.TrimSpace(s[len(digits):])
	multiplier, ok := sizeUnits[unit]
	if !ok {
		return 0, fmt.Errorf("unsupported size unit %q", unit)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(digits), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", value, err)
	}
	if n > 0 && n > (1<<63-1)/multiplier {
		return 0, fmt.Errorf("size %q overflows", value)
	}
	return n * multiplier, nil
}
