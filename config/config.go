// Package config loads minivsfs settings from a single YAML file.
//
// The file is named by the --config flag or the MINIVSFS_CONFIG environment
// variable. There is no search path. With neither set, Default applies.
// Command-line flags override whatever the file says.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable consulted when no --config flag is
// given.
const EnvVar = "MINIVSFS_CONFIG"

type Config struct {
	// Image is the image path used when a command has no --image flag.
	Image string `yaml:"image"`

	Format FormatConfig `yaml:"format"`

	// Debug sets util.Debug; higher is noisier.
	Debug uint64 `yaml:"debug"`

	// Lock takes an exclusive advisory lock on the image while it is open.
	Lock bool `yaml:"lock"`
}

// FormatConfig holds mkfs defaults.
type FormatConfig struct {
	SizeKiB uint64 `yaml:"size_kib"`
	Inodes  uint64 `yaml:"inodes"`
}

func Default() *Config {
	return &Config{
		Format: FormatConfig{
			SizeKiB: 1024,
			Inodes:  128,
		},
		Lock: true,
	}
}

// Load reads the file at path, or the one named by MINIVSFS_CONFIG if path
// is empty. With neither, it returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads the file at path over the defaults. The file must exist.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// an empty file decodes to io.EOF and leaves the defaults
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.Image = os.ExpandEnv(cfg.Image)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Format.SizeKiB == 0 {
		return errors.New("format.size_kib must be positive")
	}
	if c.Format.Inodes == 0 {
		return errors.New("format.inodes must be positive")
	}
	return nil
}
