// Package config loads the YAML configuration of the calypso-sam demo.
package config

import (
	"bytes"
	"encoding/hex"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/gregLibert/calypso-sam/pkg/sam"
)

type Config struct {
	LogLevel string         `yaml:"log_level"`
	Target   TargetConfig   `yaml:"target"`
	Control  ControlConfig  `yaml:"control"`
	Ceilings []CeilingWrite `yaml:"ceilings"`
}

// TargetConfig describes the SAM whose counters are read and written.
type TargetConfig struct {
	Reader  string `yaml:"reader"`
	Serial  string `yaml:"serial"`
	Product string `yaml:"product"`
	Dynamic bool   `yaml:"dynamic"`
}

// ControlConfig describes the SAM that ciphers the writes. It is only needed when
// Ceilings is not empty.
type ControlConfig struct {
	Reader  string `yaml:"reader"`
	Serial  string `yaml:"serial"`
	Product string `yaml:"product"`
}

type CeilingWrite struct {
	Counter      int    `yaml:"counter"`
	Ceiling      uint32 `yaml:"ceiling"`
	FreeCounting *bool  `yaml:"free_counting"`
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return Parse(content)
}

// Parse decodes and validates a configuration. Unknown fields are rejected.
func Parse(content []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.Target.SerialNumber(); err != nil {
		return err
	}
	if _, err := c.Target.ProductType(); err != nil {
		return errors.Wrap(err, "config.target.product")
	}

	for i, w := range c.Ceilings {
		if _, err := sam.RecordOf(w.Counter); err != nil {
			return errors.Wrapf(err, "config.ceilings[%d].counter", i)
		}
		if w.Ceiling >= sam.MaxCounterValue {
			return errors.Errorf("config.ceilings[%d].ceiling must be < %d", i, sam.MaxCounterValue)
		}
	}
	if len(c.Ceilings) == 0 {
		return nil
	}

	if _, err := c.Control.SerialNumber(); err != nil {
		return err
	}
	if _, err := c.Control.ProductType(); err != nil {
		return errors.Wrap(err, "config.control.product")
	}
	return nil
}

// Level returns the zerolog level, info when log_level is empty.
func (c *Config) Level() (zerolog.Level, error) {
	if strings.TrimSpace(c.LogLevel) == "" {
		return zerolog.InfoLevel, nil
	}
	l, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.NoLevel, errors.Wrap(err, "config.log_level")
	}
	return l, nil
}

func (t TargetConfig) SerialNumber() ([]byte, error) {
	return parseSerial(t.Serial, "config.target.serial")
}

func (t TargetConfig) ProductType() (sam.ProductType, error) {
	return sam.ParseProductType(t.Product)
}

func (c ControlConfig) SerialNumber() ([]byte, error) {
	return parseSerial(c.Serial, "config.control.serial")
}

func (c ControlConfig) ProductType() (sam.ProductType, error) {
	return sam.ParseProductType(c.Product)
}

func parseSerial(s, field string) ([]byte, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, errors.Errorf("%s is required", field)
	}
	serial, err := hex.DecodeString(strings.ReplaceAll(trimmed, " ", ""))
	if err != nil {
		return nil, errors.Wrap(err, field)
	}
	if len(serial) != sam.SerialLength {
		return nil, errors.Errorf("%s must be %d bytes, got %d", field, sam.SerialLength, len(serial))
	}
	return serial, nil
}
