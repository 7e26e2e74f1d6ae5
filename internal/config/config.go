// Package config loads the collector configuration from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
	} `yaml:"logger"`
	Clock struct {
		// FrequencyHz is the device timer frequency assumed when the event
		// source does not report one.
		FrequencyHz uint64 `yaml:"frequencyHz"`
		// CounterBits is the device timer width assumed when the event
		// source does not report one.
		CounterBits uint8 `yaml:"counterBits"`
	} `yaml:"clock"`
	Aggregate struct {
		// WidthBuckets keys statistics by kernel name and execution width
		// instead of name alone.
		WidthBuckets bool `yaml:"widthBuckets"`
		// Timeline retains per-instance intervals for trace export.
		Timeline bool `yaml:"timeline"`
	} `yaml:"aggregate"`
	Trace struct {
		// BufferRecords is the capacity of each exchange buffer, in records.
		BufferRecords int `yaml:"bufferRecords"`
		// Output is the Chrome trace-event JSON path; empty disables export.
		Output string `yaml:"output"`
	} `yaml:"trace"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.Logger.Verbosity = "info"
	cfg.Clock.FrequencyHz = 12_000_000
	cfg.Clock.CounterBits = 32
	cfg.Aggregate.Timeline = true
	cfg.Trace.BufferRecords = 4096
	return &cfg
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.Clock.FrequencyHz == 0 {
		return fmt.Errorf("clock.frequencyHz must be positive")
	}
	if c.Clock.CounterBits == 0 || c.Clock.CounterBits > 64 {
		return fmt.Errorf("clock.counterBits must be in [1, 64], got %d", c.Clock.CounterBits)
	}
	if c.Trace.BufferRecords <= 0 {
		return fmt.Errorf("trace.bufferRecords must be positive")
	}
	return nil
}
