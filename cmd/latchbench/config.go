package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration parses YAML scalars like "150ms" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config describes one benchmark workload. Values come from defaults,
// then a scenario file, then explicitly set flags, in that order.
type Config struct {
	Readers    int      `yaml:"readers"`
	Writers    int      `yaml:"writers"`
	Duration   Duration `yaml:"duration"`
	ReadHold   Duration `yaml:"read_hold"`
	WriteHold  Duration `yaml:"write_hold"`
	MaxReaders uint32   `yaml:"max_readers"`
}

func defaultConfig() Config {
	return Config{
		Readers:    8,
		Writers:    2,
		Duration:   Duration(5 * time.Second),
		ReadHold:   Duration(100 * time.Microsecond),
		WriteHold:  Duration(500 * time.Microsecond),
		MaxReaders: 0, // 0 - без ограничения (latch.MaxReaders)
	}
}

func loadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read scenario: %w", err)
	}
	cfg := defaultConfig()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse scenario: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Readers < 0 || c.Writers < 0 {
		return fmt.Errorf("negative worker count: readers=%d writers=%d", c.Readers, c.Writers)
	}
	if c.Readers == 0 && c.Writers == 0 {
		return fmt.Errorf("no workers configured")
	}
	if c.Duration <= 0 {
		return fmt.Errorf("non-positive duration %v", time.Duration(c.Duration))
	}
	return nil
}
