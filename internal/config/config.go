// Package config provides configuration management for the topology engine.
//
// Config file locations (priority order):
//  1. $VISUALINTERNET_CONFIG
//  2. ./visualinternet.yaml
//  3. $XDG_CONFIG_HOME/visualinternet/config.yaml
//  4. ~/.config/visualinternet/config.yaml
//  5. /etc/visualinternet/config.yaml
//
// Missing values are filled from DefaultConfig, and the result is checked
// with Validate before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		// No config found - return defaults
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	// Decode over the defaults so absent booleans keep their default
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}

	return cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	return &Config{
		Version:  1,
		Database: DatabaseConfig{Path: "./visualinternet.db"},
		HTTP:     HTTPConfig{Addr: ":5000"},
		Discovery: DiscoveryConfig{
			Interval:     Duration(10 * time.Second),
			Target:       "8.8.8.8",
			ProbeTimeout: Duration(5 * time.Second),
			PathTimeout:  Duration(30 * time.Second),
			PathStrategy: "traceroute",
			MaxHops:      30,
		},
		Scanner: ScannerConfig{
			Strategy:       "auto",
			Timeout:        Duration(2 * time.Second),
			ConnectTimeout: Duration(500 * time.Millisecond),
			MaxConcurrent:  512,
			DefaultStart:   20,
			DefaultEnd:     1024,
		},
		Storage: StorageConfig{
			Retries:   3,
			BaseDelay: Duration(200 * time.Millisecond),
			MaxDelay:  Duration(2 * time.Second),
		},
		Reputation: ReputationConfig{
			URL:      "https://api.bgpview.io/ip/%s",
			Timeout:  Duration(5 * time.Second),
			CacheTTL: Duration(time.Hour),
		},
		Traffic: TrafficConfig{
			Enabled:  true,
			Interval: Duration(time.Second),
			Capacity: 100,
		},
		STUN: STUNConfig{
			Servers: []string{"stun.l.google.com:19302"},
			Timeout: Duration(3 * time.Second),
		},
	}
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.Version == 0 {
		c.Version = def.Version
	}
	if c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = def.HTTP.Addr
	}

	d := &c.Discovery
	setDuration(&d.Interval, def.Discovery.Interval)
	setDuration(&d.ProbeTimeout, def.Discovery.ProbeTimeout)
	setDuration(&d.PathTimeout, def.Discovery.PathTimeout)
	if d.Target == "" {
		d.Target = def.Discovery.Target
	}
	if d.PathStrategy == "" {
		d.PathStrategy = def.Discovery.PathStrategy
	}
	if d.MaxHops == 0 {
		d.MaxHops = def.Discovery.MaxHops
	}

	s := &c.Scanner
	if s.Strategy == "" {
		s.Strategy = def.Scanner.Strategy
	}
	setDuration(&s.Timeout, def.Scanner.Timeout)
	setDuration(&s.ConnectTimeout, def.Scanner.ConnectTimeout)
	if s.MaxConcurrent == 0 {
		s.MaxConcurrent = def.Scanner.MaxConcurrent
	}
	if s.DefaultStart == 0 && s.DefaultEnd == 0 {
		s.DefaultStart = def.Scanner.DefaultStart
		s.DefaultEnd = def.Scanner.DefaultEnd
	}

	if c.Storage.Retries == 0 {
		c.Storage.Retries = def.Storage.Retries
	}
	setDuration(&c.Storage.BaseDelay, def.Storage.BaseDelay)
	setDuration(&c.Storage.MaxDelay, def.Storage.MaxDelay)

	if c.Reputation.URL == "" {
		c.Reputation.URL = def.Reputation.URL
	}
	setDuration(&c.Reputation.Timeout, def.Reputation.Timeout)
	setDuration(&c.Reputation.CacheTTL, def.Reputation.CacheTTL)

	setDuration(&c.Traffic.Interval, def.Traffic.Interval)
	if c.Traffic.Capacity == 0 {
		c.Traffic.Capacity = def.Traffic.Capacity
	}

	if len(c.STUN.Servers) == 0 {
		c.STUN.Servers = def.STUN.Servers
	}
	setDuration(&c.STUN.Timeout, def.STUN.Timeout)
}

func setDuration(d *Duration, def Duration) {
	if *d <= 0 {
		*d = def
	}
}

// Validate checks field constraints and reports every failure at once
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	failed := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		failed = append(failed, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(failed, ", "))
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	summary := fmt.Sprintf("Target: %s, Interval: %s, Path: %s\n",
		c.Discovery.Target, c.Discovery.Interval.Duration(), c.Discovery.PathStrategy)
	summary += fmt.Sprintf("Scanner: %s ports %d-%d, timeout %s\n",
		c.Scanner.Strategy, c.Scanner.DefaultStart, c.Scanner.DefaultEnd, c.Scanner.Timeout.Duration())
	summary += fmt.Sprintf("Traffic: enabled=%v, STUN: enabled=%v", c.Traffic.Enabled, c.STUN.Enabled)
	return summary
}
