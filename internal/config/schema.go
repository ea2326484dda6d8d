package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version      int                `yaml:"version"`
	Database     DatabaseConfig     `yaml:"database"`
	HTTP         HTTPConfig         `yaml:"http"`
	Discovery    DiscoveryConfig    `yaml:"discovery"`
	Scanner      ScannerConfig      `yaml:"scanner"`
	Storage      StorageConfig      `yaml:"storage"`
	Reputation   ReputationConfig   `yaml:"reputation"`
	Traffic      TrafficConfig      `yaml:"traffic"`
	STUN         STUNConfig         `yaml:"stun"`
	AddressCache AddressCacheConfig `yaml:"address_cache"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// HTTPConfig holds the listen address
type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// DiscoveryConfig tunes the orchestrator loop and its probes
type DiscoveryConfig struct {
	Interval     Duration `yaml:"interval"`
	Target       string   `yaml:"target" validate:"required,ipv4"`
	ProbeTimeout Duration `yaml:"probe_timeout"`
	PathTimeout  Duration `yaml:"path_timeout"`
	PathStrategy string   `yaml:"path_strategy" validate:"oneof=traceroute nmap"`
	MaxHops      int      `yaml:"max_hops" validate:"min=1,max=64"`
}

// ScannerConfig selects the port scan strategy
type ScannerConfig struct {
	Strategy       string   `yaml:"strategy" validate:"oneof=auto syn connect nmap"`
	Timeout        Duration `yaml:"timeout"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	MaxConcurrent  int      `yaml:"max_concurrent" validate:"min=1"`
	DefaultStart   int      `yaml:"default_start" validate:"min=1,max=65535"`
	DefaultEnd     int      `yaml:"default_end" validate:"min=1,max=65535,gtefield=DefaultStart"`
}

// StorageConfig bounds retries against the database
type StorageConfig struct {
	Retries   int      `yaml:"retries" validate:"min=0,max=10"`
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// ReputationConfig points at the address ownership lookup
type ReputationConfig struct {
	URL      string   `yaml:"url" validate:"required,contains=%s"`
	Timeout  Duration `yaml:"timeout"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

// TrafficConfig controls the passive sampler
type TrafficConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	Capacity int      `yaml:"capacity" validate:"min=1"`
	DevPath  string   `yaml:"dev_path,omitempty"`
}

// STUNConfig controls public address discovery
type STUNConfig struct {
	Enabled bool     `yaml:"enabled"`
	Servers []string `yaml:"servers,omitempty" validate:"required_if=Enabled true,dive,hostname_port"`
	Timeout Duration `yaml:"timeout"`
}

// AddressCacheConfig tunes hardware address caching.
// A zero NegativeTTL keeps failed lookups for the life of the process.
type AddressCacheConfig struct {
	NegativeTTL Duration `yaml:"negative_ttl"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
