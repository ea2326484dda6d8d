package portscan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"visualinternet/internal/domain"
)

// ErrPermissionDenied means the strategy lacks the privileges it needs
var ErrPermissionDenied = errors.New("permission denied")

// Scanner probes ports on a single address
type Scanner interface {
	// Scan returns the sorted open ports of addr within r
	Scan(ctx context.Context, addr string, r Range) ([]int, error)
	// Name identifies the strategy
	Name() string
}

// Strategy names accepted by New
const (
	StrategyAuto    = "auto"
	StrategySYN     = "syn"
	StrategyConnect = "connect"
	StrategyNmap    = "nmap"
)

// Config selects and tunes a strategy
type Config struct {
	Strategy       string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	MaxConcurrent  int
}

// DefaultConfig returns the defaults for an unprivileged-safe scan
func DefaultConfig() Config {
	return Config{
		Strategy:       StrategyAuto,
		Timeout:        2 * time.Second,
		ConnectTimeout: 500 * time.Millisecond,
		MaxConcurrent:  512,
	}
}

// New builds the scanner for cfg.Strategy. "auto" tries a SYN scan and
// falls back to connect probes; "nmap" tries nmap -sS then nmap -sT.
func New(cfg Config) (Scanner, error) {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}

	connect := NewConnectScanner(cfg.Timeout, cfg.ConnectTimeout, cfg.MaxConcurrent)
	switch strings.ToLower(cfg.Strategy) {
	case "", StrategyAuto:
		return NewFallbackScanner(NewSYNScanner(cfg.Timeout), connect), nil
	case StrategySYN:
		return NewSYNScanner(cfg.Timeout), nil
	case StrategyConnect:
		return connect, nil
	case StrategyNmap:
		return NewFallbackScanner(
			NewNmapScanner(WithSYN(true), WithScanTimeout(cfg.Timeout)),
			NewNmapScanner(WithSYN(false), WithScanTimeout(cfg.Timeout)),
		), nil
	default:
		return nil, fmt.Errorf("unknown scan strategy %q", cfg.Strategy)
	}
}

// FallbackScanner runs Primary and retries with Fallback when Primary is
// denied the privileges it needs. Once denied, Primary is skipped for the
// rest of the process.
type FallbackScanner struct {
	Primary  Scanner
	Fallback Scanner
	denied   atomic.Bool
}

// NewFallbackScanner creates a fallback chain of two strategies
func NewFallbackScanner(primary, fallback Scanner) *FallbackScanner {
	return &FallbackScanner{Primary: primary, Fallback: fallback}
}

// Name returns the adapter identifier
func (f *FallbackScanner) Name() string {
	if f.denied.Load() {
		return f.Fallback.Name()
	}
	return f.Primary.Name() + "+" + f.Fallback.Name()
}

// Scan runs the primary strategy, falling back on ErrPermissionDenied
func (f *FallbackScanner) Scan(ctx context.Context, addr string, r Range) ([]int, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if !f.denied.Load() {
		ports, err := f.Primary.Scan(ctx, addr, r)
		if !errors.Is(err, ErrPermissionDenied) {
			return ports, err
		}
		f.denied.Store(true)
		log.Printf("Scanner: %s unavailable (%v), falling back to %s", f.Primary.Name(), err, f.Fallback.Name())
	}
	return f.Fallback.Scan(ctx, addr, r)
}

// Result runs s and packages the outcome for a node's extension map
func Result(ctx context.Context, s Scanner, addr string, r Range) (domain.PortScanResult, error) {
	ports, err := s.Scan(ctx, addr, r)
	if err != nil {
		return domain.PortScanResult{}, err
	}
	return domain.PortScanResult{
		Address:   addr,
		Start:     r.Start,
		End:       r.End,
		Open:      ports,
		Strategy:  s.Name(),
		ScannedAt: time.Now().UTC(),
	}, nil
}

func sortedPorts(set map[int]bool) []int {
	ports := make([]int, 0, len(set))
	for p := range set {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}
