package portscan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"

	"visualinternet/internal/domain"
)

// NmapOption is a functional option for configuring NmapScanner
type NmapOption func(*NmapScanner)

// WithSYN selects -sS (true) or -sT (false)
func WithSYN(enabled bool) NmapOption {
	return func(n *NmapScanner) {
		n.syn = enabled
	}
}

// WithScanTimeout sets the timeout for the entire nmap run
func WithScanTimeout(d time.Duration) NmapOption {
	return func(n *NmapScanner) {
		n.timeout = d
	}
}

// WithSkipHostDiscovery sets whether to skip ping and treat the host as online (-Pn)
// Useful for hosts that block ICMP
func WithSkipHostDiscovery(skip bool) NmapOption {
	return func(n *NmapScanner) {
		n.skipHostDiscovery = skip
	}
}

// NmapScanner scans ports by running nmap
type NmapScanner struct {
	syn               bool
	timeout           time.Duration
	skipHostDiscovery bool
}

// NewNmapScanner creates an nmap-backed scanner
func NewNmapScanner(opts ...NmapOption) *NmapScanner {
	scanner := &NmapScanner{
		syn:               true,
		timeout:           2 * time.Minute,
		skipHostDiscovery: true,
	}

	for _, opt := range opts {
		opt(scanner)
	}

	return scanner
}

// Name returns the strategy identifier
func (n *NmapScanner) Name() string {
	if n.syn {
		return "nmap-syn"
	}
	return "nmap-connect"
}

// Scan runs nmap against addr restricted to r
func (n *NmapScanner) Scan(ctx context.Context, addr string, r Range) ([]int, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if _, err := domain.ParseIPv4(addr); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	opts := []nmap.Option{
		nmap.WithTargets(addr),
		nmap.WithPorts(r.String()),
	}
	if n.syn {
		opts = append(opts, nmap.WithSYNScan())
	} else {
		opts = append(opts, nmap.WithConnectScan())
	}
	if n.skipHostDiscovery {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}

	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}

	log.Printf("Scanner: nmap %s scanning %s ports %s", n.Name(), addr, r)
	result, warnings, err := scanner.Run()
	if warnings != nil && len(*warnings) > 0 {
		if requiresRoot(*warnings) {
			return nil, fmt.Errorf("%w: nmap %s requires root", ErrPermissionDenied, n.Name())
		}
		log.Printf("Scanner: nmap warnings for %s: %v", addr, *warnings)
	}
	if err != nil {
		if requiresRoot([]string{err.Error()}) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	return openPorts(result, addr)
}

// openPorts extracts the open ports for addr from an nmap run
func openPorts(result *nmap.Run, addr string) ([]int, error) {
	if result == nil {
		return nil, errors.New("nil scan result")
	}

	open := make(map[int]bool)
	for _, host := range result.Hosts {
		if !hostHasAddress(host, addr) {
			continue
		}
		for _, port := range host.Ports {
			if port.State.State == "open" {
				open[int(port.ID)] = true
			}
		}
	}
	return sortedPorts(open), nil
}

func hostHasAddress(host nmap.Host, addr string) bool {
	for _, a := range host.Addresses {
		if a.Addr == addr {
			return true
		}
	}
	return false
}

func requiresRoot(messages []string) bool {
	for _, m := range messages {
		m = strings.ToLower(m)
		if strings.Contains(m, "requires root") || strings.Contains(m, "root privileges") {
			return true
		}
	}
	return false
}
