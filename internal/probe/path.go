package probe

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"

	"visualinternet/internal/domain"
)

// Traceroute discovers the hop chain toward a target with traceroute(8)
type Traceroute struct {
	Runner  Runner
	MaxHops int
	// Wait is the per-probe reply wait in seconds
	Wait int
}

// NewTraceroute creates a traceroute path probe
func NewTraceroute(runner Runner, maxHops int) *Traceroute {
	if maxHops <= 0 {
		maxHops = 30
	}
	return &Traceroute{Runner: runner, MaxHops: maxHops, Wait: 2}
}

// Path returns the ordered hops toward target. Hops that did not answer are
// returned as domain.PathPlaceholder.
func (t *Traceroute) Path(ctx context.Context, target string) ([]string, error) {
	if !domain.IsIPv4Literal(target) {
		return nil, fmt.Errorf("%w: invalid target %q", ErrUnavailable, target)
	}
	out, err := t.Runner.Output(ctx, "traceroute",
		"-n", "-q", "1",
		"-w", strconv.Itoa(t.Wait),
		"-m", strconv.Itoa(t.MaxHops),
		target)
	if err != nil {
		return nil, err
	}
	return ParseTraceroute(out), nil
}

// ParseTraceroute parses numeric traceroute output:
//
//	traceroute to 8.8.8.8 (8.8.8.8), 30 hops max, 60 byte packets
//	 1  192.168.1.1  0.512 ms
//	 2  *
//	 3  10.0.0.1  8.113 ms
func ParseTraceroute(out string) []string {
	var hops []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if _, err := strconv.Atoi(fields[0]); err != nil {
			continue
		}
		hop := domain.PathPlaceholder
		for _, f := range fields[1:] {
			if domain.IsIPv4Literal(f) {
				hop = f
				break
			}
		}
		hops = append(hops, hop)
	}
	return hops
}

// NmapPath discovers the hop chain with nmap --traceroute
type NmapPath struct {
	Timeout time.Duration
}

// NewNmapPath creates an nmap-backed path probe
func NewNmapPath(timeout time.Duration) *NmapPath {
	return &NmapPath{Timeout: timeout}
}

// Path returns the ordered hops toward target
func (n *NmapPath) Path(ctx context.Context, target string) ([]string, error) {
	if !domain.IsIPv4Literal(target) {
		return nil, fmt.Errorf("%w: invalid target %q", ErrUnavailable, target)
	}
	if n.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}

	scanner, err := nmap.NewScanner(ctx,
		nmap.WithTargets(target),
		nmap.WithPingScan(),
		nmap.WithTraceRoute(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: nmap: %v", ErrUnavailable, err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, wrapContext(ctx, "nmap traceroute", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		log.Printf("Probe: nmap traceroute warnings for %s: %v", target, *warnings)
	}

	return nmapHops(result), nil
}

// nmapHops flattens the trace of the first host in the run
func nmapHops(result *nmap.Run) []string {
	if result == nil {
		return nil
	}
	for _, host := range result.Hosts {
		if len(host.Trace.Hops) == 0 {
			continue
		}
		hops := make([]string, 0, len(host.Trace.Hops))
		for _, hop := range host.Trace.Hops {
			if hop.IPAddr == "" {
				hops = append(hops, domain.PathPlaceholder)
				continue
			}
			hops = append(hops, hop.IPAddr)
		}
		return hops
	}
	return nil
}
