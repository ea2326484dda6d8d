package traffic

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"visualinternet/internal/domain"
)

// DefaultDevPath is where Linux exposes interface counters
const DefaultDevPath = "/proc/net/dev"

// Counters are the cumulative byte counters of one interface
type Counters struct {
	RxBytes uint64
	TxBytes uint64
}

// Sampler reads interface counters on an interval and appends deltas
type Sampler struct {
	ring     *Ring
	interval time.Duration
	read     func() (map[string]Counters, error)
	now      func() time.Time

	prev   map[string]Counters
	prevAt time.Time
}

// NewSampler creates a sampler reading devPath into ring
func NewSampler(ring *Ring, interval time.Duration, devPath string) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	if devPath == "" {
		devPath = DefaultDevPath
	}
	return &Sampler{
		ring:     ring,
		interval: interval,
		read: func() (map[string]Counters, error) {
			data, err := os.ReadFile(devPath)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", devPath, err)
			}
			return ParseNetDev(string(data))
		},
		now: time.Now,
	}
}

// Run samples until ctx is cancelled
func (s *Sampler) Run(ctx context.Context) {
	log.Printf("Traffic: sampler started (interval=%v, capacity=%d)", s.interval, s.ring.Cap())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Traffic: sampler stopped")
			return
		case <-ticker.C:
			if err := s.Sample(); err != nil {
				log.Printf("Traffic: sample failed: %v", err)
			}
		}
	}
}

// Sample reads the counters once. The first read only sets the baseline.
func (s *Sampler) Sample() error {
	counters, err := s.read()
	if err != nil {
		return err
	}
	at := s.now()

	if s.prev != nil {
		interval := at.Sub(s.prevAt)
		for _, name := range sortedNames(counters) {
			cur := counters[name]
			old, ok := s.prev[name]
			if !ok {
				continue
			}
			s.ring.Add(domain.TrafficSample{
				ID:        uuid.NewString(),
				Interface: name,
				RxBytes:   cur.RxBytes,
				TxBytes:   cur.TxBytes,
				RxDelta:   delta(old.RxBytes, cur.RxBytes),
				TxDelta:   delta(old.TxBytes, cur.TxBytes),
				Interval:  interval,
				At:        at.UTC(),
			})
		}
	}

	s.prev = counters
	s.prevAt = at
	return nil
}

// delta treats a counter that went backwards as reset
func delta(old, cur uint64) uint64 {
	if cur < old {
		return cur
	}
	return cur - old
}

// ParseNetDev parses /proc/net/dev, skipping the loopback interface
func ParseNetDev(data string) (map[string]Counters, error) {
	out := make(map[string]Counters)
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		name, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" || name == "lo" {
			continue
		}

		fields := strings.Fields(rest)
		if len(fields) < 9 {
			return nil, fmt.Errorf("interface %s: expected 16 counters, got %d", name, len(fields))
		}
		rx, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("interface %s: rx bytes: %w", name, err)
		}
		tx, err := strconv.ParseUint(fields[8], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("interface %s: tx bytes: %w", name, err)
		}
		out[name] = Counters{RxBytes: rx, TxBytes: tx}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func sortedNames(m map[string]Counters) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
