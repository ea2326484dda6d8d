// Package orchestrator runs the discovery loop that keeps the topology
// store current.
//
// Each cycle resolves the local address and the gateway, lists neighbors,
// discovers the path toward the configured target, scans the gateway once
// per lifetime for an externally reachable port, and applies the result to
// the store as one batch. Probe failures degrade single fields; a failure
// to find the gateway skips the cycle; a panic is recovered and logged.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"visualinternet/internal/addrcache"
	"visualinternet/internal/domain"
	"visualinternet/internal/portscan"
	"visualinternet/internal/topology"
)

// ErrGatewayUnavailable is returned by RunCycle when the gateway could not
// be resolved and the cycle was skipped
var ErrGatewayUnavailable = errors.New("gateway unavailable")

// Event types published by the orchestrator
const (
	EventTopologyUpdated = "topology_updated"
	EventCycleSkipped    = "cycle_skipped"
)

// EventFunc receives orchestrator events
type EventFunc func(eventType string, payload any)

// Config tunes the loop
type Config struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	PathTimeout  time.Duration
	ScanRange    portscan.Range
}

// DefaultConfig returns the loop defaults
func DefaultConfig() Config {
	return Config{
		Interval:     10 * time.Second,
		ProbeTimeout: 5 * time.Second,
		PathTimeout:  30 * time.Second,
		ScanRange:    portscan.DefaultRange,
	}
}

// CycleReport summarizes one cycle
type CycleReport struct {
	ID          string               `json:"id"`
	StartedAt   time.Time            `json:"started_at"`
	Duration    time.Duration        `json:"duration_ns"`
	Local       string               `json:"local"`
	Gateway     string               `json:"gateway"`
	Target      string               `json:"target"`
	GatewayPort *int                 `json:"gateway_port,omitempty"`
	PortScanned bool                 `json:"port_scanned"`
	Nodes       int                  `json:"nodes"`
	Edges       int                  `json:"edges"`
	Result      topology.ApplyResult `json:"result"`
	Degraded    []string             `json:"degraded,omitempty"`
	Skipped     bool                 `json:"skipped"`
	Error       string               `json:"error,omitempty"`
}

func (r *CycleReport) degrade(field string, err error) {
	r.Degraded = append(r.Degraded, field)
	log.Printf("Orchestrator: cycle %s: %s unavailable: %v", r.ID, field, err)
}

// Orchestrator drives discovery into the store
type Orchestrator struct {
	cfg     Config
	store   Store
	probes  Probes
	macs    MACResolver
	scanner portscan.Scanner
	target  *Target
	publish EventFunc
	now     func() time.Time

	mu   sync.RWMutex
	last *CycleReport
}

// New creates an orchestrator. macs may be nil.
func New(cfg Config, store Store, probes Probes, macs MACResolver, scanner portscan.Scanner, target *Target) *Orchestrator {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.PathTimeout <= 0 {
		cfg.PathTimeout = def.PathTimeout
	}
	if cfg.ScanRange == (portscan.Range{}) {
		cfg.ScanRange = def.ScanRange
	}
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		probes:  probes,
		macs:    macs,
		scanner: scanner,
		target:  target,
		now:     time.Now,
	}
}

// SetEventPublisher sets the event publisher for cycle updates
func (o *Orchestrator) SetEventPublisher(fn EventFunc) {
	o.publish = fn
}

// publishEvent emits an orchestrator event
func (o *Orchestrator) publishEvent(eventType string, payload any) {
	if o.publish != nil {
		o.publish(eventType, payload)
	}
}

// Target returns the target holder
func (o *Orchestrator) Target() *Target {
	return o.target
}

// Run executes a cycle immediately and then every interval until ctx ends.
// A failed or panicking cycle never stops the loop.
func (o *Orchestrator) Run(ctx context.Context) {
	log.Printf("Orchestrator: started (interval=%v, target=%s)", o.cfg.Interval, o.target.Get())

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	o.safeCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("Orchestrator: stopped")
			return
		case <-ticker.C:
			o.safeCycle(ctx)
		}
	}
}

// safeCycle runs one cycle, recovering panics
func (o *Orchestrator) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Orchestrator: cycle panicked: %v\n%s", r, debug.Stack())
		}
	}()

	if _, err := o.RunCycle(ctx); err != nil {
		log.Printf("Orchestrator: cycle failed: %v", err)
	}
}

// RunCycle performs one discovery cycle and applies it to the store
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	started := o.now()
	report := &CycleReport{
		ID:        uuid.NewString(),
		StartedAt: started.UTC(),
		Target:    o.target.Get(),
	}
	defer func() {
		report.Duration = o.now().Sub(started)
		o.mu.Lock()
		o.last = report
		o.mu.Unlock()
	}()

	obs := Observation{Target: report.Target, At: started, MACs: map[string]string{}}

	// 1. local identity and gateway
	obs.Local = domain.Unknown
	if o.probes.Local != nil {
		pctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
		id, err := o.probes.Local.Local(pctx)
		cancel()
		if err != nil {
			report.degrade("local", err)
		} else {
			obs.Local = id.Address
			obs.Subnet = id.Subnet
		}
	}
	report.Local = obs.Local

	gw, err := o.resolveGateway(ctx)
	if err != nil {
		report.Skipped = true
		report.Error = err.Error()
		log.Printf("Orchestrator: cycle %s skipped: %v", report.ID, err)
		o.publishEvent(EventCycleSkipped, map[string]string{"cycle_id": report.ID, "reason": err.Error()})
		return *report, err
	}
	obs.Gateway = gw
	report.Gateway = gw

	// 2. neighbors and path
	if o.probes.Neighbors != nil {
		pctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
		neighbors, err := o.probes.Neighbors.Neighbors(pctx)
		cancel()
		if err != nil {
			report.degrade("neighbors", err)
		}
		obs.Neighbors = neighbors
	}
	obs.Hops = o.discoverPath(ctx, report)

	// 3. gateway port, scanned once per node lifetime
	obs.GatewayPort, report.PortScanned = o.gatewayPort(ctx, gw, report)
	report.GatewayPort = obs.GatewayPort

	// hardware addresses and optional public address
	if o.macs != nil {
		for _, addr := range append([]string{gw}, obs.Neighbors...) {
			if !isLocal(addr, obs.Subnet) {
				continue
			}
			mctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
			mac := o.macs.Resolve(mctx, addr)
			cancel()
			if domain.IsKnown(mac) && mac != addrcache.External {
				obs.MACs[addr] = mac
			}
		}
	}
	if o.probes.Public != nil {
		pctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
		public, err := o.probes.Public.PublicAddr(pctx)
		cancel()
		if err != nil {
			report.degrade("public_addr", err)
		} else {
			obs.PublicAddr = public
		}
	}

	// 4. build and 5. apply
	frag := BuildFragment(obs)
	report.Nodes = len(frag.Nodes)
	report.Edges = len(frag.Edges)

	result, err := o.store.Apply(ctx, frag)
	report.Result = result
	if err != nil {
		report.Error = err.Error()
		return *report, fmt.Errorf("apply cycle %s: %w", report.ID, err)
	}

	if len(obs.Hops) > 0 {
		// history is best effort; the store logs failures
		_ = o.store.RecordPath(ctx, domain.PathRecord{
			Target:     obs.Target,
			Gateway:    gw,
			Hops:       obs.Hops,
			ObservedAt: started,
		})
	}

	o.publishEvent(EventTopologyUpdated, map[string]any{
		"cycle_id": report.ID,
		"result":   result,
	})
	return *report, nil
}

// resolveGateway asks the gateway probe and validates the answer
func (o *Orchestrator) resolveGateway(ctx context.Context) (string, error) {
	if o.probes.Gateway == nil {
		return "", fmt.Errorf("%w: no gateway probe", ErrGatewayUnavailable)
	}
	pctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
	defer cancel()

	gw, err := o.probes.Gateway.Gateway(pctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if !domain.IsIPv4Literal(gw) {
		return "", fmt.Errorf("%w: probe returned %q", ErrGatewayUnavailable, gw)
	}
	return gw, nil
}

// discoverPath runs path discovery and labels responsive hops
func (o *Orchestrator) discoverPath(ctx context.Context, report *CycleReport) []domain.PathHop {
	if o.probes.Path == nil || !domain.IsIPv4Literal(report.Target) {
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, o.cfg.PathTimeout)
	raw, err := o.probes.Path.Path(pctx, report.Target)
	cancel()
	if err != nil {
		report.degrade("path", err)
		return nil
	}

	hops := make([]domain.PathHop, 0, len(raw))
	for _, addr := range raw {
		hop := domain.PathHop{Address: addr}
		if !hop.Responded() {
			hop.Address = domain.PathPlaceholder
		} else if addr != report.Gateway && o.probes.Reputation != nil {
			lctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
			hop.Label = o.probes.Reputation.Label(lctx, addr)
			cancel()
		}
		hops = append(hops, hop)
	}
	return hops
}

// gatewayPort returns the memoized externally reachable port of the
// gateway, scanning only when none has been recorded yet. The second
// result reports whether a scan ran.
func (o *Orchestrator) gatewayPort(ctx context.Context, gw string, report *CycleReport) (*int, bool) {
	if node, err := o.store.GetNode(gw); err == nil {
		if port, ok := node.Extra.Int(domain.ExtOpenExternalPort); ok {
			return &port, false
		}
	}
	if o.scanner == nil {
		return nil, false
	}

	result, err := portscan.Result(ctx, o.scanner, gw, o.cfg.ScanRange)
	if err != nil {
		report.degrade("gateway_port", err)
		return nil, true
	}
	port := result.FirstOpen()
	log.Printf("Orchestrator: gateway %s scanned with %s, first open port %d", gw, result.Strategy, port)
	return &port, true
}

// InvalidateGatewayPort forgets the recorded gateway port so the next cycle
// scans again
func (o *Orchestrator) InvalidateGatewayPort(ctx context.Context) error {
	report, ok := o.LastReport()
	if !ok || report.Gateway == "" {
		return fmt.Errorf("%w: no gateway observed yet", ErrGatewayUnavailable)
	}
	return o.store.DropExtension(ctx, report.Gateway, domain.ExtOpenExternalPort)
}

// LastReport returns the report of the most recent cycle
func (o *Orchestrator) LastReport() (CycleReport, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return CycleReport{}, false
	}
	return *o.last, true
}

// Replay applies the latest recorded path per target to the store. It runs
// at startup before the loop.
func (o *Orchestrator) Replay(ctx context.Context) (int, error) {
	records, err := o.store.LatestPaths(ctx)
	if err != nil {
		return 0, fmt.Errorf("load path history: %w", err)
	}

	replayed := 0
	for _, rec := range records {
		frag := BuildFragment(Observation{
			Gateway: rec.Gateway,
			Target:  rec.Target,
			Hops:    rec.Hops,
			At:      rec.ObservedAt,
		})
		if frag.Empty() {
			continue
		}
		if _, err := o.store.Apply(ctx, frag); err != nil {
			return replayed, fmt.Errorf("replay path to %s: %w", rec.Target, err)
		}
		replayed++
	}

	log.Printf("Orchestrator: replayed %d recorded paths", replayed)
	return replayed, nil
}
