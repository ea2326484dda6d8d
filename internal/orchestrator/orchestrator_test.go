package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"visualinternet/internal/domain"
	"visualinternet/internal/portscan"
	"visualinternet/internal/probe"
	"visualinternet/internal/repository/sqlite"
	"visualinternet/internal/topology"
)

type fakeLocal struct {
	id  probe.Identity
	err error
}

func (f fakeLocal) Local(ctx context.Context) (probe.Identity, error) {
	return f.id, f.err
}

type fakeGateway struct {
	addr string
	err  error
}

func (f fakeGateway) Gateway(ctx context.Context) (string, error) {
	return f.addr, f.err
}

type fakeNeighbors []string

func (f fakeNeighbors) Neighbors(ctx context.Context) ([]string, error) {
	return f, nil
}

type fakePath struct {
	mu      sync.Mutex
	hops    []string
	targets []string
}

func (f *fakePath) Path(ctx context.Context, target string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	return f.hops, nil
}

type fakeReputation map[string]string

func (f fakeReputation) Label(ctx context.Context, addr string) string {
	if label, ok := f[addr]; ok {
		return label
	}
	return probe.LabelUnknown
}

type fakeScanner struct {
	calls atomic.Int32
	open  []int
	err   error
}

func (f *fakeScanner) Scan(ctx context.Context, addr string, r portscan.Range) ([]int, error) {
	f.calls.Add(1)
	return f.open, f.err
}

func (f *fakeScanner) Name() string { return "fake" }

type fakeMACs map[string]string

func (f fakeMACs) Resolve(ctx context.Context, addr string) string {
	if mac, ok := f[addr]; ok {
		return mac
	}
	return domain.Unknown
}

// deadlineMACs records whether each lookup carried a deadline
type deadlineMACs struct {
	mu       sync.Mutex
	bounded  int
	unbounded int
}

func (d *deadlineMACs) Resolve(ctx context.Context, addr string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := ctx.Deadline(); ok {
		d.bounded++
	} else {
		d.unbounded++
	}
	return domain.Unknown
}

type panicGateway struct{}

func (panicGateway) Gateway(ctx context.Context) (string, error) {
	panic("probe exploded")
}

func newTestStore(t *testing.T) *topology.Store {
	t.Helper()
	repo, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	store, err := topology.Open(context.Background(), repo, topology.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestOrchestrator(t *testing.T, store Store, probes Probes, scanner portscan.Scanner) *Orchestrator {
	t.Helper()
	target, err := NewTarget("8.8.8.8")
	if err != nil {
		t.Fatalf("failed to create target: %v", err)
	}
	return New(Config{Interval: 10 * time.Millisecond}, store, probes, nil, scanner, target)
}

func homeProbes(path *fakePath) Probes {
	return Probes{
		Local:     fakeLocal{err: errors.New("no route")},
		Gateway:   fakeGateway{addr: "192.168.1.1"},
		Neighbors: fakeNeighbors{"192.168.1.1", "192.168.1.5"},
		Path:      path,
		Reputation: fakeReputation{
			"72.14.0.1": "AS15169 (GOOGLE)",
		},
	}
}

func TestRunCycleBuildsExpectedGraph(t *testing.T) {
	store := newTestStore(t)
	path := &fakePath{hops: []string{"10.0.0.1", "72.14.0.1"}}
	scanner := &fakeScanner{open: []int{80, 443}}
	o := newTestOrchestrator(t, store, homeProbes(path), scanner)

	report, err := o.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if report.Local != domain.Unknown {
		t.Errorf("expected local %q, got %q", domain.Unknown, report.Local)
	}

	snap := store.Snapshot(topology.Filter{})
	wantNodes := []string{"10.0.0.1", "192.168.1.1", "192.168.1.5", "72.14.0.1"}
	if len(snap.Nodes) != len(wantNodes) {
		t.Fatalf("expected %d nodes, got %d", len(wantNodes), len(snap.Nodes))
	}
	for _, id := range wantNodes {
		if _, ok := snap.Node(id); !ok {
			t.Errorf("expected node %s", id)
		}
	}

	wantEdges := [][2]string{
		{"192.168.1.1", "192.168.1.5"},
		{"192.168.1.1", "10.0.0.1"},
		{"10.0.0.1", "72.14.0.1"},
	}
	if len(snap.Edges) != len(wantEdges) {
		t.Fatalf("expected %d edges, got %d", len(wantEdges), len(snap.Edges))
	}
	for _, e := range wantEdges {
		if !snap.HasEdge(e[0], e[1]) {
			t.Errorf("expected edge %s -> %s", e[0], e[1])
		}
	}

	gw, _ := snap.Node("192.168.1.1")
	if gw.Category != domain.CategoryRouter {
		t.Errorf("expected gateway category %s, got %s", domain.CategoryRouter, gw.Category)
	}
	if port, ok := gw.Extra.Int(domain.ExtOpenExternalPort); !ok || port != 80 {
		t.Errorf("expected open_external_port 80, got %d (%v)", port, ok)
	}

	hop, _ := snap.Node("72.14.0.1")
	if hop.Label != "AS15169 (GOOGLE)" {
		t.Errorf("expected hop label from reputation, got %q", hop.Label)
	}
	if hop.Category != domain.CategoryExternalHop {
		t.Errorf("expected category %s, got %s", domain.CategoryExternalHop, hop.Category)
	}

	local, _ := snap.Node("192.168.1.5")
	if local.Category != domain.CategoryLocalDevice {
		t.Errorf("expected category %s, got %s", domain.CategoryLocalDevice, local.Category)
	}

	paths, err := store.LatestPaths(context.Background())
	if err != nil {
		t.Fatalf("LatestPaths failed: %v", err)
	}
	if len(paths) != 1 || paths[0].Target != "8.8.8.8" {
		t.Errorf("expected one recorded path to 8.8.8.8, got %+v", paths)
	}
}

func TestGatewayPortIsScannedOnce(t *testing.T) {
	store := newTestStore(t)
	path := &fakePath{hops: []string{"10.0.0.1", "72.14.0.1"}}
	scanner := &fakeScanner{open: []int{80}}
	o := newTestOrchestrator(t, store, homeProbes(path), scanner)

	for i := 0; i < 3; i++ {
		if _, err := o.RunCycle(context.Background()); err != nil {
			t.Fatalf("cycle %d failed: %v", i, err)
		}
	}
	if calls := scanner.calls.Load(); calls != 1 {
		t.Errorf("expected scanner to run once, ran %d times", calls)
	}

	t.Run("recorded port skips scan", func(t *testing.T) {
		store := newTestStore(t)
		gw := domain.NewNode("192.168.1.1", domain.CategoryRouter, LabelGateway, time.Now())
		gw.SetExtension(domain.ExtOpenExternalPort, 80)
		if err := store.UpsertNode(context.Background(), gw); err != nil {
			t.Fatalf("failed to seed gateway: %v", err)
		}

		scanner := &fakeScanner{open: []int{22}}
		o := newTestOrchestrator(t, store, homeProbes(&fakePath{}), scanner)
		report, err := o.RunCycle(context.Background())
		if err != nil {
			t.Fatalf("RunCycle failed: %v", err)
		}
		if scanner.calls.Load() != 0 {
			t.Error("expected scanner not to run")
		}
		if report.PortScanned {
			t.Error("expected report to show no scan")
		}
		if report.GatewayPort == nil || *report.GatewayPort != 80 {
			t.Errorf("expected memoized port 80, got %v", report.GatewayPort)
		}
	})

	t.Run("no open port is memoized", func(t *testing.T) {
		store := newTestStore(t)
		scanner := &fakeScanner{}
		o := newTestOrchestrator(t, store, homeProbes(&fakePath{}), scanner)
		for i := 0; i < 2; i++ {
			if _, err := o.RunCycle(context.Background()); err != nil {
				t.Fatalf("cycle %d failed: %v", i, err)
			}
		}
		if calls := scanner.calls.Load(); calls != 1 {
			t.Errorf("expected scanner to run once, ran %d times", calls)
		}
		gw, err := store.GetNode("192.168.1.1")
		if err != nil {
			t.Fatalf("GetNode failed: %v", err)
		}
		if port, ok := gw.Extra.Int(domain.ExtOpenExternalPort); !ok || port != domain.NoOpenPort {
			t.Errorf("expected port %d, got %d (%v)", domain.NoOpenPort, port, ok)
		}
	})

	t.Run("scan error retries next cycle", func(t *testing.T) {
		store := newTestStore(t)
		scanner := &fakeScanner{err: errors.New("network down")}
		o := newTestOrchestrator(t, store, homeProbes(&fakePath{}), scanner)
		for i := 0; i < 2; i++ {
			report, err := o.RunCycle(context.Background())
			if err != nil {
				t.Fatalf("cycle %d failed: %v", i, err)
			}
			if !contains(report.Degraded, "gateway_port") {
				t.Errorf("expected gateway_port to be reported degraded, got %v", report.Degraded)
			}
		}
		if calls := scanner.calls.Load(); calls != 2 {
			t.Errorf("expected scanner to run twice, ran %d times", calls)
		}
	})
}

func TestInvalidateGatewayPort(t *testing.T) {
	store := newTestStore(t)
	scanner := &fakeScanner{open: []int{80}}
	o := newTestOrchestrator(t, store, homeProbes(&fakePath{}), scanner)

	if err := o.InvalidateGatewayPort(context.Background()); err == nil {
		t.Error("expected error before any cycle ran")
	}

	if _, err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if err := o.InvalidateGatewayPort(context.Background()); err != nil {
		t.Fatalf("InvalidateGatewayPort failed: %v", err)
	}
	if _, err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if calls := scanner.calls.Load(); calls != 2 {
		t.Errorf("expected a rescan after invalidation, scanner ran %d times", calls)
	}
}

func TestSetTargetRejectsInvalidInput(t *testing.T) {
	target, err := NewTarget("8.8.8.8")
	if err != nil {
		t.Fatalf("NewTarget failed: %v", err)
	}

	tests := []string{"not-an-ip", "", "8.8.8", "256.1.1.1", "::1", " 8.8.8.8"}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			if _, err := target.Set(input); !errors.Is(err, ErrInvalidTarget) {
				t.Errorf("expected ErrInvalidTarget, got %v", err)
			}
			if got := target.Get(); got != "8.8.8.8" {
				t.Errorf("expected target unchanged, got %s", got)
			}
		})
	}

	prev, err := target.Set("1.1.1.1")
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if prev != "8.8.8.8" {
		t.Errorf("expected previous 8.8.8.8, got %s", prev)
	}
	if target.Get() != "1.1.1.1" {
		t.Errorf("expected 1.1.1.1, got %s", target.Get())
	}

	if _, err := NewTarget("example.com"); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestTargetChangeAppliesNextCycle(t *testing.T) {
	store := newTestStore(t)
	path := &fakePath{hops: []string{"10.0.0.1"}}
	o := newTestOrchestrator(t, store, homeProbes(path), &fakeScanner{})

	if _, err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if _, err := o.Target().Set("1.1.1.1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	path.mu.Lock()
	defer path.mu.Unlock()
	if len(path.targets) != 2 || path.targets[0] != "8.8.8.8" || path.targets[1] != "1.1.1.1" {
		t.Errorf("expected targets [8.8.8.8 1.1.1.1], got %v", path.targets)
	}
}

func TestCycleSkippedWithoutGateway(t *testing.T) {
	store := newTestStore(t)
	probes := homeProbes(&fakePath{hops: []string{"10.0.0.1"}})
	probes.Gateway = fakeGateway{err: probe.ErrUnavailable}
	scanner := &fakeScanner{open: []int{80}}
	o := newTestOrchestrator(t, store, probes, scanner)

	var events []string
	o.SetEventPublisher(func(eventType string, payload any) {
		events = append(events, eventType)
	})

	report, err := o.RunCycle(context.Background())
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if !report.Skipped {
		t.Error("expected report to be marked skipped")
	}
	if n, e := store.Counts(); n != 0 || e != 0 {
		t.Errorf("expected empty store, got %d nodes %d edges", n, e)
	}
	if scanner.calls.Load() != 0 {
		t.Error("expected no scan for a skipped cycle")
	}
	if len(events) != 1 || events[0] != EventCycleSkipped {
		t.Errorf("expected [%s], got %v", EventCycleSkipped, events)
	}

	last, ok := o.LastReport()
	if !ok || last.ID != report.ID {
		t.Error("expected skipped cycle to be the last report")
	}
}

func TestCyclePublishesUpdate(t *testing.T) {
	store := newTestStore(t)
	o := newTestOrchestrator(t, store, homeProbes(&fakePath{}), &fakeScanner{})

	var events []string
	o.SetEventPublisher(func(eventType string, payload any) {
		events = append(events, eventType)
	})
	if _, err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if len(events) != 1 || events[0] != EventTopologyUpdated {
		t.Errorf("expected [%s], got %v", EventTopologyUpdated, events)
	}
}

func TestMACsAttachedToLocalNodes(t *testing.T) {
	store := newTestStore(t)
	target, _ := NewTarget("8.8.8.8")
	macs := fakeMACs{
		"192.168.1.1": "aa:bb:cc:dd:ee:01",
		"192.168.1.5": "aa:bb:cc:dd:ee:05",
	}
	o := New(Config{}, store, homeProbes(&fakePath{}), macs, &fakeScanner{}, target)

	if _, err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	for addr, want := range macs {
		node, err := store.GetNode(addr)
		if err != nil {
			t.Fatalf("GetNode(%s) failed: %v", addr, err)
		}
		if node.MAC != want {
			t.Errorf("expected MAC %s for %s, got %q", want, addr, node.MAC)
		}
	}
}

func TestMACLookupsAreBounded(t *testing.T) {
	store := newTestStore(t)
	target, _ := NewTarget("8.8.8.8")
	macs := &deadlineMACs{}
	o := New(Config{ProbeTimeout: time.Second}, store, homeProbes(&fakePath{}), macs, &fakeScanner{}, target)

	if _, err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if macs.bounded == 0 {
		t.Error("expected MAC lookups to run")
	}
	if macs.unbounded != 0 {
		t.Errorf("expected every MAC lookup to carry a deadline, %d did not", macs.unbounded)
	}
}

func TestFailedReputationKeepsKnownLabel(t *testing.T) {
	store := newTestStore(t)
	path := &fakePath{hops: []string{"10.0.0.1", "72.14.0.1"}}
	probes := homeProbes(path)
	reputation := fakeReputation{"72.14.0.1": "AS15169 (GOOGLE)"}
	probes.Reputation = reputation
	o := newTestOrchestrator(t, store, probes, &fakeScanner{})

	if _, err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}
	delete(reputation, "72.14.0.1")
	if _, err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("second cycle failed: %v", err)
	}

	node, err := store.GetNode("72.14.0.1")
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if node.Label != "AS15169 (GOOGLE)" {
		t.Errorf("expected label to survive a failed lookup, got %q", node.Label)
	}
}

func TestRunRecoversFromPanics(t *testing.T) {
	store := newTestStore(t)
	probes := homeProbes(&fakePath{})
	probes.Gateway = panicGateway{}
	o := newTestOrchestrator(t, store, probes, &fakeScanner{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to survive panics and stop with its context")
	}
}

func TestReplayRestoresRecordedPaths(t *testing.T) {
	store := newTestStore(t)
	record := domain.PathRecord{
		Target:  "8.8.8.8",
		Gateway: "192.168.1.1",
		Hops: []domain.PathHop{
			{Address: "10.0.0.1", Label: "private network"},
			{Address: domain.PathPlaceholder},
			{Address: "72.14.0.1", Label: "AS15169 (GOOGLE)"},
		},
		ObservedAt: time.Now().Add(-time.Minute),
	}
	if err := store.RecordPath(context.Background(), record); err != nil {
		t.Fatalf("RecordPath failed: %v", err)
	}

	o := newTestOrchestrator(t, store, Probes{}, nil)
	n, err := o.Replay(context.Background())
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 replayed path, got %d", n)
	}

	snap := store.Snapshot(topology.Filter{})
	if !snap.HasEdge("192.168.1.1", "10.0.0.1") || !snap.HasEdge("10.0.0.1", "72.14.0.1") {
		t.Errorf("expected replayed hop chain, got %d edges", len(snap.Edges))
	}
	hop, ok := snap.Node("72.14.0.1")
	if !ok || hop.Label != "AS15169 (GOOGLE)" {
		t.Errorf("expected replayed hop label, got %+v", hop)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
