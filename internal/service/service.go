package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"visualinternet/internal/codec"
	"visualinternet/internal/domain"
	"visualinternet/internal/orchestrator"
	"visualinternet/internal/portscan"
	"visualinternet/internal/topology"
	"visualinternet/internal/traffic"
)

// ErrInvalidInput rejects malformed addresses, ranges and formats
var ErrInvalidInput = errors.New("invalid input")

// SSHPort is checked for a host key after a manual scan
const SSHPort = 22

// HostKeyProber fingerprints an SSH server
type HostKeyProber interface {
	Fingerprint(ctx context.Context, addr string, port int) (string, error)
}

// CycleReporter exposes the orchestrator's bookkeeping
type CycleReporter interface {
	LastReport() (orchestrator.CycleReport, bool)
	InvalidateGatewayPort(ctx context.Context) error
}

// Dependencies wires a ControlService. HostKeys, Cycles and Traffic are
// optional.
type Dependencies struct {
	Store     *topology.Store
	Scanner   portscan.Scanner
	HostKeys  HostKeyProber
	Target    *orchestrator.Target
	Cycles    CycleReporter
	Traffic   *traffic.Ring
	EventBus  *EventBus
	ScanRange portscan.Range
}

// ControlService provides the query and control operations
type ControlService struct {
	store     *topology.Store
	scanner   portscan.Scanner
	hostKeys  HostKeyProber
	target    *orchestrator.Target
	cycles    CycleReporter
	traffic   *traffic.Ring
	eventBus  *EventBus
	scanRange portscan.Range
	now       func() time.Time
}

// NewControlService creates a new control service
func NewControlService(deps Dependencies) *ControlService {
	if deps.EventBus == nil {
		deps.EventBus = NewEventBus()
	}
	if deps.ScanRange == (portscan.Range{}) {
		deps.ScanRange = portscan.DefaultRange
	}
	return &ControlService{
		store:     deps.Store,
		scanner:   deps.Scanner,
		hostKeys:  deps.HostKeys,
		target:    deps.Target,
		cycles:    deps.Cycles,
		traffic:   deps.Traffic,
		eventBus:  deps.EventBus,
		scanRange: deps.ScanRange,
		now:       time.Now,
	}
}

// GetTopology returns a snapshot, optionally limited to records seen within
// window
func (s *ControlService) GetTopology(ctx context.Context, window time.Duration) (domain.Snapshot, error) {
	if window < 0 {
		return domain.Snapshot{}, fmt.Errorf("%w: negative window %v", ErrInvalidInput, window)
	}
	return s.store.Snapshot(topology.Filter{Window: window}), nil
}

// GetNode retrieves a single node by address
func (s *ControlService) GetNode(ctx context.Context, id string) (domain.Node, error) {
	return s.store.GetNode(id)
}

// ScanReport is the answer to a manual scan
type ScanReport struct {
	domain.PortScanResult
	SSHHostKey string `json:"ssh_host_key,omitempty"`
	// Persisted is false when the result could not be written to the store
	Persisted bool `json:"persisted"`
}

// ScanPorts probes addr over r, or the default range when r is nil, and
// records the open ports on the node for addr.
//
// The node is created when unknown. An existing node keeps its label and
// category; only the scan facts are merged in.
func (s *ControlService) ScanPorts(ctx context.Context, addr string, r *portscan.Range) (ScanReport, error) {
	if !domain.IsIPv4Literal(addr) {
		return ScanReport{}, fmt.Errorf("%w: address %q is not an IPv4 literal", ErrInvalidInput, addr)
	}
	scanRange := s.scanRange
	if r != nil {
		scanRange = *r
	}
	if err := scanRange.Validate(); err != nil {
		return ScanReport{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if s.scanner == nil {
		return ScanReport{}, errors.New("no port scanner configured")
	}

	log.Printf("Service: scanning %s ports %s", addr, scanRange)
	result, err := portscan.Result(ctx, s.scanner, addr, scanRange)
	if err != nil {
		return ScanReport{}, fmt.Errorf("scan %s: %w", addr, err)
	}
	report := ScanReport{PortScanResult: result}

	if result.Contains(SSHPort) && s.hostKeys != nil {
		fp, err := s.hostKeys.Fingerprint(ctx, addr, SSHPort)
		if err != nil {
			log.Printf("Service: ssh host key of %s unavailable: %v", addr, err)
		} else {
			report.SSHHostKey = fp
		}
	}

	node := s.scannedNode(addr, report)
	if err := s.store.UpsertNode(ctx, node); err != nil {
		log.Printf("Service: scan of %s not recorded: %v", addr, err)
	} else {
		report.Persisted = true
	}

	s.eventBus.Publish(Event{
		Type:    EventPortsScanned,
		Payload: report,
	})

	return report, nil
}

// scannedNode builds the upsert for a scan. Empty fields do not override
// an existing node during the merge.
func (s *ControlService) scannedNode(addr string, report ScanReport) domain.Node {
	var node domain.Node
	if _, err := s.store.GetNode(addr); err == nil {
		node = domain.Node{ID: addr, LastSeen: domain.NormalizeTime(report.ScannedAt), Extra: make(domain.Extensions)}
	} else if domain.IsLocallyRoutable(addr) {
		node = domain.NewNode(addr, domain.CategoryLocalDevice, orchestrator.LabelLocalDevice, report.ScannedAt)
	} else {
		node = domain.NewNode(addr, domain.CategoryExternalDevice, orchestrator.LabelExternalDevice, report.ScannedAt)
	}

	open := report.Open
	if open == nil {
		open = []int{}
	}
	node.SetExtension(domain.ExtOpenPorts, open)
	node.SetExtension(domain.ExtPortScan, report.Extension())
	if report.SSHHostKey != "" {
		node.SetExtension(domain.ExtSSHHostKey, report.SSHHostKey)
	}
	return node
}

// SetTarget changes the path-discovery target for subsequent cycles.
// Malformed input leaves the current target unchanged.
func (s *ControlService) SetTarget(ctx context.Context, addr string) error {
	prev, err := s.target.Set(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if prev == addr {
		return nil
	}

	log.Printf("Service: target changed %s -> %s", prev, addr)
	s.eventBus.Publish(Event{
		Type:    EventTargetChanged,
		Payload: map[string]string{"previous": prev, "target": addr},
	})
	return nil
}

// Target returns the current path-discovery target
func (s *ControlService) Target() string {
	return s.target.Get()
}

// RecentTraffic returns up to n of the newest traffic samples, oldest first
func (s *ControlService) RecentTraffic(n int) []domain.TrafficSample {
	if s.traffic == nil {
		return []domain.TrafficSample{}
	}
	return s.traffic.Recent(n)
}

// Status summarizes the engine
type Status struct {
	Target         string                    `json:"target"`
	Nodes          int                       `json:"nodes"`
	Edges          int                       `json:"edges"`
	StorageOK      bool                      `json:"storage_ok"`
	StorageError   string                    `json:"storage_error,omitempty"`
	TrafficSamples int                       `json:"traffic_samples"`
	LastCycle      *orchestrator.CycleReport `json:"last_cycle,omitempty"`
}

// Status reports counts, storage health and the last cycle
func (s *ControlService) Status(ctx context.Context) Status {
	nodes, edges := s.store.Counts()
	status := Status{
		Target:    s.target.Get(),
		Nodes:     nodes,
		Edges:     edges,
		StorageOK: true,
	}
	if err := s.store.Ping(ctx); err != nil {
		status.StorageOK = false
		status.StorageError = err.Error()
	}
	if s.traffic != nil {
		status.TrafficSamples = s.traffic.Len()
	}
	if s.cycles != nil {
		if report, ok := s.cycles.LastReport(); ok {
			status.LastCycle = &report
		}
	}
	return status
}

// InvalidateGatewayPort forgets the memoized gateway port so the next cycle
// rescans it
func (s *ControlService) InvalidateGatewayPort(ctx context.Context) error {
	if s.cycles == nil {
		return errors.New("no orchestrator configured")
	}
	if err := s.cycles.InvalidateGatewayPort(ctx); err != nil {
		return err
	}
	s.eventBus.Publish(Event{Type: EventPortMemoCleared})
	return nil
}

// Export writes the full snapshot in format
func (s *ControlService) Export(ctx context.Context, format string, w io.Writer) error {
	c, err := codec.ForFormat(format)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	snap := s.store.Snapshot(topology.Filter{})
	return c.Export(&snap, w)
}

// Import merges a previously exported snapshot into the store
func (s *ControlService) Import(ctx context.Context, format string, r io.Reader) (topology.ApplyResult, error) {
	c, err := codec.ForFormat(format)
	if err != nil {
		return topology.ApplyResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	snap, err := c.Parse(r)
	if err != nil {
		return topology.ApplyResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	result, err := s.store.Apply(ctx, snap.Fragment())
	if err != nil {
		return result, err
	}

	log.Printf("Service: imported %s snapshot: %+v", format, result)
	s.eventBus.Publish(Event{
		Type:    EventTopologyImport,
		Payload: result,
	})
	return result, nil
}
