package topology

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"visualinternet/internal/domain"
	"visualinternet/internal/repository"
)

var (
	// ErrStorageUnavailable is returned when the backend stays unreachable
	// after every retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound is returned by point lookups for unknown ids
	ErrNotFound = errors.New("not found")

	// ErrMissingEndpoint rejects an edge whose endpoints are not known nodes
	ErrMissingEndpoint = errors.New("edge endpoint not found")

	// ErrInvalidRecord rejects records without an identity
	ErrInvalidRecord = errors.New("invalid record")
)

// Filter restricts a snapshot
type Filter struct {
	// Window keeps only records seen within this duration of now. Zero
	// means no restriction.
	Window time.Duration
}

// ApplyResult reports what a batch changed
type ApplyResult struct {
	NodesCreated int `json:"nodes_created"`
	NodesUpdated int `json:"nodes_updated"`
	EdgesCreated int `json:"edges_created"`
	EdgesUpdated int `json:"edges_updated"`
	Rejected     int `json:"rejected"`
}

// Changed reports whether anything was written
func (r ApplyResult) Changed() bool {
	return r.NodesCreated+r.NodesUpdated+r.EdgesCreated+r.EdgesUpdated > 0
}

// Store is the authoritative topology graph.
//
// Readers take a shared lock on the in-memory maps. Writers are serialized
// by persistMu: a batch is merged against memory, persisted in one backend
// transaction, and only then committed to memory under the exclusive lock,
// so memory never holds a record the backend does not.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]domain.Node
	edges map[domain.EdgeKey]domain.Edge

	persistMu sync.Mutex
	backend   repository.Backend
	retry     RetryPolicy
	now       func() time.Time
}

// Open loads the durable graph into memory. Exhausting the retry policy
// returns ErrStorageUnavailable, which callers treat as fatal.
func Open(ctx context.Context, backend repository.Backend, policy RetryPolicy) (*Store, error) {
	s := &Store{
		nodes:   make(map[string]domain.Node),
		edges:   make(map[domain.EdgeKey]domain.Edge),
		backend: backend,
		retry:   policy,
		now:     time.Now,
	}

	var (
		nodes []domain.Node
		edges []domain.Edge
	)
	err := policy.Execute(ctx, func(ctx context.Context) error {
		if err := backend.Ping(ctx); err != nil {
			return err
		}
		var err error
		if nodes, err = backend.LoadNodes(ctx); err != nil {
			return err
		}
		edges, err = backend.LoadEdges(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load topology: %v", ErrStorageUnavailable, err)
	}

	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	for _, e := range edges {
		if _, ok := s.nodes[e.Source]; !ok {
			log.Printf("Store: skipping stored edge %s with unknown source", e.Key())
			continue
		}
		if _, ok := s.nodes[e.Target]; !ok {
			log.Printf("Store: skipping stored edge %s with unknown target", e.Key())
			continue
		}
		s.edges[e.Key()] = e
	}

	log.Printf("Store: loaded %d nodes, %d edges", len(s.nodes), len(s.edges))
	return s, nil
}

// Apply merges a batch of nodes and edges and commits it atomically.
//
// Records without an identity and edges whose endpoints are neither stored
// nor part of the batch are rejected and counted. If the backend cannot be
// reached the whole batch is dropped and ErrStorageUnavailable is returned.
func (s *Store) Apply(ctx context.Context, frag *domain.GraphFragment) (ApplyResult, error) {
	var result ApplyResult
	if frag.Empty() {
		return result, nil
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	pendingNodes := make(map[string]domain.Node)
	nodeOrder := make([]string, 0, len(frag.Nodes))
	for _, incoming := range frag.Nodes {
		if incoming.ID == "" {
			result.Rejected++
			continue
		}
		incoming.LastSeen = domain.NormalizeTime(incoming.LastSeen)
		if merged, ok := pendingNodes[incoming.ID]; ok {
			pendingNodes[incoming.ID] = merged.Merge(incoming)
			continue
		}
		if existing, ok := s.nodes[incoming.ID]; ok {
			pendingNodes[incoming.ID] = existing.Merge(incoming)
		} else {
			created := incoming.Clone()
			if created.Color == "" {
				created.Color = created.Category.Color()
			}
			pendingNodes[incoming.ID] = domain.Node{}.Merge(created)
		}
		nodeOrder = append(nodeOrder, incoming.ID)
	}

	pendingEdges := make(map[domain.EdgeKey]domain.Edge)
	edgeOrder := make([]domain.EdgeKey, 0, len(frag.Edges))
	for _, incoming := range frag.Edges {
		if incoming.Source == "" || incoming.Target == "" {
			result.Rejected++
			continue
		}
		if !s.knownLocked(incoming.Source, pendingNodes) || !s.knownLocked(incoming.Target, pendingNodes) {
			log.Printf("Store: rejecting edge %s: %v", incoming.Key(), ErrMissingEndpoint)
			result.Rejected++
			continue
		}
		incoming.LastSeen = domain.NormalizeTime(incoming.LastSeen)
		key := incoming.Key()
		if merged, ok := pendingEdges[key]; ok {
			pendingEdges[key] = merged.Merge(incoming)
			continue
		}
		if existing, ok := s.edges[key]; ok {
			pendingEdges[key] = existing.Merge(incoming)
		} else {
			pendingEdges[key] = domain.Edge{}.Merge(incoming)
		}
		edgeOrder = append(edgeOrder, key)
	}

	var batch repository.Batch
	for _, id := range nodeOrder {
		merged := pendingNodes[id]
		existing, ok := s.nodes[id]
		switch {
		case !ok:
			result.NodesCreated++
		case existing.Equal(merged):
			continue
		default:
			result.NodesUpdated++
		}
		batch.Nodes = append(batch.Nodes, merged)
	}
	for _, key := range edgeOrder {
		merged := pendingEdges[key]
		existing, ok := s.edges[key]
		switch {
		case !ok:
			result.EdgesCreated++
		case existing.Equal(merged):
			continue
		default:
			result.EdgesUpdated++
		}
		batch.Edges = append(batch.Edges, merged)
	}
	s.mu.RUnlock()

	if err := s.commit(ctx, batch); err != nil {
		return ApplyResult{Rejected: result.Rejected}, err
	}
	return result, nil
}

// knownLocked reports whether id is stored or pending. Caller holds mu.
func (s *Store) knownLocked(id string, pending map[string]domain.Node) bool {
	if _, ok := pending[id]; ok {
		return true
	}
	_, ok := s.nodes[id]
	return ok
}

// commit persists the batch and then publishes it to readers.
// Caller holds persistMu.
func (s *Store) commit(ctx context.Context, batch repository.Batch) error {
	if batch.Empty() {
		return nil
	}

	err := s.retry.Execute(ctx, func(ctx context.Context) error {
		return s.backend.SaveBatch(ctx, batch)
	})
	if err != nil {
		log.Printf("Store: degraded write, dropped %d nodes and %d edges: %v",
			len(batch.Nodes), len(batch.Edges), err)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.mu.Lock()
	for _, n := range batch.Nodes {
		s.nodes[n.ID] = n
	}
	for _, e := range batch.Edges {
		s.edges[e.Key()] = e
	}
	s.mu.Unlock()
	return nil
}

// UpsertNode merges a single node
func (s *Store) UpsertNode(ctx context.Context, node domain.Node) error {
	frag := domain.NewGraphFragment()
	frag.AddNode(node)
	result, err := s.Apply(ctx, frag)
	if err != nil {
		return err
	}
	if result.Rejected > 0 {
		return fmt.Errorf("%w: node without id", ErrInvalidRecord)
	}
	return nil
}

// UpsertEdge merges a single edge. Both endpoints must already be stored.
func (s *Store) UpsertEdge(ctx context.Context, edge domain.Edge) error {
	frag := domain.NewGraphFragment()
	frag.AddEdge(edge)
	result, err := s.Apply(ctx, frag)
	if err != nil {
		return err
	}
	if result.Rejected > 0 {
		if edge.Source == "" || edge.Target == "" {
			return fmt.Errorf("%w: edge without endpoints", ErrInvalidRecord)
		}
		return fmt.Errorf("%w: %s", ErrMissingEndpoint, edge.Key())
	}
	return nil
}

// DropExtension removes one extension key from a node. Merges never remove
// keys, so this is the explicit invalidation path for cached facts.
func (s *Store) DropExtension(ctx context.Context, id, key string) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	existing, ok := s.nodes[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if !existing.Extra.Has(key) {
		return nil
	}

	updated := existing.Clone()
	delete(updated.Extra, key)
	return s.commit(ctx, repository.Batch{Nodes: []domain.Node{updated}})
}

// GetNode returns a copy of the node with the given id
func (s *Store) GetNode(id string) (domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return domain.Node{}, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	return node.Clone(), nil
}

// Snapshot returns a consistent copy of the graph. An edge is included only
// when both of its endpoints are included.
func (s *Store) Snapshot(filter Filter) domain.Snapshot {
	now := s.now()
	var cutoff time.Time
	if filter.Window > 0 {
		cutoff = now.Add(-filter.Window)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := domain.Snapshot{
		Nodes:   make([]domain.Node, 0, len(s.nodes)),
		Edges:   make([]domain.Edge, 0, len(s.edges)),
		TakenAt: domain.NormalizeTime(now),
	}
	included := make(map[string]bool, len(s.nodes))
	for id, n := range s.nodes {
		if !cutoff.IsZero() && n.LastSeen.Before(cutoff) {
			continue
		}
		included[id] = true
		snap.Nodes = append(snap.Nodes, n.Clone())
	}
	for _, e := range s.edges {
		if !included[e.Source] || !included[e.Target] {
			continue
		}
		if !cutoff.IsZero() && e.LastSeen.Before(cutoff) {
			continue
		}
		snap.Edges = append(snap.Edges, e.Clone())
	}

	snap.Sort()
	return snap
}

// Counts returns the number of stored nodes and edges
func (s *Store) Counts() (nodes, edges int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes), len(s.edges)
}

// RecordPath appends a path discovery to durable history
func (s *Store) RecordPath(ctx context.Context, record domain.PathRecord) error {
	record.ObservedAt = domain.NormalizeTime(record.ObservedAt)
	err := s.retry.Execute(ctx, func(ctx context.Context) error {
		return s.backend.AppendPath(ctx, record)
	})
	if err != nil {
		log.Printf("Store: degraded write, dropped path record for %s: %v", record.Target, err)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// LatestPaths returns the most recent recorded path per target
func (s *Store) LatestPaths(ctx context.Context) ([]domain.PathRecord, error) {
	var records []domain.PathRecord
	err := s.retry.Execute(ctx, func(ctx context.Context) error {
		var err error
		records, err = s.backend.LatestPaths(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return records, nil
}

// Ping checks that the backend is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close releases the backend
func (s *Store) Close() error {
	return s.backend.Close()
}
