package domain

import (
	"sort"
	"time"
)

// Snapshot is a consistent point-in-time view of the topology
type Snapshot struct {
	Nodes   []Node    `json:"nodes" yaml:"nodes"`
	Edges   []Edge    `json:"edges" yaml:"edges"`
	TakenAt time.Time `json:"taken_at" yaml:"taken_at"`
}

// Sort orders nodes by id and edges by (source, target)
func (s *Snapshot) Sort() {
	sort.Slice(s.Nodes, func(i, j int) bool {
		return s.Nodes[i].ID < s.Nodes[j].ID
	})
	sort.Slice(s.Edges, func(i, j int) bool {
		if s.Edges[i].Source != s.Edges[j].Source {
			return s.Edges[i].Source < s.Edges[j].Source
		}
		return s.Edges[i].Target < s.Edges[j].Target
	})
}

// Node finds a node in the snapshot by id
func (s Snapshot) Node(id string) (Node, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// HasEdge reports whether the snapshot contains source->target
func (s Snapshot) HasEdge(source, target string) bool {
	for _, e := range s.Edges {
		if e.Source == source && e.Target == target {
			return true
		}
	}
	return false
}

// Fragment converts the snapshot into an upsert batch
func (s Snapshot) Fragment() *GraphFragment {
	return &GraphFragment{Nodes: s.Nodes, Edges: s.Edges}
}
