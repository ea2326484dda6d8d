package domain

import (
	"fmt"
	"strings"
	"time"
)

// EdgeKey identifies an edge by its ordered endpoints
type EdgeKey struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// String renders the key as "source->target"
func (k EdgeKey) String() string {
	return k.Source + "->" + k.Target
}

// ParseEdgeKey parses the "source->target" form produced by String
func ParseEdgeKey(s string) (EdgeKey, error) {
	source, target, ok := strings.Cut(s, "->")
	if !ok || source == "" || target == "" {
		return EdgeKey{}, fmt.Errorf("invalid edge key %q", s)
	}
	return EdgeKey{Source: source, Target: target}, nil
}

// Edge is a directed link between two observed addresses
type Edge struct {
	Source   string     `json:"source" yaml:"source"`
	Target   string     `json:"target" yaml:"target"`
	Label    string     `json:"label,omitempty" yaml:"label,omitempty"`
	LastSeen time.Time  `json:"last_seen" yaml:"last_seen"`
	Extra    Extensions `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// NewEdge creates an edge stamped with the given observation time
func NewEdge(source, target, label string, seen time.Time) Edge {
	return Edge{
		Source:   source,
		Target:   target,
		Label:    label,
		LastSeen: NormalizeTime(seen),
		Extra:    make(Extensions),
	}
}

// Key returns the identity of the edge
func (e Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Target: e.Target}
}

// SetExtension sets an extension fact on the edge
func (e *Edge) SetExtension(key string, value any) {
	if e.Extra == nil {
		e.Extra = make(Extensions)
	}
	e.Extra.Set(key, value)
}

// Merge folds incoming into e using the same policy as Node.Merge
func (e Edge) Merge(incoming Edge) Edge {
	merged := e.Clone()
	if merged.Source == "" && merged.Target == "" {
		merged.Source = incoming.Source
		merged.Target = incoming.Target
	}
	merged.Label = pick(merged.Label, incoming.Label)
	merged.LastSeen = MaxTime(e.LastSeen, incoming.LastSeen)
	merged.Extra = e.Extra.Union(incoming.Extra)
	return merged
}

// Clone returns a deep copy
func (e Edge) Clone() Edge {
	c := e
	c.Extra = e.Extra.Clone()
	return c
}

// Equal reports whether two edges hold the same stored state
func (e Edge) Equal(o Edge) bool {
	return e.Source == o.Source &&
		e.Target == o.Target &&
		e.Label == o.Label &&
		e.LastSeen.Equal(o.LastSeen) &&
		e.Extra.Equal(o.Extra)
}
