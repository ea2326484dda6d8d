package domain

import "time"

// Category classifies where a node sits relative to this host
type Category string

const (
	CategorySelf           Category = "self"
	CategoryRouter         Category = "router"
	CategoryLocalDevice    Category = "local-device"
	CategoryExternalDevice Category = "external-device"
	CategoryExternalHop    Category = "external-hop"
)

// Display colors, one per category
const (
	ColorSelf           = "blue"
	ColorRouter         = "orange"
	ColorLocalDevice    = "green"
	ColorExternalDevice = "purple"
	ColorExternalHop    = "red"
)

// Color returns the default display hint for the category
func (c Category) Color() string {
	switch c {
	case CategorySelf:
		return ColorSelf
	case CategoryRouter:
		return ColorRouter
	case CategoryLocalDevice:
		return ColorLocalDevice
	case CategoryExternalDevice:
		return ColorExternalDevice
	case CategoryExternalHop:
		return ColorExternalHop
	default:
		return ""
	}
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	return c.Color() != ""
}

// Node is a network address observed by discovery. Nodes are never deleted.
type Node struct {
	ID       string     `json:"id" yaml:"id"`
	Label    string     `json:"label" yaml:"label"`
	Category Category   `json:"category" yaml:"category"`
	Color    string     `json:"color,omitempty" yaml:"color,omitempty"`
	MAC      string     `json:"mac,omitempty" yaml:"mac,omitempty"`
	Role     string     `json:"role,omitempty" yaml:"role,omitempty"`
	LastSeen time.Time  `json:"last_seen" yaml:"last_seen"`
	Extra    Extensions `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// NewNode creates a node stamped with the given observation time
func NewNode(id string, category Category, label string, seen time.Time) Node {
	return Node{
		ID:       id,
		Label:    label,
		Category: category,
		Color:    category.Color(),
		LastSeen: NormalizeTime(seen),
		Extra:    make(Extensions),
	}
}

// SetExtension sets an extension fact on the node
func (n *Node) SetExtension(key string, value any) {
	if n.Extra == nil {
		n.Extra = make(Extensions)
	}
	n.Extra.Set(key, value)
}

// Extension gets an extension fact from the node
func (n Node) Extension(key string) (any, bool) {
	return n.Extra.Get(key)
}

// Merge folds incoming into n and returns the result.
//
// Non-empty incoming fields win, except that Unknown never replaces a known
// value. LastSeen takes the later of the two and Extra is a key union where
// incoming values override. Merging into the zero Node adopts incoming's ID.
func (n Node) Merge(incoming Node) Node {
	merged := n.Clone()
	if merged.ID == "" {
		merged.ID = incoming.ID
	}
	merged.Label = pick(merged.Label, incoming.Label)
	if incoming.Category != "" {
		merged.Category = incoming.Category
	}
	if incoming.Color != "" {
		merged.Color = incoming.Color
	}
	merged.MAC = pick(merged.MAC, incoming.MAC)
	merged.Role = pick(merged.Role, incoming.Role)
	merged.LastSeen = MaxTime(n.LastSeen, incoming.LastSeen)
	merged.Extra = n.Extra.Union(incoming.Extra)
	return merged
}

// pick returns in unless it is empty, or it is Unknown and cur is not
func pick(cur, in string) string {
	if in == "" {
		return cur
	}
	if !IsKnown(in) && cur != "" {
		return cur
	}
	return in
}

// Clone returns a deep copy safe to hand to readers
func (n Node) Clone() Node {
	c := n
	c.Extra = n.Extra.Clone()
	return c
}

// Equal reports whether two nodes hold the same stored state
func (n Node) Equal(o Node) bool {
	return n.ID == o.ID &&
		n.Label == o.Label &&
		n.Category == o.Category &&
		n.Color == o.Color &&
		n.MAC == o.MAC &&
		n.Role == o.Role &&
		n.LastSeen.Equal(o.LastSeen) &&
		n.Extra.Equal(o.Extra)
}

// NormalizeTime strips the monotonic reading and location so stored and
// reloaded timestamps compare equal.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.Round(0).UTC()
}

// MaxTime returns the later of a and b, normalized
func MaxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return NormalizeTime(b)
	}
	return NormalizeTime(a)
}
