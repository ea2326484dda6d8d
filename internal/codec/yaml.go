package codec

import (
	"fmt"
	"io"
	"time"

	"visualinternet/internal/domain"

	"gopkg.in/yaml.v3"
)

// YAMLCodec handles YAML import/export
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// yamlSnapshot is the document layout of an exported topology
type yamlSnapshot struct {
	TakenAt time.Time  `yaml:"taken_at"`
	Nodes   []yamlNode `yaml:"nodes"`
	Edges   []yamlEdge `yaml:"edges"`
}

type yamlNode struct {
	ID       string         `yaml:"id"`
	Label    string         `yaml:"label"`
	Category string         `yaml:"category"`
	MAC      string         `yaml:"mac,omitempty"`
	Role     string         `yaml:"role,omitempty"`
	LastSeen time.Time      `yaml:"last_seen"`
	Extra    map[string]any `yaml:"extra,omitempty"`
}

type yamlEdge struct {
	Source   string         `yaml:"source"`
	Target   string         `yaml:"target"`
	Label    string         `yaml:"label,omitempty"`
	LastSeen time.Time      `yaml:"last_seen"`
	Extra    map[string]any `yaml:"extra,omitempty"`
}

// Parse imports a snapshot from YAML
func (c *YAMLCodec) Parse(r io.Reader) (*domain.Snapshot, error) {
	var ys yamlSnapshot
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&ys); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	snap := &domain.Snapshot{
		TakenAt: ys.TakenAt,
		Nodes:   make([]domain.Node, 0, len(ys.Nodes)),
		Edges:   make([]domain.Edge, 0, len(ys.Edges)),
	}

	for _, yn := range ys.Nodes {
		category := domain.Category(yn.Category)
		if !category.Valid() {
			return nil, fmt.Errorf("node %s: unknown category %q", yn.ID, yn.Category)
		}
		node := domain.NewNode(yn.ID, category, yn.Label, yn.LastSeen)
		node.MAC = yn.MAC
		node.Role = yn.Role
		node.Extra = domain.Extensions(yn.Extra)
		snap.Nodes = append(snap.Nodes, node)
	}

	for _, ye := range ys.Edges {
		edge := domain.NewEdge(ye.Source, ye.Target, ye.Label, ye.LastSeen)
		edge.Extra = domain.Extensions(ye.Extra)
		snap.Edges = append(snap.Edges, edge)
	}

	normalize(snap)
	return snap, nil
}

// Export exports a snapshot to YAML
func (c *YAMLCodec) Export(snap *domain.Snapshot, w io.Writer) error {
	ys := yamlSnapshot{
		TakenAt: snap.TakenAt,
		Nodes:   make([]yamlNode, 0, len(snap.Nodes)),
		Edges:   make([]yamlEdge, 0, len(snap.Edges)),
	}

	for _, node := range snap.Nodes {
		ys.Nodes = append(ys.Nodes, yamlNode{
			ID:       node.ID,
			Label:    node.Label,
			Category: string(node.Category),
			MAC:      node.MAC,
			Role:     node.Role,
			LastSeen: node.LastSeen,
			Extra:    node.Extra,
		})
	}

	for _, edge := range snap.Edges {
		ys.Edges = append(ys.Edges, yamlEdge{
			Source:   edge.Source,
			Target:   edge.Target,
			Label:    edge.Label,
			LastSeen: edge.LastSeen,
			Extra:    edge.Extra,
		})
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(&ys); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	return nil
}
