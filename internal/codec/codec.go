// Package codec reads and writes topology snapshots in portable formats.
package codec

import (
	"fmt"
	"io"

	"visualinternet/internal/domain"
)

// Importer reads a snapshot from a format
type Importer interface {
	Parse(r io.Reader) (*domain.Snapshot, error)
	Format() string
}

// Exporter writes a snapshot in a format
type Exporter interface {
	Export(snap *domain.Snapshot, w io.Writer) error
	Format() string
}

// Codec both reads and writes one format
type Codec interface {
	Importer
	Exporter
}

// ForFormat returns the codec for "json" or "yaml"
func ForFormat(format string) (Codec, error) {
	switch format {
	case "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// normalize rebuilds extension maps so decoded values compare equal to
// values written through the store
func normalize(snap *domain.Snapshot) {
	for i := range snap.Nodes {
		snap.Nodes[i].Extra = rebuild(snap.Nodes[i].Extra)
		snap.Nodes[i].LastSeen = domain.NormalizeTime(snap.Nodes[i].LastSeen)
	}
	for i := range snap.Edges {
		snap.Edges[i].Extra = rebuild(snap.Edges[i].Extra)
		snap.Edges[i].LastSeen = domain.NormalizeTime(snap.Edges[i].LastSeen)
	}
}

func rebuild(in domain.Extensions) domain.Extensions {
	out := make(domain.Extensions, len(in))
	for k, v := range in {
		out.Set(k, v)
	}
	return out
}
