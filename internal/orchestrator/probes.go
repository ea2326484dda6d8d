package orchestrator

import (
	"context"

	"visualinternet/internal/domain"
	"visualinternet/internal/probe"
	"visualinternet/internal/topology"
)

// LocalProber reports this host's address and subnet
type LocalProber interface {
	Local(ctx context.Context) (probe.Identity, error)
}

// GatewayProber reports the default gateway
type GatewayProber interface {
	Gateway(ctx context.Context) (string, error)
}

// NeighborProber lists observed local addresses
type NeighborProber interface {
	Neighbors(ctx context.Context) ([]string, error)
}

// PathProber lists the hops toward a target, placeholders included
type PathProber interface {
	Path(ctx context.Context, target string) ([]string, error)
}

// ReputationLookup labels an address by the network that owns it
type ReputationLookup interface {
	Label(ctx context.Context, addr string) string
}

// PublicAddrProber reports the public mapped address of this host
type PublicAddrProber interface {
	PublicAddr(ctx context.Context) (string, error)
}

// MACResolver resolves hardware addresses, normally through addrcache
type MACResolver interface {
	Resolve(ctx context.Context, addr string) string
}

// Probes bundles the discovery collaborators. Public is optional.
type Probes struct {
	Local      LocalProber
	Gateway    GatewayProber
	Neighbors  NeighborProber
	Path       PathProber
	Reputation ReputationLookup
	Public     PublicAddrProber
}

// Store is the part of the topology store the orchestrator uses
type Store interface {
	GetNode(id string) (domain.Node, error)
	Apply(ctx context.Context, frag *domain.GraphFragment) (topology.ApplyResult, error)
	DropExtension(ctx context.Context, id, key string) error
	RecordPath(ctx context.Context, record domain.PathRecord) error
	LatestPaths(ctx context.Context) ([]domain.PathRecord, error)
}

var _ Store = (*topology.Store)(nil)
