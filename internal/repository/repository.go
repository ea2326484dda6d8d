package repository

import (
	"context"

	"visualinternet/internal/domain"
)

// Batch is a set of already-merged records persisted in one transaction
type Batch struct {
	Nodes []domain.Node
	Edges []domain.Edge
}

// Empty reports whether the batch carries nothing to write
func (b Batch) Empty() bool {
	return len(b.Nodes) == 0 && len(b.Edges) == 0
}

// Backend defines durable storage for the topology graph
type Backend interface {
	// Read operations
	LoadNodes(ctx context.Context) ([]domain.Node, error)
	LoadEdges(ctx context.Context) ([]domain.Edge, error)

	// SaveBatch writes every record of the batch atomically
	SaveBatch(ctx context.Context, batch Batch) error

	// Path history
	AppendPath(ctx context.Context, record domain.PathRecord) error
	LatestPaths(ctx context.Context) ([]domain.PathRecord, error)

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error

	// Close releases resources
	Close() error
}
