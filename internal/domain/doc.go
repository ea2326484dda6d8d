// Package domain defines the core types of the topology engine.
//
// # Core Types
//
// Node is an observed network address. Its identity is the address string;
// it carries a label, a Category (self, router, local-device,
// external-device, external-hop), a display color, an optional hardware
// address, a role, a LastSeen timestamp and an open Extensions map.
//
// Edge is a directed link keyed by the ordered (source, target) pair.
//
// GraphFragment is a batch of upserts; Snapshot is a consistent read.
//
// # Merge Rules
//
// Node.Merge and Edge.Merge implement the store's upsert policy: non-empty
// incoming fields win, LastSeen never decreases, and Extensions are merged
// by key union with incoming values overriding.
//
// Nodes are never deleted.
package domain
