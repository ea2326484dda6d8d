// Package repository defines the durable persistence contract for the
// topology graph.
//
// The Backend interface is deliberately narrow: the topology store keeps the
// live graph in memory and only asks the backend to load everything at
// startup, persist merged batches, and keep a history of path discoveries.
// The actual implementation is in the sqlite subpackage.
//
// # Relations
//
//   - nodes, keyed by address
//   - edges, keyed by the ordered (source, target) pair
//   - path_history, an append-only log of path discoveries keyed by target
//
// # Testing
//
// The sqlite backend is tested against in-memory databases.
package repository
