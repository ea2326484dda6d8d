// Package service implements the query and control surface over the
// topology.
//
// ControlService is the only entry point the HTTP layer uses. It reads
// snapshots and single nodes from the topology store, runs manual port
// scans and records their results, changes the path-discovery target, and
// exposes recent traffic samples and the last cycle report.
//
// # Event System
//
// Mutations publish events on the EventBus, which the SSE hub fans out to
// connected clients. The orchestrator publishes through the same bus via
// EventBus.Publisher.
//
// # Errors
//
// Malformed input is reported as ErrInvalidInput before any state is
// touched. Store errors are passed through wrapped, so callers can test for
// topology.ErrNotFound and topology.ErrStorageUnavailable with errors.Is.
package service
