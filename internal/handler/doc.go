// Package handler implements the HTTP surface of the topology engine.
//
// TopologyHandler exposes the control service: the topology snapshot
// (optionally windowed by recency), single nodes, manual port scans, the
// path-discovery target, recent traffic samples, engine status, and JSON or
// YAML import/export. Register adds its routes to a ServeMux.
//
// Request bodies are decoded from JSON and validated with struct tags
// before they reach the service. Errors are returned as JSON with an
// {error, details} body: 400 for invalid input, 404 for unknown nodes, 503
// when storage is unavailable.
//
// Middleware provides panic recovery, CORS and request logging; Chain
// composes them around the mux.
package handler
