package domain

import (
	"sort"
	"time"
)

// PortScanResult is the outcome of one active scan of an address
type PortScanResult struct {
	Address   string    `json:"address"`
	Start     int       `json:"start"`
	End       int       `json:"end"`
	Open      []int     `json:"open"`
	Strategy  string    `json:"strategy,omitempty"`
	ScannedAt time.Time `json:"scanned_at"`
}

// FirstOpen returns the lowest open port, or NoOpenPort
func (r PortScanResult) FirstOpen() int {
	if len(r.Open) == 0 {
		return NoOpenPort
	}
	ports := append([]int(nil), r.Open...)
	sort.Ints(ports)
	return ports[0]
}

// Contains reports whether port was found open
func (r PortScanResult) Contains(port int) bool {
	for _, p := range r.Open {
		if p == port {
			return true
		}
	}
	return false
}

// Extension renders the result for a node's extension map
func (r PortScanResult) Extension() map[string]any {
	open := r.Open
	if open == nil {
		open = []int{}
	}
	return map[string]any{
		"start":      r.Start,
		"end":        r.End,
		"open":       open,
		"strategy":   r.Strategy,
		"scanned_at": r.ScannedAt.UTC().Format(time.RFC3339),
	}
}
