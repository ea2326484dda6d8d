package domain

import (
	"strings"
	"time"
)

// PathPlaceholder marks a hop that did not answer
const PathPlaceholder = "*"

// PathHop is one entry of a recorded path discovery
type PathHop struct {
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}

// Responded reports whether the hop produced an address
func (h PathHop) Responded() bool {
	return IsResponsiveHop(h.Address)
}

// PathRecord is a historical path-discovery result toward a target
type PathRecord struct {
	Target     string    `json:"target"`
	Gateway    string    `json:"gateway"`
	Hops       []PathHop `json:"hops"`
	ObservedAt time.Time `json:"observed_at"`
}

// IsResponsiveHop reports whether a raw hop entry names a real address
func IsResponsiveHop(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" || addr == PathPlaceholder || strings.Trim(addr, "* ") == "" {
		return false
	}
	return IsKnown(addr)
}

// ResponsiveHops drops placeholder entries, keeping order
func ResponsiveHops(hops []string) []string {
	out := make([]string, 0, len(hops))
	for _, h := range hops {
		if IsResponsiveHop(h) {
			out = append(out, strings.TrimSpace(h))
		}
	}
	return out
}
