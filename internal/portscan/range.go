package portscan

import (
	"errors"
	"fmt"
)

// ErrInvalidRange rejects a range before any probing happens
var ErrInvalidRange = errors.New("invalid port range")

const maxPort = 65535

// Range is an inclusive port interval
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// DefaultRange is used when a caller does not supply one
var DefaultRange = Range{Start: 20, End: 1024}

// Validate checks that 0 < Start <= End <= 65535
func (r Range) Validate() error {
	if r.Start <= 0 || r.End <= 0 {
		return fmt.Errorf("%w: bounds must be positive, got %d-%d", ErrInvalidRange, r.Start, r.End)
	}
	if r.Start > r.End {
		return fmt.Errorf("%w: start %d is after end %d", ErrInvalidRange, r.Start, r.End)
	}
	if r.End > maxPort {
		return fmt.Errorf("%w: end %d exceeds %d", ErrInvalidRange, r.End, maxPort)
	}
	return nil
}

// Size returns the number of ports in the range
func (r Range) Size() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Ports expands the range
func (r Range) Ports() []int {
	ports := make([]int, 0, r.Size())
	for p := r.Start; p <= r.End; p++ {
		ports = append(ports, p)
	}
	return ports
}

// Contains reports whether port is inside the range
func (r Range) Contains(port int) bool {
	return port >= r.Start && port <= r.End
}

// String renders the range in nmap port syntax
func (r Range) String() string {
	if r.Start == r.End {
		return fmt.Sprintf("%d", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}
