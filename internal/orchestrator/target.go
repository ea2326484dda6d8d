package orchestrator

import (
	"errors"
	"fmt"
	"sync"

	"visualinternet/internal/domain"
)

// ErrInvalidTarget rejects anything but a dotted-quad IPv4 literal
var ErrInvalidTarget = errors.New("invalid target")

// Target holds the external address that path discovery aims at
type Target struct {
	mu   sync.RWMutex
	addr string
}

// NewTarget creates a target holder
func NewTarget(addr string) (*Target, error) {
	if !domain.IsIPv4Literal(addr) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, addr)
	}
	return &Target{addr: addr}, nil
}

// Get returns the current target
func (t *Target) Get() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.addr
}

// Set replaces the target and returns the previous one. Invalid input
// leaves the target untouched.
func (t *Target) Set(addr string) (string, error) {
	if !domain.IsIPv4Literal(addr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTarget, addr)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.addr
	t.addr = addr
	return prev, nil
}
