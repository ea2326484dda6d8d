package portscan

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"visualinternet/internal/domain"
)

// DialFunc opens a connection; net.Dialer.DialContext satisfies it
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ConnectScanner completes a TCP handshake per port
type ConnectScanner struct {
	// Timeout bounds the whole scan
	Timeout time.Duration
	// ConnectTimeout bounds each connection attempt
	ConnectTimeout time.Duration
	// MaxConcurrent limits parallel connection attempts
	MaxConcurrent int

	dial DialFunc
}

// NewConnectScanner creates a connect-probe scanner
func NewConnectScanner(timeout, connectTimeout time.Duration, maxConcurrent int) *ConnectScanner {
	return &ConnectScanner{
		Timeout:        timeout,
		ConnectTimeout: connectTimeout,
		MaxConcurrent:  maxConcurrent,
		dial:           (&net.Dialer{}).DialContext,
	}
}

// Name returns the strategy identifier
func (s *ConnectScanner) Name() string {
	return StrategyConnect
}

// Scan probes every port of r on addr. Ports still pending when the shared
// timeout expires are reported closed.
func (s *ConnectScanner) Scan(ctx context.Context, addr string, r Range) ([]int, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if _, err := domain.ParseIPv4(addr); err != nil {
		return nil, err
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	jobs := make(chan int, r.Size())
	for _, p := range r.Ports() {
		jobs <- p
	}
	close(jobs)

	workers := s.MaxConcurrent
	if workers <= 0 || workers > r.Size() {
		workers = r.Size()
	}

	open := make(map[int]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for port := range jobs {
				if scanCtx.Err() != nil {
					// drain remaining jobs without probing
					continue
				}
				if s.probePort(scanCtx, addr, port) {
					mu.Lock()
					open[port] = true
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan %s cancelled: %w", addr, err)
	}
	if scanCtx.Err() != nil {
		log.Printf("Scanner: connect scan of %s hit the %v timeout, returning partial result", addr, timeout)
	}

	return sortedPorts(open), nil
}

// probePort attempts to connect to a TCP port
func (s *ConnectScanner) probePort(ctx context.Context, ip string, port int) bool {
	timeout := s.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := s.dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	conn, err := dial(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
