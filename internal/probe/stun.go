package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

// STUNProbe queries STUN servers for the public mapped address
type STUNProbe struct {
	Servers []string
	Timeout time.Duration
}

// NewSTUNProbe creates a public address probe
func NewSTUNProbe(servers []string, timeout time.Duration) *STUNProbe {
	return &STUNProbe{Servers: servers, Timeout: timeout}
}

// PublicAddr returns the first mapped address any server reports.
// Note: The mapped address is for the STUN socket and may not match other sockets.
func (p *STUNProbe) PublicAddr(ctx context.Context) (string, error) {
	if len(p.Servers) == 0 {
		return "", fmt.Errorf("%w: no STUN servers configured", ErrUnavailable)
	}

	var lastErr error
	for _, server := range p.Servers {
		addr, err := probeServer(ctx, server, p.Timeout)
		if err != nil {
			lastErr = err
			continue
		}
		return addr, nil
	}
	return "", wrapContext(ctx, "stun", lastErr)
}

func probeServer(ctx context.Context, server string, timeout time.Duration) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", fmt.Errorf("empty STUN server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}

	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", err
	}

	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 1)

	go func() {
		var addr stun.XORMappedAddress
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				fail <- res.Error
				return
			}
			if err := addr.GetFrom(res.Message); err != nil {
				fail <- err
				return
			}
			result <- addr
		})
		if err != nil {
			fail <- err
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case addr := <-result:
		return addr.IP.String(), nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
