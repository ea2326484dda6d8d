package probe

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"visualinternet/internal/domain"
)

// GatewayProbe finds the default IPv4 gateway
type GatewayProbe struct {
	RoutePath string
	Runner    Runner
}

// NewGatewayProbe creates a gateway probe reading /proc/net/route
func NewGatewayProbe(runner Runner) *GatewayProbe {
	return &GatewayProbe{RoutePath: "/proc/net/route", Runner: runner}
}

// Gateway returns the default gateway address
func (p *GatewayProbe) Gateway(ctx context.Context) (string, error) {
	if data, err := os.ReadFile(p.RoutePath); err == nil {
		if gw, err := ParseProcRoute(string(data)); err == nil {
			return gw, nil
		}
	}

	if p.Runner == nil {
		return "", fmt.Errorf("%w: no default route", ErrUnavailable)
	}
	out, err := p.Runner.Output(ctx, "ip", "-4", "route", "show", "default")
	if err != nil {
		return "", err
	}
	return ParseIPRoute(out)
}

// ParseProcRoute extracts the default gateway from /proc/net/route content.
// Addresses in that file are little-endian hex.
func ParseProcRoute(data string) (string, error) {
	lines := strings.Split(data, "\n")
	if len(lines) < 2 {
		return "", fmt.Errorf("%w: empty route table", ErrUnavailable)
	}

	// Skip header
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		// Default route has destination 00000000
		if fields[1] != "00000000" || fields[2] == "00000000" {
			continue
		}
		raw, err := hex.DecodeString(fields[2])
		if err != nil || len(raw) != 4 {
			continue
		}
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], binary.LittleEndian.Uint32(raw))
		return netip.AddrFrom4(b).String(), nil
	}

	return "", fmt.Errorf("%w: no default route", ErrUnavailable)
}

// ParseIPRoute extracts the gateway from `ip route show default` output:
//
//	default via 192.168.1.1 dev eth0 proto dhcp metric 100
func ParseIPRoute(out string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		for i := 0; i+1 < len(fields); i++ {
			if fields[0] == "default" && fields[i] == "via" && domain.IsIPv4Literal(fields[i+1]) {
				return fields[i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: no default route", ErrUnavailable)
}
