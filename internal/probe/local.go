package probe

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"visualinternet/internal/domain"
)

// Identity is the address this host uses to reach the outside world
type Identity struct {
	Address string       `json:"address"`
	Subnet  netip.Prefix `json:"subnet"`
}

// LocalProbe finds the local address by asking the kernel which source it
// would pick for an external destination. No packet is sent.
type LocalProbe struct {
	// Via is the destination used for route selection
	Via string
}

// NewLocalProbe creates a local identity probe routed via 8.8.8.8
func NewLocalProbe() *LocalProbe {
	return &LocalProbe{Via: "8.8.8.8:53"}
}

// Local returns the local identity. The subnet comes from the interface
// holding the address, or a /24 guess if no interface matches.
func (p *LocalProbe) Local(ctx context.Context) (Identity, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", p.Via)
	if err != nil {
		return Identity{}, wrapContext(ctx, "local address", err)
	}
	defer conn.Close()

	udp, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || udp.IP == nil || udp.IP.IsUnspecified() {
		return Identity{}, fmt.Errorf("%w: no local address", ErrUnavailable)
	}
	addr, ok := netip.AddrFromSlice(udp.IP.To4())
	if !ok {
		return Identity{}, fmt.Errorf("%w: local address %s is not IPv4", ErrUnavailable, udp.IP)
	}

	id := Identity{Address: addr.String(), Subnet: interfaceSubnet(addr)}
	if !id.Subnet.IsValid() {
		id.Subnet = domain.GuessSubnet(id.Address)
	}
	return id, nil
}

// interfaceSubnet finds the prefix configured for addr on any interface
func interfaceSubnet(addr netip.Addr) netip.Prefix {
	ifaces, err := net.Interfaces()
	if err != nil {
		return netip.Prefix{}
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip, ok := netip.AddrFromSlice(ipnet.IP.To4())
			if !ok || ip != addr {
				continue
			}
			ones, _ := ipnet.Mask.Size()
			return netip.PrefixFrom(ip, ones).Masked()
		}
	}
	return netip.Prefix{}
}
