package probe

import (
	"context"
	"fmt"
	"os"
	"strings"

	"visualinternet/internal/domain"
)

// ARPEntry is one resolved row of the neighbor table
type ARPEntry struct {
	Address string
	MAC     string
	Device  string
}

// NeighborProbe lists hosts in the kernel neighbor (ARP) table
type NeighborProbe struct {
	ARPPath string
	Runner  Runner
}

// NewNeighborProbe creates a neighbor probe reading /proc/net/arp
func NewNeighborProbe(runner Runner) *NeighborProbe {
	return &NeighborProbe{ARPPath: "/proc/net/arp", Runner: runner}
}

// Entries returns the resolved neighbor table
func (p *NeighborProbe) Entries(ctx context.Context) ([]ARPEntry, error) {
	if data, err := os.ReadFile(p.ARPPath); err == nil {
		return ParseProcARP(string(data)), nil
	}

	if p.Runner == nil {
		return nil, fmt.Errorf("%w: neighbor table not readable", ErrUnavailable)
	}
	out, err := p.Runner.Output(ctx, "arp", "-an")
	if err != nil {
		return nil, err
	}
	return ParseARPCommand(out), nil
}

// Neighbors returns the addresses of observed local hosts
func (p *NeighborProbe) Neighbors(ctx context.Context) ([]string, error) {
	entries, err := p.Entries(ctx)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(entries))
	for _, e := range entries {
		addrs = append(addrs, e.Address)
	}
	return addrs, nil
}

// Lookup returns the hardware address for addr. It satisfies
// addrcache.LookupFunc.
func (p *NeighborProbe) Lookup(ctx context.Context, addr string) (string, error) {
	entries, err := p.Entries(ctx)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Address == addr {
			return e.MAC, nil
		}
	}
	return "", fmt.Errorf("%w: no neighbor entry for %s", ErrUnavailable, addr)
}

// ParseProcARP parses /proc/net/arp, skipping incomplete entries:
//
//	IP address       HW type     Flags       HW address            Mask     Device
//	192.168.1.1      0x1         0x2         aa:bb:cc:dd:ee:ff     *        eth0
func ParseProcARP(data string) []ARPEntry {
	var entries []ARPEntry
	lines := strings.Split(data, "\n")
	if len(lines) < 2 {
		return entries
	}
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		if fields[2] == "0x0" || !usableMAC(fields[3]) || !domain.IsIPv4Literal(fields[0]) {
			continue
		}
		entries = append(entries, ARPEntry{
			Address: fields[0],
			MAC:     strings.ToLower(fields[3]),
			Device:  fields[5],
		})
	}
	return entries
}

// ParseARPCommand parses BSD-style `arp -an` output:
//
//	? (192.168.1.1) at aa:bb:cc:dd:ee:ff [ether] on eth0
func ParseARPCommand(out string) []ARPEntry {
	var entries []ARPEntry
	for _, line := range strings.Split(out, "\n") {
		open := strings.Index(line, "(")
		closeIdx := strings.Index(line, ")")
		if open < 0 || closeIdx <= open {
			continue
		}
		addr := line[open+1 : closeIdx]
		if !domain.IsIPv4Literal(addr) {
			continue
		}
		fields := strings.Fields(line[closeIdx+1:])
		if len(fields) < 2 || fields[0] != "at" || !usableMAC(fields[1]) {
			continue
		}
		entry := ARPEntry{Address: addr, MAC: strings.ToLower(fields[1])}
		for i := 2; i+1 < len(fields); i++ {
			if fields[i] == "on" {
				entry.Device = fields[i+1]
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func usableMAC(mac string) bool {
	if strings.Count(mac, ":") != 5 {
		return false
	}
	return mac != "00:00:00:00:00:00"
}
