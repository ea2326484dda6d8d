package domain

import (
	"fmt"
	"net/netip"
	"strings"
)

// Unknown is the sentinel for a datum no probe could provide
const Unknown = "unknown"

// IsKnown reports whether an address string carries a real value
func IsKnown(addr string) bool {
	addr = strings.TrimSpace(addr)
	return addr != "" && !strings.EqualFold(addr, Unknown)
}

// ParseIPv4 accepts only a plain dotted-quad IPv4 literal.
// IPv6, IPv4-mapped IPv6, zones, CIDR suffixes and leading zeros are rejected.
func ParseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IPv4 address %q: %w", s, err)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("invalid IPv4 address %q: not a dotted-quad literal", s)
	}
	return addr, nil
}

// IsIPv4Literal reports whether s is a well-formed dotted-quad IPv4 literal
func IsIPv4Literal(s string) bool {
	_, err := ParseIPv4(s)
	return err == nil
}

// IsLocallyRoutable reports whether addr is in a range that never leaves the
// local network: RFC1918, loopback, link-local or CGNAT shared space.
func IsLocallyRoutable(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
		return true
	}
	return sharedAddressSpace.Contains(ip)
}

var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// InSubnet reports whether addr falls inside prefix
func InSubnet(addr string, prefix netip.Prefix) bool {
	if !prefix.IsValid() {
		return false
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	return prefix.Contains(ip.Unmap())
}

// GuessSubnet infers the enclosing subnet of a private address the way most
// home networks are laid out: a /24 around the address.
func GuessSubnet(addr string) netip.Prefix {
	ip, err := netip.ParseAddr(addr)
	if err != nil || !ip.Is4() {
		return netip.Prefix{}
	}
	prefix, err := ip.Prefix(24)
	if err != nil {
		return netip.Prefix{}
	}
	return prefix
}
