package orchestrator

import (
	"net/netip"
	"time"

	"visualinternet/internal/domain"
)

// Node labels
const (
	LabelSelf           = "Explorer Ship"
	LabelGateway        = "Router/Gateway"
	LabelLocalDevice    = "Local Device"
	LabelExternalDevice = "External Device"
)

// Observation is everything one cycle learned, ready to become upserts
type Observation struct {
	Local      string
	Subnet     netip.Prefix
	PublicAddr string
	Gateway    string
	// GatewayPort is nil when the gateway port is neither known nor scanned
	GatewayPort *int
	Neighbors   []string
	MACs        map[string]string
	Target      string
	Hops        []domain.PathHop
	At          time.Time
}

// BuildFragment turns an observation into node and edge upserts.
//
// The gateway anchors every edge. Neighbors hang off the gateway, and the
// path toward the target is chained from the gateway, bridging over hops
// that did not answer. Nothing is emitted for placeholder hops.
func BuildFragment(obs Observation) *domain.GraphFragment {
	frag := domain.NewGraphFragment()
	gw := obs.Gateway
	if !domain.IsIPv4Literal(gw) {
		return frag
	}

	gateway := domain.NewNode(gw, domain.CategoryRouter, LabelGateway, obs.At)
	gateway.Role = "gateway"
	gateway.MAC = obs.MACs[gw]
	if obs.GatewayPort != nil {
		gateway.SetExtension(domain.ExtOpenExternalPort, *obs.GatewayPort)
	}
	frag.AddNode(gateway)

	local := ""
	if domain.IsIPv4Literal(obs.Local) && obs.Local != gw {
		local = obs.Local
		self := domain.NewNode(local, domain.CategorySelf, LabelSelf, obs.At)
		self.Role = "self"
		if domain.IsKnown(obs.PublicAddr) {
			self.SetExtension(domain.ExtPublicAddr, obs.PublicAddr)
		}
		frag.AddNode(self)
		frag.AddEdge(domain.NewEdge(local, gw, "", obs.At))
	}

	seen := map[string]bool{gw: true}
	if local != "" {
		seen[local] = true
	}
	for _, addr := range obs.Neighbors {
		if seen[addr] || !domain.IsIPv4Literal(addr) {
			continue
		}
		seen[addr] = true

		var node domain.Node
		if isLocal(addr, obs.Subnet) {
			node = domain.NewNode(addr, domain.CategoryLocalDevice, LabelLocalDevice, obs.At)
			node.MAC = obs.MACs[addr]
		} else {
			node = domain.NewNode(addr, domain.CategoryExternalDevice, LabelExternalDevice, obs.At)
		}
		frag.AddNode(node)
		frag.AddEdge(domain.NewEdge(gw, addr, "", obs.At))
	}

	prev := gw
	for i, hop := range obs.Hops {
		if !hop.Responded() {
			continue
		}
		addr := hop.Address
		if addr == gw || addr == prev || addr == local || !domain.IsIPv4Literal(addr) {
			continue
		}

		label := hop.Label
		if label == "" {
			label = domain.Unknown
		}
		node := domain.NewNode(addr, domain.CategoryExternalHop, label, obs.At)
		node.SetExtension(domain.ExtHopIndex, i+1)
		frag.AddNode(node)

		edge := domain.NewEdge(prev, addr, "", obs.At)
		if obs.Target != "" {
			edge.SetExtension(domain.ExtPathTarget, obs.Target)
		}
		frag.AddEdge(edge)
		prev = addr
	}

	return frag
}

// isLocal classifies a neighbor by subnet membership, or by address range
// when the subnet is not known
func isLocal(addr string, subnet netip.Prefix) bool {
	if subnet.IsValid() {
		return domain.InSubnet(addr, subnet)
	}
	return domain.IsLocallyRoutable(addr)
}
