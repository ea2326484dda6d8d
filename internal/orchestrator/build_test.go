package orchestrator

import (
	"net/netip"
	"testing"
	"time"

	"visualinternet/internal/domain"
)

func hops(addrs ...string) []domain.PathHop {
	out := make([]domain.PathHop, len(addrs))
	for i, a := range addrs {
		out[i] = domain.PathHop{Address: a}
	}
	return out
}

func fragmentEdges(frag *domain.GraphFragment) map[string]bool {
	out := make(map[string]bool, len(frag.Edges))
	for _, e := range frag.Edges {
		out[e.Key().String()] = true
	}
	return out
}

func TestBuildFragment(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		obs       Observation
		wantNodes []string
		wantEdges []domain.EdgeKey
	}{
		{
			name: "placeholder hop is bridged",
			obs: Observation{
				Gateway: "192.168.1.1",
				Target:  "8.8.8.8",
				Hops:    hops("10.0.0.1", domain.PathPlaceholder, "72.14.0.1"),
				At:      now,
			},
			wantNodes: []string{"192.168.1.1", "10.0.0.1", "72.14.0.1"},
			wantEdges: []domain.EdgeKey{
				{Source: "192.168.1.1", Target: "10.0.0.1"},
				{Source: "10.0.0.1", Target: "72.14.0.1"},
			},
		},
		{
			name: "gateway listed as neighbor is not duplicated",
			obs: Observation{
				Gateway:   "192.168.1.1",
				Neighbors: []string{"192.168.1.1", "192.168.1.5", "192.168.1.5"},
				At:        now,
			},
			wantNodes: []string{"192.168.1.1", "192.168.1.5"},
			wantEdges: []domain.EdgeKey{
				{Source: "192.168.1.1", Target: "192.168.1.5"},
			},
		},
		{
			name: "known local address adds self",
			obs: Observation{
				Local:   "192.168.1.20",
				Gateway: "192.168.1.1",
				At:      now,
			},
			wantNodes: []string{"192.168.1.1", "192.168.1.20"},
			wantEdges: []domain.EdgeKey{
				{Source: "192.168.1.20", Target: "192.168.1.1"},
			},
		},
		{
			name: "gateway as first hop is skipped",
			obs: Observation{
				Gateway: "192.168.1.1",
				Hops:    hops("192.168.1.1", "10.0.0.1", "10.0.0.1"),
				At:      now,
			},
			wantNodes: []string{"192.168.1.1", "10.0.0.1"},
			wantEdges: []domain.EdgeKey{
				{Source: "192.168.1.1", Target: "10.0.0.1"},
			},
		},
		{
			name: "all hops unresponsive",
			obs: Observation{
				Gateway: "192.168.1.1",
				Hops:    hops(domain.PathPlaceholder, domain.PathPlaceholder),
				At:      now,
			},
			wantNodes: []string{"192.168.1.1"},
		},
		{
			name: "invalid gateway yields nothing",
			obs: Observation{
				Gateway:   domain.Unknown,
				Neighbors: []string{"192.168.1.5"},
				At:        now,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag := BuildFragment(tt.obs)

			if len(frag.Nodes) != len(tt.wantNodes) {
				t.Fatalf("expected %d nodes, got %d (%v)", len(tt.wantNodes), len(frag.Nodes), frag.NodeIDs())
			}
			ids := make(map[string]bool)
			for _, id := range frag.NodeIDs() {
				ids[id] = true
			}
			for _, id := range tt.wantNodes {
				if !ids[id] {
					t.Errorf("expected node %s", id)
				}
			}

			edges := fragmentEdges(frag)
			if len(edges) != len(tt.wantEdges) {
				t.Fatalf("expected %d edges, got %d", len(tt.wantEdges), len(edges))
			}
			for _, k := range tt.wantEdges {
				if !edges[k.String()] {
					t.Errorf("expected edge %s", k)
				}
			}
		})
	}
}

func TestBuildFragmentCategories(t *testing.T) {
	port := 80
	frag := BuildFragment(Observation{
		Local:       "192.168.1.20",
		Subnet:      netip.MustParsePrefix("192.168.1.0/24"),
		PublicAddr:  "203.0.113.7",
		Gateway:     "192.168.1.1",
		GatewayPort: &port,
		Neighbors:   []string{"192.168.1.5", "10.9.9.9"},
		MACs:        map[string]string{"192.168.1.5": "aa:bb:cc:dd:ee:05"},
		Target:      "8.8.8.8",
		Hops:        []domain.PathHop{{Address: "72.14.0.1", Label: "AS15169 (GOOGLE)"}},
		At:          time.Now(),
	})

	byID := make(map[string]domain.Node)
	for _, n := range frag.Nodes {
		byID[n.ID] = n
	}

	tests := []struct {
		id       string
		category domain.Category
		label    string
	}{
		{"192.168.1.1", domain.CategoryRouter, LabelGateway},
		{"192.168.1.20", domain.CategorySelf, LabelSelf},
		{"192.168.1.5", domain.CategoryLocalDevice, LabelLocalDevice},
		{"10.9.9.9", domain.CategoryExternalDevice, LabelExternalDevice},
		{"72.14.0.1", domain.CategoryExternalHop, "AS15169 (GOOGLE)"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			n, ok := byID[tt.id]
			if !ok {
				t.Fatalf("expected node %s", tt.id)
			}
			if n.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, n.Category)
			}
			if n.Label != tt.label {
				t.Errorf("expected label %q, got %q", tt.label, n.Label)
			}
			if n.Color != tt.category.Color() {
				t.Errorf("expected color %s, got %s", tt.category.Color(), n.Color)
			}
		})
	}

	if got, _ := byID["192.168.1.1"].Extra.Int(domain.ExtOpenExternalPort); got != 80 {
		t.Errorf("expected gateway port 80, got %d", got)
	}
	if got, _ := byID["192.168.1.20"].Extra.String(domain.ExtPublicAddr); got != "203.0.113.7" {
		t.Errorf("expected public address on self, got %q", got)
	}
	if byID["192.168.1.5"].MAC != "aa:bb:cc:dd:ee:05" {
		t.Errorf("expected MAC on local device, got %q", byID["192.168.1.5"].MAC)
	}
	if got, _ := byID["72.14.0.1"].Extra.Int(domain.ExtHopIndex); got != 1 {
		t.Errorf("expected hop index 1, got %d", got)
	}
}
