package sqlite

import (
	"context"
	"database/sql"
	"reflect"
	"testing"
	"time"

	"visualinternet/internal/domain"
	"visualinternet/internal/repository"
)

// ============================================================================
// Test Helpers
// ============================================================================

// newTestRepo creates an in-memory SQLite repository for testing
func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

// assertNoError fails the test if err is not nil
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// assertEqual fails the test if expected != actual
func assertEqual(t *testing.T, expected, actual interface{}) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
}

var baseTime = time.Date(2026, 3, 14, 15, 9, 26, 535897000, time.UTC)

// ============================================================================
// Helper Function Tests
// ============================================================================

func TestNullToString(t *testing.T) {
	tests := []struct {
		name     string
		input    sql.NullString
		expected string
	}{
		{
			name:     "valid string",
			input:    sql.NullString{String: "test", Valid: true},
			expected: "test",
		},
		{
			name:     "invalid string",
			input:    sql.NullString{String: "test", Valid: false},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertEqual(t, tt.expected, nullToString(tt.input))
		})
	}
}

func TestTimeNanosRoundTrip(t *testing.T) {
	t.Run("zero time stays zero", func(t *testing.T) {
		if got := nanosToTime(timeToNanos(time.Time{})); !got.IsZero() {
			t.Errorf("expected zero time, got %v", got)
		}
	})

	t.Run("nanosecond precision survives", func(t *testing.T) {
		got := nanosToTime(timeToNanos(baseTime))
		if !got.Equal(baseTime) {
			t.Errorf("expected %v, got %v", baseTime, got)
		}
	})
}

// ============================================================================
// Node and Edge Tests
// ============================================================================

func TestSaveBatchAndLoad(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	gw := domain.NewNode("192.168.1.1", domain.CategoryRouter, "Router/Gateway", baseTime)
	gw.Role = "gateway"
	gw.SetExtension(domain.ExtOpenExternalPort, 80)
	hop := domain.NewNode("10.0.0.1", domain.CategoryExternalHop, "AS1 (EXAMPLE)", baseTime)
	edge := domain.NewEdge(gw.ID, hop.ID, "", baseTime)

	err := repo.SaveBatch(ctx, repository.Batch{
		Nodes: []domain.Node{gw, hop},
		Edges: []domain.Edge{edge},
	})
	assertNoError(t, err)

	nodes, err := repo.LoadNodes(ctx)
	assertNoError(t, err)
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}

	loaded := map[string]domain.Node{}
	for _, n := range nodes {
		loaded[n.ID] = n
	}
	if !loaded[gw.ID].Equal(gw) {
		t.Errorf("expected gateway %+v, got %+v", gw, loaded[gw.ID])
	}
	if !loaded[hop.ID].Equal(hop) {
		t.Errorf("expected hop %+v, got %+v", hop, loaded[hop.ID])
	}

	edges, err := repo.LoadEdges(ctx)
	assertNoError(t, err)
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	if !edges[0].Equal(edge) {
		t.Errorf("expected edge %+v, got %+v", edge, edges[0])
	}
}

func TestSaveBatchUpsert(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	t.Run("same ordered pair is stored once", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			err := repo.SaveBatch(ctx, repository.Batch{
				Edges: []domain.Edge{domain.NewEdge("a", "b", "", baseTime.Add(time.Duration(i)*time.Second))},
			})
			assertNoError(t, err)
		}

		edges, err := repo.LoadEdges(ctx)
		assertNoError(t, err)
		assertEqual(t, 1, len(edges))
		if !edges[0].LastSeen.Equal(baseTime.Add(2 * time.Second)) {
			t.Errorf("expected latest last_seen, got %v", edges[0].LastSeen)
		}
	})

	t.Run("last_seen never moves backwards", func(t *testing.T) {
		newer := domain.NewNode("192.168.1.5", domain.CategoryLocalDevice, "Local Device", baseTime.Add(time.Hour))
		older := domain.NewNode("192.168.1.5", domain.CategoryLocalDevice, "Local Device", baseTime)

		assertNoError(t, repo.SaveBatch(ctx, repository.Batch{Nodes: []domain.Node{newer}}))
		assertNoError(t, repo.SaveBatch(ctx, repository.Batch{Nodes: []domain.Node{older}}))

		nodes, err := repo.LoadNodes(ctx)
		assertNoError(t, err)
		for _, n := range nodes {
			if n.ID == newer.ID && !n.LastSeen.Equal(newer.LastSeen) {
				t.Errorf("expected last_seen %v, got %v", newer.LastSeen, n.LastSeen)
			}
		}
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		assertNoError(t, repo.SaveBatch(ctx, repository.Batch{}))
	})
}

func TestSaveBatchCancelledContext(t *testing.T) {
	repo := newTestRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.SaveBatch(ctx, repository.Batch{
		Nodes: []domain.Node{domain.NewNode("10.0.0.1", domain.CategoryExternalHop, "", baseTime)},
	})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}

	nodes, err := repo.LoadNodes(context.Background())
	assertNoError(t, err)
	assertEqual(t, 0, len(nodes))
}

// ============================================================================
// Path History Tests
// ============================================================================

func TestPathHistory(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	first := domain.PathRecord{
		Target:     "8.8.8.8",
		Gateway:    "192.168.1.1",
		Hops:       []domain.PathHop{{Address: "10.0.0.1"}},
		ObservedAt: baseTime,
	}
	second := domain.PathRecord{
		Target:  "8.8.8.8",
		Gateway: "192.168.1.1",
		Hops: []domain.PathHop{
			{Address: "10.0.0.1", Label: "private network"},
			{Address: "*"},
			{Address: "72.14.0.1", Label: "AS15169 (GOOGLE)"},
		},
		ObservedAt: baseTime.Add(10 * time.Second),
	}
	other := domain.PathRecord{Target: "1.1.1.1", Gateway: "192.168.1.1", ObservedAt: baseTime}

	assertNoError(t, repo.AppendPath(ctx, first))
	assertNoError(t, repo.AppendPath(ctx, second))
	assertNoError(t, repo.AppendPath(ctx, other))

	records, err := repo.LatestPaths(ctx)
	assertNoError(t, err)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	// ordered by target
	assertEqual(t, "1.1.1.1", records[0].Target)
	assertEqual(t, 0, len(records[0].Hops))

	latest := records[1]
	assertEqual(t, "8.8.8.8", latest.Target)
	assertEqual(t, second.Hops, latest.Hops)
	if !latest.ObservedAt.Equal(second.ObservedAt) {
		t.Errorf("expected observed_at %v, got %v", second.ObservedAt, latest.ObservedAt)
	}
}

func TestPing(t *testing.T) {
	repo := newTestRepo(t)
	assertNoError(t, repo.Ping(context.Background()))
}
