package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"visualinternet/internal/domain"
)

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeToNanos stores timestamps as unix nanoseconds so MAX() compares them
func timeToNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// nanosToTime is the inverse of timeToNanos
func nanosToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// ============================================================================
// JSON Marshaling Helpers
// ============================================================================

// unmarshalJSONField safely unmarshals JSON from nullable string into target
func unmarshalJSONField(ns sql.NullString, target interface{}) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), target)
}

// marshalToNull marshals interface to nullable JSON string
// Returns empty NullString for nil or empty maps
func marshalToNull(v domain.Extensions) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// ============================================================================
// Schema Evolution Guide
// ============================================================================
//
// To add a new column to the nodes table:
// 1. Add field to nodeRow struct (below)
// 2. Update scanArgs() - APPEND to end to match column order
// 3. Update nodeColumns constant - APPEND to end
// 4. Update toDomain() to map new field to domain.Node
// 5. Update nodeInsertArgs() and the upsert statement
// 6. Add a CREATE/ALTER step in sqlite.go migrate()
//
// CRITICAL: Column order must match between nodeColumns, scanArgs() and
// every SELECT using nodeColumns. Same pattern applies to edges.

// ============================================================================
// Node Row Scanner
// ============================================================================

// nodeRow holds all columns from a node query for scanning
type nodeRow struct {
	ID       string
	Label    string
	Category string
	Color    sql.NullString
	MAC      sql.NullString
	Role     sql.NullString
	LastSeen int64
	Extra    sql.NullString
}

// scanArgs returns pointers to all fields for sql.Scan()
// MUST match nodeColumns order exactly:
// id, label, category, color, mac, role, last_seen, extra
func (r *nodeRow) scanArgs() []interface{} {
	return []interface{}{
		&r.ID,       // 1
		&r.Label,    // 2
		&r.Category, // 3
		&r.Color,    // 4
		&r.MAC,      // 5
		&r.Role,     // 6
		&r.LastSeen, // 7
		&r.Extra,    // 8
	}
}

// toDomain converts the scanned row to a domain.Node
func (r *nodeRow) toDomain() (domain.Node, error) {
	node := domain.Node{
		ID:       r.ID,
		Label:    r.Label,
		Category: domain.Category(r.Category),
		Color:    nullToString(r.Color),
		MAC:      nullToString(r.MAC),
		Role:     nullToString(r.Role),
		LastSeen: nanosToTime(r.LastSeen),
		Extra:    make(domain.Extensions),
	}

	if err := unmarshalJSONField(r.Extra, &node.Extra); err != nil {
		return domain.Node{}, fmt.Errorf("unmarshal extra: %w", err)
	}

	return node, nil
}

// nodeColumns returns the SELECT column list for node queries
const nodeColumns = `id, label, category, color, mac, role, last_seen, extra`

// ============================================================================
// Edge Row Scanner
// ============================================================================

// edgeRow holds all columns from an edge query for scanning
type edgeRow struct {
	Source   string
	Target   string
	Label    sql.NullString
	LastSeen int64
	Extra    sql.NullString
}

// scanArgs returns pointers to all fields for sql.Scan()
// MUST match edgeColumns order exactly:
// source, target, label, last_seen, extra
func (r *edgeRow) scanArgs() []interface{} {
	return []interface{}{
		&r.Source,   // 1
		&r.Target,   // 2
		&r.Label,    // 3
		&r.LastSeen, // 4
		&r.Extra,    // 5
	}
}

// toDomain converts the scanned row to a domain.Edge
func (r *edgeRow) toDomain() (domain.Edge, error) {
	edge := domain.Edge{
		Source:   r.Source,
		Target:   r.Target,
		Label:    nullToString(r.Label),
		LastSeen: nanosToTime(r.LastSeen),
		Extra:    make(domain.Extensions),
	}

	if err := unmarshalJSONField(r.Extra, &edge.Extra); err != nil {
		return domain.Edge{}, fmt.Errorf("unmarshal extra: %w", err)
	}

	return edge, nil
}

// edgeColumns returns the SELECT column list for edge queries
const edgeColumns = `source, target, label, last_seen, extra`

// ============================================================================
// Write Helpers
// ============================================================================

// nodeInsertArgs prepares arguments for node UPSERT
// Returns: id, label, category, color, mac, role, last_seen, extra
func nodeInsertArgs(node domain.Node) ([]interface{}, error) {
	extraJSON, err := marshalToNull(node.Extra)
	if err != nil {
		return nil, fmt.Errorf("marshal extra: %w", err)
	}

	return []interface{}{
		node.ID,
		node.Label,
		string(node.Category),
		stringToNull(node.Color),
		stringToNull(node.MAC),
		stringToNull(node.Role),
		timeToNanos(node.LastSeen),
		extraJSON,
	}, nil
}

// edgeInsertArgs prepares arguments for edge UPSERT
// Returns: source, target, label, last_seen, extra
func edgeInsertArgs(edge domain.Edge) ([]interface{}, error) {
	extraJSON, err := marshalToNull(edge.Extra)
	if err != nil {
		return nil, fmt.Errorf("marshal extra: %w", err)
	}

	return []interface{}{
		edge.Source,
		edge.Target,
		stringToNull(edge.Label),
		timeToNanos(edge.LastSeen),
		extraJSON,
	}, nil
}
