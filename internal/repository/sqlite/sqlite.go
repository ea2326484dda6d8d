package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"visualinternet/internal/domain"
	"visualinternet/internal/repository"

	_ "modernc.org/sqlite"
)

var _ repository.Backend = (*Repository)(nil)

// Repository implements repository.Backend using SQLite
type Repository struct {
	db *sql.DB
}

// New creates a new SQLite repository
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases alive
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func dsn(dbPath string) string {
	if dbPath == ":memory:" || strings.Contains(dbPath, "?") {
		return dbPath
	}
	return dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		color TEXT,
		mac TEXT,
		role TEXT,
		last_seen INTEGER NOT NULL DEFAULT 0,
		extra JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS edges (
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		label TEXT,
		last_seen INTEGER NOT NULL DEFAULT 0,
		extra JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (source, target)
	);

	CREATE TABLE IF NOT EXISTS path_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT NOT NULL,
		gateway TEXT NOT NULL DEFAULT '',
		hops JSON NOT NULL,
		observed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target);
	CREATE INDEX IF NOT EXISTS idx_nodes_last_seen ON nodes(last_seen);
	CREATE INDEX IF NOT EXISTS idx_path_history_target ON path_history(target, id);
	`

	_, err := r.db.Exec(schema)
	return err
}

// LoadNodes returns every stored node
func (r *Repository) LoadNodes(ctx context.Context) ([]domain.Node, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []domain.Node
	for rows.Next() {
		var row nodeRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		node, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", row.ID, err)
		}
		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return nodes, nil
}

// LoadEdges returns every stored edge
func (r *Repository) LoadEdges(ctx context.Context) ([]domain.Edge, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+edgeColumns+` FROM edges ORDER BY source, target`)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []domain.Edge
	for rows.Next() {
		var row edgeRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edge, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("edge %s->%s: %w", row.Source, row.Target, err)
		}
		edges = append(edges, edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}

	return edges, nil
}

// SaveBatch upserts every node and edge of the batch in one transaction.
// Nodes are written before edges; last_seen never moves backwards.
func (r *Repository) SaveBatch(ctx context.Context, batch repository.Batch) error {
	if batch.Empty() {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, node := range batch.Nodes {
		args, err := nodeInsertArgs(node)
		if err != nil {
			return fmt.Errorf("node %s: %w", node.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO nodes (`+nodeColumns+`, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET
				label = excluded.label,
				category = excluded.category,
				color = excluded.color,
				mac = excluded.mac,
				role = excluded.role,
				last_seen = MAX(nodes.last_seen, excluded.last_seen),
				extra = excluded.extra,
				updated_at = CURRENT_TIMESTAMP
		`, args...)
		if err != nil {
			return fmt.Errorf("failed to upsert node %s: %w", node.ID, err)
		}
	}

	for _, edge := range batch.Edges {
		args, err := edgeInsertArgs(edge)
		if err != nil {
			return fmt.Errorf("edge %s: %w", edge.Key(), err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO edges (`+edgeColumns+`, updated_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(source, target) DO UPDATE SET
				label = excluded.label,
				last_seen = MAX(edges.last_seen, excluded.last_seen),
				extra = excluded.extra,
				updated_at = CURRENT_TIMESTAMP
		`, args...)
		if err != nil {
			return fmt.Errorf("failed to upsert edge %s: %w", edge.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// AppendPath records one path discovery
func (r *Repository) AppendPath(ctx context.Context, record domain.PathRecord) error {
	hops := record.Hops
	if hops == nil {
		hops = []domain.PathHop{}
	}
	data, err := json.Marshal(hops)
	if err != nil {
		return fmt.Errorf("failed to marshal hops: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO path_history (target, gateway, hops, observed_at)
		VALUES (?, ?, ?, ?)
	`, record.Target, record.Gateway, string(data), timeToNanos(record.ObservedAt))
	if err != nil {
		return fmt.Errorf("failed to append path for %s: %w", record.Target, err)
	}

	return nil
}

// LatestPaths returns the most recent path record for every target
func (r *Repository) LatestPaths(ctx context.Context) ([]domain.PathRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.target, p.gateway, p.hops, p.observed_at
		FROM path_history p
		WHERE p.id = (SELECT MAX(id) FROM path_history WHERE target = p.target)
		ORDER BY p.target
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query path history: %w", err)
	}
	defer rows.Close()

	var records []domain.PathRecord
	for rows.Next() {
		var (
			record   domain.PathRecord
			hopsJSON string
			observed int64
		)
		if err := rows.Scan(&record.Target, &record.Gateway, &hopsJSON, &observed); err != nil {
			return nil, fmt.Errorf("failed to scan path record: %w", err)
		}
		if err := json.Unmarshal([]byte(hopsJSON), &record.Hops); err != nil {
			return nil, fmt.Errorf("unmarshal hops for %s: %w", record.Target, err)
		}
		record.ObservedAt = nanosToTime(observed)
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating path history: %w", err)
	}

	return records, nil
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}
