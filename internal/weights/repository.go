package weights

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Repository persists performance windows and weight snapshots so agent trust
// survives process restarts. Windows are stored as msgpack blobs.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a weight repository on an open database connection
// and ensures the schema exists.
func NewRepository(db *sql.DB, log zerolog.Logger) (*Repository, error) {
	r := &Repository{
		db:  db,
		log: log.With().Str("repo", "weights").Logger(),
	}
	if err := r.createTables(); err != nil {
		return nil, err
	}
	return r, nil
}

// Open opens (or creates) a sqlite database at path and returns a repository
// backed by it.
func Open(path string, log zerolog.Logger) (*Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open weights database: %w", err)
	}
	return NewRepository(db, log)
}

// Close closes the underlying database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS performance_windows (
		agent_id   TEXT PRIMARY KEY,
		window     BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS weight_snapshots (
		agent_id   TEXT PRIMARY KEY,
		weight     REAL NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create weights schema: %w", err)
	}
	return nil
}

// SaveWindow upserts one agent's rolling return window
func (r *Repository) SaveWindow(agentID string, window []float64) error {
	blob, err := msgpack.Marshal(window)
	if err != nil {
		return fmt.Errorf("failed to encode performance window: %w", err)
	}
	_, err = r.db.Exec(`
		INSERT INTO performance_windows (agent_id, window, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET window = excluded.window, updated_at = excluded.updated_at`,
		agentID, blob, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save performance window: %w", err)
	}
	return nil
}

// LoadWindows returns all persisted rolling return windows keyed by agent id
func (r *Repository) LoadWindows() (map[string][]float64, error) {
	rows, err := r.db.Query("SELECT agent_id, window FROM performance_windows")
	if err != nil {
		return nil, fmt.Errorf("failed to query performance windows: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float64)
	for rows.Next() {
		var agentID string
		var blob []byte
		if err := rows.Scan(&agentID, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan performance window: %w", err)
		}
		var window []float64
		if err := msgpack.Unmarshal(blob, &window); err != nil {
			r.log.Warn().Err(err).Str("agent", agentID).Msg("Skipping corrupt performance window")
			continue
		}
		out[agentID] = window
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating performance windows: %w", err)
	}
	return out, nil
}

// SaveWeights replaces the persisted weight snapshot
func (r *Repository) SaveWeights(weights map[string]float64, at time.Time) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin weights transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM weight_snapshots"); err != nil {
		return fmt.Errorf("failed to clear weight snapshot: %w", err)
	}
	for agentID, w := range weights {
		if _, err := tx.Exec(
			"INSERT INTO weight_snapshots (agent_id, weight, updated_at) VALUES (?, ?, ?)",
			agentID, w, at.Unix()); err != nil {
			return fmt.Errorf("failed to insert weight for %s: %w", agentID, err)
		}
	}
	return tx.Commit()
}

// LoadWeights returns the persisted weight snapshot keyed by agent id
func (r *Repository) LoadWeights() (map[string]float64, error) {
	rows, err := r.db.Query("SELECT agent_id, weight FROM weight_snapshots")
	if err != nil {
		return nil, fmt.Errorf("failed to query weight snapshot: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var agentID string
		var w float64
		if err := rows.Scan(&agentID, &w); err != nil {
			return nil, fmt.Errorf("failed to scan weight: %w", err)
		}
		out[agentID] = w
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating weight snapshot: %w", err)
	}
	return out, nil
}
