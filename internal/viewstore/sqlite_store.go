// Package viewstore persists saved viewer states using SQLite.
package viewstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/atlasmap-sc/spotview/internal/spot"
)

// ErrNotFound is returned for unknown view ids.
var ErrNotFound = errors.New("view not found")

// State is the restorable part of a session: coloring mode, genes, clip
// rectangle and pinned spot.
type State struct {
	Mode     string     `json:"mode"`
	Gene     string     `json:"gene,omitempty"`
	Genes    []string   `json:"genes,omitempty"`
	Gradient string     `json:"gradient,omitempty"`
	Clip     *spot.Clip `json:"clip,omitempty"`
	PinnedID string     `json:"pinned_id,omitempty"`
}

// View is a named saved State of one dataset.
type View struct {
	ID        string    `json:"id"`
	DatasetID string    `json:"dataset_id"`
	Name      string    `json:"name"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store provides persistent storage for saved views using SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore creates a new SQLite-based view store.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	logger.Info("view store opened", "path", dbPath)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS views (
		view_id TEXT PRIMARY KEY,
		dataset_id TEXT NOT NULL,
		name TEXT NOT NULL,
		state_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_views_dataset ON views(dataset_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateView inserts v, assigning an id and timestamps.
func (s *Store) CreateView(v *View) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stateJSON, err := json.Marshal(v.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Second)
	v.CreatedAt, v.UpdatedAt = now, now

	_, err = s.db.Exec(`
		INSERT INTO views (view_id, dataset_id, name, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		v.ID,
		v.DatasetID,
		v.Name,
		string(stateJSON),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert view: %w", err)
	}
	s.logger.Debug("view saved", "id", v.ID, "dataset", v.DatasetID, "name", v.Name)
	return nil
}

// GetView retrieves a view by id.
func (s *Store) GetView(id string) (*View, error) {
	row := s.db.QueryRow(`
		SELECT view_id, dataset_id, name, state_json, created_at, updated_at
		FROM views WHERE view_id = ?
	`, id)

	v, err := scanView(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// UpdateView replaces the name and state of an existing view.
func (s *Store) UpdateView(id, name string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	res, err := s.db.Exec(`
		UPDATE views SET name = ?, state_json = ?, updated_at = ?
		WHERE view_id = ?
	`, name, string(stateJSON), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// ListViews returns the views of a dataset, newest first.
func (s *Store) ListViews(datasetID string) ([]*View, error) {
	rows, err := s.db.Query(`
		SELECT view_id, dataset_id, name, state_json, created_at, updated_at
		FROM views WHERE dataset_id = ?
		ORDER BY created_at DESC, name ASC
	`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := []*View{}
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

// DeleteView deletes a view.
func (s *Store) DeleteView(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM views WHERE view_id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanView(row scanner) (*View, error) {
	var v View
	var stateJSON, createdAtStr, updatedAtStr string

	err := row.Scan(
		&v.ID,
		&v.DatasetID,
		&v.Name,
		&stateJSON,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(stateJSON), &v.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	v.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAtStr)
	return &v, nil
}
