package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"lead_viewer/query"
)

var (
	// ErrNotFound is returned when a saved view does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a saved view name is already taken.
	ErrConflict = errors.New("view name already exists")
)

// Load run statuses.
const (
	LoadRunning = "running"
	LoadOK      = "ok"
	LoadFailed  = "failed"
)

// Store wraps SQLite access for saved views and load history.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS saved_views (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			spec_json TEXT NOT NULL,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS load_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT,
			checksum TEXT,
			records INTEGER DEFAULT 0,
			skipped INTEGER DEFAULT 0,
			status TEXT,
			last_error TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_load_runs_started ON load_runs(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// View is a named, persisted set of filter parameters.
type View struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Params    query.Params `json:"params"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// LoadRun records one attempt to load the data source.
type LoadRun struct {
	ID         int64      `json:"id"`
	Source     string     `json:"source"`
	Checksum   string     `json:"checksum"`
	Records    int        `json:"records"`
	Skipped    int        `json:"skipped"`
	Status     string     `json:"status"`
	LastError  *string    `json:"last_error"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// CreateView stores a new view under a fresh UUID.
func (s *Store) CreateView(ctx context.Context, name string, params query.Params, ts time.Time) (*View, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("view name is required")
	}
	var existing string
	switch err := s.db.QueryRowContext(ctx, `SELECT id FROM saved_views WHERE name=?`, name).Scan(&existing); {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", ErrConflict, name)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	specJSON, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	v := &View{ID: uuid.NewString(), Name: name, Params: params, CreatedAt: ts.UTC(), UpdatedAt: ts.UTC()}
	_, err = s.db.ExecContext(ctx, `INSERT INTO saved_views(id, name, spec_json, created_at, updated_at) VALUES(?,?,?,?,?)`,
		v.ID, v.Name, string(specJSON), v.CreatedAt, v.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("%w: %s", ErrConflict, name)
		}
		return nil, err
	}
	return v, nil
}

// GetView returns the view with id.
func (s *Store) GetView(ctx context.Context, id string) (*View, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, spec_json, created_at, updated_at FROM saved_views WHERE id=?`, id)
	v, err := scanView(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("view %s: %w", id, ErrNotFound)
	}
	return v, err
}

// ListViews returns all views ordered by name.
func (s *Store) ListViews(ctx context.Context) ([]View, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, spec_json, created_at, updated_at FROM saved_views ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	views := []View{}
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, rows.Err()
}

// DeleteView removes the view with id.
func (s *Store) DeleteView(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM saved_views WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("view %s: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanView(row scanner) (*View, error) {
	var v View
	var specJSON string
	if err := row.Scan(&v.ID, &v.Name, &specJSON, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(specJSON), &v.Params); err != nil {
		return nil, fmt.Errorf("decode view %s: %w", v.ID, err)
	}
	return &v, nil
}

// StartLoad records a running load of source and returns its id.
func (s *Store) StartLoad(ctx context.Context, source string, ts time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO load_runs(source, status, started_at) VALUES(?,?,?)`, source, LoadRunning, ts.UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FinishLoad closes load run id. A nil errMsg marks it ok.
func (s *Store) FinishLoad(ctx context.Context, id int64, checksum string, records, skipped int, errMsg *string, ts time.Time) error {
	status := LoadOK
	if errMsg != nil {
		status = LoadFailed
	}
	_, err := s.db.ExecContext(ctx, `UPDATE load_runs SET status=?, checksum=?, records=?, skipped=?, last_error=?, finished_at=? WHERE id=?`,
		status, checksum, records, skipped, errMsg, ts.UTC(), id)
	return err
}

// ListLoads returns the most recent load runs first.
func (s *Store) ListLoads(ctx context.Context, limit int) ([]LoadRun, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, source, checksum, records, skipped, status, last_error, started_at, finished_at FROM load_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs := []LoadRun{}
	for rows.Next() {
		var r LoadRun
		var checksum, errMsg sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Source, &checksum, &r.Records, &r.Skipped, &r.Status, &errMsg, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		r.Checksum = checksum.String
		if errMsg.Valid {
			r.LastError = &errMsg.String
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Health returns err if DB not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}
