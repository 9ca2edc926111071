package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sprite-ai/triage/internal/errs"
	"github.com/sprite-ai/triage/internal/model"
)

// Registry indexes the repositories the server knows about.
type Registry struct {
	db  *sql.DB
	now Clock
}

// OpenRegistry opens (or creates) the sqlite registry at path.
func OpenRegistry(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	// A single connection keeps sqlite writes serialized.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS repos (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			name TEXT NOT NULL,
			last_accessed TEXT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_last_accessed ON repos(last_accessed)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &Registry{db: db, now: time.Now}, nil
}

// Register records repoPath and refreshes its access time.
func (r *Registry) Register(ctx context.Context, repoPath string) (model.RepoEntry, error) {
	id, err := RepoID(repoPath)
	if err != nil {
		return model.RepoEntry{}, err
	}
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return model.RepoEntry{}, fmt.Errorf("resolve repo path: %w", err)
	}
	entry := model.RepoEntry{
		ID:           id,
		Path:         abs,
		Name:         filepath.Base(abs),
		LastAccessed: r.now().UTC().Truncate(time.Second),
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO repos (id, path, name, last_accessed) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET path = excluded.path, name = excluded.name,
			last_accessed = excluded.last_accessed
	`, entry.ID, entry.Path, entry.Name, entry.LastAccessed.Format(time.RFC3339))
	if err != nil {
		return model.RepoEntry{}, fmt.Errorf("register repo: %w", err)
	}
	return entry, nil
}

// Get returns the repository with the given id.
func (r *Registry) Get(ctx context.Context, id string) (model.RepoEntry, error) {
	row := r.db.QueryRowContext(ctx, "SELECT id, path, name, last_accessed FROM repos WHERE id = ?", id)
	e, err := scanRepo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RepoEntry{}, errs.NotFoundf("registry.Get", "unknown repository %s", id)
	}
	return e, err
}

// List returns all repositories, most recently accessed first.
func (r *Registry) List(ctx context.Context) ([]model.RepoEntry, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, path, name, last_accessed FROM repos ORDER BY last_accessed DESC, name")
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer rows.Close()

	var out []model.RepoEntry
	for rows.Next() {
		e, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Remove forgets a repository. Stored reviews are left in place.
func (r *Registry) Remove(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM repos WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("registry.Remove", "unknown repository %s", id)
	}
	return nil
}

func (r *Registry) Close() error { return r.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRepo(s scanner) (model.RepoEntry, error) {
	var e model.RepoEntry
	var ts string
	if err := s.Scan(&e.ID, &e.Path, &e.Name, &ts); err != nil {
		return e, err
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return e, fmt.Errorf("parse last_accessed: %w", err)
	}
	e.LastAccessed = t
	return e, nil
}
