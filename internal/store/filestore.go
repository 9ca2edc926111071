package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/sprite-ai/triage/internal/errs"
	"github.com/sprite-ai/triage/internal/model"
)

// FileStore keeps one JSON file per document:
//
//	<root>/repos/<repoID>/reviews/<sanitized key>.json
//	<root>/repos/<repoID>/symbols/<sanitized key>.json
type FileStore struct {
	root   string
	now    Clock
	logger *slog.Logger
	locks  keyedMutex
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithClock overrides the time source.
func WithClock(c Clock) FileOption {
	return func(s *FileStore) { s.now = c }
}

// WithFileLogger sets the logger.
func WithFileLogger(l *slog.Logger) FileOption {
	return func(s *FileStore) { s.logger = l }
}

// NewFileStore returns a store rooted at root, creating it if needed.
func NewFileStore(root string, opts ...FileOption) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "repos"), 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	s := &FileStore{root: root, now: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Root returns the store's root directory.
func (s *FileStore) Root() string { return s.root }

// RepoDir returns the directory holding a repository's data.
func (s *FileStore) RepoDir(repoID string) string {
	return filepath.Join(s.root, "repos", repoID)
}

func (s *FileStore) reviewPath(repoID, key string) string {
	return filepath.Join(s.RepoDir(repoID), "reviews", SanitizeKey(key)+".json")
}

func (s *FileStore) linksPath(repoID, key string) string {
	return filepath.Join(s.RepoDir(repoID), "symbols", SanitizeKey(key)+".json")
}

func (s *FileStore) Load(ctx context.Context, repoID, key string) (model.ReviewState, error) {
	if err := ctx.Err(); err != nil {
		return model.ReviewState{}, err
	}
	doc, err := s.read(repoID, key)
	if err != nil {
		return model.ReviewState{}, err
	}
	if doc == nil {
		return model.ReviewState{}, errs.NotFoundf("store.Load", "no review for %s", key)
	}
	return *doc, nil
}

func (s *FileStore) read(repoID, key string) (*model.ReviewState, error) {
	data, err := os.ReadFile(s.reviewPath(repoID, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read review: %w", err)
	}
	var doc model.ReviewState
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(errs.Validation, "store.read", err)
	}
	if doc.Hunks == nil {
		doc.Hunks = map[string]model.HunkState{}
	}
	return &doc, nil
}

func (s *FileStore) Save(ctx context.Context, repoID string, doc model.ReviewState, expected *int64) (model.ReviewState, error) {
	if err := ctx.Err(); err != nil {
		return model.ReviewState{}, err
	}
	key := doc.Comparison.Key
	unlock := s.locks.lock(repoID + "/" + key)
	defer unlock()

	current, err := s.read(repoID, key)
	if err != nil && !errs.Is(err, errs.Validation) {
		return model.ReviewState{}, err
	}
	if err != nil {
		// An unreadable file is replaced by overwrites and treated as
		// version 0 for versioned writes.
		s.logger.Warn("replacing unreadable review", "repo", repoID, "key", key, "error", err)
		current = nil
	}

	out, err := prepare("store.Save", current, doc, expected, s.now())
	if err != nil {
		return model.ReviewState{}, err
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return model.ReviewState{}, fmt.Errorf("encode review: %w", err)
	}
	if err := writeAtomic(s.reviewPath(repoID, key), data); err != nil {
		return model.ReviewState{}, err
	}
	s.logger.Debug("saved review", "repo", repoID, "key", key, "version", out.Version)
	return out, nil
}

func (s *FileStore) Delete(ctx context.Context, repoID, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.lock(repoID + "/" + key)
	defer unlock()

	err := os.Remove(s.reviewPath(repoID, key))
	if errors.Is(err, fs.ErrNotExist) {
		return errs.NotFoundf("store.Delete", "no review for %s", key)
	}
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	_ = os.Remove(s.linksPath(repoID, key))
	return nil
}

// List returns every readable review for the repository, newest first.
func (s *FileStore) List(ctx context.Context, repoID string) ([]model.ReviewState, error) {
	dir := filepath.Join(s.RepoDir(repoID), "reviews")
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}

	var docs []model.ReviewState
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var doc model.ReviewState
		if err := json.Unmarshal(data, &doc); err != nil {
			s.logger.Warn("skipping unreadable review", "file", e.Name(), "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	sortNewestFirst(docs)
	return docs, nil
}

// Repos lists the repository ids that have stored data.
func (s *FileStore) Repos() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "repos"))
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func (s *FileStore) LoadLinks(ctx context.Context, repoID, key string) ([]model.SymbolLinkedHunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.linksPath(repoID, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read symbol links: %w", err)
	}
	var links []model.SymbolLinkedHunk
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, errs.Wrap(errs.Validation, "store.LoadLinks", err)
	}
	return links, nil
}

func (s *FileStore) SaveLinks(ctx context.Context, repoID, key string, links []model.SymbolLinkedHunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("encode symbol links: %w", err)
	}
	return writeAtomic(s.linksPath(repoID, key), data)
}

func (s *FileStore) Close() error { return nil }

// writeAtomic writes data to a temp file in the target directory and renames
// it into place so readers never see a partial document.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func sortNewestFirst(docs []model.ReviewState) {
	slices.SortStableFunc(docs, func(a, b model.ReviewState) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
}
