package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/sprite-ai/triage/internal/model"
)

// Change describes a review file that changed on disk. For deletions Key
// is the file's sanitized stem since the document is gone.
type Change struct {
	RepoID  string
	Key     string
	Version int64
	Deleted bool
}

// Watcher reports review files under a FileStore that change, including
// edits made by other processes.
type Watcher struct {
	store    *FileStore
	watcher  *fsnotify.Watcher
	callback func(Change)
	logger   *slog.Logger
	watched  map[string]bool
}

// NewWatcher creates a watcher for s. Call Start to begin watching.
func NewWatcher(s *FileStore, logger *slog.Logger, callback func(Change)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{store: s, watcher: w, callback: callback, logger: logger, watched: map[string]bool{}}, nil
}

// Start watches until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	reposDir := filepath.Join(w.store.Root(), "repos")
	w.add(reposDir)
	ids, _ := w.store.Repos()
	for _, id := range ids {
		w.addRepo(id)
	}

	w.logger.Debug("started watching review store", "root", w.store.Root())

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("review store watcher error", "error", err)

		case <-ctx.Done():
			w.logger.Debug("review store watcher stopping")
			return
		}
	}
}

func (w *Watcher) add(dir string) {
	if w.watched[dir] {
		return
	}
	if _, err := os.Stat(dir); err != nil {
		return
	}
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Debug("failed to watch directory", "path", dir, "error", err)
		return
	}
	w.watched[dir] = true
}

func (w *Watcher) addRepo(id string) {
	repoDir := w.store.RepoDir(id)
	w.add(repoDir)
	w.add(filepath.Join(repoDir, "reviews"))
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(filepath.Join(w.store.Root(), "repos"), event.Name)
	if err != nil {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")

	// New repository or reviews directory: start watching it.
	if event.Op&fsnotify.Create != 0 && len(parts) <= 2 {
		w.addRepo(parts[0])
		return
	}
	if len(parts) != 3 || parts[1] != "reviews" || !strings.HasSuffix(parts[2], ".json") {
		return
	}

	c := Change{RepoID: parts[0], Key: strings.TrimSuffix(parts[2], ".json")}
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if _, err := os.Stat(event.Name); err == nil {
			return
		}
		c.Deleted = true
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		data, err := os.ReadFile(event.Name)
		if err != nil {
			return
		}
		var doc model.ReviewState
		if err := json.Unmarshal(data, &doc); err != nil {
			// Partially written by a non-atomic editor; a later event follows.
			return
		}
		c.Key = doc.Comparison.Key
		c.Version = doc.Version
	default:
		return
	}

	w.logger.Debug("review changed on disk", "repo", c.RepoID, "key", c.Key, "version", c.Version)
	if w.callback != nil {
		w.callback(c)
	}
}

// Stop stops the watcher and releases its resources.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
