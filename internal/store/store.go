// Package store persists review documents and symbol links.
//
// Documents are opaque JSON values keyed by repository id and comparison
// key. Every accepted write bumps the version by exactly one; a write that
// names an expected version is accepted only when it equals the stored
// version (a missing document has version 0).
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sprite-ai/triage/internal/errs"
	"github.com/sprite-ai/triage/internal/model"
)

// Store is a review document backend.
type Store interface {
	// Load returns the document for key or a NotFound error.
	Load(ctx context.Context, repoID, key string) (model.ReviewState, error)
	// Save writes doc. A nil expected overwrites unconditionally; otherwise
	// the write fails with a Conflict error unless *expected matches the
	// stored version. The stored document is returned.
	Save(ctx context.Context, repoID string, doc model.ReviewState, expected *int64) (model.ReviewState, error)
	Delete(ctx context.Context, repoID, key string) error
	List(ctx context.Context, repoID string) ([]model.ReviewState, error)

	LoadLinks(ctx context.Context, repoID, key string) ([]model.SymbolLinkedHunk, error)
	SaveLinks(ctx context.Context, repoID, key string, links []model.SymbolLinkedHunk) error

	Close() error
}

// Clock returns the current time. Stores use it to stamp UpdatedAt.
type Clock func() time.Time

// RepoID derives the stable 16-hex-character id of a repository from its
// canonical path.
func RepoID(repoPath string) (string, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return "", fmt.Errorf("resolve repo path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:8]), nil
}

// SanitizeKey turns a comparison key into a safe file name.
func SanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, key)
}

// prepare computes the document a write will store. current is nil when
// no document exists.
func prepare(op string, current *model.ReviewState, doc model.ReviewState, expected *int64, now time.Time) (model.ReviewState, error) {
	if doc.Comparison.Key == "" {
		return doc, errs.Validationf(op, "document has no comparison key")
	}
	var found int64
	if current != nil {
		found = current.Version
	}
	if expected != nil && *expected != found {
		return doc, errs.ConflictError(op, *expected, found)
	}

	out := doc.Clone()
	out.Version = found + 1
	out.UpdatedAt = now.UTC()
	switch {
	case current != nil && !current.CreatedAt.IsZero():
		out.CreatedAt = current.CreatedAt
	case out.CreatedAt.IsZero():
		out.CreatedAt = out.UpdatedAt
	}
	return out, nil
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
