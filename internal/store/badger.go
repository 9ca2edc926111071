package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/sprite-ai/triage/internal/errs"
	"github.com/sprite-ai/triage/internal/model"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// GCInterval is how often the value log is compacted. Zero disables it.
	GCInterval time.Duration
	Logger     *slog.Logger
	Clock      Clock
}

// DefaultBadgerConfig returns durable settings for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true, GCInterval: 10 * time.Minute}
}

// InMemoryBadgerConfig returns settings for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// maxTxnRetries bounds retries of a compare-and-swap that lost a
// transaction race.
const maxTxnRetries = 5

// BadgerStore keeps documents in an embedded badger database under
// review/<repoID>/<key> and symbols/<repoID>/<key>.
type BadgerStore struct {
	db     *badger.DB
	now    Clock
	logger *slog.Logger
	stop   chan struct{}
	done   chan struct{}
}

// OpenBadger opens a badger-backed store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger store: path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
		opts = opts.WithLogger(nil)
	} else {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{db: db, now: cfg.Clock, logger: logger}
	if s.now == nil {
		s.now = time.Now
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC error", "error", err)
			}
		}
	}
}

func reviewKey(repoID, key string) []byte {
	return []byte("review/" + repoID + "/" + key)
}

func linksKey(repoID, key string) []byte {
	return []byte("symbols/" + repoID + "/" + key)
}

func getDoc(txn *badger.Txn, k []byte) (*model.ReviewState, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc model.ReviewState
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	})
	if err != nil {
		return nil, errs.Wrap(errs.Validation, "store.get", err)
	}
	if doc.Hunks == nil {
		doc.Hunks = map[string]model.HunkState{}
	}
	return &doc, nil
}

func (s *BadgerStore) Load(ctx context.Context, repoID, key string) (model.ReviewState, error) {
	if err := ctx.Err(); err != nil {
		return model.ReviewState{}, err
	}
	var doc *model.ReviewState
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		doc, err = getDoc(txn, reviewKey(repoID, key))
		return err
	})
	if err != nil {
		return model.ReviewState{}, err
	}
	if doc == nil {
		return model.ReviewState{}, errs.NotFoundf("store.Load", "no review for %s", key)
	}
	return *doc, nil
}

// Save performs the version check and the write in one transaction, so a
// concurrent writer either commits first and causes a conflict or loses the
// transaction race and is retried.
func (s *BadgerStore) Save(ctx context.Context, repoID string, doc model.ReviewState, expected *int64) (model.ReviewState, error) {
	k := reviewKey(repoID, doc.Comparison.Key)
	var out model.ReviewState

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return model.ReviewState{}, err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			current, err := getDoc(txn, k)
			if err != nil && !errs.Is(err, errs.Validation) {
				return err
			}
			next, err := prepare("store.Save", current, doc, expected, s.now())
			if err != nil {
				return err
			}
			data, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("encode review: %w", err)
			}
			out = next
			return txn.Set(k, data)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxTxnRetries {
			s.logger.Debug("retrying review save after txn conflict", "key", doc.Comparison.Key, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return model.ReviewState{}, err
		}
		return out, nil
	}
}

func (s *BadgerStore) Delete(ctx context.Context, repoID, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		k := reviewKey(repoID, key)
		if _, err := txn.Get(k); errors.Is(err, badger.ErrKeyNotFound) {
			return errs.NotFoundf("store.Delete", "no review for %s", key)
		} else if err != nil {
			return err
		}
		if err := txn.Delete(k); err != nil {
			return err
		}
		return txn.Delete(linksKey(repoID, key))
	})
}

func (s *BadgerStore) List(ctx context.Context, repoID string) ([]model.ReviewState, error) {
	var docs []model.ReviewState
	prefix := []byte("review/" + repoID + "/")
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var doc model.ReviewState
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			})
			if err != nil {
				s.logger.Warn("skipping unreadable review", "key", string(it.Item().Key()), "error", err)
				continue
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(docs)
	return docs, nil
}

func (s *BadgerStore) LoadLinks(ctx context.Context, repoID, key string) ([]model.SymbolLinkedHunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var links []model.SymbolLinkedHunk
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(linksKey(repoID, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &links); err != nil {
				return errs.Wrap(errs.Validation, "store.LoadLinks", err)
			}
			return nil
		})
	})
	return links, err
}

func (s *BadgerStore) SaveLinks(ctx context.Context, repoID, key string, links []model.SymbolLinkedHunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("encode symbol links: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(linksKey(repoID, key), data)
	})
}

// Close stops garbage collection and closes the database.
func (s *BadgerStore) Close() error {
	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop = nil
	}
	return s.db.Close()
}
