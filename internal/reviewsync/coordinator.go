package reviewsync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sprite-ai/triage/internal/errs"
	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/review"
	"github.com/sprite-ai/triage/internal/store"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithListener registers fn to receive a snapshot after every change to
// the view. fn runs on the goroutine that made the change and must not
// block.
func WithListener(fn func(Snapshot)) Option {
	return func(c *Coordinator) { c.listener = fn }
}

// Coordinator owns one client's view of a review document: the open
// comparison, its document and the inputs clustering needs. It is safe for
// concurrent use.
type Coordinator struct {
	transport Transport
	policy    Policy
	logger    *slog.Logger
	listener  func(Snapshot)

	reads  singleflight.Group
	writes keyedSemaphore

	mu         sync.Mutex
	state      ConnState
	err        error
	info       model.ServerInfo
	repo       string
	repoID     string
	comparison model.Comparison
	gen        uint64
	epoch      map[string]uint64
	pending    map[string]int
	inflight   int
	readCtx    context.Context
	readCancel context.CancelFunc
	doc        model.ReviewState
	loaded     bool
	hunks      []model.Hunk
	links      []model.SymbolLinkedHunk
	cursor     int
}

// Outcome is the result of Apply.
type Outcome struct {
	// State is the document the view holds after the write.
	State model.ReviewState
	// Discarded is set when a conflict dropped the local edit and State is
	// the server's current document.
	Discarded bool
}

// New returns a disconnected coordinator. A nil policy means
// OverwritePolicy.
func New(t Transport, p Policy, opts ...Option) *Coordinator {
	if p == nil {
		p = OverwritePolicy{}
	}
	c := &Coordinator{
		transport: t,
		policy:    p,
		logger:    slog.Default(),
		epoch:     make(map[string]uint64),
		pending:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the write policy.
func (c *Coordinator) Policy() Policy { return c.policy }

// State returns the connection state.
func (c *Coordinator) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the current view.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	return Snapshot{
		State:   c.state,
		Info:    c.info,
		Repo:    c.repo,
		Key:     c.comparison.Key,
		Doc:     c.doc.Clone(),
		Loaded:  c.loaded,
		Pending: c.pending[docKey(c.repo, c.comparison.Key)] > 0,
		Hunks:   slices.Clone(c.hunks),
		Links:   slices.Clone(c.links),
		Cursor:  c.cursor,
		Err:     c.err,
	}
}

func (c *Coordinator) notify() {
	if c.listener != nil {
		c.listener(c.Snapshot())
	}
}

// Connect performs the handshake: a health probe and a server info fetch,
// run concurrently. Failure leaves the coordinator in StateError until
// Connect is called again.
func (c *Coordinator) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateConnecting
	c.err = nil
	c.mu.Unlock()
	c.notify()

	var info model.ServerInfo
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.transport.Health(gctx)
	})
	g.Go(func() error {
		var err error
		info, err = c.transport.Info(gctx)
		return err
	})
	err := g.Wait()

	c.mu.Lock()
	if err != nil {
		c.state = StateError
		c.err = err
	} else {
		c.state = StateConnected
		c.info = info
	}
	c.mu.Unlock()
	c.notify()

	if err != nil {
		c.logger.Warn("handshake failed", "error", err)
		return fmt.Errorf("connect: %w", err)
	}
	c.logger.Debug("connected", "server", info.Hostname, "version", info.Version)
	return nil
}

// Disconnect cancels pending reads and marks the coordinator offline.
// Writes already issued run to completion.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	c.cancelReadsLocked()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.notify()
}

// Open switches the view to a comparison. Derived state (document, hunks,
// links, cursor) is reset before Open returns, and responses to requests
// issued for the previous comparison are ignored when they arrive.
func (c *Coordinator) Open(repo, key string) error {
	comp, err := model.ParseComparison(key)
	if err != nil {
		return errs.Wrap(errs.Validation, "reviewsync.Open", err)
	}

	c.mu.Lock()
	c.gen++
	c.cancelReadsLocked()
	c.repo = repo
	c.repoID = repoIDFor(repo)
	c.comparison = comp
	c.doc = model.NewReviewState(comp, time.Time{})
	c.loaded = false
	c.hunks = nil
	c.links = nil
	c.cursor = 0
	c.err = nil
	c.mu.Unlock()
	c.notify()
	return nil
}

// SetCursor records the reviewer's position in the hunk list.
func (c *Coordinator) SetCursor(i int) {
	c.mu.Lock()
	c.cursor = i
	c.mu.Unlock()
}

// Refresh fetches the server's document for the open comparison. A
// comparison that was never saved yields an empty document at version 0.
// ErrStale is returned, with the current view, when the response lost a
// race with Open or with a local write, or when a write is pending.
// Refresh, LoadHunks and Apply fail with ErrOffline unless connected.
func (c *Coordinator) Refresh(ctx context.Context) (model.ReviewState, error) {
	c.mu.Lock()
	if c.comparison.Key == "" {
		c.mu.Unlock()
		return model.ReviewState{}, ErrNoComparison
	}
	if !c.state.Online() {
		c.mu.Unlock()
		return model.ReviewState{}, c.offline("reviewsync.Refresh")
	}
	repo, comp, gen := c.repo, c.comparison, c.gen
	dk := docKey(repo, comp.Key)
	if c.pending[dk] > 0 {
		doc := c.doc.Clone()
		c.mu.Unlock()
		return doc, ErrStale
	}
	epoch := c.epoch[dk]
	readCtx := c.readContextLocked()
	c.beginSyncLocked()
	c.mu.Unlock()

	// The shared load runs on the coordinator's read context; each caller
	// only stops waiting when its own context ends.
	flight := fmt.Sprintf("%s#%d#%d", dk, gen, epoch)
	ch := c.reads.DoChan(flight, func() (any, error) {
		return c.load(readCtx, repo, comp)
	})
	var (
		v   any
		err error
	)
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		c.mu.Lock()
		c.endSyncLocked()
		doc := c.doc.Clone()
		c.mu.Unlock()
		c.notify()
		return doc, errs.Wrap(errs.Transport, "reviewsync.Refresh", ctx.Err())
	}

	c.mu.Lock()
	c.endSyncLocked()
	if gen != c.gen || epoch != c.epoch[dk] || c.pending[dk] > 0 {
		doc := c.doc.Clone()
		c.mu.Unlock()
		c.logger.Debug("dropping stale read", "comparison", comp.Key)
		return doc, ErrStale
	}
	if err != nil {
		c.err = err
		doc := c.doc.Clone()
		c.mu.Unlock()
		c.notify()
		return doc, err
	}
	doc := v.(model.ReviewState)
	c.doc = doc
	c.loaded = true
	c.err = nil
	c.mu.Unlock()
	c.notify()
	return doc.Clone(), nil
}

// LoadHunks fetches the hunks and symbol links of the open comparison.
func (c *Coordinator) LoadHunks(ctx context.Context) error {
	c.mu.Lock()
	if c.comparison.Key == "" {
		c.mu.Unlock()
		return ErrNoComparison
	}
	if !c.state.Online() {
		c.mu.Unlock()
		return c.offline("reviewsync.LoadHunks")
	}
	repo, key, gen := c.repo, c.comparison.Key, c.gen
	c.beginSyncLocked()
	c.mu.Unlock()

	var hunks []model.Hunk
	var links []model.SymbolLinkedHunk
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hunks, err = c.transport.Hunks(gctx, repo, key, nil)
		return err
	})
	g.Go(func() error {
		var err error
		links, err = c.transport.Symbols(gctx, repo, key)
		if errs.Is(err, errs.NotFound) {
			return nil
		}
		return err
	})
	err := g.Wait()

	c.mu.Lock()
	c.endSyncLocked()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrStale
	}
	if err != nil {
		c.err = err
	} else {
		c.hunks = hunks
		c.links = links
	}
	c.mu.Unlock()
	c.notify()
	return err
}

// Apply runs m against the current document, shows the result at once and
// writes it under the coordinator's policy. Writes for one document are
// serialized; a pending write cancels in-flight reads for the document.
//
// On success the view holds the stored document. On a conflict under a
// discarding policy the edit is dropped and the server's document is
// fetched and returned with Discarded set. Any other failure, timeouts
// included, restores the previous document and is returned.
//
// A write is never abandoned: if the view moves to another comparison
// while it is in flight it still completes, but its result is not applied.
func (c *Coordinator) Apply(ctx context.Context, m review.Mutator) (Outcome, error) {
	c.mu.Lock()
	if c.comparison.Key == "" {
		c.mu.Unlock()
		return Outcome{}, ErrNoComparison
	}
	if !c.state.Online() {
		c.mu.Unlock()
		return Outcome{}, c.offline("reviewsync.Apply")
	}
	repo, comp, gen := c.repo, c.comparison, c.gen
	dk := docKey(repo, comp.Key)
	c.mu.Unlock()

	release, err := c.writes.acquire(ctx, dk)
	if err != nil {
		return Outcome{}, errs.Wrap(errs.Transport, "reviewsync.Apply", err)
	}
	defer release()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return Outcome{}, ErrStale
	}
	if !c.state.Online() {
		c.mu.Unlock()
		return Outcome{}, c.offline("reviewsync.Apply")
	}
	expected := c.policy.Expected(c.doc)
	cmd := NewCommand(c.doc,
		m,
		func(ctx context.Context, doc model.ReviewState) (model.ReviewState, error) {
			return c.transport.Save(ctx, repo, doc, expected)
		},
		func(prev model.ReviewState) {
			c.mu.Lock()
			if gen == c.gen {
				c.doc = prev
			}
			c.mu.Unlock()
		},
	)
	next, err := cmd.Mutate()
	if err != nil {
		c.mu.Unlock()
		return Outcome{State: cmd.Previous()}, errs.Wrap(errs.Validation, "reviewsync.Apply", err)
	}
	c.doc = next
	c.pending[dk]++
	c.epoch[dk]++
	c.cancelReadsLocked()
	c.beginSyncLocked()
	c.mu.Unlock()
	c.notify()

	saved, err := cmd.Commit(ctx)

	c.mu.Lock()
	if c.pending[dk]--; c.pending[dk] <= 0 {
		delete(c.pending, dk)
	}
	c.endSyncLocked()
	current := gen == c.gen

	if err == nil {
		if current {
			c.doc = saved
			c.loaded = true
			c.err = nil
		}
		c.mu.Unlock()
		c.notify()
		return Outcome{State: saved}, nil
	}

	if conflict, ok := errs.AsConflict(err); ok && c.policy.DiscardOnConflict() {
		c.mu.Unlock()
		c.logger.Info("write conflicted, discarding local edit",
			"comparison", comp.Key, "expected", conflict.Expected, "found", conflict.Found)
		return c.refetch(ctx, repo, comp, gen, dk, cmd.Previous())
	}

	if current {
		c.err = err
	}
	c.mu.Unlock()
	prev := cmd.Rollback()
	c.notify()
	c.logger.Warn("write failed, rolled back", "comparison", comp.Key, "policy", c.policy.Name(), "error", err)
	return Outcome{State: prev}, err
}

// refetch replaces a discarded edit with the server's document. The edit
// stays visible until the fetch returns; if the fetch fails the view falls
// back to prev.
func (c *Coordinator) refetch(ctx context.Context, repo string, comp model.Comparison, gen uint64, dk string, prev model.ReviewState) (Outcome, error) {
	c.mu.Lock()
	c.epoch[dk]++
	c.beginSyncLocked()
	c.mu.Unlock()

	fresh, err := c.load(ctx, repo, comp)

	c.mu.Lock()
	c.endSyncLocked()
	current := gen == c.gen
	if err != nil {
		if current {
			c.doc = prev
			c.err = err
		}
		c.mu.Unlock()
		c.notify()
		return Outcome{State: prev.Clone(), Discarded: true}, err
	}
	if current {
		c.doc = fresh
		c.loaded = true
		c.err = nil
	}
	c.mu.Unlock()
	c.notify()
	return Outcome{State: fresh, Discarded: true}, nil
}

func (c *Coordinator) load(ctx context.Context, repo string, comp model.Comparison) (model.ReviewState, error) {
	doc, err := c.transport.Load(ctx, repo, comp.Key)
	if errs.Is(err, errs.NotFound) {
		return model.NewReviewState(comp, time.Time{}), nil
	}
	if err != nil {
		return model.ReviewState{}, err
	}
	if doc.Hunks == nil {
		doc.Hunks = map[string]model.HunkState{}
	}
	return doc, nil
}

// offline reports a request made while not connected. Callers hold c.mu.
func (c *Coordinator) offline(op string) error {
	return errs.Wrap(errs.Transport, op, fmt.Errorf("%w (%s)", ErrOffline, c.state))
}

func (c *Coordinator) readContextLocked() context.Context {
	if c.readCtx == nil {
		c.readCtx, c.readCancel = context.WithCancel(context.Background())
	}
	return c.readCtx
}

func (c *Coordinator) cancelReadsLocked() {
	if c.readCancel != nil {
		c.readCancel()
	}
	c.readCtx, c.readCancel = nil, nil
}

func (c *Coordinator) beginSyncLocked() {
	c.inflight++
	if c.state == StateConnected {
		c.state = StateSyncing
	}
}

func (c *Coordinator) endSyncLocked() {
	c.inflight--
	if c.inflight == 0 && c.state == StateSyncing {
		c.state = StateConnected
	}
}

func docKey(repo, key string) string { return repo + "\x00" + key }

// repoIDFor maps a repository path to the id the server reports in change
// notifications. Ids pass through unchanged.
func repoIDFor(repo string) string {
	if filepath.IsAbs(repo) {
		if id, err := store.RepoID(repo); err == nil {
			return id
		}
	}
	return repo
}

// keyedSemaphore serializes work per key and lets waiters give up.
type keyedSemaphore struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func (k *keyedSemaphore) acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	if k.slots == nil {
		k.slots = make(map[string]chan struct{})
	}
	slot, ok := k.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		k.slots[key] = slot
	}
	k.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
