package reviewsync

import (
	"context"
	"errors"

	"github.com/sprite-ai/triage/internal/errs"
	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/store"
)

// Watch subscribes to server change notifications for the open repository
// and refreshes the view when another writer touches the open comparison.
// Echoes of this coordinator's own writes are skipped by version. Watch
// returns when ctx ends or the subscription closes.
func (c *Coordinator) Watch(ctx context.Context, sub Subscriber) error {
	c.mu.Lock()
	repoID := c.repoID
	c.mu.Unlock()

	events, err := sub.Subscribe(ctx, repoID)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errs.E(errs.Transport, "reviewsync.Watch", "subscription closed")
			}
			if !c.affects(ev) {
				continue
			}
			c.logger.Debug("remote change", "comparison", ev.Comparison, "version", ev.Version, "deleted", ev.Deleted)
			if _, err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrStale) {
				c.logger.Warn("refresh after remote change", "error", err)
			}
		}
	}
}

func (c *Coordinator) affects(ev model.StateChange) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.comparison.Key
	if key == "" {
		return false
	}
	if ev.Comparison != key && ev.Comparison != store.SanitizeKey(key) {
		return false
	}
	if ev.Repo != c.repo && ev.Repo != c.repoID {
		return false
	}
	if !ev.Deleted && c.loaded && ev.Version <= c.doc.Version {
		return false
	}
	return true
}
