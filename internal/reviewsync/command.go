package reviewsync

import (
	"context"
	"errors"

	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/review"
)

// CommitFunc persists a document and returns the stored copy.
type CommitFunc func(ctx context.Context, doc model.ReviewState) (model.ReviewState, error)

// Command is one optimistic update: the document it started from, the
// transition, the write that confirms it and the rollback that undoes it.
type Command struct {
	previous model.ReviewState
	mutate   review.Mutator
	commit   CommitFunc
	rollback func(model.ReviewState)

	next    model.ReviewState
	mutated bool
}

// NewCommand builds a command over previous. rollback may be nil.
func NewCommand(previous model.ReviewState, m review.Mutator, commit CommitFunc, rollback func(model.ReviewState)) *Command {
	return &Command{previous: previous, mutate: m, commit: commit, rollback: rollback}
}

// Previous returns the document the command started from.
func (c *Command) Previous() model.ReviewState { return c.previous }

// Mutate computes the optimistic document. previous is left untouched.
func (c *Command) Mutate() (model.ReviewState, error) {
	next, err := c.mutate(c.previous.Clone())
	if err != nil {
		return c.previous, err
	}
	c.next = next
	c.mutated = true
	return next, nil
}

// Commit writes the optimistic document.
func (c *Command) Commit(ctx context.Context) (model.ReviewState, error) {
	if !c.mutated {
		return model.ReviewState{}, errors.New("reviewsync: commit before mutate")
	}
	return c.commit(ctx, c.next)
}

// Rollback restores the previous document and returns it.
func (c *Command) Rollback() model.ReviewState {
	if c.rollback != nil {
		c.rollback(c.previous)
	}
	return c.previous
}
