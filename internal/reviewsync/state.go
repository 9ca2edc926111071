// Package reviewsync keeps a client's view of a review document in step
// with the companion server. Mutations are applied optimistically and
// either confirmed by a write or rolled back.
package reviewsync

import (
	"context"
	"errors"

	"github.com/sprite-ai/triage/internal/model"
)

// ConnState is the coordinator's connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateSyncing
	// StateError follows a failed handshake and persists until Connect is
	// called again.
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSyncing:
		return "syncing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Online reports whether requests can be issued.
func (s ConnState) Online() bool {
	return s == StateConnected || s == StateSyncing
}

var (
	// ErrStale is returned for a response that arrived after the view moved
	// on, either to another comparison or past a local write. The response
	// was not applied.
	ErrStale = errors.New("reviewsync: response superseded")

	// ErrNoComparison is returned when no comparison has been opened.
	ErrNoComparison = errors.New("reviewsync: no comparison open")

	// ErrOffline is returned when a request is issued while the
	// coordinator is not connected, including after a failed handshake.
	ErrOffline = errors.New("reviewsync: not connected")
)

// Transport is the server API the coordinator needs. Failures are
// *errs.Error values; a rejected versioned write is an errs.Conflict.
type Transport interface {
	Health(ctx context.Context) error
	Info(ctx context.Context) (model.ServerInfo, error)
	Load(ctx context.Context, repo, key string) (model.ReviewState, error)
	Save(ctx context.Context, repo string, doc model.ReviewState, expected *int64) (model.ReviewState, error)
	Hunks(ctx context.Context, repo, key string, filePaths []string) ([]model.Hunk, error)
	Symbols(ctx context.Context, repo, key string) ([]model.SymbolLinkedHunk, error)
}

// Subscriber streams server-side state changes.
type Subscriber interface {
	Subscribe(ctx context.Context, repo string) (<-chan model.StateChange, error)
}

// Snapshot is a consistent copy of the coordinator's view.
type Snapshot struct {
	State ConnState
	Info  model.ServerInfo
	Repo  string
	Key   string
	// Doc is the local document, including an optimistic edit while a
	// write is pending.
	Doc     model.ReviewState
	Loaded  bool
	Pending bool
	Hunks   []model.Hunk
	Links   []model.SymbolLinkedHunk
	Cursor  int
	Err     error
}
