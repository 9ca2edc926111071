package reviewsync

import "github.com/sprite-ai/triage/internal/model"

// Policy decides how writes reconcile with the server copy.
type Policy interface {
	Name() string
	// Expected returns the version a write derived from base requires the
	// server to hold, or nil for an unconditional write.
	Expected(base model.ReviewState) *int64
	// DiscardOnConflict reports whether a conflict discards the local edit
	// and re-fetches instead of failing.
	DiscardOnConflict() bool
}

// OverwritePolicy replaces the server copy unconditionally. It suits the
// primary author, whose view is the source of truth.
type OverwritePolicy struct{}

func (OverwritePolicy) Name() string { return "overwrite" }

func (OverwritePolicy) Expected(model.ReviewState) *int64 { return nil }

func (OverwritePolicy) DiscardOnConflict() bool { return false }

// VersionedPolicy writes only if the server still holds the version the
// edit was based on. On conflict the edit is dropped in favour of the
// server's document.
type VersionedPolicy struct{}

func (VersionedPolicy) Name() string { return "versioned" }

func (VersionedPolicy) Expected(base model.ReviewState) *int64 {
	v := base.Version
	return &v
}

func (VersionedPolicy) DiscardOnConflict() bool { return true }

// PolicyFor returns the named policy, or fallback for an empty name.
func PolicyFor(name string, fallback Policy) Policy {
	switch name {
	case "overwrite":
		return OverwritePolicy{}
	case "versioned":
		return VersionedPolicy{}
	default:
		return fallback
	}
}
