package trust

import (
	"github.com/sprite-ai/triage/internal/model"
)

// EffectiveStatus resolves the displayed status of one hunk. An explicit
// decision always wins (rejected, then approved, then saved for later);
// otherwise the hunk is trusted when any of its labels matches any trust
// pattern, and pending when none does.
//
// Every status shown to the user, per hunk or in aggregate, goes through
// this function.
func EffectiveStatus(state model.HunkState, trustList []string, match Matcher) model.EffectiveStatus {
	switch state.Status {
	case model.StatusRejected:
		return model.EffectiveRejected
	case model.StatusApproved:
		return model.EffectiveApproved
	case model.StatusSavedForLater:
		return model.EffectiveSavedForLater
	}
	if AnyMatch(state.Label, trustList, match) {
		return model.EffectiveTrusted
	}
	return model.EffectivePending
}

// Evaluator binds a review document to a matcher so callers can resolve
// statuses by hunk id.
type Evaluator struct {
	doc   model.ReviewState
	match Matcher
}

// NewEvaluator returns an evaluator over doc. A nil match uses MatchPattern.
func NewEvaluator(doc model.ReviewState, match Matcher) *Evaluator {
	if match == nil {
		match = MatchPattern
	}
	return &Evaluator{doc: doc, match: match}
}

// Status resolves the effective status of the hunk with the given id.
// Hunks without recorded state are pending.
func (e *Evaluator) Status(id string) model.EffectiveStatus {
	return EffectiveStatus(e.doc.HunkState(id), e.doc.TrustList, e.match)
}

// Reviewed reports whether the hunk counts as reviewed.
func (e *Evaluator) Reviewed(id string) bool {
	return e.Status(id).IsReviewed()
}

// Progress tallies statuses for the given hunk ids.
func (e *Evaluator) Progress(ids []string) Progress {
	var p Progress
	for _, id := range ids {
		p.add(e.Status(id))
	}
	return p
}

// HunkProgress tallies statuses for hunks.
func (e *Evaluator) HunkProgress(hunks []model.Hunk) Progress {
	var p Progress
	for _, h := range hunks {
		p.add(e.Status(h.ID))
	}
	return p
}
