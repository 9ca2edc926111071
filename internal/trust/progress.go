package trust

import (
	"fmt"

	"github.com/sprite-ai/triage/internal/model"
)

// Progress counts hunks by effective status.
type Progress struct {
	Total         int `json:"total"`
	Approved      int `json:"approved"`
	Rejected      int `json:"rejected"`
	SavedForLater int `json:"savedForLater"`
	Trusted       int `json:"trusted"`
	Pending       int `json:"pending"`
}

func (p *Progress) add(s model.EffectiveStatus) {
	p.Total++
	switch s {
	case model.EffectiveApproved:
		p.Approved++
	case model.EffectiveRejected:
		p.Rejected++
	case model.EffectiveSavedForLater:
		p.SavedForLater++
	case model.EffectiveTrusted:
		p.Trusted++
	default:
		p.Pending++
	}
}

// Reviewed is the number of hunks that need no further attention.
func (p Progress) Reviewed() int {
	return p.Approved + p.Rejected + p.Trusted
}

// Done reports whether every hunk is reviewed.
func (p Progress) Done() bool {
	return p.Total > 0 && p.Reviewed() == p.Total
}

// Percent returns reviewed hunks as a percentage of the total.
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return p.Reviewed() * 100 / p.Total
}

func (p Progress) String() string {
	return fmt.Sprintf("%d/%d reviewed (%d approved, %d rejected, %d trusted, %d saved, %d pending)",
		p.Reviewed(), p.Total, p.Approved, p.Rejected, p.Trusted, p.SavedForLater, p.Pending)
}

// Tally computes progress for every hunk recorded in doc.
func Tally(doc model.ReviewState, match Matcher) Progress {
	var p Progress
	for _, st := range doc.Hunks {
		p.add(EffectiveStatus(st, doc.TrustList, match))
	}
	return p
}
