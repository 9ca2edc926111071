// Package review holds the pure transitions applied to review documents.
// Every transition takes a document and returns a new one; the input is
// never modified, so callers can keep it for rollback.
package review

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sprite-ai/triage/internal/model"
)

// ErrEmptyHunkID is returned when a batch names an empty hunk id.
var ErrEmptyHunkID = errors.New("empty hunk id")

// Mutator is a pure transition of a review document.
type Mutator func(model.ReviewState) (model.ReviewState, error)

// ApplyStatus sets the explicit status of every listed hunk. Either every
// id is updated or, on error, none is. Labels, reasoning and classifier
// are preserved; hunks without state get an empty label set. Applying the
// same status twice yields the same document.
//
// UpdatedAt and Version are left alone; the store stamps them on write.
func ApplyStatus(doc model.ReviewState, ids []string, status model.Status) (model.ReviewState, error) {
	if !status.Valid() {
		return doc, fmt.Errorf("apply status: invalid status %q", status)
	}
	for _, id := range ids {
		if id == "" {
			return doc, fmt.Errorf("apply status: %w", ErrEmptyHunkID)
		}
	}

	out := doc.Clone()
	for _, id := range ids {
		st, ok := out.Hunks[id]
		if !ok {
			st = model.HunkState{Label: []string{}}
		}
		st.Status = status
		out.Hunks[id] = st
	}
	return out, nil
}

// SetStatus returns ApplyStatus as a Mutator.
func SetStatus(ids []string, status model.Status) Mutator {
	ids = slices.Clone(ids)
	return func(doc model.ReviewState) (model.ReviewState, error) {
		return ApplyStatus(doc, ids, status)
	}
}

// Toggle applies status to a single hunk, or clears it when the hunk
// already has that status.
func Toggle(doc model.ReviewState, id string, status model.Status) (model.ReviewState, error) {
	if doc.HunkState(id).Status == status {
		status = model.StatusNone
	}
	return ApplyStatus(doc, []string{id}, status)
}

// ToggleStatus returns Toggle as a Mutator.
func ToggleStatus(id string, status model.Status) Mutator {
	return func(doc model.ReviewState) (model.ReviewState, error) {
		return Toggle(doc, id, status)
	}
}

// Classification is the output of a classifier for one hunk.
type Classification struct {
	HunkID    string
	Labels    []string
	Reasoning string
	Via       model.ClassifiedVia
}

// SetClassification records classifier output. Explicit statuses survive
// reclassification.
func SetClassification(results ...Classification) Mutator {
	results = slices.Clone(results)
	return func(doc model.ReviewState) (model.ReviewState, error) {
		for _, r := range results {
			if r.HunkID == "" {
				return doc, fmt.Errorf("set classification: %w", ErrEmptyHunkID)
			}
		}
		out := doc.Clone()
		for _, r := range results {
			st := out.Hunks[r.HunkID]
			st.Label = append([]string{}, r.Labels...)
			st.Reasoning = r.Reasoning
			st.ClassifiedVia = r.Via
			out.Hunks[r.HunkID] = st
		}
		return out, nil
	}
}

// AddTrust appends patterns to the trust list, skipping ones already present.
func AddTrust(patterns ...string) Mutator {
	return func(doc model.ReviewState) (model.ReviewState, error) {
		out := doc.Clone()
		for _, p := range patterns {
			p = strings.TrimSpace(p)
			if p == "" {
				return doc, errors.New("add trust: empty pattern")
			}
			if !slices.Contains(out.TrustList, p) {
				out.TrustList = append(out.TrustList, p)
			}
		}
		return out, nil
	}
}

// RemoveTrust drops patterns from the trust list.
func RemoveTrust(patterns ...string) Mutator {
	return func(doc model.ReviewState) (model.ReviewState, error) {
		out := doc.Clone()
		out.TrustList = slices.DeleteFunc(out.TrustList, func(p string) bool {
			return slices.Contains(patterns, p)
		})
		return out, nil
	}
}

// SetNotes replaces the free-form review notes.
func SetNotes(notes string) Mutator {
	return func(doc model.ReviewState) (model.ReviewState, error) {
		out := doc.Clone()
		out.Notes = notes
		return out, nil
	}
}

// AddAnnotation attaches a comment to a line. The annotation gets a fresh
// id when it has none.
func AddAnnotation(a model.Annotation) Mutator {
	return func(doc model.ReviewState) (model.ReviewState, error) {
		if a.FilePath == "" {
			return doc, errors.New("add annotation: file path required")
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		out := doc.Clone()
		out.Annotations = append(out.Annotations, a)
		return out, nil
	}
}

// RemoveAnnotation deletes the annotation with the given id.
func RemoveAnnotation(id string) Mutator {
	return func(doc model.ReviewState) (model.ReviewState, error) {
		out := doc.Clone()
		out.Annotations = slices.DeleteFunc(out.Annotations, func(a model.Annotation) bool {
			return a.ID == id
		})
		return out, nil
	}
}

// ResetHunks clears explicit statuses. With no ids every hunk is reset.
func ResetHunks(ids ...string) Mutator {
	return func(doc model.ReviewState) (model.ReviewState, error) {
		out := doc.Clone()
		for id, st := range out.Hunks {
			if len(ids) > 0 && !slices.Contains(ids, id) {
				continue
			}
			st.Status = model.StatusNone
			out.Hunks[id] = st
		}
		return out, nil
	}
}

// Chain composes mutators left to right. The first error aborts the chain
// and the original document is returned.
func Chain(ms ...Mutator) Mutator {
	return func(doc model.ReviewState) (model.ReviewState, error) {
		cur := doc
		for _, m := range ms {
			next, err := m(cur)
			if err != nil {
				return doc, err
			}
			cur = next
		}
		return cur, nil
	}
}
