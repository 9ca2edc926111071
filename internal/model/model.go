// Package model defines the core data types shared across triage.
package model

import (
	"fmt"
	"strings"
	"time"
)

// LineType marks a diff line as context, added or removed.
type LineType string

const (
	LineContext LineType = "context"
	LineAdded   LineType = "added"
	LineRemoved LineType = "removed"
)

// Line is one line of a hunk.
type Line struct {
	Type          LineType `json:"type"`
	Content       string   `json:"content"`
	OldLineNumber *int     `json:"oldLineNumber,omitempty"`
	NewLineNumber *int     `json:"newLineNumber,omitempty"`
}

// IsChange reports whether the line is an addition or a removal.
func (l Line) IsChange() bool {
	return l.Type == LineAdded || l.Type == LineRemoved
}

// Hunk is a contiguous block of a unified diff. Hunks are produced by the
// diff engine and never modified afterwards.
type Hunk struct {
	ID          string `json:"id"`
	FilePath    string `json:"filePath"`
	OldStart    int    `json:"oldStart"`
	OldCount    int    `json:"oldCount"`
	NewStart    int    `json:"newStart"`
	NewCount    int    `json:"newCount"`
	Content     string `json:"content"`
	Lines       []Line `json:"lines"`
	ContentHash string `json:"contentHash"`
	MovePairID  string `json:"movePairId,omitempty"`
}

// AddedLines returns the added lines of the hunk in order.
func (h Hunk) AddedLines() []Line {
	var added []Line
	for _, l := range h.Lines {
		if l.Type == LineAdded {
			added = append(added, l)
		}
	}
	return added
}

// Stats returns the number of added and removed lines.
func (h Hunk) Stats() (added, removed int) {
	for _, l := range h.Lines {
		switch l.Type {
		case LineAdded:
			added++
		case LineRemoved:
			removed++
		}
	}
	return
}

// IndexHunks maps hunk ids to hunks.
func IndexHunks(hunks []Hunk) map[string]Hunk {
	m := make(map[string]Hunk, len(hunks))
	for _, h := range hunks {
		m[h.ID] = h
	}
	return m
}

// Status is an explicit review decision stored on a hunk. The zero value
// means no decision has been recorded.
type Status string

const (
	StatusNone          Status = ""
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusSavedForLater Status = "saved_for_later"
)

// Valid reports whether s is a known status (including none).
func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusApproved, StatusRejected, StatusSavedForLater:
		return true
	}
	return false
}

// ParseStatus converts user input into a Status. "pending" and "" clear the status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pending", "none":
		return StatusNone, nil
	case "approved", "approve":
		return StatusApproved, nil
	case "rejected", "reject":
		return StatusRejected, nil
	case "saved_for_later", "save", "later":
		return StatusSavedForLater, nil
	}
	return StatusNone, fmt.Errorf("unknown status %q", s)
}

// ClassifiedVia records which classifier produced a hunk's labels.
type ClassifiedVia string

const (
	ClassifiedStatic ClassifiedVia = "static"
	ClassifiedAI     ClassifiedVia = "ai"
)

// HunkState is the per-hunk portion of a review document.
type HunkState struct {
	Label         []string      `json:"label"`
	Reasoning     string        `json:"reasoning,omitempty"`
	Status        Status        `json:"status,omitempty" validate:"omitempty,oneof=approved rejected saved_for_later"`
	ClassifiedVia ClassifiedVia `json:"classifiedVia,omitempty" validate:"omitempty,oneof=static ai"`
}

func (s HunkState) clone() HunkState {
	out := s
	out.Label = append([]string{}, s.Label...)
	return out
}

// EffectiveStatus is the derived five-way status of a hunk. It is computed
// from a HunkState and a trust list and never persisted.
type EffectiveStatus int

const (
	EffectivePending EffectiveStatus = iota
	EffectiveApproved
	EffectiveRejected
	EffectiveSavedForLater
	EffectiveTrusted
)

func (s EffectiveStatus) String() string {
	switch s {
	case EffectivePending:
		return "pending"
	case EffectiveApproved:
		return "approved"
	case EffectiveRejected:
		return "rejected"
	case EffectiveSavedForLater:
		return "saved_for_later"
	case EffectiveTrusted:
		return "trusted"
	default:
		return "unknown"
	}
}

// IsReviewed reports whether the status counts toward review progress.
// Trusted hunks count as reviewed even though no one acted on them.
func (s EffectiveStatus) IsReviewed() bool {
	return s == EffectiveApproved || s == EffectiveRejected || s == EffectiveTrusted
}

// Annotation is a reviewer comment anchored to a line.
type Annotation struct {
	ID         string    `json:"id" validate:"required"`
	FilePath   string    `json:"filePath" validate:"required"`
	LineNumber int       `json:"lineNumber" validate:"gte=0"`
	Side       string    `json:"side,omitempty" validate:"omitempty,oneof=old new"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ReviewState is the review document for one comparison of one repository.
type ReviewState struct {
	Comparison  Comparison           `json:"comparison"`
	Hunks       map[string]HunkState `json:"hunks" validate:"dive"`
	TrustList   []string             `json:"trustList"`
	Notes       string               `json:"notes"`
	Annotations []Annotation         `json:"annotations" validate:"dive"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
	Version     int64                `json:"version" validate:"gte=0"`
}

// NewReviewState returns an empty, unsaved document for a comparison.
func NewReviewState(c Comparison, now time.Time) ReviewState {
	return ReviewState{
		Comparison:  c,
		Hunks:       make(map[string]HunkState),
		TrustList:   []string{},
		Annotations: []Annotation{},
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
}

// Clone returns a deep copy. Transitions always operate on clones so the
// previous value stays valid for rollback.
func (r ReviewState) Clone() ReviewState {
	out := r
	out.Hunks = make(map[string]HunkState, len(r.Hunks))
	for id, s := range r.Hunks {
		out.Hunks[id] = s.clone()
	}
	out.TrustList = append([]string{}, r.TrustList...)
	out.Annotations = append([]Annotation{}, r.Annotations...)
	return out
}

// HunkState returns the state recorded for id, or the zero state.
func (r ReviewState) HunkState(id string) HunkState {
	if s, ok := r.Hunks[id]; ok {
		return s
	}
	return HunkState{}
}

// Summary builds a listing entry for the document.
func (r ReviewState) Summary(reviewed int) ReviewSummary {
	return ReviewSummary{
		Comparison:    r.Comparison,
		TotalHunks:    len(r.Hunks),
		ReviewedHunks: reviewed,
		TrustCount:    len(r.TrustList),
		UpdatedAt:     r.UpdatedAt,
		Version:       r.Version,
	}
}

// ReviewSummary is a compact description of a saved review.
type ReviewSummary struct {
	Comparison    Comparison `json:"comparison"`
	TotalHunks    int        `json:"totalHunks"`
	ReviewedHunks int        `json:"reviewedHunks"`
	TrustCount    int        `json:"trustCount"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	Version       int64      `json:"version"`
	RepoPath      string     `json:"repoPath,omitempty"`
	RepoName      string     `json:"repoName,omitempty"`
}

// RepoEntry is a repository known to the server.
type RepoEntry struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	LastAccessed time.Time `json:"lastAccessed"`
}

// ServerInfo describes a companion server.
type ServerInfo struct {
	Version  string      `json:"version"`
	Hostname string      `json:"hostname"`
	Repos    []RepoEntry `json:"repos"`
}

// StateChange announces that a review document was written or deleted.
type StateChange struct {
	Repo       string `json:"repo"`
	Comparison string `json:"comparison"`
	Version    int64  `json:"version"`
	Deleted    bool   `json:"deleted,omitempty"`
}

// Relationship is the direction of a symbol link, relative to its source hunk.
type Relationship string

const (
	RelDefines    Relationship = "defines"
	RelReferences Relationship = "references"
)

// SymbolLinkedHunk links a hunk to another hunk through a changed symbol.
// ReferenceLineNumbers are new-side line numbers in the reference hunk.
type SymbolLinkedHunk struct {
	HunkID               string       `json:"hunkId" validate:"required"`
	SymbolName           string       `json:"symbolName" validate:"required"`
	Relationship         Relationship `json:"relationship" validate:"oneof=defines references"`
	LinkedHunkID         string       `json:"linkedHunkId" validate:"required"`
	ReferenceLineNumbers []int        `json:"referenceLineNumbers"`
}
