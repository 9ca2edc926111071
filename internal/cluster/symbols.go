package cluster

import (
	"slices"
	"strings"

	"github.com/sprite-ai/triage/internal/model"
)

// SymbolReference is a hunk that uses a changed symbol.
type SymbolReference struct {
	HunkID string `json:"hunkId"`
	// Lines are the new-side line numbers in the hunk that mention the symbol.
	Lines []int `json:"lines"`
	// Pure references contain nothing but the symbol update and can be batch
	// approved along with the definition.
	Pure bool `json:"pure"`
}

// SymbolCluster groups the definition of a changed symbol with every hunk
// that references it.
type SymbolCluster struct {
	Symbol          string            `json:"symbol"`
	DefinitionFile  string            `json:"definitionFile"`
	DefinitionHunks []string          `json:"definitionHunks"`
	References      []SymbolReference `json:"references"`
	Unreviewed      int               `json:"unreviewed"`
}

// BatchHunkIDs returns the hunks a batch action on the cluster may touch:
// all definition hunks and the pure references. Impure references are left
// for individual review.
func (c SymbolCluster) BatchHunkIDs() []string {
	ids := slices.Clone(c.DefinitionHunks)
	for _, r := range c.References {
		if r.Pure {
			ids = append(ids, r.HunkID)
		}
	}
	return ids
}

// HunkIDs returns every hunk in the cluster, definitions first.
func (c SymbolCluster) HunkIDs() []string {
	ids := slices.Clone(c.DefinitionHunks)
	for _, r := range c.References {
		ids = append(ids, r.HunkID)
	}
	return ids
}

type symbolAcc struct {
	name     string
	defFile  string
	defs     []string
	refs     []SymbolReference
	refIndex map[string]int
}

// ClusterSymbols builds symbol clusters from directed links. A "references"
// link points from the reference hunk to the definition hunk; a "defines"
// link points the other way. Links that name unknown hunks or link a hunk
// to itself are ignored. Symbols with fewer than two reference hunks do not
// form a cluster.
//
// reviewed reports whether a hunk already counts as reviewed; it drives the
// Unreviewed count used for ordering. A nil reviewed treats every hunk as
// unreviewed.
func ClusterSymbols(links []model.SymbolLinkedHunk, hunks map[string]model.Hunk, reviewed func(id string) bool) []SymbolCluster {
	index := map[string]*symbolAcc{}
	var order []*symbolAcc

	for _, link := range links {
		if link.HunkID == link.LinkedHunkID {
			continue
		}
		var defID, refID string
		switch link.Relationship {
		case model.RelReferences:
			refID, defID = link.HunkID, link.LinkedHunkID
		case model.RelDefines:
			defID, refID = link.HunkID, link.LinkedHunkID
		default:
			continue
		}
		def, ok := hunks[defID]
		if !ok {
			continue
		}
		if _, ok := hunks[refID]; !ok {
			continue
		}

		acc := index[link.SymbolName]
		if acc == nil {
			acc = &symbolAcc{name: link.SymbolName, defFile: def.FilePath, refIndex: map[string]int{}}
			index[link.SymbolName] = acc
			order = append(order, acc)
		}
		if !slices.Contains(acc.defs, defID) {
			acc.defs = append(acc.defs, defID)
		}
		if i, seen := acc.refIndex[refID]; seen {
			acc.refs[i].Lines = unionLines(acc.refs[i].Lines, link.ReferenceLineNumbers)
			continue
		}
		acc.refIndex[refID] = len(acc.refs)
		acc.refs = append(acc.refs, SymbolReference{
			HunkID: refID,
			Lines:  unionLines(nil, link.ReferenceLineNumbers),
		})
	}

	var clusters []SymbolCluster
	for _, acc := range order {
		// A hunk that defines the symbol is not also counted as a reference.
		refs := slices.DeleteFunc(acc.refs, func(r SymbolReference) bool {
			return slices.Contains(acc.defs, r.HunkID)
		})
		if len(refs) < 2 {
			continue
		}
		c := SymbolCluster{
			Symbol:          acc.name,
			DefinitionFile:  acc.defFile,
			DefinitionHunks: acc.defs,
			References:      refs,
		}
		for i := range c.References {
			c.References[i].Pure = IsPureReference(hunks[c.References[i].HunkID], c.References[i].Lines)
		}
		for _, id := range c.HunkIDs() {
			if reviewed == nil || !reviewed(id) {
				c.Unreviewed++
			}
		}
		clusters = append(clusters, c)
	}

	slices.SortStableFunc(clusters, func(a, b SymbolCluster) int {
		if a.Unreviewed != b.Unreviewed {
			return b.Unreviewed - a.Unreviewed
		}
		return strings.Compare(a.Symbol, b.Symbol)
	})
	return clusters
}

// IsPureReference reports whether every added line of h is one of the
// given reference lines. A hunk with no added lines is never pure.
func IsPureReference(h model.Hunk, referenceLines []int) bool {
	added := h.AddedLines()
	if len(added) == 0 {
		return false
	}
	for _, l := range added {
		if l.NewLineNumber == nil || !slices.Contains(referenceLines, *l.NewLineNumber) {
			return false
		}
	}
	return true
}

func unionLines(a, b []int) []int {
	out := slices.Clone(a)
	for _, n := range b {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out
}

// ClusterOf returns the symbol clusters that contain id.
func ClusterOf(clusters []SymbolCluster, id string) []SymbolCluster {
	var out []SymbolCluster
	for _, c := range clusters {
		if slices.Contains(c.HunkIDs(), id) {
			out = append(out, c)
		}
	}
	return out
}
