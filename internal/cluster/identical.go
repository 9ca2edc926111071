// Package cluster groups hunks that can be reviewed together: hunks with
// byte-identical changes, and hunks tied to one changed symbol.
//
// Clustering is a pure function of its inputs. Callers rebuild clusters
// whenever hunks, links or review state change.
package cluster

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/sprite-ai/triage/internal/model"
)

// IdenticalGroup is a set of hunks whose changed lines are identical.
type IdenticalGroup struct {
	Key            string   `json:"key"`
	Representative string   `json:"representative"`
	HunkIDs        []string `json:"hunkIds"`
	Files          []string `json:"files"`
}

// Size is the number of hunks in the group.
func (g IdenticalGroup) Size() int { return len(g.HunkIDs) }

// ContentKey returns a key derived only from the ordered changed lines of h.
// Context lines, line numbers and the file path do not contribute. Hunks
// without changed lines have no key.
func ContentKey(h model.Hunk) (string, bool) {
	sum := sha256.New()
	changed := false
	for _, l := range h.Lines {
		var marker byte
		switch l.Type {
		case model.LineAdded:
			marker = '+'
		case model.LineRemoved:
			marker = '-'
		default:
			continue
		}
		changed = true
		sum.Write([]byte{marker})
		sum.Write([]byte(l.Content))
		sum.Write([]byte{'\n'})
	}
	if !changed {
		return "", false
	}
	return hex.EncodeToString(sum.Sum(nil)), true
}

// GroupIdentical partitions hunks by content key. Groups with a single
// member are dropped. The first hunk seen is the representative, members
// keep input order, and groups are ordered by size descending with ties in
// first-seen order.
func GroupIdentical(hunks []model.Hunk) []IdenticalGroup {
	index := map[string]int{}
	var groups []IdenticalGroup

	for _, h := range hunks {
		key, ok := ContentKey(h)
		if !ok {
			continue
		}
		i, seen := index[key]
		if !seen {
			i = len(groups)
			index[key] = i
			groups = append(groups, IdenticalGroup{Key: key, Representative: h.ID})
		}
		g := &groups[i]
		g.HunkIDs = append(g.HunkIDs, h.ID)
		if !slices.Contains(g.Files, h.FilePath) {
			g.Files = append(g.Files, h.FilePath)
		}
	}

	out := groups[:0]
	for _, g := range groups {
		if g.Size() > 1 {
			out = append(out, g)
		}
	}
	slices.SortStableFunc(out, func(a, b IdenticalGroup) int {
		return b.Size() - a.Size()
	})
	return out
}

// GroupOf returns the identical group containing id.
func GroupOf(groups []IdenticalGroup, id string) (IdenticalGroup, bool) {
	for _, g := range groups {
		if slices.Contains(g.HunkIDs, id) {
			return g, true
		}
	}
	return IdenticalGroup{}, false
}
