// Package analysis classifies hunks with static rules. Every rule is
// conservative: a hunk it is unsure about is left unlabeled.
package analysis

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/review"
)

// Rule inspects one hunk and returns its labels and a short reason, or
// ok=false when it does not apply.
type Rule func(h model.Hunk) (labels []string, reason string, ok bool)

// namedRule pairs a rule with the name used by --skip.
type namedRule struct {
	name string
	rule Rule
}

// rules are tried in order; the first match wins. Cheap path checks come
// before line scans.
var rules = []namedRule{
	{"move", MoveRule},
	{"lockfile", LockfileRule},
	{"whitespace", WhitespaceRule},
	{"line_length", LineLengthRule},
	{"style", StyleRule},
	{"comments", CommentRule},
	{"imports", ImportRule},
}

// RuleNames lists the rule names in evaluation order.
func RuleNames() []string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.name
	}
	return names
}

// Classify runs the rules over hunks, skipping the named ones. Only hunks
// some rule matched are returned, in input order.
func Classify(hunks []model.Hunk, skip []string) ([]review.Classification, error) {
	skipSet := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipSet[s] = true
	}
	for s := range skipSet {
		if !knownRule(s) {
			return nil, fmt.Errorf("unknown rule %q (have %s)", s, strings.Join(RuleNames(), ", "))
		}
	}

	var out []review.Classification
	for _, h := range hunks {
		for _, r := range rules {
			if skipSet[r.name] {
				continue
			}
			if labels, reason, ok := r.rule(h); ok {
				out = append(out, review.Classification{
					HunkID:    h.ID,
					Labels:    labels,
					Reasoning: reason,
					Via:       model.ClassifiedStatic,
				})
				break
			}
		}
	}
	return out, nil
}

// Summary returns a one-line count of labels, most frequent first.
func Summary(results []review.Classification) string {
	if len(results) == 0 {
		return "No hunks classified"
	}
	counts := make(map[string]int)
	for _, r := range results {
		for _, l := range r.Labels {
			counts[l]++
		}
	}
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = fmt.Sprintf("%d %s", counts[l], l)
	}
	return strings.Join(parts, ", ")
}

func knownRule(name string) bool {
	for _, r := range rules {
		if r.name == name {
			return true
		}
	}
	return false
}

// changedLines returns the added and removed lines of h in order.
func changedLines(h model.Hunk) []model.Line {
	var out []model.Line
	for _, l := range h.Lines {
		if l.IsChange() {
			out = append(out, l)
		}
	}
	return out
}

// sides splits changed lines into removed and added contents.
func sides(lines []model.Line) (removed, added []string) {
	for _, l := range lines {
		switch l.Type {
		case model.LineRemoved:
			removed = append(removed, l.Content)
		case model.LineAdded:
			added = append(added, l.Content)
		}
	}
	return removed, added
}

// changeLabel picks the added, removed or modified variant of a category.
func changeLabel(category string, removed, added int) (string, bool) {
	switch {
	case added > 0 && removed == 0:
		return category + ":added", true
	case removed > 0 && added == 0:
		return category + ":removed", true
	case added > 0 && removed > 0:
		return category + ":modified", true
	}
	return "", false
}

func extOf(p string) string {
	return strings.TrimPrefix(path.Ext(p), ".")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
