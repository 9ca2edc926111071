package analysis

import (
	"strings"

	"github.com/sprite-ai/triage/internal/model"
)

// WhitespaceRule matches hunks whose changed lines are all blank.
func WhitespaceRule(h model.Hunk) ([]string, string, bool) {
	lines := changedLines(h)
	if len(lines) == 0 {
		return nil, "", false
	}
	for _, l := range lines {
		if strings.TrimSpace(l.Content) != "" {
			return nil, "", false
		}
	}
	return []string{"formatting:whitespace"}, "All changed lines are empty or whitespace-only", true
}

// LineLengthRule matches code that was only wrapped or unwrapped: the
// removed and added sides are equal once joined and whitespace-collapsed.
func LineLengthRule(h model.Hunk) ([]string, string, bool) {
	removed, added := sides(changedLines(h))
	if len(removed) == 0 || len(added) == 0 {
		return nil, "", false
	}
	r := collapse(strings.Join(removed, " "))
	a := collapse(strings.Join(added, " "))
	if r == "" || r != a {
		return nil, "", false
	}
	return []string{"formatting:line-length"}, "Code wrapped or unwrapped across lines (identical content after joining)", true
}

// StyleRule matches line-for-line punctuation changes: trailing semicolons
// or commas and quote style.
func StyleRule(h model.Hunk) ([]string, string, bool) {
	removed, added := sides(changedLines(h))
	if len(removed) == 0 || len(removed) != len(added) {
		return nil, "", false
	}
	for i := range removed {
		r, a := normalizeStyle(removed[i]), normalizeStyle(added[i])
		if r == "" || r != a {
			return nil, "", false
		}
	}
	return []string{"formatting:style"}, "Only punctuation changed (semicolons, quote style, or trailing commas)", true
}

func normalizeStyle(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimRight(s, ";")
	s = strings.TrimRight(s, ",")
	s = strings.ReplaceAll(s, "'", `"`)
	return collapse(s)
}
