// Package trust resolves the effective review status of hunks and manages
// the taxonomy of trustable label patterns.
package trust

import (
	"path"
	"strings"
)

// Matcher reports whether a classification label matches a trust pattern.
type Matcher func(label, pattern string) bool

// MatchPattern is the default Matcher. Patterns without wildcards match
// exactly; "*" matches any run of characters, so "imports:*" covers every
// import label and "*" covers everything. A malformed glob only matches
// itself.
func MatchPattern(label, pattern string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return label == pattern
	}
	ok, err := path.Match(pattern, label)
	if err != nil {
		return label == pattern
	}
	return ok
}

// AnyMatch reports whether any label matches any pattern.
func AnyMatch(labels, patterns []string, match Matcher) bool {
	if match == nil {
		match = MatchPattern
	}
	for _, l := range labels {
		for _, p := range patterns {
			if match(l, p) {
				return true
			}
		}
	}
	return false
}
