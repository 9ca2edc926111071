package analysis

import (
	"slices"
	"strings"

	"github.com/sprite-ai/triage/internal/model"
)

// importSyntax lists the statement prefixes of a language and the bracket
// that opens a multi-line import, or 0 when imports are single-line.
type importSyntax struct {
	prefixes []string
	bracket  rune
}

var importSyntaxes = func() map[string]importSyntax {
	m := map[string]importSyntax{
		"py":    {[]string{"import ", "from "}, '('},
		"go":    {[]string{"import "}, '('},
		"rs":    {[]string{"use "}, '{'},
		"rb":    {[]string{"require ", "require_relative "}, 0},
		"cs":    {[]string{"using "}, 0},
		"swift": {[]string{"import "}, 0},
		"dart":  {[]string{"import "}, 0},
	}
	for _, ext := range []string{"js", "jsx", "ts", "tsx", "mjs", "mts", "cjs", "cts"} {
		m[ext] = importSyntax{[]string{"import ", "import{", "export { ", "export {"}, '{'}
	}
	for _, ext := range []string{"java", "kt", "kts", "scala", "groovy", "gradle"} {
		m[ext] = importSyntax{[]string{"import "}, 0}
	}
	for _, ext := range []string{"c", "cc", "cpp", "cxx", "h", "hpp", "m", "mm"} {
		m[ext] = importSyntax{[]string{"#include"}, 0}
	}
	return m
}()

// ImportRule matches hunks that only add, remove, reorder or edit import
// statements, multi-line import blocks included.
func ImportRule(h model.Hunk) ([]string, string, bool) {
	syn, ok := importSyntaxes[extOf(h.FilePath)]
	if !ok {
		return nil, "", false
	}
	lines := changedLines(h)
	if len(lines) == 0 || !allImports(lines, syn) {
		return nil, "", false
	}

	removed, added := sides(lines)
	switch {
	case len(added) > 0 && len(removed) == 0:
		return []string{"imports:added"}, "All changed lines are import statements (additions only)", true
	case len(removed) > 0 && len(added) == 0:
		return []string{"imports:removed"}, "All changed lines are import statements (removals only)", true
	case isReorder(removed, added, syn.prefixes):
		return []string{"imports:reordered"}, "Import statements were reordered (same set of imports)", true
	default:
		return []string{"imports:modified"}, "All changed lines are import statements (modified)", true
	}
}

func allImports(lines []model.Line, syn importSyntax) bool {
	if syn.bracket == 0 {
		for _, l := range lines {
			text := strings.TrimSpace(l.Content)
			if text != "" && !hasAnyPrefix(text, syn.prefixes) {
				return false
			}
		}
		return true
	}

	closing := closingBracket(syn.bracket)
	depth := 0
	for _, l := range lines {
		text := strings.TrimSpace(l.Content)
		switch {
		case text == "":
			continue
		case hasAnyPrefix(text, syn.prefixes):
		case depth > 0 && isContinuation(text, closing):
		default:
			return false
		}
		depth += strings.Count(text, string(syn.bracket)) - strings.Count(text, string(closing))
	}
	return true
}

// isContinuation accepts the lines found inside a multi-line import: the
// closing bracket, a "} from" tail, identifiers and quoted paths.
func isContinuation(text string, closing rune) bool {
	c := string(closing)
	if text == c || text == c+";" || text == c+"," {
		return true
	}
	for _, p := range []string{"} from ", "}from ", ") from ", ")from "} {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	r := text[0]
	return r == '_' || r == '"' || r == '\'' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func closingBracket(open rune) rune {
	switch open {
	case '(':
		return ')'
	case '{':
		return '}'
	}
	return 0
}

// isReorder reports whether both sides hold the same import statements.
func isReorder(removed, added, prefixes []string) bool {
	norm := func(lines []string) []string {
		var out []string
		for _, l := range lines {
			text := strings.TrimSpace(l)
			if text != "" && hasAnyPrefix(text, prefixes) {
				out = append(out, collapse(text))
			}
		}
		slices.Sort(out)
		return out
	}
	r, a := norm(removed), norm(added)
	return len(r) > 0 && len(a) > 0 && slices.Equal(r, a)
}
