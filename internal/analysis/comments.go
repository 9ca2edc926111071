package analysis

import (
	"strings"

	"github.com/sprite-ai/triage/internal/model"
)

var cFamily = []string{
	"js", "jsx", "ts", "tsx", "mjs", "mts", "cjs", "cts", "rs", "go", "java",
	"kt", "kts", "scala", "swift", "c", "cc", "cpp", "cxx", "h", "hpp", "cs",
	"m", "mm", "zig", "v", "dart", "groovy", "gradle", "css",
}

var hashComment = []string{
	"py", "rb", "sh", "bash", "zsh", "fish", "yml", "yaml", "toml", "pl", "pm",
	"r", "jl", "ex", "exs", "cr", "nim", "coffee", "mk", "cmake", "tf", "hcl",
}

// commentSyntax describes how a language writes comments.
type commentSyntax struct {
	line       []string
	blockOpen  string
	blockClose string
}

var commentSyntaxes = func() map[string]commentSyntax {
	m := map[string]commentSyntax{}
	for _, ext := range cFamily {
		m[ext] = commentSyntax{line: []string{"//"}, blockOpen: "/*", blockClose: "*/"}
	}
	for _, ext := range hashComment {
		m[ext] = commentSyntax{line: []string{"#"}}
	}
	for _, ext := range []string{"lua", "hs", "sql"} {
		m[ext] = commentSyntax{line: []string{"--"}}
	}
	for _, ext := range []string{"lisp", "clj", "cljs", "cljc", "edn", "scm", "rkt"} {
		m[ext] = commentSyntax{line: []string{";"}}
	}
	for _, ext := range []string{"erl", "hrl"} {
		m[ext] = commentSyntax{line: []string{"%"}}
	}
	for _, ext := range []string{"html", "xml", "svg"} {
		m[ext] = commentSyntax{blockOpen: "<!--", blockClose: "-->"}
	}
	return m
}()

// CommentRule matches hunks whose changed lines are all comments or blank.
// Block comments are tracked separately for each side of the hunk.
func CommentRule(h model.Hunk) ([]string, string, bool) {
	syn, ok := commentSyntaxes[extOf(h.FilePath)]
	if !ok {
		return nil, "", false
	}
	lines := changedLines(h)
	if len(lines) == 0 {
		return nil, "", false
	}

	var inAdded, inRemoved bool
	var added, removed int
	for _, l := range lines {
		if l.Type == model.LineAdded {
			added++
		} else {
			removed++
		}
		text := strings.TrimSpace(l.Content)
		if text == "" || hasAnyPrefix(text, syn.line) {
			continue
		}
		if syn.blockOpen == "" {
			return nil, "", false
		}
		in := &inRemoved
		if l.Type == model.LineAdded {
			in = &inAdded
		}
		isComment, next := blockComment(text, syn.blockOpen, syn.blockClose, *in)
		*in = next
		if !isComment {
			return nil, "", false
		}
	}

	label, ok := changeLabel("comments", removed, added)
	if !ok {
		return nil, "", false
	}
	return []string{label}, "All changed lines are comments", true
}

// blockComment reports whether text is inside or opens a block comment,
// and whether a block is still open after it.
func blockComment(text, open, close string, inBlock bool) (isComment, stillOpen bool) {
	if !inBlock && !strings.HasPrefix(text, open) {
		return false, false
	}
	if !inBlock {
		text = text[len(open):]
	}
	i := strings.Index(text, close)
	if i < 0 {
		return true, true
	}
	return true, strings.Contains(text[i+len(close):], open)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
