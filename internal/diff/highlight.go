package diff

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/sprite-ai/triage/internal/model"
)

// HighlightedLine is one source line split into colored tokens.
type HighlightedLine struct {
	Tokens []Token
}

// Token is a run of text with a single color.
type Token struct {
	Text  string
	Color string // hex color, empty for the terminal default
}

// Plain returns the line text without colors.
func (hl HighlightedLine) Plain() string {
	var b strings.Builder
	for _, t := range hl.Tokens {
		b.WriteString(t.Text)
	}
	return b.String()
}

var (
	lexerMu    sync.Mutex
	lexerCache = map[string]chroma.Lexer{}

	paletteOnce sync.Once
	palette     *chroma.Style
)

// HighlightHunk highlights the lines of a hunk using the lexer for its file.
// The result has one entry per hunk line.
func HighlightHunk(h model.Hunk) []HighlightedLine {
	lines := make([]string, len(h.Lines))
	for i, l := range h.Lines {
		lines[i] = l.Content
	}
	return HighlightLines(h.FilePath, lines)
}

// HighlightLines highlights source lines for filename and returns one
// HighlightedLine per input line. Unknown languages pass through as plain
// text.
func HighlightLines(filename string, lines []string) []HighlightedLine {
	if len(lines) == 0 {
		return nil
	}
	lexer := lexerForFile(filename)
	if lexer == nil {
		return plainLines(lines)
	}

	iterator, err := lexer.Tokenise(nil, strings.Join(lines, "\n"))
	if err != nil {
		return plainLines(lines)
	}
	style := draculaStyle()

	result := make([]HighlightedLine, 0, len(lines))
	var current HighlightedLine
	for _, token := range iterator.Tokens() {
		for i, part := range strings.Split(token.Value, "\n") {
			if i > 0 {
				result = append(result, current)
				current = HighlightedLine{}
			}
			if part != "" {
				current.Tokens = append(current.Tokens, Token{Text: part, Color: tokenColor(style, token.Type)})
			}
		}
	}
	result = append(result, current)

	// Lexers may swallow a trailing newline; keep the result aligned.
	for len(result) < len(lines) {
		result = append(result, HighlightedLine{})
	}
	return result[:len(lines)]
}

func plainLines(lines []string) []HighlightedLine {
	result := make([]HighlightedLine, len(lines))
	for i, line := range lines {
		result[i] = HighlightedLine{Tokens: []Token{{Text: line}}}
	}
	return result
}

// lexerForFile returns a coalescing lexer for filename, or nil. Lookups are
// cached by extension since a review renders many hunks of the same type.
func lexerForFile(filename string) chroma.Lexer {
	ext := filepath.Ext(filename)
	cacheKey := ext
	if ext == "" {
		cacheKey = filepath.Base(filename)
	}

	lexerMu.Lock()
	defer lexerMu.Unlock()
	if l, ok := lexerCache[cacheKey]; ok {
		return l
	}

	lexer := lexers.Match(filepath.Base(filename))
	if lexer == nil && ext != "" {
		lexer = lexers.Match("file" + ext)
	}
	if lexer != nil {
		lexer = chroma.Coalesce(lexer)
	}
	lexerCache[cacheKey] = lexer
	return lexer
}

func draculaStyle() *chroma.Style {
	paletteOnce.Do(func() {
		palette = styles.Get("dracula")
		if palette == nil {
			palette = styles.Fallback
		}
	})
	return palette
}

func tokenColor(style *chroma.Style, tt chroma.TokenType) string {
	entry := style.Get(tt)
	if entry.Colour.IsSet() {
		return entry.Colour.String()
	}
	return ""
}
