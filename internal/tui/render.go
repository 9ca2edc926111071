package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sprite-ai/triage/internal/cluster"
	"github.com/sprite-ai/triage/internal/diff"
	"github.com/sprite-ai/triage/internal/model"
)

// renderedLine is a single hunk line ready for display.
type renderedLine struct {
	OldNum   int // 0 means not applicable (added line)
	NewNum   int // 0 means not applicable (removed line)
	Type     model.LineType
	Content  string
	IsHeader bool

	// Syntax tokens, nil when the language is unknown.
	Tokens []diff.Token
}

// renderHunk produces display lines for a hunk, header first.
func renderHunk(h model.Hunk) []renderedLine {
	lines := make([]renderedLine, 0, len(h.Lines)+1)
	lines = append(lines, renderedLine{IsHeader: true, Content: formatHunkHeader(h)})

	highlighted := diff.HighlightHunk(h)
	for i, l := range h.Lines {
		rl := renderedLine{Type: l.Type, Content: l.Content}
		if l.OldLineNumber != nil {
			rl.OldNum = *l.OldLineNumber
		}
		if l.NewLineNumber != nil {
			rl.NewNum = *l.NewLineNumber
		}
		if i < len(highlighted) {
			rl.Tokens = highlighted[i].Tokens
		}
		lines = append(lines, rl)
	}
	return lines
}

func formatHunkHeader(h model.Hunk) string {
	old := fmt.Sprintf("-%d", h.OldStart)
	if h.OldCount != 1 {
		old += fmt.Sprintf(",%d", h.OldCount)
	}
	nw := fmt.Sprintf("+%d", h.NewStart)
	if h.NewCount != 1 {
		nw += fmt.Sprintf(",%d", h.NewCount)
	}
	header := fmt.Sprintf("@@ %s %s @@", old, nw)
	if h.MovePairID != "" {
		header += " moved"
	}
	return header
}

// renderHighlightedContent renders a context line with syntax colors.
func renderHighlightedContent(rl renderedLine, prefix string) string {
	if len(rl.Tokens) == 0 {
		return prefix + rl.Content
	}
	var b strings.Builder
	b.WriteString(prefix)
	for _, tok := range rl.Tokens {
		if tok.Color != "" {
			b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(tok.Color)).Render(tok.Text))
		} else {
			b.WriteString(tok.Text)
		}
	}
	return b.String()
}

// styleLine renders one line with gutter numbers, truncated to width.
func styleLine(rl renderedLine, width int) string {
	if rl.IsHeader {
		return hunkHeaderStyle.Render(truncate(rl.Content, width))
	}

	oldNum, newNum := "    ", "    "
	if rl.OldNum > 0 {
		oldNum = fmt.Sprintf("%4d", rl.OldNum)
	}
	if rl.NewNum > 0 {
		newNum = fmt.Sprintf("%4d", rl.NewNum)
	}
	gutter := lineNumberStyle.Render(oldNum) + " " + lineNumberStyle.Render(newNum) + " "

	maxContent := width - 10
	text := truncate(rl.Content, maxContent-1)
	switch rl.Type {
	case model.LineAdded:
		return gutter + addedLineStyle.Render("+"+text)
	case model.LineRemoved:
		return gutter + removedLineStyle.Render("-"+text)
	}
	if text != rl.Content {
		return gutter + " " + text
	}
	return gutter + renderHighlightedContent(rl, " ")
}

// hunkDetail is the detail pane for a single hunk.
func hunkDetail(h model.Hunk, st model.HunkState, status model.EffectiveStatus, width int) []string {
	out := []string{
		fileHeaderStyle.Render(truncate(h.FilePath, width)) + "  " + statusMarker(status) + " " + status.String(),
	}
	if len(st.Label) > 0 {
		out = append(out, labelStyle.Render(truncate(strings.Join(st.Label, ", "), width)))
	}
	if st.Reasoning != "" {
		out = append(out, dimStyle.Render(truncate(st.Reasoning, width)))
	}
	out = append(out, "")
	for _, rl := range renderHunk(h) {
		out = append(out, styleLine(rl, width))
	}
	return out
}

// groupDetail lists the members of an identical group and shows the
// shared change once.
func groupDetail(g cluster.IdenticalGroup, hunks map[string]model.Hunk, status func(string) model.EffectiveStatus, width int) []string {
	out := []string{
		fileHeaderStyle.Render(fmt.Sprintf("%d identical changes in %d files", g.Size(), len(g.Files))),
		"",
	}
	for _, id := range g.HunkIDs {
		out = append(out, statusMarker(status(id))+" "+truncate(hunkTitle(hunks[id], id), width-2))
	}
	if rep, ok := hunks[g.Representative]; ok {
		out = append(out, "")
		for _, rl := range renderHunk(rep) {
			out = append(out, styleLine(rl, width))
		}
	}
	return out
}

// clusterDetail shows a symbol's definition hunks and references. Impure
// references are marked; batch actions skip them.
func clusterDetail(c cluster.SymbolCluster, hunks map[string]model.Hunk, status func(string) model.EffectiveStatus, width int) []string {
	out := []string{
		fileHeaderStyle.Render(truncate(fmt.Sprintf("%s  defined in %s", c.Symbol, c.DefinitionFile), width)),
		"",
		listTitleStyle.Render("definitions"),
	}
	for _, id := range c.DefinitionHunks {
		out = append(out, statusMarker(status(id))+" "+truncate(hunkTitle(hunks[id], id), width-2))
	}
	out = append(out, "", listTitleStyle.Render("references"))
	for _, r := range c.References {
		line := statusMarker(status(r.HunkID)) + " " + truncate(hunkTitle(hunks[r.HunkID], r.HunkID), width-16)
		if !r.Pure {
			line += dimStyle.Render("  needs review")
		}
		out = append(out, line)
	}
	if len(c.DefinitionHunks) > 0 {
		if def, ok := hunks[c.DefinitionHunks[0]]; ok {
			out = append(out, "")
			for _, rl := range renderHunk(def) {
				out = append(out, styleLine(rl, width))
			}
		}
	}
	return out
}

func hunkTitle(h model.Hunk, id string) string {
	if h.FilePath == "" {
		return id
	}
	added, removed := h.Stats()
	return fmt.Sprintf("%s:%d  +%d -%d", h.FilePath, h.NewStart, added, removed)
}

// preview returns the first changed line of a hunk.
func preview(h model.Hunk) string {
	for _, l := range h.Lines {
		if l.IsChange() {
			return strings.TrimSpace(l.Content)
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}
