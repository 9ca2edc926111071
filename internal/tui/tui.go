// Package tui implements the terminal reviewer. It drives a
// reviewsync.Coordinator and renders hunks, identical groups and symbol
// clusters with their effective review status.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sprite-ai/triage/internal/cluster"
	"github.com/sprite-ai/triage/internal/model"
	"github.com/sprite-ai/triage/internal/review"
	"github.com/sprite-ai/triage/internal/reviewsync"
	"github.com/sprite-ai/triage/internal/trust"
)

type view int

const (
	viewHunks view = iota
	viewIdentical
	viewSymbols
	viewCount
)

func (v view) String() string {
	switch v {
	case viewHunks:
		return "hunks"
	case viewIdentical:
		return "identical"
	case viewSymbols:
		return "symbols"
	default:
		return "?"
	}
}

// Changes wakes the UI when the coordinator's view changes. Pass Notify to
// reviewsync.WithListener.
type Changes chan struct{}

// NewChanges returns a Changes ready for use.
func NewChanges() Changes { return make(Changes, 1) }

// Notify records that a new snapshot is available. It never blocks.
func (c Changes) Notify(reviewsync.Snapshot) {
	select {
	case c <- struct{}{}:
	default:
	}
}

type (
	changedMsg struct{}
	loadedMsg  struct{ err error }
	appliedMsg struct {
		action string
		out    reviewsync.Outcome
		err    error
	}
)

// Model is the Bubble Tea model for a review session.
type Model struct {
	ctx     context.Context
	coord   *reviewsync.Coordinator
	changes Changes

	// Derived from the latest snapshot; rebuilt on every change.
	snap     reviewsync.Snapshot
	byID     map[string]model.Hunk
	eval     *trust.Evaluator
	groups   []cluster.IdenticalGroup
	clusters []cluster.SymbolCluster

	view         view
	cursor       [viewCount]int
	detailScroll int

	width  int
	height int

	loading  bool
	message  string
	msgErr   bool
	showHelp bool
	spinner  spinner.Model
}

// New creates a model over coord, which should already have a comparison
// open. changes may be nil.
func New(ctx context.Context, coord *reviewsync.Coordinator, changes Changes) Model {
	m := Model{
		ctx:     ctx,
		coord:   coord,
		changes: changes,
		loading: true,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(lipgloss.NewStyle().Foreground(colorPurple))),
	}
	m.sync()
	return m
}

// sync rebuilds derived state from the coordinator.
func (m *Model) sync() {
	m.snap = m.coord.Snapshot()
	m.byID = model.IndexHunks(m.snap.Hunks)
	m.eval = trust.NewEvaluator(m.snap.Doc, nil)
	m.groups = cluster.GroupIdentical(m.snap.Hunks)
	m.clusters = cluster.ClusterSymbols(m.snap.Links, m.byID, m.eval.Reviewed)
	for v := viewHunks; v < viewCount; v++ {
		m.cursor[v] = clamp(m.cursor[v], 0, m.itemCount(v)-1)
	}
}

func (m Model) itemCount(v view) int {
	switch v {
	case viewHunks:
		return len(m.snap.Hunks)
	case viewIdentical:
		return len(m.groups)
	case viewSymbols:
		return len(m.clusters)
	}
	return 0
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(), waitForChange(m.changes), m.spinner.Tick)
}

func (m Model) load() tea.Cmd {
	ctx, coord := m.ctx, m.coord
	return func() tea.Msg {
		err := coord.LoadHunks(ctx)
		if err == nil {
			_, err = coord.Refresh(ctx)
		}
		if errors.Is(err, reviewsync.ErrStale) {
			err = nil
		}
		return loadedMsg{err: err}
	}
}

func waitForChange(c Changes) tea.Cmd {
	if c == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-c; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) apply(action string, mut review.Mutator) tea.Cmd {
	ctx, coord := m.ctx, m.coord
	return func() tea.Msg {
		out, err := coord.Apply(ctx, mut)
		return appliedMsg{action: action, out: out, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case changedMsg:
		m.sync()
		return m, waitForChange(m.changes)

	case loadedMsg:
		m.loading = false
		m.sync()
		if msg.err != nil {
			m.setMessage(fmt.Sprintf("load failed: %v", msg.err), true)
		} else {
			m.setMessage(fmt.Sprintf("loaded %d hunks, version %d", len(m.snap.Hunks), m.snap.Doc.Version), false)
		}
		return m, nil

	case appliedMsg:
		m.sync()
		switch {
		case msg.err != nil:
			m.setMessage(fmt.Sprintf("%s failed: %v", msg.action, msg.err), true)
		case msg.out.Discarded:
			m.setMessage(fmt.Sprintf("%s discarded: review changed on the server (now version %d)", msg.action, msg.out.State.Version), true)
		default:
			m.setMessage(fmt.Sprintf("%s, version %d", msg.action, msg.out.State.Version), false)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp

	case key.Matches(msg, keys.Down):
		m.move(1)

	case key.Matches(msg, keys.Up):
		m.move(-1)

	case key.Matches(msg, keys.NextView):
		m.view = (m.view + 1) % viewCount
		m.detailScroll = 0

	case key.Matches(msg, keys.PrevView):
		m.view = (m.view + viewCount - 1) % viewCount
		m.detailScroll = 0

	case key.Matches(msg, keys.ScrollDown):
		m.detailScroll += 10

	case key.Matches(msg, keys.ScrollUp):
		m.detailScroll = max(0, m.detailScroll-10)

	case key.Matches(msg, keys.Approve):
		return m.toggle(model.StatusApproved)

	case key.Matches(msg, keys.Reject):
		return m.toggle(model.StatusRejected)

	case key.Matches(msg, keys.Later):
		return m.toggle(model.StatusSavedForLater)

	case key.Matches(msg, keys.Reset):
		id, ok := m.currentHunkID()
		if !ok {
			return m, nil
		}
		return m, m.apply("reset "+id, review.ResetHunks(id))

	case key.Matches(msg, keys.BatchOK):
		return m.batch(model.StatusApproved)

	case key.Matches(msg, keys.BatchNo):
		return m.batch(model.StatusRejected)

	case key.Matches(msg, keys.Refresh):
		m.loading = true
		return m, m.load()
	}
	return m, nil
}

func (m *Model) move(delta int) {
	n := m.itemCount(m.view)
	if n == 0 {
		return
	}
	m.cursor[m.view] = clamp(m.cursor[m.view]+delta, 0, n-1)
	m.detailScroll = 0
	if m.view == viewHunks {
		m.coord.SetCursor(m.cursor[viewHunks])
	}
}

func (m Model) toggle(status model.Status) (tea.Model, tea.Cmd) {
	id, ok := m.currentHunkID()
	if !ok {
		return m, nil
	}
	return m, m.apply(fmt.Sprintf("%s %s", status, id), review.ToggleStatus(id, status))
}

func (m Model) batch(status model.Status) (tea.Model, tea.Cmd) {
	ids := m.batchTargets()
	if len(ids) == 0 {
		return m, nil
	}
	return m, m.apply(fmt.Sprintf("%s %d hunks", status, len(ids)), review.SetStatus(ids, status))
}

// currentHunkID is the hunk single-hunk actions apply to: the selected hunk,
// a group's representative or a cluster's first definition.
func (m Model) currentHunkID() (string, bool) {
	switch m.view {
	case viewHunks:
		if len(m.snap.Hunks) > 0 {
			return m.snap.Hunks[m.cursor[viewHunks]].ID, true
		}
	case viewIdentical:
		if len(m.groups) > 0 {
			return m.groups[m.cursor[viewIdentical]].Representative, true
		}
	case viewSymbols:
		if len(m.clusters) > 0 {
			if defs := m.clusters[m.cursor[viewSymbols]].DefinitionHunks; len(defs) > 0 {
				return defs[0], true
			}
		}
	}
	return "", false
}

// batchTargets is the set a group action applies to. From the hunk list
// it is the identical group of the selected hunk.
func (m Model) batchTargets() []string {
	switch m.view {
	case viewHunks:
		id, ok := m.currentHunkID()
		if !ok {
			return nil
		}
		if g, ok := cluster.GroupOf(m.groups, id); ok {
			return g.HunkIDs
		}
		return []string{id}
	case viewIdentical:
		if len(m.groups) > 0 {
			return m.groups[m.cursor[viewIdentical]].HunkIDs
		}
	case viewSymbols:
		if len(m.clusters) > 0 {
			return m.clusters[m.cursor[viewSymbols]].BatchHunkIDs()
		}
	}
	return nil
}

func (m *Model) setMessage(s string, isErr bool) {
	m.message = s
	m.msgErr = isErr
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}

	listWidth := clamp(m.width/3, 24, 56)
	detailWidth := m.width - listWidth - 1
	paneHeight := m.height - 1

	list := m.renderList(listWidth, paneHeight)
	detail := m.renderDetail(detailWidth, paneHeight)
	main := lipgloss.JoinHorizontal(lipgloss.Top, list, " ", detail)
	return lipgloss.JoinVertical(lipgloss.Left, main, m.renderStatusBar())
}

func (m Model) renderList(width, height int) string {
	inner := width - 4
	innerHeight := max(1, height-2)

	tabs := make([]string, 0, viewCount)
	for v := viewHunks; v < viewCount; v++ {
		label := fmt.Sprintf("%s %d", v, m.itemCount(v))
		if v == m.view {
			tabs = append(tabs, listTitleStyle.Render(label))
		} else {
			tabs = append(tabs, dimStyle.Render(label))
		}
	}

	items := m.listItems(inner)
	visible := max(1, innerHeight-1)
	start := clamp(m.cursor[m.view]-visible/2, 0, max(0, len(items)-visible))
	end := min(len(items), start+visible)

	var b strings.Builder
	b.WriteString(strings.Join(tabs, dimStyle.Render(" │ ")))
	for i := start; i < end; i++ {
		b.WriteByte('\n')
		style := listItemStyle
		if i == m.cursor[m.view] {
			style = listItemSelectedStyle
		}
		b.WriteString(style.Width(inner).Render(items[i]))
	}
	if len(items) == 0 {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("nothing here"))
	}
	return listStyle.Width(width).Height(innerHeight).Render(b.String())
}

func (m Model) listItems(width int) []string {
	var items []string
	switch m.view {
	case viewHunks:
		for _, h := range m.snap.Hunks {
			items = append(items, statusMarker(m.eval.Status(h.ID))+" "+truncate(hunkTitle(h, h.ID), width-2))
		}
	case viewIdentical:
		for _, g := range m.groups {
			text := fmt.Sprintf("%d× %s", g.Size(), preview(m.byID[g.Representative]))
			items = append(items, m.aggregateMarker(g.HunkIDs)+" "+truncate(text, width-2))
		}
	case viewSymbols:
		for _, c := range m.clusters {
			text := fmt.Sprintf("%s  %d refs", c.Symbol, len(c.References))
			items = append(items, m.aggregateMarker(c.HunkIDs())+" "+truncate(text, width-2))
		}
	}
	return items
}

// aggregateMarker is ✓ when every hunk in ids is reviewed, otherwise the
// number still outstanding.
func (m Model) aggregateMarker(ids []string) string {
	p := m.eval.Progress(ids)
	if p.Done() {
		return statusMarker(model.EffectiveApproved)
	}
	return statusStyles[model.EffectivePending].Render(fmt.Sprintf("%d", p.Total-p.Reviewed()))
}

func (m Model) renderDetail(width, height int) string {
	inner := width - 4
	innerHeight := max(1, height-2)

	var lines []string
	switch m.view {
	case viewHunks:
		if len(m.snap.Hunks) > 0 {
			h := m.snap.Hunks[m.cursor[viewHunks]]
			lines = hunkDetail(h, m.snap.Doc.HunkState(h.ID), m.eval.Status(h.ID), inner)
		}
	case viewIdentical:
		if len(m.groups) > 0 {
			lines = groupDetail(m.groups[m.cursor[viewIdentical]], m.byID, m.eval.Status, inner)
		}
	case viewSymbols:
		if len(m.clusters) > 0 {
			lines = clusterDetail(m.clusters[m.cursor[viewSymbols]], m.byID, m.eval.Status, inner)
		}
	}
	if len(lines) == 0 {
		msg := "No changes"
		if m.loading {
			msg = "Loading hunks..."
		}
		return detailStyle.Width(width).Height(innerHeight).Render(msg)
	}

	start := clamp(m.detailScroll, 0, max(0, len(lines)-1))
	end := min(len(lines), start+innerHeight)
	return detailStyle.Width(width).Height(innerHeight).Render(strings.Join(lines[start:end], "\n"))
}

func (m Model) renderStatusBar() string {
	state := m.snap.State.String()
	if m.loading || m.snap.State == reviewsync.StateSyncing || m.snap.Pending {
		state = m.spinner.View() + " " + state
	}
	left := fmt.Sprintf("%s  %s", state, m.snap.Key)
	if m.message != "" {
		if m.msgErr {
			left += "  " + statusErrStyle.Render(m.message)
		} else {
			left += "  " + m.message
		}
	}

	p := m.eval.HunkProgress(m.snap.Hunks)
	right := fmt.Sprintf("%d/%d reviewed %d%%  %s  ? help", p.Reviewed(), p.Total, p.Percent(), m.coord.Policy().Name())

	gap := max(0, m.width-2-lipgloss.Width(left)-lipgloss.Width(right))
	return statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderHelp() string {
	var b strings.Builder
	b.WriteString(fileHeaderStyle.Render("triage keyboard shortcuts"))
	b.WriteString("\n\n")
	for _, binding := range helpOrder {
		h := binding.Help()
		b.WriteString(fmt.Sprintf("  %s  %s\n", helpKeyStyle.Width(8).Render(h.Key), h.Desc))
	}
	b.WriteString("\n")
	b.WriteString(helpBarStyle.Render("Group actions skip references that need their own review. Press ? to close help."))
	return b.String()
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(v, hi))
}

// Run starts the reviewer and blocks until the user quits or ctx ends.
func Run(ctx context.Context, coord *reviewsync.Coordinator, changes Changes) error {
	p := tea.NewProgram(New(ctx, coord, changes), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
