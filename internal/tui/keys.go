package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up         key.Binding
	Down       key.Binding
	NextView   key.Binding
	PrevView   key.Binding
	Approve    key.Binding
	Reject     key.Binding
	Later      key.Binding
	Reset      key.Binding
	BatchOK    key.Binding
	BatchNo    key.Binding
	Refresh    key.Binding
	ScrollDown key.Binding
	ScrollUp   key.Binding
	Help       key.Binding
	Quit       key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "previous item"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "next item"),
	),
	NextView: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next view"),
	),
	PrevView: key.NewBinding(
		key.WithKeys("shift+tab"),
		key.WithHelp("S-tab", "previous view"),
	),
	Approve: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "toggle approved"),
	),
	Reject: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "toggle rejected"),
	),
	Later: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "toggle saved for later"),
	),
	Reset: key.NewBinding(
		key.WithKeys("u"),
		key.WithHelp("u", "reset to pending"),
	),
	BatchOK: key.NewBinding(
		key.WithKeys("A"),
		key.WithHelp("A", "approve group"),
	),
	BatchNo: key.NewBinding(
		key.WithKeys("R"),
		key.WithHelp("R", "reject group"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("g"),
		key.WithHelp("g", "reload from server"),
	),
	ScrollDown: key.NewBinding(
		key.WithKeys("ctrl+d", "pgdown"),
		key.WithHelp("C-d", "scroll detail down"),
	),
	ScrollUp: key.NewBinding(
		key.WithKeys("ctrl+u", "pgup"),
		key.WithHelp("C-u", "scroll detail up"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// helpOrder is the order bindings appear on the help screen.
var helpOrder = []key.Binding{
	keys.Up, keys.Down, keys.NextView, keys.PrevView,
	keys.Approve, keys.Reject, keys.Later, keys.Reset,
	keys.BatchOK, keys.BatchNo, keys.Refresh,
	keys.ScrollDown, keys.ScrollUp, keys.Help, keys.Quit,
}
