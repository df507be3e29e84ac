package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Refresh  key.Binding
	Expand   key.Binding
	Navigate key.Binding
	Help     key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Expand: key.NewBinding(
		key.WithKeys("e"),
		key.WithHelp("e", "expand"),
	),
	Navigate: key.NewBinding(
		key.WithKeys("n"),
		key.WithHelp("n", "reset gestures"),
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

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Expand, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Refresh, k.Expand, k.Navigate},
		{k.Help, k.Quit},
	}
}
