package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Submit    key.Binding
	Switch    key.Binding
	Retry     key.Binding
	ClearFile key.Binding
	Dismiss   key.Binding
	Cancel    key.Binding
	Quit      key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.Switch, k.ClearFile, k.Retry, k.Cancel, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Submit, k.Switch, k.ClearFile},
		{k.Retry, k.Dismiss, k.Cancel, k.Quit},
	}
}

var keys = keyMap{
	Submit:    key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "share")),
	Switch:    key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "text/photo")),
	Retry:     key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "reload")),
	ClearFile: key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "remove photo")),
	Dismiss:   key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "dismiss failed")),
	Cancel:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel post")),
	Quit:      key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}
