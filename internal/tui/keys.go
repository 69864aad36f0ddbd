// SPDX-License-Identifier: MIT
package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	GainUp   key.Binding
	GainDown key.Binding
	PeakHold key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.GainUp, k.GainDown, k.PeakHold},
		{k.Help, k.Quit},
	}
}

var defaultKeys = keyMap{
	GainUp: key.NewBinding(
		key.WithKeys("+", "=", "up", "k"),
		key.WithHelp("+/↑", "gain up"),
	),
	GainDown: key.NewBinding(
		key.WithKeys("-", "down", "j"),
		key.WithHelp("-/↓", "gain down"),
	),
	PeakHold: key.NewBinding(
		key.WithKeys("p"),
		key.WithHelp("p", "toggle peak hold"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "toggle help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
