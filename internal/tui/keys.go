package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up         key.Binding
	Down       key.Binding
	Enter      key.Binding
	Back       key.Binding
	Refresh    key.Binding
	Queue      key.Binding
	Deregister key.Binding
	Quit       key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Enter:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "view")),
		Back:       key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		Refresh:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Queue:      key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "queue")),
		Deregister: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "deregister")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// keyHelp adapts a binding list to help.KeyMap.
type keyHelp []key.Binding

func (k keyHelp) ShortHelp() []key.Binding   { return k }
func (k keyHelp) FullHelp() [][]key.Binding { return [][]key.Binding{k} }

func (k keyMap) listHelp() keyHelp {
	return keyHelp{k.Enter, k.Queue, k.Deregister, k.Refresh, k.Quit}
}

func (k keyMap) detailHelp() keyHelp {
	return keyHelp{k.Up, k.Down, k.Queue, k.Deregister, k.Refresh, k.Back}
}
