// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program for the monitor
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Control carries signals from the TUI back to the monitor
type Control struct {
	Quit chan QuitMsg
}

// NewControl creates a control handle
func NewControl() *Control {
	return &Control{
		Quit: make(chan QuitMsg, 1),
	}
}

// NewModel creates a new TUI model
func NewModel(ctrl *Control) Model {
	m := Model{}
	if ctrl != nil {
		m.quitCh = ctrl.Quit
	}
	return m
}

// Run creates the TUI program; the caller starts it
func Run(ctrl *Control) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(ctrl), tea.WithAltScreen())
	return p, nil
}
