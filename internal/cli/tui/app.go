package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// minRefresh keeps the poll loop from hammering the server.
const minRefresh = 250 * time.Millisecond

func (c Config) normalized() Config {
	if c.RefreshInterval < minRefresh {
		c.RefreshInterval = minRefresh
	}
	return c
}

// checkServer makes sure the dashboard has something to show before it
// takes over the terminal.
func checkServer(cfg Config) error {
	if _, err := newAPIClient(cfg).get("/health"); err != nil {
		return fmt.Errorf("dermfox server at %s is not reachable: %w", cfg.ServerURL, err)
	}
	return nil
}

// Run starts the dashboard and blocks until the user quits.
func Run(cfg Config) error {
	cfg = cfg.normalized()
	if err := checkServer(cfg); err != nil {
		return err
	}

	p := tea.NewProgram(NewModel(cfg), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
