package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		fetchAll(m.config),
		tick(m.config.RefreshInterval),
	)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case statusMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.status = msg.data
			m.lastUpdated = time.Now()
		}
		return m, nil

	case retrainMsg:
		if msg.err != nil {
			m.keepFirstError(msg.err)
		} else {
			m.retrain = msg.data
		}
		return m, nil

	case modelMsg:
		if msg.err != nil {
			m.keepFirstError(msg.err)
		} else {
			m.model = msg.data
		}
		return m, nil

	case historyMsg:
		if msg.err != nil {
			m.keepFirstError(msg.err)
		} else {
			m.history = msg.data
			if m.tableOffset >= len(m.history.Runs) {
				m.tableOffset = 0
			}
		}
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.err = msg.err
			m.notice = ""
		} else {
			m.notice = msg.notice
		}
		return m, tea.Batch(fetchRetrain(m.config), fetchHistory(m.config))

	case tickMsg:
		m.loading = true
		return m, tea.Batch(
			fetchAll(m.config),
			tick(m.config.RefreshInterval),
		)
	}

	return m, nil
}

// keepFirstError doesn't override the status error.
func (m *Model) keepFirstError(err error) {
	if m.err == nil {
		m.err = err
	}
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "r":
		m.loading = true
		return m, fetchAll(m.config)

	case "t":
		return m, postAction(m.config, "/retrain")

	case "x":
		return m, postAction(m.config, "/retrain/cancel")

	case "up", "k":
		if m.tableOffset > 0 {
			m.tableOffset--
		}
		return m, nil

	case "down", "j":
		if m.history != nil && m.tableOffset < len(m.history.Runs)-1 {
			m.tableOffset++
		}
		return m, nil
	}

	return m, nil
}
