package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const gib = 1024 * 1024 * 1024

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var sections []string

	sections = append(sections, m.renderTitleBar())

	if m.err != nil {
		sections = append(sections, errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	} else if m.notice != "" {
		sections = append(sections, noticeStyle.Render("  "+m.notice))
	}

	if m.model != nil || m.retrain != nil {
		sections = append(sections, m.renderModel())
	}

	if m.status != nil && m.status.Resources != nil {
		sections = append(sections, m.renderCPUMemory())

		if len(m.status.Resources.Storage) > 0 {
			sections = append(sections, m.renderStorage())
		}
	}

	if m.history != nil && len(m.history.Runs) > 0 {
		sections = append(sections, m.renderHistory())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderTitleBar() string {
	title := titleStyle.Render("DERMFOX DASHBOARD")

	refreshInfo := fmt.Sprintf("↻ %s", m.config.RefreshInterval)
	if m.loading {
		refreshInfo = "↻ loading..."
	}

	help := helpStyle.Render("q:quit r:refresh t:retrain x:cancel ↑↓:scroll")

	rightPart := fmt.Sprintf("%s | %s", refreshInfo, help)
	spacing := m.width - lipgloss.Width(title) - lipgloss.Width(rightPart) - 2
	if spacing < 1 {
		spacing = 1
	}

	return fmt.Sprintf("%s%s%s", title, strings.Repeat(" ", spacing), helpStyle.Render(rightPart))
}

func (m Model) renderModel() string {
	var lines []string
	lines = append(lines, sectionHeaderStyle.Render("  Model"))

	if md := m.model; md != nil {
		published := "-"
		if !md.PublishedAt.IsZero() {
			published = md.PublishedAt.Local().Format(time.DateTime)
		}
		lines = append(lines, fmt.Sprintf("  %s %s  %s %s  %s %s  %s %s",
			labelStyle.Render("version"), valueStyle.Render(fmt.Sprintf("%d", md.Version)),
			labelStyle.Render("source"), valueStyle.Render(md.Source),
			labelStyle.Render("params"), valueStyle.Render(formatNumber(md.Params)),
			labelStyle.Render("published"), valueStyle.Render(published),
		))
	}

	if rt := m.retrain; rt != nil {
		percent := 0.0
		if rt.Threshold > 0 {
			percent = float64(rt.Staged) / float64(rt.Threshold) * 100
		}
		bar := m.renderProgressBar("Staged", min(percent, 100), 20)
		state := statusStyle(rt.State).Render(rt.State)
		if rt.State == "running" {
			state += labelStyle.Render(fmt.Sprintf(" (%s, %s)",
				rt.RunTrigger, time.Since(rt.RunStarted).Round(time.Second)))
		}
		lines = append(lines, fmt.Sprintf("  %s %s  %s %s",
			bar,
			valueStyle.Render(fmt.Sprintf("%d/%d", rt.Staged, rt.Threshold)),
			labelStyle.Render("retrain"),
			state,
		))
		lines = append(lines, fmt.Sprintf("  %s %s  %s %s  %s %s",
			labelStyle.Render("runs"), valueStyle.Render(fmt.Sprintf("%d", rt.Runs)),
			labelStyle.Render("ok"), successStyle.Render(fmt.Sprintf("%d", rt.Successes)),
			labelStyle.Render("failed"), failureStyle.Render(fmt.Sprintf("%d", rt.Failures)),
		))
		if rt.LastError != "" {
			lines = append(lines, "  "+failureStyle.Render(truncate(rt.LastError, max(m.width-4, 20))))
		}
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderCPUMemory() string {
	res := m.status.Resources
	cpuBar := m.renderProgressBar("CPU", res.CPU.UsagePercent, 20)
	memBar := m.renderProgressBar("Memory", res.Memory.UsagePercent, 20)

	return fmt.Sprintf("  %s    %s", cpuBar, memBar)
}

func (m Model) renderProgressBar(label string, percent float64, width int) string {
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	color := getProgressColor(percent)
	filledBar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled))
	emptyBar := progressBarEmptyStyle.Render(strings.Repeat("░", width-filled))

	return fmt.Sprintf("%s [%s%s] %5.1f%%", labelStyle.Render(label), filledBar, emptyBar, percent)
}

func (m Model) renderStorage() string {
	storage := m.status.Resources.Storage

	var lines []string
	lines = append(lines, sectionHeaderStyle.Render(fmt.Sprintf("  Storage (min free %.1f GB)",
		float64(m.status.MinFreeDiskBytes)/gib)))

	labels := make([]string, 0, len(storage))
	for label := range storage {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		disk := storage[label]
		freeGB := float64(disk.FreeBytes) / gib
		totalGB := float64(disk.TotalBytes) / gib

		bar := m.renderProgressBar(fmt.Sprintf("%-7s", truncate(label, 7)), disk.UsedPct, 20)
		info := fmt.Sprintf("(%.1f GB free of %.1f)", freeGB, totalGB)

		lines = append(lines, fmt.Sprintf("  %s  %s", bar, valueStyle.Render(info)))
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderHistory() string {
	runs := m.history.Runs

	var lines []string
	lines = append(lines, sectionHeaderStyle.Render("  Recent Retrains"))

	header := fmt.Sprintf("  %-19s │ %-9s │ %-9s │ %7s │ %6s │ %7s │ %7s",
		"Started", "Trigger", "Status", "Samples", "Epochs", "Val acc", "Version")
	lines = append(lines, tableHeaderStyle.Render(header))

	maxVisible := 5
	start := m.tableOffset
	if start >= len(runs) {
		start = 0
	}
	end := min(start+maxVisible, len(runs))

	for _, r := range runs[start:end] {
		status := statusStyle(r.Status).Render(fmt.Sprintf("%-9s", r.Status))
		row := fmt.Sprintf("  %-19s │ %-9s │ %s │ %7d │ %6d │ %6.1f%% │ %7d",
			r.StartedAt.Local().Format(time.DateTime),
			truncate(r.Trigger, 9),
			status,
			r.Samples,
			r.Epochs,
			r.ValAccuracy*100,
			r.ModelVersion,
		)
		lines = append(lines, tableCellStyle.Render(row))
	}

	if len(runs) > maxVisible {
		scrollInfo := fmt.Sprintf("  [%d-%d of %d runs]", start+1, end, len(runs))
		lines = append(lines, helpStyle.Render(scrollInfo))
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderFooter() string {
	if m.status == nil {
		return ""
	}

	parts := []string{fmt.Sprintf("Up: %s", m.status.Uptime)}
	if m.model != nil && m.model.ServerVersion != "" {
		parts = append(parts, "Server: "+m.model.ServerVersion)
	}
	if res := m.status.Resources; res != nil {
		p := res.Process
		parts = append(parts,
			fmt.Sprintf("PID %d", p.PID),
			fmt.Sprintf("RSS: %.0f MB", float64(p.RSSBytes)/1024/1024),
			fmt.Sprintf("Goroutines: %s", formatNumber(p.Goroutines)),
		)
	}
	parts = append(parts, "Updated: "+m.lastUpdated.Format("15:04:05"))

	return helpStyle.Render("  " + strings.Join(parts, " │ "))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func formatNumber(n int) string {
	if n >= 1000000 {
		return fmt.Sprintf("%d,%03d,%03d", n/1000000, n/1000%1000, n%1000)
	}
	if n >= 1000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d", n)
}
