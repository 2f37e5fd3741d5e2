package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/despacho/service"
)

var quitKey = key.NewBinding(
	key.WithKeys("q", "ctrl+c"),
	key.WithHelp("q", "quit"),
)

type tickMsg time.Time

// StatusModel is a Bubble Tea model for the session status view. It
// re-reads the status every interval when a source is set.
type StatusModel struct {
	status   service.Status
	source   func() service.Status
	interval time.Duration
	quitting bool
}

// NewStatusModel creates a status model. source may be nil for a static view.
func NewStatusModel(status service.Status, source func() service.Status, interval time.Duration) StatusModel {
	if interval <= 0 {
		interval = time.Second
	}
	return StatusModel{status: status, source: source, interval: interval}
}

// Init implements tea.Model.
func (m StatusModel) Init() tea.Cmd {
	return m.tick()
}

func (m StatusModel) tick() tea.Cmd {
	if m.source == nil {
		return nil
	}
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.status = m.source()
		return m, m.tick()
	case tea.KeyMsg:
		if key.Matches(msg, quitKey) {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m StatusModel) View() string {
	if m.quitting {
		return ""
	}
	conn := m.status.Connection
	snap := m.status.Metrics

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Session Status"))
	b.WriteString("\n")
	b.WriteString(field("Session", snap.SessionID))
	b.WriteString(field("Remote backend", snap.Backend))
	b.WriteString(field("Local backend", snap.LocalBackend))
	b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Connection"), StateStyle(conn.Status).Render(conn.Status)))
	if conn.LastPermissionCheck != nil {
		b.WriteString(field("Last permission error", conn.LastPermissionCheck.Local().Format("2006-01-02 15:04:05")))
	}
	b.WriteString("\n")

	permColor := successColor
	if conn.HasPermissionIssues {
		permColor = errorColor
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Permission errors", int64(conn.PermissionDeniedCount), permColor),
		renderStatBox("Ops succeeded", snap.OpsSucceeded, successColor),
		renderStatBox("Ops failed", snap.OpsFailed, errorColor),
		renderStatBox("Retries", snap.Retries["permission"]+snap.Retries["transient"], warningColor),
	))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Fresh reads", snap.CacheReads["fresh"], successColor),
		renderStatBox("Stale reads", snap.CacheReads["stale"], warningColor),
		renderStatBox("Fetched", snap.CacheReads["fetched"], highlightColor),
		renderStatBox("Fallback", snap.CacheReads["fallback"]+snap.CacheReads["empty"], errorColor),
	))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Chunks committed", snap.BatchChunksCommitted, highlightColor),
		renderStatBox("Live snapshots", snap.LiveSnapshots, highlightColor),
		renderStatBox("Local writes failed", snap.LocalWriteFailure, errorColor),
	))

	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to quit"))
	return b.String()
}

func field(label, value string) string {
	return fmt.Sprintf("%s %s\n", LabelStyle.Render(label), ValueStyle.Render(value))
}

func renderStatBox(label string, value int64, color lipgloss.Color) string {
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	return StatBoxStyle.BorderForeground(color).Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

// RunStatus runs the status view until the user quits or ctx ends.
func RunStatus(ctx context.Context, status service.Status, source func() service.Status) error {
	p := tea.NewProgram(NewStatusModel(status, source, time.Second), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// RenderStatusStatic renders the status view without a program.
func RenderStatusStatic(status service.Status) string {
	return lipgloss.NewStyle().Padding(1, 2).Render(NewStatusModel(status, nil, 0).View())
}
