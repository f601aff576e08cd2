// Package tui renders the live service status view used by `status --watch`.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"llmn/internal/cli"
	"llmn/internal/registry"
	"llmn/pkg/logging"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"
)

// DefaultInterval is how often the watch view polls container state.
const DefaultInterval = 5 * time.Second

// Source produces a fresh set of rows.
type Source func(ctx context.Context) ([]cli.ServiceRow, error)

type rowsMsg struct {
	rows []cli.ServiceRow
	err  error
	at   time.Time
}

type tickMsg time.Time

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}).
			Background(lipgloss.AdaptiveColor{Light: "#D0D0D0", Dark: "#303030"}).
			Padding(0, 2)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	groupStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Model is the bubbletea model of the watch view.
type Model struct {
	ctx      context.Context
	title    string
	source   Source
	interval time.Duration
	spinner  spinner.Model

	rows     []cli.ServiceRow
	err      error
	loading  bool
	updated  time.Time
	quitting bool
}

// NewModel creates the model. A zero interval uses DefaultInterval.
func NewModel(ctx context.Context, title string, source Source, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model{
		ctx:      ctx,
		title:    title,
		source:   source,
		interval: interval,
		spinner:  s,
		loading:  true,
	}
}

// Rows returns the last rows received.
func (m Model) Rows() []cli.ServiceRow { return m.rows }

func (m Model) fetch() tea.Cmd {
	ctx, source := m.ctx, m.source
	return func() tea.Msg {
		rows, err := source(ctx)
		return rowsMsg{rows: rows, err: err, at: time.Now()}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			if m.loading {
				return m, nil
			}
			m.loading = true
			return m, m.fetch()
		}
	case rowsMsg:
		m.loading = false
		m.updated = msg.at
		m.err = msg.err
		if msg.err == nil {
			m.rows = msg.rows
		} else {
			logging.Warn("TUI", "Status refresh failed: %v", msg.err)
		}
		return m, tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
	case tickMsg:
		if m.loading {
			return m, nil
		}
		m.loading = true
		return m, m.fetch()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	if len(m.rows) == 0 && m.loading {
		b.WriteString(m.spinner.View() + " Checking services...\n")
		return b.String()
	}

	nameWidth := len("SERVICE")
	for _, r := range m.rows {
		if w := lipgloss.Width(r.Name); w > nameWidth {
			nameWidth = w
		}
	}
	nameCol := lipgloss.NewStyle().Width(nameWidth + 2)
	groupCol := lipgloss.NewStyle().Width(14)
	modeCol := lipgloss.NewStyle().Width(7)

	b.WriteString(headerStyle.Render(nameCol.Render("SERVICE") + groupCol.Render("GROUP") + modeCol.Render("MODE") + "STATUS"))
	b.WriteString("\n")
	for _, r := range m.rows {
		b.WriteString(nameCol.Render(r.Name))
		b.WriteString(groupCol.Render(groupStyle.Render(r.Group)))
		b.WriteString(modeCol.Render(r.Mode))
		b.WriteString(cli.FormatStatus(r.Status))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render("Refresh failed: "+m.err.Error()) + "\n")
	}

	b.WriteString("\n")
	status := "updated " + m.updated.Format("15:04:05")
	if m.loading {
		status = m.spinner.View() + " refreshing"
	}
	b.WriteString(helpStyle.Render(fmt.Sprintf("%s • r refresh • q quit", status)))
	b.WriteString("\n")
	return b.String()
}

// RegistrySource polls every service of reg concurrently and returns their
// rows in registration order. Disabled services are reported without a
// container query.
func RegistrySource(reg *registry.Registry) Source {
	return func(ctx context.Context) ([]cli.ServiceRow, error) {
		list := reg.Services()
		var g errgroup.Group
		for _, s := range list {
			if !s.IsEnabled() {
				continue
			}
			g.Go(func() error {
				res := s.CheckState(ctx)
				if !res.Success {
					logging.Debug("TUI", "State check of %s failed: %v", s.ID(), res.Err)
				}
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return cli.RowsFor(list), nil
	}
}

// Run shows the watch view until the user quits or ctx is cancelled.
func Run(ctx context.Context, title string, source Source, interval time.Duration) error {
	p := tea.NewProgram(NewModel(ctx, title, source, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
