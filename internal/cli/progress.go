package cli

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/apiharvest/internal/models"
	"github.com/raphaelgruber/apiharvest/internal/service"
)

// maxShownFailures limits the failure list in summaries.
const maxShownFailures = 10

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// snapshotMsg carries the next run state. ok is false once the stream ended.
type snapshotMsg struct {
	snap service.RunSnapshot
	ok   bool
}

// progressModel is the bubbletea model for run progress.
type progressModel struct {
	updates  <-chan service.RunSnapshot
	cancel   func() // stops a local run; nil for server runs
	run      service.RunSnapshot
	progress progress.Model
	theme    Theme

	done       bool
	detached   bool // user left a server run going
	cancelling bool
}

func newProgressModel(first service.RunSnapshot, updates <-chan service.RunSnapshot, cancel func()) progressModel {
	return progressModel{
		updates: updates,
		cancel:  cancel,
		run:     first,
		progress: progress.New(
			progress.WithDefaultBlend(),
			progress.WithWidth(40),
		),
		theme: defaultTheme,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		waitForUpdate(m.updates),
		m.progress.Init(),
	)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.cancel == nil {
				m.detached = true
				return m, tea.Quit
			}
			// Local runs are cancelled and reported once they wind down.
			if !m.cancelling {
				m.cancelling = true
				m.cancel()
			}
		}

	case snapshotMsg:
		if !msg.ok {
			m.done = true
			return m, tea.Quit
		}
		m.run = msg.snap
		return m, waitForUpdate(m.updates)

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.detached {
		return m.finalView()
	}

	var pct float64
	if m.run.ItemsFound > 0 {
		pct = float64(m.run.ItemsProcessed+m.run.ItemsFailed) / float64(m.run.ItemsFound)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s %s]", m.run.Source, m.run.Status))
	bar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d found, %d converted, %d failed",
		m.run.ItemsFound, m.run.ItemsProcessed, m.run.ItemsFailed)

	hint := "Press q to cancel the run"
	switch {
	case m.cancelling:
		hint = "Cancelling, waiting for in-flight items..."
	case m.cancel == nil:
		hint = "Press q to continue in background"
	}

	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, counts, m.theme.hintStyle().Render(hint))
}

func (m progressModel) finalView() string {
	if m.detached {
		msg := fmt.Sprintf("\nRun %s continues on the server.\nUse 'apiharvest runs %s' to check status.\n",
			m.run.ID, m.run.ID)
		return m.theme.hintStyle().Render(msg)
	}
	return summary(m.run, m.theme)
}

// summary renders the final state of a run.
func summary(run service.RunSnapshot, theme Theme) string {
	var b strings.Builder
	if run.Status == models.RunStatusCompleted {
		b.WriteString(theme.completedStyle().Render("✓ Run " + run.ID + " completed"))
	} else {
		b.WriteString(theme.errorStyle().Render("✗ Run " + run.ID + " " + run.Status))
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "  Items found:     %d\n", run.ItemsFound)
	fmt.Fprintf(&b, "  Items converted: %d\n", run.ItemsProcessed)
	fmt.Fprintf(&b, "  Items failed:    %d\n", run.ItemsFailed)
	if run.CompletedAt != nil {
		fmt.Fprintf(&b, "  Duration:        %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
	}
	if run.Error != "" {
		b.WriteString(theme.errorStyle().Render("\nError: "+run.Error) + "\n")
	}
	if len(run.Failures) > 0 {
		b.WriteString(theme.errorStyle().Render(fmt.Sprintf("\nFailures (%d):", len(run.Failures))) + "\n")
		for i, f := range run.Failures {
			if i == maxShownFailures {
				fmt.Fprintf(&b, "  … and %d more\n", len(run.Failures)-maxShownFailures)
				break
			}
			fmt.Fprintf(&b, "  • %s\n", f)
		}
	}
	return b.String()
}

func waitForUpdate(ch <-chan service.RunSnapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		return snapshotMsg{snap: snap, ok: ok}
	}
}

// RunProgress shows the live progress view until updates is closed.
// cancel is called when the user quits a local run; pass nil for server runs,
// which keep going in the background. It returns the last state seen and
// whether the user detached.
func RunProgress(first service.RunSnapshot, updates <-chan service.RunSnapshot, cancel func()) (service.RunSnapshot, bool, error) {
	p := tea.NewProgram(newProgressModel(first, updates, cancel))

	finalModel, err := p.Run()
	if err != nil {
		return first, false, fmt.Errorf("progress UI error: %w", err)
	}
	m, ok := finalModel.(progressModel)
	if !ok {
		return first, false, nil
	}
	return m.run, m.detached, nil
}
