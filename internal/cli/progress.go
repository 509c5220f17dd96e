package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/glorpus-work/mofetch/pkg/download"
	"github.com/glorpus-work/mofetch/pkg/orchestrator"
	"github.com/glorpus-work/mofetch/pkg/transport"
)

func formatBytes(bytes int64) string {
	if bytes < byteUnit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(byteUnit), 0
	for n := bytes / byteUnit; n >= byteUnit; n /= byteUnit {
		div *= byteUnit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatProgress(p *transport.Progress) string {
	if p == nil {
		return ""
	}
	if p.Indeterminate() {
		return fmt.Sprintf("%s (%s/s)", formatBytes(p.BytesReady), formatBytes(int64(p.Speed)))
	}
	return fmt.Sprintf("%s / %s (%s/s)", formatBytes(p.BytesReady), formatBytes(p.BytesTotal), formatBytes(int64(p.Speed)))
}

// batchItem is one row of the progress output.
type batchItem struct {
	id   int64
	name string
}

// plainReporter prints one line per item status change.
type plainReporter struct {
	out   io.Writer
	items []batchItem
	state orchestrator.BatchState
	seen  map[int64]download.Status
}

func newPlainReporter(out io.Writer, items []batchItem) *plainReporter {
	return &plainReporter{out: out, items: items, seen: make(map[int64]download.Status)}
}

func (r *plainReporter) update(state orchestrator.BatchState, full bool) {
	if !full && state.Empty() {
		return
	}
	if full {
		r.state = state
	} else {
		r.state.Apply(state)
	}

	for _, item := range r.items {
		s, ok := r.state.Items[item.id]
		if !ok || s.Status == r.seen[item.id] {
			continue
		}
		r.seen[item.id] = s.Status
		_, _ = fmt.Fprintf(r.out, "[%d] %s: %s%s\n", item.id, item.name, s.Status, itemDetail(s))
		if s.Status.Terminal() && s.PreviewError != "" {
			_, _ = fmt.Fprintf(r.out, "[%d] %s: preview failed: %s\n", item.id, item.name, s.PreviewError)
		}
		if s.Status.Terminal() && s.HookError != "" {
			_, _ = fmt.Fprintf(r.out, "[%d] %s: hook failed: %s\n", item.id, item.name, s.HookError)
		}
	}
}

func itemDetail(s orchestrator.ItemState) string {
	switch s.Status {
	case download.StatusCompleted, download.StatusExists:
		if s.Destination != "" {
			return " -> " + s.Destination
		}
	case download.StatusError:
		if s.Error != "" {
			return ": " + s.Error
		}
	}
	return ""
}

func summary(state orchestrator.BatchState) string {
	counts := state.Counts()
	return fmt.Sprintf("%s: %d completed, %d existing, %d failed, %d cancelled",
		state.Status,
		counts[download.StatusCompleted],
		counts[download.StatusExists],
		counts[download.StatusError],
		counts[download.StatusCancelled])
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("211")).MarginBottom(1)
	nameStyle    = lipgloss.NewStyle().Bold(true)
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyles = map[download.Status]lipgloss.Style{
		download.StatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		download.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		download.StatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		download.StatusExists:     lipgloss.NewStyle().Foreground(lipgloss.Color("36")),
		download.StatusError:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		download.StatusCancelled:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
)

type pollMsg struct{}

type stoppedMsg struct{}

// batchModel is the full-screen progress view of one batch.
type batchModel struct {
	source    orchestrator.Source
	stop      func()
	interval  time.Duration
	fullEvery int

	items    []batchItem
	state    orchestrator.BatchState
	bar      progress.Model
	polls    int
	stopping bool
	done     bool
}

func newBatchModel(source orchestrator.Source, stop func(), opts orchestrator.PollOptions, items []batchItem) batchModel {
	if opts.Interval <= 0 {
		opts.Interval = orchestrator.DefaultPollInterval
	}
	if opts.FullEvery <= 0 {
		opts.FullEvery = orchestrator.DefaultFullSnapshotEvery
	}
	return batchModel{
		source:    source,
		stop:      stop,
		interval:  opts.Interval,
		fullEvery: opts.FullEvery,
		items:     items,
		state:     source.State(),
		bar:       progress.New(progress.WithDefaultGradient()),
	}
}

func (m batchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return pollMsg{} })
}

func (m batchModel) Init() tea.Cmd {
	return m.tick()
}

func (m batchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.stopping {
				return m, nil
			}
			m.stopping = true
			stop := m.stop
			return m, func() tea.Msg {
				stop()
				return stoppedMsg{}
			}
		}

	case tea.WindowSizeMsg:
		m.bar.Width = max(msg.Width-4, 10)

	case stoppedMsg:
		m.state = m.source.State()
		m.done = true
		return m, tea.Quit

	case pollMsg:
		if !m.source.IsRunning() {
			m.state = m.source.State()
			m.done = true
			return m, tea.Quit
		}
		m.polls++
		if m.polls%m.fullEvery == 0 {
			m.state = m.source.State()
		} else {
			m.state.Apply(m.source.LatestDelta())
		}
		return m, m.tick()
	}
	return m, nil
}

func (m batchModel) View() string {
	var b strings.Builder
	title := "Downloading models"
	if m.stopping && !m.done {
		title = "Stopping..."
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	for _, item := range m.items {
		s := m.state.Items[item.id]
		status := statusStyles[s.Status].Render(string(s.Status))
		b.WriteString(fmt.Sprintf("%s %s\n", nameStyle.Render(item.name), status))

		switch {
		case s.Status == download.StatusInProgress && s.Progress != nil:
			if pct, ok := s.Progress.Percent(); ok {
				b.WriteString(m.bar.ViewAs(pct / 100))
				b.WriteString("\n")
			}
			b.WriteString(detailStyle.Render(s.Filename + "  " + formatProgress(s.Progress)))
			b.WriteString("\n")
		case s.Status == download.StatusError:
			b.WriteString(errorStyle.Render(s.Error))
			b.WriteString("\n")
		case s.Status.Terminal() && s.Destination != "":
			b.WriteString(detailStyle.Render(s.Destination))
			b.WriteString("\n")
		}
		if s.PreviewError != "" {
			b.WriteString(errorStyle.Render("preview: " + s.PreviewError))
			b.WriteString("\n")
		}
	}

	if m.done {
		b.WriteString("\n")
		b.WriteString(summary(m.state))
		b.WriteString("\n")
	} else {
		b.WriteString(detailStyle.Render("\nq: stop"))
	}
	return b.String()
}
