package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	bar "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mameuix/mameuix/internal/engine"
	"github.com/mameuix/mameuix/internal/iconcache"
	"github.com/mameuix/mameuix/internal/job"
	"github.com/mameuix/mameuix/internal/log"
	"github.com/mameuix/mameuix/internal/model"
	"github.com/mameuix/mameuix/internal/progress"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "interactive verification with live progress, icons are loaded in the background",
	RunE:  doTUI,
}

var (
	tuiTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	tuiMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tuiOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	tuiWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	tuiBadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	tuiErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("201")).Bold(true)
	tuiPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

const tuiVisibleItems = 12

func doTUI(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("mameuix",
		slog.String("cmd", "tui"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	roms, err := loadManifest(manifestPath())
	if err != nil {
		return err
	}

	cache, err := newIconCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	e, err := engine.New(ctx, config, nil, cache)
	if err != nil {
		return err
	}
	defer func() {
		_ = e.Close()
	}()

	var icons map[string]string
	if dir := iconDir(); dir != "" {
		icons, err = requestIcons(ctx, e, dir)
		if err != nil {
			return err
		}
	}

	m := newTUIModel(ctx, e, model.Jobs(roms), icons, cache, config.Engine.Tick)
	final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(tuiModel); ok {
		return fm.fatalErr
	}
	return nil
}

type tickMsg time.Time

type tuiModel struct {
	ctx   context.Context
	e     *engine.Engine
	jobs  []job.Job
	icons map[string]string
	cache *iconcache.Cache
	frame time.Duration

	bar        bar.Model
	last       time.Time
	snap       engine.Snapshot
	issuesOnly bool
	status     string
	fatalErr   error
}

func newTUIModel(ctx context.Context, e *engine.Engine, jobs []job.Job, icons map[string]string, cache *iconcache.Cache, frame time.Duration) tuiModel {
	return tuiModel{
		ctx:   ctx,
		e:     e,
		jobs:  jobs,
		icons: icons,
		cache: cache,
		frame: frame,
		bar:   bar.New(bar.WithDefaultGradient()),
		last:  time.Now(),
	}
}

func (m tuiModel) tick() tea.Cmd {
	return tea.Tick(m.frame, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return m.tick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(min(msg.Width-4, 80), 10)
		return m, nil
	case tickMsg:
		now := time.Time(msg)
		m.e.Tick(m.ctx, now.Sub(m.last))
		m.last = now
		m.requestVisibleIcons()
		m.snap = m.e.Snapshot()
		return m, m.tick()
	case tea.KeyMsg:
		return m.updateKey(msg)
	}
	return m, nil
}

func (m tuiModel) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var err error
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "s":
		_, err = m.e.StartVerification(m.ctx, m.jobs)
		if err == nil {
			m.status = fmt.Sprintf("verifying %d roms", len(m.jobs))
		}
	case "p":
		err = m.e.Pause(m.ctx)
	case "r":
		err = m.e.Resume(m.ctx)
	case "c":
		err = m.e.Cancel(m.ctx)
	case "a":
		var s *progress.Session
		s, err = m.e.Acknowledge()
		if err == nil {
			st := s.Stats()
			m.status = fmt.Sprintf("%s: %d of %d verified", s.State(), st.Verified, st.Total)
		}
	case "i":
		m.issuesOnly = !m.issuesOnly
	default:
		return m, nil
	}
	if err != nil {
		m.status = err.Error()
		if errors.Is(err, engine.ErrClosed) {
			m.fatalErr = err
			return m, tea.Quit
		}
	}
	m.snap = m.e.Snapshot()
	return m, nil
}

// visibleItems are the rows on screen: pending and finished items in
// submission order, or only the issues.
func (m tuiModel) visibleItems() []progress.Item {
	s := m.e.Session()
	if s == nil {
		return nil
	}
	var items []progress.Item
	if m.issuesOnly {
		items = s.Issues()
	} else {
		items = s.Items()
	}
	// follow the progress, keep the last finished rows in view
	done := 0
	for i, it := range items {
		if !it.Pending() {
			done = i + 1
		}
	}
	start := max(0, min(done-tuiVisibleItems/2, len(items)-tuiVisibleItems))
	end := min(len(items), start+tuiVisibleItems)
	return items[start:end]
}

// requestVisibleIcons moves icons of visible rows to the front.
func (m tuiModel) requestVisibleIcons() {
	if m.cache == nil {
		return
	}
	for _, it := range m.visibleItems() {
		path, ok := m.icons[it.Key]
		if !ok {
			continue
		}
		if _, ok := m.cache.Get(it.Key); !ok {
			m.e.RequestIcon(it.Key, path, true)
		}
	}
}

func (m tuiModel) iconMark(key string) string {
	if m.cache == nil {
		return " "
	}
	if _, ok := m.icons[key]; !ok {
		return tuiMutedStyle.Render("·")
	}
	e, ok := m.cache.Get(key)
	switch {
	case !ok:
		return " "
	case e.Ok():
		return tuiOKStyle.Render("■")
	default:
		return tuiMutedStyle.Render("□")
	}
}

func statusStyle(s job.Status) lipgloss.Style {
	switch s {
	case job.StatusVerified:
		return tuiOKStyle
	case job.StatusWarning:
		return tuiWarnStyle
	case job.StatusMissing, job.StatusBadChecksum:
		return tuiBadStyle
	case job.StatusError:
		return tuiErrorStyle
	default:
		return tuiMutedStyle
	}
}

func (m tuiModel) View() string {
	var b strings.Builder
	snap := m.snap
	st := snap.Stats

	b.WriteString(tuiTitleStyle.Render("mameuix - ROM verification"))
	b.WriteString("  ")
	b.WriteString(tuiMutedStyle.Render(snap.State.String()))
	b.WriteString("\n\n")

	if snap.State != progress.StateIdle {
		b.WriteString(m.bar.ViewAs(st.Fraction()))
		fmt.Fprintf(&b, "  %d/%d", st.Processed(), st.Total)
		if snap.ETA > 0 {
			fmt.Fprintf(&b, "  eta %s", snap.ETA.Round(time.Second))
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s  %s  %s  %s  %s\n",
			tuiOKStyle.Render(fmt.Sprintf("verified %d", st.Verified)),
			tuiBadStyle.Render(fmt.Sprintf("missing %d", st.Missing)),
			tuiBadStyle.Render(fmt.Sprintf("bad %d", st.BadChecksum)),
			tuiWarnStyle.Render(fmt.Sprintf("warning %d", st.Warning)),
			tuiErrorStyle.Render(fmt.Sprintf("error %d", st.Error)),
		)

		var rows strings.Builder
		for _, it := range m.visibleItems() {
			name := it.Key
			if it.Description != "" {
				name += " " + tuiMutedStyle.Render(it.Description)
			}
			line := fmt.Sprintf("%s %s %s", m.iconMark(it.Key), statusStyle(it.Status).Render(fmt.Sprintf("%-12s", it.StatusName)), name)
			if it.Reason != "" {
				line += tuiMutedStyle.Render(" (" + it.Reason + ")")
			}
			rows.WriteString(line + "\n")
		}
		if rows.Len() > 0 {
			b.WriteString(tuiPanelStyle.Render(strings.TrimRight(rows.String(), "\n")))
			b.WriteString("\n")
		}
	}

	b.WriteString(tuiMutedStyle.Render(fmt.Sprintf("verify  %s", snap.Verify)))
	b.WriteString("\n")
	b.WriteString(tuiMutedStyle.Render(fmt.Sprintf("icons   %s, pending %d", snap.Icons, snap.PendingIcons)))
	b.WriteString("\n")
	b.WriteString(tuiMutedStyle.Render(fmt.Sprintf("fps %.0f  budget %d  in flight %d  workers %d/%d (%.0f%%)",
		snap.FPS, snap.Budget, snap.InFlight, snap.Busy, snap.Workers, 100*snap.Utilization())))
	b.WriteString("\n\n")

	if m.status != "" {
		b.WriteString(m.status)
		b.WriteString("\n")
	}
	b.WriteString(tuiMutedStyle.Render("s start  p pause  r resume  c cancel  a acknowledge  i issues only  q quit"))
	b.WriteString("\n")
	return b.String()
}
