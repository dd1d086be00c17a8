// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"micscope/internal/pipeline"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	defaultWidth  = 80
	spectrumRows  = 10
	meterWidth    = 40
	dbDisplaySpan = 80.0 // dB shown below the loudest bin
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8A8A8")).
			Width(11)

	meterStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065"))

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#5A56E0"))
)

var barLevels = []rune(" ▁▂▃▄▅▆▇█")

type monitorKeyMap struct {
	Quit key.Binding
}

func (k monitorKeyMap) ShortHelp() []key.Binding  { return []key.Binding{k.Quit} }
func (k monitorKeyMap) FullHelp() [][]key.Binding { return [][]key.Binding{{k.Quit}} }

var monitorKeys = monitorKeyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q/esc", "quit"),
	),
}

// Monitor is the terminal rendering collaborator. Render keeps a copy of
// the latest Update; the Bubble Tea program polls it on its own refresh
// timer, so a slow terminal never holds up the Update Driver.
type Monitor struct {
	device  string
	refresh time.Duration
	latest  atomic.Pointer[pipeline.Update]
}

// NewMonitor returns a Monitor for the named device, redrawing every
// refresh.
func NewMonitor(device string, refresh time.Duration) *Monitor {
	if refresh <= 0 {
		refresh = 100 * time.Millisecond
	}
	return &Monitor{device: device, refresh: refresh}
}

// Render stores a copy of u for the next redraw.
func (m *Monitor) Render(u *pipeline.Update) error {
	m.latest.Store(u.Clone())
	return nil
}

// Close is a no-op; the program ends with Run's context or a quit key.
func (m *Monitor) Close() error {
	return nil
}

// Run shows the monitor until the user quits or ctx is cancelled. A quit
// key returns nil, so callers treat Run returning as the signal to shut
// the pipeline down.
func (m *Monitor) Run(ctx context.Context) error {
	p := tea.NewProgram(
		newMonitorModel(m),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
	)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

type refreshMsg time.Time

type monitorModel struct {
	source   *Monitor
	snapshot *pipeline.Update
	width    int
	help     help.Model
}

func newMonitorModel(source *Monitor) monitorModel {
	return monitorModel{
		source: source,
		width:  defaultWidth,
		help:   help.New(),
	}
}

func (m monitorModel) refresh() tea.Cmd {
	return tea.Tick(m.source.refresh, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m monitorModel) Init() tea.Cmd {
	return m.refresh()
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case tea.KeyMsg:
		if key.Matches(msg, monitorKeys.Quit) {
			return m, tea.Quit
		}

	case refreshMsg:
		m.snapshot = m.source.latest.Load()
		return m, m.refresh()
	}
	return m, nil
}

func (m monitorModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Spectrum Monitor"))
	sb.WriteString("  ")
	sb.WriteString(infoStyle.Render(m.source.device))
	sb.WriteString("\n\n")

	u := m.snapshot
	if u == nil {
		sb.WriteString("Waiting for the first frame...\n\n")
		sb.WriteString(m.help.View(monitorKeys))
		return sb.String()
	}

	f := u.Features
	sb.WriteString(labelStyle.Render("Peak"))
	sb.WriteString(meterStyle.Render(levelMeter(f.PeakAmplitude, meterWidth)))
	sb.WriteString(fmt.Sprintf(" %.3f\n", f.PeakAmplitude))

	sb.WriteString(labelStyle.Render("Dominant"))
	sb.WriteString(highlightStyle.Render(fmt.Sprintf("%8.1f Hz", f.DominantFrequency)))
	sb.WriteString(fmt.Sprintf("  bin %d  %.1f dB\n", f.DominantBin, f.DominantDB))

	sb.WriteString(labelStyle.Render("Tick"))
	sb.WriteString(fmt.Sprintf("%d  frame %d\n\n", u.Tick, u.FrameSeq))

	cols := max(m.width-2, 10)
	for _, row := range spectrumBars(u.Spectrum, cols, spectrumRows, u.Decibels) {
		sb.WriteString(barStyle.Render(row))
		sb.WriteString("\n")
	}
	sb.WriteString(frequencyAxis(u.Frequencies, cols))
	sb.WriteString("\n\n")
	sb.WriteString(m.help.View(monitorKeys))
	return sb.String()
}

// levelMeter draws a bar of width cells filled in proportion to level,
// clamped to [0, 1].
func levelMeter(level float64, width int) string {
	filled := int(math.Round(math.Max(0, math.Min(1, level)) * float64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// spectrumBars folds spectrum into cols columns, each the maximum of its
// bins, and draws them as rows lines of block characters, top row first.
// Linear spectra scale to the loudest column; dB spectra show the
// dbDisplaySpan below it.
func spectrumBars(spectrum []float64, cols, rows int, decibels bool) []string {
	out := make([]string, rows)
	if len(spectrum) == 0 || cols < 1 || rows < 1 {
		return out
	}
	cols = min(cols, len(spectrum))

	heights := make([]float64, cols)
	top := math.Inf(-1)
	for c := range heights {
		lo := c * len(spectrum) / cols
		hi := (c + 1) * len(spectrum) / cols
		v := spectrum[lo]
		for _, x := range spectrum[lo+1 : hi] {
			v = math.Max(v, x)
		}
		heights[c] = v
		top = math.Max(top, v)
	}

	floor := 0.0
	if decibels {
		floor = top - dbDisplaySpan
	}
	span := top - floor

	levels := len(barLevels) - 1
	lines := make([][]rune, rows)
	for r := range lines {
		lines[r] = make([]rune, cols)
	}
	for c, v := range heights {
		frac := 0.0
		if span > 0 {
			frac = math.Max(0, (v-floor)/span)
		}
		eighths := int(math.Round(frac * float64(rows*levels)))
		for r := range rows {
			fill := min(max(eighths-r*levels, 0), levels)
			lines[rows-1-r][c] = barLevels[fill]
		}
	}
	for r := range lines {
		out[r] = string(lines[r])
	}
	return out
}

// frequencyAxis labels the left edge, middle and right edge of a cols wide
// spectrum.
func frequencyAxis(freqs []float64, cols int) string {
	if len(freqs) == 0 {
		return ""
	}
	left := "0 Hz"
	mid := fmt.Sprintf("%.0f Hz", freqs[len(freqs)/2])
	right := fmt.Sprintf("%.0f Hz", freqs[len(freqs)-1])

	gap := cols - len(left) - len(mid) - len(right)
	if gap < 2 {
		return left + " … " + right
	}
	return left + strings.Repeat(" ", gap/2) + mid + strings.Repeat(" ", gap-gap/2) + right
}
