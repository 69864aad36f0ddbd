// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"spectra/internal/display"
	"spectra/internal/dsp"
)

// GainStep is the gain change applied per key press.
const GainStep = 0.1

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065"))

	peakStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E8B13A")).
			Bold(true)
)

// viewMsg carries a private copy of a surface view into the program.
type viewMsg display.View

// SpectrumModel is the Bubble Tea model drawing spectrum bars.
type SpectrumModel struct {
	title    string
	keys     keyMap
	help     help.Model
	settings func() dsp.Settings
	apply    func(dsp.Settings)

	view   display.View
	frames uint64
	width  int
	height int
}

// NewSpectrumModel creates a model. current reports the settings the
// surfaces are using now, which may have been changed elsewhere since the
// last key press. apply, when non-nil, receives every settings change made
// from the keyboard.
func NewSpectrumModel(title string, current func() dsp.Settings, apply func(dsp.Settings)) SpectrumModel {
	if current == nil {
		defaults := dsp.DefaultSettings()
		current = func() dsp.Settings { return defaults }
	}
	return SpectrumModel{
		title:    title,
		keys:     defaultKeys,
		help:     help.New(),
		settings: current,
		apply:    apply,
		width:    80,
		height:   24,
	}
}

// Init implements tea.Model.
func (m SpectrumModel) Init() tea.Cmd {
	return nil
}

// Settings returns the live smoothing settings.
func (m SpectrumModel) Settings() dsp.Settings {
	return m.settings().Validate()
}

// Update implements tea.Model.
func (m SpectrumModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case viewMsg:
		m.view = display.View(msg)
		m.frames++

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll

		case key.Matches(msg, m.keys.GainUp):
			m.adjust(func(s *dsp.Settings) { s.Gain += GainStep })

		case key.Matches(msg, m.keys.GainDown):
			m.adjust(func(s *dsp.Settings) { s.Gain -= GainStep })

		case key.Matches(msg, m.keys.PeakHold):
			m.adjust(func(s *dsp.Settings) { s.PeakHoldOn = !s.PeakHoldOn })
		}
	}

	return m, nil
}

// adjust changes one field of the live settings and applies the result, so
// fields changed elsewhere are carried over unchanged.
func (m SpectrumModel) adjust(change func(*dsp.Settings)) {
	s := m.settings()
	change(&s)
	if m.apply != nil {
		m.apply(s.Validate())
	}
}

// View implements tea.Model.
func (m SpectrumModel) View() string {
	if m.frames == 0 {
		return "Waiting for audio..."
	}

	settings := m.Settings()
	title := titleStyle.Render(m.title)
	status := infoStyle.Render(fmt.Sprintf("RMS %.3f • latency %s • gain %.1f • peak hold %s • frame %d",
		m.view.RMS, m.view.Latency, settings.Gain, onOff(settings.PeakHoldOn), m.view.Seq))

	return fmt.Sprintf("%s\n\n%s\n%s\n\n%s", title, m.renderBars(settings.PeakHoldOn), status, m.help.View(m.keys))
}

// renderBars draws one column per band, bottom up, with the peak-hold
// marker above the bar.
func (m SpectrumModel) renderBars(peakHold bool) string {
	rows := max(m.height-8, 4)
	bands := m.view.Bands
	if len(bands) == 0 {
		return ""
	}
	colWidth := max(m.width/len(bands), 1)
	bar := strings.Repeat("█", colWidth)
	peak := strings.Repeat("▔", colWidth)
	gap := strings.Repeat(" ", colWidth)

	var sb strings.Builder
	for row := rows; row >= 1; row-- {
		for i, v := range bands {
			switch {
			case int(v*float64(rows)+0.5) >= row:
				sb.WriteString(barStyle.Render(bar))
			case peakHold && i < len(m.view.Peaks) && int(m.view.Peaks[i]*float64(rows)+0.5) == row:
				sb.WriteString(peakStyle.Render(peak))
			default:
				sb.WriteString(gap)
			}
		}
		if row > 1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// Renderer forwards surface views into a running program.
type Renderer struct {
	send func(tea.Msg)
}

var _ display.Renderer = (*Renderer)(nil)

// NewRenderer creates a renderer; send is normally (*tea.Program).Send.
func NewRenderer(send func(tea.Msg)) *Renderer {
	return &Renderer{send: send}
}

// Send copies the view, since surfaces reuse it, and posts it to the program.
func (r *Renderer) Send(v *display.View) error {
	c := *v
	c.Bands = append([]float64(nil), v.Bands...)
	c.Peaks = append([]float64(nil), v.Peaks...)
	r.send(viewMsg(c))
	return nil
}

// NewProgram creates the full-screen program for a model. The program exits
// when ctx is cancelled.
func NewProgram(ctx context.Context, m SpectrumModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
}

// Run runs the program until the user quits or ctx is cancelled.
func Run(p *tea.Program) error {
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
