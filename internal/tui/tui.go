// Package tui draws a live terminal view of the control loop.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/teslashibe/go-posemusic/pkg/loop"
	"github.com/teslashibe/go-posemusic/pkg/mapping"
)

// refresh is how often the view polls the loop.
const refresh = 250 * time.Millisecond

// maxEvents is how many events the view lists.
const maxEvents = 6

// Controller is the part of the loop the view reads and drives.
type Controller interface {
	Status() loop.Perf
	Config() loop.Config
	SetMode(mode mapping.Mode) error
	SetBackground(on bool)
	Background() bool
	Stop()
}

var (
	cFrame  = lipgloss.Color("#4C566A")
	cText   = lipgloss.Color("#D8DEE9")
	cAccent = lipgloss.Color("#88C0D0")
	cGood   = lipgloss.Color("#A3BE8C")
	cWarn   = lipgloss.Color("#EBCB8B")
	cBad    = lipgloss.Color("#BF616A")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(cAccent)
	sectionStyle = lipgloss.NewStyle().MarginTop(1).Foreground(cFrame)
	labelStyle   = lipgloss.NewStyle().Width(12).Foreground(cFrame)
	valueStyle   = lipgloss.NewStyle().Foreground(cText)
	badgeStyle   = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("#2E3440"))
	helpStyle    = lipgloss.NewStyle().Faint(true)
)

type tickMsg time.Time

// EventMsg carries a loop event into the view.
type EventMsg loop.Event

// CommandMsg carries the latest dispatched command into the view.
type CommandMsg mapping.Command

// Model is the bubbletea model.
type Model struct {
	ctrl   Controller
	perf   loop.Perf
	mode   mapping.Mode
	scale  string
	events []loop.Event
	last   *mapping.Command
	err    error
	width  int
	quit   bool
}

// New creates a model over ctrl.
func New(ctrl Controller) Model {
	m := Model{ctrl: ctrl}
	m.poll()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) poll() {
	m.perf = m.ctrl.Status()
	cfg := m.ctrl.Config()
	m.mode = cfg.Mapping.Mode
	m.scale = cfg.Mapping.Scale
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.ctrl.Stop()
			m.quit = true
			return m, tea.Quit
		case "m":
			m.err = m.ctrl.SetMode(nextMode(m.mode))
		case "b":
			m.ctrl.SetBackground(!m.ctrl.Background())
		case "1", "2", "3", "4":
			modes := mapping.Modes()
			if i := int(msg.Runes[0] - '1'); i < len(modes) {
				m.err = m.ctrl.SetMode(modes[i])
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case EventMsg:
		m.events = append(m.events, loop.Event(msg))
		if len(m.events) > maxEvents {
			m.events = m.events[len(m.events)-maxEvents:]
		}
		return m, nil

	case CommandMsg:
		c := mapping.Command(msg)
		m.last = &c
		return m, nil

	case tickMsg:
		m.poll()
		return m, tick()
	}
	return m, nil
}

func nextMode(cur mapping.Mode) mapping.Mode {
	modes := mapping.Modes()
	for i, mode := range modes {
		if mode == cur {
			return modes[(i+1)%len(modes)]
		}
	}
	return modes[0]
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quit {
		return ""
	}
	p := m.perf
	b := &strings.Builder{}

	fmt.Fprintln(b, titleStyle.Render("posemusic")+"  "+stateBadge(p))

	fmt.Fprintln(b, sectionStyle.Render("Mapping"))
	row(b, "mode", string(m.mode))
	row(b, "scale", m.scale)
	row(b, "held", fmt.Sprintf("%d", p.Held))
	row(b, "energy", meter(p.Energy, 20))
	if m.last != nil {
		row(b, "last", describe(*m.last))
	}

	fmt.Fprintln(b, sectionStyle.Render("Pacing"))
	row(b, "fps", lipgloss.NewStyle().Foreground(fpsColor(p.FPS)).Render(fmt.Sprintf("%.1f", p.FPS)))
	row(b, "skip", fmt.Sprintf("%d", p.Skip))
	row(b, "infer", fmt.Sprintf("%.0f ms", p.InferMs))
	tier := p.Tier
	if tier == "" {
		tier = "-"
	}
	row(b, "tier", tier)
	row(b, "ticks", fmt.Sprintf("%d  (%d requests, %d dropped)", p.Counters.Ticks, p.Counters.Requests, p.Counters.Backpressure))

	if len(m.events) > 0 {
		fmt.Fprintln(b, sectionStyle.Render("Events"))
		for _, e := range m.events {
			fmt.Fprintf(b, "  %s %s %s\n", helpStyle.Render(e.At.Format("15:04:05")), e.Kind, e.Detail)
		}
	}
	if m.err != nil {
		fmt.Fprintln(b, lipgloss.NewStyle().Foreground(cBad).Render(m.err.Error()))
	}

	fmt.Fprintln(b)
	fmt.Fprint(b, helpStyle.Render("m next mode  1-4 pick mode  b background  q quit"))
	return b.String()
}

func row(b *strings.Builder, label, value string) {
	fmt.Fprintln(b, " "+labelStyle.Render(label)+valueStyle.Render(value))
}

func describe(c mapping.Command) string {
	switch c.Kind {
	case mapping.KindNoteOn:
		return fmt.Sprintf("note on %d vel %.2f", c.Pitch, c.Velocity)
	case mapping.KindNoteOff:
		return fmt.Sprintf("note off %d", c.Pitch)
	case mapping.KindPitchBend:
		return fmt.Sprintf("bend %+.2f st", c.Semitones)
	case mapping.KindParam:
		return fmt.Sprintf("%s %.2f", c.Name, c.Value)
	case mapping.KindTempo:
		return fmt.Sprintf("tempo %.0f bpm", c.BPM)
	}
	return string(c.Kind)
}

func stateBadge(p loop.Perf) string {
	switch {
	case p.Background:
		return badgeStyle.Background(cFrame).Render("BACKGROUND")
	case p.Escalated:
		return badgeStyle.Background(cWarn).Render("ESCALATED")
	case p.Frozen:
		return badgeStyle.Background(cWarn).Render("SWITCHING")
	default:
		return badgeStyle.Background(cGood).Render("LIVE")
	}
}

func meter(v float64, width int) string {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	n := int(v*float64(width) + 0.5)
	return lipgloss.NewStyle().Foreground(cAccent).Render(strings.Repeat("█", n)) +
		lipgloss.NewStyle().Foreground(cFrame).Render(strings.Repeat("░", width-n))
}

func fpsColor(fps float64) lipgloss.Color {
	switch {
	case fps >= 24:
		return cGood
	case fps >= 15:
		return cWarn
	default:
		return cBad
	}
}

// Start shows the view until the user quits or done closes. Messages read
// from msgs (EventMsg, CommandMsg) are forwarded to the program. The
// returned channel yields the program's exit error.
func Start(ctrl Controller, done <-chan struct{}, msgs <-chan tea.Msg, opts ...tea.ProgramOption) (*tea.Program, <-chan error) {
	p := tea.NewProgram(New(ctrl), opts...)
	errc := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		_, err := p.Run()
		close(finished)
		errc <- err
	}()
	go func() {
		for {
			select {
			case <-done:
				p.Quit()
				return
			case <-finished:
				return
			case msg := <-msgs:
				p.Send(msg)
			}
		}
	}()
	return p, errc
}
