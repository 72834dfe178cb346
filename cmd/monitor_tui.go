// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/poolstat/pkg/link"
	"github.com/Thermoquad/poolstat/pkg/poolbus"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// Messages
type monitorTickMsg time.Time

// monitorBatchMsg carries events collected since the last batch
type monitorBatchMsg struct {
	events []eventLogEntry
}

type connectionLostMsg struct {
	err error
}

type reconnectedMsg struct {
	connInfo string
}

// monitorModel is the bubbletea model of the monitor command
type monitorModel struct {
	link     *link.Link
	console  *console
	output   *bytes.Buffer
	connInfo string
	lost     bool

	input textinput.Model

	events    []eventLogEntry
	maxEvents int

	// Snapshots refreshed on every tick
	stats       poolbus.Statistics
	pumps       []link.PumpState
	chlorinator link.ChlorinatorState
	queueLen    int
	verbose     bool

	width    int
	height   int
	quitting bool
}

func initialMonitorModel(l *link.Link, connInfo string) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "pump run 1 rpm 2000 60"
	ti.Prompt = "> "
	ti.CharLimit = 80
	ti.Width = 60
	ti.Focus()

	output := &bytes.Buffer{}
	m := monitorModel{
		link:      l,
		console:   &console{link: l, out: output},
		output:    output,
		connInfo:  connInfo,
		input:     ti,
		events:    make([]eventLogEntry, 0),
		maxEvents: 100,
		width:     80,
		height:    24,
	}
	m.refresh()
	return m
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		monitorTickCmd(),
		textinput.Blink,
	)
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

// refresh copies the link state the view needs
func (m *monitorModel) refresh() {
	m.stats = m.link.Stats()
	m.stats.CalculateRates()
	m.pumps = m.link.PumpStates()
	m.chlorinator = m.link.Chlorinator().State()
	m.queueLen = m.link.QueueLength()
	m.verbose = m.link.Verbose()
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			return m.submit()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 8

	case monitorTickMsg:
		m.refresh()
		return m, monitorTickCmd()

	case monitorBatchMsg:
		for _, e := range msg.events {
			m.appendEntry(e)
		}
		return m, nil

	case connectionLostMsg:
		m.lost = true
		m.addLogEntry(fmt.Sprintf("Connection lost: %v - reconnecting", msg.err), true)
		return m, nil

	case reconnectedMsg:
		m.lost = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected", false)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit runs the command line and logs its output
func (m monitorModel) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	if line == "" {
		return m, nil
	}

	m.output.Reset()
	err := m.console.execute(line)
	if errors.Is(err, errQuit) {
		m.quitting = true
		return m, tea.Quit
	}

	m.addLogEntry("> "+line, false)
	for _, out := range strings.Split(strings.TrimRight(m.output.String(), "\n"), "\n") {
		if out != "" {
			m.addLogEntry(out, false)
		}
	}
	if err != nil {
		m.addLogEntry(err.Error(), true)
	}
	m.refresh()
	return m, nil
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.appendEntry(eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
}

func (m *monitorModel) appendEntry(e eventLogEntry) {
	m.events = append(m.events, e)
	if len(m.events) > m.maxEvents {
		m.events = m.events[len(m.events)-m.maxEvents:]
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("POOLSTAT - BUS MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Uptime: %s | Esc to quit",
		m.connInfo, formatUptime(time.Since(m.stats.StartTime)))))
	s.WriteString("\n")
	if m.lost {
		s.WriteString(errorStyle.Render("✗ Disconnected - reconnecting"))
	} else {
		s.WriteString(valueStyle.Render("✓ Connected"))
	}
	if m.verbose {
		s.WriteString(warningStyle.Render("   verbose logging (recent abandoned command)"))
	}
	s.WriteString("\n\n")

	panels := lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(m.viewStats()),
		" ",
		boxStyle.Render(m.viewEquipment()),
	)
	s.WriteString(panels)
	s.WriteString("\n\n")

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 4).Render(m.viewEvents()))
	s.WriteString("\n")
	s.WriteString(m.input.View())

	return s.String()
}

func (m monitorModel) viewStats() string {
	st := m.stats
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		labelStyle.Render("Frames:"), valueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%d", st.ValidFrames)),
	))
	for _, f := range poolbus.Families {
		b.WriteString(fmt.Sprintf("  %s %d\n", headerStyle.Render(f.String()+":"), st.ByFamily[f]))
	}

	errCount := st.ChecksumErrors + st.Unclassified
	errText := valueStyle.Render("0")
	if errCount > 0 {
		errText = errorStyle.Render(fmt.Sprintf("%d", errCount))
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %d   %s %d\n",
		labelStyle.Render("Errors:"), errText,
		labelStyle.Render("Dupes:"), st.Duplicates,
		labelStyle.Render("Anomalies:"), st.Anomalies,
	))

	retries := valueStyle.Render(fmt.Sprintf("%d", st.Retries))
	if st.Abandoned > 0 {
		retries = warningStyle.Render(fmt.Sprintf("%d (%d abandoned)", st.Retries, st.Abandoned))
	}
	b.WriteString(fmt.Sprintf("%s %d   %s %d   %s %s\n",
		labelStyle.Render("Writes:"), st.Writes,
		labelStyle.Render("Acks:"), st.Acks,
		labelStyle.Render("Retries:"), retries,
	))
	b.WriteString(fmt.Sprintf("%s %s",
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f frames/s", st.FrameRate)),
	))
	return b.String()
}

func (m monitorModel) viewEquipment() string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("Pumps"))
	b.WriteString("\n")
	if len(m.pumps) == 0 {
		b.WriteString(headerStyle.Render("  (none installed)"))
		b.WriteString("\n")
	}
	for _, p := range m.pumps {
		state := headerStyle.Render("off")
		if p.Mode != link.PumpOff {
			state = valueStyle.Render(describeRun(p.Mode, p.Value, link.NoDuration))
		}
		b.WriteString(fmt.Sprintf("  %d: %s  %s\n", p.Index, state, headerStyle.Render(formatRemaining(p.Remaining))))
	}

	ch := m.chlorinator
	b.WriteString(labelStyle.Render("Chlorinator"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  pool %d%%  spa %d%%  output %s\n",
		ch.Pool, ch.Spa, valueStyle.Render(fmt.Sprintf("%d%%", ch.Output))))
	if ch.SuperChlorinate > 0 {
		b.WriteString(warningStyle.Render(fmt.Sprintf("  super until %s", ch.SuperUntil.Format("15:04"))))
		b.WriteString("\n")
	}

	queue := valueStyle.Render(fmt.Sprintf("%d", m.queueLen))
	if m.queueLen > 0 {
		queue = warningStyle.Render(fmt.Sprintf("%d", m.queueLen))
	}
	b.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Queue:"), queue))
	return b.String()
}

func (m monitorModel) viewEvents() string {
	logHeight := m.height - 20
	if logHeight < 5 {
		logHeight = 5
	}

	if len(m.events) == 0 {
		return headerStyle.Render("  (no events yet)")
	}

	start := len(m.events) - logHeight
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for _, e := range m.events[start:] {
		timestamp := headerStyle.Render(e.timestamp.Format("15:04:05.000"))
		if e.isError {
			b.WriteString(fmt.Sprintf("%s %s\n", timestamp, errorStyle.Render("✗ "+e.message)))
		} else {
			b.WriteString(fmt.Sprintf("%s %s\n", timestamp, warningStyle.Render("ℹ "+e.message)))
		}
	}
	return b.String()
}

// formatUptime formats a duration as a human-friendly string
func formatUptime(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds <= 0 {
		return "0 seconds"
	}

	days := seconds / 86400
	hours := seconds / 3600 % 24
	minutes := seconds / 60 % 60
	seconds %= 60

	parts := []string{}
	for _, u := range []struct {
		n    int64
		name string
	}{{days, "day"}, {hours, "hour"}, {minutes, "minute"}, {seconds, "second"}} {
		switch {
		case u.n == 1:
			parts = append(parts, "1 "+u.name)
		case u.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", u.n, u.name))
		}
	}

	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}
