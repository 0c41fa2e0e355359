// ABOUTME: Bubbletea model for the time sync monitor
// ABOUTME: Holds the latest estimate and receiver counters and renders them
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Quality summarizes how trustworthy the current estimate is
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

// degradedAbove is the round-trip time past which an estimate is shown as degraded
const degradedAbove = 50 * time.Millisecond

// Classify maps an estimate to a Quality
func Classify(valid bool, uncertainty float64) Quality {
	if !valid {
		return QualityLost
	}
	if uncertainty*float64(time.Second) >= float64(degradedAbove) {
		return QualityDegraded
	}
	return QualityGood
}

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
)

// Model represents the TUI state
type Model struct {
	// Connection
	connected  bool
	serverName string
	endpoint   string

	// Estimate
	valid       bool
	offset      float64
	uncertainty float64
	jitter      time.Duration
	ntpOffset   *time.Duration

	// Counters
	waves      uint64
	emptyWaves uint64
	samples    uint64
	dropped    uint64
	resets     uint64
	lastReset  time.Time

	history []float64

	showDebug bool
	quitCh    chan QuitMsg

	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Time Sync Monitor"))
	b.WriteString("\n")
	b.WriteString(m.renderConnection())
	b.WriteString("\n")
	b.WriteString(m.renderEstimate())
	b.WriteString("\n")
	b.WriteString(m.renderCounters())

	if m.showDebug {
		b.WriteString("\n")
		b.WriteString(m.renderDebug())
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("d:Debug  q:Quit"))
	return b.String()
}

func field(b *strings.Builder, name, value string) {
	b.WriteString(headerStyle.Render(name + ": "))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

func (m Model) renderConnection() string {
	var b strings.Builder

	status := "Disconnected"
	if m.connected {
		status = "Connected to " + m.serverName
	}
	field(&b, "Status", status)
	if m.endpoint != "" {
		field(&b, "Endpoint", m.endpoint)
	}
	return b.String()
}

func (m Model) renderEstimate() string {
	var b strings.Builder

	quality := Classify(m.valid, m.uncertainty)
	switch quality {
	case QualityGood:
		field(&b, "Sync", fmt.Sprintf("✓ offset %+.6fs", m.offset))
	case QualityDegraded:
		b.WriteString(headerStyle.Render("Sync: "))
		b.WriteString(warnStyle.Render(fmt.Sprintf("⚠ offset %+.6fs (high round trip)", m.offset)))
		b.WriteString("\n")
	default:
		b.WriteString(headerStyle.Render("Sync: "))
		b.WriteString(badStyle.Render("✗ waiting for estimate"))
		b.WriteString("\n")
	}

	if m.valid {
		field(&b, "Uncertainty", fmt.Sprintf("%.3fms", m.uncertainty*1000))
	}
	field(&b, "Jitter", fmt.Sprintf("%.3fms", float64(m.jitter)/float64(time.Millisecond)))
	if m.ntpOffset != nil {
		field(&b, "Wall clock vs NTP", fmt.Sprintf("%+v", *m.ntpOffset))
	}
	return b.String()
}

func (m Model) renderCounters() string {
	var b strings.Builder
	field(&b, "Waves", fmt.Sprintf("%d (%d empty)", m.waves, m.emptyWaves))
	field(&b, "Samples", fmt.Sprintf("%d  Dropped: %d", m.samples, m.dropped))

	resets := fmt.Sprintf("%d", m.resets)
	if !m.lastReset.IsZero() {
		resets += fmt.Sprintf(" (last %s)", m.lastReset.Format(time.TimeOnly))
	}
	field(&b, "Resets", resets)
	return b.String()
}

func (m Model) renderDebug() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Recent offsets:"))
	b.WriteString("\n")
	if len(m.history) == 0 {
		b.WriteString(valueStyle.Render("  (none)"))
		b.WriteString("\n")
	}
	for _, offset := range m.history {
		b.WriteString(valueStyle.Render(fmt.Sprintf("  %+.6fs", offset)))
		b.WriteString("\n")
	}
	return b.String()
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.quitCh != nil {
			select {
			case m.quitCh <- QuitMsg{}:
			default:
			}
		}
		return m, tea.Quit
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.ServerName != "" {
		m.serverName = msg.ServerName
	}
	if msg.Endpoint != "" {
		m.endpoint = msg.Endpoint
	}
	if msg.Estimate != nil {
		m.valid = msg.Estimate.Valid
		m.offset = msg.Estimate.Offset
		m.uncertainty = msg.Estimate.Uncertainty
	}
	if msg.Stats != nil {
		m.waves = msg.Stats.Waves
		m.emptyWaves = msg.Stats.EmptyWaves
		m.samples = msg.Stats.Samples
		m.dropped = msg.Stats.Dropped
		m.resets = msg.Stats.Resets
		m.jitter = msg.Stats.Jitter
		m.history = msg.Stats.Offsets
	}
	if msg.Reset {
		m.lastReset = msg.At
	}
	if msg.NTPOffset != nil {
		d := *msg.NTPOffset
		m.ntpOffset = &d
	}
}

// StatusMsg updates TUI state. Nil fields leave the current value alone.
type StatusMsg struct {
	Connected  *bool
	ServerName string
	Endpoint   string
	Estimate   *EstimateStatus
	Stats      *CounterStatus
	Reset      bool
	At         time.Time
	NTPOffset  *time.Duration
}

// EstimateStatus is the latest correction as seen by the monitor
type EstimateStatus struct {
	Valid       bool
	Offset      float64
	Uncertainty float64
}

// CounterStatus mirrors the receiver counters
type CounterStatus struct {
	Waves      uint64
	EmptyWaves uint64
	Samples    uint64
	Dropped    uint64
	Resets     uint64
	Jitter     time.Duration
	Offsets    []float64
}

// QuitMsg is sent when the user quits the TUI
type QuitMsg struct{}
