// ABOUTME: Bubbletea model for player TUI
// ABOUTME: Shows connection, clock sync and playback gate state
package ui

import (
	"fmt"
	"strings"

	"github.com/Resonate-Protocol/snapsync-go/pkg/player"
	clocksync "github.com/Resonate-Protocol/snapsync-go/pkg/sync"
	tea "github.com/charmbracelet/bubbletea"
)

const volumeStep = 5

// Model represents the TUI state
type Model struct {
	// Connection
	connected  bool
	serverName string

	// Clock
	syncOffset  int64
	syncRTT     int64
	syncQuality clocksync.Quality

	// Stream
	codec      string
	sampleRate int
	channels   int
	bitDepth   int

	// Playback
	state  string
	volume int
	muted  bool
	stats  player.Stats

	// Runtime
	goroutines int
	memAlloc   uint64
	memSys     uint64

	showDebug bool

	width  int
	height int

	volumeCtrl *VolumeControl
}

// StatusMsg updates TUI state. Zero fields are left alone.
type StatusMsg struct {
	Connected  *bool
	ServerName string
	State      string
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
	Volume     int
	Muted      *bool
	Stats      *player.Stats
	Goroutines int
	MemAlloc   uint64
	MemSys     uint64
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
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderStreamInfo())
	b.WriteString(m.renderPlayback())
	b.WriteString(m.renderControls())
	b.WriteString(m.renderStats())
	if m.showDebug {
		b.WriteString(m.renderDebug())
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderHeader() string {
	connStatus := "Disconnected"
	if m.connected {
		connStatus = fmt.Sprintf("Connected to %s (%s)", m.serverName, m.state)
	}

	syncIcon := "✗"
	syncText := "Lost"
	switch m.syncQuality {
	case clocksync.QualityGood:
		syncIcon = "✓"
		syncText = fmt.Sprintf("offset %+.1fms, rtt %.1fms",
			float64(m.syncOffset)/1000.0, float64(m.syncRTT)/1000.0)
	case clocksync.QualityDegraded:
		syncIcon = "⚠"
		syncText = fmt.Sprintf("Degraded (rtt %.1fms)", float64(m.syncRTT)/1000.0)
	}

	return "┌─ Snapsync Player ────────────────────────────────────┐\n" +
		line("Status: %s", connStatus) +
		line("Clock:  %s %s", syncIcon, syncText) +
		"├──────────────────────────────────────────────────────┤\n"
}

func (m Model) renderStreamInfo() string {
	if !m.connected || m.codec == "" {
		return line("No stream")
	}
	return line("Format: %s %dHz %s %d-bit", m.codec, m.sampleRate, channelName(m.channels), m.bitDepth)
}

// renderPlayback shows the gate state and the speed correction
func (m Model) renderPlayback() string {
	s := m.stats
	hold := ""
	if s.Holding {
		hold = " (holding)"
	}

	return line("") +
		line("Playback: %s%s", s.SyncState, hold) +
		line("Speed:    %.6f (%+.0f ppm)", s.SpeedFactor, ppm(s.SpeedFactor)) +
		line("Observed: %.6f (%+.0f ppm)", s.ObservedRate, ppm(s.ObservedRate)) +
		line("Delay:    %dms  start delay %dms", s.Gate.LastDelayMs, s.StartDelayMs)
}

func (m Model) renderControls() string {
	muteIcon := ""
	if m.muted {
		muteIcon = " 🔇"
	}

	return line("") +
		line("Volume: [%s] %d%%%s", renderBar(m.volume, 100, 10), m.volume, muteIcon) +
		line("Queue:  %d buffers (%.0fms)", m.stats.QueueDepth, m.stats.QueuedMs)
}

func (m Model) renderStats() string {
	g := m.stats.Gate
	return "├──────────────────────────────────────────────────────┤\n" +
		line("RX: %d  Accepted: %d  Played: %d", g.Received, g.Accepted, m.stats.Pipeline.Played) +
		line("Expired: %d  Implausible: %d  Overflow: %d", g.Expired, g.Implausible, m.stats.Pipeline.Overflows)
}

func (m Model) renderHelp() string {
	return line("↑/↓:Volume  m:Mute  d:Debug  q:Quit") +
		"└──────────────────────────────────────────────────────┘\n"
}

func (m Model) renderDebug() string {
	return line("DEBUG:") +
		line("  Goroutines: %d", m.goroutines) +
		line("  Memory: %.1fMB alloc, %.1fMB sys", float64(m.memAlloc)/(1<<20), float64(m.memSys)/(1<<20)) +
		line("  Clock Offset: %+dμs", m.syncOffset) +
		line("  Deferred starts: %d  Decode errors: %d", m.stats.Gate.Deferred, m.stats.Pipeline.DecodeErrors)
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.volumeCtrl != nil {
			select {
			case m.volumeCtrl.Quit <- QuitMsg{}:
			default:
			}
		}
		return m, tea.Quit
	case "up":
		m.volume = clampVolume(m.volume + volumeStep)
		m.sendVolume()
	case "down":
		m.volume = clampVolume(m.volume - volumeStep)
		m.sendVolume()
	case "m":
		m.muted = !m.muted
		m.sendVolume()
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

func (m Model) sendVolume() {
	if m.volumeCtrl == nil {
		return
	}
	select {
	case m.volumeCtrl.Changes <- VolumeChangeMsg{Volume: m.volume, Muted: m.muted}:
	default:
	}
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.ServerName != "" {
		m.serverName = msg.ServerName
	}
	if msg.State != "" {
		m.state = msg.State
	}
	if msg.Codec != "" {
		m.codec = msg.Codec
		m.sampleRate = msg.SampleRate
		m.channels = msg.Channels
		m.bitDepth = msg.BitDepth
	}
	if msg.Volume != 0 {
		m.volume = msg.Volume
	}
	if msg.Muted != nil {
		m.muted = *msg.Muted
	}
	if msg.Stats != nil {
		m.stats = *msg.Stats
		m.syncOffset = msg.Stats.SyncOffset
		m.syncRTT = msg.Stats.SyncRTT
		m.syncQuality = msg.Stats.SyncQuality
	}
	if msg.Goroutines != 0 {
		m.goroutines = msg.Goroutines
		m.memAlloc = msg.MemAlloc
		m.memSys = msg.MemSys
	}
}

// line pads one row of the box
func line(format string, args ...interface{}) string {
	return fmt.Sprintf("│ %-52s │\n", truncate(fmt.Sprintf(format, args...), 52))
}

func ppm(factor float64) float64 {
	if factor == 0 {
		return 0
	}
	return (factor - 1) * 1e6
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func renderBar(value, max, width int) string {
	filled := (value * width) / max
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len([]rune(s)) <= length {
		return s
	}
	return string([]rune(s)[:length-3]) + "..."
}

func channelName(channels int) string {
	if channels == 1 {
		return "Mono"
	}
	return "Stereo"
}
