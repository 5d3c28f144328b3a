// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// TUI model
type model struct {
	connInfo            string
	family              string
	statsInterval       int
	showAll             bool
	stats               *bmsproto.Statistics
	errorLog            []errorLogEntry
	maxLogEntries       int
	synchronized        bool
	discardedBeforeSync int
	width               int
	height              int
	quitting            bool
	connectionLost      bool
	lastSample          *bmsproto.Sample
}

// Messages
type tickMsg time.Time
type connectionLostMsg struct{}

func initialModel(connInfo, family string, statsInterval int, showAll bool) model {
	return model{
		connInfo:      connInfo,
		family:        family,
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         bmsproto.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost", true)

	case discardMsg:
		m.stats.ChunkDiscarded(msg.reason, msg.n)
		if !m.synchronized {
			m.discardedBeforeSync += msg.n
		} else if m.showAll || msg.reason != bmsproto.DiscardNoise {
			m.addLogEntry(fmt.Sprintf("Discarded %d bytes (%s)", msg.n, msg.reason), msg.reason != bmsproto.DiscardNoise)
		}

	case requestMsg:
		m.stats.RequestFinished(msg.command, msg.elapsed, msg.err)
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.command.Name, msg.err), true)
		}

	case frameMsg:
		if !m.synchronized {
			m.synchronized = true
			if m.discardedBeforeSync > 0 {
				m.addLogEntry(fmt.Sprintf("Synchronized after discarding %d bytes", m.discardedBeforeSync), false)
			} else {
				m.addLogEntry("Synchronized", false)
			}
		}

		sample, anomalies, err := m.stats.Analyze(msg.frame)
		t, _ := msg.frame.Type()
		frameType := bmsproto.FormatFrameType(t)
		switch {
		case err != nil:
			m.addLogEntry(fmt.Sprintf("%s: %v", frameType, err), true)
		case sample == nil:
			if m.showAll {
				m.addLogEntry(fmt.Sprintf("%s (not decoded)", frameType), false)
			}
		default:
			m.lastSample = sample
			for _, a := range anomalies {
				m.addLogEntry(fmt.Sprintf("%s: %s", frameType, a.Message), true)
			}
			if len(anomalies) == 0 && m.showAll {
				m.addLogEntry(fmt.Sprintf("%s (valid)", frameType), false)
			}
		}
	}

	return m, nil
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

// Styles shared by the TUI views
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
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

// renderSampleBox renders the headline values and cells of a sample
func renderSampleBox(s *bmsproto.Sample) string {
	content := strings.Builder{}
	content.WriteString(headerStyle.Render(s.Timestamp().Format("15:04:05.000")))
	content.WriteString("\n")

	line := make([]string, 0, 4)
	for _, key := range s.Keys() {
		v, _ := s.Value(key)
		line = append(line, fmt.Sprintf("%s %s", statsLabelStyle.Render(key+":"), statsValueStyle.Render(bmsproto.FormatValue(key, v))))
		if len(line) == 3 {
			content.WriteString(strings.Join(line, "   ") + "\n")
			line = line[:0]
		}
	}
	if len(line) > 0 {
		content.WriteString(strings.Join(line, "   ") + "\n")
	}

	cells := s.CellVoltages()
	for i := 0; i < len(cells); i += 8 {
		end := min(i+8, len(cells))
		parts := make([]string, 0, 8)
		for _, c := range cells[i:end] {
			parts = append(parts, fmt.Sprintf("%.3f", c))
		}
		content.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render(fmt.Sprintf("Cells %2d-%2d:", i+1, end)),
			statsValueStyle.Render(strings.Join(parts, " ")),
		))
	}
	return boxStyle.Render(strings.TrimRight(content.String(), "\n"))
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("VOLTSTAT - ERROR DETECTION"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Family: %s | Mode: %s | 'r' reset, 'q' quit",
		m.connInfo, m.family, func() string {
			if m.showAll {
				return "All frames"
			}
			return "Errors only"
		}())))
	s.WriteString("\n\n")

	// Sync status
	switch {
	case m.connectionLost:
		s.WriteString(errorStyle.Render("✗ Connection lost"))
		s.WriteString("\n\n")
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for first frame..."))
		s.WriteString("\n\n")
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.discardedBeforeSync > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (discarded %d bytes first)", m.discardedBeforeSync)))
		}
		s.WriteString("\n\n")
	}

	// Statistics
	m.stats.CalculateRates()
	var validPercent, errorPercent float64
	totalErrors := m.stats.ChecksumErrors + m.stats.DecodeErrors + m.stats.AnomalousSamples
	if m.stats.TotalFrames > 0 {
		validPercent = float64(m.stats.ValidFrames) * 100.0 / float64(m.stats.TotalFrames)
		errorPercent = float64(totalErrors) * 100.0 / float64(m.stats.TotalFrames)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.ValidFrames, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", totalErrors, errorPercent)),
	))

	if m.stats.ChecksumErrors > 0 || m.stats.DecodeErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Checksum Errors:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.ChecksumErrors)),
			statsLabelStyle.Render("Decode Errors:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.DecodeErrors)),
		))
	}

	if m.stats.AnomalousSamples > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Anomalous:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.AnomalousSamples)),
			headerStyle.Render("cell voltage"), m.stats.CellVoltageOut,
			headerStyle.Render("imbalance"), m.stats.CellImbalance,
			headerStyle.Render("temperature"), m.stats.TemperatureOut,
		))
	}

	discarded := m.stats.NoiseChunks + m.stats.UnmatchedChunks + m.stats.HeaderMismatch + m.stats.OverflowChunks
	if discarded > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Discarded:"), warningStyle.Render(fmt.Sprintf("%d", discarded)),
			headerStyle.Render("noise"), m.stats.NoiseChunks,
			headerStyle.Render("unmatched"), m.stats.UnmatchedChunks,
			headerStyle.Render("header"), m.stats.HeaderMismatch,
			headerStyle.Render("overflow"), m.stats.OverflowChunks,
		))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Requests:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Requests)),
		statsLabelStyle.Render("Timeouts:"), func() string {
			if m.stats.Timeouts > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", m.stats.Timeouts))
			}
			return statsValueStyle.Render("0")
		}(),
		statsLabelStyle.Render("Transport Errors:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TransportErrors)),
	))

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.2f frames/s", m.stats.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if m.stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.2f err/s", m.stats.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.2f err/s", m.stats.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Latest sample (only shown once one decoded)
	if m.lastSample != nil {
		s.WriteString(statsLabelStyle.Render("Latest Sample:"))
		s.WriteString("\n")
		s.WriteString(renderSampleBox(m.lastSample))
		s.WriteString("\n\n")
	}

	// Error log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 20
	if m.lastSample == nil {
		logHeight += 6
	}
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
