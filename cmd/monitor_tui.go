// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

// Focus states
const (
	focusCommandList = iota
	focusPayloadInput
	focusButton
)

const commandPanelWidth = 34

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// commandItem is one catalogue entry in the command list
type commandItem struct {
	command bmsproto.Command
	encoded []byte
}

// Implement list.Item interface
func (c commandItem) Title() string       { return c.command.Name }
func (c commandItem) Description() string { return fmt.Sprintf("op 0x%02X, %d bytes", c.command.Opcode, len(c.encoded)) }
func (c commandItem) FilterValue() string { return c.command.Name }

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	ctx      context.Context
	connMgr  *connectionManager
	connInfo string
	schema   *bmsproto.FrameSchema

	// Latest sample
	lastSample   *bmsproto.Sample
	valueTable   table.Model
	synchronized bool

	// Monitoring (shared with the error detection view)
	stats         *bmsproto.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int

	// Commands
	commandList  list.Model
	payloadInput textinput.Model
	focusedField int

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
	spinner        spinner.Model
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type commandSentMsg struct {
	command bmsproto.Command
	err     error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(ctx context.Context, connMgr *connectionManager, connInfo string, schema *bmsproto.FrameSchema) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "payload hex"
	ti.CharLimit = 2 * bmsproto.MaxCommandPayload
	ti.Width = 26

	catalogue := bmsproto.Catalogue(schema)
	items := make([]list.Item, 0, len(catalogue))
	for _, c := range catalogue {
		items = append(items, commandItem{command: c, encoded: bmsproto.MustEncodeCommand(schema, c)})
	}
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	commandList := list.New(items, delegate, commandPanelWidth-4, 10)
	commandList.Title = "Commands"
	commandList.SetShowStatusBar(false)
	commandList.SetShowHelp(false)
	commandList.SetFilteringEnabled(false)

	valueTable := table.New(
		table.WithColumns([]table.Column{
			{Title: "Value", Width: 22},
			{Title: "Reading", Width: 14},
		}),
		table.WithHeight(10),
		table.WithFocused(false),
	)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	return monitorModel{
		ctx:           ctx,
		connMgr:       connMgr,
		connInfo:      connInfo,
		schema:        schema,
		valueTable:    valueTable,
		stats:         bmsproto.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		commandList:   commandList,
		payloadInput:  ti,
		focusedField:  focusCommandList,
		width:         80,
		height:        24,
		spinner:       sp,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(monitorTickCmd(), m.spinner.Tick)
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case monitorTickMsg:
		m.stats.CalculateRates()
		return m, monitorTickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case frameMsg:
		if !m.synchronized {
			m.synchronized = true
			m.addLogEntry("Synchronized", false)
		}
		_, anomalies, err := m.stats.Analyze(msg.frame)
		if err != nil {
			m.addLogEntry(fmt.Sprintf("Frame error: %v", err), true)
		}
		for _, a := range anomalies {
			m.addLogEntry(a.Message, true)
		}

	case discardMsg:
		m.stats.ChunkDiscarded(msg.reason, msg.n)

	case requestMsg:
		m.stats.RequestFinished(msg.command, msg.elapsed, msg.err)

	case sampleMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Poll failed: %v", msg.err), true)
			break
		}
		m.lastSample = msg.sample
		m.updateValueTable()

	case commandSentMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Failed to send %s: %v", msg.command.Name, msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("Sent %s", msg.command), false)
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectFailedMsg:
		m.addLogEntry(fmt.Sprintf("Reconnect attempt %d failed: %v", msg.attempt, msg.err), true)

	case reconnectedMsg:
		m.connectionLost = false
		m.synchronized = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected", false)
	}

	// Update child components
	var cmd tea.Cmd
	if m.focusedField == focusPayloadInput {
		m.payloadInput, cmd = m.payloadInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.focusedField == focusCommandList {
		m.commandList, cmd = m.commandList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.focusedField != focusPayloadInput || msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "enter":
		if m.focusedField != focusCommandList {
			return m.sendSelected()
		}
		m.focusedField = focusButton
		return m, nil

	case "r":
		if m.focusedField != focusPayloadInput {
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
			return m, nil
		}
	}

	// Pass through to focused component
	var cmd tea.Cmd
	switch m.focusedField {
	case focusPayloadInput:
		m.payloadInput, cmd = m.payloadInput.Update(msg)
	case focusCommandList:
		m.commandList, cmd = m.commandList.Update(msg)
	}
	return m, cmd
}

func (m monitorModel) cycleFocus(delta int) monitorModel {
	m.focusedField = (m.focusedField + delta + focusButton + 1) % (focusButton + 1)
	if m.focusedField == focusPayloadInput {
		m.payloadInput.Focus()
	} else {
		m.payloadInput.Blur()
	}
	return m
}

// selectedCommand returns the highlighted catalogue command, with the
// payload replaced when the input holds hex
func (m monitorModel) selectedCommand() (bmsproto.Command, error) {
	item, ok := m.commandList.SelectedItem().(commandItem)
	if !ok {
		return bmsproto.Command{}, fmt.Errorf("no command selected")
	}
	c := item.command
	if raw := strings.ReplaceAll(m.payloadInput.Value(), " ", ""); raw != "" {
		payload, err := hex.DecodeString(raw)
		if err != nil {
			return bmsproto.Command{}, fmt.Errorf("invalid payload: %w", err)
		}
		c.Payload = payload
	}
	return c, nil
}

func (m monitorModel) sendSelected() (tea.Model, tea.Cmd) {
	// Don't allow commands while connection is lost
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}

	c, err := m.selectedCommand()
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return m, nil
	}

	ctx, cm := m.ctx, m.connMgr
	return m, func() tea.Msg {
		return commandSentMsg{command: c, err: cm.sendCommand(ctx, c)}
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	buttonStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12")).
		Padding(0, 2)

	focusedButtonStyle := buttonStyle.
		Background(lipgloss.Color("10"))

	// Header
	s.WriteString(titleStyle.Render("VOLTSTAT MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = m.spinner.View() + warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s | q=quit Tab=switch r=reset", connStatus, m.schema.Name)))
	s.WriteString("\n\n")

	// Layout: left panel (commands) | right panel (values)
	rightWidth := m.width - commandPanelWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}

	listStyle := boxStyle.Width(commandPanelWidth)
	if m.focusedField == focusCommandList {
		listStyle = focusedBoxStyle.Width(commandPanelWidth)
	}
	var left strings.Builder
	left.WriteString(m.commandList.View())
	left.WriteString("\n\n")
	left.WriteString(statsLabelStyle.Render("Payload: "))
	if m.focusedField == focusPayloadInput {
		left.WriteString(m.payloadInput.View())
	} else {
		val := m.payloadInput.Value()
		if val == "" {
			val = "(catalogue)"
		}
		left.WriteString(fmt.Sprintf("[%s]", val))
	}
	left.WriteString("\n\n")
	btnText := "[ Send ]"
	if m.focusedField == focusButton {
		left.WriteString(focusedButtonStyle.Render(btnText))
	} else {
		left.WriteString(buttonStyle.Render(btnText))
	}
	commandPanel := listStyle.Render(left.String())

	samplePanel := boxStyle.Width(rightWidth).Render(m.renderSamplePanel())

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, commandPanel, " ", samplePanel))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog())

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m monitorModel) renderSamplePanel() string {
	var s strings.Builder

	if m.lastSample == nil {
		if m.connectionLost {
			s.WriteString(warningStyle.Render("Waiting for connection..."))
		} else {
			s.WriteString(m.spinner.View())
			s.WriteString(warningStyle.Render("Waiting for first sample..."))
		}
		return s.String()
	}

	age := time.Since(m.lastSample.Timestamp()).Round(time.Second)
	s.WriteString(fmt.Sprintf("%s %s  %s %s\n",
		statsLabelStyle.Render("Sample:"),
		statsValueStyle.Render(m.lastSample.Timestamp().Format("15:04:05")),
		statsLabelStyle.Render("Age:"),
		statsValueStyle.Render(bmsproto.FormatDuration(age)),
	))
	s.WriteString(m.valueTable.View())

	anomalies := bmsproto.ValidateSample(m.lastSample)
	if len(anomalies) > 0 {
		s.WriteString("\n")
		for _, a := range anomalies {
			s.WriteString(errorStyle.Render("! " + a.Message))
			s.WriteString("\n")
		}
	}
	return strings.TrimRight(s.String(), "\n")
}

func (m monitorModel) renderStatisticsBar() string {
	m.stats.CalculateRates()
	var validPercent, errorPercent float64
	if m.stats.TotalFrames > 0 {
		validPercent = float64(m.stats.ValidFrames) * 100.0 / float64(m.stats.TotalFrames)
		totalErrors := m.stats.ChecksumErrors + m.stats.DecodeErrors + m.stats.AnomalousSamples
		errorPercent = float64(totalErrors) * 100.0 / float64(m.stats.TotalFrames)
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		statsLabelStyle.Render("Errors:"), func() string {
			if errorPercent > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
			}
			return statsValueStyle.Render("0.0%")
		}(),
		statsLabelStyle.Render("Timeouts:"), statsValueStyle.Render(fmt.Sprintf("%d/%d", m.stats.Timeouts, m.stats.Requests)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.2f frames/s", m.stats.FrameRate)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := 8
	if len(m.errorLog) < logHeight {
		logHeight = len(m.errorLog)
	}
	startIdx := len(m.errorLog) - logHeight

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

// sampleRows flattens a sample into table rows: values first, then cells
func sampleRows(s *bmsproto.Sample) []table.Row {
	rows := make([]table.Row, 0, len(s.Keys())+s.CellCount())
	for _, key := range s.Keys() {
		v, _ := s.Value(key)
		rows = append(rows, table.Row{key, bmsproto.FormatValue(key, v)})
	}
	for i, v := range s.CellVoltages() {
		rows = append(rows, table.Row{fmt.Sprintf("cell %d", i+1), fmt.Sprintf("%.3f V", v)})
	}
	return rows
}

func (m *monitorModel) updateValueTable() {
	m.valueTable.SetRows(sampleRows(m.lastSample))
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m *monitorModel) updateListSize() {
	// Adjust list and table size based on terminal size
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.commandList.SetSize(commandPanelWidth-4, listHeight)
	m.valueTable.SetHeight(max(listHeight, 5))
}
