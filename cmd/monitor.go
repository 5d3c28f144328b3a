// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/voltstat/internal/metrics"
	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

var (
	monitorTUI         bool
	monitorMetricsAddr string
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"control"},
	Short:   "Poll a device continuously, with TUI and Prometheus export",
	Long: `Poll the device every poll interval and display the latest sample.

This command keeps one session open and reconnects with exponential backoff
when the connection drops. The interactive TUI shows:
  - Latest values and per-cell voltages
  - Frame, discard and request statistics
  - The family's command catalogue, which can be sent with Enter
  - An event log

Tab switches between the command list, payload input and send button. A hex
payload, when entered, replaces the selected command's payload.

With --metrics-addr (or metrics.addr in the config file) the session counters
and latest values are exported for Prometheus.

Use --tui=false for a plain line-per-sample log.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorTUI, "tui", true, "Use terminal UI (false for text mode)")
	monitorCmd.Flags().StringVar(&monitorMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9101)")
	if err := settings.BindPFlag("metrics.addr", monitorCmd.Flags().Lookup("metrics-addr")); err != nil {
		panic(fmt.Sprintf("bind flag metrics-addr: %v", err))
	}
}

// Connection manager messages
type sampleMsg struct {
	sample *bmsproto.Sample
	err    error
}

type reconnectedMsg struct {
	connInfo string
}

type reconnectFailedMsg struct {
	attempt int
	err     error
}

// connectionManager keeps a polled session open and replaces it when the
// transport drops
type connectionManager struct {
	opts    sessionOptions
	metrics *metrics.SessionMetrics
	send    func(tea.Msg)

	mu   sync.RWMutex
	conn *deviceConn
}

func (cm *connectionManager) getConn() *deviceConn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn
}

func (cm *connectionManager) setConn(conn *deviceConn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
}

// sendCommand writes c on the current session without waiting
func (cm *connectionManager) sendCommand(ctx context.Context, c bmsproto.Command) error {
	conn := cm.getConn()
	if conn == nil {
		return bmsproto.ErrSessionClosed
	}
	return conn.sess.Send(ctx, c)
}

// close closes the current session
func (cm *connectionManager) close() {
	if conn := cm.getConn(); conn != nil {
		_ = conn.Close()
	}
}

func (cm *connectionManager) handleResult(sample *bmsproto.Sample, err error) {
	if sample != nil && cm.metrics != nil {
		cm.metrics.ObserveSample(sample)
	}
	cm.send(sampleMsg{sample: sample, err: err})
}

// run polls the current session until it drops, then reconnects.
// Returns when ctx is done.
func (cm *connectionManager) run(ctx context.Context) {
	for {
		conn := cm.getConn()
		pollCtx, cancel := context.WithCancel(ctx)
		pollDone := make(chan struct{})
		go func() {
			defer close(pollDone)
			err := newPoller(conn.sess, cfg.Session.PollInterval).Run(pollCtx, cm.handleResult)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Debug("poller stopped", zap.Error(err))
			}
		}()

		select {
		case <-ctx.Done():
		case <-conn.Done():
		case <-pollDone:
		}
		cancel()
		<-pollDone
		if ctx.Err() != nil {
			return
		}

		_ = conn.Close()
		logger.Warn("connection lost", zap.String("conn", conn.info))
		cm.send(connectionLostMsg{})

		next := reconnect(ctx, cm.opts, func(attempt int, err error) {
			cm.send(reconnectFailedMsg{attempt: attempt, err: err})
		})
		if next == nil {
			return
		}
		cm.setConn(next)
		logger.Info("reconnected", zap.String("conn", next.info))
		cm.send(reconnectedMsg{connInfo: next.info})
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	reg := metrics.NewRegistry()
	sm := metrics.NewSessionMetrics(reg)
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, cfg.Metrics.Path, reg, logger); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	if monitorTUI {
		return runMonitorTUI(ctx, sm)
	}
	return runMonitorText(ctx, sm)
}

func runMonitorTUI(ctx context.Context, sm *metrics.SessionMetrics) error {
	var program atomic.Pointer[tea.Program]
	send := func(msg tea.Msg) {
		if p := program.Load(); p != nil {
			p.Send(msg)
		}
	}

	cm := &connectionManager{
		opts:    sessionOptions{observers: []bmsproto.Observer{sm, eventForwarder{send: send}}},
		metrics: sm,
		send:    send,
	}
	conn, err := OpenSession(ctx, cm.opts)
	if err != nil {
		return err
	}
	cm.setConn(conn)
	defer cm.close()

	// Stop the reconnect loop before the session is closed on quit
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := initialMonitorModel(ctx, cm, conn.info, conn.sess.Schema())
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	program.Store(p)

	go cm.run(ctx)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func runMonitorText(ctx context.Context, sm *metrics.SessionMetrics) error {
	var mu sync.Mutex
	send := func(msg tea.Msg) {
		mu.Lock()
		defer mu.Unlock()
		switch msg := msg.(type) {
		case sampleMsg:
			if msg.err != nil {
				fmt.Printf("[ERROR] %v\n", msg.err)
				return
			}
			fmt.Println(bmsproto.FormatSampleLine(msg.sample))
			for _, a := range bmsproto.ValidateSample(msg.sample) {
				fmt.Printf("  \033[1;33mANOMALY:\033[0m %s\n", a.Message)
			}
		case connectionLostMsg:
			fmt.Printf("Connection lost, reconnecting...\n")
		case reconnectFailedMsg:
			fmt.Printf("Reconnect attempt %d failed: %v\n", msg.attempt, msg.err)
		case reconnectedMsg:
			fmt.Printf("Reconnected: %s\n", msg.connInfo)
		}
	}

	cm := &connectionManager{
		opts:    sessionOptions{observers: []bmsproto.Observer{sm}},
		metrics: sm,
		send:    send,
	}
	conn, err := OpenSession(ctx, cm.opts)
	if err != nil {
		return err
	}
	cm.setConn(conn)
	defer cm.close()

	fmt.Printf("Voltstat - Monitor\n")
	fmt.Printf("Connection: %s\n", conn.info)
	fmt.Printf("Family: %s, poll interval: %s\n", conn.sess.Schema().Name, cfg.Session.PollInterval)
	if cfg.Metrics.Addr != "" {
		fmt.Printf("Metrics: http://%s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	cm.run(ctx)
	return nil
}
