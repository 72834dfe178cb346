// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Thermoquad/poolstat/pkg/poolbus"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var monitorShowAll bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for watching and driving the bus",
	Long: `Monitor the pool bus in a terminal UI.

Features:
  - Frame, error, duplicate and anomaly counters per equipment family
  - Pump run state and remaining minutes
  - Chlorinator levels and keep-alive state
  - Outbound queue depth and retry counts
  - Event log with warnings from the link
  - Command line accepting the same commands as the run console
  - Automatic reconnection on connection loss

With --show-all every forwarded frame is added to the event log.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorShowAll, "show-all", false, "Log every received frame")
}

// eventCollector buffers events for the TUI. Producers never block.
type eventCollector struct {
	events chan eventLogEntry
}

func newEventCollector() *eventCollector {
	return &eventCollector{events: make(chan eventLogEntry, 256)}
}

func (c *eventCollector) add(message string, isError bool) {
	select {
	case c.events <- eventLogEntry{timestamp: time.Now(), message: message, isError: isError}:
	default:
	}
}

// Levels implements logrus.Hook
func (c *eventCollector) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook. It runs with the link locked.
func (c *eventCollector) Fire(entry *logrus.Entry) error {
	msg := entry.Message
	if len(entry.Data) > 0 {
		var fields []string
		for k, v := range entry.Data {
			if k == "frame" {
				continue
			}
			fields = append(fields, fmt.Sprintf("%s=%v", k, v))
		}
		if len(fields) > 0 {
			msg += " (" + strings.Join(fields, " ") + ")"
		}
	}
	c.add(msg, entry.Level <= logrus.WarnLevel)
	return nil
}

// run sends batched events to the program every 50ms until ctx is done
func (c *eventCollector) run(ctx context.Context, p *tea.Program) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var batch monitorBatchMsg
		drainLoop:
			for {
				select {
				case e := <-c.events:
					batch.events = append(batch.events, e)
				default:
					break drainLoop
				}
			}
			if len(batch.events) > 0 {
				p.Send(batch)
			}
		}
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	collector := newEventCollector()
	log := newLogger(io.Discard)
	log.AddHook(collector)

	cm, err := openSession(log)
	if err != nil {
		return err
	}
	defer cm.Close()

	if monitorShowAll {
		cm.link.OnFrame(func(f *poolbus.Frame, family poolbus.Family) {
			collector.add(fmt.Sprintf("%s %s %s -> %s", family,
				poolbus.FormatAction(family, f.Action()),
				poolbus.FormatAddress(f.Source()), poolbus.FormatAddress(f.Dest())), false)
		})
	}

	_, connInfo := cm.getConn()
	m := initialMonitorModel(cm.link, connInfo)
	p := tea.NewProgram(m, tea.WithAltScreen())

	cm.onLost = func(err error) { p.Send(connectionLostMsg{err: err}) }
	cm.onReconnected = func(info string) { p.Send(reconnectedMsg{connInfo: info}) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cm.start(ctx)
	go collector.run(ctx, p)
	cm.applyStartupLevels()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
