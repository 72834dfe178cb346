// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/poolstat/pkg/link"
	"github.com/Thermoquad/poolstat/pkg/poolbus"
	"github.com/spf13/cobra"
)

var (
	replayRealtime bool
	replayStats    bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture>",
	Short: "Decode a recorded capture file",
	Long: `Feed a capture recorded by raw_log --capture through the frame pipeline.

Received packets go through the same checksum, de-duplication and
classification steps as live traffic, using the recorded timestamps, and
every forwarded frame is printed. Outbound packets are listed as TX.

No connection is opened.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayRealtime, "realtime", false, "Pause between records as recorded")
	replayCmd.Flags().BoolVar(&replayStats, "stats", true, "Print statistics at the end")
}

// replayClock reports the timestamp of the record being replayed
type replayClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *replayClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *replayClock) AfterFunc(d time.Duration, f func()) link.Timer {
	return link.RealClock().AfterFunc(d, f)
}

// replayCapture feeds records through l and writes forwarded frames to out
func replayCapture(l *link.Link, clock *replayClock, records []poolbus.Record, out io.Writer, realtime bool) {
	l.OnFrame(func(f *poolbus.Frame, family poolbus.Family) {
		fmt.Fprint(out, poolbus.FormatFrame(f))
	})

	var last time.Time
	for _, rec := range records {
		if realtime && !last.IsZero() && rec.Timestamp.After(last) {
			time.Sleep(rec.Timestamp.Sub(last))
		}
		last = rec.Timestamp

		if rec.Direction == poolbus.DirectionOut {
			fmt.Fprintf(out, "[%s] TX %s\n", rec.Timestamp.Format("15:04:05.000"), poolbus.FormatHex(rec.Packet))
			continue
		}
		clock.set(rec.Timestamp)
		l.Receive(rec.Packet)
	}
}

func runReplay(cmd *cobra.Command, args []string) error {
	reader, err := poolbus.OpenCapture(args[0])
	if err != nil {
		return err
	}
	defer reader.Close()

	records, err := reader.Packets()
	if err != nil {
		return err
	}

	settings := cfg.LinkSettings()
	settings.PumpKeepAlive = false
	settings.Chlorinator.Installed = false

	clock := &replayClock{}
	l, err := link.New(io.Discard, settings, link.WithClock(clock), link.WithLogger(newLogger(nil)))
	if err != nil {
		return err
	}
	defer l.Close()

	fmt.Printf("Poolstat - Capture Replay\n")
	fmt.Printf("File: %s\n", args[0])
	fmt.Printf("Records: %d\n\n", len(records))

	replayCapture(l, clock, records, cmd.OutOrStdout(), replayRealtime)

	if replayStats {
		stats := l.Stats()
		if n := len(records); n > 1 {
			fmt.Printf("\nCapture span: %s\n", formatElapsed(records[n-1].Timestamp.Sub(records[0].Timestamp)))
		}
		fmt.Print(stats.String())
	}
	return nil
}
