// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Thermoquad/poolstat/pkg/link"
	"github.com/Thermoquad/poolstat/pkg/poolbus"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	discoveryTimeout     int
	discoveryAttempts    int
	discoveryChlorinator bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Find pumps and chlorinators on the bus",
	Long: `Probe every pump address and the chlorinator and report which answer.

A status request is queued for each of the 16 pump addresses (0x60-0x6F)
and, unless --chlorinator=false, a presence probe for the chlorinator. Each
probe is retried up to --attempts times before the address is reported as
silent.

Examples:
  poolstat discovery --port /dev/ttyUSB0
  poolstat discovery --url ws://bridge.local/rs485 --attempts 3

Exit codes:
  0 - Discovery successful (at least one device found)
  1 - Discovery failed (no devices or timeout)
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 60, "Overall timeout in seconds")
	discoveryCmd.Flags().IntVar(&discoveryAttempts, "attempts", 2, "Attempts per address")
	discoveryCmd.Flags().BoolVar(&discoveryChlorinator, "chlorinator", true, "Probe the chlorinator")
}

// discoverySettings turns off timers and shortens retries for probing
func discoverySettings(base link.Settings, attempts int) link.Settings {
	s := base
	s.Pumps = nil
	s.PumpKeepAlive = false
	s.Chlorinator.Installed = false
	s.Retry.AbandonAfter = attempts
	s.Retry.WarnAfter = 0
	s.Retry.VerboseWindow = 0
	return s
}

// discoveryResult tracks probe outcomes by write ID
type discoveryResult struct {
	mu      sync.Mutex
	probes  map[uuid.UUID]string
	found   []string
	silent  []string
	pending int
	done    chan struct{}
}

func newDiscoveryResult() *discoveryResult {
	return &discoveryResult{
		probes: make(map[uuid.UUID]string),
		done:   make(chan struct{}),
	}
}

// queue sends one probe. The caller holds mu so a fast reply cannot
// complete before the probe is registered.
func (r *discoveryResult) queue(l *link.Link, cmd []byte, name string) error {
	id, err := l.QueuePacket(cmd)
	if err != nil {
		return err
	}
	r.probes[id] = name
	r.pending++
	return nil
}

func (r *discoveryResult) complete(w link.PendingWrite, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.probes[w.ID]
	if !ok {
		return
	}
	delete(r.probes, w.ID)
	if err == nil {
		r.found = append(r.found, name)
		fmt.Printf("  %-12s answered\n", name)
	} else {
		r.silent = append(r.silent, name)
	}
	r.pending--
	if r.pending == 0 {
		close(r.done)
	}
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	settings := discoverySettings(cfg.LinkSettings(), discoveryAttempts)
	l, err := link.New(conn, settings, link.WithLogger(newLogger(nil)))
	if err != nil {
		return err
	}
	defer l.Close()

	fmt.Printf("Poolstat - Device Discovery\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Attempts: %d x %s\n", discoveryAttempts, settings.Retry.AckTimeout)
	fmt.Printf("Timeout: %d seconds\n\n", discoveryTimeout)

	result := newDiscoveryResult()
	l.OnComplete(result.complete)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errChan := make(chan error, 1)
	go func() {
		errChan <- l.Serve(ctx, conn)
	}()

	start := time.Now()
	fmt.Printf("Probing...\n")
	result.mu.Lock()
	for index := 1; index <= poolbus.MaxPumps && err == nil; index++ {
		err = result.queue(l, poolbus.PumpStatusRequest(poolbus.PumpAddress(index), settings.AppAddress),
			fmt.Sprintf("pump %d", index))
	}
	if discoveryChlorinator && err == nil {
		err = result.queue(l, poolbus.ChlorinatorProbe(), "chlorinator")
	}
	result.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-result.done:
	case err := <-errChan:
		if err != nil {
			fmt.Printf("READ FAILED: %v\n", err)
			os.Exit(2)
		}
	case <-time.After(time.Duration(discoveryTimeout) * time.Second):
		fmt.Printf("\nTIMEOUT: %d probes still pending after %ds\n", l.QueueLength(), discoveryTimeout)
	}

	result.mu.Lock()
	found := append([]string(nil), result.found...)
	silent := len(result.silent)
	result.mu.Unlock()

	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Elapsed: %s\n", formatElapsed(time.Since(start)))
	fmt.Printf("Devices found: %d\n", len(found))
	for _, name := range found {
		fmt.Printf("  %s\n", name)
	}
	fmt.Printf("Silent addresses: %d\n", silent)

	if len(found) == 0 {
		fmt.Printf("No devices discovered. Check wiring, baud rate and that the controller is not holding the bus.\n")
		os.Exit(1)
	}

	return nil
}
