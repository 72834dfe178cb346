// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/poolstat/pkg/poolbus"
	"github.com/spf13/cobra"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid bus frame",
	Long: `Wait for a valid pool bus frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any frame
that passes its checksum and comes from a recognized address. Noise and
partial frames are ignored.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking RS-485 wiring, baud rate and the WebSocket bridge.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Poolstat - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid frame...\n\n")

	assembler := poolbus.NewAssembler()
	buf := make([]byte, 256)

	frameChan := make(chan *poolbus.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		rejected := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for _, f := range assembler.Feed(buf[:n]) {
				if poolbus.VerifyChecksum(f) != nil || poolbus.Classify(f) == poolbus.FamilyUnknown {
					rejected++
					continue
				}
				if skipped := assembler.Discarded(); skipped > 0 || rejected > 0 {
					fmt.Printf("(skipped %d bytes and %d invalid frames before sync)\n", skipped, rejected)
				}
				frameChan <- f
				return
			}
		}
	}()

	select {
	case f := <-frameChan:
		family := poolbus.Classify(f)
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Family: %s\n", family)
		fmt.Printf("  Action: %s (0x%02X)\n", poolbus.FormatAction(family, f.Action()), f.Action())
		fmt.Printf("  Route: %s -> %s\n", poolbus.FormatAddress(f.Source()), poolbus.FormatAddress(f.Dest()))
		fmt.Printf("  Length: %d bytes\n", f.Length())
		fmt.Printf("  Checksum: 0x%04X\n", f.Checksum())
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
