// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/poolstat/pkg/poolbus"
	"github.com/spf13/cobra"
)

var (
	rawLogCapture  string
	rawLogValidate bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw bus traffic in human-readable format",
	Long: `Continuously decode and display pool bus frames as they arrive.

Every frame is shown with timestamp, family, action and decoded payload,
including frames with bad checksums and frames repeated by the bus. Nothing
is written to the bus.

With --capture, every received frame is also recorded to a file (.cbor for
CBOR, anything else for JSON lines) that the replay command can read back.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&rawLogCapture, "capture", "", "Record received frames to this file")
	rawLogCmd.Flags().BoolVar(&rawLogValidate, "validate", true, "Report implausible frame contents")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	var capture *poolbus.CaptureWriter
	if rawLogCapture != "" {
		capture, err = poolbus.CreateCapture(rawLogCapture)
		if err != nil {
			return err
		}
		defer capture.Close()
	}

	fmt.Printf("Poolstat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if capture != nil {
		fmt.Printf("Capture: %s\n", rawLogCapture)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	assembler := poolbus.NewAssembler()
	buf := make([]byte, 256)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				fmt.Println("Connection closed")
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}

		for _, f := range assembler.Feed(buf[:n]) {
			if skipped := assembler.TakeSkipped(); skipped > 0 {
				fmt.Printf("(skipped %d bytes before sync)\n", skipped)
			}
			if capture != nil {
				if err := capture.WritePacket(poolbus.DirectionIn, f.Bytes(), f.Timestamp()); err != nil {
					return err
				}
			}
			printFrame(f, rawLogValidate)
		}
	}
}

// printFrame writes one frame to stdout with checksum and anomaly notes
func printFrame(f *poolbus.Frame, validate bool) {
	if err := poolbus.VerifyChecksum(f); err != nil {
		fmt.Printf("[%s] [ERROR] %v: %s\n", f.Timestamp().Format("15:04:05.000"), err, poolbus.FormatHex(f.Bytes()))
		return
	}

	fmt.Print(poolbus.FormatFrame(f))
	if !validate {
		return
	}
	for _, v := range poolbus.ValidateFrame(f, poolbus.Classify(f)) {
		fmt.Printf("  [ANOMALY] %s: %s\n", v.Type, v.Message)
	}
}

// formatElapsed is shared by the summary printers
func formatElapsed(d time.Duration) string {
	return d.Round(100 * time.Millisecond).String()
}
