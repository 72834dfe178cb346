// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thermoquad/poolstat/pkg/poolbus"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var runFrames bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Interactive console for driving pumps and the chlorinator",
	Long: `Connect to the bus and accept commands at a prompt.

Pumps can be started in power, rpm, gpm or program mode, optionally for a
number of minutes, and the chlorinator output can be set. Raw commands can
be queued with send. Type help at the prompt for the full list.

The connection is re-opened automatically if it drops. With --frames every
forwarded frame is printed above the prompt.

Supports both serial and WebSocket connections.`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runFrames, "frames", false, "Print received frames")
}

var consoleCompleter = readline.NewPrefixCompleter(
	readline.PcItem("pump",
		readline.PcItem("run"),
		readline.PcItem("off"),
		readline.PcItem("status"),
	),
	readline.PcItem("chlor",
		readline.PcItem("set"),
		readline.PcItem("clear"),
		readline.PcItem("status"),
	),
	readline.PcItem("send"),
	readline.PcItem("queue"),
	readline.PcItem("stats"),
	readline.PcItem("reset"),
	readline.PcItem("init"),
	readline.PcItem("help"),
	readline.PcItem("quit"),
)

func runConsole(cmd *cobra.Command, args []string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pool> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    consoleCompleter,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	log := newLogger(rl.Stderr())
	cm, err := openSession(log)
	if err != nil {
		return err
	}
	defer cm.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, connInfo := cm.getConn()
	fmt.Fprintf(rl.Stdout(), "Poolstat - Console\n")
	fmt.Fprintf(rl.Stdout(), "Connection: %s\n", connInfo)
	fmt.Fprintf(rl.Stdout(), "Pumps: %v\n", cm.link.Pumps())
	fmt.Fprintf(rl.Stdout(), "Type help for commands\n\n")

	if runFrames {
		cm.link.OnFrame(func(f *poolbus.Frame, family poolbus.Family) {
			fmt.Fprint(rl.Stdout(), poolbus.FormatFrame(f))
		})
	}

	cm.start(ctx)
	cm.applyStartupLevels()

	c := &console{link: cm.link, out: rl.Stdout()}
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(rl.Stdout(), "Exiting...")
			return nil
		}

		if err := c.execute(line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(rl.Stderr(), "Error: %v\n", err)
		}
	}
}
