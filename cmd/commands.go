// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Thermoquad/poolstat/pkg/link"
	"github.com/Thermoquad/poolstat/pkg/poolbus"
)

// errQuit is returned by execute for quit and exit
var errQuit = errors.New("quit")

const consoleHelp = `Commands:
  pump run <n> <mode> [value] [minutes]   mode: power, rpm, gpm, program
  pump off <n>
  pump status
  chlor set <pool> [spa] [super hours]
  chlor clear                             stop the keep-alive
  chlor status
  send <hex bytes>                        e.g. send A5 01 10 21 86 02 06 01
  queue                                   list queued commands
  stats                                   show statistics
  reset                                   reset statistics
  init                                    drop queued commands and resync
  help
  quit
`

// console runs text commands against a link. It backs the run, monitor
// and bridge commands.
type console struct {
	link *link.Link
	out  io.Writer
}

// execute runs one command line. Empty lines are ignored.
func (c *console) execute(line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}

	switch strings.ToLower(args[0]) {
	case "pump":
		return c.pump(args[1:])
	case "chlor", "chlorinator":
		return c.chlorinator(args[1:])
	case "send":
		return c.send(args[1:])
	case "queue":
		c.queue()
	case "stats":
		stats := c.link.Stats()
		fmt.Fprint(c.out, stats.String())
	case "reset":
		c.link.ResetStats()
		fmt.Fprintln(c.out, "Statistics reset")
	case "init":
		c.link.Init()
		fmt.Fprintln(c.out, "Link reinitialized")
	case "help", "?":
		fmt.Fprint(c.out, consoleHelp)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
	return nil
}

func (c *console) pump(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: pump run|off|status")
	}

	switch args[0] {
	case "status":
		c.pumpStatus()
		return nil

	case "off":
		if len(args) != 2 {
			return errors.New("usage: pump off <n>")
		}
		index, err := parseInt("pump", args[1])
		if err != nil {
			return err
		}
		if err := c.link.OffCommand(index); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Pump %d off\n", index)
		return nil

	case "run":
		if len(args) < 3 {
			return errors.New("usage: pump run <n> <mode> [value] [minutes]")
		}
		index, err := parseInt("pump", args[1])
		if err != nil {
			return err
		}
		mode, ok := link.ParsePumpMode(args[2])
		if !ok || mode == link.PumpOff {
			return fmt.Errorf("unknown pump mode %q (use power, rpm, gpm or program)", args[2])
		}

		rest := args[3:]
		value := 0
		if mode != link.PumpPower {
			if len(rest) == 0 {
				return fmt.Errorf("pump run: %s needs a value", mode)
			}
			if value, err = parseInt(mode.String(), rest[0]); err != nil {
				return err
			}
			rest = rest[1:]
		}

		duration := link.NoDuration
		switch len(rest) {
		case 0:
		case 1:
			if duration, err = parseInt("minutes", rest[0]); err != nil {
				return err
			}
		default:
			return errors.New("usage: pump run <n> <mode> [value] [minutes]")
		}

		if err := c.link.RunCommand(index, mode, value, duration); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Pump %d running %s\n", index, describeRun(mode, value, duration))
		return nil
	}
	return fmt.Errorf("unknown pump command %q", args[0])
}

func (c *console) pumpStatus() {
	states := c.link.PumpStates()
	if len(states) == 0 {
		fmt.Fprintln(c.out, "No pumps installed")
		return
	}
	fmt.Fprintf(c.out, "%-6s %-8s %6s  %s\n", "PUMP", "MODE", "VALUE", "REMAINING")
	for _, s := range states {
		fmt.Fprintf(c.out, "%-6d %-8s %6d  %s\n", s.Index, s.ModeName, s.Value, formatRemaining(s.Remaining))
	}
}

func (c *console) chlorinator(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: chlor set|clear|status")
	}
	ch := c.link.Chlorinator()

	switch args[0] {
	case "status":
		s := ch.State()
		fmt.Fprintf(c.out, "Pool: %d%%  Spa: %d%%  Output: %d%%\n", s.Pool, s.Spa, s.Output)
		if s.SuperChlorinate > 0 {
			fmt.Fprintf(c.out, "Super chlorinating for %dh (until %s)\n", s.SuperChlorinate, s.SuperUntil.Format("15:04"))
		}
		fmt.Fprintf(c.out, "Keep-alive: %v\n", s.KeepAlive)
		return nil

	case "clear":
		ch.ClearTimer()
		fmt.Fprintln(c.out, "Chlorinator keep-alive stopped")
		return nil

	case "set":
		if len(args) < 2 || len(args) > 4 {
			return errors.New("usage: chlor set <pool> [spa] [super hours]")
		}
		levels := []int{0, 0, 0}
		names := []string{"pool", "spa", "super hours"}
		for i, arg := range args[1:] {
			v, err := parseInt(names[i], arg)
			if err != nil {
				return err
			}
			levels[i] = v
		}
		if err := ch.SetLevel(levels[0], levels[1], levels[2]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Chlorinator output %d%%\n", ch.State().Output)
		return nil
	}
	return fmt.Errorf("unknown chlorinator command %q", args[0])
}

func (c *console) send(args []string) error {
	cmd, err := parseBytes(args)
	if err != nil {
		return err
	}
	id, err := c.link.QueuePacket(cmd)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Queued %s (%s)\n", id.String()[:8], poolbus.Outbound(cmd))
	return nil
}

func (c *console) queue() {
	if w, ok := c.link.InFlight(); ok {
		fmt.Fprintf(c.out, "In flight: %s retries=%d\n", w, w.Retries)
	}
	queued := c.link.Queued()
	fmt.Fprintf(c.out, "Queued: %d\n", len(queued))
	for _, w := range queued {
		fmt.Fprintf(c.out, "  %s\n", w)
	}
}

// parseBytes reads hex byte tokens. Tokens may be separated by spaces or
// commas and carry an optional 0x prefix.
func parseBytes(args []string) ([]byte, error) {
	var out []byte
	for _, arg := range args {
		for _, tok := range strings.Split(arg, ",") {
			tok = strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
			if tok == "" {
				continue
			}
			v, err := strconv.ParseUint(tok, 16, 8)
			if err != nil {
				return nil, fmt.Errorf("invalid byte %q", tok)
			}
			out = append(out, byte(v))
		}
	}
	if len(out) == 0 {
		return nil, errors.New("usage: send <hex bytes>")
	}
	return out, nil
}

func parseInt(name, s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", name, s)
	}
	return v, nil
}

func describeRun(mode link.PumpMode, value, duration int) string {
	desc := mode.String()
	if mode != link.PumpPower {
		desc = fmt.Sprintf("%s %d", mode, value)
	}
	if duration != link.NoDuration {
		desc += fmt.Sprintf(" for %d min", duration)
	}
	return desc
}

// formatRemaining renders a RemainingDuration value
func formatRemaining(r float64) string {
	switch {
	case r < 0:
		return "-"
	case r < 1:
		return "<1 min"
	}
	return fmt.Sprintf("%.0f min", r)
}
