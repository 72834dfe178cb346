// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/Thermoquad/poolstat/pkg/link"
	"github.com/Thermoquad/poolstat/pkg/poolbus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsole(t *testing.T) (*console, *bytes.Buffer) {
	t.Helper()
	s := link.DefaultSettings()
	s.Retry.AckTimeout = time.Hour
	s.PumpKeepAlive = false

	log := logrus.New()
	log.SetOutput(io.Discard)
	l, err := link.New(io.Discard, s, link.WithLogger(log))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	var out bytes.Buffer
	return &console{link: l, out: &out}, &out
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []byte
		wantErr bool
	}{
		{"spaced", []string{"A5", "00", "60"}, []byte{0xA5, 0x00, 0x60}, false},
		{"prefixed", []string{"0x10", "0X02"}, []byte{0x10, 0x02}, false},
		{"commas", []string{"a5,01", "10"}, []byte{0xA5, 0x01, 0x10}, false},
		{"empty", nil, nil, true},
		{"too big", []string{"100"}, nil, true},
		{"not hex", []string{"zz"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBytes(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConsole_PumpRun(t *testing.T) {
	c, out := newTestConsole(t)

	require.NoError(t, c.execute("pump run 1 rpm 2000 30"))
	assert.Contains(t, out.String(), "Pump 1 running rpm 2000 for 30 min")

	mode, err := c.link.CurrentRunningMode(1)
	require.NoError(t, err)
	assert.Equal(t, link.PumpRPM, mode)
	remaining, err := c.link.CurrentRemainingDuration(1)
	require.NoError(t, err)
	assert.Equal(t, 30.0, remaining)

	out.Reset()
	require.NoError(t, c.execute("pump run 1 power"))
	assert.Contains(t, out.String(), "Pump 1 running power\n")
	remaining, err = c.link.CurrentRemainingDuration(1)
	require.NoError(t, err)
	assert.Equal(t, float64(link.NoDuration), remaining)

	out.Reset()
	require.NoError(t, c.execute("pump status"))
	assert.Contains(t, out.String(), "power")

	require.NoError(t, c.execute("pump off 1"))
	mode, err = c.link.CurrentRunningMode(1)
	require.NoError(t, err)
	assert.Equal(t, link.PumpOff, mode)
}

func TestConsole_PumpErrors(t *testing.T) {
	c, _ := newTestConsole(t)

	tests := []struct {
		line   string
		target error
	}{
		{"pump", nil},
		{"pump run 1", nil},
		{"pump run 1 rpm", nil},
		{"pump run 1 off", nil},
		{"pump run 1 turbo 10", nil},
		{"pump run one rpm 1000", nil},
		{"pump run 1 rpm 1000 5 6", nil},
		{"pump run 1 rpm 100", link.ErrOutOfRange},
		{"pump run 2 rpm 1000", link.ErrPumpNotInstalled},
		{"pump off", nil},
		{"pump spin 1", nil},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			err := c.execute(tt.line)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
	assert.Zero(t, c.link.QueueLength())
}

func TestConsole_Chlorinator(t *testing.T) {
	c, out := newTestConsole(t)

	require.NoError(t, c.execute("chlor set 40 10"))
	assert.Contains(t, out.String(), "Chlorinator output 40%")

	state := c.link.Chlorinator().State()
	assert.Equal(t, 40, state.Pool)
	assert.Equal(t, 10, state.Spa)
	assert.True(t, state.KeepAlive)

	out.Reset()
	require.NoError(t, c.execute("chlor status"))
	assert.Contains(t, out.String(), "Pool: 40%  Spa: 10%  Output: 40%")

	require.NoError(t, c.execute("chlor clear"))
	assert.False(t, c.link.Chlorinator().Active())

	assert.ErrorIs(t, c.execute("chlor set 150"), link.ErrOutOfRange)
	assert.Error(t, c.execute("chlor set"))
	assert.Error(t, c.execute("chlor boost"))
}

func TestConsole_Send(t *testing.T) {
	c, out := newTestConsole(t)

	require.NoError(t, c.execute("send A5 00 60 21 07 00"))
	assert.Contains(t, out.String(), "(pump)")
	assert.Equal(t, 1, c.link.FamilyQueueLength(poolbus.FamilyPump))

	out.Reset()
	require.NoError(t, c.execute("queue"))
	assert.Contains(t, out.String(), "In flight: pump")

	assert.ErrorIs(t, c.execute("send 01 02 03"), link.ErrInvalidCommand)
}

func TestConsole_Misc(t *testing.T) {
	c, out := newTestConsole(t)

	assert.NoError(t, c.execute(""))
	assert.NoError(t, c.execute("   "))

	require.NoError(t, c.execute("help"))
	assert.Contains(t, out.String(), "pump run <n> <mode>")

	out.Reset()
	require.NoError(t, c.execute("stats"))
	assert.Contains(t, out.String(), "=== Statistics")

	assert.ErrorIs(t, c.execute("quit"), errQuit)
	assert.ErrorIs(t, c.execute("EXIT"), errQuit)
	assert.Error(t, c.execute("dance"))
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "-", formatRemaining(link.NoDuration))
	assert.Equal(t, "<1 min", formatRemaining(0.5))
	assert.Equal(t, "12 min", formatRemaining(12))
}

func TestReplayCapture(t *testing.T) {
	s := link.DefaultSettings()
	s.Chlorinator.Installed = false
	s.PumpKeepAlive = false

	clock := &replayClock{}
	log := logrus.New()
	log.SetOutput(io.Discard)
	l, err := link.New(io.Discard, s, link.WithClock(clock), link.WithLogger(log))
	require.NoError(t, err)
	defer l.Close()

	status := poolbus.MustEncode(poolbus.PumpStatusRequest(poolbus.PumpAddress(1), poolbus.AddressApp))
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	records := []poolbus.Record{
		{Type: poolbus.RecordPacket, Packet: status, Direction: poolbus.DirectionIn, Timestamp: start},
		// Repeated inside the debounce window
		{Type: poolbus.RecordPacket, Packet: status, Direction: poolbus.DirectionIn, Timestamp: start.Add(10 * time.Millisecond)},
		{Type: poolbus.RecordPacket, Packet: status, Direction: poolbus.DirectionOut, Timestamp: start.Add(time.Second)},
		// Outside the window
		{Type: poolbus.RecordPacket, Packet: status, Direction: poolbus.DirectionIn, Timestamp: start.Add(time.Minute)},
	}

	var out bytes.Buffer
	replayCapture(l, clock, records, &out, false)

	stats := l.Stats()
	assert.Equal(t, uint64(2), stats.ValidFrames)
	assert.Equal(t, uint64(1), stats.Duplicates)
	assert.Contains(t, out.String(), "TX FF 00 FF A5")
	assert.Contains(t, out.String(), "[12:01:00.000]")
}
