// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"io"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorModel_Submit(t *testing.T) {
	c, _ := newTestConsole(t)
	m := initialMonitorModel(c.link, "test")

	m.input.SetValue("pump run 1 gpm 40")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(monitorModel)

	assert.Equal(t, "", m.input.Value())
	require.Len(t, m.events, 2)
	assert.Equal(t, "> pump run 1 gpm 40", m.events[0].message)
	assert.Equal(t, "Pump 1 running gpm 40", m.events[1].message)
	require.Len(t, m.pumps, 1)
	assert.Equal(t, 40, m.pumps[0].Value)
	assert.Positive(t, m.queueLen)

	m.input.SetValue("pump run 9 rpm 1000")
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(monitorModel)
	last := m.events[len(m.events)-1]
	assert.True(t, last.isError)
	assert.Contains(t, last.message, "not installed")

	assert.Contains(t, m.View(), "POOLSTAT - BUS MONITOR")
}

func TestMonitorModel_Quit(t *testing.T) {
	c, _ := newTestConsole(t)
	m := initialMonitorModel(c.link, "test")

	m.input.SetValue("quit")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, next.(monitorModel).quitting)
	assert.Equal(t, "Shutting down...\n", next.View())
}

func TestMonitorModel_EventsCapped(t *testing.T) {
	c, _ := newTestConsole(t)
	m := initialMonitorModel(c.link, "test")

	var batch monitorBatchMsg
	for i := 0; i < 150; i++ {
		batch.events = append(batch.events, eventLogEntry{timestamp: time.Now(), message: "x"})
	}
	next, _ := m.Update(batch)
	m = next.(monitorModel)
	assert.Len(t, m.events, 100)

	next, _ = m.Update(connectionLostMsg{err: errors.New("unplugged")})
	m = next.(monitorModel)
	assert.True(t, m.lost)
	assert.Contains(t, m.View(), "Disconnected")

	next, _ = m.Update(reconnectedMsg{connInfo: "Serial: /dev/ttyUSB1 @ 9600 baud"})
	m = next.(monitorModel)
	assert.False(t, m.lost)
	assert.Equal(t, "Serial: /dev/ttyUSB1 @ 9600 baud", m.connInfo)
}

func TestEventCollector_Hook(t *testing.T) {
	collector := newEventCollector()
	log := logrus.New()
	log.AddHook(collector)
	log.SetOutput(io.Discard)

	log.WithField("family", "pump").Warn("no reply")
	log.Info("settings reloaded")

	e := <-collector.events
	assert.Equal(t, "no reply (family=pump)", e.message)
	assert.True(t, e.isError)
	e = <-collector.events
	assert.Equal(t, "settings reloaded", e.message)
	assert.False(t, e.isError)
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "0 seconds", formatUptime(0))
	assert.Equal(t, "1 second", formatUptime(time.Second))
	assert.Equal(t, "2 minutes and 5 seconds", formatUptime(125*time.Second))
	assert.Equal(t, "1 day, 1 hour, and 1 minute", formatUptime(25*time.Hour+time.Minute))
}
