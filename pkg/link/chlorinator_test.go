// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"testing"
	"time"

	"github.com/Thermoquad/poolstat/pkg/poolbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chlorSettings() Settings {
	s := testSettings()
	s.Chlorinator.Installed = true
	return s
}

func TestChlorinator_KeepAlive(t *testing.T) {
	h := newHarness(t, chlorSettings())
	c := h.link.Chlorinator()
	wire := poolbus.MustEncode(poolbus.ChlorinatorSetOutput(50))

	require.NoError(t, c.SetLevel(50, 0, 0))
	assert.Equal(t, wire, h.sink.last())
	h.drain(t)
	assert.True(t, c.Active())

	for i := 2; i <= 4; i++ {
		h.clock.Advance(DefaultKeepAlive)
		assert.Equal(t, i, h.sink.count())
		assert.Equal(t, wire, h.sink.last())
		h.drain(t)
	}
}

func TestChlorinator_SkipsWhileQueued(t *testing.T) {
	s := chlorSettings()
	s.Retry.AckTimeout = time.Hour
	h := newHarness(t, s)
	c := h.link.Chlorinator()

	require.NoError(t, c.SetLevel(50, 0, 0))
	h.clock.Advance(DefaultKeepAlive)
	assert.Equal(t, 1, h.sink.count())
	assert.Equal(t, 1, h.link.FamilyQueueLength(poolbus.FamilyChlorinator))
	assert.True(t, c.Active())

	h.drain(t)
	h.clock.Advance(DefaultKeepAlive)
	assert.Equal(t, 2, h.sink.count())
}

func TestChlorinator_ZeroSendsOnce(t *testing.T) {
	h := newHarness(t, chlorSettings())
	c := h.link.Chlorinator()

	require.NoError(t, c.SetLevel(0, 0, 0))
	h.drain(t)
	assert.Equal(t, poolbus.MustEncode(poolbus.ChlorinatorSetOutput(0)), h.sink.last())
	assert.False(t, c.Active())

	h.clock.Advance(5 * DefaultKeepAlive)
	assert.Equal(t, 1, h.sink.count())
}

func TestChlorinator_SpaBody(t *testing.T) {
	s := chlorSettings()
	s.Chlorinator.Body = BodySpa
	h := newHarness(t, s)

	require.NoError(t, h.link.Chlorinator().SetLevel(20, 40, 0))
	assert.Equal(t, poolbus.MustEncode(poolbus.ChlorinatorSetOutput(40)), h.sink.last())
	assert.Equal(t, 40, h.link.Chlorinator().State().Output)
}

func TestChlorinator_SuperChlorinateExpires(t *testing.T) {
	s := chlorSettings()
	s.Retry.AckTimeout = 2 * time.Hour
	h := newHarness(t, s)
	c := h.link.Chlorinator()

	require.NoError(t, c.SetLevel(20, 0, 1))
	assert.Equal(t, poolbus.MustEncode(poolbus.ChlorinatorSetOutput(poolbus.MaxChlorPercent)), h.sink.last())
	state := c.State()
	assert.Equal(t, poolbus.MaxChlorPercent, state.Output)
	assert.Equal(t, 1, state.SuperChlorinate)
	assert.Equal(t, testStart.Add(time.Hour), state.SuperUntil)
	h.drain(t)

	h.clock.Advance(time.Hour)
	state = c.State()
	assert.Equal(t, 0, state.SuperChlorinate)
	assert.Equal(t, 20, state.Output)

	h.drain(t)
	h.clock.Advance(DefaultKeepAlive)
	assert.Equal(t, poolbus.MustEncode(poolbus.ChlorinatorSetOutput(20)), h.sink.last())
}

func TestChlorinator_ControllerMode(t *testing.T) {
	s := chlorSettings()
	s.Chlorinator.ControlledBy = ControlController
	h := newHarness(t, s)
	c := h.link.Chlorinator()

	require.NoError(t, c.SetLevel(30, 10, 4))
	want := poolbus.ControllerSetChlorinator(poolbus.VersionController, poolbus.AddressApp, 30, 10, 4)
	assert.Equal(t, poolbus.MustEncode(want), h.sink.last())
	assert.Equal(t, poolbus.FamilyController, poolbus.Outbound(h.sink.last()))

	h.drain(t)
	assert.False(t, c.Active())
	h.clock.Advance(10 * DefaultKeepAlive)
	assert.Equal(t, 1, h.sink.count())
}

func TestChlorinator_Validation(t *testing.T) {
	h := newHarness(t, testSettings())
	err := h.link.Chlorinator().SetLevel(10, 0, 0)
	assert.ErrorIs(t, err, ErrChlorinatorNotInstalled)

	h = newHarness(t, chlorSettings())
	c := h.link.Chlorinator()

	err = c.SetLevel(102, 0, 0)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "pool", cfgErr.Field)
	assert.ErrorIs(t, err, ErrOutOfRange)

	err = c.SetLevel(10, -1, 0)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "spa", cfgErr.Field)

	err = c.SetLevel(10, 0, poolbus.MaxSuperHours+1)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "superChlorinate", cfgErr.Field)

	assert.Equal(t, 0, h.sink.count())
}

func TestChlorinator_FailedQueueKeepsLevels(t *testing.T) {
	s := chlorSettings()
	s.MaxQueueLength = 1
	s.Retry.AckTimeout = time.Hour
	h := newHarness(t, s)
	c := h.link.Chlorinator()

	require.NoError(t, c.SetLevel(50, 0, 0))
	assert.ErrorIs(t, c.SetLevel(60, 0, 0), ErrQueueFull)
	assert.Equal(t, 50, c.State().Pool)
}

func TestChlorinator_ClearTimer(t *testing.T) {
	h := newHarness(t, chlorSettings())
	c := h.link.Chlorinator()

	require.NoError(t, c.SetLevel(50, 0, 0))
	h.drain(t)
	c.ClearTimer()
	assert.False(t, c.Active())

	h.clock.Advance(5 * DefaultKeepAlive)
	assert.Equal(t, 1, h.sink.count())
	assert.Equal(t, 50, c.State().Pool)
}

func TestChlorinator_ReloadChangesInterval(t *testing.T) {
	s := chlorSettings()
	h := newHarness(t, s)
	c := h.link.Chlorinator()

	require.NoError(t, c.SetLevel(50, 0, 0))
	h.drain(t)

	s.Chlorinator.KeepAlive = 10 * time.Second
	require.NoError(t, h.link.Reload(s))
	h.clock.Advance(DefaultKeepAlive)
	assert.Equal(t, 1, h.sink.count())
	h.clock.Advance(6 * time.Second)
	assert.Equal(t, 2, h.sink.count())
}
