// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
		field  string
	}{
		{"defaults", func(*Settings) {}, ""},
		{"app address", func(s *Settings) { s.AppAddress = 0x10 }, "appAddress"},
		{"negative debounce", func(s *Settings) { s.Debounce = -time.Second }, "debounce"},
		{"queue length", func(s *Settings) { s.MaxQueueLength = 0 }, "maxQueueLength"},
		{"ack timeout", func(s *Settings) { s.Retry.AckTimeout = 0 }, "retry.ackTimeout"},
		{"abandon after", func(s *Settings) { s.Retry.AbandonAfter = 0 }, "retry.abandonAfter"},
		{"pump tick", func(s *Settings) { s.PumpTick = 0 }, "pumpTick"},
		{"pump index", func(s *Settings) { s.Pumps = []int{17} }, "pumps"},
		{"pump twice", func(s *Settings) { s.Pumps = []int{1, 1} }, "pumps"},
		{"chlorinator mode", func(s *Settings) { s.Chlorinator.ControlledBy = "remote" }, "chlorinator.controlledBy"},
		{"chlorinator body", func(s *Settings) { s.Chlorinator.Body = "lake" }, "chlorinator.body"},
		{"keep-alive", func(s *Settings) { s.Chlorinator.KeepAlive = 0 }, "chlorinator.keepAlive"},
		{"uninstalled chlorinator ignored", func(s *Settings) {
			s.Chlorinator.Installed = false
			s.Chlorinator.KeepAlive = 0
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.modify(&s)
			err := s.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfigError_Message(t *testing.T) {
	err := configError("pump run", "rpm", 100, ErrOutOfRange, "must be between %d and %d", 450, 3450)
	assert.Equal(t, "pump run: rpm=100: must be between 450 and 3450", err.Error())
	assert.ErrorIs(t, err, ErrOutOfRange)

	bare := &ConfigError{Op: "queue", Err: ErrQueueFull}
	assert.Equal(t, "queue: queue full", bare.Error())
}
