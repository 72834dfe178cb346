// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"time"

	"github.com/Thermoquad/poolstat/pkg/poolbus"
)

// RetryPolicy controls how long an unanswered command may hold the bus
type RetryPolicy struct {
	AckTimeout    time.Duration // wait per attempt
	WarnAfter     int           // failed attempts before a warning
	AbandonAfter  int           // failed attempts before the command is dropped
	VerboseWindow time.Duration // debug logging after an abandonment
}

// ControlMode selects who drives the chlorinator
type ControlMode string

const (
	// ControlDirect talks to the chlorinator and keeps it alive
	ControlDirect ControlMode = "direct"
	// ControlController hands levels to the main controller
	ControlController ControlMode = "controller"
)

// Body selects which body's level drives a directly controlled chlorinator
type Body string

const (
	BodyPool Body = "pool"
	BodySpa  Body = "spa"
)

// ChlorinatorSettings configures the chlorinator
type ChlorinatorSettings struct {
	Installed    bool
	ControlledBy ControlMode
	Body         Body
	KeepAlive    time.Duration
}

// Settings configures a Link
type Settings struct {
	AppAddress        byte // source address of our commands
	ControllerVersion byte // version byte for controller commands
	Debounce          time.Duration
	MaxQueueLength    int // per family
	Retry             RetryPolicy
	PumpTick          time.Duration
	PumpKeepAlive     bool
	Pumps             []int // installed pump indexes
	Chlorinator       ChlorinatorSettings
	LogFrames         bool // log every forwarded frame at debug
	LogDuplicates     bool // log duplicate notices at info instead of debug
}

// Defaults
const (
	DefaultAckTimeout     = time.Second
	DefaultWarnAfter      = 5
	DefaultAbandonAfter   = 10
	DefaultVerboseWindow  = 2 * time.Minute
	DefaultMaxQueueLength = 64
	DefaultPumpTick       = 30 * time.Second
	DefaultKeepAlive      = 4 * time.Second
	MaxDurationMinutes    = 1440
)

// DefaultRetryPolicy returns the stock retry thresholds
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		AckTimeout:    DefaultAckTimeout,
		WarnAfter:     DefaultWarnAfter,
		AbandonAfter:  DefaultAbandonAfter,
		VerboseWindow: DefaultVerboseWindow,
	}
}

// DefaultSettings returns settings for a single pump at index 1 and a
// directly driven chlorinator
func DefaultSettings() Settings {
	return Settings{
		AppAddress:        poolbus.AddressApp,
		ControllerVersion: poolbus.VersionController,
		Debounce:          poolbus.DefaultDebounce,
		MaxQueueLength:    DefaultMaxQueueLength,
		Retry:             DefaultRetryPolicy(),
		PumpTick:          DefaultPumpTick,
		PumpKeepAlive:     true,
		Pumps:             []int{1},
		Chlorinator: ChlorinatorSettings{
			Installed:    true,
			ControlledBy: ControlDirect,
			Body:         BodyPool,
			KeepAlive:    DefaultKeepAlive,
		},
	}
}

// Validate checks the settings for values the link cannot run with
func (s Settings) Validate() error {
	const op = "settings"
	if s.AppAddress < poolbus.AddressRemoteFirst || s.AppAddress > poolbus.AddressRemoteLast {
		return configError(op, "appAddress", s.AppAddress, ErrOutOfRange,
			"must be between %d and %d", poolbus.AddressRemoteFirst, poolbus.AddressRemoteLast)
	}
	if s.Debounce < 0 {
		return configError(op, "debounce", s.Debounce, ErrOutOfRange, "must not be negative")
	}
	if s.MaxQueueLength < 1 {
		return configError(op, "maxQueueLength", s.MaxQueueLength, ErrOutOfRange, "must be at least 1")
	}
	if s.Retry.AckTimeout <= 0 {
		return configError(op, "retry.ackTimeout", s.Retry.AckTimeout, ErrOutOfRange, "must be positive")
	}
	if s.Retry.AbandonAfter < 1 {
		return configError(op, "retry.abandonAfter", s.Retry.AbandonAfter, ErrOutOfRange, "must be at least 1")
	}
	if s.Retry.WarnAfter < 0 {
		return configError(op, "retry.warnAfter", s.Retry.WarnAfter, ErrOutOfRange, "must not be negative")
	}
	if s.Retry.VerboseWindow < 0 {
		return configError(op, "retry.verboseWindow", s.Retry.VerboseWindow, ErrOutOfRange, "must not be negative")
	}
	if s.PumpTick <= 0 {
		return configError(op, "pumpTick", s.PumpTick, ErrOutOfRange, "must be positive")
	}

	seen := make(map[int]bool)
	for _, p := range s.Pumps {
		if err := checkRange(op, "pumps", p, 1, poolbus.MaxPumps); err != nil {
			return err
		}
		if seen[p] {
			return configError(op, "pumps", p, ErrInvalidCommand, "listed twice")
		}
		seen[p] = true
	}

	c := s.Chlorinator
	if c.Installed {
		switch c.ControlledBy {
		case ControlDirect, ControlController:
		default:
			return configError(op, "chlorinator.controlledBy", c.ControlledBy, ErrInvalidCommand,
				"must be %q or %q", ControlDirect, ControlController)
		}
		switch c.Body {
		case BodyPool, BodySpa:
		default:
			return configError(op, "chlorinator.body", c.Body, ErrInvalidCommand,
				"must be %q or %q", BodyPool, BodySpa)
		}
		if c.KeepAlive <= 0 {
			return configError(op, "chlorinator.keepAlive", c.KeepAlive, ErrOutOfRange, "must be positive")
		}
	}
	return nil
}

func (s Settings) pumpInstalled(index int) bool {
	for _, p := range s.Pumps {
		if p == index {
			return true
		}
	}
	return false
}
