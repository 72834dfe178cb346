// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
)

var (
	// ErrAckTimeout is passed to completion hooks when a command is
	// abandoned after exhausting its retries
	ErrAckTimeout = errors.New("no acknowledgment")

	// ErrCleared is passed to completion hooks for commands dropped by
	// Clear, Init or Reload
	ErrCleared = errors.New("queue cleared")

	// ErrQueueFull is returned when a family queue is at capacity
	ErrQueueFull = errors.New("queue full")

	// ErrClosed is returned by operations on a closed link
	ErrClosed = errors.New("link closed")

	ErrPumpIndex               = errors.New("pump index out of range")
	ErrPumpNotInstalled        = errors.New("pump not installed")
	ErrChlorinatorNotInstalled = errors.New("chlorinator not installed")
	ErrOutOfRange              = errors.New("value out of range")
	ErrInvalidCommand          = errors.New("invalid command")
)

// ConfigError describes a request rejected before anything was queued
type ConfigError struct {
	Op     string
	Field  string
	Value  any
	Reason string
	Err    error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	msg := e.Op + ": "
	if e.Field != "" {
		msg += fmt.Sprintf("%s=%v: ", e.Field, e.Value)
	}
	if e.Reason != "" {
		return msg + e.Reason
	}
	return msg + e.Err.Error()
}

// Unwrap returns the sentinel error
func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configError(op, field string, value any, err error, format string, args ...any) *ConfigError {
	return &ConfigError{
		Op:     op,
		Field:  field,
		Value:  value,
		Reason: fmt.Sprintf(format, args...),
		Err:    err,
	}
}

func checkRange(op, field string, value, lo, hi int) error {
	if value < lo || value > hi {
		return configError(op, field, value, ErrOutOfRange, "must be between %d and %d", lo, hi)
	}
	return nil
}
