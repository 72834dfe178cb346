// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"time"

	"github.com/Thermoquad/poolstat/pkg/poolbus"
	"github.com/sirupsen/logrus"
)

// ChlorinatorTimer holds the desired chlorinator output. In direct mode
// the output is re-sent every KeepAlive interval, since the chlorinator
// falls back to idle when it stops hearing from us.
type ChlorinatorTimer struct {
	link *Link

	pool       int
	spa        int
	superHours int
	superUntil time.Time
	set        bool

	timer Timer
	gen   uint64
}

// ChlorinatorState is a snapshot of the chlorinator settings
type ChlorinatorState struct {
	Pool            int       `json:"pool"`
	Spa             int       `json:"spa"`
	SuperChlorinate int       `json:"superChlorinate"`
	SuperUntil      time.Time `json:"superUntil,omitempty"`
	Output          int       `json:"output"`
	KeepAlive       bool      `json:"keepAlive"`
}

// Chlorinator returns the chlorinator timer
func (l *Link) Chlorinator() *ChlorinatorTimer {
	return l.chlorinator
}

// SetLevel stores the desired levels, queues one write and (re)arms the
// keep-alive. superHours > 0 super-chlorinates for that many hours.
func (c *ChlorinatorTimer) SetLevel(pool, spa, superHours int) error {
	l := c.link
	l.mu.Lock()
	defer l.unlock()
	return c.setLevelLocked(pool, spa, superHours)
}

// ClearTimer stops re-assertion without sending anything
func (c *ChlorinatorTimer) ClearTimer() {
	l := c.link
	l.mu.Lock()
	defer l.unlock()
	c.stopLocked()
	l.log.Debug("chlorinator keep-alive cleared")
}

// Active reports whether the keep-alive is armed
func (c *ChlorinatorTimer) Active() bool {
	l := c.link
	l.mu.Lock()
	defer l.unlock()
	return c.timer != nil
}

// State returns the desired levels and current output
func (c *ChlorinatorTimer) State() ChlorinatorState {
	l := c.link
	l.mu.Lock()
	defer l.unlock()
	return ChlorinatorState{
		Pool:            c.pool,
		Spa:             c.spa,
		SuperChlorinate: c.superHours,
		SuperUntil:      c.superUntil,
		Output:          c.outputLocked(),
		KeepAlive:       c.timer != nil,
	}
}

func (c *ChlorinatorTimer) setLevelLocked(pool, spa, superHours int) error {
	const op = "chlorinator set"
	l := c.link
	if l.closed {
		return ErrClosed
	}
	if !l.settings.Chlorinator.Installed {
		return configError(op, "", nil, ErrChlorinatorNotInstalled, "chlorinator is not installed")
	}
	if err := checkRange(op, "pool", pool, 0, poolbus.MaxChlorPercent); err != nil {
		return err
	}
	if err := checkRange(op, "spa", spa, 0, poolbus.MaxChlorPercent); err != nil {
		return err
	}
	if err := checkRange(op, "superChlorinate", superHours, 0, poolbus.MaxSuperHours); err != nil {
		return err
	}

	prev := *c
	c.pool, c.spa, c.superHours = pool, spa, superHours
	c.superUntil = time.Time{}
	if superHours > 0 {
		c.superUntil = l.clock.Now().Add(time.Duration(superHours) * time.Hour)
	}
	if _, err := l.queueLocked(op, c.commandLocked()); err != nil {
		c.pool, c.spa, c.superHours, c.superUntil = prev.pool, prev.spa, prev.superHours, prev.superUntil
		return err
	}
	c.set = true

	c.stopLocked()
	c.armLocked()

	l.log.WithFields(logrus.Fields{
		"pool":   pool,
		"spa":    spa,
		"super":  superHours,
		"output": c.outputLocked(),
	}).Info("chlorinator level set")
	return nil
}

// outputLocked is the percentage sent in direct mode
func (c *ChlorinatorTimer) outputLocked() int {
	l := c.link
	if !c.superUntil.IsZero() && l.clock.Now().Before(c.superUntil) {
		return poolbus.MaxChlorPercent
	}
	if l.settings.Chlorinator.Body == BodySpa {
		return c.spa
	}
	return c.pool
}

func (c *ChlorinatorTimer) commandLocked() []byte {
	l := c.link
	if l.settings.Chlorinator.ControlledBy == ControlController {
		return poolbus.ControllerSetChlorinator(l.settings.ControllerVersion, l.settings.AppAddress,
			c.pool, c.spa, c.superHours)
	}
	return poolbus.ChlorinatorSetOutput(c.outputLocked())
}

// armLocked schedules the next keep-alive. Only a directly driven
// chlorinator with non-zero output is kept alive.
func (c *ChlorinatorTimer) armLocked() {
	l := c.link
	cfg := l.settings.Chlorinator
	if !c.set || !cfg.Installed || cfg.ControlledBy != ControlDirect || c.outputLocked() == 0 {
		return
	}
	gen := c.gen
	c.timer = l.clock.AfterFunc(cfg.KeepAlive, func() {
		c.tick(gen)
	})
}

func (c *ChlorinatorTimer) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

func (c *ChlorinatorTimer) tick(gen uint64) {
	l := c.link
	l.mu.Lock()
	defer l.unlock()
	if l.closed || gen != c.gen {
		return
	}
	c.timer = nil

	if !c.superUntil.IsZero() && !l.clock.Now().Before(c.superUntil) {
		l.log.Info("super chlorination finished")
		c.superHours = 0
		c.superUntil = time.Time{}
	}

	if l.familyLenLocked(poolbus.FamilyChlorinator) > 0 {
		l.log.Debug("chlorinator write still queued, skipping keep-alive")
	} else if _, err := l.queueLocked("chlorinator keep-alive", c.commandLocked()); err != nil {
		l.log.Warnf("chlorinator keep-alive not queued: %v", err)
	}
	c.armLocked()
}

// reloadLocked re-arms the keep-alive after a settings change
func (c *ChlorinatorTimer) reloadLocked() {
	c.stopLocked()
	c.armLocked()
}
