// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"math"
	"sort"
	"time"

	"github.com/Thermoquad/poolstat/pkg/poolbus"
	"github.com/sirupsen/logrus"
)

// PumpMode is what a pump has been told to run at
type PumpMode int

const (
	PumpOff PumpMode = iota
	PumpPower
	PumpRPM
	PumpGPM
	PumpProgram
)

// String returns the mode name
func (m PumpMode) String() string {
	switch m {
	case PumpPower:
		return "power"
	case PumpRPM:
		return "rpm"
	case PumpGPM:
		return "gpm"
	case PumpProgram:
		return "program"
	default:
		return "off"
	}
}

// ParsePumpMode converts a mode name to a PumpMode
func ParsePumpMode(s string) (PumpMode, bool) {
	for _, m := range []PumpMode{PumpOff, PumpPower, PumpRPM, PumpGPM, PumpProgram} {
		if m.String() == s {
			return m, true
		}
	}
	return PumpOff, false
}

// NoDuration runs a pump until told otherwise
const NoDuration = -1

// PumpTimer is the run state of one pump. A timed run counts down in
// PumpTick steps and sends the off sequence when it reaches zero.
type PumpTimer struct {
	link    *Link
	index   int
	address byte

	mode      PumpMode
	value     int
	timed     bool
	remaining time.Duration

	timer Timer
	gen   uint64
}

func newPumpTimer(l *Link, index int) *PumpTimer {
	return &PumpTimer{
		link:    l,
		index:   index,
		address: poolbus.PumpAddress(index),
	}
}

// Index returns the pump index (1..16)
func (p *PumpTimer) Index() int {
	return p.index
}

// Address returns the pump's bus address
func (p *PumpTimer) Address() byte {
	return p.address
}

// Run queues the run sequence and replaces any countdown in progress.
// durationMinutes is NoDuration or 1..1440.
func (p *PumpTimer) Run(mode PumpMode, value, durationMinutes int) error {
	l := p.link
	l.mu.Lock()
	defer l.unlock()
	return p.runLocked(mode, value, durationMinutes)
}

// Off cancels any countdown and queues the off sequence
func (p *PumpTimer) Off() error {
	l := p.link
	l.mu.Lock()
	defer l.unlock()
	return p.offLocked()
}

// Mode returns the current run mode
func (p *PumpTimer) Mode() PumpMode {
	l := p.link
	l.mu.Lock()
	defer l.unlock()
	return p.mode
}

// Value returns the current run value (rpm, gpm or program; 0 for power)
func (p *PumpTimer) Value() int {
	l := p.link
	l.mu.Lock()
	defer l.unlock()
	return p.value
}

// RemainingDuration returns whole minutes left, rounded up; 0.5 inside
// the final minute; -1 when the pump is not on a timed run.
func (p *PumpTimer) RemainingDuration() float64 {
	l := p.link
	l.mu.Lock()
	defer l.unlock()
	return p.remainingLocked()
}

func (p *PumpTimer) remainingLocked() float64 {
	if !p.timed {
		return NoDuration
	}
	if p.remaining >= time.Minute {
		return math.Ceil(p.remaining.Minutes())
	}
	return 0.5
}

func (p *PumpTimer) validateLocked(op string, mode PumpMode, value, duration int) error {
	switch mode {
	case PumpPower:
	case PumpRPM:
		if err := checkRange(op, "rpm", value, poolbus.MinRPM, poolbus.MaxRPM); err != nil {
			return err
		}
	case PumpGPM:
		if err := checkRange(op, "gpm", value, poolbus.MinGPM, poolbus.MaxGPM); err != nil {
			return err
		}
	case PumpProgram:
		if err := checkRange(op, "program", value, poolbus.MinProgram, poolbus.MaxProgram); err != nil {
			return err
		}
	default:
		return configError(op, "mode", mode, ErrInvalidCommand, "use Off to stop a pump")
	}
	if duration != NoDuration {
		if err := checkRange(op, "duration", duration, 1, MaxDurationMinutes); err != nil {
			return err
		}
	}
	return nil
}

// runSequence returns remote, power on, set value (except power mode), status
func (p *PumpTimer) runSequence(mode PumpMode, value int) [][]byte {
	app := p.link.settings.AppAddress
	seq := [][]byte{
		poolbus.PumpRemoteControl(p.address, app, true),
		poolbus.PumpPower(p.address, app, true),
	}
	switch mode {
	case PumpRPM:
		seq = append(seq, poolbus.PumpSetRPM(p.address, app, value))
	case PumpGPM:
		seq = append(seq, poolbus.PumpSetGPM(p.address, app, value))
	case PumpProgram:
		seq = append(seq, poolbus.PumpRunProgram(p.address, app, value))
	}
	return append(seq, poolbus.PumpStatusRequest(p.address, app))
}

// offSequence returns remote, power off, status
func (p *PumpTimer) offSequence() [][]byte {
	app := p.link.settings.AppAddress
	return [][]byte{
		poolbus.PumpRemoteControl(p.address, app, true),
		poolbus.PumpPower(p.address, app, false),
		poolbus.PumpStatusRequest(p.address, app),
	}
}

// installedLocked rejects a timer that Reload removed from the link
func (p *PumpTimer) installedLocked(op string) error {
	if p.link.pumps[p.index] != p {
		return configError(op, "pump", p.index, ErrPumpNotInstalled, "pump %d is not installed", p.index)
	}
	return nil
}

func (p *PumpTimer) runLocked(mode PumpMode, value, duration int) error {
	const op = "pump run"
	l := p.link
	if err := p.installedLocked(op); err != nil {
		return err
	}
	if err := p.validateLocked(op, mode, value, duration); err != nil {
		return err
	}
	if mode == PumpPower {
		value = 0
	}
	if _, err := l.queueLocked(op, p.runSequence(mode, value)...); err != nil {
		return err
	}

	p.stopLocked()
	p.mode = mode
	p.value = value
	p.timed = duration != NoDuration
	p.remaining = time.Duration(duration) * time.Minute
	if !p.timed {
		p.remaining = 0
	}
	p.armLocked()

	l.log.WithFields(logrus.Fields{
		"pump":     p.index,
		"mode":     mode,
		"value":    value,
		"duration": duration,
	}).Info("pump run")
	return nil
}

func (p *PumpTimer) offLocked() error {
	const op = "pump off"
	l := p.link
	if err := p.installedLocked(op); err != nil {
		return err
	}
	if _, err := l.queueLocked(op, p.offSequence()...); err != nil {
		return err
	}
	p.stopLocked()
	p.mode = PumpOff
	p.value = 0
	p.timed = false
	p.remaining = 0
	l.log.WithField("pump", p.index).Info("pump off")
	return nil
}

// stopLocked cancels the tick timer. A callback already past Stop sees a
// new generation and does nothing.
func (p *PumpTimer) stopLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
}

// armLocked schedules the next tick when the run is timed or kept alive
func (p *PumpTimer) armLocked() {
	l := p.link
	if p.mode == PumpOff || (!p.timed && !l.settings.PumpKeepAlive) {
		return
	}
	gen := p.gen
	p.timer = l.clock.AfterFunc(l.settings.PumpTick, func() {
		p.tick(gen)
	})
}

func (p *PumpTimer) tick(gen uint64) {
	l := p.link
	l.mu.Lock()
	defer l.unlock()
	if l.closed || gen != p.gen {
		return
	}
	p.timer = nil

	if p.timed {
		p.remaining -= l.settings.PumpTick
		if p.remaining <= 0 {
			l.log.WithField("pump", p.index).Info("pump run duration elapsed")
			if err := p.offLocked(); err != nil {
				// Keep counting so the next tick tries again.
				l.log.WithField("pump", p.index).Warnf("failed to queue off sequence: %v", err)
				p.remaining = 0
				p.armLocked()
			}
			return
		}
	}

	if l.settings.PumpKeepAlive {
		if l.familyLenLocked(poolbus.FamilyPump) > l.settings.MaxQueueLength/2 {
			l.log.WithField("pump", p.index).Debug("pump queue busy, skipping keep-alive")
		} else if _, err := l.queueLocked("pump keep-alive", p.runSequence(p.mode, p.value)...); err != nil {
			l.log.WithField("pump", p.index).Warnf("keep-alive not queued: %v", err)
		}
	}
	p.armLocked()
}

// Pump returns the timer for an installed pump
func (l *Link) Pump(index int) (*PumpTimer, error) {
	l.mu.Lock()
	defer l.unlock()
	return l.pumpLocked("pump", index)
}

func (l *Link) pumpLocked(op string, index int) (*PumpTimer, error) {
	if index < 1 || index > poolbus.MaxPumps {
		return nil, configError(op, "pump", index, ErrPumpIndex, "must be between 1 and %d", poolbus.MaxPumps)
	}
	p, ok := l.pumps[index]
	if !ok {
		return nil, configError(op, "pump", index, ErrPumpNotInstalled, "pump %d is not installed", index)
	}
	return p, nil
}

// RunCommand runs a pump; see PumpTimer.Run
func (l *Link) RunCommand(index int, mode PumpMode, value, durationMinutes int) error {
	l.mu.Lock()
	defer l.unlock()
	if l.closed {
		return ErrClosed
	}
	p, err := l.pumpLocked("pump run", index)
	if err != nil {
		return err
	}
	return p.runLocked(mode, value, durationMinutes)
}

// OffCommand stops a pump; see PumpTimer.Off
func (l *Link) OffCommand(index int) error {
	l.mu.Lock()
	defer l.unlock()
	if l.closed {
		return ErrClosed
	}
	p, err := l.pumpLocked("pump off", index)
	if err != nil {
		return err
	}
	return p.offLocked()
}

// CurrentRunningMode returns a pump's mode
func (l *Link) CurrentRunningMode(index int) (PumpMode, error) {
	l.mu.Lock()
	defer l.unlock()
	p, err := l.pumpLocked("pump mode", index)
	if err != nil {
		return PumpOff, err
	}
	return p.mode, nil
}

// CurrentRunningValue returns a pump's value
func (l *Link) CurrentRunningValue(index int) (int, error) {
	l.mu.Lock()
	defer l.unlock()
	p, err := l.pumpLocked("pump value", index)
	if err != nil {
		return 0, err
	}
	return p.value, nil
}

// CurrentRemainingDuration returns a pump's remaining minutes
func (l *Link) CurrentRemainingDuration(index int) (float64, error) {
	l.mu.Lock()
	defer l.unlock()
	p, err := l.pumpLocked("pump duration", index)
	if err != nil {
		return NoDuration, err
	}
	return p.remainingLocked(), nil
}

// PumpState is a snapshot of one pump
type PumpState struct {
	Index     int      `json:"index"`
	Mode      PumpMode `json:"-"`
	ModeName  string   `json:"mode"`
	Value     int      `json:"value"`
	Remaining float64  `json:"remaining"`
}

// PumpStates returns a snapshot of every installed pump in index order
func (l *Link) PumpStates() []PumpState {
	l.mu.Lock()
	defer l.unlock()
	indexes := make([]int, 0, len(l.pumps))
	for index := range l.pumps {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	out := make([]PumpState, 0, len(indexes))
	for _, index := range indexes {
		p := l.pumps[index]
		out = append(out, PumpState{
			Index:     index,
			Mode:      p.mode,
			ModeName:  p.mode.String(),
			Value:     p.value,
			Remaining: p.remainingLocked(),
		})
	}
	return out
}
