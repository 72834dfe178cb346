// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link drives a pool RS-485 bus: it turns received bytes into
// validated, classified frames, queues outbound commands per equipment
// family and writes them one at a time with acknowledgment tracking, and
// runs the pump duration and chlorinator keep-alive timers.
//
// A Link serializes every operation behind one mutex. Frame handlers and
// completion hooks run after the mutex is released and may call back into
// the Link; write hooks run while it is held and must not.
package link

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/Thermoquad/poolstat/pkg/poolbus"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FrameHandler receives every validated, de-duplicated, classified frame
type FrameHandler func(f *poolbus.Frame, family poolbus.Family)

// WriteHook observes a physical write
type WriteHook func(w PendingWrite)

// CompletionHook observes the end of a command: acknowledged (nil),
// abandoned (ErrAckTimeout) or dropped (ErrCleared)
type CompletionHook func(w PendingWrite, err error)

// Link owns the queues, dispatcher and timers for one physical bus
type Link struct {
	mu       sync.Mutex
	sink     io.Writer
	settings Settings
	clock    Clock
	log      *logrus.Logger

	assembler *poolbus.Assembler
	dedupe    *poolbus.DuplicateFilter
	stats     *poolbus.Statistics

	queues   map[poolbus.Family]*outboundQueue
	dispatch dispatcher

	pumps       map[int]*PumpTimer
	chlorinator *ChlorinatorTimer

	frameHandlers []FrameHandler
	beforeWrite   []WriteHook
	afterWrite    []WriteHook
	onComplete    []CompletionHook

	events []func() // run after the mutex is released
	closed bool
}

// Option configures a Link
type Option func(*Link)

// WithClock replaces the real clock
func WithClock(c Clock) Option {
	return func(l *Link) {
		l.clock = c
	}
}

// WithLogger sets the logger. The verbose window changes its level.
func WithLogger(log *logrus.Logger) Option {
	return func(l *Link) {
		l.log = log
	}
}

// New creates a Link writing framed commands to sink
func New(sink io.Writer, settings Settings, opts ...Option) (*Link, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	l := &Link{
		sink:     sink,
		settings: settings,
		clock:    RealClock(),
		queues:   make(map[poolbus.Family]*outboundQueue),
		pumps:    make(map[int]*PumpTimer),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logrus.New()
	}

	for _, f := range poolbus.Families {
		l.queues[f] = &outboundQueue{}
	}
	l.assembler = poolbus.NewAssembler()
	l.assembler.SetClock(l.clock.Now)
	l.dedupe = poolbus.NewDuplicateFilter(settings.Debounce)
	l.stats = poolbus.NewStatistics()
	l.chlorinator = &ChlorinatorTimer{link: l}
	l.applyPumpsLocked()

	return l, nil
}

// unlock releases the mutex and runs deferred events in order
func (l *Link) unlock() {
	events := l.events
	l.events = nil
	l.mu.Unlock()
	for _, e := range events {
		e()
	}
}

// later schedules e to run once the mutex is released
func (l *Link) later(e func()) {
	l.events = append(l.events, e)
}

// Settings returns the active settings
func (l *Link) Settings() Settings {
	l.mu.Lock()
	defer l.unlock()
	return l.settings
}

// Logger returns the link's logger
func (l *Link) Logger() *logrus.Logger {
	return l.log
}

// OnFrame registers a handler for forwarded frames
func (l *Link) OnFrame(h FrameHandler) {
	l.mu.Lock()
	defer l.unlock()
	l.frameHandlers = append(l.frameHandlers, h)
}

// BeforeWrite registers a hook run immediately before each physical write
func (l *Link) BeforeWrite(h WriteHook) {
	l.mu.Lock()
	defer l.unlock()
	l.beforeWrite = append(l.beforeWrite, h)
}

// AfterWrite registers a hook run immediately after each physical write
func (l *Link) AfterWrite(h WriteHook) {
	l.mu.Lock()
	defer l.unlock()
	l.afterWrite = append(l.afterWrite, h)
}

// OnComplete registers a hook run when a command leaves the queue
func (l *Link) OnComplete(h CompletionHook) {
	l.mu.Lock()
	defer l.unlock()
	l.onComplete = append(l.onComplete, h)
}

// Receive feeds raw bytes read from the bus
func (l *Link) Receive(chunk []byte) {
	l.mu.Lock()
	defer l.unlock()
	if l.closed {
		return
	}

	discarded := l.assembler.Discarded()
	frames := l.assembler.Feed(chunk)
	l.stats.DiscardedBytes += l.assembler.Discarded() - discarded
	for _, f := range frames {
		l.handleFrameLocked(f)
	}
}

func (l *Link) handleFrameLocked(f *poolbus.Frame) {
	if skipped := l.assembler.TakeSkipped(); skipped > 0 {
		l.log.WithField("bytes", skipped).Debug("skipped bytes before sync")
	}

	if err := poolbus.VerifyChecksum(f); err != nil {
		l.stats.Update(poolbus.FamilyUnknown, err)
		l.log.WithField("frame", poolbus.FormatHex(f.Bytes())).Debugf("dropped frame: %v", err)
		return
	}

	// Replies are matched before de-duplication: a device may legitimately
	// repeat an identical answer.
	if w := l.dispatch.inflight; w != nil && w.Expect.Matches(f) {
		l.ackLocked()
	}

	if !l.dedupe.Allow(f.Bytes(), f.Timestamp()) {
		l.stats.TotalFrames++
		l.stats.Duplicates++
		entry := l.log.WithField("frame", poolbus.FormatHex(f.Bytes()))
		if l.settings.LogDuplicates {
			entry.Info("duplicate frame suppressed")
		} else {
			entry.Debug("duplicate frame suppressed")
		}
		return
	}

	family := poolbus.Classify(f)
	if family == poolbus.FamilyUnknown {
		l.stats.Update(family, poolbus.ErrUnclassified)
		l.log.WithField("frame", poolbus.FormatHex(f.Bytes())).Debugf("dropped frame: %v", poolbus.ErrUnclassified)
		return
	}
	l.stats.Update(family, nil)

	if anomalies := poolbus.ValidateFrame(f, family); len(anomalies) > 0 {
		l.stats.RecordAnomalies(anomalies)
		for _, a := range anomalies {
			l.log.WithFields(logrus.Fields{
				"family":  family,
				"anomaly": a.Type,
				"frame":   poolbus.FormatHex(f.Bytes()),
			}).Warn(a.Message)
		}
	}

	if l.settings.LogFrames {
		l.log.WithFields(logrus.Fields{
			"family": family,
			"action": poolbus.FormatAction(family, f.Action()),
		}).Debug(poolbus.FormatHex(f.Bytes()))
	}

	for _, h := range l.frameHandlers {
		l.later(func() { h(f, family) })
	}
}

// Serve reads from r and feeds the link until ctx is cancelled or r fails.
// A read returning no data and no error (a port read timeout) is retried.
func (l *Link) Serve(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			l.Receive(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// QueuePacket validates and queues one logical command
func (l *Link) QueuePacket(cmd []byte) (uuid.UUID, error) {
	ids, err := l.QueuePackets(cmd)
	if err != nil {
		return uuid.Nil, err
	}
	return ids[0], nil
}

// QueuePackets validates every command, then queues them in order as one
// batch. Nothing is queued if any command is rejected.
func (l *Link) QueuePackets(cmds ...[]byte) ([]uuid.UUID, error) {
	l.mu.Lock()
	defer l.unlock()

	writes, err := l.queueLocked("queue", cmds...)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(writes))
	for i, w := range writes {
		ids[i] = w.ID
	}
	return ids, nil
}

func (l *Link) queueLocked(op string, cmds ...[]byte) ([]*PendingWrite, error) {
	if l.closed {
		return nil, ErrClosed
	}
	if len(cmds) == 0 {
		return nil, configError(op, "", nil, ErrInvalidCommand, "no commands")
	}

	now := l.clock.Now()
	writes := make([]*PendingWrite, 0, len(cmds))
	added := make(map[poolbus.Family]int)
	for _, cmd := range cmds {
		w, err := newPendingWrite(op, cmd, now)
		if err != nil {
			return nil, err
		}
		added[w.Family]++
		writes = append(writes, w)
	}
	for family, n := range added {
		if l.queues[family].len()+n > l.settings.MaxQueueLength {
			return nil, configError(op, "queue", family, ErrQueueFull,
				"%s queue holds %d of %d", family, l.queues[family].len(), l.settings.MaxQueueLength)
		}
	}

	for _, w := range writes {
		l.queues[w.Family].push(w)
		l.log.WithFields(logrus.Fields{"family": w.Family, "id": w.ID}).
			Tracef("queued %s", poolbus.FormatHex(w.Command))
	}
	l.kickLocked()
	return writes, nil
}

// QueueLength returns the number of commands waiting or in flight
func (l *Link) QueueLength() int {
	l.mu.Lock()
	defer l.unlock()
	n := 0
	for _, q := range l.queues {
		n += q.len()
	}
	return n
}

// FamilyQueueLength returns the number of commands queued for one family
func (l *Link) FamilyQueueLength(f poolbus.Family) int {
	l.mu.Lock()
	defer l.unlock()
	return l.familyLenLocked(f)
}

func (l *Link) familyLenLocked(f poolbus.Family) int {
	if q, ok := l.queues[f]; ok {
		return q.len()
	}
	return 0
}

// Queued returns a snapshot of every queue in dispatch order. The in-flight
// write, if any, is the head of its family.
func (l *Link) Queued() []PendingWrite {
	l.mu.Lock()
	defer l.unlock()
	var out []PendingWrite
	for _, f := range poolbus.Families {
		out = append(out, l.queues[f].snapshot()...)
	}
	return out
}

// InFlight returns the write awaiting acknowledgment
func (l *Link) InFlight() (PendingWrite, bool) {
	l.mu.Lock()
	defer l.unlock()
	if l.dispatch.inflight == nil {
		return PendingWrite{}, false
	}
	return *l.dispatch.inflight, true
}

// Clear drops every queued and in-flight command
func (l *Link) Clear() {
	l.mu.Lock()
	defer l.unlock()
	l.clearLocked()
}

func (l *Link) clearLocked() {
	l.dispatch.cancel()
	var dropped []*PendingWrite
	for _, f := range poolbus.Families {
		dropped = append(dropped, l.queues[f].clear()...)
	}
	if len(dropped) > 0 {
		l.log.WithField("count", len(dropped)).Info("cleared outbound queues")
	}
	for _, w := range dropped {
		l.completeLocked(w, ErrCleared)
	}
}

// Init resets queues, dispatcher, assembler and duplicate filter
func (l *Link) Init() {
	l.mu.Lock()
	defer l.unlock()
	l.initLocked()
}

func (l *Link) initLocked() {
	l.clearLocked()
	l.assembler.Reset()
	l.dedupe.Reset()
	l.dispatch.next = 0
}

// Reload applies new settings. Queues are reset; pump timers for pumps no
// longer installed are stopped and the chlorinator keep-alive is re-armed
// with the new interval.
func (l *Link) Reload(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.unlock()
	if l.closed {
		return ErrClosed
	}

	l.settings = settings
	l.dedupe = poolbus.NewDuplicateFilter(settings.Debounce)
	l.initLocked()
	l.applyPumpsLocked()
	l.chlorinator.reloadLocked()
	l.log.Info("settings reloaded")
	return nil
}

// applyPumpsLocked creates timers for installed pumps and stops the rest
func (l *Link) applyPumpsLocked() {
	for index, p := range l.pumps {
		if !l.settings.pumpInstalled(index) {
			p.stopLocked()
			delete(l.pumps, index)
		}
	}
	for _, index := range l.settings.Pumps {
		if _, ok := l.pumps[index]; !ok {
			l.pumps[index] = newPumpTimer(l, index)
		}
	}
}

// Stats returns a copy of the link statistics
func (l *Link) Stats() poolbus.Statistics {
	l.mu.Lock()
	defer l.unlock()
	return *l.stats
}

// ResetStats clears the statistics counters
func (l *Link) ResetStats() {
	l.mu.Lock()
	defer l.unlock()
	l.stats.Reset()
}

// Pumps returns the installed pump indexes in ascending order
func (l *Link) Pumps() []int {
	l.mu.Lock()
	defer l.unlock()
	out := make([]int, 0, len(l.pumps))
	for index := range l.pumps {
		out = append(out, index)
	}
	sort.Ints(out)
	return out
}

// Close stops every timer and drops queued commands. The link rejects
// further commands.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.unlock()
	if l.closed {
		return nil
	}
	l.clearLocked()
	for _, p := range l.pumps {
		p.stopLocked()
	}
	l.chlorinator.stopLocked()
	l.endVerboseLocked()
	l.closed = true
	return nil
}
