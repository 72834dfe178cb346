// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"github.com/Thermoquad/poolstat/pkg/poolbus"
	"github.com/sirupsen/logrus"
)

// dispatcher holds the single in-flight token for the bus. All fields are
// guarded by the Link mutex.
type dispatcher struct {
	inflight *PendingWrite
	timer    Timer
	gen      uint64 // invalidates ack timers that lost a race with Stop
	next     int    // round-robin position in poolbus.Families

	verbose      bool
	verboseTimer Timer
	verboseGen   uint64
	savedLevel   logrus.Level
	windowLevel  logrus.Level // level set when the window opened
}

// cancel forgets the in-flight write and its ack timer
func (d *dispatcher) cancel() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.inflight = nil
}

// kickLocked writes queue heads until one is left awaiting a reply or every
// queue is empty
func (l *Link) kickLocked() {
	for !l.closed && l.dispatch.inflight == nil {
		w := l.nextLocked()
		if w == nil {
			return
		}
		l.transmitLocked(w)
	}
}

// nextLocked picks the head of the next non-empty family queue
func (l *Link) nextLocked() *PendingWrite {
	n := len(poolbus.Families)
	for i := 0; i < n; i++ {
		idx := (l.dispatch.next + i) % n
		if w := l.queues[poolbus.Families[idx]].peek(); w != nil {
			l.dispatch.next = (idx + 1) % n
			return w
		}
	}
	return nil
}

// transmitLocked writes w and either arms the ack timer or, for commands
// that expect no reply, completes it
func (l *Link) transmitLocked(w *PendingWrite) {
	l.dispatch.cancel()
	snapshot := *w
	for _, h := range l.beforeWrite {
		h(snapshot)
	}

	_, err := l.sink.Write(w.Wire)
	w.LastSent = l.clock.Now()
	l.stats.Writes++

	snapshot = *w
	for _, h := range l.afterWrite {
		h(snapshot)
	}

	entry := l.log.WithFields(logrus.Fields{
		"family":  w.Family,
		"id":      w.ID,
		"retries": w.Retries,
	})
	if err != nil {
		entry.Warnf("write failed: %v", err)
	} else {
		entry.Debugf("sent %s", poolbus.FormatHex(w.Wire))
	}

	if err == nil && !w.Expect.Awaits() {
		l.queues[w.Family].remove(w)
		l.completeLocked(w, nil)
		return
	}

	l.dispatch.inflight = w
	l.dispatch.gen++
	gen := l.dispatch.gen
	l.dispatch.timer = l.clock.AfterFunc(l.settings.Retry.AckTimeout, func() {
		l.ackTimeout(gen)
	})
}

// ackLocked completes the in-flight write and moves on
func (l *Link) ackLocked() {
	w := l.dispatch.inflight
	l.dispatch.cancel()
	l.queues[w.Family].remove(w)
	l.stats.Acks++

	entry := l.log.WithFields(logrus.Fields{"family": w.Family, "id": w.ID})
	if w.Retries > 0 {
		entry.WithField("retries", w.Retries).Info("acknowledged after retry")
	} else {
		entry.Trace("acknowledged")
	}

	l.completeLocked(w, nil)
	l.kickLocked()
}

// ackTimeout handles an unanswered write
func (l *Link) ackTimeout(gen uint64) {
	l.mu.Lock()
	defer l.unlock()
	if l.closed || gen != l.dispatch.gen || l.dispatch.inflight == nil {
		return
	}

	w := l.dispatch.inflight
	l.dispatch.timer = nil
	w.Retries++
	l.stats.Retries++

	policy := l.settings.Retry
	entry := l.log.WithFields(logrus.Fields{
		"family":  w.Family,
		"id":      w.ID,
		"retries": w.Retries,
		"expect":  w.Expect.String(),
	})

	if w.Retries >= policy.AbandonAfter {
		entry.Errorf("abandoning %s after %d attempts", poolbus.FormatHex(w.Command), w.Retries)
		l.beginVerboseLocked()
		l.dispatch.cancel()
		l.queues[w.Family].remove(w)
		l.stats.Abandoned++
		l.completeLocked(w, ErrAckTimeout)
		l.kickLocked()
		return
	}

	if w.Retries == policy.WarnAfter {
		entry.Warnf("no reply to %s after %d attempts", poolbus.FormatHex(w.Command), w.Retries)
	} else {
		entry.Debug("ack timeout, resending")
	}
	l.transmitLocked(w)
	l.kickLocked()
}

func (l *Link) completeLocked(w *PendingWrite, err error) {
	snapshot := *w
	for _, h := range l.onComplete {
		l.later(func() { h(snapshot, err) })
	}
}

// beginVerboseLocked raises the logger to debug for the verbose window,
// extending the window if it is already open
func (l *Link) beginVerboseLocked() {
	window := l.settings.Retry.VerboseWindow
	if window <= 0 {
		return
	}

	d := &l.dispatch
	if !d.verbose {
		d.savedLevel = l.log.GetLevel()
		if d.savedLevel < logrus.DebugLevel {
			l.log.SetLevel(logrus.DebugLevel)
		}
		d.windowLevel = l.log.GetLevel()
		d.verbose = true
		l.log.WithField("window", window).Warn("verbose logging enabled")
	}
	if d.verboseTimer != nil {
		d.verboseTimer.Stop()
	}
	d.verboseGen++
	gen := d.verboseGen
	d.verboseTimer = l.clock.AfterFunc(window, func() {
		l.mu.Lock()
		defer l.unlock()
		if gen == l.dispatch.verboseGen {
			l.endVerboseLocked()
		}
	})
}

// endVerboseLocked restores the log level saved by beginVerboseLocked,
// unless someone changed the level while the window was open
func (l *Link) endVerboseLocked() {
	d := &l.dispatch
	if d.verboseTimer != nil {
		d.verboseTimer.Stop()
		d.verboseTimer = nil
	}
	d.verboseGen++
	if !d.verbose {
		return
	}
	d.verbose = false
	if l.log.GetLevel() == d.windowLevel {
		l.log.SetLevel(d.savedLevel)
	}
	l.log.Info("verbose logging window closed")
}

// Verbose reports whether the post-abandonment debug window is open
func (l *Link) Verbose() bool {
	l.mu.Lock()
	defer l.unlock()
	return l.dispatch.verbose
}
