// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"time"

	"github.com/Thermoquad/poolstat/pkg/poolbus"
	"github.com/google/uuid"
)

// PendingWrite is a queued command
type PendingWrite struct {
	ID       uuid.UUID
	Family   poolbus.Family
	Command  []byte // logical bytes as queued
	Wire     []byte // framed bytes written to the bus
	Expect   poolbus.Expectation
	Retries  int
	Enqueued time.Time
	LastSent time.Time
}

func newPendingWrite(op string, cmd []byte, now time.Time) (*PendingWrite, error) {
	wire, err := poolbus.Encode(cmd)
	if err != nil {
		return nil, configError(op, "command", poolbus.FormatHex(cmd), ErrInvalidCommand, "%v", err)
	}
	family := poolbus.Outbound(wire)
	if family == poolbus.FamilyUnknown {
		return nil, configError(op, "command", poolbus.FormatHex(cmd), ErrInvalidCommand,
			"%v", poolbus.ErrUnclassified)
	}
	return &PendingWrite{
		ID:       uuid.New(),
		Family:   family,
		Command:  append([]byte(nil), cmd...),
		Wire:     wire,
		Expect:   poolbus.ExpectationFor(wire),
		Enqueued: now,
	}, nil
}

// String describes the write for logs
func (w PendingWrite) String() string {
	return fmt.Sprintf("%s %s [%s]", w.Family, w.ID.String()[:8], poolbus.FormatHex(w.Command))
}

// outboundQueue is a FIFO of writes for one family
type outboundQueue struct {
	items []*PendingWrite
}

func (q *outboundQueue) len() int {
	return len(q.items)
}

func (q *outboundQueue) push(w ...*PendingWrite) {
	q.items = append(q.items, w...)
}

func (q *outboundQueue) peek() *PendingWrite {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// remove drops w from the queue. The in-flight write is always the head,
// so this is normally a pop.
func (q *outboundQueue) remove(w *PendingWrite) bool {
	for i, item := range q.items {
		if item == w {
			copy(q.items[i:], q.items[i+1:])
			q.items[len(q.items)-1] = nil
			q.items = q.items[:len(q.items)-1]
			return true
		}
	}
	return false
}

func (q *outboundQueue) clear() []*PendingWrite {
	items := q.items
	q.items = nil
	return items
}

func (q *outboundQueue) snapshot() []PendingWrite {
	out := make([]PendingWrite, len(q.items))
	for i, w := range q.items {
		out[i] = *w
	}
	return out
}
