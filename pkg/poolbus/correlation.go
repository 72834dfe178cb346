// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poolbus

import (
	"bytes"
	"fmt"
)

// ExpectKind describes what kind of reply a command waits for
type ExpectKind int

const (
	// ExpectNone completes as soon as the command is written
	ExpectNone ExpectKind = iota
	// ExpectReply waits for a frame with a given source and action
	ExpectReply
	// ExpectAck waits for a controller ACK naming the commanded action
	ExpectAck
)

// Expectation describes the inbound frame that acknowledges a command.
// It is computed once when the command is queued so matching never needs
// to look at the queue.
type Expectation struct {
	Kind   ExpectKind
	Family Family
	Source byte // address the reply must come from
	Action byte // reply action, or the acknowledged action for ExpectAck
}

// chlorinatorReplies maps chlorinator request actions to reply actions
var chlorinatorReplies = map[byte]byte{
	ChlorActionProbe:       ChlorActionProbeReply,
	ChlorActionSetOutput:   ChlorActionOutputReply,
	ChlorActionGetName:     ChlorActionNameReply,
	ChlorActionSetOutput10: ChlorActionOutputReply,
}

// ExpectationFor returns the reply that acknowledges cmd. The command may be
// logical or fully encoded.
func ExpectationFor(cmd []byte) Expectation {
	family := Outbound(cmd)
	switch family {
	case FamilyChlorinator:
		if len(cmd) <= offChlorAction {
			return Expectation{Family: family}
		}
		reply, ok := chlorinatorReplies[cmd[offChlorAction]]
		if !ok {
			return Expectation{Family: family}
		}
		return Expectation{Kind: ExpectReply, Family: family, Source: AddressChlorinator, Action: reply}

	case FamilyPump, FamilyController:
		cmd = bytes.TrimPrefix(cmd, Preamble)
		if len(cmd) <= offAction {
			return Expectation{Family: family}
		}
		dest, action := cmd[offDest], cmd[offAction]
		if dest == AddressBroadcast {
			return Expectation{Family: family}
		}
		if family == FamilyPump {
			return Expectation{Kind: ExpectReply, Family: family, Source: dest, Action: action}
		}
		if action >= CtrlActionGetFirst {
			return Expectation{Kind: ExpectReply, Family: family, Source: dest, Action: action - CtrlGetReplyOffset}
		}
		return Expectation{Kind: ExpectAck, Family: family, Source: dest, Action: action}
	}
	return Expectation{Family: family}
}

// Awaits reports whether the command waits for any reply
func (e Expectation) Awaits() bool {
	return e.Kind != ExpectNone
}

// Matches reports whether frame acknowledges the command
func (e Expectation) Matches(f *Frame) bool {
	if f == nil {
		return false
	}
	switch e.Kind {
	case ExpectReply:
		if f.IsChlorinator() != (e.Family == FamilyChlorinator) {
			return false
		}
		return f.Source() == e.Source && f.Action() == e.Action

	case ExpectAck:
		if f.IsChlorinator() || f.Source() != e.Source || f.Action() != CtrlActionAck {
			return false
		}
		payload := f.Payload()
		return len(payload) > 0 && payload[0] == e.Action
	}
	return false
}

// String describes the expectation for logs
func (e Expectation) String() string {
	switch e.Kind {
	case ExpectReply:
		return fmt.Sprintf("%s reply from 0x%02X action 0x%02X", e.Family, e.Source, e.Action)
	case ExpectAck:
		return fmt.Sprintf("ack from 0x%02X for action 0x%02X", e.Source, e.Action)
	}
	return "no reply"
}
