// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poolbus

import "time"

// Frame is one assembled bus frame. Raw bytes start at the sync byte (0xA5
// or 0x10,0x02) and include the checksum and, for chlorinator frames, the
// end marker. Preamble bytes are not part of the frame.
type Frame struct {
	raw         []byte
	chlorinator bool
	timestamp   time.Time
}

// NewFrame wraps raw frame bytes. The slice is copied.
func NewFrame(raw []byte, timestamp time.Time) *Frame {
	b := make([]byte, len(raw))
	copy(b, raw)
	return &Frame{
		raw:         b,
		chlorinator: len(b) >= 2 && b[0] == ChlorStart1 && b[1] == ChlorStart2,
		timestamp:   timestamp,
	}
}

// Bytes returns the raw frame bytes
func (f *Frame) Bytes() []byte {
	return f.raw
}

// IsChlorinator reports whether the frame uses chlorinator framing
func (f *Frame) IsChlorinator() bool {
	return f.chlorinator
}

// Timestamp returns when the frame was assembled
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// SetTimestamp overrides the assembly timestamp
func (f *Frame) SetTimestamp(t time.Time) {
	f.timestamp = t
}

// Version returns the protocol byte following 0xA5 (0 for chlorinator frames)
func (f *Frame) Version() byte {
	if f.chlorinator || len(f.raw) <= offVersion {
		return 0
	}
	return f.raw[offVersion]
}

// Dest returns the destination address
func (f *Frame) Dest() byte {
	if f.chlorinator {
		return f.at(offChlorDest)
	}
	return f.at(offDest)
}

// Source returns the source address. Chlorinator frames carry no source;
// replies to the controller (dest 0) report the chlorinator address and
// everything else reports the controller.
func (f *Frame) Source() byte {
	if f.chlorinator {
		if f.Dest() == 0 {
			return AddressChlorinator
		}
		return AddressController
	}
	return f.at(offSource)
}

// Action returns the action (message type) byte
func (f *Frame) Action() byte {
	if f.chlorinator {
		return f.at(offChlorAction)
	}
	return f.at(offAction)
}

// Length returns the payload length
func (f *Frame) Length() int {
	return len(f.Payload())
}

// Payload returns the payload bytes
func (f *Frame) Payload() []byte {
	if f.chlorinator {
		if len(f.raw) < MinChlorinatorFrame {
			return nil
		}
		return f.raw[offChlorAction+1 : len(f.raw)-3]
	}
	if len(f.raw) < HeaderSize+ChecksumSize {
		return nil
	}
	return f.raw[HeaderSize : len(f.raw)-ChecksumSize]
}

// Checksum returns the checksum carried by the frame
func (f *Frame) Checksum() uint16 {
	if f.chlorinator {
		if len(f.raw) < MinChlorinatorFrame {
			return 0
		}
		return uint16(f.raw[len(f.raw)-3])
	}
	if len(f.raw) < HeaderSize+ChecksumSize {
		return 0
	}
	n := len(f.raw)
	return uint16(f.raw[n-2])<<8 | uint16(f.raw[n-1])
}

// IsBroadcast returns true if the frame is addressed to every device
func (f *Frame) IsBroadcast() bool {
	return !f.chlorinator && f.Dest() == AddressBroadcast
}

func (f *Frame) at(i int) byte {
	if i >= len(f.raw) {
		return 0
	}
	return f.raw[i]
}
