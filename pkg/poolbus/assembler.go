// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poolbus

import "time"

// Assembler rebuilds frames from arbitrary chunks of a raw byte stream.
// Frames may span chunks and may be preceded by noise. Bytes that cannot
// start a frame are dropped one at a time until a sync pattern lines up.
type Assembler struct {
	buffer    []byte
	maxBuffer int
	discarded uint64
	skipped   int // discarded since the last emitted frame
	now       func() time.Time
}

// NewAssembler creates a new frame assembler
func NewAssembler() *Assembler {
	return &Assembler{
		buffer:    make([]byte, 0, MaxFrameSize*2),
		maxBuffer: MaxBufferSize,
		now:       time.Now,
	}
}

// SetClock replaces the time source used to stamp frames
func (a *Assembler) SetClock(now func() time.Time) {
	a.now = now
}

// Reset drops all buffered bytes
func (a *Assembler) Reset() {
	a.buffer = a.buffer[:0]
	a.skipped = 0
}

// Buffered returns the number of bytes waiting for more data
func (a *Assembler) Buffered() int {
	return len(a.buffer)
}

// Discarded returns the total number of bytes dropped while resyncing
func (a *Assembler) Discarded() uint64 {
	return a.discarded
}

// Feed appends a chunk to the buffer and returns every frame completed by
// it, in arrival order. Frames with a bad checksum are returned too; callers
// check them with ValidChecksum.
func (a *Assembler) Feed(chunk []byte) []*Frame {
	a.buffer = append(a.buffer, chunk...)

	var frames []*Frame
	for len(a.buffer) > 0 {
		frame, consumed, wait := a.next()
		if wait {
			break
		}
		if frame == nil && consumed == 0 {
			a.drop(1)
			continue
		}
		a.buffer = a.buffer[:copy(a.buffer, a.buffer[consumed:])]
		if frame != nil {
			frames = append(frames, frame)
		}
	}
	if over := len(a.buffer) - a.maxBuffer; over > 0 {
		a.drop(over)
	}
	return frames
}

// TakeSkipped returns and resets the count of bytes skipped before the
// most recent frame.
func (a *Assembler) TakeSkipped() int {
	n := a.skipped
	a.skipped = 0
	return n
}

// a5Start is the preamble plus sync byte that opens a controller/pump frame
var a5Start = []byte{PreambleHigh, PreambleLow, PreambleHigh, SyncByte}

// next inspects the head of the buffer. It returns a frame and the number
// of bytes it used, or wait=true when more bytes are needed. With a nil
// frame and consumed == 0 the head byte must be discarded.
//
// A candidate failing its checksum is returned with only its start bytes
// consumed, so a real frame overlapping a false sync is still found.
func (a *Assembler) next() (frame *Frame, consumed int, wait bool) {
	buf := a.buffer
	switch buf[0] {
	case PreambleHigh:
		for i := 1; i < len(a5Start); i++ {
			if i == len(buf) {
				return nil, 0, true
			}
			if buf[i] != a5Start[i] {
				return nil, 0, false
			}
		}
		return a.nextA5(buf[len(Preamble):], len(Preamble))

	case ChlorStart1:
		if len(buf) < 2 {
			return nil, 0, true
		}
		if buf[1] != ChlorStart2 {
			return nil, 0, false
		}
		return a.nextChlorinator(buf)
	}
	return nil, 0, false
}

func (a *Assembler) nextA5(buf []byte, lead int) (*Frame, int, bool) {
	if len(buf) < HeaderSize {
		return nil, 0, true
	}
	length := int(buf[offLength])
	if length > MaxPayloadSize {
		return nil, 0, false
	}
	total := HeaderSize + length + ChecksumSize
	if len(buf) < total {
		return nil, 0, true
	}
	f := NewFrame(buf[:total], a.now())
	if !ValidChecksum(f) {
		return f, lead + 1, false
	}
	return f, lead + total, false
}

func (a *Assembler) nextChlorinator(buf []byte) (*Frame, int, bool) {
	limit := len(buf)
	if limit > MaxChlorinatorFrame {
		limit = MaxChlorinatorFrame
	}
	for i := MinChlorinatorFrame - 2; i+1 < limit; i++ {
		if buf[i] == ChlorEnd1 && buf[i+1] == ChlorEnd2 {
			f := NewFrame(buf[:i+2], a.now())
			if !ValidChecksum(f) {
				return f, 2, false
			}
			return f, i + 2, false
		}
	}
	if len(buf) >= MaxChlorinatorFrame {
		return nil, 0, false
	}
	return nil, 0, true
}

func (a *Assembler) drop(n int) {
	a.buffer = a.buffer[:copy(a.buffer, a.buffer[n:])]
	a.discarded += uint64(n)
	a.skipped += n
}
