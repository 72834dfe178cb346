// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poolbus

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// RecordPacket is the record type carrying raw bus bytes
const RecordPacket = "packet"

// Direction of a captured packet relative to this process
type Direction string

// Capture directions
const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Bytes is a byte slice that marshals to JSON as an array of integers
// instead of base64, so captures stay readable and editable.
type Bytes []byte

// MarshalJSON writes the bytes as a JSON number array
func (b Bytes) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

// UnmarshalJSON reads a JSON number array
func (b *Bytes) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 0xFF {
			return fmt.Errorf("byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// Record is one entry of a capture file
type Record struct {
	Type      string    `json:"type" cbor:"type"`
	Packet    Bytes     `json:"packet" cbor:"packet"`
	Direction Direction `json:"direction,omitempty" cbor:"direction,omitempty"`
	Timestamp time.Time `json:"timestamp" cbor:"timestamp"`
}

// CaptureFormat selects the capture encoding
type CaptureFormat int

// Capture encodings
const (
	FormatJSONL CaptureFormat = iota // newline-delimited JSON
	FormatCBOR                       // CBOR record sequence
)

// FormatForPath picks the capture format from the file extension
func FormatForPath(path string) CaptureFormat {
	if strings.EqualFold(filepath.Ext(path), ".cbor") {
		return FormatCBOR
	}
	return FormatJSONL
}

var (
	captureEncMode cbor.EncMode
	captureDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	captureEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	captureDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR decoder mode: %v", err))
	}
}

type recordEncoder interface {
	Encode(v any) error
}

type recordDecoder interface {
	Decode(v any) error
}

// CaptureWriter appends records to a capture stream.
// It is safe for concurrent use.
type CaptureWriter struct {
	mu      sync.Mutex
	encoder recordEncoder
	closer  io.Closer
}

// NewCaptureWriter creates a writer encoding records to w
func NewCaptureWriter(w io.Writer, format CaptureFormat) *CaptureWriter {
	cw := &CaptureWriter{}
	if format == FormatCBOR {
		cw.encoder = captureEncMode.NewEncoder(w)
	} else {
		cw.encoder = json.NewEncoder(w)
	}
	return cw
}

// CreateCapture creates (or truncates) a capture file. The format follows
// the file extension.
func CreateCapture(path string) (*CaptureWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture: %w", err)
	}
	cw := NewCaptureWriter(f, FormatForPath(path))
	cw.closer = f
	return cw, nil
}

// Write appends one record
func (c *CaptureWriter) Write(rec Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoder.Encode(rec)
}

// WritePacket appends a packet record
func (c *CaptureWriter) WritePacket(dir Direction, raw []byte, at time.Time) error {
	return c.Write(Record{
		Type:      RecordPacket,
		Packet:    Bytes(raw),
		Direction: dir,
		Timestamp: at,
	})
}

// Close closes the underlying file, if the writer owns one
func (c *CaptureWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}

// CaptureReader reads records from a capture stream
type CaptureReader struct {
	decoder recordDecoder
	closer  io.Closer
}

// NewCaptureReader creates a reader decoding records from r
func NewCaptureReader(r io.Reader, format CaptureFormat) *CaptureReader {
	cr := &CaptureReader{}
	if format == FormatCBOR {
		cr.decoder = captureDecMode.NewDecoder(r)
	} else {
		cr.decoder = json.NewDecoder(r)
	}
	return cr
}

// OpenCapture opens a capture file. The format follows the file extension.
func OpenCapture(path string) (*CaptureReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	cr := NewCaptureReader(f, FormatForPath(path))
	cr.closer = f
	return cr, nil
}

// Next returns the next record.
// Returns io.EOF when no more records are available.
func (c *CaptureReader) Next() (Record, error) {
	var rec Record
	if err := c.decoder.Decode(&rec); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to decode capture record: %w", err)
	}
	return rec, nil
}

// Packets reads every remaining packet record. Records of other types are
// skipped.
func (c *CaptureReader) Packets() ([]Record, error) {
	var out []Record
	for {
		rec, err := c.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if rec.Type == RecordPacket {
			out = append(out, rec)
		}
	}
}

// Close closes the underlying file, if the reader owns one
func (c *CaptureReader) Close() error {
	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}
