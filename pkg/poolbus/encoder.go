// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poolbus

import (
	"bytes"
	"fmt"
)

// Encode converts a logical command into wire bytes.
//
// Controller and pump commands are given from the sync byte through the
// payload ([0xA5, version, dest, source, action, length, payload...]); the
// preamble and 16-bit checksum are added. Chlorinator commands are given as
// [0x10, 0x02, dest, action, payload...]; the checksum byte and the 0x10,0x03
// terminator are added.
func Encode(cmd []byte) ([]byte, error) {
	cmd = bytes.TrimPrefix(cmd, Preamble)
	if len(cmd) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	if len(cmd) >= 2 && cmd[0] == ChlorStart1 && cmd[1] == ChlorStart2 {
		return encodeChlorinator(cmd)
	}
	if cmd[0] != SyncByte {
		return nil, fmt.Errorf("command must start with 0x%02X or 0x%02X,0x%02X, got 0x%02X",
			SyncByte, ChlorStart1, ChlorStart2, cmd[0])
	}
	return encodeA5(cmd)
}

func encodeA5(cmd []byte) ([]byte, error) {
	if len(cmd) < HeaderSize {
		return nil, fmt.Errorf("command too short: %d bytes (min %d)", len(cmd), HeaderSize)
	}
	length := int(cmd[offLength])
	if length > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", length, MaxPayloadSize)
	}
	if len(cmd)-HeaderSize != length {
		return nil, fmt.Errorf("length byte %d does not match payload of %d bytes", length, len(cmd)-HeaderSize)
	}

	sum := Checksum(cmd)
	out := make([]byte, 0, len(Preamble)+len(cmd)+ChecksumSize)
	out = append(out, Preamble...)
	out = append(out, cmd...)
	out = append(out, byte(sum>>8), byte(sum&0xFF))
	return out, nil
}

func encodeChlorinator(cmd []byte) ([]byte, error) {
	if len(cmd) < 4 {
		return nil, fmt.Errorf("chlorinator command too short: %d bytes (min 4)", len(cmd))
	}
	if len(cmd)+3 > MaxChlorinatorFrame {
		return nil, fmt.Errorf("chlorinator command too long: %d bytes", len(cmd))
	}

	out := make([]byte, 0, len(cmd)+3)
	out = append(out, cmd...)
	out = append(out, byte(Checksum(cmd)&0xFF), ChlorEnd1, ChlorEnd2)
	return out, nil
}

// MustEncode encodes a command built by this package.
// Panics on encoding error (use Encode for error handling).
func MustEncode(cmd []byte) []byte {
	out, err := Encode(cmd)
	if err != nil {
		panic(fmt.Sprintf("poolbus: encode error: %v", err))
	}
	return out
}
