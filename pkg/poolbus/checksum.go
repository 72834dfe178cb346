// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poolbus

import (
	"errors"
	"fmt"
)

// ErrChecksum is reported for frames whose checksum does not match
var ErrChecksum = errors.New("checksum mismatch")

// Checksum sums the given bytes modulo 65536
func Checksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}

// ExpectedChecksum computes the checksum a frame should carry
func ExpectedChecksum(f *Frame) uint16 {
	raw := f.raw
	if f.chlorinator {
		if len(raw) < MinChlorinatorFrame {
			return 0
		}
		return Checksum(raw[:len(raw)-3]) & 0xFF
	}
	if len(raw) < HeaderSize+ChecksumSize {
		return 0
	}
	return Checksum(raw[:len(raw)-ChecksumSize])
}

// ValidChecksum reports whether the frame's checksum matches its contents
func ValidChecksum(f *Frame) bool {
	if f == nil {
		return false
	}
	if f.chlorinator && len(f.raw) < MinChlorinatorFrame {
		return false
	}
	if !f.chlorinator && len(f.raw) < HeaderSize+ChecksumSize {
		return false
	}
	return ExpectedChecksum(f) == f.Checksum()
}

// VerifyChecksum returns an error wrapping ErrChecksum when validation fails
func VerifyChecksum(f *Frame) error {
	if ValidChecksum(f) {
		return nil
	}
	return fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrChecksum, ExpectedChecksum(f), f.Checksum())
}
