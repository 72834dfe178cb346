// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poolbus

import "errors"

// ErrUnclassified is reported for frames whose addresses match no known
// equipment family
var ErrUnclassified = errors.New("unrecognized address")

// Family identifies the equipment a frame or command belongs to
type Family int

// Equipment families
const (
	FamilyUnknown Family = iota
	FamilyController
	FamilyPump
	FamilyChlorinator
)

// Families lists the routable families in dispatch order
var Families = []Family{FamilyController, FamilyPump, FamilyChlorinator}

// String returns the family name
func (f Family) String() string {
	switch f {
	case FamilyController:
		return "controller"
	case FamilyPump:
		return "pump"
	case FamilyChlorinator:
		return "chlorinator"
	default:
		return "unknown"
	}
}

// ParseFamily converts a family name back to a Family
func ParseFamily(s string) (Family, bool) {
	for _, f := range Families {
		if f.String() == s {
			return f, true
		}
	}
	return FamilyUnknown, false
}

// Inbound classifies bytes received from the bus. The slice starts at the
// sync byte (0xA5 or 0x10,0x02); a leading preamble is tolerated.
func Inbound(b []byte) Family {
	return classify(b)
}

// Outbound classifies bytes about to be written to the bus. The slice may
// start with the 0xFF,0x00,0xFF preamble.
func Outbound(b []byte) Family {
	return classify(b)
}

// Classify returns the family of an assembled frame
func Classify(f *Frame) Family {
	return classify(f.raw)
}

func classify(b []byte) Family {
	if len(b) >= 2 && b[0] == ChlorStart1 && b[1] == ChlorStart2 {
		return FamilyChlorinator
	}
	start := syncOffset(b)
	if start < 0 || len(b) < start+offSource+1 {
		return FamilyUnknown
	}
	dest, src := b[start+offDest], b[start+offSource]
	switch {
	case isPump(dest) || isPump(src):
		return FamilyPump
	case isControllerSide(dest) || isControllerSide(src):
		return FamilyController
	}
	return FamilyUnknown
}

// syncOffset returns the index of the 0xA5 sync byte, skipping a preamble
func syncOffset(b []byte) int {
	for i := 0; i < len(b) && i <= len(Preamble); i++ {
		switch b[i] {
		case SyncByte:
			return i
		case PreambleHigh, PreambleLow:
			continue
		}
		return -1
	}
	return -1
}

// IsPumpAddress reports whether the address belongs to a pump
func IsPumpAddress(addr byte) bool {
	return isPump(addr)
}

func isPump(addr byte) bool {
	return addr >= AddressPumpFirst && addr <= AddressPumpLast
}

func isControllerSide(addr byte) bool {
	switch {
	case addr == AddressBroadcast, addr == AddressController:
		return true
	case addr >= AddressRemoteFirst && addr <= AddressRemoteLast:
		return true
	case addr >= AddressAuxFirst && addr <= AddressAuxLast:
		return true
	}
	return false
}
