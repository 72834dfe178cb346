// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poolbus

import (
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	family := Classify(f)
	action := FormatAction(family, f.Action())

	result := fmt.Sprintf("[%s] %s %s (0x%02X) %s -> %s len=%d\n",
		timestamp, family, action, f.Action(),
		FormatAddress(f.Source()), FormatAddress(f.Dest()), f.Length())

	if payload := f.Payload(); len(payload) > 0 {
		result += FormatPayload(family, f.Action(), f.Source(), payload)
	}

	return result
}

// FormatAddress returns a short name for a bus address
func FormatAddress(addr byte) string {
	switch {
	case addr == AddressBroadcast:
		return "broadcast"
	case addr == AddressController:
		return "controller"
	case addr == AddressChlorinator:
		return "chlorinator"
	case addr >= AddressRemoteFirst && addr <= AddressRemoteLast:
		return fmt.Sprintf("remote(0x%02X)", addr)
	case isPump(addr):
		return fmt.Sprintf("pump%d", PumpIndex(addr))
	case addr >= AddressAuxFirst && addr <= AddressAuxLast:
		return fmt.Sprintf("aux(0x%02X)", addr)
	case addr == 0:
		return "controller"
	}
	return fmt.Sprintf("0x%02X", addr)
}

// FormatAction returns the human-readable name for an action byte
func FormatAction(family Family, action byte) string {
	switch family {
	case FamilyPump:
		switch action {
		case PumpActionSet:
			return "SET"
		case PumpActionRemote:
			return "REMOTE"
		case PumpActionMode:
			return "MODE"
		case PumpActionPower:
			return "POWER"
		case PumpActionStatus:
			return "STATUS"
		}

	case FamilyChlorinator:
		switch action {
		case ChlorActionProbe:
			return "PROBE"
		case ChlorActionProbeReply:
			return "PROBE_REPLY"
		case ChlorActionNameReply:
			return "NAME"
		case ChlorActionSetOutput:
			return "SET_OUTPUT"
		case ChlorActionOutputReply:
			return "OUTPUT_STATUS"
		case ChlorActionGetName:
			return "GET_NAME"
		case ChlorActionSetOutput10:
			return "SET_OUTPUT_10"
		}

	case FamilyController:
		switch {
		case action == CtrlActionAck:
			return "ACK"
		case action == CtrlActionStatus:
			return "STATUS"
		case action == CtrlActionSetChlorinator:
			return "SET_CHLORINATOR"
		case action >= CtrlActionGetFirst:
			return "GET"
		case action >= 0x80:
			return "SET"
		}
	}
	return "UNKNOWN"
}

// FormatPayload formats the payload based on family and action
func FormatPayload(family Family, action, source byte, payload []byte) string {
	switch family {
	case FamilyPump:
		if isPump(source) && action == PumpActionStatus && len(payload) >= 8 {
			watts := int(payload[3])<<8 | int(payload[4])
			rpm := int(payload[5])<<8 | int(payload[6])
			return fmt.Sprintf("  Run: %s, Mode: %d, Watts: %d, RPM: %d, GPM: %d\n",
				formatPumpRun(payload[0]), payload[1], watts, rpm, payload[7])
		}
		if action == PumpActionSet && len(payload) == 4 {
			return fmt.Sprintf("  Register: 0x%02X%02X, Value: %d\n",
				payload[0], payload[1], int(payload[2])<<8|int(payload[3]))
		}
		if action == PumpActionPower && len(payload) == 1 {
			return fmt.Sprintf("  Power: %s\n", formatPumpRun(payload[0]))
		}

	case FamilyChlorinator:
		switch action {
		case ChlorActionSetOutput, ChlorActionSetOutput10:
			if len(payload) == 0 {
				break
			}
			if payload[0] == MaxChlorPercent {
				return "  Output: super chlorinate\n"
			}
			return fmt.Sprintf("  Output: %d%%\n", payload[0])
		case ChlorActionOutputReply:
			if len(payload) >= 2 {
				return fmt.Sprintf("  Salt: %d ppm, Status: 0x%02X\n", int(payload[0])*50, payload[1])
			}
		case ChlorActionNameReply:
			if len(payload) > 1 {
				return fmt.Sprintf("  Name: %q\n", strings.TrimRight(string(payload[1:]), "\x00 "))
			}
		}

	case FamilyController:
		if action == CtrlActionAck && len(payload) >= 1 {
			return fmt.Sprintf("  Acknowledged: 0x%02X\n", payload[0])
		}
		if action == CtrlActionSetChlorinator && len(payload) >= 3 {
			return fmt.Sprintf("  Pool: %d%%, Spa: %d%%, Super: %dh\n",
				payload[1], payload[0]>>1, payload[2]&0x7F)
		}
	}

	return "  Payload: " + FormatHex(payload) + "\n"
}

// FormatHex formats bytes as space separated hex
func FormatHex(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, " ")
}

func formatPumpRun(v byte) string {
	switch v {
	case PumpPowerOn:
		return "ON"
	case PumpPowerOff:
		return "OFF"
	}
	return fmt.Sprintf("0x%02X", v)
}
