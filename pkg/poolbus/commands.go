// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poolbus

// Command builder functions return logical commands ready for Encode.
// Controller and pump commands start at the sync byte; chlorinator
// commands start at 0x10,0x02 and omit the checksum and terminator.

// PumpAddress returns the bus address of pump index 1..16
func PumpAddress(index int) byte {
	return byte(AddressPumpFirst + index - 1)
}

// PumpIndex returns the pump index 1..16 for a pump address, or 0
func PumpIndex(addr byte) int {
	if !isPump(addr) {
		return 0
	}
	return int(addr-AddressPumpFirst) + 1
}

func pumpCommand(pump, source, action byte, payload ...byte) []byte {
	cmd := []byte{SyncByte, VersionPump, pump, source, action, byte(len(payload))}
	return append(cmd, payload...)
}

// PumpRemoteControl takes (on=true) or releases the pump's local panel
func PumpRemoteControl(pump, source byte, on bool) []byte {
	state := byte(PumpRemoteOff)
	if on {
		state = PumpRemoteOn
	}
	return pumpCommand(pump, source, PumpActionRemote, state)
}

// PumpPower starts or stops the pump motor
func PumpPower(pump, source byte, on bool) []byte {
	state := byte(PumpPowerOff)
	if on {
		state = PumpPowerOn
	}
	return pumpCommand(pump, source, PumpActionPower, state)
}

// PumpSetRPM writes the target speed register
func PumpSetRPM(pump, source byte, rpm int) []byte {
	return pumpCommand(pump, source, PumpActionSet,
		pumpRegisterPage2, pumpRegisterRPM, byte(rpm>>8), byte(rpm&0xFF))
}

// PumpSetGPM writes the target flow register
func PumpSetGPM(pump, source byte, gpm int) []byte {
	return pumpCommand(pump, source, PumpActionSet,
		pumpRegisterPage2, pumpRegisterGPM, 0, byte(gpm))
}

// PumpRunProgram selects one of the pump's stored programs (1..4).
// The register value is the program number times 8.
func PumpRunProgram(pump, source byte, program int) []byte {
	return pumpCommand(pump, source, PumpActionSet,
		pumpRegisterPage3, pumpRegisterProg, 0, byte(program*8))
}

// PumpStatusRequest asks the pump to report its running state
func PumpStatusRequest(pump, source byte) []byte {
	return pumpCommand(pump, source, PumpActionStatus)
}

// ChlorinatorSetOutput sets the generator output percentage.
// 101 requests super chlorination.
func ChlorinatorSetOutput(percent int) []byte {
	return []byte{ChlorStart1, ChlorStart2, AddressChlorinator, ChlorActionSetOutput, byte(percent)}
}

// ChlorinatorProbe asks the chlorinator to identify itself
func ChlorinatorProbe() []byte {
	return []byte{ChlorStart1, ChlorStart2, AddressChlorinator, ChlorActionProbe, 0}
}

// ChlorinatorGetName requests the chlorinator's model name
func ChlorinatorGetName() []byte {
	return []byte{ChlorStart1, ChlorStart2, AddressChlorinator, ChlorActionGetName, 0}
}

// ControllerCommand builds a command addressed to the main controller
func ControllerCommand(version, source, action byte, payload ...byte) []byte {
	cmd := []byte{SyncByte, version, AddressController, source, action, byte(len(payload))}
	return append(cmd, payload...)
}

// ControllerGet builds a configuration request. Get actions start at 200;
// the controller answers with action-192.
func ControllerGet(version, source, action, item byte) []byte {
	return ControllerCommand(version, source, action, item)
}

// ControllerSetChlorinator asks the controller to drive the chlorinator.
// The spa level is carried shifted left with the low bit set; super
// chlorinate hours carry the high bit when non-zero.
func ControllerSetChlorinator(version, source byte, pool, spa, superHours int) []byte {
	var super byte
	if superHours > 0 {
		super = byte(superHours) | 0x80
	}
	return ControllerCommand(version, source, CtrlActionSetChlorinator,
		byte(spa<<1)|1, byte(pool), super, 0, 0, 0, 0, 0, 0, 0)
}
