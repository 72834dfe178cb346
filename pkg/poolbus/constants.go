// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package poolbus implements the wire layer of the RS-485 bus shared by pool
// controllers, variable speed pumps and salt chlorinators.
//
// Two framings share the bus. Controller and pump frames start with the
// preamble 0xFF,0x00,0xFF followed by the sync byte 0xA5:
//
//	[0xFF,0x00,0xFF,] 0xA5, version, dest, source, action, length, payload..., sum_hi, sum_lo
//
// Chlorinator frames carry their own start and end markers:
//
//	0x10, 0x02, dest, action, payload..., sum, 0x10, 0x03
//
// This package provides frame assembly from a raw byte stream, checksum
// validation, classification by equipment family, duplicate suppression,
// command builders, reply correlation, capture records and formatting.
package poolbus

// Controller/pump framing
const (
	PreambleHigh = 0xFF
	PreambleLow  = 0x00
	SyncByte     = 0xA5
)

// Chlorinator framing
const (
	ChlorStart1 = 0x10
	ChlorStart2 = 0x02
	ChlorEnd1   = 0x10
	ChlorEnd2   = 0x03
)

// Preamble is written in front of every controller/pump frame.
var Preamble = []byte{PreambleHigh, PreambleLow, PreambleHigh}

// Frame size limits
const (
	HeaderSize          = 6 // sync, version, dest, source, action, length
	ChecksumSize        = 2
	MaxPayloadSize      = 64
	MaxFrameSize        = HeaderSize + MaxPayloadSize + ChecksumSize
	MinChlorinatorFrame = 7 // start(2) dest action sum end(2)
	MaxChlorinatorFrame = 32
	MaxBufferSize       = 1024
)

// Offsets within an A5 frame (frame starts at the sync byte)
const (
	offVersion = 1
	offDest    = 2
	offSource  = 3
	offAction  = 4
	offLength  = 5
)

// Offsets within a chlorinator frame
const (
	offChlorDest   = 2
	offChlorAction = 3
)

// Bus addresses
const (
	AddressBroadcast   = 0x0F
	AddressController  = 0x10
	AddressRemoteFirst = 0x20
	AddressRemoteLast  = 0x2F
	AddressChlorinator = 0x50
	AddressPumpFirst   = 0x60
	AddressPumpLast    = 0x6F
	AddressAuxFirst    = 0x90
	AddressAuxLast     = 0x9F
)

// AddressApp is the default source address of our commands
const AddressApp byte = 0x21

// MaxPumps is the number of pump addresses on the bus.
const MaxPumps = AddressPumpLast - AddressPumpFirst + 1

// Version bytes following 0xA5
const (
	VersionPump       = 0x00
	VersionController = 0x21
)

// Pump actions
const (
	PumpActionSet     = 0x01
	PumpActionMode    = 0x05
	PumpActionRemote  = 0x04
	PumpActionPower   = 0x06
	PumpActionStatus  = 0x07
	PumpRemoteOn      = 0xFF
	PumpRemoteOff     = 0x00
	PumpPowerOn       = 0x0A
	PumpPowerOff      = 0x04
	pumpRegisterRPM   = 0xC4 // register 0x02C4
	pumpRegisterGPM   = 0xE4 // register 0x02E4
	pumpRegisterProg  = 0x21 // register 0x0321
	pumpRegisterPage2 = 0x02
	pumpRegisterPage3 = 0x03
)

// Chlorinator actions
const (
	ChlorActionProbe       = 0x00
	ChlorActionProbeReply  = 0x01
	ChlorActionSetOutput   = 0x11
	ChlorActionOutputReply = 0x12
	ChlorActionGetName     = 0x14
	ChlorActionNameReply   = 0x03
	ChlorActionSetOutput10 = 0x15
)

// Controller actions
const (
	CtrlActionAck            = 0x01
	CtrlActionStatus         = 0x02
	CtrlActionSetChlorinator = 0x99
	CtrlActionGetFirst       = 0xC8 // get requests start at 200
	CtrlGetReplyOffset       = 0xC0 // reply action = get action - 192
)

// Command value limits
const (
	MinRPM          = 450
	MaxRPM          = 3450
	MinGPM          = 15
	MaxGPM          = 130
	MinProgram      = 1
	MaxProgram      = 4
	MaxChlorPercent = 101 // 101 is super chlorinate
	MaxSuperHours   = 96
)
