// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poolbus

import "fmt"

// AnomalyType represents different kinds of frame anomalies
type AnomalyType int

const (
	AnomalyLengthMismatch AnomalyType = iota
	AnomalyHighRPM
	AnomalyInvalidValue
	AnomalyInvalidAddress
)

// String returns the anomaly name
func (a AnomalyType) String() string {
	switch a {
	case AnomalyLengthMismatch:
		return "length mismatch"
	case AnomalyHighRPM:
		return "high rpm"
	case AnomalyInvalidValue:
		return "invalid value"
	case AnomalyInvalidAddress:
		return "invalid address"
	}
	return "unknown"
}

// ValidationError describes a frame that passed its checksum but carries
// implausible contents
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// pumpStatusLength is the payload size of a pump status broadcast
const pumpStatusLength = 15

// ValidateFrame checks a classified frame for anomalies.
// Returns a slice of validation errors (empty if the frame looks sane).
func ValidateFrame(f *Frame, family Family) []ValidationError {
	errors := []ValidationError{}

	switch family {
	case FamilyPump:
		errors = append(errors, validatePump(f)...)
	case FamilyChlorinator:
		errors = append(errors, validateChlorinator(f)...)
	case FamilyController:
		errors = append(errors, validateController(f)...)
	}

	return errors
}

func validatePump(f *Frame) []ValidationError {
	payload := f.Payload()
	if !isPump(f.Source()) {
		return nil
	}

	switch f.Action() {
	case PumpActionStatus:
		if len(payload) != pumpStatusLength {
			return []ValidationError{{
				Type:    AnomalyLengthMismatch,
				Message: fmt.Sprintf("pump status payload is %d bytes (expected %d)", len(payload), pumpStatusLength),
				Details: map[string]interface{}{"received": len(payload), "expected": pumpStatusLength},
			}}
		}
		rpm := int(payload[5])<<8 | int(payload[6])
		if rpm > MaxRPM {
			return []ValidationError{{
				Type:    AnomalyHighRPM,
				Message: fmt.Sprintf("pump %d reports rpm=%d (max %d)", PumpIndex(f.Source()), rpm, MaxRPM),
				Details: map[string]interface{}{"rpm": rpm, "max": MaxRPM},
			}}
		}

	case PumpActionSet:
		if len(payload) != 2 && len(payload) != 4 {
			return []ValidationError{{
				Type:    AnomalyLengthMismatch,
				Message: fmt.Sprintf("pump set reply is %d bytes", len(payload)),
				Details: map[string]interface{}{"received": len(payload)},
			}}
		}
	}
	return nil
}

func validateChlorinator(f *Frame) []ValidationError {
	payload := f.Payload()
	switch f.Action() {
	case ChlorActionSetOutput, ChlorActionSetOutput10:
		if len(payload) == 0 {
			return []ValidationError{{
				Type:    AnomalyLengthMismatch,
				Message: "chlorinator output request has no payload",
				Details: map[string]interface{}{"received": 0, "expected": 1},
			}}
		}
		if int(payload[0]) > MaxChlorPercent {
			return []ValidationError{{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("chlorinator output %d%% (max %d)", payload[0], MaxChlorPercent),
				Details: map[string]interface{}{"value": int(payload[0]), "max": MaxChlorPercent},
			}}
		}
	case ChlorActionOutputReply:
		if len(payload) < 2 {
			return []ValidationError{{
				Type:    AnomalyLengthMismatch,
				Message: fmt.Sprintf("chlorinator status is %d bytes (expected 2)", len(payload)),
				Details: map[string]interface{}{"received": len(payload), "expected": 2},
			}}
		}
	}
	return nil
}

func validateController(f *Frame) []ValidationError {
	errors := []ValidationError{}
	if f.Source() == AddressBroadcast {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidAddress,
			Message: "frame sent from the broadcast address",
			Details: map[string]interface{}{"source": f.Source()},
		})
	}
	if f.Action() == CtrlActionAck && len(f.Payload()) == 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyLengthMismatch,
			Message: "ACK without acknowledged action",
			Details: map[string]interface{}{"received": 0, "expected": 1},
		})
	}
	return errors
}
