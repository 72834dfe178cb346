// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poolbus

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Checksum Tests
// ============================================================

func TestChecksum_Deterministic(t *testing.T) {
	data := []byte{0xA5, 0x00, 0x60, 0x21, 0x04, 0x01, 0xFF}
	first := Checksum(data)
	for i := 0; i < 10; i++ {
		if got := Checksum(data); got != first {
			t.Fatalf("Checksum changed between calls: 0x%04X vs 0x%04X", got, first)
		}
	}
	if first != 0x022A {
		t.Errorf("Checksum = 0x%04X, want 0x022A", first)
	}
}

func TestChecksum_Wraps(t *testing.T) {
	data := make([]byte, 300)
	for i := range data {
		data[i] = 0xFF
	}
	if got, want := Checksum(data), uint16((300*0xFF)%65536); got != want {
		t.Errorf("Checksum = 0x%04X, want 0x%04X", got, want)
	}
}

func TestValidChecksum_MutatedPayload(t *testing.T) {
	commands := map[string][]byte{
		"pump rpm":       PumpSetRPM(PumpAddress(1), AddressApp, 1500),
		"controller":     ControllerSetChlorinator(VersionController, AddressApp, 50, 0, 0),
		"chlorinator":    ChlorinatorSetOutput(45),
		"chlorinator 10": {ChlorStart1, ChlorStart2, AddressChlorinator, ChlorActionSetOutput10, 0x64, 0x01},
	}

	for name, cmd := range commands {
		t.Run(name, func(t *testing.T) {
			frames := NewAssembler().Feed(MustEncode(cmd))
			if len(frames) != 1 {
				t.Fatalf("Expected 1 frame, got %d", len(frames))
			}
			f := frames[0]
			if err := VerifyChecksum(f); err != nil {
				t.Fatalf("VerifyChecksum() error = %v", err)
			}

			payloadStart := HeaderSize
			if f.IsChlorinator() {
				payloadStart = offChlorAction + 1
			}
			for i := 0; i < f.Length(); i++ {
				raw := append([]byte{}, f.Bytes()...)
				raw[payloadStart+i] ^= 0x01
				mutated := NewFrame(raw, time.Now())
				if ValidChecksum(mutated) {
					t.Errorf("payload byte %d mutated but checksum still valid", i)
				}
				if err := VerifyChecksum(mutated); !errors.Is(err, ErrChecksum) {
					t.Errorf("VerifyChecksum() error = %v, want ErrChecksum", err)
				}
			}
		})
	}
}

func TestValidChecksum_ShortFrames(t *testing.T) {
	tests := [][]byte{
		{0xA5, 0x00, 0x60},
		{0x10, 0x02, 0x50},
		nil,
	}
	for _, raw := range tests {
		if ValidChecksum(NewFrame(raw, time.Now())) {
			t.Errorf("short frame % X reported valid", raw)
		}
	}
	if ValidChecksum(nil) {
		t.Error("nil frame reported valid")
	}
}

// ============================================================
// Classifier Tests
// ============================================================

func TestClassifier_Vectors(t *testing.T) {
	if got := Outbound([]byte{255, 0, 255, 165, 0, 98, 16, 6, 1, 10}); got != FamilyPump {
		t.Errorf("Outbound(pump power) = %s, want pump", got)
	}
	if got := Inbound([]byte{16, 2, 80, 20, 0}); got != FamilyChlorinator {
		t.Errorf("Inbound(chlorinator get name) = %s, want chlorinator", got)
	}
	if got := Inbound([]byte{165, 99, 16, 34, 134, 2, 9, 0}); got != FamilyController {
		t.Errorf("Inbound(controller) = %s, want controller", got)
	}
}

func TestClassifier_Addresses(t *testing.T) {
	tests := []struct {
		name      string
		dest, src byte
		want      Family
	}{
		{"pump reply", AddressApp, 0x60, FamilyPump},
		{"pump command", 0x6F, AddressController, FamilyPump},
		{"broadcast", AddressBroadcast, AddressController, FamilyController},
		{"controller from remote", AddressController, 0x2F, FamilyController},
		{"aux", 0x90, 0x9F, FamilyController},
		{"unknown", 0x01, 0x02, FamilyUnknown},
		{"chlorinator address in A5 frame", AddressChlorinator, 0x03, FamilyUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := []byte{SyncByte, 0x00, tt.dest, tt.src, 0x01, 0x00}
			if got := Inbound(b); got != tt.want {
				t.Errorf("Inbound() = %s, want %s", got, tt.want)
			}
			if got := Outbound(append([]byte{0xFF, 0x00, 0xFF}, b...)); got != tt.want {
				t.Errorf("Outbound() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifier_Malformed(t *testing.T) {
	tests := [][]byte{
		nil,
		{0xA5, 0x00},
		{0x42, 0x00, 0x60, 0x21},
		{0xFF, 0x00, 0xFF, 0xFF, 0x00, 0xA5, 0x00, 0x60, 0x21},
	}
	for _, b := range tests {
		if got := Inbound(b); got != FamilyUnknown {
			t.Errorf("Inbound(% X) = %s, want unknown", b, got)
		}
	}
}

func TestFamily_String(t *testing.T) {
	for _, f := range append(Families, FamilyUnknown) {
		parsed, ok := ParseFamily(f.String())
		if f == FamilyUnknown {
			if ok {
				t.Error("ParseFamily(unknown) should fail")
			}
			continue
		}
		if !ok || parsed != f {
			t.Errorf("ParseFamily(%q) = %v, %v", f.String(), parsed, ok)
		}
	}
}

// ============================================================
// Frame Tests
// ============================================================

func TestFrame_ChlorinatorSource(t *testing.T) {
	toChlor := NewFrame(MustEncode(ChlorinatorSetOutput(30)), time.Now())
	if toChlor.Source() != AddressController {
		t.Errorf("command Source() = 0x%02X, want controller", toChlor.Source())
	}

	reply := NewFrame(MustEncode([]byte{ChlorStart1, ChlorStart2, 0x00, ChlorActionOutputReply, 0x40, 0x00}), time.Now())
	if reply.Source() != AddressChlorinator {
		t.Errorf("reply Source() = 0x%02X, want chlorinator", reply.Source())
	}
	if reply.Length() != 2 {
		t.Errorf("reply Length() = %d, want 2", reply.Length())
	}
}

func TestFrame_CopiesInput(t *testing.T) {
	raw := []byte{0xA5, 0x00, 0x60, 0x21, 0x07, 0x00, 0x01, 0x2D}
	f := NewFrame(raw, time.Now())
	raw[2] = 0x00
	if f.Dest() != 0x60 {
		t.Error("Frame should not alias its input")
	}
}

// ============================================================
// Formatter and Statistics Tests
// ============================================================

func TestFormatFrame(t *testing.T) {
	f := NewAssembler().Feed(MustEncode(PumpSetRPM(PumpAddress(2), AddressApp, 2000)))[0]
	out := FormatFrame(f)

	for _, want := range []string{"pump", "SET", "pump2", "Value: 2000"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatFrame() = %q, missing %q", out, want)
		}
	}
}

func TestFormatHex(t *testing.T) {
	if got := FormatHex([]byte{0xA5, 0x00, 0x10}); got != "A5 00 10" {
		t.Errorf("FormatHex() = %q", got)
	}
}

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()
	s.Update(FamilyPump, nil)
	s.Update(FamilyChlorinator, nil)
	s.Update(FamilyUnknown, ErrChecksum)
	s.Update(FamilyUnknown, ErrUnclassified)

	if s.TotalFrames != 4 || s.ValidFrames != 2 {
		t.Errorf("Total=%d Valid=%d", s.TotalFrames, s.ValidFrames)
	}
	if s.ChecksumErrors != 1 || s.Unclassified != 1 {
		t.Errorf("Checksum=%d Unclassified=%d", s.ChecksumErrors, s.Unclassified)
	}
	if s.ByFamily[FamilyPump] != 1 || s.ByFamily[FamilyChlorinator] != 1 {
		t.Errorf("ByFamily = %v", s.ByFamily)
	}
	if !strings.Contains(s.String(), "Checksum Errors") {
		t.Error("String() should report checksum errors")
	}

	s.Reset()
	if s.TotalFrames != 0 {
		t.Error("Reset() should clear counters")
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidateFrame(t *testing.T) {
	status := func(rpm int, extra int) []byte {
		payload := make([]byte, pumpStatusLength+extra)
		payload[0] = PumpPowerOn
		payload[5] = byte(rpm >> 8)
		payload[6] = byte(rpm)
		cmd := append([]byte{SyncByte, VersionPump, AddressController, 0x60, PumpActionStatus, byte(len(payload))}, payload...)
		return cmd
	}

	tests := []struct {
		name string
		cmd  []byte
		want []AnomalyType
	}{
		{"pump status ok", status(1500, 0), nil},
		{"pump status high rpm", status(5000, 0), []AnomalyType{AnomalyHighRPM}},
		{"pump status short", status(1500, -3), []AnomalyType{AnomalyLengthMismatch}},
		{"pump request ignored", PumpStatusRequest(PumpAddress(1), AddressApp), nil},
		{"chlorinator output ok", ChlorinatorSetOutput(101), nil},
		{"chlorinator output high", ChlorinatorSetOutput(150), []AnomalyType{AnomalyInvalidValue}},
		{"chlorinator status short", []byte{ChlorStart1, ChlorStart2, 0x00, ChlorActionOutputReply, 0x40}, []AnomalyType{AnomalyLengthMismatch}},
		{"controller ack empty", []byte{SyncByte, VersionController, AddressApp, AddressController, CtrlActionAck, 0}, []AnomalyType{AnomalyLengthMismatch}},
		{"controller from broadcast", []byte{SyncByte, VersionController, AddressController, AddressBroadcast, CtrlActionStatus, 0}, []AnomalyType{AnomalyInvalidAddress}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := NewAssembler().Feed(MustEncode(tt.cmd))
			if len(frames) != 1 {
				t.Fatalf("Expected 1 frame, got %d", len(frames))
			}
			errs := ValidateFrame(frames[0], Classify(frames[0]))
			if len(errs) != len(tt.want) {
				t.Fatalf("ValidateFrame() = %v, want %v", errs, tt.want)
			}
			for i, err := range errs {
				if err.Type != tt.want[i] {
					t.Errorf("error %d type = %s, want %s", i, err.Type, tt.want[i])
				}
				if err.Error() == "" {
					t.Errorf("error %d has no message", i)
				}
			}
		})
	}

	stats := NewStatistics()
	stats.RecordAnomalies([]ValidationError{{Type: AnomalyHighRPM, Message: "x"}})
	if stats.Anomalies != 1 || !strings.Contains(stats.String(), "Anomalies") {
		t.Errorf("Anomalies = %d, summary:\n%s", stats.Anomalies, stats.String())
	}
}
