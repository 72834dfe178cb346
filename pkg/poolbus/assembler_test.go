// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poolbus

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// sampleStream returns a byte stream mixing every frame kind with noise
func sampleStream() []byte {
	var stream []byte
	stream = append(stream, 0x13, 0x37, 0xA5) // noise
	stream = append(stream, MustEncode(PumpRemoteControl(PumpAddress(1), AddressApp, true))...)
	stream = append(stream, MustEncode(ChlorinatorSetOutput(50))...)
	stream = append(stream, 0x00, 0x10, 0x10) // noise ending in a chlorinator start byte
	stream = append(stream, MustEncode(PumpSetRPM(PumpAddress(2), AddressApp, 2500))...)
	stream = append(stream, MustEncode(ControllerSetChlorinator(VersionController, AddressApp, 40, 10, 0))...)
	stream = append(stream, MustEncode([]byte{ChlorStart1, ChlorStart2, 0x00, ChlorActionOutputReply, 0x4E, 0x80})...)
	stream = append(stream, MustEncode(PumpStatusRequest(PumpAddress(16), AddressApp))...)
	return stream
}

func frameBytes(frames []*Frame) [][]byte {
	out := make([][]byte, len(frames))
	for i, f := range frames {
		out[i] = f.Bytes()
	}
	return out
}

func TestAssembler_Contiguous(t *testing.T) {
	a := NewAssembler()
	frames := a.Feed(sampleStream())

	if len(frames) != 6 {
		t.Fatalf("Expected 6 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if !ValidChecksum(f) {
			t.Errorf("frame %d: checksum invalid: % X", i, f.Bytes())
		}
	}
	if a.Buffered() != 0 {
		t.Errorf("Expected empty buffer, got %d bytes", a.Buffered())
	}
	if a.Discarded() != 6 {
		t.Errorf("Expected 6 discarded noise bytes, got %d", a.Discarded())
	}
}

func TestAssembler_FrameFields(t *testing.T) {
	a := NewAssembler()
	frames := a.Feed(MustEncode(PumpSetRPM(PumpAddress(1), AddressApp, 1000)))
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}

	f := frames[0]
	if f.Bytes()[0] != SyncByte {
		t.Errorf("Frame should start at the sync byte, got 0x%02X", f.Bytes()[0])
	}
	if f.Dest() != 0x60 || f.Source() != AddressApp {
		t.Errorf("Addresses: dest=0x%02X src=0x%02X", f.Dest(), f.Source())
	}
	if f.Action() != PumpActionSet || f.Length() != 4 {
		t.Errorf("Action=0x%02X Length=%d", f.Action(), f.Length())
	}
	want := []byte{0x02, 0xC4, 0x03, 0xE8}
	if !bytes.Equal(f.Payload(), want) {
		t.Errorf("Payload = % X, want % X", f.Payload(), want)
	}
}

func TestAssembler_SplitAcrossChunks(t *testing.T) {
	wire := MustEncode(ChlorinatorSetOutput(20))
	a := NewAssembler()

	for i := 0; i < len(wire)-1; i++ {
		if frames := a.Feed(wire[i : i+1]); len(frames) != 0 {
			t.Fatalf("Frame emitted early at byte %d", i)
		}
	}
	frames := a.Feed(wire[len(wire)-1:])
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame after last byte, got %d", len(frames))
	}
	if !bytes.Equal(frames[0].Bytes(), wire) {
		t.Errorf("Frame = % X, want % X", frames[0].Bytes(), wire)
	}
}

func TestAssembler_ChunkingIndependence(t *testing.T) {
	stream := sampleStream()
	want := frameBytes(NewAssembler().Feed(stream))

	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		a := NewAssembler()
		var got []*Frame
		for pos := 0; pos < len(stream); {
			n := rng.Intn(16) + 1
			if pos+n > len(stream) {
				n = len(stream) - pos
			}
			got = append(got, a.Feed(stream[pos:pos+n])...)
			pos += n
		}

		gotBytes := frameBytes(got)
		if len(gotBytes) != len(want) {
			t.Fatalf("round %d: got %d frames, want %d", i, len(gotBytes), len(want))
		}
		for j := range want {
			if !bytes.Equal(gotBytes[j], want[j]) {
				t.Fatalf("round %d frame %d: got % X, want % X", i, j, gotBytes[j], want[j])
			}
		}
	}
}

func TestAssembler_RandomNoise(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		a := NewAssembler()
		data := make([]byte, rng.Intn(512)+1)
		rng.Read(data)

		// Should not panic, and the buffer stays bounded
		a.Feed(data)
		if a.Buffered() > MaxBufferSize {
			t.Fatalf("buffer grew to %d bytes", a.Buffered())
		}
	}
}

func TestAssembler_Resync(t *testing.T) {
	tests := []struct {
		name   string
		prefix []byte
	}{
		{"oversized length", []byte{0xFF, 0x00, 0xFF, 0xA5, 0x00, 0x60, 0x21, 0x01, 0xFE}},
		{"sync without preamble", []byte{0x21, 0xFF, 0xA5, 0x00, 0x10, 0x60, 0x07, 0x02}},
		{"false sync overlapping frame", []byte{0xFF, 0x00, 0xFF, 0xA5, 0x00, 0x10, 0x60, 0x07, 0x02}},
		{"chlorinator without terminator", append([]byte{0x10, 0x02}, bytes.Repeat([]byte{0x55}, MaxChlorinatorFrame)...)},
		{"garbage", []byte{0x01, 0x02, 0x03, 0xFF, 0x42}},
	}

	frame := MustEncode(PumpStatusRequest(PumpAddress(3), AddressApp))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembler()
			stream := append(append([]byte{}, tt.prefix...), frame...)
			frames := a.Feed(stream)

			var valid int
			for _, f := range frames {
				if ValidChecksum(f) {
					valid++
					if f.Dest() != PumpAddress(3) {
						t.Errorf("Unexpected frame % X", f.Bytes())
					}
				}
			}
			if valid != 1 {
				t.Errorf("Expected 1 valid frame after resync, got %d", valid)
			}
			if a.Discarded() == 0 {
				t.Error("Expected discarded bytes to be counted")
			}
		})
	}
}

func TestAssembler_BadCandidateConsumesOnlySync(t *testing.T) {
	tests := []struct {
		name  string
		noise []byte
		frame []byte
	}{
		{
			"controller/pump",
			[]byte{0xFF, 0x00, 0xFF, 0xA5, 0x00, 0x10, 0x60, 0x07, 0x02},
			MustEncode(PumpStatusRequest(PumpAddress(3), AddressApp)),
		},
		{
			"chlorinator",
			[]byte{ChlorStart1, ChlorStart2, AddressChlorinator, 0x00},
			MustEncode(ChlorinatorSetOutput(40)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := append(append([]byte{}, tt.noise...), tt.frame...)
			frames := NewAssembler().Feed(stream)
			if len(frames) != 2 {
				t.Fatalf("Expected bad candidate and frame, got %d frames", len(frames))
			}
			if ValidChecksum(frames[0]) {
				t.Errorf("Candidate built from noise should fail its checksum: % X", frames[0].Bytes())
			}
			want := bytes.TrimPrefix(tt.frame, Preamble)
			if !bytes.Equal(frames[1].Bytes(), want) {
				t.Errorf("Frame = % X, want % X", frames[1].Bytes(), want)
			}
		})
	}
}

func TestAssembler_TakeSkipped(t *testing.T) {
	a := NewAssembler()
	a.Feed([]byte{0x01, 0x02, 0x03})
	a.Feed(MustEncode(PumpStatusRequest(PumpAddress(1), AddressApp)))

	if n := a.TakeSkipped(); n != 3 {
		t.Errorf("TakeSkipped() = %d, want 3", n)
	}
	if n := a.TakeSkipped(); n != 0 {
		t.Errorf("TakeSkipped() after take = %d, want 0", n)
	}
}

func TestAssembler_Reset(t *testing.T) {
	a := NewAssembler()
	wire := MustEncode(PumpStatusRequest(PumpAddress(1), AddressApp))
	a.Feed(wire[:6])
	if a.Buffered() == 0 {
		t.Fatal("Expected partial frame to be buffered")
	}

	a.Reset()
	if a.Buffered() != 0 {
		t.Errorf("Buffered() after Reset = %d", a.Buffered())
	}
	if frames := a.Feed(wire[6:]); len(frames) != 0 {
		t.Errorf("Partial frame survived Reset")
	}
}

func TestAssembler_Timestamp(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := NewAssembler()
	a.SetClock(func() time.Time { return at })

	frames := a.Feed(MustEncode(ChlorinatorProbe()))
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	if !frames[0].Timestamp().Equal(at) {
		t.Errorf("Timestamp = %v, want %v", frames[0].Timestamp(), at)
	}
}
