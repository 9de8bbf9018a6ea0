package sam

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/gregLibert/calypso-sam/pkg/tlv"
)

func sampleSnapshot() *Snapshot {
	snap := NewSnapshot([]byte{0x11, 0x22, 0x33, 0x44}, false)
	snap.KVCs[RoleKeyManagement] = 0x30
	snap.KVCs[RolePersonalization] = 0x21
	snap.CounterNumbers[RolePersonalization] = 5
	snap.CounterNumbers[RoleKeyManagement] = 20
	snap.Counters[20] = 7
	snap.Counters[5] = 1000
	return snap
}

func TestSnapshot_MarshalBinary(t *testing.T) {
	raw, err := sampleSnapshot().MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}

	want := tlv.Hex(
		"C0 04 11223344",
		"C1 01 00",
		"C2 02 E121", "C2 02 FD30",
		"C3 02 E105", "C3 02 FD14",
		"C4 04 050003E8", "C4 04 14000007",
	)
	if diff := cmp.Diff(want, raw); diff != "" {
		t.Errorf("MarshalBinary() mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		snap *Snapshot
	}{
		{"Full", sampleSnapshot()},
		{"Empty maps", NewSnapshot([]byte{0xDE, 0xAD, 0xBE, 0xEF}, false)},
		{"Dynamic", NewSnapshot([]byte{0, 0, 0, 1}, true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := tt.snap.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary() error = %v", err)
			}

			got, err := UnmarshalSnapshot(raw)
			if err != nil {
				t.Fatalf("UnmarshalSnapshot() error = %v", err)
			}
			if diff := cmp.Diff(tt.snap, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}

			again, err := got.MarshalBinary()
			if err != nil {
				t.Fatalf("second MarshalBinary() error = %v", err)
			}
			if !bytes.Equal(raw, again) {
				t.Errorf("encoding is not stable:\n% X\n% X", raw, again)
			}
		})
	}
}

func TestUnmarshalSnapshot_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"Short serial", tlv.Hex("C0 03 112233 C1 01 00")},
		{"Missing flag", tlv.Hex("C0 04 11223344")},
		{"Bad flag", tlv.Hex("C0 04 11223344 C1 01 02")},
		{"Unknown role", tlv.Hex("C0 04 11223344 C1 01 00 C2 02 AA21")},
		{"Duplicate KVC", tlv.Hex("C0 04 11223344 C1 01 00 C2 02 E121 C2 02 E122")},
		{"Counter out of range", tlv.Hex("C0 04 11223344 C1 01 00 C4 04 1B000001")},
		{"Unknown tag", tlv.Hex("C0 04 11223344 C1 01 00 DF01 01 00")},
		{"Truncated", tlv.Hex("C0 04 1122")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := UnmarshalSnapshot(tt.raw); err == nil {
				t.Error("UnmarshalSnapshot() expected an error")
			}
		})
	}
}

func TestSnapshot_NextChallenge(t *testing.T) {
	snap := sampleSnapshot()

	first, err := snap.NextChallenge(RolePersonalization)
	if err != nil {
		t.Fatalf("NextChallenge() error = %v", err)
	}
	second, _ := snap.NextChallenge(RolePersonalization)

	if !bytes.Equal(first, Challenge(1001)) || !bytes.Equal(second, Challenge(1002)) {
		t.Errorf("challenges = % X / % X", first, second)
	}
	if snap.Counters[5] != 1002 {
		t.Errorf("counter 5 = %d, want 1002", snap.Counters[5])
	}

	if _, err := snap.NextChallenge(RoleReloading); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("NextChallenge(RoleReloading) error = %v, want ErrUnknownKey", err)
	}

	dyn := NewSnapshot([]byte{1, 2, 3, 4}, true)
	if _, err := dyn.NextChallenge(RolePersonalization); !errors.Is(err, ErrNoChallenge) {
		t.Errorf("dynamic NextChallenge() error = %v, want ErrNoChallenge", err)
	}
}

func TestSnapshot_Describe(t *testing.T) {
	out := sampleSnapshot().Describe()
	for _, want := range []string{
		"Target SAM Snapshot",
		"Snapshot.Serial (C0): 11223344",
		"Snapshot.KVCs (C2)[1]: FD30",
		"Snapshot.Counters (C4)[0]: 050003E8",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Describe() missing %q:\n%s", want, out)
		}
	}
}
