package iso7816

import (
	"strings"
	"testing"
)

func TestNewInstruction(t *testing.T) {
	tests := []struct {
		name    string
		ins     InsCode
		wantErr bool
	}{
		{name: "Digest Init (8A)", ins: INS_DIGEST_INIT},
		{name: "Write Ceilings (D8)", ins: INS_WRITE_CEILINGS},
		{name: "Give Random (86)", ins: INS_GIVE_RANDOM},
		{name: "Invalid INS 6X", ins: 0x6A, wantErr: true},
		{name: "Invalid INS 9X", ins: 0x90, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewInstruction(tt.ins)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewInstruction(0x%02X) error = %v, wantErr %v", byte(tt.ins), err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.Raw != tt.ins {
				t.Errorf("NewInstruction(0x%02X).Raw = 0x%02X", byte(tt.ins), byte(got.Raw))
			}
		})
	}
}

func TestInstruction_Verbose(t *testing.T) {
	tests := []struct {
		ins      InsCode
		contains []string
	}{
		{INS_DIGEST_CLOSE, []string{"INS: 0x8E", "Command: DIGEST CLOSE"}},
		{INS_GET_RESPONSE, []string{"INS: 0xC0", "Command: GET RESPONSE"}},
		{0x42, []string{"INS: 0x42", "InsCode(0x42)"}},
	}

	for _, tt := range tests {
		i := Instruction{Raw: tt.ins}
		desc := i.Verbose()
		for _, part := range tt.contains {
			if !strings.Contains(desc, part) {
				t.Errorf("Verbose() = %q; want containing %q", desc, part)
			}
		}
	}
}
