package iso7816

import (
	"testing"
)

func TestNewClass(t *testing.T) {
	tests := []struct {
		name    string
		cla     byte
		wantErr bool
		check   func(Class) bool
	}{
		{
			name:    "Reserved FF",
			cla:     0xFF,
			wantErr: true,
		},
		{
			name: "First Interindustry - Ch 0, No SM",
			// 0b0(Prop)_0(First)_00(NoSM)_0(NoChain)_00(Ch0)
			cla: 0b0_0_00_0_00,
			check: func(c Class) bool {
				return !c.IsProprietary && c.Channel == 0 && c.SecureMessaging == SMNone
			},
		},
		{
			name: "Further Interindustry - Ch 19, SM, Chaining",
			// 0b0(Prop)_1(Further)_1(SM)_1(Chain)_1111(Offset 15 -> Ch 19)
			cla: 0b0_1_1_1_1111,
			check: func(c Class) bool {
				return c.IsChained && c.Channel == 19 && c.SecureMessaging == SMHeaderNoProc
			},
		},
		{
			name: "SAM C1 class",
			cla:  0x80,
			check: func(c Class) bool {
				return c.IsProprietary && c.Raw == 0x80
			},
		},
		{
			name: "Legacy SAM class",
			cla:  0x94,
			check: func(c Class) bool {
				return c.IsProprietary && c.Raw == 0x94
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClass(tt.cla)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClass() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && !tt.check(c) {
				t.Errorf("NewClass(%08b) failed validation: %+v", tt.cla, c)
			}
		})
	}
}

func TestClass_Encode_RoundTrip(t *testing.T) {
	testCases := []byte{
		0b0_0_00_0_00,  // First Interindustry: Ch 0, No SM, Last Command
		0b0_0_11_1_11,  // First Interindustry: Ch 3, SM Auth, Chaining
		0b0_1_0_0_0000, // Further Interindustry: Ch 4, No SM, Last Command
		0b0_1_1_1_1111, // Further Interindustry: Ch 19, SM ISO, Chaining
		0x80,           // SAM C1
		0x94,           // legacy SAM
	}

	for _, originalCla := range testCases {
		c, err := NewClass(originalCla)
		if err != nil {
			t.Fatalf("Failed to create class from %08b: %v", originalCla, err)
		}

		encoded, err := c.Encode()
		if err != nil {
			t.Fatalf("Failed to encode class %v: %v", c, err)
		}

		if encoded != originalCla {
			t.Errorf("Round-trip mismatch: got %08b, want %08b", encoded, originalCla)
		}
	}
}

func TestMustClass_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustClass(0xFF) should panic")
		}
	}()
	MustClass(0xFF)
}
