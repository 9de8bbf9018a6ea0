package iso7816

import (
	"fmt"

	"github.com/gregLibert/calypso-sam/pkg/bits"
)

// Instruction Byte (INS) Logic according to ISO/IEC 7816-4.
//
// INS values where the upper nibble is '6' or '9' (0x6X or 0x9X) are invalid: they are
// reserved for SW1 and transport procedure bytes (ISO/IEC 7816-3).
//
// With the interindustry class, bit 1 set means the data field is BER-TLV encoded. The
// Calypso SAM instruction set lives in a proprietary class, so the bit carries no meaning
// there and is only reported for information.

// InsCode is a typed representation of the instruction byte.
type InsCode byte

// ISO 7816-4 instructions used by the transport layer.
const (
	INS_GET_CHALLENGE InsCode = 0x84
	INS_SELECT        InsCode = 0xA4
	INS_GET_RESPONSE  InsCode = 0xC0
)

// Calypso SAM instructions (proprietary class).
const (
	INS_CARD_CIPHER_PIN              InsCode = 0x12
	INS_SELECT_DIVERSIFIER           InsCode = 0x14
	INS_DATA_CIPHER                  InsCode = 0x16
	INS_WRITE_KEY                    InsCode = 0x1A
	INS_PSO                          InsCode = 0x2A
	INS_CARD_GENERATE_KEY            InsCode = 0x32
	INS_DIGEST_AUTHENTICATE          InsCode = 0x82
	INS_GIVE_RANDOM                  InsCode = 0x86
	INS_DIGEST_INTERNAL_AUTHENTICATE InsCode = 0x88
	INS_DIGEST_INIT                  InsCode = 0x8A
	INS_DIGEST_UPDATE                InsCode = 0x8C
	INS_DIGEST_CLOSE                 InsCode = 0x8E
	INS_READ_KEY_PARAMETERS          InsCode = 0xBC
	INS_READ_EVENT_COUNTER           InsCode = 0xBE
	INS_READ_CEILINGS                InsCode = 0xBE
	INS_WRITE_CEILINGS               InsCode = 0xD8
)

var insNames = map[InsCode]string{
	INS_CARD_CIPHER_PIN:              "CARD CIPHER PIN",
	INS_SELECT_DIVERSIFIER:           "SELECT DIVERSIFIER",
	INS_DATA_CIPHER:                  "DATA CIPHER",
	INS_WRITE_KEY:                    "WRITE KEY",
	INS_PSO:                          "PERFORM SECURITY OPERATION",
	INS_CARD_GENERATE_KEY:            "CARD GENERATE KEY",
	INS_DIGEST_AUTHENTICATE:          "DIGEST AUTHENTICATE",
	INS_GET_CHALLENGE:                "GET CHALLENGE",
	INS_GIVE_RANDOM:                  "GIVE RANDOM",
	INS_DIGEST_INTERNAL_AUTHENTICATE: "DIGEST INTERNAL AUTHENTICATE",
	INS_DIGEST_INIT:                  "DIGEST INIT",
	INS_DIGEST_UPDATE:                "DIGEST UPDATE",
	INS_DIGEST_CLOSE:                 "DIGEST CLOSE",
	INS_SELECT:                       "SELECT",
	INS_READ_KEY_PARAMETERS:          "READ KEY PARAMETERS",
	INS_READ_EVENT_COUNTER:           "READ EVENT COUNTER / CEILINGS",
	INS_GET_RESPONSE:                 "GET RESPONSE",
	INS_WRITE_CEILINGS:               "WRITE CEILINGS",
}

// String returns the instruction name, or a hex form for unknown codes.
func (i InsCode) String() string {
	if name, ok := insNames[i]; ok {
		return name
	}
	return fmt.Sprintf("InsCode(0x%02X)", byte(i))
}

// Instruction represents the parsed ISO 7816-4 Instruction byte (INS).
type Instruction struct {
	Raw      InsCode
	IsBERTLV bool
}

// NewInstruction creates an Instruction object with validation.
// It rejects '6X' and '9X' values as they are invalid according to ISO 7816-3.
func NewInstruction(ins InsCode) (Instruction, error) {
	highNibble := byte(ins) & 0xF0
	if highNibble == 0x60 || highNibble == 0x90 {
		return Instruction{}, fmt.Errorf("invalid INS 0x%02X: 6X and 9X are reserved", byte(ins))
	}

	return Instruction{
		Raw:      ins,
		IsBERTLV: bits.IsSet(byte(ins), 1),
	}, nil
}

// MustInstruction is NewInstruction for the constants above; it panics on reserved codes.
func MustInstruction(ins InsCode) Instruction {
	i, err := NewInstruction(ins)
	if err != nil {
		panic(err)
	}
	return i
}

// Verbose returns a human-readable description of the instruction.
func (i Instruction) Verbose() string {
	return fmt.Sprintf("INS: 0x%02X | Command: %s", byte(i.Raw), i.Raw.String())
}
