package iso7816

import (
	"bytes"
	"fmt"
)

// APDU (Application Protocol Data Unit) structures and encodings according to ISO/IEC 7816-3 and 7816-4.
//
// COMMAND APDU (C-APDU):
// A command consists of a mandatory Header (4 bytes) and an optional Body.
//
// 1. Header:
//   - CLA (Class): Security, Chaining, Logical Channel (or proprietary, as for SAMs).
//   - INS (Instruction): The specific command to execute.
//   - P1, P2 (Parameters): Command modifiers.
//
// 2. Body:
//   - Lc (Length Command): Number of bytes in the data field.
//   - Data: The command payload.
//   - Le (Length Expected): Maximum number of bytes expected in the response.
//
// ENCODING CASES (ISO 7816-3):
// - Case 1: No Data, No Response (Header only).
// - Case 2: No Data, Response Expected (Header + Le).
// - Case 3: Data Present, No Response (Header + Lc + Data).
// - Case 4: Data Present, Response Expected (Header + Lc + Data + Le).
//
// Case 4 matters for secure session digests: the trailing Le byte of a short case 4
// request is not part of the authenticated payload and must be removed before the
// request is fed to a digest (see Case4Payload).
//
// LENGTH MODES:
//   - Short Length: Lc/Le encoded on 1 byte (Max 255/256).
//   - Extended Length: Lc/Le encoded on multiple bytes (Max 65535/65536).
//     Extended mode is triggered if Lc > 255 or Le > 256.
//
// RESPONSE APDU (R-APDU):
// Optional Body followed by the mandatory Trailer SW1-SW2 (e.g. 0x9000).

// APDU Limits and Constants according to ISO 7816-3.
const (
	// HeaderLength is the size of CLA INS P1 P2.
	HeaderLength = 4

	// MaxShortLc is the maximum data length (Nc) encodable in Short Length mode (1 byte).
	MaxShortLc = 255

	// MaxShortLe is the maximum expected response length (Ne) encodable in Short Length mode.
	// In Short mode, 0x00 encodes 256.
	MaxShortLe = 256

	// MaxExtendedLc is the theoretical limit for Lc in Extended mode (16-bit unsigned).
	MaxExtendedLc = 65535

	// MaxExtendedLe is the maximum Ne encodable in Extended Length mode.
	// In Extended mode, 0x0000 encodes 65536.
	MaxExtendedLe = 65536
)

// CommandAPDU represents a command sent to the card.
type CommandAPDU struct {
	Class       Class
	Instruction Instruction
	P1, P2      byte
	Data        []byte
	Ne          int // Expected response length (0 means none)
}

// NewCommandAPDU creates a basic command.
func NewCommandAPDU(cla Class, ins Instruction, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	return &CommandAPDU{
		Class:       cla,
		Instruction: ins,
		P1:          p1,
		P2:          p2,
		Data:        data,
		Ne:          ne,
	}
}

// Bytes encodes the CommandAPDU into its byte representation (C-APDU).
// It automatically handles the selection between Short and Extended encoding
// based on the length of Data (Nc) and the expected response length (Ne).
func (c *CommandAPDU) Bytes() ([]byte, error) {
	if len(c.Data) > MaxExtendedLc {
		return nil, fmt.Errorf("data too long: %d bytes", len(c.Data))
	}
	if c.Ne < 0 || c.Ne > MaxExtendedLe {
		return nil, fmt.Errorf("invalid Ne: %d", c.Ne)
	}

	buf := new(bytes.Buffer)

	class, err := c.Class.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode Class: %w", err)
	}
	buf.WriteByte(class)
	buf.WriteByte(byte(c.Instruction.Raw))
	buf.WriteByte(c.P1)
	buf.WriteByte(c.P2)

	nc := len(c.Data)
	ne := c.Ne

	isExtended := nc > MaxShortLc || ne > MaxShortLe

	if nc > 0 {
		if !isExtended {
			buf.WriteByte(byte(nc))
		} else {
			buf.WriteByte(0x00)
			buf.WriteByte(byte(nc >> 8))
			buf.WriteByte(byte(nc))
		}
		buf.Write(c.Data)
	}

	if ne > 0 {
		if !isExtended {
			// 0x00 represents 256
			buf.WriteByte(byte(ne % MaxShortLe))
		} else {
			// Case 2 Extended needs a leading 00 to distinguish Le from Lc.
			if nc == 0 {
				buf.WriteByte(0x00)
			}
			buf.WriteByte(byte((ne % MaxExtendedLe) >> 8))
			buf.WriteByte(byte(ne % MaxExtendedLe))
		}
	}

	return buf.Bytes(), nil
}

// String returns a readable representation of the command meta-data.
func (c *CommandAPDU) String() string {
	return fmt.Sprintf("%s | P1: %02X, P2: %02X | Lc: %d | Le: %d",
		c.Instruction.Verbose(), c.P1, c.P2, len(c.Data), c.Ne)
}

// ParseCommandAPDU decodes a raw C-APDU in any of the four ISO cases, short or extended.
func ParseCommandAPDU(raw []byte) (*CommandAPDU, error) {
	if len(raw) < HeaderLength {
		return nil, fmt.Errorf("command too short: length %d", len(raw))
	}

	cls, err := NewClass(raw[0])
	if err != nil {
		return nil, err
	}
	cmd := &CommandAPDU{
		Class:       cls,
		Instruction: Instruction{Raw: InsCode(raw[1])},
		P1:          raw[2],
		P2:          raw[3],
	}

	body := raw[HeaderLength:]
	switch {
	case len(body) == 0:
		// Case 1
	case len(body) == 1:
		// Case 2 short
		cmd.Ne = decodeShortLe(body[0])
	case body[0] != 0x00 || len(body) < 3:
		// Case 3/4 short
		nc := int(body[0])
		switch len(body) {
		case 1 + nc:
		case 2 + nc:
			cmd.Ne = decodeShortLe(body[1+nc])
		default:
			return nil, fmt.Errorf("inconsistent short Lc %d for body of %d bytes", nc, len(body))
		}
		cmd.Data = body[1 : 1+nc]
	case len(body) == 3:
		// Case 2 extended
		cmd.Ne = decodeExtendedLe(body[1], body[2])
	default:
		// Case 3/4 extended
		nc := int(body[1])<<8 | int(body[2])
		switch len(body) {
		case 3 + nc:
		case 5 + nc:
			cmd.Ne = decodeExtendedLe(body[3+nc], body[4+nc])
		default:
			return nil, fmt.Errorf("inconsistent extended Lc %d for body of %d bytes", nc, len(body))
		}
		cmd.Data = body[3 : 3+nc]
	}

	return cmd, nil
}

// IsCase4 reports whether raw is a short case 4 command (Lc, data and a trailing Le).
func IsCase4(raw []byte) bool {
	if len(raw) < HeaderLength+3 {
		return false
	}
	lc := int(raw[HeaderLength])
	return lc > 0 && len(raw) == HeaderLength+1+lc+1
}

// Case4Payload returns raw without its trailing Le when it is a short case 4 command,
// and raw unchanged otherwise.
func Case4Payload(raw []byte) []byte {
	if IsCase4(raw) {
		return raw[:len(raw)-1]
	}
	return raw
}

func decodeShortLe(le byte) int {
	if le == 0 {
		return MaxShortLe
	}
	return int(le)
}

func decodeExtendedLe(hi, lo byte) int {
	ne := int(hi)<<8 | int(lo)
	if ne == 0 {
		return MaxExtendedLe
	}
	return ne
}

// ResponseAPDU represents the reply from the card (R-APDU).
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord
}

// ParseResponseAPDU parses raw bytes received from the card into a ResponseAPDU.
// The input must contain at least 2 bytes (SW1, SW2).
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("response too short: length %d", len(raw))
	}

	indexSW1 := len(raw) - 2

	return &ResponseAPDU{
		Data:   raw[:indexSW1],
		Status: NewStatusWord(raw[indexSW1], raw[indexSW1+1]),
	}, nil
}

// Bytes re-encodes the response as Data || SW1 || SW2.
func (r *ResponseAPDU) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	return append(out, r.Status.SW1(), r.Status.SW2())
}

// String returns a readable representation of the response.
func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.Status.Verbose())
}
