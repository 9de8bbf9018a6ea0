package iso7816

import (
	"fmt"

	"github.com/gregLibert/calypso-sam/pkg/bits"
)

// Class Byte (CLA) Structure according to ISO/IEC 7816-4.
//
// Bit 8: Proprietary (1) or Interindustry (0).
// Bit 7: Type of Interindustry (0=First, 1=Further).
// Bit 5: Command Chaining (0=Last/Only, 1=More follow).
//
// 1. First Interindustry Class (00xx xxxx):
//    - Bits 4-3: Secure Messaging (2 bits, 4 states).
//    - Bits 2-1: Logical Channel number (0-3).
//
// 2. Further Interindustry Class (01xx xxxx):
//    - Bit 6: Secure Messaging (1 bit: No SM or SM active).
//    - Bits 4-1: Logical Channel number minus 4 (encoding 0-15 for channels 4-19).
//
// Calypso SAMs only answer proprietary classes: 0x80 for the C1 family, 0x94 for the
// legacy S1 family. The raw byte is then passed through untouched.

// SecureMessaging defines the security level applied to the APDU.
type SecureMessaging int

const (
	SMNone         SecureMessaging = 0
	SMProprietary  SecureMessaging = 1
	SMHeaderNoProc SecureMessaging = 2
	SMHeaderAuth   SecureMessaging = 3
)

// Class represents the parsed ISO 7816-4 Class byte (CLA).
type Class struct {
	Raw             byte
	IsProprietary   bool
	IsChained       bool
	SecureMessaging SecureMessaging
	Channel         uint8 // Logical channel number (0-19)
}

// Well-known proprietary classes.
var (
	ClassISO       = Class{Raw: 0x00}
	ClassSAMC1     = Class{Raw: 0x80, IsProprietary: true}
	ClassSAMLegacy = Class{Raw: 0x94, IsProprietary: true}
)

// NewClass creates a Class object by decoding a raw CLA byte.
func NewClass(cla byte) (Class, error) {
	if cla == 0xFF {
		return Class{}, fmt.Errorf("invalid CLA value: 0xFF is reserved")
	}

	c := Class{Raw: cla}

	if bits.IsSet(cla, 8) {
		c.IsProprietary = true
		return c, nil
	}

	c.IsChained = bits.IsSet(cla, 5)

	if !bits.IsSet(cla, 7) {
		c.SecureMessaging = SecureMessaging(bits.GetRange(cla, 4, 3))
		c.Channel = bits.GetRange(cla, 2, 1)
	} else {
		if bits.IsSet(cla, 6) {
			c.SecureMessaging = SMHeaderNoProc
		}
		c.Channel = bits.GetRange(cla, 4, 1) + 4
	}

	return c, nil
}

// MustClass is NewClass for compile-time constants; it panics on 0xFF.
func MustClass(cla byte) Class {
	c, err := NewClass(cla)
	if err != nil {
		panic(err)
	}
	return c
}

// Encode converts the Class object back to its byte representation.
func (c *Class) Encode() (byte, error) {
	if c.IsProprietary {
		return c.Raw, nil
	}
	if c.Channel > 19 {
		return 0, fmt.Errorf("channel %d out of range (max 19)", c.Channel)
	}

	var res byte

	if c.Channel <= 3 {
		if c.IsChained {
			res = bits.Set(res, 5)
		}
		res |= byte(c.SecureMessaging) << 2
		res |= c.Channel
		return res, nil
	}

	res = bits.Set(res, 7)
	if c.IsChained {
		res = bits.Set(res, 5)
	}
	if c.SecureMessaging != SMNone {
		res = bits.Set(res, 6)
	}
	res |= c.Channel - 4

	return res, nil
}

// Verbose returns a human-readable description of the CLA byte configuration.
func (c Class) Verbose() string {
	if c.IsProprietary {
		return fmt.Sprintf("Class: Proprietary (0x%02X)", c.Raw)
	}

	chaining := "Last or only command"
	if c.IsChained {
		chaining = "More commands follow (Chaining)"
	}

	return fmt.Sprintf("Class: Interindustry (0x%02X) | Chaining: %s | SM: %d | Logical Channel: %d",
		c.Raw, chaining, c.SecureMessaging, c.Channel)
}
