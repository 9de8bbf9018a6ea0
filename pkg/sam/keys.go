package sam

import (
	"fmt"

	"github.com/pkg/errors"
)

// KeyRole identifies a system key by its KIF.
type KeyRole byte

const (
	RolePersonalization KeyRole = 0xE1
	RoleKeyManagement   KeyRole = 0xFD
	RoleReloading       KeyRole = 0xE7
	RoleAuthentication  KeyRole = 0xFA
)

// Roles lists the system key roles in KIF order.
var Roles = []KeyRole{RolePersonalization, RoleReloading, RoleAuthentication, RoleKeyManagement}

var roleNames = map[KeyRole]string{
	RolePersonalization: "PERSONALIZATION",
	RoleKeyManagement:   "KEY_MANAGEMENT",
	RoleReloading:       "RELOADING",
	RoleAuthentication:  "AUTHENTICATION",
}

func (r KeyRole) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("KeyRole(0x%02X)", byte(r))
}

// Valid tells whether r is one of the four system key roles.
func (r KeyRole) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// KeyParameterLength is the size of a READ KEY PARAMETERS output.
const KeyParameterLength = 13

// counterParameter is the PAR byte holding the number of the event counter
// associated with a system key.
const counterParameter = 3

// ErrUnknownKey is returned when a key parameter or KVC has not been read yet.
var ErrUnknownKey = errors.New("unknown key parameters")

// KeyParameter is the output of READ KEY PARAMETERS: KIF, KVC, ALG and PAR1..PAR10.
type KeyParameter struct {
	KIF byte
	KVC byte
	ALG byte
	PAR [10]byte
}

// ParseKeyParameter decodes the 13-byte output of READ KEY PARAMETERS.
func ParseKeyParameter(data []byte) (KeyParameter, error) {
	if len(data) != KeyParameterLength {
		return KeyParameter{}, fmt.Errorf("key parameter must be %d bytes, got %d", KeyParameterLength, len(data))
	}
	p := KeyParameter{KIF: data[0], KVC: data[1], ALG: data[2]}
	copy(p.PAR[:], data[3:])
	return p, nil
}

// Bytes is the reverse of ParseKeyParameter.
func (p KeyParameter) Bytes() []byte {
	out := []byte{p.KIF, p.KVC, p.ALG}
	return append(out, p.PAR[:]...)
}

// CounterNumber returns the event counter associated with the key (PAR4).
func (p KeyParameter) CounterNumber() int {
	return int(p.PAR[counterParameter])
}
