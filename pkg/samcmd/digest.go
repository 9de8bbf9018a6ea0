package samcmd

import (
	"github.com/pkg/errors"

	"github.com/gregLibert/calypso-sam/pkg/iso7816"
)

// DigestInit opens the SAM side of a secure session with a work key and the
// card's open session data.
type DigestInit struct {
	base
}

func NewDigestInit(ctx Context, extended bool, kif, kvc byte, openData []byte) (*DigestInit, error) {
	if len(openData) == 0 {
		return nil, errors.New("digest init: open session data is empty")
	}
	p1 := byte(0x00)
	if extended {
		p1 = 0x80
	}
	data := append([]byte{kif, kvc}, openData...)
	return &DigestInit{base: newBase(KindDigestInit, ctx, iso7816.INS_DIGEST_INIT, p1, 0xFF, data, 0)}, nil
}

// DigestUpdate feeds one card APDU to the session digest. With encryption active
// the SAM returns the enciphered (or deciphered) bytes.
type DigestUpdate struct {
	base
}

func NewDigestUpdate(ctx Context, encrypted bool, data []byte) (*DigestUpdate, error) {
	if len(data) == 0 || len(data) > iso7816.MaxShortLc {
		return nil, errors.Errorf("digest update: data length %d out of range", len(data))
	}
	p2, ne := byte(0x00), 0
	if encrypted {
		p2, ne = 0x80, iso7816.MaxShortLe
	}
	c := &DigestUpdate{base: newBase(KindDigestUpdate, ctx, iso7816.INS_DIGEST_UPDATE, 0x00, p2, data, ne)}
	c.expected = 0
	return c, nil
}

// DigestUpdateMultiple feeds several packed [length][bytes] entries at once.
type DigestUpdateMultiple struct {
	base
}

func NewDigestUpdateMultiple(ctx Context, packed []byte) (*DigestUpdateMultiple, error) {
	if len(packed) == 0 || len(packed) > iso7816.MaxShortLc {
		return nil, errors.Errorf("digest update multiple: data length %d out of range", len(packed))
	}
	return &DigestUpdateMultiple{base: newBase(KindDigestUpdateMultiple, ctx, iso7816.INS_DIGEST_UPDATE, 0x80, 0x00, packed, 0)}, nil
}

// UnpackDigestEntries splits DIGEST UPDATE MULTIPLE data into its entries.
func UnpackDigestEntries(packed []byte) ([][]byte, error) {
	var entries [][]byte
	for len(packed) > 0 {
		n := int(packed[0])
		if n == 0 || len(packed) < 1+n {
			return nil, errors.Errorf("malformed digest entry at length byte %d", n)
		}
		entries = append(entries, packed[1:1+n])
		packed = packed[1+n:]
	}
	return entries, nil
}

// DigestClose ends the session and returns the terminal session MAC.
type DigestClose struct {
	base
}

func NewDigestClose(ctx Context, macLength int) (*DigestClose, error) {
	if macLength != 4 && macLength != 8 {
		return nil, errors.Errorf("digest close: MAC length must be 4 or 8, got %d", macLength)
	}
	return &DigestClose{base: newBase(KindDigestClose, ctx, iso7816.INS_DIGEST_CLOSE, 0x00, 0x00, nil, macLength)}, nil
}

// DigestAuthenticate verifies the card session MAC.
type DigestAuthenticate struct {
	base
}

func NewDigestAuthenticate(ctx Context, mac []byte) (*DigestAuthenticate, error) {
	if len(mac) != 4 && len(mac) != 8 {
		return nil, errors.Errorf("digest authenticate: MAC length must be 4 or 8, got %d", len(mac))
	}
	return &DigestAuthenticate{base: newBase(KindDigestAuthenticate, ctx, iso7816.INS_DIGEST_AUTHENTICATE, 0x00, 0x00, mac, 0)}, nil
}

// TerminalSignatureLength is the size of the signature returned by
// DIGEST INTERNAL AUTHENTICATE.
const TerminalSignatureLength = 8

// DigestInternalAuthenticate computes the terminal signature of an extended mode
// session without closing it.
type DigestInternalAuthenticate struct {
	base
}

func NewDigestInternalAuthenticate(ctx Context) *DigestInternalAuthenticate {
	return &DigestInternalAuthenticate{base: newBase(KindDigestInternalAuthenticate, ctx,
		iso7816.INS_DIGEST_INTERNAL_AUTHENTICATE, 0x02, 0xE0, nil, TerminalSignatureLength)}
}
