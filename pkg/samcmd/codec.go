package samcmd

import (
	"github.com/pkg/errors"

	"github.com/gregLibert/calypso-sam/pkg/iso7816"
	"github.com/gregLibert/calypso-sam/pkg/sam"
)

// Encoded is the transportable form of a finalized command: its kind and the
// variable part of its APDU. The class byte is not carried: it depends on the SAM
// that eventually executes the command.
type Encoded struct {
	Kind Kind
	P1   byte
	P2   byte
	Data []byte
}

// Encode captures a finalized command.
func Encode(cmd Command) (Encoded, error) {
	if cmd.RequiresFinalization() {
		return Encoded{}, errors.Errorf("%s is not finalized", cmd.Kind())
	}
	if _, ok := decoders[cmd.Kind()]; !ok {
		return Encoded{}, errors.Errorf("%s cannot be carried in a batch", cmd.Kind())
	}
	apdu := cmd.APDU()
	return Encoded{
		Kind: cmd.Kind(),
		P1:   apdu.P1,
		P2:   apdu.P2,
		Data: append([]byte(nil), apdu.Data...),
	}, nil
}

type decoder func(ctx Context, e Encoded) (Command, error)

// decoders lists every kind a batch may carry. Anything else is rejected, whatever
// its tag says.
var decoders = map[Kind]decoder{
	KindWriteCeilings: decodeWriteCeilings,
	KindWriteKey:      decodeWriteKey,
}

// Decode rebuilds a finalized command bound to ctx.
func Decode(ctx Context, e Encoded) (Command, error) {
	dec, ok := decoders[e.Kind]
	if !ok {
		return nil, errors.Errorf("command kind %s not allowed in a batch", e.Kind)
	}
	cmd, err := dec(ctx, e)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", e.Kind)
	}
	return cmd, nil
}

func decodeWriteCeilings(ctx Context, e Encoded) (Command, error) {
	if e.P1 != 0x00 || e.P2 < 0xB1 || e.P2 >= 0xB1+sam.NumRecords {
		return nil, errors.Errorf("invalid P1 P2 %02X %02X", e.P1, e.P2)
	}
	if len(e.Data) != CipheredDataLength {
		return nil, errors.Errorf("invalid data length %d", len(e.Data))
	}
	c := &WriteCeilings{
		base:      newBase(KindWriteCeilings, ctx, iso7816.INS_WRITE_CEILINGS, e.P1, e.P2, append([]byte(nil), e.Data...), 0),
		record:    int(e.P2 - 0xB1),
		finalized: true,
	}
	c.extract = c.store
	return c, nil
}

func decodeWriteKey(ctx Context, e Encoded) (Command, error) {
	switch {
	case e.P1 == 0x00 && sam.KeyRole(e.P2).Valid():
	case e.P1 >= 1 && e.P1 <= 126 && e.P2 == 0x00:
	default:
		return nil, errors.Errorf("invalid P1 P2 %02X %02X", e.P1, e.P2)
	}
	if len(e.Data) != CipheredDataLength {
		return nil, errors.Errorf("invalid data length %d", len(e.Data))
	}
	return &WriteKey{
		base:      newBase(KindWriteKey, ctx, iso7816.INS_WRITE_KEY, e.P1, e.P2, append([]byte(nil), e.Data...), 0),
		finalized: true,
	}, nil
}
