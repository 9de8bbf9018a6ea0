package samcmd

import (
	"github.com/pkg/errors"

	"github.com/gregLibert/calypso-sam/pkg/bits"
	"github.com/gregLibert/calypso-sam/pkg/iso7816"
	"github.com/gregLibert/calypso-sam/pkg/sam"
)

const (
	// counterRecordLength is 9 counters of 3 bytes.
	counterRecordLength = sam.CountersPerRecord * 3
	// ceilingRecordLength adds the 3-byte free counting mask.
	ceilingRecordLength = counterRecordLength + 3
)

// ReadEventCounter reads one record of 9 event counters.
type ReadEventCounter struct {
	base
	record int
}

func NewReadEventCounter(ctx Context, record int) (*ReadEventCounter, error) {
	if record < 0 || record >= sam.NumRecords {
		return nil, errors.Wrapf(sam.ErrUnknownCounter, "record %d out of range", record)
	}
	c := &ReadEventCounter{
		base:   newBase(KindReadEventCounter, ctx, iso7816.INS_READ_EVENT_COUNTER, 0x00, 0xE1+byte(record), nil, counterRecordLength),
		record: record,
	}
	c.extract = func(data []byte) error {
		if ctx.Target == nil {
			return nil
		}
		for slot := 0; slot < sam.CountersPerRecord; slot++ {
			if err := ctx.Target.SetCounter(sam.CounterAt(record, slot), bits.Uint24(data[slot*3:])); err != nil {
				return err
			}
		}
		return nil
	}
	return c, nil
}

func (c *ReadEventCounter) Record() int { return c.record }

// ReadCeilings reads one record of 9 ceilings followed by the free counting mask.
type ReadCeilings struct {
	base
	record int
}

func NewReadCeilings(ctx Context, record int) (*ReadCeilings, error) {
	if record < 0 || record >= sam.NumRecords {
		return nil, errors.Wrapf(sam.ErrUnknownCounter, "record %d out of range", record)
	}
	c := &ReadCeilings{
		base:   newBase(KindReadCeilings, ctx, iso7816.INS_READ_CEILINGS, 0x00, 0xB1+byte(record), nil, ceilingRecordLength),
		record: record,
	}
	c.extract = func(data []byte) error {
		if ctx.Target == nil {
			return nil
		}
		free := bits.Flags24(data[counterRecordLength:], sam.CountersPerRecord)
		for slot := 0; slot < sam.CountersPerRecord; slot++ {
			n := sam.CounterAt(record, slot)
			if err := ctx.Target.SetCeiling(n, bits.Uint24(data[slot*3:])); err != nil {
				return err
			}
			if err := ctx.Target.SetFreeCounting(n, free[slot]); err != nil {
				return err
			}
		}
		return nil
	}
	return c, nil
}

func (c *ReadCeilings) Record() int { return c.record }

// ReadKeyParameters reads the parameters of a system key.
type ReadKeyParameters struct {
	base
	role sam.KeyRole
}

func NewReadKeyParameters(ctx Context, role sam.KeyRole) (*ReadKeyParameters, error) {
	if !role.Valid() {
		return nil, errors.Errorf("KIF 0x%02X is not a system key", byte(role))
	}
	c := &ReadKeyParameters{
		base: newBase(KindReadKeyParameters, ctx, iso7816.INS_READ_KEY_PARAMETERS, 0x00, 0xC0, []byte{byte(role)}, sam.KeyParameterLength),
		role: role,
	}
	c.extract = func(data []byte) error {
		p, err := sam.ParseKeyParameter(data)
		if err != nil {
			return err
		}
		if p.KIF != byte(role) {
			return &CommandError{
				Command:     KindReadKeyParameters,
				Status:      iso7816.SW_NO_ERROR,
				Kind:        IncorrectInputData,
				Description: "KIF of the output does not match the requested key",
			}
		}
		if ctx.Target != nil {
			ctx.Target.SetKeyParameter(p)
		}
		return nil
	}
	return c, nil
}

func (c *ReadKeyParameters) Role() sam.KeyRole { return c.role }
