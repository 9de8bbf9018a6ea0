package transaction

import (
	"fmt"

	"github.com/gregLibert/calypso-sam/pkg/digest"
	"github.com/gregLibert/calypso-sam/pkg/reader"
	"github.com/gregLibert/calypso-sam/pkg/sam"
	"github.com/gregLibert/calypso-sam/pkg/samcmd"
)

// Direct runs commands against the target SAM only.
type Direct struct {
	live
}

func NewDirect(target *sam.State, r reader.Reader, opts ...Option) *Direct {
	o := newOptions(opts)
	ctx := samcmd.Context{Target: target, Log: o.log}
	return &Direct{live: newLive(target, r, ctx, o)}
}

// PrepareReadEventCounter schedules the read of the record holding counter.
func (d *Direct) PrepareReadEventCounter(counter int) error {
	record, err := sam.RecordOf(counter)
	if err != nil {
		return err
	}
	return d.prepareReadCounterRecord(record)
}

// PrepareReadAllEventCounters schedules the read of the 3 counter records.
func (d *Direct) PrepareReadAllEventCounters() error {
	for record := 0; record < sam.NumRecords; record++ {
		if err := d.prepareReadCounterRecord(record); err != nil {
			return err
		}
	}
	return nil
}

// PrepareReadCeiling schedules the read of the ceiling record holding counter.
func (d *Direct) PrepareReadCeiling(counter int) error {
	record, err := sam.RecordOf(counter)
	if err != nil {
		return err
	}
	return d.prepareReadCeilingRecord(record)
}

func (d *Direct) PrepareReadAllCeilings() error {
	for record := 0; record < sam.NumRecords; record++ {
		if err := d.prepareReadCeilingRecord(record); err != nil {
			return err
		}
	}
	return nil
}

// PrepareReadSystemKeyParameters schedules the read of a system key's parameters.
func (d *Direct) PrepareReadSystemKeyParameters(role sam.KeyRole) error {
	return d.once(fmt.Sprintf("key/%02X", byte(role)), func() (samcmd.Command, error) {
		c, err := samcmd.NewReadKeyParameters(d.ctx, role)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

func (d *Direct) prepareReadCounterRecord(record int) error {
	return d.once(fmt.Sprintf("counter/%d", record), func() (samcmd.Command, error) {
		c, err := samcmd.NewReadEventCounter(d.ctx, record)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

func (d *Direct) prepareReadCeilingRecord(record int) error {
	return d.once(fmt.Sprintf("ceiling/%d", record), func() (samcmd.Command, error) {
		c, err := samcmd.NewReadCeilings(d.ctx, record)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// GetChallenge processes the prepared commands followed by GET CHALLENGE and returns
// the SAM challenge, typically to open a card session.
func (d *Direct) GetChallenge() ([]byte, error) {
	if err := d.run(samcmd.NewGetChallenge(d.ctx, samcmd.ChallengeLength)); err != nil {
		return nil, err
	}
	challenge, ok := d.target.TakeChallenge()
	if !ok {
		return nil, sam.ErrNoChallenge
	}
	return challenge, nil
}

// CipherPin gives the card challenge to the SAM and returns the ciphered PIN block for
// a card PIN verification, or for a PIN change when newPin is not nil.
func (d *Direct) CipherPin(kif, kvc byte, cardChallenge, currentPin, newPin []byte) ([]byte, error) {
	pin, err := samcmd.NewCardCipherPin(d.ctx, kif, kvc, currentPin, newPin)
	if err != nil {
		return nil, err
	}
	if err := d.run(samcmd.NewGiveRandom(d.ctx, cardChallenge), pin); err != nil {
		return nil, err
	}
	return pin.Output(), nil
}

// ComputeSignature signs message with the key (kif, kvc). signed is false when the SAM
// answered that it did not sign the data.
func (d *Direct) ComputeSignature(kif, kvc byte, message []byte, length int) (signature []byte, signed bool, err error) {
	cmd, err := samcmd.NewPsoComputeSignature(d.ctx, kif, kvc, message, length)
	if err != nil {
		return nil, false, err
	}
	cmd.AllowUnsigned()
	if err := d.run(cmd); err != nil {
		return nil, false, err
	}
	return cmd.Output(), cmd.Signed(), nil
}

// VerifySignature checks a signature with the key (kif, kvc). An incorrect signature
// is reported as false; any other failure is an error.
func (d *Direct) VerifySignature(kif, kvc byte, message, signature []byte) (bool, error) {
	cmd, err := samcmd.NewPsoVerifySignature(d.ctx, kif, kvc, message, signature)
	if err != nil {
		return false, err
	}
	if err := d.run(cmd); err != nil {
		if samcmd.KindOfCommand(err, samcmd.KindPsoVerifySignature) == samcmd.SecurityData {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// NewDigestSession starts a card session digest on the target SAM. Its exchanges
// share the orchestrator trace.
func (d *Direct) NewDigestSession(opts ...digest.Option) *digest.Session {
	defaults := []digest.Option{digest.WithExecutor(d.exec), digest.WithLogger(d.log)}
	return digest.New(d.target, nil, append(defaults, opts...)...)
}
