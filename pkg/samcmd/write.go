package samcmd

import (
	"github.com/pkg/errors"

	"github.com/gregLibert/calypso-sam/pkg/bits"
	"github.com/gregLibert/calypso-sam/pkg/iso7816"
	"github.com/gregLibert/calypso-sam/pkg/sam"
)

// unchangedCeiling marks a ceiling slot the write must leave as is.
const unchangedCeiling = bits.Uint24Max

// WriteCeilings writes a ceiling record of a target SAM. Several counters of the same
// record are written by the same command.
type WriteCeilings struct {
	base
	source sam.Target
	record int

	ceilings     [sam.CountersPerRecord]*uint32
	freeCounting [sam.CountersPerRecord]*bool
	finalized    bool
}

// NewWriteCeilings prepares an empty write of record. The challenge and the
// personalization KVC are taken from source at finalization.
func NewWriteCeilings(ctx Context, source sam.Target, record int) (*WriteCeilings, error) {
	if record < 0 || record >= sam.NumRecords {
		return nil, errors.Wrapf(sam.ErrUnknownCounter, "record %d out of range", record)
	}
	c := &WriteCeilings{
		base:   newBase(KindWriteCeilings, ctx, iso7816.INS_WRITE_CEILINGS, 0x00, 0xB1+byte(record), nil, 0),
		source: source,
		record: record,
	}
	c.extract = c.store
	return c, nil
}

func (c *WriteCeilings) Record() int { return c.record }

// SetCeiling schedules the ceiling of counter, which must belong to the record.
func (c *WriteCeilings) SetCeiling(counter int, ceiling uint32) error {
	return c.set(counter, ceiling, nil)
}

// SetConfiguration schedules the ceiling and the free counting flag of counter.
func (c *WriteCeilings) SetConfiguration(counter int, ceiling uint32, freeCounting bool) error {
	return c.set(counter, ceiling, &freeCounting)
}

func (c *WriteCeilings) set(counter int, ceiling uint32, freeCounting *bool) error {
	if c.finalized {
		return errors.New("write ceilings: already finalized")
	}
	record, err := sam.RecordOf(counter)
	if err != nil {
		return err
	}
	if record != c.record {
		return errors.Errorf("counter %d is not in record %d", counter, c.record)
	}
	if ceiling >= unchangedCeiling {
		return errors.Errorf("ceiling 0x%X of counter %d out of range", ceiling, counter)
	}

	slot := sam.SlotOf(counter)
	c.ceilings[slot] = &ceiling
	if freeCounting != nil {
		c.freeCounting[slot] = freeCounting
	}
	return nil
}

// Plaintext is the 30-byte record ciphered by the control SAM: 9 ceilings
// (FFFFFF for unchanged slots) and the free counting mask.
//
// Slots without an explicit flag keep the flag known in the target state. Counter 0
// never takes part in free counting: its bit stays cleared even when configured.
func (c *WriteCeilings) Plaintext() []byte {
	out := make([]byte, 0, ceilingRecordLength)
	flags := make([]bool, sam.CountersPerRecord)

	for slot := 0; slot < sam.CountersPerRecord; slot++ {
		ceiling := uint32(unchangedCeiling)
		if c.ceilings[slot] != nil {
			ceiling = *c.ceilings[slot]
		}
		out = bits.AppendUint24(out, ceiling)

		n := sam.CounterAt(c.record, slot)
		switch {
		case c.freeCounting[slot] != nil:
			flags[slot] = *c.freeCounting[slot]
		case c.ctx.Target != nil:
			flags[slot] = c.ctx.Target.FreeCounting(n)
		}
	}

	if c.record == 0 {
		flags[0] = false
	}
	return append(out, bits.Mask24(flags)...)
}

func (c *WriteCeilings) RequiresFinalization() bool { return !c.finalized }

// Finalize ciphers the record on the control SAM.
func (c *WriteCeilings) Finalize() error {
	if c.finalized {
		return errors.Wrapf(ErrNotFinalizable, "%s", c.kind)
	}
	kvc, err := c.source.KVC(sam.RolePersonalization)
	if err != nil {
		return err
	}
	cipher, err := NewDataCipher(c.ctx.controlContext(), byte(sam.RolePersonalization), kvc, c.Plaintext())
	if err != nil {
		return err
	}
	if err := runOnControl(c.ctx, c.source, sam.RolePersonalization, cipher); err != nil {
		return err
	}
	c.apdu.Data = cipher.Output()
	c.finalized = true
	return nil
}

func (c *WriteCeilings) store([]byte) error {
	if c.ctx.Target == nil {
		return nil
	}
	for slot := 0; slot < sam.CountersPerRecord; slot++ {
		n := sam.CounterAt(c.record, slot)
		if c.ceilings[slot] != nil {
			if err := c.ctx.Target.SetCeiling(n, *c.ceilings[slot]); err != nil {
				return err
			}
		}
		if c.freeCounting[slot] != nil {
			if err := c.ctx.Target.SetFreeCounting(n, *c.freeCounting[slot] && n != 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteKey loads a key exported by the control SAM into a target SAM. System keys
// are addressed by KIF, work keys by record number.
type WriteKey struct {
	base
	source sam.Target

	kif, kvc  byte
	params    []byte
	system    bool
	finalized bool
}

// NewWriteSystemKey prepares the transfer of the control SAM key (role, kvc) to the
// system key slot of the same role.
func NewWriteSystemKey(ctx Context, source sam.Target, role sam.KeyRole, kvc byte, params []byte) (*WriteKey, error) {
	if !role.Valid() {
		return nil, errors.Errorf("KIF 0x%02X is not a system key", byte(role))
	}
	return newWriteKey(ctx, source, 0x00, byte(role), byte(role), kvc, params, true)
}

// NewWriteWorkKey prepares the transfer of the control SAM key (kif, kvc) to the work
// key record of the target SAM.
func NewWriteWorkKey(ctx Context, source sam.Target, kif, kvc byte, params []byte, record int) (*WriteKey, error) {
	if record < 1 || record > 126 {
		return nil, errors.Errorf("work key record %d out of range", record)
	}
	return newWriteKey(ctx, source, byte(record), 0x00, kif, kvc, params, false)
}

func newWriteKey(ctx Context, source sam.Target, p1, p2, kif, kvc byte, params []byte, system bool) (*WriteKey, error) {
	if len(params) > 10 {
		return nil, errors.Errorf("write key: at most 10 parameters, got %d", len(params))
	}
	c := &WriteKey{
		base:   newBase(KindWriteKey, ctx, iso7816.INS_WRITE_KEY, p1, p2, nil, 0),
		source: source,
		kif:    kif,
		kvc:    kvc,
		params: append([]byte(nil), params...),
		system: system,
	}
	c.extract = c.store
	return c, nil
}

func (c *WriteKey) RequiresFinalization() bool { return !c.finalized }

// Finalize has the control SAM export the key ciphered under the target
// key-management key.
func (c *WriteKey) Finalize() error {
	if c.finalized {
		return errors.Wrapf(ErrNotFinalizable, "%s", c.kind)
	}
	kvc, err := c.source.KVC(sam.RoleKeyManagement)
	if err != nil {
		return err
	}
	gen, err := NewGenerateKey(c.ctx.controlContext(), byte(sam.RoleKeyManagement), kvc, c.kif, c.kvc, c.params)
	if err != nil {
		return err
	}
	if err := runOnControl(c.ctx, c.source, sam.RoleKeyManagement, gen); err != nil {
		return err
	}
	c.apdu.Data = gen.Output()
	c.finalized = true
	return nil
}

func (c *WriteKey) store([]byte) error {
	if c.ctx.Target == nil || !c.system {
		return nil
	}
	if p, ok := c.ctx.Target.KeyParameter(sam.KeyRole(c.kif)); ok {
		p.KVC = c.kvc
		c.ctx.Target.SetKeyParameter(p)
	}
	return nil
}

// runOnControl draws the target challenge for role and runs
// {SELECT DIVERSIFIER, GIVE RANDOM, cipher} on the control SAM.
func runOnControl(ctx Context, target sam.Target, role sam.KeyRole, cipher Command) error {
	if ctx.Control == nil || ctx.ControlReader == nil {
		return ErrNoControlSam
	}

	challenge, err := target.NextChallenge(role)
	if err != nil {
		return errors.Wrapf(err, "challenge for %s", role)
	}

	cc := ctx.controlContext()
	sel, err := NewSelectDiversifier(cc, target.SerialNumber())
	if err != nil {
		return err
	}

	exec := NewExecutor(ctx.ControlReader, WithLogger(ctx.Log.With().Str("sam", "control").Logger()))
	if err := exec.Execute([]Command{sel, NewGiveRandom(cc, challenge), cipher}); err != nil {
		return errors.Wrap(err, "control SAM")
	}
	return nil
}
