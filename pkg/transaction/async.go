package transaction

import (
	"bytes"
	"maps"

	"github.com/pkg/errors"

	"github.com/gregLibert/calypso-sam/pkg/reader"
	"github.com/gregLibert/calypso-sam/pkg/sam"
	"github.com/gregLibert/calypso-sam/pkg/samcmd"
)

// AsyncCreator prepares writes for a target SAM that is not reachable, from a
// snapshot of its state. The control SAM is live: Export ciphers every write and
// returns the batch to execute later with an AsyncExecutor.
//
// The snapshot counters advance with every exported write. Keep using the same
// snapshot for batches meant to be executed in sequence.
type AsyncCreator struct {
	base
	snapshot *sam.Snapshot
}

// NewAsyncCreator fails with ErrDynamicModeOffline when the snapshot is of a dynamic
// mode SAM: its challenges come from the SAM itself.
func NewAsyncCreator(snapshot *sam.Snapshot, control *sam.State, controlReader reader.Reader, opts ...Option) (*AsyncCreator, error) {
	if snapshot.Dynamic {
		return nil, errors.Wrapf(ErrDynamicModeOffline, "SAM %X", snapshot.Serial)
	}
	o := newOptions(opts)
	ctx := samcmd.Context{Control: control, ControlReader: controlReader, Log: o.log}
	return &AsyncCreator{base: newBase(ctx, o.log), snapshot: snapshot}, nil
}

func (a *AsyncCreator) PrepareWriteCounterCeiling(counter int, ceiling uint32) error {
	if err := checkCeiling(counter, ceiling); err != nil {
		return err
	}
	w, err := a.ceilingWrite(counter, a.newCeilingWrite)
	if err != nil {
		return err
	}
	return w.SetCeiling(counter, ceiling)
}

// PrepareWriteCounterConfiguration schedules the ceiling and the free counting flag
// of counter. Free counting flags of the other counters of the record are cleared,
// the snapshot does not carry them.
func (a *AsyncCreator) PrepareWriteCounterConfiguration(counter int, ceiling uint32, freeCounting bool) error {
	if err := checkCeiling(counter, ceiling); err != nil {
		return err
	}
	w, err := a.ceilingWrite(counter, a.newCeilingWrite)
	if err != nil {
		return err
	}
	return w.SetConfiguration(counter, ceiling, freeCounting)
}

func (a *AsyncCreator) PrepareTransferSystemKey(role sam.KeyRole, kvc byte, params []byte) error {
	w, err := samcmd.NewWriteSystemKey(a.ctx, a.snapshot, role, kvc, params)
	if err != nil {
		return err
	}
	a.prepare(w)
	return nil
}

func (a *AsyncCreator) PrepareTransferWorkKey(kif, kvc byte, params []byte, record int) error {
	w, err := samcmd.NewWriteWorkKey(a.ctx, a.snapshot, kif, kvc, params, record)
	if err != nil {
		return err
	}
	a.prepare(w)
	return nil
}

func (a *AsyncCreator) newCeilingWrite(record int) (*samcmd.WriteCeilings, error) {
	return samcmd.NewWriteCeilings(a.ctx, a.snapshot, record)
}

// Export finalizes the prepared commands in order, on the control SAM, and encodes
// them as a batch bound to the snapshot serial number. The prepared list is emptied
// even when the export fails. A failed export leaves the snapshot counters as they
// were: none of its writes will reach the target SAM.
func (a *AsyncCreator) Export() (raw []byte, err error) {
	cmds := a.take()
	if len(cmds) == 0 {
		return nil, errors.New("transaction: no command to export")
	}

	counters := maps.Clone(a.snapshot.Counters)
	defer func() {
		if err != nil {
			a.snapshot.Counters = counters
			a.log.Warn().Err(err).Hex("serial", a.snapshot.Serial).Msg("batch export failed, snapshot counters restored")
		}
	}()

	batch := Batch{Serial: a.snapshot.Serial}
	for i, cmd := range cmds {
		if cmd.RequiresFinalization() {
			if err := cmd.Finalize(); err != nil {
				return nil, errors.Wrapf(err, "finalize command %d (%s)", i, cmd.Kind())
			}
		}
		enc, err := samcmd.Encode(cmd)
		if err != nil {
			return nil, err
		}
		batch.Commands = append(batch.Commands, enc)
	}

	raw, err = batch.MarshalBinary()
	if err != nil {
		return nil, err
	}
	a.log.Info().Hex("serial", a.snapshot.Serial).Int("commands", len(batch.Commands)).Msg("batch exported")
	return raw, nil
}

// AsyncExecutor runs batches exported by an AsyncCreator on the live target SAM.
type AsyncExecutor struct {
	live
}

func NewAsyncExecutor(target *sam.State, r reader.Reader, opts ...Option) *AsyncExecutor {
	o := newOptions(opts)
	ctx := samcmd.Context{Target: target, Log: o.log}
	return &AsyncExecutor{live: newLive(target, r, ctx, o)}
}

// Execute decodes a batch, checks that it was prepared for the target SAM and runs
// it. Nothing is sent when the batch does not decode or belongs to another SAM.
func (a *AsyncExecutor) Execute(raw []byte) error {
	batch, err := UnmarshalBatch(raw)
	if err != nil {
		return err
	}
	if !bytes.Equal(batch.Serial, a.target.SerialNumber()) {
		return errors.Wrapf(ErrSerialMismatch, "batch for %X, target is %X", batch.Serial, a.target.SerialNumber())
	}

	cmds := make([]samcmd.Command, 0, len(batch.Commands))
	for i, enc := range batch.Commands {
		cmd, err := samcmd.Decode(a.ctx, enc)
		if err != nil {
			return errors.Wrapf(err, "batch command %d", i)
		}
		cmds = append(cmds, cmd)
	}
	return a.run(cmds...)
}
