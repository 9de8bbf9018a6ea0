package transaction

import (
	"github.com/pkg/errors"

	"github.com/gregLibert/calypso-sam/pkg/bits"
	"github.com/gregLibert/calypso-sam/pkg/reader"
	"github.com/gregLibert/calypso-sam/pkg/sam"
	"github.com/gregLibert/calypso-sam/pkg/samcmd"
)

// SecureWrite is a Direct transaction that can also write protected records of the
// target SAM. Each write is ciphered by the control SAM during ProcessCommands, from
// a challenge the target SAM will recompute.
type SecureWrite struct {
	Direct
}

func NewSecureWrite(target *sam.State, r reader.Reader, control *sam.State, controlReader reader.Reader, opts ...Option) *SecureWrite {
	o := newOptions(opts)
	ctx := samcmd.Context{Target: target, Control: control, ControlReader: controlReader, Log: o.log}
	return &SecureWrite{Direct: Direct{live: newLive(target, r, ctx, o)}}
}

// PrepareWriteCounterCeiling schedules the ceiling of counter. Ceilings of the same
// record share one WRITE CEILINGS.
func (s *SecureWrite) PrepareWriteCounterCeiling(counter int, ceiling uint32) error {
	if err := checkCeiling(counter, ceiling); err != nil {
		return err
	}
	w, err := s.ceilingWrite(counter, s.newCeilingWrite)
	if err != nil {
		return err
	}
	return w.SetCeiling(counter, ceiling)
}

// PrepareWriteCounterConfiguration schedules the ceiling and the free counting flag
// of counter.
func (s *SecureWrite) PrepareWriteCounterConfiguration(counter int, ceiling uint32, freeCounting bool) error {
	if err := checkCeiling(counter, ceiling); err != nil {
		return err
	}
	w, err := s.ceilingWrite(counter, s.newCeilingWrite)
	if err != nil {
		return err
	}
	return w.SetConfiguration(counter, ceiling, freeCounting)
}

// PrepareTransferSystemKey schedules the transfer of the control SAM key (role, kvc)
// into the target system key of the same role.
func (s *SecureWrite) PrepareTransferSystemKey(role sam.KeyRole, kvc byte, params []byte) error {
	w, err := samcmd.NewWriteSystemKey(s.ctx, s.target, role, kvc, params)
	if err != nil {
		return err
	}
	if err := s.prepareChallenge(sam.RoleKeyManagement); err != nil {
		return err
	}
	s.prepare(w)
	return nil
}

// PrepareTransferWorkKey schedules the transfer of the control SAM key (kif, kvc)
// into the target work key record.
func (s *SecureWrite) PrepareTransferWorkKey(kif, kvc byte, params []byte, record int) error {
	w, err := samcmd.NewWriteWorkKey(s.ctx, s.target, kif, kvc, params, record)
	if err != nil {
		return err
	}
	if err := s.prepareChallenge(sam.RoleKeyManagement); err != nil {
		return err
	}
	s.prepare(w)
	return nil
}

func (s *SecureWrite) newCeilingWrite(record int) (*samcmd.WriteCeilings, error) {
	w, err := samcmd.NewWriteCeilings(s.ctx, s.target, record)
	if err != nil {
		return nil, err
	}
	if err := s.prepareChallenge(sam.RolePersonalization); err != nil {
		return nil, err
	}
	return w, nil
}

// prepareChallenge schedules what the next write under role needs to derive its
// challenge: the key parameters when unknown, then either the counter records
// (static mode) or a GET CHALLENGE (dynamic mode).
func (s *SecureWrite) prepareChallenge(role sam.KeyRole) error {
	p, known := s.target.KeyParameter(role)
	if !known {
		if err := s.PrepareReadSystemKeyParameters(role); err != nil {
			return err
		}
	}

	if s.target.IsDynamic() {
		s.prepare(samcmd.NewGetChallenge(s.ctx, samcmd.ChallengeLength))
		return nil
	}
	if known {
		return s.PrepareReadEventCounter(p.CounterNumber())
	}
	return s.PrepareReadAllEventCounters()
}

func checkCeiling(counter int, ceiling uint32) error {
	if ceiling >= bits.Uint24Max {
		return errors.Errorf("ceiling 0x%X of counter %d out of range", ceiling, counter)
	}
	return nil
}
