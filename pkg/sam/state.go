package sam

import (
	"github.com/pkg/errors"
)

// ErrNoChallenge is returned when a dynamic-mode challenge is needed but none is pending.
var ErrNoChallenge = errors.New("no pending challenge")

// Target is what a secure write needs to know about the SAM it writes to. Both a live
// State and an offline Snapshot provide it.
type Target interface {
	SerialNumber() []byte
	KVC(role KeyRole) (byte, error)
	NextChallenge(role KeyRole) ([]byte, error)
}

// State is the in-memory image of one SAM. It is not safe for concurrent use: a
// physical SAM is driven by one goroutine at a time.
type State struct {
	serial  []byte
	product ProductType
	dynamic bool

	counters     map[int]uint32
	ceilings     map[int]uint32
	freeCounting map[int]bool
	keys         map[KeyRole]KeyParameter

	challenge   []byte
	diversifier []byte
}

// NewState creates the state of an identified SAM. In dynamic mode the challenges of
// secure writes are drawn from the SAM itself instead of derived from its counters.
func NewState(serial []byte, product ProductType, dynamic bool) *State {
	return &State{
		serial:       append([]byte(nil), serial...),
		product:      product,
		dynamic:      dynamic,
		counters:     make(map[int]uint32),
		ceilings:     make(map[int]uint32),
		freeCounting: make(map[int]bool),
		keys:         make(map[KeyRole]KeyParameter),
	}
}

func (s *State) SerialNumber() []byte { return s.serial }
func (s *State) Product() ProductType { return s.product }
func (s *State) IsDynamic() bool      { return s.dynamic }

// Counter returns the last known value of counter n.
func (s *State) Counter(n int) (uint32, bool) {
	v, ok := s.counters[n]
	return v, ok
}

func (s *State) SetCounter(n int, value uint32) error {
	if err := checkCounter(n, value); err != nil {
		return err
	}
	s.counters[n] = value
	return nil
}

// Ceiling returns the last known ceiling of counter n.
func (s *State) Ceiling(n int) (uint32, bool) {
	v, ok := s.ceilings[n]
	return v, ok
}

func (s *State) SetCeiling(n int, value uint32) error {
	if err := checkCounter(n, value); err != nil {
		return err
	}
	s.ceilings[n] = value
	return nil
}

// FreeCounting tells whether counter n may be incremented without a ceiling check.
func (s *State) FreeCounting(n int) bool {
	return s.freeCounting[n]
}

func (s *State) SetFreeCounting(n int, enabled bool) error {
	if _, err := RecordOf(n); err != nil {
		return err
	}
	s.freeCounting[n] = enabled
	return nil
}

// KeyParameter returns the parameters of a system key, if read.
func (s *State) KeyParameter(role KeyRole) (KeyParameter, bool) {
	p, ok := s.keys[role]
	return p, ok
}

// SetKeyParameter stores a system key parameter under the role given by its KIF.
func (s *State) SetKeyParameter(p KeyParameter) {
	s.keys[KeyRole(p.KIF)] = p
}

// KVC implements Target.
func (s *State) KVC(role KeyRole) (byte, error) {
	p, ok := s.keys[role]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownKey, "%s", role)
	}
	return p.KVC, nil
}

// SetChallenge records the challenge returned by GET CHALLENGE.
func (s *State) SetChallenge(c []byte) {
	s.challenge = append([]byte(nil), c...)
}

// TakeChallenge returns the pending challenge and clears it. A challenge is never
// handed out twice.
func (s *State) TakeChallenge() ([]byte, bool) {
	c := s.challenge
	s.challenge = nil
	return c, c != nil
}

// LastDiversifier is the diversifier of the last successful SELECT DIVERSIFIER.
func (s *State) LastDiversifier() []byte { return s.diversifier }

func (s *State) SetLastDiversifier(d []byte) {
	s.diversifier = append([]byte(nil), d...)
}

// NextChallenge implements Target. In static mode the counter associated with the
// role's key is incremented locally, as the SAM will do when the write is executed,
// and the challenge is derived from the new value. In dynamic mode the pending
// challenge is consumed.
func (s *State) NextChallenge(role KeyRole) ([]byte, error) {
	if s.dynamic {
		c, ok := s.TakeChallenge()
		if !ok {
			return nil, ErrNoChallenge
		}
		return c, nil
	}

	p, ok := s.keys[role]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKey, "%s", role)
	}
	n := p.CounterNumber()
	v, ok := s.counters[n]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCounter, "counter %d of %s not read", n, role)
	}
	if v >= MaxCounterValue {
		return nil, errors.Errorf("counter %d exhausted", n)
	}
	v++
	s.counters[n] = v
	return Challenge(v), nil
}

// Snapshot captures what an offline write needs for the given roles (all known
// roles when none is given).
func (s *State) Snapshot(roles ...KeyRole) (*Snapshot, error) {
	if len(roles) == 0 {
		for _, r := range Roles {
			if _, ok := s.keys[r]; ok {
				roles = append(roles, r)
			}
		}
	}

	snap := NewSnapshot(s.serial, s.dynamic)
	for _, role := range roles {
		p, ok := s.keys[role]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownKey, "%s", role)
		}
		snap.KVCs[role] = p.KVC
		snap.CounterNumbers[role] = p.CounterNumber()

		if v, ok := s.counters[p.CounterNumber()]; ok {
			snap.Counters[p.CounterNumber()] = v
		} else if !s.dynamic {
			return nil, errors.Wrapf(ErrUnknownCounter, "counter %d of %s not read", p.CounterNumber(), role)
		}
	}
	return snap, nil
}

func checkCounter(n int, value uint32) error {
	if _, err := RecordOf(n); err != nil {
		return err
	}
	if value > MaxCounterValue {
		return errors.Errorf("value 0x%X of counter %d exceeds 3 bytes", value, n)
	}
	return nil
}
