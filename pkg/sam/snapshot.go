package sam

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/gregLibert/calypso-sam/pkg/bits"
	"github.com/gregLibert/calypso-sam/pkg/tlv"
)

// SerialLength is the size of a SAM serial number.
const SerialLength = 4

// Snapshot is the offline image of a target SAM. Counter values are advanced
// locally each time a challenge is derived, so commands prepared in sequence match
// what the SAM will compute when they are finally executed.
type Snapshot struct {
	Serial         []byte
	Dynamic        bool
	KVCs           map[KeyRole]byte
	CounterNumbers map[KeyRole]int
	Counters       map[int]uint32
}

// NewSnapshot returns an empty snapshot for a SAM.
func NewSnapshot(serial []byte, dynamic bool) *Snapshot {
	return &Snapshot{
		Serial:         append([]byte(nil), serial...),
		Dynamic:        dynamic,
		KVCs:           make(map[KeyRole]byte),
		CounterNumbers: make(map[KeyRole]int),
		Counters:       make(map[int]uint32),
	}
}

// SerialNumber implements Target.
func (s *Snapshot) SerialNumber() []byte { return s.Serial }

// KVC implements Target.
func (s *Snapshot) KVC(role KeyRole) (byte, error) {
	kvc, ok := s.KVCs[role]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownKey, "no KVC for %s", role)
	}
	return kvc, nil
}

// NextChallenge implements Target. A dynamic-mode SAM cannot be simulated offline.
func (s *Snapshot) NextChallenge(role KeyRole) ([]byte, error) {
	if s.Dynamic {
		return nil, errors.Wrap(ErrNoChallenge, "dynamic mode SAM")
	}
	n, ok := s.CounterNumbers[role]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKey, "no counter number for %s", role)
	}
	v, ok := s.Counters[n]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCounter, "counter %d of %s", n, role)
	}
	if v >= MaxCounterValue {
		return nil, errors.Errorf("counter %d exhausted", n)
	}
	v++
	s.Counters[n] = v
	return Challenge(v), nil
}

// snapshotRecord is the BER-TLV layout of a Snapshot.
type snapshotRecord struct {
	Serial         []byte   `tlv:"C0"`
	Dynamic        []byte   `tlv:"C1"`
	KVCs           [][]byte `tlv:"C2" fmt:"role,kvc"`
	CounterNumbers [][]byte `tlv:"C3" fmt:"role,counter"`
	Counters       [][]byte `tlv:"C4" fmt:"counter,value"`
}

// MarshalBinary encodes the snapshot. Map entries are sorted by key so equal
// snapshots always encode to the same bytes.
func (s *Snapshot) MarshalBinary() ([]byte, error) {
	if len(s.Serial) != SerialLength {
		return nil, errors.Errorf("serial number must be %d bytes, got %d", SerialLength, len(s.Serial))
	}

	rec := snapshotRecord{
		Serial:  s.Serial,
		Dynamic: []byte{0x00},
	}
	if s.Dynamic {
		rec.Dynamic[0] = 0x01
	}

	for _, role := range sortedRoles(s.KVCs) {
		rec.KVCs = append(rec.KVCs, []byte{byte(role), s.KVCs[role]})
	}

	numbers := make([]KeyRole, 0, len(s.CounterNumbers))
	for role := range s.CounterNumbers {
		numbers = append(numbers, role)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	for _, role := range numbers {
		n := s.CounterNumbers[role]
		if _, err := RecordOf(n); err != nil {
			return nil, err
		}
		rec.CounterNumbers = append(rec.CounterNumbers, []byte{byte(role), byte(n)})
	}

	counters := make([]int, 0, len(s.Counters))
	for n := range s.Counters {
		counters = append(counters, n)
	}
	sort.Ints(counters)
	for _, n := range counters {
		if err := checkCounter(n, s.Counters[n]); err != nil {
			return nil, err
		}
		rec.Counters = append(rec.Counters, bits.AppendUint24([]byte{byte(n)}, s.Counters[n]))
	}

	return tlv.Marshal(rec)
}

// UnmarshalSnapshot decodes the output of MarshalBinary. Unknown tags, duplicate
// entries and malformed values are rejected.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var rec snapshotRecord
	if err := tlv.UnmarshalStrict(data, &rec); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}

	if len(rec.Serial) != SerialLength {
		return nil, errors.Errorf("serial number must be %d bytes, got %d", SerialLength, len(rec.Serial))
	}
	if len(rec.Dynamic) != 1 || rec.Dynamic[0] > 1 {
		return nil, errors.Errorf("invalid dynamic mode flag % X", rec.Dynamic)
	}

	snap := NewSnapshot(rec.Serial, rec.Dynamic[0] == 1)

	for _, kv := range rec.KVCs {
		if len(kv) != 2 || !KeyRole(kv[0]).Valid() {
			return nil, errors.Errorf("invalid KVC entry % X", kv)
		}
		if _, dup := snap.KVCs[KeyRole(kv[0])]; dup {
			return nil, errors.Errorf("duplicate KVC entry for %s", KeyRole(kv[0]))
		}
		snap.KVCs[KeyRole(kv[0])] = kv[1]
	}

	for _, kv := range rec.CounterNumbers {
		if len(kv) != 2 || !KeyRole(kv[0]).Valid() {
			return nil, errors.Errorf("invalid counter number entry % X", kv)
		}
		if _, err := RecordOf(int(kv[1])); err != nil {
			return nil, err
		}
		if _, dup := snap.CounterNumbers[KeyRole(kv[0])]; dup {
			return nil, errors.Errorf("duplicate counter number entry for %s", KeyRole(kv[0]))
		}
		snap.CounterNumbers[KeyRole(kv[0])] = int(kv[1])
	}

	for _, kv := range rec.Counters {
		if len(kv) != 4 {
			return nil, errors.Errorf("invalid counter entry % X", kv)
		}
		n := int(kv[0])
		if _, err := RecordOf(n); err != nil {
			return nil, err
		}
		if _, dup := snap.Counters[n]; dup {
			return nil, errors.Errorf("duplicate counter entry %d", n)
		}
		snap.Counters[n] = bits.Uint24(kv[1:])
	}

	return snap, nil
}

// Describe renders the encoded snapshot field by field.
func (s *Snapshot) Describe() string {
	raw, err := s.MarshalBinary()
	if err != nil {
		return "invalid snapshot: " + err.Error()
	}
	var rec snapshotRecord
	if err := tlv.Unmarshal(raw, &rec); err != nil {
		return "invalid snapshot: " + err.Error()
	}
	var sb strings.Builder
	sb.WriteString("Target SAM Snapshot")
	tlv.WriteStructFields(&sb, "Snapshot", rec)
	return sb.String()
}

func sortedRoles(m map[KeyRole]byte) []KeyRole {
	roles := make([]KeyRole, 0, len(m))
	for role := range m {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
