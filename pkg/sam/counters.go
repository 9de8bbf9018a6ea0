package sam

import (
	"github.com/pkg/errors"

	"github.com/gregLibert/calypso-sam/pkg/bits"
)

const (
	// NumCounters is the number of event counters of a SAM.
	NumCounters = 27
	// CountersPerRecord is the number of counters held by one counter or ceiling record.
	CountersPerRecord = 9
	// NumRecords is the number of counter (and ceiling) records.
	NumRecords = NumCounters / CountersPerRecord
	// MaxCounterValue is the largest value a counter or ceiling can hold.
	MaxCounterValue = bits.Uint24Max
)

// ErrUnknownCounter is returned for a counter number out of range or a counter
// whose value has not been read yet.
var ErrUnknownCounter = errors.New("unknown counter")

var counterRecords = [NumCounters]int{
	0, 0, 0, 0, 0, 0, 0, 0, 0,
	1, 1, 1, 1, 1, 1, 1, 1, 1,
	2, 2, 2, 2, 2, 2, 2, 2, 2,
}

// RecordOf returns the record holding counter n.
func RecordOf(counter int) (int, error) {
	if counter < 0 || counter >= NumCounters {
		return 0, errors.Wrapf(ErrUnknownCounter, "counter %d out of range", counter)
	}
	return counterRecords[counter], nil
}

// SlotOf returns the position of counter n inside its record.
func SlotOf(counter int) int {
	return counter % CountersPerRecord
}

// CounterAt returns the counter number at slot of record.
func CounterAt(record, slot int) int {
	return record*CountersPerRecord + slot
}

// Challenge derives the static-mode challenge from a counter value: five zero bytes
// followed by the value on 3 bytes.
func Challenge(counterValue uint32) []byte {
	return bits.AppendUint24(make([]byte, 5), counterValue)
}
