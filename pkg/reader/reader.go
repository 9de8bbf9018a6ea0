// Package reader defines the boundary between the SAM protocol engine and the
// physical transport.
//
// A Reader takes an ordered list of raw command APDUs and returns the ordered list of
// raw response APDUs (data followed by SW1 SW2). With stopOnError set, the reader stops
// after the first response whose status word is an error, so fewer responses than
// requests may come back. A failing status word is never a transport error: transport
// errors wrap ErrReaderIO or ErrCardIO.
package reader

import (
	"github.com/pkg/errors"
)

// Reader is the transport contract used by every executor.
type Reader interface {
	Transmit(requests [][]byte, stopOnError bool) ([][]byte, error)
}

var (
	// ErrReaderIO reports that the reader itself could not be reached.
	ErrReaderIO = errors.New("reader I/O failure")

	// ErrCardIO reports that the reader answered but the card did not.
	ErrCardIO = errors.New("card I/O failure")
)

// IsTransportError tells whether err comes from the transport rather than from a
// command outcome.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrReaderIO) || errors.Is(err, ErrCardIO)
}
