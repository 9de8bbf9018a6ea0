// Package readertest provides a scripted reader.Reader for tests.
package readertest

import (
	"github.com/gregLibert/calypso-sam/pkg/iso7816"
)

// Handler answers a single raw command APDU with a raw response APDU.
type Handler func(request []byte) []byte

// Reader records every batch and answers each request through Handler. It honors
// stopOnError the way a real reader does. Batch, when set, replaces the whole
// exchange so tests can return too many or too few responses.
type Reader struct {
	Handler Handler
	Batch   func(requests [][]byte, stopOnError bool) ([][]byte, error)
	Err     error

	Batches  [][][]byte
	Requests [][]byte
}

// OK answers 9000 with no data.
func OK(request []byte) []byte {
	return []byte{0x90, 0x00}
}

// Transmit implements reader.Reader.
func (r *Reader) Transmit(requests [][]byte, stopOnError bool) ([][]byte, error) {
	batch := make([][]byte, len(requests))
	for i, req := range requests {
		batch[i] = append([]byte(nil), req...)
	}
	r.Batches = append(r.Batches, batch)

	if r.Err != nil {
		return nil, r.Err
	}
	if r.Batch != nil {
		r.Requests = append(r.Requests, batch...)
		return r.Batch(batch, stopOnError)
	}

	handler := r.Handler
	if handler == nil {
		handler = OK
	}

	responses := make([][]byte, 0, len(batch))
	for _, req := range batch {
		r.Requests = append(r.Requests, req)
		resp := handler(req)
		responses = append(responses, resp)

		if stopOnError && len(resp) >= 2 {
			sw := iso7816.NewStatusWord(resp[len(resp)-2], resp[len(resp)-1])
			if sw.IsError() {
				break
			}
		}
	}
	return responses, nil
}

// Respond builds a raw response from data and a status word.
func Respond(sw iso7816.StatusWord, data ...byte) []byte {
	return append(append([]byte(nil), data...), sw.SW1(), sw.SW2())
}

// ByInstruction dispatches on the INS byte; unknown instructions get 9000.
func ByInstruction(routes map[byte]Handler) Handler {
	return func(request []byte) []byte {
		if len(request) >= 2 {
			if h, ok := routes[request[1]]; ok {
				return h(request)
			}
		}
		return OK(request)
	}
}
