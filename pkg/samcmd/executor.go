package samcmd

import (
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/gregLibert/calypso-sam/pkg/iso7816"
	"github.com/gregLibert/calypso-sam/pkg/reader"
)

// Executor sends commands to one SAM reader. It keeps the trace of every exchange
// it made, which is attached to fatal errors.
type Executor struct {
	reader reader.Reader
	log    zerolog.Logger
	trace  iso7816.Trace
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for exchange debug logs.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

func NewExecutor(r reader.Reader, opts ...Option) *Executor {
	e := &Executor{reader: r, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Trace returns the exchanges made so far, oldest first.
func (e *Executor) Trace() iso7816.Trace { return e.trace }

// Execute runs commands in order. Commands that require finalization are finalized
// right before being queued, once every command queued before them has been sent,
// so the finalization sees a SAM state reflecting all of them.
//
// Errors are *TransactionError values wrapping the cause: a transport error, a
// *CommandError, ErrInconsistentData or a finalization failure.
func (e *Executor) Execute(commands []Command) error {
	var pending []Command

	for _, cmd := range commands {
		if cmd.RequiresFinalization() {
			if err := e.transmit(pending); err != nil {
				return err
			}
			pending = nil

			if err := cmd.Finalize(); err != nil {
				return e.fail(errors.Wrapf(err, "finalize %s", cmd.Kind()))
			}
		}
		pending = append(pending, cmd)
	}

	return e.transmit(pending)
}

func (e *Executor) transmit(commands []Command) error {
	if len(commands) == 0 {
		return nil
	}

	requests := make([][]byte, len(commands))
	for i, cmd := range commands {
		raw, err := cmd.APDU().Bytes()
		if err != nil {
			return e.fail(errors.Wrapf(err, "encode %s", cmd.Kind()))
		}
		requests[i] = raw
	}

	responses, err := e.reader.Transmit(requests, true)
	e.record(commands, responses)
	if err != nil {
		return e.fail(errors.Wrap(err, "transmit"))
	}

	if len(responses) > len(requests) {
		return e.fail(errors.Wrapf(ErrInconsistentData, "%d responses for %d requests", len(responses), len(requests)))
	}

	for i, raw := range responses {
		cmd := commands[i]
		e.log.Debug().
			Str("command", cmd.Kind().String()).
			Str("request", hex.EncodeToString(requests[i])).
			Str("response", hex.EncodeToString(raw)).
			Msg("SAM exchange")

		if err := cmd.ParseResponse(raw); err != nil {
			return e.fail(errors.Wrapf(err, "command %d (%s)", i, cmd.Kind()))
		}
	}

	if len(responses) < len(requests) {
		return e.fail(errors.Wrapf(ErrInconsistentData, "%d responses for %d requests", len(responses), len(requests)))
	}
	return nil
}

// record appends the batch to the trace. Responses that do not parse, and requests
// left unanswered, are kept with a nil response.
func (e *Executor) record(commands []Command, responses [][]byte) {
	n := len(commands)
	if len(responses) > n {
		n = len(responses)
	}
	for i := 0; i < n; i++ {
		var tx iso7816.Transaction
		if i < len(commands) {
			tx.Command = commands[i].APDU()
		}
		if i < len(responses) {
			if resp, err := iso7816.ParseResponseAPDU(responses[i]); err == nil {
				tx.Response = resp
			}
		}
		e.trace = append(e.trace, tx)
	}
}

func (e *Executor) fail(err error) error {
	ev := e.log.Error().Err(err)
	var ce *CommandError
	if errors.As(err, &ce) {
		ev = ev.Str("command", ce.Command.String()).Str("sw", ce.Status.String()).Str("kind", ce.Kind.String())
	}
	ev.Msg("SAM transaction failed")
	return &TransactionError{Err: err, Trace: append(iso7816.Trace(nil), e.trace...)}
}
