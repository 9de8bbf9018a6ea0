package samcmd

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/gregLibert/calypso-sam/pkg/iso7816"
)

// ErrorKind is the closed set of command failure categories.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	AccessForbidden
	CounterOverflow
	DataAccess
	IllegalParameter
	IncorrectInputData
	SecurityData
	SecurityContext
	UnexpectedResponseLength
	UnknownStatus
)

var errorKindNames = map[ErrorKind]string{
	ErrorNone:                "none",
	AccessForbidden:          "access forbidden",
	CounterOverflow:          "counter overflow",
	DataAccess:               "data access",
	IllegalParameter:         "illegal parameter",
	IncorrectInputData:       "incorrect input data",
	SecurityData:             "security data",
	SecurityContext:          "security context",
	UnexpectedResponseLength: "unexpected response length",
	UnknownStatus:            "unknown status",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

var (
	// ErrInconsistentData reports a request/response count mismatch. It is never
	// retried: the exchange may have been tampered with.
	ErrInconsistentData = errors.New("inconsistent data: response count does not match request count")

	// ErrNotFinalizable is returned by Finalize on a command that needs no finalization.
	ErrNotFinalizable = errors.New("command does not require finalization")

	// ErrNoControlSam is returned when a finalization runs without a control SAM.
	ErrNoControlSam = errors.New("no control SAM available")
)

// CommandError is a status word failure of one command.
type CommandError struct {
	Command     Kind
	Status      iso7816.StatusWord
	Kind        ErrorKind
	Description string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed with SW %04X: %s (%s)", e.Command, uint16(e.Status), e.Description, e.Kind)
}

// KindOf returns the ErrorKind carried by err, or ErrorNone when err holds no
// CommandError.
func KindOf(err error) ErrorKind {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrorNone
}

// KindOfCommand is KindOf restricted to failures of a command of kind cmd. It returns
// ErrorNone when err failed on another command.
func KindOfCommand(err error, cmd Kind) ErrorKind {
	var ce *CommandError
	if errors.As(err, &ce) && ce.Command == cmd {
		return ce.Kind
	}
	return ErrorNone
}

// TransactionError is a fatal executor failure together with the ordered list of
// every request and response exchanged by that executor.
type TransactionError struct {
	Err   error
	Trace iso7816.Trace
}

func (e *TransactionError) Error() string { return e.Err.Error() }

func (e *TransactionError) Unwrap() error { return e.Err }

// Cause lets github.com/pkg/errors.Cause walk through the trace wrapper.
func (e *TransactionError) Cause() error { return e.Err }

// Report renders the error followed by the exchange trace.
func (e *TransactionError) Report() string {
	return fmt.Sprintf("%v\n%s", e.Err, e.Trace.Describe())
}
