package samcmd

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/gregLibert/calypso-sam/pkg/iso7816"
	"github.com/gregLibert/calypso-sam/pkg/reader"
	"github.com/gregLibert/calypso-sam/pkg/sam"
)

// Context binds a command to the SAMs it works with. It is passed by value and never
// modified after a command is built.
//
// Target is the SAM the command is sent to. It may be nil when commands are only
// prepared for a later execution. Control and ControlReader are needed by commands
// that require finalization.
type Context struct {
	Target        *sam.State
	Control       *sam.State
	ControlReader reader.Reader
	Log           zerolog.Logger
}

func (c Context) class() iso7816.Class {
	if c.Target == nil {
		return iso7816.ClassSAMC1
	}
	return c.Target.Product().Class()
}

// controlContext is the context of commands sent to the control SAM.
func (c Context) controlContext() Context {
	return Context{Target: c.Control, Log: c.Log}
}

// Command is one SAM exchange.
type Command interface {
	Kind() Kind
	// APDU returns the request. For commands that require finalization it is only
	// complete once Finalize succeeded.
	APDU() *iso7816.CommandAPDU
	RequiresFinalization() bool
	Finalize() error
	// ParseResponse checks the status word against the command's status table and
	// stores the output. It fails when called twice.
	ParseResponse(raw []byte) error
	// Response is nil until ParseResponse has been called.
	Response() *iso7816.ResponseAPDU
}

// base holds what every command shares.
type base struct {
	kind     Kind
	ctx      Context
	apdu     *iso7816.CommandAPDU
	expected int
	allowed  []iso7816.StatusWord
	response *iso7816.ResponseAPDU
	extract  func(data []byte) error
}

func newBase(kind Kind, ctx Context, ins iso7816.InsCode, p1, p2 byte, data []byte, ne int) base {
	return base{
		kind:     kind,
		ctx:      ctx,
		apdu:     iso7816.NewCommandAPDU(ctx.class(), iso7816.MustInstruction(ins), p1, p2, data, ne),
		expected: ne,
	}
}

func (b *base) Kind() Kind                      { return b.kind }
func (b *base) APDU() *iso7816.CommandAPDU      { return b.apdu }
func (b *base) Response() *iso7816.ResponseAPDU { return b.response }
func (b *base) RequiresFinalization() bool      { return false }

func (b *base) Finalize() error {
	return errors.Wrapf(ErrNotFinalizable, "%s", b.kind)
}

// AllowStatusWords accepts extra status words as successful for this request only.
func (b *base) AllowStatusWords(sw ...iso7816.StatusWord) {
	b.allowed = append(b.allowed, sw...)
}

// Output returns the response data, nil before the response is parsed.
func (b *base) Output() []byte {
	if b.response == nil {
		return nil
	}
	return b.response.Data
}

func (b *base) ParseResponse(raw []byte) error {
	if b.response != nil {
		return errors.Errorf("%s: response already parsed", b.kind)
	}

	resp, err := iso7816.ParseResponseAPDU(raw)
	if err != nil {
		return errors.Wrapf(err, "%s", b.kind)
	}
	b.response = resp

	if err := StatusTableOf(b.kind).check(b.kind, resp, b.expected, b.allowed); err != nil {
		return err
	}
	if b.extract != nil {
		return b.extract(resp.Data)
	}
	return nil
}
