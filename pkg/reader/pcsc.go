package reader

import (
	"github.com/ebfe/scard"
	"github.com/pkg/errors"

	"github.com/gregLibert/calypso-sam/pkg/iso7816"
)

// Connection is a PC/SC reader holding a SAM. It implements Reader on top of an
// iso7816.Client, so T=0 GET RESPONSE and wrong-length retries are handled below
// the batch level.
type Connection struct {
	ctx    *scard.Context
	card   *scard.Card
	client *iso7816.Client
	Name   string
}

// Connect opens the named PC/SC reader. An empty name picks the first reader found.
func Connect(name string) (*Connection, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, errors.Wrapf(ErrReaderIO, "establish PC/SC context: %v", err)
	}

	if name == "" {
		readers, err := ctx.ListReaders()
		if err != nil || len(readers) == 0 {
			_ = ctx.Release()
			return nil, errors.Wrapf(ErrReaderIO, "no reader found: %v", err)
		}
		name = readers[0]
	}

	// Force T=0 or T=1 to avoid "Parameter Incorrect" errors (Error 57)
	card, err := ctx.Connect(name, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		_ = ctx.Release()
		return nil, errors.Wrapf(classify(err), "connect %q: %v", name, err)
	}

	c := &Connection{ctx: ctx, card: card, Name: name}
	c.client = iso7816.NewClient(cardTransmitter{card: card})
	return c, nil
}

// Close disconnects the card and releases the PC/SC context.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}
	var first error
	if c.card != nil {
		if err := c.card.Disconnect(scard.LeaveCard); err != nil {
			first = errors.Wrap(err, "disconnect")
		}
	}
	if c.ctx != nil {
		if err := c.ctx.Release(); err != nil && first == nil {
			first = errors.Wrap(err, "release context")
		}
	}
	return first
}

// Transmit implements Reader.
func (c *Connection) Transmit(requests [][]byte, stopOnError bool) ([][]byte, error) {
	if c == nil || c.client == nil {
		return nil, errors.Wrap(ErrReaderIO, "connection not established")
	}
	return c.client.Transmit(requests, stopOnError)
}

// Trace returns every physical exchange done on this connection.
func (c *Connection) Trace() iso7816.Trace {
	return c.client.Trace()
}

// cardTransmitter classifies scard failures before they reach the client.
type cardTransmitter struct {
	card *scard.Card
}

func (t cardTransmitter) Transmit(cmd []byte) ([]byte, error) {
	resp, err := t.card.Transmit(cmd)
	if err != nil {
		return nil, errors.Wrapf(classify(err), "%v", err)
	}
	return resp, nil
}

// classify maps a PC/SC error to ErrCardIO when the card is at fault and to
// ErrReaderIO otherwise.
func classify(err error) error {
	var code scard.Error
	if errors.As(err, &code) {
		switch code {
		case scard.ErrNoSmartcard, scard.ErrRemovedCard, scard.ErrResetCard,
			scard.ErrUnpoweredCard, scard.ErrUnresponsiveCard, scard.ErrUnsupportedCard:
			return ErrCardIO
		}
	}
	return ErrReaderIO
}
