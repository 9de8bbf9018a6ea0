package iso7816

import (
	"fmt"
)

// CLIENT & PROTOCOL LOGIC:
// The Client acts as a driver over a physical connection that exchanges one APDU at a
// time. It implements the ISO 7816-3 transport behaviours that T=0 readers expose to
// the application layer:
//
// 1. "61 XX" (Response Available):
//    The card indicates that XX bytes are waiting. The client automatically generates
//    and sends a GET RESPONSE command to retrieve them.
//
// 2. "6C XX" (Wrong Length):
//    The card suggests the correct Le. The client re-sends the original command with Le = XX.
//
// On top of Send, Transmit offers the batch contract used by SAM executors: an ordered
// list of raw requests goes in, the ordered list of final responses comes out, and the
// batch may stop at the first response carrying an error status word. Every physical
// exchange is appended to the client's Trace.

// Transmitter abstracts the physical card connection.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Client manages the high-level communication with the card.
type Client struct {
	Card  Transmitter
	trace Trace
}

// NewClient creates a new Client instance.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

// Trace returns every exchange performed through this client, oldest first.
func (c *Client) Trace() Trace {
	return c.trace
}

// Transmit sends raw requests in order and returns the final response of each one.
// With stopOnError set, the batch stops after the first response whose status word is
// an error, so the returned list may be shorter than requests.
func (c *Client) Transmit(requests [][]byte, stopOnError bool) ([][]byte, error) {
	responses := make([][]byte, 0, len(requests))

	for i, raw := range requests {
		cmd, err := ParseCommandAPDU(raw)
		if err != nil {
			return responses, fmt.Errorf("request %d: %w", i, err)
		}

		trace, err := c.Send(cmd)
		c.trace = append(c.trace, trace...)
		if err != nil {
			return responses, err
		}

		last := trace.Last().Response
		responses = append(responses, last.Bytes())

		if stopOnError && last.Status.IsError() {
			break
		}
	}

	return responses, nil
}

// Send transmits a command and handles protocol logic (61xx, 6Cxx).
func (c *Client) Send(cmd *CommandAPDU) (Trace, error) {
	rawCmd, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	rawResp, err := c.Card.Transmit(rawCmd)
	if err != nil {
		return nil, fmt.Errorf("transmission error: %w", err)
	}

	resp, err := ParseResponseAPDU(rawResp)
	if err != nil {
		return nil, err
	}

	trace := Trace{{Command: cmd, Response: resp}}

	sw1 := resp.Status.SW1()
	sw2 := resp.Status.SW2()

	switch sw1 {
	case 0x61:
		// GET RESPONSE must use the same logical channel as the original command.
		respCls := cmd.Class
		respCls.IsChained = false

		ne := int(sw2)
		if ne == 0 {
			ne = MaxShortLe
		}
		getResp := NewCommandAPDU(respCls, MustInstruction(INS_GET_RESPONSE), 0x00, 0x00, nil, ne)

		subTrace, err := c.Send(getResp)
		return append(trace, subTrace...), err

	case 0x6C:
		retry := *cmd
		retry.Ne = int(sw2)
		if retry.Ne == 0 {
			retry.Ne = MaxShortLe
		}

		subTrace, err := c.Send(&retry)
		return append(trace, subTrace...), err
	}

	return trace, nil
}
