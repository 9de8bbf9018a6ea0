package iso7816

import (
	"fmt"
	"strings"
)

// TRANSACTION:
// A Transaction is the atomic unit of communication defined in ISO 7816-3: one
// Command APDU sent by the terminal, followed by one Response APDU sent back by the card.
//
// TRACE:
// A Trace is a chronological sequence of Transactions. SAM protocol failures are hard to
// reproduce, so executors keep the full trace of every request and response they
// exchanged and attach it to fatal errors. A Transaction whose Response is nil is a
// request that was never answered (the reader stopped early or the link dropped).

// Transaction represents a Command-Response pair.
type Transaction struct {
	Command  *CommandAPDU
	Response *ResponseAPDU
}

// IsSuccess checks if the transaction ended with a successful status.
// It returns false if the response is missing.
func (t *Transaction) IsSuccess() bool {
	if t.Response == nil {
		return false
	}
	return t.Response.Status.IsSuccess()
}

// Trace is a sequence of transactions (Command-Response pairs).
type Trace []Transaction

// Last returns the final transaction of the trace.
// Returns nil if the trace is empty.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// IsSuccess checks if the FINAL transaction in the trace was successful.
func (t Trace) IsSuccess() bool {
	last := t.Last()
	if last == nil {
		return false
	}
	return last.IsSuccess()
}

// Describe renders the trace as one "->" line per request and one "<-" line per response.
func (t Trace) Describe() string {
	var sb strings.Builder

	for i, tx := range t {
		if tx.Command != nil {
			raw, err := tx.Command.Bytes()
			if err != nil {
				fmt.Fprintf(&sb, "%03d -> <unencodable: %v>\n", i, err)
			} else {
				fmt.Fprintf(&sb, "%03d -> % X  (%s)\n", i, raw, tx.Command.Instruction.Raw)
			}
		}
		if tx.Response == nil {
			fmt.Fprintf(&sb, "%03d <- <no response>\n", i)
			continue
		}
		fmt.Fprintf(&sb, "%03d <- % X  %s\n", i, tx.Response.Bytes(), tx.Response.Status.Verbose())
	}

	return strings.TrimRight(sb.String(), "\n")
}
