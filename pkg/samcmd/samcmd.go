// Package samcmd implements the Calypso SAM command set on top of package iso7816.
//
// # Commands
//
// A Command is one APDU exchange with a SAM. It knows how to build its request,
// which response length it expects (0 means "do not check"), which status words
// mean success, and how to store the output into the SAM State once the response
// is known. The response of a command is parsed exactly once.
//
// Some commands (WriteCeilings, WriteKey) carry data that must be ciphered by a
// second SAM, the control SAM. They need finalization: a nested exchange
// {SELECT DIVERSIFIER, GIVE RANDOM, DATA CIPHER or GENERATE KEY} run on the control
// SAM just before the command is sent to the target SAM.
//
// # Status dispatch
//
// Each command kind owns an immutable StatusTable made of a base table
// (9000, 6D00, 6E00) merged with kind specific entries. A status word is a success
// when its entry says so and the output has the expected length. Failures come back
// as a *CommandError carrying one ErrorKind of a closed set.
//
// # Executor
//
// The Executor sends an ordered list of commands to one SAM in as few batches as
// possible while keeping the request/response accounting exact: more responses than
// requests is fatal at once, fewer responses is fatal once the received ones are
// parsed without failure.
package samcmd

import "fmt"

// Kind identifies a SAM command. Its numeric value is the tag used in async batches.
type Kind byte

const (
	KindGetChallenge Kind = iota + 1
	KindGiveRandom
	KindSelectDiversifier
	KindDigestInit
	KindDigestUpdate
	KindDigestUpdateMultiple
	KindDigestClose
	KindDigestAuthenticate
	KindDigestInternalAuthenticate
	KindReadEventCounter
	KindReadCeilings
	KindReadKeyParameters
	KindWriteCeilings
	KindWriteKey
	KindDataCipher
	KindGenerateKey
	KindCardCipherPin
	KindPsoComputeSignature
	KindPsoVerifySignature
)

var kindNames = map[Kind]string{
	KindGetChallenge:               "GET_CHALLENGE",
	KindGiveRandom:                 "GIVE_RANDOM",
	KindSelectDiversifier:          "SELECT_DIVERSIFIER",
	KindDigestInit:                 "DIGEST_INIT",
	KindDigestUpdate:               "DIGEST_UPDATE",
	KindDigestUpdateMultiple:       "DIGEST_UPDATE_MULTIPLE",
	KindDigestClose:                "DIGEST_CLOSE",
	KindDigestAuthenticate:         "DIGEST_AUTHENTICATE",
	KindDigestInternalAuthenticate: "DIGEST_INTERNAL_AUTHENTICATE",
	KindReadEventCounter:           "READ_EVENT_COUNTER",
	KindReadCeilings:               "READ_CEILINGS",
	KindReadKeyParameters:          "READ_KEY_PARAMETERS",
	KindWriteCeilings:              "WRITE_CEILINGS",
	KindWriteKey:                   "WRITE_KEY",
	KindDataCipher:                 "DATA_CIPHER",
	KindGenerateKey:                "CARD_GENERATE_KEY",
	KindCardCipherPin:              "CARD_CIPHER_PIN",
	KindPsoComputeSignature:        "PSO_COMPUTE_SIGNATURE",
	KindPsoVerifySignature:         "PSO_VERIFY_SIGNATURE",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", byte(k))
}
