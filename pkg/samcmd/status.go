package samcmd

import (
	"fmt"

	"github.com/gregLibert/calypso-sam/pkg/iso7816"
)

// StatusEntry describes what a status word means for one command kind.
type StatusEntry struct {
	Status      iso7816.StatusWord
	Description string
	Success     bool
	Error       ErrorKind
}

// StatusTable maps status words to their meaning. It is built once and never mutated.
type StatusTable struct {
	entries map[iso7816.StatusWord]StatusEntry
}

var baseStatus = []StatusEntry{
	{iso7816.SW_NO_ERROR, "Successful execution.", true, ErrorNone},
	{iso7816.SW_ERR_INS_INVALID, "Instruction unknown.", false, IllegalParameter},
	{iso7816.SW_ERR_CLA_NOT_SUPPORTED, "Class not supported.", false, IllegalParameter},
}

// NewStatusTable merges overrides over the base table into a new table.
func NewStatusTable(overrides ...StatusEntry) StatusTable {
	entries := make(map[iso7816.StatusWord]StatusEntry, len(baseStatus)+len(overrides))
	for _, e := range baseStatus {
		entries[e.Status] = e
	}
	for _, e := range overrides {
		entries[e.Status] = e
	}
	return StatusTable{entries: entries}
}

// Lookup returns the entry of sw.
func (t StatusTable) Lookup(sw iso7816.StatusWord) (StatusEntry, bool) {
	e, ok := t.entries[sw]
	return e, ok
}

// Len is the number of status words in the table.
func (t StatusTable) Len() int { return len(t.entries) }

// check applies the success rule. Status words in allowed are accepted as is.
func (t StatusTable) check(kind Kind, resp *iso7816.ResponseAPDU, expected int, allowed []iso7816.StatusWord) error {
	for _, sw := range allowed {
		if sw == resp.Status {
			return nil
		}
	}

	entry, ok := t.entries[resp.Status]
	if !ok {
		return &CommandError{Command: kind, Status: resp.Status, Kind: UnknownStatus, Description: "Unknown status"}
	}
	if !entry.Success {
		return &CommandError{Command: kind, Status: resp.Status, Kind: entry.Error, Description: entry.Description}
	}
	if expected > 0 && len(resp.Data) != expected {
		return &CommandError{
			Command:     kind,
			Status:      resp.Status,
			Kind:        UnexpectedResponseLength,
			Description: fmt.Sprintf("Incorrect response length (expected: %d, actual: %d)", expected, len(resp.Data)),
		}
	}
	return nil
}

var (
	swLc            = StatusEntry{iso7816.SW_ERR_WRONG_LENGTH, "Lc value not supported.", false, IllegalParameter}
	swP1P2          = StatusEntry{iso7816.SW_ERR_WRONG_PARAMS_NO_INFO, "Incorrect P1 or P2.", false, IllegalParameter}
	swP2            = StatusEntry{iso7816.SW_ERR_WRONG_P1P2, "Incorrect P2.", false, IllegalParameter}
	swLocked        = StatusEntry{iso7816.SW_ERR_COND_OF_USE_NOT_SAT, "Preconditions not satisfied.", false, AccessForbidden}
	swCounter       = StatusEntry{iso7816.SW_ERR_CMD_NOT_ALLOWED_NO_INFO, "An event counter cannot be incremented.", false, CounterOverflow}
	swSignature     = StatusEntry{iso7816.SW_ERR_SM_OBJ_INCORRECT, "Incorrect signature.", false, SecurityData}
	swKeyNotFound   = StatusEntry{iso7816.SW_ERR_RECORD_NOT_FOUND, "Record not found: key not found.", false, DataAccess}
	swIncorrectData = StatusEntry{iso7816.SW_ERR_INCORRECT_PARAMS_DATA, "Incorrect plain or decrypted data.", false, IncorrectInputData}
	swBusy          = StatusEntry{iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT, "Busy status: the command is temporarily unavailable.", false, SecurityContext}
)

var statusTables = map[Kind]StatusTable{
	KindGetChallenge:      NewStatusTable(swLc),
	KindGiveRandom:        NewStatusTable(swLc),
	KindSelectDiversifier: NewStatusTable(swLc, StatusEntry{iso7816.SW_ERR_COND_OF_USE_NOT_SAT, "Preconditions not satisfied: the SAM is locked.", false, AccessForbidden}),
	KindDigestInit: NewStatusTable(swLc, swCounter, swP1P2,
		StatusEntry{iso7816.SW_ERR_COND_OF_USE_NOT_SAT, "Preconditions not satisfied: a session is already open.", false, AccessForbidden},
		StatusEntry{iso7816.SW_ERR_RECORD_NOT_FOUND, "Record not found: work key not found.", false, DataAccess}),
	KindDigestUpdate: NewStatusTable(swLc, swSignature,
		StatusEntry{iso7816.SW_ERR_COND_OF_USE_NOT_SAT, "Preconditions not satisfied: no session open.", false, AccessForbidden},
		StatusEntry{iso7816.SW_ERR_WRONG_P1P2, "Incorrect reference data.", false, IllegalParameter}),
	KindDigestUpdateMultiple: NewStatusTable(swLc, swIncorrectData, swP2,
		StatusEntry{iso7816.SW_ERR_COND_OF_USE_NOT_SAT, "Preconditions not satisfied: no session open.", false, AccessForbidden}),
	KindDigestClose: NewStatusTable(swLc,
		StatusEntry{iso7816.SW_ERR_COND_OF_USE_NOT_SAT, "Preconditions not satisfied: no session open.", false, AccessForbidden}),
	KindDigestAuthenticate: NewStatusTable(swLc, swSignature,
		StatusEntry{iso7816.SW_ERR_COND_OF_USE_NOT_SAT, "Preconditions not satisfied: no session closed.", false, AccessForbidden}),
	KindDigestInternalAuthenticate: NewStatusTable(swLc, swP2, swLocked),
	KindReadEventCounter:           NewStatusTable(swLc, swP1P2),
	KindReadCeilings:               NewStatusTable(swLc, swP1P2),
	KindReadKeyParameters:          NewStatusTable(swLc, swP1P2, swKeyNotFound),
	KindWriteCeilings: NewStatusTable(swLc, swCounter, swSignature, swP1P2, swIncorrectData,
		StatusEntry{iso7816.SW_ERR_RECORD_NOT_FOUND, "Record not found: deciphering key not found.", false, DataAccess}),
	KindWriteKey: NewStatusTable(swLc, swCounter, swLocked, swSignature, swP1P2, swIncorrectData,
		StatusEntry{iso7816.SW_ERR_RECORD_NOT_FOUND, "Record not found: deciphering key not found.", false, DataAccess},
		StatusEntry{iso7816.SW_ERR_NC_INCONSISTENT_P1P2, "Lc inconsistent with P1 or P2.", false, IncorrectInputData}),
	KindDataCipher:    NewStatusTable(swLc, swCounter, swLocked, swP1P2, swKeyNotFound, swP2),
	KindGenerateKey:   NewStatusTable(swLc, swCounter, swLocked, swP1P2, swKeyNotFound, swIncorrectData),
	KindCardCipherPin: NewStatusTable(swLc, swCounter, swLocked, swP1P2, swKeyNotFound),
	KindPsoComputeSignature: NewStatusTable(swLc, swCounter, swBusy, swLocked, swIncorrectData, swKeyNotFound, swP2,
		StatusEntry{iso7816.SW_WARN_NO_INFO, "Correct execution with warning: data not signed.", false, IncorrectInputData}),
	KindPsoVerifySignature: NewStatusTable(swLc, swCounter, swBusy, swLocked, swSignature, swIncorrectData, swKeyNotFound, swP2),
}

// StatusTableOf returns the status table of a command kind.
func StatusTableOf(kind Kind) StatusTable {
	if t, ok := statusTables[kind]; ok {
		return t
	}
	return NewStatusTable()
}
