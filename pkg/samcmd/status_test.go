package samcmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gregLibert/calypso-sam/pkg/iso7816"
	"github.com/gregLibert/calypso-sam/pkg/reader/readertest"
)

func bare(kind Kind, expected int) *base {
	return &base{kind: kind, expected: expected}
}

func TestStatusTables_FailureKinds(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05}

	for kind, table := range statusTables {
		for sw, entry := range table.entries {
			if entry.Success {
				continue
			}
			for _, data := range [][]byte{nil, payload} {
				err := bare(kind, len(payload)).ParseResponse(readertest.Respond(sw, data...))
				require.Error(t, err, "%s %04X", kind, uint16(sw))
				require.Equal(t, entry.Error, KindOf(err), "%s %04X", kind, uint16(sw))

				var ce *CommandError
				require.ErrorAs(t, err, &ce)
				require.Equal(t, sw, ce.Status)
				require.Equal(t, kind, ce.Command)
			}
		}
	}
}

func TestStatusTables_LengthMismatch(t *testing.T) {
	for kind := range statusTables {
		err := bare(kind, 4).ParseResponse(readertest.Respond(iso7816.SW_NO_ERROR, 1, 2, 3))
		require.Equal(t, UnexpectedResponseLength, KindOf(err), "%s", kind)

		err = bare(kind, 4).ParseResponse(readertest.Respond(iso7816.SW_NO_ERROR, 1, 2, 3, 4))
		require.NoError(t, err, "%s", kind)

		err = bare(kind, 0).ParseResponse(readertest.Respond(iso7816.SW_NO_ERROR, 1, 2, 3))
		require.NoError(t, err, "%s", kind)
	}
}

func TestStatusTables_Base(t *testing.T) {
	for kind := range kindNames {
		table := StatusTableOf(kind)
		ok, found := table.Lookup(iso7816.SW_NO_ERROR)
		require.True(t, found, "%s", kind)
		require.True(t, ok.Success, "%s", kind)

		e, found := table.Lookup(iso7816.SW_ERR_INS_INVALID)
		require.True(t, found)
		require.Equal(t, IllegalParameter, e.Error)
	}
}

func TestStatusTable_Immutable(t *testing.T) {
	a := NewStatusTable(StatusEntry{iso7816.SW_ERR_WRONG_LENGTH, "A", false, IllegalParameter})
	b := NewStatusTable()

	require.Equal(t, 4, a.Len())
	require.Equal(t, 3, b.Len())
	_, found := b.Lookup(iso7816.SW_ERR_WRONG_LENGTH)
	require.False(t, found)
}

func TestParseResponse_UnknownStatus(t *testing.T) {
	err := bare(KindGiveRandom, 0).ParseResponse([]byte{0x6F, 0xFF})
	require.Equal(t, UnknownStatus, KindOf(err))
	require.Contains(t, err.Error(), "6FFF")
}

func TestParseResponse_Once(t *testing.T) {
	c := NewGiveRandom(testContext(staticTarget(), nil), make([]byte, 8))
	require.NoError(t, c.ParseResponse([]byte{0x90, 0x00}))
	require.Error(t, c.ParseResponse([]byte{0x90, 0x00}))
	require.Equal(t, iso7816.SW_NO_ERROR, c.Response().Status)
}

func TestPsoComputeSignature_AllowUnsigned(t *testing.T) {
	ctx := testContext(staticTarget(), nil)

	strict, err := NewPsoComputeSignature(ctx, 0x2B, 0x01, []byte("message"), 8)
	require.NoError(t, err)
	err = strict.ParseResponse([]byte{0x62, 0x00})
	require.Equal(t, IncorrectInputData, KindOf(err))

	lenient, err := NewPsoComputeSignature(ctx, 0x2B, 0x01, []byte("message"), 8)
	require.NoError(t, err)
	lenient.AllowUnsigned()
	require.NoError(t, lenient.ParseResponse([]byte{0x62, 0x00}))
	require.False(t, lenient.Signed())

	signed, err := NewPsoComputeSignature(ctx, 0x2B, 0x01, []byte("message"), 8)
	require.NoError(t, err)
	require.NoError(t, signed.ParseResponse(readertest.Respond(iso7816.SW_NO_ERROR, 1, 2, 3, 4, 5, 6, 7, 8)))
	require.True(t, signed.Signed())
	require.Len(t, signed.Output(), 8)
}

func TestKindOf_NoCommandError(t *testing.T) {
	require.Equal(t, ErrorNone, KindOf(nil))
	require.Equal(t, ErrorNone, KindOf(ErrInconsistentData))
}

func TestKindOfCommand(t *testing.T) {
	err := bare(KindWriteCeilings, 0).ParseResponse(readertest.Respond(iso7816.SW_ERR_SM_OBJ_INCORRECT))
	wrapped := &TransactionError{Err: err}

	require.Equal(t, SecurityData, KindOf(wrapped))
	require.Equal(t, SecurityData, KindOfCommand(wrapped, KindWriteCeilings))
	require.Equal(t, ErrorNone, KindOfCommand(wrapped, KindPsoVerifySignature))
	require.Equal(t, ErrorNone, KindOfCommand(nil, KindPsoVerifySignature))
}
