package samcmd

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/calypso-sam/pkg/iso7816"
	"github.com/gregLibert/calypso-sam/pkg/reader"
	"github.com/gregLibert/calypso-sam/pkg/reader/readertest"
	"github.com/gregLibert/calypso-sam/pkg/sam"
)

func threeCommands(ctx Context) []Command {
	return []Command{
		NewGiveRandom(ctx, []byte{1, 1, 1, 1, 1, 1, 1, 1}),
		NewGiveRandom(ctx, []byte{2, 2, 2, 2, 2, 2, 2, 2}),
		NewGiveRandom(ctx, []byte{3, 3, 3, 3, 3, 3, 3, 3}),
	}
}

func TestExecutor_StopsOnUnknownStatus(t *testing.T) {
	calls := 0
	r := &readertest.Reader{Handler: func([]byte) []byte {
		calls++
		if calls == 2 {
			return []byte{0x6F, 0xFF}
		}
		return []byte{0x90, 0x00}
	}}
	cmds := threeCommands(testContext(staticTarget(), nil))

	err := NewExecutor(r).Execute(cmds)

	require.Error(t, err)
	require.Equal(t, UnknownStatus, KindOf(err))
	require.False(t, errors.Is(err, ErrInconsistentData))
	require.Equal(t, 2, calls)

	require.NotNil(t, cmds[0].Response())
	require.NotNil(t, cmds[1].Response())
	require.Nil(t, cmds[2].Response())

	var te *TransactionError
	require.ErrorAs(t, err, &te)
	require.Len(t, te.Trace, 3)
	require.Nil(t, te.Trace[2].Response)
	require.Contains(t, te.Report(), "<no response>")
}

func TestExecutor_TooManyResponses(t *testing.T) {
	r := &readertest.Reader{Batch: func(requests [][]byte, _ bool) ([][]byte, error) {
		out := make([][]byte, len(requests)+1)
		for i := range out {
			out[i] = []byte{0x90, 0x00}
		}
		return out, nil
	}}
	cmds := threeCommands(testContext(staticTarget(), nil))

	err := NewExecutor(r).Execute(cmds)

	require.True(t, errors.Is(err, ErrInconsistentData))
	for _, c := range cmds {
		require.Nil(t, c.Response(), "no response may be parsed")
	}
}

func TestExecutor_TooFewResponses(t *testing.T) {
	r := &readertest.Reader{Batch: func(requests [][]byte, _ bool) ([][]byte, error) {
		return [][]byte{{0x90, 0x00}, {0x90, 0x00}}, nil
	}}
	cmds := threeCommands(testContext(staticTarget(), nil))

	err := NewExecutor(r).Execute(cmds)

	require.True(t, errors.Is(err, ErrInconsistentData))
	require.Equal(t, ErrorNone, KindOf(err))
	require.NotNil(t, cmds[0].Response())
	require.NotNil(t, cmds[1].Response())
	require.Nil(t, cmds[2].Response())
}

func TestExecutor_UnexpectedLength(t *testing.T) {
	r := &readertest.Reader{Handler: func([]byte) []byte {
		return readertest.Respond(iso7816.SW_NO_ERROR, make([]byte, 26)...)
	}}
	ctx := testContext(staticTarget(), nil)
	read, err := NewReadEventCounter(ctx, 1)
	require.NoError(t, err)

	err = NewExecutor(r).Execute([]Command{read})

	require.Equal(t, UnexpectedResponseLength, KindOf(err))
	_, known := ctx.Target.Counter(9)
	require.False(t, known)
}

func TestExecutor_TransportError(t *testing.T) {
	r := &readertest.Reader{Err: errors.Wrap(reader.ErrCardIO, "card removed")}

	err := NewExecutor(r).Execute(threeCommands(testContext(staticTarget(), nil)))

	require.True(t, errors.Is(err, reader.ErrCardIO))
	require.True(t, reader.IsTransportError(err))
	require.Equal(t, ErrorNone, KindOf(err))
}

func TestExecutor_Empty(t *testing.T) {
	r := &readertest.Reader{}
	require.NoError(t, NewExecutor(r).Execute(nil))
	require.Empty(t, r.Batches)
}

func TestExecutor_FlushBeforeFinalize(t *testing.T) {
	target := staticTarget()
	control := controlReader()
	ctx := testContext(target, control)

	targetReader := &readertest.Reader{Handler: readertest.ByInstruction(map[byte]readertest.Handler{
		byte(iso7816.INS_READ_KEY_PARAMETERS): func([]byte) []byte {
			return keyParameterResponse(sam.RolePersonalization, 0x21, 5)
		},
		byte(iso7816.INS_READ_EVENT_COUNTER): func([]byte) []byte {
			return counterRecordResponse(map[int]uint32{5: 41})
		},
	})}

	readKey, err := NewReadKeyParameters(ctx, sam.RolePersonalization)
	require.NoError(t, err)
	readCounters, err := NewReadEventCounter(ctx, 0)
	require.NoError(t, err)
	write, err := NewWriteCeilings(ctx, target, 0)
	require.NoError(t, err)
	require.NoError(t, write.SetCeiling(5, 1000))

	exec := NewExecutor(targetReader)
	require.NoError(t, exec.Execute([]Command{readKey, readCounters, write}))

	// The reads are sent before the write is finalized, the write alone afterwards.
	require.Len(t, targetReader.Batches, 2)
	require.Len(t, targetReader.Batches[0], 2)
	require.Len(t, targetReader.Batches[1], 1)
	require.Equal(t, byte(iso7816.INS_WRITE_CEILINGS), targetReader.Batches[1][0][1])
	require.Equal(t, byte(0xB1), targetReader.Batches[1][0][3])
	require.Equal(t, cipherBlock, write.APDU().Data)

	// The control SAM saw the diversifier, the challenge derived from the counter
	// just read, then the cipher request.
	require.Len(t, control.Batches, 1)
	batch := control.Batches[0]
	require.Len(t, batch, 3)
	require.Equal(t, append([]byte{0x80, 0x14, 0x00, 0x00, 0x04}, targetSerial...), batch[0])
	require.Equal(t, append([]byte{0x80, 0x86, 0x00, 0x00, 0x08}, sam.Challenge(42)...), batch[1])
	require.Equal(t, []byte{0x80, 0x16, 0x00, 0x00, 32, 0xE1, 0x21}, batch[2][:7])

	v, _ := target.Counter(5)
	require.EqualValues(t, 42, v)
	c, _ := target.Ceiling(5)
	require.EqualValues(t, 1000, c)

	require.Len(t, exec.Trace(), 3)
}

func TestExecutor_FinalizeWithoutControl(t *testing.T) {
	target := staticTarget()
	target.SetKeyParameter(sam.KeyParameter{KIF: byte(sam.RolePersonalization), KVC: 0x21})
	ctx := testContext(target, nil)
	write, err := NewWriteCeilings(ctx, target, 0)
	require.NoError(t, err)
	require.NoError(t, write.SetCeiling(1, 10))

	err = NewExecutor(&readertest.Reader{}).Execute([]Command{write})
	require.True(t, errors.Is(err, ErrNoControlSam))
}
