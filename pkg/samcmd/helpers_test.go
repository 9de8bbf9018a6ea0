package samcmd

import (
	"bytes"

	"github.com/rs/zerolog"

	"github.com/gregLibert/calypso-sam/pkg/bits"
	"github.com/gregLibert/calypso-sam/pkg/iso7816"
	"github.com/gregLibert/calypso-sam/pkg/reader/readertest"
	"github.com/gregLibert/calypso-sam/pkg/sam"
)

var targetSerial = []byte{0x11, 0x22, 0x33, 0x44}

func staticTarget() *sam.State {
	return sam.NewState(targetSerial, sam.SamC1, false)
}

func controlState() *sam.State {
	return sam.NewState([]byte{0xC0, 0x01, 0x02, 0x03}, sam.SamC1, false)
}

func keyParameterResponse(role sam.KeyRole, kvc, counter byte) []byte {
	p := sam.KeyParameter{KIF: byte(role), KVC: kvc, ALG: 0x90}
	p.PAR[3] = counter
	return readertest.Respond(iso7816.SW_NO_ERROR, p.Bytes()...)
}

// counterRecordResponse answers READ EVENT COUNTER with values[slot], 0 elsewhere.
func counterRecordResponse(values map[int]uint32) []byte {
	var data []byte
	for slot := 0; slot < sam.CountersPerRecord; slot++ {
		data = bits.AppendUint24(data, values[slot])
	}
	return readertest.Respond(iso7816.SW_NO_ERROR, data...)
}

// cipherBlock is what the scripted control SAM returns for DATA CIPHER and
// CARD GENERATE KEY.
var cipherBlock = bytes.Repeat([]byte{0xC5}, CipheredDataLength)

func controlReader() *readertest.Reader {
	cipher := func([]byte) []byte { return readertest.Respond(iso7816.SW_NO_ERROR, cipherBlock...) }
	return &readertest.Reader{Handler: readertest.ByInstruction(map[byte]readertest.Handler{
		byte(iso7816.INS_DATA_CIPHER):       cipher,
		byte(iso7816.INS_CARD_GENERATE_KEY): cipher,
	})}
}

func testContext(target *sam.State, control *readertest.Reader) Context {
	ctx := Context{Target: target, Log: zerolog.Nop()}
	if control != nil {
		ctx.Control = controlState()
		ctx.ControlReader = control
	}
	return ctx
}
