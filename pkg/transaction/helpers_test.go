package transaction

import (
	"bytes"

	"github.com/gregLibert/calypso-sam/pkg/bits"
	"github.com/gregLibert/calypso-sam/pkg/iso7816"
	"github.com/gregLibert/calypso-sam/pkg/reader/readertest"
	"github.com/gregLibert/calypso-sam/pkg/sam"
	"github.com/gregLibert/calypso-sam/pkg/samcmd"
)

var (
	targetSerial  = []byte{0x11, 0x22, 0x33, 0x44}
	controlSerial = []byte{0xC0, 0x01, 0x02, 0x03}
	cipherBlock   = bytes.Repeat([]byte{0xC5}, samcmd.CipheredDataLength)
)

// Keys of the scripted target SAM: KIF -> (KVC, counter number).
var targetKeys = map[byte][2]byte{
	byte(sam.RolePersonalization): {0x21, 5},
	byte(sam.RoleKeyManagement):   {0x30, 20},
}

// Counter values of the scripted target SAM. Others are 0.
var targetCounters = map[int]uint32{5: 41, 20: 9}

// Ceilings of the scripted target SAM, all with free counting off except counter 7.
var targetCeilings = map[int]uint32{5: 500, 6: 600, 7: 700}

// targetReader answers like a static mode SAM C1 holding targetKeys and
// targetCounters. GET CHALLENGE returns 8 bytes counting from 0xA0.
func targetReader() *readertest.Reader {
	next := byte(0xA0)
	return &readertest.Reader{Handler: readertest.ByInstruction(map[byte]readertest.Handler{
		byte(iso7816.INS_READ_KEY_PARAMETERS): func(req []byte) []byte {
			kif := req[5]
			k, ok := targetKeys[kif]
			if !ok {
				return readertest.Respond(iso7816.SW_ERR_RECORD_NOT_FOUND)
			}
			p := sam.KeyParameter{KIF: kif, KVC: k[0], ALG: 0x90}
			p.PAR[3] = k[1]
			return readertest.Respond(iso7816.SW_NO_ERROR, p.Bytes()...)
		},
		byte(iso7816.INS_READ_EVENT_COUNTER): func(req []byte) []byte {
			var data []byte
			if p2 := req[3]; p2 >= 0xE1 {
				for slot := 0; slot < sam.CountersPerRecord; slot++ {
					data = bits.AppendUint24(data, targetCounters[sam.CounterAt(int(p2-0xE1), slot)])
				}
			} else {
				flags := make([]bool, sam.CountersPerRecord)
				for slot := 0; slot < sam.CountersPerRecord; slot++ {
					n := sam.CounterAt(int(p2-0xB1), slot)
					data = bits.AppendUint24(data, targetCeilings[n])
					flags[slot] = n == 7
				}
				data = append(data, bits.Mask24(flags)...)
			}
			return readertest.Respond(iso7816.SW_NO_ERROR, data...)
		},
		byte(iso7816.INS_GET_CHALLENGE): func([]byte) []byte {
			challenge := bytes.Repeat([]byte{next}, samcmd.ChallengeLength)
			next++
			return readertest.Respond(iso7816.SW_NO_ERROR, challenge...)
		},
	})}
}

// controlReader answers DATA CIPHER and CARD GENERATE KEY with cipherBlock.
func controlReader() *readertest.Reader {
	cipher := func([]byte) []byte { return readertest.Respond(iso7816.SW_NO_ERROR, cipherBlock...) }
	return &readertest.Reader{Handler: readertest.ByInstruction(map[byte]readertest.Handler{
		byte(iso7816.INS_DATA_CIPHER):       cipher,
		byte(iso7816.INS_CARD_GENERATE_KEY): cipher,
	})}
}

func controlState() *sam.State {
	return sam.NewState(controlSerial, sam.SamC1, false)
}

// requestsWith returns the requests carrying ins.
func requestsWith(requests [][]byte, ins iso7816.InsCode) [][]byte {
	var out [][]byte
	for _, r := range requests {
		if len(r) > 1 && r[1] == byte(ins) {
			out = append(out, r)
		}
	}
	return out
}
