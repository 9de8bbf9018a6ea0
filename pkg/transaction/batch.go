package transaction

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/gregLibert/calypso-sam/pkg/sam"
	"github.com/gregLibert/calypso-sam/pkg/samcmd"
	"github.com/gregLibert/calypso-sam/pkg/tlv"
)

// Batch is a list of finalized target SAM commands bound to the SAM they were
// prepared for. Its BER-TLV encoding is
//
//	E0 { C0 serial, E1 { 80 kind, 81 P1, 82 P2, 83 data }, E1 { ... } ... }
//
// Commands are rebuilt from their kind only, through samcmd.Decode.
type Batch struct {
	Serial   []byte
	Commands []samcmd.Encoded
}

type batchEnvelope struct {
	Batch batchRecord `tlv:"E0"`
}

type batchRecord struct {
	Serial   []byte         `tlv:"C0"`
	Commands []batchCommand `tlv:"E1"`
}

type batchCommand struct {
	Kind []byte `tlv:"80"`
	P1   []byte `tlv:"81"`
	P2   []byte `tlv:"82"`
	Data []byte `tlv:"83"`
}

func (b *Batch) MarshalBinary() ([]byte, error) {
	if len(b.Serial) != sam.SerialLength {
		return nil, errors.Errorf("serial number must be %d bytes, got %d", sam.SerialLength, len(b.Serial))
	}
	rec := batchRecord{Serial: b.Serial}
	for _, c := range b.Commands {
		rec.Commands = append(rec.Commands, batchCommand{
			Kind: []byte{byte(c.Kind)},
			P1:   []byte{c.P1},
			P2:   []byte{c.P2},
			Data: c.Data,
		})
	}
	return tlv.Marshal(batchEnvelope{Batch: rec})
}

// UnmarshalBatch decodes the output of MarshalBinary. The batch may come from an
// untrusted channel: unknown tags and malformed entries are rejected. Command kinds
// are checked when the commands are decoded.
func UnmarshalBatch(data []byte) (*Batch, error) {
	var env batchEnvelope
	if err := tlv.UnmarshalStrict(data, &env); err != nil {
		return nil, errors.Wrap(err, "decode batch")
	}

	rec := env.Batch
	if len(rec.Serial) != sam.SerialLength {
		return nil, errors.Errorf("serial number must be %d bytes, got %d", sam.SerialLength, len(rec.Serial))
	}

	b := &Batch{Serial: rec.Serial}
	for i, c := range rec.Commands {
		if len(c.Kind) != 1 || len(c.P1) != 1 || len(c.P2) != 1 {
			return nil, errors.Errorf("batch command %d: malformed header", i)
		}
		b.Commands = append(b.Commands, samcmd.Encoded{
			Kind: samcmd.Kind(c.Kind[0]),
			P1:   c.P1[0],
			P2:   c.P2[0],
			Data: c.Data,
		})
	}
	return b, nil
}

// Describe renders the batch field by field.
func (b *Batch) Describe() string {
	raw, err := b.MarshalBinary()
	if err != nil {
		return "invalid batch: " + err.Error()
	}
	var env batchEnvelope
	if err := tlv.Unmarshal(raw, &env); err != nil {
		return "invalid batch: " + err.Error()
	}

	var sb strings.Builder
	sb.WriteString("Target SAM Batch")
	tlv.WriteStructFields(&sb, "Batch", env.Batch)
	for i, c := range env.Batch.Commands {
		fmt.Fprintf(&sb, "\n  Command %d: %s", i, samcmd.Kind(c.Kind[0]))
		tlv.WriteStructFields(&sb, "Command", c)
	}
	return sb.String()
}
