package samcmd

import (
	"github.com/pkg/errors"

	"github.com/gregLibert/calypso-sam/pkg/iso7816"
)

// CipheredDataLength is the size of the ciphered block written to a target SAM.
const CipheredDataLength = 48

// DataCipher asks a control SAM to cipher a plaintext for a target SAM, under the
// target's key (cipheringKif, cipheringKvc) diversified with the selected diversifier.
type DataCipher struct {
	base
}

func NewDataCipher(ctx Context, cipheringKif, cipheringKvc byte, plaintext []byte) (*DataCipher, error) {
	if len(plaintext) == 0 || len(plaintext)+2 > iso7816.MaxShortLc {
		return nil, errors.Errorf("data cipher: plaintext length %d out of range", len(plaintext))
	}
	data := append([]byte{cipheringKif, cipheringKvc}, plaintext...)
	return &DataCipher{base: newBase(KindDataCipher, ctx, iso7816.INS_DATA_CIPHER, 0x00, 0x00, data, CipheredDataLength)}, nil
}

// GenerateKey asks a control SAM to export one of its keys ciphered for a target SAM.
type GenerateKey struct {
	base
}

func NewGenerateKey(ctx Context, cipheringKif, cipheringKvc, sourceKif, sourceKvc byte, params []byte) (*GenerateKey, error) {
	if len(params) > 10 {
		return nil, errors.Errorf("generate key: at most 10 parameters, got %d", len(params))
	}
	data := append([]byte{cipheringKif, cipheringKvc, sourceKif, sourceKvc}, params...)
	return &GenerateKey{base: newBase(KindGenerateKey, ctx, iso7816.INS_CARD_GENERATE_KEY, 0xFF, 0x00, data, CipheredDataLength)}, nil
}

// PinLength is the size of a Calypso card PIN.
const PinLength = 4

// CardCipherPin ciphers a PIN for a card PIN verification or update. A GIVE RANDOM
// with the card challenge must precede it.
type CardCipherPin struct {
	base
}

// NewCardCipherPin builds a verification when newPin is nil and an update otherwise.
func NewCardCipherPin(ctx Context, kif, kvc byte, currentPin, newPin []byte) (*CardCipherPin, error) {
	if len(currentPin) != PinLength || (newPin != nil && len(newPin) != PinLength) {
		return nil, errors.Errorf("card cipher pin: PIN must be %d bytes", PinLength)
	}
	p1, ne := byte(0x40), 8
	data := append([]byte{kif, kvc}, currentPin...)
	if newPin != nil {
		p1, ne = 0x80, 16
		data = append(data, newPin...)
	}
	return &CardCipherPin{base: newBase(KindCardCipherPin, ctx, iso7816.INS_CARD_CIPHER_PIN, p1, 0xFF, data, ne)}, nil
}

// PsoComputeSignature signs a message with a SAM key.
type PsoComputeSignature struct {
	base
}

// NewPsoComputeSignature builds a signature request returning signatureLength bytes.
func NewPsoComputeSignature(ctx Context, kif, kvc byte, message []byte, signatureLength int) (*PsoComputeSignature, error) {
	if signatureLength < 1 || signatureLength > 8 {
		return nil, errors.Errorf("pso compute signature: signature length %d out of range", signatureLength)
	}
	if len(message) == 0 || len(message)+2 > iso7816.MaxShortLc {
		return nil, errors.Errorf("pso compute signature: message length %d out of range", len(message))
	}
	data := append([]byte{kif, kvc}, message...)
	return &PsoComputeSignature{base: newBase(KindPsoComputeSignature, ctx, iso7816.INS_PSO, 0x9E, 0x9A, data, signatureLength)}, nil
}

// AllowUnsigned accepts the "data not signed" warning as a success for this request.
func (c *PsoComputeSignature) AllowUnsigned() {
	c.AllowStatusWords(iso7816.SW_WARN_NO_INFO)
}

// Signed tells whether the SAM actually signed the message.
func (c *PsoComputeSignature) Signed() bool {
	return c.response != nil && c.response.Status == iso7816.SW_NO_ERROR
}

// PsoVerifySignature checks a signature with a SAM key.
type PsoVerifySignature struct {
	base
}

func NewPsoVerifySignature(ctx Context, kif, kvc byte, message, signature []byte) (*PsoVerifySignature, error) {
	if len(signature) < 1 || len(signature) > 8 {
		return nil, errors.Errorf("pso verify signature: signature length %d out of range", len(signature))
	}
	if len(message) == 0 || len(message)+len(signature)+2 > iso7816.MaxShortLc {
		return nil, errors.Errorf("pso verify signature: message length %d out of range", len(message))
	}
	data := append([]byte{kif, kvc}, message...)
	data = append(data, signature...)
	return &PsoVerifySignature{base: newBase(KindPsoVerifySignature, ctx, iso7816.INS_PSO, 0x00, 0xA8, data, 0)}, nil
}
