package samcmd

import (
	"github.com/pkg/errors"

	"github.com/gregLibert/calypso-sam/pkg/iso7816"
)

// ChallengeLength is the size of the challenges exchanged with a SAM.
const ChallengeLength = 8

// GetChallenge asks the SAM for a random challenge and stores it as the SAM's
// pending challenge.
type GetChallenge struct {
	base
}

func NewGetChallenge(ctx Context, length int) *GetChallenge {
	c := &GetChallenge{base: newBase(KindGetChallenge, ctx, iso7816.INS_GET_CHALLENGE, 0x00, 0x00, nil, length)}
	c.extract = func(data []byte) error {
		if ctx.Target != nil {
			ctx.Target.SetChallenge(data)
		}
		return nil
	}
	return c
}

// GiveRandom hands a challenge (from a card or another SAM) to the SAM.
type GiveRandom struct {
	base
}

func NewGiveRandom(ctx Context, random []byte) *GiveRandom {
	return &GiveRandom{base: newBase(KindGiveRandom, ctx, iso7816.INS_GIVE_RANDOM, 0x00, 0x00, random, 0)}
}

// SelectDiversifier sets the diversifier used by the following key operations.
type SelectDiversifier struct {
	base
}

func NewSelectDiversifier(ctx Context, diversifier []byte) (*SelectDiversifier, error) {
	if len(diversifier) != 4 && len(diversifier) != 8 {
		return nil, errors.Errorf("diversifier must be 4 or 8 bytes, got %d", len(diversifier))
	}
	c := &SelectDiversifier{base: newBase(KindSelectDiversifier, ctx, iso7816.INS_SELECT_DIVERSIFIER, 0x00, 0x00, diversifier, 0)}
	c.extract = func([]byte) error {
		if ctx.Target != nil {
			ctx.Target.SetLastDiversifier(diversifier)
		}
		return nil
	}
	return c, nil
}
