// Package sam models what the terminal knows about one Calypso SAM: its identity,
// event counters and ceilings, system key parameters, and the one-shot challenge
// drawn from it.
//
// A State is created when the SAM is identified and is only mutated by successfully
// parsed command responses (package samcmd). A Snapshot is the serializable subset of
// a target SAM State used to prepare write commands while that SAM is offline.
package sam

import (
	"fmt"
	"strings"

	"github.com/gregLibert/calypso-sam/pkg/iso7816"
)

// ProductType is the SAM product family. It drives the class byte, the APDU payload
// limit and the optional features of the digest protocol.
type ProductType int

const (
	ProductUnknown ProductType = iota
	SamC1
	HsmC1
	SamS1E1
	SamS1Dx
)

var productNames = map[ProductType]string{
	ProductUnknown: "UNKNOWN",
	SamC1:          "SAM_C1",
	HsmC1:          "HSM_C1",
	SamS1E1:        "SAM_S1E1",
	SamS1Dx:        "SAM_S1DX",
}

func (p ProductType) String() string {
	if name, ok := productNames[p]; ok {
		return name
	}
	return fmt.Sprintf("ProductType(%d)", int(p))
}

// ParseProductType accepts the names printed by String, case insensitive.
func ParseProductType(s string) (ProductType, error) {
	for p, name := range productNames {
		if p != ProductUnknown && strings.EqualFold(name, s) {
			return p, nil
		}
	}
	return ProductUnknown, fmt.Errorf("unknown SAM product type %q", s)
}

// Class returns the CLA byte the product answers to.
func (p ProductType) Class() iso7816.Class {
	switch p {
	case SamS1E1, SamS1Dx:
		return iso7816.ClassSAMLegacy
	default:
		return iso7816.ClassSAMC1
	}
}

// MaxPayload is the largest data field the product accepts in one command.
func (p ProductType) MaxPayload() int {
	switch p {
	case SamS1E1, SamS1Dx:
		return 164
	default:
		return iso7816.MaxShortLc
	}
}

// SupportsDigestUpdateMultiple tells whether several digest entries may be packed in
// one DIGEST UPDATE.
func (p ProductType) SupportsDigestUpdateMultiple() bool {
	return p == SamC1 || p == HsmC1
}

// SupportsExtendedMode tells whether 8-byte session MACs and terminal signatures
// are available.
func (p ProductType) SupportsExtendedMode() bool {
	return p == SamC1 || p == HsmC1
}
