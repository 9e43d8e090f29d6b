package farming

import (
	"fmt"
	"math/big"
)

// Params is the injected global configuration of the farming module. Hosts
// load it from their configuration surface and hand it to the engine; nothing
// in the core reads identities or fee schedules from anywhere else.
type Params struct {
	// CreationFee is the flat amount, denominated in FeeToken, that opens a
	// farm's fee gate.
	CreationFee *big.Int
	// FeeToken is the token the creation fee is paid in.
	FeeToken string
	// HarvestFeeNumerator and HarvestFeeDenominator define the protocol cut
	// taken from every harvest payout.
	HarvestFeeNumerator   uint64
	HarvestFeeDenominator uint64
	// FeeCollector receives creation fees and harvest fees.
	FeeCollector [20]byte
	// FeeExemptTokens lists tokens whose farms start with the fee gate open.
	FeeExemptTokens []string
	// ReservedTokens lists tokens whose farms may only be created by
	// PermittedCreators.
	ReservedTokens []string
	// PermittedCreators may open farms over reserved tokens. Creation is
	// otherwise open to anyone.
	PermittedCreators [][20]byte
	// Version is the parameter schema version.
	Version uint8
}

// Clone returns a deep copy of the parameter set.
func (p Params) Clone() Params {
	clone := p
	if p.CreationFee != nil {
		clone.CreationFee = new(big.Int).Set(p.CreationFee)
	} else {
		clone.CreationFee = big.NewInt(0)
	}
	clone.FeeExemptTokens = append([]string(nil), p.FeeExemptTokens...)
	clone.ReservedTokens = append([]string(nil), p.ReservedTokens...)
	clone.PermittedCreators = append([][20]byte(nil), p.PermittedCreators...)
	return clone
}

// Validate normalises and checks the parameter set. It returns the canonical
// form with upper-cased token symbols, or an error describing the first
// violation.
func (p Params) Validate() (Params, error) {
	clone := p.Clone()
	if clone.CreationFee.Sign() < 0 {
		return Params{}, fmt.Errorf("%w: creation fee must be non-negative", ErrInvalidParams)
	}
	feeToken, err := NormalizeToken(clone.FeeToken)
	if err != nil {
		return Params{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	clone.FeeToken = feeToken
	if clone.HarvestFeeDenominator == 0 {
		return Params{}, fmt.Errorf("%w: harvest fee denominator must not be zero", ErrInvalidParams)
	}
	if clone.HarvestFeeNumerator > clone.HarvestFeeDenominator {
		return Params{}, fmt.Errorf("%w: harvest fee must not exceed the whole", ErrInvalidParams)
	}
	if clone.FeeCollector == ([20]byte{}) {
		return Params{}, fmt.Errorf("%w: fee collector must be set", ErrInvalidParams)
	}
	for i, symbol := range clone.FeeExemptTokens {
		normalized, err := NormalizeToken(symbol)
		if err != nil {
			return Params{}, fmt.Errorf("%w: fee exempt token %d: %v", ErrInvalidParams, i, err)
		}
		clone.FeeExemptTokens[i] = normalized
	}
	for i, symbol := range clone.ReservedTokens {
		normalized, err := NormalizeToken(symbol)
		if err != nil {
			return Params{}, fmt.Errorf("%w: reserved token %d: %v", ErrInvalidParams, i, err)
		}
		clone.ReservedTokens[i] = normalized
	}
	if clone.Version != ParamsVersion {
		return Params{}, fmt.Errorf("%w: unsupported parameter version %d", ErrInvalidParams, clone.Version)
	}
	return clone, nil
}

// FeeExempt reports whether farms over the provided token open with the fee
// gate already paid.
func (p Params) FeeExempt(token string) bool {
	return containsToken(p.FeeExemptTokens, token)
}

// TokenReserved reports whether the provided token requires a permitted
// creator.
func (p Params) TokenReserved(token string) bool {
	return containsToken(p.ReservedTokens, token)
}

// CreatorPermitted reports whether the address may open farms over reserved
// tokens.
func (p Params) CreatorPermitted(addr [20]byte) bool {
	for _, permitted := range p.PermittedCreators {
		if permitted == addr {
			return true
		}
	}
	return false
}

func containsToken(list []string, token string) bool {
	normalized, err := NormalizeToken(token)
	if err != nil {
		return false
	}
	for _, candidate := range list {
		if candidate == normalized {
			return true
		}
	}
	return false
}
