package farming

import (
	"fmt"
	"math/big"
)

// splitHarvestFee divides a gross harvest payout into the protocol fee and
// the staker's net share. The fee truncates toward zero, so the staker keeps
// every unit the ratio does not reach.
func splitHarvestFee(gross *big.Int, numerator, denominator uint64) (fee, net *big.Int, err error) {
	if denominator == 0 {
		return nil, nil, fmt.Errorf("%w: harvest fee denominator must not be zero", ErrInvalidParams)
	}
	fee = new(big.Int).Mul(gross, new(big.Int).SetUint64(numerator))
	fee.Quo(fee, new(big.Int).SetUint64(denominator))
	net = new(big.Int).Sub(gross, fee)
	return fee, net, nil
}
