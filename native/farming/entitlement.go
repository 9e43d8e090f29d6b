package farming

import (
	"fmt"
	"math/big"
)

// pendingReward computes the claimable reward for a position against the
// farm's current accumulator, capped at the live reward vault balance. A
// negative raw entitlement means the stored debt no longer matches the
// accumulator history and is fatal.
func pendingReward(farm *Farm, position *Position, rewardBalance *big.Int) (*big.Int, error) {
	raw := new(big.Int).Mul(position.Staked, farm.AccRewardPerShare)
	raw.Quo(raw, RewardScale)
	claimable := raw.Sub(raw, position.RewardDebt)
	if claimable.Sign() < 0 {
		return nil, fmt.Errorf("%w: entitlement below reward debt", ErrArithmetic)
	}
	if rewardBalance != nil && claimable.Cmp(rewardBalance) > 0 {
		claimable.Set(rewardBalance)
	}
	return claimable, nil
}

// rebaseline resets the position's reward debt to the current accumulator
// baseline. Called after every stake change so the position only earns from
// accumulator growth past this point.
func rebaseline(position *Position, farm *Farm) {
	debt := new(big.Int).Mul(position.Staked, farm.AccRewardPerShare)
	debt.Quo(debt, RewardScale)
	position.RewardDebt = debt
}
