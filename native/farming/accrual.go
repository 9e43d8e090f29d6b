package farming

import "math/big"

// accrue advances the farm's reward accounting from LastAccrual to now,
// distributing the emitted span across totalStaked units. The farm is
// mutated in place; callers pass a clone and persist it on success.
//
// Emission pays out the remaining budget linearly over the remaining window:
// rate = RemainingReward / (EndTime - LastAccrual), truncating. The span past
// EndTime emits nothing, but LastAccrual still advances to now so repeated
// calls settle to a fixed point. The result depends only on the bounds of the
// accrued span, never on how many calls covered it.
//
// A farm still at SchemaAccrualPending adopts the observed reward balance as
// its budget the first time accrual reaches the emission path: the
// accumulator resets, LastAccrual rewinds to StartTime and the schema
// advances. The rewound timestamp participates in the same call, so the span
// from StartTime to now is emitted to the stakers present at adoption. The
// returned flag reports whether that adoption happened.
func accrue(farm *Farm, now int64, totalStaked, rewardBalance *big.Int) bool {
	if now <= farm.LastAccrual {
		return false
	}
	if totalStaked == nil || totalStaked.Sign() == 0 {
		farm.LastAccrual = now
		return false
	}

	adopted := false
	if farm.SchemaVersion == SchemaAccrualPending {
		if rewardBalance != nil {
			farm.RemainingReward = new(big.Int).Set(rewardBalance)
		} else {
			farm.RemainingReward = big.NewInt(0)
		}
		farm.AccRewardPerShare = big.NewInt(0)
		farm.LastAccrual = farm.StartTime
		farm.SchemaVersion = SchemaAccrualInitialized
		adopted = true
	}

	cutoff := now
	if cutoff > farm.EndTime {
		cutoff = farm.EndTime
	}
	if cutoff > farm.LastAccrual {
		elapsed := big.NewInt(cutoff - farm.LastAccrual)
		duration := big.NewInt(farm.EndTime - farm.LastAccrual)
		rate := new(big.Int).Quo(farm.RemainingReward, duration)
		emitted := new(big.Int).Mul(elapsed, rate)
		if emitted.Cmp(farm.RemainingReward) > 0 {
			emitted.Set(farm.RemainingReward)
		}
		farm.RemainingReward = new(big.Int).Sub(farm.RemainingReward, emitted)
		delta := new(big.Int).Mul(emitted, RewardScale)
		delta.Quo(delta, totalStaked)
		farm.AccRewardPerShare = new(big.Int).Add(farm.AccRewardPerShare, delta)
	}
	farm.LastAccrual = now
	return adopted
}
