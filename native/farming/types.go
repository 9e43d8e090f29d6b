package farming

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"lukechampine.com/blake3"
)

// RewardScale is the fixed-point multiplier applied to the per-share
// accumulator. Accumulator values are reward units times RewardScale divided
// by staked units.
var RewardScale = big.NewInt(1_000_000_000)

// Farm schema versions. Every farm starts at SchemaAccrualPending; the first
// accrual that reaches the emission path adopts the observed reward balance
// as its budget and advances the farm to SchemaAccrualInitialized.
const (
	SchemaAccrualPending     uint8 = 0
	SchemaAccrualInitialized uint8 = 1
)

// ParamsVersion is the schema version of the global parameter set.
const ParamsVersion uint8 = 2

// MaxTokenSymbolLen bounds token symbols so they fit the fixed-width storage
// encoding.
const MaxTokenSymbolLen = 12

// RoleFarmAdmin gates the administrative reward drain.
const RoleFarmAdmin = "ROLE_FARM_ADMIN"

// FarmStatus is the lifecycle phase derived from the farm window and the
// current time. It is never stored.
type FarmStatus uint8

const (
	FarmNotStarted FarmStatus = iota
	FarmActive
	FarmEnded
)

// String returns the lowercase phase name used in RPC responses and events.
func (s FarmStatus) String() string {
	switch s {
	case FarmNotStarted:
		return "not_started"
	case FarmActive:
		return "active"
	case FarmEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Farm captures the reward schedule and accounting state of a single staking
// pool. Identity fields are fixed at creation; the accrual fields advance
// monotonically under the engine's control.
type Farm struct {
	ID                [32]byte
	Owner             [20]byte
	StakeToken        string
	RewardToken       string
	StakeVault        [20]byte
	RewardVault       [20]byte
	StartTime         int64
	EndTime           int64
	LastAccrual       int64
	RemainingReward   *big.Int
	AccRewardPerShare *big.Int
	FeePaid           bool
	SchemaVersion     uint8
}

// Clone returns a deep copy of the farm so callers can safely mutate the copy
// without affecting the stored instance.
func (f *Farm) Clone() *Farm {
	if f == nil {
		return nil
	}
	clone := *f
	if f.RemainingReward != nil {
		clone.RemainingReward = new(big.Int).Set(f.RemainingReward)
	} else {
		clone.RemainingReward = big.NewInt(0)
	}
	if f.AccRewardPerShare != nil {
		clone.AccRewardPerShare = new(big.Int).Set(f.AccRewardPerShare)
	} else {
		clone.AccRewardPerShare = big.NewInt(0)
	}
	return &clone
}

// StatusAt derives the lifecycle phase of the farm at the provided timestamp.
func (f *Farm) StatusAt(now int64) FarmStatus {
	switch {
	case now < f.StartTime:
		return FarmNotStarted
	case now > f.EndTime:
		return FarmEnded
	default:
		return FarmActive
	}
}

// Position tracks one staker's share of one farm. The farm and owner fields
// are cross-checked on every operation; a mismatch marks the record as
// foreign to the call and fails it.
type Position struct {
	Farm       [32]byte
	Owner      [20]byte
	Staked     *big.Int
	RewardDebt *big.Int
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Staked != nil {
		clone.Staked = new(big.Int).Set(p.Staked)
	} else {
		clone.Staked = big.NewInt(0)
	}
	if p.RewardDebt != nil {
		clone.RewardDebt = new(big.Int).Set(p.RewardDebt)
	} else {
		clone.RewardDebt = big.NewInt(0)
	}
	return &clone
}

// NormalizeToken canonicalises a token symbol to upper case and validates it
// against the storage constraints: non-empty, printable ASCII, at most
// MaxTokenSymbolLen bytes.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("farming: token symbol must not be empty")
	}
	if len(trimmed) > MaxTokenSymbolLen {
		return "", fmt.Errorf("farming: token symbol %s exceeds %d bytes", trimmed, MaxTokenSymbolLen)
	}
	for _, r := range trimmed {
		if r < '!' || r > '~' {
			return "", fmt.Errorf("farming: token symbol %s contains invalid characters", trimmed)
		}
	}
	return trimmed, nil
}

// DeriveFarmID computes the content-derived farm identifier from the creation
// parameters and the creator's farm sequence number.
func DeriveFarmID(creator [20]byte, stakeToken, rewardToken string, start, end int64, seq uint64) [32]byte {
	buf := make([]byte, 0, len(creator)+len(stakeToken)+len(rewardToken)+3*8+2)
	buf = append(buf, creator[:]...)
	buf = append(buf, stakeToken...)
	buf = append(buf, 0)
	buf = append(buf, rewardToken...)
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint64(buf, uint64(start))
	buf = binary.BigEndian.AppendUint64(buf, uint64(end))
	buf = binary.BigEndian.AppendUint64(buf, seq)
	return blake3.Sum256(buf)
}

// SanitizeFarm validates and normalises the supplied farm, returning a cloned
// instance with canonical token casing and non-nil accounting fields. The
// original value is not mutated.
func SanitizeFarm(f *Farm) (*Farm, error) {
	if f == nil {
		return nil, fmt.Errorf("farming: nil farm")
	}
	clone := f.Clone()
	stake, err := NormalizeToken(clone.StakeToken)
	if err != nil {
		return nil, err
	}
	reward, err := NormalizeToken(clone.RewardToken)
	if err != nil {
		return nil, err
	}
	clone.StakeToken = stake
	clone.RewardToken = reward
	if clone.EndTime <= clone.StartTime {
		return nil, fmt.Errorf("farming: farm window must end after it starts")
	}
	if clone.RemainingReward.Sign() < 0 {
		return nil, fmt.Errorf("farming: remaining reward must be non-negative")
	}
	if clone.AccRewardPerShare.Sign() < 0 {
		return nil, fmt.Errorf("farming: accumulator must be non-negative")
	}
	if clone.SchemaVersion > SchemaAccrualInitialized {
		return nil, fmt.Errorf("farming: unsupported farm schema version %d", clone.SchemaVersion)
	}
	return clone, nil
}
