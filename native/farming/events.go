package farming

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"farmnet/core/types"
	"farmnet/crypto"
)

const (
	// TypeFarmCreated is emitted once per farm at creation.
	TypeFarmCreated = "farming.farm.created"
	// TypeFarmDeposited captures a stake increase (including zero-amount
	// harvest-only deposits).
	TypeFarmDeposited = "farming.deposited"
	// TypeFarmWithdrawn captures a stake decrease.
	TypeFarmWithdrawn = "farming.withdrawn"
	// TypeFarmHarvested captures a reward payout with its fee split.
	TypeFarmHarvested = "farming.harvested"
	// TypeFarmRewardsAdded captures a budget top-up by the farm owner.
	TypeFarmRewardsAdded = "farming.rewards.added"
	// TypeFarmFeePaid captures a creation fee payment opening the fee gate.
	TypeFarmFeePaid = "farming.fee.paid"
	// TypeFarmDrained captures an administrative sweep of the reward vault.
	TypeFarmDrained = "farming.drained"
	// TypeFarmBudgetAdopted is emitted when a schema-0 farm adopts its
	// observed reward balance as budget on first accrual.
	TypeFarmBudgetAdopted = "farming.migrated"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddr(addr [20]byte) string {
	return crypto.AddressFromBytes(addr).String()
}

// FarmCreated announces a newly created farm.
type FarmCreated struct {
	Farm *Farm
}

// EventType satisfies the Event interface.
func (FarmCreated) EventType() string { return TypeFarmCreated }

// Event converts the structured payload into a broadcastable event.
func (e FarmCreated) Event() *types.Event {
	attrs := make(map[string]string)
	if e.Farm == nil {
		return &types.Event{Type: TypeFarmCreated, Attributes: attrs}
	}
	attrs["farmId"] = hex.EncodeToString(e.Farm.ID[:])
	attrs["owner"] = formatAddr(e.Farm.Owner)
	attrs["stakeToken"] = e.Farm.StakeToken
	attrs["rewardToken"] = e.Farm.RewardToken
	attrs["stakeVault"] = formatAddr(e.Farm.StakeVault)
	attrs["rewardVault"] = formatAddr(e.Farm.RewardVault)
	attrs["start"] = strconv.FormatInt(e.Farm.StartTime, 10)
	attrs["end"] = strconv.FormatInt(e.Farm.EndTime, 10)
	attrs["feePaid"] = strconv.FormatBool(e.Farm.FeePaid)
	return &types.Event{Type: TypeFarmCreated, Attributes: attrs}
}

// FarmDeposited captures a completed deposit.
type FarmDeposited struct {
	FarmID [32]byte
	Staker [20]byte
	Amount *big.Int
	Staked *big.Int
}

// EventType satisfies the Event interface.
func (FarmDeposited) EventType() string { return TypeFarmDeposited }

// Event converts the structured payload into a broadcastable event.
func (e FarmDeposited) Event() *types.Event {
	attrs := map[string]string{
		"farmId": hex.EncodeToString(e.FarmID[:]),
		"staker": formatAddr(e.Staker),
		"amount": formatAmount(e.Amount),
		"staked": formatAmount(e.Staked),
	}
	return &types.Event{Type: TypeFarmDeposited, Attributes: attrs}
}

// FarmWithdrawn captures a completed withdrawal.
type FarmWithdrawn struct {
	FarmID [32]byte
	Staker [20]byte
	Amount *big.Int
	Staked *big.Int
}

// EventType satisfies the Event interface.
func (FarmWithdrawn) EventType() string { return TypeFarmWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e FarmWithdrawn) Event() *types.Event {
	attrs := map[string]string{
		"farmId": hex.EncodeToString(e.FarmID[:]),
		"staker": formatAddr(e.Staker),
		"amount": formatAmount(e.Amount),
		"staked": formatAmount(e.Staked),
	}
	return &types.Event{Type: TypeFarmWithdrawn, Attributes: attrs}
}

// FarmHarvested captures a reward payout and its fee split.
type FarmHarvested struct {
	FarmID [32]byte
	Staker [20]byte
	Gross  *big.Int
	Fee    *big.Int
	Net    *big.Int
}

// EventType satisfies the Event interface.
func (FarmHarvested) EventType() string { return TypeFarmHarvested }

// Event converts the structured payload into a broadcastable event.
func (e FarmHarvested) Event() *types.Event {
	attrs := map[string]string{
		"farmId": hex.EncodeToString(e.FarmID[:]),
		"staker": formatAddr(e.Staker),
		"gross":  formatAmount(e.Gross),
		"fee":    formatAmount(e.Fee),
		"net":    formatAmount(e.Net),
	}
	return &types.Event{Type: TypeFarmHarvested, Attributes: attrs}
}

// FarmRewardsAdded captures a reward budget top-up.
type FarmRewardsAdded struct {
	FarmID    [32]byte
	Funder    [20]byte
	Amount    *big.Int
	Remaining *big.Int
}

// EventType satisfies the Event interface.
func (FarmRewardsAdded) EventType() string { return TypeFarmRewardsAdded }

// Event converts the structured payload into a broadcastable event.
func (e FarmRewardsAdded) Event() *types.Event {
	attrs := map[string]string{
		"farmId":    hex.EncodeToString(e.FarmID[:]),
		"funder":    formatAddr(e.Funder),
		"amount":    formatAmount(e.Amount),
		"remaining": formatAmount(e.Remaining),
	}
	return &types.Event{Type: TypeFarmRewardsAdded, Attributes: attrs}
}

// FarmFeePaid captures a creation fee payment.
type FarmFeePaid struct {
	FarmID [32]byte
	Payer  [20]byte
	Amount *big.Int
}

// EventType satisfies the Event interface.
func (FarmFeePaid) EventType() string { return TypeFarmFeePaid }

// Event converts the structured payload into a broadcastable event.
func (e FarmFeePaid) Event() *types.Event {
	attrs := map[string]string{
		"farmId": hex.EncodeToString(e.FarmID[:]),
		"payer":  formatAddr(e.Payer),
		"amount": formatAmount(e.Amount),
	}
	return &types.Event{Type: TypeFarmFeePaid, Attributes: attrs}
}

// FarmDrained captures an administrative reward vault sweep.
type FarmDrained struct {
	FarmID    [32]byte
	Recipient [20]byte
	Amount    *big.Int
	Remaining *big.Int
}

// EventType satisfies the Event interface.
func (FarmDrained) EventType() string { return TypeFarmDrained }

// Event converts the structured payload into a broadcastable event.
func (e FarmDrained) Event() *types.Event {
	attrs := map[string]string{
		"farmId":    hex.EncodeToString(e.FarmID[:]),
		"recipient": formatAddr(e.Recipient),
		"amount":    formatAmount(e.Amount),
		"remaining": formatAmount(e.Remaining),
	}
	return &types.Event{Type: TypeFarmDrained, Attributes: attrs}
}

// FarmBudgetAdopted captures a schema-0 farm adopting its observed reward
// balance as the emission budget.
type FarmBudgetAdopted struct {
	FarmID [32]byte
	Budget *big.Int
}

// EventType satisfies the Event interface.
func (FarmBudgetAdopted) EventType() string { return TypeFarmBudgetAdopted }

// Event converts the structured payload into a broadcastable event.
func (e FarmBudgetAdopted) Event() *types.Event {
	attrs := map[string]string{
		"farmId": hex.EncodeToString(e.FarmID[:]),
		"budget": formatAmount(e.Budget),
	}
	return &types.Event{Type: TypeFarmBudgetAdopted, Attributes: attrs}
}
