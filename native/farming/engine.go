package farming

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"farmnet/core/events"
	"farmnet/native/common"
)

// moduleName is the pause-toggle key for every mutating farming operation.
const moduleName = "farming"

type engineState interface {
	FarmPut(*Farm) error
	FarmGet(id [32]byte) (*Farm, bool)
	FarmIndexAppend(id [32]byte) error
	FarmIndex() ([][32]byte, error)
	PositionPut(*Position) error
	PositionGet(farmID [32]byte, owner [20]byte) (*Position, bool)
	NextFarmNonce(creator [20]byte) (uint64, error)
	FarmStakeVaultAddress(id [32]byte) ([20]byte, error)
	FarmRewardVaultAddress(id [32]byte) ([20]byte, error)
	Balance(addr []byte, token string) (*big.Int, error)
	Transfer(token string, from, to []byte, amount *big.Int) error
	TokenExists(token string) bool
	HasRole(role string, addr []byte) bool
}

// Engine wires the farming ledger logic with external state, configuration
// and event emitters. All timestamp math flows through the injected clock so
// hosts and tests control time.
type Engine struct {
	state   engineState
	emitter events.Emitter
	params  Params
	pauses  common.PauseView
	nowFn   func() int64
}

// NewEngine creates a farming engine with a no-op emitter and the wall clock.
// Callers override collaborators via the Set methods.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetParams configures the global farming parameters.
func (e *Engine) SetParams(p Params) { e.params = p.Clone() }

// SetPauses configures the pause view consulted before every mutation.
func (e *Engine) SetPauses(view common.PauseView) { e.pauses = view }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return common.Guard(e.pauses, moduleName)
}

func (e *Engine) loadFarm(id [32]byte) (*Farm, error) {
	farm, ok := e.state.FarmGet(id)
	if !ok {
		return nil, ErrFarmNotFound
	}
	return farm, nil
}

func (e *Engine) loadPosition(farm *Farm, owner [20]byte) (*Position, error) {
	pos, ok := e.state.PositionGet(farm.ID, owner)
	if !ok {
		return nil, ErrPositionNotFound
	}
	if pos.Farm != farm.ID || pos.Owner != owner {
		return nil, ErrFarmMismatch
	}
	return pos, nil
}

func (e *Engine) stakedBalance(farm *Farm) (*big.Int, error) {
	return e.state.Balance(farm.StakeVault[:], farm.StakeToken)
}

func (e *Engine) rewardBalance(farm *Farm) (*big.Int, error) {
	return e.state.Balance(farm.RewardVault[:], farm.RewardToken)
}

// accrueFarm advances the farm to now against the live vault balances and
// reports the emission-budget adoption event when a schema-0 farm
// initialises.
func (e *Engine) accrueFarm(farm *Farm, now int64) error {
	staked, err := e.stakedBalance(farm)
	if err != nil {
		return err
	}
	rewards, err := e.rewardBalance(farm)
	if err != nil {
		return err
	}
	if accrue(farm, now, staked, rewards) {
		e.emit(FarmBudgetAdopted{FarmID: farm.ID, Budget: cloneBigInt(farm.RemainingReward)})
	}
	return nil
}

// harvest settles the position's claimable reward: the protocol fee moves to
// the collector, the remainder to the staker, and the debt baseline advances
// by the gross amount. A zero entitlement leaves everything untouched.
func (e *Engine) harvest(farm *Farm, pos *Position, staker [20]byte) error {
	rewards, err := e.rewardBalance(farm)
	if err != nil {
		return err
	}
	pending, err := pendingReward(farm, pos, rewards)
	if err != nil {
		return err
	}
	if pending.Sign() == 0 {
		return nil
	}
	fee, net, err := splitHarvestFee(pending, e.params.HarvestFeeNumerator, e.params.HarvestFeeDenominator)
	if err != nil {
		return err
	}
	if err := e.state.Transfer(farm.RewardToken, farm.RewardVault[:], e.params.FeeCollector[:], fee); err != nil {
		return err
	}
	if err := e.state.Transfer(farm.RewardToken, farm.RewardVault[:], staker[:], net); err != nil {
		return err
	}
	pos.RewardDebt = new(big.Int).Add(pos.RewardDebt, pending)
	e.emit(FarmHarvested{FarmID: farm.ID, Staker: staker, Gross: pending, Fee: fee, Net: net})
	return nil
}

// CreateFarm registers a new farm over the provided token pair and window.
// Farms over reserved tokens require a permitted creator; anyone may open
// any other farm. The farm starts unfunded with the fee gate closed unless a
// token is fee exempt.
func (e *Engine) CreateFarm(creator [20]byte, stakeToken, rewardToken string, start, end int64) (*Farm, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	stake, err := NormalizeToken(stakeToken)
	if err != nil {
		return nil, err
	}
	reward, err := NormalizeToken(rewardToken)
	if err != nil {
		return nil, err
	}
	if !e.state.TokenExists(stake) {
		return nil, fmt.Errorf("%w: %s", ErrTokenUnknown, stake)
	}
	if !e.state.TokenExists(reward) {
		return nil, fmt.Errorf("%w: %s", ErrTokenUnknown, reward)
	}
	if end <= start {
		return nil, ErrInvalidWindow
	}
	if e.params.TokenReserved(stake) || e.params.TokenReserved(reward) {
		if !e.params.CreatorPermitted(creator) {
			return nil, fmt.Errorf("%w: reserved token farm requires a permitted creator", ErrUnauthorized)
		}
	}
	nonce, err := e.state.NextFarmNonce(creator)
	if err != nil {
		return nil, err
	}
	id := DeriveFarmID(creator, stake, reward, start, end, nonce)
	if _, ok := e.state.FarmGet(id); ok {
		return nil, fmt.Errorf("farming: farm %x already exists", id)
	}
	stakeVault, err := e.state.FarmStakeVaultAddress(id)
	if err != nil {
		return nil, err
	}
	rewardVault, err := e.state.FarmRewardVaultAddress(id)
	if err != nil {
		return nil, err
	}
	farm := &Farm{
		ID:                id,
		Owner:             creator,
		StakeToken:        stake,
		RewardToken:       reward,
		StakeVault:        stakeVault,
		RewardVault:       rewardVault,
		StartTime:         start,
		EndTime:           end,
		LastAccrual:       start,
		RemainingReward:   big.NewInt(0),
		AccRewardPerShare: big.NewInt(0),
		FeePaid:           e.params.FeeExempt(stake) || e.params.FeeExempt(reward),
		SchemaVersion:     SchemaAccrualPending,
	}
	if err := e.state.FarmPut(farm); err != nil {
		return nil, err
	}
	if err := e.state.FarmIndexAppend(id); err != nil {
		return nil, err
	}
	e.emit(FarmCreated{Farm: farm.Clone()})
	return farm.Clone(), nil
}

// AddRewards tops up the farm's reward budget. Only the farm owner may fund;
// funding closes once the farm has ended. A zero amount validates and leaves
// the farm untouched.
func (e *Engine) AddRewards(farmID [32]byte, funder [20]byte, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	farm, err := e.loadFarm(farmID)
	if err != nil {
		return err
	}
	if funder != farm.Owner {
		return fmt.Errorf("%w: only the farm owner may add rewards", ErrUnauthorized)
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return ErrInvalidAmount
	}
	now := e.now()
	if now > farm.EndTime {
		return ErrEnded
	}
	if amt.Sign() == 0 {
		return nil
	}
	if err := e.accrueFarm(farm, now); err != nil {
		return err
	}
	if err := e.state.Transfer(farm.RewardToken, funder[:], farm.RewardVault[:], amt); err != nil {
		return err
	}
	farm.RemainingReward = new(big.Int).Add(farm.RemainingReward, amt)
	if err := e.state.FarmPut(farm); err != nil {
		return err
	}
	e.emit(FarmRewardsAdded{FarmID: farm.ID, Funder: funder, Amount: amt, Remaining: cloneBigInt(farm.RemainingReward)})
	return nil
}

// Deposit stakes amount into the farm for the staker, settling any
// outstanding reward first. A zero amount harvests without changing stake.
// The position is created lazily on first touch.
func (e *Engine) Deposit(farmID [32]byte, staker [20]byte, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return ErrInvalidAmount
	}
	farm, err := e.loadFarm(farmID)
	if err != nil {
		return err
	}
	now := e.now()
	if now < farm.StartTime {
		return ErrNotStarted
	}
	if now > farm.EndTime {
		return ErrEnded
	}
	if !farm.FeePaid {
		return ErrFeeGateClosed
	}
	if err := e.accrueFarm(farm, now); err != nil {
		return err
	}
	pos, err := e.loadPosition(farm, staker)
	if err != nil {
		if !errors.Is(err, ErrPositionNotFound) {
			return err
		}
		pos = &Position{Farm: farm.ID, Owner: staker, Staked: big.NewInt(0), RewardDebt: big.NewInt(0)}
	}
	if pos.Staked.Sign() > 0 {
		if err := e.harvest(farm, pos, staker); err != nil {
			return err
		}
	}
	if amt.Sign() > 0 {
		if err := e.state.Transfer(farm.StakeToken, staker[:], farm.StakeVault[:], amt); err != nil {
			return err
		}
		pos.Staked = new(big.Int).Add(pos.Staked, amt)
	}
	rebaseline(pos, farm)
	if err := e.state.FarmPut(farm); err != nil {
		return err
	}
	if err := e.state.PositionPut(pos); err != nil {
		return err
	}
	e.emit(FarmDeposited{FarmID: farm.ID, Staker: staker, Amount: amt, Staked: cloneBigInt(pos.Staked)})
	return nil
}

// Withdraw unstakes amount from the farm for the staker, settling any
// outstanding reward first. Amounts above the current stake clamp down to it,
// so withdrawing the full balance never races the reward settlement.
func (e *Engine) Withdraw(farmID [32]byte, staker [20]byte, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return ErrInvalidAmount
	}
	farm, err := e.loadFarm(farmID)
	if err != nil {
		return err
	}
	now := e.now()
	if now < farm.StartTime {
		return ErrNotStarted
	}
	if !farm.FeePaid {
		return ErrFeeGateClosed
	}
	pos, err := e.loadPosition(farm, staker)
	if err != nil {
		return err
	}
	if pos.Staked.Sign() == 0 {
		return ErrNothingStaked
	}
	if err := e.accrueFarm(farm, now); err != nil {
		return err
	}
	if err := e.harvest(farm, pos, staker); err != nil {
		return err
	}
	if amt.Cmp(pos.Staked) > 0 {
		amt = cloneBigInt(pos.Staked)
	}
	if amt.Sign() > 0 {
		if err := e.state.Transfer(farm.StakeToken, farm.StakeVault[:], staker[:], amt); err != nil {
			return err
		}
		pos.Staked = new(big.Int).Sub(pos.Staked, amt)
	}
	rebaseline(pos, farm)
	if err := e.state.FarmPut(farm); err != nil {
		return err
	}
	if err := e.state.PositionPut(pos); err != nil {
		return err
	}
	e.emit(FarmWithdrawn{FarmID: farm.ID, Staker: staker, Amount: amt, Staked: cloneBigInt(pos.Staked)})
	return nil
}

// PayFarmFee opens the farm's fee gate by paying the creation fee to the
// collector. Only the farm owner may pay, the amount must cover the
// configured fee, and the full amount transfers. Re-paying an open gate is
// permitted.
func (e *Engine) PayFarmFee(farmID [32]byte, payer [20]byte, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	farm, err := e.loadFarm(farmID)
	if err != nil {
		return err
	}
	if payer != farm.Owner {
		return fmt.Errorf("%w: only the farm owner may pay the fee", ErrUnauthorized)
	}
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return ErrInvalidAmount
	}
	required := e.params.CreationFee
	if required == nil {
		required = big.NewInt(0)
	}
	if amt.Cmp(required) < 0 {
		return ErrFeeTooLow
	}
	if err := e.state.Transfer(e.params.FeeToken, payer[:], e.params.FeeCollector[:], amt); err != nil {
		return err
	}
	farm.FeePaid = true
	if err := e.state.FarmPut(farm); err != nil {
		return err
	}
	e.emit(FarmFeePaid{FarmID: farm.ID, Payer: payer, Amount: amt})
	return nil
}

// Drain sweeps the farm's entire reward vault to the caller. The caller must
// hold RoleFarmAdmin. The budget shrinks by the swept amount, floored at
// zero since the vault may hold donations beyond the tracked budget. Drain
// is an out-of-band recovery path and does not accrue.
func (e *Engine) Drain(farmID [32]byte, caller [20]byte) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if !e.state.HasRole(RoleFarmAdmin, caller[:]) {
		return nil, fmt.Errorf("%w: drain requires %s", ErrUnauthorized, RoleFarmAdmin)
	}
	farm, err := e.loadFarm(farmID)
	if err != nil {
		return nil, err
	}
	swept, err := e.rewardBalance(farm)
	if err != nil {
		return nil, err
	}
	if swept.Sign() > 0 {
		if err := e.state.Transfer(farm.RewardToken, farm.RewardVault[:], caller[:], swept); err != nil {
			return nil, err
		}
	}
	remaining := new(big.Int).Sub(farm.RemainingReward, swept)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	farm.RemainingReward = remaining
	if err := e.state.FarmPut(farm); err != nil {
		return nil, err
	}
	e.emit(FarmDrained{FarmID: farm.ID, Recipient: caller, Amount: swept, Remaining: cloneBigInt(remaining)})
	return swept, nil
}

// PendingRewards reports the staker's claimable reward as of now without
// mutating state. The simulation runs accrual on a copy of the farm against
// the live vault balances.
func (e *Engine) PendingRewards(farmID [32]byte, staker [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	farm, err := e.loadFarm(farmID)
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(farm, staker)
	if err != nil {
		return nil, err
	}
	staked, err := e.stakedBalance(farm)
	if err != nil {
		return nil, err
	}
	rewards, err := e.rewardBalance(farm)
	if err != nil {
		return nil, err
	}
	sim := farm.Clone()
	accrue(sim, e.now(), staked, rewards)
	return pendingReward(sim, pos, rewards)
}

// GetFarm returns a copy of the stored farm.
func (e *Engine) GetFarm(farmID [32]byte) (*Farm, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	farm, err := e.loadFarm(farmID)
	if err != nil {
		return nil, err
	}
	return farm.Clone(), nil
}

// ListFarms returns copies of every registered farm in index order.
func (e *Engine) ListFarms() ([]*Farm, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.FarmIndex()
	if err != nil {
		return nil, err
	}
	farms := make([]*Farm, 0, len(ids))
	for _, id := range ids {
		farm, ok := e.state.FarmGet(id)
		if !ok {
			return nil, fmt.Errorf("%w: indexed farm %x missing", ErrFarmNotFound, id)
		}
		farms = append(farms, farm.Clone())
	}
	return farms, nil
}

// GetPosition returns a copy of the staker's position in the farm.
func (e *Engine) GetPosition(farmID [32]byte, staker [20]byte) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	farm, err := e.loadFarm(farmID)
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(farm, staker)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}
