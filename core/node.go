package core

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"farmnet/core/events"
	"farmnet/core/genesis"
	"farmnet/core/state"
	"farmnet/core/types"
	nativecommon "farmnet/native/common"
	"farmnet/native/farming"
	"farmnet/observability"
	"farmnet/storage"
	"farmnet/storage/trie"
)

var (
	stateRootKey = []byte("farmnet/state-root")
	stateSeqKey  = []byte("farmnet/state-seq")
)

// PauseSet is the host's pause switchboard. Modules listed true reject every
// mutating call until the operator lifts the pause.
type PauseSet map[string]bool

// IsPaused implements common.PauseView.
func (p PauseSet) IsPaused(module string) bool { return p[module] }

// Node hosts the farming ledger: it owns the state trie, serializes every
// operation behind one mutex, and commits the trie only when an operation
// finishes without error. A failed operation resets the trie to the last
// committed root, so no partial mutation is ever observable.
type Node struct {
	db     storage.Database
	trie   *trie.Trie
	params farming.Params
	pauses nativecommon.PauseView
	nowFn  func() int64
	seq    uint64

	stateMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[uint64]chan *types.Event
	nextSubID   uint64
}

// NewNode opens the ledger stored in db. An empty store is initialised from
// the genesis spec at genesisPath; a non-empty store ignores the spec and
// resumes from the persisted root. The parameter set is validated before
// anything touches state.
func NewNode(db storage.Database, params farming.Params, genesisPath string) (*Node, error) {
	validated, err := params.Validate()
	if err != nil {
		return nil, err
	}

	root, seq := loadCheckpoint(db)
	stateTrie, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("core: open state trie: %w", err)
	}

	n := &Node{
		db:          db,
		trie:        stateTrie,
		params:      validated,
		seq:         seq,
		subscribers: make(map[uint64]chan *types.Event),
	}

	if len(root) == 0 {
		if genesisPath == "" {
			return nil, fmt.Errorf("core: empty ledger requires a genesis spec")
		}
		spec, err := genesis.Load(genesisPath)
		if err != nil {
			return nil, err
		}
		if err := n.applyGenesis(spec); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// NewNodeWithGenesis initialises an empty ledger from an in-memory genesis
// spec. Used by tests and tooling that build the document programmatically.
func NewNodeWithGenesis(db storage.Database, params farming.Params, spec *genesis.Spec) (*Node, error) {
	validated, err := params.Validate()
	if err != nil {
		return nil, err
	}
	root, seq := loadCheckpoint(db)
	stateTrie, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("core: open state trie: %w", err)
	}
	n := &Node{
		db:          db,
		trie:        stateTrie,
		params:      validated,
		seq:         seq,
		subscribers: make(map[uint64]chan *types.Event),
	}
	if len(root) == 0 {
		if spec == nil {
			return nil, fmt.Errorf("core: empty ledger requires a genesis spec")
		}
		if err := n.applyGenesis(spec); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// SetPauses installs the pause switchboard consulted by the engine.
func (n *Node) SetPauses(view nativecommon.PauseView) { n.pauses = view }

// SetNowFunc overrides the clock handed to the engine. Tests use this to pin
// timestamps; production nodes leave the engine on the wall clock.
func (n *Node) SetNowFunc(now func() int64) { n.nowFn = now }

// Params returns the validated farming parameter set the node runs with.
func (n *Node) Params() farming.Params { return n.params.Clone() }

// Now returns the node's current ledger time. Engine operations and query
// responses share this clock so a reported farm status never disagrees with
// what the engine would enforce.
func (n *Node) Now() int64 {
	if n.nowFn != nil {
		return n.nowFn()
	}
	return time.Now().Unix()
}

// StateRoot returns the last committed state root.
func (n *Node) StateRoot() []byte {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.trie.Root().Bytes()
}

func loadCheckpoint(db storage.Database) ([]byte, uint64) {
	root, err := db.Get(stateRootKey)
	if err != nil || len(root) == 0 {
		return nil, 0
	}
	var seq uint64
	if raw, err := db.Get(stateSeqKey); err == nil && len(raw) == 8 {
		seq = binary.BigEndian.Uint64(raw)
	}
	return root, seq
}

func (n *Node) persistCheckpoint(root common.Hash) error {
	if err := n.db.Put(stateRootKey, root.Bytes()); err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n.seq)
	return n.db.Put(stateSeqKey, buf[:])
}

func (n *Node) applyGenesis(spec *genesis.Spec) error {
	manager := state.NewManager(n.trie)
	if err := spec.Apply(manager); err != nil {
		if resetErr := n.trie.Reset(n.trie.Root()); resetErr != nil {
			return fmt.Errorf("core: apply genesis: %v (reset failed: %w)", err, resetErr)
		}
		return err
	}
	return n.commit()
}

func (n *Node) commit() error {
	parent := n.trie.Root()
	root, err := n.trie.Commit(parent, n.seq+1)
	if err != nil {
		if resetErr := n.trie.Reset(parent); resetErr != nil {
			return fmt.Errorf("core: state commit failed: %v (reset failed: %w)", err, resetErr)
		}
		return fmt.Errorf("core: state commit failed: %w", err)
	}
	n.seq++
	if err := n.persistCheckpoint(root); err != nil {
		return fmt.Errorf("core: persist state checkpoint: %w", err)
	}
	return nil
}

func (n *Node) farmingEngine(manager *state.Manager, emitter events.Emitter) *farming.Engine {
	engine := farming.NewEngine()
	engine.SetState(manager)
	engine.SetParams(n.params)
	engine.SetPauses(n.pauses)
	engine.SetEmitter(emitter)
	if n.nowFn != nil {
		engine.SetNowFunc(n.nowFn)
	}
	return engine
}

// execute runs one mutating operation against a fresh manager and commits the
// trie on success. On any failure the trie resets to the last committed root
// and the buffered events are discarded, so observers only ever see events
// for mutations that actually persisted.
func (n *Node) execute(fn func(*farming.Engine) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	recorder := &events.Recorder{}
	engine := n.farmingEngine(state.NewManager(n.trie), recorder)
	if err := fn(engine); err != nil {
		if resetErr := n.trie.Reset(n.trie.Root()); resetErr != nil {
			return fmt.Errorf("%v (state reset failed: %w)", err, resetErr)
		}
		return err
	}
	if err := n.commit(); err != nil {
		return err
	}
	recordLedgerMetrics(recorder.Events())
	n.publish(recorder.Events())
	return nil
}

func recordLedgerMetrics(emitted []events.Event) {
	for _, evt := range emitted {
		switch e := evt.(type) {
		case farming.FarmHarvested:
			observability.Ledger().RecordHarvest(e.Gross)
		case farming.FarmDrained:
			observability.Ledger().RecordDrain(e.Amount)
		}
	}
}

// query runs a read-only operation. It still takes the state mutex because
// the trie is not safe for concurrent use.
func (n *Node) query(fn func(*farming.Engine) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	engine := n.farmingEngine(state.NewManager(n.trie), nil)
	return fn(engine)
}

// FarmCreate registers a new farm and returns it.
func (n *Node) FarmCreate(creator [20]byte, stakeToken, rewardToken string, start, end int64) (*farming.Farm, error) {
	var created *farming.Farm
	err := n.execute(func(engine *farming.Engine) error {
		farm, err := engine.CreateFarm(creator, stakeToken, rewardToken, start, end)
		if err != nil {
			return err
		}
		created = farm
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// FarmAddRewards tops up the farm's reward budget from the funder's balance.
func (n *Node) FarmAddRewards(farmID [32]byte, funder [20]byte, amount *big.Int) error {
	return n.execute(func(engine *farming.Engine) error {
		return engine.AddRewards(farmID, funder, amount)
	})
}

// FarmDeposit stakes into the farm, settling pending reward first. A zero
// amount harvests without changing stake.
func (n *Node) FarmDeposit(farmID [32]byte, staker [20]byte, amount *big.Int) error {
	return n.execute(func(engine *farming.Engine) error {
		return engine.Deposit(farmID, staker, amount)
	})
}

// FarmWithdraw unstakes from the farm, settling pending reward first.
func (n *Node) FarmWithdraw(farmID [32]byte, staker [20]byte, amount *big.Int) error {
	return n.execute(func(engine *farming.Engine) error {
		return engine.Withdraw(farmID, staker, amount)
	})
}

// FarmPayFee pays the farm creation fee and opens the fee gate.
func (n *Node) FarmPayFee(farmID [32]byte, payer [20]byte, amount *big.Int) error {
	return n.execute(func(engine *farming.Engine) error {
		return engine.PayFarmFee(farmID, payer, amount)
	})
}

// FarmDrain sweeps the farm's reward vault to the caller, who must hold the
// farm admin role. Returns the swept amount.
func (n *Node) FarmDrain(farmID [32]byte, caller [20]byte) (*big.Int, error) {
	var swept *big.Int
	err := n.execute(func(engine *farming.Engine) error {
		amount, err := engine.Drain(farmID, caller)
		if err != nil {
			return err
		}
		swept = amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return swept, nil
}

// FarmPendingRewards reports the staker's claimable reward as of now without
// mutating state.
func (n *Node) FarmPendingRewards(farmID [32]byte, staker [20]byte) (*big.Int, error) {
	var pending *big.Int
	err := n.query(func(engine *farming.Engine) error {
		amount, err := engine.PendingRewards(farmID, staker)
		if err != nil {
			return err
		}
		pending = amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// FarmGet returns the stored farm.
func (n *Node) FarmGet(farmID [32]byte) (*farming.Farm, error) {
	var farm *farming.Farm
	err := n.query(func(engine *farming.Engine) error {
		stored, err := engine.GetFarm(farmID)
		if err != nil {
			return err
		}
		farm = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return farm, nil
}

// FarmList returns every registered farm in creation order.
func (n *Node) FarmList() ([]*farming.Farm, error) {
	var farms []*farming.Farm
	err := n.query(func(engine *farming.Engine) error {
		listed, err := engine.ListFarms()
		if err != nil {
			return err
		}
		farms = listed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return farms, nil
}

// FarmGetPosition returns the staker's position in the farm.
func (n *Node) FarmGetPosition(farmID [32]byte, staker [20]byte) (*farming.Position, error) {
	var pos *farming.Position
	err := n.query(func(engine *farming.Engine) error {
		stored, err := engine.GetPosition(farmID, staker)
		if err != nil {
			return err
		}
		pos = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// TokenBalance reads an account's balance for the provided token.
func (n *Node) TokenBalance(addr [20]byte, symbol string) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return state.NewManager(n.trie).Balance(addr[:], symbol)
}

// TokenList returns the registered token symbols.
func (n *Node) TokenList() ([]string, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return state.NewManager(n.trie).TokenList()
}

// HasRole reports whether the address holds the given role.
func (n *Node) HasRole(role string, addr []byte) bool {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return state.NewManager(n.trie).HasRole(role, addr)
}

// RoleMembers returns every address assigned to the role.
func (n *Node) RoleMembers(role string) ([][]byte, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return state.NewManager(n.trie).RoleMembers(role)
}

type eventWithPayload interface {
	Event() *types.Event
}

func (n *Node) publish(emitted []events.Event) {
	if len(emitted) == 0 {
		return
	}
	n.subMu.Lock()
	defer n.subMu.Unlock()
	if len(n.subscribers) == 0 {
		return
	}
	for _, evt := range emitted {
		payload, ok := evt.(eventWithPayload)
		if !ok {
			continue
		}
		event := payload.Event()
		if event == nil {
			continue
		}
		for _, ch := range n.subscribers {
			select {
			case ch <- event.Clone():
			default:
				// Slow subscriber: drop rather than stall the ledger.
			}
		}
	}
}

// SubscribeEvents registers a buffered event feed. The returned cancel
// function removes the subscription and closes the channel.
func (n *Node) SubscribeEvents(buffer int) (<-chan *types.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *types.Event, buffer)

	n.subMu.Lock()
	id := n.nextSubID
	n.nextSubID++
	n.subscribers[id] = ch
	n.subMu.Unlock()

	cancel := func() {
		n.subMu.Lock()
		if existing, ok := n.subscribers[id]; ok {
			delete(n.subscribers, id)
			close(existing)
		}
		n.subMu.Unlock()
	}
	return ch, cancel
}
