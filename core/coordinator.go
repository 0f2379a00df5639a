package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"datalayr/config"
	"datalayr/core/events"
	"datalayr/core/genesis"
	"datalayr/core/state"
	"datalayr/core/types"
	"datalayr/crypto"
	"datalayr/native/aggregate"
	nativecommon "datalayr/native/common"
	"datalayr/native/datastore"
	"datalayr/native/dispute"
	"datalayr/native/payout"
	"datalayr/native/registry"
	"datalayr/observability"
	"datalayr/observability/metrics"
	"datalayr/storage"
	"datalayr/storage/trie"
)

var headKey = []byte("datalayr/head")

// ErrInvalidAmount is returned for negative or missing amounts supplied to
// coordinator operations that move funds.
var ErrInvalidAmount = errors.New("core: invalid amount")

type head struct {
	Height uint64
	Root   common.Hash
}

// Vaults are the module accounts holding fees, dispute bonds and escrowed
// payouts.
type Vaults struct {
	Fees    [20]byte
	Dispute [20]byte
	Payout  [20]byte
}

// DefaultVaults derives the module vault addresses.
func DefaultVaults() Vaults {
	return Vaults{
		Fees:    crypto.VaultAddress("fees"),
		Dispute: crypto.VaultAddress("dispute"),
		Payout:  crypto.VaultAddress("payout"),
	}
}

// Coordinator sequences every ledger operation. Each mutation runs against a
// savepoint of the state trie and is rolled back as a whole when it fails.
// The block height doubles as the clock of every engine and advances on
// Commit.
type Coordinator struct {
	mu sync.Mutex

	db      storage.Database
	manager *state.Manager
	height  uint64
	root    common.Hash
	global  config.Global
	vaults  Vaults
	pauses  pauseView

	registry  *registry.Engine
	datastore *datastore.Engine
	dispute   *dispute.Engine
	payout    *payout.Engine

	pending *events.Recorder
	sink    events.Emitter
	seq     uint64
	logger  *slog.Logger
	metrics *metrics.DataLayrMetrics
}

// pauseView combines pauses recorded in state with those forced by the node
// configuration.
type pauseView struct {
	manager *state.Manager
	forced  map[string]bool
}

func (p pauseView) IsPaused(module string) bool {
	if p.forced[module] {
		return true
	}
	return p.manager != nil && p.manager.IsPaused(module)
}

// NewCoordinator opens the state committed in db, or an empty state when
// nothing has been committed yet.
func NewCoordinator(db storage.Database, global config.Global, logger *slog.Logger) (*Coordinator, error) {
	if db == nil {
		return nil, fmt.Errorf("database must not be nil")
	}
	if err := config.ValidateConfig(global); err != nil {
		return nil, err
	}
	amounts, err := global.Amounts()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	current := head{Height: 0}
	raw, err := db.Get(headKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load head: %w", err)
	default:
		if err := rlp.DecodeBytes(raw, &current); err != nil {
			return nil, fmt.Errorf("decode head: %w", err)
		}
	}

	var rootBytes []byte
	if current.Height > 0 {
		rootBytes = current.Root.Bytes()
	}
	stateTrie, err := trie.NewTrie(db, rootBytes)
	if err != nil {
		return nil, fmt.Errorf("open state trie: %w", err)
	}
	manager := state.NewManager(stateTrie)

	c := &Coordinator{
		db:      db,
		manager: manager,
		height:  current.Height + 1,
		root:    current.Root,
		global:  global,
		vaults:  DefaultVaults(),
		pauses:  pauseView{manager: manager, forced: global.Pauses.PausedModules()},
		pending: &events.Recorder{},
		sink:    events.NoopEmitter{},
		logger:  logger,
		metrics: metrics.DataLayr(),
	}
	c.wire(amounts)
	return c, nil
}

func (c *Coordinator) wire(amounts config.Amounts) {
	now := func() int64 { return int64(c.height) }

	c.registry = registry.NewEngine()
	c.registry.SetState(c.manager)
	c.registry.SetEmitter(c.pending)

	c.datastore = datastore.NewEngine()
	c.datastore.SetState(c.manager)
	c.datastore.SetStakeSource(c.registry)
	c.datastore.SetBank(c.manager)
	c.datastore.SetParams(datastore.Params{
		FeePerBytePeriod: amounts.FeePerBytePeriod,
		MinStorePeriod:   c.global.DataStore.MinStorePeriod,
		MaxStorePeriod:   c.global.DataStore.MaxStorePeriod,
		FeeVault:         c.vaults.Fees,
	})
	c.datastore.SetNowFunc(now)
	c.datastore.SetEmitter(c.pending)
	c.registry.SetIndexSource(c.datastore)

	c.payout = payout.NewEngine()
	c.payout.SetState(c.manager)
	c.payout.SetBank(c.manager)
	c.payout.SetParams(payout.Params{
		DefaultWithdrawalDelay: c.global.Payout.WithdrawalDelay,
		MaxWithdrawalDelay:     c.global.Payout.MaxWithdrawalDelay,
		Vault:                  c.vaults.Payout,
	})
	c.payout.SetNowFunc(now)
	c.payout.SetEmitter(c.pending)

	c.dispute = dispute.NewEngine()
	c.dispute.SetState(c.manager)
	c.dispute.SetRecordSource(c.datastore)
	c.dispute.SetBank(c.manager)
	c.dispute.SetPayouts(c.payout)
	c.dispute.SetParams(dispute.Params{
		FraudProofInterval: c.global.Dispute.FraudProofInterval,
		MinCollateral:      amounts.MinCollateral,
		DisputeVault:       c.vaults.Dispute,
		FeeVault:           c.vaults.Fees,
		PayoutVault:        c.vaults.Payout,
	})
	c.dispute.SetNowFunc(now)
	c.dispute.SetEmitter(c.pending)
}

// SetEventSink registers the emitter receiving events of successful
// operations. A nil sink discards them.
func (c *Coordinator) SetEventSink(sink events.Emitter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sink == nil {
		sink = events.NoopEmitter{}
	}
	c.sink = sink
}

// Vaults returns the module vault addresses.
func (c *Coordinator) Vaults() Vaults { return c.vaults }

// DefaultQuorumBps is the quorum applied when a submitter does not choose one.
func (c *Coordinator) DefaultQuorumBps() uint32 { return c.global.DataStore.DefaultQuorumBps }

// Height returns the block height the next mutation executes at.
func (c *Coordinator) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Initialized reports whether any state has been committed.
func (c *Coordinator) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height > 1
}

// execute runs fn as one atomic operation: on error every state write made by
// fn is discarded together with the events it emitted.
func (c *Coordinator) execute(module, operation string, guarded bool, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if guarded {
		if err := nativecommon.Guard(c.pauses, module); err != nil {
			c.metrics.ObserveOperation(module, operation, err)
			return err
		}
	}
	savepoint, err := c.manager.Savepoint()
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(); err != nil {
		c.manager.Restore(savepoint)
		c.pending.Drain()
		c.metrics.ObserveOperation(module, operation, err)
		c.logger.Debug("operation rejected",
			slog.String("module", module),
			slog.String("operation", operation),
			slog.Uint64("height", c.height),
			slog.Any("error", err))
		return err
	}
	c.metrics.ObserveOperation(module, operation, nil)
	c.publish(c.pending.Drain())
	return nil
}

type eventPayload interface {
	Event() *types.Event
}

// publish forwards events to the sink as envelopes numbered within the
// current block.
func (c *Coordinator) publish(emitted []events.Event) {
	for _, evt := range emitted {
		observability.Events().Record(evt.EventType())
		env := events.Envelope{Height: c.height, Seq: c.seq, Type: evt.EventType()}
		c.seq++
		attrs := []any{slog.String("type", env.Type), slog.Uint64("height", env.Height)}
		if payload, ok := evt.(eventPayload); ok && payload.Event() != nil {
			env.Payload = payload.Event()
			attrs = append(attrs, slog.Any("attributes", env.Payload.Attributes))
		}
		c.logger.Info("event", attrs...)
		c.sink.Emit(env)
	}
}

// view runs a read-only fn under the coordinator lock.
func (c *Coordinator) view(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn()
}

// Commit persists the pending state under the current height and advances
// the clock by one block.
func (c *Coordinator) Commit() (common.Hash, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	height := c.height
	root, err := c.manager.Commit(height)
	if err != nil {
		return common.Hash{}, 0, fmt.Errorf("commit state: %w", err)
	}
	encoded, err := rlp.EncodeToBytes(&head{Height: height, Root: root})
	if err != nil {
		return common.Hash{}, 0, err
	}
	if err := c.db.Put(headKey, encoded); err != nil {
		return common.Hash{}, 0, fmt.Errorf("persist head: %w", err)
	}
	c.root = root
	c.height = height + 1
	c.seq = 0
	c.metrics.SetBlockHeight(height)
	c.logger.Info("committed state",
		slog.Uint64("height", height),
		slog.String("root", root.Hex()))
	return root, height, nil
}

// ApplyGenesis writes the genesis operator set, balances and pauses.
func (c *Coordinator) ApplyGenesis(spec *genesis.Spec) error {
	if spec == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	return c.execute("genesis", "apply", false, func() error {
		return spec.Apply(c.registry, c.manager)
	})
}

// Balance returns the account balance of addr.
func (c *Coordinator) Balance(addr [20]byte) (*big.Int, error) {
	var out *big.Int
	err := c.view(func() error {
		bal, err := c.manager.Balance(addr)
		out = bal
		return err
	})
	return out, err
}

// --- StakeRegistry ---

func (c *Coordinator) RegisterOperator(operator [20]byte, pubKey []byte) error {
	return c.execute(nativecommon.ModuleRegistry, "registerOperator", true, func() error {
		return c.registry.RegisterOperator(operator, pubKey)
	})
}

func (c *Coordinator) RecordStakeUpdate(operator [20]byte, weight *uint256.Int, asOfIndex uint64) (*registry.Snapshot, error) {
	var out *registry.Snapshot
	err := c.execute(nativecommon.ModuleRegistry, "recordStake", true, func() error {
		snap, err := c.registry.RecordStakeUpdate(operator, weight, asOfIndex)
		out = snap
		return err
	})
	return out, err
}

func (c *Coordinator) WeightAt(operator [20]byte, index uint64) (*uint256.Int, bool, error) {
	var (
		weight *uint256.Int
		ok     bool
	)
	err := c.view(func() error {
		var err error
		weight, ok, err = c.registry.WeightAt(operator, index)
		return err
	})
	return weight, ok, err
}

func (c *Coordinator) TotalWeightAt(index uint64) (*uint256.Int, error) {
	var out *uint256.Int
	err := c.view(func() error {
		total, err := c.registry.TotalWeightAt(index)
		out = total
		return err
	})
	return out, err
}

func (c *Coordinator) OperatorHistory(operator [20]byte) ([]*registry.Snapshot, error) {
	var out []*registry.Snapshot
	err := c.view(func() error {
		history, err := c.registry.History(operator)
		out = history
		return err
	})
	return out, err
}

// --- DataStoreLedger ---

func (c *Coordinator) InitDataStore(submitter [20]byte, digest [32]byte, totalBytes uint64, storePeriod int64, quorumBps uint32) (*datastore.Record, error) {
	var out *datastore.Record
	err := c.execute(nativecommon.ModuleDataStore, "init", true, func() error {
		record, err := c.datastore.InitDataStore(submitter, digest, totalBytes, storePeriod, quorumBps)
		out = record
		return err
	})
	return out, err
}

func (c *Coordinator) ConfirmDataStore(dumpNumber uint64, digest [32]byte, set aggregate.SignatureSet) (*datastore.Record, error) {
	var out *datastore.Record
	err := c.execute(nativecommon.ModuleDataStore, "confirm", true, func() error {
		record, err := c.datastore.Confirm(dumpNumber, digest, set)
		out = record
		return err
	})
	switch {
	case errors.Is(err, datastore.ErrQuorumNotMet):
		c.metrics.ObserveQuorumNotMet()
	case err == nil:
		c.metrics.ObserveConfirmation(weightRatio(out.SignedWeight, out.TotalWeight))
	}
	return out, err
}

func weightRatio(signed, total *uint256.Int) float64 {
	if signed == nil || total == nil || total.IsZero() {
		return 0
	}
	ratio, _ := new(big.Rat).SetFrac(signed.ToBig(), total.ToBig()).Float64()
	return ratio
}

func (c *Coordinator) ExpireDataStore(dumpNumber uint64) (*datastore.Record, error) {
	var out *datastore.Record
	err := c.execute(nativecommon.ModuleDataStore, "expire", true, func() error {
		record, err := c.datastore.Expire(dumpNumber)
		out = record
		return err
	})
	return out, err
}

func (c *Coordinator) DataStoreRecord(dumpNumber uint64) (*datastore.Record, bool, error) {
	var (
		record *datastore.Record
		ok     bool
	)
	err := c.view(func() error {
		var err error
		record, ok, err = c.datastore.Record(dumpNumber)
		return err
	})
	return record, ok, err
}

func (c *Coordinator) LatestDumpNumber() (uint64, error) {
	var out uint64
	err := c.view(func() error {
		latest, err := c.datastore.LatestDumpNumber()
		out = latest
		return err
	})
	return out, err
}

// --- PaymentDisputeManager ---

func (c *Coordinator) CommitPayment(operator [20]byte, rng dispute.DumpRange, claimed, collateral *big.Int) (*dispute.Payment, error) {
	var out *dispute.Payment
	err := c.execute(nativecommon.ModuleDispute, "commitPayment", true, func() error {
		payment, err := c.dispute.CommitPayment(operator, rng, claimed, collateral)
		out = payment
		return err
	})
	return out, err
}

func (c *Coordinator) OpenChallenge(challenger, operator [20]byte, rng dispute.DumpRange, collateral *big.Int) (*dispute.Challenge, error) {
	var out *dispute.Challenge
	err := c.execute(nativecommon.ModuleDispute, "openChallenge", true, func() error {
		challenge, err := c.dispute.OpenChallenge(challenger, operator, rng, collateral)
		out = challenge
		return err
	})
	return out, err
}

func (c *Coordinator) ResolveChallenge(operator [20]byte, rng dispute.DumpRange, evidence dispute.Evidence) (*dispute.Challenge, error) {
	var out *dispute.Challenge
	err := c.execute(nativecommon.ModuleDispute, "resolve", true, func() error {
		challenge, err := c.dispute.Resolve(operator, rng, evidence)
		out = challenge
		return err
	})
	if err == nil {
		c.metrics.ObserveChallengeResolved(out.Outcome.String())
	}
	return out, err
}

func (c *Coordinator) RedeemPayment(operator [20]byte, rng dispute.DumpRange) (*dispute.Payment, error) {
	var out *dispute.Payment
	err := c.execute(nativecommon.ModuleDispute, "redeem", true, func() error {
		payment, err := c.dispute.RedeemPayment(operator, rng)
		out = payment
		return err
	})
	return out, err
}

func (c *Coordinator) Payment(operator [20]byte, rng dispute.DumpRange) (*dispute.Payment, bool, error) {
	var (
		payment *dispute.Payment
		ok      bool
	)
	err := c.view(func() error {
		var err error
		payment, ok, err = c.dispute.Payment(operator, rng)
		return err
	})
	return payment, ok, err
}

func (c *Coordinator) Challenge(operator [20]byte, rng dispute.DumpRange) (*dispute.Challenge, bool, error) {
	var (
		challenge *dispute.Challenge
		ok        bool
	)
	err := c.view(func() error {
		var err error
		challenge, ok, err = c.dispute.Challenge(operator, rng)
		return err
	})
	return challenge, ok, err
}

// --- EscrowedPayout ---

// CreatePayout moves amount from funder into the payout vault and escrows it
// for recipient.
func (c *Coordinator) CreatePayout(funder, recipient [20]byte, amount *big.Int) (*payout.Payment, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	var out *payout.Payment
	err := c.execute(nativecommon.ModulePayout, "create", true, func() error {
		if err := c.manager.Transfer(funder, c.vaults.Payout, amount); err != nil {
			return err
		}
		payment, err := c.payout.CreatePayment(recipient, amount)
		out = payment
		return err
	})
	return out, err
}

func (c *Coordinator) ClaimPayouts(recipient [20]byte, maxCount int) (int, *big.Int, error) {
	var (
		count int
		total *big.Int
	)
	err := c.execute(nativecommon.ModulePayout, "claim", true, func() error {
		var err error
		count, total, err = c.payout.Claim(recipient, maxCount)
		return err
	})
	if err == nil && total != nil {
		amount, _ := new(big.Float).SetInt(total).Float64()
		c.metrics.ObserveClaims(count, amount)
	}
	return count, total, err
}

func (c *Coordinator) SetWithdrawalDelay(delay int64) error {
	return c.execute(nativecommon.ModulePayout, "setWithdrawalDelay", true, func() error {
		return c.payout.SetWithdrawalDelay(delay)
	})
}

func (c *Coordinator) WithdrawalDelay() (int64, error) {
	var out int64
	err := c.view(func() error {
		delay, err := c.payout.WithdrawalDelay()
		out = delay
		return err
	})
	return out, err
}

// Payouts lists the recipient's escrowed payments and the claimed-prefix
// cursor.
func (c *Coordinator) Payouts(recipient [20]byte) ([]*payout.Payment, uint64, error) {
	var (
		payments  []*payout.Payment
		completed uint64
	)
	err := c.view(func() error {
		var err error
		if payments, err = c.payout.Payments(recipient); err != nil {
			return err
		}
		completed, err = c.payout.Completed(recipient)
		return err
	})
	return payments, completed, err
}
