package datastore

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"datalayr/core/events"
	"datalayr/core/types"
	"datalayr/native/aggregate"
)

var errNilState = errors.New("datastore engine: state not configured")

type engineState interface {
	DataStoreLatest() (uint64, error)
	DataStorePutLatest(dumpNumber uint64) error
	DataStoreGet(dumpNumber uint64) (*Record, bool, error)
	DataStorePut(record *Record) error
}

// StakeSource exposes the historical weights confirmation is checked against.
type StakeSource interface {
	WeightAt(operator [20]byte, index uint64) (*uint256.Int, bool, error)
	TotalWeightAt(index uint64) (*uint256.Int, error)
	OperatorKey(operator [20]byte) ([]byte, bool, error)
}

// Bank moves native balances between accounts and module vaults.
type Bank interface {
	Transfer(from, to [20]byte, amount *big.Int) error
}

// Params groups the ledger parameters configured at setup.
type Params struct {
	FeePerBytePeriod *big.Int
	MinStorePeriod   int64
	MaxStorePeriod   int64
	FeeVault         [20]byte
}

type datastoreEvent struct {
	evt *types.Event
}

func (e datastoreEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e datastoreEvent) Event() *types.Event { return e.evt }

// Engine owns the lifecycle of data store records. Confirmation consults the
// stake source at the record's own dump number, never at call time.
type Engine struct {
	state   engineState
	stakes  StakeSource
	bank    Bank
	params  Params
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a data store engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		params:  Params{FeePerBytePeriod: big.NewInt(0)},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetStakeSource configures the registry used for quorum checks.
func (e *Engine) SetStakeSource(source StakeSource) { e.stakes = source }

// SetBank configures the balance backend used to collect fees.
func (e *Engine) SetBank(bank Bank) { e.bank = bank }

// SetParams replaces the engine parameters.
func (e *Engine) SetParams(params Params) {
	if params.FeePerBytePeriod == nil {
		params.FeePerBytePeriod = big.NewInt(0)
	}
	e.params = params
}

// Params returns the current engine parameters.
func (e *Engine) Params() Params {
	out := e.params
	out.FeePerBytePeriod = new(big.Int).Set(e.params.FeePerBytePeriod)
	return out
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

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(datastoreEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) validStorePeriod(period int64) bool {
	if period <= 0 {
		return false
	}
	if e.params.MinStorePeriod > 0 && period < e.params.MinStorePeriod {
		return false
	}
	if e.params.MaxStorePeriod > 0 && period > e.params.MaxStorePeriod {
		return false
	}
	return true
}

// InitDataStore allocates the next dump number and persists a record in the
// Initialized state. When a fee rate is configured the fee is collected from
// the submitter into the fee vault.
func (e *Engine) InitDataStore(submitter [20]byte, digest [32]byte, totalBytes uint64, storePeriod int64, quorumBps uint32) (*Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if totalBytes == 0 {
		return nil, ErrInvalidSize
	}
	if quorumBps > MaxQuorumBps {
		return nil, fmt.Errorf("%w: %d bps", ErrInvalidQuorum, quorumBps)
	}
	if !e.validStorePeriod(storePeriod) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStorePeriod, storePeriod)
	}
	latest, err := e.state.DataStoreLatest()
	if err != nil {
		return nil, err
	}
	fee := Fee(totalBytes, storePeriod, e.params.FeePerBytePeriod)
	if fee.Sign() > 0 {
		if e.bank == nil {
			return nil, errors.New("datastore engine: bank not configured")
		}
		if err := e.bank.Transfer(submitter, e.params.FeeVault, fee); err != nil {
			return nil, fmt.Errorf("datastore: collect fee: %w", err)
		}
	}
	record := &Record{
		DumpNumber:    latest + 1,
		ContentDigest: digest,
		TotalBytes:    totalBytes,
		StorePeriod:   storePeriod,
		Submitter:     submitter,
		QuorumBps:     quorumBps,
		Status:        StatusInitialized,
		InitTime:      e.now(),
		Fee:           fee,
	}
	if err := e.state.DataStorePut(record); err != nil {
		return nil, err
	}
	if err := e.state.DataStorePutLatest(record.DumpNumber); err != nil {
		return nil, err
	}
	e.emit(NewInitializedEvent(record))
	return record.Clone(), nil
}

// Confirm verifies the signature set over the record's signed digest and
// marks the record Confirmed when the signers hold at least the record's
// quorum of the total weight registered at its dump number. Verification
// errors from the aggregator are returned unchanged.
func (e *Engine) Confirm(dumpNumber uint64, digest [32]byte, set aggregate.SignatureSet) (*Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.stakes == nil {
		return nil, errors.New("datastore engine: stake source not configured")
	}
	record, ok, err := e.state.DataStoreGet(dumpNumber)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownRecord
	}
	switch record.Status {
	case StatusConfirmed:
		return nil, ErrAlreadyConfirmed
	case StatusExpired:
		return nil, fmt.Errorf("%w: dump %d expired", ErrUnknownRecord, dumpNumber)
	}
	if record.ContentDigest != digest {
		return nil, ErrDigestMismatch
	}
	if e.now() >= record.ExpiresAt() {
		return nil, ErrConfirmationClosed
	}
	if len(set) == 0 {
		return nil, aggregate.ErrEmptySet
	}
	signedDigest := SignedDigest(record.DumpNumber, record.ContentDigest, record.TotalBytes)
	weights := make([]*uint256.Int, 0, len(set))
	signed, err := aggregate.VerifyAndSum(signedDigest, set, e.stakes.OperatorKey, func(signer [20]byte) (*uint256.Int, bool, error) {
		weight, ok, err := e.stakes.WeightAt(signer, dumpNumber)
		if ok {
			weights = append(weights, weight)
		}
		return weight, ok, err
	})
	if err != nil {
		return nil, err
	}
	total, err := e.stakes.TotalWeightAt(dumpNumber)
	if err != nil {
		return nil, err
	}
	if !QuorumMet(signed, total, record.QuorumBps) {
		return nil, fmt.Errorf("%w: signed %s of %s at %d bps", ErrQuorumNotMet, signed.Dec(), total.Dec(), record.QuorumBps)
	}
	signers := set.Signers()
	record.Status = StatusConfirmed
	record.AggregateSigHash = aggregate.AggregateHash(set)
	record.SignatoryRecordHash = aggregate.SignatoryRecordHash(dumpNumber, signers)
	record.Signers = signers
	record.SignerWeights = weights
	record.SignedWeight = signed
	record.TotalWeight = total
	record.ConfirmedAt = e.now()
	if err := e.state.DataStorePut(record); err != nil {
		return nil, err
	}
	e.emit(NewConfirmedEvent(record))
	return record.Clone(), nil
}

// Expire moves an unconfirmed record to Expired once its store period has
// elapsed. Expiring an already expired record is a no-op.
func (e *Engine) Expire(dumpNumber uint64) (*Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	record, ok, err := e.state.DataStoreGet(dumpNumber)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownRecord
	}
	switch record.Status {
	case StatusExpired:
		return record.Clone(), nil
	case StatusConfirmed:
		return nil, ErrAlreadyConfirmed
	}
	if e.now() < record.ExpiresAt() {
		return nil, fmt.Errorf("%w: expires at %d", ErrNotYetExpired, record.ExpiresAt())
	}
	record.Status = StatusExpired
	if err := e.state.DataStorePut(record); err != nil {
		return nil, err
	}
	e.emit(NewExpiredEvent(record))
	return record.Clone(), nil
}

// Record returns the stored record for dumpNumber.
func (e *Engine) Record(dumpNumber uint64) (*Record, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	record, ok, err := e.state.DataStoreGet(dumpNumber)
	if err != nil || !ok {
		return nil, ok, err
	}
	return record.Clone(), true, nil
}

// LatestDumpNumber returns the most recently allocated dump number, zero when
// nothing has been initialised.
func (e *Engine) LatestDumpNumber() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.state.DataStoreLatest()
}
