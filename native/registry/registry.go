package registry

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"datalayr/core/events"
	"datalayr/core/types"
	"datalayr/crypto"
)

var errNilState = errors.New("registry: state not configured")

type engineState interface {
	RegistryOperatorKey(operator [20]byte) ([]byte, bool, error)
	RegistryPutOperatorKey(operator [20]byte, pubKey []byte) error
	RegistryOperators() ([][20]byte, error)
	RegistrySnapshotCount(operator [20]byte) (uint64, error)
	RegistrySnapshot(operator [20]byte, position uint64) (*Snapshot, error)
	RegistryPutSnapshot(operator [20]byte, position uint64, snap *Snapshot) error
}

// IndexSource reports the highest dump number already allocated. Weights at
// or below it are frozen.
type IndexSource interface {
	LatestDumpNumber() (uint64, error)
}

// Engine keeps the per-operator stake history. History is append-only: an
// update closes the current window and opens a new one, it never rewrites a
// past weight.
type Engine struct {
	state   engineState
	indices IndexSource
	emitter events.Emitter
}

// NewEngine creates a registry engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetIndexSource configures the ledger whose allocated dump numbers bound
// how far back a stake update may take effect.
func (e *Engine) SetIndexSource(indices IndexSource) { e.indices = indices }

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
	e.emitter.Emit(registryEvent{evt: event})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

// RegisterOperator binds a secp256k1 public key to the operator address
// derived from it. Re-registering the same key is a no-op.
func (e *Engine) RegisterOperator(operator [20]byte, pubKey []byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	pub, err := crypto.ParsePublicKey(pubKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if pub.Address().Array() != operator {
		return ErrKeyMismatch
	}
	compressed := pub.Compressed()
	existing, ok, err := e.state.RegistryOperatorKey(operator)
	if err != nil {
		return err
	}
	if ok {
		if bytes.Equal(existing, compressed) {
			return nil
		}
		return ErrAlreadyRegistered
	}
	if err := e.state.RegistryPutOperatorKey(operator, compressed); err != nil {
		return err
	}
	e.emit(NewOperatorRegisteredEvent(operator, compressed))
	return nil
}

// OperatorKey returns the compressed public key registered for the operator.
func (e *Engine) OperatorKey(operator [20]byte) ([]byte, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	return e.state.RegistryOperatorKey(operator)
}

// Operators lists every operator with a registered key.
func (e *Engine) Operators() ([][20]byte, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.RegistryOperators()
}

// RecordStakeUpdate appends a snapshot valid from asOfIndex and closes the
// previous window at the same index. asOfIndex must be strictly greater than
// the start of the operator's latest snapshot and than every dump number the
// ledger has already allocated.
func (e *Engine) RecordStakeUpdate(operator [20]byte, newWeight *uint256.Int, asOfIndex uint64) (*Snapshot, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.indices != nil {
		latest, err := e.indices.LatestDumpNumber()
		if err != nil {
			return nil, err
		}
		if asOfIndex <= latest {
			return nil, fmt.Errorf("%w: index %d already allocated (latest dump %d)", ErrStaleUpdate, asOfIndex, latest)
		}
	}
	if _, ok, err := e.state.RegistryOperatorKey(operator); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrOperatorNotRegistered
	}
	count, err := e.state.RegistrySnapshotCount(operator)
	if err != nil {
		return nil, err
	}
	var previous *Snapshot
	if count > 0 {
		previous, err = e.state.RegistrySnapshot(operator, count-1)
		if err != nil {
			return nil, err
		}
		if asOfIndex <= previous.StartIndex {
			return nil, fmt.Errorf("%w: index %d not after %d", ErrStaleUpdate, asOfIndex, previous.StartIndex)
		}
		previous.EndIndex = asOfIndex
		if err := e.state.RegistryPutSnapshot(operator, count-1, previous); err != nil {
			return nil, err
		}
	}
	weight := new(uint256.Int)
	if newWeight != nil {
		weight.Set(newWeight)
	}
	current := &Snapshot{Operator: operator, Weight: weight, StartIndex: asOfIndex}
	if err := e.state.RegistryPutSnapshot(operator, count, current); err != nil {
		return nil, err
	}
	e.emit(NewStakeUpdatedEvent(current, previous))
	return current.Clone(), nil
}

// snapshotAt locates the snapshot whose window contains index using a binary
// search over the operator's history ordered by StartIndex.
func (e *Engine) snapshotAt(operator [20]byte, index uint64) (*Snapshot, error) {
	count, err := e.state.RegistrySnapshotCount(operator)
	if err != nil || count == 0 {
		return nil, err
	}
	var loadErr error
	pos := sort.Search(int(count), func(i int) bool {
		if loadErr != nil {
			return true
		}
		snap, err := e.state.RegistrySnapshot(operator, uint64(i))
		if err != nil {
			loadErr = err
			return true
		}
		return snap.StartIndex > index
	})
	if loadErr != nil {
		return nil, loadErr
	}
	if pos == 0 {
		return nil, nil
	}
	snap, err := e.state.RegistrySnapshot(operator, uint64(pos-1))
	if err != nil {
		return nil, err
	}
	if !snap.Contains(index) {
		return nil, nil
	}
	return snap, nil
}

// WeightAt returns the operator's weight at the supplied dump number. The
// boolean is false when the operator was unregistered at that index, either
// because no snapshot covers it or because the covering weight is zero.
func (e *Engine) WeightAt(operator [20]byte, index uint64) (*uint256.Int, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	snap, err := e.snapshotAt(operator, index)
	if err != nil {
		return nil, false, err
	}
	if snap == nil || snap.Weight == nil || snap.Weight.IsZero() {
		return nil, false, nil
	}
	return new(uint256.Int).Set(snap.Weight), true, nil
}

// TotalWeightAt sums the weights of every operator registered at index.
func (e *Engine) TotalWeightAt(index uint64) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	operators, err := e.state.RegistryOperators()
	if err != nil {
		return nil, err
	}
	total := new(uint256.Int)
	for _, operator := range operators {
		weight, ok, err := e.WeightAt(operator, index)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if _, overflow := total.AddOverflow(total, weight); overflow {
			return nil, fmt.Errorf("registry: total weight overflow at index %d", index)
		}
	}
	return total, nil
}

// History returns the operator's snapshots ordered by StartIndex.
func (e *Engine) History(operator [20]byte) ([]*Snapshot, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	count, err := e.state.RegistrySnapshotCount(operator)
	if err != nil {
		return nil, err
	}
	out := make([]*Snapshot, 0, count)
	for i := uint64(0); i < count; i++ {
		snap, err := e.state.RegistrySnapshot(operator, i)
		if err != nil {
			return nil, err
		}
		out = append(out, snap.Clone())
	}
	return out, nil
}
