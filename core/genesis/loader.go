package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/holiman/uint256"

	"datalayr/native/registry"
)

// Registry receives the genesis operator set.
type Registry interface {
	RegisterOperator(operator [20]byte, pubKey []byte) error
	RecordStakeUpdate(operator [20]byte, newWeight *uint256.Int, asOfIndex uint64) (*registry.Snapshot, error)
}

// Ledger receives the genesis balances and module pauses.
type Ledger interface {
	SetBalance(addr [20]byte, amount *big.Int) error
	SetPaused(module string, paused bool) error
}

// Apply writes the spec into the supplied registry and ledger. Operators and
// accounts are applied in address order so the resulting state root does not
// depend on file ordering.
func (s *Spec) Apply(reg Registry, ledger Ledger) error {
	if reg == nil || ledger == nil {
		return fmt.Errorf("genesis: registry and ledger required")
	}

	operators := append([]operator(nil), s.operators...)
	sort.Slice(operators, func(i, j int) bool {
		return bytes.Compare(operators[i].address[:], operators[j].address[:]) < 0
	})
	for _, op := range operators {
		if err := reg.RegisterOperator(op.address, op.pubKey); err != nil {
			return fmt.Errorf("register operator %x: %w", op.address, err)
		}
		if _, err := reg.RecordStakeUpdate(op.address, op.weight, op.asOfIndex); err != nil {
			return fmt.Errorf("stake operator %x: %w", op.address, err)
		}
	}

	accounts := make([][20]byte, 0, len(s.alloc))
	for addr := range s.alloc {
		accounts = append(accounts, addr)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i][:], accounts[j][:]) < 0
	})
	for _, addr := range accounts {
		if err := ledger.SetBalance(addr, new(big.Int).Set(s.alloc[addr])); err != nil {
			return fmt.Errorf("alloc %x: %w", addr, err)
		}
	}

	pauses := append([]string(nil), s.Pauses...)
	sort.Strings(pauses)
	for _, module := range pauses {
		if err := ledger.SetPaused(module, true); err != nil {
			return fmt.Errorf("pause %q: %w", module, err)
		}
	}
	return nil
}

// OperatorCount reports how many operators the spec registers.
func (s *Spec) OperatorCount() int { return len(s.operators) }
