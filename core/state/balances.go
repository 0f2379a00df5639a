package state

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrInsufficientFunds is returned when a transfer exceeds the sender balance.
var ErrInsufficientFunds = errors.New("state: insufficient funds")

var (
	balancePrefix = []byte("balance/")
	pausePrefix   = []byte("pause/")
)

func balanceKey(addr [20]byte) []byte {
	return key(balancePrefix, addr[:])
}

// Balance returns the native balance held by addr.
func (m *Manager) Balance(addr [20]byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(balanceKey(addr), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// SetBalance overwrites the native balance of addr.
func (m *Manager) SetBalance(addr [20]byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	return m.KVPut(balanceKey(addr), amount)
}

// Credit adds amount to the balance of addr.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative credit")
	}
	current, err := m.Balance(addr)
	if err != nil {
		return err
	}
	return m.SetBalance(addr, current.Add(current, amount))
}

// Transfer moves amount from one account to another. Module vaults are plain
// accounts derived with crypto.VaultAddress.
func (m *Manager) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative transfer amount")
	}
	if from == to {
		return nil
	}
	balance, err := m.Balance(from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, balance, amount)
	}
	if err := m.SetBalance(from, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	return m.Credit(to, amount)
}

// IsPaused reports whether mutations of module are currently blocked.
func (m *Manager) IsPaused(module string) bool {
	var paused bool
	ok, err := m.KVGet(key(pausePrefix, []byte(module)), &paused)
	return err == nil && ok && paused
}

// SetPaused records the pause flag for module.
func (m *Manager) SetPaused(module string, paused bool) error {
	return m.KVPut(key(pausePrefix, []byte(module)), paused)
}
