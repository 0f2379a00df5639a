package state

import (
	"fmt"
	"math/big"

	"datalayr/native/payout"
)

var (
	payoutCountPrefix     = []byte("payout/count/")
	payoutEntryPrefix     = []byte("payout/entry/")
	payoutCompletedPrefix = []byte("payout/completed/")
	payoutDelayKey        = []byte("payout/delay")
)

type storedPayout struct {
	Recipient [20]byte
	Index     uint64
	Amount    *big.Int
	CreatedAt uint64
	Claimed   bool
}

// PayoutCount returns the number of payments escrowed for recipient.
func (m *Manager) PayoutCount(recipient [20]byte) (uint64, error) {
	count, _, err := m.getUint64(key(payoutCountPrefix, recipient[:]))
	return count, err
}

// PayoutGet loads the payment at index in the recipient's list.
func (m *Manager) PayoutGet(recipient [20]byte, index uint64) (*payout.Payment, bool, error) {
	stored := new(storedPayout)
	ok, err := m.KVGet(key(payoutEntryPrefix, recipient[:], uint64Bytes(index)), stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &payout.Payment{
		Recipient: stored.Recipient,
		Index:     stored.Index,
		Amount:    bigOrZero(stored.Amount),
		CreatedAt: int64(stored.CreatedAt),
		Claimed:   stored.Claimed,
	}, true, nil
}

// PayoutPut persists the payment and extends the recipient's count when the
// payment is appended.
func (m *Manager) PayoutPut(p *payout.Payment) error {
	if p == nil {
		return fmt.Errorf("state: nil payout")
	}
	err := m.KVPut(key(payoutEntryPrefix, p.Recipient[:], uint64Bytes(p.Index)), &storedPayout{
		Recipient: p.Recipient,
		Index:     p.Index,
		Amount:    bigOrZero(p.Amount),
		CreatedAt: encodeTime(p.CreatedAt),
		Claimed:   p.Claimed,
	})
	if err != nil {
		return err
	}
	count, err := m.PayoutCount(p.Recipient)
	if err != nil {
		return err
	}
	if p.Index >= count {
		return m.KVPut(key(payoutCountPrefix, p.Recipient[:]), p.Index+1)
	}
	return nil
}

// PayoutCompleted returns the recipient's claimed-prefix cursor.
func (m *Manager) PayoutCompleted(recipient [20]byte) (uint64, error) {
	completed, _, err := m.getUint64(key(payoutCompletedPrefix, recipient[:]))
	return completed, err
}

// PayoutPutCompleted stores the recipient's claimed-prefix cursor.
func (m *Manager) PayoutPutCompleted(recipient [20]byte, completed uint64) error {
	return m.KVPut(key(payoutCompletedPrefix, recipient[:]), completed)
}

// PayoutWithdrawalDelay returns the explicitly configured withdrawal delay.
func (m *Manager) PayoutWithdrawalDelay() (int64, bool, error) {
	delay, ok, err := m.getUint64(payoutDelayKey)
	return int64(delay), ok, err
}

// PayoutPutWithdrawalDelay stores the withdrawal delay.
func (m *Manager) PayoutPutWithdrawalDelay(delay int64) error {
	return m.KVPut(payoutDelayKey, encodeTime(delay))
}
