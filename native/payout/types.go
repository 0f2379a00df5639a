package payout

import (
	"errors"
	"math/big"
)

var (
	ErrDelayTooLarge = errors.New("payout: withdrawal delay exceeds maximum")
	ErrInvalidDelay  = errors.New("payout: withdrawal delay must not be negative")
	ErrInvalidAmount = errors.New("payout: amount must not be negative")
	ErrNotFound      = errors.New("payout: payment not found")
)

// Payment is an amount escrowed for a recipient. Index is the position in the
// recipient's list; payments are claimed strictly in index order.
type Payment struct {
	Recipient [20]byte
	Index     uint64
	Amount    *big.Int
	CreatedAt int64
	Claimed   bool
}

// ClaimableAt returns the first instant the payment may be claimed.
func (p *Payment) ClaimableAt(delay int64) int64 {
	return p.CreatedAt + delay
}

// Clone returns a deep copy of the payment.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	out := *p
	if p.Amount != nil {
		out.Amount = new(big.Int).Set(p.Amount)
	} else {
		out.Amount = big.NewInt(0)
	}
	return &out
}
