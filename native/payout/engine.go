package payout

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"datalayr/core/events"
	"datalayr/core/types"
)

var errNilState = errors.New("payout engine: state not configured")

type engineState interface {
	PayoutCount(recipient [20]byte) (uint64, error)
	PayoutGet(recipient [20]byte, index uint64) (*Payment, bool, error)
	PayoutPut(payment *Payment) error
	PayoutCompleted(recipient [20]byte) (uint64, error)
	PayoutPutCompleted(recipient [20]byte, completed uint64) error
	PayoutWithdrawalDelay() (int64, bool, error)
	PayoutPutWithdrawalDelay(delay int64) error
}

// Bank moves native balances between accounts and module vaults.
type Bank interface {
	Transfer(from, to [20]byte, amount *big.Int) error
}

// Params bound the escrow. DefaultWithdrawalDelay applies until the delay is
// first set explicitly.
type Params struct {
	DefaultWithdrawalDelay int64
	MaxWithdrawalDelay     int64
	Vault                  [20]byte
}

// Engine escrows payments per recipient and releases them once they are older
// than the withdrawal delay. The completed count per recipient is a prefix
// cursor: it only moves over claimed payments.
type Engine struct {
	state   engineState
	bank    Bank
	params  Params
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a payout engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBank configures the balance backend used to release payments.
func (e *Engine) SetBank(bank Bank) { e.bank = bank }

// SetParams replaces the engine parameters.
func (e *Engine) SetParams(params Params) { e.params = params }

// Params returns the current engine parameters.
func (e *Engine) Params() Params { return e.params }

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
	e.emitter.Emit(payoutEvent{evt: event})
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

// WithdrawalDelay returns the delay currently applied to claims.
func (e *Engine) WithdrawalDelay() (int64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	delay, ok, err := e.state.PayoutWithdrawalDelay()
	if err != nil {
		return 0, err
	}
	if !ok {
		return e.params.DefaultWithdrawalDelay, nil
	}
	return delay, nil
}

// SetWithdrawalDelay updates the delay. Values above MaxWithdrawalDelay are
// rejected so funds cannot be locked indefinitely.
func (e *Engine) SetWithdrawalDelay(delay int64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if delay < 0 {
		return ErrInvalidDelay
	}
	if delay > e.params.MaxWithdrawalDelay {
		return fmt.Errorf("%w: %d > %d", ErrDelayTooLarge, delay, e.params.MaxWithdrawalDelay)
	}
	previous, err := e.WithdrawalDelay()
	if err != nil {
		return err
	}
	if err := e.state.PayoutPutWithdrawalDelay(delay); err != nil {
		return err
	}
	e.emit(NewDelayUpdatedEvent(previous, delay))
	return nil
}

// CreatePayment appends an unclaimed payment to the recipient's list.
func (e *Engine) CreatePayment(recipient [20]byte, amount *big.Int) (*Payment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	count, err := e.state.PayoutCount(recipient)
	if err != nil {
		return nil, err
	}
	payment := &Payment{
		Recipient: recipient,
		Index:     count,
		Amount:    new(big.Int).Set(amount),
		CreatedAt: e.now(),
	}
	if err := e.state.PayoutPut(payment); err != nil {
		return nil, err
	}
	e.emit(NewPaymentCreatedEvent(payment))
	return payment.Clone(), nil
}

// Claim releases up to maxCount payments starting at the completed cursor. It
// stops at the first payment still inside the withdrawal delay, so payments
// are always released in creation order.
func (e *Engine) Claim(recipient [20]byte, maxCount int) (int, *big.Int, error) {
	total := big.NewInt(0)
	if err := e.ready(); err != nil {
		return 0, total, err
	}
	if maxCount <= 0 {
		return 0, total, nil
	}
	delay, err := e.WithdrawalDelay()
	if err != nil {
		return 0, total, err
	}
	count, err := e.state.PayoutCount(recipient)
	if err != nil {
		return 0, total, err
	}
	completed, err := e.state.PayoutCompleted(recipient)
	if err != nil {
		return 0, total, err
	}
	now := e.now()
	claimed := 0
	for completed < count && claimed < maxCount {
		payment, ok, err := e.state.PayoutGet(recipient, completed)
		if err != nil {
			return 0, big.NewInt(0), err
		}
		if !ok {
			return 0, big.NewInt(0), fmt.Errorf("%w: index %d", ErrNotFound, completed)
		}
		if now < payment.ClaimableAt(delay) {
			break
		}
		if payment.Amount.Sign() > 0 {
			if e.bank == nil {
				return 0, big.NewInt(0), errors.New("payout engine: bank not configured")
			}
			if err := e.bank.Transfer(e.params.Vault, recipient, payment.Amount); err != nil {
				return 0, big.NewInt(0), fmt.Errorf("payout: release: %w", err)
			}
		}
		payment.Claimed = true
		if err := e.state.PayoutPut(payment); err != nil {
			return 0, big.NewInt(0), err
		}
		total.Add(total, payment.Amount)
		completed++
		claimed++
	}
	if claimed == 0 {
		return 0, total, nil
	}
	if err := e.state.PayoutPutCompleted(recipient, completed); err != nil {
		return 0, big.NewInt(0), err
	}
	e.emit(NewPaymentsClaimedEvent(recipient, claimed, total, completed))
	return claimed, total, nil
}

// Payments lists every payment escrowed for recipient in creation order.
func (e *Engine) Payments(recipient [20]byte) ([]*Payment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	count, err := e.state.PayoutCount(recipient)
	if err != nil {
		return nil, err
	}
	out := make([]*Payment, 0, count)
	for i := uint64(0); i < count; i++ {
		payment, ok, err := e.state.PayoutGet(recipient, i)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: index %d", ErrNotFound, i)
		}
		out = append(out, payment.Clone())
	}
	return out, nil
}

// Completed returns the number of payments already claimed by recipient.
func (e *Engine) Completed(recipient [20]byte) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.state.PayoutCompleted(recipient)
}
