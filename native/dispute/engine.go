package dispute

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"datalayr/core/events"
	"datalayr/core/types"
	"datalayr/native/payout"
)

var (
	errNilState   = errors.New("dispute engine: state not configured")
	errNilRecords = errors.New("dispute engine: record source not configured")
	errNilBank    = errors.New("dispute engine: bank not configured")
	errNilPayouts = errors.New("dispute engine: payout engine not configured")
)

type engineState interface {
	DisputePayment(operator [20]byte, rng DumpRange) (*Payment, bool, error)
	DisputePutPayment(payment *Payment) error
	DisputeLastCommitted(operator [20]byte) (uint64, bool, error)
	DisputePutLastCommitted(operator [20]byte, to uint64) error
	DisputeChallenge(operator [20]byte, rng DumpRange) (*Challenge, bool, error)
	DisputePutChallenge(challenge *Challenge) error
}

// Bank moves native balances between accounts and module vaults.
type Bank interface {
	Transfer(from, to [20]byte, amount *big.Int) error
}

// Payouts receives redeemed payments.
type Payouts interface {
	CreatePayment(recipient [20]byte, amount *big.Int) (*payout.Payment, error)
}

// Params groups the dispute parameters fixed at setup. FeeVault must match the
// vault the data store ledger collects into.
type Params struct {
	FraudProofInterval int64
	MinCollateral      *big.Int
	DisputeVault       [20]byte
	FeeVault           [20]byte
	PayoutVault        [20]byte
}

// Engine tracks payment commitments and the challenges raised against them.
type Engine struct {
	state   engineState
	records RecordSource
	bank    Bank
	payouts Payouts
	params  Params
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a dispute engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		params:  Params{MinCollateral: big.NewInt(0)},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRecordSource configures the data store ledger consulted for records.
func (e *Engine) SetRecordSource(records RecordSource) { e.records = records }

// SetBank configures the balance backend used to move collateral and fees.
func (e *Engine) SetBank(bank Bank) { e.bank = bank }

// SetPayouts configures the escrow that receives redeemed payments.
func (e *Engine) SetPayouts(payouts Payouts) { e.payouts = payouts }

// SetParams replaces the engine parameters.
func (e *Engine) SetParams(params Params) {
	params.MinCollateral = cloneBigInt(params.MinCollateral)
	e.params = params
}

// Params returns the current engine parameters.
func (e *Engine) Params() Params {
	out := e.params
	out.MinCollateral = cloneBigInt(e.params.MinCollateral)
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
	e.emitter.Emit(disputeEvent{evt: event})
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
	if e.records == nil {
		return errNilRecords
	}
	return nil
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if e.bank == nil {
		return errNilBank
	}
	return e.bank.Transfer(from, to, amount)
}

func (e *Engine) requireConfirmed(rng DumpRange) error {
	for dump := rng.From; dump <= rng.To; dump++ {
		if _, err := confirmedRecord(e.records, dump); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) checkCollateral(collateral *big.Int) error {
	if collateral == nil || collateral.Sign() < 0 {
		return fmt.Errorf("%w: collateral", ErrInvalidAmount)
	}
	if collateral.Cmp(cloneBigInt(e.params.MinCollateral)) < 0 {
		return fmt.Errorf("%w: %s below minimum %s", ErrInsufficientCollateral, collateral, cloneBigInt(e.params.MinCollateral))
	}
	return nil
}

// CommitPayment records the operator's fee claim over rng and escrows its
// collateral in the dispute vault. Ranges committed by one operator must be
// strictly increasing and disjoint.
func (e *Engine) CommitPayment(operator [20]byte, rng DumpRange, claimed, collateral *big.Int) (*Payment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if claimed == nil || claimed.Sign() < 0 {
		return nil, fmt.Errorf("%w: claimed", ErrInvalidAmount)
	}
	if err := e.checkCollateral(collateral); err != nil {
		return nil, err
	}
	last, ok, err := e.state.DisputeLastCommitted(operator)
	if err != nil {
		return nil, err
	}
	if ok && rng.From <= last {
		return nil, fmt.Errorf("%w: %s starts at or before %d", ErrRangeOverlap, rng, last)
	}
	if err := e.requireConfirmed(rng); err != nil {
		return nil, err
	}
	if err := e.transfer(operator, e.params.DisputeVault, collateral); err != nil {
		return nil, fmt.Errorf("dispute: escrow collateral: %w", err)
	}
	now := e.now()
	payment := &Payment{
		Operator:    operator,
		Range:       rng,
		Claimed:     cloneBigInt(claimed),
		Collateral:  cloneBigInt(collateral),
		CommittedAt: now,
		Deadline:    now + e.params.FraudProofInterval,
		Status:      PaymentCommitted,
	}
	if err := e.state.DisputePutPayment(payment); err != nil {
		return nil, err
	}
	if err := e.state.DisputePutLastCommitted(operator, rng.To); err != nil {
		return nil, err
	}
	e.emit(NewPaymentCommittedEvent(payment))
	return payment.Clone(), nil
}

// OpenChallenge disputes the payment operator committed over rng. Nothing is
// escrowed unless every check passes.
func (e *Engine) OpenChallenge(challenger, operator [20]byte, rng DumpRange, collateral *big.Int) (*Challenge, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if err := e.requireConfirmed(rng); err != nil {
		return nil, err
	}
	if err := e.checkCollateral(collateral); err != nil {
		return nil, err
	}
	payment, ok, err := e.state.DisputePayment(operator, rng)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, rng)
	}
	existing, ok, err := e.state.DisputeChallenge(operator, rng)
	if err != nil {
		return nil, err
	}
	if ok {
		if existing.Outcome == OutcomePending {
			return nil, ErrChallengeAlreadyOpen
		}
		return nil, ErrAlreadyChallenged
	}
	switch payment.Status {
	case PaymentRedeemed:
		return nil, ErrAlreadyRedeemed
	case PaymentRejected:
		return nil, ErrPaymentRejected
	}
	now := e.now()
	if now >= payment.Deadline {
		return nil, fmt.Errorf("%w: deadline %d", ErrFraudProofWindowClosed, payment.Deadline)
	}
	if err := e.transfer(challenger, e.params.DisputeVault, collateral); err != nil {
		return nil, fmt.Errorf("dispute: escrow collateral: %w", err)
	}
	challenge := &Challenge{
		Operator:   operator,
		Range:      rng,
		Challenger: challenger,
		Collateral: cloneBigInt(collateral),
		OpenedAt:   now,
		Deadline:   now + e.params.FraudProofInterval,
		Outcome:    OutcomePending,
	}
	payment.Status = PaymentChallenged
	if err := e.state.DisputePutChallenge(challenge); err != nil {
		return nil, err
	}
	if err := e.state.DisputePutPayment(payment); err != nil {
		return nil, err
	}
	e.emit(NewChallengeOpenedEvent(challenge))
	return challenge.Clone(), nil
}

// Resolve settles the challenge against operator's payment over rng. Before
// the challenge deadline only evidence with a final verdict settles it:
// evidence that proves nothing is rejected and the challenge stays pending.
// Once the deadline has passed the defender wins. Both bonds go to the
// winner.
func (e *Engine) Resolve(operator [20]byte, rng DumpRange, evidence Evidence) (*Challenge, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	challenge, ok, err := e.state.DisputeChallenge(operator, rng)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if challenge.Outcome != OutcomePending {
		return nil, ErrChallengeResolved
	}
	payment, ok, err := e.state.DisputePayment(operator, rng)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPaymentNotFound
	}
	now := e.now()
	outcome := OutcomeDefenderWins
	kind := EvidenceNone
	if now < challenge.Deadline {
		if evidence.Kind == EvidenceNone {
			return nil, fmt.Errorf("%w: deadline %d", ErrChallengeUnresolved, challenge.Deadline)
		}
		outcome, err = Evaluate(payment, evidence, e.records)
		if err != nil {
			return nil, err
		}
		kind = evidence.Kind
	}
	bonds := new(big.Int).Add(cloneBigInt(payment.Collateral), cloneBigInt(challenge.Collateral))
	winner := operator
	payment.Status = PaymentCommitted
	if outcome == OutcomeChallengerWins {
		winner = challenge.Challenger
		payment.Status = PaymentRejected
	}
	if err := e.transfer(e.params.DisputeVault, winner, bonds); err != nil {
		return nil, fmt.Errorf("dispute: release bonds: %w", err)
	}
	payment.CollateralReleased = true
	challenge.Outcome = outcome
	challenge.Evidence = kind
	challenge.ResolvedAt = now
	if err := e.state.DisputePutChallenge(challenge); err != nil {
		return nil, err
	}
	if err := e.state.DisputePutPayment(payment); err != nil {
		return nil, err
	}
	e.emit(NewChallengeResolvedEvent(challenge))
	return challenge.Clone(), nil
}

// RedeemPayment hands a payment that survived its fraud-proof window to the
// payout escrow and returns any collateral still held.
func (e *Engine) RedeemPayment(operator [20]byte, rng DumpRange) (*Payment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.payouts == nil {
		return nil, errNilPayouts
	}
	payment, ok, err := e.state.DisputePayment(operator, rng)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPaymentNotFound
	}
	switch payment.Status {
	case PaymentRedeemed:
		return nil, ErrAlreadyRedeemed
	case PaymentRejected:
		return nil, ErrPaymentRejected
	case PaymentChallenged:
		return nil, ErrChallengeUnresolved
	}
	if e.now() < payment.Deadline {
		return nil, fmt.Errorf("%w: deadline %d", ErrFraudProofWindowOpen, payment.Deadline)
	}
	if err := e.transfer(e.params.FeeVault, e.params.PayoutVault, payment.Claimed); err != nil {
		return nil, fmt.Errorf("dispute: fund payout: %w", err)
	}
	if _, err := e.payouts.CreatePayment(operator, cloneBigInt(payment.Claimed)); err != nil {
		return nil, err
	}
	if !payment.CollateralReleased {
		if err := e.transfer(e.params.DisputeVault, operator, payment.Collateral); err != nil {
			return nil, fmt.Errorf("dispute: return collateral: %w", err)
		}
		payment.CollateralReleased = true
	}
	payment.Status = PaymentRedeemed
	if err := e.state.DisputePutPayment(payment); err != nil {
		return nil, err
	}
	e.emit(NewPaymentRedeemedEvent(payment))
	return payment.Clone(), nil
}

// Payment returns the commitment stored for operator over rng.
func (e *Engine) Payment(operator [20]byte, rng DumpRange) (*Payment, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	payment, ok, err := e.state.DisputePayment(operator, rng)
	if err != nil || !ok {
		return nil, ok, err
	}
	return payment.Clone(), true, nil
}

// Challenge returns the challenge raised against operator's payment over rng.
func (e *Engine) Challenge(operator [20]byte, rng DumpRange) (*Challenge, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	challenge, ok, err := e.state.DisputeChallenge(operator, rng)
	if err != nil || !ok {
		return nil, ok, err
	}
	return challenge.Clone(), true, nil
}
