package dispute

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrInvalidRange           = errors.New("dispute: invalid dump range")
	ErrInvalidAmount          = errors.New("dispute: amount must not be negative")
	ErrRecordNotConfirmed     = errors.New("dispute: record not confirmed")
	ErrInsufficientCollateral = errors.New("dispute: insufficient collateral")
	ErrChallengeAlreadyOpen   = errors.New("dispute: challenge already open")
	ErrAlreadyChallenged      = errors.New("dispute: payment already challenged")
	ErrChallengeNotFound      = errors.New("dispute: challenge not found")
	ErrChallengeResolved      = errors.New("dispute: challenge already resolved")
	ErrChallengeUnresolved    = errors.New("dispute: challenge unresolved before deadline")
	ErrRangeOverlap           = errors.New("dispute: range overlaps committed payment")
	ErrPaymentNotFound        = errors.New("dispute: payment not found")
	ErrPaymentRejected        = errors.New("dispute: payment rejected")
	ErrAlreadyRedeemed        = errors.New("dispute: payment already redeemed")
	ErrFraudProofWindowOpen   = errors.New("dispute: fraud proof window still open")
	ErrFraudProofWindowClosed = errors.New("dispute: fraud proof window closed")
	ErrInvalidEvidence        = errors.New("dispute: invalid evidence")
)

// DumpRange is an inclusive span of dump numbers.
type DumpRange struct {
	From uint64
	To   uint64
}

// Validate ensures the range is non-empty and starts at the first dump.
func (r DumpRange) Validate() error {
	if r.From == 0 || r.To < r.From {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, r.From, r.To)
	}
	return nil
}

// Contains reports whether dump lies inside the range.
func (r DumpRange) Contains(dump uint64) bool {
	return dump >= r.From && dump <= r.To
}

func (r DumpRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.From, r.To)
}

// PaymentStatus tracks a payment commitment through the fraud-proof window.
type PaymentStatus uint8

const (
	PaymentCommitted PaymentStatus = iota
	PaymentChallenged
	PaymentRejected
	PaymentRedeemed
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentCommitted:
		return "committed"
	case PaymentChallenged:
		return "challenged"
	case PaymentRejected:
		return "rejected"
	case PaymentRedeemed:
		return "redeemed"
	default:
		return "unknown"
	}
}

// Valid reports whether the status value is within the supported range.
func (s PaymentStatus) Valid() bool {
	return s <= PaymentRedeemed
}

// Payment is an operator's fee claim over a range of confirmed dumps. The
// posted collateral backs the claim until the fraud-proof deadline passes.
type Payment struct {
	Operator           [20]byte
	Range              DumpRange
	Claimed            *big.Int
	Collateral         *big.Int
	CommittedAt        int64
	Deadline           int64
	Status             PaymentStatus
	CollateralReleased bool
}

// Clone returns a deep copy of the payment.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	out := *p
	out.Claimed = cloneBigInt(p.Claimed)
	out.Collateral = cloneBigInt(p.Collateral)
	return &out
}

// Outcome is the resolution state of a challenge.
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeChallengerWins
	OutcomeDefenderWins
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeChallengerWins:
		return "challenger_wins"
	case OutcomeDefenderWins:
		return "defender_wins"
	default:
		return "unknown"
	}
}

// Challenge disputes the payment an operator committed over Range.
type Challenge struct {
	Operator   [20]byte
	Range      DumpRange
	Challenger [20]byte
	Collateral *big.Int
	OpenedAt   int64
	Deadline   int64
	Outcome    Outcome
	Evidence   EvidenceKind
	ResolvedAt int64
}

// Clone returns a deep copy of the challenge.
func (c *Challenge) Clone() *Challenge {
	if c == nil {
		return nil
	}
	out := *c
	out.Collateral = cloneBigInt(c.Collateral)
	return &out
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
