package dispute

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"datalayr/native/datastore"
)

// EvidenceKind enumerates the supported forms of dispute evidence.
type EvidenceKind uint8

const (
	EvidenceNone EvidenceKind = iota
	EvidenceFeeRecompute
	EvidenceNonSigner
)

func (k EvidenceKind) String() string {
	switch k {
	case EvidenceNone:
		return "none"
	case EvidenceFeeRecompute:
		return "fee_recompute"
	case EvidenceNonSigner:
		return "non_signer"
	default:
		return "unknown"
	}
}

// ParseEvidenceKind maps the textual form used by the RPC layer back to a kind.
func ParseEvidenceKind(value string) (EvidenceKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none":
		return EvidenceNone, nil
	case "fee_recompute", "feerecompute":
		return EvidenceFeeRecompute, nil
	case "non_signer", "nonsigner":
		return EvidenceNonSigner, nil
	default:
		return EvidenceNone, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvidence, value)
	}
}

// Evidence is the tagged variant submitted to Resolve. DumpNumber is only
// meaningful for EvidenceNonSigner.
type Evidence struct {
	Kind       EvidenceKind
	DumpNumber uint64
}

// FeeRecompute asks the manager to recompute the operator's fee over the
// disputed range.
func FeeRecompute() Evidence { return Evidence{Kind: EvidenceFeeRecompute} }

// NonSigner claims the operator did not sign the given dump.
func NonSigner(dumpNumber uint64) Evidence {
	return Evidence{Kind: EvidenceNonSigner, DumpNumber: dumpNumber}
}

// RecordSource exposes confirmed data store records.
type RecordSource interface {
	Record(dumpNumber uint64) (*datastore.Record, bool, error)
}

// RecomputeFee returns the operator's share of the fees collected over rng:
// for every confirmed record the operator signed, the record fee scaled by the
// weight the operator signed with over the record's total weight. Weights are
// the ones fixed at confirmation. Division truncates per record.
func RecomputeFee(operator [20]byte, rng DumpRange, records RecordSource) (*big.Int, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if records == nil {
		return nil, errors.New("dispute: record source not configured")
	}
	total := big.NewInt(0)
	for dump := rng.From; dump <= rng.To; dump++ {
		record, err := confirmedRecord(records, dump)
		if err != nil {
			return nil, err
		}
		if record.Fee == nil || record.Fee.Sign() == 0 {
			continue
		}
		if record.TotalWeight == nil || record.TotalWeight.IsZero() {
			continue
		}
		weight, ok := record.WeightOf(operator)
		if !ok {
			continue
		}
		share := new(big.Int).Mul(record.Fee, weight.ToBig())
		share.Quo(share, record.TotalWeight.ToBig())
		total.Add(total, share)
	}
	return total, nil
}

func confirmedRecord(records RecordSource, dump uint64) (*datastore.Record, error) {
	record, ok, err := records.Record(dump)
	if err != nil {
		return nil, err
	}
	if !ok || record.Status != datastore.StatusConfirmed {
		return nil, fmt.Errorf("%w: dump %d", ErrRecordNotConfirmed, dump)
	}
	return record, nil
}

// firstUnsigned returns the first dump in rng the operator did not sign.
func firstUnsigned(operator [20]byte, rng DumpRange, records RecordSource) (uint64, bool, error) {
	for dump := rng.From; dump <= rng.To; dump++ {
		record, err := confirmedRecord(records, dump)
		if err != nil {
			return 0, false, err
		}
		if !record.SignedBy(operator) {
			return dump, true, nil
		}
	}
	return 0, false, nil
}

// evaluateFeeRecompute audits the whole payment: the challenger wins iff the
// operator skipped a dump of its range or claims more than the recomputed
// fee. Only a clean audit yields DefenderWins, so it settles every fraud the
// other kinds could prove.
func evaluateFeeRecompute(payment *Payment, records RecordSource) (Outcome, error) {
	if _, missing, err := firstUnsigned(payment.Operator, payment.Range, records); err != nil {
		return OutcomePending, err
	} else if missing {
		return OutcomeChallengerWins, nil
	}
	recomputed, err := RecomputeFee(payment.Operator, payment.Range, records)
	if err != nil {
		return OutcomePending, err
	}
	if payment.Claimed.Cmp(recomputed) > 0 {
		return OutcomeChallengerWins, nil
	}
	return OutcomeDefenderWins, nil
}

// evaluateNonSigner: a payment asserts participation in every dump of its
// range, so the challenger wins iff the operator is missing from the signer
// set of the named dump. Evidence that does not show a missing signature
// proves nothing and is rejected.
func evaluateNonSigner(payment *Payment, evidence Evidence, records RecordSource) (Outcome, error) {
	if !payment.Range.Contains(evidence.DumpNumber) {
		return OutcomePending, fmt.Errorf("%w: dump %d outside %s", ErrInvalidEvidence, evidence.DumpNumber, payment.Range)
	}
	record, err := confirmedRecord(records, evidence.DumpNumber)
	if err != nil {
		return OutcomePending, err
	}
	if record.SignedBy(payment.Operator) {
		return OutcomePending, fmt.Errorf("%w: operator signed dump %d", ErrInvalidEvidence, evidence.DumpNumber)
	}
	return OutcomeChallengerWins, nil
}

// Evaluate dispatches evidence to its validation function. A nil error comes
// with a final outcome; DefenderWins is only reachable through FeeRecompute.
func Evaluate(payment *Payment, evidence Evidence, records RecordSource) (Outcome, error) {
	if payment == nil {
		return OutcomePending, ErrPaymentNotFound
	}
	switch evidence.Kind {
	case EvidenceFeeRecompute:
		return evaluateFeeRecompute(payment, records)
	case EvidenceNonSigner:
		return evaluateNonSigner(payment, evidence, records)
	case EvidenceNone:
		return OutcomePending, ErrChallengeUnresolved
	default:
		return OutcomePending, fmt.Errorf("%w: kind %d", ErrInvalidEvidence, evidence.Kind)
	}
}
