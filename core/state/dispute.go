package state

import (
	"fmt"
	"math/big"

	"datalayr/native/dispute"
)

var (
	disputePaymentPrefix   = []byte("dispute/payment/")
	disputeChallengePrefix = []byte("dispute/challenge/")
	disputeLastPrefix      = []byte("dispute/last/")
)

func disputeKey(prefix []byte, operator [20]byte, rng dispute.DumpRange) []byte {
	return key(prefix, operator[:], uint64Bytes(rng.From), uint64Bytes(rng.To))
}

type storedPayment struct {
	Operator           [20]byte
	From               uint64
	To                 uint64
	Claimed            *big.Int
	Collateral         *big.Int
	CommittedAt        uint64
	Deadline           uint64
	Status             uint8
	CollateralReleased bool
}

type storedChallenge struct {
	Operator   [20]byte
	From       uint64
	To         uint64
	Challenger [20]byte
	Collateral *big.Int
	OpenedAt   uint64
	Deadline   uint64
	Outcome    uint8
	Evidence   uint8
	ResolvedAt uint64
}

// DisputePayment loads the payment committed by operator over rng.
func (m *Manager) DisputePayment(operator [20]byte, rng dispute.DumpRange) (*dispute.Payment, bool, error) {
	stored := new(storedPayment)
	ok, err := m.KVGet(disputeKey(disputePaymentPrefix, operator, rng), stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	status := dispute.PaymentStatus(stored.Status)
	if !status.Valid() {
		return nil, false, fmt.Errorf("state: invalid payment status %d", stored.Status)
	}
	return &dispute.Payment{
		Operator:           stored.Operator,
		Range:              dispute.DumpRange{From: stored.From, To: stored.To},
		Claimed:            bigOrZero(stored.Claimed),
		Collateral:         bigOrZero(stored.Collateral),
		CommittedAt:        int64(stored.CommittedAt),
		Deadline:           int64(stored.Deadline),
		Status:             status,
		CollateralReleased: stored.CollateralReleased,
	}, true, nil
}

// DisputePutPayment persists payment under its operator and range.
func (m *Manager) DisputePutPayment(p *dispute.Payment) error {
	if p == nil {
		return fmt.Errorf("state: nil payment")
	}
	return m.KVPut(disputeKey(disputePaymentPrefix, p.Operator, p.Range), &storedPayment{
		Operator:           p.Operator,
		From:               p.Range.From,
		To:                 p.Range.To,
		Claimed:            bigOrZero(p.Claimed),
		Collateral:         bigOrZero(p.Collateral),
		CommittedAt:        encodeTime(p.CommittedAt),
		Deadline:           encodeTime(p.Deadline),
		Status:             uint8(p.Status),
		CollateralReleased: p.CollateralReleased,
	})
}

// DisputeLastCommitted returns the end of the operator's latest committed
// range.
func (m *Manager) DisputeLastCommitted(operator [20]byte) (uint64, bool, error) {
	return m.getUint64(key(disputeLastPrefix, operator[:]))
}

// DisputePutLastCommitted records the end of the operator's latest range.
func (m *Manager) DisputePutLastCommitted(operator [20]byte, to uint64) error {
	return m.KVPut(key(disputeLastPrefix, operator[:]), to)
}

// DisputeChallenge loads the challenge raised against operator's payment over
// rng.
func (m *Manager) DisputeChallenge(operator [20]byte, rng dispute.DumpRange) (*dispute.Challenge, bool, error) {
	stored := new(storedChallenge)
	ok, err := m.KVGet(disputeKey(disputeChallengePrefix, operator, rng), stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &dispute.Challenge{
		Operator:   stored.Operator,
		Range:      dispute.DumpRange{From: stored.From, To: stored.To},
		Challenger: stored.Challenger,
		Collateral: bigOrZero(stored.Collateral),
		OpenedAt:   int64(stored.OpenedAt),
		Deadline:   int64(stored.Deadline),
		Outcome:    dispute.Outcome(stored.Outcome),
		Evidence:   dispute.EvidenceKind(stored.Evidence),
		ResolvedAt: int64(stored.ResolvedAt),
	}, true, nil
}

// DisputePutChallenge persists challenge under its operator and range.
func (m *Manager) DisputePutChallenge(c *dispute.Challenge) error {
	if c == nil {
		return fmt.Errorf("state: nil challenge")
	}
	return m.KVPut(disputeKey(disputeChallengePrefix, c.Operator, c.Range), &storedChallenge{
		Operator:   c.Operator,
		From:       c.Range.From,
		To:         c.Range.To,
		Challenger: c.Challenger,
		Collateral: bigOrZero(c.Collateral),
		OpenedAt:   encodeTime(c.OpenedAt),
		Deadline:   encodeTime(c.Deadline),
		Outcome:    uint8(c.Outcome),
		Evidence:   uint8(c.Evidence),
		ResolvedAt: encodeTime(c.ResolvedAt),
	})
}
