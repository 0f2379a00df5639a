package datastore

import (
	"encoding/binary"
	"errors"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	ErrInvalidSize        = errors.New("datastore: total bytes must be positive")
	ErrInvalidQuorum      = errors.New("datastore: quorum threshold out of range")
	ErrInvalidStorePeriod = errors.New("datastore: store period out of range")
	ErrUnknownRecord      = errors.New("datastore: no initialized record")
	ErrDigestMismatch     = errors.New("datastore: digest mismatch")
	ErrQuorumNotMet       = errors.New("datastore: quorum not met")
	ErrAlreadyConfirmed   = errors.New("datastore: already confirmed")
	ErrNotYetExpired      = errors.New("datastore: store period not elapsed")
	ErrConfirmationClosed = errors.New("datastore: store period elapsed before confirmation")
)

// MaxQuorumBps is the largest representable quorum threshold (100%).
const MaxQuorumBps uint32 = 10_000

// Status represents the lifecycle states of a data store record.
type Status uint8

const (
	StatusInitialized Status = iota
	StatusConfirmed
	StatusExpired
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusInitialized, StatusConfirmed, StatusExpired:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusConfirmed:
		return "confirmed"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Record is the availability commitment identified by its dump number. The
// confirmation fields are zero until the record is confirmed.
type Record struct {
	DumpNumber    uint64
	ContentDigest [32]byte
	TotalBytes    uint64
	StorePeriod   int64
	Submitter     [20]byte
	QuorumBps     uint32
	Status        Status
	InitTime      int64
	Fee           *big.Int

	AggregateSigHash    [32]byte
	SignatoryRecordHash [32]byte
	Signers             [][20]byte
	SignerWeights       []*uint256.Int
	SignedWeight        *uint256.Int
	TotalWeight         *uint256.Int
	ConfirmedAt         int64
}

// ExpiresAt returns the first instant at which the store period has elapsed.
func (r *Record) ExpiresAt() int64 {
	return r.InitTime + r.StorePeriod
}

// SignedBy reports whether operator is part of the confirmed signer set.
func (r *Record) SignedBy(operator [20]byte) bool {
	if r == nil {
		return false
	}
	for _, signer := range r.Signers {
		if signer == operator {
			return true
		}
	}
	return false
}

// WeightOf returns the weight operator signed with, as fixed at
// confirmation. ok is false when the operator is not a signer.
func (r *Record) WeightOf(operator [20]byte) (*uint256.Int, bool) {
	if r == nil {
		return nil, false
	}
	for i, signer := range r.Signers {
		if signer != operator {
			continue
		}
		if i >= len(r.SignerWeights) || r.SignerWeights[i] == nil {
			return nil, false
		}
		return new(uint256.Int).Set(r.SignerWeights[i]), true
	}
	return nil, false
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Fee = big.NewInt(0)
	if r.Fee != nil {
		out.Fee = new(big.Int).Set(r.Fee)
	}
	out.Signers = append([][20]byte(nil), r.Signers...)
	if r.SignerWeights != nil {
		out.SignerWeights = make([]*uint256.Int, len(r.SignerWeights))
		for i, w := range r.SignerWeights {
			if w != nil {
				out.SignerWeights[i] = new(uint256.Int).Set(w)
			}
		}
	}
	if r.SignedWeight != nil {
		out.SignedWeight = new(uint256.Int).Set(r.SignedWeight)
	}
	if r.TotalWeight != nil {
		out.TotalWeight = new(uint256.Int).Set(r.TotalWeight)
	}
	return &out
}

// SignedDigest is the message operators sign for a record: keccak256 over the
// big-endian dump number, the content digest and the big-endian total size.
func SignedDigest(dumpNumber uint64, contentDigest [32]byte, totalBytes uint64) [32]byte {
	var dump, size [8]byte
	binary.BigEndian.PutUint64(dump[:], dumpNumber)
	binary.BigEndian.PutUint64(size[:], totalBytes)
	return ethcrypto.Keccak256Hash(dump[:], contentDigest[:], size[:])
}

// Fee computes totalBytes * storePeriod * feePerBytePeriod.
func Fee(totalBytes uint64, storePeriod int64, feePerBytePeriod *big.Int) *big.Int {
	if feePerBytePeriod == nil || feePerBytePeriod.Sign() <= 0 || storePeriod <= 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).SetUint64(totalBytes)
	fee.Mul(fee, big.NewInt(storePeriod))
	return fee.Mul(fee, feePerBytePeriod)
}

// QuorumMet reports whether signed / total >= quorumBps / 10_000. A zero total
// never meets quorum.
func QuorumMet(signed, total *uint256.Int, quorumBps uint32) bool {
	if total == nil || total.IsZero() {
		return false
	}
	if signed == nil {
		signed = new(uint256.Int)
	}
	lhs, overflowL := new(uint256.Int).MulOverflow(signed, uint256.NewInt(uint64(MaxQuorumBps)))
	rhs, overflowR := new(uint256.Int).MulOverflow(total, uint256.NewInt(uint64(quorumBps)))
	if overflowL || overflowR {
		// Fall back to arbitrary precision when weights approach 2^256.
		l := new(big.Int).Mul(signed.ToBig(), big.NewInt(int64(MaxQuorumBps)))
		r := new(big.Int).Mul(total.ToBig(), big.NewInt(int64(quorumBps)))
		return l.Cmp(r) >= 0
	}
	return !lhs.Lt(rhs)
}
