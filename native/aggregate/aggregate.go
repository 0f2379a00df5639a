// Package aggregate verifies a batch of operator signatures over a single
// digest and sums the signers' weights. It knows nothing about records or
// hashing schemes: callers hand it the digest and the lookups bound to the
// index they care about.
package aggregate

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	ErrInvalidSignature = errors.New("aggregate: invalid signature")
	ErrDuplicateSigner  = errors.New("aggregate: signers not strictly increasing")
	ErrUnknownSigner    = errors.New("aggregate: unknown signer")
	ErrEmptySet         = errors.New("aggregate: empty signature set")
)

// SignatureLength is the size of a recoverable secp256k1 signature [R || S || V].
const SignatureLength = 65

// Signature is one operator's attestation over the digest.
type Signature struct {
	Signer    [20]byte
	Signature []byte
}

// SignatureSet is the ordered list of attestations submitted for one digest.
type SignatureSet []Signature

// Signers returns the signer identities in submission order.
func (s SignatureSet) Signers() [][20]byte {
	out := make([][20]byte, len(s))
	for i, sig := range s {
		out[i] = sig.Signer
	}
	return out
}

// KeyFunc resolves the registered public key of a signer.
type KeyFunc func(signer [20]byte) ([]byte, bool, error)

// WeightFunc resolves a signer's weight. ok=false means unregistered.
type WeightFunc func(signer [20]byte) (*uint256.Int, bool, error)

// VerifyAndSum checks every entry in order and returns the total weight of the
// set. It stops at the first offending entry; a partial total is never
// returned.
func VerifyAndSum(digest [32]byte, set SignatureSet, keys KeyFunc, weights WeightFunc) (*uint256.Int, error) {
	if keys == nil || weights == nil {
		return nil, errors.New("aggregate: lookups not configured")
	}
	total := new(uint256.Int)
	for i, entry := range set {
		if i > 0 && bytes.Compare(entry.Signer[:], set[i-1].Signer[:]) <= 0 {
			return nil, fmt.Errorf("%w: position %d", ErrDuplicateSigner, i)
		}
		weight, ok, err := weights(entry.Signer)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: position %d", ErrUnknownSigner, i)
		}
		pubKey, ok, err := keys(entry.Signer)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: position %d has no key", ErrUnknownSigner, i)
		}
		if !verify(pubKey, digest, entry.Signature) {
			return nil, fmt.Errorf("%w: position %d", ErrInvalidSignature, i)
		}
		if _, overflow := total.AddOverflow(total, weight); overflow {
			return nil, errors.New("aggregate: weight overflow")
		}
	}
	return total, nil
}

func verify(pubKey []byte, digest [32]byte, sig []byte) bool {
	if len(sig) != SignatureLength {
		return false
	}
	// VerifySignature rejects malleable (high-S) signatures.
	return ethcrypto.VerifySignature(pubKey, digest[:], sig[:64])
}

// AggregateHash commits to the exact signatures accepted for a record.
func AggregateHash(set SignatureSet) [32]byte {
	parts := make([][]byte, 0, 2*len(set))
	for _, entry := range set {
		parts = append(parts, entry.Signer[:], entry.Signature)
	}
	return ethcrypto.Keccak256Hash(parts...)
}

// SignatoryRecordHash commits to the signer set of a dump number so later
// disputes can refer to it without trusting the submitter.
func SignatoryRecordHash(dumpNumber uint64, signers [][20]byte) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], dumpNumber)
	parts := make([][]byte, 0, len(signers)+1)
	parts = append(parts, buf[:])
	for i := range signers {
		parts = append(parts, signers[i][:])
	}
	return ethcrypto.Keccak256Hash(parts...)
}
