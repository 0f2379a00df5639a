package registry

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrStaleUpdate           = errors.New("registry: stale stake update")
	ErrOperatorNotRegistered = errors.New("registry: operator not registered")
	ErrAlreadyRegistered     = errors.New("registry: operator registered with a different key")
	ErrKeyMismatch           = errors.New("registry: public key does not match operator")
	ErrInvalidKey            = errors.New("registry: invalid public key")
	ErrSnapshotNotFound      = errors.New("registry: snapshot not found")
)

// Snapshot records the weight an operator carried over the half-open dump
// number window [StartIndex, EndIndex). An EndIndex of zero marks the window
// that is still open.
type Snapshot struct {
	Operator   [20]byte
	Weight     *uint256.Int
	StartIndex uint64
	EndIndex   uint64
}

// Open reports whether the snapshot is the operator's current one.
func (s *Snapshot) Open() bool {
	return s != nil && s.EndIndex == 0
}

// Contains reports whether index falls inside the snapshot window.
func (s *Snapshot) Contains(index uint64) bool {
	if s == nil || index < s.StartIndex {
		return false
	}
	return s.EndIndex == 0 || index < s.EndIndex
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	if s.Weight != nil {
		out.Weight = new(uint256.Int).Set(s.Weight)
	} else {
		out.Weight = new(uint256.Int)
	}
	return &out
}
