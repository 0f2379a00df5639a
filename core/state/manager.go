package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"datalayr/storage/trie"
)

// Manager maps module state onto the authenticated trie. Values are RLP
// encoded; the trie hashes their logical keys.
type Manager struct {
	trie *trie.Trie
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

// Savepoint returns an independent copy of the current trie. Passing it to
// Restore discards every mutation made after the savepoint was taken.
func (m *Manager) Savepoint() (*trie.Trie, error) {
	return m.trie.Copy()
}

// Restore swaps the backing trie for a savepoint taken earlier.
func (m *Manager) Restore(savepoint *trie.Trie) {
	if savepoint != nil {
		m.trie = savepoint
	}
}

// PendingRoot returns the root hash including uncommitted mutations.
func (m *Manager) PendingRoot() common.Hash {
	return m.trie.Hash()
}

// Commit persists pending mutations and returns the new root.
func (m *Manager) Commit(blockNumber uint64) (common.Hash, error) {
	return m.trie.Commit(blockNumber)
}

// KVPut RLP-encodes value and stores it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(key, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key from state.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.trie.Delete(key)
}

func (m *Manager) getUint64(key []byte) (uint64, bool, error) {
	var v uint64
	ok, err := m.KVGet(key, &v)
	if err != nil || !ok {
		return 0, ok, err
	}
	return v, true, nil
}

func uint64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func key(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

// Times are non-negative in every module; RLP only encodes unsigned integers.
func encodeTime(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func weightToBig(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}

func weightFromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("state: weight %s overflows 256 bits", v)
	}
	return out, nil
}
