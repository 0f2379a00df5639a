package trie

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/trie/trienode"
	"github.com/ethereum/go-ethereum/triedb"

	"datalayr/storage"
)

// Trie is the authenticated ledger state. Logical keys such as
// "datastore/record/7" are keccak256 hashed before they reach the underlying
// merkle patricia trie, so every path has the same length and callers never
// handle hashed keys.
//
// The last committed root is tracked separately from pending mutations:
// Copy/Restore style rollback works on the pending view, Commit moves the
// committed root forward one block at a time.
//
// Trie is not safe for concurrent use.
type Trie struct {
	db        *triedb.Database
	mpt       *gethtrie.Trie
	committed common.Hash
}

// NewTrie opens the state at root, or the empty state when root is empty.
func NewTrie(store storage.Database, root []byte) (*Trie, error) {
	committed := gethtypes.EmptyRootHash
	if len(root) > 0 {
		committed = common.BytesToHash(root)
	}
	t := &Trie{db: store.TrieDB()}
	if err := t.open(committed); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trie) open(root common.Hash) error {
	mpt, err := gethtrie.New(gethtrie.TrieID(root), t.db)
	if err != nil {
		return err
	}
	t.mpt = mpt
	t.committed = root
	return nil
}

func hashKey(key []byte) []byte {
	return crypto.Keccak256(key)
}

// Get returns the value stored under key, or nil when absent.
func (t *Trie) Get(key []byte) ([]byte, error) {
	return t.mpt.Get(hashKey(key))
}

// Update stores value under key.
func (t *Trie) Update(key, value []byte) error {
	return t.mpt.Update(hashKey(key), value)
}

// Delete removes key. Deleting a missing key is a no-op.
func (t *Trie) Delete(key []byte) error {
	return t.mpt.Delete(hashKey(key))
}

// Hash is the root over committed state plus pending mutations.
func (t *Trie) Hash() common.Hash {
	return t.mpt.Hash()
}

// Root is the last committed root.
func (t *Trie) Root() common.Hash {
	return t.committed
}

// Dirty reports whether there are mutations since the last commit.
func (t *Trie) Dirty() bool {
	return t.mpt.Hash() != t.committed
}

// Reset drops pending mutations and reopens the state at root.
func (t *Trie) Reset(root common.Hash) error {
	return t.open(root)
}

// Copy returns an independent view sharing the node database. The coordinator
// keeps one as the savepoint of each operation.
func (t *Trie) Copy() (*Trie, error) {
	return &Trie{db: t.db, mpt: t.mpt.Copy(), committed: t.committed}, nil
}

// Commit writes pending nodes for blockNumber on top of the last committed
// root and returns the new root.
func (t *Trie) Commit(blockNumber uint64) (common.Hash, error) {
	root, nodes := t.mpt.Commit(false)
	if nodes != nil {
		merged := trienode.NewMergedNodeSet()
		if err := merged.Merge(nodes); err != nil {
			return common.Hash{}, err
		}
		if err := t.db.Update(root, t.committed, blockNumber, merged, nil); err != nil {
			return common.Hash{}, err
		}
		if err := t.db.Commit(root, false); err != nil {
			return common.Hash{}, err
		}
	}
	if err := t.open(root); err != nil {
		return common.Hash{}, err
	}
	return root, nil
}
