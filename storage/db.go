package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	ethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// Both backends expose a trie database sharing the same disk so state tries and
// plain metadata (e.g. the committed root) live side by side.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	TrieDB() *triedb.Database
	Close() // A way to gracefully shut down the database connection.
}

type diskBacked struct {
	disk   ethdb.Database
	trieDB *triedb.Database
}

func newDiskBacked(disk ethdb.Database) diskBacked {
	return diskBacked{disk: disk, trieDB: triedb.NewDatabase(disk, triedb.HashDefaults)}
}

func (d diskBacked) Put(key []byte, value []byte) error {
	return d.disk.Put(key, value)
}

func (d diskBacked) Has(key []byte) (bool, error) {
	return d.disk.Has(key)
}

func (d diskBacked) Get(key []byte) ([]byte, error) {
	ok, err := d.disk.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	value, err := d.disk.Get(key)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (d diskBacked) TrieDB() *triedb.Database {
	return d.trieDB
}

func (d diskBacked) close() {
	_ = d.trieDB.Close()
	_ = d.disk.Close()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	diskBacked
}

func NewMemDB() *MemDB {
	return &MemDB{diskBacked: newDiskBacked(rawdb.NewMemoryDatabase())}
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	db.close()
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	diskBacked
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	kv, err := ethleveldb.NewCustom(path, "datalayr", func(options *opt.Options) {
		options.OpenFilesCacheCapacity = 64
		options.BlockCacheCapacity = 16 * opt.MiB
		options.WriteBuffer = 8 * opt.MiB
	})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{diskBacked: newDiskBacked(rawdb.NewDatabase(kv))}, nil
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.close()
}
