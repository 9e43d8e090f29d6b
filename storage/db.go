package storage

import (
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	gethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/triedb"
)

// Database is the key-value store the node runs on. Raw Put/Get serve the
// ledger's flat records while TrieDB exposes the backend the state trie
// persists its nodes into, so both views share one physical store.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	TrieDB() *triedb.Database
	Close()
}

// --- In-Memory DB (for testing) ---

// MemDB keeps everything in process memory. Used by tests and throwaway nodes.
type MemDB struct {
	backing ethdb.Database
	trieDB  *triedb.Database
}

func NewMemDB() *MemDB {
	backing := rawdb.NewMemoryDatabase()
	return &MemDB{
		backing: backing,
		trieDB:  triedb.NewDatabase(backing, triedb.HashDefaults),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	return db.backing.Put(key, value)
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	return db.backing.Get(key)
}

func (db *MemDB) TrieDB() *triedb.Database {
	return db.trieDB
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	_ = db.trieDB.Close()
	_ = db.backing.Close()
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store backed by a LevelDB file.
type LevelDB struct {
	backing ethdb.Database
	trieDB  *triedb.Database
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	kv, err := gethleveldb.New(path, 0, 0, "farmnet", false)
	if err != nil {
		return nil, err
	}
	backing := rawdb.NewDatabase(kv)
	return &LevelDB{
		backing: backing,
		trieDB:  triedb.NewDatabase(backing, triedb.HashDefaults),
	}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.backing.Put(key, value)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	return ldb.backing.Get(key)
}

func (ldb *LevelDB) TrieDB() *triedb.Database {
	return ldb.trieDB
}

// Close flushes the trie database and closes the underlying store.
func (ldb *LevelDB) Close() {
	_ = ldb.trieDB.Close()
	_ = ldb.backing.Close()
}
