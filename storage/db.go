package storage

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	gethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb"
)

// ErrNotFound is returned by Get when the key is absent from the store.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// This allows the escrow ledger to use any database backend (in-memory or persistent).
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	// TrieDB returns the trie node database layered over the store. The same
	// handle is returned on every call.
	TrieDB() *triedb.Database
	Close() // A way to gracefully shut down the database connection.
}

// trieBackend lazily layers a hash-scheme trie database over a key-value store.
type trieBackend struct {
	once   sync.Once
	kv     ethdb.KeyValueStore
	trieDB *triedb.Database
}

func (b *trieBackend) get() *triedb.Database {
	b.once.Do(func() {
		b.trieDB = triedb.NewDatabase(rawdb.NewDatabase(b.kv), triedb.HashDefaults)
	})
	return b.trieDB
}

func (b *trieBackend) close() {
	if b.trieDB != nil {
		_ = b.trieDB.Close()
	}
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	kv    *memorydb.Database
	tries *trieBackend
}

func NewMemDB() *MemDB {
	kv := memorydb.New()
	return &MemDB{kv: kv, tries: &trieBackend{kv: kv}}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	return db.kv.Put(key, value)
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	ok, err := db.kv.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return db.kv.Get(key)
}

func (db *MemDB) Has(key []byte) (bool, error) {
	return db.kv.Has(key)
}

func (db *MemDB) Delete(key []byte) error {
	return db.kv.Delete(key)
}

func (db *MemDB) TrieDB() *triedb.Database {
	return db.tries.get()
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	db.tries.close()
}

// --- Persistent DB ---

const (
	defaultLevelDBCache   = 16
	defaultLevelDBHandles = 16
)

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db    *gethleveldb.Database
	tries *trieBackend
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := gethleveldb.New(path, defaultLevelDBCache, defaultLevelDBHandles, "", false)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db, tries: &trieBackend{kv: db}}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key)
}

func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key)
}

func (ldb *LevelDB) TrieDB() *triedb.Database {
	return ldb.tries.get()
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.tries.close()
	_ = ldb.db.Close()
}
