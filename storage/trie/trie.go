// Package trie keeps the ledger in a go-ethereum Merkle Patricia trie so that
// every committed call yields a single state root.
package trie

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/trie/trienode"
	"github.com/ethereum/go-ethereum/triedb"

	"swapchain/storage"
)

// Trie is the mutable view of the ledger between two commits. Callers hash
// their keys before use; the state manager derives every key with keccak256.
//
// Root is the last committed root and Hash the root including pending writes.
// Trie is not safe for concurrent use.
type Trie struct {
	db   *triedb.Database
	trie *gethtrie.Trie
	root common.Hash
}

// NewTrie opens the ledger at root. An empty root opens an empty ledger.
func NewTrie(store storage.Database, root []byte) (*Trie, error) {
	rootHash := gethtypes.EmptyRootHash
	if len(root) > 0 {
		rootHash = common.BytesToHash(root)
	}
	t := &Trie{db: store.TrieDB()}
	if err := t.Reset(rootHash); err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns the value at key, or nil when absent.
func (t *Trie) Get(key []byte) ([]byte, error) { return t.trie.Get(key) }

// Update writes value at key.
func (t *Trie) Update(key, value []byte) error { return t.trie.Update(key, value) }

// Delete removes key. Missing keys are ignored.
func (t *Trie) Delete(key []byte) error { return t.trie.Delete(key) }

// Hash returns the root over committed and pending writes.
func (t *Trie) Hash() common.Hash { return t.trie.Hash() }

// Root returns the root of the last commit.
func (t *Trie) Root() common.Hash { return t.root }

// Reset drops pending writes and reopens the ledger at root.
func (t *Trie) Reset(root common.Hash) error {
	opened, err := gethtrie.New(gethtrie.TrieID(root), t.db)
	if err != nil {
		return err
	}
	t.trie = opened
	t.root = root
	return nil
}

// Copy returns an independent view holding the same pending writes. The state
// manager keeps copies as snapshots of a call in progress.
func (t *Trie) Copy() (*Trie, error) {
	return &Trie{db: t.db, trie: t.trie.Copy(), root: t.root}, nil
}

// Commit flushes pending writes to disk under height and reopens the trie at
// the new root. A commit without writes keeps the current root.
func (t *Trie) Commit(parent common.Hash, height uint64) (common.Hash, error) {
	next, nodes := t.trie.Commit(false)
	if nodes != nil {
		set := trienode.NewMergedNodeSet()
		if err := set.Merge(nodes); err != nil {
			return common.Hash{}, err
		}
		if err := t.db.Update(next, parent, height, set, nil); err != nil {
			return common.Hash{}, err
		}
		if err := t.db.Commit(next, false); err != nil {
			return common.Hash{}, err
		}
	}
	if err := t.Reset(next); err != nil {
		return common.Hash{}, err
	}
	return next, nil
}
