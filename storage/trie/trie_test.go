package trie

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"swapchain/storage"
)

func TestTrieCommitFlushPersistsData(t *testing.T) {
	dir := t.TempDir()

	db1, err := storage.NewLevelDB(dir)
	require.NoError(t, err)

	tr, err := NewTrie(db1, nil)
	require.NoError(t, err)

	key := crypto.Keccak256Hash([]byte("key"))
	value := []byte("value")

	require.NoError(t, tr.Update(key.Bytes(), value))
	root, err := tr.Commit(common.Hash{}, 0)
	require.NoError(t, err)

	db1.Close()

	db2, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	restored, err := NewTrie(db2, root.Bytes())
	require.NoError(t, err)

	got, err := restored.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestTrieDeleteAndReset(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	tr, err := NewTrie(db, nil)
	require.NoError(t, err)

	key := crypto.Keccak256Hash([]byte("escrow"))
	require.NoError(t, tr.Update(key.Bytes(), []byte("record")))
	root, err := tr.Commit(common.Hash{}, 1)
	require.NoError(t, err)

	require.NoError(t, tr.Delete(key.Bytes()))
	got, err := tr.Get(key.Bytes())
	require.NoError(t, err)
	require.Nil(t, got)
	require.NotEqual(t, root, tr.Hash())

	require.NoError(t, tr.Reset(root))
	got, err = tr.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("record"), got)
	require.Equal(t, root, tr.Hash())
}

func TestTrieCopyIsIndependent(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	tr, err := NewTrie(db, nil)
	require.NoError(t, err)
	key := crypto.Keccak256Hash([]byte("k"))
	require.NoError(t, tr.Update(key.Bytes(), []byte("a")))

	cp, err := tr.Copy()
	require.NoError(t, err)
	require.NoError(t, cp.Update(key.Bytes(), []byte("b")))

	got, err := tr.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("a"), got)
}

func TestTrieCommitWithoutWritesKeepsRoot(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	tr, err := NewTrie(db, nil)
	require.NoError(t, err)
	key := crypto.Keccak256Hash([]byte("nonce"))
	require.NoError(t, tr.Update(key.Bytes(), []byte{1}))
	root, err := tr.Commit(common.Hash{}, 1)
	require.NoError(t, err)
	require.Equal(t, root, tr.Root())

	again, err := tr.Commit(root, 2)
	require.NoError(t, err)
	require.Equal(t, root, again)
	got, err := tr.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte{1}, got)
}
