package chain

import (
	"bytes"
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKeyStore struct {
	blobs map[string][]byte
	saves int
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{blobs: map[string][]byte{}}
}

func (m *memKeyStore) Load(ctx context.Context, userID string) ([]byte, error) {
	b, ok := m.blobs[userID]
	if !ok {
		return nil, ErrNoKey
	}
	return b, nil
}

func (m *memKeyStore) Save(ctx context.Context, userID string, blob []byte) error {
	if _, ok := m.blobs[userID]; ok {
		return ErrKeyExists
	}
	m.blobs[userID] = blob
	m.saves++
	return nil
}

func testMasterKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestResolveProvisionsOnFirstUse(t *testing.T) {
	store := newMemKeyStore()
	r, err := NewWalletResolver(store, testMasterKey())
	require.NoError(t, err)

	acct, err := r.Resolve(context.Background(), "user-1", "u1@example.com")
	require.NoError(t, err)
	require.NotNil(t, acct.Key)
	assert.NotEqual(t, common.Address{}, acct.Address)
	assert.Equal(t, 1, store.saves)
}

func TestResolveIsStableAcrossCalls(t *testing.T) {
	store := newMemKeyStore()
	r, err := NewWalletResolver(store, testMasterKey())
	require.NoError(t, err)

	first, err := r.Resolve(context.Background(), "user-1", "u1@example.com")
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), "user-1", "u1@example.com")
	require.NoError(t, err)

	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, 1, store.saves, "no re-provision on the second resolve")
}

func TestResolveDistinctUsersDistinctKeys(t *testing.T) {
	r, err := NewWalletResolver(newMemKeyStore(), testMasterKey())
	require.NoError(t, err)

	a, err := r.Resolve(context.Background(), "user-1", "u1@example.com")
	require.NoError(t, err)
	b, err := r.Resolve(context.Background(), "user-2", "u2@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, a.Address, b.Address)
}

func TestResolveRejectsTamperedBlob(t *testing.T) {
	store := newMemKeyStore()
	r, err := NewWalletResolver(store, testMasterKey())
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "user-1", "u1@example.com")
	require.NoError(t, err)

	blob := store.blobs["user-1"]
	blob[len(blob)-1] ^= 0xff

	_, err = r.Resolve(context.Background(), "user-1", "u1@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unseal wallet")
}

func TestResolveBlobIsBoundToUser(t *testing.T) {
	store := newMemKeyStore()
	r, err := NewWalletResolver(store, testMasterKey())
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "user-1", "u1@example.com")
	require.NoError(t, err)

	// a blob copied onto another user id must not open
	store.blobs["user-2"] = store.blobs["user-1"]
	_, err = r.Resolve(context.Background(), "user-2", "u2@example.com")
	require.Error(t, err)
}

func TestNewWalletResolverRejectsShortKey(t *testing.T) {
	_, err := NewWalletResolver(newMemKeyStore(), []byte("short"))
	assert.Error(t, err)
}

func TestResolveSurvivesProvisionRace(t *testing.T) {
	store := newMemKeyStore()
	r, err := NewWalletResolver(store, testMasterKey())
	require.NoError(t, err)

	// seed as if a concurrent provision won between Load and Save
	winner, err := NewWalletResolver(store, testMasterKey())
	require.NoError(t, err)
	pre, err := winner.Resolve(context.Background(), "user-1", "u1@example.com")
	require.NoError(t, err)

	acct, err := r.Resolve(context.Background(), "user-1", "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, pre.Address, acct.Address, "loser of the race adopts the stored key")
}
