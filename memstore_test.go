package reposync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemRepoStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemRepoStore()

	missing, err := store.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	record := RepoRecord{ID: NewRepoID(), Name: "notes"}
	require.NoError(t, store.Save(ctx, record))

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record, *got)

	// Mutating the returned copy does not touch the stored row.
	got.Name = "scratch"
	again, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "notes", again.Name)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.Delete(ctx, record.ID))
	require.NoError(t, store.Delete(ctx, record.ID), "deleting twice is fine")

	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemKeyStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemKeyStore()

	require.NoError(t, store.Save(ctx, SSHKeyRecord{ID: "k1", Host: "a.example.com"}))
	require.NoError(t, store.Save(ctx, SSHKeyRecord{ID: "k2", Host: "a.example.com"}))
	require.NoError(t, store.Save(ctx, SSHKeyRecord{ID: "k3", Host: "b.example.com"}))

	forA, err := store.ListByHost(ctx, "a.example.com")
	require.NoError(t, err)
	assert.Len(t, forA, 2)

	forC, err := store.ListByHost(ctx, "c.example.com")
	require.NoError(t, err)
	assert.Empty(t, forC)

	got, err := store.Get(ctx, "k3")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b.example.com", got.Host)

	require.NoError(t, store.Delete(ctx, "k3"))
	gone, err := store.Get(ctx, "k3")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestMemSecretStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemSecretStore()

	_, err := store.Read(ctx, "missing", "")
	require.Error(t, err)

	require.NoError(t, store.Save(ctx, "acct", []byte("secret"), true))
	assert.True(t, store.RequiresUserPresence("acct"))

	secret, err := store.Read(ctx, "acct", "unlock")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), secret)

	// The returned slice is a copy.
	secret[0] = 'X'
	again, err := store.Read(ctx, "acct", "unlock")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), again)

	exists, err := store.Exists(ctx, "acct")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "acct"))
	exists, err = store.Exists(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.False(t, store.RequiresUserPresence("acct"))
}
