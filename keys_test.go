package reposync

import (
	"bytes"
	"context"
	"encoding/pem"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
)

func newTestKeyManager() (*KeyManager, *MemKeyStore, *MemSecretStore) {
	keys := NewMemKeyStore()
	secrets := NewMemSecretStore()
	return NewKeyManager(keys, secrets), keys, secrets
}

func TestKeyManager_Generate(t *testing.T) {
	ctx := context.Background()
	manager, _, secrets := newTestKeyManager()

	record, err := manager.Generate(ctx, GenerateRequest{Host: "example.com", Label: "phone"})
	require.NoError(t, err)
	assert.Equal(t, "example.com", record.Host)
	assert.Equal(t, "ssh-ed25519", record.Algorithm)
	assert.Equal(t, KeySourceGenerated, record.Source)
	assert.True(t, record.DefaultForHost, "first key for a host becomes default")
	assert.True(t, strings.HasPrefix(record.PublicKeyOpenSSH, "ssh-ed25519 "))
	assert.Empty(t, record.PassphraseAccount)

	// The private material is user-presence gated and parses back.
	assert.True(t, secrets.RequiresUserPresence(record.PrivateKeyAccount))
	pemBytes, err := secrets.Read(ctx, record.PrivateKeyAccount, "")
	require.NoError(t, err)
	_, err = gossh.ParsePrivateKey(pemBytes)
	require.NoError(t, err)

	// A second key for the same host is not default.
	second, err := manager.Generate(ctx, GenerateRequest{Host: "example.com", Label: "tablet"})
	require.NoError(t, err)
	assert.False(t, second.DefaultForHost)
}

func TestKeyManager_GenerateRSA(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestKeyManager()

	record, err := manager.Generate(ctx, GenerateRequest{
		Host:      "legacy.example.com",
		Label:     "fallback",
		Algorithm: KeyAlgorithmRSA3072,
	})
	require.NoError(t, err)
	assert.Equal(t, "ssh-rsa", record.Algorithm)
}

func TestKeyManager_GenerateWithPassphrase(t *testing.T) {
	ctx := context.Background()
	manager, _, secrets := newTestKeyManager()

	record, err := manager.Generate(ctx, GenerateRequest{
		Host:       "example.com",
		Label:      "locked",
		Passphrase: []byte("hunter2"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, record.PassphraseAccount)
	assert.True(t, secrets.RequiresUserPresence(record.PassphraseAccount))

	pemBytes, err := secrets.Read(ctx, record.PrivateKeyAccount, "")
	require.NoError(t, err)

	_, err = gossh.ParsePrivateKey(pemBytes)
	require.Error(t, err, "material must be encrypted at rest")
	_, err = gossh.ParsePrivateKeyWithPassphrase(pemBytes, []byte("hunter2"))
	require.NoError(t, err)
}

func TestKeyManager_GenerateValidation(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestKeyManager()

	_, err := manager.Generate(ctx, GenerateRequest{Label: "no host"})
	require.Error(t, err)

	_, err = manager.Generate(ctx, GenerateRequest{Host: "example.com", Algorithm: "dsa"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported key algorithm")
}

func TestKeyManager_Import(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestKeyManager()

	// Round-trip a generated key through export-like PEM to import it.
	signerKey, _, err := generateKeyPair(KeyAlgorithmEd25519)
	require.NoError(t, err)
	block, err := gossh.MarshalPrivateKey(signerKey, "")
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(block)

	record, err := manager.Import(ctx, ImportRequest{
		Host:          "example.com",
		Label:         "laptop",
		PrivateKeyPEM: pemBytes,
	})
	require.NoError(t, err)
	assert.Equal(t, KeySourceImported, record.Source)
	assert.True(t, record.DefaultForHost)
}

func TestKeyManager_ImportRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	manager, keys, _ := newTestKeyManager()

	_, err := manager.Import(ctx, ImportRequest{
		Host:          "example.com",
		PrivateKeyPEM: []byte("not a key"),
	})
	require.Error(t, err)

	listed, err := keys.ListByHost(ctx, "example.com")
	require.NoError(t, err)
	assert.Empty(t, listed, "nothing may persist when validation fails")
}

func TestKeyManager_Credential(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestKeyManager()

	defaultKey, err := manager.Generate(ctx, GenerateRequest{Host: "example.com", Label: "a"})
	require.NoError(t, err)
	override, err := manager.Generate(ctx, GenerateRequest{Host: "example.com", Label: "b"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		username   string
		overrideID string
		wantKey    *SSHKeyRecord
		wantUser   string
	}{
		{"host default", "git", "", defaultKey, "git"},
		{"override wins", "git", override.ID, override, "git"},
		{"stale override falls back to default", "git", "no-such-id", defaultKey, "git"},
		{"empty username defaults to git", "", "", defaultKey, "git"},
		{"explicit username kept", "deploy", "", defaultKey, "deploy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			material, err := manager.Credential(ctx, "example.com", tt.username, tt.overrideID)
			require.NoError(t, err)
			defer material.Scrub()

			assert.Equal(t, tt.wantUser, material.Username)
			signer, err := gossh.ParsePrivateKey(material.PrivateKey)
			require.NoError(t, err)
			authorized := strings.TrimSpace(string(gossh.MarshalAuthorizedKey(signer.PublicKey())))
			assert.Equal(t, tt.wantKey.PublicKeyOpenSSH, authorized)
		})
	}
}

func TestKeyManager_CredentialNoKey(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newTestKeyManager()

	_, err := manager.Credential(ctx, "unknown.example.com", "git", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestKeyManager_CredentialSecretReadFailure(t *testing.T) {
	ctx := context.Background()
	manager, _, secrets := newTestKeyManager()

	record, err := manager.Generate(ctx, GenerateRequest{Host: "example.com", Label: "a"})
	require.NoError(t, err)

	// Simulate a locked or evicted keychain item.
	require.NoError(t, secrets.Delete(ctx, record.PrivateKeyAccount))

	_, err = manager.Credential(ctx, "example.com", "git", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKeychainFailure))
}

// TestKeyManager_DeletePromotesDefault verifies the promotion policy:
// deleting the host default leaves the remaining key with the lowest
// case-insensitive label flagged default.
func TestKeyManager_DeletePromotesDefault(t *testing.T) {
	ctx := context.Background()
	manager, keys, secrets := newTestKeyManager()

	first, err := manager.Generate(ctx, GenerateRequest{Host: "example.com", Label: "Zebra"})
	require.NoError(t, err)
	_, err = manager.Generate(ctx, GenerateRequest{Host: "example.com", Label: "beta"})
	require.NoError(t, err)
	_, err = manager.Generate(ctx, GenerateRequest{Host: "example.com", Label: "Alpha"})
	require.NoError(t, err)

	require.True(t, first.DefaultForHost)
	require.NoError(t, manager.Delete(ctx, first.ID))

	remaining, err := keys.ListByHost(ctx, "example.com")
	require.NoError(t, err)
	require.Len(t, remaining, 2)

	defaults := 0
	for _, record := range remaining {
		if record.DefaultForHost {
			defaults++
			assert.Equal(t, "Alpha", record.Label)
		}
	}
	assert.Equal(t, 1, defaults, "exactly one default after promotion")

	// The deleted key's secrets are gone.
	exists, err := secrets.Exists(ctx, first.PrivateKeyAccount)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestKeyManager_DeleteLastKey(t *testing.T) {
	ctx := context.Background()
	manager, keys, _ := newTestKeyManager()

	only, err := manager.Generate(ctx, GenerateRequest{Host: "example.com", Label: "a"})
	require.NoError(t, err)
	require.NoError(t, manager.Delete(ctx, only.ID))

	remaining, err := keys.ListByHost(ctx, "example.com")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	// Unknown ids are a no-op.
	assert.NoError(t, manager.Delete(ctx, "missing"))
}

func TestKeyManager_SetDefault(t *testing.T) {
	ctx := context.Background()
	manager, keys, _ := newTestKeyManager()

	_, err := manager.Generate(ctx, GenerateRequest{Host: "example.com", Label: "a"})
	require.NoError(t, err)
	second, err := manager.Generate(ctx, GenerateRequest{Host: "example.com", Label: "b"})
	require.NoError(t, err)

	require.NoError(t, manager.SetDefault(ctx, second.ID))

	records, err := keys.ListByHost(ctx, "example.com")
	require.NoError(t, err)
	for _, record := range records {
		assert.Equal(t, record.ID == second.ID, record.DefaultForHost, "label %s", record.Label)
	}

	err = manager.SetDefault(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestSSHCredentialMaterialScrub(t *testing.T) {
	private := []byte("private")
	passphrase := []byte("secret")
	material := &SSHCredentialMaterial{
		Username:   "git",
		PrivateKey: private,
		Passphrase: passphrase,
	}
	material.Scrub()

	assert.Nil(t, material.PrivateKey)
	assert.Nil(t, material.Passphrase)
	assert.True(t, bytes.Equal(private, make([]byte, len(private))), "backing bytes wiped")
	assert.True(t, bytes.Equal(passphrase, make([]byte, len(passphrase))), "backing bytes wiped")

	// Scrubbing twice or scrubbing nil material must not panic.
	material.Scrub()
	(*SSHCredentialMaterial)(nil).Scrub()
}
