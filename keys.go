// Package reposync SSH key management.
// This file contains key generation, import, credential resolution, and
// the default-key policy per host. Private material lives in the secret
// store behind opaque accounts; records only carry references.
package reposync

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	gossh "golang.org/x/crypto/ssh"
)

// KeyAlgorithm selects the key type for generation.
type KeyAlgorithm string

const (
	// KeyAlgorithmEd25519 is the preferred algorithm.
	KeyAlgorithmEd25519 KeyAlgorithm = "ed25519"

	// KeyAlgorithmRSA3072 is the fallback for remotes without ed25519
	// support.
	KeyAlgorithmRSA3072 KeyAlgorithm = "rsa-3072"
)

const rsaKeyBits = 3072

// secretAccountPrefix namespaces the opaque accounts minted for the
// secret store.
const secretAccountPrefix = "reposync.key."

// KeyStore is the persistence boundary for key records.
type KeyStore interface {
	// Get returns the record for id, or nil if unknown.
	Get(ctx context.Context, id string) (*SSHKeyRecord, error)
	// ListByHost returns all key records for a host.
	ListByHost(ctx context.Context, host string) ([]SSHKeyRecord, error)
	// Save creates or replaces the record keyed by its ID.
	Save(ctx context.Context, record SSHKeyRecord) error
	// Delete removes the record for id. Unknown ids are not an error.
	Delete(ctx context.Context, id string) error
}

// SecretStore is the platform secret store boundary. Accounts are opaque
// strings minted by the key manager. Reads may require user presence
// (biometric interaction) and may therefore suspend.
type SecretStore interface {
	Save(ctx context.Context, account string, secret []byte, requiresUserPresence bool) error
	Read(ctx context.Context, account string, prompt string) ([]byte, error)
	Delete(ctx context.Context, account string) error
	Exists(ctx context.Context, account string) (bool, error)
}

// CredentialProvider resolves the credential to present for a host. The
// returned material is ephemeral; callers must Scrub it on every exit
// path of the operation it authenticates.
type CredentialProvider interface {
	Credential(ctx context.Context, host, username, overrideID string) (*SSHCredentialMaterial, error)
}

// GenerateRequest describes a new key pair to create.
type GenerateRequest struct {
	Host       string
	Label      string
	Algorithm  KeyAlgorithm
	Passphrase []byte
}

// ImportRequest describes externally supplied key material to store.
type ImportRequest struct {
	Host          string
	Label         string
	PrivateKeyPEM []byte
	Passphrase    []byte
}

// KeyManager implements credential resolution over a key store and a
// secret store.
type KeyManager struct {
	keys    KeyStore
	secrets SecretStore
	now     func() time.Time
}

// NewKeyManager wires the manager to its stores.
func NewKeyManager(keys KeyStore, secrets SecretStore) *KeyManager {
	return &KeyManager{keys: keys, secrets: secrets, now: time.Now}
}

// Generate creates a new key pair, stores the private material (encrypted
// with the passphrase when one is given) behind a user-presence-gated
// secret account, and saves the public record. The first key stored for a
// host becomes the host default.
func (m *KeyManager) Generate(ctx context.Context, req GenerateRequest) (*SSHKeyRecord, error) {
	if req.Host == "" {
		return nil, errors.New("host is required")
	}

	signerKey, publicKey, err := generateKeyPair(req.Algorithm)
	if err != nil {
		return nil, err
	}

	var pemBlock *pem.Block
	if len(req.Passphrase) > 0 {
		pemBlock, err = gossh.MarshalPrivateKeyWithPassphrase(signerKey, "", req.Passphrase)
	} else {
		pemBlock, err = gossh.MarshalPrivateKey(signerKey, "")
	}
	if err != nil {
		return nil, WrapError(err, "failed to marshal private key")
	}

	sshPub, err := gossh.NewPublicKey(publicKey)
	if err != nil {
		return nil, WrapError(err, "failed to derive public key")
	}

	return m.store(ctx, req.Host, req.Label, KeySourceGenerated, pem.EncodeToMemory(pemBlock), req.Passphrase, sshPub)
}

// Import validates externally supplied private key material and stores it
// like a generated key. The material must parse (with the passphrase when
// one is given) before anything is persisted.
func (m *KeyManager) Import(ctx context.Context, req ImportRequest) (*SSHKeyRecord, error) {
	if req.Host == "" {
		return nil, errors.New("host is required")
	}

	var signer gossh.Signer
	var err error
	if len(req.Passphrase) > 0 {
		signer, err = gossh.ParsePrivateKeyWithPassphrase(req.PrivateKeyPEM, req.Passphrase)
	} else {
		signer, err = gossh.ParsePrivateKey(req.PrivateKeyPEM)
	}
	if err != nil {
		return nil, WrapError(err, "failed to parse imported private key")
	}

	return m.store(ctx, req.Host, req.Label, KeySourceImported, req.PrivateKeyPEM, req.Passphrase, signer.PublicKey())
}

// store places the secrets and saves the record. Secrets written before a
// record save failure are best-effort deleted so no orphaned material
// stays behind an unreferenced account.
func (m *KeyManager) store(ctx context.Context, host, label string, source KeySource, privatePEM, passphrase []byte, pub gossh.PublicKey) (*SSHKeyRecord, error) {
	existing, err := m.keys.ListByHost(ctx, host)
	if err != nil {
		return nil, WrapError(err, "key store list failed")
	}

	record := SSHKeyRecord{
		ID:                uuid.NewString(),
		Host:              host,
		Label:             label,
		Algorithm:         pub.Type(),
		Source:            source,
		PublicKeyOpenSSH:  strings.TrimSpace(string(gossh.MarshalAuthorizedKey(pub))),
		PrivateKeyAccount: secretAccountPrefix + uuid.NewString(),
		DefaultForHost:    len(existing) == 0,
		CreatedAt:         m.now(),
	}

	if err := m.secrets.Save(ctx, record.PrivateKeyAccount, privatePEM, true); err != nil {
		return nil, &KeychainError{Op: "save", Detail: err.Error()}
	}
	if len(passphrase) > 0 {
		record.PassphraseAccount = secretAccountPrefix + uuid.NewString()
		if err := m.secrets.Save(ctx, record.PassphraseAccount, passphrase, true); err != nil {
			_ = m.secrets.Delete(ctx, record.PrivateKeyAccount)
			return nil, &KeychainError{Op: "save", Detail: err.Error()}
		}
	}

	if err := m.keys.Save(ctx, record); err != nil {
		_ = m.secrets.Delete(ctx, record.PrivateKeyAccount)
		if record.PassphraseAccount != "" {
			_ = m.secrets.Delete(ctx, record.PassphraseAccount)
		}
		return nil, WrapError(err, "key record save failed")
	}

	return &record, nil
}

// Credential resolves the material to present for (host, username). A
// per-repository override id, when it names a stored key, takes precedence
// over the host default; with neither, resolution fails with
// ErrKeyNotFound. The secret-store reads may prompt for user presence.
func (m *KeyManager) Credential(ctx context.Context, host, username, overrideID string) (*SSHCredentialMaterial, error) {
	record, err := m.selectKey(ctx, host, overrideID)
	if err != nil {
		return nil, err
	}

	privatePEM, err := m.secrets.Read(ctx, record.PrivateKeyAccount, "Unlock SSH key "+record.Label)
	if err != nil {
		return nil, &KeychainError{Op: "read", Detail: err.Error()}
	}

	material := &SSHCredentialMaterial{
		Username:   username,
		PrivateKey: privatePEM,
	}
	if material.Username == "" {
		material.Username = "git"
	}

	if record.PassphraseAccount != "" {
		passphrase, err := m.secrets.Read(ctx, record.PassphraseAccount, "Unlock SSH key passphrase "+record.Label)
		if err != nil {
			material.Scrub()
			return nil, &KeychainError{Op: "read", Detail: err.Error()}
		}
		material.Passphrase = passphrase
	}

	return material, nil
}

// selectKey applies the override-then-default selection policy.
func (m *KeyManager) selectKey(ctx context.Context, host, overrideID string) (*SSHKeyRecord, error) {
	if overrideID != "" {
		record, err := m.keys.Get(ctx, overrideID)
		if err != nil {
			return nil, WrapError(err, "key store get failed")
		}
		if record != nil {
			return record, nil
		}
		// Stale override: fall through to the host default.
	}

	records, err := m.keys.ListByHost(ctx, host)
	if err != nil {
		return nil, WrapError(err, "key store list failed")
	}
	for i := range records {
		if records[i].DefaultForHost {
			return &records[i], nil
		}
	}
	return nil, WrapErrorf(ErrKeyNotFound, "host %q", host)
}

// Delete removes a key record and its secrets. Deleting the current host
// default promotes the remaining key with the lowest case-insensitive
// label to default, or leaves no default if none remain.
func (m *KeyManager) Delete(ctx context.Context, id string) error {
	record, err := m.keys.Get(ctx, id)
	if err != nil {
		return WrapError(err, "key store get failed")
	}
	if record == nil {
		return nil
	}

	if err := m.secrets.Delete(ctx, record.PrivateKeyAccount); err != nil {
		return &KeychainError{Op: "delete", Detail: err.Error()}
	}
	if record.PassphraseAccount != "" {
		if err := m.secrets.Delete(ctx, record.PassphraseAccount); err != nil {
			return &KeychainError{Op: "delete", Detail: err.Error()}
		}
	}
	if err := m.keys.Delete(ctx, id); err != nil {
		return WrapError(err, "key record delete failed")
	}

	if !record.DefaultForHost {
		return nil
	}

	remaining, err := m.keys.ListByHost(ctx, record.Host)
	if err != nil {
		return WrapError(err, "key store list failed")
	}
	if len(remaining) == 0 {
		return nil
	}

	sort.Slice(remaining, func(i, j int) bool {
		return strings.ToLower(remaining[i].Label) < strings.ToLower(remaining[j].Label)
	})
	promoted := remaining[0]
	promoted.DefaultForHost = true
	return WrapError(m.keys.Save(ctx, promoted), "default promotion failed")
}

// SetDefault flags the key as the host default, clearing the flag on any
// other key for the same host.
func (m *KeyManager) SetDefault(ctx context.Context, id string) error {
	record, err := m.keys.Get(ctx, id)
	if err != nil {
		return WrapError(err, "key store get failed")
	}
	if record == nil {
		return WrapErrorf(ErrKeyNotFound, "id %q", id)
	}

	records, err := m.keys.ListByHost(ctx, record.Host)
	if err != nil {
		return WrapError(err, "key store list failed")
	}
	for _, other := range records {
		if other.ID != id && other.DefaultForHost {
			other.DefaultForHost = false
			if err := m.keys.Save(ctx, other); err != nil {
				return WrapError(err, "default reassignment failed")
			}
		}
	}

	record.DefaultForHost = true
	return WrapError(m.keys.Save(ctx, *record), "default reassignment failed")
}

// generateKeyPair returns the private key and its public counterpart for
// the requested algorithm. Ed25519 is the default.
func generateKeyPair(algorithm KeyAlgorithm) (signerKey any, publicKey any, err error) {
	switch algorithm {
	case KeyAlgorithmEd25519, "":
		pub, priv, genErr := ed25519.GenerateKey(rand.Reader)
		if genErr != nil {
			return nil, nil, WrapError(genErr, "failed to generate ed25519 key pair")
		}
		return priv, pub, nil
	case KeyAlgorithmRSA3072:
		priv, genErr := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if genErr != nil {
			return nil, nil, WrapError(genErr, "failed to generate RSA key pair")
		}
		return priv, &priv.PublicKey, nil
	default:
		return nil, nil, fmt.Errorf("unsupported key algorithm %q", algorithm)
	}
}
