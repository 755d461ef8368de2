// Package reposync data model.
// This file contains the durable record types exchanged with the
// persistence collaborator. The engine receives records by value and
// returns updated copies; it never mutates persisted state in place.
package reposync

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/google/uuid"
)

// RepoID is the opaque unique identifier of a tracked repository.
// Immutable once created; equality is on the raw value.
type RepoID string

// NewRepoID mints a fresh repository identifier.
func NewRepoID() RepoID {
	return RepoID(uuid.NewString())
}

func (id RepoID) String() string {
	return string(id)
}

// RepoRecord is the durable configuration and status snapshot of a tracked
// repository. Owned by the persistence collaborator.
type RepoRecord struct {
	ID               RepoID        `json:"id"`
	Name             string        `json:"name"`
	RemoteURL        string        `json:"remote_url"`
	LocalPath        string        `json:"local_path"`
	Branch           string        `json:"branch"`
	SSHKeyOverrideID string        `json:"ssh_key_override_id,omitempty"`
	AutoSync         bool          `json:"auto_sync"`
	LastSyncAt       time.Time     `json:"last_sync_at,omitzero"`
	LastSyncState    RepoSyncState `json:"last_sync_state"`
	LastErrorMessage string        `json:"last_error_message,omitempty"`
}

// WithResult returns a copy of the record updated with the outcome of one
// sync attempt, ready for the owner to persist.
func (r RepoRecord) WithResult(res SyncResult) RepoRecord {
	r.LastSyncAt = res.CompletedAt
	r.LastSyncState = res.State
	r.LastErrorMessage = res.Message
	return r
}

// RepoStore is the persistence boundary for repository records.
type RepoStore interface {
	// Get returns the record for id, or nil if unknown.
	Get(ctx context.Context, id RepoID) (*RepoRecord, error)
	// List returns all tracked repositories.
	List(ctx context.Context) ([]RepoRecord, error)
	// Save creates or replaces the record keyed by its ID.
	Save(ctx context.Context, record RepoRecord) error
	// Delete removes the record for id. Unknown ids are not an error.
	Delete(ctx context.Context, id RepoID) error
}

// HostFingerprintRecord pins one host key: one row per
// (host, port, algorithm) triple, unique on that composite key. Created on
// first trust, overwritten only on explicit rotation approval.
type HostFingerprintRecord struct {
	Host              string    `json:"host"`
	Port              int       `json:"port"`
	Algorithm         string    `json:"algorithm"`
	FingerprintSHA256 string    `json:"fingerprint_sha256"`
	AcceptedAt        time.Time `json:"accepted_at"`
}

// KeySource records how key material entered the system.
type KeySource string

const (
	KeySourceGenerated KeySource = "generated"
	KeySourceImported  KeySource = "imported"
)

// SSHKeyRecord describes a stored SSH key. Private bytes are never part of
// this record: PrivateKeyAccount and PassphraseAccount are opaque
// references into the secret store, minted by the key manager and never
// guessable from the public record. At most one record per host carries
// DefaultForHost.
type SSHKeyRecord struct {
	ID                string    `json:"id"`
	Host              string    `json:"host"`
	Label             string    `json:"label"`
	Algorithm         string    `json:"algorithm"`
	Source            KeySource `json:"source"`
	PublicKeyOpenSSH  string    `json:"public_key_openssh"`
	PrivateKeyAccount string    `json:"private_key_account"`
	PassphraseAccount string    `json:"passphrase_account,omitempty"`
	DefaultForHost    bool      `json:"default_for_host"`
	CreatedAt         time.Time `json:"created_at"`
}

// CommitIdentity is the repository-scoped author identity used for
// commits. Absence is represented as a nil value, not an error.
type CommitIdentity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SSHCredentialMaterial is the ephemeral credential presented for one
// authenticated operation. Construct immediately before the operation and
// Scrub on every exit path; it must not be retained past the operation.
type SSHCredentialMaterial struct {
	Username   string
	PrivateKey []byte
	Passphrase []byte
}

// Scrub zeroizes the private material. Safe to call more than once and on
// a nil receiver.
func (m *SSHCredentialMaterial) Scrub() {
	if m == nil {
		return
	}
	zero(m.PrivateKey)
	zero(m.Passphrase)
	m.PrivateKey = nil
	m.Passphrase = nil
}

func zero(b []byte) {
	if len(b) == 0 {
		return
	}
	// ConstantTimeCopy keeps the compiler from eliding the wipe.
	subtle.ConstantTimeCopy(1, b, make([]byte, len(b)))
}
