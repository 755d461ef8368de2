// Package reposync in-memory collaborators.
// This file contains reference implementations of the persistence and
// secret-store boundaries. They are used throughout the tests and are
// suitable as defaults until a host wires real persistence.
package reposync

import (
	"context"
	"fmt"
	"sync"
)

// MemRepoStore is an in-memory RepoStore.
type MemRepoStore struct {
	mu      sync.RWMutex
	records map[RepoID]RepoRecord
}

// NewMemRepoStore returns an empty store.
func NewMemRepoStore() *MemRepoStore {
	return &MemRepoStore{records: make(map[RepoID]RepoRecord)}
}

func (s *MemRepoStore) Get(ctx context.Context, id RepoID) (*RepoRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *MemRepoStore) List(ctx context.Context) ([]RepoRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RepoRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	return out, nil
}

func (s *MemRepoStore) Save(ctx context.Context, record RepoRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

func (s *MemRepoStore) Delete(ctx context.Context, id RepoID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// MemFingerprintStore is an in-memory FingerprintStore keyed by the
// (host, port, algorithm) triple.
type MemFingerprintStore struct {
	mu   sync.RWMutex
	pins map[string]HostFingerprintRecord
}

// NewMemFingerprintStore returns an empty store.
func NewMemFingerprintStore() *MemFingerprintStore {
	return &MemFingerprintStore{pins: make(map[string]HostFingerprintRecord)}
}

func (s *MemFingerprintStore) Lookup(ctx context.Context, host string, port int, algorithm string) (*HostFingerprintRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.pins[trustKey(host, port, algorithm)]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *MemFingerprintStore) Persist(ctx context.Context, record HostFingerprintRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[trustKey(record.Host, record.Port, record.Algorithm)] = record
	return nil
}

// Len reports the number of pinned rows.
func (s *MemFingerprintStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pins)
}

// MemKeyStore is an in-memory KeyStore.
type MemKeyStore struct {
	mu      sync.RWMutex
	records map[string]SSHKeyRecord
}

// NewMemKeyStore returns an empty store.
func NewMemKeyStore() *MemKeyStore {
	return &MemKeyStore{records: make(map[string]SSHKeyRecord)}
}

func (s *MemKeyStore) Get(ctx context.Context, id string) (*SSHKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *MemKeyStore) ListByHost(ctx context.Context, host string) ([]SSHKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SSHKeyRecord
	for _, record := range s.records {
		if record.Host == host {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *MemKeyStore) Save(ctx context.Context, record SSHKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

func (s *MemKeyStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// MemSecretStore is an in-memory SecretStore. It records whether each
// account was saved with the user-presence requirement so tests can
// assert the gating contract.
type MemSecretStore struct {
	mu       sync.RWMutex
	secrets  map[string][]byte
	presence map[string]bool
}

// NewMemSecretStore returns an empty store.
func NewMemSecretStore() *MemSecretStore {
	return &MemSecretStore{
		secrets:  make(map[string][]byte),
		presence: make(map[string]bool),
	}
}

func (s *MemSecretStore) Save(ctx context.Context, account string, secret []byte, requiresUserPresence bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[account] = append([]byte(nil), secret...)
	s.presence[account] = requiresUserPresence
	return nil
}

func (s *MemSecretStore) Read(ctx context.Context, account string, prompt string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.secrets[account]
	if !ok {
		return nil, fmt.Errorf("no secret for account %q", account)
	}
	return append([]byte(nil), secret...), nil
}

func (s *MemSecretStore) Delete(ctx context.Context, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, account)
	delete(s.presence, account)
	return nil
}

func (s *MemSecretStore) Exists(ctx context.Context, account string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.secrets[account]
	return ok, nil
}

// RequiresUserPresence reports how the account was saved.
func (s *MemSecretStore) RequiresUserPresence(account string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presence[account]
}
