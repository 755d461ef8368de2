// Package reposync sync state model.
// This file contains the closed sync-state vocabulary, the sync result
// artifact, and the fixed error-to-state classification.
package reposync

import (
	"context"
	"errors"
	"time"
)

// RepoSyncState is the closed terminal vocabulary every sync attempt must
// collapse into.
type RepoSyncState string

const (
	// StateIdle is the resting state of a repository with no operation in
	// flight. On process restart any repository not currently locked is
	// idle regardless of its last persisted terminal state.
	StateIdle RepoSyncState = "idle"

	// StateSyncing is entered atomically with lock acquisition. It is never
	// persisted.
	StateSyncing RepoSyncState = "syncing"

	// StateSuccess means the local branch was fast-forwarded or was already
	// up to date.
	StateSuccess RepoSyncState = "success"

	// StateBlockedDirty means uncommitted local modifications blocked the
	// sync; the working tree was left untouched.
	StateBlockedDirty RepoSyncState = "blockedDirty"

	// StateBlockedDiverged means local and remote histories are
	// incompatible for a fast-forward.
	StateBlockedDiverged RepoSyncState = "blockedDiverged"

	// StateAuthFailed means credential resolution or authentication failed,
	// or the user declined to trust a first-contact host.
	StateAuthFailed RepoSyncState = "authFailed"

	// StateHostMismatch means the remote presented a key differing from the
	// pinned fingerprint and the rotation was not approved.
	StateHostMismatch RepoSyncState = "hostMismatch"

	// StateNetworkDeferred means the network policy disallowed a background
	// sync before any network call was attempted.
	StateNetworkDeferred RepoSyncState = "networkDeferred"

	// StateFailed is the default for any error outside the fixed mapping.
	StateFailed RepoSyncState = "failed"
)

// Terminal reports whether the state is a terminal outcome of a sync
// attempt (as opposed to idle/syncing).
func (s RepoSyncState) Terminal() bool {
	switch s {
	case StateIdle, StateSyncing:
		return false
	default:
		return true
	}
}

// String returns the wire form of the state.
func (s RepoSyncState) String() string {
	return string(s)
}

// SyncResult is the only artifact a sync attempt produces for its caller.
type SyncResult struct {
	State       RepoSyncState `json:"state"`
	Message     string        `json:"message,omitempty"`
	CompletedAt time.Time     `json:"completed_at"`
}

// ClassifyError maps an error from the closed taxonomy onto the sync state
// persisted for it. Trust failures are never downgraded: host mismatch and
// trust rejection remain distinguishable all the way to the stored state.
// A nil error and ErrAlreadyUpToDate both classify as success; unclassified
// errors default to failed.
func ClassifyError(err error) RepoSyncState {
	switch {
	case err == nil, errors.Is(err, ErrAlreadyUpToDate):
		return StateSuccess
	case errors.Is(err, ErrHostMismatch):
		return StateHostMismatch
	case errors.Is(err, ErrHostTrustRejected),
		errors.Is(err, ErrAuthFailed),
		errors.Is(err, ErrKeyNotFound),
		errors.Is(err, ErrKeychainFailure):
		return StateAuthFailed
	case errors.Is(err, ErrDirtyWorkingTree):
		return StateBlockedDirty
	case errors.Is(err, ErrDivergedBranch):
		return StateBlockedDiverged
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StateFailed
	default:
		return StateFailed
	}
}

// resultFor builds the SyncResult for a finished attempt.
func resultFor(err error, now time.Time) SyncResult {
	state := ClassifyError(err)
	res := SyncResult{State: state, CompletedAt: now}
	if err != nil && state != StateSuccess {
		res.Message = err.Error()
	}
	return res
}
