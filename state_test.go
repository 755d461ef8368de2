package reposync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestClassifyError pins the fixed error-to-state mapping. Trust failures
// must never be downgraded to a generic failure.
func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want RepoSyncState
	}{
		{"nil is success", nil, StateSuccess},
		{"already up to date is success", ErrAlreadyUpToDate, StateSuccess},
		{"wrapped already up to date", WrapError(ErrAlreadyUpToDate, "fetch"), StateSuccess},
		{"host mismatch", &HostMismatchError{Expected: "a", Got: "b"}, StateHostMismatch},
		{"trust rejected", ErrHostTrustRejected, StateAuthFailed},
		{"auth failed", ErrAuthFailed, StateAuthFailed},
		{"key not found", ErrKeyNotFound, StateAuthFailed},
		{"keychain failure", &KeychainError{Op: "read", Detail: "locked"}, StateAuthFailed},
		{"dirty tree", ErrDirtyWorkingTree, StateBlockedDirty},
		{"diverged branch", WrapError(ErrDivergedBranch, "sync"), StateBlockedDiverged},
		{"sync blocked", WrapError(ErrSyncBlocked, "incomplete record"), StateFailed},
		{"cancellation", context.Canceled, StateFailed},
		{"unclassified default", errors.New("disk full"), StateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestRepoSyncStateTerminal(t *testing.T) {
	assert.False(t, StateIdle.Terminal())
	assert.False(t, StateSyncing.Terminal())
	assert.True(t, StateSuccess.Terminal())
	assert.True(t, StateBlockedDirty.Terminal())
	assert.True(t, StateNetworkDeferred.Terminal())
	assert.True(t, StateFailed.Terminal())
}

func TestWithResult(t *testing.T) {
	record := RepoRecord{ID: "r1", LastErrorMessage: "old failure"}

	res := resultFor(ErrDirtyWorkingTree, record.LastSyncAt.Add(1))
	updated := record.WithResult(res)

	assert.Equal(t, StateBlockedDirty, updated.LastSyncState)
	assert.Equal(t, res.CompletedAt, updated.LastSyncAt)
	assert.NotEmpty(t, updated.LastErrorMessage)

	// A later success clears the stored message.
	success := record.WithResult(resultFor(nil, res.CompletedAt))
	assert.Equal(t, StateSuccess, success.LastSyncState)
	assert.Empty(t, success.LastErrorMessage)
}
