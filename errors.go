// Package reposync provides sentinel errors for the sync engine.
// All errors can be checked using errors.Is() for programmatic handling.
package reposync

import (
	"errors"
	"fmt"
)

// Closed error taxonomy. Every component raises one of these kinds instead
// of ad-hoc errors so that boundaries can match exhaustively and map
// failures onto user-visible sync states.

// ErrInvalidRemoteURL is returned when a remote locator matches an accepted
// surface form but user, host, or path cannot all be extracted.
var ErrInvalidRemoteURL = errors.New("invalid remote URL")

// ErrUnsupportedRemoteScheme is returned when a remote locator matches
// neither the ssh:// form nor the user@host:path shorthand.
var ErrUnsupportedRemoteScheme = errors.New("unsupported remote scheme")

// ErrHostTrustRejected is returned when a first-contact host key was not
// approved for pinning.
var ErrHostTrustRejected = errors.New("host trust rejected")

// ErrHostMismatch is returned when a host presents a key that differs from
// the pinned fingerprint and the rotation was not approved.
// Use errors.As with *HostMismatchError to recover both fingerprints.
var ErrHostMismatch = errors.New("host key mismatch")

// ErrDirtyWorkingTree is returned when a sync is attempted while
// uncommitted local modifications exist. The working tree is left untouched.
var ErrDirtyWorkingTree = errors.New("dirty working tree")

// ErrDivergedBranch is returned when local and remote histories have both
// advanced and cannot be combined by fast-forward alone.
var ErrDivergedBranch = errors.New("branch diverged from remote")

// ErrKeyNotFound is returned when credential resolution finds neither a
// per-repository override key nor a host default key.
var ErrKeyNotFound = errors.New("no SSH key found")

// ErrKeychainFailure is returned when the secret store cannot save, read,
// or delete key material. Use errors.As with *KeychainError for detail.
var ErrKeychainFailure = errors.New("keychain failure")

// ErrSyncBlocked is returned when an operation cannot proceed because
// another condition blocks it (detail carried by the wrapping message).
var ErrSyncBlocked = errors.New("sync blocked")

// ErrIOFailure is returned for local filesystem or repository storage
// failures underlying an operation.
var ErrIOFailure = errors.New("i/o failure")

// ErrInvalidCommitMessage is returned when a commit message is empty or
// fails the configured message policy.
var ErrInvalidCommitMessage = errors.New("invalid commit message")

// ErrCommitIdentityMissing is returned when a commit is attempted before a
// repository-scoped author identity has been saved.
var ErrCommitIdentityMissing = errors.New("commit identity missing")

// ErrNothingToCommit is returned when a commit is attempted with no staged
// changes.
var ErrNothingToCommit = errors.New("nothing to commit")

// ErrNothingToStage is returned when a stage operation matches no modified
// or untracked files.
var ErrNothingToStage = errors.New("nothing to stage")

// ErrAuthFailed is returned when the remote rejected the presented
// credential.
var ErrAuthFailed = errors.New("authentication failed")

// ErrAlreadyUpToDate is returned by transport operations that result in no
// changes because local and remote states are already synchronized. It is
// classified as success, not failure.
var ErrAlreadyUpToDate = errors.New("already up to date")

// HostMismatchError carries the pinned and presented fingerprints of a
// rejected host key rotation. It unwraps to ErrHostMismatch.
type HostMismatchError struct {
	Host     string
	Port     int
	Expected string
	Got      string
}

func (e *HostMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s:%d: expected %s, got %s", e.Host, e.Port, e.Expected, e.Got)
}

func (e *HostMismatchError) Unwrap() error {
	return ErrHostMismatch
}

// KeychainError carries the failed secret-store operation and its cause.
// It unwraps to ErrKeychainFailure.
type KeychainError struct {
	Op     string
	Detail string
}

func (e *KeychainError) Error() string {
	return fmt.Sprintf("keychain %s failed: %s", e.Op, e.Detail)
}

func (e *KeychainError) Unwrap() error {
	return ErrKeychainFailure
}

// WrapError wraps an error with additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// WrapErrorf wraps an error with formatted additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
