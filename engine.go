// Package reposync transport engine boundary.
// This file contains the narrow interface the orchestrator calls for the
// underlying clone/fetch/worktree mechanics. The go-git implementation
// lives in gitengine.go; tests substitute their own.
package reposync

import (
	"context"

	gossh "golang.org/x/crypto/ssh"
)

// DefaultRemoteName is the remote name used for all operations.
const DefaultRemoteName = "origin"

// CloneOptions configures one clone operation.
type CloneOptions struct {
	// URL is the normalized remote locator (or a local path in tests).
	URL string

	// Path is the local destination directory.
	Path string

	// Branch is the single branch to track. Required.
	Branch string

	// Depth > 0 performs a shallow clone with the given depth.
	Depth int

	// Credential is the ephemeral material for the authenticated
	// operation; nil performs the operation unauthenticated.
	Credential *SSHCredentialMaterial

	// HostKey verifies the host key during the handshake; nil disables
	// verification (local remotes only).
	HostKey gossh.HostKeyCallback
}

// RepoOptions addresses an existing local repository for one operation.
type RepoOptions struct {
	Path       string
	Branch     string
	Credential *SSHCredentialMaterial
	HostKey    gossh.HostKeyCallback
}

// FastForwardOutcome is the result of integrating fetched remote history.
type FastForwardOutcome int8

const (
	// FFUpToDate means local and remote heads are equal.
	FFUpToDate FastForwardOutcome = iota

	// FFFastForwarded means the local branch pointer advanced to the
	// remote head.
	FFFastForwarded

	// FFLocalAhead means the remote is an ancestor of the local head;
	// there is nothing to integrate, only to push.
	FFLocalAhead

	// FFDiverged means neither head is an ancestor of the other.
	FFDiverged
)

// String returns a human-readable representation of the outcome.
func (o FastForwardOutcome) String() string {
	switch o {
	case FFUpToDate:
		return "up-to-date"
	case FFFastForwarded:
		return "fast-forwarded"
	case FFLocalAhead:
		return "local-ahead"
	case FFDiverged:
		return "diverged"
	default:
		return "unknown"
	}
}

// LocalChange describes one changed path in the working tree or index.
type LocalChange struct {
	Path   string `json:"path"`
	Staged bool   `json:"staged"`
	Code   string `json:"code"`
}

// WorktreeStatus summarizes the working tree for the dirty check and for
// change listing.
type WorktreeStatus struct {
	Clean       bool
	StagedCount int
	Changes     []LocalChange
}

// Engine is the transport/object engine the orchestrator composes with.
// It performs the underlying Git mechanics and raises errors from the
// package taxonomy; it never touches the trust or credential stores.
type Engine interface {
	Clone(ctx context.Context, opts CloneOptions) error
	Fetch(ctx context.Context, opts RepoOptions) error
	FastForward(ctx context.Context, opts RepoOptions) (FastForwardOutcome, error)
	Status(ctx context.Context, path string) (*WorktreeStatus, error)
	Stage(ctx context.Context, path string, paths []string) error
	StageAll(ctx context.Context, path string) error
	Commit(ctx context.Context, path, message string, identity CommitIdentity) (string, error)
	Push(ctx context.Context, opts RepoOptions) error
	Discard(ctx context.Context, path string) error
	ResetToRemote(ctx context.Context, opts RepoOptions) error
	LoadIdentity(ctx context.Context, path string) (*CommitIdentity, error)
	SaveIdentity(ctx context.Context, path string, identity CommitIdentity) error
}
