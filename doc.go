// Package reposync implements a repository synchronization engine for
// Git-over-SSH remotes. It orchestrates the underlying transport/object
// engine (go-git behind the Engine boundary) while enforcing the contracts
// a mobile client needs: per-repository mutual exclusion, trust-on-first-use
// host key pinning, credential resolution from a platform secret store, and
// a closed classification of every sync outcome.
//
// # Design Principles
//
// The package follows these core principles:
//   - Minimal surface area - the Client protocol is the only seam callers use
//   - Testability by construction - every collaborator is an interface,
//     in-memory implementations ship alongside
//   - Security - host keys are pinned on first use, rotation requires
//     explicit approval, credential material never outlives one operation
//   - Go idioms - accepts interfaces, returns concrete types
//
// # Basic Usage
//
// Wire the engine with its collaborators and clone a repository:
//
//	trust := reposync.NewTrustEvaluator(fingerprints, prompt)
//	keys := reposync.NewKeyManager(keyStore, secrets)
//
//	client, err := reposync.NewClient(&reposync.Options{
//	    Engine:      reposync.NewGitEngine(),
//	    Credentials: keys,
//	    Trust:       trust,
//	    Repos:       repos,
//	})
//
//	record, err := client.Clone(ctx, reposync.CloneRequest{
//	    Name:      "dotfiles",
//	    RemoteURL: "git@example.com:me/dotfiles.git",
//	    Branch:    "main",
//	})
//
// # Synchronization
//
// Sync never returns an error; every attempt collapses into a SyncResult
// whose state is one of the closed RepoSyncState values:
//
//	result := client.Sync(ctx, *record, reposync.TriggerForeground)
//	switch result.State {
//	case reposync.StateBlockedDirty:
//	    // uncommitted local edits, worktree left untouched
//	case reposync.StateHostMismatch:
//	    // the remote presented a key that differs from the pinned one
//	}
//
// # Concurrency
//
// Exactly one mutating operation runs per repository at a time. Concurrent
// callers wait on a per-key semaphore rather than fail; cancellation of the
// waiting context aborts the wait. Host trust evaluations are serialized
// independently per (host, port, algorithm).
//
// # Error Handling
//
// The package provides sentinel errors for every failure kind:
//
//	err := client.Push(ctx, repo)
//	if errors.Is(err, reposync.ErrDivergedBranch) {
//	    // remote history advanced, an explicit reset is required
//	}
//
// ClassifyError maps any error from the taxonomy onto the RepoSyncState
// that background sync persists.
package reposync
