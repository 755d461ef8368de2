// Package reposync client orchestration.
// This file contains the GitClient contract: the single surface callers
// use for clone, sync, and the secondary mutating operations. It imposes
// the ordering lock -> trust -> credentials -> transport -> classification
// and never widens into UI or persistence types.
package reposync

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/leodido/go-conventionalcommits"
	"github.com/leodido/go-conventionalcommits/parser"
	"go.uber.org/zap"
)

// SyncTrigger identifies what initiated a sync attempt.
type SyncTrigger int8

const (
	// TriggerForeground is a user-initiated sync.
	TriggerForeground SyncTrigger = iota

	// TriggerBackground is a scheduler-initiated sync, subject to the
	// network policy gate.
	TriggerBackground
)

// String returns a human-readable representation of the trigger.
func (t SyncTrigger) String() string {
	switch t {
	case TriggerForeground:
		return "foreground"
	case TriggerBackground:
		return "background"
	default:
		return "unknown"
	}
}

// RemoteProbeResult is the outcome of preparing a remote locator.
type RemoteProbeResult struct {
	Remote     *RemoteURL
	Normalized string
}

// CloneRequest describes a repository to clone.
type CloneRequest struct {
	// Name is the display name; defaults to the repository path base.
	Name string

	// RemoteURL is the user-supplied SSH locator.
	RemoteURL string

	// LocalPath overrides the destination; defaults to BaseDir/<repo id>.
	LocalPath string

	// Branch is the single branch to track. Required.
	Branch string

	// SSHKeyOverrideID selects a specific key instead of the host default.
	SSHKeyOverrideID string

	// AutoSync opts the repository into background synchronization.
	AutoSync bool
}

// Options configures a Client.
type Options struct {
	// Engine is the REQUIRED transport/object engine.
	Engine Engine

	// Credentials resolves SSH key material per host. If nil, operations
	// run unauthenticated (local test remotes only).
	Credentials CredentialProvider

	// Trust evaluates host keys during handshakes. If nil, host
	// verification is disabled (local test remotes only).
	Trust HostTrust

	// Repos persists repository records. If nil, Clone returns the record
	// without persisting it.
	Repos RepoStore

	// Policy gates background network access. Defaults to AllowAll.
	Policy NetworkPolicy

	// Logger receives structured operation logs. Defaults to a no-op.
	Logger *zap.Logger

	// BaseDir is where cloned repositories live when a request does not
	// name a local path. Defaults to the user data dir.
	BaseDir string

	// ConventionalCommits enforces the Conventional Commits grammar on
	// commit messages.
	ConventionalCommits bool
}

// Validate checks that the Options are properly configured.
func (o *Options) Validate() error {
	if o.Engine == nil {
		return errors.New("engine is required")
	}
	return nil
}

// applyDefaults sets default values for any unset fields in Options.
func (o *Options) applyDefaults() {
	if o.Policy == nil {
		o.Policy = AllowAll{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.BaseDir == "" {
		o.BaseDir = filepath.Join(xdg.DataHome, "reposync")
	}
}

// Client is the orchestration seam the rest of the system depends on. It
// serializes mutating operations per repository, evaluates host trust,
// resolves credentials, delegates the transport mechanics to the Engine,
// and classifies every outcome.
type Client struct {
	opts  Options
	locks *KeyedLock
	log   *zap.Logger
	now   func() time.Time
}

// NewClient validates the options and builds a client.
func NewClient(opts *Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, WrapError(err, "invalid options")
	}
	opts.applyDefaults()

	return &Client{
		opts:  *opts,
		locks: NewKeyedLock(),
		log:   opts.Logger,
		now:   time.Now,
	}, nil
}

// PrepareRemote parses and normalizes a remote locator. It performs no
// network I/O.
func (c *Client) PrepareRemote(ctx context.Context, raw string) (*RemoteProbeResult, error) {
	remote, err := ParseRemoteURL(raw)
	if err != nil {
		return nil, err
	}
	return &RemoteProbeResult{Remote: remote, Normalized: remote.Normalized()}, nil
}

// Clone validates the remote, evaluates host trust during the handshake,
// resolves credentials, performs the clone, and persists a new record.
func (c *Client) Clone(ctx context.Context, req CloneRequest) (*RepoRecord, error) {
	remote, err := ParseRemoteURL(req.RemoteURL)
	if err != nil {
		return nil, err
	}
	if req.Branch == "" {
		return nil, errors.New("branch is required")
	}

	id := NewRepoID()
	localPath := req.LocalPath
	if localPath == "" {
		localPath = filepath.Join(c.opts.BaseDir, id.String())
	}

	release, err := c.locks.Acquire(ctx, id.String())
	if err != nil {
		return nil, err
	}
	defer release()

	cred, err := c.credentialFor(ctx, remote, req.SSHKeyOverrideID)
	if err != nil {
		return nil, err
	}
	defer cred.Scrub()

	gate := newHostKeyGate(ctx, c.opts.Trust)
	err = c.opts.Engine.Clone(ctx, CloneOptions{
		URL:        remote.Normalized(),
		Path:       localPath,
		Branch:     req.Branch,
		Credential: cred,
		HostKey:    gate.Callback(),
	})
	if err != nil {
		return nil, gate.Err(err)
	}

	name := req.Name
	if name == "" {
		name = strings.TrimSuffix(path.Base(remote.Path), ".git")
	}
	record := RepoRecord{
		ID:               id,
		Name:             name,
		RemoteURL:        remote.Normalized(),
		LocalPath:        localPath,
		Branch:           req.Branch,
		SSHKeyOverrideID: req.SSHKeyOverrideID,
		AutoSync:         req.AutoSync,
		LastSyncAt:       c.now(),
		LastSyncState:    StateSuccess,
	}

	if c.opts.Repos != nil {
		if err := c.opts.Repos.Save(ctx, record); err != nil {
			return nil, WrapError(err, "failed to persist repository record")
		}
	}

	c.log.Info("repository cloned",
		zap.String("repo", id.String()),
		zap.String("remote", record.RemoteURL))
	return &record, nil
}

// Sync brings the tracked branch up to date with the remote. It never
// returns an error: every attempt collapses into a SyncResult. The
// repository lock is held for the whole attempt; background triggers are
// gated by the network policy before any network call.
func (c *Client) Sync(ctx context.Context, repo RepoRecord, trigger SyncTrigger) SyncResult {
	start := c.now()

	release, err := c.locks.Acquire(ctx, repo.ID.String())
	if err != nil {
		return resultFor(err, c.now())
	}
	defer release()

	if trigger == TriggerBackground && !c.opts.Policy.AllowBackgroundSync(ctx) {
		return SyncResult{
			State:       StateNetworkDeferred,
			Message:     "background network access disallowed by policy",
			CompletedAt: c.now(),
		}
	}

	res := resultFor(c.syncLocked(ctx, repo), c.now())
	c.log.Info("sync finished",
		zap.String("repo", repo.ID.String()),
		zap.String("trigger", trigger.String()),
		zap.String("state", res.State.String()),
		zap.Duration("took", c.now().Sub(start)))
	return res
}

// syncLocked runs one attempt with the repository lock held.
func (c *Client) syncLocked(ctx context.Context, repo RepoRecord) error {
	if repo.LocalPath == "" || repo.Branch == "" {
		return WrapError(ErrSyncBlocked, "repository record has no local path or tracked branch")
	}

	status, err := c.opts.Engine.Status(ctx, repo.LocalPath)
	if err != nil {
		return err
	}
	if !status.Clean {
		return WrapError(ErrDirtyWorkingTree, "uncommitted local changes present")
	}

	remote, err := ParseRemoteURL(repo.RemoteURL)
	if err != nil {
		return err
	}

	cred, err := c.credentialFor(ctx, remote, repo.SSHKeyOverrideID)
	if err != nil {
		return err
	}
	defer cred.Scrub()

	gate := newHostKeyGate(ctx, c.opts.Trust)
	opts := RepoOptions{
		Path:       repo.LocalPath,
		Branch:     repo.Branch,
		Credential: cred,
		HostKey:    gate.Callback(),
	}

	if err := c.opts.Engine.Fetch(ctx, opts); err != nil && !errors.Is(err, ErrAlreadyUpToDate) {
		return gate.Err(err)
	}

	outcome, err := c.opts.Engine.FastForward(ctx, opts)
	if err != nil {
		return err
	}
	if outcome == FFDiverged {
		return WrapError(ErrDivergedBranch, "local and remote histories are incompatible for fast-forward")
	}
	return nil
}

// ListLocalChanges reports pending worktree and index changes.
func (c *Client) ListLocalChanges(ctx context.Context, repo RepoRecord) ([]LocalChange, error) {
	var changes []LocalChange
	err := c.withRepoLock(ctx, repo.ID, func() error {
		status, err := c.opts.Engine.Status(ctx, repo.LocalPath)
		if err != nil {
			return err
		}
		changes = status.Changes
		return nil
	})
	return changes, err
}

// Stage stages the given paths for the next commit.
func (c *Client) Stage(ctx context.Context, repo RepoRecord, paths ...string) error {
	if len(paths) == 0 {
		return WrapError(ErrNothingToStage, "no paths given")
	}
	return c.withRepoLock(ctx, repo.ID, func() error {
		return c.opts.Engine.Stage(ctx, repo.LocalPath, paths)
	})
}

// StageAll stages every pending change including untracked files.
func (c *Client) StageAll(ctx context.Context, repo RepoRecord) error {
	return c.withRepoLock(ctx, repo.ID, func() error {
		return c.opts.Engine.StageAll(ctx, repo.LocalPath)
	})
}

// Commit creates a commit from the staged changes using the
// repository-scoped author identity and returns the new SHA.
func (c *Client) Commit(ctx context.Context, repo RepoRecord, message string) (string, error) {
	if err := c.validateCommitMessage(message); err != nil {
		return "", err
	}

	var sha string
	err := c.withRepoLock(ctx, repo.ID, func() error {
		identity, err := c.opts.Engine.LoadIdentity(ctx, repo.LocalPath)
		if err != nil {
			return err
		}
		if identity == nil {
			return WrapError(ErrCommitIdentityMissing, "set an author name and email first")
		}

		sha, err = c.opts.Engine.Commit(ctx, repo.LocalPath, message, *identity)
		return err
	})
	return sha, err
}

// Push uploads the local branch to the remote. A remote that is already
// up to date is success, not an error.
func (c *Client) Push(ctx context.Context, repo RepoRecord) error {
	return c.withRepoLock(ctx, repo.ID, func() error {
		remote, err := ParseRemoteURL(repo.RemoteURL)
		if err != nil {
			return err
		}

		cred, err := c.credentialFor(ctx, remote, repo.SSHKeyOverrideID)
		if err != nil {
			return err
		}
		defer cred.Scrub()

		gate := newHostKeyGate(ctx, c.opts.Trust)
		err = c.opts.Engine.Push(ctx, RepoOptions{
			Path:       repo.LocalPath,
			Branch:     repo.Branch,
			Credential: cred,
			HostKey:    gate.Callback(),
		})
		if errors.Is(err, ErrAlreadyUpToDate) {
			return nil
		}
		return gate.Err(err)
	})
}

// DiscardLocalChanges throws away uncommitted edits and untracked files.
// This is the explicit recovery action for a blockedDirty state.
func (c *Client) DiscardLocalChanges(ctx context.Context, repo RepoRecord) error {
	return c.withRepoLock(ctx, repo.ID, func() error {
		return c.opts.Engine.Discard(ctx, repo.LocalPath)
	})
}

// ResetToRemote discards local history and edits and matches the remote
// head. This is the explicit recovery action for a blockedDiverged state.
func (c *Client) ResetToRemote(ctx context.Context, repo RepoRecord) error {
	return c.withRepoLock(ctx, repo.ID, func() error {
		remote, err := ParseRemoteURL(repo.RemoteURL)
		if err != nil {
			return err
		}

		cred, err := c.credentialFor(ctx, remote, repo.SSHKeyOverrideID)
		if err != nil {
			return err
		}
		defer cred.Scrub()

		gate := newHostKeyGate(ctx, c.opts.Trust)
		err = c.opts.Engine.ResetToRemote(ctx, RepoOptions{
			Path:       repo.LocalPath,
			Branch:     repo.Branch,
			Credential: cred,
			HostKey:    gate.Callback(),
		})
		return gate.Err(err)
	})
}

// LoadCommitIdentity reads the repository-scoped author identity. A nil
// identity means none has been saved; that is not an error.
func (c *Client) LoadCommitIdentity(ctx context.Context, repo RepoRecord) (*CommitIdentity, error) {
	return c.opts.Engine.LoadIdentity(ctx, repo.LocalPath)
}

// SaveCommitIdentity writes the repository-scoped author identity.
func (c *Client) SaveCommitIdentity(ctx context.Context, repo RepoRecord, identity CommitIdentity) error {
	if identity.Name == "" || identity.Email == "" {
		return errors.New("name and email are required")
	}
	return c.withRepoLock(ctx, repo.ID, func() error {
		return c.opts.Engine.SaveIdentity(ctx, repo.LocalPath, identity)
	})
}

// withRepoLock runs fn with the repository lock held, releasing it on
// every exit path.
func (c *Client) withRepoLock(ctx context.Context, id RepoID, fn func() error) error {
	release, err := c.locks.Acquire(ctx, id.String())
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// credentialFor resolves the material for one authenticated operation.
// Returns nil material when no credential provider is configured.
func (c *Client) credentialFor(ctx context.Context, remote *RemoteURL, overrideID string) (*SSHCredentialMaterial, error) {
	if c.opts.Credentials == nil {
		return nil, nil
	}
	return c.opts.Credentials.Credential(ctx, remote.Host, remote.User, overrideID)
}

// validateCommitMessage applies the message policy: never empty, and
// Conventional Commits when configured.
func (c *Client) validateCommitMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return WrapError(ErrInvalidCommitMessage, "message is empty")
	}
	if !c.opts.ConventionalCommits {
		return nil
	}

	machine := parser.NewMachine(conventionalcommits.WithTypes(conventionalcommits.TypesConventional))
	if _, err := machine.Parse([]byte(message)); err != nil {
		return WrapErrorf(ErrInvalidCommitMessage, "not a conventional commit (%v)", err)
	}
	return nil
}
