// Package reposync go-git engine.
// This file contains the go-git implementation of the Engine boundary:
// repository storage with an LRU object cache, transport operations, and
// the mapping of go-git errors onto the package taxonomy.
package reposync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/itsvessy/reposync/internal/auth"
)

// DefaultStorerCacheSize is the default size for the LRU object cache.
const DefaultStorerCacheSize = 1000

// gitEngine implements Engine on top of go-git.
type gitEngine struct {
	cacheSize int
}

// NewGitEngine returns the go-git transport/object engine.
func NewGitEngine() Engine {
	return &gitEngine{cacheSize: DefaultStorerCacheSize}
}

// newStorage creates repository storage with an LRU object cache.
func newStorage(dotgit billy.Filesystem, cacheSize int) *filesystem.Storage {
	if cacheSize <= 0 {
		cacheSize = DefaultStorerCacheSize
	}
	return filesystem.NewStorage(dotgit, cache.NewObjectLRU(cache.FileSize(cacheSize)))
}

// open opens the repository rooted at path with its worktree.
func (e *gitEngine) open(path string) (*git.Repository, *git.Worktree, error) {
	root := osfs.New(path)
	dotgit, err := root.Chroot(git.GitDirName)
	if err != nil {
		return nil, nil, WrapErrorf(ErrIOFailure, "failed to access %q", path)
	}

	repo, err := git.Open(newStorage(dotgit, e.cacheSize), root)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, nil, WrapErrorf(ErrIOFailure, "no repository at %q", path)
		}
		return nil, nil, WrapError(err, "failed to open repository")
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, nil, WrapError(err, "failed to get worktree")
	}
	return repo, worktree, nil
}

// authMethod builds the transport auth method for the credential, or nil
// when the operation is unauthenticated.
func (e *gitEngine) authMethod(cred *SSHCredentialMaterial, opts RepoOptions) (transport.AuthMethod, error) {
	if cred == nil {
		return nil, nil
	}
	method, err := auth.PublicKeys(cred.Username, cred.PrivateKey, cred.Passphrase, opts.HostKey)
	if err != nil {
		return nil, WrapError(ErrAuthFailed, err.Error())
	}
	return method, nil
}

// Clone clones a single branch of the remote into opts.Path.
func (e *gitEngine) Clone(ctx context.Context, opts CloneOptions) error {
	if opts.URL == "" || opts.Path == "" {
		return WrapError(ErrIOFailure, "clone requires a URL and a destination path")
	}

	method, err := e.authMethod(opts.Credential, RepoOptions{HostKey: opts.HostKey})
	if err != nil {
		return err
	}

	_, statErr := os.Stat(opts.Path)
	created := os.IsNotExist(statErr)

	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return WrapError(ErrIOFailure, err.Error())
	}

	root := osfs.New(opts.Path)
	dotgit, err := root.Chroot(git.GitDirName)
	if err != nil {
		return WrapErrorf(ErrIOFailure, "failed to access %q", opts.Path)
	}

	cloneOpts := &git.CloneOptions{
		URL:          opts.URL,
		Auth:         method,
		SingleBranch: true,
		Depth:        opts.Depth,
	}
	if opts.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
	}

	if _, err := git.CloneContext(ctx, newStorage(dotgit, e.cacheSize), root, cloneOpts); err != nil {
		// An interrupted clone must not leave a partial destination: a
		// half-written .git would make every retry into the same path fail
		// with repository-already-exists.
		if created {
			_ = os.RemoveAll(opts.Path)
		} else {
			_ = os.RemoveAll(filepath.Join(opts.Path, git.GitDirName))
		}
		return mapTransportError(err)
	}
	return nil
}

// Fetch fetches the tracked remote. Returns ErrAlreadyUpToDate when there
// is nothing new.
func (e *gitEngine) Fetch(ctx context.Context, opts RepoOptions) error {
	repo, _, err := e.open(opts.Path)
	if err != nil {
		return err
	}

	method, err := e.authMethod(opts.Credential, opts)
	if err != nil {
		return err
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: DefaultRemoteName,
		Auth:       method,
	})
	return mapTransportError(err)
}

// FastForward integrates previously fetched remote history into the local
// branch. The worktree must be clean; the caller guarantees that.
func (e *gitEngine) FastForward(ctx context.Context, opts RepoOptions) (FastForwardOutcome, error) {
	repo, worktree, err := e.open(opts.Path)
	if err != nil {
		return FFUpToDate, err
	}

	branch := opts.Branch
	if branch == "" {
		head, headErr := repo.Head()
		if headErr != nil {
			return FFUpToDate, WrapError(headErr, "failed to resolve HEAD")
		}
		branch = head.Name().Short()
	}

	localRef, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return FFUpToDate, WrapErrorf(ErrIOFailure, "local branch %q", branch)
	}
	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(DefaultRemoteName, branch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return FFUpToDate, nil
		}
		return FFUpToDate, WrapErrorf(ErrIOFailure, "remote branch %q", branch)
	}

	if localRef.Hash() == remoteRef.Hash() {
		return FFUpToDate, nil
	}

	local, err := repo.CommitObject(localRef.Hash())
	if err != nil {
		return FFUpToDate, WrapError(err, "failed to load local head")
	}
	remote, err := repo.CommitObject(remoteRef.Hash())
	if err != nil {
		return FFUpToDate, WrapError(err, "failed to load remote head")
	}

	behind, err := local.IsAncestor(remote)
	if err != nil {
		return FFUpToDate, WrapError(err, "ancestry check failed")
	}
	if behind {
		resetOpts := &git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}
		if err := worktree.Reset(resetOpts); err != nil {
			return FFUpToDate, WrapError(err, "fast-forward failed")
		}
		return FFFastForwarded, nil
	}

	ahead, err := remote.IsAncestor(local)
	if err != nil {
		return FFUpToDate, WrapError(err, "ancestry check failed")
	}
	if ahead {
		return FFLocalAhead, nil
	}
	return FFDiverged, nil
}

// Status summarizes the working tree.
func (e *gitEngine) Status(ctx context.Context, path string) (*WorktreeStatus, error) {
	_, worktree, err := e.open(path)
	if err != nil {
		return nil, err
	}

	status, err := worktree.Status()
	if err != nil {
		return nil, WrapError(err, "failed to get worktree status")
	}

	summary := &WorktreeStatus{Clean: status.IsClean()}
	for file, fileStatus := range status {
		if staged(fileStatus.Staging) {
			summary.StagedCount++
			summary.Changes = append(summary.Changes, LocalChange{
				Path:   file,
				Staged: true,
				Code:   statusCode(fileStatus.Staging),
			})
		}
		if fileStatus.Worktree != git.Unmodified {
			summary.Changes = append(summary.Changes, LocalChange{
				Path: file,
				Code: statusCode(fileStatus.Worktree),
			})
		}
	}
	sort.Slice(summary.Changes, func(i, j int) bool {
		a, b := summary.Changes[i], summary.Changes[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Staged && !b.Staged
	})
	return summary, nil
}

// Stage stages the given paths. Paths with no pending change are not an
// error individually, but matching nothing at all is ErrNothingToStage.
func (e *gitEngine) Stage(ctx context.Context, path string, paths []string) error {
	_, worktree, err := e.open(path)
	if err != nil {
		return err
	}

	status, err := worktree.Status()
	if err != nil {
		return WrapError(err, "failed to get worktree status")
	}

	var candidates []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		// The status map only carries changed or untracked files.
		if _, changed := status[p]; changed {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return WrapError(ErrNothingToStage, "no matching changes")
	}

	for _, p := range candidates {
		if _, err := worktree.Add(p); err != nil {
			return WrapErrorf(err, "failed to stage %q", p)
		}
	}
	return nil
}

// StageAll stages every pending change including untracked files.
func (e *gitEngine) StageAll(ctx context.Context, path string) error {
	_, worktree, err := e.open(path)
	if err != nil {
		return err
	}

	status, err := worktree.Status()
	if err != nil {
		return WrapError(err, "failed to get worktree status")
	}
	if status.IsClean() {
		return WrapError(ErrNothingToStage, "working tree is clean")
	}

	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return WrapError(err, "failed to stage changes")
	}
	return nil
}

// Commit creates a commit from the staged changes and returns its SHA.
func (e *gitEngine) Commit(ctx context.Context, path, message string, identity CommitIdentity) (string, error) {
	_, worktree, err := e.open(path)
	if err != nil {
		return "", err
	}

	status, err := worktree.Status()
	if err != nil {
		return "", WrapError(err, "failed to get worktree status")
	}
	stagedCount := 0
	for _, fileStatus := range status {
		if staged(fileStatus.Staging) {
			stagedCount++
		}
	}
	if stagedCount == 0 {
		return "", WrapError(ErrNothingToCommit, "no changes staged for commit")
	}

	signature := &object.Signature{
		Name:  identity.Name,
		Email: identity.Email,
		When:  time.Now(),
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author:    signature,
		Committer: signature,
	})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return "", WrapError(ErrNothingToCommit, "empty commit")
		}
		return "", WrapError(err, "failed to create commit")
	}
	return hash.String(), nil
}

// Push pushes the current branch to the tracked remote.
func (e *gitEngine) Push(ctx context.Context, opts RepoOptions) error {
	repo, _, err := e.open(opts.Path)
	if err != nil {
		return err
	}

	method, err := e.authMethod(opts.Credential, opts)
	if err != nil {
		return err
	}

	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: DefaultRemoteName,
		Auth:       method,
	})
	return mapTransportError(err)
}

// Discard hard-resets the worktree to HEAD and removes untracked files.
func (e *gitEngine) Discard(ctx context.Context, path string) error {
	repo, worktree, err := e.open(path)
	if err != nil {
		return err
	}

	if head, headErr := repo.Head(); headErr == nil {
		resetOpts := &git.ResetOptions{Commit: head.Hash(), Mode: git.HardReset}
		if err := worktree.Reset(resetOpts); err != nil {
			return WrapError(err, "failed to reset worktree")
		}
	}

	if err := worktree.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return WrapError(err, "failed to clean worktree")
	}
	return nil
}

// ResetToRemote fetches and hard-resets the branch to the remote head,
// discarding local commits and edits.
func (e *gitEngine) ResetToRemote(ctx context.Context, opts RepoOptions) error {
	if err := e.Fetch(ctx, opts); err != nil && !errors.Is(err, ErrAlreadyUpToDate) {
		return err
	}

	repo, worktree, err := e.open(opts.Path)
	if err != nil {
		return err
	}

	branch := opts.Branch
	if branch == "" {
		head, headErr := repo.Head()
		if headErr != nil {
			return WrapError(headErr, "failed to resolve HEAD")
		}
		branch = head.Name().Short()
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(DefaultRemoteName, branch), true)
	if err != nil {
		return WrapErrorf(ErrIOFailure, "remote branch %q", branch)
	}

	resetOpts := &git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}
	if err := worktree.Reset(resetOpts); err != nil {
		return WrapError(err, "failed to reset to remote")
	}
	if err := worktree.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return WrapError(err, "failed to clean worktree")
	}
	return nil
}

// LoadIdentity reads the repository-scoped author identity. Absence is
// represented as nil, not an error.
func (e *gitEngine) LoadIdentity(ctx context.Context, path string) (*CommitIdentity, error) {
	repo, _, err := e.open(path)
	if err != nil {
		return nil, err
	}

	cfg, err := repo.Config()
	if err != nil {
		return nil, WrapError(err, "failed to read repository config")
	}
	if cfg.User.Name == "" && cfg.User.Email == "" {
		return nil, nil
	}
	return &CommitIdentity{Name: cfg.User.Name, Email: cfg.User.Email}, nil
}

// SaveIdentity writes the repository-scoped author identity.
func (e *gitEngine) SaveIdentity(ctx context.Context, path string, identity CommitIdentity) error {
	repo, _, err := e.open(path)
	if err != nil {
		return err
	}

	cfg, err := repo.Config()
	if err != nil {
		return WrapError(err, "failed to read repository config")
	}
	cfg.User.Name = identity.Name
	cfg.User.Email = identity.Email
	if err := repo.SetConfig(cfg); err != nil {
		return WrapError(err, "failed to write repository config")
	}
	return nil
}

func staged(code git.StatusCode) bool {
	return code != git.Untracked && code != git.Unmodified
}

func statusCode(code git.StatusCode) string {
	switch code {
	case git.Untracked:
		return "untracked"
	case git.Modified:
		return "modified"
	case git.Added:
		return "added"
	case git.Deleted:
		return "deleted"
	case git.Renamed:
		return "renamed"
	case git.Copied:
		return "copied"
	case git.UpdatedButUnmerged:
		return "unmerged"
	default:
		return "unknown"
	}
}

// mapTransportError converts go-git transport errors into the package
// taxonomy. Typed sentinels are checked first; the substring probes at the
// bottom are a last resort for go-git failures that carry no sentinel
// (per-refspec push rejections, SSH handshake errors) and must stay after
// every errors.Is check. Unknown errors pass through for the classifier to
// default.
func mapTransportError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		return ErrAlreadyUpToDate
	case errors.Is(err, git.ErrNonFastForwardUpdate):
		return WrapError(ErrDivergedBranch, "remote rejected non-fast-forward update")
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return WrapError(ErrAuthFailed, err.Error())
	case errors.Is(err, git.ErrRepositoryAlreadyExists):
		return WrapError(ErrIOFailure, "destination already contains a repository")
	case strings.Contains(err.Error(), "non-fast-forward"):
		return WrapError(ErrDivergedBranch, err.Error())
	case strings.Contains(err.Error(), "ssh: handshake failed"):
		// Host key or key exchange failure; the caller substitutes the
		// recorded trust error when one exists.
		return WrapError(ErrAuthFailed, err.Error())
	default:
		return err
	}
}
