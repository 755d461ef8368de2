// Package reposync background synchronization.
// This file contains the network policy gate and the coordinator that the
// platform's recurring background task drives.
package reposync

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// NetworkPolicy gates background network access. Foreground syncs are
// never gated. The policy is a required extension point; richer rules
// (metered connections, low power) belong to implementations.
type NetworkPolicy interface {
	AllowBackgroundSync(ctx context.Context) bool
}

// NetworkPolicyFunc adapts a function to the NetworkPolicy interface.
type NetworkPolicyFunc func(ctx context.Context) bool

func (f NetworkPolicyFunc) AllowBackgroundSync(ctx context.Context) bool {
	return f(ctx)
}

// AllowAll permits background network access unconditionally.
type AllowAll struct{}

func (AllowAll) AllowBackgroundSync(context.Context) bool { return true }

// DenyAll defers every background sync.
type DenyAll struct{}

func (DenyAll) AllowBackgroundSync(context.Context) bool { return false }

// Syncer is the part of the Client contract the coordinator needs.
type Syncer interface {
	Sync(ctx context.Context, repo RepoRecord, trigger SyncTrigger) SyncResult
}

// Coordinator re-runs sync for every auto-sync-enabled repository through
// the same path as foreground sync and persists each result. It is the
// body of the single named recurring background task.
type Coordinator struct {
	syncer Syncer
	repos  RepoStore
	log    *zap.Logger
}

// NewCoordinator wires the coordinator to the sync client and the record
// store. A nil logger is replaced with a no-op.
func NewCoordinator(syncer Syncer, repos RepoStore, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{syncer: syncer, repos: repos, log: logger}
}

// RunOnce syncs every auto-sync repository and persists each result. One
// repository failing to persist does not stop the rest; the first
// persistence error is returned after the pass completes.
func (c *Coordinator) RunOnce(ctx context.Context) error {
	records, err := c.repos.List(ctx)
	if err != nil {
		return WrapError(err, "failed to list repositories")
	}

	var firstErr error
	for _, record := range records {
		if !record.AutoSync {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		res := c.syncer.Sync(ctx, record, TriggerBackground)
		c.log.Info("background sync",
			zap.String("repo", record.ID.String()),
			zap.String("state", res.State.String()))

		if err := c.repos.Save(ctx, record.WithResult(res)); err != nil {
			c.log.Warn("failed to persist sync result",
				zap.String("repo", record.ID.String()),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Run invokes RunOnce on the given interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.RunOnce(ctx); err != nil {
				c.log.Warn("background pass failed", zap.Error(err))
			}
		}
	}
}
