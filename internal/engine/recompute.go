package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"greenproof/internal/events"
	"greenproof/internal/repo"
	"greenproof/internal/score"
)

// RecalculateScore rebuilds a user's trust score and total impact from their
// current actions and commits both together with a history entry. Recomputes
// for the same user are serialized: a second trigger arriving mid-flight
// waits for the slot and then reruns against whatever state it finds, so the
// last trigger always leaves a score at least as fresh as its own view.
func (e Engine) RecalculateScore(ctx context.Context, userID string) (float64, error) {
	lockCtx := ctx
	if timeout := e.Config.LockTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	release, err := e.locks.acquire(lockCtx, userID)
	if err != nil {
		return 0, transient("acquire recompute slot", err)
	}
	defer release()

	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return 0, err
		}
		return 0, transient("read user", err)
	}
	actions, err := e.Repo.ListEligibleActions(ctx, userID)
	if err != nil {
		return 0, transient("read actions", err)
	}

	trustScore, totalImpact := score.AggregateUser(u.UserType, actions)

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, transient("begin tx", err)
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateUserScoreTx(ctx, tx, userID, trustScore, totalImpact); err != nil {
		return 0, transient("update score", err)
	}
	if err := e.Repo.InsertScoreHistoryTx(ctx, tx, userID, trustScore, "score_recalculation", now); err != nil {
		return 0, transient("insert history", err)
	}
	if err := e.Events.Append(ctx, tx, "score.recalculated", userID, "user", userID, events.EventPayload{
		"trust_score":  trustScore,
		"total_impact": totalImpact,
		"actions":      len(actions),
	}); err != nil {
		return 0, transient("append event", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, transient("commit", err)
	}
	return trustScore, nil
}

// RecalculateAll recomputes every user, bounded by the configured
// parallelism. Per-user failures abort the batch; partial progress stays
// committed, since each user's recompute is its own transaction.
func (e Engine) RecalculateAll(ctx context.Context) (int, error) {
	ids, err := e.Repo.ListUserIDs(ctx)
	if err != nil {
		return 0, transient("list users", err)
	}

	parallelism := e.Config.Recompute.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	slog.Info("recalculating scores", "users", len(ids), "parallelism", parallelism)
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := e.RecalculateScore(gctx, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	slog.Info("recalculation complete", "users", len(ids), "duration", time.Since(started).Round(time.Millisecond))
	return len(ids), nil
}
