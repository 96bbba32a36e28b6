package governor

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sandwichfarm/nobo/internal/config"
	"github.com/sandwichfarm/nobo/internal/ops"
	"github.com/sandwichfarm/nobo/internal/social"
	"github.com/sandwichfarm/nobo/internal/store"
)

// Governor caps non-mention interactions per user and runs the periodic
// unfollow sweep. Counters live in memory for the fast path and persist to
// the store so restarts do not reset the budget mid-period.
type Governor struct {
	cfg   *config.Governor
	store *store.Store
	cache *social.Cache
	log   *ops.Logger

	counts *xsync.MapOf[string, int]

	mu        sync.Mutex
	lastSweep time.Time
}

// New creates a governor
func New(cfg *config.Governor, st *store.Store, cache *social.Cache, log *ops.Logger) *Governor {
	return &Governor{
		cfg:    cfg,
		store:  st,
		cache:  cache,
		log:    log.WithComponent("governor"),
		counts: xsync.NewMapOf[string, int](),
	}
}

// CanInteract reports whether a non-mention interaction (reply, repost,
// quote, reaction) with the user is still within budget. Direct mentions
// always pass.
func (g *Governor) CanInteract(ctx context.Context, pubkey string, directMention bool) bool {
	if directMention {
		return true
	}

	count, ok := g.counts.Load(pubkey)
	if !ok {
		// Cold cache: pull the persisted counter once.
		persisted, err := g.store.GetInteractionCount(ctx, pubkey)
		if err != nil {
			g.log.Warn("failed to load interaction count", "pubkey", pubkey, "error", err)
			persisted = 0
		}
		count, _ = g.counts.LoadOrStore(pubkey, persisted)
	}

	return count < g.cfg.MaxInteractionsPerUser
}

// RecordInteraction bumps the user's counter in memory and in the store
func (g *Governor) RecordInteraction(ctx context.Context, pubkey string) {
	g.counts.Compute(pubkey, func(old int, _ bool) (int, bool) {
		return old + 1, false
	})

	if _, err := g.store.IncrementInteraction(ctx, pubkey); err != nil {
		g.log.Warn("failed to persist interaction count", "pubkey", pubkey, "error", err)
	}
}

// ResetCounts clears all counters. Runs on the weekly timer.
func (g *Governor) ResetCounts(ctx context.Context) error {
	g.counts.Clear()
	if err := g.store.ResetInteractionCounts(ctx); err != nil {
		return err
	}
	g.log.Info("interaction counters reset")
	return nil
}

// RunUnfollowSweep unfollows a small batch of the worst-scoring followed
// authors. The sweep is interval-gated: calling it more often than the
// configured interval is a no-op, so the scheduler can invoke it freely.
func (g *Governor) RunUnfollowSweep(ctx context.Context) (int, error) {
	if !g.cfg.Unfollow.Enabled {
		return 0, nil
	}

	g.mu.Lock()
	interval := time.Duration(g.cfg.Unfollow.IntervalHours) * time.Hour
	if time.Since(g.lastSweep) < interval {
		g.mu.Unlock()
		return 0, nil
	}
	g.lastSweep = time.Now()
	g.mu.Unlock()

	candidates, err := g.store.GetLowQualityAuthors(ctx,
		g.cfg.Unfollow.QualityThreshold,
		g.cfg.Unfollow.MinSampledPosts,
		g.cfg.Unfollow.BatchSize)
	if err != nil {
		return 0, err
	}

	unfollowed := 0
	for _, rec := range candidates {
		if !g.cache.IsContactCached(rec.Pubkey) {
			// Already gone from the follow list; just drop the record.
			if err := g.store.RemoveQualityRecord(ctx, rec.Pubkey); err != nil {
				g.log.Warn("failed to drop quality record", "pubkey", rec.Pubkey, "error", err)
			}
			continue
		}

		if err := g.cache.UnfollowUser(ctx, rec.Pubkey); err != nil {
			g.log.Warn("unfollow failed", "pubkey", rec.Pubkey, "error", err)
			continue
		}

		if err := g.store.RemoveQualityRecord(ctx, rec.Pubkey); err != nil {
			g.log.Warn("failed to drop quality record", "pubkey", rec.Pubkey, "error", err)
		}

		g.log.Info("unfollowed low quality author",
			"pubkey", rec.Pubkey,
			"score", rec.Score,
			"sampled_posts", rec.PostCount)
		unfollowed++
	}

	return unfollowed, nil
}
