package social

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/nobo/internal/store"
)

// followerSampleLimit bounds how many kind 3 events are scanned when
// estimating a pubkey's follower count. The number is an estimate, not a
// census; callers only use the ratio.
const followerSampleLimit = 500

// Metrics resolves follower/following snapshots with a persistent TTL cache
type Metrics struct {
	cache *Cache
	store *store.Store
	ttl   time.Duration
}

// NewMetrics creates a social metrics resolver
func NewMetrics(cache *Cache, st *store.Store, ttl time.Duration) *Metrics {
	return &Metrics{
		cache: cache,
		store: st,
		ttl:   ttl,
	}
}

// Lookup returns the follower/following snapshot for a pubkey, serving the
// persisted record while it is within TTL.
func (m *Metrics) Lookup(ctx context.Context, pubkey string) (*store.SocialMetricsRecord, error) {
	cached, err := m.store.GetSocialMetrics(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	if cached != nil && time.Since(time.Unix(cached.UpdatedAt, 0)) < m.ttl {
		return cached, nil
	}

	rec, err := m.measure(ctx, pubkey)
	if err != nil {
		// A stale record beats none at all when relays are flaky.
		if cached != nil {
			return cached, nil
		}
		return nil, err
	}

	if err := m.store.SaveSocialMetrics(ctx, rec); err != nil {
		m.cache.log.Warn("failed to persist social metrics", "pubkey", pubkey, "error", err)
	}
	return rec, nil
}

// measure queries relays for a fresh snapshot
func (m *Metrics) measure(ctx context.Context, pubkey string) (*store.SocialMetricsRecord, error) {
	// Following: p tags on their newest contact list.
	following := 0
	events, err := m.cache.client.FetchEvents(ctx, m.cache.relays, nostr.Filter{
		Kinds:   []int{kindContactList},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if newest := newestEvent(events); newest != nil {
		for _, tag := range newest.Tags {
			if len(tag) >= 2 && tag[0] == "p" {
				following++
			}
		}
	}

	// Followers: distinct authors of contact lists that tag the pubkey,
	// bounded by the sample limit.
	followerEvents, err := m.cache.client.FetchEvents(ctx, m.cache.relays, nostr.Filter{
		Kinds: []int{kindContactList},
		Tags:  nostr.TagMap{"p": []string{pubkey}},
		Limit: followerSampleLimit,
	})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(followerEvents))
	for _, evt := range followerEvents {
		seen[evt.PubKey] = struct{}{}
	}
	followers := len(seen)

	ratio := 0.0
	if following > 0 {
		ratio = float64(followers) / float64(following)
	}

	return &store.SocialMetricsRecord{
		Pubkey:    pubkey,
		Followers: followers,
		Following: following,
		Ratio:     ratio,
		UpdatedAt: time.Now().Unix(),
	}, nil
}
