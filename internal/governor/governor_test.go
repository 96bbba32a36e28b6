package governor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/sandwichfarm/nobo/internal/config"
	"github.com/sandwichfarm/nobo/internal/identity"
	"github.com/sandwichfarm/nobo/internal/ops"
	"github.com/sandwichfarm/nobo/internal/social"
	"github.com/sandwichfarm/nobo/internal/store"
)

type noopRelay struct {
	published []*nostr.Event
}

func (n *noopRelay) FetchEvents(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error) {
	return nil, nil
}

func (n *noopRelay) PublishEvent(ctx context.Context, relays []string, event *nostr.Event) error {
	n.published = append(n.published, event)
	return nil
}

func testGovernor(t *testing.T, cfg *config.Governor) (*Governor, *store.Store) {
	t.Helper()
	log := ops.NewLogger(&config.Logging{Level: "error", Format: "text"})

	st, err := store.New(context.Background(), &config.Storage{Path: filepath.Join(t.TempDir(), "gov.db")}, log)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sk := nostr.GeneratePrivateKey()
	nsec, err := nip19.EncodePrivateKey(sk)
	if err != nil {
		t.Fatalf("nsec: %v", err)
	}
	t.Setenv("NOBO_NSEC", nsec)
	id, err := identity.FromEnvironment("")
	if err != nil {
		t.Fatalf("identity: %v", err)
	}

	cache := social.New(&noopRelay{}, []string{"wss://test.relay"}, id,
		&config.Social{MuteTTLMinutes: 60, ContactTTLMinutes: 60}, log)

	return New(cfg, st, cache, log), st
}

func TestInteractionCap(t *testing.T) {
	g, _ := testGovernor(t, &config.Governor{MaxInteractionsPerUser: 2, ResetIntervalHours: 168})
	ctx := context.Background()

	if !g.CanInteract(ctx, "user", false) {
		t.Fatal("fresh user should be within budget")
	}
	g.RecordInteraction(ctx, "user")
	if !g.CanInteract(ctx, "user", false) {
		t.Fatal("one interaction should leave budget")
	}
	g.RecordInteraction(ctx, "user")
	if g.CanInteract(ctx, "user", false) {
		t.Error("budget exhausted, non-mention interaction must be refused")
	}

	if !g.CanInteract(ctx, "user", true) {
		t.Error("direct mentions bypass the cap")
	}
	if !g.CanInteract(ctx, "other-user", false) {
		t.Error("the cap is per user")
	}
}

func TestCapSurvivesColdCache(t *testing.T) {
	cfg := &config.Governor{MaxInteractionsPerUser: 2, ResetIntervalHours: 168}
	g, st := testGovernor(t, cfg)
	ctx := context.Background()

	g.RecordInteraction(ctx, "user")
	g.RecordInteraction(ctx, "user")

	// Simulate a restart: a new governor over the same store.
	log := ops.NewLogger(&config.Logging{Level: "error", Format: "text"})
	g2 := New(cfg, st, nil, log)
	if g2.CanInteract(ctx, "user", false) {
		t.Error("persisted counters must survive a restart")
	}
}

func TestResetCounts(t *testing.T) {
	g, _ := testGovernor(t, &config.Governor{MaxInteractionsPerUser: 1, ResetIntervalHours: 168})
	ctx := context.Background()

	g.RecordInteraction(ctx, "user")
	if g.CanInteract(ctx, "user", false) {
		t.Fatal("budget should be spent")
	}

	if err := g.ResetCounts(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !g.CanInteract(ctx, "user", false) {
		t.Error("reset should restore the budget")
	}
}

func TestUnfollowSweepIntervalGated(t *testing.T) {
	g, st := testGovernor(t, &config.Governor{
		MaxInteractionsPerUser: 2,
		ResetIntervalHours:     168,
		Unfollow: config.Unfollow{
			Enabled:          true,
			IntervalHours:    24,
			QualityThreshold: 0.5,
			MinSampledPosts:  1,
			BatchSize:        5,
		},
	})
	ctx := context.Background()

	if err := st.AddQualitySample(ctx, "low-quality", 0.1); err != nil {
		t.Fatalf("sample: %v", err)
	}

	// First sweep runs; the author is not a cached contact so only the
	// quality record is dropped.
	if _, err := g.RunUnfollowSweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	records, err := st.GetLowQualityAuthors(ctx, 0.5, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Error("sweep should drop records for authors no longer followed")
	}

	// Second call within the interval is a no-op.
	n, err := g.RunUnfollowSweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("interval-gated sweep should be a no-op, unfollowed %d", n)
	}
}

func TestUnfollowSweepDisabled(t *testing.T) {
	g, _ := testGovernor(t, &config.Governor{
		MaxInteractionsPerUser: 2,
		Unfollow:               config.Unfollow{Enabled: false},
	})

	n, err := g.RunUnfollowSweep(context.Background())
	if err != nil || n != 0 {
		t.Errorf("disabled sweep should do nothing, got n=%d err=%v", n, err)
	}
}
