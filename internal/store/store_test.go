package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/nobo/internal/config"
	"github.com/sandwichfarm/nobo/internal/ops"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	log := ops.NewLogger(&config.Logging{Level: "error", Format: "text"})
	st, err := New(context.Background(), &config.Storage{Path: filepath.Join(t.TempDir(), "nobo.db")}, log)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func signedNote(t *testing.T, content string) *nostr.Event {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	evt := &nostr.Event{
		Kind:      1,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{},
		Content:   content,
	}
	if err := evt.Sign(sk); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return evt
}

func TestSaveReplyAndHasReplyTo(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	reply := signedNote(t, "a reply")
	if err := st.SaveReply(ctx, reply, "target-event-id"); err != nil {
		t.Fatalf("save: %v", err)
	}

	done, err := st.HasReplyTo(ctx, "target-event-id")
	if err != nil {
		t.Fatalf("has reply: %v", err)
	}
	if !done {
		t.Error("expected a reply record for the target")
	}

	done, err = st.HasReplyTo(ctx, "never-replied")
	if err != nil {
		t.Fatalf("has reply: %v", err)
	}
	if done {
		t.Error("unexpected reply record")
	}
}

func TestSaveReplyIdempotent(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	reply := signedNote(t, "a reply")
	if err := st.SaveReply(ctx, reply, "target"); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := st.SaveReply(ctx, reply, "target"); err != nil {
		t.Fatalf("second save should be tolerated: %v", err)
	}
}

func TestSeedHandledIDs(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	for i, target := range []string{"t1", "t2", "t3"} {
		reply := signedNote(t, "reply")
		reply.Content = reply.Content + string(rune('a'+i))
		if err := st.SaveReply(ctx, reply, target); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	ids, err := st.SeedHandledIDs(ctx, 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("seeded %d ids, want 3", len(ids))
	}

	ids, err = st.SeedHandledIDs(ctx, 24*time.Hour, 2)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("limit not honored, got %d ids", len(ids))
	}
}

func TestInteractionCounts(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	count, err := st.GetInteractionCount(ctx, "user")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if count != 0 {
		t.Errorf("fresh user count = %d, want 0", count)
	}

	for i := 1; i <= 3; i++ {
		n, err := st.IncrementInteraction(ctx, "user")
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if n != i {
			t.Errorf("increment returned %d, want %d", n, i)
		}
	}

	if err := st.ResetInteractionCounts(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	count, err = st.GetInteractionCount(ctx, "user")
	if err != nil {
		t.Fatalf("get after reset: %v", err)
	}
	if count != 0 {
		t.Errorf("count after reset = %d, want 0", count)
	}
}

func TestQualitySamplesAndLowQualityListing(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	// Two authors: one consistently poor, one fine.
	for i := 0; i < 5; i++ {
		if err := st.AddQualitySample(ctx, "poor-author", 0.1); err != nil {
			t.Fatalf("sample: %v", err)
		}
		if err := st.AddQualitySample(ctx, "good-author", 0.9); err != nil {
			t.Fatalf("sample: %v", err)
		}
	}

	records, err := st.GetLowQualityAuthors(ctx, 0.5, 3, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].Pubkey != "poor-author" {
		t.Fatalf("expected only the poor author, got %+v", records)
	}
	if records[0].PostCount != 5 {
		t.Errorf("post count = %d, want 5", records[0].PostCount)
	}

	// Below the sample minimum nothing qualifies.
	records, err = st.GetLowQualityAuthors(ctx, 0.5, 10, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("authors with too few samples should not qualify, got %d", len(records))
	}

	if err := st.RemoveQualityRecord(ctx, "poor-author"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	records, err = st.GetLowQualityAuthors(ctx, 0.5, 3, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Error("removed record should not reappear")
	}
}

func TestSocialMetricsRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	missing, err := st.GetSocialMetrics(ctx, "user")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("missing record should come back nil")
	}

	rec := &SocialMetricsRecord{
		Pubkey:    "user",
		Followers: 120,
		Following: 80,
		Ratio:     1.5,
		UpdatedAt: time.Now().Unix(),
	}
	if err := st.SaveSocialMetrics(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.GetSocialMetrics(ctx, "user")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Followers != 120 || got.Following != 80 {
		t.Errorf("metrics round trip mismatch: %+v", got)
	}
}
