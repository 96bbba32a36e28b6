package router

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

func TestParseThreadRefs(t *testing.T) {
	tests := []struct {
		name      string
		tags      nostr.Tags
		wantRoot  string
		wantReply string
	}{
		{
			name:      "no e tags",
			tags:      nostr.Tags{{"p", otherPubkey}},
			wantRoot:  "",
			wantReply: "",
		},
		{
			name:      "marked root and reply",
			tags:      nostr.Tags{{"e", "root", "", "root"}, {"e", "parent", "", "reply"}},
			wantRoot:  "root",
			wantReply: "parent",
		},
		{
			name:      "positional fallback single",
			tags:      nostr.Tags{{"e", "root"}},
			wantRoot:  "root",
			wantReply: "root",
		},
		{
			name:      "positional fallback first and last",
			tags:      nostr.Tags{{"e", "root"}, {"e", "middle"}, {"e", "parent"}},
			wantRoot:  "root",
			wantReply: "parent",
		},
		{
			name:      "mention marker excluded",
			tags:      nostr.Tags{{"e", "quoted", "", "mention"}, {"e", "root", "", "root"}},
			wantRoot:  "root",
			wantReply: "root",
		},
		{
			name:      "marked root with positional parent",
			tags:      nostr.Tags{{"e", "root", "", "root"}, {"e", "parent"}},
			wantRoot:  "root",
			wantReply: "root",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs := parseThreadRefs(&nostr.Event{Tags: tt.tags})
			if refs.rootID != tt.wantRoot {
				t.Errorf("rootID = %q, want %q", refs.rootID, tt.wantRoot)
			}
			if refs.replyID != tt.wantReply {
				t.Errorf("replyID = %q, want %q", refs.replyID, tt.wantReply)
			}
		})
	}
}

func TestBuildThreadContextFetchBudget(t *testing.T) {
	env := newTestEnv(t)

	root := note(otherPubkey, "the original root note about an interesting topic worth discussing", nil)
	parent := note(otherPubkey, "a thoughtful reply expanding on the original point with details", nostr.Tags{{"e", root.ID, "", "root"}})
	env.relay.events[root.ID] = root
	env.relay.events[parent.ID] = parent

	evt := note(otherPubkey, "hey @nobo curious what you make of this whole conversation",
		nostr.Tags{{"e", root.ID, "", "root"}, {"e", parent.ID, "", "reply"}, {"p", env.id.PublicKey}})

	tc := env.router.buildThreadContext(context.Background(), evt)

	if tc.isRoot {
		t.Error("event with e tags is not a root")
	}
	if tc.rootID != root.ID {
		t.Errorf("rootID = %q, want %q", tc.rootID, root.ID)
	}
	if len(tc.events) != 3 {
		t.Errorf("expected root + parent + target in context, got %d events", len(tc.events))
	}
	if tc.events[len(tc.events)-1].ID != evt.ID {
		t.Error("target must be the last context event")
	}
}

func TestBuildThreadContextDegradesOnFetchFailure(t *testing.T) {
	env := newTestEnv(t)

	// Root is not resolvable from the fake relay.
	evt := note(otherPubkey, "hey @nobo thoughts on this thread I am replying within",
		nostr.Tags{{"e", "unavailable-root", "", "root"}, {"p", env.id.PublicKey}})

	tc := env.router.buildThreadContext(context.Background(), evt)
	if len(tc.events) != 1 {
		t.Errorf("fetch failure should degrade to target only, got %d events", len(tc.events))
	}
	if tc.score <= 0 {
		t.Error("degraded context should still score above zero")
	}
}

func TestShouldEngage(t *testing.T) {
	env := newTestEnv(t)
	r := env.router
	r.cfg.Discovery.RelevantKeywords = []string{"nostr", "relay"}

	freshRoot := func(content string) (*nostr.Event, *threadContext) {
		evt := note(otherPubkey, content, nil)
		tc := r.buildThreadContext(context.Background(), evt)
		return evt, tc
	}

	t.Run("fresh coherent root engages", func(t *testing.T) {
		evt, tc := freshRoot("genuinely wondering how other people choose which relays to publish to these days")
		if !r.shouldEngage(evt, tc) {
			t.Errorf("expected engagement, score %.2f", tc.score)
		}
	})

	t.Run("too short rejected", func(t *testing.T) {
		evt, tc := freshRoot("gm")
		if r.shouldEngage(evt, tc) {
			t.Error("content under 10 chars must be rejected")
		}
	})

	t.Run("too long rejected", func(t *testing.T) {
		evt, tc := freshRoot(strings.Repeat("a very long note ", 200))
		if r.shouldEngage(evt, tc) {
			t.Error("content over 2000 chars must be rejected")
		}
	})

	t.Run("bot pattern rejected", func(t *testing.T) {
		r.cfg.Agent.BotPatterns = []string{"follow back"}
		defer func() { r.cfg.Agent.BotPatterns = nil }()
		evt, tc := freshRoot("follow back train! everyone who reposts this gets a follow back")
		if r.shouldEngage(evt, tc) {
			t.Error("bot pattern content must be rejected")
		}
	})

	t.Run("deep thread rejected", func(t *testing.T) {
		tags := nostr.Tags{}
		for i := 0; i < r.cfg.Discovery.MaxThreadLength+1; i++ {
			tags = append(tags, nostr.Tag{"e", "ancestor"})
		}
		evt := note(otherPubkey, "a reply about nostr relays deep inside a very long conversation", tags)
		tc := r.buildThreadContext(context.Background(), evt)
		if r.shouldEngage(evt, tc) {
			t.Errorf("thread depth %d should exceed the limit", tc.length)
		}
	})

	t.Run("reply without relevant keywords rejected", func(t *testing.T) {
		evt := note(otherPubkey, "a perfectly reasonable reply about cooking pasta for dinner tonight",
			nostr.Tags{{"e", "some-root", "", "root"}})
		tc := r.buildThreadContext(context.Background(), evt)
		if r.shouldEngage(evt, tc) {
			t.Error("off-topic reply should be rejected")
		}
	})
}

func TestScoreThreadRecency(t *testing.T) {
	env := newTestEnv(t)
	r := env.router

	fresh := note(otherPubkey, "a reasonably sized note with enough words to score well on shape", nil)
	stale := note(otherPubkey, "a reasonably sized note with enough words to score well on shape", nil)
	stale.CreatedAt = nostr.Timestamp(time.Now().Add(-time.Duration(r.cfg.Discovery.MaxEventAgeHours*2) * time.Hour).Unix())

	freshScore := r.scoreThread(&threadContext{isRoot: true, events: []*nostr.Event{fresh}})
	staleScore := r.scoreThread(&threadContext{isRoot: true, events: []*nostr.Event{stale}})

	if freshScore <= staleScore {
		t.Errorf("fresh note should outscore stale note: %.2f vs %.2f", freshScore, staleScore)
	}
	if freshScore > 1 || staleScore < 0 {
		t.Errorf("scores must stay in [0,1]: %.2f, %.2f", freshScore, staleScore)
	}
}
