package router

import (
	"errors"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestIsActualMention(t *testing.T) {
	env := newTestEnv(t)
	me := env.id.PublicKey

	tests := []struct {
		name    string
		content string
		tags    nostr.Tags
		want    bool
	}{
		{
			name:    "explicitly tagged, no thread",
			content: "what do you all think about this",
			tags:    nostr.Tags{{"p", me}},
			want:    true,
		},
		{
			name:    "not tagged at all",
			content: "just a regular note",
			tags:    nostr.Tags{{"p", otherPubkey}},
			want:    false,
		},
		{
			name:    "name in content",
			content: "hey @nobo can you weigh in here",
			tags:    nostr.Tags{{"e", "root-id"}, {"p", otherPubkey}, {"p", me}},
			want:    true,
		},
		{
			name:    "display name in content",
			content: "I bet Nobo has an opinion on this",
			tags:    nostr.Tags{{"p", me}},
			want:    true,
		},
		{
			name:    "npub prefix in content",
			content: "cc " + env.id.Npub,
			tags:    nostr.Tags{{"p", me}},
			want:    true,
		},
		{
			name:    "first recipient in thread",
			content: "replying to your point",
			tags:    nostr.Tags{{"e", "root-id", "", "root"}, {"p", me}, {"p", otherPubkey}},
			want:    true,
		},
		{
			name:    "sole recipient in thread",
			content: "following up on this",
			tags:    nostr.Tags{{"e", "root-id", "", "root"}, {"p", me}},
			want:    true,
		},
		{
			name:    "bulk tagged without thread refs",
			content: "big announcement for everyone I know on here",
			tags: nostr.Tags{
				{"p", "pk-a-000000000000000000000000000000000000000000000000000000000000"},
				{"p", "pk-b-000000000000000000000000000000000000000000000000000000000000"},
				{"p", "pk-c-000000000000000000000000000000000000000000000000000000000000"},
				{"p", me},
				{"p", "pk-d-000000000000000000000000000000000000000000000000000000000000"},
			},
			want: false,
		},
		{
			name:    "second recipient without thread refs",
			content: "cc both of you on this one",
			tags:    nostr.Tags{{"p", otherPubkey}, {"p", me}},
			want:    true,
		},
		{
			name:    "trailing recipient in busy thread",
			content: "continuing the conversation with everyone",
			tags:    nostr.Tags{{"e", "root-id", "", "root"}, {"p", otherPubkey}, {"p", "another-pubkey-entirely-0000000000000000000000000000000000000000"}, {"p", me}},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := note(otherPubkey, tt.content, tt.tags)
			if got := env.router.isActualMention(evt); got != tt.want {
				t.Errorf("isActualMention() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestThreadInclusionMarkedHandledWithoutReply(t *testing.T) {
	env := newTestEnv(t)

	evt := note(otherPubkey, "chatting away in a long thread with several people involved here",
		nostr.Tags{{"e", "root-id", "", "root"}, {"p", otherPubkey}, {"p", env.id.PublicKey}})
	env.router.handleMention(evt)

	if !env.router.IsHandled(evt.ID) {
		t.Error("thread inclusion should be marked handled")
	}
	if env.poster.count() != 0 {
		t.Error("thread inclusion should not queue a reply")
	}
}

func TestMentionProducesReply(t *testing.T) {
	env := newTestEnv(t)

	evt := note(otherPubkey, "hey @nobo I would genuinely like your take on relay selection strategies", nostr.Tags{{"p", env.id.PublicKey}})
	env.router.handleMention(evt)

	if env.poster.count() != 1 {
		t.Fatalf("expected one queued reply, got %d", env.poster.count())
	}

	env.relay.mu.Lock()
	defer env.relay.mu.Unlock()
	if len(env.relay.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(env.relay.published))
	}
	reply := env.relay.published[0]
	if reply.Kind != kindTextNote {
		t.Errorf("reply kind = %d, want %d", reply.Kind, kindTextNote)
	}
	if reply.Content != env.gen.text {
		t.Errorf("reply content = %q, want generated text", reply.Content)
	}
	if p := reply.Tags.GetFirst([]string{"p"}); p == nil || (*p)[1] != otherPubkey {
		t.Error("reply should p-tag the mention author")
	}
	if e := reply.Tags.GetFirst([]string{"e"}); e == nil || (*e)[1] != evt.ID {
		t.Error("reply to a root note should e-tag it as root")
	}
}

func TestGenerationFailureSkipsReply(t *testing.T) {
	env := newTestEnv(t)
	env.gen.err = errors.New("model unavailable")

	evt := note(otherPubkey, "hey @nobo I would genuinely like your take on this question", nostr.Tags{{"p", env.id.PublicKey}})
	env.router.handleMention(evt)

	if env.poster.count() != 0 {
		t.Error("generation failure must skip the reply, not queue a fallback")
	}
}

func TestDuplicateMentionNotRepliedTwice(t *testing.T) {
	env := newTestEnv(t)

	evt := note(otherPubkey, "hey @nobo I would genuinely like your take on this question", nostr.Tags{{"p", env.id.PublicKey}})
	env.router.handleMention(evt)

	// Second delivery of the same event hits the handled set on the fast
	// path; simulate the path processMention itself guards with the
	// reply record.
	env.router.processMention(evt)

	if env.poster.count() != 1 {
		t.Errorf("expected exactly one reply, got %d", env.poster.count())
	}
}

func TestReplyThrottleDeferredNotDropped(t *testing.T) {
	env := newTestEnv(t)

	first := note(otherPubkey, "hey @nobo I would genuinely like your take on this question", nostr.Tags{{"p", env.id.PublicKey}})
	env.router.handleMention(first)
	if env.poster.count() != 1 {
		t.Fatalf("first mention should reply, got %d jobs", env.poster.count())
	}

	// Cooldown is now running for the author; a second mention defers to
	// a single pending timer instead of replying immediately.
	second := note(otherPubkey, "hey @nobo and one more question about something else entirely", nostr.Tags{{"p", env.id.PublicKey}})
	env.router.handleMention(second)
	if env.poster.count() != 1 {
		t.Errorf("second mention during cooldown should defer, got %d jobs", env.poster.count())
	}

	// A third mention finds the timer slot occupied and is dropped.
	third := note(otherPubkey, "hey @nobo okay this is the last one I promise, what about this", nostr.Tags{{"p", env.id.PublicKey}})
	env.router.handleMention(third)
	if env.poster.count() != 1 {
		t.Errorf("third mention should be dropped while one retry is pending, got %d jobs", env.poster.count())
	}
}
