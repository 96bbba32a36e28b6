package router

import (
	"context"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/nobo/internal/gen"
	"github.com/sandwichfarm/nobo/internal/queue"
)

// handleDM is the kind 4 pipeline using NIP-04 encryption
func (r *Router) handleDM(evt *nostr.Event) {
	if !r.caps.NIP04.Supported {
		r.MarkHandled(evt.ID)
		r.log.Info("nip04 dm dropped, encryption unavailable", "id", evt.ID)
		return
	}
	r.MarkHandled(evt.ID)
	r.processDM(evt, r.caps.NIP04.Impl, kindDM)
}

// handleSealedDM is the kind 14 pipeline using NIP-44 encryption.
// Without the capability the event is marked handled and dropped, it
// would otherwise be retried forever.
func (r *Router) handleSealedDM(evt *nostr.Event) {
	if !r.caps.NIP44.Supported {
		r.MarkHandled(evt.ID)
		r.log.Info("sealed dm dropped, nip44 unavailable", "id", evt.ID)
		return
	}
	r.MarkHandled(evt.ID)
	r.processDM(evt, r.caps.NIP44.Impl, kindSealedDM)
}

// processDM decrypts, generates and enqueues a reply in the same
// encryption scheme the sender used.
func (r *Router) processDM(evt *nostr.Event, enc Encryptor, kind int) {
	plaintext, err := enc.Decrypt(evt.PubKey, evt.Content)
	if err != nil {
		r.log.Warn("dm decrypt failed", "id", evt.ID, "error", err)
		return
	}
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return
	}

	ready, wait := r.throttle.ready(evt.PubKey, actionDM)
	if !ready {
		if r.throttle.schedule(evt.PubKey, actionDM, wait, func() { r.processDM(evt, enc, kind) }) {
			r.log.Debug("dm reply deferred", "author", evt.PubKey, "wait", wait.String())
		}
		return
	}

	if r.mutes.IsMutedCached(evt.PubKey) {
		return
	}

	text, err := r.generator.Generate(r.ctx, gen.Request{
		System: r.personaPrompt(),
		Prompt: "Reply to this private message:\n" + plaintext,
		Tier:   gen.TierFast,
	})
	if err != nil {
		// A bare greeting gets a canned response; anything substantive
		// is skipped rather than answered with filler.
		if !isGreeting(plaintext) {
			r.log.Warn("generation failed, skipping dm reply", "id", evt.ID, "error", err)
			return
		}
		// The sender's profile is not resolved here, so greet namelessly.
		text = gen.GreetingText("")
	}

	if ready, _ := r.throttle.ready(evt.PubKey, actionDM); !ready {
		return
	}

	r.enqueueDM(evt, enc, kind, text)
}

func (r *Router) enqueueDM(target *nostr.Event, enc Encryptor, kind int, text string) {
	r.poster.Enqueue(&queue.Job{
		ID:       "dm:" + target.ID,
		Kind:     "dm",
		Priority: queue.PriorityHigh,
		Mention:  true,
		Action: func(ctx context.Context) error {
			cipher, err := enc.Encrypt(target.PubKey, text)
			if err != nil {
				return err
			}
			reply := &nostr.Event{
				Kind:      kind,
				CreatedAt: nostr.Now(),
				Tags:      nostr.Tags{{"p", target.PubKey}, {"e", target.ID}},
				Content:   cipher,
			}
			if err := r.id.Sign(reply); err != nil {
				return err
			}
			if err := r.client.PublishEvent(ctx, r.relays, reply); err != nil {
				return err
			}
			if err := r.replies.SaveReply(ctx, reply, target.ID); err != nil {
				r.log.Warn("failed to persist dm record", "id", reply.ID, "error", err)
			}
			r.throttle.mark(target.PubKey, actionDM)
			return nil
		},
	})
}

var greetingWords = []string{"hi", "hello", "hey", "gm", "good morning", "yo", "howdy", "sup"}

func isGreeting(s string) bool {
	lower := strings.ToLower(strings.TrimRight(strings.TrimSpace(s), "!.? "))
	for _, g := range greetingWords {
		if lower == g {
			return true
		}
	}
	return false
}
