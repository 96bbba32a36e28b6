package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/nobo/internal/gen"
	"github.com/sandwichfarm/nobo/internal/queue"
)

// handleMention is the kind 1 pipeline. Thread inclusions are suppressed
// but still marked handled so they are never re-examined.
func (r *Router) handleMention(evt *nostr.Event) {
	if !r.isActualMention(evt) {
		r.MarkHandled(evt.ID)
		r.log.Debug("thread inclusion suppressed", "id", evt.ID, "author", evt.PubKey)
		return
	}

	r.MarkHandled(evt.ID)
	r.processMention(evt)
}

// isActualMention classifies whether a kind 1 event is directed at the
// agent or merely includes it in a thread tag chain.
func (r *Router) isActualMention(evt *nostr.Event) bool {
	// Explicit self-reference in content wins outright.
	if r.contentMentionsAgent(evt.Content) {
		return true
	}

	var pTags []string
	hasThreadRefs := false
	for _, tag := range evt.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "p":
			pTags = append(pTags, tag[1])
		case "e":
			hasThreadRefs = true
		}
	}

	myIndex := -1
	for i, pk := range pTags {
		if pk == r.id.PublicKey {
			myIndex = i
			break
		}
	}
	if myIndex < 0 {
		return false
	}

	// Tagged third or later among several recipients with no content
	// match is group tagging, threaded or not.
	if myIndex >= 2 {
		return false
	}

	// No thread references: being explicitly tagged is enough.
	if !hasThreadRefs {
		return true
	}

	// In a thread, a direct mention needs the agent as the sole or first
	// tagged recipient. Tagged later among many with no content match is
	// just thread inclusion.
	return myIndex == 0 || len(pTags) == 1
}

// contentMentionsAgent checks for the agent's npub prefix, pubkey prefix,
// display name, or an @name token in the content.
func (r *Router) contentMentionsAgent(content string) bool {
	if content == "" {
		return false
	}
	lower := strings.ToLower(content)

	if r.id.Npub != "" && strings.Contains(content, r.id.Npub[:12]) {
		return true
	}
	if r.id.PublicKey != "" && strings.Contains(lower, r.id.PublicKey[:12]) {
		return true
	}
	if name := strings.ToLower(r.cfg.Agent.Name); name != "" {
		if strings.Contains(lower, "@"+name) {
			return true
		}
	}
	if display := strings.ToLower(r.cfg.Agent.DisplayName); display != "" {
		if strings.Contains(lower, display) {
			return true
		}
	}
	return false
}

// processMention runs the throttled reply flow. When the user is on
// cooldown the work is deferred to a single pending timer; the timer
// callback lands back here and every check reruns from the top.
func (r *Router) processMention(evt *nostr.Event) {
	ready, wait := r.throttle.ready(evt.PubKey, actionReply)
	if !ready {
		if r.throttle.schedule(evt.PubKey, actionReply, wait, func() { r.processMention(evt) }) {
			r.log.Debug("reply deferred", "author", evt.PubKey, "wait", wait.String())
		}
		return
	}

	// State may have shifted while we sat on the timer.
	if r.mutes.IsMutedCached(evt.PubKey) {
		return
	}
	if done, err := r.replies.HasReplyTo(r.ctx, evt.ID); err == nil && done {
		return
	}

	tc := r.buildThreadContext(r.ctx, evt)
	if !r.shouldEngage(evt, tc) {
		r.log.Debug("mention not engaged",
			"id", evt.ID,
			"score", fmt.Sprintf("%.2f", tc.score),
			"thread_len", tc.length)
		return
	}

	text, err := r.generator.Generate(r.ctx, gen.Request{
		System: r.personaPrompt(),
		Prompt: tc.prompt(evt),
		Tier:   gen.TierFast,
	})
	if err != nil {
		// Strict contract: no canned replacement for reply text.
		r.log.Warn("generation failed, skipping reply", "id", evt.ID, "error", err)
		return
	}

	// Generation awaited; re-validate everything it could have raced.
	if done, err := r.replies.HasReplyTo(r.ctx, evt.ID); err == nil && done {
		return
	}
	if r.mutes.IsMutedCached(evt.PubKey) {
		return
	}
	if ready, _ := r.throttle.ready(evt.PubKey, actionReply); !ready {
		return
	}

	r.enqueueReply(evt, tc, text, true, nil)
}

// enqueueReply puts a reply on the posting queue. State updates (reply
// record, cooldown clock, handled marking, the caller's onSuccess hook)
// happen inside the action, only on success.
func (r *Router) enqueueReply(target *nostr.Event, tc *threadContext, text string, mention bool, onSuccess func(context.Context)) {
	priority := queue.PriorityHigh
	if !mention {
		priority = queue.PriorityNormal
	}

	r.poster.Enqueue(&queue.Job{
		ID:       "reply:" + target.ID,
		Kind:     "reply",
		Priority: priority,
		Mention:  mention,
		Action: func(ctx context.Context) error {
			reply := r.buildReplyEvent(target, tc, text)
			if err := r.id.Sign(reply); err != nil {
				return err
			}
			if err := r.client.PublishEvent(ctx, r.relays, reply); err != nil {
				return err
			}
			if err := r.replies.SaveReply(ctx, reply, target.ID); err != nil {
				r.log.Warn("failed to persist reply record", "id", reply.ID, "error", err)
			}
			r.MarkHandled(target.ID)
			r.throttle.mark(target.PubKey, actionReply)
			if !mention {
				r.gov.RecordInteraction(ctx, target.PubKey)
			}
			if onSuccess != nil {
				onSuccess(ctx)
			}
			return nil
		},
	})
}

// buildReplyEvent constructs a kind 1 reply with root/reply markers
func (r *Router) buildReplyEvent(target *nostr.Event, tc *threadContext, text string) *nostr.Event {
	tags := nostr.Tags{}

	rootID := tc.rootID
	if rootID == "" || rootID == target.ID {
		// Target is the thread root.
		tags = append(tags, nostr.Tag{"e", target.ID, "", "root"})
	} else {
		tags = append(tags, nostr.Tag{"e", rootID, "", "root"})
		tags = append(tags, nostr.Tag{"e", target.ID, "", "reply"})
	}
	tags = append(tags, nostr.Tag{"p", target.PubKey})

	return &nostr.Event{
		Kind:      kindTextNote,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   text,
	}
}

// personaPrompt is the shared system prompt for conversational replies
func (r *Router) personaPrompt() string {
	return fmt.Sprintf(
		"You are %s, a thoughtful participant on nostr. Reply briefly and conversationally. Never mention being an AI or a bot.",
		r.cfg.Agent.DisplayName)
}
