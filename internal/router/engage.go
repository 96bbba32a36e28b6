package router

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/nobo/internal/gen"
)

// TryEngage runs the reply pipeline for a discovered event. Unlike the
// mention path it is governor-gated, enqueues at normal priority, and
// defers handled marking to the publish action: a failed publish leaves
// the event discoverable for a later run. onSuccess runs after the
// reply publishes. Returns true when a reply was queued.
func (r *Router) TryEngage(ctx context.Context, evt *nostr.Event, onSuccess func(context.Context)) (bool, error) {
	if r.IsHandled(evt.ID) {
		return false, nil
	}

	if !r.gov.CanInteract(ctx, evt.PubKey, false) {
		return false, nil
	}
	if done, err := r.replies.HasReplyTo(ctx, evt.ID); err == nil && done {
		return false, nil
	}

	tc := r.buildThreadContext(ctx, evt)
	if !r.shouldEngage(evt, tc) {
		return false, nil
	}

	text, err := r.generator.Generate(ctx, gen.Request{
		System: r.personaPrompt(),
		Prompt: tc.prompt(evt),
		Tier:   gen.TierQuality,
	})
	if err != nil {
		return false, err
	}

	r.enqueueReply(evt, tc, text, false, onSuccess)
	return true, nil
}
