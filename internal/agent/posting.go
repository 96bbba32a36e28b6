package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/nobo/internal/gen"
	"github.com/sandwichfarm/nobo/internal/queue"
)

const (
	kindProfile  = 0
	kindTextNote = 1
)

// publishProfile enqueues a kind 0 metadata event describing the agent
func (a *Agent) publishProfile() {
	content, err := json.Marshal(map[string]string{
		"name":         a.cfg.Agent.Name,
		"display_name": a.cfg.Agent.DisplayName,
		"about":        a.cfg.Agent.About,
		"picture":      a.cfg.Agent.Picture,
	})
	if err != nil {
		a.log.Warn("profile marshal failed", "error", err)
		return
	}

	a.queue.Enqueue(&queue.Job{
		ID:       "profile",
		Kind:     "profile",
		Priority: queue.PriorityLow,
		Action: func(ctx context.Context) error {
			evt := &nostr.Event{
				Kind:      kindProfile,
				CreatedAt: nostr.Now(),
				Tags:      nostr.Tags{},
				Content:   string(content),
			}
			if err := a.id.Sign(evt); err != nil {
				return err
			}
			return a.client.PublishEvent(ctx, a.relays, evt)
		},
	})
}

// runScheduledPost generates and enqueues a standalone note on one of
// the configured topics. Generation failure skips the slot; the next
// tick tries again.
func (a *Agent) runScheduledPost(ctx context.Context) error {
	if len(a.cfg.Agent.PostTopics) == 0 {
		return nil
	}
	topic := a.cfg.Agent.PostTopics[rand.Intn(len(a.cfg.Agent.PostTopics))]

	text, err := a.generatePost(ctx, topic)
	if err != nil {
		return fmt.Errorf("post generation: %w", err)
	}

	a.queue.Enqueue(&queue.Job{
		ID:       "post:" + topic,
		Kind:     "post",
		Priority: queue.PriorityLow,
		Action: func(ctx context.Context) error {
			evt := &nostr.Event{
				Kind:      kindTextNote,
				CreatedAt: nostr.Now(),
				Tags:      nostr.Tags{{"t", topic}},
				Content:   text,
			}
			if err := a.id.Sign(evt); err != nil {
				return err
			}
			if err := a.client.PublishEvent(ctx, a.relays, evt); err != nil {
				return err
			}
			a.log.Info("scheduled post published", "topic", topic, "id", evt.ID)
			return nil
		},
	})
	return nil
}

func (a *Agent) generatePost(ctx context.Context, topic string) (string, error) {
	return a.generator.Generate(ctx, gen.Request{
		System: fmt.Sprintf(
			"You are %s, posting on nostr. Write a single short note, no hashtags, no preamble. Never mention being an AI or a bot.",
			a.cfg.Agent.DisplayName),
		Prompt: "Write an original thought about " + topic + ".",
		Tier:   gen.TierQuality,
	})
}
