package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/sandwichfarm/nobo/internal/config"
	"github.com/sandwichfarm/nobo/internal/gen"
	"github.com/sandwichfarm/nobo/internal/queue"
)

const (
	kindRepost   = 6
	kindReaction = 7
)

// Reactions stay away from accounts this large; they do not need the
// engagement and their threads draw pile-ons.
const reactionFollowerCeiling = 50000

// sampleHomeFeed pulls recent notes from a random slice of followed
// authors, feeds quality samples to the store and occasionally reacts.
// This is how follow-list quality data accumulates between unfollow
// sweeps.
func (a *Agent) sampleHomeFeed(ctx context.Context) error {
	contacts, err := a.cache.LoadContacts(ctx)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		return nil
	}

	authors := sampleKeys(contacts, a.cfg.HomeFeed.SampleSize)
	window := time.Duration(a.cfg.HomeFeed.CheckIntervalMinutes) * time.Minute
	since := nostr.Timestamp(time.Now().Add(-window).Unix())

	events, err := a.client.FetchEvents(ctx, a.relays, nostr.Filter{
		Kinds:   []int{kindTextNote},
		Authors: authors,
		Since:   &since,
		Limit:   a.cfg.HomeFeed.SampleSize * 2,
	})
	if err != nil {
		return err
	}

	for _, evt := range events {
		if evt.PubKey == a.id.PublicKey {
			continue
		}

		score := noteQuality(evt.Content)
		if err := a.store.AddQualitySample(ctx, evt.PubKey, score); err != nil {
			a.log.Warn("quality sample failed", "pubkey", evt.PubKey, "error", err)
		}

		mode := sampledEngagement(&a.cfg.HomeFeed, a.cache.IsMutedCached(evt.PubKey), score, rand.Intn(100))
		if mode == "" {
			continue
		}
		if !a.gov.CanInteract(ctx, evt.PubKey, false) {
			continue
		}
		if rec, err := a.metrics.Lookup(ctx, evt.PubKey); err == nil && rec.Followers > reactionFollowerCeiling {
			continue
		}

		switch mode {
		case "quote":
			a.enqueueQuoteRepost(evt)
		case "repost":
			a.enqueueRepost(evt)
		default:
			a.enqueueReaction(evt)
		}
	}
	return nil
}

// sampledEngagement decides how to engage one sampled note. Muted
// authors can linger on the contact list when unfollow-on-mute is off;
// they are never engaged.
func sampledEngagement(cfg *config.HomeFeed, muted bool, score float64, roll int) string {
	if muted {
		return ""
	}
	mode := chooseEngagement(roll, cfg.QuotePercent, cfg.RepostPercent, cfg.ReactPercent)
	if mode == "" || score < 0.5 {
		return ""
	}
	// Reposting and quoting amplify, so they demand a higher bar.
	if mode != "reaction" && score < 0.7 {
		return "reaction"
	}
	return mode
}

// chooseEngagement maps a single 0-99 roll onto quote, repost, reaction
// or nothing. Quote gets the lowest slice of the roll, then repost, then
// reaction, so the percentages stack rather than compete.
func chooseEngagement(roll, quotePct, repostPct, reactPct int) string {
	switch {
	case roll < quotePct:
		return "quote"
	case roll < quotePct+repostPct:
		return "repost"
	case roll < quotePct+repostPct+reactPct:
		return "reaction"
	default:
		return ""
	}
}

func (a *Agent) enqueueReaction(target *nostr.Event) {
	targetID, targetPK := target.ID, target.PubKey
	a.queue.Enqueue(&queue.Job{
		ID:       "reaction:" + targetID,
		Kind:     "reaction",
		Priority: queue.PriorityLow,
		Action: func(ctx context.Context) error {
			evt := &nostr.Event{
				Kind:      kindReaction,
				CreatedAt: nostr.Now(),
				Tags:      nostr.Tags{{"e", targetID}, {"p", targetPK}},
				Content:   "+",
			}
			if err := a.id.Sign(evt); err != nil {
				return err
			}
			if err := a.client.PublishEvent(ctx, a.relays, evt); err != nil {
				return err
			}
			a.gov.RecordInteraction(ctx, targetPK)
			return nil
		},
	})
}

// enqueueRepost publishes a kind 6 repost carrying the target event as
// JSON content per NIP-18.
func (a *Agent) enqueueRepost(target *nostr.Event) {
	targetID, targetPK := target.ID, target.PubKey
	raw, err := json.Marshal(target)
	if err != nil {
		a.log.Warn("repost marshal failed", "id", targetID, "error", err)
		return
	}
	eTag := nostr.Tag{"e", targetID}
	if len(a.relays) > 0 {
		eTag = append(eTag, a.relays[0])
	}
	a.queue.Enqueue(&queue.Job{
		ID:       "repost:" + targetID,
		Kind:     "repost",
		Priority: queue.PriorityLow,
		Action: func(ctx context.Context) error {
			evt := &nostr.Event{
				Kind:      kindRepost,
				CreatedAt: nostr.Now(),
				Tags:      nostr.Tags{eTag, {"p", targetPK}},
				Content:   string(raw),
			}
			if err := a.id.Sign(evt); err != nil {
				return err
			}
			if err := a.client.PublishEvent(ctx, a.relays, evt); err != nil {
				return err
			}
			a.gov.RecordInteraction(ctx, targetPK)
			return nil
		},
	})
}

// enqueueQuoteRepost publishes a kind 1 note quoting the target via a
// nevent reference and a q tag. Commentary is generated inside the job
// so a generation failure only consumes this one slot.
func (a *Agent) enqueueQuoteRepost(target *nostr.Event) {
	targetID, targetPK := target.ID, target.PubKey
	excerpt := target.Content
	if len(excerpt) > 400 {
		excerpt = excerpt[:400]
	}
	a.queue.Enqueue(&queue.Job{
		ID:       "quote:" + targetID,
		Kind:     "quote",
		Priority: queue.PriorityLow,
		Action: func(ctx context.Context) error {
			text, err := a.generator.Generate(ctx, gen.Request{
				System: fmt.Sprintf(
					"You are %s, posting on nostr. Write one short sentence of commentary on the quoted note. No hashtags, no preamble. Never mention being an AI or a bot.",
					a.cfg.Agent.DisplayName),
				Prompt: "Quoted note:\n" + excerpt,
				Tier:   gen.TierFast,
			})
			if err != nil {
				return fmt.Errorf("quote generation: %w", err)
			}

			ref, err := nip19.EncodeEvent(targetID, a.relays, targetPK)
			if err != nil {
				return fmt.Errorf("encode quoted event: %w", err)
			}
			evt := &nostr.Event{
				Kind:      kindTextNote,
				CreatedAt: nostr.Now(),
				Tags:      nostr.Tags{{"q", targetID}, {"p", targetPK}},
				Content:   text + "\n\nnostr:" + ref,
			}
			if err := a.id.Sign(evt); err != nil {
				return err
			}
			if err := a.client.PublishEvent(ctx, a.relays, evt); err != nil {
				return err
			}
			a.gov.RecordInteraction(ctx, targetPK)
			return nil
		},
	})
}

// noteQuality is a cheap content heuristic in [0, 1] used only for
// follow-list bookkeeping, not engagement decisions.
func noteQuality(content string) float64 {
	content = strings.TrimSpace(content)
	n := len(content)
	if n < 20 {
		return 0.1
	}

	score := 0.5
	if n >= 80 && n <= 800 {
		score += 0.2
	}
	if strings.Count(content, "#") > 5 {
		score -= 0.3
	}
	if strings.Count(strings.ToLower(content), "http") > 2 {
		score -= 0.2
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// sampleKeys returns up to n random keys from the set
func sampleKeys(set map[string]struct{}, n int) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	if n > 0 && len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
