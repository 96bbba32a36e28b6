package router

import (
	"context"
	"strconv"

	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"

	"github.com/sandwichfarm/nobo/internal/gen"
	"github.com/sandwichfarm/nobo/internal/queue"
)

// handleZapReceipt is the kind 9735 pipeline. A zap from a user with a
// pending deferred reply timer cancels that timer, the thanks note
// supersedes it.
func (r *Router) handleZapReceipt(evt *nostr.Event) {
	r.MarkHandled(evt.ID)

	sender := zapSender(evt)
	if sender == "" {
		r.log.Debug("zap receipt without sender", "id", evt.ID)
		return
	}
	if sender == r.id.PublicKey {
		return
	}
	if r.mutes.IsMutedCached(sender) {
		return
	}

	if r.throttle.cancelPending(sender, actionReply) {
		r.log.Debug("pending reply superseded by zap", "sender", sender)
	}

	ready, _ := r.throttle.ready(sender, actionZapThanks)
	if !ready {
		return
	}

	sats := zapAmountSats(evt)
	r.log.Info("zap received", "sender", sender, "sats", sats)

	text, err := r.generator.Generate(r.ctx, gen.Request{
		System: r.personaPrompt(),
		Prompt: "Someone just zapped you " + strconv.FormatInt(sats, 10) + " sats. Write a short, warm thank-you note.",
		Tier:   gen.TierFast,
	})
	if err != nil {
		// Thanks notes are low stakes; fall back to the template.
		text = gen.ThanksText(sats)
	}

	r.enqueueZapThanks(evt, sender, text)
}

// zapSender resolves the zapping user: the uppercase P tag when the
// receipt carries one, otherwise the pubkey of the embedded zap request
// in the description tag.
func zapSender(evt *nostr.Event) string {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "P" {
			return tag[1]
		}
	}
	if desc := evt.Tags.GetFirst([]string{"description"}); desc != nil && len(*desc) >= 2 {
		if pk := gjson.Get((*desc)[1], "pubkey"); pk.Exists() {
			return pk.String()
		}
	}
	return ""
}

// zapAmountSats extracts the zap amount from the embedded zap request's
// amount tag, which is denominated in millisats. Returns 0 when absent.
func zapAmountSats(evt *nostr.Event) int64 {
	desc := evt.Tags.GetFirst([]string{"description"})
	if desc == nil || len(*desc) < 2 {
		return 0
	}
	var msats int64
	gjson.Get((*desc)[1], "tags").ForEach(func(_, tag gjson.Result) bool {
		arr := tag.Array()
		if len(arr) >= 2 && arr[0].String() == "amount" {
			msats, _ = strconv.ParseInt(arr[1].String(), 10, 64)
			return false
		}
		return true
	})
	return msats / 1000
}

func (r *Router) enqueueZapThanks(receipt *nostr.Event, sender, text string) {
	tags := nostr.Tags{{"p", sender}}
	if zapped := receipt.Tags.GetFirst([]string{"e"}); zapped != nil && len(*zapped) >= 2 {
		tags = append(tags, nostr.Tag{"e", (*zapped)[1], "", "root"})
	}

	r.poster.Enqueue(&queue.Job{
		ID:       "zap_thanks:" + receipt.ID,
		Kind:     "zap_thanks",
		Priority: queue.PriorityHigh,
		Mention:  true,
		Action: func(ctx context.Context) error {
			thanks := &nostr.Event{
				Kind:      kindTextNote,
				CreatedAt: nostr.Now(),
				Tags:      tags,
				Content:   text,
			}
			if err := r.id.Sign(thanks); err != nil {
				return err
			}
			if err := r.client.PublishEvent(ctx, r.relays, thanks); err != nil {
				return err
			}
			if err := r.replies.SaveReply(ctx, thanks, receipt.ID); err != nil {
				r.log.Warn("failed to persist thanks record", "id", thanks.ID, "error", err)
			}
			r.throttle.mark(sender, actionZapThanks)
			return nil
		},
	})
}
