package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// threadRefs are the e-tag references of a reply event
type threadRefs struct {
	rootID  string
	replyID string
}

// threadContext is what the engagement decision and the prompt builder
// see: the target event plus up to two fetched ancestors.
type threadContext struct {
	rootID string
	isRoot bool
	events []*nostr.Event // oldest first, target last
	length int            // e-tag chain depth of the target
	score  float64
}

// parseThreadRefs extracts root and reply pointers from an event's e
// tags. Marked tags win; unmarked tags fall back to positional
// convention, first is root and last is the direct parent.
func parseThreadRefs(evt *nostr.Event) threadRefs {
	var refs threadRefs
	var unmarked []string

	for _, tag := range evt.Tags {
		if len(tag) < 2 || tag[0] != "e" {
			continue
		}
		marker := ""
		if len(tag) >= 4 {
			marker = tag[3]
		}
		switch marker {
		case "root":
			refs.rootID = tag[1]
		case "reply":
			refs.replyID = tag[1]
		case "mention":
			// Quoted event, not part of the reply chain.
		default:
			unmarked = append(unmarked, tag[1])
		}
	}

	if refs.rootID == "" && len(unmarked) > 0 {
		refs.rootID = unmarked[0]
	}
	if refs.replyID == "" && len(unmarked) > 1 {
		refs.replyID = unmarked[len(unmarked)-1]
	}
	if refs.replyID == "" {
		refs.replyID = refs.rootID
	}
	return refs
}

// threadDepth counts reply-chain e tags, a cheap proxy for how deep in a
// thread the event sits.
func threadDepth(evt *nostr.Event) int {
	depth := 0
	for _, tag := range evt.Tags {
		if len(tag) < 2 || tag[0] != "e" {
			continue
		}
		if len(tag) >= 4 && tag[3] == "mention" {
			continue
		}
		depth++
	}
	return depth
}

// buildThreadContext assembles the conversational context around the
// target. At most two extra fetches: the thread root and the direct
// parent. Fetch failures degrade to a smaller context, never an error.
func (r *Router) buildThreadContext(ctx context.Context, evt *nostr.Event) *threadContext {
	refs := parseThreadRefs(evt)

	tc := &threadContext{
		rootID: refs.rootID,
		isRoot: refs.rootID == "",
		length: threadDepth(evt),
	}

	if !tc.isRoot {
		if root, err := r.client.FetchEvent(ctx, r.relays, refs.rootID); err == nil && root != nil {
			tc.events = append(tc.events, root)
		}
		if refs.replyID != "" && refs.replyID != refs.rootID {
			if parent, err := r.client.FetchEvent(ctx, r.relays, refs.replyID); err == nil && parent != nil {
				tc.events = append(tc.events, parent)
			}
		}
	}
	tc.events = append(tc.events, evt)
	tc.score = r.scoreThread(tc)
	return tc
}

// scoreThread rates the conversational context in [0, 1]. Weights favor
// recency and lexical coherence over raw volume so a fresh, coherent
// root note still clears the engagement bar on its own.
func (r *Router) scoreThread(tc *threadContext) float64 {
	target := tc.events[len(tc.events)-1]

	// Recency relative to the configured freshness window.
	maxAge := time.Duration(r.cfg.Discovery.MaxEventAgeHours) * time.Hour
	age := time.Since(target.CreatedAt.Time())
	recency := 1.0 - age.Seconds()/maxAge.Seconds()
	if recency < 0 {
		recency = 0
	}

	// Lexical coherence: ratio of unique meaningful words across the
	// context. Repetitive spam threads collapse toward zero.
	total := 0
	unique := make(map[string]struct{})
	for _, e := range tc.events {
		for _, w := range strings.Fields(strings.ToLower(e.Content)) {
			if len(w) < 3 {
				continue
			}
			total++
			unique[w] = struct{}{}
		}
	}
	coherence := 0.0
	if total > 0 {
		coherence = float64(len(unique)) / float64(total)
	}

	// Content length sweet spot around a few sentences.
	n := len(target.Content)
	length := 0.0
	switch {
	case n >= 40 && n <= 600:
		length = 1.0
	case n > 600:
		length = 0.5
	case n >= 10:
		length = float64(n) / 40.0
	}

	// Context volume, capped at three fetched events.
	volume := float64(len(tc.events)) / 3.0
	if volume > 1 {
		volume = 1
	}

	return 0.35*recency + 0.30*coherence + 0.20*length + 0.15*volume
}

// shouldEngage applies the engagement policy: hard content rejects
// first, then a score bar that is higher for thread roots than for
// replies, which additionally need topical relevance and bounded depth.
func (r *Router) shouldEngage(evt *nostr.Event, tc *threadContext) bool {
	n := len(strings.TrimSpace(evt.Content))
	if n < 10 || n > 2000 {
		return false
	}
	if r.looksLikeBot(evt.Content) {
		return false
	}

	if tc.isRoot {
		return tc.score >= r.cfg.Discovery.RootEngageThreshold
	}

	if tc.length > r.cfg.Discovery.MaxThreadLength {
		return false
	}
	if tc.score < r.cfg.Discovery.ReplyContextThreshold {
		return false
	}
	return r.matchesKeywords(tc)
}

// looksLikeBot checks content against the configured bot patterns
func (r *Router) looksLikeBot(content string) bool {
	lower := strings.ToLower(content)
	for _, pat := range r.cfg.Agent.BotPatterns {
		if pat != "" && strings.Contains(lower, strings.ToLower(pat)) {
			return true
		}
	}
	return false
}

// matchesKeywords reports whether any configured relevant keyword
// appears in the thread context. An empty keyword list matches
// everything.
func (r *Router) matchesKeywords(tc *threadContext) bool {
	if len(r.cfg.Discovery.RelevantKeywords) == 0 {
		return true
	}
	for _, e := range tc.events {
		lower := strings.ToLower(e.Content)
		for _, kw := range r.cfg.Discovery.RelevantKeywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

// prompt renders the thread context as a generation prompt, oldest
// event first, with the target message called out last.
func (tc *threadContext) prompt(target *nostr.Event) string {
	var b strings.Builder
	if len(tc.events) > 1 {
		b.WriteString("Conversation so far:\n")
		for _, e := range tc.events[:len(tc.events)-1] {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(e.Content))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Reply to this message:\n%s", strings.TrimSpace(target.Content))
	return b.String()
}
