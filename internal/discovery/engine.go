package discovery

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/nobo/internal/config"
	"github.com/sandwichfarm/nobo/internal/ops"
)

const kindTextNote = 1

// Searcher is the slice of the relay client the engine needs
type Searcher interface {
	FetchEvents(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error)
}

// Engager attempts a governed reply to a discovered event. onSuccess
// runs when the queued reply actually publishes; cross-run state must
// hang off it, not off the enqueue.
type Engager interface {
	TryEngage(ctx context.Context, evt *nostr.Event, onSuccess func(context.Context)) (bool, error)
}

// Dedup is the shared handled-event set, owned by the router
type Dedup interface {
	IsHandled(eventID string) bool
}

// MuteSource answers cached mute checks
type MuteSource interface {
	IsMutedCached(pubkey string) bool
}

// QualityStore records per-author quality samples
type QualityStore interface {
	AddQualitySample(ctx context.Context, pubkey string, score float64) error
}

// Engine searches topic feeds for conversations worth joining. Each run
// is bounded in rounds and stops early once it lands enough quality
// interactions. The reply threshold adapts downward when rounds keep
// coming back empty.
type Engine struct {
	cfg      *config.Discovery
	searcher Searcher
	relays   []string
	engager  Engager
	dedup    Dedup
	mutes    MuteSource
	quality  QualityStore
	selfPK   string
	log      *ops.Logger

	metrics *discoveryMetrics
	rng     *rand.Rand

	mu         sync.Mutex
	lastTopics map[string]struct{}
	userLast   map[string]time.Time
	engaged    map[string]struct{}
	follows    *followPool
}

// New creates a discovery engine
func New(
	cfg *config.Discovery,
	searcher Searcher,
	relays []string,
	engager Engager,
	dedup Dedup,
	mutes MuteSource,
	quality QualityStore,
	selfPK string,
	log *ops.Logger,
) *Engine {
	return &Engine{
		cfg:        cfg,
		searcher:   searcher,
		relays:     relays,
		engager:    engager,
		dedup:      dedup,
		mutes:      mutes,
		quality:    quality,
		selfPK:     selfPK,
		log:        log.WithComponent("discovery"),
		metrics:    newDiscoveryMetrics(cfg.ReplyThreshold, cfg.ThresholdFloor),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		lastTopics: make(map[string]struct{}),
		userLast:   make(map[string]time.Time),
		engaged:    make(map[string]struct{}),
		follows:    newFollowPool(),
	}
}

// Run executes one discovery run. Returns the number of quality
// interactions achieved.
func (e *Engine) Run(ctx context.Context) (int, error) {
	if !e.cfg.Enabled {
		return 0, nil
	}

	start := time.Now()
	quality := 0
	usedAuthors := make(map[string]struct{})
	roundTopics := make(map[string]struct{})

	e.mu.Lock()
	e.engaged = make(map[string]struct{})
	e.mu.Unlock()

	for round := 1; round <= e.cfg.MaxSearchRounds; round++ {
		if ctx.Err() != nil {
			return quality, ctx.Err()
		}
		if quality >= e.cfg.MinQualityInteractions {
			break
		}

		// The threshold is re-read every round so a relaxation takes
		// effect within the same run.
		threshold := e.metrics.value()

		topics := e.pickTopics(round)
		// The search window widens every round so a quiet network
		// still yields candidates by the last round.
		window := time.Duration(e.cfg.MaxEventAgeHours*round) * time.Hour

		engaged, scoreSum := e.runRound(ctx, topics, window, threshold, usedAuthors, roundTopics)
		quality += engaged

		e.metrics.recordRound(engaged, scoreSum)
		total, successful, _, avg := e.metrics.stats()
		e.log.LogDiscoveryRound(round, len(topics), engaged, threshold, avg, total, successful)
	}

	e.mu.Lock()
	e.lastTopics = roundTopics
	e.mu.Unlock()

	total, successful, withoutQuality, avg := e.metrics.stats()
	e.log.Info("discovery run complete",
		"quality_interactions", quality,
		"threshold", e.metrics.value(),
		"lifetime_rounds", total,
		"lifetime_successful_rounds", successful,
		"lifetime_rounds_without_quality", withoutQuality,
		"lifetime_avg_quality", avg,
		"elapsed", time.Since(start).Round(time.Millisecond).String())
	return quality, nil
}

// runRound searches one topic set, pools every scored candidate for
// follow selection, and engages those above the threshold. Cross-run
// state (cooldown, quality samples) moves inside the engagement's
// success callback; a reply that never publishes leaves no trace.
func (e *Engine) runRound(ctx context.Context, topics []string, window time.Duration, threshold float64, usedAuthors, roundTopics map[string]struct{}) (int, float64) {
	engaged := 0
	scoreSum := 0.0

	for _, topic := range topics {
		if ctx.Err() != nil {
			return engaged, scoreSum
		}
		if e.skipRepeatedTopic(topic) {
			continue
		}
		roundTopics[topic] = struct{}{}

		since := nostr.Timestamp(time.Now().Add(-window).Unix())
		events, err := e.searcher.FetchEvents(ctx, e.relays, nostr.Filter{
			Kinds: []int{kindTextNote},
			Tags:  nostr.TagMap{"t": []string{strings.ToLower(topic)}},
			Since: &since,
			Limit: e.cfg.SearchLimitPerTopic,
		})
		if err != nil {
			e.log.Warn("topic search failed", "topic", topic, "error", err)
			continue
		}

		for _, evt := range events {
			if !e.eligible(evt) {
				continue
			}

			score := e.scoreCandidate(evt, topic)
			e.follows.add(evt.PubKey, score)

			if score < threshold {
				continue
			}
			if !e.engageable(evt.PubKey, usedAuthors) {
				continue
			}

			pk, sc := evt.PubKey, score
			ok, err := e.engager.TryEngage(ctx, evt, func(cbctx context.Context) {
				e.mu.Lock()
				e.userLast[pk] = time.Now()
				e.engaged[pk] = struct{}{}
				e.mu.Unlock()

				if err := e.quality.AddQualitySample(cbctx, pk, sc); err != nil {
					e.log.Warn("quality sample failed", "pubkey", pk, "error", err)
				}
			})
			if err != nil {
				e.log.Warn("engagement failed", "id", evt.ID, "error", err)
				continue
			}
			if !ok {
				continue
			}

			usedAuthors[pk] = struct{}{}
			engaged++
			scoreSum += sc

			if engaged >= e.cfg.MinQualityInteractions {
				return engaged, scoreSum
			}
		}
	}
	return engaged, scoreSum
}

// pickTopics returns the primary topics for early rounds and mixes in
// fallbacks for the later ones.
func (e *Engine) pickTopics(round int) []string {
	if round == 1 || len(e.cfg.FallbackTopics) == 0 {
		return e.cfg.Topics
	}
	out := make([]string, 0, len(e.cfg.Topics)+len(e.cfg.FallbackTopics))
	out = append(out, e.cfg.Topics...)
	out = append(out, e.cfg.FallbackTopics...)
	return out
}

// skipRepeatedTopic probabilistically passes over topics searched in
// the previous run so successive runs drift across the topic list.
func (e *Engine) skipRepeatedTopic(topic string) bool {
	e.mu.Lock()
	_, repeated := e.lastTopics[topic]
	e.mu.Unlock()
	if !repeated {
		return false
	}
	return e.rng.Intn(100) < e.cfg.TopicRepeatSkipPercent
}

// eligible applies the cheap candidate filters that precede scoring
func (e *Engine) eligible(evt *nostr.Event) bool {
	if evt == nil || evt.PubKey == e.selfPK {
		return false
	}
	if e.dedup.IsHandled(evt.ID) {
		return false
	}
	if e.mutes.IsMutedCached(evt.PubKey) {
		return false
	}

	maxAge := time.Duration(e.cfg.MaxEventAgeHours*e.cfg.MaxSearchRounds) * time.Hour
	return time.Since(evt.CreatedAt.Time()) <= maxAge
}

// engageable applies the per-author gates that govern engagement but
// not follow pooling: one engagement per author per run, and the
// cross-run cooldown.
func (e *Engine) engageable(pk string, usedAuthors map[string]struct{}) bool {
	if _, used := usedAuthors[pk]; used {
		return false
	}
	return !e.underCooldown(pk)
}

func (e *Engine) underCooldown(pk string) bool {
	e.mu.Lock()
	last, seen := e.userLast[pk]
	e.mu.Unlock()
	return seen && time.Since(last) < time.Duration(e.cfg.UserCooldownMinutes)*time.Minute
}
