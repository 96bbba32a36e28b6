package router

import (
	"context"
	"runtime/debug"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/nobo/internal/config"
	"github.com/sandwichfarm/nobo/internal/gen"
	"github.com/sandwichfarm/nobo/internal/identity"
	"github.com/sandwichfarm/nobo/internal/ops"
	"github.com/sandwichfarm/nobo/internal/queue"
)

// Event kinds the router dispatches on
const (
	kindTextNote   = 1
	kindDM         = 4
	kindSealedDM   = 14
	kindZapReceipt = 9735
)

// RelayIO is the slice of the relay client the router needs
type RelayIO interface {
	FetchEvent(ctx context.Context, relays []string, eventID string) (*nostr.Event, error)
	FetchEvents(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error)
	PublishEvent(ctx context.Context, relays []string, event *nostr.Event) error
}

// MuteSource answers mute checks from cache, never the network. The
// router's fast path depends on this being synchronous.
type MuteSource interface {
	IsMutedCached(pubkey string) bool
}

// ReplyStore persists published replies and answers dedup questions
type ReplyStore interface {
	SaveReply(ctx context.Context, reply *nostr.Event, repliedToID string) error
	HasReplyTo(ctx context.Context, eventID string) (bool, error)
	SeedHandledIDs(ctx context.Context, window time.Duration, limit int) ([]string, error)
}

// InteractionGovernor gates non-mention interactions per user
type InteractionGovernor interface {
	CanInteract(ctx context.Context, pubkey string, directMention bool) bool
	RecordInteraction(ctx context.Context, pubkey string)
}

// Poster enqueues outbound writes on the global posting queue
type Poster interface {
	Enqueue(job *queue.Job) *queue.Job
}

// Router consumes inbound events, filters them on a synchronous fast path
// and dispatches the survivors to per-kind pipelines on their own
// goroutines. All shared state it mutates (handled set, throttle clocks)
// is safe for concurrent handlers; multi-step sequences re-validate after
// every await.
type Router struct {
	cfg       *config.Config
	id        *identity.Identity
	caps      Capabilities
	client    RelayIO
	relays    []string
	poster    Poster
	mutes     MuteSource
	gov       InteractionGovernor
	replies   ReplyStore
	generator gen.Generator
	log       *ops.Logger

	handled    *lru.Cache[string, struct{}]
	throttle   *throttleTable
	botPubkeys map[string]struct{}

	ctx context.Context
}

// New creates an event router. Encryption capabilities are resolved once
// here; pipelines check the result instead of probing per event.
func New(
	ctx context.Context,
	cfg *config.Config,
	id *identity.Identity,
	client RelayIO,
	relays []string,
	poster Poster,
	mutes MuteSource,
	gov InteractionGovernor,
	replies ReplyStore,
	generator gen.Generator,
	log *ops.Logger,
) (*Router, error) {
	handled, err := lru.New[string, struct{}](cfg.Discovery.HandledCacheSize)
	if err != nil {
		return nil, err
	}

	botPubkeys := make(map[string]struct{}, len(cfg.Agent.BotPubkeys))
	for _, pk := range cfg.Agent.BotPubkeys {
		botPubkeys[pk] = struct{}{}
	}

	return &Router{
		cfg:        cfg,
		id:         id,
		caps:       ResolveCapabilities(id),
		client:     client,
		relays:     relays,
		poster:     poster,
		mutes:      mutes,
		gov:        gov,
		replies:    replies,
		generator:  generator,
		log:        log.WithComponent("router"),
		handled:    handled,
		throttle:   newThrottleTable(cfg.Throttle.ReplySeconds, cfg.Throttle.DMSeconds, cfg.Throttle.ZapThanksSeconds),
		botPubkeys: botPubkeys,
		ctx:        ctx,
	}, nil
}

// SeedHandled restores the handled-event set from persisted reply records.
// Bounded by the configured window and limit; runs once at startup.
func (r *Router) SeedHandled(ctx context.Context) error {
	window := time.Duration(r.cfg.Discovery.DedupSeedWindowHours) * time.Hour
	ids, err := r.replies.SeedHandledIDs(ctx, window, r.cfg.Discovery.DedupSeedLimit)
	if err != nil {
		return err
	}
	for _, id := range ids {
		r.handled.Add(id, struct{}{})
	}
	r.log.Info("handled set seeded", "ids", len(ids))
	return nil
}

// Stop cancels all pending per-user timers
func (r *Router) Stop() {
	r.throttle.stopAll()
}

// IsHandled reports whether an event id has already been processed
func (r *Router) IsHandled(eventID string) bool {
	return r.handled.Contains(eventID)
}

// MarkHandled records an event id as processed. Shared with the discovery
// engine so the two engagement paths never double-reply.
func (r *Router) MarkHandled(eventID string) {
	r.handled.Add(eventID, struct{}{})
}

// OnEvent is the subscription sink. The fast path is synchronous and must
// not block: cheap drops happen here, everything else moves to a handler
// goroutine.
func (r *Router) OnEvent(evt *nostr.Event) {
	if evt == nil {
		return
	}

	// Never react to ourselves.
	if evt.PubKey == r.id.PublicKey {
		return
	}

	if _, ok := r.botPubkeys[evt.PubKey]; ok {
		return
	}

	if r.handled.Contains(evt.ID) {
		return
	}

	// Cached set only: a network lookup here would stall the stream.
	if r.mutes.IsMutedCached(evt.PubKey) {
		r.handled.Add(evt.ID, struct{}{})
		return
	}

	go r.handle(evt)
}

// handle dispatches one event to its pipeline. Errors and panics are
// contained here so one bad event cannot take the router down.
func (r *Router) handle(evt *nostr.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.LogPanic(rec, string(debug.Stack()))
		}
	}()

	switch evt.Kind {
	case kindTextNote:
		r.handleMention(evt)
	case kindDM:
		r.handleDM(evt)
	case kindSealedDM:
		r.handleSealedDM(evt)
	case kindZapReceipt:
		r.handleZapReceipt(evt)
	default:
		r.log.Debug("unrecognized kind dropped", "kind", evt.Kind, "id", evt.ID)
	}
}

// SubscriptionFilters returns the live-subscription filters for the
// kinds of interest addressed to the agent.
func (r *Router) SubscriptionFilters() nostr.Filters {
	since := nostr.Now()
	return nostr.Filters{{
		Kinds: []int{kindTextNote, kindDM, kindSealedDM, kindZapReceipt},
		Tags:  nostr.TagMap{"p": []string{r.id.PublicKey}},
		Since: &since,
	}}
}
