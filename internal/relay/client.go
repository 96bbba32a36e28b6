package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/nobo/internal/config"
	"github.com/sandwichfarm/nobo/internal/ops"
)

// Client provides a high-level interface for interacting with Nostr relays
type Client struct {
	pool        *nostr.SimplePool
	relayConfig *config.Relays
	log         *ops.Logger
	subs        chan struct{} // bounds concurrent one-shot subscriptions
}

// New creates a new Nostr client with the given configuration
func New(ctx context.Context, relayConfig *config.Relays, log *ops.Logger) *Client {
	pool := nostr.NewSimplePool(ctx)
	maxSubs := relayConfig.Policy.MaxConcurrentSubs
	if maxSubs <= 0 {
		maxSubs = 20
	}
	return &Client{
		pool:        pool,
		relayConfig: relayConfig,
		log:         log.WithComponent("relay"),
		subs:        make(chan struct{}, maxSubs),
	}
}

// acquire reserves a subscription slot, respecting context cancellation
func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.subs <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() {
	<-c.subs
}

// FetchEvents fetches events from the given relays matching the filter,
// waiting for EOSE on each relay.
func (c *Client) FetchEvents(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	events := make([]*nostr.Event, 0)
	for relayEvent := range c.pool.SubManyEose(ctx, relays, nostr.Filters{filter}) {
		if relayEvent.Event != nil {
			events = append(events, relayEvent.Event)
		}
	}

	return events, nil
}

// FetchEvent fetches a single event by ID from the given relays
func (c *Client) FetchEvent(ctx context.Context, relays []string, eventID string) (*nostr.Event, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	filter := nostr.Filter{
		IDs: []string{eventID},
	}

	result := c.pool.QuerySingle(ctx, relays, filter)
	if result == nil || result.Event == nil {
		return nil, fmt.Errorf("event not found: %s", eventID)
	}

	return result.Event, nil
}

// PublishEvent publishes a signed event to the given relays. It succeeds
// if at least one relay accepts the event.
func (c *Client) PublishEvent(ctx context.Context, relays []string, event *nostr.Event) error {
	results := c.pool.PublishMany(ctx, relays, *event)

	var lastErr error
	successCount := 0

	for result := range results {
		if result.Error != nil {
			lastErr = result.Error
		} else {
			successCount++
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("failed to publish to any relay: %w", lastErr)
	}

	c.log.Debug("event published",
		"id", event.ID,
		"kind", event.Kind,
		"relays_ok", successCount)
	return nil
}

// SubscribeEvents subscribes to events matching the filters on the given
// relays. The returned channel is closed when the context is cancelled.
func (c *Client) SubscribeEvents(ctx context.Context, relays []string, filters nostr.Filters) <-chan *nostr.Event {
	eventChan := make(chan *nostr.Event, 100)

	go func() {
		defer close(eventChan)

		c.log.Debug("starting live subscription",
			"relays", len(relays),
			"filters", len(filters))

		for relayEvent := range c.pool.SubMany(ctx, relays, filters) {
			if relayEvent.Event == nil {
				continue
			}
			select {
			case eventChan <- relayEvent.Event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return eventChan
}

// Close closes all relay connections
func (c *Client) Close() {
	c.pool.Close("client shutting down")
}

// GetSeedRelays returns the configured seed relays
func (c *Client) GetSeedRelays() []string {
	if c.relayConfig == nil {
		return []string{}
	}
	return c.relayConfig.Seeds
}

// GetDefaultTimeout returns the configured timeout duration
func (c *Client) GetDefaultTimeout() time.Duration {
	if c.relayConfig == nil || c.relayConfig.Policy.ConnectTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.relayConfig.Policy.ConnectTimeoutMs) * time.Millisecond
}
