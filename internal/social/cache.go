package social

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/singleflight"

	"github.com/sandwichfarm/nobo/internal/config"
	"github.com/sandwichfarm/nobo/internal/identity"
	"github.com/sandwichfarm/nobo/internal/ops"
)

const (
	kindContactList = 3
	kindMuteList    = 10000
)

// RelayIO is the slice of the relay client the cache needs
type RelayIO interface {
	FetchEvents(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error)
	PublishEvent(ctx context.Context, relays []string, event *nostr.Event) error
}

// Cache holds the agent's mute and contact sets with TTL expiry.
// Concurrent cache-miss loads collapse into one relay query via
// singleflight. Reads off the cached sets never touch the network, which
// keeps the router's fast path non-blocking.
type Cache struct {
	client RelayIO
	relays []string
	id     *identity.Identity
	cfg    *config.Social
	log    *ops.Logger

	sf singleflight.Group

	mu                sync.RWMutex
	mutes             map[string]struct{}
	mutesFetchedAt    time.Time
	contacts          map[string]struct{}
	contactsFetchedAt time.Time
}

// New creates a social cache
func New(client RelayIO, relays []string, id *identity.Identity, cfg *config.Social, log *ops.Logger) *Cache {
	return &Cache{
		client:   client,
		relays:   relays,
		id:       id,
		cfg:      cfg,
		log:      log.WithComponent("social"),
		mutes:    make(map[string]struct{}),
		contacts: make(map[string]struct{}),
	}
}

// IsMutedCached checks the in-memory mute set without any network access.
// Used on the event router's fast path; staleness is bounded by the TTL of
// the last background load.
func (c *Cache) IsMutedCached(pubkey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.mutes[pubkey]
	return ok
}

// IsContactCached checks the in-memory contact set without network access
func (c *Cache) IsContactCached(pubkey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.contacts[pubkey]
	return ok
}

// LoadMuteList returns the mute set, fetching from relays when the cache
// is stale. Concurrent callers share one in-flight load.
func (c *Cache) LoadMuteList(ctx context.Context) (map[string]struct{}, error) {
	c.mu.RLock()
	fresh := time.Since(c.mutesFetchedAt) < time.Duration(c.cfg.MuteTTLMinutes)*time.Minute
	cached := c.mutes
	c.mu.RUnlock()

	if fresh {
		return copySet(cached), nil
	}

	result, err, _ := c.sf.Do("mutes", func() (interface{}, error) {
		set, err := c.fetchListSet(ctx, kindMuteList)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.mutes = set
		c.mutesFetchedAt = time.Now()
		c.mu.Unlock()
		return copySet(set), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]struct{}), nil
}

// LoadContacts returns the follow set with the same TTL/singleflight
// discipline as LoadMuteList.
func (c *Cache) LoadContacts(ctx context.Context) (map[string]struct{}, error) {
	c.mu.RLock()
	fresh := time.Since(c.contactsFetchedAt) < time.Duration(c.cfg.ContactTTLMinutes)*time.Minute
	cached := c.contacts
	c.mu.RUnlock()

	if fresh {
		return copySet(cached), nil
	}

	result, err, _ := c.sf.Do("contacts", func() (interface{}, error) {
		set, err := c.fetchListSet(ctx, kindContactList)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.contacts = set
		c.contactsFetchedAt = time.Now()
		c.mu.Unlock()
		return copySet(set), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]struct{}), nil
}

// fetchListSet fetches the agent's newest list event of the given kind and
// extracts its p tags.
func (c *Cache) fetchListSet(ctx context.Context, kind int) (map[string]struct{}, error) {
	if c.id.PublicKey == "" {
		return make(map[string]struct{}), nil
	}

	filter := nostr.Filter{
		Kinds:   []int{kind},
		Authors: []string{c.id.PublicKey},
		Limit:   1,
	}

	events, err := c.client.FetchEvents(ctx, c.relays, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch list kind %d: %w", kind, err)
	}

	newest := newestEvent(events)
	set := make(map[string]struct{})
	if newest != nil {
		for _, tag := range newest.Tags {
			if len(tag) >= 2 && tag[0] == "p" {
				set[tag[1]] = struct{}{}
			}
		}
	}

	c.log.Debug("list loaded", "kind", kind, "entries", len(set))
	return set, nil
}

// MuteUser adds a pubkey to the mute list and republishes the full list.
// Nostr lists are replaceable events; appending is not possible. When
// configured, the user is also removed from the contact list.
func (c *Cache) MuteUser(ctx context.Context, pubkey string) error {
	mutes, err := c.LoadMuteList(ctx)
	if err != nil {
		return err
	}
	if _, ok := mutes[pubkey]; ok {
		return nil
	}
	mutes[pubkey] = struct{}{}

	if err := c.publishListEvent(ctx, kindMuteList, mutes); err != nil {
		return err
	}

	c.mu.Lock()
	c.mutes = copySet(mutes)
	c.mutesFetchedAt = time.Now()
	c.mu.Unlock()

	c.log.Info("user muted", "pubkey", pubkey)

	if c.cfg.UnfollowOnMute {
		if err := c.UnfollowUser(ctx, pubkey); err != nil {
			c.log.Warn("failed to unfollow muted user", "pubkey", pubkey, "error", err)
		}
	}
	return nil
}

// UnmuteUser removes a pubkey from the mute list and republishes it
func (c *Cache) UnmuteUser(ctx context.Context, pubkey string) error {
	mutes, err := c.LoadMuteList(ctx)
	if err != nil {
		return err
	}
	if _, ok := mutes[pubkey]; !ok {
		return nil
	}
	delete(mutes, pubkey)

	if err := c.publishListEvent(ctx, kindMuteList, mutes); err != nil {
		return err
	}

	c.mu.Lock()
	c.mutes = copySet(mutes)
	c.mutesFetchedAt = time.Now()
	c.mu.Unlock()

	c.log.Info("user unmuted", "pubkey", pubkey)
	return nil
}

// FollowUsers adds pubkeys to the contact list and republishes the full
// list in a single kind 3 event.
func (c *Cache) FollowUsers(ctx context.Context, pubkeys []string) error {
	if len(pubkeys) == 0 {
		return nil
	}

	contacts, err := c.LoadContacts(ctx)
	if err != nil {
		return err
	}

	added := 0
	for _, pk := range pubkeys {
		if _, ok := contacts[pk]; !ok {
			contacts[pk] = struct{}{}
			added++
		}
	}
	if added == 0 {
		return nil
	}

	if err := c.publishListEvent(ctx, kindContactList, contacts); err != nil {
		return err
	}

	c.mu.Lock()
	c.contacts = copySet(contacts)
	c.contactsFetchedAt = time.Now()
	c.mu.Unlock()

	c.log.Info("contact list updated", "added", added, "total", len(contacts))
	return nil
}

// UnfollowUser removes a pubkey from the contact list and republishes it
func (c *Cache) UnfollowUser(ctx context.Context, pubkey string) error {
	contacts, err := c.LoadContacts(ctx)
	if err != nil {
		return err
	}
	if _, ok := contacts[pubkey]; !ok {
		return nil
	}
	delete(contacts, pubkey)

	if err := c.publishListEvent(ctx, kindContactList, contacts); err != nil {
		return err
	}

	c.mu.Lock()
	c.contacts = copySet(contacts)
	c.contactsFetchedAt = time.Now()
	c.mu.Unlock()

	c.log.Info("user unfollowed", "pubkey", pubkey)
	return nil
}

func (c *Cache) publishListEvent(ctx context.Context, kind int, set map[string]struct{}) error {
	tags := make(nostr.Tags, 0, len(set))
	for pk := range set {
		tags = append(tags, nostr.Tag{"p", pk})
	}

	evt := nostr.Event{
		Kind:      kind,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   "",
	}
	if err := c.id.Sign(&evt); err != nil {
		return err
	}
	if err := c.client.PublishEvent(ctx, c.relays, &evt); err != nil {
		return fmt.Errorf("failed to publish list kind %d: %w", kind, err)
	}
	return nil
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func newestEvent(events []*nostr.Event) *nostr.Event {
	var newest *nostr.Event
	for _, evt := range events {
		if newest == nil || evt.CreatedAt > newest.CreatedAt {
			newest = evt
		}
	}
	return newest
}
