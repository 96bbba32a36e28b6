package relay

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/nobo/internal/config"
	"github.com/sandwichfarm/nobo/internal/ops"
)

// EventSink receives every inbound event from the live subscription.
type EventSink func(*nostr.Event)

// Manager owns the agent's live multi-relay subscription. It tracks when
// the last event arrived, reconnects when the stream goes quiet, and gives
// up after a bounded number of failed attempts instead of retrying forever.
type Manager struct {
	client *Client
	cfg    *config.Connection
	log    *ops.Logger
	sink   EventSink

	// OnExhausted is called once when reconnection attempts are spent.
	OnExhausted func()

	mu          sync.Mutex
	relays      []string
	filters     nostr.Filters
	lastEventAt time.Time
	attempts    int
	subCancel   context.CancelFunc
	connected   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a connection manager. The sink is invoked for every
// inbound event and must not block.
func NewManager(ctx context.Context, client *Client, cfg *config.Connection, log *ops.Logger, sink EventSink) *Manager {
	mctx, cancel := context.WithCancel(ctx)
	return &Manager{
		client: client,
		cfg:    cfg,
		log:    log.WithComponent("connection"),
		sink:   sink,
		ctx:    mctx,
		cancel: cancel,
	}
}

// Connect establishes the live subscription on the given relays and starts
// the health monitor.
func (m *Manager) Connect(relays []string, filters nostr.Filters) {
	m.mu.Lock()
	m.relays = relays
	m.filters = filters
	m.lastEventAt = time.Now()
	m.mu.Unlock()

	m.openSubscription()

	m.wg.Add(1)
	go m.healthLoop()
}

// Close tears down the subscription and the health monitor.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	if m.subCancel != nil {
		m.subCancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// LastEventAt returns when the last inbound event was observed.
func (m *Manager) LastEventAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastEventAt
}

// Attempts returns the current reconnect attempt counter.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// openSubscription starts a subscription goroutine that forwards events to
// the sink. Any previous subscription must have been cancelled first.
func (m *Manager) openSubscription() {
	subCtx, subCancel := context.WithCancel(m.ctx)

	m.mu.Lock()
	m.subCancel = subCancel
	m.connected = true
	relays := m.relays
	filters := m.filters
	m.mu.Unlock()

	events := m.client.SubscribeEvents(subCtx, relays, filters)
	m.log.LogRelayConnection(len(relays), true, nil)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for evt := range events {
			m.markEvent()
			m.sink(evt)
		}
		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()
	}()
}

// markEvent records inbound traffic. Receiving an event is the proof a
// reconnect worked, so the attempt counter resets here.
func (m *Manager) markEvent() {
	m.mu.Lock()
	m.lastEventAt = time.Now()
	m.attempts = 0
	m.mu.Unlock()
}

// MarkActivity records non-event liveness signals such as end-of-stored-events.
func (m *Manager) MarkActivity() {
	m.mu.Lock()
	m.lastEventAt = time.Now()
	m.mu.Unlock()
}

// healthLoop periodically checks the inbound event gap and triggers a
// reconnect when the stream has gone quiet for too long.
func (m *Manager) healthLoop() {
	defer m.wg.Done()

	interval := time.Duration(m.cfg.HealthCheckSeconds) * time.Second
	maxGap := time.Duration(m.cfg.MaxEventGapSeconds) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			gap := time.Since(m.LastEventAt())
			if gap <= maxGap {
				continue
			}

			m.log.Warn("no events received within gap limit",
				"gap_seconds", int(gap.Seconds()),
				"max_gap_seconds", int(maxGap.Seconds()))

			if !m.reconnect() {
				return
			}
		}
	}
}

// reconnect closes the current subscription and opens a fresh one after a
// backoff delay. Returns false when the attempt budget is exhausted.
func (m *Manager) reconnect() bool {
	m.mu.Lock()
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.mu.Unlock()
		m.log.Error("reconnect attempts exhausted",
			"attempts", m.cfg.MaxReconnectAttempts)
		if m.OnExhausted != nil {
			m.OnExhausted()
		}
		return false
	}
	m.attempts++
	attempt := m.attempts
	subCancel := m.subCancel
	m.mu.Unlock()

	if subCancel != nil {
		subCancel()
	}

	// Exponential backoff: delay doubles with each consecutive attempt.
	delay := time.Duration(m.cfg.ReconnectDelaySecond) * time.Second
	delay *= time.Duration(1 << (attempt - 1))

	m.log.Info("reconnecting",
		"attempt", attempt,
		"delay_seconds", int(delay.Seconds()))

	select {
	case <-m.ctx.Done():
		return false
	case <-time.After(delay):
	}

	m.mu.Lock()
	m.lastEventAt = time.Now()
	m.mu.Unlock()

	m.openSubscription()
	return true
}
