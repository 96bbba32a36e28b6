package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sandwichfarm/nobo/internal/config"
	"github.com/sandwichfarm/nobo/internal/discovery"
	"github.com/sandwichfarm/nobo/internal/gen"
	"github.com/sandwichfarm/nobo/internal/governor"
	"github.com/sandwichfarm/nobo/internal/identity"
	"github.com/sandwichfarm/nobo/internal/ops"
	"github.com/sandwichfarm/nobo/internal/queue"
	"github.com/sandwichfarm/nobo/internal/relay"
	"github.com/sandwichfarm/nobo/internal/router"
	"github.com/sandwichfarm/nobo/internal/social"
	"github.com/sandwichfarm/nobo/internal/store"
)

// Agent wires the full service together: relay subscriptions feeding
// the router, the posting queue draining outbound events, and the
// scheduler driving discovery, posting and maintenance tasks. Without a
// secret key it degrades to listen-only: subscriptions stay up, every
// write path is disabled.
type Agent struct {
	cfg *config.Config
	log *ops.Logger

	id        *identity.Identity
	store     *store.Store
	client    *relay.Client
	manager   *relay.Manager
	queue     *queue.Queue
	cache     *social.Cache
	metrics   *social.Metrics
	gov       *governor.Governor
	generator gen.Generator
	router    *router.Router
	discovery *discovery.Engine
	scheduler *Scheduler

	relays []string

	ctx    context.Context
	cancel context.CancelFunc
	fatal  chan error
}

// New builds the agent from config. Construction connects nothing; call
// Start to go live.
func New(ctx context.Context, cfg *config.Config, log *ops.Logger) (*Agent, error) {
	actx, cancel := context.WithCancel(ctx)

	id, err := identity.FromEnvironment(cfg.Identity.Npub)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("identity: %w", err)
	}

	st, err := store.New(actx, &cfg.Storage, log)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("store: %w", err)
	}

	relays := cfg.Relays.Seeds
	client := relay.New(actx, &cfg.Relays, log)
	cache := social.New(client, relays, id, &cfg.Social, log)
	metrics := social.NewMetrics(cache, st, time.Duration(cfg.Social.MetricsTTLHours)*time.Hour)
	gov := governor.New(&cfg.Governor, st, cache, log)
	q := queue.New(actx, &cfg.Queue, log)
	generator := gen.NewOpenAIGenerator(os.Getenv("OPENAI_API_KEY"), &cfg.Generation, log)

	rtr, err := router.New(actx, cfg, id, client, relays, q, cache, gov, st, generator, log)
	if err != nil {
		cancel()
		st.Close()
		return nil, fmt.Errorf("router: %w", err)
	}

	disc := discovery.New(&cfg.Discovery, client, relays, rtr, rtr, cache, st, id.PublicKey, log)

	a := &Agent{
		cfg:       cfg,
		log:       log.WithComponent("agent"),
		id:        id,
		store:     st,
		client:    client,
		queue:     q,
		cache:     cache,
		metrics:   metrics,
		gov:       gov,
		generator: generator,
		router:    rtr,
		discovery: disc,
		scheduler: NewScheduler(actx, log),
		relays:    relays,
		ctx:       actx,
		cancel:    cancel,
		fatal:     make(chan error, 1),
	}

	a.manager = relay.NewManager(actx, client, &cfg.Connection, log, rtr.OnEvent)
	a.manager.OnExhausted = func() {
		select {
		case a.fatal <- fmt.Errorf("relay reconnection attempts exhausted"):
		default:
		}
	}

	return a, nil
}

// Fatal reports unrecoverable failures after Start
func (a *Agent) Fatal() <-chan error {
	return a.fatal
}

// Start brings the agent live: warms caches, seeds dedup state, opens
// the relay subscription and registers the periodic tasks.
func (a *Agent) Start() error {
	if !a.id.CanSign() {
		a.log.Warn("no secret key in environment, running listen-only")
	}

	// Warm the social caches so the router's fast path has answers from
	// the first event. Failures degrade to empty caches.
	if _, err := a.cache.LoadMuteList(a.ctx); err != nil {
		a.log.Warn("mute list load failed", "error", err)
	}
	if _, err := a.cache.LoadContacts(a.ctx); err != nil {
		a.log.Warn("contact list load failed", "error", err)
	}

	if err := a.router.SeedHandled(a.ctx); err != nil {
		a.log.Warn("handled set seed failed", "error", err)
	}

	a.queue.Start()
	a.manager.Connect(a.relays, a.router.SubscriptionFilters())

	if a.id.CanSign() {
		if a.cfg.Agent.PublishProfile {
			a.publishProfile()
		}
		if err := a.registerTasks(); err != nil {
			return err
		}
	}

	if a.cfg.Storage.BackupDir != "" {
		backups := ops.NewBackupManager(
			a.cfg.Storage.Path,
			a.cfg.Storage.BackupDir,
			time.Duration(a.cfg.Storage.BackupRetentionDays)*24*time.Hour,
			a.log)
		task := Task{
			Name:     "backup",
			Interval: time.Duration(a.cfg.Storage.BackupIntervalHours) * time.Hour,
			Run:      backups.Run,
		}
		if err := a.scheduler.Add(task); err != nil {
			return err
		}
	}

	a.log.Info("agent started",
		"pubkey", a.id.PublicKey,
		"relays", len(a.relays),
		"listen_only", !a.id.CanSign())
	return nil
}

// registerTasks wires the periodic behaviors into the scheduler
func (a *Agent) registerTasks() error {
	tasks := []Task{
		{
			Name:     "social-refresh",
			Interval: time.Duration(a.cfg.Social.MuteTTLMinutes) * time.Minute,
			Run: func(ctx context.Context) error {
				if _, err := a.cache.LoadMuteList(ctx); err != nil {
					return err
				}
				_, err := a.cache.LoadContacts(ctx)
				return err
			},
		},
		{
			Name:     "counter-reset",
			Interval: time.Duration(a.cfg.Governor.ResetIntervalHours) * time.Hour,
			Run:      a.gov.ResetCounts,
		},
	}

	if a.cfg.Discovery.Enabled {
		tasks = append(tasks, Task{
			Name:     "discovery",
			Interval: time.Duration(a.cfg.Discovery.IntervalMinutes) * time.Minute,
			Run:      a.runDiscovery,
		})
	}
	if a.cfg.Agent.PostingEnabled {
		tasks = append(tasks, Task{
			Name:     "scheduled-post",
			Interval: time.Duration(a.cfg.Agent.PostIntervalMinutes) * time.Minute,
			Run:      a.runScheduledPost,
		})
	}
	if a.cfg.HomeFeed.Enabled {
		tasks = append(tasks, Task{
			Name:     "home-feed",
			Interval: time.Duration(a.cfg.HomeFeed.CheckIntervalMinutes) * time.Minute,
			Run:      a.sampleHomeFeed,
		})
	}
	if a.cfg.Governor.Unfollow.Enabled {
		tasks = append(tasks, Task{
			Name:     "unfollow-sweep",
			Interval: time.Duration(a.cfg.Governor.Unfollow.IntervalHours) * time.Hour,
			Run: func(ctx context.Context) error {
				_, err := a.gov.RunUnfollowSweep(ctx)
				return err
			},
		})
	}

	for _, t := range tasks {
		if err := a.scheduler.Add(t); err != nil {
			return err
		}
	}
	return nil
}

// runDiscovery executes one discovery run and follows the best authors
// it engaged.
func (a *Agent) runDiscovery(ctx context.Context) error {
	if _, err := a.discovery.Run(ctx); err != nil {
		return err
	}
	_, err := a.discovery.FlushFollows(ctx, a.cache)
	return err
}

// Close shuts everything down in dependency order
func (a *Agent) Close() {
	a.scheduler.Stop()
	a.router.Stop()
	a.manager.Close()
	a.queue.Stop()
	a.client.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", "error", err)
	}
	a.cancel()
}
