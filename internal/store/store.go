package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fiatjaf/eventstore"
	"github.com/fiatjaf/eventstore/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/nobo/internal/config"
	"github.com/sandwichfarm/nobo/internal/ops"
)

// Store is the agent's local persistence: published events live in an
// eventstore backend, agent state (reply records, interaction counters,
// quality scores, social metrics) lives in plain tables on the same
// database handle.
type Store struct {
	backend *sqlite3.SQLite3Backend
	db      *sqlx.DB
	log     *ops.Logger
}

// ReplyRecord links a published reply to the event it answered. The
// replied-to id is a first-class column so dedup seeding never has to
// infer it from composite id strings.
type ReplyRecord struct {
	ReplyID   string `db:"reply_id"`
	EventID   string `db:"event_id"`
	Pubkey    string `db:"pubkey"`
	CreatedAt int64  `db:"created_at"`
}

// UserQualityRecord accumulates sampled content quality per followed author
type UserQualityRecord struct {
	Pubkey    string  `db:"pubkey"`
	Score     float64 `db:"score"`
	PostCount int     `db:"post_count"`
	UpdatedAt int64   `db:"updated_at"`
}

// SocialMetricsRecord is a cached follower/following snapshot for a pubkey
type SocialMetricsRecord struct {
	Pubkey    string  `db:"pubkey"`
	Followers int     `db:"followers"`
	Following int     `db:"following"`
	Ratio     float64 `db:"ratio"`
	UpdatedAt int64   `db:"updated_at"`
}

// New creates a Store backed by a single SQLite file
func New(ctx context.Context, cfg *config.Storage, log *ops.Logger) (*Store, error) {
	backend := &sqlite3.SQLite3Backend{DatabaseURL: cfg.Path}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize event store: %w", err)
	}

	// The backend's sqlx handle maps columns through json struct tags;
	// wrap the shared connection in a fresh handle so our db-tagged
	// record structs scan correctly.
	s := &Store{
		backend: backend,
		db:      sqlx.NewDb(backend.DB.DB, "sqlite3"),
		log:     log.WithComponent("store"),
	}

	if err := s.runMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS reply_records (
			reply_id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			pubkey TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reply_records_created ON reply_records(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reply_records_event ON reply_records(event_id)`,
		`CREATE TABLE IF NOT EXISTS interaction_counts (
			pubkey TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_quality (
			pubkey TEXT PRIMARY KEY,
			score REAL NOT NULL DEFAULT 0,
			post_count INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS social_metrics (
			pubkey TEXT PRIMARY KEY,
			followers INTEGER NOT NULL,
			following INTEGER NOT NULL,
			ratio REAL NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// SaveReply persists a published reply event and its link to the event it
// answered. Duplicate saves are not an error.
func (s *Store) SaveReply(ctx context.Context, reply *nostr.Event, repliedToID string) error {
	start := time.Now()

	if err := s.backend.SaveEvent(ctx, reply); err != nil && !errors.Is(err, eventstore.ErrDupEvent) {
		s.log.LogStoreOperation("save_reply_event", time.Since(start), err)
		return fmt.Errorf("failed to save reply event: %w", err)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO reply_records (reply_id, event_id, pubkey, created_at)
		 VALUES (?, ?, ?, ?)`,
		reply.ID, repliedToID, reply.PubKey, int64(reply.CreatedAt))
	s.log.LogStoreOperation("save_reply_record", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to save reply record: %w", err)
	}

	return nil
}

// SeedHandledIDs returns the replied-to event ids from a bounded recent
// window, newest first. Used at startup to rebuild the handled-event set.
func (s *Store) SeedHandledIDs(ctx context.Context, window time.Duration, limit int) ([]string, error) {
	since := time.Now().Add(-window).Unix()

	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT event_id FROM reply_records
		 WHERE created_at >= ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to seed handled ids: %w", err)
	}

	return ids, nil
}

// HasReplyTo reports whether a reply to the given event id was ever recorded
func (s *Store) HasReplyTo(ctx context.Context, eventID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(1) FROM reply_records WHERE event_id = ?`, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to check reply record: %w", err)
	}
	return count > 0, nil
}

// GetInteractionCount returns the persisted interaction counter for a pubkey
func (s *Store) GetInteractionCount(ctx context.Context, pubkey string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT count FROM interaction_counts WHERE pubkey = ?`, pubkey)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get interaction count: %w", err)
	}
	return count, nil
}

// IncrementInteraction bumps the interaction counter for a pubkey and
// returns the new value.
func (s *Store) IncrementInteraction(ctx context.Context, pubkey string) (int, error) {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interaction_counts (pubkey, count, updated_at)
		 VALUES (?, 1, ?)
		 ON CONFLICT(pubkey) DO UPDATE SET count = count + 1, updated_at = ?`,
		pubkey, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to increment interaction count: %w", err)
	}
	return s.GetInteractionCount(ctx, pubkey)
}

// ResetInteractionCounts clears all interaction counters (weekly reset)
func (s *Store) ResetInteractionCounts(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM interaction_counts`)
	if err != nil {
		return fmt.Errorf("failed to reset interaction counts: %w", err)
	}
	return nil
}

// AddQualitySample folds one sampled post score into an author's running
// average and bumps their sampled-post count.
func (s *Store) AddQualitySample(ctx context.Context, pubkey string, score float64) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_quality (pubkey, score, post_count, updated_at)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT(pubkey) DO UPDATE SET
			score = (score * post_count + ?) / (post_count + 1),
			post_count = post_count + 1,
			updated_at = ?`,
		pubkey, score, now, score, now)
	if err != nil {
		return fmt.Errorf("failed to add quality sample: %w", err)
	}
	return nil
}

// GetLowQualityAuthors returns followed authors whose running score is
// below the threshold with at least minPosts samples, worst first.
func (s *Store) GetLowQualityAuthors(ctx context.Context, threshold float64, minPosts, limit int) ([]UserQualityRecord, error) {
	var records []UserQualityRecord
	err := s.db.SelectContext(ctx, &records,
		`SELECT pubkey, score, post_count, updated_at FROM user_quality
		 WHERE score < ? AND post_count >= ?
		 ORDER BY score ASC
		 LIMIT ?`,
		threshold, minPosts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get low quality authors: %w", err)
	}
	return records, nil
}

// RemoveQualityRecord deletes an author's quality record (after unfollow)
func (s *Store) RemoveQualityRecord(ctx context.Context, pubkey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_quality WHERE pubkey = ?`, pubkey)
	if err != nil {
		return fmt.Errorf("failed to remove quality record: %w", err)
	}
	return nil
}

// SaveSocialMetrics upserts a follower/following snapshot for a pubkey
func (s *Store) SaveSocialMetrics(ctx context.Context, rec *SocialMetricsRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO social_metrics (pubkey, followers, following, ratio, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(pubkey) DO UPDATE SET
			followers = excluded.followers,
			following = excluded.following,
			ratio = excluded.ratio,
			updated_at = excluded.updated_at`,
		rec.Pubkey, rec.Followers, rec.Following, rec.Ratio, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save social metrics: %w", err)
	}
	return nil
}

// GetSocialMetrics returns the cached snapshot for a pubkey, or nil
func (s *Store) GetSocialMetrics(ctx context.Context, pubkey string) (*SocialMetricsRecord, error) {
	var rec SocialMetricsRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT pubkey, followers, following, ratio, updated_at
		 FROM social_metrics WHERE pubkey = ?`, pubkey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get social metrics: %w", err)
	}
	return &rec, nil
}

// QueryEvents exposes the underlying event store for bounded lookups
func (s *Store) QueryEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	ch, err := s.backend.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	events := make([]*nostr.Event, 0)
	for evt := range ch {
		events = append(events, evt)
	}
	return events, nil
}
