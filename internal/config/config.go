package config

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config represents the complete nobo configuration
type Config struct {
	Agent      Agent      `yaml:"agent"`
	Identity   Identity   `yaml:"identity"`
	Relays     Relays     `yaml:"relays"`
	Connection Connection `yaml:"connection"`
	Throttle   Throttle   `yaml:"throttle"`
	Queue      Queue      `yaml:"queue"`
	Discovery  Discovery  `yaml:"discovery"`
	HomeFeed   HomeFeed   `yaml:"home_feed"`
	Governor   Governor   `yaml:"governor"`
	Social     Social     `yaml:"social"`
	Storage    Storage    `yaml:"storage"`
	Generation Generation `yaml:"generation"`
	Logging    Logging    `yaml:"logging"`
}

// Agent contains the agent's public persona and posting behavior
type Agent struct {
	Name                string   `yaml:"name"`         // short handle, matched in mention content
	DisplayName         string   `yaml:"display_name"` // kind 0 display name
	About               string   `yaml:"about"`
	Picture             string   `yaml:"picture"`
	PublishProfile      bool     `yaml:"publish_profile"` // publish kind 0 on startup
	PostingEnabled      bool     `yaml:"posting_enabled"`
	PostIntervalMinutes int      `yaml:"post_interval_minutes"`
	PostTopics          []string `yaml:"post_topics"`
	BotPatterns         []string `yaml:"bot_patterns"` // content substrings that mark an author as a bot
	BotPubkeys          []string `yaml:"bot_pubkeys"`  // known bot pubkeys, always ignored
}

// Identity contains Nostr identity information.
// The secret key is never read from YAML; it comes from the NOBO_NSEC
// environment variable so config files stay safe to share.
type Identity struct {
	Npub string `yaml:"npub"`
}

// Relays contains relay configuration
type Relays struct {
	Seeds  []string    `yaml:"seeds"`
	Policy RelayPolicy `yaml:"policy"`
}

// RelayPolicy contains relay connection policies
type RelayPolicy struct {
	ConnectTimeoutMs  int `yaml:"connect_timeout_ms"`
	MaxConcurrentSubs int `yaml:"max_concurrent_subs"`
}

// Connection contains subscription health and reconnect settings
type Connection struct {
	HealthCheckSeconds   int `yaml:"health_check_seconds"`
	MaxEventGapSeconds   int `yaml:"max_event_gap_seconds"`
	ReconnectDelaySecond int `yaml:"reconnect_delay_seconds"`
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

// Throttle contains per-user cooldowns, in seconds
type Throttle struct {
	ReplySeconds     int `yaml:"reply_seconds"`
	DMSeconds        int `yaml:"dm_seconds"`
	ZapThanksSeconds int `yaml:"zap_thanks_seconds"`
}

// Queue contains posting queue spacing settings
type Queue struct {
	MinDelaySeconds    int     `yaml:"min_delay_seconds"`
	MaxDelaySeconds    int     `yaml:"max_delay_seconds"`
	MentionBoostFactor float64 `yaml:"mention_boost_factor"` // 0..1 fraction of spacing kept for mention jobs
}

// Discovery contains content discovery engine settings
type Discovery struct {
	Enabled                bool     `yaml:"enabled"`
	IntervalMinutes        int      `yaml:"interval_minutes"`
	MaxSearchRounds        int      `yaml:"max_search_rounds"`
	MinQualityInteractions int      `yaml:"min_quality_interactions"`
	Topics                 []string `yaml:"topics"`
	FallbackTopics         []string `yaml:"fallback_topics"`
	RelevantKeywords       []string `yaml:"relevant_keywords"`
	MaxEventAgeHours       int      `yaml:"max_event_age_hours"`
	ReplyThreshold         float64  `yaml:"reply_threshold"`
	ThresholdFloor         float64  `yaml:"threshold_floor"`
	MaxFollowsPerRun       int      `yaml:"max_follows_per_run"`
	UserCooldownMinutes    int      `yaml:"user_cooldown_minutes"`
	TopicRepeatSkipPercent int      `yaml:"topic_repeat_skip_percent"`
	SearchLimitPerTopic    int      `yaml:"search_limit_per_topic"`
	DedupSeedWindowHours   int      `yaml:"dedup_seed_window_hours"`
	DedupSeedLimit         int      `yaml:"dedup_seed_limit"`
	HandledCacheSize       int      `yaml:"handled_cache_size"`
	RootEngageThreshold    float64  `yaml:"root_engage_threshold"`
	ReplyContextThreshold  float64  `yaml:"reply_context_threshold"`
	MaxThreadLength        int      `yaml:"max_thread_length"`
}

// HomeFeed contains home feed sampling settings
type HomeFeed struct {
	Enabled              bool `yaml:"enabled"`
	CheckIntervalMinutes int  `yaml:"check_interval_minutes"`
	SampleSize           int  `yaml:"sample_size"`
	ReactPercent         int  `yaml:"react_percent"`  // chance 0-100 of reacting to a sampled note
	RepostPercent        int  `yaml:"repost_percent"` // chance 0-100 of reposting instead
	QuotePercent         int  `yaml:"quote_percent"`  // chance 0-100 of quote reposting instead
}

// Governor contains interaction caps and the unfollow sweep
type Governor struct {
	MaxInteractionsPerUser int      `yaml:"max_interactions_per_user"`
	ResetIntervalHours     int      `yaml:"reset_interval_hours"`
	Unfollow               Unfollow `yaml:"unfollow"`
}

// Unfollow contains unfollow sweep settings
type Unfollow struct {
	Enabled          bool    `yaml:"enabled"`
	IntervalHours    int     `yaml:"interval_hours"`
	QualityThreshold float64 `yaml:"quality_threshold"`
	MinSampledPosts  int     `yaml:"min_sampled_posts"`
	BatchSize        int     `yaml:"batch_size"`
}

// Social contains social-graph cache TTLs
type Social struct {
	MuteTTLMinutes    int  `yaml:"mute_ttl_minutes"`
	ContactTTLMinutes int  `yaml:"contact_ttl_minutes"`
	MetricsTTLHours   int  `yaml:"metrics_ttl_hours"`
	UnfollowOnMute    bool `yaml:"unfollow_on_mute"`
}

// Storage contains local persistence settings
type Storage struct {
	Path                string `yaml:"path"`
	BackupDir           string `yaml:"backup_dir"` // empty disables backups
	BackupIntervalHours int    `yaml:"backup_interval_hours"`
	BackupRetentionDays int    `yaml:"backup_retention_days"`
}

// Generation contains text generation settings
type Generation struct {
	Model          string  `yaml:"model"`
	MaxRetries     int     `yaml:"max_retries"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, parses, validates and defaults a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills in zero values with sane defaults
func (c *Config) ApplyDefaults() {
	if c.Agent.Name == "" {
		c.Agent.Name = "nobo"
	}
	if c.Agent.PostIntervalMinutes <= 0 {
		c.Agent.PostIntervalMinutes = 240
	}

	if c.Relays.Policy.ConnectTimeoutMs <= 0 {
		c.Relays.Policy.ConnectTimeoutMs = 30000
	}
	if c.Relays.Policy.MaxConcurrentSubs <= 0 {
		c.Relays.Policy.MaxConcurrentSubs = 20
	}

	if c.Connection.HealthCheckSeconds <= 0 {
		c.Connection.HealthCheckSeconds = 60
	}
	if c.Connection.MaxEventGapSeconds <= 0 {
		c.Connection.MaxEventGapSeconds = 300
	}
	if c.Connection.ReconnectDelaySecond <= 0 {
		c.Connection.ReconnectDelaySecond = 5
	}
	if c.Connection.MaxReconnectAttempts <= 0 {
		c.Connection.MaxReconnectAttempts = 5
	}

	if c.Throttle.ReplySeconds <= 0 {
		c.Throttle.ReplySeconds = 300
	}
	if c.Throttle.DMSeconds <= 0 {
		c.Throttle.DMSeconds = 120
	}
	if c.Throttle.ZapThanksSeconds <= 0 {
		c.Throttle.ZapThanksSeconds = 600
	}

	if c.Queue.MinDelaySeconds <= 0 {
		c.Queue.MinDelaySeconds = 30
	}
	if c.Queue.MaxDelaySeconds <= c.Queue.MinDelaySeconds {
		c.Queue.MaxDelaySeconds = c.Queue.MinDelaySeconds + 60
	}
	if c.Queue.MentionBoostFactor <= 0 || c.Queue.MentionBoostFactor > 1 {
		c.Queue.MentionBoostFactor = 0.5
	}

	if c.Discovery.IntervalMinutes <= 0 {
		c.Discovery.IntervalMinutes = 120
	}
	if c.Discovery.MaxSearchRounds <= 0 {
		c.Discovery.MaxSearchRounds = 3
	}
	if c.Discovery.MinQualityInteractions <= 0 {
		c.Discovery.MinQualityInteractions = 2
	}
	if c.Discovery.MaxEventAgeHours <= 0 {
		c.Discovery.MaxEventAgeHours = 12
	}
	if c.Discovery.ReplyThreshold <= 0 {
		c.Discovery.ReplyThreshold = 0.55
	}
	if c.Discovery.ThresholdFloor <= 0 {
		c.Discovery.ThresholdFloor = 0.35
	}
	if c.Discovery.MaxFollowsPerRun <= 0 {
		c.Discovery.MaxFollowsPerRun = 3
	}
	if c.Discovery.UserCooldownMinutes <= 0 {
		c.Discovery.UserCooldownMinutes = 360
	}
	if c.Discovery.TopicRepeatSkipPercent <= 0 {
		c.Discovery.TopicRepeatSkipPercent = 60
	}
	if c.Discovery.SearchLimitPerTopic <= 0 {
		c.Discovery.SearchLimitPerTopic = 20
	}
	if c.Discovery.DedupSeedWindowHours <= 0 {
		c.Discovery.DedupSeedWindowHours = 72
	}
	if c.Discovery.DedupSeedLimit <= 0 {
		c.Discovery.DedupSeedLimit = 500
	}
	if c.Discovery.HandledCacheSize <= 0 {
		c.Discovery.HandledCacheSize = 10000
	}
	if c.Discovery.RootEngageThreshold <= 0 {
		c.Discovery.RootEngageThreshold = 0.6
	}
	if c.Discovery.ReplyContextThreshold <= 0 {
		c.Discovery.ReplyContextThreshold = 0.3
	}
	if c.Discovery.MaxThreadLength <= 0 {
		c.Discovery.MaxThreadLength = 5
	}

	if c.HomeFeed.CheckIntervalMinutes <= 0 {
		c.HomeFeed.CheckIntervalMinutes = 90
	}
	if c.HomeFeed.SampleSize <= 0 {
		c.HomeFeed.SampleSize = 25
	}
	if c.HomeFeed.ReactPercent <= 0 {
		c.HomeFeed.ReactPercent = 15
	}
	if c.HomeFeed.RepostPercent <= 0 {
		c.HomeFeed.RepostPercent = 5
	}
	if c.HomeFeed.QuotePercent <= 0 {
		c.HomeFeed.QuotePercent = 2
	}

	if c.Governor.MaxInteractionsPerUser <= 0 {
		c.Governor.MaxInteractionsPerUser = 2
	}
	if c.Governor.ResetIntervalHours <= 0 {
		c.Governor.ResetIntervalHours = 168 // weekly
	}
	if c.Governor.Unfollow.IntervalHours <= 0 {
		c.Governor.Unfollow.IntervalHours = 48
	}
	if c.Governor.Unfollow.QualityThreshold <= 0 {
		c.Governor.Unfollow.QualityThreshold = 0.25
	}
	if c.Governor.Unfollow.MinSampledPosts <= 0 {
		c.Governor.Unfollow.MinSampledPosts = 5
	}
	if c.Governor.Unfollow.BatchSize <= 0 {
		c.Governor.Unfollow.BatchSize = 3
	}

	if c.Social.MuteTTLMinutes <= 0 {
		c.Social.MuteTTLMinutes = 60
	}
	if c.Social.ContactTTLMinutes <= 0 {
		c.Social.ContactTTLMinutes = 30
	}
	if c.Social.MetricsTTLHours <= 0 {
		c.Social.MetricsTTLHours = 24
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "nobo.db"
	}
	if c.Storage.BackupIntervalHours <= 0 {
		c.Storage.BackupIntervalHours = 24
	}
	if c.Storage.BackupRetentionDays <= 0 {
		c.Storage.BackupRetentionDays = 7
	}

	if c.Generation.Model == "" {
		c.Generation.Model = "gpt-4o-mini"
	}
	if c.Generation.MaxRetries <= 0 {
		c.Generation.MaxRetries = 3
	}
	if c.Generation.TimeoutSeconds <= 0 {
		c.Generation.TimeoutSeconds = 45
	}
	if c.Generation.Temperature <= 0 {
		c.Generation.Temperature = 0.8
	}
	if c.Generation.MaxTokens <= 0 {
		c.Generation.MaxTokens = 400
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for fatal problems. A missing npub or
// empty relay list is not fatal here; the agent degrades to idle or
// listen-only and the caller logs a warning.
func (c *Config) Validate() error {
	if c.Identity.Npub != "" && !strings.HasPrefix(c.Identity.Npub, "npub1") {
		return fmt.Errorf("identity.npub must be a bech32 npub, got %q", c.Identity.Npub)
	}

	for _, seed := range c.Relays.Seeds {
		if !strings.HasPrefix(seed, "ws://") && !strings.HasPrefix(seed, "wss://") {
			return fmt.Errorf("relay seed %q must start with ws:// or wss://", seed)
		}
	}

	if c.Queue.MaxDelaySeconds < c.Queue.MinDelaySeconds {
		return fmt.Errorf("queue.max_delay_seconds (%d) < queue.min_delay_seconds (%d)",
			c.Queue.MaxDelaySeconds, c.Queue.MinDelaySeconds)
	}

	if c.Discovery.ThresholdFloor > c.Discovery.ReplyThreshold {
		return fmt.Errorf("discovery.threshold_floor (%.2f) > discovery.reply_threshold (%.2f)",
			c.Discovery.ThresholdFloor, c.Discovery.ReplyThreshold)
	}

	return nil
}

// ListenOnly reports whether the agent can only listen: it has no secret
// key so it cannot sign outbound events.
func (c *Config) ListenOnly() bool {
	return os.Getenv("NOBO_NSEC") == ""
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}
