package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/estatedir/internal/syncer"
	"github.com/charlesng35/estatedir/pkg/logger"
)

const (
	defaultRetention   = 7 * 24 * time.Hour
	defaultSessionSpec = "@hourly"
	defaultCacheSpec   = "@every 15m"
	defaultRetrySpec   = "@every 5m"
	defaultCompactSpec = "@daily"
)

// SessionCleaner removes expired or revoked sessions.
type SessionCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// CacheCleaner removes expired cache entries.
type CacheCleaner interface {
	ClearExpired(ctx context.Context) (int, error)
}

// StorePurger drops expired keys left in the cache backend by other writers, such as rate
// limit counters and session cache entries.
type StorePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// SyncRunner replays queued actions.
type SyncRunner interface {
	SyncNow(ctx context.Context) syncer.Result
}

// Compactor deletes processed actions older than a cutoff.
type Compactor interface {
	CompactProcessed(ctx context.Context, olderThan time.Time) (int64, error)
}

// Dependencies lists the services the Cleaner drives. A nil dependency skips its job.
type Dependencies struct {
	Sessions  SessionCleaner
	Cache     CacheCleaner
	Store     StorePurger
	Sync      SyncRunner
	Compactor Compactor
}

// Cleaner coordinates background maintenance: purging expired sessions and cache entries,
// retrying the sync queue while the host is reachable, and compacting replayed actions.
type Cleaner struct {
	deps      Dependencies
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention time.Duration

	sessionSchedule string
	cacheSchedule   string
	retrySchedule   string
	compactSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for retention cutoffs.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithRetention sets how long processed actions are kept.
func WithRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.retention = d
		}
	}
}

// WithSessionSchedule overrides the cron specification for session cleanup.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache expiry.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// WithRetrySchedule overrides the cron specification for sync retries.
func WithRetrySchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.retrySchedule = spec
		}
	}
}

// WithCompactSchedule overrides the cron specification for action compaction.
func WithCompactSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.compactSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(deps Dependencies, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		deps:            deps,
		now:             time.Now,
		retention:       defaultRetention,
		sessionSchedule: defaultSessionSpec,
		cacheSchedule:   defaultCacheSpec,
		retrySchedule:   defaultRetrySpec,
		compactSchedule: defaultCompactSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the enabled jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	jobs := 0
	add := func(enabled bool, spec string, job func(context.Context) error, name string) error {
		if !enabled {
			return nil
		}
		jobs++
		_, err := c.cron.AddFunc(spec, func() {
			if err := job(context.Background()); err != nil {
				c.log.Warn(name+" failed", zap.Error(err))
			}
		})
		return err
	}

	if err := multierr.Combine(
		add(c.deps.Sessions != nil, c.sessionSchedule, c.cleanupSessions, "session cleanup"),
		add(c.deps.Cache != nil || c.deps.Store != nil, c.cacheSchedule, c.clearCache, "cache expiry"),
		add(c.deps.Sync != nil, c.retrySchedule, c.retrySync, "sync retry"),
		add(c.deps.Compactor != nil, c.compactSchedule, c.compactActions, "action compaction"),
	); err != nil {
		return err
	}

	if jobs > 0 {
		c.cron.Start()
	}
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes the cleanup routines sequentially. Sync retries are left to the
// scheduler. Used in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.deps.Sessions != nil {
		errs = multierr.Append(errs, c.cleanupSessions(ctx))
	}
	if c.deps.Cache != nil || c.deps.Store != nil {
		errs = multierr.Append(errs, c.clearCache(ctx))
	}
	if c.deps.Compactor != nil {
		errs = multierr.Append(errs, c.compactActions(ctx))
	}
	return errs
}

func (c *Cleaner) cleanupSessions(ctx context.Context) error {
	removed, err := c.deps.Sessions.CleanupExpired(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Debug("expired sessions removed", zap.Int64("count", removed))
	}
	return nil
}

func (c *Cleaner) clearCache(ctx context.Context) error {
	var errs error
	if c.deps.Cache != nil {
		cleared, err := c.deps.Cache.ClearExpired(ctx)
		errs = multierr.Append(errs, err)
		if cleared > 0 {
			c.log.Debug("expired cache entries cleared", zap.Int("count", cleared))
		}
	}
	if c.deps.Store != nil {
		purged, err := c.deps.Store.PurgeExpired(ctx)
		errs = multierr.Append(errs, err)
		if purged > 0 {
			c.log.Debug("expired store keys purged", zap.Int64("count", purged))
		}
	}
	return errs
}

func (c *Cleaner) retrySync(ctx context.Context) error {
	result := c.deps.Sync.SyncNow(ctx)
	if !result.Skipped && (result.Processed > 0 || result.Failed > 0) {
		c.log.Info("scheduled sync pass",
			zap.Int("processed", result.Processed),
			zap.Int("failed", result.Failed),
		)
	}
	return nil
}

func (c *Cleaner) compactActions(ctx context.Context) error {
	cutoff := c.now().Add(-c.retention)
	removed, err := c.deps.Compactor.CompactProcessed(ctx, cutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Info("processed actions compacted", zap.Int64("count", removed), zap.Time("cutoff", cutoff))
	}
	return nil
}
