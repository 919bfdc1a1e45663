package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vbonduro/critterkeep/internal/domain"
	"github.com/vbonduro/critterkeep/internal/store"
)

const DefaultInterval = 7 * 24 * time.Hour

// familySource is the subset of catalog.Client the coordinator pulls from.
type familySource interface {
	Families(ctx context.Context) ([]domain.Family, error)
}

// familyCache is the subset of store.FamilyStore the coordinator writes to.
type familyCache interface {
	ReplaceAll(ctx context.Context, families []domain.Family) error
}

// settingsRepository is the subset of store.SettingsStore used for sync
// bookkeeping.
type settingsRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	GetTime(ctx context.Context, key string) (*time.Time, error)
	SetTime(ctx context.Context, key string, t time.Time) error
}

type Status string

const (
	StatusSynced     Status = "synced"
	StatusSkipped    Status = "skipped"
	StatusInProgress Status = "in_progress"
)

type Result struct {
	Status   Status
	Families int
	SyncedAt time.Time
}

// SyncStatus is what a settings screen shows about the family cache.
type SyncStatus struct {
	LastSyncAt *time.Time
	LastError  string
	InProgress bool
	Due        bool
}

// NeedsSync reports whether a cache last synced at lastSyncAt is stale.
// A cache that was never synced always needs one.
func NeedsSync(lastSyncAt *time.Time, interval time.Duration, now time.Time) bool {
	if lastSyncAt == nil {
		return true
	}
	return now.Sub(*lastSyncAt) >= interval
}

// Coordinator refreshes the family cache from the catalog. At most one sync
// runs at a time; a failed sync leaves the previous cache in place.
type Coordinator struct {
	source   familySource
	families familyCache
	settings settingsRepository
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	running atomic.Bool
}

func NewCoordinator(source familySource, families familyCache, settings settingsRepository, interval time.Duration, logger *slog.Logger) *Coordinator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coordinator{
		source:   source,
		families: families,
		settings: settings,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// SyncFamilies fetches all families and replaces the cache with them. Unless
// force is set, a fresh cache is left alone. A call made while another sync
// is running returns StatusInProgress without doing anything.
func (c *Coordinator) SyncFamilies(ctx context.Context, force bool) (Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Debug("family sync already running")
		return Result{Status: StatusInProgress}, nil
	}
	defer c.running.Store(false)

	if !force {
		last, err := c.settings.GetTime(ctx, store.SettingLastFamilySync)
		if err != nil {
			return Result{}, fmt.Errorf("failed to read last sync time: %w", err)
		}
		if !NeedsSync(last, c.interval, c.now()) {
			return Result{Status: StatusSkipped, SyncedAt: *last}, nil
		}
	}

	c.logger.Info("family sync started", "force", force)
	families, err := c.source.Families(ctx)
	if err != nil {
		c.recordFailure(ctx, err)
		return Result{}, fmt.Errorf("failed to fetch families: %w", err)
	}

	if err := c.families.ReplaceAll(ctx, families); err != nil {
		c.recordFailure(ctx, err)
		return Result{}, fmt.Errorf("failed to replace families: %w", err)
	}

	now := c.now().UTC()
	if err := c.settings.SetTime(ctx, store.SettingLastFamilySync, now); err != nil {
		return Result{}, fmt.Errorf("failed to record sync time: %w", err)
	}
	if err := c.settings.Delete(ctx, store.SettingLastSyncError); err != nil {
		c.logger.Error("failed to clear last sync error", "error", err)
	}

	c.logger.Info("family sync complete", "families", len(families))
	return Result{Status: StatusSynced, Families: len(families), SyncedAt: now}, nil
}

// Status reports the last sync time and error.
func (c *Coordinator) Status(ctx context.Context) (*SyncStatus, error) {
	last, err := c.settings.GetTime(ctx, store.SettingLastFamilySync)
	if err != nil {
		return nil, fmt.Errorf("failed to read last sync time: %w", err)
	}
	lastErr, _, err := c.settings.Get(ctx, store.SettingLastSyncError)
	if err != nil {
		return nil, fmt.Errorf("failed to read last sync error: %w", err)
	}
	return &SyncStatus{
		LastSyncAt: last,
		LastError:  lastErr,
		InProgress: c.running.Load(),
		Due:        NeedsSync(last, c.interval, c.now()),
	}, nil
}

// Run syncs once if the cache is stale and then re-checks every tick until
// ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	c.logger.Info("family sync scheduler started", "every", every, "interval", c.interval)
	for {
		c.runOnce(ctx)
		select {
		case <-ctx.Done():
			c.logger.Info("family sync scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) runOnce(ctx context.Context) {
	result, err := c.SyncFamilies(ctx, false)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("scheduled family sync failed", "error", err)
		}
		return
	}
	c.logger.Debug("scheduled family sync", "status", result.Status, "families", result.Families)
}

// recordFailure stores err as the last sync error. Cancellation by the
// caller is not a sync failure.
func (c *Coordinator) recordFailure(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	c.logger.Error("family sync failed", "error", err)
	if serr := c.settings.Set(context.WithoutCancel(ctx), store.SettingLastSyncError, err.Error()); serr != nil {
		c.logger.Error("failed to record sync error", "error", serr)
	}
}
