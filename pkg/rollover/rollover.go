// Package rollover archives each calendar day's devices exactly once and resets
// the registry for the new day.
package rollover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/wattlog/wattlog/pkg/calendar"
	"github.com/wattlog/wattlog/pkg/config"
	"github.com/wattlog/wattlog/pkg/goals"
	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/metrics"
	"github.com/wattlog/wattlog/pkg/registry"
	"github.com/wattlog/wattlog/pkg/storage"
	"github.com/wattlog/wattlog/pkg/types"
)

// MaxInterval is the coarsest interval the scheduler ticks at.
const MaxInterval = time.Minute

// Action describes a pending rollover.
type Action struct {
	// CompletedDate is the date key the registry is archived under.
	CompletedDate string `json:"completedDate"`
	// NewDate is today's date key.
	NewDate string `json:"newDate"`
}

// CheckRollover returns the rollover due at now given the last processed date
// key, or nil when none is due. An empty lastProcessedDate means nothing was
// processed yet and never triggers a rollover.
func CheckRollover(now time.Time, lastProcessedDate string) *Action {
	if lastProcessedDate == "" {
		return nil
	}
	today := calendar.DateKey(now)
	// date keys sort chronologically
	if lastProcessedDate >= today {
		return nil
	}
	return &Action{
		CompletedDate: lastProcessedDate,
		NewDate:       today,
	}
}

// InferLastDate returns the date key of the latest device update, or "" when
// no device carries an update time.
func InferLastDate(devices map[string]types.Device, loc *time.Location) string {
	var latest time.Time
	for _, d := range devices {
		if d.UpdatedAt.After(latest) {
			latest = d.UpdatedAt
		}
	}
	if latest.IsZero() {
		return ""
	}
	return calendar.DateKey(latest.In(loc))
}

// DevicesOf returns the devices that belong to the day dateKey: those added
// and last changed on or before it. Devices without an update time are kept.
func DevicesOf(devices map[string]types.Device, dateKey string, loc *time.Location) map[string]types.Device {
	out := make(map[string]types.Device, len(devices))
	for id, d := range devices {
		if d.AddedDate > dateKey {
			continue
		}
		if !d.UpdatedAt.IsZero() && calendar.DateKey(d.UpdatedAt.In(loc)) > dateKey {
			continue
		}
		out[id] = d
	}
	return out
}

// Controller runs rollovers against the store.
type Controller struct {
	db       storage.Database
	cfg      *config.Config
	goals    *goals.Tracker
	clock    calendar.Clock
	interval time.Duration

	afterUser func(ctx context.Context, userID string)
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the default clock.
func WithClock(c calendar.Clock) Option {
	return func(ctrl *Controller) {
		if c != nil {
			ctrl.clock = c
		}
	}
}

// WithInterval sets the scheduler interval. It is capped at MaxInterval.
func WithInterval(d time.Duration) Option {
	return func(ctrl *Controller) {
		if d > 0 {
			ctrl.interval = min(d, MaxInterval)
		}
	}
}

// WithAfterUser registers fn to run after every user of a scheduler pass,
// whether or not a rollover happened.
func WithAfterUser(fn func(ctx context.Context, userID string)) Option {
	return func(ctrl *Controller) {
		ctrl.afterUser = fn
	}
}

// New returns a Controller.
func New(db storage.Database, cfg *config.Config, tracker *goals.Tracker, opts ...Option) *Controller {
	ctrl := &Controller{
		db:       db,
		cfg:      cfg,
		goals:    tracker,
		clock:    calendar.SystemClock{},
		interval: MaxInterval,
	}
	for _, opt := range opts {
		opt(ctrl)
	}
	return ctrl
}

// Configured returns a Controller whose interval comes from
// --rollover-interval.
func Configured(db storage.Database, cfg *config.Config, tracker *goals.Tracker) *Controller {
	interval := lflag.Duration("rollover-interval", MaxInterval, "How often every user is checked for a day change, at most 1m")

	ctrl := New(db, cfg, tracker)

	lflag.Do(func() {
		if *interval <= 0 {
			panic(fmt.Sprintf("invalid --rollover-interval: %s", *interval))
		}
		WithInterval(*interval)(ctrl)
	})

	return ctrl
}

// SetAfterUser registers the per-user hook of the scheduler.
func (c *Controller) SetAfterUser(fn func(ctx context.Context, userID string)) {
	c.afterUser = fn
}

// Interval returns the scheduler interval.
func (c *Controller) Interval() time.Duration {
	return c.interval
}

// Process runs the rollover for one user if one is due and returns it. A
// failed archive write leaves the registry untouched and the date unprocessed
// so the next call retries.
func (c *Controller) Process(ctx context.Context, userID string) (*Action, error) {
	ctx = log.WithUser(ctx, userID)
	now := c.clock.Now().In(c.cfg.Location)
	today := calendar.DateKey(now)

	last, err := c.db.GetLastProcessedDate(ctx, userID)
	if err != nil {
		metrics.IncStoreError("get_last_processed_date")
		return nil, fmt.Errorf("failed to get last processed date: %w", err)
	}

	devices, err := c.db.ReadDevices(ctx, userID)
	if err != nil {
		metrics.IncStoreError("read_devices")
		return nil, fmt.Errorf("failed to read devices: %w", err)
	}

	if last == "" {
		last = InferLastDate(devices, c.cfg.Location)
		log.Ctx(ctx).DebugContext(ctx, "inferred last processed date from devices", slog.String("date", last))
		if last == "" || last >= today {
			// first run for this user, today is the day being tracked
			if err := c.db.SetLastProcessedDate(ctx, userID, today); err != nil {
				metrics.IncStoreError("set_last_processed_date")
				return nil, fmt.Errorf("failed to set last processed date: %w", err)
			}
			return nil, nil
		}
	}

	action := CheckRollover(now, last)
	if action == nil {
		return nil, nil
	}

	start := time.Now()
	result, err := c.apply(ctx, userID, *action, devices, now)
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveRollover(result, time.Since(start))
	if err != nil {
		return nil, err
	}
	return action, nil
}

func (c *Controller) apply(ctx context.Context, userID string, action Action, devices map[string]types.Device, now time.Time) (string, error) {
	result := metrics.ResultSuccess

	// 1. Archive the completed day
	completed, err := calendar.ParseDateKey(action.CompletedDate, c.cfg.Location)
	if err != nil {
		return result, fmt.Errorf("invalid last processed date: %w", err)
	}
	entry := types.ArchiveEntry{
		Devices:     registry.Stamp(DevicesOf(devices, action.CompletedDate, c.cfg.Location)),
		Timestamp:   now,
		DisplayDate: calendar.DisplayDate(completed),
	}
	err = c.db.CreateArchiveEntry(ctx, userID, action.CompletedDate, entry)
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		// the day's entry came from write-through or an earlier attempt and is
		// kept. Devices it never saw are added without touching the others.
		result = metrics.ResultSkipped
		if err := c.complete(ctx, userID, action.CompletedDate, entry.Devices, now); err != nil {
			metrics.IncStoreError("complete_archive")
			log.Ctx(ctx).ErrorContext(ctx, "failed to reset registry, archive write failed", slog.String("date", action.CompletedDate), slog.Any("error", err))
			return result, fmt.Errorf("failed to complete archive entry %s: %w", action.CompletedDate, err)
		}
	case err != nil:
		metrics.IncStoreError("create_archive_entry")
		log.Ctx(ctx).ErrorContext(ctx, "failed to reset registry, archive write failed", slog.String("date", action.CompletedDate), slog.Any("error", err))
		return result, fmt.Errorf("failed to archive %s: %w", action.CompletedDate, err)
	}
	log.Ctx(ctx).InfoContext(ctx, "archived day", slog.String("date", action.CompletedDate), slog.Int("devices", len(entry.Devices)), slog.String("result", result))

	// 2. Reset the registry for the new day. Devices changed today already
	// belong to it.
	today := calendar.StartOfDay(now)
	settings := c.cfg.Settings(ctx, c.db, userID)
	switch settings.ResetPolicy {
	case types.ResetPolicyZeroUsage:
		err = c.db.ResetDailyUsage(ctx, userID, today)
	default:
		err = c.db.ClearDevices(ctx, userID, today)
	}
	if err != nil {
		metrics.IncStoreError("reset_registry")
		return result, fmt.Errorf("failed to reset registry (%s): %w", settings.ResetPolicy, err)
	}

	// 3. Expire goals
	if c.goals != nil {
		if _, err := c.goals.Expire(ctx, userID); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to expire goals", slog.Any("error", err))
		}
	}

	// 4. Remember the day
	if err := c.db.SetLastProcessedDate(ctx, userID, action.NewDate); err != nil {
		metrics.IncStoreError("set_last_processed_date")
		return result, fmt.Errorf("failed to set last processed date: %w", err)
	}
	return result, nil
}

// complete adds the devices an existing entry does not know about.
func (c *Controller) complete(ctx context.Context, userID, dateKey string, devices map[string]types.Device, now time.Time) error {
	return c.db.UpdateArchiveEntry(ctx, userID, dateKey, func(e *types.ArchiveEntry) bool {
		var added bool
		if e.Devices == nil {
			e.Devices = make(map[string]types.Device, len(devices))
		}
		for id, d := range devices {
			if _, ok := e.Devices[id]; ok {
				continue
			}
			e.Devices[id] = d
			added = true
		}
		if added {
			e.Timestamp = now
		}
		return added
	})
}

// Run processes every known user immediately and then on every tick until ctx
// is done.
func (c *Controller) Run(ctx context.Context) error {
	log.Ctx(ctx).InfoContext(ctx, "starting rollover scheduler", slog.Duration("interval", c.interval))
	c.tick(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// CatchUp runs a pending rollover for the user. It is meant to run before the
// registry changes so the completed day is archived first.
func (c *Controller) CatchUp(ctx context.Context, userID string) error {
	action, err := c.Process(ctx, userID)
	if err != nil {
		return err
	}
	if action != nil {
		log.Ctx(ctx).InfoContext(ctx, "rolled over before device change", slog.String("userID", userID), slog.String("completedDate", action.CompletedDate))
	}
	return nil
}

// RunOnce processes every known user once.
func (c *Controller) RunOnce(ctx context.Context) {
	c.tick(ctx)
}

func (c *Controller) tick(ctx context.Context) {
	userIDs, err := c.db.ListUserIDs(ctx)
	if err != nil {
		metrics.IncStoreError("list_users")
		log.Ctx(ctx).ErrorContext(ctx, "failed to list users", slog.Any("error", err))
		return
	}
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return
		}
		action, err := c.Process(ctx, userID)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "rollover failed, retrying next tick", slog.String("userID", userID), slog.Any("error", err))
		} else if action != nil {
			log.Ctx(ctx).InfoContext(ctx, "rolled over", slog.String("userID", userID), slog.String("completedDate", action.CompletedDate), slog.String("newDate", action.NewDate))
		}
		if c.afterUser != nil {
			c.afterUser(ctx, userID)
		}
	}
}
