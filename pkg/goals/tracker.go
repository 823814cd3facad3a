package goals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/wattlog/wattlog/pkg/calendar"
	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/metrics"
	"github.com/wattlog/wattlog/pkg/notify"
	"github.com/wattlog/wattlog/pkg/types"
)

// Store is the part of the store the tracker needs.
type Store interface {
	ReadGoals(ctx context.Context, userID string) (map[string]types.Goal, error)
	CreateGoal(ctx context.Context, userID string, goal types.Goal) (types.Goal, error)
	UpdateGoal(ctx context.Context, userID, goalID string, update types.GoalUpdate) error
	DeleteGoal(ctx context.Context, userID, goalID string) error
	ArchiveGoal(ctx context.Context, userID string, goal types.Goal) error
}

// Tracker persists goal state and sends the warning notifications.
type Tracker struct {
	store     Store
	notifier  notify.Notifier
	clock     calendar.Clock
	threshold float64

	mu sync.Mutex
	// latched remembers warnings sent by this process so a stale goal snapshot
	// can not trigger a second notification.
	latched map[string]bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the default clock.
func WithClock(c calendar.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithThreshold overrides the warning threshold.
func WithThreshold(threshold float64) Option {
	return func(t *Tracker) {
		if threshold > 0 {
			t.threshold = threshold
		}
	}
}

// NewTracker returns a Tracker.
func NewTracker(store Store, notifier notify.Notifier, opts ...Option) *Tracker {
	t := &Tracker{
		store:     store,
		notifier:  notifier,
		clock:     calendar.SystemClock{},
		threshold: DefaultWarningThreshold,
		latched:   map[string]bool{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Configured returns a Tracker whose threshold comes from
// --goal-warning-threshold.
func Configured(store Store, notifier notify.Notifier) *Tracker {
	threshold := lflag.String("goal-warning-threshold", "0.8", "Share of a goal's target at which the warning is sent")

	t := NewTracker(store, notifier)

	lflag.Do(func() {
		v, err := strconv.ParseFloat(*threshold, 64)
		if err != nil || v <= 0 || v > 1 {
			panic(fmt.Sprintf("invalid --goal-warning-threshold: %s", *threshold))
		}
		t.threshold = v
	})

	return t
}

// Threshold returns the warning threshold.
func (t *Tracker) Threshold() float64 {
	return t.threshold
}

func latchKey(userID, goalID string) string {
	return userID + "/" + goalID
}

// Check evaluates goal against live and applies the transition. The latch is
// persisted before the notification is sent so a failed write never leads to
// a repeated notification.
func (t *Tracker) Check(ctx context.Context, userID string, goal types.Goal, live *types.AggregationResult) (Evaluation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := latchKey(userID, goal.ID)
	if t.latched[key] {
		goal.Notified = true
	}
	ev := Evaluate(goal, live, t.threshold)

	current := ev.Current
	switch {
	case ev.ShouldNotify:
		notified := true
		now := t.clock.Now()
		err := t.store.UpdateGoal(ctx, userID, goal.ID, types.GoalUpdate{
			Current:              &current,
			Notified:             &notified,
			LastNotifiedAt:       &current,
			LastNotificationTime: &now,
		})
		if err != nil {
			metrics.IncStoreError("update_goal")
			return ev, fmt.Errorf("failed to latch goal %s: %w", goal.ID, err)
		}
		t.latched[key] = true
		t.notifier.Notify(ctx, userID, notify.Notification{
			Kind:  notify.KindGoalWarning,
			Title: "Goal Warning",
			Body:  warningBody(goal, ev),
		})
		metrics.IncNotification(string(notify.KindGoalWarning))
		log.Ctx(ctx).InfoContext(ctx, "goal warning sent", slog.String("userID", userID), slog.String("goalID", goal.ID), slog.Float64("progress", ev.Progress))

	case ev.ShouldClear:
		notified := false
		err := t.store.UpdateGoal(ctx, userID, goal.ID, types.GoalUpdate{
			Current:           &current,
			Notified:          &notified,
			ClearNotification: true,
		})
		if err != nil {
			metrics.IncStoreError("update_goal")
			return ev, fmt.Errorf("failed to clear goal %s: %w", goal.ID, err)
		}
		delete(t.latched, key)
		log.Ctx(ctx).DebugContext(ctx, "goal warning cleared", slog.String("userID", userID), slog.String("goalID", goal.ID))

	case ev.Live && math.Abs(current-goal.Current) > 1e-9:
		if err := t.store.UpdateGoal(ctx, userID, goal.ID, types.GoalUpdate{Current: &current}); err != nil {
			metrics.IncStoreError("update_goal")
			return ev, fmt.Errorf("failed to update goal %s: %w", goal.ID, err)
		}
	}
	return ev, nil
}

// Create validates and stores a new goal.
func (t *Tracker) Create(ctx context.Context, userID string, goal types.Goal) (types.Goal, error) {
	if err := Validate(goal); err != nil {
		return types.Goal{}, err
	}
	goal.ID = ""
	goal.Current = 0
	goal.Notified = false
	goal.LastNotifiedAt = nil
	goal.LastNotificationTime = nil
	goal.ExpiredAt = nil
	goal.CreatedAt = t.clock.Now()
	created, err := t.store.CreateGoal(ctx, userID, goal)
	if err != nil {
		return types.Goal{}, fmt.Errorf("failed to create goal: %w", err)
	}
	return created, nil
}

// Delete removes an active goal.
func (t *Tracker) Delete(ctx context.Context, userID, goalID string) error {
	if err := t.store.DeleteGoal(ctx, userID, goalID); err != nil {
		return fmt.Errorf("failed to delete goal: %w", err)
	}
	t.mu.Lock()
	delete(t.latched, latchKey(userID, goalID))
	t.mu.Unlock()
	return nil
}

// Expired reports whether the goal outlived its period at now.
func Expired(goal types.Goal, now time.Time) bool {
	if goal.CreatedAt.IsZero() || !goal.Period.Valid() {
		return false
	}
	return now.Sub(goal.CreatedAt) > goal.Period.Lifetime()
}

// Expire moves every goal that outlived its period into the goal archive and
// returns how many were moved. A failure on one goal does not stop the others.
func (t *Tracker) Expire(ctx context.Context, userID string) (int, error) {
	goals, err := t.store.ReadGoals(ctx, userID)
	if err != nil {
		metrics.IncStoreError("read_goals")
		return 0, fmt.Errorf("failed to read goals: %w", err)
	}

	now := t.clock.Now()
	var errs []error
	var moved int
	for _, g := range goals {
		if !Expired(g, now) {
			continue
		}
		expiredAt := now
		g.ExpiredAt = &expiredAt
		if err := t.store.ArchiveGoal(ctx, userID, g); err != nil {
			metrics.IncStoreError("archive_goal")
			log.Ctx(ctx).ErrorContext(ctx, "failed to archive expired goal", slog.String("userID", userID), slog.String("goalID", g.ID), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		moved++
		t.mu.Lock()
		delete(t.latched, latchKey(userID, g.ID))
		t.mu.Unlock()
	}
	metrics.IncGoalsExpired(moved)
	if moved > 0 {
		log.Ctx(ctx).InfoContext(ctx, "archived expired goals", slog.String("userID", userID), slog.Int("count", moved))
	}
	return moved, errors.Join(errs...)
}
