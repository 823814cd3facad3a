// Package monitor re-runs aggregation and goal evaluation whenever a user's
// devices or goals change.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/wattlog/wattlog/pkg/aggregate"
	"github.com/wattlog/wattlog/pkg/calc"
	"github.com/wattlog/wattlog/pkg/calendar"
	"github.com/wattlog/wattlog/pkg/config"
	"github.com/wattlog/wattlog/pkg/goals"
	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/metrics"
	"github.com/wattlog/wattlog/pkg/notify"
	"github.com/wattlog/wattlog/pkg/storage"
	"github.com/wattlog/wattlog/pkg/types"
)

// GoalStatus is a goal with its live progress.
type GoalStatus struct {
	Goal     types.Goal    `json:"goal"`
	Progress goals.Summary `json:"progress"`
}

// Status is the outcome of one evaluation pass.
type Status struct {
	Settings types.Settings                           `json:"settings"`
	Results  map[types.Period]types.AggregationResult `json:"results"`
	Goals    []GoalStatus                             `json:"goals"`
}

// Monitor evaluates goals and the daily consumption alert.
type Monitor struct {
	db       storage.Database
	cfg      *config.Config
	agg      *aggregate.Aggregator
	tracker  *goals.Tracker
	notifier notify.Notifier
	clock    calendar.Clock

	mu sync.Mutex
	// alerted holds the date key of the last consumption alert per user
	alerted  map[string]string
	watching map[string]storage.Subscription
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the default clock.
func WithClock(c calendar.Clock) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// New returns a Monitor.
func New(db storage.Database, cfg *config.Config, agg *aggregate.Aggregator, tracker *goals.Tracker, notifier notify.Notifier, opts ...Option) *Monitor {
	m := &Monitor{
		db:       db,
		cfg:      cfg,
		agg:      agg,
		tracker:  tracker,
		notifier: notifier,
		clock:    calendar.SystemClock{},
		alerted:  map[string]string{},
		watching: map[string]storage.Subscription{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Evaluate aggregates the user's data for the daily period and every goal's
// period, checks each goal and the consumption alert. Read failures degrade to
// zero values; only goal or settings reads that fail entirely are returned.
func (m *Monitor) Evaluate(ctx context.Context, userID string) (Status, error) {
	settings := m.cfg.Settings(ctx, m.db, userID)

	active, err := m.db.ReadGoals(ctx, userID)
	if err != nil {
		metrics.IncStoreError("read_goals")
		log.Ctx(ctx).ErrorContext(ctx, "failed to read goals", slog.String("userID", userID), slog.Any("error", err))
		return Status{}, fmt.Errorf("failed to read goals: %w", err)
	}

	agg := m.agg.WithRates(calc.RatesFromSettings(settings))
	periods := []types.Period{types.PeriodDaily}
	for _, g := range active {
		if g.Period.Valid() {
			periods = append(periods, g.Period)
		}
	}
	snap, err := agg.LoadSnapshot(ctx, m.db, userID, periods...)
	if err != nil {
		return Status{}, err
	}

	status := Status{
		Settings: settings,
		Results:  map[types.Period]types.AggregationResult{},
		Goals:    make([]GoalStatus, 0, len(active)),
	}
	for _, p := range periods {
		if _, ok := status.Results[p]; ok {
			continue
		}
		res, err := agg.ComputeSeries(p, snap.Devices, snap.Archive)
		if err != nil {
			return Status{}, err
		}
		status.Results[p] = res
	}

	ids := make([]string, 0, len(active))
	for id := range active {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	rates := calc.RatesFromSettings(settings)
	for _, id := range ids {
		g := active[id]
		var live *types.AggregationResult
		if res, ok := status.Results[g.Period]; ok {
			live = &res
		}
		ev, err := m.tracker.Check(ctx, userID, g, live)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to check goal", slog.String("userID", userID), slog.String("goalID", id), slog.Any("error", err))
			errs = append(errs, err)
		}
		status.Goals = append(status.Goals, GoalStatus{
			Goal:     g,
			Progress: goals.Summarize(g, ev, rates),
		})
	}

	m.checkConsumption(ctx, userID, settings, status.Results[types.PeriodDaily])

	return status, errors.Join(errs...)
}

// checkConsumption sends the high consumption notification at most once per
// user and day.
func (m *Monitor) checkConsumption(ctx context.Context, userID string, settings types.Settings, daily types.AggregationResult) {
	threshold := settings.DailyAlertKWh
	if threshold <= 0 {
		return
	}
	total := daily.Totals.ConsumptionKWh
	if total < threshold {
		return
	}
	today := calendar.DateKey(m.clock.Now().In(m.cfg.Location))

	m.mu.Lock()
	if m.alerted[userID] == today {
		m.mu.Unlock()
		return
	}
	m.alerted[userID] = today
	m.mu.Unlock()

	m.notifier.Notify(ctx, userID, notify.Notification{
		Kind:  notify.KindHighConsumption,
		Title: "High Consumption",
		Body:  fmt.Sprintf("Today's consumption reached %.2f kWh, above your %.2f kWh limit.", calc.Round2(total), threshold),
	})
	metrics.IncNotification(string(notify.KindHighConsumption))
}

type watch struct {
	cancel context.CancelFunc
	subs   []storage.Subscription
	done   chan struct{}
	once   sync.Once
}

// Stop ends the watch and waits for a running evaluation to finish.
func (w *watch) Stop() {
	w.once.Do(func() {
		w.cancel()
		for _, s := range w.subs {
			s.Stop()
		}
		<-w.done
	})
}

// Watch evaluates the user every time the devices or goals change until the
// returned subscription is stopped or ctx is done. Changes arriving during an
// evaluation are coalesced into one more pass.
func (m *Monitor) Watch(ctx context.Context, userID string) (storage.Subscription, error) {
	ctx, cancel := context.WithCancel(log.WithUser(ctx, userID))
	trigger := make(chan struct{}, 1)
	poke := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	devSub, err := m.db.SubscribeDevices(ctx, userID, func(map[string]types.Device) { poke() })
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to devices: %w", err)
	}
	goalSub, err := m.db.SubscribeGoals(ctx, userID, func(map[string]types.Goal) { poke() })
	if err != nil {
		devSub.Stop()
		cancel()
		return nil, fmt.Errorf("failed to subscribe to goals: %w", err)
	}

	w := &watch{
		cancel: cancel,
		subs:   []storage.Subscription{devSub, goalSub},
		done:   make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-trigger:
				if _, err := m.Evaluate(ctx, userID); err != nil && ctx.Err() == nil {
					log.Ctx(ctx).WarnContext(ctx, "evaluation after change failed", slog.String("userID", userID), slog.Any("error", err))
				}
			}
		}
	}()
	return w, nil
}

// Track starts watching the user unless it is already watched. The watch
// lives until ctx is done.
func (m *Monitor) Track(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watching[userID]; ok {
		return nil
	}
	sub, err := m.Watch(ctx, userID)
	if err != nil {
		return err
	}
	m.watching[userID] = sub
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watching, userID)
		m.mu.Unlock()
	}()
	return nil
}

// AfterRollover is the scheduler hook: it makes sure the user is watched and
// evaluates the user once so day changes are reflected without a store change.
func (m *Monitor) AfterRollover(ctx context.Context, userID string) {
	if err := m.Track(ctx, userID); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to watch user", slog.String("userID", userID), slog.Any("error", err))
	}
	if _, err := m.Evaluate(ctx, userID); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to evaluate user", slog.String("userID", userID), slog.Any("error", err))
	}
}

// StopAll stops every watch started by Track.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	subs := make([]storage.Subscription, 0, len(m.watching))
	for id, sub := range m.watching {
		subs = append(subs, sub)
		delete(m.watching, id)
	}
	m.mu.Unlock()
	for _, sub := range subs {
		sub.Stop()
	}
}
