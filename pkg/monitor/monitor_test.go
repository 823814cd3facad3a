package monitor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wattlog/wattlog/pkg/aggregate"
	"github.com/wattlog/wattlog/pkg/calc"
	"github.com/wattlog/wattlog/pkg/calendar"
	"github.com/wattlog/wattlog/pkg/config"
	"github.com/wattlog/wattlog/pkg/goals"
	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/notify"
	"github.com/wattlog/wattlog/pkg/storage"
	"github.com/wattlog/wattlog/pkg/storage/storagemock"
	"github.com/wattlog/wattlog/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

var now = time.Date(2024, 1, 3, 15, 0, 0, 0, time.UTC)

type fixture struct {
	db  *storage.MemoryProvider
	rec *notify.Recorder
	mon *Monitor
	tr  *goals.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Location = time.UTC
	clock := calendar.FixedClock(now)

	db := storage.NewMemoryProvider()
	rec := &notify.Recorder{}
	tr := goals.NewTracker(db, rec, goals.WithClock(clock))
	agg := aggregate.New(cfg.Rates(), aggregate.WithClock(clock), aggregate.WithLocation(time.UTC))
	return &fixture{
		db:  db,
		rec: rec,
		tr:  tr,
		mon: New(db, cfg, agg, tr, rec, WithClock(clock)),
	}
}

func (f *fixture) putDevice(t *testing.T, id string, watts, hours float64) {
	t.Helper()
	_, err := f.db.PutDevice(context.Background(), "u1", types.Device{
		ID:              id,
		Name:            id,
		Type:            types.DeviceTypeHomeAppliance,
		PowerWatts:      types.Quantity(watts),
		DailyUsageHours: types.Quantity(hours),
	})
	require.NoError(t, err)
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	daily, err := f.tr.Create(ctx, "u1", types.Goal{Title: "Daily cap", Target: 10, Period: types.PeriodDaily})
	require.NoError(t, err)
	monthly, err := f.tr.Create(ctx, "u1", types.Goal{Title: "Monthly cap", Target: 100, Period: types.PeriodMonthly})
	require.NoError(t, err)
	require.NoError(t, f.db.WriteArchiveEntry(ctx, "u1", "20240102", types.ArchiveEntry{
		Devices: map[string]types.Device{"old": {ID: "old", PowerWatts: 1000, DailyUsageHours: 20}},
	}))

	f.putDevice(t, "oven", 3000, 2)
	status, err := f.mon.Evaluate(ctx, "u1")
	require.NoError(t, err)

	assert.Contains(t, status.Results, types.PeriodDaily)
	assert.Contains(t, status.Results, types.PeriodMonthly)
	assert.NotContains(t, status.Results, types.PeriodWeekly)
	assert.InDelta(t, 6.0, status.Results[types.PeriodDaily].Totals.ConsumptionKWh, 1e-9)
	assert.InDelta(t, 20.0, status.Results[types.PeriodMonthly].Totals.ConsumptionKWh, 1e-9)

	require.Len(t, status.Goals, 2)
	byID := map[string]GoalStatus{}
	for _, gs := range status.Goals {
		byID[gs.Goal.ID] = gs
	}
	assert.InDelta(t, 60.0, byID[daily.ID].Progress.ProgressPercent, 1e-9)
	assert.InDelta(t, 4.0, byID[daily.ID].Progress.RemainingKWh, 1e-9)
	assert.InDelta(t, 10.0, byID[daily.ID].Progress.RemainingCost, 1e-9)
	assert.InDelta(t, 20.0, byID[monthly.ID].Progress.ProgressPercent, 1e-9)
	assert.Empty(t, f.rec.Sent())

	stored, err := f.db.ReadGoals(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 6.0, stored[daily.ID].Current, 1e-9)

	f.putDevice(t, "dryer", 2500, 1)
	_, err = f.mon.Evaluate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.rec.Count(notify.KindGoalWarning))
	assert.Equal(t, 0, f.rec.Count(notify.KindHighConsumption), "8.5 kWh is below the 10 kWh alert")
}

func TestEvaluateUsesUserRates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.db.SetSettings(ctx, "u1", types.Settings{PricePerKWh: 1.5, CO2FactorPerKWh: 0.52}, types.CurrentSettingsVersion))
	f.putDevice(t, "oven", 1000, 2)

	status, err := f.mon.Evaluate(ctx, "u1")
	require.NoError(t, err)
	totals := status.Results[types.PeriodDaily].Totals
	assert.InDelta(t, 3.0, totals.Cost, 1e-9)
	assert.InDelta(t, 1.04, totals.CO2Kg, 1e-9)
	assert.Equal(t, types.ResetPolicyClear, status.Settings.ResetPolicy)
}

func TestConsumptionAlert(t *testing.T) {
	ctx := context.Background()

	t.Run("once per day", func(t *testing.T) {
		f := newFixture(t)
		f.putDevice(t, "heater", 2000, 6)
		_, err := f.mon.Evaluate(ctx, "u1")
		require.NoError(t, err)
		_, err = f.mon.Evaluate(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, 1, f.rec.Count(notify.KindHighConsumption))
		assert.Equal(t, "High Consumption", f.rec.Sent()[0].Title)
		assert.Contains(t, f.rec.Sent()[0].Body, "12.00 kWh")
	})

	t.Run("next day alerts again", func(t *testing.T) {
		f := newFixture(t)
		f.putDevice(t, "heater", 2000, 6)
		_, err := f.mon.Evaluate(ctx, "u1")
		require.NoError(t, err)

		f.mon.clock = calendar.FixedClock(now.Add(24 * time.Hour))
		f.mon.agg = aggregate.New(calc.Rates{PricePerKWh: 2.5}, aggregate.WithClock(f.mon.clock))
		_, err = f.mon.Evaluate(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, f.rec.Count(notify.KindHighConsumption))
	})

	t.Run("per user threshold and disabled", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.db.SetSettings(ctx, "u1", types.Settings{DailyAlertKWh: 50}, types.CurrentSettingsVersion))
		f.putDevice(t, "heater", 2000, 6)
		_, err := f.mon.Evaluate(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, f.rec.Count(notify.KindHighConsumption))

		require.NoError(t, f.db.SetSettings(ctx, "u1", types.Settings{DailyAlertKWh: -1}, types.CurrentSettingsVersion))
		f.putDevice(t, "heater", 2000, 24)
		_, err = f.mon.Evaluate(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, f.rec.Count(notify.KindHighConsumption))
	})
}

func TestEvaluateReadFailures(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Location = time.UTC
	clock := calendar.FixedClock(now)
	db := &storagemock.MockDatabase{}
	rec := &notify.Recorder{}
	tr := goals.NewTracker(db, rec, goals.WithClock(clock))
	mon := New(db, cfg, aggregate.New(cfg.Rates(), aggregate.WithClock(clock)), tr, rec, WithClock(clock))

	db.On("GetSettings", mock.Anything, "u1").Return(types.Settings{}, types.CurrentSettingsVersion, nil)

	t.Run("goals", func(t *testing.T) {
		db.On("ReadGoals", mock.Anything, "u1").Return(nil, errors.New("unavailable")).Once()
		_, err := mon.Evaluate(ctx, "u1")
		assert.Error(t, err)
	})

	t.Run("devices degrade to zero", func(t *testing.T) {
		db.On("ReadGoals", mock.Anything, "u1").Return(map[string]types.Goal{
			"g1": {ID: "g1", Title: "t", Target: 10, Period: types.PeriodDaily, Current: 9},
		}, nil).Once()
		db.On("ReadDevices", mock.Anything, "u1").Return(nil, errors.New("unavailable")).Once()
		db.On("ReadArchiveRange", mock.Anything, "u1", mock.Anything).Return(map[string]types.ArchiveEntry{}, nil)
		db.On("UpdateGoal", mock.Anything, "u1", "g1", mock.Anything).Return(nil).Once()

		status, err := mon.Evaluate(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0.0, status.Results[types.PeriodDaily].Totals.ConsumptionKWh)
		require.Len(t, status.Goals, 1)
		assert.Equal(t, 0.0, status.Goals[0].Progress.Progress)
		assert.Empty(t, rec.Sent())
	})
}

func TestWatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.tr.Create(ctx, "u1", types.Goal{Title: "Daily cap", Target: 10, Period: types.PeriodDaily})
	require.NoError(t, err)

	sub, err := f.mon.Watch(ctx, "u1")
	require.NoError(t, err)

	f.putDevice(t, "oven", 3000, 3)
	assert.Eventually(t, func() bool {
		return f.rec.Count(notify.KindGoalWarning) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sub.Stop()
	sub.Stop()

	f.putDevice(t, "dryer", 3000, 3)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, f.rec.Count(notify.KindHighConsumption), "stopped watches do not evaluate")
}

func TestTrack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)

	require.NoError(t, f.mon.Track(ctx, "u1"))
	require.NoError(t, f.mon.Track(ctx, "u1"))
	f.mon.mu.Lock()
	assert.Len(t, f.mon.watching, 1)
	f.mon.mu.Unlock()

	f.putDevice(t, "heater", 2000, 6)
	assert.Eventually(t, func() bool {
		return f.rec.Count(notify.KindHighConsumption) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.mon.StopAll()
	f.mon.mu.Lock()
	assert.Empty(t, f.mon.watching)
	f.mon.mu.Unlock()
}

func TestAfterRollover(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	f.putDevice(t, "heater", 2000, 6)

	f.mon.AfterRollover(ctx, "u1")
	assert.Eventually(t, func() bool {
		return f.rec.Count(notify.KindHighConsumption) == 1
	}, 2*time.Second, 10*time.Millisecond)
	f.mon.StopAll()
	assert.Equal(t, 1, f.rec.Count(notify.KindHighConsumption))
}
