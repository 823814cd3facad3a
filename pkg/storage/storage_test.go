package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

// testDatabase exercises the behaviour every provider must share. userID must
// be unused in db.
func testDatabase(t *testing.T, db Database, userID string) {
	ctx := context.Background()

	t.Run("EmptyUserID", func(t *testing.T) {
		_, err := db.ReadDevices(ctx, "")
		assert.ErrorIs(t, err, ErrUserIDEmpty)
		_, _, err = db.GetSettings(ctx, "")
		assert.ErrorIs(t, err, ErrUserIDEmpty)
	})

	t.Run("Settings", func(t *testing.T) {
		s, version, err := db.GetSettings(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 0, version)
		assert.Equal(t, types.Settings{}, s)

		settings := types.Settings{PricePerKWh: 1.5, CO2FactorPerKWh: 0.52, ResetPolicy: types.ResetPolicyZeroUsage, DailyAlertKWh: 12}
		require.NoError(t, db.SetSettings(ctx, userID, settings, types.CurrentSettingsVersion))
		got, version, err := db.GetSettings(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, types.CurrentSettingsVersion, version)
		assert.Equal(t, settings, got)
	})

	t.Run("Devices", func(t *testing.T) {
		created, err := db.PutDevice(ctx, userID, types.Device{
			Name:            "Fridge",
			Type:            types.DeviceTypeHomeAppliance,
			PowerWatts:      150,
			DailyUsageHours: 24,
			UpdatedAt:       time.Now().UTC().Truncate(time.Millisecond),
		})
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)

		other, err := db.PutDevice(ctx, userID, types.Device{ID: "tv", Name: "TV", Type: types.DeviceTypeElectronics, PowerWatts: 100, DailyUsageHours: 3})
		require.NoError(t, err)
		assert.Equal(t, "tv", other.ID)

		devices, err := db.ReadDevices(ctx, userID)
		require.NoError(t, err)
		require.Len(t, devices, 2)
		assert.Equal(t, "Fridge", devices[created.ID].Name)
		assert.Equal(t, types.Quantity(24), devices[created.ID].DailyUsageHours)

		cutoff := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
		require.NoError(t, db.ResetDailyUsage(ctx, userID, cutoff))
		devices, err = db.ReadDevices(ctx, userID)
		require.NoError(t, err)
		require.Len(t, devices, 2)
		for _, d := range devices {
			assert.Equal(t, types.Quantity(0), d.DailyUsageHours)
			assert.True(t, d.UpdatedAt.Equal(cutoff))
		}
		assert.Equal(t, types.Quantity(150), devices[created.ID].PowerWatts)

		require.NoError(t, db.DeleteDevice(ctx, userID, "tv"))
		require.NoError(t, db.DeleteDevice(ctx, userID, "missing"))
		devices, err = db.ReadDevices(ctx, userID)
		require.NoError(t, err)
		assert.Len(t, devices, 1)

		require.NoError(t, db.ClearDevices(ctx, userID, time.Time{}))
		devices, err = db.ReadDevices(ctx, userID)
		require.NoError(t, err)
		assert.Empty(t, devices)
	})

	t.Run("ResetCutoff", func(t *testing.T) {
		cutUser := userID + "-cutoff"
		midnight := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
		_, err := db.PutDevice(ctx, cutUser, types.Device{ID: "old", Name: "Old", Type: types.DeviceTypeLighting, PowerWatts: 10, DailyUsageHours: 5, UpdatedAt: midnight.Add(-time.Hour)})
		require.NoError(t, err)
		_, err = db.PutDevice(ctx, cutUser, types.Device{ID: "new", Name: "New", Type: types.DeviceTypeLighting, PowerWatts: 20, DailyUsageHours: 3, UpdatedAt: midnight.Add(time.Minute)})
		require.NoError(t, err)

		require.NoError(t, db.ResetDailyUsage(ctx, cutUser, midnight))
		devices, err := db.ReadDevices(ctx, cutUser)
		require.NoError(t, err)
		require.Len(t, devices, 2)
		assert.Equal(t, types.Quantity(0), devices["old"].DailyUsageHours)
		assert.True(t, devices["old"].UpdatedAt.Equal(midnight))
		assert.Equal(t, types.Quantity(3), devices["new"].DailyUsageHours, "changed after the cutoff")

		// reset devices carry the cutoff and are not touched again
		require.NoError(t, db.ResetDailyUsage(ctx, cutUser, midnight))
		devices, err = db.ReadDevices(ctx, cutUser)
		require.NoError(t, err)
		assert.True(t, devices["old"].UpdatedAt.Equal(midnight))

		require.NoError(t, db.ClearDevices(ctx, cutUser, midnight.Add(time.Second)))
		devices, err = db.ReadDevices(ctx, cutUser)
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Contains(t, devices, "new")
	})

	t.Run("Archive", func(t *testing.T) {
		entry := types.ArchiveEntry{
			Devices: map[string]types.Device{
				"a": {ID: "a", Name: "Lamp", Type: types.DeviceTypeLighting, PowerWatts: 10, DailyUsageHours: 5, DailyKWh: 0.05},
			},
			Timestamp:   time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC),
			DisplayDate: "01.01.2024",
		}

		got, err := db.ReadArchiveEntry(ctx, userID, "20240101")
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, db.CreateArchiveEntry(ctx, userID, "20240101", entry))
		err = db.CreateArchiveEntry(ctx, userID, "20240101", types.ArchiveEntry{DisplayDate: "overwritten"})
		assert.ErrorIs(t, err, ErrAlreadyExists)

		got, err = db.ReadArchiveEntry(ctx, userID, "20240101")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "01.01.2024", got.DisplayDate)
		assert.Equal(t, 0.05, got.Devices["a"].DailyKWh)

		require.NoError(t, db.WriteArchiveEntry(ctx, userID, "20240131", entry))
		require.NoError(t, db.WriteArchiveEntry(ctx, userID, "20240201", entry))
		require.NoError(t, db.WriteArchiveEntry(ctx, userID, "20231231", entry))

		jan, err := db.ReadArchiveRange(ctx, userID, "202401")
		require.NoError(t, err)
		assert.Len(t, jan, 2)
		assert.Contains(t, jan, "20240101")
		assert.Contains(t, jan, "20240131")

		year, err := db.ReadArchiveRange(ctx, userID, "2024")
		require.NoError(t, err)
		assert.Len(t, year, 3)

		t.Run("Update", func(t *testing.T) {
			require.NoError(t, db.UpdateArchiveEntry(ctx, userID, "20240105", func(e *types.ArchiveEntry) bool {
				e.Devices["x"] = types.Device{ID: "x", Name: "Heater"}
				e.DisplayDate = "05.01.2024"
				return true
			}))
			got, err := db.ReadArchiveEntry(ctx, userID, "20240105")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Contains(t, got.Devices, "x")

			require.NoError(t, db.UpdateArchiveEntry(ctx, userID, "20240105", func(e *types.ArchiveEntry) bool {
				delete(e.Devices, "x")
				return false
			}))
			got, err = db.ReadArchiveEntry(ctx, userID, "20240105")
			require.NoError(t, err)
			assert.Contains(t, got.Devices, "x", "update returning false must not write")

			require.NoError(t, db.UpdateArchiveEntry(ctx, userID, "20240106", func(e *types.ArchiveEntry) bool {
				return false
			}))
			got, err = db.ReadArchiveEntry(ctx, userID, "20240106")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	})

	t.Run("Goals", func(t *testing.T) {
		created := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
		g, err := db.CreateGoal(ctx, userID, types.Goal{Title: "Daily cap", Target: 10, Period: types.PeriodDaily, CreatedAt: created})
		require.NoError(t, err)
		require.NotEmpty(t, g.ID)

		notified := true
		current := 8.5
		require.NoError(t, db.UpdateGoal(ctx, userID, g.ID, types.GoalUpdate{Notified: &notified, LastNotifiedAt: &current, Current: &current}))

		goals, err := db.ReadGoals(ctx, userID)
		require.NoError(t, err)
		require.Contains(t, goals, g.ID)
		assert.True(t, goals[g.ID].Notified)
		assert.Equal(t, 8.5, goals[g.ID].Current)
		require.NotNil(t, goals[g.ID].LastNotifiedAt)
		assert.Equal(t, 8.5, *goals[g.ID].LastNotifiedAt)
		assert.Equal(t, "Daily cap", goals[g.ID].Title)

		err = db.UpdateGoal(ctx, userID, "missing", types.GoalUpdate{Current: &current})
		assert.ErrorIs(t, err, ErrNotFound)

		expired := created.Add(25 * time.Hour)
		archived := goals[g.ID]
		archived.ExpiredAt = &expired
		require.NoError(t, db.ArchiveGoal(ctx, userID, archived))

		goals, err = db.ReadGoals(ctx, userID)
		require.NoError(t, err)
		assert.NotContains(t, goals, g.ID)

		old, err := db.ReadArchivedGoals(ctx, userID)
		require.NoError(t, err)
		require.Contains(t, old, g.ID)
		require.NotNil(t, old[g.ID].ExpiredAt)
		assert.True(t, old[g.ID].ExpiredAt.Equal(expired))

		g2, err := db.CreateGoal(ctx, userID, types.Goal{Title: "Weekly", Target: 50, Period: types.PeriodWeekly, CreatedAt: created})
		require.NoError(t, err)
		require.NoError(t, db.DeleteGoal(ctx, userID, g2.ID))
		goals, err = db.ReadGoals(ctx, userID)
		require.NoError(t, err)
		assert.Empty(t, goals)
	})

	t.Run("LastProcessedDate", func(t *testing.T) {
		got, err := db.GetLastProcessedDate(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "", got)

		require.NoError(t, db.SetLastProcessedDate(ctx, userID, "20240102"))
		got, err = db.GetLastProcessedDate(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "20240102", got)
	})

	t.Run("ListUserIDs", func(t *testing.T) {
		ids, err := db.ListUserIDs(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, userID)
	})

	t.Run("SubscribeDevices", func(t *testing.T) {
		subUser := userID + "-sub"
		var mu sync.Mutex
		var seen []int
		sub, err := db.SubscribeDevices(ctx, subUser, func(devices map[string]types.Device) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, len(devices))
		})
		require.NoError(t, err)

		last := func() int {
			mu.Lock()
			defer mu.Unlock()
			if len(seen) == 0 {
				return -1
			}
			return seen[len(seen)-1]
		}

		assert.Eventually(t, func() bool { return last() == 0 }, 5*time.Second, 10*time.Millisecond)

		for i := 0; i < 3; i++ {
			_, err := db.PutDevice(ctx, subUser, types.Device{ID: fmt.Sprintf("d%d", i), Name: "x", Type: types.DeviceTypeLighting})
			require.NoError(t, err)
		}
		assert.Eventually(t, func() bool { return last() == 3 }, 5*time.Second, 10*time.Millisecond)

		sub.Stop()
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		count := len(seen)
		mu.Unlock()

		require.NoError(t, db.ClearDevices(ctx, subUser, time.Time{}))
		time.Sleep(100 * time.Millisecond)
		mu.Lock()
		assert.Equal(t, count, len(seen), "no delivery after Stop")
		mu.Unlock()
	})

	t.Run("SubscribeGoals", func(t *testing.T) {
		subUser := userID + "-goals"
		var mu sync.Mutex
		var latest map[string]types.Goal
		sub, err := db.SubscribeGoals(ctx, subUser, func(goals map[string]types.Goal) {
			mu.Lock()
			defer mu.Unlock()
			latest = goals
		})
		require.NoError(t, err)
		defer sub.Stop()

		g, err := db.CreateGoal(ctx, subUser, types.Goal{Title: "t", Target: 5, Period: types.PeriodDaily})
		require.NoError(t, err)
		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			_, ok := latest[g.ID]
			return ok
		}, 5*time.Second, 10*time.Millisecond)
	})
}

func TestMemoryProvider(t *testing.T) {
	testDatabase(t, NewMemoryProvider(), "user-1")
}

func TestMemoryProviderCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryProvider()
	_, err := m.PutDevice(ctx, "u", types.Device{ID: "a", Name: "Lamp"})
	require.NoError(t, err)

	devices, err := m.ReadDevices(ctx, "u")
	require.NoError(t, err)
	devices["b"] = types.Device{ID: "b"}
	delete(devices, "a")

	again, err := m.ReadDevices(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, again, 1)
	assert.Contains(t, again, "a")
}

func TestMemorySubscriptionStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemoryProvider()
	calls := make(chan int, 10)
	_, err := m.SubscribeDevices(ctx, "u", func(d map[string]types.Device) { calls <- len(d) })
	require.NoError(t, err)
	assert.Equal(t, 0, <-calls)

	cancel()
	assert.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.users["u"].deviceSubs) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMemorySubscriptionStopWaitsForCallback(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryProvider()
	entered := make(chan struct{}, 10)
	release := make(chan struct{})
	var calls atomic.Int32
	sub, err := m.SubscribeDevices(ctx, "u", func(map[string]types.Device) {
		calls.Add(1)
		entered <- struct{}{}
		<-release
	})
	require.NoError(t, err)
	<-entered

	// a change is queued while the first callback is still running
	_, err = m.PutDevice(ctx, "u", types.Device{ID: "a", Name: "a", Type: types.DeviceTypeLighting})
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		sub.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a callback was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the callback finished")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "queued change is not delivered after Stop")
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, "202402", prefixEnd("202401"))
	assert.Equal(t, "20240:", prefixEnd("202409"))
	assert.Equal(t, "", prefixEnd(""))
}
