package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/wattlog/wattlog/pkg/storage"
	"github.com/wattlog/wattlog/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

// MockSubscription records Stop calls.
type MockSubscription struct {
	mock.Mock
}

func (s *MockSubscription) Stop() {
	s.Called()
}

func (m *MockDatabase) GetSettings(ctx context.Context, userID string) (types.Settings, int, error) {
	args := m.Called(ctx, userID)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, userID string, settings types.Settings, version int) error {
	args := m.Called(ctx, userID, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) ReadDevices(ctx context.Context, userID string) (map[string]types.Device, error) {
	args := m.Called(ctx, userID)
	if len(args) > 0 {
		devices, _ := args.Get(0).(map[string]types.Device)
		return devices, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) SubscribeDevices(ctx context.Context, userID string, onChange func(map[string]types.Device)) (storage.Subscription, error) {
	args := m.Called(ctx, userID, onChange)
	sub, _ := args.Get(0).(storage.Subscription)
	return sub, args.Error(1)
}

func (m *MockDatabase) PutDevice(ctx context.Context, userID string, device types.Device) (types.Device, error) {
	args := m.Called(ctx, userID, device)
	return args.Get(0).(types.Device), args.Error(1)
}

func (m *MockDatabase) DeleteDevice(ctx context.Context, userID, deviceID string) error {
	args := m.Called(ctx, userID, deviceID)
	return args.Error(0)
}

func (m *MockDatabase) ClearDevices(ctx context.Context, userID string, before time.Time) error {
	args := m.Called(ctx, userID, before)
	return args.Error(0)
}

func (m *MockDatabase) ResetDailyUsage(ctx context.Context, userID string, before time.Time) error {
	args := m.Called(ctx, userID, before)
	return args.Error(0)
}

func (m *MockDatabase) ReadArchiveEntry(ctx context.Context, userID, dateKey string) (*types.ArchiveEntry, error) {
	args := m.Called(ctx, userID, dateKey)
	entry, _ := args.Get(0).(*types.ArchiveEntry)
	return entry, args.Error(1)
}

func (m *MockDatabase) ReadArchiveRange(ctx context.Context, userID, prefix string) (map[string]types.ArchiveEntry, error) {
	args := m.Called(ctx, userID, prefix)
	if len(args) > 0 {
		entries, _ := args.Get(0).(map[string]types.ArchiveEntry)
		return entries, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) WriteArchiveEntry(ctx context.Context, userID, dateKey string, entry types.ArchiveEntry) error {
	args := m.Called(ctx, userID, dateKey, entry)
	return args.Error(0)
}

func (m *MockDatabase) CreateArchiveEntry(ctx context.Context, userID, dateKey string, entry types.ArchiveEntry) error {
	args := m.Called(ctx, userID, dateKey, entry)
	return args.Error(0)
}

// UpdateArchiveEntry runs fn on the entry given as the first return value when
// it is set, so tests can inspect what the caller wrote.
func (m *MockDatabase) UpdateArchiveEntry(ctx context.Context, userID, dateKey string, fn func(*types.ArchiveEntry) bool) error {
	args := m.Called(ctx, userID, dateKey, fn)
	if entry, ok := args.Get(0).(*types.ArchiveEntry); ok && entry != nil {
		if entry.Devices == nil {
			entry.Devices = map[string]types.Device{}
		}
		fn(entry)
	}
	return args.Error(1)
}

func (m *MockDatabase) ReadGoals(ctx context.Context, userID string) (map[string]types.Goal, error) {
	args := m.Called(ctx, userID)
	if len(args) > 0 {
		goals, _ := args.Get(0).(map[string]types.Goal)
		return goals, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) SubscribeGoals(ctx context.Context, userID string, onChange func(map[string]types.Goal)) (storage.Subscription, error) {
	args := m.Called(ctx, userID, onChange)
	sub, _ := args.Get(0).(storage.Subscription)
	return sub, args.Error(1)
}

func (m *MockDatabase) CreateGoal(ctx context.Context, userID string, goal types.Goal) (types.Goal, error) {
	args := m.Called(ctx, userID, goal)
	return args.Get(0).(types.Goal), args.Error(1)
}

func (m *MockDatabase) UpdateGoal(ctx context.Context, userID, goalID string, update types.GoalUpdate) error {
	args := m.Called(ctx, userID, goalID, update)
	return args.Error(0)
}

func (m *MockDatabase) DeleteGoal(ctx context.Context, userID, goalID string) error {
	args := m.Called(ctx, userID, goalID)
	return args.Error(0)
}

func (m *MockDatabase) ArchiveGoal(ctx context.Context, userID string, goal types.Goal) error {
	args := m.Called(ctx, userID, goal)
	return args.Error(0)
}

func (m *MockDatabase) ReadArchivedGoals(ctx context.Context, userID string) (map[string]types.Goal, error) {
	args := m.Called(ctx, userID)
	goals, _ := args.Get(0).(map[string]types.Goal)
	return goals, args.Error(1)
}

func (m *MockDatabase) GetLastProcessedDate(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *MockDatabase) SetLastProcessedDate(ctx context.Context, userID, dateKey string) error {
	args := m.Called(ctx, userID, dateKey)
	return args.Error(0)
}

func (m *MockDatabase) ListUserIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
