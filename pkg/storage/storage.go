package storage

import (
	"context"
	"errors"
	"time"

	"github.com/wattlog/wattlog/pkg/types"
)

var (
	// ErrNotFound is returned when a device or goal does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrUserIDEmpty is returned for calls without a user id.
	ErrUserIDEmpty = errors.New("storage: userID cannot be empty")
	// ErrAlreadyExists is returned by CreateArchiveEntry when the date already
	// has an entry.
	ErrAlreadyExists = errors.New("storage: already exists")
)

// Subscription is a live change feed. Stop ends it and waits for a running
// callback to return; no callback starts after Stop returns. A callback must
// not call Stop on its own subscription.
type Subscription interface {
	Stop()
}

// Database defines the interface for persisting a user's devices, daily archive,
// goals and settings. Every user's data is independent.
type Database interface {
	// Settings
	GetSettings(ctx context.Context, userID string) (types.Settings, int, error)
	SetSettings(ctx context.Context, userID string, settings types.Settings, version int) error

	// Device Registry
	ReadDevices(ctx context.Context, userID string) (map[string]types.Device, error)
	// SubscribeDevices calls onChange with the full registry once and then
	// after every change until the subscription is stopped or ctx is done.
	SubscribeDevices(ctx context.Context, userID string, onChange func(map[string]types.Device)) (Subscription, error)
	// PutDevice creates or replaces a device. An empty ID is assigned by the
	// store and the stored device is returned.
	PutDevice(ctx context.Context, userID string, device types.Device) (types.Device, error)
	DeleteDevice(ctx context.Context, userID, deviceID string) error
	// ClearDevices removes every device last updated before before. A zero
	// before removes all of them.
	ClearDevices(ctx context.Context, userID string, before time.Time) error
	// ResetDailyUsage zeroes the daily usage of every device last updated
	// before before and sets their UpdatedAt to before. Devices changed since
	// are left alone.
	ResetDailyUsage(ctx context.Context, userID string, before time.Time) error

	// Daily Archive
	// ReadArchiveEntry returns nil when the date has no entry.
	ReadArchiveEntry(ctx context.Context, userID, dateKey string) (*types.ArchiveEntry, error)
	ReadArchiveRange(ctx context.Context, userID, prefix string) (map[string]types.ArchiveEntry, error)
	WriteArchiveEntry(ctx context.Context, userID, dateKey string, entry types.ArchiveEntry) error
	// CreateArchiveEntry writes the entry only if the date has none yet and
	// returns ErrAlreadyExists otherwise.
	CreateArchiveEntry(ctx context.Context, userID, dateKey string, entry types.ArchiveEntry) error
	// UpdateArchiveEntry atomically reads the entry (empty when absent), passes
	// it to fn and writes it back if fn returns true.
	UpdateArchiveEntry(ctx context.Context, userID, dateKey string, fn func(*types.ArchiveEntry) bool) error

	// Goals
	ReadGoals(ctx context.Context, userID string) (map[string]types.Goal, error)
	SubscribeGoals(ctx context.Context, userID string, onChange func(map[string]types.Goal)) (Subscription, error)
	CreateGoal(ctx context.Context, userID string, goal types.Goal) (types.Goal, error)
	// UpdateGoal applies a partial update and returns ErrNotFound for unknown
	// goals.
	UpdateGoal(ctx context.Context, userID, goalID string, update types.GoalUpdate) error
	DeleteGoal(ctx context.Context, userID, goalID string) error
	// ArchiveGoal moves the goal out of the active set into the goal archive.
	ArchiveGoal(ctx context.Context, userID string, goal types.Goal) error
	ReadArchivedGoals(ctx context.Context, userID string) (map[string]types.Goal, error)

	// Rollover bookkeeping
	GetLastProcessedDate(ctx context.Context, userID string) (string, error)
	SetLastProcessedDate(ctx context.Context, userID, dateKey string) error

	// Users
	ListUserIDs(ctx context.Context) ([]string, error)

	// Lifecycle
	Close() error
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix. Date keys are ASCII so incrementing the last byte is enough.
func prefixEnd(prefix string) string {
	if prefix == "" {
		return ""
	}
	b := []byte(prefix)
	b[len(b)-1]++
	return string(b)
}
