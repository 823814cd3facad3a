package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wattlog/wattlog/pkg/types"
)

// MemoryProvider implements the Database interface in process memory. It is
// used for local runs and tests. Subscribers are notified asynchronously, each
// one always receiving the latest snapshot.
type MemoryProvider struct {
	mu    sync.Mutex
	users map[string]*memoryUser
}

type memoryUser struct {
	settings        types.Settings
	settingsVersion int
	devices         map[string]types.Device
	archive         map[string]types.ArchiveEntry
	goals           map[string]types.Goal
	goalsArchive    map[string]types.Goal
	lastProcessed   string

	deviceSubs map[*memorySubscription[map[string]types.Device]]struct{}
	goalSubs   map[*memorySubscription[map[string]types.Goal]]struct{}
}

var _ Database = (*MemoryProvider)(nil)

// NewMemoryProvider returns an empty MemoryProvider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{users: map[string]*memoryUser{}}
}

// user returns the user's data, creating it. Must be called with mu held.
func (m *MemoryProvider) user(userID string) (*memoryUser, error) {
	if userID == "" {
		return nil, ErrUserIDEmpty
	}
	u, ok := m.users[userID]
	if !ok {
		u = &memoryUser{
			devices:      map[string]types.Device{},
			archive:      map[string]types.ArchiveEntry{},
			goals:        map[string]types.Goal{},
			goalsArchive: map[string]types.Goal{},
			deviceSubs:   map[*memorySubscription[map[string]types.Device]]struct{}{},
			goalSubs:     map[*memorySubscription[map[string]types.Goal]]struct{}{},
		}
		m.users[userID] = u
	}
	return u, nil
}

func copyGoals(goals map[string]types.Goal) map[string]types.Goal {
	out := make(map[string]types.Goal, len(goals))
	for id, g := range goals {
		out[id] = g
	}
	return out
}

func copyEntry(e types.ArchiveEntry) types.ArchiveEntry {
	e.Devices = types.CopyDevices(e.Devices)
	return e
}

// publishDevices pushes the registry to subscribers. Must be called with mu held.
func (u *memoryUser) publishDevices() {
	for sub := range u.deviceSubs {
		sub.push(types.CopyDevices(u.devices))
	}
}

// publishGoals pushes the goals to subscribers. Must be called with mu held.
func (u *memoryUser) publishGoals() {
	for sub := range u.goalSubs {
		sub.push(copyGoals(u.goals))
	}
}

// GetSettings returns the stored settings and their version.
func (m *MemoryProvider) GetSettings(ctx context.Context, userID string) (types.Settings, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return types.Settings{}, 0, err
	}
	return u.settings, u.settingsVersion, nil
}

// SetSettings stores the settings with their version.
func (m *MemoryProvider) SetSettings(ctx context.Context, userID string, settings types.Settings, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return err
	}
	u.settings = settings
	u.settingsVersion = version
	return nil
}

// ReadDevices returns a copy of the registry.
func (m *MemoryProvider) ReadDevices(ctx context.Context, userID string) (map[string]types.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return nil, err
	}
	return types.CopyDevices(u.devices), nil
}

// SubscribeDevices registers onChange and delivers the current registry.
func (m *MemoryProvider) SubscribeDevices(ctx context.Context, userID string, onChange func(map[string]types.Device)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return nil, err
	}
	var sub *memorySubscription[map[string]types.Device]
	sub = newMemorySubscription(ctx, onChange, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(u.deviceSubs, sub)
	})
	u.deviceSubs[sub] = struct{}{}
	sub.push(types.CopyDevices(u.devices))
	return sub, nil
}

// PutDevice creates or replaces a device.
func (m *MemoryProvider) PutDevice(ctx context.Context, userID string, device types.Device) (types.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return types.Device{}, err
	}
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	u.devices[device.ID] = device
	u.publishDevices()
	return device, nil
}

// DeleteDevice removes a device if it exists.
func (m *MemoryProvider) DeleteDevice(ctx context.Context, userID, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return err
	}
	if _, ok := u.devices[deviceID]; !ok {
		return nil
	}
	delete(u.devices, deviceID)
	u.publishDevices()
	return nil
}

// ClearDevices removes every device last updated before before.
func (m *MemoryProvider) ClearDevices(ctx context.Context, userID string, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return err
	}
	for id, d := range u.devices {
		if before.IsZero() || d.UpdatedAt.Before(before) {
			delete(u.devices, id)
		}
	}
	u.publishDevices()
	return nil
}

// ResetDailyUsage zeroes the daily usage of every device last updated before
// before.
func (m *MemoryProvider) ResetDailyUsage(ctx context.Context, userID string, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return err
	}
	for id, d := range u.devices {
		if !d.UpdatedAt.Before(before) {
			continue
		}
		d.DailyUsageHours = 0
		d.UpdatedAt = before
		u.devices[id] = d
	}
	u.publishDevices()
	return nil
}

// ReadArchiveEntry returns a copy of one entry or nil.
func (m *MemoryProvider) ReadArchiveEntry(ctx context.Context, userID, dateKey string) (*types.ArchiveEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return nil, err
	}
	e, ok := u.archive[dateKey]
	if !ok {
		return nil, nil
	}
	e = copyEntry(e)
	return &e, nil
}

// ReadArchiveRange returns copies of every entry whose key starts with prefix.
func (m *MemoryProvider) ReadArchiveRange(ctx context.Context, userID, prefix string) (map[string]types.ArchiveEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return nil, err
	}
	out := map[string]types.ArchiveEntry{}
	for key, e := range u.archive {
		if strings.HasPrefix(key, prefix) {
			out[key] = copyEntry(e)
		}
	}
	return out, nil
}

// WriteArchiveEntry creates or replaces an entry.
func (m *MemoryProvider) WriteArchiveEntry(ctx context.Context, userID, dateKey string, entry types.ArchiveEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return err
	}
	u.archive[dateKey] = copyEntry(entry)
	return nil
}

// CreateArchiveEntry writes the entry only when the key has none.
func (m *MemoryProvider) CreateArchiveEntry(ctx context.Context, userID, dateKey string, entry types.ArchiveEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return err
	}
	if _, ok := u.archive[dateKey]; ok {
		return fmt.Errorf("%w: archive entry %s", ErrAlreadyExists, dateKey)
	}
	u.archive[dateKey] = copyEntry(entry)
	return nil
}

// UpdateArchiveEntry runs fn on the entry under the provider lock.
func (m *MemoryProvider) UpdateArchiveEntry(ctx context.Context, userID, dateKey string, fn func(*types.ArchiveEntry) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return err
	}
	e := copyEntry(u.archive[dateKey])
	if e.Devices == nil {
		e.Devices = map[string]types.Device{}
	}
	if fn(&e) {
		u.archive[dateKey] = e
	}
	return nil
}

// ReadGoals returns a copy of the active goals.
func (m *MemoryProvider) ReadGoals(ctx context.Context, userID string) (map[string]types.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return nil, err
	}
	return copyGoals(u.goals), nil
}

// ReadArchivedGoals returns a copy of the expired goals.
func (m *MemoryProvider) ReadArchivedGoals(ctx context.Context, userID string) (map[string]types.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return nil, err
	}
	return copyGoals(u.goalsArchive), nil
}

// SubscribeGoals registers onChange and delivers the current goals.
func (m *MemoryProvider) SubscribeGoals(ctx context.Context, userID string, onChange func(map[string]types.Goal)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return nil, err
	}
	var sub *memorySubscription[map[string]types.Goal]
	sub = newMemorySubscription(ctx, onChange, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(u.goalSubs, sub)
	})
	u.goalSubs[sub] = struct{}{}
	sub.push(copyGoals(u.goals))
	return sub, nil
}

// CreateGoal stores a new goal under a generated id.
func (m *MemoryProvider) CreateGoal(ctx context.Context, userID string, goal types.Goal) (types.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return types.Goal{}, err
	}
	goal.ID = uuid.NewString()
	u.goals[goal.ID] = goal
	u.publishGoals()
	return goal, nil
}

// UpdateGoal applies a partial update.
func (m *MemoryProvider) UpdateGoal(ctx context.Context, userID, goalID string, update types.GoalUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return err
	}
	g, ok := u.goals[goalID]
	if !ok {
		return fmt.Errorf("%w: goal %s", ErrNotFound, goalID)
	}
	update.Apply(&g)
	u.goals[goalID] = g
	u.publishGoals()
	return nil
}

// DeleteGoal removes an active goal.
func (m *MemoryProvider) DeleteGoal(ctx context.Context, userID, goalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return err
	}
	if _, ok := u.goals[goalID]; !ok {
		return nil
	}
	delete(u.goals, goalID)
	u.publishGoals()
	return nil
}

// ArchiveGoal moves a goal into the goal archive.
func (m *MemoryProvider) ArchiveGoal(ctx context.Context, userID string, goal types.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return err
	}
	u.goalsArchive[goal.ID] = goal
	delete(u.goals, goal.ID)
	u.publishGoals()
	return nil
}

// GetLastProcessedDate returns the last completed rollover date key.
func (m *MemoryProvider) GetLastProcessedDate(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return "", err
	}
	return u.lastProcessed, nil
}

// SetLastProcessedDate records the last completed rollover date key.
func (m *MemoryProvider) SetLastProcessedDate(ctx context.Context, userID, dateKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.user(userID)
	if err != nil {
		return err
	}
	u.lastProcessed = dateKey
	return nil
}

// ListUserIDs returns every user the provider has seen, sorted.
func (m *MemoryProvider) ListUserIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op.
func (m *MemoryProvider) Close() error {
	return nil
}

// memorySubscription delivers the latest pushed value on its own goroutine.
// Values pushed while a callback runs are coalesced into the newest one.
type memorySubscription[T any] struct {
	latest chan T
	stop   chan struct{}
	once   sync.Once
	remove func()

	// held while a callback runs
	deliverMu sync.Mutex
}

func newMemorySubscription[T any](ctx context.Context, onChange func(T), remove func()) *memorySubscription[T] {
	s := &memorySubscription[T]{
		latest: make(chan T, 1),
		stop:   make(chan struct{}),
		remove: remove,
	}
	go func() {
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				s.Stop()
				return
			case v := <-s.latest:
				if !s.deliver(func() { onChange(v) }) {
					return
				}
			}
		}
	}()
	return s
}

// push replaces any undelivered value. Callers hold the provider lock so there
// is a single producer.
func (s *memorySubscription[T]) push(v T) {
	select {
	case <-s.latest:
	default:
	}
	s.latest <- v
}

// Stop implements Subscription.
func (s *memorySubscription[T]) Stop() {
	s.once.Do(func() {
		close(s.stop)
		go s.remove()
	})
	// wait for a running callback
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
}

// deliver runs fn unless the subscription is stopped and reports whether it
// did.
func (s *memorySubscription[T]) deliver(fn func()) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	select {
	case <-s.stop:
		return false
	default:
	}
	fn()
	return true
}
