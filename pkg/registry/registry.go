// Package registry implements the device operations of a user's registry.
// Every change is mirrored into today's daily archive entry so the day's
// snapshot follows the registry while the day is still running.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wattlog/wattlog/pkg/calc"
	"github.com/wattlog/wattlog/pkg/calendar"
	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/metrics"
	"github.com/wattlog/wattlog/pkg/types"
)

const maxDailyUsageHours = 24

var (
	// ErrInvalidDevice is returned for devices without a name, with an unknown
	// type or with unusable power or usage values.
	ErrInvalidDevice = errors.New("registry: invalid device")
	// ErrDeviceNotFound is returned when editing a device that does not exist.
	ErrDeviceNotFound = errors.New("registry: device not found")
)

// Store is the part of the store the registry writes to.
type Store interface {
	ReadDevices(ctx context.Context, userID string) (map[string]types.Device, error)
	PutDevice(ctx context.Context, userID string, device types.Device) (types.Device, error)
	DeleteDevice(ctx context.Context, userID, deviceID string) error
	UpdateArchiveEntry(ctx context.Context, userID, dateKey string, fn func(*types.ArchiveEntry) bool) error
}

// Registry adds, edits and deletes devices.
type Registry struct {
	store   Store
	clock   calendar.Clock
	loc     *time.Location
	catchUp func(ctx context.Context, userID string) error
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the default clock.
func WithClock(c calendar.Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLocation sets the location deciding which day is today.
func WithLocation(loc *time.Location) Option {
	return func(r *Registry) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithCatchUp runs fn before every change, letting a pending day change
// archive the registry first. A failure of fn is logged and the change still
// goes ahead.
func WithCatchUp(fn func(ctx context.Context, userID string) error) Option {
	return func(r *Registry) {
		r.catchUp = fn
	}
}

// New returns a Registry writing to store.
func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		clock: calendar.SystemClock{},
		loc:   time.UTC,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validate checks a device submitted by a user.
func Validate(d types.Device) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDevice, d.Type)
	}
	if !d.PowerWatts.Valid() {
		return fmt.Errorf("%w: powerWatts must be a non-negative number", ErrInvalidDevice)
	}
	if !d.DailyUsageHours.Valid() || d.DailyUsageHours.Float() > maxDailyUsageHours {
		return fmt.Errorf("%w: dailyUsageHours must be between 0 and %d", ErrInvalidDevice, maxDailyUsageHours)
	}
	return nil
}

// List returns the user's devices.
func (r *Registry) List(ctx context.Context, userID string) (map[string]types.Device, error) {
	devices, err := r.store.ReadDevices(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read devices: %w", err)
	}
	return devices, nil
}

// Add stores a new device and returns it with its assigned id.
func (r *Registry) Add(ctx context.Context, userID string, device types.Device) (types.Device, error) {
	if err := Validate(device); err != nil {
		return types.Device{}, err
	}
	r.runCatchUp(ctx, userID)
	now := r.clock.Now().In(r.loc)

	device.ID = ""
	device.Name = strings.TrimSpace(device.Name)
	device.DailyKWh = 0
	device.AddedDate = calendar.DateKey(now)
	device.CreatedAt = now
	device.UpdatedAt = now
	if device.Active == nil {
		active := true
		device.Active = &active
	}

	stored, err := r.store.PutDevice(ctx, userID, device)
	if err != nil {
		metrics.IncStoreError("put_device")
		return types.Device{}, fmt.Errorf("failed to add device: %w", err)
	}
	r.mirror(ctx, userID, now, func(e *types.ArchiveEntry) bool {
		e.Devices[stored.ID] = stamp(stored)
		return true
	})
	return stored, nil
}

// Edit replaces the user editable fields of an existing device.
func (r *Registry) Edit(ctx context.Context, userID, deviceID string, device types.Device) (types.Device, error) {
	if err := Validate(device); err != nil {
		return types.Device{}, err
	}
	r.runCatchUp(ctx, userID)
	devices, err := r.store.ReadDevices(ctx, userID)
	if err != nil {
		return types.Device{}, fmt.Errorf("failed to read devices: %w", err)
	}
	existing, ok := devices[deviceID]
	if !ok {
		return types.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	now := r.clock.Now().In(r.loc)

	existing.Name = strings.TrimSpace(device.Name)
	existing.Type = device.Type
	existing.PowerWatts = device.PowerWatts
	existing.DailyUsageHours = device.DailyUsageHours
	if device.Active != nil {
		active := *device.Active
		existing.Active = &active
	}
	existing.UpdatedAt = now

	stored, err := r.store.PutDevice(ctx, userID, existing)
	if err != nil {
		metrics.IncStoreError("put_device")
		return types.Device{}, fmt.Errorf("failed to edit device: %w", err)
	}
	r.mirror(ctx, userID, now, func(e *types.ArchiveEntry) bool {
		e.Devices[stored.ID] = stamp(stored)
		return true
	})
	return stored, nil
}

// Delete removes a device from the registry and from today's archive entry.
// Earlier days keep their snapshot of the device.
func (r *Registry) Delete(ctx context.Context, userID, deviceID string) error {
	r.runCatchUp(ctx, userID)
	if err := r.store.DeleteDevice(ctx, userID, deviceID); err != nil {
		metrics.IncStoreError("delete_device")
		return fmt.Errorf("failed to delete device: %w", err)
	}
	now := r.clock.Now().In(r.loc)
	r.mirror(ctx, userID, now, func(e *types.ArchiveEntry) bool {
		if _, ok := e.Devices[deviceID]; !ok {
			return false
		}
		delete(e.Devices, deviceID)
		return true
	})
	return nil
}

func (r *Registry) runCatchUp(ctx context.Context, userID string) {
	if r.catchUp == nil {
		return
	}
	if err := r.catchUp(ctx, userID); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "pending rollover failed before device change", slog.String("userID", userID), slog.Any("error", err))
	}
}

// mirror applies fn to today's archive entry. A failure is logged and not
// returned since the registry write already succeeded; the next rollover
// archives the registry anyway.
func (r *Registry) mirror(ctx context.Context, userID string, now time.Time, fn func(*types.ArchiveEntry) bool) {
	dateKey := calendar.DateKey(now)
	err := r.store.UpdateArchiveEntry(ctx, userID, dateKey, func(e *types.ArchiveEntry) bool {
		if e.Devices == nil {
			e.Devices = map[string]types.Device{}
		}
		if !fn(e) {
			return false
		}
		e.Timestamp = now
		e.DisplayDate = calendar.DisplayDate(now)
		return true
	})
	if err != nil {
		metrics.IncStoreError("mirror_archive")
		log.Ctx(ctx).ErrorContext(
			ctx,
			"failed to mirror device change into today's archive",
			slog.String("userID", userID),
			slog.String("date", dateKey),
			slog.Any("error", err),
		)
	}
}

// stamp returns the archive copy of a device carrying its daily kWh.
func stamp(d types.Device) types.Device {
	d.DailyKWh = calc.DeviceKWh(d)
	return d
}

// Stamp returns copies of devices carrying their daily kWh, ready to be
// archived.
func Stamp(devices map[string]types.Device) map[string]types.Device {
	out := make(map[string]types.Device, len(devices))
	for id, d := range devices {
		out[id] = stamp(d)
	}
	return out
}
