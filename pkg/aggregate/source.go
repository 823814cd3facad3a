package aggregate

import (
	"context"
	"log/slog"

	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/types"
)

// Source is the part of the store the aggregator reads.
type Source interface {
	ReadDevices(ctx context.Context, userID string) (map[string]types.Device, error)
	ReadArchiveRange(ctx context.Context, userID, prefix string) (map[string]types.ArchiveEntry, error)
}

// Snapshot is the data one aggregation pass reads. It is a copy and is not
// updated by later store changes.
type Snapshot struct {
	Devices map[string]types.Device
	Archive map[string]types.ArchiveEntry
}

// LoadSnapshot reads the devices and every archive prefix needed by periods.
// Read failures are logged and leave the affected part empty so callers see
// zero values rather than an error. It only fails for an invalid period.
func (a *Aggregator) LoadSnapshot(ctx context.Context, src Source, userID string, periods ...types.Period) (Snapshot, error) {
	var prefixes []string
	for _, p := range periods {
		ps, err := a.ArchivePrefixes(p)
		if err != nil {
			return Snapshot{}, err
		}
		prefixes = append(prefixes, ps...)
	}

	snap := Snapshot{
		Devices: map[string]types.Device{},
		Archive: map[string]types.ArchiveEntry{},
	}

	devices, err := src.ReadDevices(ctx, userID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(
			ctx,
			"failed to read devices, aggregating without them",
			slog.String("userID", userID),
			slog.Any("error", err),
		)
	} else {
		snap.Devices = types.CopyDevices(devices)
	}

	for _, prefix := range dedupe(prefixes) {
		entries, err := src.ReadArchiveRange(ctx, userID, prefix)
		if err != nil {
			log.Ctx(ctx).ErrorContext(
				ctx,
				"failed to read archive range, treating as empty",
				slog.String("userID", userID),
				slog.String("prefix", prefix),
				slog.Any("error", err),
			)
			continue
		}
		for key, entry := range entries {
			snap.Archive[key] = entry
		}
	}
	return snap, nil
}

// Compute loads a snapshot for period and computes it.
func (a *Aggregator) Compute(ctx context.Context, src Source, userID string, period types.Period) (types.AggregationResult, error) {
	snap, err := a.LoadSnapshot(ctx, src, userID, period)
	if err != nil {
		return types.AggregationResult{}, err
	}
	return a.ComputeSeries(period, snap.Devices, snap.Archive)
}
