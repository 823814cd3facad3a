package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/levenlabs/go-lflag"
	"github.com/wattlog/wattlog/pkg/calc"
	"github.com/wattlog/wattlog/pkg/calendar"
	"github.com/wattlog/wattlog/pkg/config"
	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/registry"
	"github.com/wattlog/wattlog/pkg/storage"
	"github.com/wattlog/wattlog/pkg/types"
)

type seedDevice struct {
	name  string
	typ   types.DeviceType
	watts float64
	hours float64
}

var household = []seedDevice{
	{"Air Conditioner", types.DeviceTypeHeatingCooling, 1800, 4},
	{"Electric Heater", types.DeviceTypeHeatingCooling, 2000, 2},
	{"Television", types.DeviceTypeElectronics, 120, 5},
	{"Laptop", types.DeviceTypeElectronics, 65, 8},
	{"Router", types.DeviceTypeElectronics, 10, 24},
	{"Living Room Lights", types.DeviceTypeLighting, 60, 6},
	{"Kitchen Lights", types.DeviceTypeLighting, 40, 4},
	{"Refrigerator", types.DeviceTypeHomeAppliance, 150, 24},
	{"Washing Machine", types.DeviceTypeHomeAppliance, 500, 1},
	{"Dishwasher", types.DeviceTypeHomeAppliance, 1200, 1},
}

func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	cfg := config.Configured()
	userID := lflag.String("seed-user", "seed-user", "User whose data is seeded")
	window := lflag.Duration("seed-window", 120*24*time.Hour, "How far back the archive is seeded")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data", "userID", *userID)

	// Use a new random source
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	now := time.Now().In(cfg.Location)
	today := calendar.StartOfDay(now)

	// jitter returns hours scaled by up to +-40%, clamped to a day
	jitter := func(hours float64) float64 {
		h := hours * (0.6 + rng.Float64()*0.8)
		return min(24, calc.Round2(h))
	}

	// 1. Archive one entry per past day
	days := int(*window / (24 * time.Hour))
	for i := days; i >= 1; i-- {
		day := calendar.AddDays(today, -i)
		devices := make(map[string]types.Device, len(household))
		for j, sd := range household {
			// seasonal devices only run part of the time
			if sd.typ == types.DeviceTypeHeatingCooling && rng.Float64() < 0.5 {
				continue
			}
			id := fmt.Sprintf("seed-%02d", j)
			devices[id] = types.Device{
				ID:              id,
				Name:            sd.name,
				Type:            sd.typ,
				PowerWatts:      types.Quantity(sd.watts),
				DailyUsageHours: types.Quantity(jitter(sd.hours)),
				AddedDate:       calendar.DateKey(day),
				CreatedAt:       day.Add(8 * time.Hour),
				UpdatedAt:       day.Add(20 * time.Hour),
			}
		}
		entry := types.ArchiveEntry{
			Devices:     registry.Stamp(devices),
			Timestamp:   day.Add(24*time.Hour - time.Second),
			DisplayDate: calendar.DisplayDate(day),
		}
		key := calendar.DateKey(day)
		if err := s.WriteArchiveEntry(ctx, *userID, key, entry); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed archive entry", "date", key, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded %s: %d devices, %.2f kWh\n", entry.DisplayDate, len(devices), calc.DevicesKWh(devices))
	}

	// 2. Today's registry
	if err := s.ClearDevices(ctx, *userID, time.Time{}); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to clear devices", "error", err)
		os.Exit(1)
	}
	reg := registry.New(s, registry.WithLocation(cfg.Location))
	for _, sd := range household {
		if sd.typ == types.DeviceTypeHeatingCooling && rng.Float64() < 0.5 {
			continue
		}
		d, err := reg.Add(ctx, *userID, types.Device{
			Name:            sd.name,
			Type:            sd.typ,
			PowerWatts:      types.Quantity(sd.watts),
			DailyUsageHours: types.Quantity(jitter(sd.hours)),
		})
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed device", "name", sd.name, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded device %s (%s)\n", d.Name, d.ID)
	}
	if err := s.SetLastProcessedDate(ctx, *userID, calendar.DateKey(today)); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to set last processed date", "error", err)
		os.Exit(1)
	}

	// 3. One goal per period
	for _, g := range []types.Goal{
		{Title: "Keep today under 15 kWh", Target: 15, Period: types.PeriodDaily},
		{Title: "Weekly budget", Target: 90, Period: types.PeriodWeekly},
		{Title: "Monthly budget", Target: 350, Period: types.PeriodMonthly},
		{Title: "Yearly budget", Target: 4000, Period: types.PeriodYearly},
	} {
		g.CreatedAt = now
		if _, err := s.CreateGoal(ctx, *userID, g); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed goal", "title", g.Title, "error", err)
			os.Exit(1)
		}
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully")
}
