// Package config holds the process-wide defaults for per-user settings and
// loads a user's stored settings on top of them.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/wattlog/wattlog/pkg/calc"
	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/types"
)

// SettingsStore is the part of the store holding versioned settings.
type SettingsStore interface {
	GetSettings(ctx context.Context, userID string) (types.Settings, int, error)
	SetSettings(ctx context.Context, userID string, settings types.Settings, version int) error
}

// Config is the process configuration shared by every user.
type Config struct {
	// Defaults fill every setting a user has not overridden.
	Defaults types.Settings
	// Location decides where calendar days start and end.
	Location *time.Location
}

// Default returns the configuration used when no flags are given.
func Default() *Config {
	loc, err := time.LoadLocation("Europe/Istanbul")
	if err != nil {
		loc = time.FixedZone("TRT", 3*60*60)
	}
	return &Config{
		Defaults: types.Settings{
			PricePerKWh:     2.5,
			CO2FactorPerKWh: 0.472,
			ResetPolicy:     types.ResetPolicyClear,
			DailyAlertKWh:   10,
		},
		Location: loc,
	}
}

// Configured registers the configuration flags and returns the Config they
// populate once lflag.Configure has run.
func Configured() *Config {
	price := lflag.String("price-per-kwh", "2.5", "Default price of one kWh")
	co2 := lflag.String("co2-factor", "0.472", "Default kg of CO2 emitted per kWh")
	policy := lflag.String("reset-policy", string(types.ResetPolicyClear), "What the day rollover does to devices (available: clear, zero-usage)")
	alert := lflag.String("daily-alert-kwh", "10", "Default daily kWh above which a high consumption notification is sent, 0 disables")
	tz := lflag.String("timezone", "Europe/Istanbul", "IANA time zone whose calendar days are archived")

	c := Default()

	lflag.Do(func() {
		var err error
		if c.Defaults.PricePerKWh, err = parsePositive(*price); err != nil {
			panic(fmt.Sprintf("invalid --price-per-kwh: %v", err))
		}
		if c.Defaults.CO2FactorPerKWh, err = parsePositive(*co2); err != nil {
			panic(fmt.Sprintf("invalid --co2-factor: %v", err))
		}
		if c.Defaults.DailyAlertKWh, err = parsePositive(*alert); err != nil {
			panic(fmt.Sprintf("invalid --daily-alert-kwh: %v", err))
		}
		c.Defaults.ResetPolicy = types.ResetPolicy(*policy)
		if !c.Defaults.ResetPolicy.Valid() {
			panic(fmt.Sprintf("unknown reset policy: %s", *policy))
		}
		loc, err := time.LoadLocation(*tz)
		if err != nil {
			panic(fmt.Sprintf("invalid --timezone: %v", err))
		}
		c.Location = loc
	})

	return c
}

func parsePositive(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("must not be negative: %v", v)
	}
	return v, nil
}

// Rates returns the default rates.
func (c *Config) Rates() calc.Rates {
	return calc.RatesFromSettings(c.Defaults)
}

// Settings loads the user's settings, migrates them if they are from an older
// version and fills the rest from the defaults. Store failures are logged and
// the defaults are returned.
func (c *Config) Settings(ctx context.Context, store SettingsStore, userID string) types.Settings {
	settings, version, err := store.GetSettings(ctx, userID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings, using defaults", slog.String("userID", userID), slog.Any("error", err))
		return c.Defaults
	}

	// Check for migration
	if version < types.CurrentSettingsVersion {
		newSettings, changed, err := types.MigrateSettings(settings, version)
		if err != nil {
			// Log error but use settings as is (best effort)
			log.Ctx(ctx).ErrorContext(ctx, "failed to migrate settings", slog.String("userID", userID), slog.Int("currentVersion", version), slog.Any("error", err))
		} else if changed {
			log.Ctx(ctx).InfoContext(ctx, "migrating settings", slog.String("userID", userID), slog.Int("oldVersion", version), slog.Int("newVersion", types.CurrentSettingsVersion))
			if err := store.SetSettings(ctx, userID, newSettings, types.CurrentSettingsVersion); err != nil {
				// the migrated settings are still used for this call
				log.Ctx(ctx).ErrorContext(ctx, "failed to save migrated settings", slog.String("userID", userID), slog.Any("error", err))
			}
			settings = newSettings
		}
	}

	return settings.Resolve(c.Defaults)
}
