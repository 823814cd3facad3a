package types

import (
	"fmt"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 2

// ResetPolicy decides what happens to the device registry at day rollover.
type ResetPolicy string

const (
	// ResetPolicyClear removes every device from the registry.
	ResetPolicyClear ResetPolicy = "clear"
	// ResetPolicyZeroUsage keeps the devices but zeroes their daily usage.
	ResetPolicyZeroUsage ResetPolicy = "zero-usage"
)

// Valid reports whether p is a known policy.
func (p ResetPolicy) Valid() bool {
	return p == ResetPolicyClear || p == ResetPolicyZeroUsage
}

// Settings represents the per-user configuration stored in the database.
// Zero values mean "use the process default".
type Settings struct {
	// Price of one kWh in the user's currency.
	PricePerKWh float64 `json:"pricePerKWh"`
	// Emission factor in kg CO2 per kWh.
	CO2FactorPerKWh float64 `json:"co2FactorPerKWh"`

	ResetPolicy ResetPolicy `json:"resetPolicy"`

	// DailyAlertKWh raises a high consumption notification once per day when
	// the daily total goes above it. Negative values disable the alert.
	DailyAlertKWh float64 `json:"dailyAlertKWh"`
}

// Resolve fills every zero field of s from defaults.
func (s Settings) Resolve(defaults Settings) Settings {
	if s.PricePerKWh <= 0 {
		s.PricePerKWh = defaults.PricePerKWh
	}
	if s.CO2FactorPerKWh <= 0 {
		s.CO2FactorPerKWh = defaults.CO2FactorPerKWh
	}
	if !s.ResetPolicy.Valid() {
		s.ResetPolicy = defaults.ResetPolicy
	}
	if s.DailyAlertKWh == 0 {
		s.DailyAlertKWh = defaults.DailyAlertKWh
	}
	return s
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial, the app alerted above 10 kWh a day by default
			if s.DailyAlertKWh == 0 {
				s.DailyAlertKWh = 10
				migrated = true
			}
		case 2:
			// version 2: the reset policy used to be stored as "delete"
			if s.ResetPolicy == "delete" {
				s.ResetPolicy = ResetPolicyClear
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
