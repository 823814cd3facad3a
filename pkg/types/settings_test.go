package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateSettings(t *testing.T) {
	t.Run("v1: initial defaults", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{}, 0)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 10.0, s.DailyAlertKWh)
	})

	t.Run("v1: keeps explicit alert", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{DailyAlertKWh: 4}, 0)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, 4.0, s.DailyAlertKWh)
	})

	t.Run("v1 to v2: delete policy renamed", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{ResetPolicy: "delete", DailyAlertKWh: 10}, 1)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, ResetPolicyClear, s.ResetPolicy)
	})

	t.Run("no change: current version", func(t *testing.T) {
		current := Settings{
			PricePerKWh: 1.5,
			ResetPolicy: "delete",
		}
		s, changed, err := MigrateSettings(current, CurrentSettingsVersion)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, current, s)
	})
}

func TestSettingsResolve(t *testing.T) {
	defaults := Settings{
		PricePerKWh:     2.5,
		CO2FactorPerKWh: 0.472,
		ResetPolicy:     ResetPolicyClear,
		DailyAlertKWh:   10,
	}

	t.Run("empty takes defaults", func(t *testing.T) {
		assert.Equal(t, defaults, Settings{}.Resolve(defaults))
	})

	t.Run("overrides kept", func(t *testing.T) {
		s := Settings{
			PricePerKWh:     1.5,
			CO2FactorPerKWh: 0.52,
			ResetPolicy:     ResetPolicyZeroUsage,
			DailyAlertKWh:   3,
		}
		assert.Equal(t, s, s.Resolve(defaults))
	})

	t.Run("unknown policy replaced", func(t *testing.T) {
		s := Settings{ResetPolicy: "nuke"}.Resolve(defaults)
		assert.Equal(t, ResetPolicyClear, s.ResetPolicy)
	})
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod(" Weekly ")
	require.NoError(t, err)
	assert.Equal(t, PeriodWeekly, p)

	_, err = ParsePeriod("hourly")
	assert.ErrorContains(t, err, "unknown period")

	_, err = ParsePeriod("")
	assert.Error(t, err)
}

func TestSettingsResolveAlertDisabled(t *testing.T) {
	s := Settings{DailyAlertKWh: -1}.Resolve(Settings{DailyAlertKWh: 10})
	assert.Equal(t, -1.0, s.DailyAlertKWh)
}
