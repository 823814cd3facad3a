package config

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/storage/storagemock"
	"github.com/wattlog/wattlog/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	c := Default()

	t.Run("store error falls back to defaults", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, "u1").Return(types.Settings{}, 0, errors.New("unavailable"))

		assert.Equal(t, c.Defaults, c.Settings(ctx, db, "u1"))
		db.AssertNotCalled(t, "SetSettings", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("old version migrated and saved", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, "u1").Return(types.Settings{PricePerKWh: 1.5, ResetPolicy: "delete"}, 0, nil)
		db.On("SetSettings", mock.Anything, "u1", types.Settings{PricePerKWh: 1.5, ResetPolicy: types.ResetPolicyClear, DailyAlertKWh: 10}, types.CurrentSettingsVersion).Return(nil)

		s := c.Settings(ctx, db, "u1")
		assert.Equal(t, 1.5, s.PricePerKWh)
		assert.Equal(t, 0.472, s.CO2FactorPerKWh)
		assert.Equal(t, types.ResetPolicyClear, s.ResetPolicy)
		assert.Equal(t, 10.0, s.DailyAlertKWh)
		db.AssertExpectations(t)
	})

	t.Run("save failure still uses migrated settings", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, "u1").Return(types.Settings{ResetPolicy: types.ResetPolicyZeroUsage}, 0, nil)
		db.On("SetSettings", mock.Anything, "u1", mock.Anything, types.CurrentSettingsVersion).Return(errors.New("read only"))

		s := c.Settings(ctx, db, "u1")
		assert.Equal(t, types.ResetPolicyZeroUsage, s.ResetPolicy)
		assert.Equal(t, 2.5, s.PricePerKWh)
	})

	t.Run("current version not saved", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSettings", mock.Anything, "u1").Return(types.Settings{CO2FactorPerKWh: 0.52}, types.CurrentSettingsVersion, nil)

		s := c.Settings(ctx, db, "u1")
		assert.Equal(t, 0.52, s.CO2FactorPerKWh)
		assert.Equal(t, 2.5, s.PricePerKWh)
		db.AssertNotCalled(t, "SetSettings", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.NotNil(t, c.Location)
	assert.Equal(t, 2.5, c.Rates().PricePerKWh)
	assert.Equal(t, 0.472, c.Rates().CO2FactorPerKWh)
}

func TestParsePositive(t *testing.T) {
	v, err := parsePositive("1.5")
	assert.NoError(t, err)
	assert.Equal(t, 1.5, v)

	_, err = parsePositive("-1")
	assert.Error(t, err)

	_, err = parsePositive("abc")
	assert.Error(t, err)
}
