package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateKey(t *testing.T) {
	istanbul := time.FixedZone("TRT", 3*60*60)

	t.Run("zero padded", func(t *testing.T) {
		assert.Equal(t, "20240105", DateKey(time.Date(2024, 1, 5, 13, 0, 0, 0, time.UTC)))
	})

	t.Run("local calendar day", func(t *testing.T) {
		// 22:30 UTC is already the next day in Istanbul
		ts := time.Date(2024, 1, 31, 22, 30, 0, 0, time.UTC)
		assert.Equal(t, "20240131", DateKey(ts))
		assert.Equal(t, "20240201", DateKey(ts.In(istanbul)))
	})

	t.Run("display date", func(t *testing.T) {
		assert.Equal(t, "05.01.2024", DisplayDate(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)))
	})
}

func TestParseDateKey(t *testing.T) {
	t.Run("roundtrip", func(t *testing.T) {
		got, err := ParseDateKey("20240229", time.UTC)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), got)
		assert.Equal(t, "20240229", DateKey(got))
	})

	for _, key := range []string{"", "2024-01-01", "2024011", "202401011", "2024013a", "20240230", "20241301"} {
		t.Run("invalid "+key, func(t *testing.T) {
			_, err := ParseDateKey(key, time.UTC)
			assert.ErrorIs(t, err, ErrInvalidDateKey)
		})
	}
}

func TestWeekdayIndex(t *testing.T) {
	// 2024-01-01 is a Monday
	for i := 0; i < 7; i++ {
		d := time.Date(2024, 1, 1+i, 12, 0, 0, 0, time.UTC)
		assert.Equal(t, i, WeekdayIndex(d), d.Weekday().String())
	}
	assert.Equal(t, time.Sunday, time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC).Weekday())
}

func TestBoundaries(t *testing.T) {
	ts := time.Date(2024, 1, 3, 15, 4, 5, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), StartOfDay(ts))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), StartOfWeek(ts))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), StartOfMonth(ts))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), StartOfYear(ts))

	t.Run("week of a sunday starts the monday before", func(t *testing.T) {
		sunday := time.Date(2024, 1, 7, 23, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), StartOfWeek(sunday))
	})

	t.Run("week crossing a year", func(t *testing.T) {
		assert.Equal(t, time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC), StartOfWeek(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("add days across month end", func(t *testing.T) {
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), AddDays(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), 1))
	})
}

func TestMonthBuckets(t *testing.T) {
	assert.Equal(t, 0, MonthBucket(1))
	assert.Equal(t, 0, MonthBucket(7))
	assert.Equal(t, 1, MonthBucket(8))
	assert.Equal(t, 4, MonthBucket(29))
	assert.Equal(t, 4, MonthBucket(31))

	assert.Equal(t, 31, DaysInMonth(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 29, DaysInMonth(time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 28, DaysInMonth(time.Date(2023, 2, 15, 0, 0, 0, 0, time.UTC)))

	assert.Equal(t, 5, MonthBuckets(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 4, MonthBuckets(time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)))
}

func TestPrefixes(t *testing.T) {
	ts := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "202403", MonthPrefix(ts))
	assert.Equal(t, "2024", YearPrefix(ts))

	got := MonthPrefixes(time.Date(2023, 11, 20, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, []string{"202311", "202312", "202401", "202402"}, got)

	assert.Nil(t, MonthPrefixes(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestFixedClock(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now, FixedClock(now).Now())
}
