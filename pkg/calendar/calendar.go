// Package calendar holds the date arithmetic shared by aggregation, the
// archive and the rollover controller. Every function works on the calendar of
// the location of the time it is given; callers convert to the user's location
// first.
package calendar

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DateKeyLayout formats the archive key of a day, e.g. 20240131.
	DateKeyLayout = "20060102"
	// MonthPrefixLayout formats the archive key prefix of a month.
	MonthPrefixLayout = "200601"
	// YearPrefixLayout formats the archive key prefix of a year.
	YearPrefixLayout = "2006"
	// DisplayDateLayout formats a day for people, e.g. 31.01.2024.
	DisplayDateLayout = "02.01.2006"
)

// ErrInvalidDateKey is returned when a string is not a YYYYMMDD date key.
var ErrInvalidDateKey = errors.New("calendar: invalid date key")

// DateKey returns the YYYYMMDD key of the calendar day t falls on.
func DateKey(t time.Time) string {
	return t.Format(DateKeyLayout)
}

// DisplayDate returns the DD.MM.YYYY form of the calendar day t falls on.
func DisplayDate(t time.Time) string {
	return t.Format(DisplayDateLayout)
}

// ParseDateKey parses a YYYYMMDD key into midnight of that day in loc. Keys
// that are not exactly eight ASCII digits forming a real date are rejected.
func ParseDateKey(key string, loc *time.Location) (time.Time, error) {
	if len(key) != len(DateKeyLayout) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateKey, key)
	}
	for i := 0; i < len(key); i++ {
		if key[i] < '0' || key[i] > '9' {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateKey, key)
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateKeyLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateKey, key)
	}
	return t, nil
}

// WeekdayIndex maps t to a Monday-first index: 0 is Monday and 6 is Sunday.
// time.Weekday counts from Sunday so every caller must go through this.
func WeekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// StartOfDay returns midnight of the day t falls on.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns midnight of the Monday of the week t falls in.
func StartOfWeek(t time.Time) time.Time {
	return AddDays(StartOfDay(t), -WeekdayIndex(t))
}

// StartOfMonth returns midnight of the first day of t's month.
func StartOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// StartOfYear returns midnight of January 1st of t's year.
func StartOfYear(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
}

// AddDays moves t by n calendar days. It uses the calendar rather than 24h
// steps so days stay aligned across DST changes.
func AddDays(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+n, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// DaysInMonth returns the number of days of t's month.
func DaysInMonth(t time.Time) int {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// MonthBucket returns the zero-based 7-day bucket of a day of the month:
// days 1-7 are bucket 0, 8-14 bucket 1 and so on.
func MonthBucket(dayOfMonth int) int {
	if dayOfMonth < 1 {
		return 0
	}
	return (dayOfMonth - 1) / 7
}

// MonthBuckets returns how many 7-day buckets t's month has.
func MonthBuckets(t time.Time) int {
	return (DaysInMonth(t) + 6) / 7
}

// MonthPrefix returns the YYYYMM prefix shared by every date key of t's month.
func MonthPrefix(t time.Time) string {
	return t.Format(MonthPrefixLayout)
}

// YearPrefix returns the YYYY prefix shared by every date key of t's year.
func YearPrefix(t time.Time) string {
	return t.Format(YearPrefixLayout)
}

// MonthPrefixes returns the month prefixes of every month from from through
// to, in order. It returns nil when to is before from.
func MonthPrefixes(from, to time.Time) []string {
	start := StartOfMonth(from)
	end := StartOfMonth(to.In(from.Location()))
	var prefixes []string
	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		prefixes = append(prefixes, MonthPrefix(m))
	}
	return prefixes
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock time.Time

// Now implements Clock.
func (c FixedClock) Now() time.Time { return time.Time(c) }
