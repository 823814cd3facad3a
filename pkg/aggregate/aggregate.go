// Package aggregate turns the live device registry and the daily archive into
// labeled consumption series and totals for a period.
package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/wattlog/wattlog/pkg/calc"
	"github.com/wattlog/wattlog/pkg/calendar"
	"github.com/wattlog/wattlog/pkg/types"
)

// ErrInvalidPeriod is returned when the period selector is missing or unknown.
var ErrInvalidPeriod = errors.New("aggregate: invalid period")

const otherLabel = "Other"

var weekdayLabels = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// Aggregator computes AggregationResults. It holds no per-call state and is
// safe for concurrent use.
type Aggregator struct {
	rates calc.Rates
	clock calendar.Clock
	loc   *time.Location
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the clock used to find the current period.
func WithClock(c calendar.Clock) Option {
	return func(a *Aggregator) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithLocation sets the location whose calendar days are aggregated.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// New returns an Aggregator using rates for cost and CO2.
func New(rates calc.Rates, opts ...Option) *Aggregator {
	a := &Aggregator{
		rates: rates,
		clock: calendar.SystemClock{},
		loc:   time.UTC,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WithRates returns a copy of a using different rates.
func (a *Aggregator) WithRates(rates calc.Rates) *Aggregator {
	cp := *a
	cp.rates = rates
	return &cp
}

// Location returns the location the aggregator works in.
func (a *Aggregator) Location() *time.Location {
	return a.loc
}

func (a *Aggregator) now() time.Time {
	return a.clock.Now().In(a.loc)
}

// ComputeSeries computes the series and totals for period. devices is the live
// registry, archive maps date keys to entries and must cover the prefixes
// returned by ArchivePrefixes. Neither is modified. Malformed records count as
// zero; only an invalid period is an error.
func (a *Aggregator) ComputeSeries(period types.Period, devices map[string]types.Device, archive map[string]types.ArchiveEntry) (types.AggregationResult, error) {
	now := a.now()
	res := types.AggregationResult{
		Period:      period,
		GeneratedAt: now,
	}

	days := a.dayTotals(archive)

	switch period {
	case types.PeriodDaily:
		res.PeriodStart = calendar.StartOfDay(now)
		byType := calc.DevicesKWhByType(devices)
		for _, t := range types.DeviceTypes {
			res.Series = append(res.Series, types.SeriesPoint{Label: t.Label(), Value: byType[t]})
		}
		// unknown types still count toward the day
		if other := calc.UntypedKWh(devices); other > 0 {
			res.Series = append(res.Series, types.SeriesPoint{Label: otherLabel, Value: other})
		}
		yesterday := calendar.AddDays(res.PeriodStart, -1)
		for _, d := range days {
			if d.date.Equal(yesterday) {
				res.PreviousKWh += d.kwh
			}
		}

	case types.PeriodWeekly:
		res.PeriodStart = calendar.StartOfWeek(now)
		end := calendar.AddDays(res.PeriodStart, 7)
		prevStart := calendar.AddDays(res.PeriodStart, -7)
		values := make([]float64, 7)
		for _, d := range days {
			switch {
			case within(d.date, res.PeriodStart, end):
				values[calendar.WeekdayIndex(d.date)] += d.kwh
			case within(d.date, prevStart, res.PeriodStart):
				res.PreviousKWh += d.kwh
			}
		}
		for i, v := range values {
			res.Series = append(res.Series, types.SeriesPoint{Label: weekdayLabels[i], Value: v})
		}

	case types.PeriodMonthly:
		res.PeriodStart = calendar.StartOfMonth(now)
		end := res.PeriodStart.AddDate(0, 1, 0)
		prevStart := res.PeriodStart.AddDate(0, -1, 0)
		buckets := make([]float64, calendar.MonthBuckets(now))
		for _, d := range days {
			switch {
			case within(d.date, res.PeriodStart, end):
				buckets[calendar.MonthBucket(d.date.Day())] += d.kwh
			case within(d.date, prevStart, res.PeriodStart):
				res.PreviousKWh += d.kwh
			}
		}
		// trailing empty weeks are dropped but the first one always stays
		last := 0
		for i, v := range buckets {
			if v != 0 {
				last = i
			}
		}
		for i := 0; i <= last; i++ {
			res.Series = append(res.Series, types.SeriesPoint{Label: fmt.Sprintf("Week %d", i+1), Value: buckets[i]})
		}

	case types.PeriodYearly:
		res.PeriodStart = calendar.StartOfYear(now)
		end := res.PeriodStart.AddDate(1, 0, 0)
		prevStart := res.PeriodStart.AddDate(-1, 0, 0)
		months := make([]float64, 12)
		for _, d := range days {
			switch {
			case within(d.date, res.PeriodStart, end):
				months[d.date.Month()-1] += d.kwh
			case within(d.date, prevStart, res.PeriodStart):
				res.PreviousKWh += d.kwh
			}
		}
		for i, v := range months {
			res.Series = append(res.Series, types.SeriesPoint{Label: time.Month(i + 1).String()[:3], Value: v})
		}

	default:
		return types.AggregationResult{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}

	var total float64
	if period == types.PeriodDaily {
		total = calc.DevicesKWh(devices)
	} else {
		for _, p := range res.Series {
			total += p.Value
		}
	}
	res.Totals = types.Totals{
		ConsumptionKWh: total,
		Cost:           a.rates.Cost(total),
		CO2Kg:          a.rates.CO2(total),
		SavingsPercent: calc.SavingsPercent(res.PreviousKWh, total),
	}
	return res, nil
}

type dayTotal struct {
	date time.Time
	kwh  float64
}

// dayTotals returns the consumption of every well-formed date key in archive.
func (a *Aggregator) dayTotals(archive map[string]types.ArchiveEntry) []dayTotal {
	days := make([]dayTotal, 0, len(archive))
	for key, entry := range archive {
		date, err := calendar.ParseDateKey(key, a.loc)
		if err != nil {
			continue
		}
		days = append(days, dayTotal{date: date, kwh: calc.DevicesKWh(entry.Devices)})
	}
	return days
}

func within(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

// ArchivePrefixes returns the date-key prefixes ComputeSeries needs to see for
// period, including the previous period used for savings.
func (a *Aggregator) ArchivePrefixes(period types.Period) ([]string, error) {
	now := a.now()
	switch period {
	case types.PeriodDaily:
		return []string{calendar.DateKey(calendar.AddDays(calendar.StartOfDay(now), -1))}, nil
	case types.PeriodWeekly:
		start := calendar.StartOfWeek(now)
		return calendar.MonthPrefixes(calendar.AddDays(start, -7), calendar.AddDays(start, 6)), nil
	case types.PeriodMonthly:
		start := calendar.StartOfMonth(now)
		return calendar.MonthPrefixes(start.AddDate(0, -1, 0), start), nil
	case types.PeriodYearly:
		start := calendar.StartOfYear(now)
		return []string{calendar.YearPrefix(start.AddDate(-1, 0, 0)), calendar.YearPrefix(start)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
}

// Present returns a copy of res with every value rounded to two decimals.
func Present(res types.AggregationResult) types.AggregationResult {
	out := res
	out.Series = make([]types.SeriesPoint, len(res.Series))
	for i, p := range res.Series {
		out.Series[i] = types.SeriesPoint{Label: p.Label, Value: calc.Round2(p.Value)}
	}
	out.PreviousKWh = calc.Round2(res.PreviousKWh)
	out.Totals = types.Totals{
		ConsumptionKWh: calc.Round2(res.Totals.ConsumptionKWh),
		Cost:           calc.Round2(res.Totals.Cost),
		CO2Kg:          calc.Round2(res.Totals.CO2Kg),
		SavingsPercent: calc.Round2(res.Totals.SavingsPercent),
	}
	return out
}

// dedupe returns prefixes without duplicates or prefixes covered by a shorter
// one, sorted.
func dedupe(prefixes []string) []string {
	sorted := append([]string(nil), prefixes...)
	sort.Slice(sorted, func(i, j int) bool {
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) < len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})
	var out []string
	for _, p := range sorted {
		covered := false
		for _, kept := range out {
			if len(p) >= len(kept) && p[:len(kept)] == kept {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
