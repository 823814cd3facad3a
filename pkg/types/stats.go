package types

import "time"

// SeriesPoint is a single labeled value of an aggregation series.
type SeriesPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Totals summarizes an aggregation series.
type Totals struct {
	ConsumptionKWh float64 `json:"consumptionKWh"`
	Cost           float64 `json:"cost"`
	CO2Kg          float64 `json:"co2Kg"`
	// SavingsPercent is the decrease against the previous period of the same
	// length. Negative values mean consumption went up.
	SavingsPercent float64 `json:"savingsPercent"`
}

// AggregationResult is the response type for a period aggregation.
type AggregationResult struct {
	Period      Period        `json:"period"`
	Series      []SeriesPoint `json:"series"`
	Totals      Totals        `json:"totals"`
	PreviousKWh float64       `json:"previousKWh"`
	// PeriodStart is the first day covered by the series.
	PeriodStart time.Time `json:"periodStart"`
	GeneratedAt time.Time `json:"generatedAt"`
}
