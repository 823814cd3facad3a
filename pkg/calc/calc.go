// Package calc converts device specs into daily energy, cost and CO2. All
// functions are total: malformed input contributes zero instead of failing.
package calc

import (
	"math"

	"github.com/wattlog/wattlog/pkg/types"
)

// Rates converts energy into cost and emissions.
type Rates struct {
	PricePerKWh     float64
	CO2FactorPerKWh float64
}

// RatesFromSettings returns the rates of resolved settings.
func RatesFromSettings(s types.Settings) Rates {
	return Rates{
		PricePerKWh:     s.PricePerKWh,
		CO2FactorPerKWh: s.CO2FactorPerKWh,
	}
}

// Cost returns the price of kwh.
func (r Rates) Cost(kwh float64) float64 {
	return Sanitize(Sanitize(kwh) * Sanitize(r.PricePerKWh))
}

// CO2 returns the kg of CO2 emitted producing kwh.
func (r Rates) CO2(kwh float64) float64 {
	return Sanitize(Sanitize(kwh) * Sanitize(r.CO2FactorPerKWh))
}

// DeviceKWh returns the energy a device uses in one day. Missing, negative or
// non-finite power or usage yields 0.
func DeviceKWh(d types.Device) float64 {
	if !d.PowerWatts.Valid() || !d.DailyUsageHours.Valid() {
		return 0
	}
	return Sanitize(d.PowerWatts.Float() / 1000 * d.DailyUsageHours.Float())
}

// DevicesKWh sums DeviceKWh over the active devices.
func DevicesKWh(devices map[string]types.Device) float64 {
	var total float64
	for _, d := range devices {
		if !d.IsActive() {
			continue
		}
		total += DeviceKWh(d)
	}
	return total
}

// DevicesKWhByType sums DeviceKWh over the active devices per device type.
// Devices of unknown types are left out.
func DevicesKWhByType(devices map[string]types.Device) map[types.DeviceType]float64 {
	out := make(map[types.DeviceType]float64, len(types.DeviceTypes))
	for _, t := range types.DeviceTypes {
		out[t] = 0
	}
	for _, d := range devices {
		if !d.IsActive() || !d.Type.Valid() {
			continue
		}
		out[d.Type] += DeviceKWh(d)
	}
	return out
}

// UntypedKWh sums DeviceKWh over the active devices whose type is unknown.
func UntypedKWh(devices map[string]types.Device) float64 {
	var total float64
	for _, d := range devices {
		if !d.IsActive() || d.Type.Valid() {
			continue
		}
		total += DeviceKWh(d)
	}
	return total
}

// SavingsPercent is the decrease of current against previous in percent.
// Increases are negative. It is 0 when there is no previous consumption.
func SavingsPercent(previous, current float64) float64 {
	previous = Sanitize(previous)
	if previous <= 0 {
		return 0
	}
	return Sanitize((previous - Sanitize(current)) / previous * 100)
}

// Sanitize coerces NaN and infinities to 0.
func Sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Round2 rounds to two decimals, half away from zero. Only call it when
// handing values to consumers; sums stay unrounded.
func Round2(v float64) float64 {
	return math.Round(Sanitize(v)*100) / 100
}
