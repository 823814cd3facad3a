package types

import "time"

// DeviceType is the closed set of device categories. It drives the per-type
// buckets of the daily breakdown.
type DeviceType string

const (
	DeviceTypeHeatingCooling DeviceType = "heatingCooling"
	DeviceTypeElectronics    DeviceType = "electronics"
	DeviceTypeLighting       DeviceType = "lighting"
	DeviceTypeHomeAppliance  DeviceType = "homeAppliance"
)

// DeviceTypes lists every known device type in display order.
var DeviceTypes = []DeviceType{
	DeviceTypeHeatingCooling,
	DeviceTypeElectronics,
	DeviceTypeLighting,
	DeviceTypeHomeAppliance,
}

// Valid reports whether t is one of the known device types.
func (t DeviceType) Valid() bool {
	for _, known := range DeviceTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Label returns the human readable name of the device type.
func (t DeviceType) Label() string {
	switch t {
	case DeviceTypeHeatingCooling:
		return "Heating/Cooling"
	case DeviceTypeElectronics:
		return "Electronics"
	case DeviceTypeLighting:
		return "Lighting"
	case DeviceTypeHomeAppliance:
		return "Home Appliance"
	default:
		return string(t)
	}
}

// Device is a single household device in a user's registry.
type Device struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Type DeviceType `json:"type"`
	// PowerWatts is the rated power draw in watts.
	PowerWatts Quantity `json:"powerWatts"`
	// DailyUsageHours is how many hours a day the device runs.
	DailyUsageHours Quantity `json:"dailyUsageHours"`
	// Active is nil for devices written before the flag existed; those count
	// as active.
	Active *bool `json:"active,omitempty"`

	// DailyKWh is stamped onto archived snapshots for consumers. Aggregation
	// never reads it.
	DailyKWh float64 `json:"dailyKWh,omitempty"`

	// AddedDate is the date key of the day the device was added.
	AddedDate string    `json:"addedDate,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsActive reports whether the device counts towards aggregation.
func (d Device) IsActive() bool {
	return d.Active == nil || *d.Active
}

// CopyDevices returns a shallow copy of the device map so callers can hold a
// snapshot that is not mutated by later store updates.
func CopyDevices(devices map[string]Device) map[string]Device {
	out := make(map[string]Device, len(devices))
	for id, d := range devices {
		out[id] = d
	}
	return out
}
