package readings

import (
	"time"

	"powerstation-cloud/internal/ecocloud"
)

// Derived device status values. The vendor never reports a status
// directly; it is classified from power flow and battery level.
const (
	StatusCharging    = "charging"
	StatusDischarging = "discharging"
	StatusFull        = "full"
	StatusLow         = "low"
	StatusStandby     = "standby"
)

// Charging source classification.
const (
	ChargingTypeNone  = "none"
	ChargingTypeAC    = "ac"
	ChargingTypeDC    = "dc"
	ChargingTypeSolar = "solar"
)

// Reading is one normalized telemetry sample for a device. Readings are
// immutable once created and appended-only in storage.
type Reading struct {
	DeviceID         string
	BatteryLevelPct  float64
	InputWatts       float64
	ACInputWatts     float64
	DCInputWatts     float64
	ChargingType     *string
	OutputWatts      float64
	ACOutputWatts    float64
	DCOutputWatts    float64
	USBOutputWatts   float64
	RemainingTimeMin *float64
	TemperatureC     float64
	Status           string
	RawQuota         ecocloud.RawQuota
	RecordedAt       time.Time
}
