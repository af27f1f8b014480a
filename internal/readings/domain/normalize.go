package readings

import (
	"time"

	"powerstation-cloud/internal/ecocloud"
)

// Classification thresholds. The noise floor absorbs inverter idle draw
// and metering jitter so a device trickling a few watts is not flagged
// as charging or discharging.
const (
	NoiseFloorWatts    = 10.0
	BatteryFullPct     = 95.0
	BatteryLowPct      = 10.0
	RoundingSlackWatts = 5.0
)

// Recognized quota keys. Anything else in the snapshot is passed through
// verbatim in Reading.RawQuota.
const (
	keyBatterySOC    = "bms_bmsStatus.soc"
	keyBatterySOCAlt = "pd.soc"
	keyBatteryTemp   = "bms_bmsStatus.temp"
	keyRemainTime    = "pd.remainTime"
	keyChargePower   = "pd.chgPowerType"

	keyInputTotal = "pd.wattsInSum"
	keyInputAC    = "inv.inputWatts"
	keyInputDC    = "mppt.inWatts"

	keyOutputTotal = "pd.wattsOutSum"
	keyOutputAC    = "inv.outputWatts"
	keyOutputDC    = "pd.carWatts"
)

// USB channels are summed into a single output figure.
var usbOutputKeys = []string{
	"pd.usb1Watts",
	"pd.usb2Watts",
	"pd.qcUsb1Watts",
	"pd.qcUsb2Watts",
	"pd.typec1Watts",
	"pd.typec2Watts",
}

// Normalize maps a raw vendor snapshot into a Reading. It returns nil
// when the snapshot is empty: absence of data is a gap, not a fault.
// The function is deterministic and side-effect free; RecordedAt is the
// caller-supplied now.
func Normalize(raw ecocloud.RawQuota, deviceID string, now time.Time) *Reading {
	if len(raw) == 0 {
		return nil
	}

	battery := metric(raw, keyBatterySOC)
	if _, ok := raw[keyBatterySOC]; !ok {
		battery = metric(raw, keyBatterySOCAlt)
	}

	acIn := metric(raw, keyInputAC)
	dcIn := metric(raw, keyInputDC)
	totalIn := metric(raw, keyInputTotal)
	// The vendor sometimes reports only one channel; the headline input
	// is whichever figure is larger.
	inputWatts := totalIn
	if sum := acIn + dcIn; sum > inputWatts {
		inputWatts = sum
	}

	acOut := metric(raw, keyOutputAC)
	dcOut := metric(raw, keyOutputDC)
	usbOut := 0.0
	for _, key := range usbOutputKeys {
		usbOut += metric(raw, key)
	}
	outputWatts := headlineOutput(raw, acOut, dcOut, usbOut)

	reading := &Reading{
		DeviceID:        deviceID,
		BatteryLevelPct: battery,
		InputWatts:      inputWatts,
		ACInputWatts:    acIn,
		DCInputWatts:    dcIn,
		OutputWatts:     outputWatts,
		ACOutputWatts:   acOut,
		DCOutputWatts:   dcOut,
		USBOutputWatts:  usbOut,
		TemperatureC:    metric(raw, keyBatteryTemp),
		RawQuota:        raw,
		RecordedAt:      now,
	}

	if value, ok := raw[keyRemainTime]; ok {
		minutes := value.Physical()
		reading.RemainingTimeMin = &minutes
	}
	if value, ok := raw[keyChargePower]; ok {
		chargingType := classifyChargingType(value.Physical())
		reading.ChargingType = &chargingType
	}

	reading.Status = classifyStatus(inputWatts, outputWatts, battery)
	return reading
}

// headlineOutput picks the total output figure by tiered fallback: the
// reported sum, then the inverter output, then the channel sum. The
// channel figures are always retained independently, so a fallback never
// loses information. The headline is clamped so it cannot undercut any
// single channel or the channel sum beyond rounding slack.
func headlineOutput(raw ecocloud.RawQuota, acOut, dcOut, usbOut float64) float64 {
	channelSum := acOut + dcOut + usbOut

	headline := metric(raw, keyOutputTotal)
	if headline == 0 {
		headline = acOut
	}
	if headline == 0 {
		headline = channelSum
	}

	if headline < channelSum-RoundingSlackWatts {
		headline = channelSum
	}
	for _, channel := range []float64{acOut, dcOut, usbOut} {
		if headline < channel {
			headline = channel
		}
	}
	return headline
}

func classifyStatus(inputWatts, outputWatts, battery float64) string {
	switch {
	case inputWatts-outputWatts > NoiseFloorWatts:
		return StatusCharging
	case outputWatts-inputWatts > NoiseFloorWatts:
		return StatusDischarging
	case battery >= BatteryFullPct:
		return StatusFull
	case battery < BatteryLowPct:
		return StatusLow
	default:
		return StatusStandby
	}
}

func classifyChargingType(code float64) string {
	switch code {
	case 1:
		return ChargingTypeAC
	case 2:
		return ChargingTypeDC
	case 3:
		return ChargingTypeSolar
	default:
		return ChargingTypeNone
	}
}

func metric(raw ecocloud.RawQuota, key string) float64 {
	value, ok := raw[key]
	if !ok {
		return 0
	}
	return value.Physical()
}
