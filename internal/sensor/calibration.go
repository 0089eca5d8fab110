package sensor

import (
	"math"

	"github.com/KevinKickass/OpenGripCore/internal/types"
)

// Calibration converts raw ADC counts to physical units. All methods are pure.
type Calibration struct {
	types.SensorCalibration
}

func NewCalibration(c types.SensorCalibration) Calibration {
	return Calibration{SensorCalibration: c}
}

// GripPressure rescales [GripRawMin, GripRawMax] to an integer 0..100 with
// integer arithmetic, so 2048 of 0..4095 is 50. The result is clamped; ok is
// false when raw falls outside the calibration window.
func (c Calibration) GripPressure(raw int) (pressure int, ok bool) {
	span := c.GripRawMax - c.GripRawMin
	if span <= 0 {
		return 0, false
	}

	ok = raw >= c.GripRawMin && raw <= c.GripRawMax
	if raw < c.GripRawMin {
		raw = c.GripRawMin
	}
	if raw > c.GripRawMax {
		raw = c.GripRawMax
	}
	return (raw - c.GripRawMin) * 100 / span, ok
}

// Voltage converts raw counts to volts at the ADC pin.
func (c Calibration) Voltage(raw int) float64 {
	if c.FullScaleCounts <= 0 {
		return 0
	}
	return float64(raw) * c.ReferenceVoltage / float64(c.FullScaleCounts)
}

// MotorCurrent applies amps = (raw*Vref/FullScale - ZeroOffset) / Sensitivity.
// The value is returned as computed, negative included; ok is false when raw
// is outside the ADC range or the magnitude exceeds the sensor rating.
func (c Calibration) MotorCurrent(raw int) (amps float64, ok bool) {
	if c.CurrentSensitivityVPerA == 0 {
		return 0, false
	}

	amps = (c.Voltage(raw) - c.CurrentZeroOffsetV) / c.CurrentSensitivityVPerA
	ok = raw >= 0 && raw <= c.FullScaleCounts
	if c.CurrentRatedAmps > 0 && math.Abs(amps) > c.CurrentRatedAmps {
		ok = false
	}
	return amps, ok
}

// PowerLevel estimates remaining supply from the divided supply voltage,
// linear between SupplyEmptyV and SupplyFullV, clamped to 0..100.
func (c Calibration) PowerLevel(raw int) (level int, ok bool) {
	if c.SupplyFullV <= c.SupplyEmptyV || c.SupplyDividerRatio <= 0 {
		return 0, false
	}

	volts := c.Voltage(raw) * c.SupplyDividerRatio
	ok = raw >= 0 && raw <= c.FullScaleCounts

	frac := (volts - c.SupplyEmptyV) / (c.SupplyFullV - c.SupplyEmptyV)
	frac = math.Max(0, math.Min(1, frac))
	return int(math.Round(frac * 100)), ok
}

// HasSupplyChannel reports whether the calibration describes a supply divider.
func (c Calibration) HasSupplyChannel() bool {
	return c.SupplyDividerRatio > 0 && c.SupplyFullV > c.SupplyEmptyV
}
