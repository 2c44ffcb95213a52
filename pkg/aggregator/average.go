// Package aggregator combines a run of readings into one averaged reading.
package aggregator

import (
	"errors"

	"github.com/guregu/null"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

// ErrEmptyAggregation is returned when there is nothing to average
var ErrEmptyAggregation = errors.New("cannot average an empty list of readings")

// Average returns a new Reading whose float channels are the arithmetic mean of
// readings. A channel absent from any reading is absent from the result.
//
// Identity fields (serial number, LED mode, firmware, model, boot counters) and
// the measurement time are copied from the last reading; callers restamp the
// time as needed. The input is not modified.
func Average(readings []models.Reading) (models.Reading, error) {
	if len(readings) == 0 {
		return models.Reading{}, ErrEmptyAggregation
	}

	last := readings[len(readings)-1]
	avg := models.Reading{
		MeasurementTime: last.MeasurementTime,
		SerialNo:        last.SerialNo,
		LedMode:         last.LedMode,
		Firmware:        last.Firmware,
		Model:           last.Model,
		Boot:            last.Boot,
		BootCount:       last.BootCount,
	}

	inputs := make([][]models.FloatChannel, len(readings))
	for j := range readings {
		inputs[j] = readings[j].FloatChannels()
	}

	count := float64(len(readings))
	for i, ch := range avg.FloatChannels() {
		sum := 0.0
		present := true
		for _, in := range inputs {
			v := *in[i].Value
			if !v.Valid {
				present = false
				break
			}
			sum += v.Float64
		}
		if present {
			*ch.Value = null.FloatFrom(sum / count)
		}
	}

	return avg, nil
}
