package puller

import (
	"time"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

// Window is a time-ordered queue of readings. Readings are appended in
// measurement order, so trimming only ever inspects the front.
type Window struct {
	readings []models.Reading
}

// Append adds r at the back
func (w *Window) Append(r models.Reading) {
	w.readings = append(w.readings, r)
}

// TrimBefore drops readings measured before deadline and returns how many
// were dropped
func (w *Window) TrimBefore(deadline time.Time) int {
	n := 0
	for n < len(w.readings) && w.readings[n].MeasurementTime.Before(deadline) {
		n++
	}
	if n == 0 {
		return 0
	}
	w.readings = append(w.readings[:0], w.readings[n:]...)
	return n
}

// Len returns the number of readings held
func (w *Window) Len() int {
	return len(w.readings)
}

// Readings returns a copy of the held readings, oldest first
func (w *Window) Readings() []models.Reading {
	out := make([]models.Reading, len(w.readings))
	copy(out, w.readings)
	return out
}

// Last returns the most recently appended reading
func (w *Window) Last() (models.Reading, bool) {
	if len(w.readings) == 0 {
		return models.Reading{}, false
	}
	return w.readings[len(w.readings)-1], true
}

// Clear empties the window
func (w *Window) Clear() {
	w.readings = w.readings[:0]
}
