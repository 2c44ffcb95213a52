// Package sanity decides whether a freshly decoded sensor reading is plausible
// enough to keep. It checks freshness and decode integrity only; sensor values
// are not range checked.
package sanity

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

// DefaultMaxSkew is the largest accepted distance between a reading's
// measurement time and the current time.
const DefaultMaxSkew = 20 * time.Second

// Checker validates readings
type Checker struct {
	maxSkew time.Duration
	logger  *slog.Logger
}

// Option configures a Checker
type Option func(*Checker)

// WithMaxSkew overrides DefaultMaxSkew
func WithMaxSkew(d time.Duration) Option {
	return func(c *Checker) {
		c.maxSkew = d
	}
}

// WithLogger sets the logger used for debug output
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

// New creates a Checker
func New(opts ...Option) *Checker {
	c := &Checker{
		maxSkew: DefaultMaxSkew,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check reports whether r is sane at time now. When it is not, the second
// return value names the first rule that failed.
func (c *Checker) Check(r models.Reading, now time.Time) (bool, string) {
	if r.MeasurementTime.IsZero() {
		return false, "measurementTime not set"
	}

	delta := now.Sub(r.MeasurementTime).Seconds()
	if math.Abs(delta) > c.maxSkew.Seconds() {
		return false, fmt.Sprintf("measurementTime more than %gs off: %f", c.maxSkew.Seconds(), delta)
	}

	for _, ch := range r.FloatChannels() {
		if !ch.Value.Valid {
			continue
		}
		if math.IsNaN(ch.Value.Float64) || math.IsInf(ch.Value.Float64, 0) {
			return false, fmt.Sprintf("%s not a finite float: %v", ch.Name, ch.Value.Float64)
		}
	}

	fields := r.StringFields()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := fields[name]
		if s.Valid && !utf8.ValidString(s.String) {
			return false, fmt.Sprintf("%s not valid text: %q", name, s.String)
		}
	}

	c.logger.Debug("reading is sane", "measurementTime", r.MeasurementTime, "skew", delta)
	return true, ""
}
