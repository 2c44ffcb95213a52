package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/guregu/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/database"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/sanity"
)

type scriptedPuller struct {
	readings []models.Reading
	err      error
	pulls    int
}

func (p *scriptedPuller) GetProviderType() string { return "scripted" }

func (p *scriptedPuller) Pull(ctx context.Context) (models.Reading, error) {
	if p.err != nil {
		return models.Reading{}, p.err
	}
	r := p.readings[p.pulls%len(p.readings)]
	p.pulls++
	return r, nil
}

func (p *scriptedPuller) Reset() {}

func newSelfTest(t *testing.T, p *scriptedPuller, now time.Time) (*selfTest, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	return &selfTest{
		out:     out,
		puller:  p,
		checker: sanity.New(),
		dbConfig: database.Config{
			Driver: database.DriverSQLite,
			File:   filepath.Join(t.TempDir(), "check", "check.sdb"),
			Logger: slog.New(slog.DiscardHandler),
		},
		archive: 5 * time.Minute,
		now:     func() time.Time { return now },
		sleep:   func(time.Duration) {},
		logger:  slog.New(slog.DiscardHandler),
	}, out
}

func TestSelfTest_Passes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 3, 7, 123456789, time.UTC)
	p := &scriptedPuller{readings: []models.Reading{
		sampleReading(now.Add(-time.Second), 4),
		sampleReading(now, 6),
	}}
	st, out := newSelfTest(t, p, now)

	err := st.Run(context.Background())
	require.NoError(t, err, out.String())

	assert.Equal(t, 2, p.pulls)
	assert.Equal(t, 5.0, st.average.PM02.Float64)
	assert.True(t, strings.HasSuffix(out.String(), "PASSED\n"))
	assert.NotContains(t, out.String(), "FAILED")
}

func TestSelfTest_Failures(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 3, 7, 0, time.UTC)

	testCases := []struct {
		name     string
		puller   *scriptedPuller
		failedAt string
	}{
		{
			name:     "Sensor unreachable",
			puller:   &scriptedPuller{err: errors.New("connection refused")},
			failedAt: "collect readings",
		},
		{
			name:     "Stale reading",
			puller:   &scriptedPuller{readings: []models.Reading{sampleReading(now.Add(-time.Hour), 4)}},
			failedAt: "sanity check",
		},
		{
			name: "Non finite channel",
			puller: &scriptedPuller{readings: []models.Reading{func() models.Reading {
				r := sampleReading(now, 4)
				r.Atmp = null.FloatFrom(math.Inf(1))
				return r
			}()}},
			failedAt: "sanity check",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			st, out := newSelfTest(t, tc.puller, now)

			err := st.Run(context.Background())
			assert.ErrorIs(t, err, errCheckFailed)
			assert.Contains(t, out.String(), tc.failedAt)
			assert.True(t, strings.HasSuffix(out.String(), "FAILED\n"))
		})
	}
}

func TestStoredForm(t *testing.T) {
	in := sampleReading(time.Date(2025, 6, 1, 12, 0, 0, 987654321, time.FixedZone("CEST", 7200)), 1)
	out := storedForm(in)

	assert.Equal(t, 987654000, out.MeasurementTime.Nanosecond())
	assert.Equal(t, time.UTC, out.MeasurementTime.Location())
}
