package main

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/guregu/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/metrics"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

type fakeReadStore struct {
	current    *models.Reading
	shortWin   *models.Reading
	archive    []models.Reading
	earliest   time.Time
	healthy    bool
	err        error
	archiveErr error // yielded after the archive rows

	lastQuery models.ArchiveQuery
}

func (f *fakeReadStore) single(r *models.Reading) (models.Reading, bool, error) {
	if f.err != nil {
		return models.Reading{}, false, f.err
	}
	if r == nil {
		return models.Reading{}, false, nil
	}
	return *r, true, nil
}

func (f *fakeReadStore) FetchCurrentReading(ctx context.Context) (models.Reading, bool, error) {
	return f.single(f.current)
}

func (f *fakeReadStore) FetchShortWindowReading(ctx context.Context) (models.Reading, bool, error) {
	return f.single(f.shortWin)
}

func (f *fakeReadStore) ArchiveReadings(ctx context.Context, q models.ArchiveQuery) iter.Seq2[models.Reading, error] {
	f.lastQuery = q
	return func(yield func(models.Reading, error) bool) {
		if f.err != nil {
			yield(models.Reading{}, f.err)
			return
		}
		for _, r := range f.archive {
			if !yield(r, nil) {
				return
			}
		}
		if f.archiveErr != nil {
			yield(models.Reading{}, f.archiveErr)
		}
	}
}

func (f *fakeReadStore) EarliestArchiveTimestamp(ctx context.Context) (time.Time, bool, error) {
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	return f.earliest, !f.earliest.IsZero(), nil
}

func (f *fakeReadStore) IsConnectionHealthy() bool {
	return f.healthy
}

func sampleReading(ts time.Time, pm02 float64) models.Reading {
	return models.Reading{
		MeasurementTime: ts,
		SerialNo:        null.StringFrom("84fce612f5b8"),
		PM02:            null.FloatFrom(pm02),
		RCO2:            null.FloatFrom(412),
		Boot:            null.IntFrom(3),
	}
}

func newTestRouter(t *testing.T, store ReadStore, origins ...string) (http.Handler, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	rm := NewRouteManager(store, m, origins, slog.New(slog.DiscardHandler))
	rm.Setup()
	return rm.Handler(), m
}

func serve(h http.Handler, method, target string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCurrentRecordHandler(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	r := sampleReading(ts, 4.5)

	t.Run("Present", func(t *testing.T) {
		h, _ := newTestRouter(t, &fakeReadStore{current: &r})
		rec := serve(h, http.MethodGet, "/fetch-current-record")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var got models.Reading
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.True(t, got.Equal(r), "got %s", got)
	})

	t.Run("Empty", func(t *testing.T) {
		h, _ := newTestRouter(t, &fakeReadStore{})
		rec := serve(h, http.MethodGet, "/fetch-current-record")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{}`, rec.Body.String())
	})

	t.Run("Store error", func(t *testing.T) {
		h, _ := newTestRouter(t, &fakeReadStore{err: errors.New("database is locked")})
		rec := serve(h, http.MethodGet, "/fetch-current-record")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestTwoMinuteRecordHandler(t *testing.T) {
	r := sampleReading(time.Date(2025, 1, 2, 3, 4, 0, 0, time.UTC), 7)
	current := sampleReading(time.Date(2025, 1, 2, 3, 4, 30, 0, time.UTC), 9)

	h, _ := newTestRouter(t, &fakeReadStore{current: &current, shortWin: &r})
	rec := serve(h, http.MethodGet, "/fetch-two-minute-record")

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Reading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Equal(r), "got %s", got)

	h, _ = newTestRouter(t, &fakeReadStore{current: &current})
	rec = serve(h, http.MethodGet, "/fetch-two-minute-record")
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestArchiveRecordsHandler(t *testing.T) {
	base := time.Unix(1700000100, 0).UTC()
	archive := []models.Reading{
		sampleReading(base, 1),
		sampleReading(base.Add(5*time.Minute), 2),
		sampleReading(base.Add(10*time.Minute), 3),
	}

	t.Run("All records", func(t *testing.T) {
		store := &fakeReadStore{archive: archive}
		h, _ := newTestRouter(t, store)
		rec := serve(h, http.MethodGet, "/fetch-archive-records")

		require.Equal(t, http.StatusOK, rec.Code)
		var got []models.Reading
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 3)
		for i := range archive {
			assert.True(t, got[i].Equal(archive[i]), "record %d: %s", i, got[i])
		}

		assert.True(t, store.lastQuery.Since.Equal(time.Unix(0, 0)))
		assert.Nil(t, store.lastQuery.Until)
		assert.Zero(t, store.lastQuery.Limit)
	})

	t.Run("Empty archive", func(t *testing.T) {
		h, _ := newTestRouter(t, &fakeReadStore{})
		rec := serve(h, http.MethodGet, "/fetch-archive-records?since_ts=1700000000")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("Query parameters", func(t *testing.T) {
		store := &fakeReadStore{}
		h, _ := newTestRouter(t, store)
		rec := serve(h, http.MethodGet, "/fetch-archive-records?since_ts=1700000000.5&max_ts=2023-11-14T22:30:00Z&limit=2")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, store.lastQuery.Since.Equal(time.UnixMilli(1700000000500)))
		require.NotNil(t, store.lastQuery.Until)
		assert.True(t, store.lastQuery.Until.Equal(time.Date(2023, 11, 14, 22, 30, 0, 0, time.UTC)))
		assert.Equal(t, 2, store.lastQuery.Limit)
	})

	t.Run("Store error before first record", func(t *testing.T) {
		h, _ := newTestRouter(t, &fakeReadStore{err: errors.New("no such table")})
		rec := serve(h, http.MethodGet, "/fetch-archive-records")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("Store error mid stream", func(t *testing.T) {
		h, _ := newTestRouter(t, &fakeReadStore{archive: archive[:1], archiveErr: errors.New("interrupted")})
		rec := serve(h, http.MethodGet, "/fetch-archive-records")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, json.Valid(rec.Body.Bytes()), "truncated array must not parse")
	})
}

func TestArchiveRecordsHandler_BadParams(t *testing.T) {
	testCases := []struct {
		name  string
		query string
	}{
		{name: "Garbage since", query: "since_ts=yesterday"},
		{name: "NaN since", query: "since_ts=NaN"},
		{name: "Garbage max", query: "max_ts=soon"},
		{name: "Max before since", query: "since_ts=1700000000&max_ts=1600000000"},
		{name: "Fractional limit", query: "limit=1.5"},
		{name: "Negative limit", query: "limit=-1"},
		{name: "Huge limit", query: "limit=100000000"},
	}

	h, _ := newTestRouter(t, &fakeReadStore{})
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h, http.MethodGet, "/fetch-archive-records?"+tc.query)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestEarliestTimestampHandler(t *testing.T) {
	h, _ := newTestRouter(t, &fakeReadStore{earliest: time.Unix(1700000100, 0)})
	rec := serve(h, http.MethodGet, "/get-earliest-timestamp")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"timestamp": 1700000100}`, rec.Body.String())

	h, _ = newTestRouter(t, &fakeReadStore{})
	rec = serve(h, http.MethodGet, "/get-earliest-timestamp")
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestHealthHandler(t *testing.T) {
	h, _ := newTestRouter(t, &fakeReadStore{healthy: true})
	rec := serve(h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","database":true}`, rec.Body.String())

	h, _ = newTestRouter(t, &fakeReadStore{healthy: false})
	rec = serve(h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","database":false}`, rec.Body.String())
}

func TestMiddleware_RequestID(t *testing.T) {
	h, _ := newTestRouter(t, &fakeReadStore{healthy: true})

	rec := serve(h, http.MethodGet, "/health")
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)

	rec = serve(h, http.MethodGet, "/health", requestIDHeader, "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestMiddleware_Metrics(t *testing.T) {
	h, _ := newTestRouter(t, &fakeReadStore{healthy: true})

	serve(h, http.MethodGet, "/fetch-current-record")
	serve(h, http.MethodGet, "/fetch-archive-records?limit=x")

	rec := serve(h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `route="/fetch-current-record"`)
	assert.Contains(t, body, `code="400"`)
}

func TestCORS(t *testing.T) {
	t.Run("Any origin by default", func(t *testing.T) {
		h, _ := newTestRouter(t, &fakeReadStore{healthy: true})
		rec := serve(h, http.MethodGet, "/health", "Origin", "http://weewx.local")
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Configured origins", func(t *testing.T) {
		h, _ := newTestRouter(t, &fakeReadStore{healthy: true}, "http://weewx.local")

		rec := serve(h, http.MethodGet, "/health", "Origin", "http://weewx.local")
		assert.Equal(t, "http://weewx.local", rec.Header().Get("Access-Control-Allow-Origin"))

		rec = serve(h, http.MethodGet, "/health", "Origin", "http://elsewhere.local")
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestRouter(t, &fakeReadStore{})
	rec := serve(h, http.MethodPost, "/fetch-current-record")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestParseTimestamp(t *testing.T) {
	testCases := []struct {
		in       string
		expected time.Time
		wantErr  bool
	}{
		{in: "0", expected: time.Unix(0, 0)},
		{in: "1700000000", expected: time.Unix(1700000000, 0)},
		{in: " 1700000000.25 ", expected: time.UnixMilli(1700000000250)},
		{in: "2023-11-14T22:13:20Z", expected: time.Unix(1700000000, 0)},
		{in: "2023-11-14T14:13:20-08:00", expected: time.Unix(1700000000, 0)},
		{in: "+Inf", wantErr: true},
		{in: "next tuesday", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(strings.TrimSpace(tc.in), func(t *testing.T) {
			got, err := parseTimestamp(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tc.expected), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}
