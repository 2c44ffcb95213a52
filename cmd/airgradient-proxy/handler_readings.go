package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// currentRecordHandler returns the latest sample, or {} if there is none
func (rm *RouteManager) currentRecordHandler(w http.ResponseWriter, r *http.Request) {
	rm.writeSingle(w, r, models.RecordTypeCurrent, rm.store.FetchCurrentReading)
}

// twoMinuteRecordHandler returns the short window average, or {} if there is none
func (rm *RouteManager) twoMinuteRecordHandler(w http.ResponseWriter, r *http.Request) {
	rm.writeSingle(w, r, models.RecordTypeShortWindow, rm.store.FetchShortWindowReading)
}

func (rm *RouteManager) writeSingle(w http.ResponseWriter, r *http.Request, recordType models.RecordType,
	fetch func(ctx context.Context) (models.Reading, bool, error)) {
	reading, ok, err := fetch(r.Context())
	if err != nil {
		rm.logger.Error("Failed to fetch record",
			"record_type", recordType, "request_id", requestID(r.Context()), "error", err)
		http.Error(w, "Failed to fetch record", http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// archiveRecordsHandler streams archive records as a JSON array.
// Query params:
//   - since_ts: exclusive lower bound, epoch seconds or ISO-8601 (default 0)
//   - max_ts: inclusive upper bound, epoch seconds or ISO-8601
//   - limit: max number of records, 0 for all
func (rm *RouteManager) archiveRecordsHandler(w http.ResponseWriter, r *http.Request) {
	q, err := parseArchiveQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	started := false
	enc := json.NewEncoder(w)
	for reading, err := range rm.store.ArchiveReadings(r.Context(), q) {
		if err != nil {
			rm.logger.Error("Failed to query archive records",
				"request_id", requestID(r.Context()), "error", err)
			if !started {
				http.Error(w, "Failed to query archive records", http.StatusInternalServerError)
			}
			// A partially written array cannot be repaired; the client sees invalid JSON
			return
		}

		if !started {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("["))
			started = true
		} else {
			w.Write([]byte(","))
		}
		if err := enc.Encode(reading); err != nil {
			return
		}
	}

	if !started {
		writeJSON(w, http.StatusOK, []models.Reading{})
		return
	}
	w.Write([]byte("]\n"))
}

// earliestTimestampHandler returns {"timestamp": <epoch seconds>} or {}
func (rm *RouteManager) earliestTimestampHandler(w http.ResponseWriter, r *http.Request) {
	ts, ok, err := rm.store.EarliestArchiveTimestamp(r.Context())
	if err != nil {
		rm.logger.Error("Failed to fetch earliest timestamp",
			"request_id", requestID(r.Context()), "error", err)
		http.Error(w, "Failed to fetch earliest timestamp", http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"timestamp": float64(ts.UnixMicro()) / 1e6})
}

// parseArchiveQuery extracts and validates the archive query parameters
func parseArchiveQuery(values url.Values) (models.ArchiveQuery, error) {
	q := models.ArchiveQuery{Since: time.Unix(0, 0).UTC()}

	if s := values.Get("since_ts"); s != "" {
		since, err := parseTimestamp(s)
		if err != nil {
			return q, fmt.Errorf("invalid since_ts: %w", err)
		}
		q.Since = since
	}

	if s := values.Get("max_ts"); s != "" {
		until, err := parseTimestamp(s)
		if err != nil {
			return q, fmt.Errorf("invalid max_ts: %w", err)
		}
		q.Until = &until
	}

	if s := values.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil {
			return q, fmt.Errorf("invalid limit: %q is not an integer", s)
		}
		q.Limit = limit
	}

	if err := q.Validate(); err != nil {
		return q, err
	}
	return q, nil
}

// parseTimestamp accepts epoch seconds (fractions allowed) or an ISO-8601 instant
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}, fmt.Errorf("%q is not a finite number", s)
		}
		return time.UnixMicro(int64(math.Round(f * 1e6))).UTC(), nil
	}

	t, err := iso8601.ParseString(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither epoch seconds nor ISO-8601", s)
	}
	return t.UTC(), nil
}
