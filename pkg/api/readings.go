package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

// GetCurrentReading retrieves the latest sample. It returns nil when the
// proxy has none yet.
func (c *Client) GetCurrentReading(ctx context.Context) (*models.Reading, error) {
	return c.getReading(ctx, "/fetch-current-record")
}

// GetShortWindowReading retrieves the two-minute average, or nil if none
func (c *Client) GetShortWindowReading(ctx context.Context) (*models.Reading, error) {
	return c.getReading(ctx, "/fetch-two-minute-record")
}

func (c *Client) getReading(ctx context.Context, path string) (*models.Reading, error) {
	body, err := c.doRequest(ctx, path)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	var r models.Reading
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &r, nil
}

// ArchiveOptions selects archive records: after Since, up to and including
// Until when non-zero, at most Limit when positive
type ArchiveOptions struct {
	Since time.Time
	Until time.Time
	Limit int
}

// GetArchiveReadings retrieves archive records in ascending time order
func (c *Client) GetArchiveReadings(ctx context.Context, opts ArchiveOptions) ([]models.Reading, error) {
	params := url.Values{}
	params.Set("since_ts", formatEpoch(opts.Since))
	if !opts.Until.IsZero() {
		params.Set("max_ts", formatEpoch(opts.Until))
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	readings := []models.Reading{}
	if err := c.getJSON(ctx, "/fetch-archive-records?"+params.Encode(), &readings); err != nil {
		return nil, err
	}
	return readings, nil
}

// GetEarliestTimestamp returns the time of the oldest archive record
func (c *Client) GetEarliestTimestamp(ctx context.Context) (time.Time, bool, error) {
	var resp struct {
		Timestamp *float64 `json:"timestamp"`
	}
	if err := c.getJSON(ctx, "/get-earliest-timestamp", &resp); err != nil {
		return time.Time{}, false, err
	}
	if resp.Timestamp == nil {
		return time.Time{}, false, nil
	}
	return time.UnixMicro(int64(math.Round(*resp.Timestamp * 1e6))).UTC(), true, nil
}

func formatEpoch(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', -1, 64)
}
