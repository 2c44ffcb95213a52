package airgradient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

// ProviderType identifies this puller in a puller.PullerRegistry
const ProviderType = "airgradient"

const currentMeasuresPath = "/measures/current"

// maxBodySize bounds the sensor response; real payloads are well under 2 KiB
const maxBodySize = 64 << 10

// Client fetches readings from an AirGradient monitor's local HTTP server
type Client struct {
	baseURL    string
	httpClient *http.Client
	custom     bool
	timeout    time.Duration
	longRead   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithTimeout sets the overall timeout of one fetch
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithLongRead sets the elapsed time after which a fetch is reported as slow
func WithLongRead(d time.Duration) ClientOption {
	return func(c *Client) {
		c.longRead = d
	}
}

// WithHTTPClient sets a custom HTTP client. Reset leaves a custom client's
// transport alone apart from closing idle connections.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
		c.custom = true
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClock overrides the clock used to stamp readings
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a client for the monitor at host:port
func NewClient(host string, port int, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		timeout:  25 * time.Second,
		longRead: 10 * time.Second,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = newHTTPClient(c.timeout)
	}

	return c
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 1,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// GetProviderType returns the provider type identifier
func (c *Client) GetProviderType() string {
	return ProviderType
}

// URL returns the endpoint polled by Pull
func (c *Client) URL() string {
	return c.baseURL + currentMeasuresPath
}

// Pull fetches and decodes the current measures. Failures reaching the sensor
// are returned as *TransportError, unusable payloads as *DecodeError.
func (c *Client) Pull(ctx context.Context) (models.Reading, error) {
	start := c.now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(), nil)
	if err != nil {
		return models.Reading{}, &TransportError{URL: c.URL(), Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Reading{}, &TransportError{URL: c.URL(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return models.Reading{}, &TransportError{URL: c.URL(), Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Reading{}, &TransportError{URL: c.URL(), StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	elapsed := c.now().Sub(start)
	c.logger.Debug("collected data", "url", c.URL(), "elapsed", elapsed)
	if elapsed > c.longRead {
		c.logger.Info("Event took longer than expected", "elapsed", elapsed, "threshold", c.longRead)
	}

	reading, err := DecodeMeasures(body)
	if err != nil {
		c.logger.Info("failed to parse response", "body", string(body), "error", err)
		return models.Reading{}, err
	}
	reading.MeasurementTime = c.now().UTC()

	return reading, nil
}

// Reset drops pooled connections so the next Pull dials afresh
func (c *Client) Reset() {
	c.httpClient.CloseIdleConnections()
	if !c.custom {
		c.httpClient = newHTTPClient(c.timeout)
	}
}
