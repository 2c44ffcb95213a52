package puller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/aggregator"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/metrics"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/sanity"
)

// DefaultShortInterval is the span of the short window
const DefaultShortInterval = 120 * time.Second

// Store persists the records produced by the scheduler
type Store interface {
	SaveCurrentReading(ctx context.Context, r models.Reading) error
	SaveShortWindowReading(ctx context.Context, r models.Reading) error
	SaveArchiveReading(ctx context.Context, r models.Reading) error
}

// Publisher forwards stored records to subscribers
type Publisher interface {
	Publish(ctx context.Context, recordType models.RecordType, r models.Reading) error
}

// Service polls one sensor on a fixed grid, keeps the short and long windows
// and writes current, short-window and archive records
type Service struct {
	puller    Puller
	store     Store
	checker   *sanity.Checker
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	poll          time.Duration
	archive       time.Duration
	offset        time.Duration
	shortInterval time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	short Window
	long  Window

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPublisher publishes every successful write
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithChecker replaces the default sanity checker
func WithChecker(c *sanity.Checker) Option {
	return func(s *Service) {
		s.checker = c
	}
}

// WithOffset shifts every wake by offset, which may be negative
func WithOffset(offset time.Duration) Option {
	return func(s *Service) {
		s.offset = offset
	}
}

// WithShortInterval overrides the span of the short window
func WithShortInterval(d time.Duration) Option {
	return func(s *Service) {
		s.shortInterval = d
	}
}

// WithClock overrides the wall clock and the sleep between cycles
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// NewService creates a Service. It fails with *ConfigurationError when the
// intervals cannot be scheduled.
func NewService(p Puller, store Store, poll, archive time.Duration, opts ...Option) (*Service, error) {
	if err := ValidateIntervals(poll, archive); err != nil {
		return nil, err
	}

	s := &Service{
		puller:        p,
		store:         store,
		poll:          poll,
		archive:       archive,
		shortInterval: DefaultShortInterval,
		logger:        slog.New(slog.DiscardHandler),
		now:           time.Now,
		sleep:         sleepContext,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.checker == nil {
		s.checker = sanity.New(sanity.WithLogger(s.logger))
	}

	return s, nil
}

// Start runs the service in the background until Stop is called
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.Run(ctx); err != nil {
			s.logger.Error("❌ Puller service exited", "error", err)
		}
	}()
	s.logger.Info("✓ Puller service started",
		"provider", s.puller.GetProviderType(),
		"poll", s.poll,
		"archive", s.archive,
		"offset", s.offset)
}

// Stop cancels the service and waits for an in-flight cycle to finish
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("✓ Puller service stopped")
}

// Run executes cycles until ctx is cancelled. The first cycle is an immediate
// POLL. Cancellation is only observed between cycles; a started cycle runs to
// completion.
func (s *Service) Run(ctx context.Context) error {
	event, wait := EventPoll, time.Duration(0)

	for {
		if wait > 0 {
			s.logger.Debug("sleeping", "event", event, "wait", wait)
			if err := s.sleep(ctx, wait); err != nil {
				return nil
			}
		} else if ctx.Err() != nil {
			return nil
		}

		s.RunCycle(context.WithoutCancel(ctx), event)
		event, wait = NextEvent(s.now(), s.poll, s.archive, s.offset)
	}
}

// RunCycle performs one wake: trim, poll, persist the current and short-window
// records and, for an ARCHIVE event, the archive record. Each write is
// attempted independently.
func (s *Service) RunCycle(ctx context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.short.TrimBefore(s.now().Add(-s.shortInterval)); n > 0 {
		s.logger.Debug("trimmed short window", "dropped", n, "remaining", s.short.Len())
	}

	result := s.fetch(ctx)
	s.metrics.ObservePoll(result.Kind.String())

	switch {
	case result.OK():
		s.short.Append(result.Reading)
		s.long.Append(result.Reading)
		s.metrics.ObserveReading(result.Reading)
		_ = s.save(ctx, models.RecordTypeCurrent, result.Reading)
	case result.ResetsConnection():
		s.logger.Error("❌ Skipping reading",
			"provider", s.puller.GetProviderType(),
			"reason", result.Kind,
			"detail", result.Detail)
		s.puller.Reset()
	default:
		s.logger.Warn("Reading found insane, skipping",
			"measurement_time", result.Reading.MeasurementTime,
			"reason", result.Detail,
			"reading", result.Reading)
	}

	if s.short.Len() > 0 {
		if err := s.saveAverage(ctx, models.RecordTypeShortWindow, &s.short, time.Time{}); err != nil {
			s.logger.Error("❌ Could not average short window", "error", err)
		}
	} else {
		s.logger.Warn("Short window is empty, no short window record written")
	}

	if event == EventArchive {
		if s.long.Len() > 0 {
			ts := ArchiveTimestamp(s.now(), s.archive)
			if err := s.saveAverage(ctx, models.RecordTypeArchive, &s.long, ts); err == nil {
				s.long.Clear()
			}
		} else {
			s.logger.Warn("Long window is empty, no archive record written")
		}
	}

	s.metrics.SetWindowSizes(s.short.Len(), s.long.Len())
}

// Windows returns the current sizes of the short and long windows
func (s *Service) Windows() (short, long int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.short.Len(), s.long.Len()
}

func (s *Service) fetch(ctx context.Context) Result {
	reading, err := s.puller.Pull(ctx)
	if err != nil {
		var decodeErr DecodeFailure
		if errors.As(err, &decodeErr) {
			return Failed(FailureDecode, err.Error())
		}
		return Failed(FailureTransport, err.Error())
	}

	if ok, reason := s.checker.Check(reading, s.now()); !ok {
		return Rejected(reading, reason)
	}

	s.logger.Debug("collected reading", "reading", reading)
	return Ok(reading)
}

// saveAverage averages w and saves it. A zero ts stamps the average with the
// last reading's time.
func (s *Service) saveAverage(ctx context.Context, recordType models.RecordType, w *Window, ts time.Time) error {
	avg, err := aggregator.Average(w.Readings())
	if err != nil {
		return err
	}
	if ts.IsZero() {
		last, _ := w.Last()
		ts = last.MeasurementTime
	}
	avg.MeasurementTime = ts
	return s.save(ctx, recordType, avg)
}

func (s *Service) save(ctx context.Context, recordType models.RecordType, r models.Reading) error {
	var err error
	switch recordType {
	case models.RecordTypeCurrent:
		err = s.store.SaveCurrentReading(ctx, r)
	case models.RecordTypeShortWindow:
		err = s.store.SaveShortWindowReading(ctx, r)
	case models.RecordTypeArchive:
		err = s.store.SaveArchiveReading(ctx, r)
	default:
		err = fmt.Errorf("unknown record type %s", recordType)
	}
	s.metrics.ObserveWrite(recordType, err)

	if err != nil {
		s.logger.Error("❌ Failed to save reading",
			"record_type", recordType,
			"timestamp", r.MeasurementTime,
			"severity", "critical",
			"error", err)
		return err
	}
	s.logger.Debug("✓ Saved reading", "record_type", recordType, "timestamp", r.MeasurementTime)

	if s.publisher != nil {
		perr := s.publisher.Publish(ctx, recordType, r)
		s.metrics.ObservePublish(recordType, perr)
		if perr != nil {
			s.logger.Warn("Failed to publish reading", "record_type", recordType, "error", perr)
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
