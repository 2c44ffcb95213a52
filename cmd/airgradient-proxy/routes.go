package main

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/metrics"
	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

// ReadStore is the read side of the database used by the HTTP handlers
type ReadStore interface {
	FetchCurrentReading(ctx context.Context) (models.Reading, bool, error)
	FetchShortWindowReading(ctx context.Context) (models.Reading, bool, error)
	ArchiveReadings(ctx context.Context, q models.ArchiveQuery) iter.Seq2[models.Reading, error]
	EarliestArchiveTimestamp(ctx context.Context) (time.Time, bool, error)
	IsConnectionHealthy() bool
}

// RouteManager handles all API routes
type RouteManager struct {
	store          ReadStore
	metrics        *metrics.Metrics
	logger         *slog.Logger
	allowedOrigins []string
	Router         *mux.Router
}

// NewRouteManager creates a new RouteManager instance
func NewRouteManager(store ReadStore, m *metrics.Metrics, allowedOrigins []string, logger *slog.Logger) *RouteManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RouteManager{
		store:          store,
		metrics:        m,
		logger:         logger,
		allowedOrigins: allowedOrigins,
		Router:         mux.NewRouter(),
	}
}

// Setup configures all API routes
func (rm *RouteManager) Setup() {
	r := rm.Router
	r.Use(rm.requestIDMiddleware)
	r.Use(rm.instrumentMiddleware)

	r.HandleFunc("/health", rm.healthHandler).Methods("GET")
	r.Handle("/metrics", rm.metrics.Handler()).Methods("GET")

	r.HandleFunc("/fetch-current-record", rm.currentRecordHandler).Methods("GET")
	r.HandleFunc("/fetch-two-minute-record", rm.twoMinuteRecordHandler).Methods("GET")
	r.HandleFunc("/fetch-archive-records", rm.archiveRecordsHandler).Methods("GET")
	r.HandleFunc("/get-earliest-timestamp", rm.earliestTimestampHandler).Methods("GET")
}

// Handler wraps the router with CORS and panic recovery
func (rm *RouteManager) Handler() http.Handler {
	origins := rm.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", requestIDHeader}),
		handlers.ExposedHeaders([]string{requestIDHeader}),
		handlers.MaxAge(3600),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(rm.logger.Handler(), slog.LevelError)),
	)

	return recovery(cors(rm.Router))
}
