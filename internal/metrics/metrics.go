package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// API metrics
	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pairforge_api_request_duration_seconds",
			Help:    "API request duration in seconds by model",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"model", "status"},
	)

	// Candidate metrics
	candidateOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairforge_candidates_total",
			Help: "Candidate pairs seen by outcome",
		},
		[]string{"mode", "outcome"}, // outcome: "accepted", "rejected", "duplicate", "malformed"
	)

	validationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairforge_validation_failures_total",
			Help: "Rejected candidate pairs by failing tokenizer, variant and check",
		},
		[]string{"tokenizer", "variant", "reason"},
	)

	parseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairforge_parse_errors_total",
			Help: "Model responses that yielded no candidate pairs",
		},
		[]string{"mode"},
	)

	// Progress metrics
	scenariosEmitted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pairforge_scenarios_emitted",
			Help: "Scenarios written to the dataset in this run",
		},
		[]string{"mode"},
	)

	costDollars = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pairforge_cost_dollars",
			Help: "Cumulative API cost in dollars",
		},
		[]string{"mode"},
	)

	batchStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pairforge_batches",
			Help: "Number of batches by provider status",
		},
		[]string{"status"},
	)
)

// Generation modes used as label values
const (
	ModeRealtime = "realtime"
	ModeBatch    = "batch"
)

// Collector provides convenience methods for recording metrics
type Collector struct {
	logger *slog.Logger
	mu     sync.Mutex
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{
		logger: logger,
	}
}

// RecordAPIRequest records an API request duration
func (c *Collector) RecordAPIRequest(model string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	apiRequestDuration.WithLabelValues(model, status).Observe(duration.Seconds())
}

// RecordCandidate counts one candidate decision
func (c *Collector) RecordCandidate(mode, outcome string) {
	candidateOutcomes.WithLabelValues(mode, outcome).Inc()
}

// RecordValidationFailure counts a rejection against the check that caused it
func (c *Collector) RecordValidationFailure(tokenizer, variant, reason string) {
	validationFailures.WithLabelValues(tokenizer, variant, reason).Inc()
}

// RecordParseError counts a response that produced no candidates
func (c *Collector) RecordParseError(mode string) {
	parseErrors.WithLabelValues(mode).Inc()
}

// SetProgress updates emitted scenarios and cumulative cost
func (c *Collector) SetProgress(mode string, emitted int, cost float64) {
	scenariosEmitted.WithLabelValues(mode).Set(float64(emitted))
	costDollars.WithLabelValues(mode).Set(cost)
}

// SetBatchStatuses replaces the per-status batch counts
func (c *Collector) SetBatchStatuses(counts map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	batchStatus.Reset()
	for status, n := range counts {
		batchStatus.WithLabelValues(status).Set(float64(n))
	}
}

// Serve exposes /metrics on addr until ctx is cancelled
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		c.logger.Info("Serving metrics", "addr", addr, "path", "/metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
