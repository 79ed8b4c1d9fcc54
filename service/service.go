// Package service implements the sensor network operations. Every operation
// runs as one unit of work against the repository, so the invariants it
// checks hold at commit time.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorgraph/domain"
	"github.com/c360/sensorgraph/errors"
	"github.com/c360/sensorgraph/metric"
	"github.com/c360/sensorgraph/repository"
)

// Option is a functional option for configuring Service
type Option func(*Service)

// Service orchestrates repository operations.
type Service struct {
	repo     *repository.Repository
	logger   *slog.Logger
	now      func() time.Time
	registry *metric.MetricsRegistry
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
	entities *prometheus.GaugeVec
}

const metricsOwner = "service"

// WithLogger sets a custom logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used to stamp readings.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics registers the operation metrics with registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Service) {
		s.registry = registry
	}
}

// New creates a Service over repo.
func New(repo *repository.Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		logger: slog.Default().With("component", "service"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.registry != nil {
		s.registerMetrics()
	}
	return s
}

func (s *Service) registerMetrics() {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensorgraph",
		Subsystem: "domain",
		Name:      "operations_total",
		Help:      "Domain operations by outcome",
	}, []string{"operation", "outcome"})
	if err := s.registry.RegisterCounterVec(metricsOwner, "operations_total", ops); err != nil {
		s.logger.Warn("operation metrics disabled", "error", err)
	} else {
		s.ops = ops
	}

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sensorgraph",
		Subsystem: "domain",
		Name:      "operation_duration_seconds",
		Help:      "Domain operation latency including unit of work retries",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"operation"})
	if err := s.registry.RegisterHistogramVec(metricsOwner, "operation_duration_seconds", duration); err != nil {
		s.logger.Warn("latency metrics disabled", "error", err)
	} else {
		s.duration = duration
	}

	entities := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sensorgraph",
		Subsystem: "domain",
		Name:      "entities",
		Help:      "Nodes per label after the last committed change",
	}, []string{"label"})
	if err := s.registry.RegisterGaugeVec(metricsOwner, "entities", entities); err != nil {
		s.logger.Warn("entity metrics disabled", "error", err)
	} else {
		s.entities = entities
	}
}

// Close unregisters the service metrics. The repository is owned by the caller.
func (s *Service) Close() {
	if s.registry == nil {
		return
	}
	for _, name := range []string{"operations_total", "operation_duration_seconds", "entities"} {
		s.registry.Unregister(metricsOwner, name)
	}
	s.ops, s.duration, s.entities = nil, nil, nil
}

// Ping checks the graph store.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// finish classifies err, logs and counts the operation.
func (s *Service) finish(ctx context.Context, op string, err error) error {
	err = domain.Internal(err)

	outcome := "ok"
	if err != nil {
		outcome = domain.KindOf(err).String()
	}
	if s.ops != nil {
		s.ops.WithLabelValues(op, outcome).Inc()
	}

	// internal failures carry the store's error class so operators can tell
	// exhausted conflicts from corruption
	if err != nil && domain.KindOf(err) == domain.KindInternal {
		s.logger.ErrorContext(ctx, "operation failed", "operation", op, "class", errors.Classify(err).String(), "error", err)
		return err
	}
	s.logger.DebugContext(ctx, "operation", "operation", op, "outcome", outcome, "error", err)
	return err
}

func (s *Service) observe(op string, start time.Time) {
	if s.duration != nil {
		s.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (s *Service) update(ctx context.Context, op string, fn func(*repository.Tx) error) error {
	defer s.observe(op, time.Now())

	var counts map[string]int
	err := s.repo.Update(ctx, func(tx *repository.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if s.entities != nil {
			counts = tx.Counts()
		}
		return nil
	})
	if err == nil && s.entities != nil {
		for label, n := range counts {
			s.entities.WithLabelValues(label).Set(float64(n))
		}
	}
	return s.finish(ctx, op, err)
}

func (s *Service) view(ctx context.Context, op string, fn func(*repository.Tx) error) error {
	defer s.observe(op, time.Now())
	return s.finish(ctx, op, s.repo.View(ctx, fn))
}

// sensor loads the sensor or fails with SensorNotFound.
func sensor(tx *repository.Tx, id int64) (domain.Sensor, error) {
	s, ok, err := tx.FindSensor(id)
	if err != nil {
		return domain.Sensor{}, err
	}
	if !ok {
		return domain.Sensor{}, domain.SensorNotFound(id)
	}
	return s, nil
}
