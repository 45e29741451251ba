package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/davidleathers/fraud-signal-service/internal/infrastructure/history"
	"github.com/davidleathers/fraud-signal-service/internal/service/fraud"
)

// MeterName is the instrumentation scope of the scoring metrics
const MeterName = "fraud-signal-service"

// Sources supply the values behind the observable gauges. Nil sources are skipped.
type Sources struct {
	HistoryStats  func() history.Stats
	BlacklistSize func() int
}

// Registry holds the scoring metrics and implements fraud.MetricsRecorder
type Registry struct {
	meter metric.Meter

	ScoringDuration metric.Float64Histogram
	ScoringRequests metric.Int64Counter
	SignalFlagged   metric.Int64Counter

	HistoryRecords   metric.Int64ObservableGauge
	HistoryCustomers metric.Int64ObservableGauge
	BlacklistSize    metric.Int64ObservableGauge
}

var _ fraud.MetricsRecorder = (*Registry)(nil)

// NewRegistry creates the scoring instruments on the given provider
func NewRegistry(provider metric.MeterProvider, src Sources) (*Registry, error) {
	r := &Registry{meter: provider.Meter(MeterName)}

	if err := r.initScoringMetrics(); err != nil {
		return nil, err
	}

	if err := r.initStateMetrics(src); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) initScoringMetrics() error {
	var err error

	r.ScoringDuration, err = r.meter.Float64Histogram(
		"fraud.scoring.duration",
		metric.WithDescription("Duration of transaction scoring in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50, 100),
	)
	if err != nil {
		return err
	}

	r.ScoringRequests, err = r.meter.Int64Counter(
		"fraud.scoring.requests",
		metric.WithDescription("Total number of scored transactions"),
	)
	if err != nil {
		return err
	}

	r.SignalFlagged, err = r.meter.Int64Counter(
		"fraud.signal.flagged",
		metric.WithDescription("Signals that indicated potential fraud, by signal"),
	)
	return err
}

func (r *Registry) initStateMetrics(src Sources) error {
	var err error

	if src.HistoryStats != nil {
		r.HistoryRecords, err = r.meter.Int64ObservableGauge(
			"fraud.history.records",
			metric.WithDescription("Transactions held in history"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(src.HistoryStats().Records))
				return nil
			}),
		)
		if err != nil {
			return err
		}

		r.HistoryCustomers, err = r.meter.Int64ObservableGauge(
			"fraud.history.customers",
			metric.WithDescription("Distinct customers held in history"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(src.HistoryStats().Customers))
				return nil
			}),
		)
		if err != nil {
			return err
		}
	}

	if src.BlacklistSize != nil {
		r.BlacklistSize, err = r.meter.Int64ObservableGauge(
			"fraud.blacklist.size",
			metric.WithDescription("Addresses in the effective IP blacklist"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(src.BlacklistSize()))
				return nil
			}),
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// RecordScoring records one scoring outcome
func (r *Registry) RecordScoring(ctx context.Context, duration time.Duration, resp *fraud.ScoreResponse) {
	flagged := resp.Flagged()

	r.ScoringDuration.Record(ctx, float64(duration.Microseconds())/1000.0,
		metric.WithAttributes(attribute.Bool("flagged", flagged)))
	r.ScoringRequests.Add(ctx, 1, metric.WithAttributes(attribute.Bool("flagged", flagged)))

	for _, kind := range resp.FlaggedKinds() {
		r.SignalFlagged.Add(ctx, 1, metric.WithAttributes(attribute.String("signal", kind.String())))
	}
}

// Recorders fans one scoring outcome out to several recorders
type Recorders []fraud.MetricsRecorder

// RecordScoring calls every recorder in order
func (rs Recorders) RecordScoring(ctx context.Context, duration time.Duration, resp *fraud.ScoreResponse) {
	for _, r := range rs {
		r.RecordScoring(ctx, duration, resp)
	}
}
