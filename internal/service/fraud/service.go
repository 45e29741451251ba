package fraud

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidleathers/fraud-signal-service/internal/domain/transaction"
)

// service implements the Service interface
type service struct {
	history    HistoryStore
	evaluators []Evaluator
	metrics    MetricsRecorder
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures the scoring service
type Option func(*service)

// WithClock overrides the time source used for velocity windows and record timestamps
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithMetrics sets the recorder notified after each scoring
func WithMetrics(m MetricsRecorder) Option {
	return func(s *service) {
		s.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// NewService creates a new fraud scoring service
func NewService(history HistoryStore, blacklist Blacklist, opts ...Option) Service {
	s := &service{
		history: history,
		logger:  slog.Default(),
		tracer:  otel.Tracer("service.fraud"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	// fixed order: location, ipAddress, transaction, cardDetails
	s.evaluators = []Evaluator{
		NewLocationEvaluator(history),
		NewIPAddressEvaluator(blacklist),
		NewTransactionEvaluator(history, s.now),
		NewCardDetailsEvaluator(),
	}

	return s
}

// ScoreTransaction evaluates every signal against the request, then appends the
// request to history. The append is always the last step so none of the
// evaluators can observe the transaction they are scoring.
func (s *service) ScoreTransaction(ctx context.Context, req *transaction.Request) *ScoreResponse {
	ctx, span := s.tracer.Start(ctx, "fraud.ScoreTransaction",
		trace.WithAttributes(attribute.String("fraud.merchant", req.TransactionDetails.MerchantName)),
	)
	defer span.End()

	start := time.Now()
	resp := &ScoreResponse{Signals: make([]Signal, 0, len(s.evaluators))}

	for _, e := range s.evaluators {
		signal := e.Evaluate(req)
		resp.Signals = append(resp.Signals, signal)

		span.AddEvent("signal.evaluated", trace.WithAttributes(
			attribute.String("fraud.signal", signal.Kind.String()),
			attribute.Bool("fraud.potential", signal.PotentialFraud),
		))
	}

	s.history.SaveTransaction(transaction.NewRecord(req, s.now()))

	duration := time.Since(start)
	span.SetAttributes(attribute.Bool("fraud.flagged", resp.Flagged()))

	if s.metrics != nil {
		s.metrics.RecordScoring(ctx, duration, resp)
	}

	if resp.Flagged() {
		s.logger.InfoContext(ctx, "transaction flagged",
			"customer", req.CustomerName,
			"merchant", req.TransactionDetails.MerchantName,
			"signals", resp.FlaggedKinds(),
			"duration_ms", duration.Milliseconds())
	} else {
		s.logger.DebugContext(ctx, "transaction scored",
			"customer", req.CustomerName,
			"merchant", req.TransactionDetails.MerchantName)
	}

	return resp
}

// CustomerHistory returns a snapshot of the customer's recorded transactions
func (s *service) CustomerHistory(ctx context.Context, customerName string) []transaction.Record {
	_, span := s.tracer.Start(ctx, "fraud.CustomerHistory")
	defer span.End()

	return s.history.GetCustomerHistory(customerName)
}
