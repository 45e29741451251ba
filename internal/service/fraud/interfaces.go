package fraud

import (
	"context"
	"time"

	"github.com/davidleathers/fraud-signal-service/internal/domain/transaction"
)

// Service defines the fraud scoring service interface
type Service interface {
	// ScoreTransaction runs every signal evaluator and records the transaction
	ScoreTransaction(ctx context.Context, req *transaction.Request) *ScoreResponse
	// CustomerHistory returns the recorded transactions for a customer
	CustomerHistory(ctx context.Context, customerName string) []transaction.Record
}

// Evaluator produces one signal for a validated request
type Evaluator interface {
	Kind() SignalKind
	Evaluate(req *transaction.Request) Signal
}

// HistoryReader is the read side of the transaction history used by evaluators
type HistoryReader interface {
	HasVisitedLocation(customerName, city, state string) bool
	CountRecentTransactions(customerName string, since time.Time) int
}

// HistoryStore defines the transaction history the scoring service owns
type HistoryStore interface {
	HistoryReader
	SaveTransaction(record transaction.Record)
	GetCustomerHistory(customerName string) []transaction.Record
}

// Blacklist answers whether an IP address is known to be fraudulent
type Blacklist interface {
	Contains(ip string) bool
}

// MetricsRecorder receives scoring outcomes
type MetricsRecorder interface {
	RecordScoring(ctx context.Context, duration time.Duration, resp *ScoreResponse)
}
