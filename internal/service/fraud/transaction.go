package fraud

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidleathers/fraud-signal-service/internal/domain/transaction"
)

// TransactionEvaluator looks at amount, basket size and velocity
type TransactionEvaluator struct {
	history HistoryReader
	now     func() time.Time
}

// NewTransactionEvaluator creates a transaction evaluator. A nil clock means time.Now.
func NewTransactionEvaluator(history HistoryReader, now func() time.Time) *TransactionEvaluator {
	if now == nil {
		now = time.Now
	}
	return &TransactionEvaluator{history: history, now: now}
}

func (e *TransactionEvaluator) Kind() SignalKind {
	return SignalTransaction
}

func (e *TransactionEvaluator) Evaluate(req *transaction.Request) Signal {
	s := newSignal(SignalTransaction)
	amount := req.Amount()
	items := req.ItemCount()

	if amount.GreaterThan(HighAmountThreshold) {
		s.flag(fmt.Sprintf("Transaction amount ($%s) exceeds normal threshold ($%s)",
			amount.StringFixed(2), HighAmountThreshold.StringFixed(2)))
	}

	if items > HighItemCountThreshold {
		s.flag(fmt.Sprintf("Item count (%d) is unusually high (threshold: %d)",
			items, HighItemCountThreshold))
	}

	// item count is validated positive upstream
	average := amount.Div(decimal.NewFromInt(int64(items)))
	if average.GreaterThan(HighAveragePriceThreshold) {
		s.note(fmt.Sprintf("High average price per item: $%s", average.StringFixed(2)))
	}

	windowMinutes := int(VelocityWindow / time.Minute)
	recent := e.history.CountRecentTransactions(req.CustomerName, e.now().Add(-VelocityWindow))
	if recent >= VelocityThreshold {
		s.flag(fmt.Sprintf("Velocity alert: %d transactions in last %d minutes", recent, windowMinutes))
	} else {
		s.note(fmt.Sprintf("Transaction velocity normal: %d transactions in last %d minutes", recent, windowMinutes))
	}

	if !s.fraud {
		s.note("Transaction amount and item count are within normal ranges")
	}

	return s.build()
}
