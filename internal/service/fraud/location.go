package fraud

import (
	"fmt"

	"github.com/davidleathers/fraud-signal-service/internal/domain/transaction"
)

// LocationEvaluator compares where the customer is with where the merchant is,
// and whether the customer has bought from the merchant's location before.
type LocationEvaluator struct {
	history HistoryReader
}

// NewLocationEvaluator creates a location evaluator reading from history
func NewLocationEvaluator(history HistoryReader) *LocationEvaluator {
	return &LocationEvaluator{history: history}
}

func (e *LocationEvaluator) Kind() SignalKind {
	return SignalLocation
}

// Evaluate must run before the request is saved so the new-location check
// never sees the transaction being scored.
func (e *LocationEvaluator) Evaluate(req *transaction.Request) Signal {
	s := newSignal(SignalLocation)
	customer := req.CustomerLocation()
	merchant := req.MerchantLocation()

	if !customer.Matches(merchant) {
		s.flag(
			"Customer location differs from merchant location",
			fmt.Sprintf("Customer: %s, %s | Merchant: %s, %s",
				customer.City(), customer.State(), merchant.City(), merchant.State()),
		)
	} else {
		s.note("Customer and merchant are in the same location")
	}

	if !e.history.HasVisitedLocation(req.CustomerName, merchant.City(), merchant.State()) {
		s.flag(fmt.Sprintf("New location for customer: %s, %s", merchant.City(), merchant.State()))
	} else {
		s.note("Customer has purchased from this location before")
	}

	return s.build()
}
