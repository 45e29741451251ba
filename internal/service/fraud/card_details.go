package fraud

import (
	"fmt"
	"strings"

	"github.com/davidleathers/fraud-signal-service/internal/domain/transaction"
)

// CardDetailsEvaluator checks the cardholder name and the last four digits
type CardDetailsEvaluator struct{}

func NewCardDetailsEvaluator() *CardDetailsEvaluator {
	return &CardDetailsEvaluator{}
}

func (e *CardDetailsEvaluator) Kind() SignalKind {
	return SignalCardDetails
}

func (e *CardDetailsEvaluator) Evaluate(req *transaction.Request) Signal {
	s := newSignal(SignalCardDetails)

	customerName := strings.TrimSpace(req.CustomerName)
	nameOnCard := strings.TrimSpace(req.PaymentDetails.NameOnCard)

	if !strings.EqualFold(customerName, nameOnCard) {
		s.flag(
			"Customer name does not match name on card",
			fmt.Sprintf("Customer: '%s' | Card: '%s'", customerName, nameOnCard),
		)
	} else {
		s.note("Customer name matches name on card")
	}

	if isRepeatedDigit(req.PaymentDetails.CardLast4) {
		s.flag("Card last 4 digits show suspicious pattern (all same digits)")
	}

	if !s.fraud {
		s.note("Card details appear legitimate")
	}

	return s.build()
}

// isRepeatedDigit reports whether s is exactly four copies of one ASCII digit
func isRepeatedDigit(s string) bool {
	if len(s) != 4 || s[0] < '0' || s[0] > '9' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}
