package fixtures

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/fraud-signal-service/internal/domain/transaction"
)

// TransactionRequestBuilder builds scoring requests. The defaults describe a
// low-risk purchase: same location, matching names, small amount.
type TransactionRequestBuilder struct {
	t            *testing.T
	customerName string
	ipAddress    string
	customerCity string
	customerSt   string
	cardLast4    string
	nameOnCard   string
	amount       decimal.Decimal
	merchantName string
	merchantCity string
	merchantSt   string
	itemCount    int
}

// NewTransactionRequestBuilder creates a builder with defaults
func NewTransactionRequestBuilder(t *testing.T) *TransactionRequestBuilder {
	t.Helper()
	return &TransactionRequestBuilder{
		t:            t,
		customerName: "John Smith",
		ipAddress:    "8.8.8.8",
		customerCity: "Boston",
		customerSt:   "MA",
		cardLast4:    "4567",
		nameOnCard:   "John Smith",
		amount:       decimal.NewFromInt(50),
		merchantName: "Corner Books",
		merchantCity: "Boston",
		merchantSt:   "MA",
		itemCount:    2,
	}
}

// WithCustomer sets both the customer name and the name on card
func (b *TransactionRequestBuilder) WithCustomer(name string) *TransactionRequestBuilder {
	b.customerName = name
	b.nameOnCard = name
	return b
}

// WithNameOnCard sets only the cardholder name
func (b *TransactionRequestBuilder) WithNameOnCard(name string) *TransactionRequestBuilder {
	b.nameOnCard = name
	return b
}

// WithIP sets the source IP address
func (b *TransactionRequestBuilder) WithIP(ip string) *TransactionRequestBuilder {
	b.ipAddress = ip
	return b
}

// WithCustomerLocation sets where the customer is
func (b *TransactionRequestBuilder) WithCustomerLocation(city, state string) *TransactionRequestBuilder {
	b.customerCity = city
	b.customerSt = state
	return b
}

// WithMerchantLocation sets where the merchant is
func (b *TransactionRequestBuilder) WithMerchantLocation(city, state string) *TransactionRequestBuilder {
	b.merchantCity = city
	b.merchantSt = state
	return b
}

// WithMerchant sets the merchant name
func (b *TransactionRequestBuilder) WithMerchant(name string) *TransactionRequestBuilder {
	b.merchantName = name
	return b
}

// WithAmount sets the card amount
func (b *TransactionRequestBuilder) WithAmount(amount float64) *TransactionRequestBuilder {
	b.amount = decimal.NewFromFloat(amount)
	return b
}

// WithItemCount sets the purchased item count
func (b *TransactionRequestBuilder) WithItemCount(n int) *TransactionRequestBuilder {
	b.itemCount = n
	return b
}

// WithCardLast4 sets the last four card digits
func (b *TransactionRequestBuilder) WithCardLast4(digits string) *TransactionRequestBuilder {
	b.cardLast4 = digits
	return b
}

// Build creates the request
func (b *TransactionRequestBuilder) Build() *transaction.Request {
	b.t.Helper()
	return &transaction.Request{
		CustomerName: b.customerName,
		IPAddress:    b.ipAddress,
		Location:     &transaction.Location{City: b.customerCity, State: b.customerSt},
		PaymentDetails: &transaction.PaymentDetails{
			CardLast4:  b.cardLast4,
			NameOnCard: b.nameOnCard,
			CardAmount: b.amount,
		},
		TransactionDetails: &transaction.Details{
			MerchantName:       b.merchantName,
			MerchantLocation:   &transaction.Location{City: b.merchantCity, State: b.merchantSt},
			PurchasedItemCount: b.itemCount,
		},
	}
}

// NewRecord creates a history record for the customer at the merchant location
func NewRecord(customer, city, state string, at time.Time) transaction.Record {
	return transaction.Record{
		ID:           uuid.New(),
		CustomerName: customer,
		City:         city,
		State:        state,
		Amount:       decimal.NewFromInt(20),
		IPAddress:    "8.8.8.8",
		MerchantName: "Prior Merchant",
		Timestamp:    at,
	}
}
