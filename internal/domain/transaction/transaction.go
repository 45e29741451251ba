package transaction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/fraud-signal-service/internal/domain/values"
)

// Request is a payment transaction submitted for scoring.
// It is treated as immutable once it has passed validation.
type Request struct {
	CustomerName       string          `json:"customerName" validate:"notblank"`
	IPAddress          string          `json:"ipAddress" validate:"notblank"`
	Location           *Location       `json:"location" validate:"required"`
	PaymentDetails     *PaymentDetails `json:"paymentDetails" validate:"required"`
	TransactionDetails *Details        `json:"transactionDetails" validate:"required"`
}

type Location struct {
	City  string `json:"city" validate:"notblank"`
	State string `json:"state" validate:"notblank"`
}

// Value converts to the comparable value object
func (l *Location) Value() values.Location {
	if l == nil {
		return values.Location{}
	}
	return values.NewLocation(l.City, l.State)
}

type PaymentDetails struct {
	CardLast4  string          `json:"cardLast4" validate:"notblank"`
	NameOnCard string          `json:"nameOnCard" validate:"notblank"`
	CardAmount decimal.Decimal `json:"cardAmount" validate:"required,gt=0"`
}

type Details struct {
	MerchantName       string    `json:"merchantName" validate:"notblank"`
	MerchantLocation   *Location `json:"merchantLocation" validate:"required"`
	PurchasedItemCount int       `json:"purchasedItemCount" validate:"required,gt=0"`
}

// CustomerLocation returns where the customer says they are
func (r *Request) CustomerLocation() values.Location {
	return r.Location.Value()
}

// MerchantLocation returns where the purchase is being made
func (r *Request) MerchantLocation() values.Location {
	return r.TransactionDetails.MerchantLocation.Value()
}

// Amount returns the charged amount
func (r *Request) Amount() decimal.Decimal {
	return r.PaymentDetails.CardAmount
}

// ItemCount returns the number of purchased items
func (r *Request) ItemCount() int {
	return r.TransactionDetails.PurchasedItemCount
}

// Record is one entry of a customer's transaction history.
// City and State are the merchant's location at the time of purchase.
type Record struct {
	ID           uuid.UUID       `json:"id"`
	CustomerName string          `json:"customerName"`
	City         string          `json:"city"`
	State        string          `json:"state"`
	Amount       decimal.Decimal `json:"amount"`
	IPAddress    string          `json:"ipAddress"`
	MerchantName string          `json:"merchantName"`
	Timestamp    time.Time       `json:"timestamp"`
}

// NewRecord builds the history entry for a scored request
func NewRecord(req *Request, at time.Time) Record {
	merchant := req.MerchantLocation()
	return Record{
		ID:           uuid.New(),
		CustomerName: req.CustomerName,
		City:         merchant.City(),
		State:        merchant.State(),
		Amount:       req.Amount(),
		IPAddress:    req.IPAddress,
		MerchantName: req.TransactionDetails.MerchantName,
		Timestamp:    at,
	}
}

// Location returns the record's merchant location
func (r Record) Location() values.Location {
	return values.NewLocation(r.City, r.State)
}
