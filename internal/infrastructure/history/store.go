package history

import (
	"sync"
	"time"

	"github.com/davidleathers/fraud-signal-service/internal/domain/transaction"
)

// Store keeps every scored transaction in memory, partitioned by customer name.
// Customer keys are exact, case-sensitive strings. Records are never evicted.
type Store struct {
	mu      sync.RWMutex
	records map[string][]transaction.Record
	total   int
}

// Stats is a point-in-time size of the store
type Stats struct {
	Customers int
	Records   int
}

// NewStore creates an empty history store
func NewStore() *Store {
	return &Store{
		records: make(map[string][]transaction.Record),
	}
}

// SaveTransaction appends a record to its customer's history
func (s *Store) SaveTransaction(record transaction.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.CustomerName] = append(s.records[record.CustomerName], record)
	s.total++
}

// GetCustomerHistory returns a copy of the customer's records in insertion order
func (s *Store) GetCustomerHistory(customerName string) []transaction.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.records[customerName]
	out := make([]transaction.Record, len(records))
	copy(out, records)
	return out
}

// GetRecentTransactions returns the customer's records with a timestamp strictly after since
func (s *Store) GetRecentTransactions(customerName string, since time.Time) []transaction.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]transaction.Record, 0)
	for _, rec := range s.records[customerName] {
		if rec.Timestamp.After(since) {
			out = append(out, rec)
		}
	}
	return out
}

// HasVisitedLocation reports whether the customer has any record at city/state, ignoring case
func (s *Store) HasVisitedLocation(customerName, city, state string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records[customerName] {
		if rec.Location().MatchesParts(city, state) {
			return true
		}
	}
	return false
}

// CountRecentTransactions counts the records GetRecentTransactions would return
func (s *Store) CountRecentTransactions(customerName string, since time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, rec := range s.records[customerName] {
		if rec.Timestamp.After(since) {
			count++
		}
	}
	return count
}

// Stats returns the number of customers and records held
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Customers: len(s.records),
		Records:   s.total,
	}
}
