package history

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/fraud-signal-service/internal/domain/transaction"
)

func record(customer, city, state string, at time.Time) transaction.Record {
	return transaction.Record{
		ID:           uuid.New(),
		CustomerName: customer,
		City:         city,
		State:        state,
		Amount:       decimal.NewFromInt(25),
		IPAddress:    "8.8.8.8",
		MerchantName: "Test Merchant",
		Timestamp:    at,
	}
}

func TestStore_UnknownCustomer(t *testing.T) {
	s := NewStore()
	now := time.Now()

	history := s.GetCustomerHistory("nobody")
	assert.NotNil(t, history)
	assert.Empty(t, history)
	assert.Empty(t, s.GetRecentTransactions("nobody", now.Add(-time.Hour)))
	assert.Zero(t, s.CountRecentTransactions("nobody", now.Add(-time.Hour)))
	assert.False(t, s.HasVisitedLocation("nobody", "Boston", "MA"))
}

func TestStore_SaveAndHistoryOrder(t *testing.T) {
	s := NewStore()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	s.SaveTransaction(record("Jane Doe", "Boston", "MA", base))
	s.SaveTransaction(record("Jane Doe", "Denver", "CO", base.Add(time.Minute)))
	s.SaveTransaction(record("John Smith", "Austin", "TX", base))

	history := s.GetCustomerHistory("Jane Doe")
	require.Len(t, history, 2)
	assert.Equal(t, "Boston", history[0].City)
	assert.Equal(t, "Denver", history[1].City)

	assert.Equal(t, Stats{Customers: 2, Records: 3}, s.Stats())
}

func TestStore_CustomerKeyIsCaseSensitive(t *testing.T) {
	s := NewStore()
	s.SaveTransaction(record("Jane Doe", "Boston", "MA", time.Now()))

	assert.Empty(t, s.GetCustomerHistory("jane doe"))
	assert.False(t, s.HasVisitedLocation("JANE DOE", "Boston", "MA"))
}

func TestStore_SnapshotIsIndependent(t *testing.T) {
	s := NewStore()
	s.SaveTransaction(record("Jane Doe", "Boston", "MA", time.Now()))

	snapshot := s.GetCustomerHistory("Jane Doe")
	snapshot[0].City = "Mutated"
	s.SaveTransaction(record("Jane Doe", "Denver", "CO", time.Now()))

	assert.Len(t, snapshot, 1)
	fresh := s.GetCustomerHistory("Jane Doe")
	require.Len(t, fresh, 2)
	assert.Equal(t, "Boston", fresh[0].City)
}

func TestStore_HasVisitedLocation(t *testing.T) {
	s := NewStore()
	s.SaveTransaction(record("Jane Doe", "Los Angeles", "CA", time.Now()))

	tests := []struct {
		name  string
		city  string
		state string
		want  bool
	}{
		{"exact", "Los Angeles", "CA", true},
		{"case insensitive", "LOS ANGELES", "ca", true},
		{"mixed case", "los Angeles", "Ca", true},
		{"city matches state differs by case only", "Los Angeles", "cA", true},
		{"different state", "Los Angeles", "TX", false},
		{"different city", "San Diego", "CA", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.HasVisitedLocation("Jane Doe", tt.city, tt.state))
		})
	}
}

func TestStore_RecentWindowIsStrictlyAfter(t *testing.T) {
	s := NewStore()
	since := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	s.SaveTransaction(record("Jane Doe", "Boston", "MA", since.Add(-time.Second)))
	s.SaveTransaction(record("Jane Doe", "Boston", "MA", since))
	s.SaveTransaction(record("Jane Doe", "Denver", "CO", since.Add(time.Nanosecond)))
	s.SaveTransaction(record("Jane Doe", "Austin", "TX", since.Add(5*time.Minute)))

	recent := s.GetRecentTransactions("Jane Doe", since)
	require.Len(t, recent, 2)
	assert.Equal(t, "Denver", recent[0].City)
	assert.Equal(t, "Austin", recent[1].City)
	assert.Equal(t, 2, s.CountRecentTransactions("Jane Doe", since))
}

func TestStore_CountMatchesSavesInsideWindow(t *testing.T) {
	now := time.Now()
	for n := 0; n <= 5; n++ {
		t.Run(fmt.Sprintf("%d saves", n), func(t *testing.T) {
			s := NewStore()
			for i := 0; i < n; i++ {
				s.SaveTransaction(record("Jane Doe", "Boston", "MA", now.Add(-time.Duration(i)*time.Minute)))
			}
			assert.Equal(t, n, s.CountRecentTransactions("Jane Doe", now.Add(-10*time.Minute)))

			s.SaveTransaction(record("Jane Doe", "Boston", "MA", now.Add(-11*time.Minute)))
			assert.Equal(t, n, s.CountRecentTransactions("Jane Doe", now.Add(-10*time.Minute)))
		})
	}
}

func TestStore_ConcurrentSavesAreNotLost(t *testing.T) {
	s := NewStore()
	customers := []string{"alice", "bob", "carol"}
	const perWorker = 200
	const workersPerCustomer = 8

	var wg sync.WaitGroup
	for _, c := range customers {
		for w := 0; w < workersPerCustomer; w++ {
			wg.Add(1)
			go func(customer string) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					s.SaveTransaction(record(customer, "Boston", "MA", time.Now()))
					_ = s.GetCustomerHistory(customer)
					_ = s.HasVisitedLocation(customer, "boston", "ma")
					_ = s.CountRecentTransactions(customer, time.Now().Add(-time.Minute))
				}
			}(c)
		}
	}
	wg.Wait()

	for _, c := range customers {
		assert.Len(t, s.GetCustomerHistory(c), perWorker*workersPerCustomer)
	}
	assert.Equal(t, Stats{Customers: 3, Records: 3 * perWorker * workersPerCustomer}, s.Stats())
}

func TestStore_PerCustomerOrderPreserved(t *testing.T) {
	s := NewStore()
	base := time.Now()
	for i := 0; i < 50; i++ {
		rec := record("Jane Doe", fmt.Sprintf("City%d", i), "MA", base.Add(time.Duration(i)*time.Millisecond))
		s.SaveTransaction(rec)
	}

	history := s.GetCustomerHistory("Jane Doe")
	require.Len(t, history, 50)
	for i, rec := range history {
		assert.Equal(t, fmt.Sprintf("City%d", i), rec.City)
	}
}
