package catalog

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func day(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func sample() []domain.Transaction {
	return []domain.Transaction{
		{ID: "a", Amount: 100, Type: domain.TypeCreditCard, Location: domain.LocationLondon, FraudProbability: 0.1, Timestamp: day(2024, 3, 1, 9)},
		{ID: "b", Amount: 9000, Type: domain.TypeWireTransfer, Location: domain.LocationDubai, FraudProbability: 0.9, Timestamp: day(2024, 3, 2, 23)},
		{ID: "c", Amount: 500, Type: domain.TypeCashDeposit, Location: domain.LocationTokyo, FraudProbability: 0.7, Timestamp: day(2024, 3, 3, 0)},
		{ID: "d", Amount: 7000, Type: domain.TypeWireTransfer, Location: domain.LocationMumbai, FraudProbability: 0.69, Timestamp: day(2024, 3, 5, 12)},
	}
}

func newSampleCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := New()
	for _, tx := range sample() {
		if err := c.Append(tx); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	return c
}

func ids(txs []domain.Transaction) string {
	s := ""
	for _, tx := range txs {
		s += tx.ID
	}
	return s
}

func TestAppend(t *testing.T) {
	c := newSampleCatalog(t)

	t.Run("Duplicate", func(t *testing.T) {
		err := c.Append(sample()[0])
		if !errors.Is(err, ErrDuplicateID) {
			t.Errorf("expected ErrDuplicateID, got %v", err)
		}
		if c.Len() != 4 {
			t.Errorf("expected len 4, got %d", c.Len())
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		bad := domain.Transaction{ID: "x", Amount: -1, Type: domain.TypeCreditCard, Location: domain.LocationLondon}
		if err := c.Append(bad); !errors.Is(err, domain.ErrInvalidTransaction) {
			t.Errorf("expected ErrInvalidTransaction, got %v", err)
		}
		bad = domain.Transaction{ID: "y", Amount: 1, Type: domain.TypeCreditCard, Location: domain.LocationLondon, FraudProbability: 1.2}
		if err := c.Append(bad); !errors.Is(err, domain.ErrInvalidTransaction) {
			t.Errorf("expected ErrInvalidTransaction, got %v", err)
		}
	})

	t.Run("Get", func(t *testing.T) {
		tx, err := c.Get("b")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if tx.Amount != 9000 {
			t.Errorf("expected amount 9000, got %.2f", tx.Amount)
		}
		if _, err := c.Get("missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if !c.Contains("a") || c.Contains("zzz") {
			t.Error("Contains returned wrong result")
		}
	})
}

func TestQuery(t *testing.T) {
	c := newSampleCatalog(t)

	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{"no filter", Filter{}, "abcd"},
		{"type all", Filter{Type: domain.TypeAll}, "abcd"},
		{"wire only", Filter{Type: domain.TypeWireTransfer}, "bd"},
		{"threshold inclusive", Filter{MinProbability: 0.7}, "bc"},
		{"threshold above one", Filter{MinProbability: 1.01}, ""},
		{"date range inclusive", Filter{Start: ptr(day(2024, 3, 2, 0)), End: ptr(day(2024, 3, 3, 0))}, "bc"},
		{"date range single day", Filter{Start: ptr(day(2024, 3, 5, 23)), End: ptr(day(2024, 3, 5, 0))}, "d"},
		{"only start ignored", Filter{Start: ptr(day(2024, 3, 4, 0))}, "abcd"},
		{"only end ignored", Filter{End: ptr(day(2024, 3, 1, 0))}, "abcd"},
		{"combined", Filter{Start: ptr(day(2024, 3, 1, 0)), End: ptr(day(2024, 3, 31, 0)), Type: domain.TypeWireTransfer, MinProbability: 0.7}, "b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ids(c.Query(tt.filter)); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestQueryReturnsCopy(t *testing.T) {
	c := newSampleCatalog(t)

	res := c.Query(Filter{})
	res[0].Amount = -42

	tx, _ := c.Get("a")
	if tx.Amount != 100 {
		t.Error("mutating a query result changed the catalog")
	}

	if res := c.Query(Filter{MinProbability: 2}); res == nil || len(res) != 0 {
		t.Error("expected empty non-nil result")
	}
}

func TestSummary(t *testing.T) {
	c := newSampleCatalog(t)

	s := c.Summary(Filter{})
	if s.Total != 4 || s.Fraudulent != 2 || s.Legitimate != 2 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if s.TotalAmount != 16600 {
		t.Errorf("expected total amount 16600, got %.2f", s.TotalAmount)
	}

	s = c.Summary(Filter{Type: domain.TypeWireTransfer})
	if s.Total != 2 || s.Fraudulent != 1 || s.Legitimate != 1 {
		t.Errorf("unexpected wire summary: %+v", s)
	}
}

func TestSummaryThreshold(t *testing.T) {
	c := newSampleCatalog(t)

	tests := []struct {
		threshold  float64
		fraudulent int
	}{
		{0, 2},
		{0.5, 3},
		{0.69, 3},
		{0.95, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("threshold_%.2f", tt.threshold), func(t *testing.T) {
			s := c.Summary(Filter{Threshold: tt.threshold})
			if s.Fraudulent != tt.fraudulent || s.Legitimate != 4-tt.fraudulent {
				t.Errorf("expected %d fraudulent, got %+v", tt.fraudulent, s)
			}
		})
	}

	// Threshold does not filter.
	if got := len(c.Query(Filter{Threshold: 0.95})); got != 4 {
		t.Errorf("expected threshold to leave query untouched, got %d", got)
	}
}

func TestClear(t *testing.T) {
	c := newSampleCatalog(t)

	if n := c.Clear(); n != 4 {
		t.Errorf("expected 4 cleared, got %d", n)
	}
	if c.Len() != 0 || len(c.All()) != 0 {
		t.Error("expected empty catalog")
	}
	// Ids become available again.
	if err := c.Append(sample()[0]); err != nil {
		t.Errorf("Append after Clear failed: %v", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tx := domain.Transaction{
					ID:       fmt.Sprintf("w%d-%d", w, i),
					Amount:   float64(i),
					Type:     domain.TypeCreditCard,
					Location: domain.LocationParis,
				}
				if err := c.Append(tx); err != nil {
					t.Errorf("Append failed: %v", err)
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = c.Query(Filter{Type: domain.TypeCreditCard})
				_ = c.Summary(Filter{})
			}
		}()
	}
	wg.Wait()

	if c.Len() != 400 {
		t.Errorf("expected 400 entries, got %d", c.Len())
	}
}
