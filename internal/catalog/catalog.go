// Package catalog holds the in-memory, insertion-ordered transaction history.
package catalog

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

var (
	ErrDuplicateID = errors.New("duplicate transaction id")
	ErrNotFound    = errors.New("transaction not found")
)

// Filter selects catalog entries. Zero values match everything.
type Filter struct {
	// Start and End bound the calendar date (inclusive). Applied only
	// when both are set.
	Start *time.Time
	End   *time.Time

	// Type matches exactly; empty or domain.TypeAll matches all types.
	Type domain.TransactionType

	// MinProbability keeps entries with FraudProbability >= MinProbability.
	MinProbability float64

	// Threshold decides fraudulent vs legitimate in Summary. Zero means
	// domain.DefaultFraudThreshold. It does not filter.
	Threshold float64
}

// Match reports whether tx satisfies the filter.
func (f Filter) Match(tx domain.Transaction) bool {
	if f.Start != nil && f.End != nil {
		day := dateOf(tx.Timestamp)
		if day.Before(dateOf(*f.Start)) || day.After(dateOf(*f.End)) {
			return false
		}
	}
	if f.Type != "" && f.Type != domain.TypeAll && tx.Type != f.Type {
		return false
	}
	return tx.FraudProbability >= f.MinProbability
}

// dateOf truncates t to its calendar date in t's own location.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Summary aggregates a filtered view.
type Summary struct {
	Total       int     `json:"total"`
	Fraudulent  int     `json:"fraudulent"`
	Legitimate  int     `json:"legitimate"`
	TotalAmount float64 `json:"totalAmount"`
}

// Catalog is a concurrency-safe ordered set of transactions keyed by id.
type Catalog struct {
	mu    sync.RWMutex
	items []domain.Transaction
	index map[string]int
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{index: make(map[string]int)}
}

// Append validates tx and adds it at the end.
func (c *Catalog) Append(tx domain.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.index[tx.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, tx.ID)
	}
	c.index[tx.ID] = len(c.items)
	c.items = append(c.items, tx)
	metrics.CatalogSize.Set(float64(len(c.items)))
	return nil
}

// Get returns the transaction with the given id.
func (c *Catalog) Get(id string) (domain.Transaction, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[id]
	if !ok {
		return domain.Transaction{}, ErrNotFound
	}
	return c.items[i], nil
}

// Contains reports whether id is present.
func (c *Catalog) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[id]
	return ok
}

// Len returns the number of transactions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// All returns a copy of every transaction in insertion order.
func (c *Catalog) All() []domain.Transaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Transaction, len(c.items))
	copy(out, c.items)
	return out
}

// Clear atomically empties the catalog and returns how many entries it held.
func (c *Catalog) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.items)
	c.items = nil
	c.index = make(map[string]int)
	metrics.CatalogSize.Set(0)
	return n
}

// Query returns the matching transactions in insertion order.
func (c *Catalog) Query(f Filter) []domain.Transaction {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Transaction, 0)
	for _, tx := range c.items {
		if f.Match(tx) {
			out = append(out, tx)
		}
	}
	return out
}

// Summary counts fraudulent and legitimate entries among the matches.
func (c *Catalog) Summary(f Filter) Summary {
	threshold := f.Threshold
	if threshold <= 0 {
		threshold = domain.DefaultFraudThreshold
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var s Summary
	for _, tx := range c.items {
		if !f.Match(tx) {
			continue
		}
		s.Total++
		s.TotalAmount += tx.Amount
		if tx.IsFraudulentAt(threshold) {
			s.Fraudulent++
		} else {
			s.Legitimate++
		}
	}
	return s
}
