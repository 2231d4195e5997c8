package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultFraudThreshold is the probability at or above which a transaction
// is classified as fraudulent.
const DefaultFraudThreshold = 0.7

// ErrInvalidTransaction is returned when a transaction violates its invariants.
var ErrInvalidTransaction = errors.New("invalid transaction")

// TransactionType is the kind of financial event.
type TransactionType string

const (
	TypeCreditCard   TransactionType = "Credit Card"
	TypeWireTransfer TransactionType = "Wire Transfer"
	TypeCashDeposit  TransactionType = "Cash Deposit"

	// TypeAll is a query value matching every type.
	TypeAll TransactionType = "All"
)

var transactionTypes = []TransactionType{TypeCreditCard, TypeWireTransfer, TypeCashDeposit}

// TransactionTypes returns the fixed set of transaction types.
func TransactionTypes() []TransactionType {
	out := make([]TransactionType, len(transactionTypes))
	copy(out, transactionTypes)
	return out
}

// Valid reports whether t is one of the fixed transaction types.
func (t TransactionType) Valid() bool {
	for _, known := range transactionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTransactionType accepts display names ("Wire Transfer") as well as
// compact forms ("WireTransfer", "wire_transfer"), case-insensitive.
func ParseTransactionType(s string) (TransactionType, error) {
	key := normalizeName(s)
	if key == normalizeName(string(TypeAll)) {
		return TypeAll, nil
	}
	for _, known := range transactionTypes {
		if key == normalizeName(string(known)) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown transaction type %q", s)
}

// Location is the city where a transaction took place.
type Location string

const (
	LocationNewYork   Location = "New York"
	LocationLondon    Location = "London"
	LocationTokyo     Location = "Tokyo"
	LocationSingapore Location = "Singapore"
	LocationHongKong  Location = "Hong Kong"
	LocationDubai     Location = "Dubai"
	LocationParis     Location = "Paris"
	LocationSydney    Location = "Sydney"
	LocationMumbai    Location = "Mumbai"
	LocationShanghai  Location = "Shanghai"
)

var locations = []Location{
	LocationNewYork, LocationLondon, LocationTokyo, LocationSingapore, LocationHongKong,
	LocationDubai, LocationParis, LocationSydney, LocationMumbai, LocationShanghai,
}

// Locations returns the fixed set of known cities.
func Locations() []Location {
	out := make([]Location, len(locations))
	copy(out, locations)
	return out
}

// KnownLocation reports whether l is one of the fixed cities.
func KnownLocation(l Location) bool {
	for _, known := range locations {
		if l == known {
			return true
		}
	}
	return false
}

// Transaction is one observed financial event. Values are never mutated
// after creation; use WithFraudProbability to derive a scored copy.
type Transaction struct {
	ID               string          `json:"id"`
	Amount           float64         `json:"amount"`
	Type             TransactionType `json:"type"`
	Timestamp        time.Time       `json:"timestamp"`
	FraudProbability float64         `json:"fraudProbability"`
	Location         Location        `json:"location"`
}

// Validate checks the transaction invariants.
func (t Transaction) Validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidTransaction)
	case math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0):
		return fmt.Errorf("%w: amount must be finite", ErrInvalidTransaction)
	case t.Amount < 0:
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidTransaction)
	case !t.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, t.Type)
	case t.Location == "":
		return fmt.Errorf("%w: location is required", ErrInvalidTransaction)
	case math.IsNaN(t.FraudProbability) || t.FraudProbability < 0 || t.FraudProbability > 1:
		return fmt.Errorf("%w: fraud probability must be within [0,1]", ErrInvalidTransaction)
	}
	return nil
}

// IsFraudulent applies the default threshold.
func (t Transaction) IsFraudulent() bool {
	return t.IsFraudulentAt(DefaultFraudThreshold)
}

// IsFraudulentAt reports whether the fraud probability reaches threshold.
func (t Transaction) IsFraudulentAt(threshold float64) bool {
	return t.FraudProbability >= threshold
}

// WithFraudProbability returns a copy carrying p, clamped to [0,1].
func (t Transaction) WithFraudProbability(p float64) Transaction {
	t.FraudProbability = ClampProbability(p)
	return t
}

func (t Transaction) String() string {
	return fmt.Sprintf("Transaction{id=%s, amount=%.2f, type=%s, location=%s, fraudProbability=%.2f}",
		t.ID, t.Amount, t.Type, t.Location, t.FraudProbability)
}

// ClampProbability bounds p to [0,1]. NaN becomes 0.
func ClampProbability(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func normalizeName(s string) string {
	r := strings.NewReplacer(" ", "", "_", "", "-", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(s)))
}
