package domain

import (
	"time"
)

// Scorer assigns a fraud probability in [0,1] to a transaction.
// Implementations: the rule-based RiskScorer and the trainable classifier.
type Scorer interface {
	Predict(tx Transaction) float64
	Name() string
}

// ScoringMode selects the Scorer variant at construction.
type ScoringMode string

const (
	// ScoringRules uses the rule-based risk scorer.
	ScoringRules ScoringMode = "rules"

	// ScoringClassifier uses the trainable random-forest classifier.
	ScoringClassifier ScoringMode = "classifier"

	// ScoringSimulation draws generated probabilities at random.
	ScoringSimulation ScoringMode = "simulation"
)

// Assessment is the decision made for one transaction.
type Assessment struct {
	ID          string             `json:"id"`
	TxID        string             `json:"txId"`
	Status      string             `json:"status"` // "ALRT" or "NALT"
	Probability float64            `json:"probability"`
	Threshold   float64            `json:"threshold"`
	Fraudulent  bool               `json:"fraudulent"`
	Reasons     []string           `json:"reasons,omitempty"`
	Scorer      string             `json:"scorer,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	Metadata    AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	DecisionMs    int64  `json:"decisionMs"`
	EngineVersion string `json:"engineVersion"`
}

// Decision status constants
const (
	StatusAlert   = "ALRT" // Alert - flagged for review
	StatusNoAlert = "NALT" // No alert - transaction passed
)

// Label is a ground-truth outcome supplied for a transaction.
type Label struct {
	ID         string          `json:"id"`
	TxID       string          `json:"txId"`
	Amount     float64         `json:"amount"`
	Type       TransactionType `json:"type"`
	Location   Location        `json:"location"`
	Fraudulent bool            `json:"fraudulent"`
	LabeledAt  time.Time       `json:"labeledAt"`
}

// Transaction rebuilds the feature snapshot carried by the label.
func (l *Label) Transaction() Transaction {
	return Transaction{
		ID:        l.TxID,
		Amount:    l.Amount,
		Type:      l.Type,
		Location:  l.Location,
		Timestamp: l.LabeledAt,
	}
}
