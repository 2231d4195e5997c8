// Package tadp implements the Transaction Aggregated Decision Processor.
// TADP turns a scored transaction into an alert decision.
package tadp

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// EngineVersion is stamped on every assessment.
const EngineVersion = "harrier-1.0"

// Explainer produces human readable reasons for a transaction's risk.
type Explainer interface {
	Explain(tx domain.Transaction) []string
}

// Processor decides whether a scored transaction is flagged.
type Processor struct {
	// Threshold at or above which a transaction is flagged as ALRT
	AlertThreshold float64

	// Explainer is optional; it fills Assessment.Reasons.
	Explainer Explainer
}

// NewProcessor creates a new TADP processor with default settings.
func NewProcessor() *Processor {
	return &Processor{
		AlertThreshold: domain.DefaultFraudThreshold,
	}
}

// DecisionInput contains all data needed for a decision.
type DecisionInput struct {
	Tx        domain.Transaction
	Scorer    string
	TraceID   string
	StartTime time.Time
}

// Decide flags tx when its fraud probability reaches the threshold.
func (p *Processor) Decide(ctx context.Context, input *DecisionInput) *domain.Assessment {
	start := input.StartTime
	if start.IsZero() {
		start = time.Now()
	}

	tx := input.Tx
	a := &domain.Assessment{
		ID:          uuid.New().String(),
		TxID:        tx.ID,
		Probability: tx.FraudProbability,
		Threshold:   p.AlertThreshold,
		Fraudulent:  tx.IsFraudulentAt(p.AlertThreshold),
		Scorer:      input.Scorer,
		Timestamp:   time.Now().UTC(),
	}

	if a.Fraudulent {
		a.Status = domain.StatusAlert
	} else {
		a.Status = domain.StatusNoAlert
	}

	if p.Explainer != nil {
		a.Reasons = p.Explainer.Explain(tx)
	}

	a.Metadata = domain.AssessmentMetadata{
		TraceID:       input.TraceID,
		DecisionMs:    time.Since(start).Milliseconds(),
		EngineVersion: EngineVersion,
	}

	return a
}

// ShouldAlert returns true if the assessment should trigger an alert.
func ShouldAlert(a *domain.Assessment) bool {
	return a.Status == domain.StatusAlert
}
