package tadp

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/rules"
)

func scored(id string, p float64) domain.Transaction {
	return domain.Transaction{
		ID:               id,
		Amount:           9000,
		Type:             domain.TypeWireTransfer,
		Location:         domain.LocationDubai,
		FraudProbability: p,
		Timestamp:        time.Now().UTC(),
	}
}

func TestProcessor(t *testing.T) {
	proc := NewProcessor()
	ctx := context.Background()

	t.Run("BelowThreshold", func(t *testing.T) {
		a := proc.Decide(ctx, &DecisionInput{Tx: scored("tx-001", 0.3), TraceID: "trace-001", Scorer: "rules"})

		if a.Status != domain.StatusNoAlert {
			t.Errorf("expected NALT, got %s", a.Status)
		}
		if a.Fraudulent {
			t.Error("expected not fraudulent")
		}
		if a.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceID 'trace-001', got '%s'", a.Metadata.TraceID)
		}
		if a.Scorer != "rules" {
			t.Errorf("expected scorer 'rules', got '%s'", a.Scorer)
		}
		if a.ID == "" {
			t.Error("expected assessment ID")
		}
		if ShouldAlert(a) {
			t.Error("ShouldAlert should be false")
		}
	})

	t.Run("AtThreshold", func(t *testing.T) {
		a := proc.Decide(ctx, &DecisionInput{Tx: scored("tx-002", 0.7)})

		if a.Status != domain.StatusAlert {
			t.Errorf("expected ALRT at threshold, got %s", a.Status)
		}
		if !ShouldAlert(a) {
			t.Error("ShouldAlert should be true")
		}
		if a.Probability != 0.7 || a.Threshold != 0.7 {
			t.Errorf("unexpected probability/threshold: %.2f/%.2f", a.Probability, a.Threshold)
		}
	})

	t.Run("CustomThreshold", func(t *testing.T) {
		p := &Processor{AlertThreshold: 0.95}
		a := p.Decide(ctx, &DecisionInput{Tx: scored("tx-003", 0.9)})

		if a.Status != domain.StatusNoAlert {
			t.Errorf("expected NALT with threshold 0.95, got %s", a.Status)
		}
	})
}

func TestProcessorReasons(t *testing.T) {
	proc := NewProcessor()
	proc.Explainer = rules.MustRiskScorer()

	a := proc.Decide(context.Background(), &DecisionInput{Tx: scored("tx-004", 0.9)})
	if len(a.Reasons) == 0 {
		t.Error("expected reasons from the risk scorer")
	}

	proc.Explainer = nil
	a = proc.Decide(context.Background(), &DecisionInput{Tx: scored("tx-005", 0.9)})
	if len(a.Reasons) != 0 {
		t.Errorf("expected no reasons without explainer, got %v", a.Reasons)
	}
}

func TestProcessorMetadata(t *testing.T) {
	proc := NewProcessor()
	a := proc.Decide(context.Background(), &DecisionInput{
		Tx:        scored("tx-006", 0.1),
		StartTime: time.Now().Add(-5 * time.Millisecond),
	})

	if a.Metadata.DecisionMs < 5 {
		t.Errorf("expected decision time to include start offset, got %dms", a.Metadata.DecisionMs)
	}
	if a.Metadata.EngineVersion != EngineVersion {
		t.Errorf("expected engine version %s, got %s", EngineVersion, a.Metadata.EngineVersion)
	}
}
