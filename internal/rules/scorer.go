// Package rules provides the CEL-Go based risk scorer.
package rules

import (
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/harrier/internal/domain"
)

// MaxRiskScore is the score that maps to probability 1.0.
const MaxRiskScore = 10

// ScorerName identifies the rule-based scorer in assessments and metrics.
const ScorerName = "rules"

// DefaultLocationRisk is the per-city risk weight (1 = lowest, 5 = highest).
var DefaultLocationRisk = map[domain.Location]int{
	domain.LocationNewYork:   2,
	domain.LocationLondon:    2,
	domain.LocationTokyo:     2,
	domain.LocationSingapore: 1,
	domain.LocationHongKong:  3,
	domain.LocationDubai:     4,
	domain.LocationParis:     2,
	domain.LocationSydney:    1,
	domain.LocationMumbai:    4,
	domain.LocationShanghai:  3,
}

// ScorerConfig holds the risk scorer thresholds.
type ScorerConfig struct {
	HighAmount          float64
	SuspiciousAmount    float64
	Threshold           float64
	LocationRisk        map[domain.Location]int
	UnknownLocationRisk int
}

// DefaultScorerConfig returns the standard thresholds and location table.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		HighAmount:          8000,
		SuspiciousAmount:    5000,
		Threshold:           domain.DefaultFraudThreshold,
		LocationRisk:        maps.Clone(DefaultLocationRisk),
		UnknownLocationRisk: 5,
	}
}

// Signal is a named CEL expression returning risk points.
type Signal struct {
	Name       string
	Expression string
	Reason     string
}

// Built-in signals. Each expression evaluates to an int number of points.
var builtinSignals = []Signal{
	{
		Name:       "amount",
		Expression: `amount > high_amount ? 3 : (amount > suspicious_amount ? 2 : 0)`,
		Reason:     "amount above risk threshold",
	},
	{
		Name:       "wire_transfer",
		Expression: `tx_type == "Wire Transfer" && amount > suspicious_amount ? 2 : 0`,
		Reason:     "high-value wire transfer",
	},
}

type compiledSignal struct {
	Signal
	program cel.Program
}

// RiskScorer combines location, amount and type signals into a probability.
// It holds only immutable state after construction.
type RiskScorer struct {
	cfg     ScorerConfig
	signals []compiledSignal
}

// SignalResult is the contribution of one signal.
type SignalResult struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
	Reason string `json:"reason,omitempty"`
}

// Result is the full breakdown of a risk evaluation.
type Result struct {
	LocationRisk int            `json:"locationRisk"`
	Signals      []SignalResult `json:"signals"`
	Score        int            `json:"score"`
	Probability  float64        `json:"probability"`
	Fraudulent   bool           `json:"fraudulent"`
}

// NewRiskScorer compiles the built-in signals against cfg.
// Zero-valued fields in cfg fall back to the defaults.
func NewRiskScorer(cfg ScorerConfig) (*RiskScorer, error) {
	def := DefaultScorerConfig()
	if cfg.HighAmount <= 0 {
		cfg.HighAmount = def.HighAmount
	}
	if cfg.SuspiciousAmount <= 0 {
		cfg.SuspiciousAmount = def.SuspiciousAmount
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.UnknownLocationRisk <= 0 {
		cfg.UnknownLocationRisk = def.UnknownLocationRisk
	}
	if len(cfg.LocationRisk) == 0 {
		cfg.LocationRisk = def.LocationRisk
	} else {
		cfg.LocationRisk = maps.Clone(cfg.LocationRisk)
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("high_amount", cel.DoubleType),
		cel.Variable("suspicious_amount", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	s := &RiskScorer{cfg: cfg}
	for _, sig := range builtinSignals {
		compiled, err := compileSignal(env, sig)
		if err != nil {
			return nil, err
		}
		s.signals = append(s.signals, compiled)
	}
	return s, nil
}

// MustRiskScorer is NewRiskScorer for the default configuration.
// The built-in expressions are static, so a failure is a programming error.
func MustRiskScorer() *RiskScorer {
	s, err := NewRiskScorer(DefaultScorerConfig())
	if err != nil {
		panic(err)
	}
	return s
}

func compileSignal(env *cel.Env, sig Signal) (compiledSignal, error) {
	ast, issues := env.Compile(sig.Expression)
	if issues != nil && issues.Err() != nil {
		return compiledSignal{}, fmt.Errorf("failed to compile signal %s: %w", sig.Name, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.IntType && outputType != cel.DoubleType {
		return compiledSignal{}, fmt.Errorf("signal %s: expression must return int or double, got %s", sig.Name, outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return compiledSignal{}, fmt.Errorf("failed to create program for signal %s: %w", sig.Name, err)
	}
	return compiledSignal{Signal: sig, program: program}, nil
}

// Name implements domain.Scorer.
func (s *RiskScorer) Name() string { return ScorerName }

// Threshold returns the configured alert threshold.
func (s *RiskScorer) Threshold() float64 { return s.cfg.Threshold }

// Predict implements domain.Scorer.
func (s *RiskScorer) Predict(tx domain.Transaction) float64 {
	return s.Evaluate(tx).Probability
}

// IsFraudulent reports whether the risk probability reaches the threshold.
func (s *RiskScorer) IsFraudulent(tx domain.Transaction) bool {
	return s.Evaluate(tx).Fraudulent
}

// Evaluate scores tx and returns the per-signal breakdown.
func (s *RiskScorer) Evaluate(tx domain.Transaction) Result {
	return s.evaluate(tx, true)
}

func (s *RiskScorer) evaluate(tx domain.Transaction, advise bool) Result {
	res := Result{LocationRisk: s.locationRisk(tx.Location)}
	score := res.LocationRisk

	activation := map[string]any{
		"amount":            tx.Amount,
		"tx_type":           string(tx.Type),
		"location":          string(tx.Location),
		"high_amount":       s.cfg.HighAmount,
		"suspicious_amount": s.cfg.SuspiciousAmount,
	}

	for _, sig := range s.signals {
		out, _, err := sig.program.Eval(activation)
		if err != nil {
			slog.Error("risk signal evaluation failed",
				"signal", sig.Name,
				"tx_id", tx.ID,
				"error", err,
			)
			continue
		}
		points := toPoints(out)
		if points == 0 {
			continue
		}
		score += points
		res.Signals = append(res.Signals, SignalResult{Name: sig.Name, Points: points, Reason: sig.Reason})
	}

	if advise {
		s.logAdvisories(tx)
	}

	res.Score = min(score, MaxRiskScore)
	res.Probability = float64(res.Score) / MaxRiskScore
	res.Fraudulent = res.Probability >= s.cfg.Threshold

	slog.Debug("transaction risk score",
		"tx_id", tx.ID,
		"score", res.Score,
		"max_score", MaxRiskScore,
		"probability", res.Probability,
	)
	return res
}

// Explain returns human readable reasons for the risk score.
func (s *RiskScorer) Explain(tx domain.Transaction) []string {
	res := s.evaluate(tx, false)
	reasons := make([]string, 0, len(res.Signals)+1)
	if !domain.KnownLocation(tx.Location) {
		reasons = append(reasons, fmt.Sprintf("unknown location %q (risk %d)", tx.Location, res.LocationRisk))
	} else if res.LocationRisk >= 3 {
		reasons = append(reasons, fmt.Sprintf("high-risk location %s (risk %d)", tx.Location, res.LocationRisk))
	}
	for _, sig := range res.Signals {
		reasons = append(reasons, fmt.Sprintf("%s (+%d)", sig.Reason, sig.Points))
	}
	return reasons
}

func (s *RiskScorer) locationRisk(l domain.Location) int {
	if risk, ok := s.cfg.LocationRisk[l]; ok {
		return risk
	}
	return s.cfg.UnknownLocationRisk
}

// logAdvisories emits the operator-facing notices. They never affect the score.
func (s *RiskScorer) logAdvisories(tx domain.Transaction) {
	switch {
	case tx.Amount > s.cfg.HighAmount:
		slog.Warn("high amount transaction detected", "tx_id", tx.ID, "amount", tx.Amount)
	case tx.Amount > s.cfg.SuspiciousAmount:
		slog.Info("suspicious amount detected", "tx_id", tx.ID, "amount", tx.Amount)
	}
	if tx.Type == domain.TypeWireTransfer && tx.Amount > s.cfg.SuspiciousAmount {
		slog.Info("high-risk wire transfer detected", "tx_id", tx.ID, "amount", tx.Amount)
	}
}

// toPoints converts a CEL value to integer points.
func toPoints(val ref.Val) int {
	switch v := val.(type) {
	case types.Int:
		return int(v)
	case types.Double:
		return int(v)
	default:
		return 0
	}
}
