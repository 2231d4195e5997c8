// Benchmark tool comparing Harrier's rule scorer and classifier against
// labeled transaction data.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/labeled.csv
//
// This tool:
//  1. Imports id,amount,type,fraudProbability[,location] records; the stored
//     probability at the alert threshold is the ground-truth label
//  2. Scores every record with the rule scorer and the classifier
//  3. Optionally feeds each label back to the classifier after scoring it
//  4. Prints a confusion matrix and precision/recall/F1 per scorer
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/opensource-finance/harrier/internal/catalog"
	"github.com/opensource-finance/harrier/internal/classifier"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/importer"
	"github.com/opensource-finance/harrier/internal/logging"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Metrics tracks one scorer's confusion matrix.
type Metrics struct {
	Name           string
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64
	Duration       time.Duration
}

func (m *Metrics) record(predicted, actual bool) {
	switch {
	case predicted && actual:
		m.TruePositives++
	case predicted && !actual:
		m.FalsePositives++
	case !predicted && !actual:
		m.TrueNegatives++
	default:
		m.FalseNegatives++
	}
}

func (m *Metrics) total() int64 {
	return m.TruePositives + m.FalsePositives + m.TrueNegatives + m.FalseNegatives
}

func (m *Metrics) precision() float64 {
	if m.TruePositives+m.FalsePositives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
}

func (m *Metrics) recall() float64 {
	if m.TruePositives+m.FalseNegatives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
}

func (m *Metrics) f1() float64 {
	p, r := m.precision(), m.recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func (m *Metrics) accuracy() float64 {
	if m.total() == 0 {
		return 0
	}
	return float64(m.TruePositives+m.TrueNegatives) / float64(m.total())
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled transaction CSV")
	limit := flag.Int("limit", 0, "Max transactions to score (0 = all)")
	threshold := flag.Float64("threshold", domain.DefaultFraudThreshold, "Alert threshold")
	trees := flag.Int("trees", 0, "Classifier trees (0 = default)")
	seed := flag.Int64("seed", 0, "Classifier seed")
	prequential := flag.Bool("prequential", true, "Train the classifier on each label after scoring it")
	verbose := flag.Bool("v", false, "Print every misclassification")
	flag.Parse()

	slog.SetDefault(logging.New(domain.LoggingConfig{Level: "warn", Format: "text"}))

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/labeled.csv [-limit N] [-prequential=false]")
		os.Exit(1)
	}
	if *threshold <= 0 || *threshold > 1 {
		fmt.Fprintf(os.Stderr, "threshold must be within (0,1], got %v\n", *threshold)
		os.Exit(1)
	}

	fmt.Printf("Loading %s...\n", *csvPath)
	cat := catalog.New()
	report, err := importer.New(cat).ImportFile(context.Background(), *csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to import: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  - Accepted: %d\n", report.Accepted)
	fmt.Printf("  - Rejected: %d\n", len(report.Rejected))

	transactions := cat.All()
	if *limit > 0 && len(transactions) > *limit {
		transactions = transactions[:*limit]
	}
	if len(transactions) == 0 {
		fmt.Println("Nothing to score.")
		return
	}

	ruleCfg := rules.DefaultScorerConfig()
	ruleCfg.Threshold = *threshold
	riskScorer, err := rules.NewRiskScorer(ruleCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build rule scorer: %v\n", err)
		os.Exit(1)
	}

	clsCfg := domain.DefaultConfig().Classifier
	if *trees > 0 {
		clsCfg.Trees = *trees
	}
	clsCfg.Seed = *seed
	cls := classifier.New(clsCfg)

	ruleMetrics := &Metrics{Name: riskScorer.Name()}
	clsMetrics := &Metrics{Name: cls.Name()}

	fmt.Printf("\nScoring %d transactions (prequential=%v)...\n", len(transactions), *prequential)
	for _, tx := range transactions {
		actual := tx.IsFraudulentAt(*threshold)

		start := time.Now()
		rulePred := riskScorer.Predict(tx) >= *threshold
		ruleMetrics.Duration += time.Since(start)
		ruleMetrics.record(rulePred, actual)

		start = time.Now()
		clsProb := cls.Predict(tx)
		clsPred := clsProb >= *threshold
		if *prequential {
			cls.Update(tx, actual)
		}
		clsMetrics.Duration += time.Since(start)
		clsMetrics.record(clsPred, actual)

		if *verbose && (rulePred != actual || clsPred != actual) {
			fmt.Printf("%-20s | %-13s | %-10s | $%10.2f | label %-5v | rules %-5v | classifier %-5v (%.2f)\n",
				tx.ID, tx.Type, tx.Location, tx.Amount, actual, rulePred, clsPred, clsProb)
		}
	}

	printResults(ruleMetrics)
	printResults(clsMetrics)
	fmt.Printf("Classifier trained on %d examples (version %d)\n\n", cls.HistorySize(), cls.Version())
}

func printResults(m *Metrics) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Printf("║  %-61s║\n", "RESULTS: "+m.Name)
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Println("\n  CONFUSION MATRIX")
	fmt.Println("                        Predicted")
	fmt.Println("                   FRAUD      LEGIT")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           L  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	fmt.Println("\n  DETECTION METRICS")
	fmt.Printf("   Precision:  %.4f\n", m.precision())
	fmt.Printf("   Recall:     %.4f\n", m.recall())
	fmt.Printf("   F1-Score:   %.4f\n", m.f1())
	fmt.Printf("   Accuracy:   %.4f\n", m.accuracy())

	fmt.Println("\n  PERFORMANCE")
	fmt.Printf("   Total:      %v\n", m.Duration.Round(time.Microsecond))
	if n := m.total(); n > 0 {
		fmt.Printf("   Per tx:     %v\n", (m.Duration / time.Duration(n)).Round(time.Microsecond))
	}
}
