// Package classifier provides a trainable random forest fraud scorer.
package classifier

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// ScorerName identifies the classifier in assessments and metrics.
const ScorerName = "classifier"

// neutralProbability is returned when a prediction cannot be made.
const neutralProbability = 0.5

// seedSet is the initial labeled training data.
var seedSet = []struct {
	amount   float64
	typ      domain.TransactionType
	location domain.Location
	fraud    bool
}{
	{100, domain.TypeCreditCard, domain.LocationNewYork, false},
	{500, domain.TypeWireTransfer, domain.LocationLondon, false},
	{1000, domain.TypeCashDeposit, domain.LocationTokyo, false},
	{9000, domain.TypeWireTransfer, domain.LocationDubai, true},
	{8500, domain.TypeCreditCard, domain.LocationMumbai, true},
	{7500, domain.TypeWireTransfer, domain.LocationShanghai, true},
}

// Classifier is a random forest over amount, type and location.
// Predict is safe for concurrent use with Update.
type Classifier struct {
	cfg domain.ClassifierConfig

	// updateMu serializes retrains and guards history.
	updateMu sync.Mutex
	seed     []example
	history  []example

	mu      sync.RWMutex
	model   *forest
	size    atomic.Int64
	version atomic.Int64

	typeIndex     map[domain.TransactionType]int
	locationIndex map[domain.Location]int
}

// New builds a classifier trained on the seed set.
// Zero-valued config fields fall back to the defaults.
func New(cfg domain.ClassifierConfig) *Classifier {
	def := domain.DefaultConfig().Classifier
	if cfg.Trees <= 0 {
		cfg.Trees = def.Trees
	}
	if cfg.FeaturesPerSplit <= 0 {
		cfg.FeaturesPerSplit = def.FeaturesPerSplit
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.RetrainPolicy == "" {
		cfg.RetrainPolicy = def.RetrainPolicy
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = def.MaxHistory
	}

	c := &Classifier{
		cfg:           cfg,
		typeIndex:     make(map[domain.TransactionType]int),
		locationIndex: make(map[domain.Location]int),
	}
	for i, t := range domain.TransactionTypes() {
		c.typeIndex[t] = i
	}
	for i, l := range domain.Locations() {
		c.locationIndex[l] = i
	}

	for _, s := range seedSet {
		e, _ := c.encode(domain.Transaction{Amount: s.amount, Type: s.typ, Location: s.location})
		e.fraud = s.fraud
		c.seed = append(c.seed, e)
	}

	c.model = c.train(c.seed)
	c.size.Store(int64(len(c.seed)))

	slog.Info("classifier initialized",
		"trees", cfg.Trees,
		"features_per_split", cfg.FeaturesPerSplit,
		"max_depth", cfg.MaxDepth,
		"max_history", cfg.MaxHistory,
		"seed", cfg.Seed,
		"retrain_policy", cfg.RetrainPolicy,
	)
	return c
}

// Name implements domain.Scorer.
func (c *Classifier) Name() string { return ScorerName }

// Predict returns the fraudulent class probability for tx.
// Malformed input yields 0.5 and a warning; it never fails.
func (c *Classifier) Predict(tx domain.Transaction) (p float64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("classifier prediction panicked", "tx_id", tx.ID, "panic", r)
			metrics.ClassifierFallbacks.Inc()
			p = neutralProbability
		}
	}()

	e, err := c.encode(tx)
	if err != nil {
		slog.Warn("classifier prediction fell back", "tx_id", tx.ID, "error", err)
		metrics.ClassifierFallbacks.Inc()
		return neutralProbability
	}

	c.mu.RLock()
	model := c.model
	c.mu.RUnlock()

	return model.predict(e)
}

// Update retrains the model with a labeled transaction and reports whether
// the example was applied. Malformed input or a failed retrain leaves both
// the model and the history untouched.
func (c *Classifier) Update(tx domain.Transaction, fraudulent bool) bool {
	e, err := c.encode(tx)
	if err != nil {
		slog.Warn("classifier update skipped", "tx_id", tx.ID, "error", err)
		metrics.ClassifierUpdates.WithLabelValues("rejected").Inc()
		return false
	}
	e.fraud = fraudulent

	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	history := c.withHistory(e)
	if !c.retrain(history) {
		metrics.ClassifierUpdates.WithLabelValues("failed").Inc()
		return false
	}
	c.history = history
	metrics.ClassifierUpdates.WithLabelValues("ok").Inc()

	slog.Info("classifier updated",
		"tx_id", tx.ID,
		"fraudulent", fraudulent,
		"history_size", c.size.Load(),
		"version", c.version.Load(),
	)
	return true
}

// Replay rebuilds the model from stored labels with a single retrain.
// Labels that cannot be encoded are skipped. Returns the number applied.
func (c *Classifier) Replay(labels []*domain.Label) int {
	var examples []example
	for _, l := range labels {
		e, err := c.encode(l.Transaction())
		if err != nil {
			slog.Warn("classifier replay skipped label", "tx_id", l.TxID, "error", err)
			continue
		}
		e.fraud = l.Fraudulent
		examples = append(examples, e)
	}
	if len(examples) == 0 {
		return 0
	}

	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	history := c.withHistory(examples...)
	if !c.retrain(history) {
		return 0
	}
	c.history = history
	slog.Info("classifier replayed labels", "applied", len(examples), "history_size", c.size.Load())
	return len(examples)
}

// withHistory returns a copy of the history with es appended, trimmed to
// MaxHistory. Caller must hold updateMu.
func (c *Classifier) withHistory(es ...example) []example {
	history := make([]example, 0, len(c.history)+len(es))
	history = append(history, c.history...)
	history = append(history, es...)
	if over := len(history) - c.cfg.MaxHistory; over > 0 {
		history = history[over:]
	}
	return history
}

// HistorySize returns the number of examples the current model was trained on.
func (c *Classifier) HistorySize() int { return int(c.size.Load()) }

// Version increments with every successful retrain.
func (c *Classifier) Version() int64 { return c.version.Load() }

// retrain builds a new forest over the seed set and history, and swaps it in.
// Caller must hold updateMu.
func (c *Classifier) retrain(history []example) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("classifier retrain panicked", "panic", r)
			ok = false
		}
	}()

	data := c.trainingSet(history)
	model := c.train(data)

	c.mu.Lock()
	c.model = model
	c.mu.Unlock()

	c.size.Store(int64(len(data)))
	c.version.Add(1)
	return true
}

func (c *Classifier) trainingSet(history []example) []example {
	if c.cfg.RetrainPolicy == domain.RetrainLatest {
		if len(history) == 0 {
			return append([]example(nil), c.seed...)
		}
		return []example{history[len(history)-1]}
	}
	data := make([]example, 0, len(c.seed)+len(history))
	data = append(data, c.seed...)
	return append(data, history...)
}

func (c *Classifier) train(data []example) *forest {
	return trainForest(data, c.cfg.Trees, growParams{
		featuresPerSplit: c.cfg.FeaturesPerSplit,
		maxDepth:         c.cfg.MaxDepth,
		rng:              rand.New(rand.NewSource(c.cfg.Seed)),
	})
}

func (c *Classifier) encode(tx domain.Transaction) (example, error) {
	if math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) || tx.Amount < 0 {
		return example{}, fmt.Errorf("invalid amount %v", tx.Amount)
	}
	typ, ok := c.typeIndex[tx.Type]
	if !ok {
		return example{}, fmt.Errorf("unknown transaction type %q", tx.Type)
	}
	loc, ok := c.locationIndex[tx.Location]
	if !ok {
		return example{}, fmt.Errorf("unknown location %q", tx.Location)
	}
	return example{amount: tx.Amount, typ: typ, location: loc}, nil
}
