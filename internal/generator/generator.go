// Package generator produces synthetic transactions at randomized intervals.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/queue"
)

// ErrAlreadyRunning is returned by Start while a run loop is active.
var ErrAlreadyRunning = errors.New("generator already running")

// Sink receives generated transactions. Put blocks for backpressure.
type Sink interface {
	Put(ctx context.Context, tx domain.Transaction) error
}

// Config holds generator settings.
type Config struct {
	MinAmount   float64
	MaxAmount   float64
	MaxInterval time.Duration

	// FraudBias is the chance a simulated probability is drawn from the
	// fraud band [AlertThreshold, 1) instead of [0, 1).
	FraudBias      float64
	AlertThreshold float64

	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64
}

// Settings is a snapshot of the adjustable generator parameters.
type Settings struct {
	MinAmount   float64       `json:"minAmount"`
	MaxAmount   float64       `json:"maxAmount"`
	MaxInterval time.Duration `json:"maxInterval"`
	FraudBias   float64       `json:"fraudBias"`
	Scorer      string        `json:"scorer"`
}

// Generator creates transactions and feeds them into a Sink.
type Generator struct {
	sink   Sink
	scorer domain.Scorer // nil means simulated probabilities

	// mu guards the random source and the adjustable settings.
	mu   sync.Mutex
	rng  *rand.Rand
	cfg  Config
	seq  uint64
	last time.Time
	now  func() time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a generator. A nil scorer selects simulation mode.
func New(cfg Config, sink Sink, scorer domain.Scorer) *Generator {
	def := domain.DefaultConfig().Generator
	if cfg.MaxAmount <= 0 {
		cfg.MaxAmount = def.MaxAmount
	}
	if cfg.MinAmount < 0 || cfg.MinAmount > cfg.MaxAmount {
		cfg.MinAmount = 0
	}
	if cfg.AlertThreshold <= 0 || cfg.AlertThreshold > 1 {
		cfg.AlertThreshold = domain.DefaultFraudThreshold
	}
	cfg.FraudBias = domain.ClampProbability(cfg.FraudBias)

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Generator{
		sink:   sink,
		scorer: scorer,
		rng:    rand.New(rand.NewSource(seed)),
		cfg:    cfg,
		now:    time.Now,
	}
}

// Next creates one synthetic transaction.
func (g *Generator) Next() domain.Transaction {
	g.mu.Lock()
	types := domain.TransactionTypes()
	locations := domain.Locations()

	amount := g.cfg.MinAmount + g.rng.Float64()*(g.cfg.MaxAmount-g.cfg.MinAmount)
	tx := domain.Transaction{
		Amount:   amount,
		Type:     types[g.rng.Intn(len(types))],
		Location: locations[g.rng.Intn(len(locations))],
	}

	ts := g.now().UTC()
	if ts.Before(g.last) {
		ts = g.last
	}
	g.last = ts
	g.seq++
	tx.Timestamp = ts
	tx.ID = fmt.Sprintf("TX%d-%d", ts.UnixMilli(), g.seq)

	if g.scorer == nil {
		tx.FraudProbability = g.simulatedProbability()
	}
	g.mu.Unlock()

	if g.scorer != nil {
		tx = tx.WithFraudProbability(g.scorer.Predict(tx))
	}
	return tx
}

// simulatedProbability draws a probability. Caller must hold mu.
func (g *Generator) simulatedProbability() float64 {
	if g.cfg.FraudBias > 0 && g.rng.Float64() < g.cfg.FraudBias {
		t := g.cfg.AlertThreshold
		return t + g.rng.Float64()*(1-t)
	}
	return g.rng.Float64()
}

// Run generates transactions until ctx is cancelled or the sink closes.
// Shutdown is not an error.
func (g *Generator) Run(ctx context.Context) error {
	source := "simulation"
	if g.scorer != nil {
		source = g.scorer.Name()
	}
	slog.Info("generator started", "source", source)

	for {
		if ctx.Err() != nil {
			slog.Info("generator stopped", "reason", ctx.Err().Error())
			return nil
		}

		tx := g.Next()
		if err := g.sink.Put(ctx, tx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, queue.ErrClosed) {
				slog.Info("generator stopped", "reason", err.Error())
				return nil
			}
			return fmt.Errorf("failed to enqueue transaction %s: %w", tx.ID, err)
		}
		metrics.TransactionsGenerated.WithLabelValues(source).Inc()

		slog.Debug("generated transaction",
			"tx_id", tx.ID,
			"amount", tx.Amount,
			"type", tx.Type,
			"location", tx.Location,
			"fraud_probability", tx.FraudProbability,
		)

		if d := g.interval(); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				slog.Info("generator stopped", "reason", ctx.Err().Error())
				return nil
			case <-timer.C:
			}
		}
	}
}

func (g *Generator) interval() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cfg.MaxInterval <= 0 {
		return 0
	}
	return time.Duration(g.rng.Int63n(int64(g.cfg.MaxInterval)))
}

// Start launches Run in a goroutine.
func (g *Generator) Start(ctx context.Context) error {
	g.runMu.Lock()
	defer g.runMu.Unlock()

	if g.runningLocked() {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	g.cancel = cancel
	g.done = done

	go func() {
		defer close(done)
		if err := g.Run(runCtx); err != nil {
			slog.Error("generator failed", "error", err)
		}
	}()
	return nil
}

// Stop cancels the run loop and waits for it to exit.
// Nothing is enqueued after Stop returns.
func (g *Generator) Stop() {
	g.runMu.Lock()
	defer g.runMu.Unlock()

	if g.cancel == nil {
		return
	}
	g.cancel()
	<-g.done
	g.cancel = nil
	g.done = nil
}

// Running reports whether the run loop is active.
func (g *Generator) Running() bool {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	return g.runningLocked()
}

func (g *Generator) runningLocked() bool {
	if g.done == nil {
		return false
	}
	select {
	case <-g.done:
		return false
	default:
		return true
	}
}

// SetFraudBias sets the simulated fraud bias, clamped to [0,1].
func (g *Generator) SetFraudBias(p float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg.FraudBias = domain.ClampProbability(p)
	return g.cfg.FraudBias
}

// SetMaxAmount sets the upper amount bound, clamped to >= 0.
// MinAmount is lowered when it would exceed the new maximum.
func (g *Generator) SetMaxAmount(a float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a < 0 || math.IsNaN(a) {
		a = 0
	}
	g.cfg.MaxAmount = a
	if g.cfg.MinAmount > a {
		g.cfg.MinAmount = a
	}
	return a
}

// Settings returns the current adjustable parameters.
func (g *Generator) Settings() Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Settings{
		MinAmount:   g.cfg.MinAmount,
		MaxAmount:   g.cfg.MaxAmount,
		MaxInterval: g.cfg.MaxInterval,
		FraudBias:   g.cfg.FraudBias,
		Scorer:      "simulation",
	}
	if g.scorer != nil {
		s.Scorer = g.scorer.Name()
	}
	return s
}
