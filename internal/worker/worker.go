// Package worker consumes queued transactions and turns them into decisions.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/catalog"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/queue"
	"github.com/opensource-finance/harrier/internal/tadp"
)

var tracer = otel.Tracer("harrier/worker")

// Source yields transactions. Take blocks until one is available.
type Source interface {
	Take(ctx context.Context) (domain.Transaction, error)
}

// Config holds worker configuration.
type Config struct {
	// Scorer names the scorer that produced the probabilities.
	Scorer string

	// AssessmentTTL is how long assessments stay cached.
	AssessmentTTL time.Duration
}

// Worker takes transactions from a Source, decides them and records the result.
type Worker struct {
	source    Source
	catalog   *catalog.Catalog
	processor *tadp.Processor
	cache     domain.Cache    // optional
	bus       domain.EventBus // optional
	cfg       Config

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ScoredEvent is the payload published for every decided transaction.
type ScoredEvent struct {
	Transaction domain.Transaction `json:"transaction"`
	Assessment  *domain.Assessment `json:"assessment"`
}

// NewWorker creates a worker. cache and bus may be nil.
func NewWorker(source Source, cat *catalog.Catalog, processor *tadp.Processor, cache domain.Cache, bus domain.EventBus, cfg Config) *Worker {
	if cfg.AssessmentTTL <= 0 {
		cfg.AssessmentTTL = domain.DefaultConfig().Cache.AssessmentTTL
	}
	return &Worker{
		source:    source,
		catalog:   cat,
		processor: processor,
		cache:     cache,
		bus:       bus,
		cfg:       cfg,
	}
}

// Start launches the consume loop. Calling Start twice is a no-op.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(runCtx)
	}()

	slog.Info("worker started", "scorer", w.cfg.Scorer)
	return nil
}

func (w *Worker) run(ctx context.Context) {
	for {
		tx, err := w.source.Take(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("worker loop ended", "reason", err.Error())
				return
			}
			slog.Error("failed to take transaction", "error", err)
			return
		}

		if _, err := w.Process(ctx, tx); err != nil {
			slog.Error("failed to process transaction",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}
}

// Process decides one transaction, catalogs it, caches the assessment and
// publishes the result.
func (w *Worker) Process(ctx context.Context, tx domain.Transaction) (*domain.Assessment, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "worker.process",
		trace.WithAttributes(
			attribute.String("tx.id", tx.ID),
			attribute.String("tx.type", string(tx.Type)),
			attribute.String("tx.location", string(tx.Location)),
			attribute.Float64("tx.amount", tx.Amount),
		),
	)
	defer span.End()

	traceID := ""
	if sc := span.SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	// 1. Decide
	assessment := w.processor.Decide(ctx, &tadp.DecisionInput{
		Tx:        tx,
		Scorer:    w.cfg.Scorer,
		TraceID:   traceID,
		StartTime: start,
	})

	// 2. Catalog
	if err := w.catalog.Append(tx); err != nil {
		metrics.TransactionsProcessed.WithLabelValues("rejected").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to catalog transaction %s: %w", tx.ID, err)
	}

	// 3. Cache the assessment
	if w.cache != nil {
		if err := w.cache.SetAssessment(ctx, assessment, w.cfg.AssessmentTTL); err != nil {
			slog.Warn("failed to cache assessment",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	// 4. Publish
	w.publish(ctx, tx, assessment)

	duration := time.Since(start)
	metrics.TransactionsProcessed.WithLabelValues(assessment.Status).Inc()
	metrics.DecisionDuration.Observe(duration.Seconds())

	span.SetAttributes(
		attribute.String("decision.status", assessment.Status),
		attribute.Float64("decision.probability", assessment.Probability),
	)

	slog.Info("transaction processed",
		"tx_id", tx.ID,
		"status", assessment.Status,
		"fraud_probability", assessment.Probability,
		"duration_ms", duration.Milliseconds(),
	)

	return assessment, nil
}

func (w *Worker) publish(ctx context.Context, tx domain.Transaction, a *domain.Assessment) {
	if w.bus == nil {
		return
	}

	payload, err := json.Marshal(ScoredEvent{Transaction: tx, Assessment: a})
	if err != nil {
		slog.Error("failed to marshal scored event", "tx_id", tx.ID, "error", err)
		return
	}

	if err := w.bus.Publish(ctx, domain.TopicTransactionScored, payload); err != nil {
		slog.Error("failed to publish decision",
			"tx_id", tx.ID,
			"error", err,
		)
	}

	if tadp.ShouldAlert(a) {
		if err := w.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}
}

// Stop cancels the consume loop and waits for it to return.
func (w *Worker) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}
