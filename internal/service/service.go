// Package service wires the Harrier pipeline together and exposes the
// operations used by the HTTP API and the CLI.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/catalog"
	"github.com/opensource-finance/harrier/internal/classifier"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/generator"
	"github.com/opensource-finance/harrier/internal/importer"
	"github.com/opensource-finance/harrier/internal/queue"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/tadp"
	"github.com/opensource-finance/harrier/internal/worker"
)

// ErrNotFound is returned when a transaction is not in the catalog.
var ErrNotFound = catalog.ErrNotFound

// Deps are the optional infrastructure collaborators. Nil fields are skipped.
type Deps struct {
	Repository domain.Repository
	Cache      domain.Cache
	EventBus   domain.EventBus
}

// Service is the control facade over the pipeline.
type Service struct {
	cfg domain.Config

	rules      *rules.RiskScorer
	classifier *classifier.Classifier
	scorer     domain.Scorer // nil in simulation mode

	queue     *queue.Queue
	generator *generator.Generator
	catalog   *catalog.Catalog
	processor *tadp.Processor
	worker    *worker.Worker
	importer  *importer.Importer

	repo   domain.Repository
	cache  domain.Cache
	bus    domain.EventBus
	alerts *alertFeed

	// ctx outlives individual requests; the simulation runs under it.
	ctx    context.Context
	cancel context.CancelFunc
}

// Status is a snapshot of the simulation and pipeline state.
type Status struct {
	Running           bool               `json:"running"`
	Mode              domain.ScoringMode `json:"mode"`
	Settings          generator.Settings `json:"settings"`
	QueueDepth        int                `json:"queueDepth"`
	QueueCapacity     int                `json:"queueCapacity"`
	Cataloged         int                `json:"cataloged"`
	ClassifierVersion int64              `json:"classifierVersion"`
	ClassifierHistory int                `json:"classifierHistory"`
}

// ScoreResult compares both scorers on one transaction.
type ScoreResult struct {
	Transaction           domain.Transaction `json:"transaction"`
	RuleProbability       float64            `json:"ruleProbability"`
	ClassifierProbability float64            `json:"classifierProbability"`
	Probability           float64            `json:"probability"`
	Fraudulent            bool               `json:"fraudulent"`
	Scorer                string             `json:"scorer"`
	Breakdown             rules.Result       `json:"breakdown"`
	Reasons               []string           `json:"reasons"`
}

// LabelResult is a stored label and its effect on the classifier.
// ClassifierApplied is false when the transaction could not be encoded,
// for example an imported record with an unknown location.
type LabelResult struct {
	*domain.Label
	ClassifierApplied bool  `json:"classifierApplied"`
	ClassifierVersion int64 `json:"classifierVersion"`
}

// FeedbackEvent is published after a label is stored.
type FeedbackEvent struct {
	Label             *domain.Label `json:"label"`
	Applied           bool          `json:"applied"`
	ClassifierVersion int64         `json:"classifierVersion"`
}

// New builds the pipeline from cfg.
func New(cfg domain.Config, deps Deps) (*Service, error) {
	if cfg.Scoring.Threshold <= 0 || cfg.Scoring.Threshold > 1 {
		cfg.Scoring.Threshold = domain.DefaultFraudThreshold
	}
	if cfg.Scoring.Mode == "" {
		cfg.Scoring.Mode = domain.ScoringRules
	}

	riskScorer, err := rules.NewRiskScorer(rules.ScorerConfig{
		HighAmount:       cfg.Scoring.HighAmount,
		SuspiciousAmount: cfg.Scoring.SuspiciousAmount,
		Threshold:        cfg.Scoring.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create risk scorer: %w", err)
	}
	model := classifier.New(cfg.Classifier)

	var scorer domain.Scorer
	switch cfg.Scoring.Mode {
	case domain.ScoringRules:
		scorer = riskScorer
	case domain.ScoringClassifier:
		scorer = model
	case domain.ScoringSimulation:
	default:
		return nil, fmt.Errorf("unsupported scoring mode: %s", cfg.Scoring.Mode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:        cfg,
		rules:      riskScorer,
		classifier: model,
		scorer:     scorer,
		queue:      queue.New(cfg.Generator.QueueCapacity),
		catalog:    catalog.New(),
		processor:  &tadp.Processor{AlertThreshold: cfg.Scoring.Threshold, Explainer: riskScorer},
		repo:       deps.Repository,
		cache:      deps.Cache,
		bus:        deps.EventBus,
		alerts:     newAlertFeed(alertFeedSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	s.generator = generator.New(generator.Config{
		MinAmount:      cfg.Generator.MinAmount,
		MaxAmount:      cfg.Generator.MaxAmount,
		MaxInterval:    cfg.Generator.MaxInterval,
		FraudBias:      cfg.Generator.FraudBias,
		AlertThreshold: cfg.Scoring.Threshold,
		Seed:           cfg.Generator.Seed,
	}, s.queue, scorer)

	s.worker = worker.NewWorker(s.queue, s.catalog, s.processor, s.cache, s.bus, worker.Config{
		Scorer:        s.scorerName(),
		AssessmentTTL: cfg.Cache.AssessmentTTL,
	})
	s.importer = importer.New(importSink{s})

	return s, nil
}

// Start replays stored labels into the classifier, subscribes the alert
// feed, starts the worker and, when configured, the simulation.
func (s *Service) Start(ctx context.Context) error {
	if s.repo != nil {
		labels, err := s.repo.ListLabels(ctx, 0)
		if err != nil {
			return fmt.Errorf("failed to load labels: %w", err)
		}
		if applied := s.classifier.Replay(labels); applied > 0 {
			slog.Info("classifier restored from label store", "labels", applied)
		}
	}

	if s.bus != nil {
		if err := s.alerts.subscribe(s.ctx, s.bus); err != nil {
			return err
		}
	}

	if err := s.worker.Start(s.ctx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	if s.cfg.Generator.AutoStart {
		if err := s.StartSimulation(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) scorerName() string {
	if s.scorer == nil {
		return string(domain.ScoringSimulation)
	}
	return s.scorer.Name()
}

// StartSimulation starts the generator. Returns generator.ErrAlreadyRunning
// when it is active.
func (s *Service) StartSimulation() error {
	if err := s.generator.Start(s.ctx); err != nil {
		return err
	}
	slog.Info("simulation started", "scorer", s.scorerName())
	return nil
}

// StopSimulation stops the generator. Stopping an idle simulation is a no-op.
func (s *Service) StopSimulation() {
	if !s.generator.Running() {
		return
	}
	s.generator.Stop()
	slog.Info("simulation stopped")
}

// SimulationStatus reports the generator and pipeline state.
func (s *Service) SimulationStatus() Status {
	return Status{
		Running:           s.generator.Running(),
		Mode:              s.cfg.Scoring.Mode,
		Settings:          s.generator.Settings(),
		QueueDepth:        s.queue.Len(),
		QueueCapacity:     s.queue.Cap(),
		Cataloged:         s.catalog.Len(),
		ClassifierVersion: s.classifier.Version(),
		ClassifierHistory: s.classifier.HistorySize(),
	}
}

// SetFraudBias sets the simulated fraud bias and returns the applied value.
func (s *Service) SetFraudBias(p float64) float64 {
	return s.generator.SetFraudBias(p)
}

// SetMaxAmount sets the generated amount ceiling and returns the applied value.
func (s *Service) SetMaxAmount(a float64) float64 {
	return s.generator.SetMaxAmount(a)
}

// GenerateOnce creates one transaction and processes it synchronously.
func (s *Service) GenerateOnce(ctx context.Context) (domain.Transaction, *domain.Assessment, error) {
	tx := s.generator.Next()
	a, err := s.worker.Process(ctx, tx)
	if err != nil {
		return tx, nil, err
	}
	return tx, a, nil
}

// Score runs both scorers on an ad-hoc transaction without recording it.
func (s *Service) Score(tx domain.Transaction) ScoreResult {
	breakdown := s.rules.Evaluate(tx)
	res := ScoreResult{
		Transaction:           tx,
		RuleProbability:       breakdown.Probability,
		ClassifierProbability: s.classifier.Predict(tx),
		Breakdown:             breakdown,
		Reasons:               s.rules.Explain(tx),
		Scorer:                s.scorerName(),
	}

	switch s.cfg.Scoring.Mode {
	case domain.ScoringClassifier:
		res.Probability = res.ClassifierProbability
	default:
		res.Probability = res.RuleProbability
	}
	res.Transaction.FraudProbability = res.Probability
	res.Fraudulent = res.Probability >= s.cfg.Scoring.Threshold
	return res
}

// Label records the ground truth for a cataloged transaction. The classifier
// is retrained, the label is stored and a feedback event is published. The
// label is stored even when the classifier rejects the example.
func (s *Service) Label(ctx context.Context, txID string, fraudulent bool) (*LabelResult, error) {
	tx, err := s.catalog.Get(txID)
	if err != nil {
		return nil, err
	}

	applied := s.classifier.Update(tx, fraudulent)
	version := s.classifier.Version()

	label := &domain.Label{
		ID:         uuid.New().String(),
		TxID:       tx.ID,
		Amount:     tx.Amount,
		Type:       tx.Type,
		Location:   tx.Location,
		Fraudulent: fraudulent,
		LabeledAt:  time.Now().UTC(),
	}

	if s.repo != nil {
		if err := s.repo.SaveLabel(ctx, label); err != nil {
			return nil, fmt.Errorf("failed to store label: %w", err)
		}
	}

	if s.bus != nil {
		payload, err := json.Marshal(FeedbackEvent{Label: label, Applied: applied, ClassifierVersion: version})
		if err == nil {
			err = s.bus.Publish(ctx, domain.TopicFeedback, payload)
		}
		if err != nil {
			slog.Error("failed to publish feedback", "tx_id", tx.ID, "error", err)
		}
	}

	slog.Info("transaction labeled",
		"tx_id", tx.ID,
		"fraudulent", fraudulent,
		"classifier_applied", applied,
		"classifier_version", version,
	)
	return &LabelResult{Label: label, ClassifierApplied: applied, ClassifierVersion: version}, nil
}

// Import loads delimited records into the catalog through the worker.
func (s *Service) Import(ctx context.Context, r io.Reader) (*importer.Report, error) {
	return s.importer.Import(ctx, r)
}

// ImportFile loads a delimited file into the catalog through the worker.
func (s *Service) ImportFile(ctx context.Context, path string) (*importer.Report, error) {
	return s.importer.ImportFile(ctx, path)
}

// Clear empties the catalog and returns how many transactions were removed.
func (s *Service) Clear() int {
	n := s.catalog.Clear()
	slog.Info("catalog cleared", "removed", n)
	return n
}

// Query returns the cataloged transactions matching f.
func (s *Service) Query(f catalog.Filter) []domain.Transaction {
	return s.catalog.Query(f)
}

// Summary aggregates the cataloged transactions matching f, splitting
// fraudulent from legitimate at the configured alert threshold.
func (s *Service) Summary(f catalog.Filter) catalog.Summary {
	f.Threshold = s.cfg.Scoring.Threshold
	return s.catalog.Summary(f)
}

// Transaction returns one cataloged transaction.
func (s *Service) Transaction(id string) (domain.Transaction, error) {
	return s.catalog.Get(id)
}

// Assessment returns the decision for a cataloged transaction. Cached
// decisions are used when they still match the cataloged probability.
func (s *Service) Assessment(ctx context.Context, id string) (*domain.Assessment, error) {
	tx, err := s.catalog.Get(id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		a, err := s.cache.GetAssessment(ctx, id)
		if err != nil {
			slog.Warn("assessment cache lookup failed", "tx_id", id, "error", err)
		}
		if a != nil && a.Probability == tx.FraudProbability {
			return a, nil
		}
	}

	a := s.processor.Decide(ctx, &tadp.DecisionInput{Tx: tx, Scorer: s.scorerName()})
	if s.cache != nil {
		if err := s.cache.SetAssessment(ctx, a, s.cfg.Cache.AssessmentTTL); err != nil {
			slog.Warn("failed to cache assessment", "tx_id", id, "error", err)
		}
	}
	return a, nil
}

// Ready checks the infrastructure collaborators.
func (s *Service) Ready(ctx context.Context) map[string]string {
	checks := map[string]string{}
	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			return
		}
		checks[name] = "healthy"
	}
	if s.repo != nil {
		check("repository", s.repo.Ping)
	}
	if s.cache != nil {
		check("cache", s.cache.Ping)
	}
	if s.bus != nil {
		check("eventBus", s.bus.Ping)
	}
	return checks
}

// Close stops the simulation and the worker and closes the queue.
// Infrastructure collaborators are owned by the caller.
func (s *Service) Close() error {
	s.StopSimulation()
	s.queue.Close()
	err := s.worker.Stop()
	s.alerts.stop()
	s.cancel()
	return err
}

// importSink routes imported records through the worker so they are
// decided, cached and published like generated ones.
type importSink struct {
	s *Service
}

func (a importSink) Append(tx domain.Transaction) error {
	_, err := a.s.worker.Process(a.s.ctx, tx)
	return err
}
