package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/worker"
)

// alertFeedSize is how many recent alerts the feed keeps.
const alertFeedSize = 100

// alertFeed subscribes to alert events on the bus and keeps the most
// recent ones for the dashboard.
type alertFeed struct {
	mu     sync.RWMutex
	recent []worker.ScoredEvent // oldest first
	size   int

	sub domain.Subscription
}

func newAlertFeed(size int) *alertFeed {
	return &alertFeed{size: size}
}

// subscribe attaches the feed to bus until ctx ends or stop is called.
func (f *alertFeed) subscribe(ctx context.Context, bus domain.EventBus) error {
	sub, err := bus.Subscribe(ctx, domain.TopicAlert, f.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicAlert, err)
	}
	f.mu.Lock()
	f.sub = sub
	f.mu.Unlock()
	return nil
}

func (f *alertFeed) stop() {
	f.mu.Lock()
	sub := f.sub
	f.sub = nil
	f.mu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		slog.Warn("failed to unsubscribe alert feed", "error", err)
	}
}

func (f *alertFeed) handle(ctx context.Context, msg *domain.Message) error {
	var event worker.ScoredEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("failed to decode alert %s: %w", msg.ID, err)
	}
	if event.Assessment == nil {
		return fmt.Errorf("alert %s has no assessment", msg.ID)
	}

	f.mu.Lock()
	f.recent = append(f.recent, event)
	if over := len(f.recent) - f.size; over > 0 {
		f.recent = append(f.recent[:0:0], f.recent[over:]...)
	}
	f.mu.Unlock()

	metrics.AlertsObserved.WithLabelValues(event.Assessment.Scorer).Inc()
	slog.Warn("fraud alert",
		"tx_id", event.Transaction.ID,
		"amount", event.Transaction.Amount,
		"type", event.Transaction.Type,
		"location", event.Transaction.Location,
		"probability", event.Assessment.Probability,
		"scorer", event.Assessment.Scorer,
	)
	return nil
}

// list returns up to limit alerts, newest first. limit <= 0 returns all.
func (f *alertFeed) list(limit int) []worker.ScoredEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.recent)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]worker.ScoredEvent, 0, n)
	for i := len(f.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, f.recent[i])
	}
	return out
}

// Alerts returns up to limit of the most recent alerts seen on the event
// bus, newest first. Empty without an event bus.
func (s *Service) Alerts(limit int) []worker.ScoredEvent {
	return s.alerts.list(limit)
}
