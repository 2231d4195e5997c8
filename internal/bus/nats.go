package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Header keys carried on every published message. The payload travels
// unwrapped so non-Go consumers can read it directly.
const (
	headerTimestamp = "Harrier-Timestamp"
	headerTraceID   = "Harrier-Trace-Id"
)

// ErrNotConnected is returned by Ping while the connection is down.
var ErrNotConnected = errors.New("nats not connected")

// NATSBus implements EventBus on NATS core subjects. Topic names are used
// as subjects unchanged.
type NATSBus struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs map[*natsSubscription]struct{}
}

type natsSubscription struct {
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus connects to cfg.NATSUrl. The client keeps retrying in the
// background when the server is not up yet.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}

	opts := []nats.Option{
		nats.Name("harrier"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(time.Duration(cfg.NATSReconnectWait) * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.ConnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS connected", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS async error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	conn, err := nats.Connect(cfg.NATSUrl, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSUrl, err)
	}
	if !conn.IsConnected() {
		slog.Warn("NATS not reachable yet, retrying in background", "url", cfg.NATSUrl)
	}

	return &NATSBus{
		conn: conn,
		subs: make(map[*natsSubscription]struct{}),
	}, nil
}

// Publish sends payload on the topic subject.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.conn.PublishMsg(encodeMsg(ctx, topic, payload, time.Now())); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler on the topic subject.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	natsSub, err := b.conn.Subscribe(topic, func(m *nats.Msg) {
		msg := decodeMsg(m)
		if err := handler(ctx, msg); err != nil {
			slog.Error("handler error",
				"subject", m.Subject,
				"message_id", msg.ID,
				"error", err,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &natsSubscription{topic: topic, sub: natsSub, bus: b}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

// Ping flushes the connection to confirm the server is reachable.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return ErrNotConnected
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains subscriptions and pending publishes, then closes.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	b.subs = make(map[*natsSubscription]struct{})
	b.mu.Unlock()

	if b.conn.IsClosed() {
		return nil
	}
	if !b.conn.IsConnected() {
		b.conn.Close()
		return nil
	}
	return b.conn.Drain()
}

// Stats returns NATS connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string {
	return s.topic
}

// encodeMsg builds the wire message. The message id uses the JetStream
// dedup header so a stream on these subjects drops redeliveries.
func encodeMsg(ctx context.Context, topic string, payload []byte, now time.Time) *nats.Msg {
	m := nats.NewMsg(topic)
	m.Data = payload
	m.Header.Set(nats.MsgIdHdr, uuid.New().String())
	m.Header.Set(headerTimestamp, strconv.FormatInt(now.UnixNano(), 10))
	if sc := trace.SpanContextFromContext(ctx); sc.TraceID().IsValid() {
		m.Header.Set(headerTraceID, sc.TraceID().String())
	}
	return m
}

// decodeMsg converts a received message. Headers other than the id and
// timestamp end up in Metadata.
func decodeMsg(m *nats.Msg) *domain.Message {
	msg := &domain.Message{
		Topic:   m.Subject,
		Payload: m.Data,
	}
	for k, v := range m.Header {
		if len(v) == 0 {
			continue
		}
		switch k {
		case nats.MsgIdHdr:
			msg.ID = v[0]
		case headerTimestamp:
			msg.Timestamp, _ = strconv.ParseInt(v[0], 10, 64)
		default:
			if msg.Metadata == nil {
				msg.Metadata = make(map[string]string)
			}
			msg.Metadata[k] = v[0]
		}
	}
	return msg
}
