package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/learnloop/internal/config"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	defaultMaxDeliver      = 5
	defaultAckWait         = 30 * time.Second
	defaultDuplicateWindow = 2 * time.Minute
	defaultMaxAge          = 7 * 24 * time.Hour
	defaultNakDelay        = time.Second
)

// JetStreamConfig configures a JetStreamBus.
type JetStreamConfig struct {
	Stream          string
	Subjects        []string
	MaxDeliver      int
	AckWait         time.Duration
	DuplicateWindow time.Duration
	MaxAge          time.Duration
	// NakDelay is the base redelivery delay, multiplied by the attempt.
	NakDelay time.Duration
}

// FromSettings maps the application nats section onto a JetStreamConfig.
func FromSettings(s config.NATSConfig) JetStreamConfig {
	return JetStreamConfig{
		Stream:     s.Stream,
		MaxDeliver: s.MaxDeliver,
		AckWait:    s.AckWait.Duration(),
	}
}

func (c *JetStreamConfig) applyDefaults() {
	if c.Stream == "" {
		c.Stream = "LEARNING"
	}
	if len(c.Subjects) == 0 {
		c.Subjects = []string{SubjectWildcard}
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = defaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = defaultAckWait
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = defaultDuplicateWindow
	}
	if c.MaxAge <= 0 {
		c.MaxAge = defaultMaxAge
	}
	if c.NakDelay <= 0 {
		c.NakDelay = defaultNakDelay
	}
}

// JetStreamBus is a Bus over a NATS JetStream stream with durable queue
// consumers and manual acknowledgement.
type JetStreamBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	cfg    JetStreamConfig
	logger *zap.Logger

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

// NewJetStreamBus creates or updates the stream and returns a bus over it.
// The caller owns nc.
func NewJetStreamBus(nc *nats.Conn, cfg JetStreamConfig, logger *zap.Logger) (*JetStreamBus, error) {
	if nc == nil {
		return nil, errors.New("nats connection cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	b := &JetStreamBus{nc: nc, js: js, cfg: cfg, logger: logger}
	if err := b.ensureStream(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *JetStreamBus) ensureStream() error {
	sc := &nats.StreamConfig{
		Name:       b.cfg.Stream,
		Subjects:   b.cfg.Subjects,
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxAge:     b.cfg.MaxAge,
		Duplicates: b.cfg.DuplicateWindow,
	}

	_, err := b.js.StreamInfo(b.cfg.Stream)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := b.js.AddStream(sc); err != nil {
			return fmt.Errorf("creating stream %s: %w", b.cfg.Stream, err)
		}
		b.logger.Info("created stream", zap.String("stream", b.cfg.Stream))
	case err != nil:
		return fmt.Errorf("reading stream %s: %w", b.cfg.Stream, err)
	default:
		if _, err := b.js.UpdateStream(sc); err != nil {
			return fmt.Errorf("updating stream %s: %w", b.cfg.Stream, err)
		}
	}
	return nil
}

// Publish sends payload and waits for the stream to persist it.
func (b *JetStreamBus) Publish(ctx context.Context, subject, id string, payload any) error {
	if b.isClosed() {
		return ErrBusClosed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}

	opts := []nats.PubOpt{nats.Context(ctx)}
	if id != "" {
		opts = append(opts, nats.MsgId(id))
	}
	ack, err := b.js.Publish(subject, data, opts...)
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if ack.Duplicate {
		b.logger.Debug("duplicate publish dropped", zap.String("subject", subject), zap.String("msg_id", id))
	}
	return nil
}

// Subscribe attaches to a durable queue consumer named after group and
// subject, creating it on first use. The consumer outlives the
// subscription so unacknowledged messages survive restarts. Handlers run
// with a deadline of AckWait.
func (b *JetStreamBus) Subscribe(ctx context.Context, subject, group string, h Handler) (Subscription, error) {
	if b.isClosed() {
		return nil, ErrBusClosed
	}
	durable := durableName(group, subject)
	if err := b.ensureConsumer(durable, subject, group); err != nil {
		return nil, err
	}

	sub, err := b.js.QueueSubscribe(subject, group, func(m *nats.Msg) {
		b.dispatch(ctx, m, h)
	},
		nats.Bind(b.cfg.Stream, durable),
		nats.ManualAck(),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Info("subscribed",
		zap.String("subject", subject),
		zap.String("group", group),
		zap.String("durable", durable))
	return &jsSubscription{sub: sub}, nil
}

func (b *JetStreamBus) ensureConsumer(durable, subject, group string) error {
	_, err := b.js.ConsumerInfo(b.cfg.Stream, durable)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("reading consumer %s: %w", durable, err)
	}
	_, err = b.js.AddConsumer(b.cfg.Stream, &nats.ConsumerConfig{
		Durable:        durable,
		DeliverSubject: "_learnloop.deliver." + durable,
		DeliverGroup:   group,
		FilterSubject:  subject,
		DeliverPolicy:  nats.DeliverAllPolicy,
		AckPolicy:      nats.AckExplicitPolicy,
		AckWait:        b.cfg.AckWait,
		MaxDeliver:     b.cfg.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("creating consumer %s: %w", durable, err)
	}
	b.logger.Info("created consumer", zap.String("durable", durable), zap.String("subject", subject))
	return nil
}

func (b *JetStreamBus) dispatch(ctx context.Context, m *nats.Msg, h Handler) {
	msg := Message{
		Subject:  m.Subject,
		ID:       m.Header.Get(nats.MsgIdHdr),
		Data:     m.Data,
		Delivery: 1,
	}
	if meta, err := m.Metadata(); err == nil {
		msg.Delivery = int(meta.NumDelivered)
	}

	hctx, cancel := context.WithTimeout(ctx, b.cfg.AckWait)
	defer cancel()

	err := h(hctx, msg)
	switch {
	case err == nil:
		if ackErr := m.Ack(); ackErr != nil {
			b.logger.Warn("ack failed", zap.String("subject", msg.Subject), zap.Error(ackErr))
		}
	case IsPermanent(err):
		b.logger.Error("dropping message after permanent failure",
			zap.String("subject", msg.Subject),
			zap.String("msg_id", msg.ID),
			zap.Error(err))
		_ = m.Term()
	case msg.Delivery >= b.cfg.MaxDeliver:
		b.logger.Error("dropping message after max deliveries",
			zap.String("subject", msg.Subject),
			zap.String("msg_id", msg.ID),
			zap.Int("delivery", msg.Delivery),
			zap.Error(err))
		_ = m.Term()
	default:
		b.logger.Warn("handler failed, redelivering",
			zap.String("subject", msg.Subject),
			zap.String("msg_id", msg.ID),
			zap.Int("delivery", msg.Delivery),
			zap.Error(err))
		_ = m.NakWithDelay(b.cfg.NakDelay * time.Duration(msg.Delivery))
	}
}

func (b *JetStreamBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close drains every subscription. The connection stays open.
func (b *JetStreamBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for _, s := range b.subs {
		if err := s.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			errs = append(errs, err)
		}
	}
	b.subs = nil
	return errors.Join(errs...)
}

type jsSubscription struct {
	sub *nats.Subscription
}

func (s *jsSubscription) Close() error {
	if err := s.sub.Drain(); err != nil && !errors.Is(err, nats.ErrBadSubscription) {
		return err
	}
	return nil
}

// durableName derives a consumer name; NATS forbids dots in it.
func durableName(group, subject string) string {
	r := strings.NewReplacer(".", "_", "*", "any", ">", "all", " ", "_")
	return r.Replace(group + "-" + subject)
}
