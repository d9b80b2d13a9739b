package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// MemoryBus is an in-process Bus with the same delivery contract as
// JetStreamBus: deduplication by id, one delivery per group, and
// redelivery on handler error up to MaxDeliver attempts. Messages are lost
// on exit.
type MemoryBus struct {
	maxDeliver int
	logger     *zap.Logger

	mu     sync.Mutex
	groups map[string]map[string]*memoryGroup // subject -> group
	seen   map[string]struct{}
	closed bool
	wg     sync.WaitGroup
}

type memoryGroup struct {
	members []*memorySub
	next    int
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	group   string
	ctx     context.Context
	handler Handler
	once    sync.Once
}

// NewMemoryBus creates a MemoryBus. maxDeliver <= 0 uses the default.
func NewMemoryBus(maxDeliver int, logger *zap.Logger) *MemoryBus {
	if maxDeliver <= 0 {
		maxDeliver = defaultMaxDeliver
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBus{
		maxDeliver: maxDeliver,
		logger:     logger,
		groups:     make(map[string]map[string]*memoryGroup),
		seen:       make(map[string]struct{}),
	}
}

// Publish delivers payload asynchronously to one member of every group
// subscribed to subject.
func (b *MemoryBus) Publish(_ context.Context, subject, id string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if id != "" {
		if _, dup := b.seen[id]; dup {
			b.logger.Debug("duplicate publish dropped", zap.String("subject", subject), zap.String("msg_id", id))
			return nil
		}
		b.seen[id] = struct{}{}
	}

	for _, g := range b.groups[subject] {
		if len(g.members) == 0 {
			continue
		}
		sub := g.members[g.next%len(g.members)]
		g.next++
		b.wg.Add(1)
		go b.deliver(sub, Message{Subject: subject, ID: id, Data: data})
	}
	return nil
}

func (b *MemoryBus) deliver(sub *memorySub, msg Message) {
	defer b.wg.Done()
	for attempt := 1; attempt <= b.maxDeliver; attempt++ {
		if sub.ctx.Err() != nil {
			return
		}
		msg.Delivery = attempt
		err := sub.handler(sub.ctx, msg)
		if err == nil {
			return
		}
		if IsPermanent(err) {
			b.logger.Error("dropping message after permanent failure",
				zap.String("subject", msg.Subject), zap.String("msg_id", msg.ID), zap.Error(err))
			return
		}
		b.logger.Warn("handler failed, redelivering",
			zap.String("subject", msg.Subject), zap.String("msg_id", msg.ID),
			zap.Int("delivery", attempt), zap.Error(err))
	}
	b.logger.Error("dropping message after max deliveries",
		zap.String("subject", msg.Subject), zap.String("msg_id", msg.ID))
}

// Subscribe registers h as a member of group on subject.
func (b *MemoryBus) Subscribe(ctx context.Context, subject, group string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	groups, ok := b.groups[subject]
	if !ok {
		groups = make(map[string]*memoryGroup)
		b.groups[subject] = groups
	}
	g, ok := groups[group]
	if !ok {
		g = &memoryGroup{}
		groups[group] = g
	}
	sub := &memorySub{bus: b, subject: subject, group: group, ctx: ctx, handler: h}
	g.members = append(g.members, sub)
	return sub, nil
}

// Wait blocks until every in-flight delivery has finished.
func (b *MemoryBus) Wait() {
	b.wg.Wait()
}

// Close stops accepting publishes and waits for in-flight deliveries.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		g := b.groups[s.subject][s.group]
		if g == nil {
			return
		}
		for i, m := range g.members {
			if m == s {
				g.members = append(g.members[:i], g.members[i+1:]...)
				break
			}
		}
	})
	return nil
}
