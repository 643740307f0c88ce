package service

import (
	"sync"

	"anoa.com/threadforum/internal/entity"
	"anoa.com/threadforum/internal/metrics"
	"go.uber.org/zap"
)

const DefaultBuffer = 64

// Publisher is the emitting side of the bus.
type Publisher interface {
	Publish(record entity.ChangeRecord)
	PublishTo(userID string, record entity.ChangeRecord)
}

// Subscription is one observer's view of the bus. C is closed when the
// subscription ends, either by Unsubscribe or because the bus dropped a
// subscriber that fell behind.
type Subscription struct {
	UserID string
	C      <-chan entity.ChangeRecord

	ch     chan entity.ChangeRecord
	closed bool
}

// Bus fans change records out to every subscription. Publishing never blocks.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	logger *zap.Logger
}

func NewBus(buffer int, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

func (b *Bus) Subscribe(userID string) *Subscription {
	ch := make(chan entity.ChangeRecord, b.buffer)
	sub := &Subscription{UserID: userID, C: ch, ch: ch}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	n := len(b.subs)
	b.mu.Unlock()

	metrics.SetObservers(n)
	b.logger.Debug("observer subscribed", zap.String("user_id", userID), zap.Int("observers", n))
	return sub
}

// Unsubscribe is safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	b.remove(sub)
	n := len(b.subs)
	b.mu.Unlock()

	metrics.SetObservers(n)
}

// remove must be called with b.mu held.
func (b *Bus) remove(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(b.subs, sub)
	close(sub.ch)
}

func (b *Bus) Publish(record entity.ChangeRecord) {
	b.deliver(record, func(*Subscription) bool { return true })
}

// PublishTo delivers only to the subscriptions opened by userID.
func (b *Bus) PublishTo(userID string, record entity.ChangeRecord) {
	b.deliver(record, func(s *Subscription) bool { return s.UserID == userID })
}

func (b *Bus) deliver(record entity.ChangeRecord, match func(*Subscription) bool) {
	b.mu.Lock()
	var dropped int
	for sub := range b.subs {
		if !match(sub) {
			continue
		}
		select {
		case sub.ch <- record:
		default:
			b.remove(sub)
			dropped++
			b.logger.Warn("dropping slow observer",
				zap.String("user_id", sub.UserID),
				zap.String("action", string(record.Action)),
				zap.String("entity_type", string(record.EntityType)))
		}
	}
	n := len(b.subs)
	b.mu.Unlock()

	for i := 0; i < dropped; i++ {
		metrics.IncDropped()
	}
	if dropped > 0 {
		metrics.SetObservers(n)
	}
}

func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
