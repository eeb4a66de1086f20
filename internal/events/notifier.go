package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SubscriberBuffer is the number of undelivered events a subscriber may hold before
// further events are dropped for it.
const SubscriberBuffer = 64

const remotePublishTimeout = 5 * time.Second

// RemotePublisher forwards events to other instances. When set on a Notifier, Publish goes
// through it and the remote side broadcasts back to this instance.
type RemotePublisher interface {
	PublishEvent(ctx context.Context, ev Event) error
}

// Notifier is an in-process broadcaster. Publish never blocks on slow subscribers.
type Notifier struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	remote RemotePublisher
	logger *zap.Logger
}

// NewNotifier creates a notifier with no subscribers.
func NewNotifier(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		subs:   make(map[uint64]*Subscription),
		logger: logger,
	}
}

// SetRemote routes Publish through r. Pass nil to go back to local-only delivery.
func (n *Notifier) SetRemote(r RemotePublisher) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.remote = r
}

// Publish marshals payload and delivers it to every subscriber, or to the remote publisher
// when one is set. A failing remote falls back to local delivery.
func (n *Notifier) Publish(kind string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("marshal event payload", zap.String("event", kind), zap.Error(err))
		return
	}
	ev := Event{Kind: kind, Data: data}

	n.mu.Lock()
	remote := n.remote
	n.mu.Unlock()

	if remote != nil {
		ctx, cancel := context.WithTimeout(context.Background(), remotePublishTimeout)
		err := remote.PublishEvent(ctx, ev)
		cancel()
		if err == nil {
			return
		}
		n.logger.Warn("remote publish failed, delivering locally", zap.String("event", kind), zap.Error(err))
	}
	n.Broadcast(ev)
}

// Broadcast delivers ev to local subscribers only. Every subscriber sees events in the
// order Broadcast was called.
func (n *Notifier) Broadcast(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, s := range n.subs {
		select {
		case s.ch <- ev:
		default:
			n.logger.Warn("subscriber buffer full, event dropped",
				zap.Uint64("subscriber", id), zap.String("event", ev.Kind))
		}
	}
}

// Subscribe registers a new subscriber. Callers must Close it.
func (n *Notifier) Subscribe() *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	s := &Subscription{
		id: n.nextID,
		ch: make(chan Event, SubscriberBuffer),
		n:  n,
	}
	n.subs[s.id] = s
	n.logger.Debug("subscriber joined", zap.Uint64("subscriber", s.id), zap.Int("subscribers", len(n.subs)))
	return s
}

// Subscribers returns the number of live subscriptions.
func (n *Notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

func (n *Notifier) unsubscribe(s *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[s.id]; !ok {
		return
	}
	delete(n.subs, s.id)
	close(s.ch)
	n.logger.Debug("subscriber left", zap.Uint64("subscriber", s.id), zap.Int("subscribers", len(n.subs)))
}

// Subscription is one listener on a Notifier.
type Subscription struct {
	id   uint64
	ch   chan Event
	n    *Notifier
	once sync.Once
}

// C delivers events until the subscription is closed.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close unregisters the subscription and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.n.unsubscribe(s) })
}
