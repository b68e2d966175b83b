package events

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// DefaultBufferSize is the default channel buffer size for channel subscribers.
const DefaultBufferSize = 100

// Observer receives every published snapshot.
type Observer func(StatusSnapshot)

type subscriberEntry struct {
	id      uint64
	fn      Observer
	onClose func()
}

// Publisher hands each published snapshot to every subscribed observer,
// synchronously and in subscription order. A panicking observer is recovered
// and logged without affecting the others or the publisher.
type Publisher struct {
	logger      *slog.Logger
	subscribers []subscriberEntry
	nextID      uint64
	mu          sync.RWMutex
	closed      bool
}

// NewPublisher creates a Publisher. A nil logger uses slog.Default().
func NewPublisher(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{logger: logger}
}

// Subscribe registers fn and returns a function that removes it. The returned
// function is safe to call more than once.
func (p *Publisher) Subscribe(fn Observer) (unsubscribe func()) {
	return p.subscribe(fn, nil)
}

func (p *Publisher) subscribe(fn Observer, onClose func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		if onClose != nil {
			onClose()
		}
		return func() {}
	}

	p.nextID++
	id := p.nextID
	p.subscribers = append(p.subscribers, subscriberEntry{id: id, fn: fn, onClose: onClose})
	return func() { p.remove(id) }
}

func (p *Publisher) remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, sub := range p.subscribers {
		if sub.id == id {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			if sub.onClose != nil {
				sub.onClose()
			}
			return
		}
	}
}

// SubscribeChan returns a channel that receives every snapshot. Snapshots are
// dropped with a warning when the channel is full, so a slow reader never
// stalls the control loop. The channel is closed by the returned function or
// by Close. A size of 0 or less uses DefaultBufferSize.
func (p *Publisher) SubscribeChan(size int) (<-chan StatusSnapshot, func()) {
	if size <= 0 {
		size = DefaultBufferSize
	}
	cs := &chanSubscriber{ch: make(chan StatusSnapshot, size), logger: p.logger}
	unsubscribe := p.subscribe(cs.deliver, cs.close)
	return cs.ch, unsubscribe
}

// Publish delivers snap to every observer. It is safe to call concurrently
// and after Close, where it is a no-op.
func (p *Publisher) Publish(snap StatusSnapshot) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return
	}
	subs := make([]subscriberEntry, len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.RUnlock()

	for _, sub := range subs {
		p.deliver(sub, snap)
	}
}

func (p *Publisher) deliver(sub subscriberEntry, snap StatusSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("status observer panicked",
				"subscriber", sub.id,
				"phase", snap.Phase.String(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	sub.fn(snap)
}

// Len returns the number of subscribers.
func (p *Publisher) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}

// Close removes every subscriber and closes channel subscriptions.
// Close is safe to call multiple times.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for _, sub := range p.subscribers {
		if sub.onClose != nil {
			sub.onClose()
		}
	}
	p.subscribers = nil
}

// chanSubscriber adapts a buffered channel to an Observer.
type chanSubscriber struct {
	ch     chan StatusSnapshot
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

func (c *chanSubscriber) deliver(snap StatusSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.ch <- snap:
	default:
		c.logger.Warn("status snapshot dropped: subscriber channel full",
			"phase", snap.Phase.String(),
			"run_id", snap.RunID,
		)
	}
}

func (c *chanSubscriber) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
