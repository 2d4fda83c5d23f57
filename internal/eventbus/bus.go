package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Bus is a simple in-process pub/sub event bus. A nil *Bus drops everything.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
	inflight sync.WaitGroup
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[Topic][]Handler),
	}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic Topic, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

func (b *Bus) snapshot(topic Topic) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[topic]))
	copy(handlers, b.handlers[topic])
	return handlers
}

// Publish sends an event to all subscribers of the topic.
// Handlers are called synchronously in the order they were registered.
func (b *Bus) Publish(topic Topic, payload any) {
	if b == nil {
		return
	}
	event := Event{
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	for _, h := range b.snapshot(topic) {
		h(event)
	}
}

// PublishAsync sends an event to all subscribers asynchronously.
func (b *Bus) PublishAsync(topic Topic, payload any) {
	if b == nil {
		return
	}
	event := Event{
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	for _, h := range b.snapshot(topic) {
		b.inflight.Add(1)
		go func(h Handler) {
			defer b.inflight.Done()
			h(event)
		}(h)
	}
}

// Wait blocks until every handler started by PublishAsync has returned.
func (b *Bus) Wait() {
	if b == nil {
		return
	}
	b.inflight.Wait()
}

// LogEvents subscribes logger to every domain topic.
func LogEvents(b *Bus, logger *zap.Logger) {
	logger = logger.Named("events")
	for _, topic := range []Topic{
		TopicInboundMessage, TopicOutboundMessage, TopicTurnAppended,
		TopicHistoryEvicted, TopicIndexIngested, TopicHistoryReset, TopicCompletion,
	} {
		b.Subscribe(topic, func(e Event) {
			logger.Debug(string(e.Topic), zap.Any("payload", e.Payload))
		})
	}
	b.Subscribe(TopicError, func(e Event) {
		if f, ok := e.Payload.(Failure); ok {
			logger.Warn("component failure",
				zap.String("key", f.Key), zap.String("component", f.Component), zap.Error(f.Err))
			return
		}
		logger.Warn("error event", zap.Any("payload", e.Payload))
	})
}
