// Package events provides the in-process message bus the orchestrator
// publishes pipeline lifecycle events on. Delivery is synchronous and
// in registration order; subscriber failures are logged and swallowed so a
// misbehaving subscriber can never abort a run.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/refinery-etl/refinery/internal/logger"
)

// Topics published by the engine.
const (
	TopicPipelineStarted   = "pipeline.started"
	TopicPipelineCompleted = "pipeline.completed"
	TopicPipelineFailed    = "pipeline.failed"
	TopicPipelineCancelled = "pipeline.cancelled"
	TopicStageCompleted    = "pipeline.stage.completed"
	TopicDataProcessed     = "pipeline.data.processed"
)

// Message is one bus event. CorrelationID carries the execution id so
// subscribers can group messages per run.
type Message struct {
	Topic         string
	CorrelationID string
	Timestamp     time.Time
	Body          map[string]any
	Properties    map[string]string
}

// Handler consumes bus messages. Returned errors are logged, not propagated.
type Handler func(msg Message) error

// Bus is a synchronous topic-based fan-out.
type Bus struct {
	logger *logger.Logger

	mu          sync.RWMutex
	subscribers map[string][]Handler
}

// NewBus builds a bus.
func NewBus(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.Discard()
	}
	return &Bus{
		logger:      log,
		subscribers: make(map[string][]Handler),
	}
}

// Subscribe registers a handler for a topic. Handlers run in registration
// order.
func (b *Bus) Subscribe(topic string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], h)
	b.mu.Unlock()
}

// SubscriberCount reports the handlers registered for a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Publish delivers the message to every subscriber of the topic,
// synchronously on the caller's goroutine. Handler errors and panics are
// logged and swallowed.
func (b *Bus) Publish(topic string, correlationID string, body map[string]any, properties map[string]string) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[topic]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	msg := Message{
		Topic:         topic,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Body:          body,
		Properties:    properties,
	}

	for i, h := range handlers {
		b.deliver(i, topic, h, msg)
	}
}

func (b *Bus) deliver(idx int, topic string, h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(fmt.Errorf("subscriber %d panicked: %v", idx, r),
				"event subscriber panic on topic "+topic)
		}
	}()
	if err := h(msg); err != nil {
		b.logger.Error(err, fmt.Sprintf("event subscriber %d failed on topic %s", idx, topic))
	}
}
