package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInRegistrationOrder(t *testing.T) {
	b := NewBus(nil)
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		b.Subscribe(TopicPipelineStarted, func(Message) error {
			order = append(order, name)
			return nil
		})
	}

	b.Publish(TopicPipelineStarted, "exec-1", map[string]any{"pipeline_id": "p1"}, nil)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestBusMessageShape(t *testing.T) {
	b := NewBus(nil)
	var got Message
	b.Subscribe(TopicPipelineCompleted, func(msg Message) error {
		got = msg
		return nil
	})

	b.Publish(TopicPipelineCompleted, "exec-42",
		map[string]any{"records": int64(10)},
		map[string]string{"source": "test"})

	assert.Equal(t, TopicPipelineCompleted, got.Topic)
	assert.Equal(t, "exec-42", got.CorrelationID)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, int64(10), got.Body["records"])
	assert.Equal(t, "test", got.Properties["source"])
}

func TestBusTopicsAreIsolated(t *testing.T) {
	b := NewBus(nil)
	calls := 0
	b.Subscribe(TopicPipelineFailed, func(Message) error {
		calls++
		return nil
	})

	b.Publish(TopicPipelineStarted, "exec-1", nil, nil)
	assert.Zero(t, calls)
	b.Publish(TopicPipelineFailed, "exec-1", nil, nil)
	assert.Equal(t, 1, calls)
}

func TestBusSwallowsSubscriberFailures(t *testing.T) {
	b := NewBus(nil)
	reached := false
	b.Subscribe(TopicPipelineStarted, func(Message) error {
		return errors.New("handler error")
	})
	b.Subscribe(TopicPipelineStarted, func(Message) error {
		panic("handler panic")
	})
	b.Subscribe(TopicPipelineStarted, func(Message) error {
		reached = true
		return nil
	})

	require.NotPanics(t, func() {
		b.Publish(TopicPipelineStarted, "exec-1", nil, nil)
	})
	assert.True(t, reached, "failures must not block later subscribers")
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	b := NewBus(nil)
	assert.NotPanics(t, func() {
		b.Publish(TopicDataProcessed, "exec-1", nil, nil)
	})
	assert.Zero(t, b.SubscriberCount(TopicDataProcessed))
}
