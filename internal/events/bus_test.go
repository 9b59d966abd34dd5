package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutInOrder(t *testing.T) {
	bus := NewBus(nil)
	var got []string
	bus.Subscribe("t", func(ctx context.Context, ev Event) { got = append(got, "a:"+ev.Payload.(string)) })
	bus.Subscribe("t", func(ctx context.Context, ev Event) { got = append(got, "b:"+ev.Payload.(string)) })
	bus.Subscribe("other", func(ctx context.Context, ev Event) { got = append(got, "other") })

	bus.Publish(context.Background(), Event{Topic: "t", Payload: "x"})
	assert.Equal(t, []string{"a:x", "b:x"}, got)
}

func TestUnsubscribeDetachesHandler(t *testing.T) {
	bus := NewBus(nil)
	calls := 0
	sub := bus.Subscribe(TopicOrderStatusChanged, func(ctx context.Context, ev Event) { calls++ })
	keep := bus.Subscribe(TopicOrderStatusChanged, func(ctx context.Context, ev Event) {})
	require.Equal(t, 2, bus.Len(TopicOrderStatusChanged))

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.Equal(t, 1, bus.Len(TopicOrderStatusChanged))

	bus.Publish(context.Background(), Event{Topic: TopicOrderStatusChanged})
	assert.Zero(t, calls)

	keep.Unsubscribe()
	assert.Zero(t, bus.Len(TopicOrderStatusChanged))
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(nil)
	delivered := false
	bus.Subscribe("t", func(ctx context.Context, ev Event) { panic("boom") })
	bus.Subscribe("t", func(ctx context.Context, ev Event) { delivered = true })

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), Event{Topic: "t"})
	})
	assert.True(t, delivered)
}

func TestPublishStampsTime(t *testing.T) {
	bus := NewBus(nil)
	var ev Event
	bus.Subscribe("t", func(ctx context.Context, e Event) { ev = e })
	bus.Publish(context.Background(), Event{Topic: "t"})
	assert.False(t, ev.At.IsZero())
}
