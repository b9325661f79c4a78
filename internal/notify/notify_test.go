package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishReachesSubscribers(t *testing.T) {
	h := NewHub()
	_, a := h.Subscribe(1)
	_, b := h.Subscribe(1)

	h.Publish(Event{Graph: "g", Kind: KindPut, Names: []string{"A"}})

	for _, ch := range []<-chan Event{a, b} {
		ev := <-ch
		assert.Equal(t, "g", ev.Graph)
		assert.Equal(t, KindPut, ev.Kind)
		assert.Equal(t, []string{"A"}, ev.Names)
	}
}

func TestHub_PublishDoesNotBlockOnFullBuffer(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe(1)

	h.Publish(Event{Graph: "g", Kind: KindPut})
	h.Publish(Event{Graph: "g", Kind: KindDelete}) // dropped

	ev := <-ch
	assert.Equal(t, KindPut, ev.Kind)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %+v", extra)
	default:
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(0)
	require.Equal(t, 1, h.Len())

	h.Unsubscribe(id)
	h.Unsubscribe(id) // second call is a no-op

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.Len())

	// Publishing after unsubscribe must not panic on the closed channel
	h.Publish(Event{Graph: "g"})
}

func TestHub_NilPublish(t *testing.T) {
	var h *Hub
	assert.NotPanics(t, func() { h.Publish(Event{Graph: "g"}) })
}
