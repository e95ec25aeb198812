package realtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return Event{}
}

func TestHub_DeliversPerDocument(t *testing.T) {
	ctx := context.Background()
	h := NewHub()
	defer h.Close()

	a, err := h.Subscribe(ctx, "doc-1")
	require.NoError(t, err)
	b, err := h.Subscribe(ctx, "doc-1")
	require.NoError(t, err)
	other, err := h.Subscribe(ctx, "doc-2")
	require.NoError(t, err)

	ev := Event{Type: EventFieldUpdate, DocumentID: "doc-1", Sender: "s1", FieldID: "f1", Value: "X"}
	require.NoError(t, h.Publish(ctx, ev))

	assert.Equal(t, ev, receive(t, a))
	assert.Equal(t, ev, receive(t, b))
	select {
	case got := <-other.Events():
		t.Fatalf("doc-2 subscriber received %+v", got)
	default:
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	ctx := context.Background()
	var dropped atomic.Int32
	h := NewHub(WithBuffer(2), WithDropFunc(func(Event) { dropped.Add(1) }))
	defer h.Close()

	sub, err := h.Subscribe(ctx, "doc")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = h.Publish(ctx, Event{Type: EventFieldFocus, DocumentID: "doc"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Len(t, sub.Events(), 2)
	assert.Equal(t, int32(8), dropped.Load())
}

func TestHub_CloseSubscription(t *testing.T) {
	ctx := context.Background()
	h := NewHub()
	sub, err := h.Subscribe(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, 1, h.Subscribers("doc"))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Zero(t, h.Subscribers("doc"))

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.NoError(t, h.Publish(ctx, Event{DocumentID: "doc"}))
}

func TestHub_Close(t *testing.T) {
	ctx := context.Background()
	h := NewHub()
	sub, err := h.Subscribe(ctx, "doc")
	require.NoError(t, err)

	require.NoError(t, h.Close())
	_, ok := <-sub.Events()
	assert.False(t, ok)

	assert.True(t, errors.Is(h.Publish(ctx, Event{DocumentID: "doc"}), ErrClosed))
	_, err = h.Subscribe(ctx, "doc")
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "formfill:doc:abc", ChannelName("abc"))
}
