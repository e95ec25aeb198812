//go:build integration

package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "start redis container")

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return url
}

func TestRedisChannel_PublishSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	url := startRedis(t)
	pub, err := OpenRedis(ctx, url)
	require.NoError(t, err)
	defer pub.Close()
	sub, err := OpenRedis(ctx, url)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, pub.Health(ctx))

	s, err := sub.Subscribe(ctx, "doc-1")
	require.NoError(t, err)
	defer s.Close()

	ev := Event{
		Type:       EventFieldUpdate,
		DocumentID: "doc-1",
		Sender:     "session-a",
		FieldID:    "f1",
		Property:   "value",
		Value:      "X",
		Timestamp:  time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, pub.Publish(ctx, ev))
	require.NoError(t, pub.Publish(ctx, Event{Type: EventFieldUpdate, DocumentID: "doc-2"}))

	got := receive(t, s)
	assert.Equal(t, ev.Sender, got.Sender)
	assert.Equal(t, ev.FieldID, got.FieldID)
	assert.Equal(t, ev.Value, got.Value)
	assert.True(t, ev.Timestamp.Equal(got.Timestamp))

	require.NoError(t, s.Close())
	_, ok := <-s.Events()
	assert.False(t, ok)
}

func TestOpenRedis_BadURL(t *testing.T) {
	_, err := OpenRedis(context.Background(), "not a url")
	assert.Error(t, err)
}
