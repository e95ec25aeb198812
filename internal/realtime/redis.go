package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RedisChannel fans events out across processes with Redis pub/sub. Each
// document maps to one Redis channel.
type RedisChannel struct {
	options
	client *redis.Client
	owned  bool
}

// NewRedisChannel wraps an existing client. The caller keeps ownership.
func NewRedisChannel(client *redis.Client, opts ...Option) *RedisChannel {
	return &RedisChannel{options: newOptions(opts), client: client}
}

// OpenRedis connects to url (redis://host:port/db) and checks the
// connection. The returned channel closes the client on Close.
func OpenRedis(ctx context.Context, url string, opts ...Option) (*RedisChannel, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "realtime: parse redis url")
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "realtime: redis ping")
	}
	c := NewRedisChannel(client, opts...)
	c.owned = true
	return c, nil
}

// ChannelName is the Redis channel carrying documentID's events.
func ChannelName(documentID string) string {
	return "formfill:doc:" + documentID
}

func (c *RedisChannel) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "realtime: encode event")
	}
	if err := c.client.Publish(ctx, ChannelName(ev.DocumentID), payload).Err(); err != nil {
		return eris.Wrapf(err, "realtime: publish to %s", ev.DocumentID)
	}
	return nil
}

func (c *RedisChannel) Subscribe(ctx context.Context, documentID string) (Subscription, error) {
	ps := c.client.Subscribe(ctx, ChannelName(documentID))
	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, eris.Wrapf(err, "realtime: subscribe to %s", documentID)
	}
	s := &redisSub{ps: ps, ch: make(chan Event, c.buffer), done: make(chan struct{})}
	go s.pump(c.onDrop)
	return s, nil
}

// Health pings the server.
func (c *RedisChannel) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisChannel) Close() error {
	if !c.owned {
		return nil
	}
	return c.client.Close()
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *redisSub) Events() <-chan Event { return s.ch }

func (s *redisSub) pump(onDrop DropFunc) {
	defer close(s.ch)
	msgs := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				zap.L().Warn("realtime: discarding malformed event",
					zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			select {
			case s.ch <- ev:
			default:
				if onDrop != nil {
					onDrop(ev)
				}
			}
		}
	}
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
