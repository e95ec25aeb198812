package realtime

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrClosed is returned by a channel that has been closed.
var ErrClosed = eris.New("realtime: channel closed")

// Hub is an in-process Channel.
type Hub struct {
	options
	mu     sync.RWMutex
	subs   map[string]map[*hubSub]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	return &Hub{
		options: newOptions(opts),
		subs:    make(map[string]map[*hubSub]struct{}),
	}
}

type hubSub struct {
	hub   *Hub
	docID string
	ch    chan Event
	once  sync.Once
}

func (s *hubSub) Events() <-chan Event { return s.ch }

func (s *hubSub) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if set, ok := s.hub.subs[s.docID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.hub.subs, s.docID)
			}
		}
		s.hub.mu.Unlock()
		close(s.ch)
	})
	return nil
}

// Subscribe attaches a new subscriber to documentID.
func (h *Hub) Subscribe(_ context.Context, documentID string) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	s := &hubSub{hub: h, docID: documentID, ch: make(chan Event, h.buffer)}
	set, ok := h.subs[documentID]
	if !ok {
		set = make(map[*hubSub]struct{})
		h.subs[documentID] = set
	}
	set[s] = struct{}{}
	return s, nil
}

// Publish delivers ev to every subscriber of ev.DocumentID without blocking.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for s := range h.subs[ev.DocumentID] {
		select {
		case s.ch <- ev:
		default:
			zap.L().Debug("realtime: subscriber buffer full, dropping event",
				zap.String("document", ev.DocumentID),
				zap.String("type", string(ev.Type)))
			if h.onDrop != nil {
				h.onDrop(ev)
			}
		}
	}
	return nil
}

// Subscribers reports how many subscriptions documentID has.
func (h *Hub) Subscribers(documentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[documentID])
}

// Close detaches every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var all []*hubSub
	for _, set := range h.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		_ = s.Close()
	}
	return nil
}
