package bridge

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ajtruex/agenttrafficcontrol/internal/protocol"
)

// SnapshotSource returns the engine's current full state.
type SnapshotSource func() protocol.Snapshot

// Hub fans encoded engine outputs out to stream subscribers. Every subscriber
// has a bounded queue; one that falls behind has its backlog replaced by a
// fresh snapshot instead of silently losing diffs.
type Hub struct {
	snapshot  SnapshotSource
	queueSize int
	logger    Logger

	mu          sync.Mutex
	subscribers map[string]*subscriber
	resyncs     int
}

// Subscription is one live stream consumer.
type Subscription struct {
	ID     string
	Frames <-chan []byte
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewHub builds a hub. snapshot seeds new subscribers and resyncs slow ones.
func NewHub(snapshot SnapshotSource, queueSize int, logger Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Hub{
		snapshot:    snapshot,
		queueSize:   queueSize,
		logger:      logger,
		subscribers: map[string]*subscriber{},
	}
}

// Subscribe registers a consumer. Its first frame is a snapshot; every later
// frame is newer than that snapshot.
func (h *Hub) Subscribe() (Subscription, error) {
	sub := &subscriber{id: uuid.NewString(), ch: make(chan []byte, h.queueSize)}
	h.mu.Lock()
	defer h.mu.Unlock()
	frame, err := h.snapshotFrame()
	if err != nil {
		return Subscription{}, err
	}
	sub.ch <- frame
	h.subscribers[sub.id] = sub
	return Subscription{
		ID:     sub.id,
		Frames: sub.ch,
		cancel: func() { h.remove(sub.id) },
	}, nil
}

// Deliver implements engine.Sink.
func (h *Hub) Deliver(msgs []protocol.Message) {
	for _, msg := range msgs {
		frame, err := protocol.EncodeMessage(msg)
		if err != nil {
			h.logger.Printf("bridge: encode %s: %v", msg.Type(), err)
			continue
		}
		h.broadcast(frame)
	}
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Resyncs reports how many times a slow subscriber was reset to a snapshot.
func (h *Hub) Resyncs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resyncs
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subscribers {
		sub.close()
		delete(h.subscribers, id)
	}
}

func (h *Hub) broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var resync []byte
	for _, sub := range h.subscribers {
		select {
		case sub.ch <- frame:
			continue
		default:
		}
		if resync == nil {
			snap, err := h.snapshotFrame()
			if err != nil {
				h.logger.Printf("bridge: resync snapshot: %v", err)
				continue
			}
			resync = snap
		}
		sub.drain()
		sub.ch <- resync
		h.resyncs++
		h.logger.Printf("bridge: subscriber %s overflowed, resynced with snapshot", sub.id)
	}
}

func (h *Hub) snapshotFrame() ([]byte, error) {
	return protocol.EncodeMessage(h.snapshot())
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		sub.close()
		delete(h.subscribers, id)
	}
}

type subscriber struct {
	id     string
	ch     chan []byte
	closed bool
}

func (s *subscriber) drain() {
	for {
		select {
		case <-s.ch:
		default:
			return
		}
	}
}

func (s *subscriber) close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
