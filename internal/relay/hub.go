package relay

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Hub is an in-process Bus. Every subscriber has its own unbounded queue
// drained by one goroutine, so a handler may publish without deadlocking
// and each subscriber sees messages in publish order.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
	log    *log.Entry
}

type subscriber struct {
	handler Handler

	mu    sync.Mutex
	queue []Message
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewHub creates an empty hub
func NewHub(logger *log.Entry) *Hub {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Hub{
		subs: make(map[uint64]*subscriber),
		log:  logger.WithField("component", "hub"),
	}
}

// Publish queues msg for every current subscriber
func (h *Hub) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	for _, s := range h.subs {
		s.push(msg)
	}
	return nil
}

// Subscribe registers handler until the returned function is called
func (h *Hub) Subscribe(handler Handler) func() {
	s := &subscriber{
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = s
	h.mu.Unlock()

	go s.run(h.log)

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		s.stop()
	}
}

// Close stops every subscriber. Publishing afterwards is a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, s := range h.subs {
		s.stop()
		delete(h.subs, id)
	}
}

func (s *subscriber) push(msg Message) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run(logger *log.Entry) {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			msg := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(msg, logger)
		}
	}
}

func (s *subscriber) deliver(msg Message, logger *log.Entry) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(log.Fields{"type": msg.Type, "panic": r}).Error("Subscriber panicked")
		}
	}()
	s.handler(msg)
}
