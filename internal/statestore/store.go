// Package statestore replicates one shared value, such as the bulk order or
// the wishlist, between the authority and every other client.
package statestore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
	"github.com/oatsaysai/general-store-in-discord/internal/relay"
)

// Codec describes how a state is stored and broadcast
type Codec[S any] struct {
	// Key is the settings key the state is persisted under
	Key string
	// Type is the relay message type of its broadcasts
	Type      string
	Empty     func() S
	Parse     func(raw []byte) (S, models.Report)
	Normalize func(S) (S, models.Report)
}

// Options configure a store
type Options struct {
	Authoritative bool
	ClientID      string
	// ClientFallback caches snapshots in client scope and serves them
	// until the world value is available
	ClientFallback bool
}

// Store holds the latest snapshot of one shared state. States are treated
// as immutable values: callers must not modify what Read or Snapshot return.
type Store[S any] struct {
	codec    Codec[S]
	settings Settings
	bus      relay.Bus
	opts     Options
	log      *log.Entry

	mu     sync.RWMutex
	cache  S
	synced bool

	subsMu sync.Mutex
	subs   map[int]func(S)
	nextID int

	unsubscribe func()
}

// New creates a store. Start must be called before use.
func New[S any](codec Codec[S], settings Settings, bus relay.Bus, opts Options, logger *log.Entry) *Store[S] {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Store[S]{
		codec:    codec,
		settings: settings,
		bus:      bus,
		opts:     opts,
		log:      logger.WithFields(log.Fields{"component": "statestore", "key": codec.Key}),
		cache:    codec.Empty(),
		subs:     make(map[int]func(S)),
	}
}

// Start loads the persisted state and begins following broadcasts
func (s *Store[S]) Start(ctx context.Context) error {
	if _, err := s.Read(ctx); err != nil {
		return err
	}
	s.unsubscribe = s.bus.Subscribe(s.onMessage)
	return nil
}

// Close stops following broadcasts and drops local subscriptions
func (s *Store[S]) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.subsMu.Lock()
	s.subs = make(map[int]func(S))
	s.subsMu.Unlock()
}

// Authoritative reports whether this store may write
func (s *Store[S]) Authoritative() bool {
	return s.opts.Authoritative
}

// Read returns the normalised persisted state and refreshes the snapshot.
// A client that has not yet received a snapshot and finds no world value
// serves its client-scoped copy.
func (s *Store[S]) Read(ctx context.Context) (S, error) {
	raw, err := s.settings.Get(ctx, World, s.codec.Key)
	if err != nil {
		var zero S
		return zero, errors.Wrapf(err, "read setting %s", s.codec.Key)
	}
	if len(raw) == 0 && s.useFallback() {
		raw, err = s.settings.Get(ctx, Client(s.opts.ClientID), s.codec.Key)
		if err != nil {
			var zero S
			return zero, errors.Wrapf(err, "read client setting %s", s.codec.Key)
		}
	}

	state := s.parse(raw)
	s.mu.Lock()
	s.cache = state
	s.mu.Unlock()
	return state, nil
}

// Write normalises next, persists it in world scope, broadcasts it and
// notifies local subscribers. Only the authority may write. A failed
// broadcast is logged; other clients catch up on their next read.
func (s *Store[S]) Write(ctx context.Context, next S) (S, error) {
	if !s.opts.Authoritative {
		var zero S
		return zero, apperr.ErrNotAuthoritative
	}

	state, report := s.codec.Normalize(next)
	if !report.Clean() {
		s.log.WithField("dropped", report.Dropped).Warn("Dropped invalid entries while writing")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		var zero S
		return zero, errors.Wrap(err, "marshal state")
	}
	if err := s.settings.Set(ctx, World, s.codec.Key, raw); err != nil {
		var zero S
		return zero, errors.Wrapf(err, "write setting %s", s.codec.Key)
	}

	s.mu.Lock()
	s.cache = state
	s.mu.Unlock()

	msg := relay.Message{Type: s.codec.Type, State: raw, Sender: s.opts.ClientID}
	if err := s.bus.Publish(ctx, msg); err != nil {
		s.log.WithError(err).Warn("Could not broadcast state")
	}
	s.notify(state)
	return state, nil
}

// Snapshot returns the latest known state without touching storage
func (s *Store[S]) Snapshot() S {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

// Subscribe calls fn with every new snapshot. fn runs on the goroutine
// that produced the snapshot and must not block.
func (s *Store[S]) Subscribe(fn func(S)) func() {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subsMu.Unlock()
	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store[S]) onMessage(msg relay.Message) {
	if msg.Type != s.codec.Type {
		return
	}
	// the writer already applied its own state
	if s.opts.ClientID != "" && msg.Sender == s.opts.ClientID {
		return
	}

	ctx := context.Background()
	var state S
	if msg.Stale || len(msg.State) == 0 {
		var err error
		if state, err = s.Read(ctx); err != nil {
			s.log.WithError(err).Error("Could not re-read state after a stale broadcast")
			return
		}
	} else {
		state = s.parse(msg.State)
		s.mu.Lock()
		s.cache = state
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.synced = true
	s.mu.Unlock()

	if s.opts.ClientFallback && !s.opts.Authoritative && s.opts.ClientID != "" {
		if raw, err := json.Marshal(state); err == nil {
			if err := s.settings.Set(ctx, Client(s.opts.ClientID), s.codec.Key, raw); err != nil {
				s.log.WithError(err).Warn("Could not cache state in client scope")
			}
		}
	}
	s.notify(state)
}

func (s *Store[S]) parse(raw []byte) S {
	state, report := s.codec.Parse(raw)
	if !report.Clean() {
		s.log.WithField("dropped", report.Dropped).Warn("Dropped invalid entries from stored state")
	}
	return state
}

func (s *Store[S]) useFallback() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts.ClientFallback && !s.opts.Authoritative && s.opts.ClientID != "" && !s.synced
}

func (s *Store[S]) notify(state S) {
	s.subsMu.Lock()
	fns := make([]func(S), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()
	for _, fn := range fns {
		fn(state)
	}
}
