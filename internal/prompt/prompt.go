// Package prompt suspends a caller until a user answers a question, for
// example by pressing a Confirm or Cancel button.
package prompt

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
)

// ErrDismissed is returned when the prompt was closed without an answer
var ErrDismissed = errors.New("prompt dismissed")

// Request identifies one open prompt
type Request struct {
	ID    string
	Owner string
}

type pending struct {
	owner  string
	answer chan bool
	closed chan struct{}
}

// Broker tracks open prompts
type Broker struct {
	mu      sync.Mutex
	open    map[string]*pending
	timeout time.Duration
	log     *log.Entry
}

// NewBroker creates a broker whose prompts expire after timeout
func NewBroker(timeout time.Duration, logger *log.Entry) *Broker {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Broker{
		open:    make(map[string]*pending),
		timeout: timeout,
		log:     logger.WithField("component", "prompt"),
	}
}

// Ask opens a prompt for owner, calls present so the question can be shown,
// and blocks until the owner answers, the prompt is dismissed, it times out
// or ctx ends. Only a Resolve with confirmed=true yields true.
func (b *Broker) Ask(ctx context.Context, owner string, present func(Request) error) (bool, error) {
	req := Request{ID: uuid.NewString(), Owner: owner}
	p := &pending{owner: owner, answer: make(chan bool, 1), closed: make(chan struct{})}

	b.mu.Lock()
	b.open[req.ID] = p
	b.mu.Unlock()
	defer b.remove(req.ID)

	if err := present(req); err != nil {
		return false, errors.Wrap(err, "present prompt")
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case confirmed := <-p.answer:
		return confirmed, nil
	case <-p.closed:
		return false, ErrDismissed
	case <-timer.C:
		b.log.WithFields(log.Fields{"prompt": req.ID, "owner": owner}).Info("Prompt expired")
		return false, apperr.ErrTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve answers an open prompt on behalf of userID
func (b *Broker) Resolve(id, userID string, confirmed bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.open[id]
	if !ok {
		return errors.Wrap(apperr.ErrNotFound, "prompt is no longer open")
	}
	if p.owner != "" && p.owner != userID {
		return errors.Wrap(apperr.ErrNotAuthorized, "only the person asked can answer")
	}
	delete(b.open, id)
	p.answer <- confirmed
	return nil
}

// Dismiss closes an open prompt without an answer
func (b *Broker) Dismiss(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.open[id]; ok {
		delete(b.open, id)
		close(p.closed)
	}
}

// Open returns the number of prompts awaiting an answer
func (b *Broker) Open() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open)
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	delete(b.open, id)
	b.mu.Unlock()
}
