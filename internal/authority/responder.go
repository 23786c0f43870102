package authority

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/relay"
)

const publishWait = 5 * time.Second

// Responder runs next to the Local authority and answers mutation requests
// arriving on the relay
type Responder struct {
	bus       relay.Bus
	authority OrderAuthority
	clientID  string
	timeout   time.Duration
	log       *log.Entry

	unsubscribe func()
}

// NewResponder creates a responder publishing answers as clientID. timeout
// bounds each mutation and should match what requesters wait; an answer
// published after they gave up is discarded.
func NewResponder(bus relay.Bus, authority OrderAuthority, clientID string, timeout time.Duration, logger *log.Entry) *Responder {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &Responder{
		bus:       bus,
		authority: authority,
		clientID:  clientID,
		timeout:   timeout,
		log:       logger.WithField("component", "responder"),
	}
}

// Start begins answering requests
func (r *Responder) Start() {
	r.unsubscribe = r.bus.Subscribe(r.onMessage)
}

// Close stops answering requests
func (r *Responder) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

func (r *Responder) onMessage(msg relay.Message) {
	if msg.Type != relay.TypeMutationRequest || msg.RequestID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	result := r.handle(ctx, msg)
	cancel()

	// the mutation context may be spent; the answer still has to go out
	pubCtx, cancelPub := context.WithTimeout(context.Background(), publishWait)
	defer cancelPub()
	err := r.bus.Publish(pubCtx, relay.Message{
		Type:      relay.TypeMutationResponse,
		RequestID: msg.RequestID,
		Result:    &result,
		Sender:    r.clientID,
	})
	if err != nil {
		r.log.WithError(err).WithField("requestId", msg.RequestID).Error("Could not publish mutation response")
	}
}

func (r *Responder) handle(ctx context.Context, msg relay.Message) relay.Result {
	kind, err := ParseKind(msg.MutationType)
	if err != nil {
		return failure(err)
	}
	args, err := decodeArgs(msg.Args)
	if err != nil {
		return failure(err)
	}

	r.log.WithFields(log.Fields{
		"requestId": msg.RequestID,
		"mutation":  kind,
		"sender":    msg.Sender,
	}).Debug("Mutation requested")

	res, err := r.authority.ApplyMutation(ctx, Mutation{Kind: kind, Args: args})
	if err != nil {
		return failure(err)
	}
	data, err := json.Marshal(res)
	if err != nil {
		return failure(err)
	}
	return relay.Result{OK: true, Data: data}
}

func failure(err error) relay.Result {
	return relay.Result{Code: apperr.Code(err), Message: err.Error()}
}
