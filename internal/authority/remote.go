package authority

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/relay"
)

// DefaultRemoteTimeout bounds the wait for the authority's answer
const DefaultRemoteTimeout = 10 * time.Second

// RemoteClient forwards mutations to the authority over the relay.
//
// Delivery is at most once and requests are matched to answers only by
// request id. After ErrTimeout the mutation may still land; calling again
// with the same arguments can apply it twice.
type RemoteClient struct {
	bus      relay.Bus
	clientID string
	timeout  time.Duration
	log      *log.Entry

	mu      sync.Mutex
	pending map[string]chan relay.Result

	unsubscribe func()
}

// NewRemoteClient creates a client identified on the relay by clientID
func NewRemoteClient(bus relay.Bus, clientID string, timeout time.Duration, logger *log.Entry) *RemoteClient {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &RemoteClient{
		bus:      bus,
		clientID: clientID,
		timeout:  timeout,
		log:      logger.WithFields(log.Fields{"component": "remote", "client": clientID}),
		pending:  make(map[string]chan relay.Result),
	}
}

// Start begins receiving responses
func (c *RemoteClient) Start() {
	c.unsubscribe = c.bus.Subscribe(c.onMessage)
}

// Close stops receiving responses. Calls still waiting time out.
func (c *RemoteClient) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// Pending returns the number of requests awaiting an answer
func (c *RemoteClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// ApplyMutation sends m to the authority and waits for its answer.
// The privilege flag is not transmitted.
func (c *RemoteClient) ApplyMutation(ctx context.Context, m Mutation) (Result, error) {
	args, err := encodeArgs(m.Args)
	if err != nil {
		return Result{}, err
	}

	requestID := uuid.NewString()
	answer := make(chan relay.Result, 1)
	c.mu.Lock()
	c.pending[requestID] = answer
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	logger := c.log.WithFields(log.Fields{"requestId": requestID, "mutation": m.Kind})
	err = c.bus.Publish(ctx, relay.Message{
		Type:         relay.TypeMutationRequest,
		RequestID:    requestID,
		MutationType: string(m.Kind),
		Args:         args,
		Sender:       c.clientID,
	})
	if err != nil {
		return Result{}, errors.Wrap(err, "publish mutation request")
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-answer:
		if !res.OK {
			return Result{}, res.Err()
		}
		var out Result
		if len(res.Data) > 0 {
			if err := json.Unmarshal(res.Data, &out); err != nil {
				return Result{}, errors.Wrap(apperr.ErrInternal, "malformed mutation result")
			}
		}
		return out, nil
	case <-timer.C:
		logger.Warn("Authority did not answer in time; the mutation may still apply")
		return Result{}, apperr.ErrTimeout
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (c *RemoteClient) onMessage(msg relay.Message) {
	if msg.Type != relay.TypeMutationResponse {
		return
	}
	c.mu.Lock()
	answer, ok := c.pending[msg.RequestID]
	if ok {
		delete(c.pending, msg.RequestID)
	}
	c.mu.Unlock()
	if !ok {
		// answered already, or meant for another client
		return
	}

	res := relay.Result{Code: apperr.CodeInternal, Message: "empty response"}
	if msg.Result != nil {
		res = *msg.Result
	}
	answer <- res
}
