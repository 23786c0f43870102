// Package relay carries broadcast envelopes between shop clients: full
// state snapshots and the mutation request/response pairs.
package relay

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
)

// Envelope types
const (
	TypeOrderState       = "order-state"
	TypeWishlistState    = "wishlist-state"
	TypeMutationRequest  = "mutation-request"
	TypeMutationResponse = "mutation-response"
)

var knownTypes = map[string]struct{}{
	TypeOrderState:       {},
	TypeWishlistState:    {},
	TypeMutationRequest:  {},
	TypeMutationResponse: {},
}

// Result is the answer to a mutation request
type Result struct {
	OK      bool            `json:"ok"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Err turns a failed result back into a sentinel error
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return apperr.FromCode(r.Code, r.Message)
}

// Message is one broadcast envelope. Stale marks a state broadcast whose
// state was too large to carry; receivers re-read persisted storage.
type Message struct {
	Type         string          `json:"type"`
	RequestID    string          `json:"requestId,omitempty"`
	MutationType string          `json:"mutationType,omitempty"`
	Args         json.RawMessage `json:"args,omitempty"`
	State        json.RawMessage `json:"state,omitempty"`
	Result       *Result         `json:"result,omitempty"`
	Sender       string          `json:"sender,omitempty"`
	Stale        bool            `json:"stale,omitempty"`
}

// Handler receives every message published on a bus
type Handler func(Message)

// Bus is a publish/subscribe channel on one topic. Subscribers observe
// messages in publish order. Unsubscribe is safe to call more than once.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(h Handler) (unsubscribe func())
}

// Decode parses and checks an envelope received from outside the process
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, errors.Wrap(apperr.ErrBadRequest, err.Error())
	}
	if _, ok := knownTypes[msg.Type]; !ok {
		return Message{}, errors.Wrapf(apperr.ErrBadRequest, "unknown message type %q", msg.Type)
	}
	if (msg.Type == TypeMutationRequest || msg.Type == TypeMutationResponse) && msg.RequestID == "" {
		return Message{}, errors.Wrap(apperr.ErrBadRequest, "missing requestId")
	}
	return msg, nil
}
