// Package ws bridges browser overlays onto the relay bus. Clients receive
// every broadcast envelope. A client connecting with a token issued to a
// Discord user may send mutation requests; they are forwarded unprivileged,
// acting as that user, with the connection stamped as sender.
package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
	"github.com/oatsaysai/general-store-in-discord/internal/relay"
)

const (
	writeWait = 5 * time.Second
	readWait  = 60 * time.Second
	queueSize = 64
)

// Snapshot returns the current state of one replicated store
type Snapshot func() any

type Server struct {
	bus      relay.Bus
	states   map[string]Snapshot
	sessions *Sessions
	log      *log.Entry

	upgrader websocket.Upgrader
}

// NewServer creates a bridge over bus. states maps the kinds served under
// /api/state/{kind} to their snapshot. sessions resolves the tokens
// overlays connect with.
func NewServer(bus relay.Bus, states map[string]Snapshot, sessions *Sessions, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if sessions == nil {
		sessions = NewSessions()
	}
	return &Server{
		bus:      bus,
		states:   states,
		sessions: sessions,
		log:      logger.WithField("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router returns the HTTP routes of the bridge
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleSocket)
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.HandleFunc("/api/state/{kind}", s.handleState).Methods(http.MethodGet)
	return logMiddleware(r, s.log)
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, "ok")
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	snapshot, ok := s.states[kind]
	if !ok {
		http.Error(w, "unknown state "+kind, http.StatusNotFound)
		return
	}
	b, err := json.Marshal(snapshot())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err = w.Write(b); err != nil {
		s.log.WithError(err).Error("write state response")
	}
}

// tokenOf reads the overlay token from the query or a bearer header
func tokenOf(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (s *Server) handleSocket(rw http.ResponseWriter, r *http.Request) {
	token := tokenOf(r)
	who, bound := s.sessions.Lookup(token)
	if token != "" && !bound {
		http.Error(rw, "unknown overlay token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sender := "ws:" + uuid.NewString()
	logger := s.log.WithFields(log.Fields{"sender": sender, "remoteAddr": r.RemoteAddr, "user": who.UserID})
	logger.Info("Overlay connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan []byte, queueSize)
	unsubscribe := s.bus.Subscribe(func(msg relay.Message) {
		b, err := json.Marshal(msg)
		if err != nil {
			return
		}
		select {
		case out <- b:
		default:
			// the overlay re-reads /api/state when it falls behind
			logger.WithField("type", msg.Type).Debug("Overlay queue full, dropping envelope")
		}
	})
	defer unsubscribe()

	// Writer goroutine.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case b := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	// Reader loop.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		msg, err := relay.Decode(raw)
		if err != nil {
			logger.WithError(err).Debug("Ignoring malformed envelope")
			continue
		}
		if msg.Type != relay.TypeMutationRequest {
			continue
		}
		if !bound {
			reply(out, msg.RequestID, errors.Wrap(apperr.ErrNotAuthorized, "this overlay is read only"))
			continue
		}
		if msg.Args, err = actAs(msg.Args, who); err != nil {
			reply(out, msg.RequestID, err)
			continue
		}
		msg.Sender = sender
		if err := s.bus.Publish(ctx, msg); err != nil {
			logger.WithError(err).WithField("requestId", msg.RequestID).Warn("Could not forward mutation request")
		}
	}
	logger.Info("Overlay disconnected")
}

// actAs replaces the participant of a mutation request with the bound user
func actAs(raw json.RawMessage, who models.ParticipantRef) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, errors.Wrap(apperr.ErrBadRequest, "malformed mutation args")
		}
		if fields == nil {
			fields = make(map[string]json.RawMessage)
		}
	}
	participant, err := json.Marshal(who)
	if err != nil {
		return nil, errors.Wrap(err, "marshal participant")
	}
	fields["participant"] = participant
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(err, "marshal mutation args")
	}
	return out, nil
}

// reply answers a request on this socket only
func reply(out chan<- []byte, requestID string, err error) {
	b, merr := json.Marshal(relay.Message{
		Type:      relay.TypeMutationResponse,
		RequestID: requestID,
		Result:    &relay.Result{Code: apperr.Code(err), Message: err.Error()},
	})
	if merr != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func logMiddleware(h http.Handler, logger *log.Entry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.WithFields(log.Fields{
			"method":     r.Method,
			"url":        r.URL,
			"remoteAddr": r.RemoteAddr,
			"userAgent":  r.UserAgent(),
		}).Debug("got a new request")
		h.ServeHTTP(w, r)
	})
}
