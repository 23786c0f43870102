package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
	"github.com/oatsaysai/general-store-in-discord/internal/relay"
)

var pat = models.ParticipantRef{UserID: "u-pat", Name: "Pat"}

func setupServer(t *testing.T) (*relay.Hub, *httptest.Server, *Sessions) {
	t.Helper()
	hub := relay.NewHub(nil)
	t.Cleanup(hub.Close)

	order := models.OrderState{Active: true, Participants: map[string]models.Participant{}}
	sessions := NewSessions()
	srv := NewServer(hub, map[string]Snapshot{
		"order": func() any { return order },
	}, sessions, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return hub, ts, sessions
}

func socketURL(ts *httptest.Server, token string) string {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	return url
}

func dial(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(socketURL(ts, token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHealthAndState(t *testing.T) {
	_, ts, _ := setupServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(ts.URL + "/api/state/order")
	require.NoError(t, err)
	var state models.OrderState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	resp.Body.Close()
	assert.True(t, state.Active)

	resp, err = http.Get(ts.URL + "/api/state/nothing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSocket_ForwardsBroadcasts(t *testing.T) {
	hub, ts, _ := setupServer(t)
	conn := dial(t, ts, "")

	// the bridge subscribes once the upgrade completes, so keep publishing
	// until the first envelope arrives
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = hub.Publish(context.Background(), relay.Message{Type: relay.TypeOrderState, State: json.RawMessage(`{"active":true}`)})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg relay.Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, relay.TypeOrderState, msg.Type)
	assert.JSONEq(t, `{"active":true}`, string(msg.State))
}

func TestSocket_StampsMutationRequests(t *testing.T) {
	hub, ts, sessions := setupServer(t)
	got := make(chan relay.Message, 8)
	unsubscribe := hub.Subscribe(func(msg relay.Message) {
		if msg.Type == relay.TypeMutationRequest {
			got <- msg
		}
	})
	defer unsubscribe()

	conn := dial(t, ts, sessions.Issue(pat))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"order-state"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(
		`{"type":"mutation-request","requestId":"r1","mutationType":"confirmParticipant","sender":"gm",`+
			`"args":{"participant":{"userId":"u-victim","name":"Victim"},"key":"equipment:torch"}}`)))

	select {
	case msg := <-got:
		assert.Equal(t, "r1", msg.RequestID)
		assert.True(t, strings.HasPrefix(msg.Sender, "ws:"), msg.Sender)
		var args struct {
			Participant models.ParticipantRef `json:"participant"`
			Key         string                `json:"key"`
		}
		require.NoError(t, json.Unmarshal(msg.Args, &args))
		assert.Equal(t, pat, args.Participant)
		assert.Equal(t, "equipment:torch", args.Key)
	case <-time.After(2 * time.Second):
		t.Fatal("mutation request was not forwarded")
	}
	select {
	case msg := <-got:
		t.Fatalf("unexpected extra request %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSocket_UnboundOverlayIsReadOnly(t *testing.T) {
	hub, ts, _ := setupServer(t)
	got := make(chan relay.Message, 8)
	unsubscribe := hub.Subscribe(func(msg relay.Message) {
		if msg.Type == relay.TypeMutationRequest {
			got <- msg
		}
	})
	defer unsubscribe()

	conn := dial(t, ts, "")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(
		`{"type":"mutation-request","requestId":"r2","mutationType":"confirmParticipant","args":{"participant":{"userId":"u-victim"}}}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var answer relay.Message
	require.NoError(t, json.Unmarshal(raw, &answer))
	assert.Equal(t, relay.TypeMutationResponse, answer.Type)
	assert.Equal(t, "r2", answer.RequestID)
	require.NotNil(t, answer.Result)
	assert.Equal(t, apperr.CodeNotAuthorized, answer.Result.Code)

	select {
	case msg := <-got:
		t.Fatalf("request from an unbound overlay was forwarded: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSocket_RejectsUnknownToken(t *testing.T) {
	_, ts, sessions := setupServer(t)
	old := sessions.Issue(pat)
	sessions.Issue(pat)

	_, resp, err := websocket.DefaultDialer.Dial(socketURL(ts, old), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(socketURL(ts, "made-up"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessions(t *testing.T) {
	s := NewSessions()
	_, ok := s.Lookup("")
	assert.False(t, ok)

	first := s.Issue(pat)
	who, ok := s.Lookup(first)
	require.True(t, ok)
	assert.Equal(t, pat, who)

	second := s.Issue(pat)
	assert.NotEqual(t, first, second)
	_, ok = s.Lookup(first)
	assert.False(t, ok)
	_, ok = s.Lookup(second)
	assert.True(t, ok)
}
