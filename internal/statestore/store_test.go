package statestore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
	"github.com/oatsaysai/general-store-in-discord/internal/order"
	"github.com/oatsaysai/general-store-in-discord/internal/relay"
	"github.com/oatsaysai/general-store-in-discord/internal/wishlist"
)

var torch = models.LineItem{PackID: "equipment", ItemID: "torch", Name: "Torch", Price: 1, Quantity: 3}

type fixture struct {
	settings *MemorySettings
	hub      *relay.Hub
	gm       *Store[models.OrderState]
	player   *Store[models.OrderState]
}

func setupStores(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{settings: NewMemorySettings(), hub: relay.NewHub(nil)}
	f.gm = New(OrderCodec(), f.settings, f.hub, Options{Authoritative: true, ClientID: "gm"}, nil)
	f.player = New(OrderCodec(), f.settings, f.hub, Options{ClientID: "player-1"}, nil)
	require.NoError(t, f.gm.Start(context.Background()))
	require.NoError(t, f.player.Start(context.Background()))
	t.Cleanup(func() {
		f.gm.Close()
		f.player.Close()
		f.hub.Close()
	})
	return f
}

func TestWrite_PersistsAndBroadcasts(t *testing.T) {
	f := setupStores(t)
	ctx := context.Background()

	var mu sync.Mutex
	var gmSeen []models.OrderState
	f.gm.Subscribe(func(s models.OrderState) {
		mu.Lock()
		gmSeen = append(gmSeen, s)
		mu.Unlock()
	})
	playerSeen := make(chan models.OrderState, 1)
	f.player.Subscribe(func(s models.OrderState) { playerSeen <- s })

	next, err := order.AddItem(order.SetActive(order.Empty(), true), models.ParticipantRef{UserID: "u1"}, torch)
	require.NoError(t, err)
	next.TotalPrice = 999
	written, err := f.gm.Write(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, int64(3), written.TotalPrice)

	mu.Lock()
	require.Len(t, gmSeen, 1)
	assert.Equal(t, written, gmSeen[0])
	mu.Unlock()

	select {
	case got := <-playerSeen:
		assert.Equal(t, written, got)
	case <-time.After(time.Second):
		t.Fatal("player never received the snapshot")
	}
	assert.Equal(t, written, f.player.Snapshot())

	persisted, err := f.player.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, written, persisted)

	// the writer ignores its own echo
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Len(t, gmSeen, 1)
	mu.Unlock()
}

func TestWrite_RejectsNonAuthority(t *testing.T) {
	f := setupStores(t)
	_, err := f.player.Write(context.Background(), order.Empty())
	assert.ErrorIs(t, err, apperr.ErrNotAuthoritative)
}

func TestRead_NormalisesCorruptValue(t *testing.T) {
	f := setupStores(t)
	ctx := context.Background()
	require.NoError(t, f.settings.Set(ctx, World, OrderKey, []byte(`{"active":true,"participants":{"u1":{"items":[{"packId":"a","itemId":"b","quantity":"x"}]}}}`)))

	s, err := f.gm.Read(ctx)
	require.NoError(t, err)
	assert.True(t, s.Active)
	assert.Empty(t, s.Participants)
}

func TestStaleBroadcast_RereadsStorage(t *testing.T) {
	f := setupStores(t)
	ctx := context.Background()

	require.NoError(t, f.settings.Set(ctx, World, OrderKey, []byte(`{"active":true}`)))
	seen := make(chan models.OrderState, 1)
	f.player.Subscribe(func(s models.OrderState) { seen <- s })

	require.NoError(t, f.hub.Publish(ctx, relay.Message{Type: relay.TypeOrderState, Stale: true, Sender: "gm"}))
	select {
	case got := <-seen:
		assert.True(t, got.Active)
	case <-time.After(time.Second):
		t.Fatal("stale broadcast was not handled")
	}
}

func TestClientFallback(t *testing.T) {
	ctx := context.Background()
	settings := NewMemorySettings()
	hub := relay.NewHub(nil)
	defer hub.Close()

	cached, err := wishlist.Add(wishlist.Empty(), models.ParticipantRef{UserID: "u1"}, torch)
	require.NoError(t, err)
	require.NoError(t, settings.Set(ctx, Client("player-1"), WishlistKey, mustJSON(t, cached)))

	player := New(WishlistCodec(), settings, hub, Options{ClientID: "player-1", ClientFallback: true}, nil)
	require.NoError(t, player.Start(ctx))
	defer player.Close()
	assert.Contains(t, player.Snapshot().Items, torch.Ref().Key())

	gm := New(WishlistCodec(), settings, hub, Options{Authoritative: true, ClientID: "gm"}, nil)
	require.NoError(t, gm.Start(ctx))
	defer gm.Close()
	_, err = gm.Write(ctx, wishlist.Empty())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(player.Snapshot().Items) == 0
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		raw, err := settings.Get(ctx, Client("player-1"), WishlistKey)
		return err == nil && string(raw) == `{"items":{}}`
	}, time.Second, 5*time.Millisecond)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
