package authority

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
	"github.com/oatsaysai/general-store-in-discord/internal/relay"
	"github.com/oatsaysai/general-store-in-discord/internal/statestore"
)

var (
	alice = models.ParticipantRef{UserID: "u-alice", Name: "Alice"}
	torch = models.LineItem{PackID: "equipment", ItemID: "torch", Name: "Torch", Price: 1, Quantity: 3}
)

type stubSettler struct {
	calls int
	err   error
	// coins moved before err
	committed bool
}

func (s *stubSettler) Settle(_ context.Context, state models.OrderState) (models.Settlement, error) {
	s.calls++
	if s.err != nil && s.committed {
		return models.Settlement{ID: "s-partial", Status: models.SettlementUngranted, Total: state.TotalPrice}, s.err
	}
	if s.err != nil {
		return models.Settlement{}, s.err
	}
	return models.Settlement{ID: "s-1", Total: state.TotalPrice}, nil
}

type env struct {
	hub     *relay.Hub
	local   *Local
	settler *stubSettler
	orders  *statestore.Store[models.OrderState]
	remote  *RemoteClient
}

func setupAuthority(t *testing.T, withResponder bool) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{hub: relay.NewHub(nil), settler: &stubSettler{}}
	settings := statestore.NewMemorySettings()

	opts := statestore.Options{Authoritative: true, ClientID: "gm"}
	e.orders = statestore.New(statestore.OrderCodec(), settings, e.hub, opts, nil)
	wishes := statestore.New(statestore.WishlistCodec(), settings, e.hub, opts, nil)
	require.NoError(t, e.orders.Start(ctx))
	require.NoError(t, wishes.Start(ctx))
	e.local = NewLocal(e.orders, wishes, e.settler, nil)

	if withResponder {
		responder := NewResponder(e.hub, e.local, "gm", 200*time.Millisecond, nil)
		responder.Start()
		t.Cleanup(responder.Close)
	}
	e.remote = NewRemoteClient(e.hub, "player-1", 200*time.Millisecond, nil)
	e.remote.Start()

	t.Cleanup(func() {
		e.remote.Close()
		e.orders.Close()
		wishes.Close()
		e.hub.Close()
	})
	return e
}

func gm(kind Kind, args Args) Mutation {
	return Mutation{Kind: kind, Args: args, Privileged: true}
}

func TestLocal_OrderFlow(t *testing.T) {
	e := setupAuthority(t, false)
	ctx := context.Background()

	_, err := e.local.ApplyMutation(ctx, gm(KindSetActive, Args{Active: true}))
	require.NoError(t, err)

	res, err := e.local.ApplyMutation(ctx, Mutation{Kind: KindAddItem, Args: Args{Participant: alice, Item: torch}})
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.Equal(t, int64(3), res.Order.TotalPrice)

	_, err = e.local.ApplyMutation(ctx, gm(KindGMConfirm, Args{}))
	assert.ErrorIs(t, err, apperr.ErrUnconfirmed)
	assert.Zero(t, e.settler.calls)

	_, err = e.local.ApplyMutation(ctx, Mutation{Kind: KindConfirmParticipant, Args: Args{Participant: alice}})
	require.NoError(t, err)

	res, err = e.local.ApplyMutation(ctx, gm(KindGMConfirm, Args{}))
	require.NoError(t, err)
	require.NotNil(t, res.Settlement)
	assert.Equal(t, int64(3), res.Settlement.Total)
	assert.True(t, res.Order.GMConfirmed)
	assert.True(t, res.Order.Active)
	assert.Empty(t, res.Order.Participants)
	assert.Equal(t, 1, e.settler.calls)
}

func TestLocal_FailedSettlementKeepsOrder(t *testing.T) {
	e := setupAuthority(t, false)
	ctx := context.Background()
	e.settler.err = errors.Wrap(apperr.ErrInsufficientFunds, "Alice")

	_, err := e.local.ApplyMutation(ctx, gm(KindSetActive, Args{Active: true}))
	require.NoError(t, err)
	_, err = e.local.ApplyMutation(ctx, Mutation{Kind: KindAddItem, Args: Args{Participant: alice, Item: torch}})
	require.NoError(t, err)
	_, err = e.local.ApplyMutation(ctx, Mutation{Kind: KindConfirmParticipant, Args: Args{Participant: alice}})
	require.NoError(t, err)

	_, err = e.local.ApplyMutation(ctx, gm(KindGMConfirm, Args{}))
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.Contains(t, e.orders.Snapshot().Participants, alice.UserID)
	assert.False(t, e.orders.Snapshot().GMConfirmed)
}

func TestLocal_SettlementFailingAfterDebitClearsOrder(t *testing.T) {
	e := setupAuthority(t, false)
	ctx := context.Background()
	e.settler.err = errors.Wrap(apperr.ErrGrantFailed, "Torch for Alice")
	e.settler.committed = true

	_, err := e.local.ApplyMutation(ctx, gm(KindSetActive, Args{Active: true}))
	require.NoError(t, err)
	_, err = e.local.ApplyMutation(ctx, Mutation{Kind: KindAddItem, Args: Args{Participant: alice, Item: torch}})
	require.NoError(t, err)
	_, err = e.local.ApplyMutation(ctx, Mutation{Kind: KindConfirmParticipant, Args: Args{Participant: alice}})
	require.NoError(t, err)

	res, err := e.local.ApplyMutation(ctx, gm(KindGMConfirm, Args{}))
	assert.ErrorIs(t, err, apperr.ErrGrantFailed)
	require.NotNil(t, res.Settlement)
	assert.Equal(t, "s-partial", res.Settlement.ID)
	require.NotNil(t, res.Order)
	assert.Empty(t, res.Order.Participants)
	assert.Empty(t, e.orders.Snapshot().Participants)

	_, err = e.local.ApplyMutation(ctx, gm(KindGMConfirm, Args{}))
	assert.ErrorIs(t, err, apperr.ErrEmptyOrder)
	assert.Equal(t, 1, e.settler.calls)
}

func TestLocal_PrivilegedKindsNeedPrivilege(t *testing.T) {
	e := setupAuthority(t, false)
	_, err := e.local.ApplyMutation(context.Background(), Mutation{Kind: KindSetActive, Args: Args{Active: true}})
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)
	_, err = e.local.ApplyMutation(context.Background(), Mutation{Kind: KindGMConfirm})
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)
}

func TestLocal_WishlistMove(t *testing.T) {
	e := setupAuthority(t, false)
	ctx := context.Background()

	_, err := e.local.ApplyMutation(ctx, Mutation{Kind: KindWishlistAdd, Args: Args{Participant: alice, Item: torch, Quantity: 2}})
	require.NoError(t, err)

	res, err := e.local.ApplyMutation(ctx, Mutation{Kind: KindMovePlayerToCart, Args: Args{Participant: alice, Key: torch.Ref().Key(), Quantity: 5}})
	require.NoError(t, err)
	require.NotNil(t, res.Moved)
	assert.Equal(t, 2, res.Moved.Quantity)
	assert.Empty(t, res.Wishlist.Items)
}

func TestRemote_RoundTrip(t *testing.T) {
	e := setupAuthority(t, true)
	ctx := context.Background()

	_, err := e.local.ApplyMutation(ctx, gm(KindSetActive, Args{Active: true}))
	require.NoError(t, err)

	res, err := e.remote.ApplyMutation(ctx, Mutation{Kind: KindAddItem, Args: Args{Participant: alice, Item: torch}})
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.Equal(t, 3, res.Order.Participants[alice.UserID].Items[0].Quantity)
	assert.Zero(t, e.remote.Pending())
}

func TestRemote_ErrorsKeepTheirSentinel(t *testing.T) {
	e := setupAuthority(t, true)

	_, err := e.remote.ApplyMutation(context.Background(), Mutation{Kind: KindAddItem, Args: Args{Participant: alice, Item: torch}})
	assert.ErrorIs(t, err, apperr.ErrOrderInactive)
}

func TestRemote_NeverPrivileged(t *testing.T) {
	e := setupAuthority(t, true)

	_, err := e.remote.ApplyMutation(context.Background(), gm(KindSetActive, Args{Active: true}))
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)
	assert.False(t, e.orders.Snapshot().Active)
}

func TestRemote_TimesOutWithoutAuthority(t *testing.T) {
	e := setupAuthority(t, false)

	start := time.Now()
	_, err := e.remote.ApplyMutation(context.Background(), Mutation{Kind: KindAddItem, Args: Args{Participant: alice, Item: torch}})
	assert.ErrorIs(t, err, apperr.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Zero(t, e.remote.Pending())
}

func TestRemote_DiscardsUnknownResponses(t *testing.T) {
	e := setupAuthority(t, false)

	require.NoError(t, e.hub.Publish(context.Background(), relay.Message{
		Type:      relay.TypeMutationResponse,
		RequestID: "never-sent",
		Result:    &relay.Result{OK: true},
	}))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, e.remote.Pending())
}

func TestResponder_RejectsUnknownMutation(t *testing.T) {
	e := setupAuthority(t, true)
	answers := make(chan relay.Message, 1)
	e.hub.Subscribe(func(m relay.Message) {
		if m.Type == relay.TypeMutationResponse {
			answers <- m
		}
	})

	require.NoError(t, e.hub.Publish(context.Background(), relay.Message{
		Type:         relay.TypeMutationRequest,
		RequestID:    "r-1",
		MutationType: "dropTable",
	}))
	select {
	case m := <-answers:
		require.NotNil(t, m.Result)
		assert.False(t, m.Result.OK)
		assert.Equal(t, apperr.CodeBadRequest, m.Result.Code)
	case <-time.After(time.Second):
		t.Fatal("no response")
	}
}

// stalledAuthority holds every mutation until its context ends
type stalledAuthority struct{}

func (stalledAuthority) ApplyMutation(ctx context.Context, _ Mutation) (Result, error) {
	<-ctx.Done()
	return Result{}, ctx.Err()
}

func TestResponder_AnswersWithinItsTimeout(t *testing.T) {
	hub := relay.NewHub(nil)
	t.Cleanup(hub.Close)
	responder := NewResponder(hub, stalledAuthority{}, "gm", 50*time.Millisecond, nil)
	responder.Start()
	t.Cleanup(responder.Close)

	answers := make(chan relay.Message, 1)
	hub.Subscribe(func(m relay.Message) {
		if m.Type == relay.TypeMutationResponse {
			answers <- m
		}
	})

	start := time.Now()
	require.NoError(t, hub.Publish(context.Background(), relay.Message{
		Type:         relay.TypeMutationRequest,
		RequestID:    "r-slow",
		MutationType: string(KindAddItem),
	}))
	select {
	case m := <-answers:
		require.NotNil(t, m.Result)
		assert.Equal(t, "r-slow", m.RequestID)
		assert.Equal(t, apperr.CodeTimeout, m.Result.Code)
		assert.Less(t, time.Since(start), time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
	}
}
