package checkout

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oatsaysai/general-store-in-discord/internal/apperr"
	"github.com/oatsaysai/general-store-in-discord/internal/catalog"
	"github.com/oatsaysai/general-store-in-discord/internal/currency"
	"github.com/oatsaysai/general-store-in-discord/internal/ledger"
	"github.com/oatsaysai/general-store-in-discord/internal/models"
)

var (
	torch   = models.ItemDescriptor{PackID: "equipment", ItemID: "torch", Name: "Torch", Price: 1}
	rations = models.ItemDescriptor{PackID: "equipment", ItemID: "rations", Name: "Rations", Price: 30}
)

type recorder struct{ got []models.Settlement }

func (r *recorder) Record(_ context.Context, s models.Settlement) error {
	r.got = append(r.got, s)
	return nil
}

// failingBook fails coin writes for one actor
type failingBook struct {
	*ledger.MemoryBook
	failOn string
}

func (b *failingBook) SetCoins(ctx context.Context, id string, coins currency.Coins) error {
	if id == b.failOn {
		return errors.New("connection reset")
	}
	return b.MemoryBook.SetCoins(ctx, id, coins)
}

// unreachableParty fails every party lookup
type unreachableParty struct {
	*ledger.MemoryBook
}

func (unreachableParty) PartyActor(context.Context) (models.Actor, bool, error) {
	return models.Actor{}, false, errors.New("connection reset")
}

func purse(cp int64) *currency.Coins {
	c := currency.FromBaseUnits(cp)
	return &c
}

func participant(id string, confirmed bool, items ...models.LineItem) models.Participant {
	return models.Participant{UserID: id, Name: id, Confirmed: confirmed, Items: items}
}

func confirmedOrder(ps ...models.Participant) models.OrderState {
	s := models.OrderState{Active: true, Participants: map[string]models.Participant{}}
	for _, p := range ps {
		s.Participants[p.UserID] = p
		s.TotalPrice += p.Subtotal()
	}
	return s
}

func balance(t *testing.T, book ledger.Book, id string) int64 {
	t.Helper()
	actor, err := book.Actor(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, actor.Coins)
	return currency.ToBaseUnits(*actor.Coins)
}

func TestComputePlan_ProportionalSplit(t *testing.T) {
	state := confirmedOrder(
		participant("a", true, rations.LineItem(2)),
		participant("b", true, rations.LineItem(3)),
	)
	plan := ComputePlan(state, 100)

	assert.Equal(t, int64(150), plan.Total)
	assert.Equal(t, int64(100), plan.PoolUsed)
	require.Len(t, plan.Shares, 2)
	assert.Equal(t, int64(40), plan.Shares[0].Share)
	assert.Equal(t, int64(20), plan.Shares[0].Remainder)
	assert.Equal(t, int64(60), plan.Shares[1].Share)
	assert.Equal(t, int64(30), plan.Shares[1].Remainder)
}

func TestComputePlan_LargestRemainder(t *testing.T) {
	state := confirmedOrder(
		participant("c", true, torch.LineItem(1)),
		participant("a", true, torch.LineItem(1)),
		participant("b", true, torch.LineItem(1)),
	)
	plan := ComputePlan(state, 2)

	require.Len(t, plan.Shares, 3)
	assert.Equal(t, "a", plan.Shares[0].UserID)
	assert.Equal(t, []int64{1, 1, 0}, []int64{plan.Shares[0].Share, plan.Shares[1].Share, plan.Shares[2].Share})
	assert.Equal(t, int64(1), plan.Shares[2].Remainder)
}

func TestComputePlan_Invariants(t *testing.T) {
	state := confirmedOrder(
		participant("a", true, models.LineItem{PackID: "p", ItemID: "x", Price: 7, Quantity: 3}),
		participant("b", true, models.LineItem{PackID: "p", ItemID: "y", Price: 13, Quantity: 1}),
		participant("c", true, models.LineItem{PackID: "p", ItemID: "z", Price: 0, Quantity: 4}),
		participant("d", true, models.LineItem{PackID: "p", ItemID: "w", Price: 101, Quantity: 2}),
	)
	for _, pool := range []int64{0, 1, 17, 99, 200, 236, 237, 10000} {
		plan := ComputePlan(state, pool)
		var sum int64
		for _, s := range plan.Shares {
			assert.LessOrEqual(t, s.Share, s.Subtotal, "pool %d", pool)
			assert.Equal(t, s.Subtotal-s.Share, s.Remainder, "pool %d", pool)
			sum += s.Share
		}
		assert.Equal(t, plan.PoolUsed, sum, "pool %d", pool)
		assert.Equal(t, min(pool, plan.Total), plan.PoolUsed)
	}
}

func TestSettle_PoolAndParticipants(t *testing.T) {
	book := ledger.NewMemoryBook(
		models.Actor{ID: "party", IsParty: true, Coins: purse(100)},
		models.Actor{ID: "pc-a", OwnerID: "a", Coins: purse(20)},
		models.Actor{ID: "pc-b", OwnerID: "b", Coins: purse(45)},
	)
	rec := &recorder{}
	svc := NewService(catalog.NewMemory(rations), book, ledger.New(book, nil), book, nil, WithRecorders(rec))

	state := confirmedOrder(
		participant("a", true, rations.LineItem(2)),
		participant("b", true, rations.LineItem(3)),
	)
	s, err := svc.Settle(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, int64(0), balance(t, book, "party"))
	assert.Equal(t, int64(0), balance(t, book, "pc-a"))
	assert.Equal(t, int64(15), balance(t, book, "pc-b"))

	assert.Equal(t, models.SettlementSettled, s.Status)
	assert.Equal(t, "party", s.PoolActorID)
	assert.Equal(t, int64(100), s.PoolUsed)
	require.Len(t, s.Grants, 2)
	assert.Equal(t, []models.LineItem{rations.LineItem(3)}, book.Inventory("pc-b"))
	require.Len(t, rec.got, 1)
	assert.Equal(t, s.ID, rec.got[0].ID)
}

func TestSettle_TorchWithEmptyPool(t *testing.T) {
	book := ledger.NewMemoryBook(models.Actor{ID: "pc-p", OwnerID: "p", Coins: purse(10)})
	svc := NewService(catalog.NewMemory(torch), book, ledger.New(book, nil), book, nil)

	state := confirmedOrder(participant("p", true, torch.LineItem(3)))
	s, err := svc.Settle(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, int64(7), balance(t, book, "pc-p"))
	assert.Zero(t, s.PoolUsed)
	assert.Empty(t, s.PoolActorID)
	assert.Equal(t, []models.LineItem{torch.LineItem(3)}, book.Inventory("pc-p"))
}

func TestSettle_ZeroCostParticipantStillGetsGoods(t *testing.T) {
	free := models.ItemDescriptor{PackID: "equipment", ItemID: "pebble", Name: "Pebble"}
	book := ledger.NewMemoryBook(
		models.Actor{ID: "pc-a", OwnerID: "a", Coins: purse(5)},
		models.Actor{ID: "pc-b", OwnerID: "b"},
	)
	svc := NewService(catalog.NewMemory(torch, free), book, ledger.New(book, nil), book, nil)

	state := confirmedOrder(
		participant("a", true, torch.LineItem(1)),
		participant("b", true, free.LineItem(2)),
	)
	s, err := svc.Settle(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, int64(4), balance(t, book, "pc-a"))
	assert.Equal(t, int64(0), s.Shares[1].Remainder)
	assert.Len(t, book.Inventory("pc-b"), 1)
}

func TestSettle_Gating(t *testing.T) {
	book := ledger.NewMemoryBook(
		models.Actor{ID: "party", IsParty: true, Coins: purse(50)},
		models.Actor{ID: "pc-a", OwnerID: "a", Coins: purse(1000)},
		models.Actor{ID: "pc-b", OwnerID: "b", Coins: purse(1)},
	)
	svc := NewService(catalog.NewMemory(rations), book, ledger.New(book, nil), book, nil)
	ctx := context.Background()

	_, err := svc.Settle(ctx, confirmedOrder(
		participant("a", true, rations.LineItem(1)),
		participant("b", false, rations.LineItem(1)),
	))
	assert.ErrorIs(t, err, apperr.ErrUnconfirmed)

	_, err = svc.Settle(ctx, confirmedOrder(
		participant("a", true, rations.LineItem(1)),
		participant("b", true, rations.LineItem(1)),
	))
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.Contains(t, err.Error(), "b")

	_, err = svc.Settle(ctx, confirmedOrder(
		participant("a", true, models.LineItem{PackID: "equipment", ItemID: "unknown", Price: 1, Quantity: 1}),
	))
	assert.ErrorIs(t, err, apperr.ErrUnresolvedItem)

	_, err = svc.Settle(ctx, confirmedOrder(participant("z", true, rations.LineItem(1))))
	assert.ErrorIs(t, err, apperr.ErrNoLedgerPath)

	assert.Equal(t, int64(50), balance(t, book, "party"))
	assert.Equal(t, int64(1000), balance(t, book, "pc-a"))
	assert.Equal(t, int64(1), balance(t, book, "pc-b"))
	assert.Empty(t, book.Inventory("pc-a"))
}

func TestSettle_PartialCommitIsReported(t *testing.T) {
	inner := ledger.NewMemoryBook(
		models.Actor{ID: "party", IsParty: true, Coins: purse(10)},
		models.Actor{ID: "pc-a", OwnerID: "a", Coins: purse(100)},
		models.Actor{ID: "pc-b", OwnerID: "b", Coins: purse(100)},
	)
	book := &failingBook{MemoryBook: inner, failOn: "pc-b"}
	rec := &recorder{}
	// only the Book methods are visible, so debits run one by one
	adapter := ledger.New(struct {
		ledger.Book
	}{book}, nil)
	svc := NewService(catalog.NewMemory(rations), inner, adapter, inner, nil, WithRecorders(rec))

	s, err := svc.Settle(context.Background(), confirmedOrder(
		participant("a", true, rations.LineItem(1)),
		participant("b", true, rations.LineItem(1)),
	))
	assert.ErrorIs(t, err, apperr.ErrPartialCommit)
	assert.NotErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.Equal(t, models.SettlementPartial, s.Status)
	assert.Equal(t, []string{"party", "pc-a"}, s.Debited)

	assert.Equal(t, int64(0), balance(t, inner, "party"))
	assert.Equal(t, int64(75), balance(t, inner, "pc-a"))
	assert.Equal(t, int64(100), balance(t, inner, "pc-b"))
	assert.Empty(t, inner.Inventory("pc-a"))

	require.Len(t, rec.got, 1)
	assert.Equal(t, models.SettlementPartial, rec.got[0].Status)
}

func TestSettle_PoolLookupFailureAbortsBeforeDebits(t *testing.T) {
	book := ledger.NewMemoryBook(
		models.Actor{ID: "party", IsParty: true, Coins: purse(100)},
		models.Actor{ID: "pc-a", OwnerID: "a", Coins: purse(100)},
	)
	rec := &recorder{}
	svc := NewService(catalog.NewMemory(rations), unreachableParty{book}, ledger.New(book, nil), book, nil, WithRecorders(rec))

	s, err := svc.Settle(context.Background(), confirmedOrder(participant("a", true, rations.LineItem(2))))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, s.ID)

	assert.Equal(t, int64(100), balance(t, book, "party"))
	assert.Equal(t, int64(100), balance(t, book, "pc-a"))
	assert.Empty(t, book.Inventory("pc-a"))
	assert.Empty(t, rec.got)
}

func TestSettle_PoolWithoutPurseContributesNothing(t *testing.T) {
	book := ledger.NewMemoryBook(
		models.Actor{ID: "party", IsParty: true},
		models.Actor{ID: "pc-a", OwnerID: "a", Coins: purse(100)},
	)
	svc := NewService(catalog.NewMemory(rations), book, ledger.New(book, nil), book, nil)

	s, err := svc.Settle(context.Background(), confirmedOrder(participant("a", true, rations.LineItem(2))))
	require.NoError(t, err)
	assert.Zero(t, s.PoolUsed)
	assert.Empty(t, s.PoolActorID)
	assert.Equal(t, int64(40), balance(t, book, "pc-a"))
}

func TestSettle_PoolActorThatAlsoPaysIsCheckedOnTheSum(t *testing.T) {
	inner := ledger.NewMemoryBook(models.Actor{ID: "pc-a", OwnerID: "a", Coins: purse(40)})
	// one debit at a time, so only the affordability check stands in the way
	adapter := ledger.New(struct {
		ledger.Book
	}{inner}, nil)
	rec := &recorder{}
	svc := NewService(catalog.NewMemory(rations), inner, adapter, inner, nil, WithPoolActor("pc-a"), WithRecorders(rec))

	// the pool pays 40 and a owes the remaining 20, both from pc-a
	s, err := svc.Settle(context.Background(), confirmedOrder(participant("a", true, rations.LineItem(2))))
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.NotErrorIs(t, err, apperr.ErrPartialCommit)
	assert.Empty(t, s.ID)

	assert.Equal(t, int64(40), balance(t, inner, "pc-a"))
	assert.Empty(t, inner.Inventory("pc-a"))
	assert.Empty(t, rec.got)
}

func TestSettle_GrantFailureReturnsTheSettlement(t *testing.T) {
	book := ledger.NewMemoryBook(models.Actor{ID: "pc-p", OwnerID: "p", Coins: purse(10)})
	rec := &recorder{}
	svc := NewService(catalog.NewMemory(torch), book, ledger.New(book, nil), brokenInventory{}, nil, WithRecorders(rec))

	s, err := svc.Settle(context.Background(), confirmedOrder(participant("p", true, torch.LineItem(3))))
	assert.ErrorIs(t, err, apperr.ErrGrantFailed)
	require.NotEmpty(t, s.ID)
	assert.Equal(t, models.SettlementUngranted, s.Status)
	assert.Equal(t, []string{"pc-p"}, s.Debited)
	assert.Equal(t, int64(7), balance(t, book, "pc-p"))
	require.Len(t, rec.got, 1)
	assert.Equal(t, s.ID, rec.got[0].ID)
}

type brokenInventory struct{}

func (brokenInventory) Grant(context.Context, string, models.LineItem) error {
	return errors.New("inventory is locked")
}
