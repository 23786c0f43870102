package checkout

import (
	"math/bits"
	"sort"

	"github.com/oatsaysai/general-store-in-discord/internal/models"
)

// Plan is who pays what for an order
type Plan struct {
	Total    int64
	PoolUsed int64
	// Shares are in ascending user id order, the order debits run in
	Shares []models.ParticipantShare
}

// ComputePlan splits the pool over the participants in proportion to their
// subtotals. Shares are whole copper pieces: each participant gets the floor
// of the exact share and the copper left over goes, one piece each, to the
// largest fractional parts (ties to the lower user id). Shares therefore
// sum to PoolUsed and never exceed a subtotal.
func ComputePlan(state models.OrderState, poolAvailable int64) Plan {
	ids := state.ParticipantIDs()
	plan := Plan{Shares: make([]models.ParticipantShare, 0, len(ids))}
	for _, id := range ids {
		p := state.Participants[id]
		sub := p.Subtotal()
		plan.Total += sub
		plan.Shares = append(plan.Shares, models.ParticipantShare{UserID: id, Name: p.Name, Subtotal: sub})
	}
	if poolAvailable < 0 {
		poolAvailable = 0
	}
	plan.PoolUsed = min(poolAvailable, plan.Total)

	if plan.Total > 0 && plan.PoolUsed > 0 {
		fractions := make([]uint64, len(plan.Shares))
		var assigned int64
		for i := range plan.Shares {
			hi, lo := bits.Mul64(uint64(plan.Shares[i].Subtotal), uint64(plan.PoolUsed))
			q, r := bits.Div64(hi, lo, uint64(plan.Total))
			plan.Shares[i].Share = int64(q)
			fractions[i] = r
			assigned += int64(q)
		}

		order := make([]int, len(plan.Shares))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return fractions[order[a]] > fractions[order[b]]
		})
		for k := 0; assigned < plan.PoolUsed; k++ {
			plan.Shares[order[k]].Share++
			assigned++
		}
	}

	for i := range plan.Shares {
		plan.Shares[i].Remainder = max(0, plan.Shares[i].Subtotal-plan.Shares[i].Share)
	}
	return plan
}
