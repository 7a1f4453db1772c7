// Package api renders the Rebalancer Engine's output into the stable JSON
// wire contract. Rounding to the wire's 4-decimal precision happens
// exactly once, at this boundary, using decimal.Decimal rather than
// float64 formatting so repeated exports of the same targets are
// byte-identical.
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/rebalancer/internal/domain"
)

// wirePrecision is the fixed decimal precision of every allocation on the
// wire.
const wirePrecision = 4

// Target is one row of the "rebalancing_targets" array in the stable JSON
// contract.
type Target struct {
	Asset                string  `json:"asset"`
	TargetAllocationPct  float64 `json:"target_allocation_pct"`
	CurrentAllocationPct float64 `json:"current_allocation_pct"`
	Action               string  `json:"action"`
	Priority             string  `json:"priority"`
	Score                float64 `json:"score"`
	Reason               string  `json:"reason"`
}

// Metadata summarizes the target set.
type Metadata struct {
	TotalTargets          int            `json:"total_targets"`
	ActionsSummary        map[string]int `json:"actions_summary"`
	TotalTargetAllocation float64        `json:"total_target_allocation"`
	Timestamp             string         `json:"timestamp"`
}

// Response is the top-level envelope of the target JSON form.
type Response struct {
	RebalancingTargets []Target `json:"rebalancing_targets"`
	Metadata           Metadata `json:"metadata"`
}

// round4 rounds f to wirePrecision decimal places using banker-free
// round-half-up decimal arithmetic, avoiding the binary-float rounding
// drift that plain fmt.Sprintf("%.4f") can introduce across platforms.
func round4(f float64) float64 {
	d := decimal.NewFromFloat(f).Round(wirePrecision)
	out, _ := d.Float64()
	return out
}

// Render converts the engine's internal targets into the stable JSON
// contract, rounding every allocation to 4 decimals at this boundary only.
func Render(targets []domain.RebalancingTarget, at time.Time) Response {
	out := make([]Target, 0, len(targets))
	summary := make(map[string]int)
	total := decimal.Zero

	for _, t := range targets {
		out = append(out, Target{
			Asset:                string(t.Identifier),
			TargetAllocationPct:  round4(t.TargetAlloc),
			CurrentAllocationPct: round4(t.CurrentAlloc),
			Action:               string(t.Action),
			Priority:             string(t.Priority),
			Score:                round4(t.Score),
			Reason:               t.Reason,
		})
		summary[string(t.Action)]++
		if t.Action != domain.ActionClose {
			total = total.Add(decimal.NewFromFloat(t.TargetAlloc))
		}
	}

	totalF, _ := total.Round(wirePrecision).Float64()
	return Response{
		RebalancingTargets: out,
		Metadata: Metadata{
			TotalTargets:          len(out),
			ActionsSummary:        summary,
			TotalTargetAllocation: totalF,
			Timestamp:             at.UTC().Format(time.RFC3339),
		},
	}
}
