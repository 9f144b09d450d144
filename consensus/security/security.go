// consensus/security/security.go

// Decentralization metrics for Proof of Active Stake consensus
// Features:
// - Nakamoto coefficient against a configurable safety fraction
// - Gini coefficient over the active stake distribution
// - Attack-cost estimation for governance reporting
// - Pure functions over immutable registry snapshots

package security

import (
	stdmath "math"
	"math/big"
	"sort"
	"time"

	"cosmossdk.io/math"

	"github.com/poas-labs/go-poas/consensus/registry"
)

// NakamotoCoefficient returns the minimum number of largest
// stakeholders whose combined stake reaches the safety fraction of
// total active stake. Lower means less decentralized. The fraction is
// fixed to basis-point precision so every node counts identically.
func NakamotoCoefficient(snap *registry.Snapshot, safetyFraction float64) int {
	if len(snap.Validators) == 0 || snap.TotalStake.IsZero() {
		return 0
	}

	stakes := activeStakes(snap)
	sort.Slice(stakes, func(i, j int) bool { return stakes[i].GT(stakes[j]) })

	bps := int64(stdmath.Round(safetyFraction * 10_000))
	threshold := snap.TotalStake.MulRaw(bps)

	cumulative := math.ZeroInt()
	for i, stake := range stakes {
		cumulative = cumulative.Add(stake)
		if cumulative.MulRaw(10_000).GTE(threshold) {
			return i + 1
		}
	}
	return len(stakes)
}

// GiniCoefficient computes the standard inequality measure over the
// active stake distribution: 0 is perfectly equal, 1 maximally
// unequal. For ascending 1-indexed stakes it is
// (2·Σ(i·stake_i)) / (n·Σstake_i) − (n+1)/n.
func GiniCoefficient(snap *registry.Snapshot) float64 {
	stakes := activeStakes(snap)
	n := len(stakes)
	if n == 0 || snap.TotalStake.IsZero() {
		return 0
	}

	sort.Slice(stakes, func(i, j int) bool { return stakes[i].LT(stakes[j]) })

	weighted := math.ZeroInt()
	for i, stake := range stakes {
		weighted = weighted.Add(stake.MulRaw(int64(i + 1)))
	}

	num, _ := new(big.Float).SetInt(weighted.BigInt()).Float64()
	den, _ := new(big.Float).SetInt(snap.TotalStake.BigInt()).Float64()
	return (2*num)/(float64(n)*den) - float64(n+1)/float64(n)
}

// AttackCost returns the stake an attacker must control to reach the
// safety fraction of total active stake.
func AttackCost(snap *registry.Snapshot, safetyFraction float64) math.Int {
	bps := int64(stdmath.Round(safetyFraction * 10_000))
	return snap.TotalStake.MulRaw(bps).QuoRaw(10_000)
}

// Snapshot is an immutable security report over one registry snapshot.
// It is consumed by observability and governance tooling and never read
// back into consensus logic.
type Snapshot struct {
	Timestamp           time.Time `json:"timestamp"`
	Slot                uint64    `json:"slot"`
	ActiveValidators    int       `json:"active_validators"`
	TotalActiveStake    math.Int  `json:"total_active_stake"`
	NakamotoCoefficient int       `json:"nakamoto_coefficient"`
	GiniCoefficient     float64   `json:"gini_coefficient"`
	AttackCost          math.Int  `json:"attack_cost"`
}

// Compute produces a security snapshot. It is side-effect free and safe
// to run concurrently with consensus operation.
func Compute(snap *registry.Snapshot, safetyFraction float64) *Snapshot {
	return &Snapshot{
		Timestamp:           time.Now().UTC(),
		Slot:                snap.Slot,
		ActiveValidators:    len(snap.Validators),
		TotalActiveStake:    snap.TotalStake,
		NakamotoCoefficient: NakamotoCoefficient(snap, safetyFraction),
		GiniCoefficient:     GiniCoefficient(snap),
		AttackCost:          AttackCost(snap, safetyFraction),
	}
}

func activeStakes(snap *registry.Snapshot) []math.Int {
	stakes := make([]math.Int, len(snap.Validators))
	for i := range snap.Validators {
		stakes[i] = snap.Validators[i].Stake
	}
	return stakes
}
