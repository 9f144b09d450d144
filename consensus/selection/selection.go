// consensus/selection/selection.go

// Validator selection for Proof of Active Stake consensus
// Features:
// - Per-validator weight from stake, utility, reliability and efficiency
// - Fixed-point weight arithmetic for cross-node determinism
// - Seed-driven leader selection via hash-to-range
// - Committee selection without replacement with per-round sub-draws
// - Selection probability helpers for reward distribution

package selection

import (
	"encoding/binary"
	"errors"
	"fmt"
	stdmath "math"
	"math/big"

	"cosmossdk.io/math"

	"github.com/poas-labs/go-poas/consensus/registry"
	"github.com/poas-labs/go-poas/crypto/address"
	"github.com/poas-labs/go-poas/crypto/hash"
)

var (
	// ErrNoEligibleValidators is returned when no active validator has
	// nonzero weight. Fatal to block production for the slot; the
	// orchestration layer decides whether to halt or fall back.
	ErrNoEligibleValidators = errors.New("no eligible validators")

	// ErrInsufficientEligibleValidators is returned when a committee
	// request exceeds the number of nonzero-weight validators.
	ErrInsufficientEligibleValidators = errors.New("insufficient eligible validators")
)

// weightScale converts the float multiplier into fixed-point units.
// One unit of stake contributes weightScale units of weight at
// multiplier 1.0. Rounding happens exactly once, before the integer
// multiply, so every node computes identical weights.
const weightScale = 1_000_000

// maxFixedMultiplier caps the scaled multiplier. Out-of-range float to
// int conversion is implementation-specific in Go, so an unbounded
// utility or efficiency feed must clamp here, identically on every
// node, instead of overflowing the conversion.
const maxFixedMultiplier = int64(1) << 60

// Candidate pairs a validator address with its selection weight.
type Candidate struct {
	Address address.Address
	Weight  math.Int
}

// Multiplier computes the non-stake factor of the weight formula:
// (1 + utility/10) × reliability × (1 + efficiency).
func Multiplier(v *registry.Validator) float64 {
	return (1 + v.Utility/10) * v.Reliability * (1 + v.Efficiency)
}

// Weight computes a validator's selection weight in fixed-point units:
// stake × multiplier, with the multiplier rounded to weightScale
// precision.
func Weight(v *registry.Validator) math.Int {
	scaled := stdmath.Round(Multiplier(v) * weightScale)

	var fixed int64
	switch {
	case scaled >= float64(maxFixedMultiplier):
		fixed = maxFixedMultiplier
	case scaled > 0:
		fixed = int64(scaled)
	default:
		return math.ZeroInt()
	}
	return v.Stake.MulRaw(fixed)
}

// Candidates returns the nonzero-weight validators of a snapshot in
// the snapshot's canonical order, with the weight total. A validator
// with zero weight (reliability zero, or zero stake) stays Active but
// is excluded from the sampling population.
func Candidates(snap *registry.Snapshot) ([]Candidate, math.Int) {
	candidates := make([]Candidate, 0, len(snap.Validators))
	total := math.ZeroInt()
	for i := range snap.Validators {
		w := Weight(&snap.Validators[i])
		if w.IsZero() {
			continue
		}
		candidates = append(candidates, Candidate{
			Address: snap.Validators[i].Address,
			Weight:  w,
		})
		total = total.Add(w)
	}
	return candidates, total
}

// SelectLeader picks the slot leader by deterministic weighted
// sampling. Identical snapshot and seed produce the identical leader
// on every node.
func SelectLeader(snap *registry.Snapshot, slot uint64, seed []byte) (address.Address, error) {
	candidates, total := Candidates(snap)
	if total.IsZero() {
		return address.Address{}, fmt.Errorf("%w: slot %d", ErrNoEligibleValidators, slot)
	}
	return pick(candidates, total, seed, slot, 0), nil
}

// SelectCommittee picks k distinct validators by repeating the leader
// draw without replacement. Each round derives a fresh sub-draw from
// the seed and the round index, removes the winner, and renormalizes
// the total, so the whole sequence is reproducible from one seed.
func SelectCommittee(snap *registry.Snapshot, slot uint64, seed []byte, k int) ([]address.Address, error) {
	if k <= 0 {
		return nil, fmt.Errorf("committee size must be positive, got %d", k)
	}

	candidates, total := Candidates(snap)
	if total.IsZero() {
		return nil, fmt.Errorf("%w: slot %d", ErrNoEligibleValidators, slot)
	}
	if len(candidates) < k {
		return nil, fmt.Errorf("%w: need %d, have %d",
			ErrInsufficientEligibleValidators, k, len(candidates))
	}

	committee := make([]address.Address, 0, k)
	for round := uint64(0); round < uint64(k); round++ {
		chosen := pick(candidates, total, seed, slot, round)
		committee = append(committee, chosen)

		for i := range candidates {
			if candidates[i].Address == chosen {
				total = total.Sub(candidates[i].Weight)
				candidates = append(candidates[:i], candidates[i+1:]...)
				break
			}
		}
	}
	return committee, nil
}

// Probability returns a validator's selection probability against the
// snapshot's current weight total, for reward distribution and
// observability. Zero for validators outside the sampling population.
func Probability(snap *registry.Snapshot, addr address.Address) float64 {
	candidates, total := Candidates(snap)
	if total.IsZero() {
		return 0
	}
	for i := range candidates {
		if candidates[i].Address == addr {
			w, _ := new(big.Float).SetInt(candidates[i].Weight.BigInt()).Float64()
			t, _ := new(big.Float).SetInt(total.BigInt()).Float64()
			return w / t
		}
	}
	return 0
}

// ExpectedBlocks estimates how many of the next n slots a validator
// will lead, assuming a stable snapshot.
func ExpectedBlocks(snap *registry.Snapshot, addr address.Address, n uint64) float64 {
	return Probability(snap, addr) * float64(n)
}

// pick walks the cumulative-weight ordering and returns the first
// candidate whose cumulative weight exceeds the draw.
func pick(candidates []Candidate, total math.Int, seed []byte, slot, round uint64) address.Address {
	r := drawBelow(seed, slot, round, total)

	cumulative := math.ZeroInt()
	for i := range candidates {
		cumulative = cumulative.Add(candidates[i].Weight)
		if cumulative.GT(r) {
			return candidates[i].Address
		}
	}
	// Unreachable when total == Σ weights; guard for the last entry.
	return candidates[len(candidates)-1].Address
}

// drawBelow derives a uniform value in [0, total) from the seed, slot
// and round via the canonical hash. The fixed transform is
// Blake2b-256(seed || slot || round) interpreted big-endian, reduced
// modulo total.
func drawBelow(seed []byte, slot, round uint64, total math.Int) math.Int {
	var suffix [16]byte
	binary.BigEndian.PutUint64(suffix[:8], slot)
	binary.BigEndian.PutUint64(suffix[8:], round)

	digest := hash.Concat(seed, suffix[:])
	r := new(big.Int).SetBytes(digest[:])
	r.Mod(r, total.BigInt())
	return math.NewIntFromBigInt(r)
}
