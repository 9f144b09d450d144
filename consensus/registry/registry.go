// consensus/registry/registry.go

// Validator registry for Proof of Active Stake consensus
// Features:
// - Validator lifecycle management (registration, activation, jailing, banning)
// - Stake accounting with arbitrary-precision amounts
// - Externally-fed utility, reliability and efficiency scores
// - Deterministic active-set ordering by canonical address bytes
// - Immutable snapshots for read-side consumers

package registry

import (
	"errors"
	"fmt"
	"sort"

	"cosmossdk.io/math"

	"github.com/poas-labs/go-poas/crypto/address"
)

var (
	// ErrInsufficientStake is returned when a registration's initial
	// stake is below the configured minimum.
	ErrInsufficientStake = errors.New("insufficient stake")

	// ErrUnknownValidator is returned for operations on an address
	// that was never registered.
	ErrUnknownValidator = errors.New("unknown validator")

	// ErrStakeUnderflow is returned when a stake adjustment would make
	// the staked amount negative.
	ErrStakeUnderflow = errors.New("stake underflow")

	// ErrInvalidMetric is returned when an externally-fed score is
	// outside its allowed range.
	ErrInvalidMetric = errors.New("invalid metric")

	// ErrAlreadyRegistered is returned when registering an address twice.
	ErrAlreadyRegistered = errors.New("validator already registered")
)

// Status is a validator's lifecycle state.
type Status uint8

const (
	// StatusActive validators are eligible for selection.
	StatusActive Status = iota
	// StatusInactive validators fell below the minimum stake; the
	// transition back to Active is automatic when stake recovers.
	StatusInactive
	// StatusJailed validators were slashed and sit out until their
	// jail term expires.
	StatusJailed
	// StatusBanned is terminal. The record remains as permanent
	// history with zero eligible weight.
	StatusBanned
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	case StatusJailed:
		return "jailed"
	case StatusBanned:
		return "banned"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Validator is a single registry record.
type Validator struct {
	Address   address.Address `json:"address"`
	PubKeyRef []byte          `json:"pub_key_ref"`
	Stake     math.Int        `json:"stake"`

	// Externally-fed scores. Utility and Efficiency are non-negative;
	// Reliability lives in [0, 1].
	Utility     float64 `json:"utility"`
	Reliability float64 `json:"reliability"`
	Efficiency  float64 `json:"efficiency"`

	Status          Status `json:"status"`
	SlashCount      int    `json:"slash_count"`
	JailedUntilSlot uint64 `json:"jailed_until_slot"`
	LastActiveSlot  uint64 `json:"last_active_slot"`
	BlocksProduced  uint64 `json:"blocks_produced"`
	BlocksMissed    uint64 `json:"blocks_missed"`
}

// Clone returns a deep copy of the validator record.
func (v *Validator) Clone() *Validator {
	c := *v
	c.PubKeyRef = append([]byte(nil), v.PubKeyRef...)
	c.Stake = v.Stake
	return &c
}

// Registry owns all validator records. It has no internal locking: all
// mutation is funneled through the consensus engine's single sequential
// transition step, and reads outside that step go through Snapshot.
type Registry struct {
	minStake   math.Int
	validators map[address.Address]*Validator

	// active is the derived view of Active validators in canonical
	// address-byte order, rebuilt eagerly after every mutation.
	active []*Validator
}

// New creates an empty registry with the given minimum validator stake.
func New(minStake int64) *Registry {
	return &Registry{
		minStake:   math.NewInt(minStake),
		validators: make(map[address.Address]*Validator),
	}
}

// MinStake returns the configured minimum validator stake.
func (r *Registry) MinStake() math.Int {
	return r.minStake
}

// Register inserts a new Active validator. Registration fails if the
// initial stake is below the minimum or the address already exists.
func (r *Registry) Register(addr address.Address, initialStake math.Int, pubKeyRef []byte) error {
	if _, exists := r.validators[addr]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, addr)
	}
	if initialStake.IsNil() || initialStake.IsNegative() {
		return fmt.Errorf("%w: initial stake must be non-negative", ErrInsufficientStake)
	}
	if initialStake.LT(r.minStake) {
		return fmt.Errorf("%w: stake %s below minimum %s",
			ErrInsufficientStake, initialStake, r.minStake)
	}

	r.validators[addr] = &Validator{
		Address:     addr,
		PubKeyRef:   append([]byte(nil), pubKeyRef...),
		Stake:       initialStake,
		Reliability: 1.0,
		Status:      StatusActive,
	}
	r.rebuildActive()
	return nil
}

// AdjustStake applies a signed stake delta. A result below the minimum
// demotes an Active validator to Inactive; recovering above the minimum
// promotes an Inactive validator back. Jailed and Banned validators
// keep their status.
func (r *Registry) AdjustStake(addr address.Address, delta math.Int) error {
	v, exists := r.validators[addr]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}

	next := v.Stake.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("%w: stake %s with delta %s would go negative",
			ErrStakeUnderflow, v.Stake, delta)
	}

	v.Stake = next
	r.applyStakeThreshold(v)
	r.rebuildActive()
	return nil
}

// UpdateMetrics overwrites the externally-fed scores for a validator.
func (r *Registry) UpdateMetrics(addr address.Address, utility, reliability, efficiency float64) error {
	v, exists := r.validators[addr]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}
	if reliability < 0 || reliability > 1 {
		return fmt.Errorf("%w: reliability %.4f outside [0, 1]", ErrInvalidMetric, reliability)
	}
	if utility < 0 {
		return fmt.Errorf("%w: utility %.4f must be non-negative", ErrInvalidMetric, utility)
	}
	if efficiency < 0 {
		return fmt.Errorf("%w: efficiency %.4f must be non-negative", ErrInvalidMetric, efficiency)
	}

	v.Utility = utility
	v.Reliability = reliability
	v.Efficiency = efficiency
	return nil
}

// RecordParticipation updates per-validator block production counters
// and rederives the reliability score as the produced fraction of all
// observed slots, at basis-point precision so every node computes the
// identical value. UpdateMetrics remains the external overwrite; the
// next participation record rederives from the counters again.
func (r *Registry) RecordParticipation(addr address.Address, slot uint64, produced bool) error {
	v, exists := r.validators[addr]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}
	if produced {
		v.BlocksProduced++
		v.LastActiveSlot = slot
	} else {
		v.BlocksMissed++
	}

	total := v.BlocksProduced + v.BlocksMissed
	bps := v.BlocksProduced * 10_000 / total
	v.Reliability = float64(bps) / 10_000
	return nil
}

// Slash deducts a penalty from the validator's stake, clamping at zero,
// and increments the cumulative slash count. Status transitions (Jail,
// Ban) are the slashing engine's decision and are applied separately.
// The returned amount is what was actually deducted.
func (r *Registry) Slash(addr address.Address, penalty math.Int) (math.Int, error) {
	v, exists := r.validators[addr]
	if !exists {
		return math.ZeroInt(), fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}
	if penalty.IsNegative() {
		return math.ZeroInt(), fmt.Errorf("penalty must be non-negative, got %s", penalty)
	}

	applied := math.MinInt(penalty, v.Stake)
	v.Stake = v.Stake.Sub(applied)
	v.SlashCount++
	r.applyStakeThreshold(v)
	r.rebuildActive()
	return applied, nil
}

// Jail moves a validator to Jailed until the given slot. Banned
// validators stay banned.
func (r *Registry) Jail(addr address.Address, untilSlot uint64) error {
	v, exists := r.validators[addr]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}
	if v.Status == StatusBanned {
		return nil
	}
	v.Status = StatusJailed
	v.JailedUntilSlot = untilSlot
	r.rebuildActive()
	return nil
}

// Ban permanently removes a validator from eligibility. The record is
// never deleted; it remains as history with zero eligible weight.
func (r *Registry) Ban(addr address.Address) error {
	v, exists := r.validators[addr]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}
	v.Status = StatusBanned
	v.JailedUntilSlot = 0
	r.rebuildActive()
	return nil
}

// UnjailExpired releases every jailed validator whose term ended at or
// before the given slot. Released validators become Active if their
// stake still meets the minimum, Inactive otherwise. It returns the
// released addresses in canonical order.
func (r *Registry) UnjailExpired(slot uint64) []address.Address {
	var released []address.Address
	for _, v := range r.validators {
		if v.Status != StatusJailed || v.JailedUntilSlot > slot {
			continue
		}
		v.JailedUntilSlot = 0
		if v.Stake.GTE(r.minStake) {
			v.Status = StatusActive
		} else {
			v.Status = StatusInactive
		}
		released = append(released, v.Address)
	}
	if released != nil {
		sort.Slice(released, func(i, j int) bool {
			return released[i].Cmp(released[j]) < 0
		})
		r.rebuildActive()
	}
	return released
}

// Get returns the validator record for an address.
func (r *Registry) Get(addr address.Address) (*Validator, error) {
	v, exists := r.validators[addr]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownValidator, addr)
	}
	return v, nil
}

// Has reports whether an address is registered.
func (r *Registry) Has(addr address.Address) bool {
	_, exists := r.validators[addr]
	return exists
}

// Count returns the total number of registry records, Banned included.
func (r *Registry) Count() int {
	return len(r.validators)
}

// ActiveSet returns the Active validators in canonical address order.
// Callers inside the transition step may read the returned records but
// must mutate only through registry operations.
func (r *Registry) ActiveSet() []*Validator {
	out := make([]*Validator, len(r.active))
	copy(out, r.active)
	return out
}

// TotalActiveStake sums the staked amounts of Active validators.
func (r *Registry) TotalActiveStake() math.Int {
	total := math.ZeroInt()
	for _, v := range r.active {
		total = total.Add(v.Stake)
	}
	return total
}

// All returns deep copies of every record in canonical address order,
// for persistence and observability.
func (r *Registry) All() []*Validator {
	out := make([]*Validator, 0, len(r.validators))
	for _, v := range r.validators {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out
}

// Restore inserts a previously persisted record, bypassing registration
// checks. Used only when replaying the journal at startup.
func (r *Registry) Restore(v *Validator) {
	r.validators[v.Address] = v.Clone()
	r.rebuildActive()
}

// Snapshot returns an immutable copy of the active set taken at the
// given slot. Read-side consumers (selection previews, security
// metrics) work against snapshots and never race with the next
// transition step.
func (r *Registry) Snapshot(slot uint64) *Snapshot {
	validators := make([]Validator, len(r.active))
	total := math.ZeroInt()
	for i, v := range r.active {
		validators[i] = *v.Clone()
		total = total.Add(v.Stake)
	}
	return &Snapshot{
		Slot:       slot,
		Validators: validators,
		TotalStake: total,
	}
}

// applyStakeThreshold flips a validator between Active and Inactive
// around the minimum-stake boundary. Jailed and Banned are untouched.
func (r *Registry) applyStakeThreshold(v *Validator) {
	switch v.Status {
	case StatusActive:
		if v.Stake.LT(r.minStake) {
			v.Status = StatusInactive
		}
	case StatusInactive:
		if v.Stake.GTE(r.minStake) {
			v.Status = StatusActive
		}
	}
}

// rebuildActive recomputes the derived active set. The ordering must be
// identical on every node, so it sorts by raw address bytes.
func (r *Registry) rebuildActive() {
	active := r.active[:0]
	for _, v := range r.validators {
		if v.Status == StatusActive {
			active = append(active, v)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].Address.Cmp(active[j].Address) < 0
	})
	r.active = active
}

// Snapshot is an immutable view of the active set at a slot boundary.
type Snapshot struct {
	Slot       uint64      `json:"slot"`
	Validators []Validator `json:"validators"`
	TotalStake math.Int    `json:"total_stake"`
}

// Get returns the snapshot record for an address, or nil if the address
// was not Active at snapshot time.
func (s *Snapshot) Get(addr address.Address) *Validator {
	for i := range s.Validators {
		if s.Validators[i].Address == addr {
			return &s.Validators[i]
		}
	}
	return nil
}
