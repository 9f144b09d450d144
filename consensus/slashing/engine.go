// consensus/slashing/engine.go

// Slashing engine for Proof of Active Stake consensus
// Features:
// - Idempotent evidence application keyed by offense identifier
// - Penalty computation from base fraction, severity and repeat escalation
// - Jail and ban state transitions with a cumulative ban threshold
// - Burn or treasury routing of penalized stake
// - Status-change notifications for networking and tokenomics

package slashing

import (
	"errors"
	"fmt"
	stdmath "math"

	"cosmossdk.io/math"
	"go.uber.org/zap"

	"github.com/poas-labs/go-poas/config"
	"github.com/poas-labs/go-poas/consensus/registry"
	"github.com/poas-labs/go-poas/crypto/address"
)

var (
	// ErrDuplicateEvidence is returned when an offense identifier was
	// already applied. Evidence arrives via multiple gossip paths, so
	// idempotency is mandatory.
	ErrDuplicateEvidence = errors.New("duplicate evidence")

	// ErrUnverifiedEvidence is returned when evidence fails the
	// structural constraints of its offense type.
	ErrUnverifiedEvidence = errors.New("unverified evidence")

	// ErrStaleEvidence is returned when the offense slot falls outside
	// the evidence window. Stale evidence is rejected, never queued.
	ErrStaleEvidence = errors.New("stale evidence")
)

// escalationScale fixes the combined severity and repeat-offense
// factor to a deterministic precision before the integer multiply.
const escalationScale = 1_000_000

// Outcome records one applied penalty.
type Outcome struct {
	OffenseID  string          `json:"offense_id"`
	Offense    Offense         `json:"offense"`
	Offender   address.Address `json:"offender"`
	Slot       uint64          `json:"slot"`
	Penalty    math.Int        `json:"penalty"`
	SlashCount int             `json:"slash_count"`
	NewStatus  registry.Status `json:"new_status"`
}

// StatusNotifier receives Jailed/Banned transitions. Networking uses
// it to deprioritize peers, tokenomics to exclude from rewards.
type StatusNotifier func(addr address.Address, status registry.Status)

// Engine validates evidence and applies penalties to the registry.
// Like the registry it relies on the consensus engine's single-writer
// discipline and carries no lock of its own.
type Engine struct {
	cfg    *config.SlashingConfig
	reg    *registry.Registry
	logger *zap.Logger

	applied map[string]bool
	history []*Outcome

	burnedTotal   math.Int
	treasuryTotal math.Int

	notify StatusNotifier
}

// NewEngine creates a slashing engine bound to a registry.
func NewEngine(cfg *config.SlashingConfig, reg *registry.Registry, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:           cfg,
		reg:           reg,
		logger:        logger,
		applied:       make(map[string]bool),
		burnedTotal:   math.ZeroInt(),
		treasuryTotal: math.ZeroInt(),
	}
}

// SetNotifier installs the status-change callback. Pass nil to disable.
func (e *Engine) SetNotifier(fn StatusNotifier) {
	e.notify = fn
}

// SubmitEvidence validates and applies one piece of evidence at the
// given slot. Applied penalties are never rolled back by this engine;
// corrections require an explicit compensating event from outside.
func (e *Engine) SubmitEvidence(ev *Evidence, currentSlot uint64) (*Outcome, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil evidence", ErrUnverifiedEvidence)
	}
	if e.applied[ev.OffenseID] {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEvidence, ev.OffenseID)
	}
	if ev.Slot > currentSlot {
		return nil, fmt.Errorf("%w: offense slot %d is in the future of slot %d",
			ErrUnverifiedEvidence, ev.Slot, currentSlot)
	}
	if currentSlot-ev.Slot > e.cfg.EvidenceWindowSlots {
		return nil, fmt.Errorf("%w: offense slot %d outside window of %d slots at slot %d",
			ErrStaleEvidence, ev.Slot, e.cfg.EvidenceWindowSlots, currentSlot)
	}
	if err := ev.validateStructure(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnverifiedEvidence, err)
	}

	offender, err := e.reg.Get(ev.Offender)
	if err != nil {
		return nil, err
	}

	penalty := e.computePenalty(offender.Stake, ev.Offense, offender.SlashCount)

	applied, err := e.reg.Slash(ev.Offender, penalty)
	if err != nil {
		return nil, err
	}
	e.route(applied)

	// Slash incremented the cumulative count; past the ban threshold
	// the validator is banned outright, skipping jail.
	offender, _ = e.reg.Get(ev.Offender)
	var newStatus registry.Status
	if offender.SlashCount > e.cfg.BanThreshold {
		if err := e.reg.Ban(ev.Offender); err != nil {
			return nil, err
		}
		newStatus = registry.StatusBanned
	} else {
		if err := e.reg.Jail(ev.Offender, currentSlot+e.cfg.JailDurationSlots); err != nil {
			return nil, err
		}
		newStatus = registry.StatusJailed
	}

	e.applied[ev.OffenseID] = true
	outcome := &Outcome{
		OffenseID:  ev.OffenseID,
		Offense:    ev.Offense,
		Offender:   ev.Offender,
		Slot:       ev.Slot,
		Penalty:    applied,
		SlashCount: offender.SlashCount,
		NewStatus:  newStatus,
	}
	e.history = append(e.history, outcome)

	e.logger.Info("slashing applied",
		zap.String("offender", ev.Offender.String()),
		zap.String("offense", ev.Offense.String()),
		zap.String("penalty", applied.String()),
		zap.Int("slash_count", offender.SlashCount),
		zap.Stringer("status", newStatus),
		zap.Uint64("slot", currentSlot),
	)

	if e.notify != nil {
		e.notify(ev.Offender, newStatus)
	}
	return outcome, nil
}

// WasApplied reports whether an offense identifier was already applied.
func (e *Engine) WasApplied(offenseID string) bool {
	return e.applied[offenseID]
}

// MarkApplied records an offense identifier without re-running the
// penalty, for journal replay at startup.
func (e *Engine) MarkApplied(offenseID string) {
	e.applied[offenseID] = true
}

// AppliedIDs returns every applied offense identifier, for persistence.
func (e *Engine) AppliedIDs() []string {
	ids := make([]string, 0, len(e.applied))
	for id := range e.applied {
		ids = append(ids, id)
	}
	return ids
}

// History returns the outcomes applied since startup, oldest first.
func (e *Engine) History() []*Outcome {
	out := make([]*Outcome, len(e.history))
	copy(out, e.history)
	return out
}

// BurnedTotal returns the stake destroyed under the burn policy.
func (e *Engine) BurnedTotal() math.Int {
	return e.burnedTotal
}

// TreasuryTotal returns the stake credited under the treasury policy.
func (e *Engine) TreasuryTotal() math.Int {
	return e.treasuryTotal
}

// computePenalty is stake × base fraction × severity × repeat
// escalation, with the float factors fixed to escalationScale
// precision so every node computes the identical amount.
func (e *Engine) computePenalty(stake math.Int, offense Offense, priorOffenses int) math.Int {
	severity := e.cfg.SeverityMultiplier(offense.String())
	escalation := stdmath.Min(
		1+float64(priorOffenses)*e.cfg.RepeatOffenseStep,
		e.cfg.RepeatOffenseCap,
	)

	factor := int64(stdmath.Round(severity * escalation * escalationScale))
	if factor <= 0 {
		return math.ZeroInt()
	}
	return stake.
		MulRaw(e.cfg.BaseSlashFractionBps).
		MulRaw(factor).
		QuoRaw(10_000 * escalationScale)
}

// route credits penalized stake per the configured recipient policy.
func (e *Engine) route(amount math.Int) {
	switch e.cfg.Recipient {
	case config.RecipientTreasury:
		e.treasuryTotal = e.treasuryTotal.Add(amount)
	default:
		e.burnedTotal = e.burnedTotal.Add(amount)
	}
}
