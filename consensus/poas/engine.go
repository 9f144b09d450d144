// consensus/poas/engine.go

// Proof of Active Stake consensus engine
// Features:
// - Single sequential state-transition step per slot boundary
// - Ordered application of stake, metric, participation and evidence queues
// - Leader and committee selection driven by a per-slot seed
// - Immutable snapshots for lock-free reads
// - Status-change notifications for networking and tokenomics

package poas

import (
	"fmt"
	"sync"

	"cosmossdk.io/math"
	"go.uber.org/zap"

	"github.com/poas-labs/go-poas/config"
	"github.com/poas-labs/go-poas/consensus/registry"
	"github.com/poas-labs/go-poas/consensus/security"
	"github.com/poas-labs/go-poas/consensus/selection"
	"github.com/poas-labs/go-poas/consensus/slashing"
	"github.com/poas-labs/go-poas/crypto/address"
)

// StakeEvent is a verified stake-change event from ledger execution.
type StakeEvent struct {
	Address address.Address
	Delta   math.Int
}

// MetricUpdate is a periodic utility/efficiency feed entry from the
// tokenomics and liquidity collaborators.
type MetricUpdate struct {
	Address     address.Address
	Utility     float64
	Reliability float64
	Efficiency  float64
}

// ParticipationRecord states who was selected for a slot and whether
// they produced a valid block.
type ParticipationRecord struct {
	Slot      uint64
	Validator address.Address
	Produced  bool
}

// StatusChange notifies collaborators of a Jailed or Banned transition.
type StatusChange struct {
	Address address.Address
	Status  registry.Status
}

// SlotResult is the outcome of one transition step.
type SlotResult struct {
	Slot      uint64
	Leader    address.Address
	Committee []address.Address
	Snapshot  *registry.Snapshot
}

// Engine owns the registry and serializes every mutation into one
// ordered application step per slot. Feeds may arrive concurrently;
// their effects are queued and applied in a fixed order inside
// AdvanceSlot so every node reaches the same state from the same
// event log.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger

	mu       sync.RWMutex
	registry *registry.Registry
	slasher  *slashing.Engine
	monitor  *slashing.DowntimeMonitor

	pendingStake         []StakeEvent
	pendingMetrics       []MetricUpdate
	pendingParticipation []ParticipationRecord
	pendingEvidence      []*slashing.Evidence

	snapshot    *registry.Snapshot
	currentSlot uint64

	statusCh chan StatusChange
}

// NewEngine creates a consensus engine from configuration.
func NewEngine(cfg *config.Config, logger *zap.Logger) *Engine {
	reg := registry.New(cfg.Staking.MinValidatorStake)
	slasher := slashing.NewEngine(&cfg.Slashing, reg, logger)

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		slasher:  slasher,
		monitor:  slashing.NewDowntimeMonitor(cfg.Slashing.MissedSlotThreshold),
		snapshot: reg.Snapshot(0),
		statusCh: make(chan StatusChange, 64),
	}
	slasher.SetNotifier(e.onStatusChange)
	return e
}

// Registry exposes the owned registry for persistence and replay. The
// caller must respect the single-writer discipline.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Slasher exposes the slashing engine for persistence and replay.
func (e *Engine) Slasher() *slashing.Engine {
	return e.slasher
}

// RegisterValidator admits a new validator. Registration is an
// external stake-registration event and takes effect immediately.
func (e *Engine) RegisterValidator(addr address.Address, stake math.Int, pubKeyRef []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.registry.Count() >= e.cfg.Consensus.MaxValidators {
		return fmt.Errorf("validator limit %d reached", e.cfg.Consensus.MaxValidators)
	}
	if err := e.registry.Register(addr, stake, pubKeyRef); err != nil {
		return err
	}
	e.logger.Info("validator registered",
		zap.String("address", addr.String()),
		zap.String("stake", stake.String()),
	)
	return nil
}

// SubmitStakeEvent queues a verified stake change for the next
// transition step.
func (e *Engine) SubmitStakeEvent(ev StakeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingStake = append(e.pendingStake, ev)
}

// SubmitMetricUpdate queues a metric feed entry for the next
// transition step.
func (e *Engine) SubmitMetricUpdate(upd MetricUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingMetrics = append(e.pendingMetrics, upd)
}

// SubmitParticipation queues a per-slot participation record.
func (e *Engine) SubmitParticipation(rec ParticipationRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingParticipation = append(e.pendingParticipation, rec)
}

// SubmitEvidence queues externally received misbehavior evidence.
func (e *Engine) SubmitEvidence(ev *slashing.Evidence) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingEvidence = append(e.pendingEvidence, ev)
}

// AdvanceSlot runs the transition step for a slot: release expired
// jails, apply queued stake changes, metric updates, participation
// records (feeding the downtime monitor) and evidence, in that order,
// then rebuild the snapshot and select the leader and committee for
// the slot. Selection errors are fatal for the slot and surface to the
// orchestration layer; the engine never silently skips a slot.
func (e *Engine) AdvanceSlot(slot uint64, seed []byte) (*SlotResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.currentSlot = slot

	for _, released := range e.registry.UnjailExpired(slot) {
		e.logger.Info("validator released from jail",
			zap.String("address", released.String()),
			zap.Uint64("slot", slot),
		)
	}

	for _, ev := range e.pendingStake {
		if err := e.registry.AdjustStake(ev.Address, ev.Delta); err != nil {
			e.logger.Warn("stake event rejected",
				zap.String("address", ev.Address.String()),
				zap.String("delta", ev.Delta.String()),
				zap.Error(err),
			)
		}
	}
	e.pendingStake = e.pendingStake[:0]

	for _, upd := range e.pendingMetrics {
		if err := e.registry.UpdateMetrics(upd.Address, upd.Utility, upd.Reliability, upd.Efficiency); err != nil {
			e.logger.Warn("metric update rejected",
				zap.String("address", upd.Address.String()),
				zap.Error(err),
			)
		}
	}
	e.pendingMetrics = e.pendingMetrics[:0]

	// Participation feeds the downtime monitor; synthesized evidence
	// joins the external queue and flows through the same path.
	for _, rec := range e.pendingParticipation {
		if err := e.registry.RecordParticipation(rec.Validator, rec.Slot, rec.Produced); err != nil {
			e.logger.Warn("participation record rejected",
				zap.String("address", rec.Validator.String()),
				zap.Error(err),
			)
			continue
		}
		if ev := e.monitor.Tick(rec.Slot, rec.Validator, rec.Produced); ev != nil {
			e.pendingEvidence = append(e.pendingEvidence, ev)
		}
	}
	e.pendingParticipation = e.pendingParticipation[:0]

	for _, ev := range e.pendingEvidence {
		outcome, err := e.slasher.SubmitEvidence(ev, slot)
		if err != nil {
			e.logger.Warn("evidence rejected",
				zap.String("offense_id", ev.OffenseID),
				zap.Error(err),
			)
			continue
		}
		if outcome.NewStatus != registry.StatusActive {
			e.monitor.Reset(outcome.Offender)
		}
	}
	e.pendingEvidence = e.pendingEvidence[:0]

	e.snapshot = e.registry.Snapshot(slot)

	leader, err := selection.SelectLeader(e.snapshot, slot, seed)
	if err != nil {
		return nil, err
	}
	committee, err := selection.SelectCommittee(e.snapshot, slot, seed, e.cfg.Consensus.CommitteeSize)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("slot advanced",
		zap.Uint64("slot", slot),
		zap.String("leader", leader.String()),
		zap.Int("active_validators", len(e.snapshot.Validators)),
	)

	return &SlotResult{
		Slot:      slot,
		Leader:    leader,
		Committee: committee,
		Snapshot:  e.snapshot,
	}, nil
}

// Snapshot returns the active-set snapshot from the last slot
// boundary. Safe for concurrent use; the snapshot never mutates.
func (e *Engine) Snapshot() *registry.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// CurrentSlot returns the last slot applied by AdvanceSlot.
func (e *Engine) CurrentSlot() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentSlot
}

// SecuritySnapshot computes decentralization metrics over the last
// snapshot, for observability and governance.
func (e *Engine) SecuritySnapshot() *security.Snapshot {
	return security.Compute(e.Snapshot(), e.cfg.Security.SafetyFraction)
}

// StatusChanges returns the channel of Jailed/Banned transitions.
func (e *Engine) StatusChanges() <-chan StatusChange {
	return e.statusCh
}

// onStatusChange forwards slashing transitions without ever blocking
// the transition step. A full channel drops the notification; the
// registry remains the source of truth.
func (e *Engine) onStatusChange(addr address.Address, status registry.Status) {
	select {
	case e.statusCh <- StatusChange{Address: addr, Status: status}:
	default:
		e.logger.Warn("status notification dropped",
			zap.String("address", addr.String()),
			zap.Stringer("status", status),
		)
	}
}
