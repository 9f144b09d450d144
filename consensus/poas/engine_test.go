package poas

import (
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/poas-labs/go-poas/config"
	"github.com/poas-labs/go-poas/consensus/registry"
	"github.com/poas-labs/go-poas/consensus/slashing"
	"github.com/poas-labs/go-poas/crypto/address"
)

func addr(t *testing.T, lastByte byte) address.Address {
	t.Helper()
	raw := make([]byte, address.ByteLength)
	raw[address.ByteLength-1] = lastByte
	a, err := address.FromBytes(raw)
	require.NoError(t, err)
	return a
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Staking.MinValidatorStake = 100
	cfg.Consensus.CommitteeSize = 2
	require.NoError(t, cfg.Validate())
	return NewEngine(cfg, zap.NewNop())
}

func registerValidators(t *testing.T, e *Engine, stakes map[byte]int64) {
	t.Helper()
	for last, stake := range stakes {
		require.NoError(t, e.RegisterValidator(addr(t, last), math.NewInt(stake), []byte{last}))
	}
}

func TestAdvanceSlotSelectsLeaderAndCommittee(t *testing.T) {
	e := newTestEngine(t)
	registerValidators(t, e, map[byte]int64{1: 1000, 2: 2000, 3: 3000})

	result, err := e.AdvanceSlot(1, []byte("seed-1"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), result.Slot)
	require.False(t, result.Leader.IsZero())
	require.Len(t, result.Committee, 2)
	require.Len(t, result.Snapshot.Validators, 3)

	// Identical state and seed reproduce the identical outcome.
	e2 := newTestEngine(t)
	registerValidators(t, e2, map[byte]int64{1: 1000, 2: 2000, 3: 3000})
	result2, err := e2.AdvanceSlot(1, []byte("seed-1"))
	require.NoError(t, err)
	require.Equal(t, result.Leader, result2.Leader)
	require.Equal(t, result.Committee, result2.Committee)
}

func TestAdvanceSlotAppliesQueuedEvents(t *testing.T) {
	e := newTestEngine(t)
	registerValidators(t, e, map[byte]int64{1: 1000, 2: 2000})
	a := addr(t, 1)

	e.SubmitStakeEvent(StakeEvent{Address: a, Delta: math.NewInt(-950)})
	e.SubmitMetricUpdate(MetricUpdate{Address: addr(t, 2), Utility: 5.0, Reliability: 0.9, Efficiency: 0.1})

	// Queued events take effect only at the slot boundary.
	require.Equal(t, math.NewInt(1000), e.Snapshot().Get(a).Stake)

	_, err := e.AdvanceSlot(1, []byte("seed"))
	require.NoError(t, err)

	// A dropped below MinStake and left the active set.
	snap := e.Snapshot()
	require.Nil(t, snap.Get(a))
	require.Equal(t, 0.9, snap.Get(addr(t, 2)).Reliability)

	v, err := e.Registry().Get(a)
	require.NoError(t, err)
	require.Equal(t, registry.StatusInactive, v.Status)
}

func TestAdvanceSlotRejectsBadEventsWithoutHalting(t *testing.T) {
	e := newTestEngine(t)
	registerValidators(t, e, map[byte]int64{1: 1000})

	// Underflow and unknown-validator events reject individually.
	e.SubmitStakeEvent(StakeEvent{Address: addr(t, 1), Delta: math.NewInt(-5000)})
	e.SubmitStakeEvent(StakeEvent{Address: addr(t, 9), Delta: math.NewInt(100)})
	e.SubmitMetricUpdate(MetricUpdate{Address: addr(t, 1), Utility: 1.0, Reliability: 2.0})

	_, err := e.AdvanceSlot(1, []byte("seed"))
	require.NoError(t, err)

	v, err := e.Registry().Get(addr(t, 1))
	require.NoError(t, err)
	require.Equal(t, math.NewInt(1000), v.Stake)
	require.Equal(t, registry.StatusActive, v.Status)
}

func TestEvidenceFlowsThroughTransitionStep(t *testing.T) {
	e := newTestEngine(t)
	registerValidators(t, e, map[byte]int64{1: 100_000, 2: 100_000, 3: 100_000})
	a := addr(t, 1)

	e.SubmitEvidence(&slashing.Evidence{
		Offense:   slashing.OffenseEquivocation,
		Offender:  a,
		OffenseID: slashing.NewOffenseID(slashing.OffenseEquivocation, a, 1),
		Slot:      1,
		Records: []slashing.SignedRecord{
			{Slot: 1, Hash: []byte("a"), Signature: []byte("s1")},
			{Slot: 1, Hash: []byte("b"), Signature: []byte("s2")},
		},
	})

	_, err := e.AdvanceSlot(1, []byte("seed"))
	require.NoError(t, err)

	v, err := e.Registry().Get(a)
	require.NoError(t, err)
	require.Equal(t, registry.StatusJailed, v.Status)
	require.Equal(t, math.NewInt(95_000), v.Stake)
	require.Nil(t, e.Snapshot().Get(a))

	change := <-e.StatusChanges()
	require.Equal(t, StatusChange{Address: a, Status: registry.StatusJailed}, change)
}

func TestJailedValidatorReleasedAfterTerm(t *testing.T) {
	e := newTestEngine(t)
	registerValidators(t, e, map[byte]int64{1: 100_000, 2: 100_000, 3: 100_000})
	a := addr(t, 1)

	e.SubmitEvidence(&slashing.Evidence{
		Offense:   slashing.OffenseEquivocation,
		Offender:  a,
		OffenseID: slashing.NewOffenseID(slashing.OffenseEquivocation, a, 1),
		Slot:      1,
		Records: []slashing.SignedRecord{
			{Slot: 1, Hash: []byte("a"), Signature: []byte("s1")},
			{Slot: 1, Hash: []byte("b"), Signature: []byte("s2")},
		},
	})
	_, err := e.AdvanceSlot(1, []byte("seed"))
	require.NoError(t, err)
	require.Nil(t, e.Snapshot().Get(a))

	// Default jail term is 64 slots from the application slot.
	_, err = e.AdvanceSlot(64, []byte("seed"))
	require.NoError(t, err)
	require.Nil(t, e.Snapshot().Get(a))

	_, err = e.AdvanceSlot(65, []byte("seed"))
	require.NoError(t, err)
	require.NotNil(t, e.Snapshot().Get(a))
}

func TestDowntimeSlashesThroughParticipationFeed(t *testing.T) {
	cfg := config.Default()
	cfg.Staking.MinValidatorStake = 100
	cfg.Consensus.CommitteeSize = 2
	cfg.Slashing.MissedSlotThreshold = 3
	e := NewEngine(cfg, zap.NewNop())
	registerValidators(t, e, map[byte]int64{1: 100_000, 2: 100_000, 3: 100_000})
	a := addr(t, 1)
	for slot := uint64(1); slot <= 3; slot++ {
		e.SubmitParticipation(ParticipationRecord{Slot: slot, Validator: a, Produced: false})
	}

	_, err := e.AdvanceSlot(4, []byte("seed"))
	require.NoError(t, err)

	v, err := e.Registry().Get(a)
	require.NoError(t, err)
	require.Equal(t, registry.StatusJailed, v.Status)
	require.Equal(t, 1, v.SlashCount)
	require.Equal(t, uint64(3), v.BlocksMissed)

	// 100000 × 1% × 0.5 downtime multiplier = 500.
	require.Equal(t, math.NewInt(99_500), v.Stake)
}

func TestNoEligibleValidatorsSurfaces(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.AdvanceSlot(1, []byte("seed"))
	require.Error(t, err)
}

func TestSecuritySnapshot(t *testing.T) {
	e := newTestEngine(t)
	registerValidators(t, e, map[byte]int64{1: 100, 2: 200, 3: 300, 4: 400})

	_, err := e.AdvanceSlot(1, []byte("seed"))
	require.NoError(t, err)

	report := e.SecuritySnapshot()
	require.Equal(t, 4, report.ActiveValidators)
	require.Equal(t, math.NewInt(1000), report.TotalActiveStake)
	require.InDelta(t, 0.25, report.GiniCoefficient, 1e-9)
}
