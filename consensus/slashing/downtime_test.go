package slashing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDowntimeEvidenceAtThreshold(t *testing.T) {
	m := NewDowntimeMonitor(3)
	a := addr(t, 1)

	// Not before the threshold.
	require.Nil(t, m.Tick(1, a, false))
	require.Nil(t, m.Tick(2, a, false))
	require.Equal(t, 2, m.Streak(a))

	// Exactly at the threshold.
	ev := m.Tick(3, a, false)
	require.NotNil(t, ev)
	require.Equal(t, OffenseDowntime, ev.Offense)
	require.Equal(t, a, ev.Offender)
	require.Equal(t, uint64(3), ev.Slot)
	require.Equal(t, NewOffenseID(OffenseDowntime, a, 3), ev.OffenseID)

	// Not repeatedly for the same streak.
	require.Nil(t, m.Tick(4, a, false))
	require.Nil(t, m.Tick(5, a, false))
}

func TestDowntimeStreakResetsOnProduction(t *testing.T) {
	m := NewDowntimeMonitor(3)
	a := addr(t, 1)

	require.Nil(t, m.Tick(1, a, false))
	require.Nil(t, m.Tick(2, a, false))
	require.Nil(t, m.Tick(3, a, true))
	require.Zero(t, m.Streak(a))

	// A fresh streak reports again at its own threshold.
	require.Nil(t, m.Tick(4, a, false))
	require.Nil(t, m.Tick(5, a, false))
	ev := m.Tick(6, a, false)
	require.NotNil(t, ev)
	require.Equal(t, uint64(6), ev.Slot)
}

func TestDowntimeTracksValidatorsIndependently(t *testing.T) {
	m := NewDowntimeMonitor(2)
	a := addr(t, 1)
	b := addr(t, 2)

	require.Nil(t, m.Tick(1, a, false))
	require.Nil(t, m.Tick(2, b, false))
	require.NotNil(t, m.Tick(3, a, false))
	require.NotNil(t, m.Tick(4, b, false))
}

func TestDowntimeReset(t *testing.T) {
	m := NewDowntimeMonitor(2)
	a := addr(t, 1)

	require.Nil(t, m.Tick(1, a, false))
	m.Reset(a)
	require.Zero(t, m.Streak(a))
	require.Nil(t, m.Tick(2, a, false))
	require.NotNil(t, m.Tick(3, a, false))
}

func TestEvidenceCBORRoundTrip(t *testing.T) {
	a := addr(t, 1)
	ev := equivocationEvidence(a, 42)

	data, err := ev.Marshal()
	require.NoError(t, err)

	var decoded Evidence
	require.NoError(t, decoded.Unmarshal(data))
	require.Equal(t, *ev, decoded)
}
