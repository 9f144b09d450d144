// consensus/slashing/downtime.go

// Downtime monitoring for Proof of Active Stake consensus
// Features:
// - Consecutive-miss tracking per selected validator
// - Automatic Downtime evidence at the configured threshold
// - Exactly-once reporting per miss streak

package slashing

import (
	"github.com/poas-labs/go-poas/crypto/address"
)

// DowntimeMonitor watches per-slot participation records and
// synthesizes Downtime evidence when a validator misses a configured
// number of consecutive assigned slots. It is the only internal
// evidence source; everything else arrives from the network layer.
type DowntimeMonitor struct {
	threshold int

	streaks  map[address.Address]int
	reported map[address.Address]bool
}

// NewDowntimeMonitor creates a monitor with the given consecutive-miss
// threshold.
func NewDowntimeMonitor(missedSlotThreshold int) *DowntimeMonitor {
	return &DowntimeMonitor{
		threshold: missedSlotThreshold,
		streaks:   make(map[address.Address]int),
		reported:  make(map[address.Address]bool),
	}
}

// Tick records one participation observation: the validator selected
// for the slot and whether it produced a valid block. It returns
// synthesized Downtime evidence exactly once per streak, at the slot
// where the streak reaches the threshold, and nil otherwise. Pure
// bookkeeping; the caller feeds returned evidence through the same
// single-writer path as external evidence.
func (m *DowntimeMonitor) Tick(slot uint64, selected address.Address, produced bool) *Evidence {
	if produced {
		delete(m.streaks, selected)
		delete(m.reported, selected)
		return nil
	}

	m.streaks[selected]++
	if m.streaks[selected] < m.threshold || m.reported[selected] {
		return nil
	}

	m.reported[selected] = true
	return &Evidence{
		Offense:   OffenseDowntime,
		Offender:  selected,
		OffenseID: NewOffenseID(OffenseDowntime, selected, slot),
		Slot:      slot,
	}
}

// Streak returns the current consecutive-miss count for a validator.
func (m *DowntimeMonitor) Streak(addr address.Address) int {
	return m.streaks[addr]
}

// Reset clears the streak for a validator, used when a validator is
// jailed or banned and leaves the selection population.
func (m *DowntimeMonitor) Reset(addr address.Address) {
	delete(m.streaks, addr)
	delete(m.reported, addr)
}
