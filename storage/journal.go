// storage/journal.go

// Consensus journal
// Features:
// - Validator record persistence across restarts
// - Applied offense identifiers for idempotent slashing replay
// - Security snapshot history for governance tooling
// - Current-slot bookkeeping

package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/poas-labs/go-poas/consensus/registry"
	"github.com/poas-labs/go-poas/consensus/security"
)

// Key prefixes. Validator and offense keys embed their identifier;
// snapshot keys embed the big-endian slot so prefix iteration yields
// chronological order.
var (
	prefixValidator = []byte("validator:")
	prefixOffense   = []byte("offense:")
	prefixSnapshot  = []byte("snapshot:")
	keyCurrentSlot  = []byte("meta:current_slot")
)

// Journal persists consensus state between restarts. It is written
// from outside the transition step, after a slot boundary completes.
type Journal struct {
	store *BadgerStorage
}

// NewJournal creates a journal over an open store.
func NewJournal(store *BadgerStorage) *Journal {
	return &Journal{store: store}
}

// SaveValidator upserts one validator record.
func (j *Journal) SaveValidator(v *registry.Validator) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal validator %s: %w", v.Address, err)
	}
	key := append(append([]byte(nil), prefixValidator...), v.Address.Bytes()...)
	return j.store.Set(key, data)
}

// SaveValidators upserts every given record.
func (j *Journal) SaveValidators(validators []*registry.Validator) error {
	for _, v := range validators {
		if err := j.SaveValidator(v); err != nil {
			return err
		}
	}
	return nil
}

// LoadValidators returns every persisted validator record.
func (j *Journal) LoadValidators() ([]*registry.Validator, error) {
	var out []*registry.Validator
	err := j.store.IteratePrefix(prefixValidator, func(_, value []byte) error {
		var v registry.Validator
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("failed to unmarshal validator record: %w", err)
		}
		out = append(out, &v)
		return nil
	})
	return out, err
}

// MarkOffenseApplied records an applied offense identifier.
func (j *Journal) MarkOffenseApplied(offenseID string) error {
	key := append(append([]byte(nil), prefixOffense...), offenseID...)
	return j.store.Set(key, []byte{1})
}

// LoadAppliedOffenses returns every applied offense identifier.
func (j *Journal) LoadAppliedOffenses() ([]string, error) {
	var out []string
	err := j.store.IteratePrefix(prefixOffense, func(key, _ []byte) error {
		out = append(out, string(key[len(prefixOffense):]))
		return nil
	})
	return out, err
}

// SaveSecuritySnapshot appends a security report keyed by its slot.
func (j *Journal) SaveSecuritySnapshot(snap *security.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal security snapshot: %w", err)
	}
	key := make([]byte, len(prefixSnapshot)+8)
	copy(key, prefixSnapshot)
	binary.BigEndian.PutUint64(key[len(prefixSnapshot):], snap.Slot)
	return j.store.Set(key, data)
}

// LoadSecuritySnapshots returns persisted reports in slot order.
func (j *Journal) LoadSecuritySnapshots() ([]*security.Snapshot, error) {
	var out []*security.Snapshot
	err := j.store.IteratePrefix(prefixSnapshot, func(_, value []byte) error {
		var snap security.Snapshot
		if err := json.Unmarshal(value, &snap); err != nil {
			return fmt.Errorf("failed to unmarshal security snapshot: %w", err)
		}
		out = append(out, &snap)
		return nil
	})
	return out, err
}

// SaveCurrentSlot records the last completed slot.
func (j *Journal) SaveCurrentSlot(slot uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], slot)
	return j.store.Set(keyCurrentSlot, buf[:])
}

// LoadCurrentSlot returns the last completed slot, zero when the
// journal is fresh.
func (j *Journal) LoadCurrentSlot() (uint64, error) {
	data, err := j.store.Get(keyCurrentSlot)
	if errors.Is(err, ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt current-slot record of %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
