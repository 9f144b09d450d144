// consensus/poas/errors.go

// Error taxonomy for the consensus core
// Features:
// - Validation errors: the single operation is rejected, state unchanged
// - State errors: recoverable, the operation is rejected
// - Consensus errors: fatal for the slot, surfaced to the orchestrator

package poas

import (
	"errors"

	"github.com/poas-labs/go-poas/consensus/registry"
	"github.com/poas-labs/go-poas/consensus/selection"
	"github.com/poas-labs/go-poas/consensus/slashing"
)

// IsValidationError reports whether err is a per-operation input
// rejection: insufficient or duplicate registration, an out-of-range
// metric, or duplicate/unverified/stale evidence. Always recoverable
// locally; the registry is unchanged.
func IsValidationError(err error) bool {
	return errors.Is(err, registry.ErrInsufficientStake) ||
		errors.Is(err, registry.ErrAlreadyRegistered) ||
		errors.Is(err, registry.ErrInvalidMetric) ||
		errors.Is(err, slashing.ErrDuplicateEvidence) ||
		errors.Is(err, slashing.ErrUnverifiedEvidence) ||
		errors.Is(err, slashing.ErrStaleEvidence)
}

// IsStateError reports whether err is a recoverable state conflict:
// an unknown validator or a stake adjustment that would underflow.
func IsStateError(err error) bool {
	return errors.Is(err, registry.ErrUnknownValidator) ||
		errors.Is(err, registry.ErrStakeUnderflow)
}

// IsConsensusError reports whether err is fatal to block production
// for the slot. The orchestration layer halts or falls back per its
// own policy; the engine never silently skips a slot.
func IsConsensusError(err error) bool {
	return errors.Is(err, selection.ErrNoEligibleValidators) ||
		errors.Is(err, selection.ErrInsufficientEligibleValidators)
}
