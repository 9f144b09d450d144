// consensus/slashing/evidence.go

// Misbehavior evidence for Proof of Active Stake consensus
// Features:
// - Closed offense enumeration with configurable severity
// - Deterministic offense identifiers for gossip de-duplication
// - Structural validation per offense type
// - CBOR encoding for evidence relay

package slashing

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/poas-labs/go-poas/crypto/address"
	"github.com/poas-labs/go-poas/crypto/hash"
)

// Offense is the closed set of punishable misbehavior types.
type Offense uint8

const (
	// OffenseEquivocation is signing two conflicting records for the
	// same slot.
	OffenseEquivocation Offense = iota
	// OffenseDowntime is missing a configured number of consecutive
	// assigned slots. The only offense synthesized internally.
	OffenseDowntime
	// OffenseInvalidBlockProposal is proposing a block that fails
	// validation.
	OffenseInvalidBlockProposal
	// OffenseProtocolMisbehavior covers other proven protocol
	// violations relayed by the network layer.
	OffenseProtocolMisbehavior
)

// String returns the offense name used as the severity-multiplier key
// in configuration.
func (o Offense) String() string {
	switch o {
	case OffenseEquivocation:
		return "equivocation"
	case OffenseDowntime:
		return "downtime"
	case OffenseInvalidBlockProposal:
		return "invalid_block_proposal"
	case OffenseProtocolMisbehavior:
		return "protocol_misbehavior"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

// SignedRecord is one signed statement referenced by evidence. For
// equivocation, two records with the same slot and different hashes
// prove the offense. Signatures were verified by the cryptography
// layer before admission.
type SignedRecord struct {
	Slot      uint64 `cbor:"1,keyasint" json:"slot"`
	Hash      []byte `cbor:"2,keyasint" json:"hash"`
	Signature []byte `cbor:"3,keyasint" json:"signature"`
}

// Evidence is one misbehavior report. The proof payload is opaque to
// this engine; only offense-type-specific structural constraints are
// re-checked here.
type Evidence struct {
	Offense   Offense         `cbor:"1,keyasint" json:"offense"`
	Offender  address.Address `cbor:"2,keyasint" json:"offender"`
	OffenseID string          `cbor:"3,keyasint" json:"offense_id"`
	Slot      uint64          `cbor:"4,keyasint" json:"slot"`
	Proof     []byte          `cbor:"5,keyasint" json:"proof,omitempty"`
	Records   []SignedRecord  `cbor:"6,keyasint" json:"records,omitempty"`
}

// NewOffenseID derives the canonical identifier for an offense so that
// the same misbehavior reported via different gossip paths
// de-duplicates to one penalty.
func NewOffenseID(offense Offense, offender address.Address, slot uint64) string {
	var slotBytes [8]byte
	binary.BigEndian.PutUint64(slotBytes[:], slot)
	digest := hash.Concat([]byte{byte(offense)}, offender.Bytes(), slotBytes[:])
	return hex.EncodeToString(digest[:])
}

// Marshal encodes the evidence using CBOR.
func (e *Evidence) Marshal() ([]byte, error) {
	return cbor.Marshal(e)
}

// Unmarshal decodes CBOR data into the evidence.
func (e *Evidence) Unmarshal(data []byte) error {
	if err := cbor.Unmarshal(data, e); err != nil {
		return fmt.Errorf("failed to unmarshal evidence: %w", err)
	}
	return nil
}

// validateStructure re-checks the offense-type-specific constraints
// the engine insists on even though proofs arrive pre-verified.
func (e *Evidence) validateStructure() error {
	if e.OffenseID == "" {
		return fmt.Errorf("missing offense identifier")
	}
	if e.Offender.IsZero() {
		return fmt.Errorf("missing offender address")
	}

	switch e.Offense {
	case OffenseEquivocation:
		// Two conflicting signed records for the same slot.
		if len(e.Records) < 2 {
			return fmt.Errorf("equivocation requires two signed records, got %d", len(e.Records))
		}
		a, b := e.Records[0], e.Records[1]
		if a.Slot != b.Slot {
			return fmt.Errorf("equivocation records cover different slots %d and %d", a.Slot, b.Slot)
		}
		if bytes.Equal(a.Hash, b.Hash) {
			return fmt.Errorf("equivocation records are not conflicting")
		}
	case OffenseDowntime:
		// Synthesized internally from participation records; nothing
		// further to check.
	case OffenseInvalidBlockProposal, OffenseProtocolMisbehavior:
		if len(e.Proof) == 0 {
			return fmt.Errorf("%s requires a proof payload", e.Offense)
		}
	default:
		return fmt.Errorf("unknown offense type %d", uint8(e.Offense))
	}
	return nil
}
