package config

import (
	"fmt"
	"time"
)

// RecipientPolicy controls where penalized stake goes.
type RecipientPolicy string

const (
	// RecipientBurn destroys penalized stake.
	RecipientBurn RecipientPolicy = "burn"
	// RecipientTreasury credits penalized stake to the treasury address.
	RecipientTreasury RecipientPolicy = "treasury"
)

type Config struct {
	// Node configuration
	NodeID   string `json:"node_id"`
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`

	// Consensus configuration
	Consensus ConsensusConfig `json:"consensus"`

	// Staking configuration
	Staking StakingConfig `json:"staking"`

	// Slashing configuration
	Slashing SlashingConfig `json:"slashing"`

	// Security metrics configuration
	Security SecurityConfig `json:"security"`
}

type ConsensusConfig struct {
	SlotTime      time.Duration `json:"slot_time"`
	SlotsPerEpoch uint64        `json:"slots_per_epoch"`
	CommitteeSize int           `json:"committee_size"`
	MaxValidators int           `json:"max_validators"`
}

type StakingConfig struct {
	MinValidatorStake int64 `json:"min_validator_stake"`
}

// SlashingConfig carries the economic calibration of the penalty engine.
// Every value here is configuration, not protocol law; the defaults in
// Default() are starting points for test networks.
type SlashingConfig struct {
	// BaseSlashFractionBps is the base penalty in basis points of the
	// offender's stake (100 = 1%).
	BaseSlashFractionBps int64 `json:"base_slash_fraction_bps"`

	// Per-offense severity multipliers applied on top of the base fraction.
	EquivocationMultiplier         float64 `json:"equivocation_multiplier"`
	DowntimeMultiplier             float64 `json:"downtime_multiplier"`
	InvalidBlockProposalMultiplier float64 `json:"invalid_block_proposal_multiplier"`
	ProtocolMisbehaviorMultiplier  float64 `json:"protocol_misbehavior_multiplier"`

	// RepeatOffenseStep increases the penalty per prior offense;
	// RepeatOffenseCap bounds the total escalation factor.
	RepeatOffenseStep float64 `json:"repeat_offense_step"`
	RepeatOffenseCap  float64 `json:"repeat_offense_cap"`

	// BanThreshold is the cumulative slash count beyond which a validator
	// is permanently banned instead of jailed.
	BanThreshold int `json:"ban_threshold"`

	// JailDurationSlots is how long a jailed validator stays out of the
	// active set before it becomes eligible again.
	JailDurationSlots uint64 `json:"jail_duration_slots"`

	// MissedSlotThreshold is the consecutive-miss count at which the
	// downtime monitor synthesizes Downtime evidence.
	MissedSlotThreshold int `json:"missed_slot_threshold"`

	// EvidenceWindowSlots is how far in the past an offense slot may lie
	// before evidence is rejected as stale.
	EvidenceWindowSlots uint64 `json:"evidence_window_slots"`

	// Recipient controls where penalized stake goes. TreasuryAddress is
	// required when the policy is "treasury".
	Recipient       RecipientPolicy `json:"recipient"`
	TreasuryAddress string          `json:"treasury_address"`
}

type SecurityConfig struct {
	// SafetyFraction is the share of total active stake an attacker must
	// control; the Nakamoto coefficient counts validators against it.
	SafetyFraction float64 `json:"safety_fraction"`
}

// Default returns a configuration suitable for local and test networks.
func Default() *Config {
	return &Config{
		NodeID:   "poas-node",
		DataDir:  "./data",
		LogLevel: "info",
		Consensus: ConsensusConfig{
			SlotTime:      3 * time.Second,
			SlotsPerEpoch: 32,
			CommitteeSize: 4,
			MaxValidators: 100,
		},
		Staking: StakingConfig{
			MinValidatorStake: 1000,
		},
		Slashing: SlashingConfig{
			BaseSlashFractionBps:           100, // 1%
			EquivocationMultiplier:         5.0,
			DowntimeMultiplier:             0.5,
			InvalidBlockProposalMultiplier: 1.0,
			ProtocolMisbehaviorMultiplier:  2.0,
			RepeatOffenseStep:              0.5,
			RepeatOffenseCap:               3.0,
			BanThreshold:                   3,
			JailDurationSlots:              64,
			MissedSlotThreshold:            10,
			EvidenceWindowSlots:            128,
			Recipient:                      RecipientBurn,
		},
		Security: SecurityConfig{
			SafetyFraction: 1.0 / 3.0,
		},
	}
}

// Validate checks internal consistency of the configuration.
func (c *Config) Validate() error {
	if c.Staking.MinValidatorStake <= 0 {
		return fmt.Errorf("min validator stake must be positive, got %d", c.Staking.MinValidatorStake)
	}
	if c.Slashing.BaseSlashFractionBps < 0 || c.Slashing.BaseSlashFractionBps > 10000 {
		return fmt.Errorf("base slash fraction %d outside [0, 10000] bps", c.Slashing.BaseSlashFractionBps)
	}
	if c.Slashing.RepeatOffenseCap < 1.0 {
		return fmt.Errorf("repeat offense cap %.2f must be at least 1.0", c.Slashing.RepeatOffenseCap)
	}
	if c.Slashing.BanThreshold < 1 {
		return fmt.Errorf("ban threshold must be at least 1, got %d", c.Slashing.BanThreshold)
	}
	if c.Slashing.MissedSlotThreshold < 1 {
		return fmt.Errorf("missed slot threshold must be at least 1, got %d", c.Slashing.MissedSlotThreshold)
	}
	if c.Slashing.Recipient == RecipientTreasury && c.Slashing.TreasuryAddress == "" {
		return fmt.Errorf("treasury recipient policy requires a treasury address")
	}
	if c.Security.SafetyFraction <= 0 || c.Security.SafetyFraction >= 1 {
		return fmt.Errorf("safety fraction %.4f outside (0, 1)", c.Security.SafetyFraction)
	}
	if c.Consensus.CommitteeSize < 1 {
		return fmt.Errorf("committee size must be at least 1, got %d", c.Consensus.CommitteeSize)
	}
	return nil
}

// SeverityMultiplier returns the configured multiplier for an offense
// name as produced by the slashing package. Unknown names map to 1.0.
func (sc *SlashingConfig) SeverityMultiplier(offense string) float64 {
	switch offense {
	case "equivocation":
		return sc.EquivocationMultiplier
	case "downtime":
		return sc.DowntimeMultiplier
	case "invalid_block_proposal":
		return sc.InvalidBlockProposalMultiplier
	case "protocol_misbehavior":
		return sc.ProtocolMisbehaviorMultiplier
	default:
		return 1.0
	}
}
