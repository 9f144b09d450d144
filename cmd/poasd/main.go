// cmd/poasd/main.go - Proof of Active Stake consensus daemon
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cosmossdk.io/math"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/poas-labs/go-poas/config"
	"github.com/poas-labs/go-poas/consensus/poas"
	"github.com/poas-labs/go-poas/crypto/address"
	"github.com/poas-labs/go-poas/crypto/hash"
	"github.com/poas-labs/go-poas/storage"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to JSON config file")
		dataDir    = flag.String("data-dir", "", "override data directory")
		genesis    = flag.Int("genesis-validators", 4, "dev validators to seed into an empty journal")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger, *genesis); err != nil {
		logger.Fatal("daemon exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger, genesisValidators int) error {
	store, err := storage.NewBadgerStorage(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()
	journal := storage.NewJournal(store)

	engine := poas.NewEngine(cfg, logger)
	slot, err := restore(engine, journal)
	if err != nil {
		return err
	}

	if engine.Registry().Count() == 0 {
		if err := seedGenesis(engine, cfg, genesisValidators); err != nil {
			return err
		}
		logger.Info("seeded genesis validators", zap.Int("count", genesisValidators))
	}

	logger.Info("consensus daemon started",
		zap.String("node_id", cfg.NodeID),
		zap.Uint64("slot", slot),
		zap.Int("validators", engine.Registry().Count()),
		zap.Duration("slot_time", cfg.Consensus.SlotTime),
	)

	go drainStatusChanges(engine, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Consensus.SlotTime)
	defer ticker.Stop()

	// The seed chain stands in for prior-block randomness until the
	// block pipeline is wired up.
	seed := hash.Sum([]byte(cfg.NodeID))

	for {
		select {
		case sig := <-sigCh:
			logger.Info("shutting down", zap.String("signal", sig.String()))
			return persist(engine, journal)

		case <-ticker.C:
			slot++
			seed = hash.Concat(seed[:], []byte(fmt.Sprintf("%d", slot)))

			result, err := engine.AdvanceSlot(slot, seed[:])
			if err != nil {
				// Fatal for this slot; surface and let the operator's
				// policy decide. The daemon keeps ticking.
				logger.Error("slot failed", zap.Uint64("slot", slot), zap.Error(err))
				continue
			}

			logger.Info("slot complete",
				zap.Uint64("slot", slot),
				zap.String("leader", result.Leader.String()),
				zap.Int("committee", len(result.Committee)),
			)

			// Standalone mode: the selected leader is assumed to have
			// produced its block.
			engine.SubmitParticipation(poas.ParticipationRecord{
				Slot:      slot,
				Validator: result.Leader,
				Produced:  true,
			})

			if slot%cfg.Consensus.SlotsPerEpoch == 0 {
				report := engine.SecuritySnapshot()
				logger.Info("security snapshot",
					zap.Uint64("slot", slot),
					zap.Int("nakamoto", report.NakamotoCoefficient),
					zap.Float64("gini", report.GiniCoefficient),
					zap.String("total_stake", report.TotalActiveStake.String()),
				)
				if err := journal.SaveSecuritySnapshot(report); err != nil {
					logger.Warn("failed to persist security snapshot", zap.Error(err))
				}
				if err := persist(engine, journal); err != nil {
					logger.Warn("failed to persist state", zap.Error(err))
				}
			}
		}
	}
}

// restore replays the journal into a fresh engine.
func restore(engine *poas.Engine, journal *storage.Journal) (uint64, error) {
	validators, err := journal.LoadValidators()
	if err != nil {
		return 0, fmt.Errorf("failed to load validators: %w", err)
	}
	for _, v := range validators {
		engine.Registry().Restore(v)
	}

	offenses, err := journal.LoadAppliedOffenses()
	if err != nil {
		return 0, fmt.Errorf("failed to load applied offenses: %w", err)
	}
	for _, id := range offenses {
		engine.Slasher().MarkApplied(id)
	}

	return journal.LoadCurrentSlot()
}

// persist writes engine state back to the journal.
func persist(engine *poas.Engine, journal *storage.Journal) error {
	if err := journal.SaveValidators(engine.Registry().All()); err != nil {
		return err
	}
	for _, id := range engine.Slasher().AppliedIDs() {
		if err := journal.MarkOffenseApplied(id); err != nil {
			return err
		}
	}
	return journal.SaveCurrentSlot(engine.CurrentSlot())
}

// seedGenesis registers deterministic development validators so a
// fresh node can produce slots immediately.
func seedGenesis(engine *poas.Engine, cfg *config.Config, count int) error {
	for i := 1; i <= count; i++ {
		keySeed := hash.Sum([]byte(fmt.Sprintf("poas-dev-validator-%d", i)))
		pub, _, err := mldsa44.GenerateKey(bytes.NewReader(bytes.Repeat(keySeed[:], 200)))
		if err != nil {
			return fmt.Errorf("failed to generate validator key %d: %w", i, err)
		}

		addr, err := address.FromPubKey(pub)
		if err != nil {
			return err
		}

		stake := math.NewInt(cfg.Staking.MinValidatorStake).MulRaw(int64(i + 1))
		if err := engine.RegisterValidator(addr, stake, pub.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func drainStatusChanges(engine *poas.Engine, logger *zap.Logger) {
	for change := range engine.StatusChanges() {
		logger.Warn("validator status changed",
			zap.String("address", change.Address.String()),
			zap.Stringer("status", change.Status),
		)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
