// Package reconciler repairs divergence between the external ledger's event
// history and the local store. It is a self-healing background concern: it
// inserts records the ledger knows about and the store does not, fixes desynced
// sync flags, and never overwrites business fields a direct write already
// populated.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/rxledger/internal/chain"
	"github.com/jwalitptl/rxledger/internal/model"
	"github.com/jwalitptl/rxledger/internal/repository"
	"github.com/jwalitptl/rxledger/internal/service/prescription"
	"github.com/jwalitptl/rxledger/pkg/clock"
	"github.com/jwalitptl/rxledger/pkg/logger"
	"github.com/jwalitptl/rxledger/pkg/metrics"
)

type Service struct {
	prescriptions repository.PrescriptionRepository
	checkpoints   repository.CheckpointRepository
	outbox        repository.OutboxRepository
	statuses      *prescription.Service
	oracle        chain.Oracle
	clock         clock.Clock
	logger        *logger.Logger
	metrics       *metrics.Metrics
}

func NewService(
	prescriptions repository.PrescriptionRepository,
	checkpoints repository.CheckpointRepository,
	outbox repository.OutboxRepository,
	statuses *prescription.Service,
	oracle chain.Oracle,
	clk clock.Clock,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		prescriptions: prescriptions,
		checkpoints:   checkpoints,
		outbox:        outbox,
		statuses:      statuses,
		oracle:        oracle,
		clock:         clk,
		logger:        log,
		metrics:       m,
	}
}

// Result classifies what one reconciled event did to the store.
type Result int

const (
	ResultSkipped Result = iota
	ResultInserted
	ResultUpdated
)

// ReconcileSinglePrescription brings one prescription in line with the
// ledger. An existing record only has its sync metadata touched (already
// synced means no-op); a missing record is fetched from the ledger and
// inserted if-absent, tagged as machine-recovered so it is surfaced for
// manual review rather than trusted as complete data.
func (s *Service) ReconcileSinglePrescription(ctx context.Context, id, actor string, blockNumber int64, txHash string) (Result, error) {
	existing, err := s.prescriptions.GetByBlockchainID(ctx, id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return ResultSkipped, fmt.Errorf("failed to look up %s: %w", id, err)
	}

	if existing != nil {
		if existing.BlockchainSynced {
			return ResultSkipped, nil
		}
		changed, err := s.prescriptions.MarkSynced(ctx, id, txHash, blockNumber)
		if err != nil {
			return ResultSkipped, fmt.Errorf("failed to mark %s synced: %w", id, err)
		}
		if changed {
			return ResultUpdated, nil
		}
		return ResultSkipped, nil
	}

	state, err := s.oracle.GetPrescriptionState(ctx, id)
	if err != nil {
		return ResultSkipped, fmt.Errorf("failed to fetch ledger state for %s: %w", id, err)
	}
	if !state.Exists {
		return ResultSkipped, nil
	}

	issuer := state.IssuerRef
	if issuer == "" {
		issuer = actor
	}
	if issuer == "" {
		issuer = model.RecoveredIssuerRef
	}

	recovered := &model.Prescription{
		BlockchainID:     id,
		PatientRef:       model.RecoveredPatientRef,
		IssuerRef:        issuer,
		Status:           state.Status,
		UsageCount:       state.UsageCount,
		MaxUsage:         state.MaxUsage,
		ExpiryDate:       time.Unix(state.ExpiryUnix, 0).UTC(),
		BlockchainSynced: true,
		TxHash:           txHash,
		BlockNumber:      blockNumber,
		Recovered:        true,
	}
	inserted, err := s.prescriptions.CreateIfAbsent(ctx, recovered)
	if err != nil {
		return ResultSkipped, fmt.Errorf("failed to insert recovered record %s: %w", id, err)
	}
	if !inserted {
		// Lost the race to a direct write; that writer's data wins.
		return ResultSkipped, nil
	}

	s.stageRecoveredEvent(ctx, id, blockNumber, txHash)
	return ResultInserted, nil
}

// ReconcileFromEvents replays ledger status events in [fromBlock, toBlock]
// against the local store. Per-event failures are tallied, not fatal. The
// checkpoint advances only after the whole range is processed, so a crash
// mid-range replays events instead of skipping them.
func (s *Service) ReconcileFromEvents(ctx context.Context, fromBlock, toBlock int64) (*model.ReconciliationSummary, error) {
	started := time.Now()
	summary := &model.ReconciliationSummary{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		StartedAt: started,
	}

	events, err := s.oracle.QueryStatusEvents(ctx, fromBlock, toBlock)
	if err != nil {
		s.metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to query ledger events: %w", err)
	}

	for _, ev := range events {
		result, err := s.ReconcileSinglePrescription(ctx, ev.PrescriptionID, ev.ActorAddress, ev.BlockNumber, ev.TxHash)
		if err != nil {
			summary.Errored++
			s.metrics.ReconcileEvents.WithLabelValues("errored").Inc()
			s.logger.Error(err, "failed to reconcile event",
				"prescription_id", ev.PrescriptionID,
				"block", ev.BlockNumber)
			continue
		}

		// Confirmed dispense events drive the usage side effects; this is the
		// only place usage counts increment, so client retries cannot double
		// count.
		if ev.EventType == chain.EventTypeDispensed {
			s.applyDispenseConfirmation(ctx, ev)
		}

		switch result {
		case ResultInserted:
			summary.Inserted++
			s.metrics.ReconcileEvents.WithLabelValues("inserted").Inc()
		case ResultUpdated:
			summary.Updated++
			s.metrics.ReconcileEvents.WithLabelValues("updated").Inc()
		default:
			summary.Skipped++
			s.metrics.ReconcileEvents.WithLabelValues("skipped").Inc()
		}
	}

	if err := s.checkpoints.Set(ctx, toBlock); err != nil {
		s.metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to advance checkpoint to %d: %w", toBlock, err)
	}

	summary.Duration = time.Since(started).String()
	s.metrics.ReconcileRuns.WithLabelValues("success").Inc()
	s.metrics.ReconcileLatency.Observe(time.Since(started).Seconds())
	s.logger.Info("reconciliation pass complete",
		"from_block", fromBlock,
		"to_block", toBlock,
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"errored", summary.Errored)
	return summary, nil
}

// applyDispenseConfirmation moves a pending dispense to its confirmed state
// and increments usage. The transition goes through the same guarded state
// machine as synchronous callers; a block here just means the record already
// reflects the event.
func (s *Service) applyDispenseConfirmation(ctx context.Context, ev chain.StatusEvent) {
	// The ledger's event time is the dispense time; the local clock is only
	// a fallback for events that do not carry one.
	dispensedAt := ev.Timestamp
	if dispensedAt.IsZero() {
		dispensedAt = s.clock.Now()
	}
	effects := model.TransitionEffects{
		IncrementUsage: true,
		DispensedAt:    &dispensedAt,
		TxHash:         &ev.TxHash,
		BlockNumber:    &ev.BlockNumber,
		MarkSynced:     true,
	}

	target := model.PrescriptionStatusDispensed
	if ev.NewStatus == model.PrescriptionStatusUsed {
		target = model.PrescriptionStatusUsed
	}

	result, err := s.statuses.TransitionStatus(ctx, ev.PrescriptionID, target, effects)
	if err != nil {
		s.logger.Error(err, "failed to apply dispense confirmation",
			"prescription_id", ev.PrescriptionID)
		return
	}
	if !result.Applied {
		s.logger.Debug("dispense confirmation already applied",
			"prescription_id", ev.PrescriptionID)
	}
}

// RunFromCheckpoint reconciles from the stored checkpoint up to the ledger's
// latest block and is what the background poller calls.
func (s *Service) RunFromCheckpoint(ctx context.Context) (*model.ReconciliationSummary, error) {
	last, err := s.checkpoints.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	latest, err := s.oracle.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest block: %w", err)
	}
	if latest <= last {
		return &model.ReconciliationSummary{FromBlock: last, ToBlock: last, StartedAt: time.Now()}, nil
	}
	return s.ReconcileFromEvents(ctx, last+1, latest)
}

// StartupRecovery replays the last lookback blocks of ledger history once at
// boot. It is bounded and non-fatal: a failure logs a warning and the process
// keeps serving, since reconciliation is self-healing background work, not a
// startup gate.
func (s *Service) StartupRecovery(ctx context.Context, lookback int64) {
	latest, err := s.oracle.LatestBlock(ctx)
	if err != nil {
		s.logger.Warn("startup recovery skipped, ledger unreachable", "error", err.Error())
		return
	}

	from := latest - lookback
	if from < 1 {
		from = 1
	}
	if checkpoint, err := s.checkpoints.Get(ctx); err == nil && checkpoint+1 > from {
		from = checkpoint + 1
	}
	if from > latest {
		return
	}

	summary, err := s.ReconcileFromEvents(ctx, from, latest)
	if err != nil {
		s.logger.Warn("startup recovery failed, continuing",
			"from_block", from,
			"to_block", latest,
			"error", err.Error())
		return
	}
	s.logger.Info("startup recovery complete",
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"errored", summary.Errored)
}

func (s *Service) stageRecoveredEvent(ctx context.Context, id string, blockNumber int64, txHash string) {
	payload, err := json.Marshal(map[string]interface{}{
		"prescription_id": id,
		"block":           blockNumber,
		"tx_hash":         txHash,
	})
	if err != nil {
		return
	}
	if err := s.outbox.Create(ctx, &model.OutboxEvent{
		EventType: model.EventRecordRecovered,
		Payload:   payload,
	}); err != nil {
		s.logger.Error(err, "failed to stage recovery event", "prescription_id", id)
	}
}
