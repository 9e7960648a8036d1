// Package stock owns all inventory batch mutation: registration, the atomic
// multi-medicine deduction, and the expiry sweep. Every mutation ends with a
// fresh root anchored to the external ledger; a mutation whose anchor fails is
// rolled back, so stock state and the anchored root never drift apart.
package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jwalitptl/rxledger/internal/model"
	"github.com/jwalitptl/rxledger/internal/repository"
	"github.com/jwalitptl/rxledger/internal/service/merkle"
	"github.com/jwalitptl/rxledger/pkg/clock"
	apperrors "github.com/jwalitptl/rxledger/pkg/errors"
	"github.com/jwalitptl/rxledger/pkg/logger"
	"github.com/jwalitptl/rxledger/pkg/metrics"
	"github.com/jwalitptl/rxledger/pkg/validator"
)

type Service struct {
	batches repository.BatchRepository
	outbox  repository.OutboxRepository
	merkle  *merkle.Service
	clock   clock.Clock
	logger  *logger.Logger
	metrics *metrics.Metrics
	valid   validator.Validator

	// Serializes mutations so the root anchored after each one reflects
	// exactly that mutation. Single-process writer by design.
	mu sync.Mutex
}

func NewService(
	batches repository.BatchRepository,
	outbox repository.OutboxRepository,
	merkleSvc *merkle.Service,
	clk clock.Clock,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		batches: batches,
		outbox:  outbox,
		merkle:  merkleSvc,
		clock:   clk,
		logger:  log,
		metrics: m,
		valid:   validator.New(),
	}
}

// RegisterBatch validates and stores a new inventory batch, then anchors the
// root that includes it. If anchoring fails the batch row is removed again:
// stock that was never anchored was never part of the ledger.
func (s *Service) RegisterBatch(ctx context.Context, req *model.RegisterBatchRequest) (*model.InventoryBatch, error) {
	if err := s.valid.Validate(req); err != nil {
		return nil, err
	}
	if !req.PricePerUnit.IsPositive() {
		return nil, apperrors.NewValidation("price_per_unit", "must be positive")
	}
	now := s.clock.Now()
	if !req.ExpiryDate.After(now) {
		return nil, apperrors.NewValidation("expiry_date", "must be in the future")
	}
	if existing, err := s.batches.GetByBatchID(ctx, req.BatchID); err == nil && existing != nil {
		return nil, apperrors.NewValidation("batch_id", "already registered")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := &model.InventoryBatch{
		BatchID:           req.BatchID,
		MedicineID:        MedicineSlug(req.MedicineName),
		MedicineName:      req.MedicineName,
		SupplierID:        req.SupplierID,
		QuantityInitial:   req.Quantity,
		QuantityAvailable: req.Quantity,
		ExpiryDate:        req.ExpiryDate.UTC(),
		PricePerUnit:      req.PricePerUnit,
		Status:            model.BatchStatusActive,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to store batch: %w", err)
	}

	root, _, err := s.merkle.AnchorInventoryRoot(ctx)
	if err != nil {
		if delErr := s.batches.Delete(ctx, batch.BatchID); delErr != nil {
			s.logger.Critical(delErr, "failed to unwind unanchored batch registration",
				"batch_id", batch.BatchID)
			return nil, apperrors.NewRollbackFailure(batch.BatchID, delErr)
		}
		return nil, fmt.Errorf("batch registration not anchored: %w", err)
	}

	s.stageEvent(ctx, model.EventBatchRegistered, map[string]interface{}{
		"batch_id":    batch.BatchID,
		"medicine_id": batch.MedicineID,
		"quantity":    batch.QuantityInitial,
		"root":        root,
	})
	s.logger.Info("registered inventory batch",
		"batch_id", batch.BatchID,
		"medicine_id", batch.MedicineID,
		"quantity", batch.QuantityInitial)
	return batch, nil
}

// Deduct removes the requested quantities from stock atomically across all
// medicines and batches, consuming oldest expiry first, then anchors the
// post-deduction root. Either every line is fulfilled and the new root is
// anchored, or nothing changes.
func (s *Service) Deduct(ctx context.Context, items []model.DispenseItem) (*model.DeductionResult, error) {
	normalized, err := NormalizeItems(items)
	if err != nil {
		return nil, err
	}
	normalized = coalesceItems(normalized)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	// Check phase: every line must be fully coverable before anything is
	// touched. Partial fulfillment across medicines is never permitted.
	plans := make([][]*model.InventoryBatch, len(normalized))
	for i, item := range normalized {
		batches, err := s.batches.ListActiveByMedicine(ctx, item.MedicineID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to load stock for %s: %w", item.Name, err)
		}
		var available int64
		for _, b := range batches {
			available += b.QuantityAvailable
		}
		if available < item.Quantity {
			return nil, apperrors.NewInsufficientStock(item.Name, item.Quantity, available)
		}
		plans[i] = batches
	}

	// Execute phase: consume FIFO with a rollback journal.
	var (
		j          journal
		deductions []model.BatchDeduction
	)
	for i, item := range normalized {
		remaining := item.Quantity
		for _, batch := range plans[i] {
			if remaining == 0 {
				break
			}
			take := batch.QuantityAvailable
			if take > remaining {
				take = remaining
			}

			newQty := batch.QuantityAvailable - take
			newStatus := batch.Status
			if newQty == 0 {
				newStatus = model.BatchStatusDepleted
			}

			if err := s.batches.UpdateStock(ctx, batch.BatchID, newQty, newStatus); err != nil {
				return nil, s.abort(ctx, &j, fmt.Errorf("failed to deduct from batch %s: %w", batch.BatchID, err))
			}
			j.record(journalEntry{
				batchID:    batch.BatchID,
				prevQty:    batch.QuantityAvailable,
				prevStatus: batch.Status,
				taken:      take,
			})
			deductions = append(deductions, model.BatchDeduction{
				BatchID:      batch.BatchID,
				MedicineID:   item.MedicineID,
				MedicineName: item.Name,
				Taken:        take,
				Remaining:    newQty,
			})
			remaining -= take
		}
	}

	// The anchored root must reflect this deduction before success is
	// reported; a failed anchor is a failed deduction.
	root, _, err := s.merkle.AnchorInventoryRoot(ctx)
	if err != nil {
		return nil, s.abort(ctx, &j, err)
	}

	s.metrics.StockDeductions.Inc()
	s.stageEvent(ctx, model.EventStockDeducted, map[string]interface{}{
		"deductions": deductions,
		"root":       root,
	})
	return &model.DeductionResult{
		Deductions: deductions,
		NewRoot:    root,
	}, nil
}

// abort replays the journal and propagates the original failure. A rollback
// that itself fails escalates to RollbackFailureError and is logged at the
// highest severity, since state may now be inconsistent.
func (s *Service) abort(ctx context.Context, j *journal, cause error) error {
	if j.empty() {
		return cause
	}
	s.metrics.StockRollbacks.Inc()
	if rbErr := j.rollback(ctx, s.batches); rbErr != nil {
		s.metrics.RollbackFailures.Inc()
		s.logger.Critical(rbErr, "stock rollback failed, state may be inconsistent",
			"cause", cause.Error())
		return rbErr
	}
	s.logger.Warn("stock deduction rolled back", "cause", cause.Error())
	return cause
}

// SweepExpired flips ACTIVE batches past their expiry to EXPIRED and anchors
// the root without them, so expired stock leaves the verifiable inventory
// exactly as if consumed. Returns how many batches were flipped.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	expired, err := s.batches.ListExpiredActive(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired batches: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	var j journal
	for _, batch := range expired {
		if err := s.batches.UpdateStock(ctx, batch.BatchID, batch.QuantityAvailable, model.BatchStatusExpired); err != nil {
			return 0, s.abort(ctx, &j, fmt.Errorf("failed to expire batch %s: %w", batch.BatchID, err))
		}
		j.record(journalEntry{
			batchID:    batch.BatchID,
			prevQty:    batch.QuantityAvailable,
			prevStatus: batch.Status,
		})
	}

	root, _, err := s.merkle.AnchorInventoryRoot(ctx)
	if err != nil {
		return 0, s.abort(ctx, &j, err)
	}

	s.metrics.ExpiredBatches.Add(float64(len(expired)))
	for _, batch := range expired {
		s.stageEvent(ctx, model.EventBatchExpired, map[string]interface{}{
			"batch_id":    batch.BatchID,
			"medicine_id": batch.MedicineID,
			"root":        root,
		})
	}
	s.logger.Info("expiry sweep complete", "expired", len(expired), "root", root)
	return len(expired), nil
}

// AvailableQuantity sums unexpired ACTIVE stock for one medicine name.
func (s *Service) AvailableQuantity(ctx context.Context, medicineName string) (int64, error) {
	batches, err := s.batches.ListActiveByMedicine(ctx, MedicineSlug(medicineName), s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to load stock: %w", err)
	}
	var total int64
	for _, b := range batches {
		total += b.QuantityAvailable
	}
	return total, nil
}

// stageEvent writes an outbox row; outbox failures are logged, not fatal, as
// publication is downstream of the committed mutation.
func (s *Service) stageEvent(ctx context.Context, eventType string, payload map[string]interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error(err, "failed to encode outbox payload", "event_type", eventType)
		return
	}
	if err := s.outbox.Create(ctx, &model.OutboxEvent{
		EventType: eventType,
		Payload:   body,
	}); err != nil {
		s.logger.Error(err, "failed to stage outbox event", "event_type", eventType)
	}
}
