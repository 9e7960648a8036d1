// Package dispense orchestrates the end-to-end dispense flow: risk scoring,
// the guarded status claim, the integrity gate, stock deduction with
// anchoring, and finalization. Each stage either completes or unwinds the
// stages before it, so a failed dispense leaves status and stock unchanged.
package dispense

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jwalitptl/rxledger/internal/model"
	"github.com/jwalitptl/rxledger/internal/repository"
	"github.com/jwalitptl/rxledger/internal/service/risk"
	"github.com/jwalitptl/rxledger/pkg/clock"
	apperrors "github.com/jwalitptl/rxledger/pkg/errors"
	"github.com/jwalitptl/rxledger/pkg/logger"
	"github.com/jwalitptl/rxledger/pkg/metrics"
	"github.com/jwalitptl/rxledger/pkg/validator"
)

// StatusMachine claims and releases prescription statuses through guarded
// transitions.
type StatusMachine interface {
	TransitionStatus(ctx context.Context, blockchainID string, target model.PrescriptionStatus, effects model.TransitionEffects) (*model.TransitionResult, error)
}

// StockLedger deducts inventory and anchors the resulting root.
type StockLedger interface {
	Deduct(ctx context.Context, items []model.DispenseItem) (*model.DeductionResult, error)
}

// IntegrityGate verifies local inventory state against the anchored root.
type IntegrityGate interface {
	VerifyRootOrAbort(ctx context.Context) error
	VerifyInventoryRoot(ctx context.Context) (*model.IntegrityReport, error)
}

// RiskScorer records a dispense against the patient's history and scores it.
type RiskScorer interface {
	RecordAndScore(ctx context.Context, kind, ref string) risk.Assessment
}

type Service struct {
	statuses  StatusMachine
	stock     StockLedger
	integrity IntegrityGate
	risks     RiskScorer
	outbox    repository.OutboxRepository
	clock     clock.Clock
	logger    *logger.Logger
	metrics   *metrics.Metrics
	valid     validator.Validator
}

func NewService(
	statuses StatusMachine,
	stock StockLedger,
	integrity IntegrityGate,
	risks RiskScorer,
	outbox repository.OutboxRepository,
	clk clock.Clock,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		statuses:  statuses,
		stock:     stock,
		integrity: integrity,
		risks:     risks,
		outbox:    outbox,
		clock:     clk,
		logger:    log,
		metrics:   m,
		valid:     validator.New(),
	}
}

// Dispense runs the full flow for one prescription. Order matters:
//
//  1. claim ACTIVE -> PENDING_DISPENSE, so concurrent requests for the same
//     prescription collapse to one winner before any stock is touched;
//  2. verify the local inventory root against the anchored one, failing
//     closed on mismatch or unreachable chain;
//  3. deduct stock atomically and anchor the new root;
//  4. finalize PENDING_DISPENSE -> DISPENSED.
//
// Any failure after the claim releases it back to ACTIVE. The usage count is
// not incremented here; the reconciler does that when the chain confirms the
// dispense event.
func (s *Service) Dispense(ctx context.Context, req *model.DispenseRequest) (*model.DispenseResult, error) {
	start := s.clock.Now()
	defer func() {
		s.metrics.DispenseLatency.Observe(time.Since(start).Seconds())
	}()

	if err := s.valid.Validate(req); err != nil {
		s.metrics.DispenseRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	assessment := s.risks.RecordAndScore(ctx, "patient", req.PatientRef)
	if assessment.Score > 0 {
		s.logger.Warn("elevated dispense risk",
			"prescription_id", req.PrescriptionID,
			"patient_ref", req.PatientRef,
			"score", assessment.Score,
			"reason", assessment.Reason)
	}

	claim, err := s.statuses.TransitionStatus(ctx, req.PrescriptionID, model.PrescriptionStatusPendingDispense, model.TransitionEffects{})
	if err != nil {
		s.metrics.DispenseRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	if !claim.Applied {
		s.metrics.DispenseRequests.WithLabelValues("blocked").Inc()
		return nil, apperrors.NewBadRequest("prescription is not dispensable: "+claim.Reason, nil)
	}

	deduction, err := s.deductWithGate(ctx, req)
	if err != nil {
		s.release(ctx, req.PrescriptionID)
		s.metrics.DispenseRequests.WithLabelValues(outcomeFor(err)).Inc()
		return nil, err
	}

	now := s.clock.Now()
	final, err := s.statuses.TransitionStatus(ctx, req.PrescriptionID, model.PrescriptionStatusDispensed, model.TransitionEffects{
		DispensedAt: &now,
	})
	if err != nil || !final.Applied {
		// Stock is already deducted and the new root anchored; the record is
		// the only piece out of step. Leave it for the reconciler and report
		// loudly rather than re-adding stock the patient walked away with.
		s.logger.Critical(err, "dispense finalization failed after stock commit",
			"prescription_id", req.PrescriptionID)
		s.metrics.DispenseRequests.WithLabelValues("error").Inc()
		if err == nil {
			err = apperrors.NewInternal(errors.New("finalization transition was blocked: " + final.Reason))
		}
		return nil, err
	}

	s.stageCompletedEvent(ctx, req, deduction, assessment)
	s.metrics.DispenseRequests.WithLabelValues("dispensed").Inc()

	s.logger.Info("dispense completed",
		"prescription_id", req.PrescriptionID,
		"items", len(req.Items),
		"new_root", deduction.NewRoot)

	return &model.DispenseResult{
		PrescriptionID: req.PrescriptionID,
		Status:         model.PrescriptionStatusDispensed,
		Deductions:     deduction.Deductions,
		NewRoot:        deduction.NewRoot,
		RiskScore:      assessment.Score,
		RiskReason:     assessment.Reason,
	}, nil
}

// VerifyIntegrity recomputes the local root and compares it to the anchored
// one without gating anything.
func (s *Service) VerifyIntegrity(ctx context.Context) (*model.IntegrityReport, error) {
	return s.integrity.VerifyInventoryRoot(ctx)
}

func (s *Service) deductWithGate(ctx context.Context, req *model.DispenseRequest) (*model.DeductionResult, error) {
	if err := s.integrity.VerifyRootOrAbort(ctx); err != nil {
		return nil, err
	}
	return s.stock.Deduct(ctx, req.Items)
}

// release returns a claimed prescription to ACTIVE after a failed dispense.
func (s *Service) release(ctx context.Context, id string) {
	res, err := s.statuses.TransitionStatus(ctx, id, model.PrescriptionStatusActive, model.TransitionEffects{})
	if err != nil {
		s.logger.Critical(err, "failed to release claimed prescription", "prescription_id", id)
		return
	}
	if !res.Applied {
		s.logger.Critical(nil, "claimed prescription no longer in PENDING_DISPENSE during release",
			"prescription_id", id, "reason", res.Reason)
	}
}

func outcomeFor(err error) string {
	var insufficient *apperrors.InsufficientStockError
	var tampered *apperrors.InventoryTamperedError
	var unreachable *apperrors.ChainUnreachableError
	switch {
	case errors.As(err, &insufficient):
		return "insufficient_stock"
	case errors.As(err, &tampered):
		return "tampered"
	case errors.As(err, &unreachable):
		return "chain_unreachable"
	default:
		return "error"
	}
}

func (s *Service) stageCompletedEvent(ctx context.Context, req *model.DispenseRequest, deduction *model.DeductionResult, assessment risk.Assessment) {
	body, err := json.Marshal(map[string]interface{}{
		"prescription_id": req.PrescriptionID,
		"patient_ref":     req.PatientRef,
		"actor_ref":       req.ActorRef,
		"deductions":      deduction.Deductions,
		"new_root":        deduction.NewRoot,
		"risk_score":      assessment.Score,
	})
	if err != nil {
		s.logger.Error(err, "failed to encode dispense event", "prescription_id", req.PrescriptionID)
		return
	}
	if err := s.outbox.Create(ctx, &model.OutboxEvent{
		EventType: model.EventDispenseCompleted,
		Payload:   body,
	}); err != nil {
		s.logger.Error(err, "failed to stage dispense event", "prescription_id", req.PrescriptionID)
	}
}
