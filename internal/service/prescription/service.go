// Package prescription enforces the prescription status state machine. All
// status writes in the system go through TransitionStatus, which applies a
// compare-and-swap guard: of any number of concurrent transition attempts,
// exactly one succeeds and the rest observe a clean no-op.
package prescription

import (
	"context"
	"fmt"

	"github.com/jwalitptl/rxledger/internal/model"
	"github.com/jwalitptl/rxledger/internal/repository"
	"github.com/jwalitptl/rxledger/pkg/logger"
)

// transitions is the allowed-edge table. USED and EXPIRED are terminal.
// PENDING_DISPENSE -> ACTIVE is the rollback path when external confirmation
// fails; DISPENSED -> ACTIVE returns a multi-use prescription to circulation.
var transitions = map[model.PrescriptionStatus][]model.PrescriptionStatus{
	model.PrescriptionStatusCreated:         {model.PrescriptionStatusActive},
	model.PrescriptionStatusActive:          {model.PrescriptionStatusPendingDispense, model.PrescriptionStatusExpired},
	model.PrescriptionStatusPendingDispense: {model.PrescriptionStatusDispensed, model.PrescriptionStatusUsed, model.PrescriptionStatusActive},
	model.PrescriptionStatusDispensed:       {model.PrescriptionStatusActive, model.PrescriptionStatusExpired},
	model.PrescriptionStatusUsed:            {},
	model.PrescriptionStatusExpired:         {},
}

// SourcesFor returns every status from which target is reachable in one step.
func SourcesFor(target model.PrescriptionStatus) []model.PrescriptionStatus {
	var sources []model.PrescriptionStatus
	for from, tos := range transitions {
		for _, to := range tos {
			if to == target {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to model.PrescriptionStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

type Service struct {
	prescriptions repository.PrescriptionRepository
	logger        *logger.Logger
}

func NewService(prescriptions repository.PrescriptionRepository, log *logger.Logger) *Service {
	return &Service{prescriptions: prescriptions, logger: log}
}

// TransitionStatus moves the prescription to target if and only if its
// current status permits the transition at the moment of the write. A blocked
// transition returns Applied=false with a reason; it is not an error, and
// callers must not blindly retry it. Effects are written atomically with the
// status.
func (s *Service) TransitionStatus(ctx context.Context, blockchainID string, target model.PrescriptionStatus, effects model.TransitionEffects) (*model.TransitionResult, error) {
	sources := SourcesFor(target)
	if len(sources) == 0 {
		return &model.TransitionResult{
			Applied:        false,
			PrescriptionID: blockchainID,
			Target:         target,
			Reason:         fmt.Sprintf("no status permits a transition to %s", target),
		}, nil
	}

	applied, err := s.prescriptions.UpdateStatusGuarded(ctx, blockchainID, target, sources, effects)
	if err != nil {
		return nil, fmt.Errorf("guarded status update failed for %s: %w", blockchainID, err)
	}
	if !applied {
		s.logger.Debug("status transition blocked",
			"prescription_id", blockchainID,
			"target", string(target))
		return &model.TransitionResult{
			Applied:        false,
			PrescriptionID: blockchainID,
			Target:         target,
			Reason:         "current status does not permit this transition",
		}, nil
	}

	return &model.TransitionResult{
		Applied:        true,
		PrescriptionID: blockchainID,
		Target:         target,
	}, nil
}

// Get returns the local prescription record.
func (s *Service) Get(ctx context.Context, blockchainID string) (*model.Prescription, error) {
	p, err := s.prescriptions.GetByBlockchainID(ctx, blockchainID)
	if err != nil {
		return nil, err
	}
	return p, nil
}
