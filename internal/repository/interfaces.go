package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/rxledger/internal/model"
)

// ErrNotFound is returned by Get methods when no row matches.
var ErrNotFound = errors.New("record not found")

// All repository interfaces in one file
type (
	// BatchRepository stores inventory batches. Batches are append-only:
	// UpdateStock is the only mutation and only the stock ledger calls it.
	BatchRepository interface {
		Create(ctx context.Context, batch *model.InventoryBatch) error
		GetByBatchID(ctx context.Context, batchID string) (*model.InventoryBatch, error)
		// ListActive returns ACTIVE batches ordered by (medicine_id, batch_id)
		// ascending. The ordering is part of the snapshot determinism contract.
		ListActive(ctx context.Context) ([]*model.InventoryBatch, error)
		// ListActiveByMedicine returns ACTIVE, unexpired batches for one
		// medicine ordered by expiry ascending (FIFO consumption order).
		ListActiveByMedicine(ctx context.Context, medicineID string, asOf time.Time) ([]*model.InventoryBatch, error)
		// ListExpiredActive returns ACTIVE batches whose expiry has passed.
		ListExpiredActive(ctx context.Context, asOf time.Time) ([]*model.InventoryBatch, error)
		UpdateStock(ctx context.Context, batchID string, quantity int64, status model.BatchStatus) error
		// Delete removes a batch row. Exists only to unwind a registration
		// whose root anchor failed, before the batch ever became part of the
		// verifiable ledger. Nothing else may delete batches.
		Delete(ctx context.Context, batchID string) error
	}

	// PrescriptionRepository stores local prescription mirrors. Status writes
	// go exclusively through UpdateStatusGuarded; the reconciler uses
	// CreateIfAbsent and MarkSynced and never overwrites business fields.
	PrescriptionRepository interface {
		Create(ctx context.Context, p *model.Prescription) error
		// CreateIfAbsent inserts p unless a row with its blockchain id already
		// exists; reports whether the insert happened. Concurrent direct
		// writes and reconciler inserts race safely through this.
		CreateIfAbsent(ctx context.Context, p *model.Prescription) (bool, error)
		GetByBlockchainID(ctx context.Context, blockchainID string) (*model.Prescription, error)
		// UpdateStatusGuarded sets status to target only if the current status
		// is in sources, applying effects in the same write. Reports whether
		// the update applied. A false return is a clean concurrent-transition
		// rejection, not an error.
		UpdateStatusGuarded(ctx context.Context, blockchainID string, target model.PrescriptionStatus, sources []model.PrescriptionStatus, effects model.TransitionEffects) (bool, error)
		// MarkSynced sets sync metadata only. Reports whether anything
		// changed; an already-synced row is a no-op.
		MarkSynced(ctx context.Context, blockchainID, txHash string, blockNumber int64) (bool, error)
		// ListExpiredUnterminated returns prescriptions whose expiry has
		// passed and whose status still permits an EXPIRED transition.
		ListExpiredUnterminated(ctx context.Context, asOf time.Time) ([]*model.Prescription, error)
	}

	// CheckpointRepository persists the reconciliation checkpoint.
	CheckpointRepository interface {
		Get(ctx context.Context) (int64, error)
		Set(ctx context.Context, blockNumber int64) error
	}

	// OutboxRepository stages ledger events for asynchronous publication.
	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	}
)
