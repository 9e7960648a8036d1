package stock

import (
	"context"

	"github.com/jwalitptl/rxledger/internal/model"
	"github.com/jwalitptl/rxledger/internal/repository"
	apperrors "github.com/jwalitptl/rxledger/pkg/errors"
)

// journalEntry records one reversible batch mutation: enough state to restore
// the batch exactly as it was before the step.
type journalEntry struct {
	batchID    string
	prevQty    int64
	prevStatus model.BatchStatus
	taken      int64
}

// journal is the in-memory rollback log for one deduction or sweep. Entries
// are appended as mutations happen and replayed in reverse on failure, so no
// partial effect is ever visible after an aborted operation.
type journal struct {
	entries []journalEntry
}

func (j *journal) record(e journalEntry) {
	j.entries = append(j.entries, e)
}

func (j *journal) empty() bool {
	return len(j.entries) == 0
}

// rollback restores every touched batch, newest first. If a restore write
// itself fails the ledger may be inconsistent; that is reported as a
// RollbackFailureError and there is no further automatic recovery.
func (j *journal) rollback(ctx context.Context, batches repository.BatchRepository) error {
	for i := len(j.entries) - 1; i >= 0; i-- {
		e := j.entries[i]
		if err := batches.UpdateStock(ctx, e.batchID, e.prevQty, e.prevStatus); err != nil {
			return apperrors.NewRollbackFailure(e.batchID, err)
		}
	}
	return nil
}
