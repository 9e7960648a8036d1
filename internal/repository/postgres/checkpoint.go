package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/rxledger/internal/repository"
)

type checkpointRepository struct {
	BaseRepository
}

func NewCheckpointRepository(db *sqlx.DB) repository.CheckpointRepository {
	return &checkpointRepository{BaseRepository: NewBaseRepository(db)}
}

// The checkpoint is a single row keyed by id = 1.
func (r *checkpointRepository) Get(ctx context.Context) (int64, error) {
	var block int64
	err := r.db.GetContext(ctx, &block,
		`SELECT block_number FROM reconciliation_checkpoint WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get reconciliation checkpoint: %w", err)
	}
	return block, nil
}

func (r *checkpointRepository) Set(ctx context.Context, blockNumber int64) error {
	query := `
		INSERT INTO reconciliation_checkpoint (id, block_number, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET block_number = $1, updated_at = $2
	`
	if _, err := r.db.ExecContext(ctx, query, blockNumber, time.Now()); err != nil {
		return fmt.Errorf("failed to persist reconciliation checkpoint: %w", err)
	}
	return nil
}
