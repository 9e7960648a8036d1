package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/rxledger/internal/model"
	"github.com/jwalitptl/rxledger/internal/repository"
)

type batchRepository struct {
	BaseRepository
}

func NewBatchRepository(db *sqlx.DB) repository.BatchRepository {
	return &batchRepository{BaseRepository: NewBaseRepository(db)}
}

const batchColumns = `
	id, batch_id, medicine_id, medicine_name, supplier_id,
	quantity_initial, quantity_available, expiry_date, price_per_unit,
	status, created_at, updated_at
`

func (r *batchRepository) Create(ctx context.Context, batch *model.InventoryBatch) error {
	query := `
		INSERT INTO inventory_batches (
			id, batch_id, medicine_id, medicine_name, supplier_id,
			quantity_initial, quantity_available, expiry_date, price_per_unit,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	batch.ID = uuid.New()
	batch.CreatedAt = time.Now()
	batch.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		batch.ID,
		batch.BatchID,
		batch.MedicineID,
		batch.MedicineName,
		batch.SupplierID,
		batch.QuantityInitial,
		batch.QuantityAvailable,
		batch.ExpiryDate,
		batch.PricePerUnit,
		batch.Status,
		batch.CreatedAt,
		batch.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create inventory batch: %w", err)
	}
	return nil
}

func (r *batchRepository) GetByBatchID(ctx context.Context, batchID string) (*model.InventoryBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM inventory_batches WHERE batch_id = $1`

	var batch model.InventoryBatch
	err := r.db.GetContext(ctx, &batch, query, batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &batch, nil
}

func (r *batchRepository) ListActive(ctx context.Context) ([]*model.InventoryBatch, error) {
	query := `
		SELECT ` + batchColumns + `
		FROM inventory_batches
		WHERE status = $1
		ORDER BY medicine_id ASC, batch_id ASC
	`
	var batches []*model.InventoryBatch
	if err := r.db.SelectContext(ctx, &batches, query, model.BatchStatusActive); err != nil {
		return nil, fmt.Errorf("failed to list active batches: %w", err)
	}
	return batches, nil
}

func (r *batchRepository) ListActiveByMedicine(ctx context.Context, medicineID string, asOf time.Time) ([]*model.InventoryBatch, error) {
	query := `
		SELECT ` + batchColumns + `
		FROM inventory_batches
		WHERE status = $1 AND medicine_id = $2 AND expiry_date > $3
		ORDER BY expiry_date ASC, batch_id ASC
	`
	var batches []*model.InventoryBatch
	if err := r.db.SelectContext(ctx, &batches, query, model.BatchStatusActive, medicineID, asOf); err != nil {
		return nil, fmt.Errorf("failed to list batches for medicine %s: %w", medicineID, err)
	}
	return batches, nil
}

func (r *batchRepository) ListExpiredActive(ctx context.Context, asOf time.Time) ([]*model.InventoryBatch, error) {
	query := `
		SELECT ` + batchColumns + `
		FROM inventory_batches
		WHERE status = $1 AND expiry_date < $2
		ORDER BY expiry_date ASC
	`
	var batches []*model.InventoryBatch
	if err := r.db.SelectContext(ctx, &batches, query, model.BatchStatusActive, asOf); err != nil {
		return nil, fmt.Errorf("failed to list expired batches: %w", err)
	}
	return batches, nil
}

func (r *batchRepository) UpdateStock(ctx context.Context, batchID string, quantity int64, status model.BatchStatus) error {
	query := `
		UPDATE inventory_batches
		SET quantity_available = $1, status = $2, updated_at = $3
		WHERE batch_id = $4
	`
	result, err := r.db.ExecContext(ctx, query, quantity, status, time.Now(), batchID)
	if err != nil {
		return fmt.Errorf("failed to update stock for batch %s: %w", batchID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *batchRepository) Delete(ctx context.Context, batchID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM inventory_batches WHERE batch_id = $1`, batchID)
	if err != nil {
		return fmt.Errorf("failed to delete batch %s: %w", batchID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}
