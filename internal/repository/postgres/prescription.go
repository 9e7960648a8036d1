package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/rxledger/internal/model"
	"github.com/jwalitptl/rxledger/internal/repository"
	"github.com/jwalitptl/rxledger/pkg/security"
)

type prescriptionRepository struct {
	BaseRepository
	// enc protects patient references at rest. Nil disables field
	// encryption, used in environments without a configured key.
	enc security.Encryptor
}

func NewPrescriptionRepository(db *sqlx.DB, enc security.Encryptor) repository.PrescriptionRepository {
	return &prescriptionRepository{BaseRepository: NewBaseRepository(db), enc: enc}
}

// prescriptionRow adds the jsonb medicines column to the model for scanning.
type prescriptionRow struct {
	model.Prescription
	MedicinesJSON []byte `db:"medicines"`
}

func (r *prescriptionRepository) toModel(row *prescriptionRow) (*model.Prescription, error) {
	p := row.Prescription
	if len(row.MedicinesJSON) > 0 {
		if err := json.Unmarshal(row.MedicinesJSON, &p.Medicines); err != nil {
			return nil, fmt.Errorf("failed to decode medicines for %s: %w", p.BlockchainID, err)
		}
	}
	if r.enc != nil && p.PatientRef != "" {
		plain, err := r.enc.DecryptString(p.PatientRef)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt patient ref for %s: %w", p.BlockchainID, err)
		}
		p.PatientRef = plain
	}
	return &p, nil
}

func (r *prescriptionRepository) storedPatientRef(p *model.Prescription) (string, error) {
	if r.enc == nil || p.PatientRef == "" {
		return p.PatientRef, nil
	}
	ct, err := r.enc.EncryptString(p.PatientRef)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt patient ref for %s: %w", p.BlockchainID, err)
	}
	return ct, nil
}

const prescriptionColumns = `
	id, blockchain_id, patient_ref, issuer_ref, status, usage_count, max_usage,
	medicines, expiry_date, blockchain_synced, tx_hash, block_number,
	dispensed_at, invoice_id, recovered, created_at, updated_at
`

func (r *prescriptionRepository) Create(ctx context.Context, p *model.Prescription) error {
	medicines, err := json.Marshal(p.Medicines)
	if err != nil {
		return fmt.Errorf("failed to encode medicines: %w", err)
	}

	patientRef, err := r.storedPatientRef(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO prescriptions (` + prescriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()

	_, err = r.db.ExecContext(ctx, query,
		p.ID, p.BlockchainID, patientRef, p.IssuerRef, p.Status,
		p.UsageCount, p.MaxUsage, medicines, p.ExpiryDate,
		p.BlockchainSynced, p.TxHash, p.BlockNumber,
		p.DispensedAt, p.InvoiceID, p.Recovered, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create prescription: %w", err)
	}
	return nil
}

func (r *prescriptionRepository) CreateIfAbsent(ctx context.Context, p *model.Prescription) (bool, error) {
	medicines, err := json.Marshal(p.Medicines)
	if err != nil {
		return false, fmt.Errorf("failed to encode medicines: %w", err)
	}

	patientRef, err := r.storedPatientRef(p)
	if err != nil {
		return false, err
	}

	// ON CONFLICT DO NOTHING makes the reconciler's insert lose cleanly to a
	// concurrent direct write for the same blockchain id.
	query := `
		INSERT INTO prescriptions (` + prescriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (blockchain_id) DO NOTHING
	`
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		p.ID, p.BlockchainID, patientRef, p.IssuerRef, p.Status,
		p.UsageCount, p.MaxUsage, medicines, p.ExpiryDate,
		p.BlockchainSynced, p.TxHash, p.BlockNumber,
		p.DispensedAt, p.InvoiceID, p.Recovered, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert prescription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *prescriptionRepository) GetByBlockchainID(ctx context.Context, blockchainID string) (*model.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE blockchain_id = $1`

	var row prescriptionRow
	err := r.db.GetContext(ctx, &row, query, blockchainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prescription: %w", err)
	}
	return r.toModel(&row)
}

func (r *prescriptionRepository) UpdateStatusGuarded(ctx context.Context, blockchainID string, target model.PrescriptionStatus, sources []model.PrescriptionStatus, effects model.TransitionEffects) (bool, error) {
	if len(sources) == 0 {
		return false, nil
	}

	set := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{target, time.Now()}

	if effects.IncrementUsage {
		set = append(set, "usage_count = usage_count + 1")
	}
	if effects.DispensedAt != nil {
		set = append(set, "dispensed_at = ?")
		args = append(args, *effects.DispensedAt)
	}
	if effects.TxHash != nil {
		set = append(set, "tx_hash = ?")
		args = append(args, *effects.TxHash)
	}
	if effects.BlockNumber != nil {
		set = append(set, "block_number = ?")
		args = append(args, *effects.BlockNumber)
	}
	if effects.InvoiceID != nil {
		set = append(set, "invoice_id = ?")
		args = append(args, *effects.InvoiceID)
	}
	if effects.MarkSynced {
		set = append(set, "blockchain_synced = TRUE")
	}

	args = append(args, blockchainID)

	query := fmt.Sprintf(
		"UPDATE prescriptions SET %s WHERE blockchain_id = ? AND status IN (?)",
		strings.Join(set, ", "),
	)
	query, inArgs, err := sqlx.In(query, append(args, sources)...)
	if err != nil {
		return false, fmt.Errorf("failed to build guarded update: %w", err)
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), inArgs...)
	if err != nil {
		return false, fmt.Errorf("failed to update prescription status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *prescriptionRepository) MarkSynced(ctx context.Context, blockchainID, txHash string, blockNumber int64) (bool, error) {
	query := `
		UPDATE prescriptions
		SET blockchain_synced = TRUE, tx_hash = $1, block_number = $2, updated_at = $3
		WHERE blockchain_id = $4 AND blockchain_synced = FALSE
	`
	result, err := r.db.ExecContext(ctx, query, txHash, blockNumber, time.Now(), blockchainID)
	if err != nil {
		return false, fmt.Errorf("failed to mark prescription synced: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *prescriptionRepository) ListExpiredUnterminated(ctx context.Context, asOf time.Time) ([]*model.Prescription, error) {
	query := `
		SELECT ` + prescriptionColumns + `
		FROM prescriptions
		WHERE expiry_date < $1 AND status IN ($2, $3)
		ORDER BY expiry_date ASC
	`
	var rows []prescriptionRow
	err := r.db.SelectContext(ctx, &rows, query, asOf,
		model.PrescriptionStatusActive, model.PrescriptionStatusDispensed)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired prescriptions: %w", err)
	}

	out := make([]*model.Prescription, 0, len(rows))
	for i := range rows {
		p, err := r.toModel(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
