package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type BatchStatus string

const (
	BatchStatusActive   BatchStatus = "ACTIVE"
	BatchStatusExpired  BatchStatus = "EXPIRED"
	BatchStatusDepleted BatchStatus = "DEPLETED"
)

// InventoryBatch is one received lot of a medicine. Batches are append-only:
// they are created on registration and mutated only by stock deduction or the
// expiry sweep, never deleted.
type InventoryBatch struct {
	Base
	BatchID           string          `db:"batch_id" json:"batch_id"`
	MedicineID        string          `db:"medicine_id" json:"medicine_id"`
	MedicineName      string          `db:"medicine_name" json:"medicine_name"`
	SupplierID        string          `db:"supplier_id" json:"supplier_id"`
	QuantityInitial   int64           `db:"quantity_initial" json:"quantity_initial"`
	QuantityAvailable int64           `db:"quantity_available" json:"quantity_available"`
	ExpiryDate        time.Time       `db:"expiry_date" json:"expiry_date"`
	PricePerUnit      decimal.Decimal `db:"price_per_unit" json:"price_per_unit"`
	Status            BatchStatus     `db:"status" json:"status"`
}

// IsExpired reports whether the batch has passed its expiry at the given time.
func (b *InventoryBatch) IsExpired(now time.Time) bool {
	return b.ExpiryDate.Before(now)
}

// RegisterBatchRequest is the caller-facing payload for batch registration.
type RegisterBatchRequest struct {
	BatchID      string          `json:"batch_id" validate:"required"`
	MedicineName string          `json:"medicine_name" validate:"required"`
	SupplierID   string          `json:"supplier_id" validate:"required"`
	Quantity     int64           `json:"quantity" validate:"required,gt=0"`
	ExpiryDate   time.Time       `json:"expiry_date" validate:"required"`
	PricePerUnit decimal.Decimal `json:"price_per_unit" validate:"required"`
}

// CanonicalBatchSnapshot is the fixed six-field projection of an ACTIVE batch
// used as Merkle leaf input. Field set, order and formatting are part of the
// hash contract: any change invalidates every previously anchored root and
// must be versioned.
type CanonicalBatchSnapshot struct {
	BatchID         string `json:"batchId"`
	MedicineName    string `json:"medicineName"`
	CurrentQuantity int64  `json:"currentQuantity"`
	ExpiryDate      string `json:"expiryDate"`
	Price           string `json:"price"`
	Status          string `json:"status"`
}

// IntegrityReport is the non-throwing audit view of the inventory root
// comparison, for status endpoints and dashboards.
type IntegrityReport struct {
	Valid        bool   `json:"valid"`
	LocalRoot    string `json:"local_root"`
	ExternalRoot string `json:"external_root"`
	BatchCount   int    `json:"batch_count"`
}
