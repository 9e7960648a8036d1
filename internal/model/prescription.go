package model

import (
	"time"
)

type PrescriptionStatus string

const (
	PrescriptionStatusCreated         PrescriptionStatus = "CREATED"
	PrescriptionStatusActive          PrescriptionStatus = "ACTIVE"
	PrescriptionStatusPendingDispense PrescriptionStatus = "PENDING_DISPENSE"
	PrescriptionStatusDispensed       PrescriptionStatus = "DISPENSED"
	PrescriptionStatusUsed            PrescriptionStatus = "USED"
	PrescriptionStatusExpired         PrescriptionStatus = "EXPIRED"
)

// Sentinel values written into records the reconciler inserts from chain
// state. They mark the record as machine-recovered and incomplete so it can be
// surfaced for manual review instead of being trusted as full data.
const (
	RecoveredPatientRef = "RECOVERED_FROM_CHAIN"
	RecoveredIssuerRef  = "UNKNOWN_ISSUER"
)

// PrescriptionMedicine is one line item on a prescription.
type PrescriptionMedicine struct {
	Name     string `json:"name"`
	Dosage   string `json:"dosage"`
	Quantity int64  `json:"quantity"`
}

// Prescription mirrors an issuance on the external ledger. The ledger owns
// existence and status of record; local rows carry the dispensing detail and
// sync metadata. Rows are never physically deleted.
type Prescription struct {
	Base
	BlockchainID string                 `db:"blockchain_id" json:"blockchain_id"`
	PatientRef   string                 `db:"patient_ref" json:"patient_ref"`
	IssuerRef    string                 `db:"issuer_ref" json:"issuer_ref"`
	Status       PrescriptionStatus     `db:"status" json:"status"`
	UsageCount   int                    `db:"usage_count" json:"usage_count"`
	MaxUsage     int                    `db:"max_usage" json:"max_usage"`
	Medicines    []PrescriptionMedicine `db:"-" json:"medicines"`
	ExpiryDate   time.Time              `db:"expiry_date" json:"expiry_date"`

	// Sync metadata, owned by the reconciler.
	BlockchainSynced bool   `db:"blockchain_synced" json:"blockchain_synced"`
	TxHash           string `db:"tx_hash" json:"tx_hash,omitempty"`
	BlockNumber      int64  `db:"block_number" json:"block_number,omitempty"`

	// Dispense side effects, written atomically with the status transition.
	DispensedAt *time.Time `db:"dispensed_at" json:"dispensed_at,omitempty"`
	InvoiceID   *string    `db:"invoice_id" json:"invoice_id,omitempty"`

	// Recovered marks rows the reconciler created from chain state alone.
	Recovered bool `db:"recovered" json:"recovered"`
}

// IsTerminal reports whether s admits no further transitions.
func (s PrescriptionStatus) IsTerminal() bool {
	return s == PrescriptionStatusUsed || s == PrescriptionStatusExpired
}

// TransitionEffects are side effects bundled atomically with a status write.
// Usage increments come only from confirmed chain events, never from a
// tentative client request, so retries cannot double count.
type TransitionEffects struct {
	IncrementUsage bool
	DispensedAt    *time.Time
	TxHash         *string
	BlockNumber    *int64
	InvoiceID      *string
	MarkSynced     bool
}

// TransitionResult reports the outcome of a guarded status transition. A
// blocked transition is a clean no-op, not an error: exactly one of several
// concurrent callers observes Applied=true.
type TransitionResult struct {
	Applied        bool               `json:"applied"`
	PrescriptionID string             `json:"prescription_id"`
	Target         PrescriptionStatus `json:"target"`
	Reason         string             `json:"reason,omitempty"`
}
