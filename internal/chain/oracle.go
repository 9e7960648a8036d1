package chain

import (
	"context"
	"strings"
	"time"

	"github.com/jwalitptl/rxledger/internal/model"
)

// ZeroRoot is the "never anchored" sentinel: the value the ledger contract
// reports before the first anchor. Verification treats it as first-time setup,
// not a mismatch.
const ZeroRoot = "0000000000000000000000000000000000000000000000000000000000000000"

// IsZeroRoot reports whether root is the unanchored sentinel (with or without
// a 0x prefix, as some gateways include it).
func IsZeroRoot(root string) bool {
	return strings.TrimPrefix(root, "0x") == ZeroRoot || root == ""
}

// PrescriptionState is the ledger's authoritative view of one prescription.
type PrescriptionState struct {
	Exists     bool                     `json:"exists"`
	Status     model.PrescriptionStatus `json:"status"`
	UsageCount int                      `json:"usage_count"`
	MaxUsage   int                      `json:"max_usage"`
	IssuerRef  string                   `json:"issuer_ref"`
	ExpiryUnix int64                    `json:"expiry_unix"`
}

// StatusEvent is one status-changing event emitted by the ledger.
type StatusEvent struct {
	PrescriptionID string                   `json:"prescription_id"`
	ActorAddress   string                   `json:"actor_address"`
	BlockNumber    int64                    `json:"block_number"`
	TxHash         string                   `json:"tx_hash"`
	EventType      string                   `json:"event_type"`
	NewStatus      model.PrescriptionStatus `json:"new_status"`
	// Timestamp is the block time of the event. Zero when the gateway omits
	// it; consumers fall back to their own clock.
	Timestamp time.Time `json:"timestamp"`
}

// Event types emitted by the ledger contract.
const (
	EventTypeCreated   = "PrescriptionCreated"
	EventTypeDispensed = "PrescriptionDispensed"
	EventTypeExpired   = "PrescriptionExpired"
)

// AnchorReceipt confirms a root was anchored.
type AnchorReceipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber int64  `json:"block_number"`
}

// Oracle is the external system of record for prescription existence/status
// and the anchored inventory root. Every call is remote and fallible; callers
// must pass a context with a deadline and treat connectivity failures as
// fail-closed (a root that cannot be read is not a valid root).
type Oracle interface {
	GetPrescriptionState(ctx context.Context, id string) (*PrescriptionState, error)
	GetInventoryRoot(ctx context.Context) (string, error)
	AnchorInventoryRoot(ctx context.Context, root string) (*AnchorReceipt, error)
	QueryStatusEvents(ctx context.Context, fromBlock, toBlock int64) ([]StatusEvent, error)
	LatestBlock(ctx context.Context) (int64, error)
}
