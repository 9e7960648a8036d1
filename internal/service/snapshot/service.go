// Package snapshot builds the deterministic projections of inventory and
// prescription state that feed the Merkle ledger. The snapshot shape is a hash
// contract: same state in, byte-identical serialization out, regardless of
// where the raw data came from.
package snapshot

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/jwalitptl/rxledger/internal/model"
	"github.com/jwalitptl/rxledger/internal/repository"
)

type Service struct {
	batches repository.BatchRepository
}

func NewService(batches repository.BatchRepository) *Service {
	return &Service{batches: batches}
}

// BuildBatchSnapshot projects a batch into its canonical six-field form.
// Missing strings default to empty; quantities are integral by construction;
// the price is rendered with exactly two decimals. Malformed input is a data
// integrity fault and fails loudly rather than hashing to a wrong-but-valid
// value.
func (s *Service) BuildBatchSnapshot(batch *model.InventoryBatch) (*model.CanonicalBatchSnapshot, error) {
	if batch == nil {
		return nil, fmt.Errorf("cannot snapshot nil batch")
	}
	if batch.BatchID == "" {
		return nil, fmt.Errorf("batch has no batch id")
	}
	if batch.QuantityAvailable < 0 {
		return nil, fmt.Errorf("batch %s has negative quantity %d", batch.BatchID, batch.QuantityAvailable)
	}

	snap := &model.CanonicalBatchSnapshot{
		BatchID:         batch.BatchID,
		MedicineName:    strings.TrimSpace(batch.MedicineName),
		CurrentQuantity: batch.QuantityAvailable,
		ExpiryDate:      batch.ExpiryDate.UTC().Format("2006-01-02T15:04:05.000Z"),
		Price:           batch.PricePerUnit.Round(2).StringFixed(2),
		Status:          string(batch.Status),
	}
	if err := ValidateCanonical(snap); err != nil {
		return nil, fmt.Errorf("batch %s produced invalid snapshot: %w", batch.BatchID, err)
	}
	return snap, nil
}

// BuildInventorySnapshot snapshots every ACTIVE batch, ordered by
// (medicineId, batchId) ascending so insertion order never affects the hash.
func (s *Service) BuildInventorySnapshot(ctx context.Context) ([]model.CanonicalBatchSnapshot, int, error) {
	batches, err := s.batches.ListActive(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load active batches: %w", err)
	}

	snaps := make([]model.CanonicalBatchSnapshot, 0, len(batches))
	for _, b := range batches {
		snap, err := s.BuildBatchSnapshot(b)
		if err != nil {
			return nil, 0, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, len(snaps), nil
}

// MedicineSnapshot is the canonical form of one prescription line.
type MedicineSnapshot struct {
	Name     string `json:"name"`
	Dosage   string `json:"dosage"`
	Quantity int64  `json:"quantity"`
}

// BuildMedicineSnapshot trims strings and keeps quantities integral.
func BuildMedicineSnapshot(med model.PrescriptionMedicine) MedicineSnapshot {
	return MedicineSnapshot{
		Name:     strings.TrimSpace(med.Name),
		Dosage:   strings.TrimSpace(med.Dosage),
		Quantity: med.Quantity,
	}
}

// BuildPrescriptionSnapshot canonicalizes a medicine list: each line through
// BuildMedicineSnapshot, then sorted by name (case-folded, bytewise tiebreak)
// so the order medicines were entered in never affects the hash.
func BuildPrescriptionSnapshot(medicines []model.PrescriptionMedicine) []MedicineSnapshot {
	snaps := make([]MedicineSnapshot, 0, len(medicines))
	for _, m := range medicines {
		snaps = append(snaps, BuildMedicineSnapshot(m))
	}
	sort.Slice(snaps, func(i, j int) bool {
		a, b := strings.ToLower(snaps[i].Name), strings.ToLower(snaps[j].Name)
		if a != b {
			return a < b
		}
		return snaps[i].Name < snaps[j].Name
	})
	return snaps
}

// DeterministicHash serializes data canonically and returns the hex-encoded
// keccak256 of the UTF-8 bytes. Keccak matches the hash the anchoring contract
// uses, so leaves computed here are comparable on chain. Field set and order
// of the input types are part of the contract; changing either invalidates
// every previously anchored root and must be versioned.
func DeterministicHash(data interface{}) (string, error) {
	if err := ValidateCanonical(data); err != nil {
		return "", err
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ValidateCanonical rejects structures that would corrupt the hash: nil
// values, NaN or infinite numbers, and anything that does not survive a JSON
// round trip identically (circular or otherwise unserializable data fails at
// the marshal step).
func ValidateCanonical(data interface{}) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("snapshot is not serializable: %w", err)
	}

	var decoded interface{}
	if err := json.Unmarshal(b, &decoded); err != nil {
		return fmt.Errorf("snapshot failed round-trip decode: %w", err)
	}
	if err := rejectVolatile(decoded); err != nil {
		return err
	}

	b2, err := json.Marshal(decoded)
	if err != nil {
		return fmt.Errorf("snapshot failed round-trip re-encode: %w", err)
	}
	var decoded2 interface{}
	if err := json.Unmarshal(b2, &decoded2); err != nil {
		return fmt.Errorf("snapshot failed round-trip decode: %w", err)
	}
	if !reflect.DeepEqual(decoded, decoded2) {
		return fmt.Errorf("snapshot is not round-trip stable")
	}
	return nil
}

func rejectVolatile(v interface{}) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("snapshot contains null")
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("snapshot contains non-finite number")
		}
	case map[string]interface{}:
		for k, item := range val {
			if err := rejectVolatile(item); err != nil {
				return fmt.Errorf("field %s: %w", k, err)
			}
		}
	case []interface{}:
		for i, item := range val {
			if err := rejectVolatile(item); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
	}
	return nil
}
