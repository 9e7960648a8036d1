package stock

import (
	"fmt"
	"strings"

	gosimple "github.com/gosimple/slug"

	"github.com/jwalitptl/rxledger/internal/model"
	apperrors "github.com/jwalitptl/rxledger/pkg/errors"
)

// medicine name aliases, in resolution order. Upstream systems have shipped
// all four at one point or another; this is the single definition of the
// fallback chain.
var nameAliases = []string{"name", "medicineName", "drugName", "drug"}

// NormalizedItem is a dispense line after name resolution. MatchedAlias
// records which field carried the name, for debugging caller payloads.
type NormalizedItem struct {
	Name         string
	MedicineID   string
	Quantity     int64
	MatchedAlias string
}

// MedicineSlug derives the canonical medicine id from a free-text name:
// lowercase, non-alphanumeric runs collapsed to single hyphens, trimmed.
// The slug, not the display name, is the join key against inventory batches,
// so case and spacing variation between systems cannot break matching.
func MedicineSlug(name string) string {
	return gosimple.Make(strings.TrimSpace(name))
}

// NormalizeItems resolves every dispense line through the alias chain and
// validates quantities. The error names the offending item so callers can fix
// their payload.
func NormalizeItems(items []model.DispenseItem) ([]NormalizedItem, error) {
	if len(items) == 0 {
		return nil, apperrors.NewValidation("items", "at least one item is required")
	}

	out := make([]NormalizedItem, 0, len(items))
	for i, item := range items {
		name, alias := resolveName(item)
		if name == "" {
			return nil, apperrors.NewValidation(
				"items",
				fmt.Sprintf("item %d has no medicine name in any of: %s", i, strings.Join(nameAliases, ", ")),
			)
		}
		if item.Quantity <= 0 {
			return nil, apperrors.NewValidation(
				"items",
				fmt.Sprintf("item %d (%s) has non-positive quantity", i, name),
			)
		}
		out = append(out, NormalizedItem{
			Name:         name,
			MedicineID:   MedicineSlug(name),
			Quantity:     item.Quantity,
			MatchedAlias: alias,
		})
	}
	return out, nil
}

// coalesceItems merges lines that resolve to the same medicine, summing their
// quantities, so the check phase sees total demand per medicine rather than
// each line against the same pre-read stock. First-seen order, name and alias
// are kept.
func coalesceItems(items []NormalizedItem) []NormalizedItem {
	out := make([]NormalizedItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if i, ok := index[item.MedicineID]; ok {
			out[i].Quantity += item.Quantity
			continue
		}
		index[item.MedicineID] = len(out)
		out = append(out, item)
	}
	return out
}

func resolveName(item model.DispenseItem) (string, string) {
	candidates := []struct {
		alias string
		value string
	}{
		{"name", item.Name},
		{"medicineName", item.MedicineName},
		{"drugName", item.DrugName},
		{"drug", item.Drug},
	}
	for _, c := range candidates {
		if v := strings.TrimSpace(c.value); v != "" {
			return v, c.alias
		}
	}
	return "", ""
}
