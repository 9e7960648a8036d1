package stock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rxledger/internal/model"
)

func TestMedicineSlug(t *testing.T) {
	assert.Equal(t, "paracetamol", MedicineSlug("Paracetamol"))
	assert.Equal(t, "paracetamol-500mg", MedicineSlug("  Paracetamol 500mg "))
	assert.Equal(t, "co-amoxiclav", MedicineSlug("Co-Amoxiclav"))
	assert.Equal(t, MedicineSlug("PARACETAMOL"), MedicineSlug("paracetamol"))
}

func TestNormalizeItemsAliasPrecedence(t *testing.T) {
	items, err := NormalizeItems([]model.DispenseItem{
		{Name: "First", MedicineName: "Second", DrugName: "Third", Drug: "Fourth", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "First", items[0].Name)
	assert.Equal(t, "name", items[0].MatchedAlias)

	items, err = NormalizeItems([]model.DispenseItem{
		{DrugName: "Third", Drug: "Fourth", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "Third", items[0].Name)
	assert.Equal(t, "drugName", items[0].MatchedAlias)

	items, err = NormalizeItems([]model.DispenseItem{
		{Name: "   ", Drug: "Fourth", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "Fourth", items[0].Name, "whitespace-only aliases are skipped")
}

func TestNormalizeItemsRejectsBadInput(t *testing.T) {
	_, err := NormalizeItems(nil)
	assert.Error(t, err)

	_, err = NormalizeItems([]model.DispenseItem{{Quantity: 1}})
	assert.Error(t, err, "no name in any alias field")

	_, err = NormalizeItems([]model.DispenseItem{{Name: "Paracetamol", Quantity: 0}})
	assert.Error(t, err)

	_, err = NormalizeItems([]model.DispenseItem{{Name: "Paracetamol", Quantity: -2}})
	assert.Error(t, err)
}

func TestCoalesceItemsMergesSameMedicine(t *testing.T) {
	items, err := NormalizeItems([]model.DispenseItem{
		{Name: "Paracetamol 500mg", Quantity: 4},
		{Name: "Ibuprofen", Quantity: 1},
		{DrugName: "paracetamol  500MG", Quantity: 3},
	})
	require.NoError(t, err)

	merged := coalesceItems(items)
	require.Len(t, merged, 2)
	assert.Equal(t, "paracetamol-500mg", merged[0].MedicineID)
	assert.Equal(t, int64(7), merged[0].Quantity)
	assert.Equal(t, "Paracetamol 500mg", merged[0].Name, "first-seen name wins")
	assert.Equal(t, "Ibuprofen", merged[1].Name)
	assert.Equal(t, int64(1), merged[1].Quantity)
}
