package snapshot

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rxledger/internal/model"
	"github.com/jwalitptl/rxledger/internal/repository/memory"
)

func testBatch() *model.InventoryBatch {
	return &model.InventoryBatch{
		BatchID:           "BATCH-001",
		MedicineID:        "paracetamol",
		MedicineName:      "Paracetamol",
		QuantityInitial:   100,
		QuantityAvailable: 80,
		ExpiryDate:        time.Date(2027, 3, 15, 10, 30, 0, 0, time.UTC),
		PricePerUnit:      decimal.RequireFromString("12.5"),
		Status:            model.BatchStatusActive,
	}
}

func TestBuildBatchSnapshotCanonicalForm(t *testing.T) {
	svc := NewService(memory.NewBatchRepository())

	snap, err := svc.BuildBatchSnapshot(testBatch())
	require.NoError(t, err)

	assert.Equal(t, "BATCH-001", snap.BatchID)
	assert.Equal(t, "Paracetamol", snap.MedicineName)
	assert.Equal(t, int64(80), snap.CurrentQuantity)
	assert.Equal(t, "2027-03-15T10:30:00.000Z", snap.ExpiryDate)
	assert.Equal(t, "12.50", snap.Price)
	assert.Equal(t, "ACTIVE", snap.Status)
}

func TestBuildBatchSnapshotPriceAlwaysTwoDecimals(t *testing.T) {
	svc := NewService(memory.NewBatchRepository())

	for price, want := range map[string]string{
		"5":       "5.00",
		"5.1":     "5.10",
		"5.12":    "5.12",
		"5.125":   "5.13",
		"5.00000": "5.00",
	} {
		b := testBatch()
		b.PricePerUnit = decimal.RequireFromString(price)
		snap, err := svc.BuildBatchSnapshot(b)
		require.NoError(t, err)
		assert.Equal(t, want, snap.Price, "price %s", price)
	}
}

func TestBuildBatchSnapshotRejectsMalformedInput(t *testing.T) {
	svc := NewService(memory.NewBatchRepository())

	_, err := svc.BuildBatchSnapshot(nil)
	assert.Error(t, err)

	b := testBatch()
	b.BatchID = ""
	_, err = svc.BuildBatchSnapshot(b)
	assert.Error(t, err)

	b = testBatch()
	b.QuantityAvailable = -1
	_, err = svc.BuildBatchSnapshot(b)
	assert.Error(t, err)
}

func TestDeterministicHashStable(t *testing.T) {
	svc := NewService(memory.NewBatchRepository())
	snap, err := svc.BuildBatchSnapshot(testBatch())
	require.NoError(t, err)

	h1, err := DeterministicHash(snap)
	require.NoError(t, err)
	h2, err := DeterministicHash(snap)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestDeterministicHashSensitiveToEveryField(t *testing.T) {
	svc := NewService(memory.NewBatchRepository())
	base, err := svc.BuildBatchSnapshot(testBatch())
	require.NoError(t, err)
	baseHash, err := DeterministicHash(base)
	require.NoError(t, err)

	mutations := []func(*model.CanonicalBatchSnapshot){
		func(s *model.CanonicalBatchSnapshot) { s.BatchID = "BATCH-002" },
		func(s *model.CanonicalBatchSnapshot) { s.MedicineName = "Ibuprofen" },
		func(s *model.CanonicalBatchSnapshot) { s.CurrentQuantity = 79 },
		func(s *model.CanonicalBatchSnapshot) { s.ExpiryDate = "2027-03-16T10:30:00.000Z" },
		func(s *model.CanonicalBatchSnapshot) { s.Price = "12.51" },
		func(s *model.CanonicalBatchSnapshot) { s.Status = "EXPIRED" },
	}
	for i, mutate := range mutations {
		snap := *base
		mutate(&snap)
		h, err := DeterministicHash(&snap)
		require.NoError(t, err)
		assert.NotEqual(t, baseHash, h, "mutation %d did not change the hash", i)
	}
}

func TestValidateCanonicalRejectsVolatileValues(t *testing.T) {
	assert.Error(t, ValidateCanonical(map[string]interface{}{"a": nil}))
	assert.Error(t, ValidateCanonical(map[string]interface{}{"a": math.NaN()}))
	assert.Error(t, ValidateCanonical(map[string]interface{}{"a": math.Inf(1)}))
	assert.Error(t, ValidateCanonical([]interface{}{"ok", nil}))
	assert.Error(t, ValidateCanonical(nil))

	assert.NoError(t, ValidateCanonical(map[string]interface{}{"a": "x", "b": 1.5}))
}

func TestBuildInventorySnapshotOrderIndependent(t *testing.T) {
	ctx := context.Background()

	first := memory.NewBatchRepository()
	second := memory.NewBatchRepository()

	a := testBatch()
	b := testBatch()
	b.BatchID = "BATCH-000"
	b.MedicineID = "ibuprofen"
	b.MedicineName = "Ibuprofen"

	require.NoError(t, first.Create(ctx, a))
	require.NoError(t, first.Create(ctx, b))
	require.NoError(t, second.Create(ctx, b))
	require.NoError(t, second.Create(ctx, a))

	s1, n1, err := NewService(first).BuildInventorySnapshot(ctx)
	require.NoError(t, err)
	s2, n2, err := NewService(second).BuildInventorySnapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, n1, n2)
	assert.Equal(t, s1, s2)
}

func TestBuildPrescriptionSnapshotSortsByName(t *testing.T) {
	snaps := BuildPrescriptionSnapshot([]model.PrescriptionMedicine{
		{Name: "  Zinc ", Dosage: "50mg", Quantity: 1},
		{Name: "amoxicillin", Dosage: "250mg", Quantity: 2},
		{Name: "Ibuprofen", Dosage: "200mg", Quantity: 3},
	})

	require.Len(t, snaps, 3)
	assert.Equal(t, "amoxicillin", snaps[0].Name)
	assert.Equal(t, "Ibuprofen", snaps[1].Name)
	assert.Equal(t, "Zinc", snaps[2].Name)
}
