package dispense

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rxledger/internal/chain"
	"github.com/jwalitptl/rxledger/internal/model"
	"github.com/jwalitptl/rxledger/internal/repository/memory"
	"github.com/jwalitptl/rxledger/internal/service/merkle"
	"github.com/jwalitptl/rxledger/internal/service/prescription"
	"github.com/jwalitptl/rxledger/internal/service/risk"
	"github.com/jwalitptl/rxledger/internal/service/snapshot"
	"github.com/jwalitptl/rxledger/internal/service/stock"
	"github.com/jwalitptl/rxledger/pkg/clock"
	apperrors "github.com/jwalitptl/rxledger/pkg/errors"
	"github.com/jwalitptl/rxledger/pkg/logger"
	"github.com/jwalitptl/rxledger/pkg/metrics"
	"github.com/jwalitptl/rxledger/pkg/store"
)

type fixture struct {
	svc           *Service
	stock         *stock.Service
	statuses      *prescription.Service
	batches       *memory.BatchRepository
	prescriptions *memory.PrescriptionRepository
	outbox        *memory.OutboxRepository
	oracle        *chain.MemoryOracle
	clock         *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	batches := memory.NewBatchRepository()
	prescriptions := memory.NewPrescriptionRepository()
	outbox := memory.NewOutboxRepository()
	oracle := chain.NewMemoryOracle()
	clk := clock.NewFake(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	m := metrics.NewMetricsWith(prometheus.NewRegistry(), "rxledger", "test")
	log := logger.Nop()

	merkleSvc := merkle.NewService(snapshot.NewService(batches), oracle, log, m, time.Second)
	stockSvc := stock.NewService(batches, outbox, merkleSvc, clk, log, m)
	statusSvc := prescription.NewService(prescriptions, log)
	riskSvc := risk.NewService(store.NewMemory(time.Minute), clk, log)

	return &fixture{
		svc:           NewService(statusSvc, stockSvc, merkleSvc, riskSvc, outbox, clk, log, m),
		stock:         stockSvc,
		statuses:      statusSvc,
		batches:       batches,
		prescriptions: prescriptions,
		outbox:        outbox,
		oracle:        oracle,
		clock:         clk,
	}
}

func (f *fixture) seedBatch(t *testing.T, batchID, medicine string, qty int64) {
	t.Helper()
	_, err := f.stock.RegisterBatch(context.Background(), &model.RegisterBatchRequest{
		BatchID:      batchID,
		MedicineName: medicine,
		SupplierID:   "SUP-1",
		Quantity:     qty,
		ExpiryDate:   f.clock.Now().Add(90 * 24 * time.Hour),
		PricePerUnit: decimal.RequireFromString("1.25"),
	})
	require.NoError(t, err)
}

func (f *fixture) seedPrescription(t *testing.T, id string, status model.PrescriptionStatus) {
	t.Helper()
	err := f.prescriptions.Create(context.Background(), &model.Prescription{
		BlockchainID: id,
		PatientRef:   "patient-1",
		IssuerRef:    "issuer-1",
		Status:       status,
		MaxUsage:     3,
		ExpiryDate:   f.clock.Now().Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)
}

func (f *fixture) status(t *testing.T, id string) model.PrescriptionStatus {
	t.Helper()
	p, err := f.prescriptions.GetByBlockchainID(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

func request(id string, qty int64) *model.DispenseRequest {
	return &model.DispenseRequest{
		PrescriptionID: id,
		PatientRef:     "patient-1",
		ActorRef:       "pharmacist-1",
		Items: []model.DispenseItem{
			{MedicineName: "Paracetamol", Quantity: qty},
		},
	}
}

func TestDispenseHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedBatch(t, "B1", "Paracetamol", 8)
	f.seedPrescription(t, "rx-1", model.PrescriptionStatusActive)

	rootBefore, err := f.oracle.GetInventoryRoot(ctx)
	require.NoError(t, err)

	res, err := f.svc.Dispense(ctx, request("rx-1", 4))
	require.NoError(t, err)

	assert.Equal(t, model.PrescriptionStatusDispensed, res.Status)
	require.Len(t, res.Deductions, 1)
	assert.Equal(t, int64(4), res.Deductions[0].Taken)
	assert.NotEqual(t, rootBefore, res.NewRoot, "the anchored root must reflect the deduction")
	assert.Equal(t, model.PrescriptionStatusDispensed, f.status(t, "rx-1"))

	rootAfter, err := f.oracle.GetInventoryRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.NewRoot, rootAfter)

	// Usage is confirmed by the reconciler, not the synchronous path.
	p, err := f.prescriptions.GetByBlockchainID(ctx, "rx-1")
	require.NoError(t, err)
	assert.Zero(t, p.UsageCount)
}

func TestDispenseInsufficientStockReleasesClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedBatch(t, "B1", "Paracetamol", 8)
	f.seedPrescription(t, "rx-1", model.PrescriptionStatusActive)

	rootBefore, err := f.oracle.GetInventoryRoot(ctx)
	require.NoError(t, err)

	_, err = f.svc.Dispense(ctx, request("rx-1", 10))
	var insufficient *apperrors.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	assert.Equal(t, model.PrescriptionStatusActive, f.status(t, "rx-1"),
		"a failed dispense must return the prescription to circulation")

	rootAfter, err := f.oracle.GetInventoryRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, rootBefore, rootAfter, "a failed dispense must not move the anchored root")

	// Stock untouched, so a corrected request succeeds.
	res, err := f.svc.Dispense(ctx, request("rx-1", 8))
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.Deductions[0].Taken)
}

func TestDispenseBlockedWhenNotActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedBatch(t, "B1", "Paracetamol", 8)

	for _, status := range []model.PrescriptionStatus{
		model.PrescriptionStatusCreated,
		model.PrescriptionStatusUsed,
		model.PrescriptionStatusExpired,
		model.PrescriptionStatusPendingDispense,
	} {
		id := "rx-" + string(status)
		f.seedPrescription(t, id, status)

		_, err := f.svc.Dispense(ctx, request(id, 1))
		require.Error(t, err, "status %s must not be dispensable", status)
		assert.Equal(t, status, f.status(t, id), "blocked dispense must not change status")
	}
}

func TestDispenseAbortsOnTamperedInventory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedBatch(t, "B1", "Paracetamol", 8)
	f.seedPrescription(t, "rx-1", model.PrescriptionStatusActive)

	// Out-of-band anchor that does not match local state.
	f.oracle.SetRoot("deadbeef")

	_, err := f.svc.Dispense(ctx, request("rx-1", 1))
	var tampered *apperrors.InventoryTamperedError
	require.ErrorAs(t, err, &tampered)

	assert.Equal(t, model.PrescriptionStatusActive, f.status(t, "rx-1"))
	qty, qErr := f.stock.AvailableQuantity(ctx, "Paracetamol")
	require.NoError(t, qErr)
	assert.Equal(t, int64(8), qty, "no stock moves on a tampered inventory")
}

func TestDispenseFailsClosedWhenChainUnreachable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedBatch(t, "B1", "Paracetamol", 8)
	f.seedPrescription(t, "rx-1", model.PrescriptionStatusActive)
	f.oracle.Unreachable("fetch_root")

	_, err := f.svc.Dispense(ctx, request("rx-1", 1))
	var unreachable *apperrors.ChainUnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, model.PrescriptionStatusActive, f.status(t, "rx-1"))
}

func TestDispenseRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Dispense(ctx, &model.DispenseRequest{PrescriptionID: "", Items: nil})
	assert.Error(t, err)
}

func TestDispenseStagesCompletionEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedBatch(t, "B1", "Paracetamol", 8)
	f.seedPrescription(t, "rx-1", model.PrescriptionStatusActive)

	_, err := f.svc.Dispense(ctx, request("rx-1", 2))
	require.NoError(t, err)

	var found bool
	for _, ev := range f.outbox.Events() {
		if ev.EventType == model.EventDispenseCompleted {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDispenseReportsRiskOnRapidRepeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedBatch(t, "B1", "Paracetamol", 100)

	var last *model.DispenseResult
	for i := 0; i < 5; i++ {
		id := string(rune('a'+i)) + "-rx"
		f.seedPrescription(t, id, model.PrescriptionStatusActive)
		res, err := f.svc.Dispense(ctx, request(id, 1))
		require.NoError(t, err)
		last = res
		f.clock.Advance(time.Minute)
	}

	assert.Equal(t, 0.8, last.RiskScore)
}

func TestVerifyIntegrityPassthrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedBatch(t, "B1", "Paracetamol", 8)

	report, err := f.svc.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 1, report.BatchCount)

	f.oracle.SetRoot("deadbeef")
	report, err = f.svc.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, report.Valid)
}
