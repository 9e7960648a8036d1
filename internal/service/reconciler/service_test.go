package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rxledger/internal/chain"
	"github.com/jwalitptl/rxledger/internal/model"
	"github.com/jwalitptl/rxledger/internal/repository/memory"
	"github.com/jwalitptl/rxledger/internal/service/prescription"
	"github.com/jwalitptl/rxledger/pkg/clock"
	"github.com/jwalitptl/rxledger/pkg/logger"
	"github.com/jwalitptl/rxledger/pkg/metrics"
)

type fixture struct {
	svc           *Service
	prescriptions *memory.PrescriptionRepository
	checkpoints   *memory.CheckpointRepository
	outbox        *memory.OutboxRepository
	oracle        *chain.MemoryOracle
	clock         *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	prescriptions := memory.NewPrescriptionRepository()
	checkpoints := memory.NewCheckpointRepository()
	outbox := memory.NewOutboxRepository()
	oracle := chain.NewMemoryOracle()
	clk := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	m := metrics.NewMetricsWith(prometheus.NewRegistry(), "rxledger", "test")
	statuses := prescription.NewService(prescriptions, logger.Nop())
	return &fixture{
		svc:           NewService(prescriptions, checkpoints, outbox, statuses, oracle, clk, logger.Nop(), m),
		prescriptions: prescriptions,
		checkpoints:   checkpoints,
		outbox:        outbox,
		oracle:        oracle,
		clock:         clk,
	}
}

func TestReconcileSingleInsertsRecoveredRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expiry := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	f.oracle.PutPrescription("rx-1", chain.PrescriptionState{
		Exists:     true,
		Status:     model.PrescriptionStatusActive,
		UsageCount: 1,
		MaxUsage:   3,
		ExpiryUnix: expiry.Unix(),
	})

	result, err := f.svc.ReconcileSinglePrescription(ctx, "rx-1", "0xissuer", 10, "0xtx")
	require.NoError(t, err)
	assert.Equal(t, ResultInserted, result)

	p, err := f.prescriptions.GetByBlockchainID(ctx, "rx-1")
	require.NoError(t, err)
	assert.True(t, p.Recovered)
	assert.Equal(t, model.RecoveredPatientRef, p.PatientRef)
	assert.Equal(t, "0xissuer", p.IssuerRef)
	assert.Equal(t, 1, p.UsageCount)
	assert.Equal(t, 3, p.MaxUsage)
	assert.True(t, p.BlockchainSynced)
	assert.True(t, p.ExpiryDate.Equal(expiry))
}

func TestReconcileSingleIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.oracle.PutPrescription("rx-1", chain.PrescriptionState{
		Exists: true,
		Status: model.PrescriptionStatusActive,
	})

	result, err := f.svc.ReconcileSinglePrescription(ctx, "rx-1", "", 10, "0xtx")
	require.NoError(t, err)
	assert.Equal(t, ResultInserted, result)

	result, err = f.svc.ReconcileSinglePrescription(ctx, "rx-1", "", 11, "0xtx2")
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, result)
}

func TestReconcileSingleUnknownIssuerFallsBackToSentinel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.oracle.PutPrescription("rx-1", chain.PrescriptionState{
		Exists: true,
		Status: model.PrescriptionStatusActive,
	})

	_, err := f.svc.ReconcileSinglePrescription(ctx, "rx-1", "", 10, "0xtx")
	require.NoError(t, err)

	p, err := f.prescriptions.GetByBlockchainID(ctx, "rx-1")
	require.NoError(t, err)
	assert.Equal(t, model.RecoveredIssuerRef, p.IssuerRef)
}

func TestReconcileSingleMarksExistingSynced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.prescriptions.Create(ctx, &model.Prescription{
		BlockchainID: "rx-1",
		PatientRef:   "patient-1",
		IssuerRef:    "issuer-1",
		Status:       model.PrescriptionStatusActive,
	}))

	result, err := f.svc.ReconcileSinglePrescription(ctx, "rx-1", "", 10, "0xtx")
	require.NoError(t, err)
	assert.Equal(t, ResultUpdated, result)

	p, err := f.prescriptions.GetByBlockchainID(ctx, "rx-1")
	require.NoError(t, err)
	assert.True(t, p.BlockchainSynced)
	assert.Equal(t, "0xtx", p.TxHash)
	assert.Equal(t, int64(10), p.BlockNumber)
	// Business fields stay exactly as the direct write left them.
	assert.Equal(t, "patient-1", p.PatientRef)
	assert.False(t, p.Recovered)
}

func TestReconcileSingleNonexistentOnLedgerIsSkipped(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.ReconcileSinglePrescription(context.Background(), "rx-ghost", "", 10, "0xtx")
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, result)

	_, err = f.prescriptions.GetByBlockchainID(context.Background(), "rx-ghost")
	assert.Error(t, err)
}

func TestReconcileFromEventsAdvancesCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.oracle.PutPrescription("rx-1", chain.PrescriptionState{Exists: true, Status: model.PrescriptionStatusActive})
	f.oracle.AppendEvent(chain.StatusEvent{
		PrescriptionID: "rx-1",
		BlockNumber:    5,
		TxHash:         "0xtx1",
		EventType:      chain.EventTypeCreated,
		NewStatus:      model.PrescriptionStatusActive,
	})

	summary, err := f.svc.ReconcileFromEvents(ctx, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
	assert.Zero(t, summary.Errored)

	checkpoint, err := f.checkpoints.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), checkpoint)
}

func TestReconcileFromEventsConfirmsDispense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A dispense was claimed locally but the confirmation never arrived.
	require.NoError(t, f.prescriptions.Create(ctx, &model.Prescription{
		BlockchainID: "rx-1",
		PatientRef:   "patient-1",
		IssuerRef:    "issuer-1",
		Status:       model.PrescriptionStatusPendingDispense,
		MaxUsage:     3,
	}))
	f.oracle.AppendEvent(chain.StatusEvent{
		PrescriptionID: "rx-1",
		BlockNumber:    7,
		TxHash:         "0xtx1",
		EventType:      chain.EventTypeDispensed,
		NewStatus:      model.PrescriptionStatusDispensed,
	})

	_, err := f.svc.ReconcileFromEvents(ctx, 1, 10)
	require.NoError(t, err)

	p, err := f.prescriptions.GetByBlockchainID(ctx, "rx-1")
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusDispensed, p.Status)
	assert.Equal(t, 1, p.UsageCount, "usage increments only on the confirmed event")
	assert.True(t, p.BlockchainSynced)
	require.NotNil(t, p.DispensedAt)
}

func TestDispenseConfirmationUsesEventTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blockTime := time.Date(2026, 7, 30, 9, 15, 0, 0, time.UTC)

	require.NoError(t, f.prescriptions.Create(ctx, &model.Prescription{
		BlockchainID: "rx-1",
		PatientRef:   "patient-1",
		IssuerRef:    "issuer-1",
		Status:       model.PrescriptionStatusPendingDispense,
		MaxUsage:     3,
	}))
	f.oracle.AppendEvent(chain.StatusEvent{
		PrescriptionID: "rx-1",
		BlockNumber:    7,
		TxHash:         "0xtx1",
		EventType:      chain.EventTypeDispensed,
		NewStatus:      model.PrescriptionStatusDispensed,
		Timestamp:      blockTime,
	})

	_, err := f.svc.ReconcileFromEvents(ctx, 1, 10)
	require.NoError(t, err)

	p, err := f.prescriptions.GetByBlockchainID(ctx, "rx-1")
	require.NoError(t, err)
	require.NotNil(t, p.DispensedAt)
	assert.True(t, p.DispensedAt.Equal(blockTime), "block time is the dispense time")
}

func TestDispenseConfirmationFallsBackToClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.prescriptions.Create(ctx, &model.Prescription{
		BlockchainID: "rx-1",
		PatientRef:   "patient-1",
		IssuerRef:    "issuer-1",
		Status:       model.PrescriptionStatusPendingDispense,
		MaxUsage:     3,
	}))
	f.oracle.AppendEvent(chain.StatusEvent{
		PrescriptionID: "rx-1",
		BlockNumber:    7,
		TxHash:         "0xtx1",
		EventType:      chain.EventTypeDispensed,
		NewStatus:      model.PrescriptionStatusDispensed,
	})

	_, err := f.svc.ReconcileFromEvents(ctx, 1, 10)
	require.NoError(t, err)

	p, err := f.prescriptions.GetByBlockchainID(ctx, "rx-1")
	require.NoError(t, err)
	require.NotNil(t, p.DispensedAt)
	assert.True(t, p.DispensedAt.Equal(f.clock.Now()), "events without a block time use the injected clock")
}

func TestReconcileFromEventsReplaySafe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.prescriptions.Create(ctx, &model.Prescription{
		BlockchainID: "rx-1",
		PatientRef:   "patient-1",
		IssuerRef:    "issuer-1",
		Status:       model.PrescriptionStatusPendingDispense,
		MaxUsage:     3,
	}))
	f.oracle.AppendEvent(chain.StatusEvent{
		PrescriptionID: "rx-1",
		BlockNumber:    7,
		TxHash:         "0xtx1",
		EventType:      chain.EventTypeDispensed,
		NewStatus:      model.PrescriptionStatusDispensed,
	})

	_, err := f.svc.ReconcileFromEvents(ctx, 1, 10)
	require.NoError(t, err)
	_, err = f.svc.ReconcileFromEvents(ctx, 1, 10)
	require.NoError(t, err)

	p, err := f.prescriptions.GetByBlockchainID(ctx, "rx-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.UsageCount, "replaying the same event must not double count")
}

func TestRunFromCheckpointNoNewBlocksIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.checkpoints.Set(ctx, 50))
	// MemoryOracle starts at block 1; nothing beyond the checkpoint.
	summary, err := f.svc.RunFromCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), summary.FromBlock)
	assert.Equal(t, int64(50), summary.ToBlock)
}

func TestReconcileFromEventsChainFailureLeavesCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.checkpoints.Set(ctx, 3))
	f.oracle.Unreachable("query_events")

	_, err := f.svc.ReconcileFromEvents(ctx, 4, 10)
	require.Error(t, err)

	checkpoint, err := f.checkpoints.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), checkpoint, "a failed pass must not advance the checkpoint")
}
