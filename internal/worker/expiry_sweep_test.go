package worker

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
	"github.com/jwalitptl/rxledger/internal/service/snapshot"
	"github.com/jwalitptl/rxledger/internal/service/stock"
	"github.com/jwalitptl/rxledger/pkg/clock"
	"github.com/jwalitptl/rxledger/pkg/logger"
	"github.com/jwalitptl/rxledger/pkg/metrics"
)

func TestSweepRetiresExpiredState(t *testing.T) {
	ctx := context.Background()
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

	_, err := stockSvc.RegisterBatch(ctx, &model.RegisterBatchRequest{
		BatchID:      "B1",
		MedicineName: "Paracetamol",
		SupplierID:   "SUP-1",
		Quantity:     10,
		ExpiryDate:   clk.Now().Add(time.Hour),
		PricePerUnit: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	require.NoError(t, prescriptions.Create(ctx, &model.Prescription{
		BlockchainID: "rx-old",
		PatientRef:   "patient-1",
		IssuerRef:    "issuer-1",
		Status:       model.PrescriptionStatusActive,
		ExpiryDate:   clk.Now().Add(time.Hour),
	}))
	require.NoError(t, prescriptions.Create(ctx, &model.Prescription{
		BlockchainID: "rx-fresh",
		PatientRef:   "patient-2",
		IssuerRef:    "issuer-1",
		Status:       model.PrescriptionStatusActive,
		ExpiryDate:   clk.Now().Add(30 * 24 * time.Hour),
	}))

	w := NewExpirySweepWorker(stockSvc, statusSvc, prescriptions, clk, time.Hour, log, m)

	clk.Advance(2 * time.Hour)
	w.Sweep(ctx)

	b, err := batches.GetByBatchID(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusExpired, b.Status)

	old, err := prescriptions.GetByBlockchainID(ctx, "rx-old")
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusExpired, old.Status)

	fresh, err := prescriptions.GetByBlockchainID(ctx, "rx-fresh")
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusActive, fresh.Status)

	// Sweeping again is a no-op.
	w.Sweep(ctx)
	old, err = prescriptions.GetByBlockchainID(ctx, "rx-old")
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusExpired, old.Status)
}
