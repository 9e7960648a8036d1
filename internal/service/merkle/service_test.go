package merkle

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
	"github.com/jwalitptl/rxledger/internal/service/snapshot"
	apperrors "github.com/jwalitptl/rxledger/pkg/errors"
	"github.com/jwalitptl/rxledger/pkg/logger"
	"github.com/jwalitptl/rxledger/pkg/metrics"
)

func newFixture(t *testing.T) (*Service, *memory.BatchRepository, *chain.MemoryOracle) {
	t.Helper()
	batches := memory.NewBatchRepository()
	oracle := chain.NewMemoryOracle()
	m := metrics.NewMetricsWith(prometheus.NewRegistry(), "rxledger", "test")
	svc := NewService(snapshot.NewService(batches), oracle, logger.Nop(), m, time.Second)
	return svc, batches, oracle
}

func seedBatch(t *testing.T, repo *memory.BatchRepository, batchID, medicine string, qty int64) {
	t.Helper()
	err := repo.Create(context.Background(), &model.InventoryBatch{
		BatchID:           batchID,
		MedicineID:        medicine,
		MedicineName:      medicine,
		QuantityInitial:   qty,
		QuantityAvailable: qty,
		ExpiryDate:        time.Now().UTC().Add(365 * 24 * time.Hour),
		PricePerUnit:      decimal.NewFromInt(3),
		Status:            model.BatchStatusActive,
	})
	require.NoError(t, err)
}

func TestBuildMerkleRootEmpty(t *testing.T) {
	assert.Equal(t, EmptyRoot, BuildMerkleRoot(nil))
	assert.Equal(t, EmptyRoot, BuildMerkleRoot([]string{}))
}

func TestEmptyRootIsNotTheUnanchoredSentinel(t *testing.T) {
	assert.False(t, chain.IsZeroRoot(EmptyRoot))
}

func TestBuildMerkleRootSingleLeafIsItsOwnRoot(t *testing.T) {
	assert.Equal(t, "aa", BuildMerkleRoot([]string{"aa"}))
}

func TestBuildMerkleRootPairIsOrderInsensitive(t *testing.T) {
	ab := BuildMerkleRoot([]string{"aa", "bb"})
	ba := BuildMerkleRoot([]string{"bb", "aa"})

	assert.Equal(t, ab, ba)
	assert.NotEqual(t, "aa", ab)
	assert.Len(t, ab, 64)
}

func TestBuildMerkleRootOddLeafPromotes(t *testing.T) {
	// With three leaves the trailing leaf carries up unchanged, so the root
	// is hash(hash(a,b), c).
	abc := BuildMerkleRoot([]string{"aa", "bb", "cc"})
	want := BuildMerkleRoot([]string{BuildMerkleRoot([]string{"aa", "bb"}), "cc"})
	assert.Equal(t, want, abc)
}

func TestBuildMerkleRootDoesNotMutateInput(t *testing.T) {
	leaves := []string{"cc", "aa", "bb"}
	BuildMerkleRoot(leaves)
	assert.Equal(t, []string{"cc", "aa", "bb"}, leaves)
}

func TestComputeInventoryRootEmptyInventory(t *testing.T) {
	svc, _, _ := newFixture(t)

	root, count, err := svc.ComputeInventoryRoot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EmptyRoot, root)
	assert.Zero(t, count)
}

func TestComputeInventoryRootChangesWithStock(t *testing.T) {
	svc, batches, _ := newFixture(t)
	ctx := context.Background()

	seedBatch(t, batches, "B1", "paracetamol", 10)
	r1, n1, err := svc.ComputeInventoryRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n1)

	seedBatch(t, batches, "B2", "ibuprofen", 5)
	r2, n2, err := svc.ComputeInventoryRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n2)

	assert.NotEqual(t, r1, r2)
	assert.NotEqual(t, EmptyRoot, r1)
}

func TestVerifyRootOrAbortFirstTimeSetupPasses(t *testing.T) {
	svc, batches, _ := newFixture(t)
	seedBatch(t, batches, "B1", "paracetamol", 10)

	// Oracle still reports the unanchored sentinel.
	assert.NoError(t, svc.VerifyRootOrAbort(context.Background()))
}

func TestVerifyRootOrAbortDetectsMismatch(t *testing.T) {
	svc, batches, oracle := newFixture(t)
	seedBatch(t, batches, "B1", "paracetamol", 10)
	oracle.SetRoot("deadbeef")

	err := svc.VerifyRootOrAbort(context.Background())
	require.Error(t, err)

	var tampered *apperrors.InventoryTamperedError
	require.ErrorAs(t, err, &tampered)
	assert.Equal(t, "deadbeef", tampered.ExternalRoot)
	assert.Equal(t, 1, tampered.BatchCount)
}

func TestVerifyRootOrAbortFailsClosedWhenChainUnreachable(t *testing.T) {
	svc, batches, oracle := newFixture(t)
	seedBatch(t, batches, "B1", "paracetamol", 10)
	oracle.Unreachable("fetch_root")

	err := svc.VerifyRootOrAbort(context.Background())
	require.Error(t, err)

	var unreachable *apperrors.ChainUnreachableError
	assert.ErrorAs(t, err, &unreachable)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestVerifyRootOrAbortArmedAfterAnchoringEmptyInventory(t *testing.T) {
	svc, batches, oracle := newFixture(t)
	ctx := context.Background()

	// Anchor with nothing in stock. The anchored value is the empty root,
	// not the unanchored sentinel, so the gate stays armed.
	root, _, err := svc.AnchorInventoryRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, EmptyRoot, root)
	assert.False(t, chain.IsZeroRoot(oracle.Root()))
	assert.NoError(t, svc.VerifyRootOrAbort(ctx))

	// A batch injected behind the service's back must now trip verification.
	seedBatch(t, batches, "GHOST", "paracetamol", 999)

	err = svc.VerifyRootOrAbort(ctx)
	var tampered *apperrors.InventoryTamperedError
	require.ErrorAs(t, err, &tampered)
	assert.Equal(t, EmptyRoot, tampered.ExternalRoot)
	assert.Equal(t, 1, tampered.BatchCount)
}

func TestVerifyRootOrAbortMatchingRootPasses(t *testing.T) {
	svc, batches, _ := newFixture(t)
	seedBatch(t, batches, "B1", "paracetamol", 10)
	ctx := context.Background()

	_, _, err := svc.AnchorInventoryRoot(ctx)
	require.NoError(t, err)

	assert.NoError(t, svc.VerifyRootOrAbort(ctx))
}

func TestAnchorInventoryRootRecordsReceipt(t *testing.T) {
	svc, batches, oracle := newFixture(t)
	seedBatch(t, batches, "B1", "paracetamol", 10)
	ctx := context.Background()

	root, receipt, err := svc.AnchorInventoryRoot(ctx)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.NotEmpty(t, receipt.TxHash)

	assert.Equal(t, []string{root}, oracle.Anchors())

	external, err := oracle.GetInventoryRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, external)
}

func TestVerifyInventoryRootReportsWithoutFailing(t *testing.T) {
	svc, batches, oracle := newFixture(t)
	seedBatch(t, batches, "B1", "paracetamol", 10)
	ctx := context.Background()

	oracle.SetRoot("deadbeef")
	report, err := svc.VerifyInventoryRoot(ctx)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, "deadbeef", report.ExternalRoot)
	assert.Equal(t, 1, report.BatchCount)

	oracle.SetRoot(report.LocalRoot)
	report, err = svc.VerifyInventoryRoot(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
}
