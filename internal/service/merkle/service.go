// Package merkle maintains the verifiable inventory root: a binary Merkle
// tree over canonical batch snapshots, anchored to the external ledger after
// every inventory mutation.
package merkle

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/jwalitptl/rxledger/internal/chain"
	"github.com/jwalitptl/rxledger/internal/model"
	"github.com/jwalitptl/rxledger/internal/service/snapshot"
	apperrors "github.com/jwalitptl/rxledger/pkg/errors"
	"github.com/jwalitptl/rxledger/pkg/logger"
	"github.com/jwalitptl/rxledger/pkg/metrics"
)

// EmptyRoot is the root of an inventory with no active batches: the keccak256
// of zero bytes. It must stay distinct from the ledger's never-anchored
// sentinel, otherwise anchoring an emptied inventory would re-open the
// first-time-setup pass in VerifyRootOrAbort and turn the tamper gate off.
const EmptyRoot = "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"

type Service struct {
	snapshots *snapshot.Service
	oracle    chain.Oracle
	logger    *logger.Logger
	metrics   *metrics.Metrics
	// Timeout applied to each oracle call.
	callTimeout time.Duration
}

func NewService(snapshots *snapshot.Service, oracle chain.Oracle, log *logger.Logger, m *metrics.Metrics, callTimeout time.Duration) *Service {
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &Service{
		snapshots:   snapshots,
		oracle:      oracle,
		logger:      log,
		metrics:     m,
		callTimeout: callTimeout,
	}
}

// BuildMerkleRoot folds leaf hashes into a single root. Each pair is sorted
// before concatenation so the same two children always produce the same
// parent regardless of array position; an unpaired trailing leaf promotes
// unchanged. Zero leaves yield EmptyRoot, one leaf is its own root.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return EmptyRoot
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}

func hashPair(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(pair[0] + pair[1]))
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeInventoryRoot hashes every ACTIVE batch snapshot and folds the
// leaves into the current local root.
func (s *Service) ComputeInventoryRoot(ctx context.Context) (string, int, error) {
	snaps, count, err := s.snapshots.BuildInventorySnapshot(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("failed to build inventory snapshot: %w", err)
	}

	leaves := make([]string, 0, count)
	for i := range snaps {
		leaf, err := snapshot.DeterministicHash(&snaps[i])
		if err != nil {
			return "", 0, fmt.Errorf("failed to hash batch %s: %w", snaps[i].BatchID, err)
		}
		leaves = append(leaves, leaf)
	}

	s.metrics.ActiveBatchGauge.Set(float64(count))
	return BuildMerkleRoot(leaves), count, nil
}

// FetchExternalRoot reads the anchored root. Connectivity failures surface as
// ChainUnreachableError; there is no silent fallback to "valid".
func (s *Service) FetchExternalRoot(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	root, err := s.oracle.GetInventoryRoot(ctx)
	if err != nil {
		s.metrics.ChainUnreachable.Inc()
		if apperrors.IsRetryable(err) {
			return "", err
		}
		return "", apperrors.NewChainUnreachable("fetch_root", err)
	}
	return root, nil
}

// VerifyRootOrAbort is the pre-mutation gate: it compares the local root to
// the anchored one and returns InventoryTamperedError on mismatch. An
// unanchored sentinel passes as first-time setup. Stock deduction must not
// proceed when this returns any error.
func (s *Service) VerifyRootOrAbort(ctx context.Context) error {
	localRoot, count, err := s.ComputeInventoryRoot(ctx)
	if err != nil {
		return err
	}

	externalRoot, err := s.FetchExternalRoot(ctx)
	if err != nil {
		return err
	}

	if chain.IsZeroRoot(externalRoot) {
		return nil
	}
	if localRoot != externalRoot {
		s.metrics.TamperDetections.Inc()
		s.logger.Error(nil, "inventory root mismatch",
			"local_root", localRoot,
			"external_root", externalRoot,
			"batch_count", count)
		return apperrors.NewInventoryTampered(localRoot, externalRoot, count)
	}
	return nil
}

// VerifyInventoryRoot is the non-throwing audit variant of the same
// comparison, for status endpoints. Oracle failures still propagate, since a
// report that cannot read the anchored root has nothing truthful to say.
func (s *Service) VerifyInventoryRoot(ctx context.Context) (*model.IntegrityReport, error) {
	localRoot, count, err := s.ComputeInventoryRoot(ctx)
	if err != nil {
		return nil, err
	}
	externalRoot, err := s.FetchExternalRoot(ctx)
	if err != nil {
		return nil, err
	}

	valid := chain.IsZeroRoot(externalRoot) || localRoot == externalRoot
	return &model.IntegrityReport{
		Valid:        valid,
		LocalRoot:    localRoot,
		ExternalRoot: externalRoot,
		BatchCount:   count,
	}, nil
}

// AnchorInventoryRoot computes the current root and anchors it, waiting for
// the receipt. A failed anchor is a failed mutation: callers must roll back
// whatever local change the anchor was meant to represent.
func (s *Service) AnchorInventoryRoot(ctx context.Context) (string, *chain.AnchorReceipt, error) {
	root, count, err := s.ComputeInventoryRoot(ctx)
	if err != nil {
		return "", nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := s.oracle.AnchorInventoryRoot(callCtx, root)
	s.metrics.AnchorLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.AnchorAttempts.WithLabelValues("error").Inc()
		return "", nil, fmt.Errorf("failed to anchor inventory root: %w", err)
	}
	s.metrics.AnchorAttempts.WithLabelValues("success").Inc()

	s.logger.Info("anchored inventory root",
		"root", root,
		"batch_count", count,
		"tx_hash", receipt.TxHash,
		"block", receipt.BlockNumber)
	return root, receipt, nil
}
