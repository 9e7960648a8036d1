// Package memory provides in-process implementations of the repository
// interfaces. They back the service tests and single-binary demo runs; the
// postgres implementations are the production path.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/rxledger/internal/model"
	"github.com/jwalitptl/rxledger/internal/repository"
)

// BatchRepository is an in-memory repository.BatchRepository.
type BatchRepository struct {
	mu      sync.Mutex
	batches map[string]*model.InventoryBatch

	// FailUpdateOn injects a storage fault: UpdateStock for this batch id
	// fails with FailErr. Used to exercise the rollback journal.
	FailUpdateOn string
	FailErr      error
}

func NewBatchRepository() *BatchRepository {
	return &BatchRepository{batches: make(map[string]*model.InventoryBatch)}
}

func (r *BatchRepository) Create(_ context.Context, batch *model.InventoryBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch.ID = uuid.New()
	batch.CreatedAt = time.Now()
	batch.UpdatedAt = time.Now()
	cp := *batch
	r.batches[batch.BatchID] = &cp
	return nil
}

func (r *BatchRepository) GetByBatchID(_ context.Context, batchID string) (*model.InventoryBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *BatchRepository) ListActive(_ context.Context) ([]*model.InventoryBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.InventoryBatch
	for _, b := range r.batches {
		if b.Status == model.BatchStatusActive {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MedicineID != out[j].MedicineID {
			return out[i].MedicineID < out[j].MedicineID
		}
		return out[i].BatchID < out[j].BatchID
	})
	return out, nil
}

func (r *BatchRepository) ListActiveByMedicine(_ context.Context, medicineID string, asOf time.Time) ([]*model.InventoryBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.InventoryBatch
	for _, b := range r.batches {
		if b.Status == model.BatchStatusActive && b.MedicineID == medicineID && b.ExpiryDate.After(asOf) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		return out[i].BatchID < out[j].BatchID
	})
	return out, nil
}

func (r *BatchRepository) ListExpiredActive(_ context.Context, asOf time.Time) ([]*model.InventoryBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.InventoryBatch
	for _, b := range r.batches {
		if b.Status == model.BatchStatusActive && b.ExpiryDate.Before(asOf) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryDate.Before(out[j].ExpiryDate) })
	return out, nil
}

func (r *BatchRepository) UpdateStock(_ context.Context, batchID string, quantity int64, status model.BatchStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailUpdateOn == batchID && r.FailErr != nil {
		return r.FailErr
	}
	b, ok := r.batches[batchID]
	if !ok {
		return repository.ErrNotFound
	}
	b.QuantityAvailable = quantity
	b.Status = status
	b.UpdatedAt = time.Now()
	return nil
}

func (r *BatchRepository) Delete(_ context.Context, batchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[batchID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.batches, batchID)
	return nil
}

// PrescriptionRepository is an in-memory repository.PrescriptionRepository.
type PrescriptionRepository struct {
	mu      sync.Mutex
	records map[string]*model.Prescription
}

func NewPrescriptionRepository() *PrescriptionRepository {
	return &PrescriptionRepository{records: make(map[string]*model.Prescription)}
}

func (r *PrescriptionRepository) Create(_ context.Context, p *model.Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
	cp := *p
	r.records[p.BlockchainID] = &cp
	return nil
}

func (r *PrescriptionRepository) CreateIfAbsent(_ context.Context, p *model.Prescription) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[p.BlockchainID]; ok {
		return false, nil
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
	cp := *p
	r.records[p.BlockchainID] = &cp
	return true, nil
}

func (r *PrescriptionRepository) GetByBlockchainID(_ context.Context, blockchainID string) (*model.Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.records[blockchainID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *PrescriptionRepository) UpdateStatusGuarded(_ context.Context, blockchainID string, target model.PrescriptionStatus, sources []model.PrescriptionStatus, effects model.TransitionEffects) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.records[blockchainID]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range sources {
		if p.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	p.Status = target
	if effects.IncrementUsage {
		p.UsageCount++
	}
	if effects.DispensedAt != nil {
		t := *effects.DispensedAt
		p.DispensedAt = &t
	}
	if effects.TxHash != nil {
		p.TxHash = *effects.TxHash
	}
	if effects.BlockNumber != nil {
		p.BlockNumber = *effects.BlockNumber
	}
	if effects.InvoiceID != nil {
		id := *effects.InvoiceID
		p.InvoiceID = &id
	}
	if effects.MarkSynced {
		p.BlockchainSynced = true
	}
	p.UpdatedAt = time.Now()
	return true, nil
}

func (r *PrescriptionRepository) MarkSynced(_ context.Context, blockchainID, txHash string, blockNumber int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.records[blockchainID]
	if !ok || p.BlockchainSynced {
		return false, nil
	}
	p.BlockchainSynced = true
	p.TxHash = txHash
	p.BlockNumber = blockNumber
	p.UpdatedAt = time.Now()
	return true, nil
}

func (r *PrescriptionRepository) ListExpiredUnterminated(_ context.Context, asOf time.Time) ([]*model.Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Prescription
	for _, p := range r.records {
		sweepable := p.Status == model.PrescriptionStatusActive || p.Status == model.PrescriptionStatusDispensed
		if sweepable && p.ExpiryDate.Before(asOf) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryDate.Before(out[j].ExpiryDate) })
	return out, nil
}

// CheckpointRepository is an in-memory repository.CheckpointRepository.
type CheckpointRepository struct {
	mu    sync.Mutex
	block int64
}

func NewCheckpointRepository() *CheckpointRepository {
	return &CheckpointRepository{}
}

func (r *CheckpointRepository) Get(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.block, nil
}

func (r *CheckpointRepository) Set(_ context.Context, blockNumber int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.block = blockNumber
	return nil
}

// OutboxRepository is an in-memory repository.OutboxRepository.
type OutboxRepository struct {
	mu     sync.Mutex
	events []*model.OutboxEvent
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{}
}

func (r *OutboxRepository) Create(_ context.Context, event *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = uuid.New()
	event.CreatedAt = time.Now()
	event.Status = model.OutboxStatusPending
	cp := *event
	r.events = append(r.events, &cp)
	return nil
}

func (r *OutboxRepository) GetPendingWithLock(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.OutboxEvent
	for _, ev := range r.events {
		if ev.Status == model.OutboxStatusPending {
			cp := *ev
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *OutboxRepository) MarkProcessed(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, ev := range r.events {
		if ev.ID == id {
			ev.Status = model.OutboxStatusProcessed
			ev.ProcessedAt = &now
		}
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID == id {
			ev.Status = model.OutboxStatusFailed
			ev.ErrorMessage = &errMsg
			ev.RetryCount++
		}
	}
	return nil
}

// Events returns a copy of every staged event, for assertions.
func (r *OutboxRepository) Events() []*model.OutboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.OutboxEvent, 0, len(r.events))
	for _, ev := range r.events {
		cp := *ev
		out = append(out, &cp)
	}
	return out
}
