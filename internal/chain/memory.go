package chain

import (
	"context"
	"sync"

	apperrors "github.com/jwalitptl/rxledger/pkg/errors"
)

// MemoryOracle is an in-process Oracle for tests and local development. It can
// simulate connectivity failures and reverted anchors per operation.
type MemoryOracle struct {
	mu            sync.Mutex
	root          string
	block         int64
	prescriptions map[string]PrescriptionState
	events        []StatusEvent
	failOps       map[string]error
	anchors       []string
}

func NewMemoryOracle() *MemoryOracle {
	return &MemoryOracle{
		root:          ZeroRoot,
		block:         1,
		prescriptions: make(map[string]PrescriptionState),
		failOps:       make(map[string]error),
	}
}

// FailOp makes the named operation (fetch_root, anchor_root, query_events,
// get_prescription_state, latest_block) return err until cleared with a nil
// err.
func (o *MemoryOracle) FailOp(op string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		delete(o.failOps, op)
		return
	}
	o.failOps[op] = err
}

// Unreachable makes op fail with a ChainUnreachableError.
func (o *MemoryOracle) Unreachable(op string) {
	o.FailOp(op, apperrors.NewChainUnreachable(op, context.DeadlineExceeded))
}

// SetRoot overwrites the anchored root directly, bypassing anchoring. Tests
// use it to simulate tampering or out-of-band anchors.
func (o *MemoryOracle) SetRoot(root string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.root = root
}

// Root returns the currently anchored root.
func (o *MemoryOracle) Root() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.root
}

// PutPrescription seeds ledger state for id.
func (o *MemoryOracle) PutPrescription(id string, state PrescriptionState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prescriptions[id] = state
}

// AppendEvent adds a status event and advances the latest block to its block
// number if it is ahead.
func (o *MemoryOracle) AppendEvent(ev StatusEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
	if ev.BlockNumber > o.block {
		o.block = ev.BlockNumber
	}
}

// Anchors returns every root anchored so far, oldest first.
func (o *MemoryOracle) Anchors() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.anchors))
	copy(out, o.anchors)
	return out
}

func (o *MemoryOracle) GetPrescriptionState(_ context.Context, id string) (*PrescriptionState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.failOps["get_prescription_state"]; err != nil {
		return nil, err
	}
	state, ok := o.prescriptions[id]
	if !ok {
		return &PrescriptionState{Exists: false}, nil
	}
	state.Exists = true
	return &state, nil
}

func (o *MemoryOracle) GetInventoryRoot(_ context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.failOps["fetch_root"]; err != nil {
		return "", err
	}
	return o.root, nil
}

func (o *MemoryOracle) AnchorInventoryRoot(_ context.Context, root string) (*AnchorReceipt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.failOps["anchor_root"]; err != nil {
		return nil, err
	}
	o.block++
	o.root = root
	o.anchors = append(o.anchors, root)
	return &AnchorReceipt{
		TxHash:      "0xmem" + root[:16],
		BlockNumber: o.block,
	}, nil
}

func (o *MemoryOracle) QueryStatusEvents(_ context.Context, fromBlock, toBlock int64) ([]StatusEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.failOps["query_events"]; err != nil {
		return nil, err
	}
	var out []StatusEvent
	for _, ev := range o.events {
		if ev.BlockNumber >= fromBlock && ev.BlockNumber <= toBlock {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (o *MemoryOracle) LatestBlock(_ context.Context) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.failOps["latest_block"]; err != nil {
		return 0, err
	}
	return o.block, nil
}
