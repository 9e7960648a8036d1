package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/rxledger/internal/service/reconciler"
	"github.com/jwalitptl/rxledger/pkg/logger"
)

// ReconcilePoller drives the reconciler from its checkpoint on a fixed
// cadence. Failures are transient by assumption: the checkpoint did not move,
// so the next tick retries the same range.
type ReconcilePoller struct {
	reconciler *reconciler.Service
	interval   time.Duration
	logger     *logger.Logger
}

func NewReconcilePoller(svc *reconciler.Service, interval time.Duration, log *logger.Logger) *ReconcilePoller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ReconcilePoller{
		reconciler: svc,
		interval:   interval,
		logger:     log,
	}
}

func (w *ReconcilePoller) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("starting reconciliation poller", "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutting down reconciliation poller")
			return
		case <-ticker.C:
			if _, err := w.reconciler.RunFromCheckpoint(ctx); err != nil {
				w.logger.Error(err, "reconciliation pass failed")
			}
		}
	}
}
