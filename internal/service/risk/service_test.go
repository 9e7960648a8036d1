package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rxledger/pkg/clock"
	"github.com/jwalitptl/rxledger/pkg/logger"
	"github.com/jwalitptl/rxledger/pkg/store"
)

func newService(t *testing.T) (*Service, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewService(store.NewMemory(time.Minute), clk, logger.Nop()), clk
}

func TestScoreNormalUsage(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	a := svc.RecordAndScore(ctx, "patient", "p-1")
	assert.Zero(t, a.Score)
	assert.Equal(t, 1, a.CountLastHour)
}

func TestScoreModerateFrequency(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	svc.RecordAndScore(ctx, "patient", "p-1")
	clk.Advance(10 * time.Minute)
	a := svc.RecordAndScore(ctx, "patient", "p-1")

	assert.Equal(t, 0.3, a.Score)
	assert.Equal(t, 2, a.CountLastHour)
}

func TestScoreHighFrequency(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	var a Assessment
	for i := 0; i < 4; i++ {
		a = svc.RecordAndScore(ctx, "patient", "p-1")
		clk.Advance(time.Minute)
	}

	assert.Equal(t, 0.8, a.Score)
	assert.Equal(t, 4, a.CountLastHour)
}

func TestScoreWindowSlides(t *testing.T) {
	svc, clk := newService(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		svc.RecordAndScore(ctx, "patient", "p-1")
		clk.Advance(time.Minute)
	}

	clk.Advance(2 * time.Hour)
	a := svc.RecordAndScore(ctx, "patient", "p-1")

	assert.Zero(t, a.Score, "events outside the window must not count")
	assert.Equal(t, 1, a.CountLastHour)
}

func TestScoreIsolatedPerReference(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		svc.RecordAndScore(ctx, "patient", "p-1")
	}
	a := svc.RecordAndScore(ctx, "patient", "p-2")
	assert.Zero(t, a.Score)

	// Same ref under a different kind is a separate history too.
	a = svc.RecordAndScore(ctx, "actor", "p-1")
	assert.Zero(t, a.Score)
}

func TestScoreReadsWithoutRecording(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	svc.RecordAndScore(ctx, "patient", "p-1")

	a, err := svc.Score(ctx, "patient", "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, a.CountLastHour)

	a, err = svc.Score(ctx, "patient", "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, a.CountLastHour, "Score must not append to the history")
}

func TestScoreEmptyReference(t *testing.T) {
	svc, _ := newService(t)
	a := svc.RecordAndScore(context.Background(), "patient", "")
	assert.Zero(t, a.Score)
	assert.Zero(t, a.CountLastHour)
}
