// Package risk scores dispense frequency anomalies: a patient collecting many
// prescriptions inside a short window is flagged for review. Histories live in
// the injected store rather than process memory, so every replica sees the
// same counts.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jwalitptl/rxledger/pkg/clock"
	"github.com/jwalitptl/rxledger/pkg/logger"
	"github.com/jwalitptl/rxledger/pkg/store"
)

// Scoring thresholds over a one-hour sliding window.
const (
	window = time.Hour

	highCount     = 3
	moderateCount = 1

	highScore     = 0.8
	moderateScore = 0.3
)

// Assessment is the risk verdict for one actor at one moment.
type Assessment struct {
	Score         float64 `json:"risk_score"`
	Reason        string  `json:"reason"`
	CountLastHour int     `json:"count_last_hour"`
}

type Service struct {
	store  store.Store
	clock  clock.Clock
	logger *logger.Logger
}

func NewService(st store.Store, clk clock.Clock, log *logger.Logger) *Service {
	return &Service{store: st, clock: clk, logger: log}
}

// RecordAndScore appends a dispense to the actor's history, prunes entries
// older than the window, and scores the result. Storage failures degrade to a
// zero score with a log line; risk scoring never blocks a dispense.
func (s *Service) RecordAndScore(ctx context.Context, kind, ref string) Assessment {
	if ref == "" {
		return Assessment{Reason: "no reference supplied"}
	}

	now := s.clock.Now()
	key := historyKey(kind, ref)

	history, err := s.loadHistory(ctx, key)
	if err != nil {
		s.logger.Error(err, "failed to load dispense history", "key", key)
		return Assessment{Reason: "history unavailable"}
	}

	history = append(history, now.Unix())
	history = prune(history, now)

	if err := s.saveHistory(ctx, key, history); err != nil {
		s.logger.Error(err, "failed to save dispense history", "key", key)
	}

	return score(len(history))
}

// Score reads the current window without recording a new event.
func (s *Service) Score(ctx context.Context, kind, ref string) (Assessment, error) {
	history, err := s.loadHistory(ctx, historyKey(kind, ref))
	if err != nil {
		return Assessment{}, err
	}
	return score(len(prune(history, s.clock.Now()))), nil
}

func score(count int) Assessment {
	switch {
	case count > highCount:
		return Assessment{
			Score:         highScore,
			Reason:        fmt.Sprintf("high frequency: %d dispenses in the last hour", count),
			CountLastHour: count,
		}
	case count > moderateCount:
		return Assessment{
			Score:         moderateScore,
			Reason:        "moderate frequency",
			CountLastHour: count,
		}
	default:
		return Assessment{
			Reason:        "normal usage pattern",
			CountLastHour: count,
		}
	}
}

func prune(history []int64, now time.Time) []int64 {
	cutoff := now.Add(-window).Unix()
	out := history[:0]
	for _, ts := range history {
		if ts > cutoff {
			out = append(out, ts)
		}
	}
	return out
}

func historyKey(kind, ref string) string {
	return "risk:" + kind + ":" + ref
}

func (s *Service) loadHistory(ctx context.Context, key string) ([]int64, error) {
	raw, err := s.store.Get(ctx, key)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var history []int64
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("corrupt history at %s: %w", key, err)
	}
	return history, nil
}

func (s *Service) saveHistory(ctx context.Context, key string, history []int64) error {
	raw, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, key, raw, window)
}
