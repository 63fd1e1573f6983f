// README: Refinery model: cycle report, per-geohash outcomes and tuning knobs.
package refinery

import (
	"errors"
	"time"

	"vectra/internal/config"
)

// ErrPersistence wraps a failed write-back. The whole batch is discarded.
var ErrPersistence = errors.New("refinery write-back failed")

type outcome string

const (
	outcomeRefined      outcome = "refined"
	outcomeContended    outcome = "contended"
	outcomeInsufficient outcome = "insufficient"
	outcomeFailed       outcome = "failed"
)

type Config struct {
	Workers      int
	BatchSize    int
	Interval     time.Duration
	LockTTL      time.Duration
	SnapDiscount float64
	HotTTL       time.Duration
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		Workers:      cfg.Refinery.Workers,
		BatchSize:    cfg.Refinery.BatchSize,
		Interval:     cfg.Refinery.Interval(),
		LockTTL:      cfg.Refinery.LockTTL(),
		SnapDiscount: cfg.Refinery.SnapDiscount,
		HotTTL:       cfg.Cache.HotTTL(),
	}
}

// CycleReport summarises one discover/refine/write pass.
type CycleReport struct {
	Candidates   int
	Refined      int
	Contended    int
	Insufficient int
	Failed       int
	Written      int
	Duration     time.Duration
}

func (r *CycleReport) count(o outcome) {
	switch o {
	case outcomeRefined:
		r.Refined++
	case outcomeContended:
		r.Contended++
	case outcomeInsufficient:
		r.Insufficient++
	case outcomeFailed:
		r.Failed++
	}
}
