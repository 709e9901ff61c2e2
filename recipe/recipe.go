// Package recipe predicts run progress for a milling recipe between telemetry
// updates. The computation is local and non-authoritative: the MCU run state
// trailer, when present, supersedes it.
package recipe

import (
	"errors"
	"time"

	"github.com/cryogrind/go-mlp/mlp"
)

// Phase identifies the portion of a cycle a run is in.
type Phase uint8

const (
	// PhaseMilling is the active grinding portion of a cycle.
	PhaseMilling Phase = 0
	// PhaseHolding is the rest portion between cycles.
	PhaseHolding Phase = 1
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseMilling:
		return "milling"
	case PhaseHolding:
		return "holding"
	default:
		return "unknown"
	}
}

// Recipe describes a milling program: Cycles repetitions of Milling, with a
// Hold rest between consecutive cycles. The hold occurs Cycles-1 times and
// never follows the final milling phase.
type Recipe struct {
	Milling time.Duration
	Hold    time.Duration
	Cycles  int
}

// Validate reports whether the recipe describes a runnable program.
func (r Recipe) Validate() error {
	if r.Milling <= 0 {
		return errors.New("milling duration must be positive")
	}
	if r.Hold < 0 {
		return errors.New("hold duration is negative")
	}
	if r.Cycles < 1 {
		return errors.New("cycle count below 1")
	}

	return nil
}

// Total returns the full runtime of the recipe, every milling phase plus the
// holds between cycles.
func (r Recipe) Total() time.Duration {
	if r.Cycles < 1 {
		return 0
	}

	return time.Duration(r.Cycles)*r.Milling + time.Duration(r.Cycles-1)*r.Hold
}

// Progress is a point-in-time view of a run against a recipe.
type Progress struct {
	// Cycle is the current cycle, counted from 1.
	Cycle int
	// Phase is the portion of the cycle in progress.
	Phase Phase
	// PhaseElapsed is the time consumed inside the current phase.
	PhaseElapsed time.Duration
	// PhaseRemaining is the time left inside the current phase.
	PhaseRemaining time.Duration
	// TotalRemaining is the time left until the run completes.
	TotalRemaining time.Duration
	// Done reports that every cycle has been consumed.
	Done bool
}

// Compute locates elapsed within the recipe timeline. It walks cycles in
// order, consuming the milling budget and then, on every cycle but the last,
// the hold budget. The first phase whose budget is not fully consumed is the
// current one. A negative elapsed counts as zero; an elapsed at or beyond
// Total yields a Done progress parked on the final milling phase.
func Compute(r Recipe, elapsed time.Duration) Progress {
	if elapsed < 0 {
		elapsed = 0
	}

	total := r.Total()
	if total > 0 && elapsed < total {
		left := elapsed
		for cycle := 1; cycle <= r.Cycles; cycle++ {
			if left < r.Milling {
				return Progress{
					Cycle:          cycle,
					Phase:          PhaseMilling,
					PhaseElapsed:   left,
					PhaseRemaining: r.Milling - left,
					TotalRemaining: total - elapsed,
				}
			}
			left -= r.Milling

			if cycle == r.Cycles {
				break
			}

			if left < r.Hold {
				return Progress{
					Cycle:          cycle,
					Phase:          PhaseHolding,
					PhaseElapsed:   left,
					PhaseRemaining: r.Hold - left,
					TotalRemaining: total - elapsed,
				}
			}
			left -= r.Hold
		}
	}

	cycle := r.Cycles
	if cycle < 1 {
		cycle = 1
	}

	return Progress{
		Cycle:        cycle,
		Phase:        PhaseMilling,
		PhaseElapsed: r.Milling,
		Done:         true,
	}
}

// Reconcile computes progress preferring the MCU run trailer over the local
// clock. The trailer's elapsed, remaining and step fields are authoritative;
// with a nil trailer the local elapsed alone drives the prediction.
func (r Recipe) Reconcile(elapsed time.Duration, run *mlp.RunState) Progress {
	if run == nil {
		return Compute(r, elapsed)
	}

	p := Compute(r, time.Duration(run.ElapsedMs)*time.Millisecond)
	if run.RecipeStep > 0 {
		p.Cycle = int(run.RecipeStep)
	}
	p.TotalRemaining = time.Duration(run.RemainingMs) * time.Millisecond

	switch run.State {
	case mlp.MachineHolding:
		p.Phase = PhaseHolding
	case mlp.MachineComplete:
		p.Done = true
		p.PhaseRemaining = 0
		p.TotalRemaining = 0
	}

	return p
}
