package service

import (
	"context"
	"fmt"
	"log"

	"reactor-lab/internal/model"
)

// SimulateFunc is the processing function contract: given the experiment
// parameters and the stored series file, produce the result series or fail
// with a domain error.
type SimulateFunc func(ctx context.Context, params model.Parameters, seriesPath string) (Results, error)

// RunReport describes one dispatcher invocation.
type RunReport struct {
	Reclaimed    int64 `json:"reclaimed"`
	Processed    int   `json:"processed"`
	ExperimentID uint  `json:"experiment_id,omitempty"`
}

// Dispatcher drives one processing attempt per invocation. It keeps no
// state between invocations and is safe to trigger from overlapping
// schedules: the claim decides who runs a given experiment.
type Dispatcher struct {
	lifecycle *LifecycleManager
	simulate  SimulateFunc
}

func NewDispatcher(lifecycle *LifecycleManager, simulate SimulateFunc) *Dispatcher {
	return &Dispatcher{lifecycle: lifecycle, simulate: simulate}
}

// RunOnce reclaims timed-out experiments, then claims and processes at most
// one pending experiment, oldest first. A failed simulation is recorded on
// the experiment and is not an error of the invocation; only store failures
// are returned.
func (d *Dispatcher) RunOnce(ctx context.Context) (RunReport, error) {
	var report RunReport

	reclaimed, err := d.lifecycle.ReclaimTimedOut()
	if err != nil {
		return report, err
	}
	report.Reclaimed = reclaimed
	if reclaimed > 0 {
		log.Printf("reclaimed %d timed-out experiments", reclaimed)
	}

	pending, err := d.lifecycle.PendingFIFO()
	if err != nil {
		return report, err
	}

	for _, exp := range pending {
		claimed, err := d.lifecycle.Claim(exp.ID)
		if err != nil {
			return report, err
		}
		if !claimed {
			// Lost the race to another dispatcher, try the next one.
			continue
		}

		report.Processed = 1
		report.ExperimentID = exp.ID
		return report, d.process(ctx, &exp)
	}

	return report, nil
}

// Drain keeps invoking RunOnce until an invocation processes nothing,
// mirroring a cron tick that works off the whole backlog.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		report, err := d.RunOnce(ctx)
		if err != nil {
			return total, err
		}
		if report.Processed == 0 {
			return total, nil
		}
		total += report.Processed
	}
}

func (d *Dispatcher) process(ctx context.Context, exp *model.Experiment) error {
	log.Printf("processing experiment %d (%s), try %d/%d", exp.ID, exp.Name, exp.Tries+1, d.lifecycle.MaxTries())

	params, err := exp.Parameters()
	if err != nil {
		return d.lifecycle.Fail(exp.ID, fmt.Sprintf("invalid stored parameters: %v", err))
	}

	results, simErr := d.runSimulation(ctx, params, exp.SeriesPath)
	if simErr != nil {
		log.Printf("experiment %d failed: %v", exp.ID, simErr)
		return d.lifecycle.Fail(exp.ID, simErr.Error())
	}

	if err := d.lifecycle.Complete(exp.ID, results); err != nil {
		return err
	}
	log.Printf("experiment %d completed", exp.ID)
	return nil
}

// runSimulation shields the dispatcher from a crashing processing function;
// a panic is converted into a failed attempt.
func (d *Dispatcher) runSimulation(ctx context.Context, params model.Parameters, seriesPath string) (results Results, err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("simulation panicked: %v", r)
		}
	}()
	return d.simulate(ctx, params, seriesPath)
}
