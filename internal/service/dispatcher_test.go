package service

import (
	"context"
	"testing"
	"time"

	"reactor-lab/internal/db"
	"reactor-lab/internal/model"
)

func okSimulate(ctx context.Context, params model.Parameters, seriesPath string) (Results, error) {
	return Results{"time": []float64{0, 1}}, nil
}

func TestRunOnceCompletesJob(t *testing.T) {
	cfg := newTestConfig(t)
	m := NewLifecycleManager(cfg)
	d := NewDispatcher(m, okSimulate)

	exp := createPending(t, m, 1, "e2e")

	report, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Processed != 1 || report.ExperimentID != exp.ID {
		t.Fatalf("report = %+v, want processed=1 id=%d", report, exp.ID)
	}

	got := reload(t, m, exp.ID)
	if got.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at must be set")
	}
	results, err := m.ResultsOf(exp.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if _, ok := results["time"]; !ok {
		t.Fatal("results must contain the time series")
	}

	// Nothing left to do.
	report, err = d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Processed != 0 {
		t.Fatalf("processed = %d, want 0", report.Processed)
	}
}

func TestRunOnceProcessesOldestFirst(t *testing.T) {
	cfg := newTestConfig(t)
	m := NewLifecycleManager(cfg)

	var order []uint
	d := NewDispatcher(m, func(ctx context.Context, params model.Parameters, seriesPath string) (Results, error) {
		return Results{"time": []float64{0}}, nil
	})

	first := createPending(t, m, 1, "t1")
	second := createPending(t, m, 1, "t2")
	third := createPending(t, m, 1, "t3")
	base := time.Now().Add(-time.Hour)
	for i, id := range []uint{first.ID, second.ID, third.ID} {
		if err := db.DB.Model(&model.Experiment{}).Where("id = ?", id).Update("created_at", base.Add(time.Duration(i)*time.Minute)).Error; err != nil {
			t.Fatalf("set created_at: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		report, err := d.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("run once: %v", err)
		}
		if report.Processed != 1 {
			t.Fatalf("invocation %d processed %d jobs", i, report.Processed)
		}
		order = append(order, report.ExperimentID)
	}

	want := []uint{first.ID, second.ID, third.ID}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("processing order = %v, want %v", order, want)
		}
	}
}

func TestRunOnceRecordsFailure(t *testing.T) {
	cfg := newTestConfig(t)
	m := NewLifecycleManager(cfg)
	d := NewDispatcher(m, func(ctx context.Context, params model.Parameters, seriesPath string) (Results, error) {
		return nil, &DomainError{Message: "missing required columns: t[s]"}
	})

	exp := createPending(t, m, 1, "bad-input")

	report, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("a failed simulation must not fail the invocation: %v", err)
	}
	if report.Processed != 1 {
		t.Fatalf("processed = %d, want 1", report.Processed)
	}

	got := reload(t, m, exp.ID)
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Tries != 1 {
		t.Fatalf("tries = %d, want 1", got.Tries)
	}
	if got.ErrorMessage != "missing required columns: t[s]" {
		t.Fatalf("error message = %q", got.ErrorMessage)
	}
}

func TestRunOnceContainsPanic(t *testing.T) {
	cfg := newTestConfig(t)
	m := NewLifecycleManager(cfg)
	d := NewDispatcher(m, func(ctx context.Context, params model.Parameters, seriesPath string) (Results, error) {
		panic("index out of range")
	})

	exp := createPending(t, m, 1, "panics")

	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("a panicking simulation must not fail the invocation: %v", err)
	}

	got := reload(t, m, exp.ID)
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("panic must be recorded as the error message")
	}
}

func TestRunOnceReclaimsBeforeSelecting(t *testing.T) {
	cfg := newTestConfig(t)
	m := NewLifecycleManager(cfg)
	d := NewDispatcher(m, okSimulate)

	exp := createPending(t, m, 1, "stuck")
	if claimed, _ := m.Claim(exp.ID); !claimed {
		t.Fatal("claim failed")
	}
	backdate(t, exp.ID, time.Hour)

	// The sweep requeues the stale job, then the same invocation picks it
	// up again.
	report, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", report.Reclaimed)
	}
	if report.Processed != 1 || report.ExperimentID != exp.ID {
		t.Fatalf("report = %+v", report)
	}

	got := reload(t, m, exp.ID)
	if got.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.Tries != 1 {
		t.Fatalf("the timeout must have spent a try, got %d", got.Tries)
	}
}

func TestDrainWorksOffBacklog(t *testing.T) {
	cfg := newTestConfig(t)
	m := NewLifecycleManager(cfg)
	d := NewDispatcher(m, okSimulate)

	for i := 0; i < 5; i++ {
		createPending(t, m, 1, "batch")
	}

	processed, err := d.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if processed != 5 {
		t.Fatalf("processed = %d, want 5", processed)
	}

	pending, err := m.PendingFIFO()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("%d experiments left pending", len(pending))
	}
}
