package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reactor-lab/internal/model"

	"github.com/xuri/excelize/v2"
)

// writeTestTSV produces a small but well-formed laboratory series.
func writeTestTSV(t *testing.T, samples int) string {
	t.Helper()

	var b strings.Builder
	b.WriteString("t[s]\tF2[m^3/s]\tF7[m^3/s]\tF8[m^3/s]\tF9[m^3/s]\tRPS[RPS]\tT1[K]\tT2[K]\tT3[K]\n")
	for i := 0; i < samples; i++ {
		fmt.Fprintf(&b, "%d\t%g\t%g\t%g\t%g\t%g\t%g\t%g\t%g\n",
			i*10, 7.4e-5, 1.2e-6, 2.4e-4, 1.0e-6, 3.5, 293.15+float64(i)*0.1, 291.0, 292.0)
	}

	path := filepath.Join(t.TempDir(), "series.tsv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write series: %v", err)
	}
	return path
}

func TestLoadSeriesTSV(t *testing.T) {
	path := writeTestTSV(t, 20)

	series, err := LoadSeries(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if series.Len() != 20 {
		t.Fatalf("len = %d, want 20", series.Len())
	}
	if series.T[1] != 10 {
		t.Fatalf("t[1] = %g, want 10", series.T[1])
	}
	if series.T1[0] != 293.15 {
		t.Fatalf("T1[0] = %g", series.T1[0])
	}
}

func TestLoadSeriesClampsNegativeFlows(t *testing.T) {
	content := "t[s]\tF2[m^3/s]\tF7[m^3/s]\tF8[m^3/s]\tF9[m^3/s]\tRPS[RPS]\tT1[K]\tT2[K]\tT3[K]\n" +
		"0\t-1e-6\t0\t0\t0\t3\t293\t291\t292\n" +
		"10\t1e-5\t0\t0\t0\t3\t293\t291\t292\n"
	path := filepath.Join(t.TempDir(), "neg.tsv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	series, err := LoadSeries(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if series.F2[0] <= 0 {
		t.Fatalf("negative flow must be clamped to a positive epsilon, got %g", series.F2[0])
	}
	if series.F2[0] > 1e-300 {
		t.Fatalf("clamp should be machine epsilon sized, got %g", series.F2[0])
	}
}

func TestLoadSeriesMissingColumns(t *testing.T) {
	content := "t[s]\tF2[m^3/s]\n0\t1e-5\n"
	path := filepath.Join(t.TempDir(), "short.tsv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := LoadSeries(path)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("error = %v, want DomainError", err)
	}
	if !strings.Contains(domainErr.Message, "missing required columns") {
		t.Fatalf("message = %q", domainErr.Message)
	}
	if !strings.Contains(domainErr.Message, "T1[K]") {
		t.Fatalf("message should name the missing columns, got %q", domainErr.Message)
	}
}

func TestLoadSeriesXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	header := make([]any, len(requiredColumns))
	for i, col := range requiredColumns {
		header[i] = col
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		t.Fatalf("set header: %v", err)
	}
	for i := 0; i < 5; i++ {
		row := []any{float64(i * 10), 7.4e-5, 1.2e-6, 2.4e-4, 1.0e-6, 3.5, 293.15, 291.0, 292.0}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	path := filepath.Join(t.TempDir(), "series.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}

	series, err := LoadSeries(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if series.Len() != 5 {
		t.Fatalf("len = %d, want 5", series.Len())
	}
	if series.F8[0] != 2.4e-4 {
		t.Fatalf("F8[0] = %g", series.F8[0])
	}
}

func TestLoadSeriesMissingFile(t *testing.T) {
	_, err := LoadSeries(filepath.Join(t.TempDir(), "nope.tsv"))
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("error = %v, want DomainError", err)
	}
}

func TestInterp(t *testing.T) {
	xs := []float64{0, 10, 20}
	ys := []float64{0, 100, 400}

	for _, tc := range []struct{ t, want float64 }{
		{-5, 0},   // clamped below
		{0, 0},    // exact
		{5, 50},   // midpoint
		{15, 250}, // second segment
		{25, 400}, // clamped above
	} {
		if got := interp(xs, ys, tc.t); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("interp(%g) = %g, want %g", tc.t, got, tc.want)
		}
	}
}

func TestSimulateProducesAllSeries(t *testing.T) {
	path := writeTestTSV(t, 50)
	sim := NewSimulator()

	tSpan := [2]float64{0, 100}
	dt := 1.0
	results, err := sim.Simulate(context.Background(), model.Parameters{TSpan: &tSpan, Dt: &dt}, path)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	wantKeys := []string{
		"time", "liquid_level", "vam_concentration", "ba_concentration",
		"naps_concentration", "tbhp_concentration", "crd_concentration",
		"polymer_concentration", "particle_number", "reactor_temperature",
		"jacket_temperature", "viscosity", "heat_transfer_rate",
		"heat_transfer_coeff",
	}
	for _, key := range wantKeys {
		data, ok := results[key].([]float64)
		if !ok {
			t.Fatalf("missing result series %q", key)
		}
		if len(data) != 101 {
			t.Fatalf("series %q has %d samples, want 101", key, len(data))
		}
		for i, v := range data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("series %q sample %d is not finite", key, i)
			}
		}
	}

	temps := results["reactor_temperature"].([]float64)
	if temps[0] != 293.15 {
		t.Fatalf("initial reactor temperature = %g, want the first series sample", temps[0])
	}
}

func TestSimulateInitialConditionOverrides(t *testing.T) {
	path := writeTestTSV(t, 20)
	sim := NewSimulator()

	tSpan := [2]float64{0, 10}
	dt := 1.0
	t1 := 310.0
	results, err := sim.Simulate(context.Background(), model.Parameters{TSpan: &tSpan, Dt: &dt, T10i: &t1}, path)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	temps := results["reactor_temperature"].([]float64)
	if temps[0] != 310.0 {
		t.Fatalf("initial reactor temperature = %g, want the override", temps[0])
	}
}

func TestSimulateRejectsBadSpan(t *testing.T) {
	path := writeTestTSV(t, 10)
	sim := NewSimulator()

	tSpan := [2]float64{100, 100}
	_, err := sim.Simulate(context.Background(), model.Parameters{TSpan: &tSpan}, path)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("error = %v, want DomainError", err)
	}

	dt := -1.0
	_, err = sim.Simulate(context.Background(), model.Parameters{Dt: &dt}, path)
	if !errors.As(err, &domainErr) {
		t.Fatalf("error = %v, want DomainError", err)
	}
}

func TestSimulateDetectsDivergence(t *testing.T) {
	path := writeTestTSV(t, 20)
	sim := NewSimulator()

	// An absurd initial temperature blows the energy balance up within a
	// couple of steps.
	tSpan := [2]float64{0, 50}
	dt := 1.0
	t1 := math.MaxFloat64
	_, err := sim.Simulate(context.Background(), model.Parameters{TSpan: &tSpan, Dt: &dt, T10i: &t1}, path)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("error = %v, want DomainError", err)
	}
	if !strings.Contains(domainErr.Message, "divergence") {
		t.Fatalf("message = %q, want a divergence report", domainErr.Message)
	}
}
