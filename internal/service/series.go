package service

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Column headers the uploaded series must carry.
var requiredColumns = []string{
	"t[s]", "F2[m^3/s]", "F7[m^3/s]", "F8[m^3/s]", "F9[m^3/s]",
	"RPS[RPS]", "T1[K]", "T2[K]", "T3[K]",
}

// Series is the parsed laboratory time series: feed flows, stirring speed
// and measured temperatures, sampled over time.
type Series struct {
	T   []float64 // t[s]
	F2  []float64 // monomer feed [m^3/s]
	F7  []float64 // initiator feed [m^3/s]
	F8  []float64 // jacket flow [m^3/s]
	F9  []float64 // auxiliary feed [m^3/s]
	RPS []float64 // stirrer speed [1/s]
	T1  []float64 // measured reactor temperature [K]
	T2  []float64 // jacket inlet temperature [K]
	T3  []float64 // measured jacket temperature [K]
}

func (s *Series) Len() int { return len(s.T) }

// LoadSeries reads the stored upload. Tab-separated text and xlsx workbooks
// are both accepted.
func LoadSeries(path string) (*Series, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSX(path)
	default:
		rows, err = readTSV(path)
	}
	if err != nil {
		return nil, err
	}
	return buildSeries(rows)
}

func readTSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DomainError{Message: fmt.Sprintf("series file not found: %v", err)}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, &DomainError{Message: fmt.Sprintf("malformed series file: %v", err)}
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &DomainError{Message: fmt.Sprintf("cannot open workbook: %v", err)}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &DomainError{Message: "workbook has no sheets"}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &DomainError{Message: fmt.Sprintf("cannot read sheet %q: %v", sheets[0], err)}
	}
	return rows, nil
}

func buildSeries(rows [][]string) (*Series, error) {
	if len(rows) < 2 {
		return nil, &DomainError{Message: "series file has no data rows"}
	}

	index := map[string]int{}
	for i, name := range rows[0] {
		index[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &DomainError{Message: fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", "))}
	}

	s := &Series{}
	columns := []struct {
		name string
		dst  *[]float64
		flow bool
	}{
		{"t[s]", &s.T, false},
		{"F2[m^3/s]", &s.F2, true},
		{"F7[m^3/s]", &s.F7, true},
		{"F8[m^3/s]", &s.F8, true},
		{"F9[m^3/s]", &s.F9, true},
		{"RPS[RPS]", &s.RPS, false},
		{"T1[K]", &s.T1, false},
		{"T2[K]", &s.T2, false},
		{"T3[K]", &s.T3, false},
	}

	eps := math.Nextafter(0, 1)
	for rowNum, row := range rows[1:] {
		for _, col := range columns {
			i := index[col.name]
			if i >= len(row) {
				return nil, &DomainError{Message: fmt.Sprintf("row %d is missing column %s", rowNum+2, col.name)}
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
			if err != nil {
				return nil, &DomainError{Message: fmt.Sprintf("row %d: bad value %q in column %s", rowNum+2, row[i], col.name)}
			}
			// Sensor noise produces small negative flows, clamp them.
			if col.flow && v < 0 {
				v = eps
			}
			*col.dst = append(*col.dst, v)
		}
	}

	return s, nil
}

// interp linearly interpolates xs→ys at t, clamping outside the range.
func interp(xs, ys []float64, t float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	if t <= xs[0] {
		return ys[0]
	}
	if t >= xs[n-1] {
		return ys[n-1]
	}
	// xs is monotone, binary search for the bracketing interval.
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if xs[mid] <= t {
			lo = mid
		} else {
			hi = mid
		}
	}
	frac := (t - xs[lo]) / (xs[hi] - xs[lo])
	return ys[lo] + frac*(ys[hi]-ys[lo])
}

func (s *Series) f2At(t float64) float64  { return interp(s.T, s.F2, t) }
func (s *Series) f7At(t float64) float64  { return interp(s.T, s.F7, t) }
func (s *Series) f8At(t float64) float64  { return interp(s.T, s.F8, t) }
func (s *Series) f9At(t float64) float64  { return interp(s.T, s.F9, t) }
func (s *Series) rpsAt(t float64) float64 { return interp(s.T, s.RPS, t) }
func (s *Series) t2At(t float64) float64  { return interp(s.T, s.T2, t) }
