// Package attenuation holds a frequency to S21 table loaded from CSV, used to
// derive the attenuation offset of a measurement setup over a frequency range.
//
// The CSV has the frequency in Hz in the first column and S21 in dB in the
// second one. Extra columns are ignored. A first row that is not numeric is
// taken as a header.
//
//	frequency_hz,s21_db
//	1000000000,-2.1
//	1500000000,-2.4
package attenuation

import (
	"cmp"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrNoData is returned when a load finds no valid sample. The table keeps
	// its previous contents.
	ErrNoData = errors.New("no valid data found")

	errTooFewFields = errors.New("expected frequency and S21 columns")
	errNotNumeric   = errors.New("not a number")
)

// Sample is one table row.
type Sample struct {
	FrequencyHz float64
	S21DB       float64
}

// RowError describes a skipped row.
type RowError struct {
	Line int
	Text string
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %q: %v", e.Line, e.Text, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// Report summarizes a load.
type Report struct {
	Loaded  int
	Skipped []RowError
	MinHz   float64
	MaxHz   float64
}

// Table is safe for concurrent use. It is reloaded by the operator while the
// protocol engine queries it.
type Table struct {
	mu      sync.RWMutex
	log     *slog.Logger
	samples []Sample // sorted by frequency, unique
}

// NewTable returns an empty table. A nil logger means slog.Default().
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{log: logger}
}

// LoadFile replaces the table contents with the samples of the CSV file at path.
func (t *Table) LoadFile(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("open attenuation table: %w", err)
	}
	defer f.Close()

	rep, err := t.Load(f)
	if err != nil {
		return rep, fmt.Errorf("%s: %w", path, err)
	}
	return rep, nil
}

// Load replaces the table contents with the samples read from r. Invalid rows
// are skipped and listed in the report. When a frequency appears more than
// once the last row wins.
func (t *Table) Load(r io.Reader) (Report, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	var rep Report
	byFreq := make(map[float64]float64)
	first := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return rep, fmt.Errorf("read attenuation table: %w", err)
			}
			rep.Skipped = append(rep.Skipped, t.skip(pe.Line, strings.Join(rec, ","), pe.Err))
			first = false
			continue
		}
		line, _ := cr.FieldPos(0)
		text := strings.Join(rec, ",")

		if len(rec) < 2 {
			if !first {
				rep.Skipped = append(rep.Skipped, t.skip(line, text, errTooFewFields))
			}
			first = false
			continue
		}
		freq, okF := parseValue(rec[0])
		s21, okS := parseValue(rec[1])
		if !okF || !okS {
			if !first {
				rep.Skipped = append(rep.Skipped, t.skip(line, text, errNotNumeric))
			} else {
				t.log.Debug("attenuation table header", "header", text)
			}
			first = false
			continue
		}
		first = false
		byFreq[freq] = s21
	}

	if len(byFreq) == 0 {
		return rep, ErrNoData
	}

	samples := make([]Sample, 0, len(byFreq))
	for f, s := range byFreq {
		samples = append(samples, Sample{FrequencyHz: f, S21DB: s})
	}
	slices.SortFunc(samples, func(a, b Sample) int {
		return cmp.Compare(a.FrequencyHz, b.FrequencyHz)
	})

	t.mu.Lock()
	t.samples = samples
	t.mu.Unlock()

	rep.Loaded = len(samples)
	rep.MinHz = samples[0].FrequencyHz
	rep.MaxHz = samples[len(samples)-1].FrequencyHz
	t.log.Info("attenuation table loaded",
		"entries", rep.Loaded,
		"skipped", len(rep.Skipped),
		"min_hz", strconv.FormatFloat(rep.MinHz, 'e', 2, 64),
		"max_hz", strconv.FormatFloat(rep.MaxHz, 'e', 2, 64))
	return rep, nil
}

func (t *Table) skip(line int, text string, err error) RowError {
	t.log.Debug("invalid attenuation row", "line", line, "text", text, "err", err)
	return RowError{Line: line, Text: text, Err: err}
}

func parseValue(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Len returns the number of samples.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}

// Samples returns a copy of the table sorted by frequency.
func (t *Table) Samples() []Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.samples)
}

// Range returns the lowest and highest frequency in the table.
func (t *Table) Range() (minHz, maxHz float64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.samples) == 0 {
		return 0, 0, false
	}
	return t.samples[0].FrequencyHz, t.samples[len(t.samples)-1].FrequencyHz, true
}

// AverageInRange returns the mean S21 of the samples with a frequency in
// [startHz, endHz], or false when there is none.
func (t *Table) AverageInRange(startHz, endHz float64) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i, _ := slices.BinarySearchFunc(t.samples, startHz, func(s Sample, f float64) int {
		return cmp.Compare(s.FrequencyHz, f)
	})
	var sum float64
	n := 0
	for ; i < len(t.samples) && t.samples[i].FrequencyHz <= endHz; i++ {
		sum += t.samples[i].S21DB
		n++
	}
	if n == 0 {
		return 0, false
	}
	avg := sum / float64(n)
	t.log.Debug("attenuation average", "points", n, "start_hz", startHz, "end_hz", endHz, "avg_db", avg)
	return avg, true
}
