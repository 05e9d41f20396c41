package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

const (
	// ColumnRXDAC holds the calibration codes.
	ColumnRXDAC = "rxdac"
	// ColumnTime holds the nominal sample times.
	ColumnTime = "time"
)

// TraceColumn returns the name of the i-th trace column.
func TraceColumn(i int) string {
	return "Trace_" + strconv.Itoa(i)
}

// Table is column oriented trace data with one row per sample index.
type Table struct {
	Columns []string
	Rows    [][]float64
}

// NewTable builds the rxdac, time, Trace_0.. table. The row count is the
// length of the shortest column.
func NewTable(rxdac []int, times []float64, traces [][]float64) Table {
	n := min(len(rxdac), len(times))
	for _, tr := range traces {
		n = min(n, len(tr))
	}

	cols := make([]string, 0, 2+len(traces))
	cols = append(cols, ColumnRXDAC, ColumnTime)
	for i := range traces {
		cols = append(cols, TraceColumn(i))
	}

	rows := make([][]float64, n)
	for i := range rows {
		row := make([]float64, 0, len(cols))
		row = append(row, float64(rxdac[i]), times[i])
		for _, tr := range traces {
			row = append(row, tr[i])
		}
		rows[i] = row
	}

	return Table{Columns: cols, Rows: rows}
}

// Column returns a copy of the named column, or false if absent.
func (t Table) Column(name string) ([]float64, bool) {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}

	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Traces returns the number of trace columns.
func (t Table) Traces() int {
	return max(0, len(t.Columns)-2)
}

// WriteCSV writes the header line and one line per row.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(t.Columns))
		}
		for j, v := range row {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// SaveCSV writes t to path.
func SaveCSV(path string, t Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := WriteCSV(f, t); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// ReadCSV reads a table written by WriteCSV.
func ReadCSV(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) == 0 {
		return Table{}, fmt.Errorf("empty csv")
	}

	t := Table{Columns: records[0], Rows: make([][]float64, 0, len(records)-1)}
	for i, rec := range records[1:] {
		row := make([]float64, len(rec))
		for j, s := range rec {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return Table{}, fmt.Errorf("line %d column %s: %w", i+2, t.Columns[j], err)
			}
			row[j] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// LoadCSV reads a table from path.
func LoadCSV(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// DefaultFilename returns tdr_trace_YYYYmmdd_HHMMSS.csv for now.
func DefaultFilename(now time.Time) string {
	return "tdr_trace_" + now.Format("20060102_150405") + ".csv"
}
