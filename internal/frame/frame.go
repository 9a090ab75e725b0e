// Package frame holds the tabular values pushed to and returned from a
// workspace, and encodes them in the exact CSV shape the analytics service
// expects for dataset uploads.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"analytics-workspace/internal/domain"
)

// Frame is an in-memory table: a header row and rows of cell values.
type Frame struct {
	Headers []string `json:"headers"`
	Rows    [][]any  `json:"rows"`
}

// New builds a Frame and checks that every row matches the header width.
func New(headers []string, rows [][]any) (*Frame, error) {
	f := &Frame{Headers: headers, Rows: rows}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Decode parses a {"headers": [...], "rows": [[...]]} payload. Numbers are kept
// as json.Number so they are written back byte-for-byte.
func Decode(raw json.RawMessage) (*Frame, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("frame: empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var f Frame
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("frame: decode: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// FromOutput decodes a dataframe chat output.
func FromOutput(o domain.Output) (*Frame, error) {
	if o.Type != domain.OutputDataframe {
		return nil, fmt.Errorf("frame: output type %q is not %s", o.Type, domain.OutputDataframe)
	}
	return Decode(o.Value)
}

// Len returns the number of data rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// CSV encodes the frame as UTF-8 CSV with a header row and no index column.
func (f *Frame) CSV() ([]byte, error) {
	if f == nil {
		return nil, errors.New("frame: nil frame")
	}
	if err := f.validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	record := make([]string, len(f.Headers))
	writeRecord(&buf, f.Headers)
	for _, row := range f.Rows {
		for i, cell := range row {
			record[i] = FormatCell(cell)
		}
		writeRecord(&buf, record)
	}
	return buf.Bytes(), nil
}

func (f *Frame) validate() error {
	if len(f.Headers) == 0 {
		return errors.New("frame: headers are required")
	}
	for i, row := range f.Rows {
		if len(row) != len(f.Headers) {
			return fmt.Errorf("frame: row %d has %d cells, want %d", i, len(row), len(f.Headers))
		}
	}
	return nil
}

// writeRecord writes one line using minimal quoting and a "\n" terminator.
// A record made of a single empty field is written as "" so it does not read
// back as a blank line.
func writeRecord(buf *bytes.Buffer, fields []string) {
	if len(fields) == 1 && fields[0] == "" {
		buf.WriteString(`""` + "\n")
		return
	}
	for i, field := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		if !strings.ContainsAny(field, ",\"\r\n") {
			buf.WriteString(field)
			continue
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(field, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteByte('\n')
}

// FormatCell renders a cell value the way the service's CSV reader expects:
// missing values are empty, booleans are True/False, and floats use the
// shortest round-trip form with a trailing .0 for integral values.
func FormatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int:
		return strconv.Itoa(x)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return formatFloat(float64(x), 32)
	case float64:
		return formatFloat(x, 64)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return ""
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, bitSize)
	}
	s := strconv.FormatFloat(f, 'f', -1, bitSize)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
