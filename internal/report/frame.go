package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Kind is the inferred type of a column.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindFloat
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return "text"
	}
}

// Numeric reports whether the kind takes part in descriptive statistics.
// Booleans are deliberately excluded.
func (k Kind) Numeric() bool {
	return k == KindInteger || k == KindFloat
}

// naMarkers are the cell values treated as missing, besides the empty string.
var naMarkers = map[string]bool{
	"#N/A":     true,
	"#N/A N/A": true,
	"#NA":      true,
	"-1.#IND":  true,
	"-1.#QNAN": true,
	"-NaN":     true,
	"-nan":     true,
	"1.#IND":   true,
	"1.#QNAN":  true,
	"<NA>":     true,
	"N/A":      true,
	"NA":       true,
	"NULL":     true,
	"NaN":      true,
	"None":     true,
	"n/a":      true,
	"nan":      true,
	"null":     true,
}

// IsMissing reports whether a (trimmed) cell value counts as a missing value.
func IsMissing(v string) bool {
	return v == "" || naMarkers[v]
}

// Column is one named column of a Frame.
type Column struct {
	Name    string
	Kind    Kind
	Values  []string
	Missing []bool
}

// MissingCount returns how many cells of the column are missing.
func (c *Column) MissingCount() int {
	n := 0
	for _, m := range c.Missing {
		if m {
			n++
		}
	}
	return n
}

// Floats returns the present values of a numeric column, in row order.
// Non-numeric columns return nil.
func (c *Column) Floats() []float64 {
	if !c.Kind.Numeric() {
		return nil
	}
	out := make([]float64, 0, len(c.Values))
	for i, v := range c.Values {
		if c.Missing[i] {
			continue
		}
		f, ok := parseFloat(v)
		if !ok {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Frame is an in-memory table parsed from one upload. It lives for a single
// request and is discarded once the report text is built.
type Frame struct {
	Columns []Column
	Rows    int
}

// Names returns the column names in file order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		names[i] = c.Name
	}
	return names
}

// NumericColumns returns the columns with an integer or float kind.
func (f *Frame) NumericColumns() []*Column {
	var cols []*Column
	for i := range f.Columns {
		if f.Columns[i].Kind.Numeric() {
			cols = append(cols, &f.Columns[i])
		}
	}
	return cols
}

// MissingCounts returns the missing-value count of every column, in file order.
func (f *Frame) MissingCounts() []int {
	counts := make([]int, len(f.Columns))
	for i := range f.Columns {
		counts[i] = f.Columns[i].MissingCount()
	}
	return counts
}

// TotalMissing returns the number of missing cells in the whole frame.
func (f *Frame) TotalMissing() int {
	total := 0
	for _, n := range f.MissingCounts() {
		total += n
	}
	return total
}

// Parse reads CSV bytes into a Frame. The first non-blank record is the header.
//
// Rows shorter than the header are padded with missing cells. Rows longer
// than the header fail with a *ParseError unless the extra fields are empty.
// A quote inside an unquoted field is kept as data, but a quoted field that
// is never closed is a *ParseError.
func Parse(data []byte) (*Frame, error) {
	f, err := parse(data, false)
	if errors.Is(err, csv.ErrBareQuote) {
		return parse(data, true)
	}
	return f, err
}

func parse(data []byte, lazyQuotes bool) (*Frame, error) {
	r := csv.NewReader(bytes.NewReader(cleanInput(data)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = lazyQuotes

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyCSV
	}
	if err != nil {
		return nil, csvError(err)
	}

	names := normalizeHeader(header)
	f := &Frame{Columns: make([]Column, len(names))}
	for i, name := range names {
		f.Columns[i].Name = name
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvError(err)
		}

		if len(record) > len(names) && !allBlank(record[len(names):]) {
			line, _ := r.FieldPos(0)
			return nil, &ParseError{
				Line: line,
				Err:  fmt.Errorf("expected %d fields, saw %d", len(names), len(record)),
			}
		}

		for i := range f.Columns {
			v := ""
			if i < len(record) {
				v = strings.TrimSpace(record[i])
			}
			f.Columns[i].Values = append(f.Columns[i].Values, v)
			f.Columns[i].Missing = append(f.Columns[i].Missing, IsMissing(v))
		}
		f.Rows++
	}

	if f.Rows == 0 {
		return nil, ErrNoData
	}

	for i := range f.Columns {
		f.Columns[i].Kind = inferKind(&f.Columns[i])
	}

	return f, nil
}

// csvError converts a reader error into a *ParseError carrying the line the
// failing record starts on.
func csvError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &ParseError{Line: pe.StartLine, Err: pe.Err}
	}
	return &ParseError{Err: err}
}

// normalizeHeader names blank headers "Unnamed: <i>" and suffixes repeated
// names with ".1", ".2", ... so every column name is unique.
func normalizeHeader(header []string) []string {
	names := make([]string, len(header))
	seen := make(map[string]int, len(header))

	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}

		if n, dup := seen[name]; dup {
			base := name
			for {
				n++
				name = fmt.Sprintf("%s.%d", base, n)
				if _, taken := seen[name]; !taken {
					break
				}
			}
			seen[base] = n
		}
		seen[name] = 0
		names[i] = name
	}

	return names
}

// inferKind picks the narrowest kind that fits every present value.
// An all-missing column is float, so it still shows up in the statistics.
func inferKind(c *Column) Kind {
	present := 0
	anyMissing := false
	allInt, allFloat, allBool := true, true, true

	for i, v := range c.Values {
		if c.Missing[i] {
			anyMissing = true
			continue
		}
		present++

		if allInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			if _, ok := parseFloat(v); !ok {
				allFloat = false
			}
		}
		if allBool && !isBool(v) {
			allBool = false
		}
	}

	switch {
	case present == 0:
		return KindFloat
	case allInt && !anyMissing:
		return KindInteger
	case allFloat:
		return KindFloat
	case allBool && !anyMissing:
		return KindBool
	default:
		return KindText
	}
}

// parseFloat accepts plain decimal notation (with optional exponent) and
// the infinities. Literals beyond the float64 range read as ±Inf. Go-only
// syntax such as hex floats and digit separators is rejected.
func parseFloat(s string) (float64, bool) {
	if s == "" || strings.ContainsAny(s, "_xXpP") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !(errors.Is(err, strconv.ErrRange) && math.IsInf(f, 0)) {
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func isBool(s string) bool {
	return strings.EqualFold(s, "true") || strings.EqualFold(s, "false")
}

func allBlank(fields []string) bool {
	for _, v := range fields {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
