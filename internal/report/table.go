package report

import (
	"math"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
)

const missingCell = "NaN"

// renderTable lays out a labelled grid as fixed-width text: a header line,
// then one line per index label. Cells are right-aligned, labels are
// left-aligned, columns are separated by two spaces. Widths are measured in
// terminal cells so accented and wide characters line up.
func renderTable(header, index []string, rows [][]string) string {
	indexWidth := 0
	for _, label := range index {
		indexWidth = max(indexWidth, runewidth.StringWidth(label))
	}

	widths := make([]int, len(header))
	for j, h := range header {
		widths[j] = runewidth.StringWidth(h)
		for _, row := range rows {
			if j < len(row) {
				widths[j] = max(widths[j], runewidth.StringWidth(row[j]))
			}
		}
	}

	lines := make([]string, 0, len(rows)+1)

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", indexWidth))
	for j, h := range header {
		b.WriteString("  ")
		b.WriteString(runewidth.FillLeft(h, widths[j]))
	}
	lines = append(lines, b.String())

	for i, row := range rows {
		b.Reset()
		b.WriteString(runewidth.FillRight(index[i], indexWidth))
		for j := range header {
			cell := ""
			if j < len(row) {
				cell = row[j]
			}
			b.WriteString("  ")
			b.WriteString(runewidth.FillLeft(cell, widths[j]))
		}
		lines = append(lines, b.String())
	}

	return strings.Join(lines, "\n")
}

// renderSummaries prints the statistics table: one column per numeric
// column, one row per statistic.
func renderSummaries(summaries []Summary) string {
	header := make([]string, len(summaries))
	for j, s := range summaries {
		header[j] = s.Column
	}

	rows := make([][]string, len(summaryRows))
	for i := range summaryRows {
		rows[i] = make([]string, len(summaries))
	}
	for j, s := range summaries {
		for i, cell := range formatStats(s.values()) {
			rows[i][j] = cell
		}
	}

	return renderTable(header, summaryRows, rows)
}

// renderHead prints the first n rows of f with a 0-based row index.
func renderHead(f *Frame, n int) string {
	n = min(n, f.Rows)

	index := make([]string, n)
	for i := range index {
		index[i] = strconv.Itoa(i)
	}

	formatted := make([][]string, len(f.Columns))
	for j := range f.Columns {
		formatted[j] = formatColumn(&f.Columns[j], n)
	}

	rows := make([][]string, n)
	for i := range rows {
		rows[i] = make([]string, len(f.Columns))
		for j := range f.Columns {
			rows[i][j] = formatted[j][i]
		}
	}

	return renderTable(f.Names(), index, rows)
}

// formatColumn renders the first n cells of c. Float columns share one
// precision: the fewest decimals (1 to 6) that show every value exactly.
func formatColumn(c *Column, n int) []string {
	out := make([]string, n)

	decimals := 1
	if c.Kind == KindFloat {
		for i := 0; i < n; i++ {
			if c.Missing[i] {
				continue
			}
			if f, ok := parseFloat(c.Values[i]); ok {
				decimals = max(decimals, decimalsNeeded(f))
			}
		}
		decimals = min(decimals, 6)
	}

	for i := 0; i < n; i++ {
		if c.Missing[i] {
			out[i] = missingCell
			continue
		}
		v := c.Values[i]
		switch c.Kind {
		case KindInteger:
			if iv, err := strconv.ParseInt(v, 10, 64); err == nil {
				v = strconv.FormatInt(iv, 10)
			}
		case KindFloat:
			if f, ok := parseFloat(v); ok {
				v = formatFloat(f, decimals)
			}
		case KindBool:
			if strings.EqualFold(v, "true") {
				v = "True"
			} else {
				v = "False"
			}
		}
		out[i] = v
	}

	return out
}

// decimalsNeeded counts the decimals f shows once rounded to six places.
func decimalsNeeded(f float64) int {
	if math.IsInf(f, 0) {
		return 0
	}
	s := strings.TrimRight(strconv.FormatFloat(f, 'f', 6, 64), "0")
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		return len(s) - dot - 1
	}
	return 0
}

// formatStats renders one statistics column. Like formatColumn, the column
// shares one precision of 1 to 6 decimals. A magnitude of 1e16 or more puts
// the whole column in scientific notation.
func formatStats(values []float64) []string {
	decimals := 1
	scientific := false
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if math.Abs(v) >= 1e16 {
			scientific = true
		}
		decimals = max(decimals, decimalsNeeded(v))
	}

	out := make([]string, len(values))
	for i, v := range values {
		switch {
		case math.IsNaN(v):
			out[i] = missingCell
		case math.IsInf(v, 0):
			out[i] = formatFloat(v, 0)
		case scientific:
			out[i] = strconv.FormatFloat(v, 'e', 6, 64)
		default:
			out[i] = formatFloat(v, decimals)
		}
	}
	return out
}

func formatFloat(v float64, decimals int) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(v, 'f', decimals, 64)
	}
}
