package report

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary holds the descriptive statistics of one numeric column.
// Missing values are skipped; undefined statistics are NaN.
type Summary struct {
	Column string
	Count  int
	Mean   float64
	Std    float64
	Min    float64
	Q1     float64
	Median float64
	Q3     float64
	Max    float64
}

// summaryRows are the row labels of the statistics table, in print order.
var summaryRows = []string{"count", "mean", "std", "min", "25%", "50%", "75%", "max"}

// values returns the statistics in summaryRows order.
func (s Summary) values() []float64 {
	return []float64{float64(s.Count), s.Mean, s.Std, s.Min, s.Q1, s.Median, s.Q3, s.Max}
}

// Describe summarizes every numeric column of f, in file order.
func Describe(f *Frame) []Summary {
	cols := f.NumericColumns()
	out := make([]Summary, 0, len(cols))
	for _, c := range cols {
		out = append(out, summarize(c.Name, c.Floats()))
	}
	return out
}

func summarize(name string, xs []float64) Summary {
	s := Summary{Column: name, Count: len(xs), Std: math.NaN()}
	if len(xs) == 0 {
		nan := math.NaN()
		s.Mean, s.Min, s.Q1, s.Median, s.Q3, s.Max = nan, nan, nan, nan, nan, nan
		return s
	}

	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	s.Mean = stat.Mean(sorted, nil)
	if len(sorted) > 1 {
		s.Std = stat.StdDev(sorted, nil)
	}
	s.Min = floats.Min(sorted)
	s.Max = floats.Max(sorted)
	s.Q1 = quantile(sorted, 0.25)
	s.Median = quantile(sorted, 0.5)
	s.Q3 = quantile(sorted, 0.75)

	return s
}

// quantile interpolates linearly between the two closest ranks of a sorted
// slice, with rank p*(n-1).
func quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
