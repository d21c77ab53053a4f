// Package analysis computes per-column summary statistics over a table.
package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/databot-io/databot/internal/table"
)

// maxTopValues bounds the per-column frequent-value list.
const maxTopValues = 5

// NumericStats holds statistics for int and float columns.
type NumericStats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// ValueCount is one frequent value in a non-numeric column.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// ColumnSummary describes a single column.
type ColumnSummary struct {
	Name      string        `json:"name"`
	Type      string        `json:"type"`
	NonNull   int           `json:"non_null"`
	Missing   int           `json:"missing"`
	Unique    int           `json:"unique"`
	Numeric   *NumericStats `json:"numeric,omitempty"`
	TopValues []ValueCount  `json:"top_values,omitempty"`
}

// Summary is the full per-column breakdown of a table.
type Summary struct {
	Rows    int             `json:"rows"`
	Cols    int             `json:"cols"`
	Columns []ColumnSummary `json:"columns"`
}

// Summarize walks every column once and assembles the summary.
func Summarize(t *table.Table) Summary {
	s := Summary{Rows: t.NumRows(), Cols: t.NumCols()}
	for i := range t.Columns {
		s.Columns = append(s.Columns, summarizeColumn(&t.Columns[i]))
	}
	return s
}

func summarizeColumn(c *table.Column) ColumnSummary {
	cs := ColumnSummary{Name: c.Name, Type: c.Type.String()}

	counts := make(map[string]int)
	var sum, sumSq float64
	minV, maxV := math.Inf(1), math.Inf(-1)

	for row := 0; row < c.Len(); row++ {
		if c.IsNull(row) {
			cs.Missing++
			continue
		}
		cs.NonNull++

		switch c.Type {
		case table.Int, table.Float:
			v := numericAt(c, row)
			sum += v
			sumSq += v * v
			minV = math.Min(minV, v)
			maxV = math.Max(maxV, v)
		case table.Bool:
			counts[fmt.Sprintf("%t", c.Bools[row])]++
		case table.Time:
			counts[c.Times[row].UTC().Format("2006-01-02T15:04:05Z")]++
		default:
			counts[c.Strings[row]]++
		}
	}

	switch c.Type {
	case table.Int, table.Float:
		cs.Unique = countUniqueNumeric(c)
		if cs.NonNull > 0 {
			mean := sum / float64(cs.NonNull)
			variance := sumSq/float64(cs.NonNull) - mean*mean
			if variance < 0 {
				variance = 0
			}
			cs.Numeric = &NumericStats{Min: minV, Max: maxV, Mean: mean, Std: math.Sqrt(variance)}
		}
	default:
		cs.Unique = len(counts)
		cs.TopValues = topValues(counts)
	}

	return cs
}

func numericAt(c *table.Column, row int) float64 {
	if c.Type == table.Int {
		return float64(c.Ints[row])
	}
	return c.Floats[row]
}

func countUniqueNumeric(c *table.Column) int {
	seen := make(map[float64]bool)
	for row := 0; row < c.Len(); row++ {
		if !c.IsNull(row) {
			seen[numericAt(c, row)] = true
		}
	}
	return len(seen)
}

func topValues(counts map[string]int) []ValueCount {
	vc := make([]ValueCount, 0, len(counts))
	for v, n := range counts {
		vc = append(vc, ValueCount{Value: v, Count: n})
	}
	sort.Slice(vc, func(i, j int) bool {
		if vc[i].Count != vc[j].Count {
			return vc[i].Count > vc[j].Count
		}
		return vc[i].Value < vc[j].Value
	})
	if len(vc) > maxTopValues {
		vc = vc[:maxTopValues]
	}
	return vc
}

// Text renders the summary as compact prose for inclusion in an
// assistant prompt.
func (s Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d rows, %d columns.\n", s.Rows, s.Cols)
	for _, c := range s.Columns {
		fmt.Fprintf(&b, "- %s (%s): %d values, %d missing", c.Name, c.Type, c.NonNull, c.Missing)
		if c.Numeric != nil {
			fmt.Fprintf(&b, ", min %g, max %g, mean %.4g, std %.4g", c.Numeric.Min, c.Numeric.Max, c.Numeric.Mean, c.Numeric.Std)
		}
		if len(c.TopValues) > 0 {
			vals := make([]string, len(c.TopValues))
			for i, tv := range c.TopValues {
				vals[i] = fmt.Sprintf("%s (%d)", tv.Value, tv.Count)
			}
			fmt.Fprintf(&b, ", top: %s", strings.Join(vals, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
