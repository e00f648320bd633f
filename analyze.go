package hmibox

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ColumnSummary holds the descriptive statistics of one numeric column. The
// JSON keys match the authoring tool's existing summary format (quartiles are
// keyed by percentile).
type ColumnSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"25%"`
	Median float64 `json:"50%"`
	Q3     float64 `json:"75%"`
	Max    float64 `json:"max"`
}

// Analysis is the result of analyzing a batch of data: per-column statistics
// for the numeric columns, plus rule-derived suggestions and ready-to-place
// component descriptors. Suggestions and Components follow table column
// order.
type Analysis struct {
	Summary     map[string]ColumnSummary `json:"summary"`
	Suggestions []string                 `json:"suggestions"`
	Components  []Component              `json:"components"`
}

// DefaultTagBase is the tag folder component bindings point at when no
// equipment path is configured.
const DefaultTagBase = "[default]Equipment"

// SuggestionRule maps a column-name keyword to a component template. Rules
// are evaluated independently in order for every numeric column, so a column
// whose name matches several keywords produces several components. That
// multi-match is intentional and load-bearing: a "temp_pressure" column gets
// both a display and a gauge.
type SuggestionRule struct {
	Keyword  string
	Describe func(col string) string
	Build    func(col string) Component
}

// RulesFor returns the standard rule set with bindings rooted at the given
// tag base (e.g. "[default]Equipment"). Matching is a case-insensitive
// substring test against the column name.
func RulesFor(tagBase string) []SuggestionRule {
	binding := func(col string) string {
		return fmt.Sprintf("{%s/%s/value}", tagBase, col)
	}

	return []SuggestionRule{
		{
			Keyword: "temp",
			Describe: func(col string) string {
				return fmt.Sprintf("Temperature monitoring component for %s", col)
			},
			Build: func(col string) Component {
				return BuildComponent("display", &ComponentOptions{
					Name: col + "_display",
					Props: map[string]any{
						"text":  binding(col),
						"style": map[string]any{"color": "blue"},
					},
				})
			},
		},
		{
			Keyword: "pressure",
			Describe: func(col string) string {
				return fmt.Sprintf("Pressure gauge component for %s", col)
			},
			Build: func(col string) Component {
				return BuildComponent("gauge", &ComponentOptions{
					Name: col + "_gauge",
					Props: map[string]any{
						"value": binding(col),
						"min":   0,
						"max":   100,
					},
				})
			},
		},
	}
}

// DefaultRules is RulesFor(DefaultTagBase).
var DefaultRules = RulesFor(DefaultTagBase)

// Analyze normalizes data (a record or a sequence of records) into a table
// and analyzes it with the default rules. Inputs that have no tabular shape
// return an error; nothing is recovered internally.
func Analyze(data any) (Analysis, error) {
	table, err := Normalize(data)
	if err != nil {
		return Analysis{}, err
	}
	return AnalyzeTable(table, DefaultRules), nil
}

// AnalyzeTable computes the summary and runs the rule pass over an already
// normalized table. Columns with no numeric values are excluded from the
// summary and never reach the rules.
func AnalyzeTable(t *Table, rules []SuggestionRule) Analysis {
	analysis := Analysis{
		Summary:     make(map[string]ColumnSummary),
		Suggestions: []string{},
		Components:  []Component{},
	}

	for _, name := range t.Columns() {
		values, ok := t.NumericValues(name)
		if !ok {
			continue
		}

		analysis.Summary[name] = summarize(values)

		lower := strings.ToLower(name)
		for _, rule := range rules {
			if !strings.Contains(lower, rule.Keyword) {
				continue
			}
			analysis.Suggestions = append(analysis.Suggestions, rule.Describe(name))
			analysis.Components = append(analysis.Components, rule.Build(name))
		}
	}

	return analysis
}

func summarize(values []float64) ColumnSummary {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	std := 0.0
	if len(values) > 1 {
		std = stat.StdDev(values, nil)
	}

	return ColumnSummary{
		Count:  len(values),
		Mean:   stat.Mean(values, nil),
		Std:    std,
		Min:    floats.Min(sorted),
		Q1:     quantile(sorted, 0.25),
		Median: quantile(sorted, 0.5),
		Q3:     quantile(sorted, 0.75),
		Max:    floats.Max(sorted),
	}
}

// quantile computes the p-quantile of sorted values with linear interpolation
// between order statistics. gonum's stat.Quantile cumulant kinds implement
// the empirical and Hazen definitions; the authoring tool's summaries use the
// interpolated definition, so it is computed here directly.
func quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
