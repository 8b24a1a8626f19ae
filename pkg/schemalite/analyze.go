package schemalite

import (
	"encoding/json"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// DataClass is the coarse classification of a JSON result for display.
type DataClass string

const (
	ClassRecords            DataClass = "records"
	ClassRecordsWithMissing DataClass = "records-with-missing"
	ClassSchemaFieldList    DataClass = "schema-field-list"
	ClassPrimitiveArray     DataClass = "primitive-array"
	ClassSingleObject       DataClass = "single-object"
	ClassInvalid            DataClass = "invalid"
)

// AnalyzerMode controls how missing record fields are treated.
type AnalyzerMode string

const (
	ModeStrict  AnalyzerMode = "strict"
	ModeLenient AnalyzerMode = "lenient"
)

// ViewType names a result view the UI can render.
type ViewType string

const (
	ViewTable ViewType = "table"
	ViewBar   ViewType = "bar"
	ViewPie   ViewType = "pie"
)

// ChartExpressions holds ready-to-run query expressions that reshape a record
// array into label/value pairs for a chart.
type ChartExpressions struct {
	Bar string `json:"bar,omitempty"`
	Pie string `json:"pie,omitempty"`
}

// AnalyzerResult describes which views are available for a value.
type AnalyzerResult struct {
	DataClass      DataClass        `json:"dataClass"`
	IsTable        bool             `json:"isTable"`
	IsBarChart     bool             `json:"isBarChart"`
	IsPieChart     bool             `json:"isPieChart"`
	Success        bool             `json:"success"`
	AvailableViews []ViewType       `json:"availableViews"`
	Warnings       []string         `json:"warnings"`
	CleanedData    []map[string]any `json:"cleanedData"`
	Columns        []string         `json:"columns,omitempty"`
	Expressions    ChartExpressions `json:"jsonata"`
}

// ParseMode maps a query-string value to an AnalyzerMode, defaulting to strict.
func ParseMode(s string) AnalyzerMode {
	if AnalyzerMode(s) == ModeLenient {
		return ModeLenient
	}
	return ModeStrict
}

// Analyze classifies input and reports which of table, bar and pie views can
// display it. The guards run in a fixed order: primitive arrays, single
// objects, then record arrays.
func Analyze(input any, mode AnalyzerMode) AnalyzerResult {
	if mode == "" {
		mode = ModeStrict
	}

	res := AnalyzerResult{
		DataClass:      ClassInvalid,
		AvailableViews: []ViewType{},
		Warnings:       []string{},
	}

	switch v := input.(type) {
	case map[string]any:
		res.DataClass = ClassSingleObject
		return res
	case []any:
		if len(v) == 0 {
			return res
		}
		if allPrimitive(v) {
			res.DataClass = ClassPrimitiveArray
			if allStrings(v) {
				res.DataClass = ClassSchemaFieldList
			}
			return res
		}
		records := make([]map[string]any, 0, len(v))
		for _, item := range v {
			rec, ok := item.(map[string]any)
			if !ok {
				return res
			}
			records = append(records, rec)
		}
		return analyzeRecords(records, mode, res)
	}
	return res
}

func analyzeRecords(records []map[string]any, mode AnalyzerMode, res AnalyzerResult) AnalyzerResult {
	allKeys := recordKeys(records)
	res.Columns = allKeys

	hasMissing := false
	for _, r := range records {
		for _, k := range allKeys {
			if _, ok := r[k]; !ok {
				hasMissing = true
			}
		}
	}

	res.DataClass = ClassRecords
	if hasMissing {
		res.DataClass = ClassRecordsWithMissing
	}

	if mode == ModeLenient {
		cleaned := make([]map[string]any, 0, len(records))
		for _, r := range records {
			obj := make(map[string]any, len(allKeys))
			for _, k := range allKeys {
				obj[k] = r[k]
			}
			cleaned = append(cleaned, obj)
		}
		res.CleanedData = cleaned
	}

	res.IsTable = res.DataClass == ClassRecords || mode == ModeLenient

	var stringKeys, numberKeys []string
	for _, key := range allKeys {
		var values []any
		for _, r := range records {
			if v, ok := r[key]; ok && v != nil {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		if allStrings(values) {
			stringKeys = append(stringKeys, key)
		} else if allNumbers(values) {
			numberKeys = append(numberKeys, key)
		}
	}

	if len(stringKeys) == 1 && len(numberKeys) == 1 {
		numKey := numberKeys[0]
		missingNumeric := false
		for _, r := range records {
			if _, ok := toFloat(r[numKey]); !ok {
				missingNumeric = true
				break
			}
		}
		if !missingNumeric || mode == ModeLenient {
			res.IsBarChart = true
		} else {
			res.Warnings = append(res.Warnings, "Missing numeric values prevent bar chart")
		}
	}

	if res.IsBarChart {
		var nums []float64
		for _, r := range records {
			if f, ok := toFloat(r[numberKeys[0]]); ok {
				nums = append(nums, f)
			}
		}
		if len(nums) > 0 && floats.Min(nums) >= 0 && floats.Sum(nums) > 0 {
			res.IsPieChart = true
		} else {
			res.Warnings = append(res.Warnings, "Pie chart requires positive numeric values")
		}
	}

	if res.IsBarChart || res.IsPieChart {
		expr := fmt.Sprintf(`$[%s != null].{ "label": %s, "value": %s }`, numberKeys[0], stringKeys[0], numberKeys[0])
		if res.IsBarChart {
			res.Expressions.Bar = expr
		}
		if res.IsPieChart {
			res.Expressions.Pie = expr
		}
	}

	if res.IsTable {
		res.AvailableViews = append(res.AvailableViews, ViewTable)
	}
	if res.IsBarChart {
		res.AvailableViews = append(res.AvailableViews, ViewBar)
	}
	if res.IsPieChart {
		res.AvailableViews = append(res.AvailableViews, ViewPie)
	}
	res.Success = len(res.AvailableViews) > 0

	return res
}

func allPrimitive(values []any) bool {
	for _, v := range values {
		switch v.(type) {
		case map[string]any, []any:
			return false
		}
	}
	return true
}

func allStrings(values []any) bool {
	for _, v := range values {
		if _, ok := v.(string); !ok {
			return false
		}
	}
	return true
}

func allNumbers(values []any) bool {
	for _, v := range values {
		if _, ok := toFloat(v); !ok {
			return false
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// recordKeys lists the keys of records in first-seen order. Decoded objects
// carry no key order, so the keys new to one record are sorted among
// themselves.
func recordKeys(records []map[string]any) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, r := range records {
		fresh := make([]string, 0, len(r))
		for k := range r {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				fresh = append(fresh, k)
			}
		}
		sort.Strings(fresh)
		keys = append(keys, fresh...)
	}
	return keys
}
