package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	ColumnN           = "n"
	ColumnP           = "p"
	ColumnK           = "k"
	ColumnTemperature = "temperature"
	ColumnHumidity    = "humidity"
	ColumnMoisture    = "moisture"
	ColumnSoilType    = "soil_type"
	ColumnCropType    = "crop_type"
)

// NumericColumns are coerced to float64 during alignment.
var NumericColumns = []string{ColumnN, ColumnP, ColumnK, ColumnTemperature, ColumnHumidity, ColumnMoisture}

// CategoricalColumns are one-hot expanded during alignment.
var CategoricalColumns = []string{ColumnSoilType, ColumnCropType}

// RequiredColumns must be present (after name normalization) in every record.
var RequiredColumns = append(append([]string{}, NumericColumns...), CategoricalColumns...)

// RawRecord is one input row keyed by arbitrary column names.
type RawRecord map[string]interface{}

// AlignedVector is a single row shaped to a model's feature columns.
type AlignedVector struct {
	Columns []string
	Values  []float64
}

// Value returns the value of the named column and whether it exists.
func (v AlignedVector) Value(column string) (float64, bool) {
	for i, c := range v.Columns {
		if c == column {
			return v.Values[i], true
		}
	}
	return 0, false
}

// ValidationError reports required columns absent from a record.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("input is missing required columns: [%s]", strings.Join(e.Missing, ", "))
}

var lowerCaser = cases.Lower(language.Und)

// NormalizeColumnName trims, lowercases and replaces spaces with underscores.
func NormalizeColumnName(name string) string {
	name = lowerCaser.String(strings.TrimSpace(name))
	return strings.ReplaceAll(name, " ", "_")
}

// OneHotColumn returns the indicator column name for a categorical value.
func OneHotColumn(column, value string) string {
	return column + "_" + value
}

// AlignFeatures reshapes record into the layout described by featureColumns.
// Only a missing required column is an error; bad numbers become 0 and
// unknown categories are dropped.
func AlignFeatures(record RawRecord, featureColumns []string) (AlignedVector, error) {
	normalized := normalizeRecord(record)

	var missing []string
	for _, column := range RequiredColumns {
		if _, ok := normalized[column]; !ok {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return AlignedVector{}, &ValidationError{Missing: missing}
	}

	expanded := make(map[string]float64, len(NumericColumns)+len(CategoricalColumns))
	for _, column := range NumericColumns {
		expanded[column] = coerceNumber(normalized[column])
	}
	for _, column := range CategoricalColumns {
		value := strings.TrimSpace(coerceString(normalized[column]))
		expanded[OneHotColumn(column, value)] = 1
	}

	values := make([]float64, len(featureColumns))
	for i, column := range featureColumns {
		values[i] = expanded[column]
	}
	columns := make([]string, len(featureColumns))
	copy(columns, featureColumns)
	return AlignedVector{Columns: columns, Values: values}, nil
}

// normalizeRecord renames keys; when two keys collide after normalization the
// one that sorts first in its original spelling wins.
func normalizeRecord(record RawRecord) map[string]interface{} {
	out := make(map[string]interface{}, len(record))
	owner := make(map[string]string, len(record))
	for key, value := range record {
		name := NormalizeColumnName(key)
		if prev, ok := owner[name]; ok && prev < key {
			continue
		}
		owner[name] = key
		out[name] = value
	}
	return out
}

func coerceNumber(value interface{}) float64 {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case bool:
		if v {
			f = 1
		}
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) {
		return 0
	}
	return f
}

func coerceString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "None"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
