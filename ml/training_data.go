package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
)

// DefaultTargetColumn is the label column of the public fertilizer dataset.
const DefaultTargetColumn = "fertilizer_name"

// headerAliases maps dataset spellings onto the aligner's column names.
var headerAliases = map[string]string{
	"nitrogen":    ColumnN,
	"phosphorous": ColumnP,
	"phosphorus":  ColumnP,
	"potassium":   ColumnK,
	"temparature": ColumnTemperature,
}

// TrainingSet is an aligned feature matrix with integer-encoded labels.
type TrainingSet struct {
	FeatureColumns []string
	Classes        []string
	Features       [][]float64
	Labels         []int
}

// ReadTrainingCSV reads rows and their target labels from a CSV dataset.
func ReadTrainingCSV(r io.Reader, target string) ([]RawRecord, []string, error) {
	if target == "" {
		target = DefaultTargetColumn
	}
	target = NormalizeColumnName(target)

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	names := make([]string, len(header))
	targetIdx := -1
	for i, column := range header {
		name := NormalizeColumnName(column)
		if alias, ok := headerAliases[name]; ok {
			name = alias
		}
		names[i] = name
		if name == target {
			targetIdx = i
		}
	}
	if targetIdx == -1 {
		return nil, nil, fmt.Errorf("target column %q not found", target)
	}

	var records []RawRecord
	var labels []string
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read line %d: %w", line, err)
		}
		label := strings.TrimSpace(row[targetIdx])
		if label == "" {
			continue
		}
		record := make(RawRecord, len(row)-1)
		for i, value := range row {
			if i != targetIdx {
				record[names[i]] = value
			}
		}
		records = append(records, record)
		labels = append(labels, label)
	}
	if len(records) == 0 {
		return nil, nil, errors.New("dataset has no rows")
	}
	return records, labels, nil
}

// BuildTrainingSet derives the feature columns from the observed categories
// and aligns every record to them. Numeric columns come first, then each
// categorical column's indicators in sorted order.
func BuildTrainingSet(records []RawRecord, labels []string) (*TrainingSet, error) {
	if len(records) == 0 {
		return nil, errors.New("records is empty")
	}
	if len(records) != len(labels) {
		return nil, errors.New("records and labels size mismatch")
	}

	observed := make(map[string]map[string]struct{}, len(CategoricalColumns))
	for _, column := range CategoricalColumns {
		observed[column] = make(map[string]struct{})
	}
	for i, record := range records {
		normalized := normalizeRecord(record)
		for _, column := range CategoricalColumns {
			value, ok := normalized[column]
			if !ok {
				return nil, fmt.Errorf("row %d: %w", i, &ValidationError{Missing: []string{column}})
			}
			observed[column][strings.TrimSpace(coerceString(value))] = struct{}{}
		}
	}

	columns := append([]string(nil), NumericColumns...)
	for _, column := range CategoricalColumns {
		values := make([]string, 0, len(observed[column]))
		for value := range observed[column] {
			values = append(values, value)
		}
		sort.Strings(values)
		for _, value := range values {
			columns = append(columns, OneHotColumn(column, value))
		}
	}

	classes, encoded := encodeLabels(labels)
	features := make([][]float64, len(records))
	for i, record := range records {
		aligned, err := AlignFeatures(record, columns)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		features[i] = aligned.Values
	}

	return &TrainingSet{
		FeatureColumns: columns,
		Classes:        classes,
		Features:       features,
		Labels:         encoded,
	}, nil
}

// Split shuffles with rng and holds out testRatio of the rows.
func (s *TrainingSet) Split(rng *rand.Rand, testRatio float64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	if testRatio < 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	indices := rng.Perm(len(s.Features))
	split := len(s.Features) - int(float64(len(s.Features))*testRatio)
	for i, idx := range indices {
		if i < split {
			trainX = append(trainX, s.Features[idx])
			trainY = append(trainY, s.Labels[idx])
		} else {
			testX = append(testX, s.Features[idx])
			testY = append(testY, s.Labels[idx])
		}
	}
	return trainX, trainY, testX, testY
}

// Accuracy is the share of rows model labels correctly.
func Accuracy(model Classifier, classes []string, features [][]float64, labels []int) float64 {
	if len(features) == 0 {
		return 0
	}
	correct := 0
	for i, row := range features {
		label, err := model.Predict(row)
		if err != nil {
			continue
		}
		if label == classes[labels[i]] {
			correct++
		}
	}
	return float64(correct) / float64(len(features))
}

func encodeLabels(labels []string) ([]string, []int) {
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		seen[label] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for label := range seen {
		classes = append(classes, label)
	}
	sort.Strings(classes)

	index := make(map[string]int, len(classes))
	for i, class := range classes {
		index[class] = i
	}
	encoded := make([]int, len(labels))
	for i, label := range labels {
		encoded[i] = index[label]
	}
	return classes, encoded
}
