package ml

// Classifier maps an aligned feature row to a class label.
type Classifier interface {
	Predict(features []float64) (string, error)
	Classes() []string
}

// ProbabilisticClassifier also reports one probability per entry of Classes.
type ProbabilisticClassifier interface {
	Classifier
	PredictProba(features []float64) ([]float64, error)
}

// Trainer fits a classifier on integer-encoded labels indexing classes.
type Trainer interface {
	Train(features [][]float64, labels []int, classes []string) error
}
