// Package service runs fertilizer predictions against the loaded model artifact.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"fertilizer/ml"
)

// MinReportedProbability is the threshold a class must exceed to be reported.
const MinReportedProbability = 0.001

// ErrServiceUnavailable is returned while no model artifact is loaded.
var ErrServiceUnavailable = errors.New("model not loaded, please train the model first")

// BadRequestError wraps any failure while preparing features or predicting.
type BadRequestError struct {
	Err error
}

func (e *BadRequestError) Error() string {
	return e.Err.Error()
}

func (e *BadRequestError) Unwrap() error {
	return e.Err
}

// PredictionInput is one set of soil and crop measurements.
type PredictionInput struct {
	N           float64 `json:"n"`
	P           float64 `json:"p"`
	K           float64 `json:"k"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Moisture    float64 `json:"moisture"`
	SoilType    string  `json:"soil_type"`
	CropType    string  `json:"crop_type"`
}

// Record converts the input to the raw row the feature aligner expects.
func (in PredictionInput) Record() ml.RawRecord {
	return ml.RawRecord{
		ml.ColumnN:           in.N,
		ml.ColumnP:           in.P,
		ml.ColumnK:           in.K,
		ml.ColumnTemperature: in.Temperature,
		ml.ColumnHumidity:    in.Humidity,
		ml.ColumnMoisture:    in.Moisture,
		ml.ColumnSoilType:    in.SoilType,
		ml.ColumnCropType:    in.CropType,
	}
}

type PredictionResult struct {
	PredictedFertilizer string             `json:"predicted_fertilizer"`
	Probabilities       map[string]float64 `json:"probabilities"`
	Confidence          float64            `json:"confidence"`
}

// PredictionRecorder receives every successful prediction.
type PredictionRecorder interface {
	RecordPrediction(ctx context.Context, input PredictionInput, result PredictionResult, at time.Time) error
}

type PredictionService struct {
	artifact *ml.Artifact
	recorder PredictionRecorder
	logger   *zap.Logger
}

type Option func(*PredictionService)

func WithRecorder(recorder PredictionRecorder) Option {
	return func(s *PredictionService) {
		s.recorder = recorder
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *PredictionService) {
		s.logger = logger
	}
}

// NewPredictionService wraps artifact, which may be nil when loading failed.
func NewPredictionService(artifact *ml.Artifact, opts ...Option) *PredictionService {
	s := &PredictionService{artifact: artifact, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PredictionService) ModelLoaded() bool {
	return s.artifact != nil
}

func (s *PredictionService) Predict(ctx context.Context, input PredictionInput) (*PredictionResult, error) {
	if s.artifact == nil {
		return nil, ErrServiceUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.predict(input)
	if err != nil {
		return nil, &BadRequestError{Err: err}
	}

	if s.recorder != nil {
		if err := s.recorder.RecordPrediction(ctx, input, *result, time.Now()); err != nil {
			s.logger.Warn("failed to record prediction", zap.Error(err))
		}
	}
	return result, nil
}

func (s *PredictionService) predict(input PredictionInput) (result *PredictionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panicked: %v", r)
		}
	}()

	aligned, err := ml.AlignFeatures(input.Record(), s.artifact.FeatureColumns)
	if err != nil {
		return nil, err
	}

	label, err := s.artifact.Model.Predict(aligned.Values)
	if err != nil {
		return nil, err
	}

	result = &PredictionResult{
		PredictedFertilizer: label,
		Probabilities:       map[string]float64{},
	}

	model, ok := s.artifact.Model.(ml.ProbabilisticClassifier)
	if !ok {
		return result, nil
	}
	proba, err := model.PredictProba(aligned.Values)
	if err != nil {
		return nil, err
	}
	classes := model.Classes()
	if len(proba) != len(classes) {
		return nil, fmt.Errorf("model returned %d probabilities for %d classes", len(proba), len(classes))
	}

	predictedIdx := -1
	for i, class := range classes {
		if proba[i] > MinReportedProbability {
			result.Probabilities[class] = roundProbability(proba[i])
		}
		if class == label && predictedIdx == -1 {
			predictedIdx = i
		}
	}
	if predictedIdx == -1 {
		return nil, fmt.Errorf("%q is not in the model's class list", label)
	}
	result.Confidence = roundProbability(proba[predictedIdx])
	return result, nil
}

func roundProbability(p float64) float64 {
	return math.RoundToEven(p*1000) / 1000
}
