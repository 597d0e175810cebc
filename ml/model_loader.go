package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const (
	ModelTypeDecisionTree = "decision_tree"
	ModelTypeRandomForest = "random_forest"
)

// Artifact is a trained classifier plus the feature columns it was fit on.
// It is loaded once and shared read-only.
type Artifact struct {
	ModelType      string
	Model          Classifier
	FeatureColumns []string
	TrainedAt      time.Time
}

// Classes returns the classifier's known labels.
func (a *Artifact) Classes() []string {
	return a.Model.Classes()
}

// ConfigurationError means the model artifact is missing or unusable.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("model artifact %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

type artifactFile struct {
	ModelType      string          `json:"model_type"`
	FeatureColumns []string        `json:"feature_columns"`
	Classes        []string        `json:"classes"`
	TrainedAt      time.Time       `json:"trained_at"`
	Model          json.RawMessage `json:"model"`
}

func LoadArtifact(path string) (*Artifact, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = errors.New("not found, train the model first")
		}
		return nil, &ConfigurationError{Path: path, Err: err}
	}
	artifact, err := decodeArtifact(payload)
	if err != nil {
		return nil, &ConfigurationError{Path: path, Err: err}
	}
	return artifact, nil
}

func decodeArtifact(payload []byte) (*Artifact, error) {
	var file artifactFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if len(file.FeatureColumns) == 0 {
		return nil, errors.New("artifact has no feature columns")
	}

	var model Classifier
	switch file.ModelType {
	case ModelTypeDecisionTree:
		tree := &DecisionTree{}
		if err := json.Unmarshal(file.Model, tree); err != nil {
			return nil, fmt.Errorf("decode decision tree: %w", err)
		}
		model = tree
	case ModelTypeRandomForest:
		forest := &RandomForest{}
		if err := json.Unmarshal(file.Model, forest); err != nil {
			return nil, fmt.Errorf("decode random forest: %w", err)
		}
		model = forest
	default:
		return nil, fmt.Errorf("unsupported model type %q", file.ModelType)
	}

	if len(file.Classes) > 0 && !slices.Equal(file.Classes, model.Classes()) {
		return nil, errors.New("artifact classes do not match model classes")
	}

	return &Artifact{
		ModelType:      file.ModelType,
		Model:          model,
		FeatureColumns: file.FeatureColumns,
		TrainedAt:      file.TrainedAt,
	}, nil
}

func SaveArtifact(path string, artifact *Artifact) error {
	if artifact == nil || artifact.Model == nil {
		return errors.New("artifact has no model")
	}
	model, err := json.Marshal(artifact.Model)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	payload, err := json.Marshal(artifactFile{
		ModelType:      artifact.ModelType,
		FeatureColumns: artifact.FeatureColumns,
		Classes:        artifact.Model.Classes(),
		TrainedAt:      artifact.TrainedAt,
		Model:          model,
	})
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}
