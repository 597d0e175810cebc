package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fertilizer/config"
	"fertilizer/db"
	"fertilizer/ml"
)

type trainOptions struct {
	DataPath  string
	OutPath   string
	Target    string
	ModelType string
	NumTrees  int
	MaxDepth  int
	TestRatio float64
	Seed      int64
	// LogPath records the run in the SQLite training log when set.
	LogPath string
}

type trainReport struct {
	Rows     int
	Features int
	Classes  []string
	Accuracy float64
}

var trainFlags trainOptions

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a model from a CSV dataset",
	Long: `Reads a labelled CSV dataset, fits a random forest (or a single decision tree),
reports hold-out accuracy and writes the model artifact the API loads on startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := trainOptionsFromConfig(cfg)
		flags := cmd.Flags()
		if flags.Changed("data") {
			opts.DataPath = trainFlags.DataPath
		}
		if flags.Changed("out") {
			opts.OutPath = trainFlags.OutPath
		}
		if flags.Changed("target") {
			opts.Target = trainFlags.Target
		}
		if flags.Changed("model-type") {
			opts.ModelType = trainFlags.ModelType
		}
		if flags.Changed("trees") {
			opts.NumTrees = trainFlags.NumTrees
		}
		if flags.Changed("depth") {
			opts.MaxDepth = trainFlags.MaxDepth
		}
		if flags.Changed("test-ratio") {
			opts.TestRatio = trainFlags.TestRatio
		}
		if flags.Changed("seed") {
			opts.Seed = trainFlags.Seed
		}
		if opts.DataPath == "" {
			return fmt.Errorf("--data is required")
		}

		report, err := train(cmd.Context(), logger, opts)
		if err != nil {
			return err
		}
		fmt.Printf("model saved to %s (accuracy=%.3f, classes=%d)\n", opts.OutPath, report.Accuracy, len(report.Classes))
		return nil
	},
}

func init() {
	trainCmd.Flags().StringVar(&trainFlags.DataPath, "data", "", "CSV dataset with feature columns and the target column")
	trainCmd.Flags().StringVar(&trainFlags.OutPath, "out", "", "Artifact output path (default: model.path from config)")
	trainCmd.Flags().StringVar(&trainFlags.Target, "target", ml.DefaultTargetColumn, "Target column name")
	trainCmd.Flags().StringVar(&trainFlags.ModelType, "model-type", ml.ModelTypeRandomForest, "random_forest or decision_tree")
	trainCmd.Flags().IntVar(&trainFlags.NumTrees, "trees", 100, "Number of trees in the forest")
	trainCmd.Flags().IntVar(&trainFlags.MaxDepth, "depth", 12, "Maximum tree depth")
	trainCmd.Flags().Float64Var(&trainFlags.TestRatio, "test-ratio", 0.2, "Share of rows held out for evaluation")
	trainCmd.Flags().Int64Var(&trainFlags.Seed, "seed", 42, "Random seed")
}

func trainOptionsFromConfig(cfg *config.Config) trainOptions {
	return trainOptions{
		OutPath:   cfg.Model.Path,
		Target:    cfg.Training.Target,
		ModelType: ml.ModelTypeRandomForest,
		NumTrees:  cfg.Training.NumTrees,
		MaxDepth:  cfg.Training.MaxDepth,
		TestRatio: cfg.Training.TestRatio,
		Seed:      cfg.Training.Seed,
		LogPath:   cfg.Database.Path,
	}
}

func train(ctx context.Context, logger *zap.Logger, opts trainOptions) (*trainReport, error) {
	file, err := os.Open(opts.DataPath)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	records, labels, err := ml.ReadTrainingCSV(file, opts.Target)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	set, err := ml.BuildTrainingSet(records, labels)
	if err != nil {
		return nil, fmt.Errorf("build training set: %w", err)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	trainX, trainY, testX, testY := set.Split(rng, opts.TestRatio)

	var model interface {
		ml.Classifier
		ml.Trainer
	}
	switch opts.ModelType {
	case ml.ModelTypeRandomForest, "":
		opts.ModelType = ml.ModelTypeRandomForest
		model = ml.NewRandomForest(opts.NumTrees, opts.MaxDepth, opts.Seed)
	case ml.ModelTypeDecisionTree:
		model = ml.NewDecisionTree(opts.MaxDepth)
	default:
		return nil, fmt.Errorf("unknown model type %q", opts.ModelType)
	}

	start := time.Now()
	if err := model.Train(trainX, trainY, set.Classes); err != nil {
		return nil, fmt.Errorf("train %s: %w", opts.ModelType, err)
	}
	accuracy := ml.Accuracy(model, set.Classes, testX, testY)
	logger.Info("model trained",
		zap.String("model_type", opts.ModelType),
		zap.Int("train_rows", len(trainX)),
		zap.Int("test_rows", len(testX)),
		zap.Float64("accuracy", accuracy),
		zap.Duration("elapsed", time.Since(start)),
	)

	trainedAt := time.Now().UTC()
	artifact := &ml.Artifact{
		ModelType:      opts.ModelType,
		Model:          model,
		FeatureColumns: set.FeatureColumns,
		TrainedAt:      trainedAt,
	}
	if err := ml.SaveArtifact(opts.OutPath, artifact); err != nil {
		return nil, err
	}

	if opts.LogPath != "" {
		store, err := db.Open(opts.LogPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		if err := store.SaveTrainingLog(ctx, db.TrainingLog{
			ModelName:  opts.ModelType,
			ModelPath:  opts.OutPath,
			Accuracy:   accuracy,
			DataPoints: len(set.Features),
			Classes:    len(set.Classes),
			TrainedAt:  trainedAt,
		}); err != nil {
			return nil, fmt.Errorf("save training log: %w", err)
		}
	}

	return &trainReport{
		Rows:     len(set.Features),
		Features: len(set.FeatureColumns),
		Classes:  set.Classes,
		Accuracy: accuracy,
	}, nil
}
