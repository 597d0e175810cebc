package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fertilizer/config"
	"fertilizer/db"
	qhttp "fertilizer/http"
	"fertilizer/ml"
	"fertilizer/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Loads the model artifact once and serves predictions until SIGINT or SIGTERM.

A missing or corrupt artifact is logged and the API still starts; predictions
then fail with 500 until the process is restarted with a valid model.

POST /api/predict accepts JSON numbers only for n, p, k, temperature, humidity
and moisture. Numeric strings such as "20" are rejected with 422.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	deps, cleanup, err := buildDependencies(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	server := qhttp.NewServer(serverConfig(cfg), deps)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	if err := server.Stop(); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}
	logger.Info("exiting")
	return nil
}

// buildDependencies loads the model and opens the optional prediction log.
func buildDependencies(cfg *config.Config, logger *zap.Logger) (qhttp.Dependencies, func(), error) {
	artifact, err := ml.LoadArtifact(cfg.Model.Path)
	if err != nil {
		var configErr *ml.ConfigurationError
		if !errors.As(err, &configErr) {
			return qhttp.Dependencies{}, nil, err
		}
		logger.Error("model not loaded, predictions are disabled", zap.Error(err))
		artifact = nil
	} else {
		logger.Info("model loaded",
			zap.String("path", cfg.Model.Path),
			zap.String("model_type", artifact.ModelType),
			zap.Int("features", len(artifact.FeatureColumns)),
			zap.Strings("classes", artifact.Classes()),
		)
	}

	opts := []service.Option{service.WithLogger(logger)}
	deps := qhttp.Dependencies{Logger: logger, IndexPath: cfg.Http.IndexPath}
	cleanup := func() {}

	if cfg.Database.Path != "" {
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			return qhttp.Dependencies{}, nil, err
		}
		logger.Info("prediction log enabled", zap.String("path", cfg.Database.Path))
		opts = append(opts, service.WithRecorder(store))
		deps.History = store
		cleanup = func() {
			if err := store.Close(); err != nil {
				logger.Warn("close prediction log", zap.Error(err))
			}
		}
	}

	deps.Predictor = service.NewPredictionService(artifact, opts...)
	return deps, cleanup, nil
}

func serverConfig(cfg *config.Config) qhttp.ServerConfig {
	return qhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
		MaxBodyBytes:   cfg.Http.MaxBodyBytes,
		IndexPath:      cfg.Http.IndexPath,
	}
}
