package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fertilizer/config"
	"fertilizer/db"
	qhttp "fertilizer/http"
	"fertilizer/ml"
	"fertilizer/service"
)

const dataset = `Temparature,Humidity ,Moisture,Soil Type,Crop Type,Nitrogen,Potassium,Phosphorous,Fertilizer Name
26,52,38,Sandy,Maize,37,0,0,Urea
29,52,45,Loamy,Sugarcane,12,0,36,DAP
34,65,62,Black,Cotton,7,9,30,14-35-14
32,62,34,Red,Tobacco,22,0,20,28-28
28,54,46,Clayey,Paddy,35,0,0,Urea
26,52,35,Sandy,Barley,12,10,13,17-17-17
25,50,64,Red,Cotton,9,0,10,20-20
33,64,50,Loamy,Wheat,41,0,0,Urea
30,60,42,Sandy,Millets,21,0,18,28-28
29,58,33,Black,Oil seeds,9,7,30,14-35-14
`

func writeDataset(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fertilizer.csv")
	require.NoError(t, os.WriteFile(path, []byte(dataset), 0o600))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Model.Path = filepath.Join(dir, "models", "fertilizer.json")
	cfg.Database.Path = filepath.Join(dir, "fertilizer.db")
	cfg.Http.IndexPath = filepath.Join(dir, "index.html")
	cfg.Training.NumTrees = 15
	cfg.Training.MaxDepth = 8
	return cfg
}

func TestTrainWritesArtifactAndLog(t *testing.T) {
	cfg := testConfig(t)
	opts := trainOptionsFromConfig(cfg)
	opts.DataPath = writeDataset(t)

	report, err := train(context.Background(), zap.NewNop(), opts)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Rows)
	assert.Equal(t, []string{"14-35-14", "17-17-17", "20-20", "28-28", "DAP", "Urea"}, report.Classes)
	assert.GreaterOrEqual(t, report.Accuracy, 0.0)
	assert.LessOrEqual(t, report.Accuracy, 1.0)

	artifact, err := ml.LoadArtifact(cfg.Model.Path)
	require.NoError(t, err)
	assert.Equal(t, ml.ModelTypeRandomForest, artifact.ModelType)
	assert.Len(t, artifact.FeatureColumns, report.Features)

	store, err := db.Open(cfg.Database.Path)
	require.NoError(t, err)
	defer store.Close()
	logs, err := store.LoadTrainingLog(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, cfg.Model.Path, logs[0].ModelPath)
	assert.Equal(t, 10, logs[0].DataPoints)
	assert.Equal(t, 6, logs[0].Classes)
}

func TestTrainErrors(t *testing.T) {
	cfg := testConfig(t)

	opts := trainOptionsFromConfig(cfg)
	opts.DataPath = filepath.Join(t.TempDir(), "missing.csv")
	_, err := train(context.Background(), zap.NewNop(), opts)
	assert.Error(t, err)

	opts = trainOptionsFromConfig(cfg)
	opts.DataPath = writeDataset(t)
	opts.ModelType = "gradient_boosting"
	_, err = train(context.Background(), zap.NewNop(), opts)
	assert.ErrorContains(t, err, "unknown model type")

	opts = trainOptionsFromConfig(cfg)
	opts.DataPath = writeDataset(t)
	opts.Target = "yield"
	_, err = train(context.Background(), zap.NewNop(), opts)
	assert.Error(t, err)
}

func TestServeWithoutModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Path = ""

	deps, cleanup, err := buildDependencies(cfg, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()
	assert.Nil(t, deps.History)

	handler := qhttp.NewHandler(serverConfig(cfg), deps)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.JSONEq(t, `{"status":"healthy","model_loaded":false}`, rr.Body.String())

	rr = httptest.NewRecorder()
	body := `{"n":12,"p":36,"k":0,"temperature":29,"humidity":52,"moisture":45,"soil_type":"Loamy","crop_type":"Sugarcane"}`
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body)))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestTrainThenServe(t *testing.T) {
	cfg := testConfig(t)
	opts := trainOptionsFromConfig(cfg)
	opts.DataPath = writeDataset(t)
	opts.ModelType = ml.ModelTypeDecisionTree
	report, err := train(context.Background(), zap.NewNop(), opts)
	require.NoError(t, err)

	deps, cleanup, err := buildDependencies(cfg, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()
	require.True(t, deps.Predictor.ModelLoaded())
	require.NotNil(t, deps.History)

	handler := qhttp.NewHandler(serverConfig(cfg), deps)
	body := `{"n":12,"p":36,"k":0,"temperature":29,"humidity":52,"moisture":45,"soil_type":"Loamy","crop_type":"Sugarcane"}`
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var result service.PredictionResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Contains(t, report.Classes, result.PredictedFertilizer)
	assert.Equal(t, result.Probabilities[result.PredictedFertilizer], result.Confidence)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/predictions", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"count":1`)
}

func TestServeWithCyclicArtifact(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Path = ""
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.Model.Path), 0o755))
	artifact := `{"model_type":"decision_tree","feature_columns":["n"],"classes":["Urea"],
		"model":{"classes":["Urea"],"nodes":[{"feature_idx":0,"threshold":1,"left_child":0,"right_child":0,"is_leaf":false}]}}`
	require.NoError(t, os.WriteFile(cfg.Model.Path, []byte(artifact), 0o600))

	deps, cleanup, err := buildDependencies(cfg, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()
	assert.False(t, deps.Predictor.ModelLoaded())

	handler := qhttp.NewHandler(serverConfig(cfg), deps)
	rr := httptest.NewRecorder()
	body := `{"n":12,"p":36,"k":0,"temperature":29,"humidity":52,"moisture":45,"soil_type":"Loamy","crop_type":"Sugarcane"}`
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body)))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
