package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fertilizer/db"
	"fertilizer/service"
)

// CropTypes and SoilTypes are informational; the model may know other values.
var (
	CropTypes = []string{"Rice", "Wheat", "Maize", "Sugarcane", "Cotton", "Soyabean", "Mungbean", "Tea", "Coffee", "Coconut"}
	SoilTypes = []string{"Sandy", "Loamy", "Clayey", "Black", "Red"}
)

const defaultHistoryLimit = 50

// Predictor is the prediction service as seen by the handlers.
type Predictor interface {
	ModelLoaded() bool
	Predict(ctx context.Context, input service.PredictionInput) (*service.PredictionResult, error)
}

// PredictionHistory lists logged predictions.
type PredictionHistory interface {
	RecentPredictions(ctx context.Context, limit int) ([]db.PredictionLog, error)
}

type Dependencies struct {
	Predictor Predictor
	History   PredictionHistory // nil when the prediction log is disabled
	Logger    *zap.Logger
	IndexPath string
	// PredictTimeout bounds a predict request's context; 0 disables it.
	PredictTimeout time.Duration
}

type handlers struct {
	Dependencies
}

func RegisterHandlers(mux *http.ServeMux, deps Dependencies) {
	h := &handlers{Dependencies: deps}
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}
	if h.Predictor != nil && h.Predictor.ModelLoaded() {
		modelLoaded.Set(1)
	} else {
		modelLoaded.Set(0)
	}

	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.Handle("POST /api/predict", TimeoutMiddleware(h.PredictTimeout)(http.HandlerFunc(h.handlePredict)))
	mux.HandleFunc("GET /api/crop-types", handleCropTypes)
	mux.HandleFunc("GET /api/soil-types", handleSoilTypes)
	mux.HandleFunc("GET /api/predictions", h.handlePredictions)
	mux.Handle("GET /metrics", promhttp.Handler())
}

func (h *handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	if info, err := os.Stat(h.IndexPath); err != nil || info.IsDir() {
		respondError(w, http.StatusNotFound, "Frontend file not found")
		return
	}
	http.ServeFile(w, r, h.IndexPath)
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"model_loaded": h.Predictor != nil && h.Predictor.ModelLoaded(),
	})
}

func (h *handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger.With(zap.String("request_id", GetRequestID(r.Context())))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		predictionErrorsTotal.WithLabelValues(reasonInvalidBody).Inc()
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	fieldErrors, err := validatePredictRequest(body)
	if err != nil {
		predictionErrorsTotal.WithLabelValues(reasonInvalidBody).Inc()
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"detail": []FieldError{{Field: "body", Message: "invalid JSON: " + err.Error(), Type: "json_invalid"}},
		})
		return
	}
	if len(fieldErrors) > 0 {
		predictionErrorsTotal.WithLabelValues(reasonSchema).Inc()
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{"detail": fieldErrors})
		return
	}

	var input service.PredictionInput
	if err := json.Unmarshal(body, &input); err != nil {
		predictionErrorsTotal.WithLabelValues(reasonInvalidBody).Inc()
		respondError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}

	if h.Predictor == nil {
		predictionErrorsTotal.WithLabelValues(reasonModelUnavailable).Inc()
		respondError(w, http.StatusInternalServerError, "Model not loaded. Please train the model first.")
		return
	}

	result, err := h.Predictor.Predict(r.Context(), input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			predictionErrorsTotal.WithLabelValues(reasonTimeout).Inc()
			logger.Warn("prediction abandoned", zap.Error(err))
			respondError(w, http.StatusGatewayTimeout, "request timeout")
			return
		}
		if errors.Is(err, service.ErrServiceUnavailable) {
			predictionErrorsTotal.WithLabelValues(reasonModelUnavailable).Inc()
			respondError(w, http.StatusInternalServerError, "Model not loaded. Please train the model first.")
			return
		}
		predictionErrorsTotal.WithLabelValues(reasonPrediction).Inc()
		logger.Warn("prediction failed", zap.Error(err))
		respondError(w, http.StatusBadRequest, "Prediction error: "+err.Error())
		return
	}

	predictionsTotal.WithLabelValues(result.PredictedFertilizer).Inc()
	logger.Debug("prediction served",
		zap.String("fertilizer", result.PredictedFertilizer),
		zap.Float64("confidence", result.Confidence),
	)
	respondJSON(w, http.StatusOK, result)
}

func handleCropTypes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"crop_types": CropTypes})
}

func handleSoilTypes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"soil_types": SoilTypes})
}

func (h *handlers) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		respondError(w, http.StatusNotFound, "prediction log is disabled")
		return
	}

	limit := defaultHistoryLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = l
	}

	logs, err := h.History.RecentPredictions(r.Context(), limit)
	if err != nil {
		h.Logger.Error("failed to load prediction log", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load prediction log")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": logs,
		"count":       len(logs),
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}
