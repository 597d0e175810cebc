package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"fertilizer/service"
)

const schema = `
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        n REAL,
        p REAL,
        k REAL,
        temperature REAL,
        humidity REAL,
        moisture REAL,
        soil_type TEXT,
        crop_type TEXT,
        predicted_fertilizer TEXT NOT NULL,
        confidence REAL,
        probabilities TEXT,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(50),
        model_path TEXT,
        accuracy REAL,
        data_points INTEGER,
        classes INTEGER,
        trained_at DATETIME
    );
    `

// Store keeps a log of served predictions and training runs in SQLite.
type Store struct {
	database *sql.DB
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	database.SetMaxOpenConns(1)
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, err
	}
	return &Store{database: database}, nil
}

func (s *Store) Close() error {
	return s.database.Close()
}

type PredictionLog struct {
	ID        int64                    `json:"id"`
	Input     service.PredictionInput  `json:"input"`
	Result    service.PredictionResult `json:"result"`
	CreatedAt time.Time                `json:"created_at"`
}

// RecordPrediction implements service.PredictionRecorder.
func (s *Store) RecordPrediction(ctx context.Context, input service.PredictionInput, result service.PredictionResult, at time.Time) error {
	probabilities, err := json.Marshal(result.Probabilities)
	if err != nil {
		return err
	}
	_, err = s.database.ExecContext(ctx, `
        INSERT INTO predictions (
            n, p, k, temperature, humidity, moisture, soil_type, crop_type,
            predicted_fertilizer, confidence, probabilities, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		input.N, input.P, input.K, input.Temperature, input.Humidity, input.Moisture,
		input.SoilType, input.CropType,
		result.PredictedFertilizer, result.Confidence, string(probabilities), at.UTC())
	return err
}

// RecentPredictions returns up to limit logged predictions, newest first.
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]PredictionLog, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	rows, err := s.database.QueryContext(ctx, `
        SELECT id, n, p, k, temperature, humidity, moisture, soil_type, crop_type,
               predicted_fertilizer, confidence, probabilities, created_at
        FROM predictions
        ORDER BY created_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]PredictionLog, 0)
	for rows.Next() {
		var entry PredictionLog
		var probabilities sql.NullString
		err := rows.Scan(&entry.ID,
			&entry.Input.N, &entry.Input.P, &entry.Input.K,
			&entry.Input.Temperature, &entry.Input.Humidity, &entry.Input.Moisture,
			&entry.Input.SoilType, &entry.Input.CropType,
			&entry.Result.PredictedFertilizer, &entry.Result.Confidence, &probabilities, &entry.CreatedAt)
		if err != nil {
			return nil, err
		}
		entry.Result.Probabilities = map[string]float64{}
		if probabilities.Valid && probabilities.String != "" {
			if err := json.Unmarshal([]byte(probabilities.String), &entry.Result.Probabilities); err != nil {
				return nil, err
			}
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

type TrainingLog struct {
	ModelName  string    `json:"model_name"`
	ModelPath  string    `json:"model_path"`
	Accuracy   float64   `json:"accuracy"`
	DataPoints int       `json:"data_points"`
	Classes    int       `json:"classes"`
	TrainedAt  time.Time `json:"trained_at"`
}

func (s *Store) SaveTrainingLog(ctx context.Context, log TrainingLog) error {
	_, err := s.database.ExecContext(ctx, `
        INSERT INTO training_log (model_name, model_path, accuracy, data_points, classes, trained_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		log.ModelName, log.ModelPath, log.Accuracy, log.DataPoints, log.Classes, log.TrainedAt.UTC())
	return err
}

func (s *Store) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	rows, err := s.database.QueryContext(ctx, `
        SELECT model_name, model_path, accuracy, data_points, classes, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.ModelName, &log.ModelPath, &log.Accuracy, &log.DataPoints, &log.Classes, &log.TrainedAt); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
