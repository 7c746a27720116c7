package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nightglass/phishtune/pkg/adapter"
)

// RunRecord is the persisted metadata and final metrics of one run.
type RunRecord struct {
	ID              uuid.UUID           `json:"id"`
	Name            string              `json:"name"`
	ModelID         string              `json:"model_id"`
	SampleSize      int                 `json:"sample_size"`
	Seed            int64               `json:"seed"`
	LearningRate    float64             `json:"learning_rate"`
	BatchSize       int                 `json:"batch_size"`
	Epochs          int                 `json:"epochs"`
	Lora            *adapter.LoraConfig `json:"lora,omitempty"`
	Accuracy        float64             `json:"accuracy"`
	Loss            float64             `json:"loss"`
	TrainableParams int                 `json:"trainable_params"`
	Duration        time.Duration       `json:"duration"`
	CreatedAt       time.Time           `json:"created_at"`
}

// Registry persists run records.
type Registry interface {
	Record(ctx context.Context, record *RunRecord) error
	Close() error
}

// NewRegistry picks the backing store: Postgres when a URL is configured,
// otherwise a local JSONL file. Postgres connection failures degrade to the
// file registry with a warning rather than blocking the experiment.
func NewRegistry(ctx context.Context, postgresURL, runsPath string) Registry {
	if postgresURL != "" {
		reg, err := NewPgRegistry(ctx, postgresURL)
		if err == nil {
			log.Printf("[experiment] Run registry backed by Postgres")
			return reg
		}
		log.Printf("[experiment] Postgres registry unavailable, falling back to %s: %v", runsPath, err)
	}
	return NewFileRegistry(runsPath)
}

// PgRegistry stores run records in a Postgres table.
type PgRegistry struct {
	pool *pgxpool.Pool
}

// NewPgRegistry connects to Postgres and ensures the runs table exists.
func NewPgRegistry(ctx context.Context, url string) (*PgRegistry, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS phishtune_runs (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			model_id TEXT NOT NULL,
			sample_size INT NOT NULL,
			seed BIGINT NOT NULL,
			learning_rate DOUBLE PRECISION NOT NULL,
			batch_size INT NOT NULL,
			epochs INT NOT NULL,
			lora JSONB,
			accuracy DOUBLE PRECISION NOT NULL,
			loss DOUBLE PRECISION NOT NULL,
			trainable_params INT NOT NULL,
			duration_ms BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure runs table: %w", err)
	}

	return &PgRegistry{pool: pool}, nil
}

// Record inserts one run record.
func (r *PgRegistry) Record(ctx context.Context, record *RunRecord) error {
	var loraJSON []byte
	if record.Lora != nil {
		var err error
		loraJSON, err = json.Marshal(record.Lora)
		if err != nil {
			return fmt.Errorf("failed to encode lora payload: %w", err)
		}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO phishtune_runs
			(id, name, model_id, sample_size, seed, learning_rate, batch_size,
			 epochs, lora, accuracy, loss, trainable_params, duration_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		record.ID, record.Name, record.ModelID, record.SampleSize, record.Seed,
		record.LearningRate, record.BatchSize, record.Epochs, loraJSON,
		record.Accuracy, record.Loss, record.TrainableParams,
		record.Duration.Milliseconds(), record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run record: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *PgRegistry) Close() error {
	r.pool.Close()
	return nil
}

// FileRegistry appends run records to a local JSONL file.
type FileRegistry struct {
	path string
}

// NewFileRegistry creates a JSONL-backed registry.
func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{path: path}
}

// Record appends one JSON line.
func (r *FileRegistry) Record(_ context.Context, record *RunRecord) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append run record: %w", err)
	}
	return nil
}

// Close is a no-op for the file registry.
func (r *FileRegistry) Close() error {
	return nil
}
