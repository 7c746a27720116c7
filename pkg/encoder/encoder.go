// Package encoder serves the frozen pre-trained base model through
// Hugot/ONNX. The encoder's parameters never accumulate gradients; all
// task-specific learning happens in the adapter package on top of the
// embeddings produced here.
package encoder

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

// Base model constants
const (
	// ModelMiniLM is a small, fast sentence encoder (80MB, 384 dimensions)
	ModelMiniLM = "sentence-transformers/all-MiniLM-L6-v2"

	// DefaultModelPath is the default location for the base model
	DefaultModelPath = "./models/all-MiniLM-L6-v2"

	// Dimension is the embedding dimension of MiniLM-L6-v2
	Dimension = 384
)

// Provider generates embeddings for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config configures the base encoder.
type Config struct {
	ModelPath       string
	ModelName       string
	OnnxLibraryPath string
	BatchSize       int
	Timeout         time.Duration
}

// DefaultConfig returns a default configuration using MiniLM.
func DefaultConfig() Config {
	return Config{
		ModelPath:       DefaultModelPath,
		ModelName:       ModelMiniLM,
		OnnxLibraryPath: getDefaultOnnxPath(),
		BatchSize:       32,
		Timeout:         30 * time.Second,
	}
}

// Encoder runs the frozen base model as a Hugot feature-extraction pipeline.
type Encoder struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	mu       sync.RWMutex
	ready    bool
	config   Config
}

// New creates an encoder over a local ONNX model, downloading it first if
// auto-download is enabled and the model is missing.
func New(cfg Config) (*Encoder, error) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 32
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ModelPath == "" {
		cfg.ModelPath = DefaultModelPath
	}

	enc := &Encoder{config: cfg}
	if err := enc.initialize(); err != nil {
		return nil, fmt.Errorf("encoder initialization failed: %w", err)
	}
	return enc, nil
}

// initialize sets up the ONNX session and pipeline.
func (e *Encoder) initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := EnsureModelDownloaded(e.config.ModelPath); err != nil {
		return err
	}
	if _, err := os.Stat(e.config.ModelPath); err != nil {
		return fmt.Errorf("model path does not exist: %s", e.config.ModelPath)
	}

	session, err := e.createSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	e.session = session

	config := hugot.FeatureExtractionConfig{
		ModelPath: e.config.ModelPath,
		Name:      "base-encoder",
	}

	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		_ = e.session.Destroy() // Cleanup on error; error ignored as we're already returning an error
		return fmt.Errorf("failed to create encoder pipeline: %w", err)
	}

	e.pipeline = pipeline
	e.ready = true
	log.Printf("[encoder] Base encoder initialized (model: %s)", e.config.ModelPath)
	return nil
}

// createSession creates the Hugot session, preferring the ONNX Runtime
// backend and falling back to the pure Go backend.
func (e *Encoder) createSession() (*hugot.Session, error) {
	if e.config.OnnxLibraryPath != "" {
		opts := []options.WithOption{
			options.WithOnnxLibraryPath(e.config.OnnxLibraryPath),
		}

		session, err := hugot.NewORTSession(opts...)
		if err == nil {
			log.Printf("[encoder] Using ONNX Runtime backend")
			return session, nil
		}
		log.Printf("[encoder] ONNX Runtime unavailable, falling back to Go backend: %v", err)
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Go session: %w", err)
	}
	log.Printf("[encoder] Using pure Go backend (slower, consider installing ONNX Runtime)")
	return session, nil
}

// IsReady returns true if the encoder is ready for use.
func (e *Encoder) IsReady() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Dimension returns the embedding dimension.
func (e *Encoder) Dimension() int {
	return Dimension
}

// Embed generates an embedding for a single text.
func (e *Encoder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts, order-preserving.
func (e *Encoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.ready || e.pipeline == nil {
		return nil, fmt.Errorf("encoder not ready")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		result, err := e.pipeline.RunPipeline(texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding generation failed: %w", err)
		}
		embeddings = append(embeddings, result.Embeddings...)
	}

	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d texts", len(embeddings), len(texts))
	}
	return embeddings, nil
}

// EmbeddingFunc returns a function compatible with chromem-go's embedding interface.
func (e *Encoder) EmbeddingFunc() func(ctx context.Context, text string) ([]float32, error) {
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.Embed(ctx, text)
	}
}

// Close releases the ONNX session.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ready = false
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}
