// Package trainer wires a model, train/test datasets, and hyperparameters
// into a training loop with per-epoch evaluation, checkpointing, and
// best-checkpoint retention.
package trainer

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/nightglass/phishtune/pkg/adapter"
	"github.com/nightglass/phishtune/pkg/artifact"
	"github.com/nightglass/phishtune/pkg/dataset"
	"github.com/nightglass/phishtune/pkg/encoder"
)

// BestDirName is the retained best-checkpoint directory inside OutputDir.
const BestDirName = "best"

// Config holds the training hyperparameters.
type Config struct {
	LearningRate float64 `yaml:"learning_rate"`
	BatchSize    int     `yaml:"batch_size"`
	Epochs       int     `yaml:"epochs"`
	WeightDecay  float64 `yaml:"weight_decay"`
	OutputDir    string  `yaml:"output_dir"`
	Seed         int64   `yaml:"seed"`
}

// DefaultConfig returns the standard fine-tuning hyperparameters.
func DefaultConfig(outputDir string) Config {
	return Config{
		LearningRate: 1e-3,
		BatchSize:    16,
		Epochs:       5,
		WeightDecay:  0.01,
		OutputDir:    outputDir,
		Seed:         42,
	}
}

// Metrics summarizes one evaluation pass.
type Metrics struct {
	Loss     float64       `json:"loss"`
	Accuracy float64       `json:"accuracy"`
	N        int           `json:"n"`
	Duration time.Duration `json:"duration"`
}

// EpochMetrics records one epoch of training.
type EpochMetrics struct {
	Epoch     int           `json:"epoch"`
	TrainLoss float64       `json:"train_loss"`
	EvalLoss  float64       `json:"eval_loss"`
	Accuracy  float64       `json:"accuracy"`
	Duration  time.Duration `json:"duration"`
}

// Result is the outcome of a full training run.
type Result struct {
	Epochs   []EpochMetrics `json:"epochs"`
	Best     EpochMetrics   `json:"best"`
	BestDir  string         `json:"best_dir"`
	Duration time.Duration  `json:"duration"`
}

// Trainer drives mini-batch AdamW over the model's trainable parameters.
type Trainer struct {
	model    *adapter.Model
	provider encoder.Provider
	train    *dataset.Dataset
	test     *dataset.Dataset
	cfg      Config
	opt      *AdamW
	rng      *rand.Rand

	trainEmb [][]float64
	testEmb  [][]float64
}

// New wires a model, datasets, and hyperparameters into a trainer.
// Reusing a non-empty output directory logs a warning and continues;
// existing checkpoints are overwritten epoch by epoch.
func New(model *adapter.Model, provider encoder.Provider, train, test *dataset.Dataset, cfg Config) (*Trainer, error) {
	if model == nil || provider == nil {
		return nil, fmt.Errorf("trainer requires a model and an embedding provider")
	}
	if train.Len() == 0 || test.Len() == 0 {
		return nil, fmt.Errorf("trainer requires non-empty train and test datasets")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = 1
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 1e-3
	}

	if entries, err := os.ReadDir(cfg.OutputDir); err == nil && len(entries) > 0 {
		log.Printf("[trainer] ⚠ Output directory %s is not empty; existing checkpoints will be overwritten", cfg.OutputDir)
	}

	return &Trainer{
		model:    model,
		provider: provider,
		train:    train,
		test:     test,
		cfg:      cfg,
		opt:      NewAdamW(cfg.LearningRate, cfg.WeightDecay),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Train runs the configured number of epochs, evaluating and checkpointing
// at each epoch boundary. The best-accuracy checkpoint is retained under
// OutputDir/best and its weights are restored into the model at the end.
func (t *Trainer) Train(ctx context.Context) (*Result, error) {
	start := time.Now()
	if err := t.ensureEmbeddings(ctx); err != nil {
		return nil, err
	}

	result := &Result{BestDir: filepath.Join(t.cfg.OutputDir, BestDirName)}
	bestAccuracy := math.Inf(-1)

	indices := make([]int, t.train.Len())
	for i := range indices {
		indices[i] = i
	}

	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		epochStart := time.Now()

		t.rng.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })

		totalLoss := 0.0
		for batchStart := 0; batchStart < len(indices); batchStart += t.cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			batchEnd := batchStart + t.cfg.BatchSize
			if batchEnd > len(indices) {
				batchEnd = len(indices)
			}
			batch := indices[batchStart:batchEnd]

			t.model.ZeroGrads()
			for _, idx := range batch {
				loss, _ := t.model.Accumulate(t.trainEmb[idx], int(t.train.Examples[idx].Label))
				totalLoss += loss
			}
			scaleGrads(t.model.TrainableParams(), 1/float64(len(batch)))
			t.opt.Step(t.model.TrainableParams())
		}
		trainLoss := totalLoss / float64(len(indices))

		eval, err := t.Evaluate(ctx)
		if err != nil {
			return nil, err
		}

		em := EpochMetrics{
			Epoch:     epoch,
			TrainLoss: trainLoss,
			EvalLoss:  eval.Loss,
			Accuracy:  eval.Accuracy,
			Duration:  time.Since(epochStart),
		}
		result.Epochs = append(result.Epochs, em)
		log.Printf("[trainer] Epoch %d/%d: train_loss=%.4f eval_loss=%.4f accuracy=%.4f (%.1fs)",
			epoch, t.cfg.Epochs, em.TrainLoss, em.EvalLoss, em.Accuracy, em.Duration.Seconds())

		metrics := map[string]float64{"accuracy": eval.Accuracy, "loss": eval.Loss, "epoch": float64(epoch)}
		snap := artifact.Snapshot(t.model, t.model.Pre.W.Trainable, metrics)
		checkpointDir := filepath.Join(t.cfg.OutputDir, fmt.Sprintf("checkpoint-%d", epoch))
		if err := snap.Save(checkpointDir); err != nil {
			return nil, fmt.Errorf("failed to save checkpoint %d: %w", epoch, err)
		}

		if eval.Accuracy > bestAccuracy {
			bestAccuracy = eval.Accuracy
			result.Best = em
			if err := snap.Save(result.BestDir); err != nil {
				return nil, fmt.Errorf("failed to retain best checkpoint: %w", err)
			}
		}
	}

	if err := t.restoreBest(result.BestDir); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	log.Printf("[trainer] Training complete: best accuracy %.4f at epoch %d (%.1fs total)",
		result.Best.Accuracy, result.Best.Epoch, result.Duration.Seconds())
	return result, nil
}

// restoreBest copies the retained best checkpoint's weights back into the
// live model, so callers evaluate and serve the best epoch, not the last.
func (t *Trainer) restoreBest(bestDir string) error {
	best, err := artifact.Load(bestDir)
	if err != nil {
		return fmt.Errorf("failed to load best checkpoint: %w", err)
	}
	for _, v := range best.Variables {
		if err := t.model.SetVariable(v.Name, v.Shape, v.Data); err != nil {
			return fmt.Errorf("failed to restore best checkpoint: %w", err)
		}
	}
	return nil
}

// Evaluate measures cross-entropy loss and accuracy on the test split.
// Accuracy is the fraction of predictions matching ground truth, in [0, 1].
func (t *Trainer) Evaluate(ctx context.Context) (*Metrics, error) {
	if err := t.ensureEmbeddings(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	totalLoss := 0.0
	correct := 0
	for i, ex := range t.test.Examples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		predicted, probs := t.model.Predict(t.testEmb[i])
		totalLoss += -math.Log(math.Max(probs[int(ex.Label)], 1e-12))
		if predicted == int(ex.Label) {
			correct++
		}
	}

	n := t.test.Len()
	return &Metrics{
		Loss:     totalLoss / float64(n),
		Accuracy: float64(correct) / float64(n),
		N:        n,
		Duration: time.Since(start),
	}, nil
}

// ensureEmbeddings runs the frozen encoder over both splits once.
func (t *Trainer) ensureEmbeddings(ctx context.Context) error {
	if t.trainEmb != nil && t.testEmb != nil {
		return nil
	}

	log.Printf("[trainer] Embedding %d train / %d test examples through the frozen encoder...",
		t.train.Len(), t.test.Len())

	trainEmb, err := embedAll(ctx, t.provider, t.train)
	if err != nil {
		return fmt.Errorf("failed to embed train split: %w", err)
	}
	testEmb, err := embedAll(ctx, t.provider, t.test)
	if err != nil {
		return fmt.Errorf("failed to embed test split: %w", err)
	}

	t.trainEmb, t.testEmb = trainEmb, testEmb
	return nil
}

func embedAll(ctx context.Context, provider encoder.Provider, ds *dataset.Dataset) ([][]float64, error) {
	raw, err := provider.EmbedBatch(ctx, ds.Texts())
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(raw))
	for i, emb := range raw {
		row := make([]float64, len(emb))
		for j, v := range emb {
			row[j] = float64(v)
		}
		out[i] = row
	}
	return out, nil
}

func scaleGrads(params []*adapter.Param, scale float64) {
	for _, p := range params {
		p.Grad.Scale(scale, p.Grad)
	}
}
