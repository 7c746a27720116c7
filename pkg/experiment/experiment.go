// Package experiment runs the full fine-tuning comparison: a fully trainable
// baseline head versus a low-rank adapter run over the same frozen encoder,
// with run metadata persisted for later analysis.
package experiment

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nightglass/phishtune/pkg/adapter"
	"github.com/nightglass/phishtune/pkg/config"
	"github.com/nightglass/phishtune/pkg/dataset"
	"github.com/nightglass/phishtune/pkg/encoder"
	"github.com/nightglass/phishtune/pkg/infer"
	"github.com/nightglass/phishtune/pkg/tokenizer"
	"github.com/nightglass/phishtune/pkg/trainer"
)

// RunSummary is the final report of one experiment.
type RunSummary struct {
	ID         uuid.UUID       `json:"id"`
	TrainSize  int             `json:"train_size"`
	TestSize   int             `json:"test_size"`
	Baseline   *trainer.Result `json:"baseline,omitempty"`
	Lora       *trainer.Result `json:"lora"`
	Errors     int             `json:"errors"`
	SpotChecks []*infer.Result `json:"spot_checks,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// Runner orchestrates one experiment end to end.
type Runner struct {
	cfg      *config.Config
	provider encoder.Provider
	tok      *tokenizer.Tokenizer
	registry Registry
	errs     *ErrorStore

	// Models trained during Run, retained for inspection.
	Baseline *adapter.Model
	Lora     *adapter.Model
}

// NewRunner wires the collaborators. tok, registry, and errs may be nil:
// token statistics, run records, and error storage are then skipped.
func NewRunner(cfg *config.Config, provider encoder.Provider, tok *tokenizer.Tokenizer, registry Registry, errs *ErrorStore) (*Runner, error) {
	if cfg == nil || provider == nil {
		return nil, fmt.Errorf("runner requires a config and an embedding provider")
	}
	return &Runner{cfg: cfg, provider: provider, tok: tok, registry: registry, errs: errs}, nil
}

// Run loads the corpus, splits it, trains the baseline and adapter models,
// and records both runs. The baseline pass can be skipped to save time.
func (r *Runner) Run(ctx context.Context, withBaseline bool) (*RunSummary, error) {
	start := time.Now()
	summary := &RunSummary{ID: uuid.New()}

	train, test, err := r.loadSplits()
	if err != nil {
		return nil, err
	}
	summary.TrainSize = train.Len()
	summary.TestSize = test.Len()

	r.logTokenStats(train)

	dim := r.provider.Dimension()

	if withBaseline {
		log.Printf("[experiment] Training baseline (full head) model")
		base, err := adapter.Build(r.cfg.ModelName, dim, dataset.NumLabels, true, nil, r.cfg.Seed)
		if err != nil {
			return nil, fmt.Errorf("failed to build baseline model: %w", err)
		}
		baseCfg := r.cfg.Training
		baseCfg.OutputDir = filepath.Join(r.cfg.Training.OutputDir, "baseline")
		summary.Baseline, err = r.trainOne(ctx, base, train, test, baseCfg)
		if err != nil {
			return nil, fmt.Errorf("baseline run failed: %w", err)
		}
		r.Baseline = base
		r.record(ctx, summary.ID, "baseline", nil, base, baseCfg, summary.Baseline)
	}

	log.Printf("[experiment] Training adapter model (rank=%d alpha=%.0f)", r.cfg.Lora.Rank, r.cfg.Lora.Alpha)
	lora := r.cfg.Lora
	loraModel, err := adapter.Build(r.cfg.ModelName, dim, dataset.NumLabels, false, &lora, r.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to build adapter model: %w", err)
	}
	loraCfg := r.cfg.Training
	loraCfg.OutputDir = filepath.Join(r.cfg.Training.OutputDir, "lora")
	summary.Lora, err = r.trainOne(ctx, loraModel, train, test, loraCfg)
	if err != nil {
		return nil, fmt.Errorf("adapter run failed: %w", err)
	}
	r.Lora = loraModel
	r.record(ctx, summary.ID, "lora", &lora, loraModel, loraCfg, summary.Lora)

	if err := r.analyzeErrors(ctx, summary, loraModel, test); err != nil {
		log.Printf("[experiment] Error analysis failed: %v", err)
	}

	summary.Duration = time.Since(start)
	log.Printf("[experiment] Done in %v (lora accuracy %.4f)", summary.Duration.Round(time.Millisecond), summary.Lora.Best.Accuracy)
	return summary, nil
}

// loadSplits assembles the working corpus: the downloaded dataset plus any
// local seed examples, sampled and split deterministically.
func (r *Runner) loadSplits() (train, test *dataset.Dataset, err error) {
	path := r.cfg.CorpusPath
	if path == "" {
		path, err = dataset.EnsureCorpusDownloaded(dataset.DefaultCorpusPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to obtain corpus: %w", err)
		}
	}

	corpus, err := dataset.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load corpus: %w", err)
	}

	if r.cfg.SeedDir != "" {
		added, err := dataset.LoadSeeds(corpus, r.cfg.SeedDir)
		if err != nil {
			log.Printf("[experiment] Seed loading skipped: %v", err)
		} else if added > 0 {
			log.Printf("[experiment] Added %d seed examples", added)
		}
	}

	n := r.cfg.SampleSize
	if n > corpus.Len() {
		log.Printf("[experiment] Sample size %d exceeds corpus size %d, using full corpus", n, corpus.Len())
		n = corpus.Len()
	}

	train, test, err = dataset.Split(corpus, n, r.cfg.Seed, r.cfg.TestFraction)
	if err != nil {
		return nil, nil, err
	}

	log.Printf("[experiment] Split: %d train / %d test (stats %v)", train.Len(), test.Len(), corpus.Stats())
	return train, test, nil
}

// logTokenStats reports how often training texts hit the tokenizer's length
// cap, which is the honest signal that truncation is losing signal.
func (r *Runner) logTokenStats(train *dataset.Dataset) {
	if r.tok == nil {
		return
	}
	_, masks, err := r.tok.EncodeBatch(train.Texts())
	if err != nil {
		log.Printf("[experiment] Token statistics unavailable: %v", err)
		return
	}
	stats := tokenizer.ComputeStats(masks)
	log.Printf("[experiment] Token lengths: mean=%.1f at-capacity=%d/%d",
		stats.MeanTokens, stats.AtCapacity, stats.Examples)
}

func (r *Runner) trainOne(ctx context.Context, model *adapter.Model, train, test *dataset.Dataset, cfg trainer.Config) (*trainer.Result, error) {
	total, trainable := model.ParamCounts()
	log.Printf("[experiment] Trainable parameters: %d / %d (%.2f%%)",
		trainable, total, float64(trainable)/float64(total)*100)

	t, err := trainer.New(model, r.provider, train, test, cfg)
	if err != nil {
		return nil, err
	}
	return t.Train(ctx)
}

func (r *Runner) record(ctx context.Context, runID uuid.UUID, name string, lora *adapter.LoraConfig, model *adapter.Model, cfg trainer.Config, result *trainer.Result) {
	if r.registry == nil {
		return
	}
	_, trainable := model.ParamCounts()
	rec := &RunRecord{
		ID:              uuid.New(),
		Name:            name,
		ModelID:         r.cfg.ModelName,
		SampleSize:      r.cfg.SampleSize,
		Seed:            r.cfg.Seed,
		LearningRate:    cfg.LearningRate,
		BatchSize:       cfg.BatchSize,
		Epochs:          cfg.Epochs,
		Lora:            lora,
		Accuracy:        result.Best.Accuracy,
		Loss:            result.Best.EvalLoss,
		TrainableParams: trainable,
		Duration:        result.Duration,
		CreatedAt:       time.Now().UTC(),
	}
	if err := r.registry.Record(ctx, rec); err != nil {
		log.Printf("[experiment] Failed to record %s run %s: %v", name, runID, err)
	}
}

// analyzeErrors runs the trained adapter model over the held-out set,
// collects a few spot checks for the summary, and stores every
// misclassification in the error store when one is configured.
func (r *Runner) analyzeErrors(ctx context.Context, summary *RunSummary, model *adapter.Model, test *dataset.Dataset) error {
	const maxSpotChecks = 5

	for i := 0; i < test.Len(); i++ {
		result, err := infer.Run(ctx, model, r.provider, r.tok, test, i)
		if err != nil {
			return err
		}
		if len(summary.SpotChecks) < maxSpotChecks {
			summary.SpotChecks = append(summary.SpotChecks, result)
		}
		if result.Correct {
			continue
		}
		summary.Errors++
		if r.errs != nil {
			if err := r.errs.Add(ctx, summary.ID, result); err != nil {
				log.Printf("[experiment] Failed to store misclassification: %v", err)
			}
		}
	}

	log.Printf("[experiment] Held-out errors: %d / %d", summary.Errors, test.Len())
	return nil
}
