// Command phishtune fine-tunes and serves a phishing text classifier built
// on a frozen sentence encoder with a low-rank adapted classification head.
//
// Subcommands:
//
//	train  — run the baseline and adapter fine-tuning experiment
//	eval   — evaluate a saved adapter checkpoint on the held-out split
//	infer  — classify one held-out example or an ad-hoc text
//	serve  — expose a saved checkpoint over HTTP
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/philippgille/chromem-go"

	"github.com/nightglass/phishtune/pkg/adapter"
	"github.com/nightglass/phishtune/pkg/artifact"
	"github.com/nightglass/phishtune/pkg/config"
	"github.com/nightglass/phishtune/pkg/dataset"
	"github.com/nightglass/phishtune/pkg/encoder"
	"github.com/nightglass/phishtune/pkg/experiment"
	"github.com/nightglass/phishtune/pkg/infer"
	"github.com/nightglass/phishtune/pkg/server"
	"github.com/nightglass/phishtune/pkg/tokenizer"
	"github.com/nightglass/phishtune/pkg/trainer"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: phishtune <command> [flags]

Commands:
  train   run the fine-tuning experiment (baseline + adapter)
  eval    evaluate a saved checkpoint on the held-out split
  infer   classify a held-out example or an ad-hoc text
  serve   serve a saved checkpoint over HTTP

Run "phishtune <command> -h" for command flags.
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "train":
		err = runTrain(ctx, os.Args[2:])
	case "eval":
		err = runEval(ctx, os.Args[2:])
	case "infer":
		err = runInfer(ctx, os.Args[2:])
	case "serve":
		err = runServe(ctx, os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("[phishtune] %v", err)
	}
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	baseline := fs.Bool("baseline", true, "also train the fully trainable baseline head")
	_ = fs.Parse(args)

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}

	provider, enc, cleanup, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	tok := buildTokenizer(cfg)

	registry := experiment.NewRegistry(ctx, cfg.PostgresURL, cfg.RunsPath)
	defer func() { _ = registry.Close() }()

	var errs *experiment.ErrorStore
	if cfg.ErrorStorePath != "" && enc != nil {
		errs, err = experiment.NewErrorStore(cfg.ErrorStorePath, chromem.EmbeddingFunc(enc.EmbeddingFunc()))
		if err != nil {
			log.Printf("[phishtune] Error store disabled: %v", err)
		}
	}

	runner, err := experiment.NewRunner(cfg, provider, tok, registry, errs)
	if err != nil {
		return err
	}

	summary, err := runner.Run(ctx, *baseline)
	if err != nil {
		return err
	}

	if summary.Baseline != nil {
		log.Printf("[phishtune] Baseline accuracy: %.4f", summary.Baseline.Best.Accuracy)
	}
	log.Printf("[phishtune] Adapter accuracy:  %.4f", summary.Lora.Best.Accuracy)
	for _, check := range summary.SpotChecks {
		fmt.Println(check)
	}

	summaryPath := filepath.Join(cfg.Training.OutputDir, "summary.json")
	if err := writeJSON(summaryPath, summary); err != nil {
		return err
	}
	log.Printf("[phishtune] Summary written to %s", summaryPath)
	return nil
}

func runEval(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	dir := fs.String("dir", "", "checkpoint directory (default <output_dir>/lora/best)")
	_ = fs.Parse(args)

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}

	model, err := loadModel(cfg, *dir)
	if err != nil {
		return err
	}

	provider, _, cleanup, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	train, test, err := loadSplits(cfg)
	if err != nil {
		return err
	}

	t, err := trainer.New(model, provider, train, test, cfg.Training)
	if err != nil {
		return err
	}
	metrics, err := t.Evaluate(ctx)
	if err != nil {
		return err
	}

	log.Printf("[phishtune] Held-out accuracy: %.4f loss: %.4f (n=%d)", metrics.Accuracy, metrics.Loss, metrics.N)
	return nil
}

func runInfer(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("infer", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	dir := fs.String("dir", "", "checkpoint directory (default <output_dir>/lora/best)")
	index := fs.Int("index", 0, "held-out example index")
	text := fs.String("text", "", "classify this text instead of a held-out example")
	_ = fs.Parse(args)

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}

	model, err := loadModel(cfg, *dir)
	if err != nil {
		return err
	}

	provider, _, cleanup, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if *text != "" {
		emb32, err := provider.Embed(ctx, *text)
		if err != nil {
			return fmt.Errorf("failed to embed text: %w", err)
		}
		emb := make([]float64, len(emb32))
		for i, v := range emb32 {
			emb[i] = float64(v)
		}
		predicted, scores := model.Predict(emb)
		fmt.Printf("predicted=%s confidence=%.3f\n", dataset.Label(predicted), scores[predicted])
		return nil
	}

	_, test, err := loadSplits(cfg)
	if err != nil {
		return err
	}

	result, err := infer.Run(ctx, model, provider, buildTokenizer(cfg), test, *index)
	if err != nil {
		return err
	}
	fmt.Println(result)
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	dir := fs.String("dir", "", "checkpoint directory (default <output_dir>/lora/best)")
	addr := fs.String("addr", "", "listen address (default from config)")
	_ = fs.Parse(args)

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}
	if *addr == "" {
		*addr = cfg.ListenAddr
	}

	model, err := loadModel(cfg, *dir)
	if err != nil {
		return err
	}

	provider, _, cleanup, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	srv, err := server.New(model, provider)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		log.Printf("[phishtune] Shutting down")
		if err := srv.Shutdown(); err != nil {
			log.Printf("[phishtune] Shutdown error: %v", err)
		}
	}()

	return srv.Listen(*addr)
}

// buildProvider constructs the embedding stack: ONNX encoder wrapped in a
// Redis cache when configured, an in-process cache otherwise. The returned
// *encoder.Encoder is the unwrapped base for callers that need its
// embedding function directly.
func buildProvider(cfg *config.Config) (encoder.Provider, *encoder.Encoder, func(), error) {
	if !encoder.ModelExists(cfg.ModelPath) {
		if err := encoder.EnsureModelDownloaded(cfg.ModelPath); err != nil {
			return nil, nil, nil, fmt.Errorf("encoder model unavailable: %w", err)
		}
		if !encoder.ModelExists(cfg.ModelPath) {
			return nil, nil, nil, fmt.Errorf("encoder model missing at %s (set PHISHTUNE_AUTO_DOWNLOAD=true to fetch it)", cfg.ModelPath)
		}
	}

	enc, err := encoder.New(cfg.EncoderConfig())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize encoder: %w", err)
	}

	var cache encoder.Cache
	if cfg.RedisAddr != "" {
		redisCache, err := encoder.NewRedisCache(cfg.RedisAddr, encoder.DefaultCacheTTL)
		if err != nil {
			log.Printf("[phishtune] Redis unavailable, using in-process cache: %v", err)
		} else {
			cache = redisCache
		}
	}
	if cache == nil {
		cache = encoder.NewMemoryCache(encoder.DefaultCacheTTL)
	}

	provider := encoder.NewCachedProvider(enc, cache, cfg.ModelName)
	cleanup := func() {
		if closer, ok := cache.(*encoder.RedisCache); ok {
			_ = closer.Close()
		}
		_ = enc.Close()
	}
	return provider, enc, cleanup, nil
}

func buildTokenizer(cfg *config.Config) *tokenizer.Tokenizer {
	tok, err := tokenizer.New(cfg.TokenizerConfig())
	if err != nil {
		log.Printf("[phishtune] Tokenizer unavailable, token statistics disabled: %v", err)
		return nil
	}
	return tok
}

func loadModel(cfg *config.Config, dir string) (*adapter.Model, error) {
	if dir == "" {
		dir = filepath.Join(cfg.Training.OutputDir, "lora", trainer.BestDirName)
	}
	art, err := artifact.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint from %s: %w", dir, err)
	}
	model, err := art.Restore()
	if err != nil {
		return nil, fmt.Errorf("failed to restore checkpoint: %w", err)
	}
	log.Printf("[phishtune] Loaded %s checkpoint (model %s)", art.Version, art.ModelID)
	return model, nil
}

// loadSplits reproduces the training-time split so eval and infer see the
// exact held-out examples the trainer saw.
func loadSplits(cfg *config.Config) (train, test *dataset.Dataset, err error) {
	path := cfg.CorpusPath
	if path == "" {
		path, err = dataset.EnsureCorpusDownloaded(dataset.DefaultCorpusPath)
		if err != nil {
			return nil, nil, err
		}
	}
	corpus, err := dataset.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if cfg.SeedDir != "" {
		if _, err := dataset.LoadSeeds(corpus, cfg.SeedDir); err != nil {
			log.Printf("[phishtune] Seed loading skipped: %v", err)
		}
	}
	n := cfg.SampleSize
	if n > corpus.Len() {
		n = corpus.Len()
	}
	return dataset.Split(corpus, n, cfg.Seed, cfg.TestFraction)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
