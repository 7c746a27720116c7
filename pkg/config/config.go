// Package config holds experiment configuration: YAML files with
// environment-variable overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/nightglass/phishtune/pkg/adapter"
	"github.com/nightglass/phishtune/pkg/dataset"
	"github.com/nightglass/phishtune/pkg/encoder"
	"github.com/nightglass/phishtune/pkg/tokenizer"
	"github.com/nightglass/phishtune/pkg/trainer"
)

// Config is the full experiment configuration.
type Config struct {
	// Base model
	ModelName       string `yaml:"model_name"`
	ModelPath       string `yaml:"model_path"`
	OnnxLibraryPath string `yaml:"onnx_library_path"`

	// Corpus
	CorpusPath   string  `yaml:"corpus_path"`
	SeedDir      string  `yaml:"seed_dir"`
	SampleSize   int     `yaml:"sample_size"`
	Seed         int64   `yaml:"seed"`
	TestFraction float64 `yaml:"test_fraction"`
	MaxLength    int     `yaml:"max_length"`

	// Training
	Training trainer.Config     `yaml:"training"`
	Lora     adapter.LoraConfig `yaml:"lora"`

	// Infrastructure (all optional, degrade gracefully when unset)
	RedisAddr      string `yaml:"redis_addr"`
	PostgresURL    string `yaml:"postgres_url"`
	RunsPath       string `yaml:"runs_path"`
	ErrorStorePath string `yaml:"error_store_path"`
	ListenAddr     string `yaml:"listen_addr"`
}

// NewDefaultConfig returns the standard experiment configuration.
func NewDefaultConfig() *Config {
	return &Config{
		ModelName:       encoder.ModelMiniLM,
		ModelPath:       encoder.DefaultModelPath,
		CorpusPath:      "",
		SeedDir:         "./seeds",
		SampleSize:      2000,
		Seed:            42,
		TestFraction:    0.2,
		MaxLength:       tokenizer.DefaultMaxLength,
		Training:        trainer.DefaultConfig("./runs/experiment"),
		Lora:            adapter.DefaultLoraConfig(),
		RunsPath:        "./runs/registry.jsonl",
		ErrorStorePath:  "./runs/errors",
		ListenAddr:      ":8787",
	}
}

// LoadFile reads a YAML configuration file over the defaults and applies
// environment overrides on top.
func LoadFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

// ApplyEnv overrides configuration fields from PHISHTUNE_* variables.
func (c *Config) ApplyEnv() {
	c.ModelPath = GetEnv("PHISHTUNE_MODEL_PATH", c.ModelPath)
	c.OnnxLibraryPath = GetEnv("PHISHTUNE_ONNX_LIBRARY_PATH", c.OnnxLibraryPath)
	c.CorpusPath = GetEnv("PHISHTUNE_CORPUS_PATH", c.CorpusPath)
	c.SeedDir = GetEnv("PHISHTUNE_SEED_DIR", c.SeedDir)
	c.SampleSize = GetEnvInt("PHISHTUNE_SAMPLE_SIZE", c.SampleSize)
	c.Seed = int64(GetEnvInt("PHISHTUNE_SEED", int(c.Seed)))
	c.TestFraction = GetEnvFloat("PHISHTUNE_TEST_FRACTION", c.TestFraction)
	c.Training.OutputDir = GetEnv("PHISHTUNE_OUTPUT_DIR", c.Training.OutputDir)
	c.Training.Epochs = GetEnvInt("PHISHTUNE_EPOCHS", c.Training.Epochs)
	c.Training.BatchSize = GetEnvInt("PHISHTUNE_BATCH_SIZE", c.Training.BatchSize)
	c.Training.LearningRate = GetEnvFloat("PHISHTUNE_LEARNING_RATE", c.Training.LearningRate)
	c.RedisAddr = GetEnv("PHISHTUNE_REDIS_ADDR", c.RedisAddr)
	c.PostgresURL = GetEnv("PHISHTUNE_POSTGRES_URL", c.PostgresURL)
	c.ListenAddr = GetEnv("PHISHTUNE_LISTEN_ADDR", c.ListenAddr)
}

// Validate clamps and checks field ranges.
func (c *Config) Validate() error {
	c.SampleSize = clampInt(c.SampleSize, 2, 1_000_000)
	c.MaxLength = clampInt(c.MaxLength, 8, 512)
	c.Training.BatchSize = clampInt(c.Training.BatchSize, 1, 1024)
	c.Training.Epochs = clampInt(c.Training.Epochs, 1, 1000)

	if c.TestFraction <= 0 || c.TestFraction >= 1 {
		return fmt.Errorf("%w: got %f", dataset.ErrInvalidFraction, c.TestFraction)
	}
	if err := c.Lora.Validate(); err != nil {
		return err
	}
	return nil
}

// EncoderConfig derives the encoder configuration.
func (c *Config) EncoderConfig() encoder.Config {
	ec := encoder.DefaultConfig()
	ec.ModelPath = c.ModelPath
	ec.ModelName = c.ModelName
	if c.OnnxLibraryPath != "" {
		ec.OnnxLibraryPath = c.OnnxLibraryPath
	}
	return ec
}

// TokenizerConfig derives the tokenizer configuration.
func (c *Config) TokenizerConfig() tokenizer.Config {
	tc := tokenizer.DefaultConfig(c.ModelPath)
	tc.MaxLength = c.MaxLength
	return tc
}

// GetEnv returns the env var value or the default.
func GetEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// GetEnvInt returns the env var parsed as int, or the default on absence
// or parse failure.
func GetEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("[config] Invalid integer for %s: %q, using default %d", key, val, defaultVal)
		return defaultVal
	}
	return parsed
}

// GetEnvFloat returns the env var parsed as float64, or the default on
// absence or parse failure.
func GetEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		log.Printf("[config] Invalid float for %s: %q, using default %f", key, val, defaultVal)
		return defaultVal
	}
	return parsed
}

func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
