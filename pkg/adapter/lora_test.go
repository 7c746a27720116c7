package adapter

import (
	"errors"
	"testing"
)

func TestDefaultLoraConfig(t *testing.T) {
	cfg := DefaultLoraConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Scale() != 2 {
		t.Errorf("Scale = %f, want 2 (alpha 16 / rank 8)", cfg.Scale())
	}
}

func TestLoraConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*LoraConfig)
		wantErr error
	}{
		{"zero rank", func(c *LoraConfig) { c.Rank = 0 }, ErrInvalidRank},
		{"negative rank", func(c *LoraConfig) { c.Rank = -1 }, ErrInvalidRank},
		{"bad bias", func(c *LoraConfig) { c.Bias = "lora_only" }, ErrInvalidBias},
		{"bad module", func(c *LoraConfig) { c.TargetModules = []string{"q_lin"} }, ErrUnknownModule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultLoraConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	cfg := DefaultLoraConfig()
	cfg.TargetModules = nil
	if err := cfg.Validate(); err == nil {
		t.Error("Validate should reject empty target modules")
	}

	cfg = DefaultLoraConfig()
	cfg.Dropout = 1
	if err := cfg.Validate(); err == nil {
		t.Error("Validate should reject dropout >= 1")
	}
}

func TestFreshAdapterIsIdentity(t *testing.T) {
	// B is zero-initialized, so the adapted model must start with exactly
	// the base model's predictions.
	lora := DefaultLoraConfig()
	lora.Dropout = 0

	base, err := Build("test-model", 16, 2, false, nil, 42)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	adapted, err := Build("test-model", 16, 2, false, &lora, 42)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	emb := make([]float64, 16)
	for i := range emb {
		emb[i] = float64(i)/8 - 1
	}

	baseLogits := base.Forward(emb)
	adaptedLogits := adapted.Forward(emb)
	for i := range baseLogits {
		if diff := baseLogits[i] - adaptedLogits[i]; diff > 1e-12 || diff < -1e-12 {
			t.Errorf("logit %d: base %f vs adapted %f", i, baseLogits[i], adaptedLogits[i])
		}
	}
}

func TestAdapterTrainableFlags(t *testing.T) {
	lora := DefaultLoraConfig()
	m, err := Build("test-model", 8, 2, false, &lora, 1)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	trainableNames := make(map[string]bool)
	for _, p := range m.TrainableParams() {
		trainableNames[p.Name] = true
	}

	// Adapter pairs and classifier train; pre-classifier base stays frozen.
	for _, want := range []string{"lora.pre_classifier.A", "lora.pre_classifier.B", "classifier.weight", "classifier.bias"} {
		if !trainableNames[want] {
			t.Errorf("%s should be trainable", want)
		}
	}
	for _, frozen := range []string{"pre_classifier.weight", "pre_classifier.bias"} {
		if trainableNames[frozen] {
			t.Errorf("%s should be frozen during the adapter run", frozen)
		}
	}
}

func TestAdapterRunShrinksTrainableCount(t *testing.T) {
	lora := DefaultLoraConfig()

	baseline, err := Build("test-model", 64, 2, true, nil, 1)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	adapted, err := Build("test-model", 64, 2, false, &lora, 1)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	_, baseTrainable := baseline.ParamCounts()
	_, loraTrainable := adapted.ParamCounts()
	if loraTrainable >= baseTrainable {
		t.Errorf("adapter run trains %d params, baseline %d; adapter should be smaller", loraTrainable, baseTrainable)
	}
}

func TestBiasAllUnfreezesPreBias(t *testing.T) {
	lora := DefaultLoraConfig()
	lora.Bias = BiasAll

	m, err := Build("test-model", 8, 2, false, &lora, 1)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !m.Pre.B.Trainable {
		t.Error("bias=all should leave the pre-classifier bias trainable")
	}
	if m.Pre.W.Trainable {
		t.Error("bias=all must not unfreeze the pre-classifier weights")
	}
}

func TestBuildRejectsInvalidLora(t *testing.T) {
	lora := DefaultLoraConfig()
	lora.Rank = 0
	if _, err := Build("test-model", 8, 2, false, &lora, 1); !errors.Is(err, ErrInvalidRank) {
		t.Errorf("Build error = %v, want ErrInvalidRank", err)
	}
}
