package adapter

import (
	"math"
	"testing"
)

func TestSoftmax(t *testing.T) {
	tests := []struct {
		name   string
		logits []float64
	}{
		{"balanced", []float64{0, 0}},
		{"skewed", []float64{3, -1}},
		{"large", []float64{1000, 999}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probs := Softmax(tt.logits)
			sum := 0.0
			for _, p := range probs {
				if p < 0 || p > 1 {
					t.Errorf("probability %f out of [0,1]", p)
				}
				sum += p
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("probabilities sum to %f, want 1", sum)
			}
		})
	}
}

func TestPredictArgmax(t *testing.T) {
	m, err := Build("test-model", 4, 2, true, nil, 42)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	label, probs := m.Predict([]float64{0.5, -0.25, 1, 0})
	if label != 0 && label != 1 {
		t.Fatalf("label = %d, want 0 or 1", label)
	}
	if len(probs) != 2 {
		t.Fatalf("len(probs) = %d, want 2", len(probs))
	}
	other := 1 - label
	if probs[label] < probs[other] {
		t.Errorf("argmax label %d has lower probability than %d", label, other)
	}
}

// lossAt computes the eval-mode cross-entropy loss for gradient checking.
func lossAt(m *Model, emb []float64, label int) float64 {
	probs := Softmax(m.Forward(emb))
	return -math.Log(math.Max(probs[label], 1e-12))
}

func TestAccumulateGradientsMatchFiniteDifferences(t *testing.T) {
	lora := DefaultLoraConfig()
	lora.Rank = 2
	lora.Dropout = 0 // deterministic forward for the numeric check
	lora.TargetModules = []string{ModulePreClassifier, ModuleClassifier}

	m, err := Build("test-model", 5, 2, false, &lora, 7)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	emb := []float64{0.3, -0.7, 1.2, 0.05, -0.4}
	label := 1

	m.ZeroGrads()
	m.Accumulate(emb, label)

	const eps = 1e-6
	for _, p := range m.TrainableParams() {
		rows, cols := p.Shape()
		// Spot-check a few entries per parameter.
		for _, idx := range [][2]int{{0, 0}, {rows - 1, cols - 1}} {
			i, j := idx[0], idx[1]
			orig := p.Value.At(i, j)

			p.Value.Set(i, j, orig+eps)
			lossPlus := lossAt(m, emb, label)
			p.Value.Set(i, j, orig-eps)
			lossMinus := lossAt(m, emb, label)
			p.Value.Set(i, j, orig)

			numeric := (lossPlus - lossMinus) / (2 * eps)
			analytic := p.Grad.At(i, j)
			if math.Abs(numeric-analytic) > 1e-4 {
				t.Errorf("%s[%d,%d]: analytic grad %g vs numeric %g", p.Name, i, j, analytic, numeric)
			}
		}
	}
}

func TestFrozenParamsAccumulateNoGradient(t *testing.T) {
	lora := DefaultLoraConfig()
	lora.Dropout = 0

	m, err := Build("test-model", 6, 2, false, &lora, 3)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	m.ZeroGrads()
	m.Accumulate([]float64{1, 2, 3, 4, 5, 6}, 0)

	for _, p := range m.Params() {
		if p.Trainable {
			continue
		}
		rows, cols := p.Shape()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				if p.Grad.At(i, j) != 0 {
					t.Fatalf("frozen param %s accumulated gradient at [%d,%d]", p.Name, i, j)
				}
			}
		}
	}
}

func TestSetVariable(t *testing.T) {
	m, err := Build("test-model", 3, 2, true, nil, 1)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	data := []float64{1, 2, 3, 4, 5, 6}
	if err := m.SetVariable("classifier.weight", []int{2, 3}, data); err != nil {
		t.Fatalf("SetVariable failed: %v", err)
	}
	if got := m.Out.W.Value.At(1, 2); got != 6 {
		t.Errorf("classifier.weight[1,2] = %f, want 6", got)
	}

	if err := m.SetVariable("classifier.weight", []int{3, 2}, data); err == nil {
		t.Error("SetVariable should reject mismatched shapes")
	}
	if err := m.SetVariable("nope", []int{1, 1}, []float64{0}); err == nil {
		t.Error("SetVariable should reject unknown names")
	}
}

func TestBuildSeedDeterminism(t *testing.T) {
	m1, err := Build("test-model", 8, 2, true, nil, 99)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := Build("test-model", 8, 2, true, nil, 99)
	if err != nil {
		t.Fatal(err)
	}

	emb := []float64{1, 0, -1, 0.5, 0.25, -0.5, 2, -2}
	l1 := m1.Forward(emb)
	l2 := m2.Forward(emb)
	for i := range l1 {
		if l1[i] != l2[i] {
			t.Fatalf("logit %d differs across identically seeded builds", i)
		}
	}
}
