package infer

import (
	"context"
	"strings"
	"testing"

	"github.com/nightglass/phishtune/pkg/adapter"
	"github.com/nightglass/phishtune/pkg/dataset"
)

const testDim = 6

type fixedEncoder struct{}

func (f *fixedEncoder) Dimension() int { return testDim }

func (f *fixedEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fixedEncoder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, testDim)
		sign := float32(-1)
		if strings.Contains(text, "verify") {
			sign = 1
		}
		for j := range v {
			v[j] = sign
		}
		out[i] = v
	}
	return out, nil
}

func trainedModel(t *testing.T) *adapter.Model {
	t.Helper()

	m, err := adapter.Build("test-model", testDim, dataset.NumLabels, true, nil, 5)
	if err != nil {
		t.Fatal(err)
	}

	// A few gradient steps separate the two fixed clusters.
	phish := make([]float64, testDim)
	benign := make([]float64, testDim)
	for i := 0; i < testDim; i++ {
		phish[i], benign[i] = 1, -1
	}
	for step := 0; step < 200; step++ {
		m.ZeroGrads()
		m.Accumulate(phish, int(dataset.LabelPhishing))
		m.Accumulate(benign, int(dataset.LabelBenign))
		for _, p := range m.TrainableParams() {
			rows, cols := p.Shape()
			for i := 0; i < rows; i++ {
				for j := 0; j < cols; j++ {
					p.Value.Set(i, j, p.Value.At(i, j)-0.05*p.Grad.At(i, j))
				}
			}
		}
	}
	return m
}

func TestRun(t *testing.T) {
	model := trainedModel(t)
	ds := &dataset.Dataset{Examples: []dataset.Example{
		{Text: "please verify your account", Label: dataset.LabelPhishing},
		{Text: "lunch at noon?", Label: dataset.LabelBenign},
	}}

	for i, ex := range ds.Examples {
		result, err := Run(context.Background(), model, &fixedEncoder{}, nil, ds, i)
		if err != nil {
			t.Fatalf("Run(%d) failed: %v", i, err)
		}
		if result.Actual != ex.Label {
			t.Errorf("Actual = %v, want %v", result.Actual, ex.Label)
		}
		if result.Predicted != ex.Label {
			t.Errorf("Predicted = %v, want %v", result.Predicted, ex.Label)
		}
		if !result.Correct {
			t.Errorf("Correct = false for separable example %d", i)
		}
		if len(result.Scores) != dataset.NumLabels {
			t.Errorf("len(Scores) = %d, want %d", len(result.Scores), dataset.NumLabels)
		}
	}
}

func TestRunIndexValidation(t *testing.T) {
	model := trainedModel(t)
	ds := &dataset.Dataset{Examples: []dataset.Example{{Text: "x", Label: dataset.LabelBenign}}}

	tests := []int{-1, 1, 100}
	for _, index := range tests {
		if _, err := Run(context.Background(), model, &fixedEncoder{}, nil, ds, index); err == nil {
			t.Errorf("Run(%d) should fail on out-of-range index", index)
		}
	}
}

func TestRunNilCollaborators(t *testing.T) {
	ds := &dataset.Dataset{Examples: []dataset.Example{{Text: "x", Label: dataset.LabelBenign}}}

	if _, err := Run(context.Background(), nil, &fixedEncoder{}, nil, ds, 0); err == nil {
		t.Error("Run should reject a nil model")
	}
}

func TestResultString(t *testing.T) {
	r := &Result{
		Text:      strings.Repeat("a", 200),
		Predicted: dataset.LabelPhishing,
		Actual:    dataset.LabelBenign,
		Scores:    []float64{0.3, 0.7},
	}

	s := r.String()
	if !strings.Contains(s, "predicted=phishing") || !strings.Contains(s, "actual=benign") {
		t.Errorf("String() = %q, missing labels", s)
	}
	if len(s) > 200 {
		t.Errorf("String() should truncate long texts, got %d chars", len(s))
	}
}
