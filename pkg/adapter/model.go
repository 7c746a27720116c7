package adapter

import (
	"fmt"
	"log"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Model is the trainable surface over the frozen encoder: a DistilBERT-style
// classification head (pre-classifier dense + classifier dense) plus any
// injected low-rank adapters. Encoder parameters live outside this struct
// and never accumulate gradients.
type Model struct {
	ModelID   string
	Dim       int
	NumLabels int

	Pre *Linear // pre_classifier: Dim→Dim, ReLU
	Out *Linear // classifier: Dim→NumLabels

	Adapters map[string]*Adapter
	Lora     *LoraConfig

	rng *rand.Rand
}

// Build instantiates the classification head over an encoder of the given
// dimension and optionally injects low-rank adapters.
//
// trainBase controls whether the head's dense base weights accumulate
// gradients. The baseline run uses trainBase=true with no adapters; the
// adapter run uses trainBase=false with a LoraConfig, leaving only the
// adapter pairs and the final classifier trainable.
func Build(modelID string, dim, numLabels int, trainBase bool, lora *LoraConfig, seed int64) (*Model, error) {
	if dim <= 0 || numLabels <= 0 {
		return nil, fmt.Errorf("invalid model dimensions: dim=%d labels=%d", dim, numLabels)
	}

	rng := rand.New(rand.NewSource(seed))
	m := &Model{
		ModelID:   modelID,
		Dim:       dim,
		NumLabels: numLabels,
		Pre:       NewLinear(ModulePreClassifier, dim, dim, rng, trainBase),
		Out:       NewLinear(ModuleClassifier, dim, numLabels, rng, true),
		Adapters:  make(map[string]*Adapter),
		rng:       rng,
	}

	if lora != nil {
		if err := lora.Validate(); err != nil {
			return nil, err
		}
		cfg := *lora
		m.Lora = &cfg

		for _, module := range cfg.TargetModules {
			switch module {
			case ModulePreClassifier:
				m.Adapters[module] = newAdapter(module, dim, dim, cfg, rng)
			case ModuleClassifier:
				m.Adapters[module] = newAdapter(module, dim, numLabels, cfg, rng)
			}
		}

		if cfg.Bias == BiasAll {
			m.Pre.B.Trainable = true
		}
	}

	total, trainable := m.ParamCounts()
	log.Printf("[adapter] Model built (base trainable: %v, adapters: %d): %d/%d head params trainable",
		trainBase, len(m.Adapters), trainable, total)
	return m, nil
}

// forwardCache holds per-example intermediates for the backward pass.
type forwardCache struct {
	x             *mat.VecDense
	z1            *mat.VecDense
	a1            *mat.VecDense
	adapterCaches map[string]*adapterCache
}

// forward runs the head. When train is true, dropout is active inside the
// adapters and intermediates are cached for Backward.
func (m *Model) forward(x *mat.VecDense, train bool) (*mat.VecDense, *forwardCache) {
	var rng *rand.Rand
	if train {
		rng = m.rng
	}
	cache := &forwardCache{x: x, adapterCaches: make(map[string]*adapterCache)}

	z1 := m.Pre.Forward(x)
	if a, ok := m.Adapters[ModulePreClassifier]; ok {
		delta, ac := a.Forward(x, rng)
		z1.AddVec(z1, delta)
		cache.adapterCaches[ModulePreClassifier] = ac
	}
	cache.z1 = z1

	a1 := mat.NewVecDense(z1.Len(), nil)
	for i := 0; i < z1.Len(); i++ {
		a1.SetVec(i, math.Max(0, z1.AtVec(i)))
	}
	cache.a1 = a1

	logits := m.Out.Forward(a1)
	if a, ok := m.Adapters[ModuleClassifier]; ok {
		delta, ac := a.Forward(a1, rng)
		logits.AddVec(logits, delta)
		cache.adapterCaches[ModuleClassifier] = ac
	}

	return logits, cache
}

// Forward computes evaluation-mode logits for one embedding.
func (m *Model) Forward(embedding []float64) []float64 {
	logits, _ := m.forward(mat.NewVecDense(len(embedding), embedding), false)
	out := make([]float64, logits.Len())
	for i := range out {
		out[i] = logits.AtVec(i)
	}
	return out
}

// Predict returns the argmax label and class probabilities for one embedding.
func (m *Model) Predict(embedding []float64) (int, []float64) {
	probs := Softmax(m.Forward(embedding))
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return best, probs
}

// Accumulate runs one training example forward and backward, adding its
// gradient contribution to every trainable parameter. Returns the
// cross-entropy loss and whether the prediction matched the label.
func (m *Model) Accumulate(embedding []float64, label int) (loss float64, correct bool) {
	x := mat.NewVecDense(len(embedding), embedding)
	logits, cache := m.forward(x, true)

	raw := make([]float64, logits.Len())
	for i := range raw {
		raw[i] = logits.AtVec(i)
	}
	probs := Softmax(raw)
	loss = -math.Log(math.Max(probs[label], 1e-12))

	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	correct = best == label

	// dL/dlogits = softmax − onehot(label)
	dLogits := mat.NewVecDense(len(probs), nil)
	for i := range probs {
		grad := probs[i]
		if i == label {
			grad -= 1
		}
		dLogits.SetVec(i, grad)
	}

	if a, ok := m.Adapters[ModuleClassifier]; ok {
		a.Backward(cache.adapterCaches[ModuleClassifier], dLogits)
	}
	da1 := m.Out.Backward(cache.a1, dLogits)

	// ReLU gate
	dz1 := mat.NewVecDense(da1.Len(), nil)
	for i := 0; i < da1.Len(); i++ {
		if cache.z1.AtVec(i) > 0 {
			dz1.SetVec(i, da1.AtVec(i))
		}
	}

	if a, ok := m.Adapters[ModulePreClassifier]; ok {
		a.Backward(cache.adapterCaches[ModulePreClassifier], dz1)
	}
	m.Pre.Backward(cache.x, dz1)

	return loss, correct
}

// Params returns every head and adapter parameter, frozen ones included.
func (m *Model) Params() []*Param {
	params := append(m.Pre.Params(), m.Out.Params()...)
	for _, module := range []string{ModulePreClassifier, ModuleClassifier} {
		if a, ok := m.Adapters[module]; ok {
			params = append(params, a.Params()...)
		}
	}
	return params
}

// TrainableParams returns the parameters with nonzero gradient flow.
func (m *Model) TrainableParams() []*Param {
	var out []*Param
	for _, p := range m.Params() {
		if p.Trainable {
			out = append(out, p)
		}
	}
	return out
}

// ParamCounts returns (total, trainable) scalar parameter counts.
func (m *Model) ParamCounts() (total, trainable int) {
	for _, p := range m.Params() {
		rows, cols := p.Shape()
		n := rows * cols
		total += n
		if p.Trainable {
			trainable += n
		}
	}
	return total, trainable
}

// ZeroGrads clears all gradient accumulators.
func (m *Model) ZeroGrads() {
	for _, p := range m.Params() {
		p.ZeroGrad()
	}
}

// SetVariable overwrites one named parameter from a flat row-major slice,
// verifying the shape. Used when loading saved artifacts.
func (m *Model) SetVariable(name string, shape []int, data []float64) error {
	for _, p := range m.Params() {
		if p.Name != name {
			continue
		}
		rows, cols := p.Shape()
		if len(shape) != 2 || shape[0] != rows || shape[1] != cols {
			return fmt.Errorf("variable %s shape mismatch: artifact %v, model [%d %d]", name, shape, rows, cols)
		}
		if !p.SetData(data) {
			return fmt.Errorf("variable %s data length %d does not match shape [%d %d]", name, len(data), rows, cols)
		}
		return nil
	}
	return fmt.Errorf("unknown variable %s", name)
}

// Softmax converts logits to probabilities, stable under large magnitudes.
func Softmax(logits []float64) []float64 {
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}

	out := make([]float64, len(logits))
	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
