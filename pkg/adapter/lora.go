package adapter

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Target module names eligible for low-rank augmentation.
const (
	// ModulePreClassifier is the dense layer between encoder and classifier
	ModulePreClassifier = "pre_classifier"
	// ModuleClassifier is the final classification layer
	ModuleClassifier = "classifier"
)

// Bias handling modes for the adapter run.
const (
	BiasNone = "none" // biases of target modules stay frozen
	BiasAll  = "all"  // all biases remain trainable
)

// LoRA configuration errors
var (
	ErrInvalidRank   = errors.New("lora rank must be positive")
	ErrInvalidBias   = errors.New("lora bias mode must be none or all")
	ErrUnknownModule = errors.New("unknown lora target module")
)

// LoraConfig is the low-rank adaptation payload: rank, scaling, dropout,
// bias handling, and the dense modules eligible for augmentation.
type LoraConfig struct {
	Rank          int      `yaml:"rank" json:"rank"`
	Alpha         float64  `yaml:"alpha" json:"alpha"`
	Dropout       float64  `yaml:"dropout" json:"dropout"`
	Bias          string   `yaml:"bias" json:"bias"`
	TargetModules []string `yaml:"target_modules" json:"target_modules"`
}

// DefaultLoraConfig returns the standard adapter configuration.
func DefaultLoraConfig() LoraConfig {
	return LoraConfig{
		Rank:          8,
		Alpha:         16,
		Dropout:       0.05,
		Bias:          BiasNone,
		TargetModules: []string{ModulePreClassifier},
	}
}

// Validate checks the configuration payload.
func (c LoraConfig) Validate() error {
	if c.Rank <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidRank, c.Rank)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("lora dropout must be in [0, 1): got %f", c.Dropout)
	}
	if c.Bias != BiasNone && c.Bias != BiasAll {
		return fmt.Errorf("%w: got %q", ErrInvalidBias, c.Bias)
	}
	if len(c.TargetModules) == 0 {
		return errors.New("lora target modules must not be empty")
	}
	for _, module := range c.TargetModules {
		if module != ModulePreClassifier && module != ModuleClassifier {
			return fmt.Errorf("%w: %q", ErrUnknownModule, module)
		}
	}
	return nil
}

// Scale returns the adapter output scaling Alpha/Rank.
func (c LoraConfig) Scale() float64 {
	return c.Alpha / float64(c.Rank)
}

// Adapter is one low-rank pair attached alongside a dense module. The
// adapted output is base(x) + Scale·B·A·drop(x). A is gaussian-initialized
// and B starts at zero, so an untrained adapter leaves the base unchanged.
type Adapter struct {
	Module  string
	A       *Param // rank×in
	B       *Param // out×rank
	Scale   float64
	Dropout float64
}

// newAdapter builds the low-rank pair for one target module.
func newAdapter(module string, in, out int, cfg LoraConfig, rng *rand.Rand) *Adapter {
	a := &Adapter{
		Module:  module,
		A:       NewParam(fmt.Sprintf("lora.%s.A", module), cfg.Rank, in, true),
		B:       NewParam(fmt.Sprintf("lora.%s.B", module), out, cfg.Rank, true),
		Scale:   cfg.Scale(),
		Dropout: cfg.Dropout,
	}
	gaussianInit(a.A, heStddev(in), rng)
	// B stays zero: the adapted model starts identical to the base.
	return a
}

// adapterCache holds forward intermediates needed by Backward.
type adapterCache struct {
	xDrop *mat.VecDense // input after dropout
	ax    *mat.VecDense // A·xDrop
}

// Forward computes the adapter delta Scale·B·A·drop(x). When rng is nil
// the pass is an evaluation pass and dropout is disabled.
func (a *Adapter) Forward(x *mat.VecDense, rng *rand.Rand) (*mat.VecDense, *adapterCache) {
	xDrop := x
	if rng != nil && a.Dropout > 0 {
		// Inverted dropout keeps eval and train activations on the same scale.
		keep := 1 - a.Dropout
		xDrop = mat.NewVecDense(x.Len(), nil)
		for i := 0; i < x.Len(); i++ {
			if rng.Float64() < keep {
				xDrop.SetVec(i, x.AtVec(i)/keep)
			}
		}
	}

	rank, _ := a.A.Value.Dims()
	ax := mat.NewVecDense(rank, nil)
	ax.MulVec(a.A.Value, xDrop)

	out, _ := a.B.Value.Dims()
	delta := mat.NewVecDense(out, nil)
	delta.MulVec(a.B.Value, ax)
	delta.ScaleVec(a.Scale, delta)

	return delta, &adapterCache{xDrop: xDrop, ax: ax}
}

// Backward accumulates dA and dB from the upstream gradient dy.
func (a *Adapter) Backward(cache *adapterCache, dy *mat.VecDense) {
	// delta = s·B·(A·xd) ⇒ dB = s·dy·axᵀ, dA = s·(Bᵀ·dy)·xdᵀ
	scaled := mat.NewVecDense(dy.Len(), nil)
	scaled.ScaleVec(a.Scale, dy)

	if a.B.Trainable {
		var outer mat.Dense
		outer.Outer(1, scaled, cache.ax)
		a.B.Grad.Add(a.B.Grad, &outer)
	}
	if a.A.Trainable {
		rank, _ := a.A.Value.Dims()
		dax := mat.NewVecDense(rank, nil)
		dax.MulVec(a.B.Value.T(), scaled)

		var outer mat.Dense
		outer.Outer(1, dax, cache.xDrop)
		a.A.Grad.Add(a.A.Grad, &outer)
	}
}

// Params returns the adapter's parameters.
func (a *Adapter) Params() []*Param {
	return []*Param{a.A, a.B}
}
