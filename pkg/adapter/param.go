// Package adapter holds the trainable surface of the model: a
// classification head over the frozen encoder, and optional low-rank
// (LoRA) adapters injected alongside selected dense modules.
package adapter

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Param is one named parameter matrix with its gradient accumulator.
// Vectors are stored as n×1 matrices so the optimizer can treat every
// parameter uniformly.
type Param struct {
	Name      string
	Value     *mat.Dense
	Grad      *mat.Dense
	Trainable bool
}

// NewParam allocates a zero-valued parameter.
func NewParam(name string, rows, cols int, trainable bool) *Param {
	return &Param{
		Name:      name,
		Value:     mat.NewDense(rows, cols, nil),
		Grad:      mat.NewDense(rows, cols, nil),
		Trainable: trainable,
	}
}

// Shape returns (rows, cols).
func (p *Param) Shape() (int, int) {
	return p.Value.Dims()
}

// ZeroGrad clears the gradient accumulator.
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// Data returns a flat copy of the parameter values in row-major order.
func (p *Param) Data() []float64 {
	rows, cols := p.Value.Dims()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		out = append(out, p.Value.RawRowView(i)...)
	}
	return out
}

// SetData overwrites the parameter values from a flat row-major slice.
func (p *Param) SetData(data []float64) bool {
	rows, cols := p.Value.Dims()
	if len(data) != rows*cols {
		return false
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			p.Value.Set(i, j, data[i*cols+j])
		}
	}
	return true
}

// gaussianInit fills a parameter with N(0, stddev) values.
func gaussianInit(p *Param, stddev float64, rng *rand.Rand) {
	rows, cols := p.Value.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			p.Value.Set(i, j, rng.NormFloat64()*stddev)
		}
	}
}

// heStddev is the initialization scale for a layer with the given fan-in.
func heStddev(fanIn int) float64 {
	return math.Sqrt(2.0 / float64(fanIn))
}
