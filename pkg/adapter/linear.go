package adapter

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Linear is a dense layer y = Wx + b.
type Linear struct {
	Name string
	W    *Param // out×in
	B    *Param // out×1
}

// NewLinear creates a dense layer with He-initialized weights and zero bias.
func NewLinear(name string, in, out int, rng *rand.Rand, trainable bool) *Linear {
	l := &Linear{
		Name: name,
		W:    NewParam(name+".weight", out, in, trainable),
		B:    NewParam(name+".bias", out, 1, trainable),
	}
	gaussianInit(l.W, heStddev(in), rng)
	return l
}

// OutDim returns the output dimension.
func (l *Linear) OutDim() int {
	rows, _ := l.W.Value.Dims()
	return rows
}

// Forward computes Wx + b.
func (l *Linear) Forward(x *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(l.OutDim(), nil)
	out.MulVec(l.W.Value, x)
	out.AddVec(out, l.B.Value.ColView(0))
	return out
}

// Backward accumulates dW += dy·xᵀ and dB += dy for trainable parameters
// and returns dx = Wᵀ·dy for the upstream layer.
func (l *Linear) Backward(x, dy *mat.VecDense) *mat.VecDense {
	if l.W.Trainable {
		var outer mat.Dense
		outer.Outer(1, dy, x)
		l.W.Grad.Add(l.W.Grad, &outer)
	}
	if l.B.Trainable {
		for i := 0; i < dy.Len(); i++ {
			l.B.Grad.Set(i, 0, l.B.Grad.At(i, 0)+dy.AtVec(i))
		}
	}

	_, in := l.W.Value.Dims()
	dx := mat.NewVecDense(in, nil)
	dx.MulVec(l.W.Value.T(), dy)
	return dx
}

// Params returns the layer's parameters.
func (l *Linear) Params() []*Param {
	return []*Param{l.W, l.B}
}
