package trainer

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/nightglass/phishtune/pkg/adapter"
)

// AdamW is Adam with decoupled weight decay. Moment buffers are keyed by
// parameter name and allocated lazily on the first step.
type AdamW struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	step int
	m    map[string]*mat.Dense
	v    map[string]*mat.Dense
}

// NewAdamW creates an optimizer with the usual moment defaults.
func NewAdamW(lr, weightDecay float64) *AdamW {
	return &AdamW{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
		m:           make(map[string]*mat.Dense),
		v:           make(map[string]*mat.Dense),
	}
}

// Step applies one update to every trainable parameter using its
// accumulated gradient. Frozen parameters are skipped entirely.
func (o *AdamW) Step(params []*adapter.Param) {
	o.step++
	bc1 := 1 - math.Pow(o.Beta1, float64(o.step))
	bc2 := 1 - math.Pow(o.Beta2, float64(o.step))

	for _, p := range params {
		if !p.Trainable {
			continue
		}
		rows, cols := p.Shape()

		m, ok := o.m[p.Name]
		if !ok {
			m = mat.NewDense(rows, cols, nil)
			o.m[p.Name] = m
		}
		v, ok := o.v[p.Name]
		if !ok {
			v = mat.NewDense(rows, cols, nil)
			o.v[p.Name] = v
		}

		decay := o.WeightDecay
		if strings.HasSuffix(p.Name, ".bias") {
			decay = 0
		}

		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				g := p.Grad.At(i, j)

				mij := o.Beta1*m.At(i, j) + (1-o.Beta1)*g
				vij := o.Beta2*v.At(i, j) + (1-o.Beta2)*g*g
				m.Set(i, j, mij)
				v.Set(i, j, vij)

				update := (mij / bc1) / (math.Sqrt(vij/bc2) + o.Eps)

				w := p.Value.At(i, j)
				w -= o.LR * update
				if decay > 0 {
					w -= o.LR * decay * p.Value.At(i, j)
				}
				p.Value.Set(i, j, w)
			}
		}
	}
}
