package gcn

import (
	"math"

	"github.com/viterin/vek"
)

// Adam is the adaptive-moment optimizer with L2 weight decay added to the
// gradient before the moment updates (coupled decay, not AdamW).
type Adam struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	step int
	m    [][]float64
	v    [][]float64
}

// NewAdam returns an optimizer with the usual betas and epsilon.
func NewAdam(lr, weightDecay float64) *Adam {
	return &Adam{
		LR:          lr,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
	}
}

// Steps returns how many updates have been applied.
func (a *Adam) Steps() int {
	return a.step
}

// Step updates model parameters in place from g. g is consumed: its buffers
// are overwritten, so callers take fresh gradients every epoch.
func (a *Adam) Step(model *Model, g *Gradients) {
	pairs := model.tensors(g)
	if a.m == nil {
		a.m = make([][]float64, len(pairs))
		a.v = make([][]float64, len(pairs))
		for i, p := range pairs {
			a.m[i] = make([]float64, len(p[0]))
			a.v[i] = make([]float64, len(p[0]))
		}
	}

	a.step++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for i, p := range pairs {
		param, grad := p[0], p[1]
		if a.WeightDecay != 0 {
			vek.Add_Inplace(grad, vek.MulNumber(param, a.WeightDecay))
		}

		m, v := a.m[i], a.v[i]
		vek.MulNumber_Inplace(m, a.Beta1)
		vek.Add_Inplace(m, vek.MulNumber(grad, 1-a.Beta1))

		sq := vek.Mul(grad, grad)
		vek.MulNumber_Inplace(sq, 1-a.Beta2)
		vek.MulNumber_Inplace(v, a.Beta2)
		vek.Add_Inplace(v, sq)

		for j := range param {
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			param[j] -= a.LR * mHat / (math.Sqrt(vHat) + a.Eps)
		}
	}
}
