package gcn

import (
	"math"
	"math/rand/v2"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"
)

// GraphConv is one graph convolution: Â·(X·W) + b.
type GraphConv struct {
	// Weight maps input features to output features, shape in×out.
	Weight *mat.Dense

	// Bias is added to every node after aggregation, length out.
	Bias []float64
}

// NewGraphConv creates a layer with Glorot-uniform weights and zero bias.
func NewGraphConv(in, out int, rng *rand.Rand) *GraphConv {
	limit := math.Sqrt(6 / float64(in+out))
	w := make([]float64, in*out)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
	return &GraphConv{
		Weight: mat.NewDense(in, out, w),
		Bias:   make([]float64, out),
	}
}

// Dims returns the input and output widths.
func (l *GraphConv) Dims() (in, out int) {
	return l.Weight.Dims()
}

// Forward applies the layer to x over adj.
func (l *GraphConv) Forward(adj *Adjacency, x *mat.Dense) *mat.Dense {
	var z mat.Dense
	z.Mul(x, l.Weight)
	y := adj.Aggregate(&z)
	r, _ := y.Dims()
	for i := 0; i < r; i++ {
		vek.Add_Inplace(y.RawRowView(i), l.Bias)
	}
	return y
}

// backward returns the weight and bias gradients for upstream gradient dy,
// plus the gradient with respect to x.
func (l *GraphConv) backward(adj *Adjacency, x, dy *mat.Dense) (dw *mat.Dense, db []float64, dx *mat.Dense) {
	_, out := l.Dims()
	db = make([]float64, out)
	r, _ := dy.Dims()
	for i := 0; i < r; i++ {
		vek.Add_Inplace(db, dy.RawRowView(i))
	}

	dz := adj.AggregateT(dy)

	dw = &mat.Dense{}
	dw.Mul(x.T(), dz)

	dx = &mat.Dense{}
	dx.Mul(dz, l.Weight.T())

	return dw, db, dx
}

func (l *GraphConv) clone() *GraphConv {
	return &GraphConv{
		Weight: mat.DenseCopyOf(l.Weight),
		Bias:   append([]float64(nil), l.Bias...),
	}
}
