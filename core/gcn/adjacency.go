package gcn

import (
	"fmt"
	"math"

	"github.com/adalundhe/nexus/core/graph"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// =============================================================================
// Normalized Adjacency
// =============================================================================
//
// Adjacency stores Â = D^-1/2 (A + I) D^-1/2 in compressed sparse row form.
// Row t lists every source s with an edge s->t plus t itself, so aggregation
// pulls messages along edge direction. D counts the incoming edges of each
// node plus its self loop, which is always >= 1.
//
// Explicit self loops in the edge list are folded into the single implicit
// loop per node; they never count twice.

// Adjacency is the normalized propagation matrix of a graph.
type Adjacency struct {
	n       int
	rowPtr  []int
	cols    []int
	weights []float64
}

// NewAdjacency normalizes edges over n nodes.
func NewAdjacency(n int, edges []graph.Edge) (*Adjacency, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d nodes", ErrEmptyGraph, n)
	}

	deg := make([]float64, n)
	counts := make([]int, n)
	for i := range deg {
		deg[i] = 1
		counts[i] = 1
	}
	for _, e := range edges {
		if e.Source < 0 || e.Source >= n || e.Target < 0 || e.Target >= n {
			return nil, fmt.Errorf("%w: edge %d->%d with %d nodes", ErrEdgeOutOfRange, e.Source, e.Target, n)
		}
		if e.IsSelfLoop() {
			continue
		}
		deg[e.Target]++
		counts[e.Target]++
	}

	invSqrt := make([]float64, n)
	for i, d := range deg {
		invSqrt[i] = 1 / math.Sqrt(d)
	}

	a := &Adjacency{n: n, rowPtr: make([]int, n+1)}
	for i, c := range counts {
		a.rowPtr[i+1] = a.rowPtr[i] + c
	}
	a.cols = make([]int, a.rowPtr[n])
	a.weights = make([]float64, a.rowPtr[n])

	next := make([]int, n)
	copy(next, a.rowPtr[:n])
	for i := 0; i < n; i++ {
		a.cols[next[i]] = i
		a.weights[next[i]] = invSqrt[i] * invSqrt[i]
		next[i]++
	}
	for _, e := range edges {
		if e.IsSelfLoop() {
			continue
		}
		t := e.Target
		a.cols[next[t]] = e.Source
		a.weights[next[t]] = invSqrt[e.Source] * invSqrt[t]
		next[t]++
	}

	return a, nil
}

// Nodes returns the matrix dimension.
func (a *Adjacency) Nodes() int {
	return a.n
}

// Aggregate returns Â·x.
func (a *Adjacency) Aggregate(x *mat.Dense) *mat.Dense {
	_, c := x.Dims()
	out := mat.NewDense(a.n, c, nil)
	for t := 0; t < a.n; t++ {
		dst := out.RawRowView(t)
		for k := a.rowPtr[t]; k < a.rowPtr[t+1]; k++ {
			floats.AddScaled(dst, a.weights[k], x.RawRowView(a.cols[k]))
		}
	}
	return out
}

// AggregateT returns Âᵀ·x, the adjoint used to route gradients back to sources.
func (a *Adjacency) AggregateT(x *mat.Dense) *mat.Dense {
	_, c := x.Dims()
	out := mat.NewDense(a.n, c, nil)
	for t := 0; t < a.n; t++ {
		src := x.RawRowView(t)
		for k := a.rowPtr[t]; k < a.rowPtr[t+1]; k++ {
			floats.AddScaled(out.RawRowView(a.cols[k]), a.weights[k], src)
		}
	}
	return out
}

// Dense expands Â for inspection and tests.
func (a *Adjacency) Dense() *mat.Dense {
	out := mat.NewDense(a.n, a.n, nil)
	for t := 0; t < a.n; t++ {
		for k := a.rowPtr[t]; k < a.rowPtr[t+1]; k++ {
			out.Set(t, a.cols[k], out.At(t, a.cols[k])+a.weights[k])
		}
	}
	return out
}
