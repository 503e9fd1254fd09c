// Package graph defines the borrower relationship graph shared by the
// generator, the trainer and the inference path.
//
// A Graph holds an N×3 feature matrix (age, income, dharma_score), a list of
// directed edges between node ids 0..N-1 and, for training data, one binary
// label per node.
package graph

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// =============================================================================
// Features and Labels
// =============================================================================

// Column indices into the feature matrix.
const (
	FeatureAge = iota
	FeatureIncome
	FeatureDharma

	// NumFeatures is the width of every feature row.
	NumFeatures
)

// FeatureNames lists the feature columns in matrix order.
var FeatureNames = [NumFeatures]string{"age", "income", "dharma_score"}

// Label values.
const (
	LabelSafe     = 0 // safe / recoverable
	LabelHighRisk = 1 // high risk / default

	// NumClasses is the number of output classes.
	NumClasses = 2
)

// =============================================================================
// Graph
// =============================================================================

// Edge is a directed relationship; messages flow from Source to Target.
type Edge struct {
	Source int
	Target int
}

// IsSelfLoop reports whether the edge starts and ends at the same node.
func (e Edge) IsSelfLoop() bool {
	return e.Source == e.Target
}

// Graph is a labeled relational dataset.
type Graph struct {
	Features *mat.Dense
	Edges    []Edge
	Labels   []int
}

// New builds a graph from row-major feature values.
func New(features []float64, edges []Edge, labels []int) *Graph {
	n := len(features) / NumFeatures
	var x *mat.Dense
	if n > 0 {
		x = mat.NewDense(n, NumFeatures, features)
	}
	return &Graph{Features: x, Edges: edges, Labels: labels}
}

// SingleNode builds a one-node graph whose only edge is a self loop on node 0.
// The self loop keeps the normalized aggregation well defined.
func SingleNode(age, income, dharma float64) *Graph {
	return &Graph{
		Features: mat.NewDense(1, NumFeatures, []float64{age, income, dharma}),
		Edges:    []Edge{{Source: 0, Target: 0}},
	}
}

// NumNodes returns the number of feature rows.
func (g *Graph) NumNodes() int {
	if g.Features == nil {
		return 0
	}
	r, _ := g.Features.Dims()
	return r
}

// NumEdges returns the number of stored edges.
func (g *Graph) NumEdges() int {
	return len(g.Edges)
}

// Row returns the feature values of node i.
func (g *Graph) Row(i int) (age, income, dharma float64) {
	row := g.Features.RawRowView(i)
	return row[FeatureAge], row[FeatureIncome], row[FeatureDharma]
}

// EdgeIndex returns the edge list in 2×E form: sources then targets.
func (g *Graph) EdgeIndex() [2][]int {
	var idx [2][]int
	idx[0] = make([]int, len(g.Edges))
	idx[1] = make([]int, len(g.Edges))
	for i, e := range g.Edges {
		idx[0][i] = e.Source
		idx[1][i] = e.Target
	}
	return idx
}

// LabelCounts returns the number of safe and high-risk nodes.
func (g *Graph) LabelCounts() [NumClasses]int {
	var counts [NumClasses]int
	for _, y := range g.Labels {
		if y >= 0 && y < NumClasses {
			counts[y]++
		}
	}
	return counts
}

// =============================================================================
// Validation
// =============================================================================

// ValidateStructure checks the feature matrix and edge endpoints.
func (g *Graph) ValidateStructure() error {
	if g.Features == nil {
		return violation(InvariantNonEmpty, "%v", errNilFeatures)
	}
	n, d := g.Features.Dims()
	if d != NumFeatures {
		return violation(InvariantFeatureShape, "feature matrix has %d columns, expected %d", d, NumFeatures)
	}
	for i := 0; i < n; i++ {
		for j, v := range g.Features.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return violation(InvariantFeatureFinite, "node %d feature %s is %v", i, FeatureNames[j], v)
			}
		}
	}
	for k, e := range g.Edges {
		if e.Source < 0 || e.Source >= n || e.Target < 0 || e.Target >= n {
			return violation(InvariantEdgeRange, "edge %d (%d->%d) outside node range [0,%d)", k, e.Source, e.Target, n)
		}
	}
	return nil
}

// Validate checks structure and labels. Training data must pass it.
func (g *Graph) Validate() error {
	if err := g.ValidateStructure(); err != nil {
		return err
	}
	n := g.NumNodes()
	if len(g.Labels) != n {
		return violation(InvariantLabelCount, "%d labels for %d nodes", len(g.Labels), n)
	}
	for i, y := range g.Labels {
		if y != LabelSafe && y != LabelHighRisk {
			return violation(InvariantLabelValue, "node %d has label %d", i, y)
		}
	}
	return nil
}
