// Package gcn implements the two-layer graph convolution classifier.
//
// The network maps standardized node features through
//
//	h      = relu(Â·X·W1 + b1)          (dropout on h while training)
//	logits = Â·h·W2 + b2
//	out    = log_softmax(logits)
//
// where Â is the symmetric-normalized adjacency with self loops. Gradients are
// computed by hand from the cached activations of a training pass; there is no
// autodiff engine. Evaluation-mode forwards never write to the model, so one
// Model can serve concurrent readers once training is finished.
package gcn

import (
	"fmt"
	"math/rand/v2"

	"github.com/adalundhe/nexus/core/graph"
	"github.com/viterin/vek"
	"gonum.org/v1/gonum/mat"
)

// =============================================================================
// Configuration
// =============================================================================

const (
	DefaultHidden  = 16
	DefaultDropout = 0.5
)

// Config describes the network shape.
type Config struct {
	InputDim int     `yaml:"input_dim"`
	Hidden   int     `yaml:"hidden"`
	Classes  int     `yaml:"classes"`
	Dropout  float64 `yaml:"dropout"`
}

// DefaultConfig returns the 3→16→2 borrower classifier.
func DefaultConfig() Config {
	return Config{
		InputDim: graph.NumFeatures,
		Hidden:   DefaultHidden,
		Classes:  graph.NumClasses,
		Dropout:  DefaultDropout,
	}
}

// Mode selects training or evaluation behaviour.
type Mode int

const (
	ModeEval Mode = iota
	ModeTrain
)

// =============================================================================
// Model
// =============================================================================

// Model is the two-layer classifier plus its input scaler.
type Model struct {
	Conv1   *GraphConv
	Conv2   *GraphConv
	Scaler  Scaler
	Dropout float64
}

// NewModel creates a randomly initialised model.
func NewModel(cfg Config, rng *rand.Rand) *Model {
	return &Model{
		Conv1:   NewGraphConv(cfg.InputDim, cfg.Hidden, rng),
		Conv2:   NewGraphConv(cfg.Hidden, cfg.Classes, rng),
		Scaler:  IdentityScaler(cfg.InputDim),
		Dropout: cfg.Dropout,
	}
}

// Hidden returns the hidden width.
func (m *Model) Hidden() int {
	_, h := m.Conv1.Dims()
	return h
}

// Clone returns a deep copy that shares no memory with m.
func (m *Model) Clone() *Model {
	return &Model{
		Conv1:   m.Conv1.clone(),
		Conv2:   m.Conv2.clone(),
		Scaler:  m.Scaler.clone(),
		Dropout: m.Dropout,
	}
}

// Forward runs an evaluation-mode pass and returns N×Classes log-probabilities.
func (m *Model) Forward(x *mat.Dense, edges []graph.Edge) (*mat.Dense, error) {
	if x == nil {
		return nil, ErrEmptyGraph
	}
	n, d := x.Dims()
	in, _ := m.Conv1.Dims()
	if d != in {
		return nil, fmt.Errorf("%w: %d columns, model expects %d", ErrFeatureShape, d, in)
	}
	adj, err := NewAdjacency(n, edges)
	if err != nil {
		return nil, err
	}
	return m.ForwardAdj(adj, x), nil
}

// ForwardAdj runs an evaluation-mode pass over a prebuilt adjacency.
func (m *Model) ForwardAdj(adj *Adjacency, x *mat.Dense) *mat.Dense {
	xs := m.Scaler.Transform(x)
	h := m.Conv1.Forward(adj, xs)
	relu(h)
	return LogSoftmax(m.Conv2.Forward(adj, h))
}

// =============================================================================
// Training Pass
// =============================================================================

// Pass holds the activations of one training-mode forward.
type Pass struct {
	LogProbs *mat.Dense

	adj    *Adjacency
	input  *mat.Dense // standardized features
	preAct *mat.Dense // Â·X·W1 + b1
	hidden *mat.Dense // relu + dropout output fed to Conv2
	mask   *mat.Dense // dropout keep mask scaled by 1/(1-p); nil when p == 0
}

// Gradients mirrors the trainable tensors of a Model.
type Gradients struct {
	Conv1Weight *mat.Dense
	Conv1Bias   []float64
	Conv2Weight *mat.Dense
	Conv2Bias   []float64
}

// ForwardTrain runs a training-mode pass with dropout drawn from rng.
func (m *Model) ForwardTrain(adj *Adjacency, x *mat.Dense, rng *rand.Rand) *Pass {
	xs := m.Scaler.Transform(x)
	pre := m.Conv1.Forward(adj, xs)

	h := mat.DenseCopyOf(pre)
	relu(h)

	var mask *mat.Dense
	if m.Dropout > 0 {
		mask = dropoutMask(h, m.Dropout, rng)
		r, _ := h.Dims()
		for i := 0; i < r; i++ {
			vek.Mul_Inplace(h.RawRowView(i), mask.RawRowView(i))
		}
	}

	logp := LogSoftmax(m.Conv2.Forward(adj, h))

	return &Pass{
		LogProbs: logp,
		adj:      adj,
		input:    xs,
		preAct:   pre,
		hidden:   h,
		mask:     mask,
	}
}

// Backward computes NLL-loss gradients for a training pass.
func (m *Model) Backward(p *Pass, labels []int) (*Gradients, error) {
	r, _ := p.LogProbs.Dims()
	if len(labels) != r {
		return nil, fmt.Errorf("%w: %d labels, %d nodes", ErrLabelCount, len(labels), r)
	}

	dLogits := nllGrad(p.LogProbs, labels)
	dw2, db2, dh := m.Conv2.backward(p.adj, p.hidden, dLogits)

	for i := 0; i < r; i++ {
		g := dh.RawRowView(i)
		if p.mask != nil {
			vek.Mul_Inplace(g, p.mask.RawRowView(i))
		}
		for j, v := range p.preAct.RawRowView(i) {
			if v <= 0 {
				g[j] = 0
			}
		}
	}
	dw1, db1, _ := m.Conv1.backward(p.adj, p.input, dh)

	return &Gradients{
		Conv1Weight: dw1,
		Conv1Bias:   db1,
		Conv2Weight: dw2,
		Conv2Bias:   db2,
	}, nil
}

// =============================================================================
// Helpers
// =============================================================================

func relu(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j, v := range row {
			if v < 0 {
				row[j] = 0
			}
		}
	}
}

// dropoutMask keeps each unit with probability 1-p and rescales survivors.
func dropoutMask(like *mat.Dense, p float64, rng *rand.Rand) *mat.Dense {
	r, c := like.Dims()
	keep := 1 / (1 - p)
	data := make([]float64, r*c)
	for i := range data {
		if rng.Float64() >= p {
			data[i] = keep
		}
	}
	return mat.NewDense(r, c, data)
}

// tensors lists parameter storage paired with its gradient, in a fixed order.
func (m *Model) tensors(g *Gradients) [][2][]float64 {
	return [][2][]float64{
		{m.Conv1.Weight.RawMatrix().Data, g.Conv1Weight.RawMatrix().Data},
		{m.Conv1.Bias, g.Conv1Bias},
		{m.Conv2.Weight.RawMatrix().Data, g.Conv2Weight.RawMatrix().Data},
		{m.Conv2.Bias, g.Conv2Bias},
	}
}
