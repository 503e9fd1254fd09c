// Package inference scores single borrowers with a trained classifier.
//
// A Predictor is built once at process start from a checkpoint and is then
// read-only: any number of goroutines may call it without coordination.
//
// Single-record scoring limitation: each request is wrapped in a one-node
// graph whose only edge is a self loop on node 0. The normalized adjacency
// collapses to [1], so the convolutions see no neighbours and the model acts
// as a feature-only classifier on this path. The relational signal it was
// trained with is absent here. Callers that need neighbourhood context must
// score a subgraph through gcn.Model.Forward instead.
package inference

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/adalundhe/nexus/core/checkpoint"
	"github.com/adalundhe/nexus/core/gcn"
	"github.com/adalundhe/nexus/core/graph"
)

var (
	ErrNoModel   = errors.New("predictor has no model")
	ErrNonFinite = errors.New("classifier produced a non-finite score")
)

// =============================================================================
// Labels
// =============================================================================

// Label is the risk class returned to callers.
type Label string

const (
	LabelSafe     Label = "safe"
	LabelHighRisk Label = "high_risk"
)

var displayNames = map[Label]string{
	LabelSafe:     "Safe (Recoverable)",
	LabelHighRisk: "High Risk (Default)",
}

// Display returns the human-readable form of the label.
func (l Label) Display() string {
	if name, ok := displayNames[l]; ok {
		return name
	}
	return string(l)
}

// LabelFromClass maps a class index to a label.
func LabelFromClass(class int) Label {
	if class == graph.LabelHighRisk {
		return LabelHighRisk
	}
	return LabelSafe
}

// Assessment is a label with the probability of default behind it.
type Assessment struct {
	Label        Label   `json:"label"`
	RiskProb     float64 `json:"risk_probability"`
	DisplayLabel string  `json:"display_label"`
}

// Scorer assesses one borrower.
type Scorer interface {
	Assess(age, income, dharma float64) (Assessment, error)
}

// Recorder observes served predictions.
type Recorder interface {
	ObservePrediction(label string)
}

// =============================================================================
// Predictor
// =============================================================================

// Predictor is an immutable handle around a trained model.
type Predictor struct {
	model    *gcn.Model
	logger   *slog.Logger
	recorder Recorder
}

// Option configures a Predictor at construction.
type Option func(*Predictor)

// WithLogger sets the logger used for failed predictions.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Predictor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRecorder attaches a prediction recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Predictor) {
		p.recorder = r
	}
}

// NewPredictor wraps a private copy of model with dropout disabled.
func NewPredictor(model *gcn.Model, opts ...Option) (*Predictor, error) {
	if model == nil {
		return nil, ErrNoModel
	}
	frozen := model.Clone()
	frozen.Dropout = 0

	p := &Predictor{model: frozen, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// LoadPredictor reads a checkpoint and builds a Predictor from it. A missing
// or incompatible checkpoint is returned as an error; no fallback model is
// ever created.
func LoadPredictor(path string, opts ...Option) (*Predictor, error) {
	ckpt, err := checkpoint.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load predictor: %w", err)
	}
	model, err := ckpt.Model()
	if err != nil {
		return nil, fmt.Errorf("load predictor: %w", err)
	}
	return NewPredictor(model, opts...)
}

// Hidden returns the hidden width of the wrapped model.
func (p *Predictor) Hidden() int {
	return p.model.Hidden()
}

// PredictOne classifies one borrower. Values are not range-checked.
func (p *Predictor) PredictOne(age, income, dharma float64) (Label, error) {
	a, err := p.Assess(age, income, dharma)
	if err != nil {
		return "", err
	}
	return a.Label, nil
}

// Assess classifies one borrower and reports the default probability.
func (p *Predictor) Assess(age, income, dharma float64) (Assessment, error) {
	g := graph.SingleNode(age, income, dharma)
	logp, err := p.model.Forward(g.Features, g.Edges)
	if err != nil {
		return Assessment{}, err
	}

	safe, risk := logp.At(0, graph.LabelSafe), logp.At(0, graph.LabelHighRisk)
	if !gcn.Finite(logp) {
		p.logger.Warn("non-finite prediction",
			slog.Float64("age", age),
			slog.Float64("income", income),
			slog.Float64("dharma_score", dharma))
		return Assessment{}, fmt.Errorf("%w: log-probabilities (%v, %v)", ErrNonFinite, safe, risk)
	}

	label := LabelFromClass(gcn.Predictions(logp)[0])
	if p.recorder != nil {
		p.recorder.ObservePrediction(string(label))
	}
	return Assessment{
		Label:        label,
		RiskProb:     math.Exp(risk),
		DisplayLabel: label.Display(),
	}, nil
}
