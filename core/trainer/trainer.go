// Package trainer fits the graph convolution classifier to a labeled graph.
//
// Training is full-batch and strictly sequential: every epoch runs one
// training-mode forward over the whole graph, computes the NLL loss, back
// propagates and applies one Adam step. The dataset is validated before any
// parameter is created, so a malformed graph never reaches the optimizer.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/adalundhe/nexus/core/gcn"
	"github.com/adalundhe/nexus/core/graph"
	"github.com/google/uuid"
)

// =============================================================================
// Constants and Errors
// =============================================================================

const (
	DefaultEpochs       = 200
	DefaultLearningRate = 0.01
	DefaultWeightDecay  = 5e-4
	DefaultLogEvery     = 20
	DefaultSeed         = 42
)

var (
	ErrInvalidDataset = errors.New("invalid training dataset")
	ErrInvalidConfig  = errors.New("invalid training config")
)

// =============================================================================
// Config
// =============================================================================

// Config controls the optimisation run.
type Config struct {
	Epochs       int        `yaml:"epochs"`
	LearningRate float64    `yaml:"learning_rate"`
	WeightDecay  float64    `yaml:"weight_decay"`
	LogEvery     int        `yaml:"log_every"`
	Seed         uint64     `yaml:"seed"`
	Model        gcn.Config `yaml:"model"`
}

// DefaultConfig returns 200 epochs of Adam at lr 0.01 with 5e-4 decay.
func DefaultConfig() Config {
	return Config{
		Epochs:       DefaultEpochs,
		LearningRate: DefaultLearningRate,
		WeightDecay:  DefaultWeightDecay,
		LogEvery:     DefaultLogEvery,
		Seed:         DefaultSeed,
		Model:        gcn.DefaultConfig(),
	}
}

// Validate checks the hyperparameters.
func (c Config) Validate() error {
	switch {
	case c.Epochs <= 0:
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrInvalidConfig, c.Epochs)
	case !(c.LearningRate > 0) || math.IsInf(c.LearningRate, 1):
		return fmt.Errorf("%w: learning rate must be finite and positive, got %v", ErrInvalidConfig, c.LearningRate)
	case !(c.WeightDecay >= 0) || math.IsInf(c.WeightDecay, 1):
		return fmt.Errorf("%w: weight decay must be finite and non-negative, got %v", ErrInvalidConfig, c.WeightDecay)
	case c.Model.Hidden <= 0:
		return fmt.Errorf("%w: hidden width must be positive, got %d", ErrInvalidConfig, c.Model.Hidden)
	case !(c.Model.Dropout >= 0 && c.Model.Dropout < 1):
		return fmt.Errorf("%w: dropout must be within [0,1), got %v", ErrInvalidConfig, c.Model.Dropout)
	case c.Model.InputDim != graph.NumFeatures:
		return fmt.Errorf("%w: input width %d, dataset has %d features", ErrInvalidConfig, c.Model.InputDim, graph.NumFeatures)
	case c.Model.Classes != graph.NumClasses:
		return fmt.Errorf("%w: %d classes, labels are binary", ErrInvalidConfig, c.Model.Classes)
	}
	return nil
}

// =============================================================================
// Results
// =============================================================================

// EpochStats is one progress report.
type EpochStats struct {
	Epoch    int     `json:"epoch"`
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// Result is the outcome of a completed run.
type Result struct {
	RunID   string
	Model   *gcn.Model
	History []EpochStats
	Epochs  int

	FinalLoss     float64
	FinalAccuracy float64
}

// Recorder receives observations while training. Implementations must not
// influence the run.
type Recorder interface {
	ObserveEpoch(loss float64, elapsed time.Duration)
	ObserveAccuracy(accuracy float64)
}

// =============================================================================
// Trainer
// =============================================================================

// Trainer runs optimisation jobs with a fixed config.
type Trainer struct {
	cfg      Config
	logger   *slog.Logger
	recorder Recorder
}

// New creates a trainer. logger and recorder may be nil.
func New(cfg Config, logger *slog.Logger, recorder Recorder) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = DefaultLogEvery
	}
	return &Trainer{cfg: cfg, logger: logger, recorder: recorder}
}

// Train fits g with the default logger and no recorder.
func Train(ctx context.Context, g *graph.Graph, cfg Config) (*Result, error) {
	return New(cfg, nil, nil).Train(ctx, g)
}

// Train validates g and runs the configured number of epochs.
func (t *Trainer) Train(ctx context.Context, g *graph.Graph) (*Result, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: no graph", ErrInvalidDataset)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDataset, err)
	}
	if err := t.cfg.Validate(); err != nil {
		return nil, err
	}

	adj, err := gcn.NewAdjacency(g.NumNodes(), g.Edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDataset, err)
	}

	runID := uuid.NewString()
	rng := rand.New(rand.NewPCG(t.cfg.Seed, t.cfg.Seed+1))
	model := gcn.NewModel(t.cfg.Model, rng)
	model.Scaler = gcn.FitScaler(g.Features)
	opt := gcn.NewAdam(t.cfg.LearningRate, t.cfg.WeightDecay)

	log := t.logger.With(slog.String("run_id", runID))
	log.Info("training started",
		slog.Int("nodes", g.NumNodes()),
		slog.Int("edges", g.NumEdges()),
		slog.Int("epochs", t.cfg.Epochs),
		slog.Float64("learning_rate", t.cfg.LearningRate),
		slog.Float64("weight_decay", t.cfg.WeightDecay),
		slog.Int("hidden", t.cfg.Model.Hidden))

	res := &Result{RunID: runID, Epochs: t.cfg.Epochs}
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			log.Warn("training cancelled", slog.Int("epoch", epoch))
			return nil, err
		}

		start := time.Now()
		loss, err := t.step(model, opt, adj, g, rng)
		if err != nil {
			return nil, err
		}
		if t.recorder != nil {
			t.recorder.ObserveEpoch(loss, time.Since(start))
		}

		if epoch%t.cfg.LogEvery == 0 || epoch == t.cfg.Epochs {
			stats := t.report(model, adj, g, epoch, loss)
			res.History = append(res.History, stats)
			log.Info("epoch",
				slog.Int("epoch", stats.Epoch),
				slog.Float64("loss", stats.Loss),
				slog.Float64("accuracy", stats.Accuracy))
		}
		res.FinalLoss = loss
	}

	res.FinalAccuracy = gcn.Accuracy(model.ForwardAdj(adj, g.Features), g.Labels)
	res.Model = model.Clone()

	log.Info("training complete",
		slog.Float64("final_loss", res.FinalLoss),
		slog.Float64("final_accuracy", res.FinalAccuracy))

	return res, nil
}

// step runs one forward/backward/update cycle and returns the training loss.
func (t *Trainer) step(model *gcn.Model, opt *gcn.Adam, adj *gcn.Adjacency, g *graph.Graph, rng *rand.Rand) (float64, error) {
	pass := model.ForwardTrain(adj, g.Features, rng)
	loss := gcn.NLLLoss(pass.LogProbs, g.Labels)

	grads, err := model.Backward(pass, g.Labels)
	if err != nil {
		return 0, err
	}
	opt.Step(model, grads)
	return loss, nil
}

// report measures accuracy with dropout disabled. It reads the model only.
func (t *Trainer) report(model *gcn.Model, adj *gcn.Adjacency, g *graph.Graph, epoch int, loss float64) EpochStats {
	acc := gcn.Accuracy(model.ForwardAdj(adj, g.Features), g.Labels)
	if t.recorder != nil {
		t.recorder.ObserveAccuracy(acc)
	}
	return EpochStats{Epoch: epoch, Loss: loss, Accuracy: acc}
}
