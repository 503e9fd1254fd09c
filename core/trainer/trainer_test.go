package trainer

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/adalundhe/nexus/core/gcn"
	"github.com/adalundhe/nexus/core/generator"
	"github.com/adalundhe/nexus/core/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

type countingRecorder struct {
	epochs     int
	accuracies []float64
}

func (r *countingRecorder) ObserveEpoch(float64, time.Duration) { r.epochs++ }
func (r *countingRecorder) ObserveAccuracy(acc float64) { r.accuracies = append(r.accuracies, acc) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func generate(t *testing.T, cfg generator.Config) *graph.Graph {
	t.Helper()
	g, err := generator.Generate(cfg)
	require.NoError(t, err)
	return g
}

func TestTrainImprovesAccuracy(t *testing.T) {
	g := generate(t, generator.Config{Nodes: 600, Edges: 1200, Seed: 42, Homophily: 0.8, HomophilyWindow: 5})

	res, err := New(DefaultConfig(), quietLogger(), nil).Train(context.Background(), g)
	require.NoError(t, err)

	require.Len(t, res.History, 10)
	first, last := res.History[0], res.History[len(res.History)-1]
	assert.Equal(t, 20, first.Epoch)
	assert.Equal(t, 200, last.Epoch)
	assert.Greater(t, last.Accuracy, first.Accuracy)
	assert.Less(t, last.Loss, first.Loss)
	assert.Equal(t, last.Accuracy, res.FinalAccuracy)
	assert.NotEmpty(t, res.RunID)
}

func TestTrainDefaultDataset(t *testing.T) {
	g := generate(t, generator.DefaultConfig())

	res, err := New(DefaultConfig(), quietLogger(), nil).Train(context.Background(), g)
	require.NoError(t, err)

	first, last := res.History[0], res.History[len(res.History)-1]
	assert.Equal(t, 20, first.Epoch)
	assert.Equal(t, 200, last.Epoch)
	assert.Less(t, last.Loss, first.Loss)
	assert.Greater(t, last.Accuracy, first.Accuracy)

	classify := func(age, income, dharma float64) int {
		one := graph.SingleNode(age, income, dharma)
		logp, err := res.Model.Forward(one.Features, one.Edges)
		require.NoError(t, err)
		return gcn.Predictions(logp)[0]
	}
	assert.Equal(t, graph.LabelSafe, classify(70, 200000, 1.0))
	assert.Equal(t, graph.LabelHighRisk, classify(18, 15000, 0.0))
}

func TestTrainDeterministicForSeed(t *testing.T) {
	g := generate(t, generator.Config{Nodes: 100, Edges: 250, Seed: 3})
	cfg := DefaultConfig()
	cfg.Epochs = 30

	a, err := New(cfg, quietLogger(), nil).Train(context.Background(), g)
	require.NoError(t, err)
	b, err := New(cfg, quietLogger(), nil).Train(context.Background(), g)
	require.NoError(t, err)

	assert.Equal(t, a.Model.StateDict(), b.Model.StateDict())
	assert.Equal(t, a.History, b.History)
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestTrainReportsToRecorder(t *testing.T) {
	g := generate(t, generator.Config{Nodes: 50, Edges: 100, Seed: 1})
	cfg := DefaultConfig()
	cfg.Epochs = 45
	rec := &countingRecorder{}

	res, err := New(cfg, quietLogger(), rec).Train(context.Background(), g)
	require.NoError(t, err)

	assert.Equal(t, 45, rec.epochs)
	// Epochs 20, 40 and the final epoch.
	assert.Len(t, rec.accuracies, 3)
	assert.Len(t, res.History, 3)
	assert.Equal(t, 45, res.History[2].Epoch)
}

func TestTrainLogsProgress(t *testing.T) {
	g := generate(t, generator.Config{Nodes: 30, Edges: 60, Seed: 1})
	cfg := DefaultConfig()
	cfg.Epochs = 20

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	_, err := New(cfg, logger, nil).Train(context.Background(), g)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "training started")
	assert.Contains(t, out, "epoch=20")
	assert.Contains(t, out, "training complete")
}

func TestTrainRejectsMalformedDataset(t *testing.T) {
	tests := []struct {
		name  string
		graph *graph.Graph
		want  graph.Invariant
	}{
		{
			name: "label count mismatch",
			graph: &graph.Graph{
				Features: mat.NewDense(2, 3, []float64{20, 30000, 0.2, 40, 60000, 0.6}),
				Labels:   []int{1},
			},
			want: graph.InvariantLabelCount,
		},
		{
			name: "edge out of range",
			graph: &graph.Graph{
				Features: mat.NewDense(2, 3, []float64{20, 30000, 0.2, 40, 60000, 0.6}),
				Edges:    []graph.Edge{{Source: 0, Target: 9}},
				Labels:   []int{1, 0},
			},
			want: graph.InvariantEdgeRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &countingRecorder{}
			res, err := New(DefaultConfig(), quietLogger(), rec).Train(context.Background(), tt.graph)

			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrInvalidDataset)
			assert.True(t, graph.IsViolation(err, tt.want), "got %v", err)
			assert.Zero(t, rec.epochs, "no optimisation step may run")
		})
	}
}

func TestTrainRejectsNilGraph(t *testing.T) {
	_, err := Train(context.Background(), nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidDataset)
}

func TestTrainRejectsInvalidConfig(t *testing.T) {
	g := generate(t, generator.Config{Nodes: 10, Edges: 10, Seed: 1})

	mutations := map[string]func(*Config){
		"zero epochs":     func(c *Config) { c.Epochs = 0 },
		"negative lr":     func(c *Config) { c.LearningRate = -1 },
		"negative decay":  func(c *Config) { c.WeightDecay = -1 },
		"dropout one":     func(c *Config) { c.Model.Dropout = 1 },
		"zero hidden":     func(c *Config) { c.Model.Hidden = 0 },
		"three classes":   func(c *Config) { c.Model.Classes = 3 },
		"wrong input dim": func(c *Config) { c.Model.InputDim = 4 },
		"nan lr":          func(c *Config) { c.LearningRate = math.NaN() },
		"infinite lr":     func(c *Config) { c.LearningRate = math.Inf(1) },
		"nan decay":       func(c *Config) { c.WeightDecay = math.NaN() },
		"infinite decay":  func(c *Config) { c.WeightDecay = math.Inf(1) },
		"nan dropout":     func(c *Config) { c.Model.Dropout = math.NaN() },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := Train(context.Background(), g, cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestTrainHonoursCancellation(t *testing.T) {
	g := generate(t, generator.Config{Nodes: 10, Edges: 10, Seed: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(DefaultConfig(), quietLogger(), nil).Train(ctx, g)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestResultModelIsDetached(t *testing.T) {
	g := generate(t, generator.Config{Nodes: 40, Edges: 80, Seed: 9})
	cfg := DefaultConfig()
	cfg.Epochs = 5

	res, err := Train(context.Background(), g, cfg)
	require.NoError(t, err)

	sd := res.Model.StateDict()
	res.Model.Conv1.Bias[0] += 1
	assert.NotEqual(t, sd, res.Model.StateDict(), "state dict must be a copy")
}
