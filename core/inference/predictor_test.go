package inference

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/adalundhe/nexus/core/checkpoint"
	"github.com/adalundhe/nexus/core/generator"
	"github.com/adalundhe/nexus/core/trainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	trainedOnce sync.Once
	trained     *trainer.Result
	trainedErr  error
)

// trainedResult trains once on a representative generated graph and shares
// the result across tests.
func trainedResult(t *testing.T) *trainer.Result {
	t.Helper()
	trainedOnce.Do(func() {
		g, err := generator.Generate(generator.Config{
			Nodes:           1000,
			Edges:           2500,
			Seed:            42,
			Homophily:       0.5,
			HomophilyWindow: generator.DefaultHomophilyWindow,
		})
		if err != nil {
			trainedErr = err
			return
		}
		logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
		trained, trainedErr = trainer.New(trainer.DefaultConfig(), logger, nil).Train(context.Background(), g)
	})
	require.NoError(t, trainedErr)
	return trained
}

func trainedPredictor(t *testing.T, opts ...Option) *Predictor {
	t.Helper()
	p, err := NewPredictor(trainedResult(t).Model, opts...)
	require.NoError(t, err)
	return p
}

func TestPredictOneBoundaryBorrowers(t *testing.T) {
	p := trainedPredictor(t)

	label, err := p.PredictOne(70, 200000, 1.0)
	require.NoError(t, err)
	assert.Equal(t, LabelSafe, label)

	label, err = p.PredictOne(18, 15000, 0.0)
	require.NoError(t, err)
	assert.Equal(t, LabelHighRisk, label)
}

func TestAssessReportsProbability(t *testing.T) {
	p := trainedPredictor(t)

	a, err := p.Assess(18, 15000, 0.0)
	require.NoError(t, err)
	assert.Greater(t, a.RiskProb, 0.5)
	assert.LessOrEqual(t, a.RiskProb, 1.0)
	assert.Equal(t, "High Risk (Default)", a.DisplayLabel)
}

func TestPredictOneOutOfRangeValuesStillClassified(t *testing.T) {
	p := trainedPredictor(t)

	inputs := [][3]float64{
		{30, -50000, 0.5},
		{-5, 40000, 2.0},
		{200, 1e9, -3},
		{0, 0, 0},
	}
	for _, in := range inputs {
		label, err := p.PredictOne(in[0], in[1], in[2])
		require.NoError(t, err, "input %v", in)
		assert.Contains(t, []Label{LabelSafe, LabelHighRisk}, label)
	}
}

func TestPredictOneNaNPropagates(t *testing.T) {
	var buf bytes.Buffer
	p := trainedPredictor(t, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	label, err := p.PredictOne(30, math.NaN(), 0.5)
	assert.ErrorIs(t, err, ErrNonFinite)
	assert.Empty(t, label)
	assert.Contains(t, buf.String(), "non-finite prediction")
}

func TestPredictorIgnoresLaterModelMutation(t *testing.T) {
	model := trainedResult(t).Model.Clone()
	p, err := NewPredictor(model)
	require.NoError(t, err)

	before, err := p.Assess(40, 60000, 0.5)
	require.NoError(t, err)

	model.Conv2.Bias[0] += 100
	after, err := p.Assess(40, 60000, 0.5)
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestPredictorConcurrentCallers(t *testing.T) {
	p := trainedPredictor(t)

	inputs := [][3]float64{
		{18, 15000, 0.0},
		{70, 200000, 1.0},
		{35, 52000, 0.4},
		{50, 90000, 0.7},
	}
	want := make([]Label, len(inputs))
	for i, in := range inputs {
		label, err := p.PredictOne(in[0], in[1], in[2])
		require.NoError(t, err)
		want[i] = label
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, in := range inputs {
				label, err := p.PredictOne(in[0], in[1], in[2])
				if err != nil {
					errs <- err
					return
				}
				if label != want[i] {
					errs <- errors.New("label changed under concurrency")
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestLoadPredictorRoundTrip(t *testing.T) {
	res := trainedResult(t)
	path := filepath.Join(t.TempDir(), "weights.ckpt")
	require.NoError(t, checkpoint.Save(path, checkpoint.New(res.Model, checkpoint.Metadata{RunID: res.RunID})))

	loaded, err := LoadPredictor(path)
	require.NoError(t, err)
	direct := trainedPredictor(t)

	for _, in := range [][3]float64{{18, 15000, 0}, {70, 200000, 1}, {41, 47000, 0.33}} {
		want, err := direct.Assess(in[0], in[1], in[2])
		require.NoError(t, err)
		got, err := loaded.Assess(in[0], in[1], in[2])
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 16, loaded.Hidden())
}

func TestLoadPredictorRefusesMissingCheckpoint(t *testing.T) {
	p, err := LoadPredictor(filepath.Join(t.TempDir(), "missing.ckpt"))
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	assert.Nil(t, p)
}

func TestLoadPredictorRefusesCorruptCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ckpt")
	require.NoError(t, os.WriteFile(path, []byte("NXCK-not-really-a-checkpoint"), 0644))

	p, err := LoadPredictor(path)
	assert.ErrorIs(t, err, checkpoint.ErrCorrupt)
	assert.Nil(t, p)
}

func TestNewPredictorNilModel(t *testing.T) {
	_, err := NewPredictor(nil)
	assert.ErrorIs(t, err, ErrNoModel)
}

type labelCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *labelCounter) ObservePrediction(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[label]++
}

func TestPredictorRecordsPredictions(t *testing.T) {
	rec := &labelCounter{counts: map[string]int{}}
	p := trainedPredictor(t, WithRecorder(rec))

	_, err := p.PredictOne(18, 15000, 0)
	require.NoError(t, err)
	_, err = p.PredictOne(30, math.NaN(), 0)
	require.Error(t, err)

	assert.Equal(t, 1, rec.counts[string(LabelHighRisk)])
	assert.Zero(t, rec.counts[string(LabelSafe)])
}

func TestLabelDisplay(t *testing.T) {
	assert.Equal(t, "Safe (Recoverable)", LabelSafe.Display())
	assert.Equal(t, "High Risk (Default)", LabelHighRisk.Display())
	assert.Equal(t, "other", Label("other").Display())
	assert.Equal(t, LabelHighRisk, LabelFromClass(1))
	assert.Equal(t, LabelSafe, LabelFromClass(0))
}
