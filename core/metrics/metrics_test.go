package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/adalundhe/nexus/core/generator"
	"github.com/adalundhe/nexus/core/inference"
	"github.com/adalundhe/nexus/core/trainer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveEpoch(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveEpoch(0.7, 5*time.Millisecond)
	m.ObserveEpoch(0.5, 4*time.Millisecond)
	m.ObserveAccuracy(0.83)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EpochsTotal))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.Loss))
	assert.Equal(t, 0.83, testutil.ToFloat64(m.Accuracy))
}

func TestObservePrediction(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObservePrediction("safe")
	m.ObservePrediction("high_risk")
	m.ObservePrediction("high_risk")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PredictionsTotal.WithLabelValues("safe")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PredictionsTotal.WithLabelValues("high_risk")))
}

func TestRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObservePrediction("safe")

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestWiredIntoTrainerAndPredictor(t *testing.T) {
	m := New(prometheus.NewRegistry())
	g, err := generator.Generate(generator.Config{Nodes: 40, Edges: 80, Seed: 2})
	require.NoError(t, err)

	cfg := trainer.DefaultConfig()
	cfg.Epochs = 25
	res, err := trainer.New(cfg, nil, m).Train(context.Background(), g)
	require.NoError(t, err)

	assert.Equal(t, 25.0, testutil.ToFloat64(m.EpochsTotal))
	assert.Equal(t, res.FinalLoss, testutil.ToFloat64(m.Loss))

	p, err := inference.NewPredictor(res.Model, inference.WithRecorder(m))
	require.NoError(t, err)
	label, err := p.PredictOne(30, 40000, 0.3)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PredictionsTotal.WithLabelValues(string(label))))
}
