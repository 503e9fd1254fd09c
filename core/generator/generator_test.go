package generator

import (
	"math"
	"testing"

	"github.com/adalundhe/nexus/core/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestGenerateDeterministic(t *testing.T) {
	cfg := Config{Nodes: 300, Edges: 900, Seed: 42}

	a, err := Generate(cfg)
	require.NoError(t, err)
	b, err := Generate(cfg)
	require.NoError(t, err)

	assert.True(t, mat.Equal(a.Features, b.Features), "features differ between runs")
	assert.Equal(t, a.Edges, b.Edges)
	assert.Equal(t, a.Labels, b.Labels)
}

func TestGenerateSeedChangesOutput(t *testing.T) {
	a, err := Generate(Config{Nodes: 100, Edges: 200, Seed: 1})
	require.NoError(t, err)
	b, err := Generate(Config{Nodes: 100, Edges: 200, Seed: 2})
	require.NoError(t, err)

	assert.False(t, mat.Equal(a.Features, b.Features))
}

func TestGenerateFeatureRanges(t *testing.T) {
	g, err := Generate(Config{Nodes: 2000, Edges: 0, Seed: 7})
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	for i := 0; i < g.NumNodes(); i++ {
		age, income, dharma := g.Row(i)
		assert.GreaterOrEqual(t, age, float64(AgeMin))
		assert.Less(t, age, float64(AgeMax))
		assert.Equal(t, age, float64(int(age)), "age must be integral")
		assert.GreaterOrEqual(t, income, IncomeMin)
		assert.LessOrEqual(t, income, IncomeMax)
		assert.GreaterOrEqual(t, dharma, 0.0)
		assert.LessOrEqual(t, dharma, 1.0)
	}
}

func TestGenerateLabelsFollowRule(t *testing.T) {
	g, err := Generate(Config{Nodes: 500, Edges: 100, Seed: 42})
	require.NoError(t, err)

	for i := 0; i < g.NumNodes(); i++ {
		_, income, dharma := g.Row(i)
		assert.Equal(t, Label(income, dharma), g.Labels[i], "node %d", i)
	}

	counts := g.LabelCounts()
	assert.Positive(t, counts[graph.LabelSafe])
	assert.Positive(t, counts[graph.LabelHighRisk])
}

func TestGenerateDropsSelfPairs(t *testing.T) {
	// Few nodes make self pairs likely.
	cfg := Config{Nodes: 3, Edges: 300, Seed: 42}
	g, err := Generate(cfg)
	require.NoError(t, err)

	assert.Less(t, g.NumEdges(), cfg.Edges)
	for _, e := range g.Edges {
		assert.False(t, e.IsSelfLoop(), "self loop %v", e)
		assert.GreaterOrEqual(t, e.Source, 0)
		assert.Less(t, e.Target, cfg.Nodes)
	}
}

func TestGenerateSingleNodeHasNoEdges(t *testing.T) {
	g, err := Generate(Config{Nodes: 1, Edges: 50, Seed: 3})
	require.NoError(t, err)

	assert.Equal(t, 1, g.NumNodes())
	assert.Empty(t, g.Edges)
}

func TestGenerateInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"zero nodes", Config{Nodes: 0, Edges: 10}, ErrInvalidNodeCount},
		{"negative nodes", Config{Nodes: -5, Edges: 10}, ErrInvalidNodeCount},
		{"negative edges", Config{Nodes: 5, Edges: -1}, ErrInvalidEdgeCount},
		{"homophily above one", Config{Nodes: 5, Edges: 1, Homophily: 1.5}, ErrInvalidHomophily},
		{"homophily nan", Config{Nodes: 5, Edges: 1, Homophily: math.NaN()}, ErrInvalidHomophily},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Generate(tt.cfg)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, g)
		})
	}
}

func TestHomophilyConnectsSimilarIncomes(t *testing.T) {
	base := Config{Nodes: 1000, Edges: 3000, Seed: 11, HomophilyWindow: 5}
	uniform, err := Generate(base)
	require.NoError(t, err)

	biased := base
	biased.Homophily = 1
	homophilous, err := Generate(biased)
	require.NoError(t, err)

	assert.Less(t, meanIncomeGap(homophilous), meanIncomeGap(uniform)/2)
}

func TestZeroHomophilyMatchesUniformRule(t *testing.T) {
	a, err := Generate(Config{Nodes: 200, Edges: 400, Seed: 5})
	require.NoError(t, err)
	b, err := Generate(Config{Nodes: 200, Edges: 400, Seed: 5, HomophilyWindow: 3})
	require.NoError(t, err)

	assert.Equal(t, a.Edges, b.Edges)
}

func TestLabelBoundaryExtremes(t *testing.T) {
	assert.Equal(t, graph.LabelSafe, Label(IncomeMax, 1.0))
	assert.Equal(t, graph.LabelHighRisk, Label(IncomeMin, 0.0))
	assert.InDelta(t, 0.0, DefaultProbability(IncomeMax, 1.0), 1e-12)
}

func meanIncomeGap(g *graph.Graph) float64 {
	var total float64
	for _, e := range g.Edges {
		_, a, _ := g.Row(e.Source)
		_, b, _ := g.Row(e.Target)
		if a > b {
			total += a - b
		} else {
			total += b - a
		}
	}
	return total / float64(len(g.Edges))
}
