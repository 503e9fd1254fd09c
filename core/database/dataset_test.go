package database

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/adalundhe/nexus/core/generator"
	"github.com/adalundhe/nexus/core/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generated(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := generator.Generate(generator.Config{Nodes: 120, Edges: 300, Seed: 11})
	require.NoError(t, err)
	return g
}

func TestDatasetRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "borrowers.db")
	g := generated(t)

	store, err := CreateDataset(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, g, Meta{MetaSeed: "11", MetaNodes: "120"}))
	require.NoError(t, store.Close())

	store, err = OpenDataset(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	loaded, meta, err := store.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, g.Labels, loaded.Labels)
	assert.Equal(t, g.Edges, loaded.Edges, "edge order is preserved")
	assert.Equal(t, g.Features.RawMatrix().Data, loaded.Features.RawMatrix().Data)
	assert.Equal(t, "11", meta[MetaSeed])
	assert.NoError(t, loaded.Validate())

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestDatasetSaveReplaces(t *testing.T) {
	ctx := context.Background()
	store, err := CreateDataset(ctx, filepath.Join(t.TempDir(), "replace.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(ctx, generated(t), Meta{"old": "x"}))

	small := graph.New([]float64{30, 40000, 0.5, 60, 90000, 0.9}, []graph.Edge{{Source: 0, Target: 1}}, []int{1, 0})
	require.NoError(t, store.Save(ctx, small, Meta{MetaSeed: "1"}))

	loaded, meta, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.NumNodes())
	assert.Equal(t, []graph.Edge{{Source: 0, Target: 1}}, loaded.Edges)
	assert.Equal(t, Meta{MetaSeed: "1"}, meta)
}

func TestDatasetSaveRejectsInvalidGraph(t *testing.T) {
	ctx := context.Background()
	store, err := CreateDataset(ctx, filepath.Join(t.TempDir(), "invalid.db"))
	require.NoError(t, err)
	defer store.Close()

	bad := graph.New([]float64{30, 40000, 0.5}, []graph.Edge{{Source: 0, Target: 4}}, []int{0})
	err = store.Save(ctx, bad, nil)
	assert.True(t, graph.IsViolation(err, graph.InvariantEdgeRange))

	assert.ErrorIs(t, store.Save(ctx, nil, nil), ErrEmptyDataset)

	_, _, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrEmptyDataset, "a rejected save stores nothing")
}

func TestOpenDatasetMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")

	_, err := OpenDataset(context.Background(), path)
	assert.ErrorIs(t, err, ErrDatasetNotFound)
	assert.NoFileExists(t, path, "opening must not create the file")
}

func TestOpenDatasetRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.db")
	require.NoError(t, os.WriteFile(path, append([]byte("borrowers,v1\n"), make([]byte, 8192)...), 0644))

	store, err := OpenDataset(context.Background(), path)
	assert.ErrorIs(t, err, ErrCorruptDataset)
	assert.Nil(t, store)
}

func TestOpenDatasetRejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "future.db")

	store, err := CreateDataset(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, generated(t), nil))
	exec(t, store.pool, "PRAGMA user_version = 42")
	require.NoError(t, store.Close())

	_, err = OpenDataset(ctx, path)
	assert.ErrorIs(t, err, ErrUnsupportedSchema)
	assert.NotErrorIs(t, err, ErrCorruptDataset)
}

func TestLoadEmptyDataset(t *testing.T) {
	ctx := context.Background()
	store, err := CreateDataset(ctx, filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer store.Close()

	_, _, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestLoadDetectsGappedNodeIDs(t *testing.T) {
	ctx := context.Background()
	pool, err := OpenFile(filepath.Join(t.TempDir(), "gap.db"), DefaultPoolConfig())
	require.NoError(t, err)
	defer pool.Close()

	store, err := NewDatasetStore(ctx, pool)
	require.NoError(t, err)

	for _, id := range []int{0, 2} {
		exec(t, pool, "INSERT INTO nodes (id, age, income, dharma_score, label) VALUES (?, 30, 40000, 0.5, 0)", id)
	}

	_, _, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruptDataset)
}

func TestLoadReturnsStoredInvalidLabels(t *testing.T) {
	ctx := context.Background()
	pool, err := OpenFile(filepath.Join(t.TempDir(), "labels.db"), DefaultPoolConfig())
	require.NoError(t, err)
	defer pool.Close()

	store, err := NewDatasetStore(ctx, pool)
	require.NoError(t, err)
	exec(t, pool, "INSERT INTO nodes (id, age, income, dharma_score, label) VALUES (0, 30, 40000, 0.5, 7)")

	g, _, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, graph.IsViolation(g.Validate(), graph.InvariantLabelValue))
}

func TestMetaKeysSorted(t *testing.T) {
	m := Meta{"b": "2", "a": "1", "c": strconv.Itoa(3)}
	assert.Equal(t, []string{"a", "b", "c"}, m.Keys())
}
