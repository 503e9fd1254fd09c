package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/adalundhe/nexus/core/graph"
)

// Well-known meta keys written by the generate command.
const (
	MetaSeed      = "seed"
	MetaNodes     = "nodes"
	MetaEdges     = "requested_edges"
	MetaHomophily = "homophily"
	MetaCreatedAt = "created_at"
)

// Meta is free-form provenance stored next to a dataset.
type Meta map[string]string

// Keys returns the meta keys in sorted order.
func (m Meta) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// Schema
// =============================================================================

var datasetMigrations = []Migration{
	{
		Version:     1,
		Description: "create dataset tables",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE nodes (
					id           INTEGER PRIMARY KEY,
					age          REAL    NOT NULL,
					income       REAL    NOT NULL,
					dharma_score REAL    NOT NULL,
					label        INTEGER NOT NULL
				);
				CREATE TABLE edges (
					seq    INTEGER PRIMARY KEY,
					source INTEGER NOT NULL,
					target INTEGER NOT NULL
				);
				CREATE TABLE meta (
					key   TEXT PRIMARY KEY,
					value TEXT NOT NULL
				);`)
			return err
		},
	},
}

// =============================================================================
// DatasetStore
// =============================================================================

// DatasetStore persists one borrower graph per database file. Node ids are
// row indices, edges keep their generation order through seq.
type DatasetStore struct {
	pool *Pool
	own  bool
}

// NewDatasetStore migrates pool to the dataset schema. The caller keeps
// ownership of pool.
func NewDatasetStore(ctx context.Context, pool *Pool) (*DatasetStore, error) {
	if err := NewMigrator(pool, datasetMigrations).Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate dataset schema: %w", err)
	}
	return &DatasetStore{pool: pool}, nil
}

// CreateDataset opens or creates the dataset file at path.
func CreateDataset(ctx context.Context, path string) (*DatasetStore, error) {
	return openDataset(ctx, path)
}

// OpenDataset opens an existing dataset file. A missing file reports
// ErrDatasetNotFound rather than creating an empty database. A file SQLite
// cannot read, or one that fails the integrity check, reports
// ErrCorruptDataset.
func OpenDataset(ctx context.Context, path string) (*DatasetStore, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, path)
		}
		return nil, err
	}

	store, err := openDataset(ctx, path)
	if errors.Is(err, ErrUnsupportedSchema) {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptDataset, path, err)
	}
	if err := store.pool.IntegrityCheck(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptDataset, path, err)
	}
	return store, nil
}

func openDataset(ctx context.Context, path string) (*DatasetStore, error) {
	pool, err := OpenFile(path, DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	store, err := NewDatasetStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	store.own = true
	return store, nil
}

// SchemaVersion returns the schema version stamped in the file.
func (s *DatasetStore) SchemaVersion(ctx context.Context) (int, error) {
	return s.pool.Version(ctx)
}

// Path returns the database file path.
func (s *DatasetStore) Path() string {
	return s.pool.Path()
}

// Close releases the pool when the store opened it.
func (s *DatasetStore) Close() error {
	if !s.own {
		return nil
	}
	return s.pool.Close()
}

// Save replaces the stored dataset with g and meta in a single transaction.
func (s *DatasetStore) Save(ctx context.Context, g *graph.Graph, meta Meta) error {
	if g == nil {
		return fmt.Errorf("save dataset: %w", ErrEmptyDataset)
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("save dataset: %w", err)
	}

	return s.pool.Transaction(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"nodes", "edges", "meta"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if err := insertNodes(ctx, tx, g); err != nil {
			return err
		}
		if err := insertEdges(ctx, tx, g.Edges); err != nil {
			return err
		}
		return insertMeta(ctx, tx, meta)
	})
}

func insertNodes(ctx context.Context, tx *sql.Tx, g *graph.Graph) error {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO nodes (id, age, income, dharma_score, label) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare nodes: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < g.NumNodes(); i++ {
		age, income, dharma := g.Row(i)
		if _, err := stmt.ExecContext(ctx, i, age, income, dharma, g.Labels[i]); err != nil {
			return fmt.Errorf("insert node %d: %w", i, err)
		}
	}
	return nil
}

func insertEdges(ctx context.Context, tx *sql.Tx, edges []graph.Edge) error {
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO edges (seq, source, target) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare edges: %w", err)
	}
	defer stmt.Close()

	for k, e := range edges {
		if _, err := stmt.ExecContext(ctx, k, e.Source, e.Target); err != nil {
			return fmt.Errorf("insert edge %d: %w", k, err)
		}
	}
	return nil
}

func insertMeta(ctx context.Context, tx *sql.Tx, meta Meta) error {
	for _, k := range meta.Keys() {
		if _, err := tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?)", k, meta[k]); err != nil {
			return fmt.Errorf("insert meta %q: %w", k, err)
		}
	}
	return nil
}

// Load reads the stored dataset. The graph is returned as stored; callers
// that train on it validate it themselves.
func (s *DatasetStore) Load(ctx context.Context) (*graph.Graph, Meta, error) {
	features, labels, err := s.loadNodes(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(labels) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrEmptyDataset, s.Path())
	}
	edges, err := s.loadEdges(ctx)
	if err != nil {
		return nil, nil, err
	}
	meta, err := s.Meta(ctx)
	if err != nil {
		return nil, nil, err
	}
	return graph.New(features, edges, labels), meta, nil
}

func (s *DatasetStore) loadNodes(ctx context.Context) ([]float64, []int, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, age, income, dharma_score, label FROM nodes ORDER BY id")
	if err != nil {
		return nil, nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var (
		features []float64
		labels   []int
	)
	for rows.Next() {
		var (
			id                  int
			age, income, dharma float64
			label               int
		)
		if err := rows.Scan(&id, &age, &income, &dharma, &label); err != nil {
			return nil, nil, fmt.Errorf("scan node: %w", err)
		}
		if id != len(labels) {
			return nil, nil, fmt.Errorf("%w: node ids not contiguous at %d (expected %d)", ErrCorruptDataset, id, len(labels))
		}
		features = append(features, age, income, dharma)
		labels = append(labels, label)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("read nodes: %w", err)
	}
	return features, labels, nil
}

func (s *DatasetStore) loadEdges(ctx context.Context) ([]graph.Edge, error) {
	rows, err := s.pool.Query(ctx, "SELECT source, target FROM edges ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var edges []graph.Edge
	for rows.Next() {
		var e graph.Edge
		if err := rows.Scan(&e.Source, &e.Target); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read edges: %w", err)
	}
	return edges, nil
}

// Meta returns the stored provenance.
func (s *DatasetStore) Meta(ctx context.Context) (Meta, error) {
	rows, err := s.pool.Query(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()

	meta := Meta{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}
