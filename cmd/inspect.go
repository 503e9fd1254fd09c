package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/adalundhe/nexus/core/checkpoint"
	"github.com/adalundhe/nexus/core/database"
	"github.com/adalundhe/nexus/core/gcn"
	"github.com/adalundhe/nexus/core/graph"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// =============================================================================
// Inspect Command Flags
// =============================================================================

var inspectJSON bool

// =============================================================================
// Inspect Command
// =============================================================================

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarise datasets and checkpoints",
	Long: `Summarise the artifacts handed between generation, training and serving.

Subcommands:
  dataset     - Node and edge counts, label balance, feature statistics
  checkpoint  - Run metadata and tensor shapes

Examples:
  nexus inspect dataset
  nexus inspect dataset ./graph.db --json
  nexus inspect checkpoint gcn`,
}

var inspectDatasetCmd = &cobra.Command{
	Use:   "dataset [name-or-path]",
	Short: "Summarise a dataset",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInspectDataset,
}

var inspectCheckpointCmd = &cobra.Command{
	Use:   "checkpoint [name-or-path]",
	Short: "Summarise a checkpoint",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInspectCheckpoint,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.AddCommand(inspectDatasetCmd)
	inspectCmd.AddCommand(inspectCheckpointCmd)

	inspectCmd.PersistentFlags().BoolVar(&inspectJSON, "json", false, "Output as JSON")
}

// =============================================================================
// Dataset Summary
// =============================================================================

type featureSummary struct {
	Name string  `json:"name"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

type datasetSummary struct {
	Path       string            `json:"path"`
	Schema     int               `json:"schema_version"`
	Integrity  string            `json:"integrity"`
	Nodes      int               `json:"nodes"`
	Edges      int               `json:"edges"`
	SelfLoops  int               `json:"self_loops"`
	MeanDegree float64           `json:"mean_degree"`
	Safe       int               `json:"safe"`
	HighRisk   int               `json:"high_risk"`
	Features   []featureSummary  `json:"features"`
	Meta       map[string]string `json:"meta,omitempty"`
	Valid      bool              `json:"valid"`
	Problem    string            `json:"problem,omitempty"`
}

func runInspectDataset(cmd *cobra.Command, args []string) error {
	path := app.config.DatasetPath()
	if len(args) == 1 {
		path = app.config.Dirs().DatasetPath(args[0])
	}

	summary, err := summariseDataset(cmd.Context(), path)
	if err != nil {
		return err
	}
	if inspectJSON {
		return writeJSON(cmd.OutOrStdout(), summary)
	}
	printDatasetSummary(cmd.OutOrStdout(), summary)
	return nil
}

func summariseDataset(ctx context.Context, path string) (*datasetSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := database.OpenDataset(ctx, path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	g, meta, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := store.SchemaVersion(ctx)
	if err != nil {
		return nil, err
	}

	// OpenDataset has already run the integrity check.
	counts := g.LabelCounts()
	s := &datasetSummary{
		Path:       path,
		Schema:     schema,
		Integrity:  "ok",
		Nodes:      g.NumNodes(),
		Edges:      g.NumEdges(),
		MeanDegree: float64(g.NumEdges()) / float64(g.NumNodes()),
		Safe:       counts[graph.LabelSafe],
		HighRisk:   counts[graph.LabelHighRisk],
		Meta:       meta,
		Valid:      true,
	}
	for _, e := range g.Edges {
		if e.IsSelfLoop() {
			s.SelfLoops++
		}
	}
	for j, name := range graph.FeatureNames {
		col := mat.Col(nil, j, g.Features)
		mean, std := stat.MeanStdDev(col, nil)
		s.Features = append(s.Features, featureSummary{
			Name: name,
			Mean: mean,
			Std:  std,
			Min:  floats.Min(col),
			Max:  floats.Max(col),
		})
	}
	if err := g.Validate(); err != nil {
		s.Valid = false
		s.Problem = err.Error()
	}
	return s, nil
}

func printDatasetSummary(w io.Writer, s *datasetSummary) {
	printHeader(w, "Dataset")
	printField(w, "Path", "%s", s.Path)
	printField(w, "Schema", "v%d, integrity %s", s.Schema, s.Integrity)
	printField(w, "Nodes", "%d", s.Nodes)
	printField(w, "Edges", "%d (%d self loops)", s.Edges, s.SelfLoops)
	printField(w, "Mean degree", "%.2f", s.MeanDegree)
	printField(w, "Safe", "%d (%.1f%%)", s.Safe, percent(s.Safe, s.Nodes))
	printField(w, "High risk", "%d (%.1f%%)", s.HighRisk, percent(s.HighRisk, s.Nodes))
	if s.Valid {
		printField(w, "Valid", "%s%s%s", colorGreen, "yes", colorReset)
	} else {
		printField(w, "Valid", "%s%s%s", colorRed, s.Problem, colorReset)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%-14s %12s %12s %12s %12s%s\n", colorGray, "feature", "mean", "std", "min", "max", colorReset)
	for _, f := range s.Features {
		fmt.Fprintf(w, "%-14s %12.4g %12.4g %12.4g %12.4g\n", f.Name, f.Mean, f.Std, f.Min, f.Max)
	}

	if len(s.Meta) > 0 {
		fmt.Fprintln(w)
		meta := database.Meta(s.Meta)
		for _, k := range meta.Keys() {
			printField(w, k, "%s", meta[k])
		}
	}
}

// =============================================================================
// Checkpoint Summary
// =============================================================================

type tensorSummary struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

type checkpointSummary struct {
	Path          string          `json:"path"`
	RunID         string          `json:"run_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Epochs        int             `json:"epochs"`
	FinalLoss     float64         `json:"final_loss"`
	FinalAccuracy float64         `json:"final_accuracy"`
	Hidden        int             `json:"hidden"`
	Tensors       []tensorSummary `json:"tensors"`
}

func runInspectCheckpoint(cmd *cobra.Command, args []string) error {
	path := app.config.CheckpointPath()
	if len(args) == 1 {
		path = app.config.Dirs().CheckpointPath(args[0])
	}

	summary, err := summariseCheckpoint(path)
	if err != nil {
		return err
	}
	if inspectJSON {
		return writeJSON(cmd.OutOrStdout(), summary)
	}
	printCheckpointSummary(cmd.OutOrStdout(), summary)
	return nil
}

func summariseCheckpoint(path string) (*checkpointSummary, error) {
	c, err := checkpoint.Load(path)
	if err != nil {
		return nil, err
	}

	s := &checkpointSummary{
		Path:          path,
		RunID:         c.Meta.RunID,
		CreatedAt:     c.Meta.CreatedAt,
		Epochs:        c.Meta.Epochs,
		FinalLoss:     c.Meta.FinalLoss,
		FinalAccuracy: c.Meta.FinalAccuracy,
		Hidden:        c.Hidden(),
	}
	for _, name := range tensorOrder(c.Params) {
		s.Tensors = append(s.Tensors, tensorSummary{Name: name, Shape: c.Params[name].Shape})
	}
	return s, nil
}

// tensorOrder lists known parameters first, then any extras by name.
func tensorOrder(sd gcn.StateDict) []string {
	known := make(map[string]bool, len(gcn.ParamNames))
	var names []string
	for _, name := range gcn.ParamNames {
		known[name] = true
		if _, ok := sd[name]; ok {
			names = append(names, name)
		}
	}
	var extra []string
	for name := range sd {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

func printCheckpointSummary(w io.Writer, s *checkpointSummary) {
	printHeader(w, "Checkpoint")
	printField(w, "Path", "%s", s.Path)
	printField(w, "Run", "%s", s.RunID)
	printField(w, "Created", "%s", s.CreatedAt.Format(time.RFC3339))
	printField(w, "Epochs", "%d", s.Epochs)
	printField(w, "Final loss", "%.4f", s.FinalLoss)
	printField(w, "Accuracy", "%.2f%%", 100*s.FinalAccuracy)
	printField(w, "Hidden", "%d", s.Hidden)

	fmt.Fprintln(w)
	for _, t := range s.Tensors {
		fmt.Fprintf(w, "%s%-14s%s%v\n", colorYellow, t.Name, colorReset, t.Shape)
	}
}
