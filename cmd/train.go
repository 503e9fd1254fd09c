package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/adalundhe/nexus/core/checkpoint"
	"github.com/adalundhe/nexus/core/database"
	"github.com/adalundhe/nexus/core/graph"
	"github.com/adalundhe/nexus/core/metrics"
	"github.com/adalundhe/nexus/core/trainer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// =============================================================================
// Train Command Flags
// =============================================================================

var (
	trainDataset      string
	trainOut          string
	trainEpochs       int
	trainLearningRate float64
	trainWeightDecay  float64
	trainHidden       int
	trainDropout      float64
	trainSeed         uint64
	trainMetricsFile  string
	trainJSON         bool
)

// =============================================================================
// Train Command
// =============================================================================

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the classifier on a generated dataset",
	Long: `Train the two-layer graph convolutional classifier on a stored dataset
and write the learned parameters to a checkpoint.

The dataset is validated before training starts. A malformed dataset is
rejected with the violated invariant and no checkpoint is written. An
interrupted run also leaves any existing checkpoint untouched.

Examples:
  nexus train
  nexus train --dataset ./graph.db --out ./gcn.ckpt --epochs 300
  nexus train --metrics-file ./train.prom`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	defaults := trainer.DefaultConfig()
	flags := trainCmd.Flags()
	flags.StringVarP(&trainDataset, "dataset", "d", "", "Dataset name or path (default from config)")
	flags.StringVarP(&trainOut, "out", "o", "", "Checkpoint name or path (default from config)")
	flags.IntVar(&trainEpochs, "epochs", defaults.Epochs, "Training epochs")
	flags.Float64Var(&trainLearningRate, "lr", defaults.LearningRate, "Adam learning rate")
	flags.Float64Var(&trainWeightDecay, "weight-decay", defaults.WeightDecay, "L2 weight decay")
	flags.IntVar(&trainHidden, "hidden", defaults.Model.Hidden, "Hidden layer width")
	flags.Float64Var(&trainDropout, "dropout", defaults.Model.Dropout, "Dropout probability between layers")
	flags.Uint64Var(&trainSeed, "seed", defaults.Seed, "Seed for initialisation and dropout")
	flags.StringVar(&trainMetricsFile, "metrics-file", "", "Write Prometheus metrics in text format when done")
	flags.BoolVar(&trainJSON, "json", false, "Output as JSON")
}

// trainOutput is the JSON output for train.
type trainOutput struct {
	RunID         string               `json:"run_id"`
	Dataset       string               `json:"dataset"`
	Checkpoint    string               `json:"checkpoint"`
	Epochs        int                  `json:"epochs"`
	FinalLoss     float64              `json:"final_loss"`
	FinalAccuracy float64              `json:"final_accuracy"`
	History       []trainer.EpochStats `json:"history"`
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	cfg := app.config.Get()
	tc := cfg.Trainer()
	flags := cmd.Flags()
	if flags.Changed("epochs") {
		tc.Epochs = trainEpochs
	}
	if flags.Changed("lr") {
		tc.LearningRate = trainLearningRate
	}
	if flags.Changed("weight-decay") {
		tc.WeightDecay = trainWeightDecay
	}
	if flags.Changed("hidden") {
		tc.Model.Hidden = trainHidden
	}
	if flags.Changed("dropout") {
		tc.Model.Dropout = trainDropout
	}
	if flags.Changed("seed") {
		tc.Seed = trainSeed
	}

	dirs := app.config.Dirs()
	datasetPath := app.config.DatasetPath()
	if trainDataset != "" {
		datasetPath = dirs.DatasetPath(trainDataset)
	}
	ckptPath := app.config.CheckpointPath()
	if trainOut != "" {
		ckptPath = dirs.CheckpointPath(trainOut)
	}

	store, err := database.OpenDataset(ctx, datasetPath)
	if err != nil {
		return err
	}
	g, _, err := store.Load(ctx)
	store.Close()
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}

	reg := prometheus.NewRegistry()
	res, err := trainer.New(tc, app.logger, metrics.New(reg)).Train(ctx, g)
	if err != nil {
		var verr *graph.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("dataset %s rejected (%s): %w", datasetPath, verr.Invariant, err)
		}
		return err
	}

	ckpt := checkpoint.New(res.Model, checkpoint.Metadata{
		RunID:         res.RunID,
		Epochs:        res.Epochs,
		FinalLoss:     res.FinalLoss,
		FinalAccuracy: res.FinalAccuracy,
	})
	if err := checkpoint.Save(ckptPath, ckpt); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", ckptPath, err)
	}
	app.logger.Info("checkpoint saved",
		slog.String("run_id", res.RunID),
		slog.String("path", ckptPath))

	if trainMetricsFile != "" {
		if err := prometheus.WriteToTextfile(trainMetricsFile, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	out := &trainOutput{
		RunID:         res.RunID,
		Dataset:       datasetPath,
		Checkpoint:    ckptPath,
		Epochs:        res.Epochs,
		FinalLoss:     res.FinalLoss,
		FinalAccuracy: res.FinalAccuracy,
		History:       res.History,
	}
	if trainJSON {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	printTrain(cmd.OutOrStdout(), out)
	return nil
}

func printTrain(w io.Writer, out *trainOutput) {
	printHeader(w, "Training")
	for _, s := range out.History {
		fmt.Fprintf(w, "Epoch %03d | Loss: %.4f | Acc: %.2f%%\n", s.Epoch, s.Loss, 100*s.Accuracy)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%sTraining complete.%s Weights saved to %s\n", colorGreen, colorReset, out.Checkpoint)
	printField(w, "Run", "%s", out.RunID)
	printField(w, "Final loss", "%.4f", out.FinalLoss)
	printField(w, "Accuracy", "%.2f%%", 100*out.FinalAccuracy)
}
