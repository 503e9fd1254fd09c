package cmd

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/adalundhe/nexus/core/inference"
	"github.com/adalundhe/nexus/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// =============================================================================
// Predict Command Flags
// =============================================================================

var (
	predictCheckpoint  string
	predictAge         float64
	predictIncome      float64
	predictDharma      float64
	predictBatch       bool
	predictCacheSize   int
	predictMetricsFile string
	predictJSON        bool
)

// =============================================================================
// Predict Command
// =============================================================================

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Assess the default risk of a borrower",
	Long: `Assess one borrower with a trained checkpoint.

The borrower is scored as an isolated node whose only edge is a self loop,
so no neighbour information is used. Values outside the training ranges are
accepted and still classified.

With --batch, borrowers are read from stdin as CSV rows of
age,income,dharma_score (an optional header row and # comments are skipped)
and each is assessed in turn.

Examples:
  nexus predict --age 30 --income 42000 --dharma 0.4
  nexus predict --age 70 --income 200000 --dharma 1 --json
  nexus predict --batch < borrowers.csv`,
	Args: cobra.NoArgs,
	RunE: runPredict,
}

func init() {
	rootCmd.AddCommand(predictCmd)

	flags := predictCmd.Flags()
	flags.StringVarP(&predictCheckpoint, "checkpoint", "c", "", "Checkpoint name or path (default from config)")
	flags.Float64Var(&predictAge, "age", 0, "Borrower age in years")
	flags.Float64Var(&predictIncome, "income", 0, "Borrower income")
	flags.Float64Var(&predictDharma, "dharma", 0, "Borrower dharma score in [0,1]")
	flags.BoolVar(&predictBatch, "batch", false, "Read age,income,dharma rows from stdin")
	flags.IntVar(&predictCacheSize, "cache-size", inference.DefaultCacheSize, "Memoised assessments in batch mode")
	flags.StringVar(&predictMetricsFile, "metrics-file", "", "Write Prometheus prediction counters in text format when done")
	flags.BoolVar(&predictJSON, "json", false, "Output as JSON")
}

// predictOutput is the JSON output for one assessment.
type predictOutput struct {
	Status     string  `json:"status"`
	Prediction string  `json:"prediction"`
	Label      string  `json:"label"`
	RiskProb   float64 `json:"risk_probability"`
	Age        float64 `json:"age"`
	Income     float64 `json:"income"`
	Dharma     float64 `json:"dharma_score"`
}

func runPredict(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if !predictBatch {
		var missing []string
		for _, name := range []string{"age", "income", "dharma"} {
			if !flags.Changed(name) {
				missing = append(missing, "--"+name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
		}
	}

	path := app.config.CheckpointPath()
	if predictCheckpoint != "" {
		path = app.config.Dirs().CheckpointPath(predictCheckpoint)
	}

	reg := prometheus.NewRegistry()
	predictor, err := inference.LoadPredictor(path,
		inference.WithLogger(app.logger),
		inference.WithRecorder(metrics.New(reg)))
	if err != nil {
		return err
	}

	if predictBatch {
		cached, err := inference.NewCachedPredictor(predictor, predictCacheSize)
		if err != nil {
			return err
		}
		err = predictRows(cmd.InOrStdin(), cmd.OutOrStdout(), cached)
		if err != nil {
			return err
		}
	} else {
		a, err := predictor.Assess(predictAge, predictIncome, predictDharma)
		if err != nil {
			return err
		}
		out := newPredictOutput(predictAge, predictIncome, predictDharma, a)
		if err := printAssessment(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	}

	if predictMetricsFile != "" {
		if err := prometheus.WriteToTextfile(predictMetricsFile, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func newPredictOutput(age, income, dharma float64, a inference.Assessment) *predictOutput {
	return &predictOutput{
		Status:     "success",
		Prediction: a.DisplayLabel,
		Label:      string(a.Label),
		RiskProb:   a.RiskProb,
		Age:        age,
		Income:     income,
		Dharma:     dharma,
	}
}

// predictRows assesses every CSV row of r. The first row may be a header
// naming the columns.
func predictRows(r io.Reader, w io.Writer, scorer inference.Scorer) error {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true

	for row := 1; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read row %d: %w", row, err)
		}

		if row == 1 && isHeader(record) {
			continue
		}
		values, err := parseBorrower(record)
		if err != nil {
			return fmt.Errorf("row %d: %w", row, err)
		}

		a, err := scorer.Assess(values[0], values[1], values[2])
		if err != nil {
			return fmt.Errorf("row %d: %w", row, err)
		}
		if err := printAssessment(w, newPredictOutput(values[0], values[1], values[2], a)); err != nil {
			return err
		}
	}
}

// isHeader reports whether no field of record is numeric.
func isHeader(record []string) bool {
	for _, field := range record {
		if _, err := strconv.ParseFloat(strings.TrimSpace(field), 64); err == nil {
			return false
		}
	}
	return true
}

func parseBorrower(record []string) ([3]float64, error) {
	var values [3]float64
	for i, field := range record {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return values, fmt.Errorf("field %d: %w", i+1, err)
		}
		values[i] = v
	}
	return values, nil
}

func printAssessment(w io.Writer, out *predictOutput) error {
	if predictJSON {
		return json.NewEncoder(w).Encode(out)
	}

	color := colorGreen
	if out.Label == string(inference.LabelHighRisk) {
		color = colorRed
	}
	fmt.Fprintf(w, "%sage=%g income=%g dharma=%g%s -> %s%s%s (risk %.1f%%)\n",
		colorGray, out.Age, out.Income, out.Dharma, colorReset,
		color, out.Prediction, colorReset, 100*out.RiskProb)
	return nil
}
