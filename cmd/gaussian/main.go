// Command gaussian trains and runs the streaming Gaussian naive Bayes
// classifier on an npz dataset.
//
// To train: `go run ./cmd/gaussian train --data-file=iris.npz --classes=setosa,versicolor,virginica`
//
// To predict: `go run ./cmd/gaussian predict --model=gaussian-out.safetensors --classes=setosa,versicolor,virginica --sample=5.1,3.5,1.4,0.2`
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/google/subcommands"

	"github.com/okonak/mlkit/bayes"
	"github.com/okonak/mlkit/dataset"
	"github.com/okonak/mlkit/neural"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&TrainCommand{}, "")
	subcommands.Register(&PredictCommand{}, "")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}

type TrainCommand struct {
	dataFile  string
	classes   string
	batchSize int

	outputModelFile string
}

var _ subcommands.Command = (*TrainCommand)(nil)

func (*TrainCommand) Name() string {
	return "train"
}

func (*TrainCommand) Synopsis() string {
	return "Train the Gaussian estimator"
}

func (*TrainCommand) Usage() string {
	return ``
}

func (c *TrainCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dataFile, "data-file", "data.npz", "Path to the npz input file (x: float64 matrix, y: int64 labels)")
	f.StringVar(&c.classes, "classes", "", "Comma-separated class names, in label order")
	f.IntVar(&c.batchSize, "batch-size", 256, "Samples merged per partial update")
	f.StringVar(&c.outputModelFile, "output-model-file", "gaussian-out.safetensors", "Path to save the fitted statistics (safetensors format)")
}

func (c *TrainCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.executeErr(ctx); err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *TrainCommand) executeErr(ctx context.Context) error {
	classes, err := splitClasses(c.classes)
	if err != nil {
		return err
	}

	tbl, err := dataset.FromNPZ(c.dataFile, "x.npy", "y.npy", classes)
	if err != nil {
		return fmt.Errorf("while loading data set: %w", err)
	}
	log.Printf("Loaded %d samples with %d features", tbl.NumRows(), tbl.NumColumns())

	est := bayes.New()
	for start := 0; start < tbl.NumRows(); start += c.batchSize {
		end := start + c.batchSize
		if end > tbl.NumRows() {
			end = tbl.NumRows()
		}
		if err := est.PartialUpdate(tbl.Slice(start, end)); err != nil {
			return fmt.Errorf("while merging batch at row %d: %w", start, err)
		}
	}

	correct := 0
	for i := 0; i < tbl.NumRows(); i++ {
		pred, err := est.Predict(tbl.Row(i))
		if err != nil {
			return fmt.Errorf("while predicting row %d: %w", i, err)
		}
		if pred == tbl.Labels()[i] {
			correct++
		}
	}
	log.Printf("training accuracy %d/%d (%.1f%%)",
		correct, tbl.NumRows(), float64(correct)/float64(tbl.NumRows())*100)

	f, err := os.Create(c.outputModelFile)
	if err != nil {
		return fmt.Errorf("while creating model file: %w", err)
	}
	defer f.Close()

	if err := neural.WriteSafeTensors(f, statTensors(est)); err != nil {
		return fmt.Errorf("while writing model tensors: %w", err)
	}
	log.Printf("Wrote model to %s", c.outputModelFile)

	return nil
}

type PredictCommand struct {
	modelFile string
	classes   string
	sample    string
}

var _ subcommands.Command = (*PredictCommand)(nil)

func (*PredictCommand) Name() string {
	return "predict"
}

func (*PredictCommand) Synopsis() string {
	return "Predict a sample's class using a saved model"
}

func (*PredictCommand) Usage() string {
	return ``
}

func (c *PredictCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.modelFile, "model", "gaussian-out.safetensors", "Path to the model produced by the train command")
	f.StringVar(&c.classes, "classes", "", "Comma-separated class names, in label order")
	f.StringVar(&c.sample, "sample", "", "Comma-separated feature values")
}

func (c *PredictCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.executeErr(ctx); err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *PredictCommand) executeErr(ctx context.Context) error {
	classes, err := splitClasses(c.classes)
	if err != nil {
		return err
	}

	sample := []float64{}
	for _, field := range strings.Split(c.sample, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return fmt.Errorf("while parsing sample value %q: %w", field, err)
		}
		sample = append(sample, v)
	}

	f, err := os.Open(c.modelFile)
	if err != nil {
		return fmt.Errorf("while opening model file: %w", err)
	}
	defer f.Close()

	tensors, err := neural.ReadSafeTensors(f)
	if err != nil {
		return fmt.Errorf("while reading model tensors: %w", err)
	}

	est, err := estimatorFromTensors(classes, tensors)
	if err != nil {
		return fmt.Errorf("while restoring estimator: %w", err)
	}

	pred, err := est.Predict(sample)
	if err != nil {
		return fmt.Errorf("while predicting: %w", err)
	}
	probs, err := est.PredictProba(sample)
	if err != nil {
		return fmt.Errorf("while computing probabilities: %w", err)
	}

	log.Printf("Prediction: %s", pred)
	for i, class := range classes {
		log.Printf("  %s: %.4f", class, probs[i])
	}

	return nil
}

// statTensors flattens the estimator statistics into f32 tensors keyed
// weights (1, C), means (C, F), and variances (C, F).
func statTensors(est *bayes.Estimator) map[string]*neural.Mat32 {
	weights, means, variances := est.Statistics()

	w := neural.MakeMat32(1, len(weights))
	for i, v := range weights {
		w.Set(0, i, float32(v))
	}

	m := neural.MakeMat32(len(means), len(means[0]))
	s := neural.MakeMat32(len(variances), len(variances[0]))
	for i := range means {
		for j := range means[i] {
			m.Set(i, j, float32(means[i][j]))
			s.Set(i, j, float32(variances[i][j]))
		}
	}

	return map[string]*neural.Mat32{
		"weights":   w,
		"means":     m,
		"variances": s,
	}
}

func estimatorFromTensors(classes []string, tensors map[string]*neural.Mat32) (*bayes.Estimator, error) {
	w, ok := tensors["weights"]
	if !ok {
		return nil, fmt.Errorf("missing weights tensor")
	}
	m, ok := tensors["means"]
	if !ok {
		return nil, fmt.Errorf("missing means tensor")
	}
	s, ok := tensors["variances"]
	if !ok {
		return nil, fmt.Errorf("missing variances tensor")
	}

	weights := make([]float64, w.Cols)
	for i := range weights {
		weights[i] = float64(w.At(0, i))
	}

	means := make([][]float64, m.Rows)
	variances := make([][]float64, s.Rows)
	for i := 0; i < m.Rows; i++ {
		means[i] = make([]float64, m.Cols)
		variances[i] = make([]float64, s.Cols)
		for j := 0; j < m.Cols; j++ {
			means[i][j] = float64(m.At(i, j))
			variances[i][j] = float64(s.At(i, j))
		}
	}

	return bayes.FromStatistics(classes, weights, means, variances)
}

func splitClasses(s string) ([]string, error) {
	if s == "" {
		return nil, fmt.Errorf("the -classes flag is required")
	}
	return strings.Split(s, ","), nil
}
