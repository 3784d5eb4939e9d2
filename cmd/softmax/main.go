// Command softmax trains and runs the softmax output layer on an npz
// dataset.
//
// To train: `go run ./cmd/softmax train --data-file=iris.npz --classes=setosa,versicolor,virginica`
//
// To infer: `go run ./cmd/softmax infer --weights=softmax-out.safetensors --data-file=iris.npz --classes=setosa,versicolor,virginica`
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/google/subcommands"

	"github.com/okonak/mlkit/dataset"
	"github.com/okonak/mlkit/neural"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&TrainCommand{}, "")
	subcommands.Register(&InferCommand{}, "")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}

type TrainCommand struct {
	dataFile string
	classes  string

	epochs           int
	batchSize        int
	learningRate     float64
	alpha            float64
	outputWeightFile string

	cpuProfileFile string
}

var _ subcommands.Command = (*TrainCommand)(nil)

func (*TrainCommand) Name() string {
	return "train"
}

func (*TrainCommand) Synopsis() string {
	return "Train the output layer"
}

func (*TrainCommand) Usage() string {
	return ``
}

func (c *TrainCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.dataFile, "data-file", "data.npz", "Path to the npz input file (x: float64 matrix, y: int64 labels)")
	f.StringVar(&c.classes, "classes", "", "Comma-separated class names, in label order")
	f.IntVar(&c.epochs, "epochs", 100, "Number of passes over the training data")
	f.IntVar(&c.batchSize, "batch-size", 32, "Samples per optimization step")
	f.Float64Var(&c.learningRate, "learning-rate", 0.01, "Adam step size")
	f.Float64Var(&c.alpha, "alpha", 0, "L2 regularization coefficient")
	f.StringVar(&c.outputWeightFile, "output-weight-file", "softmax-out.safetensors", "Path to save trained weights (safetensors format)")

	f.StringVar(&c.cpuProfileFile, "cpu-profile", "", "Write a CPU profile")
}

func (c *TrainCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.executeErr(ctx); err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *TrainCommand) executeErr(ctx context.Context) error {
	if c.cpuProfileFile != "" {
		f, err := os.Create(c.cpuProfileFile)
		if err != nil {
			return fmt.Errorf("while creating CPU profile file: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("while starting CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	classes, err := splitClasses(c.classes)
	if err != nil {
		return err
	}

	tbl, err := dataset.FromNPZ(c.dataFile, "x.npy", "y.npy", classes)
	if err != nil {
		return fmt.Errorf("while loading data set: %w", err)
	}
	log.Printf("Loaded %d samples with %d features", tbl.NumRows(), tbl.NumColumns())

	r := rand.New(rand.NewSource(12345))

	layer, err := neural.NewCostLayer(classes, float32(c.alpha), neural.CrossEntropy{}, r)
	if err != nil {
		return fmt.Errorf("while constructing layer: %w", err)
	}

	opt := neural.NewAdam(float32(c.learningRate))
	if _, err := layer.Initialize(tbl.NumColumns(), opt); err != nil {
		return fmt.Errorf("while initializing layer: %w", err)
	}

	for epoch := 0; epoch < c.epochs; epoch++ {
		var epochCost float32

		for start := 0; start < tbl.NumRows(); start += c.batchSize {
			end := start + c.batchSize
			if end > tbl.NumRows() {
				end = tbl.NumRows()
			}
			batch := tbl.Slice(start, end)

			x := featureMatrix(batch)
			if _, err := layer.Forward(x); err != nil {
				return fmt.Errorf("while running forward pass: %w", err)
			}
			_, cost, err := layer.Back(batch.Labels(), opt)
			if err != nil {
				return fmt.Errorf("while running backward pass: %w", err)
			}
			epochCost += cost
		}

		if epoch%10 == 0 || epoch == c.epochs-1 {
			correct, err := countCorrect(layer, tbl)
			if err != nil {
				return err
			}
			log.Printf("epoch %d cost=%f training-pct=%.1f",
				epoch, epochCost, float32(correct)/float32(tbl.NumRows())*100)
		}
	}

	f, err := os.Create(c.outputWeightFile)
	if err != nil {
		return fmt.Errorf("while creating weight file: %w", err)
	}
	defer f.Close()

	if err := neural.WriteSafeTensors(f, layer.Read()); err != nil {
		return fmt.Errorf("while writing weight tensors: %w", err)
	}
	log.Printf("Wrote weights to %s", c.outputWeightFile)

	return nil
}

type InferCommand struct {
	weightsFile string
	dataFile    string
	classes     string
}

var _ subcommands.Command = (*InferCommand)(nil)

func (*InferCommand) Name() string {
	return "infer"
}

func (*InferCommand) Synopsis() string {
	return "Infer using saved weights"
}

func (*InferCommand) Usage() string {
	return ``
}

func (c *InferCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.weightsFile, "weights", "softmax-out.safetensors", "Path to the weights produced by the train command")
	f.StringVar(&c.dataFile, "data-file", "data.npz", "Path to the npz file to classify")
	f.StringVar(&c.classes, "classes", "", "Comma-separated class names, in label order")
}

func (c *InferCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.executeErr(ctx); err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *InferCommand) executeErr(ctx context.Context) error {
	classes, err := splitClasses(c.classes)
	if err != nil {
		return err
	}

	tbl, err := dataset.FromNPZ(c.dataFile, "x.npy", "y.npy", classes)
	if err != nil {
		return fmt.Errorf("while loading data set: %w", err)
	}

	r := rand.New(rand.NewSource(12345))
	layer, err := neural.NewCostLayer(classes, 0, neural.CrossEntropy{}, r)
	if err != nil {
		return fmt.Errorf("while constructing layer: %w", err)
	}

	f, err := os.Open(c.weightsFile)
	if err != nil {
		return fmt.Errorf("while opening weights file: %w", err)
	}
	defer f.Close()

	tensors, err := neural.ReadSafeTensors(f)
	if err != nil {
		return fmt.Errorf("while reading weight tensors: %w", err)
	}
	if err := layer.Restore(tensors); err != nil {
		return fmt.Errorf("while restoring layer: %w", err)
	}

	correct, err := countCorrect(layer, tbl)
	if err != nil {
		return err
	}
	log.Printf("%d correct out of %d (%.1f%%)",
		correct, tbl.NumRows(), float32(correct)/float32(tbl.NumRows())*100)

	return nil
}

// featureMatrix lays a table out as a (features, batch) matrix.
func featureMatrix(tbl *dataset.Table) *neural.Mat32 {
	x := neural.MakeMat32(tbl.NumColumns(), tbl.NumRows())
	for j := 0; j < tbl.NumColumns(); j++ {
		col := tbl.Column(j)
		for i := 0; i < tbl.NumRows(); i++ {
			x.Set(j, i, float32(col[i]))
		}
	}
	return x
}

func countCorrect(layer *neural.CostLayer, tbl *dataset.Table) (int, error) {
	a, err := layer.Forward(featureMatrix(tbl))
	if err != nil {
		return 0, fmt.Errorf("while running forward pass: %w", err)
	}

	classes := tbl.Classes()
	labels := tbl.Labels()
	correct := 0
	for j := 0; j < a.Cols; j++ {
		best := 0
		for i := 1; i < a.Rows; i++ {
			if a.At(i, j) > a.At(best, j) {
				best = i
			}
		}
		if classes[best] == labels[j] {
			correct++
		}
	}
	return correct, nil
}

func splitClasses(s string) ([]string, error) {
	if s == "" {
		return nil, fmt.Errorf("the -classes flag is required")
	}
	return strings.Split(s, ","), nil
}
