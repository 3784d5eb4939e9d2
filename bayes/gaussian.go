// Package bayes implements a Gaussian naive Bayes classifier trained by
// streaming per-class mean/variance updates: each batch is merged into the
// running statistics without revisiting raw historical samples.
package bayes

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/okonak/mlkit/dataset"
)

// epsilon matches the shared guard constant used by the neural package.
const epsilon = 1e-9

var (
	// ErrCategoricalColumn is returned when a batch carries a categorical
	// feature column; only continuous features are supported.
	ErrCategoricalColumn = errors.New("categorical feature column")

	// ErrNotTrained is returned by Predict and PredictProba before any
	// training call.
	ErrNotTrained = errors.New("estimator has not been trained")
)

// Estimator accumulates per-class, per-feature Gaussian statistics.
type Estimator struct {
	classes  []string
	index    map[string]int
	features int

	weights   []float64   // samples seen per class
	priors    []float64   // log prior probability per class
	means     [][]float64 // [class][feature]
	variances [][]float64 // [class][feature]
}

func New() *Estimator {
	return &Estimator{}
}

// Train establishes the class set from the table and zero-initializes all
// statistics before merging the table as the first batch.
func (e *Estimator) Train(tbl *dataset.Table) error {
	if err := checkContinuous(tbl); err != nil {
		return err
	}

	classes := tbl.Classes()
	if len(classes) < 2 {
		return fmt.Errorf("need at least 2 classes, got %d", len(classes))
	}

	e.classes = append([]string(nil), classes...)
	e.index = make(map[string]int, len(classes))
	for i, c := range classes {
		e.index[c] = i
	}
	e.features = tbl.NumColumns()

	e.weights = make([]float64, len(classes))
	e.priors = make([]float64, len(classes))
	e.means = make([][]float64, len(classes))
	e.variances = make([][]float64, len(classes))
	for i := range classes {
		e.means[i] = make([]float64, e.features)
		e.variances[i] = make([]float64, e.features)
	}

	return e.PartialUpdate(tbl)
}

// PartialUpdate merges one labeled batch into the running statistics. If
// no class set exists yet, the call is treated as Train.
func (e *Estimator) PartialUpdate(tbl *dataset.Table) error {
	if e.classes == nil {
		return e.Train(tbl)
	}
	if err := checkContinuous(tbl); err != nil {
		return err
	}
	if tbl.NumColumns() != e.features {
		return fmt.Errorf("batch has %d feature columns, estimator has %d", tbl.NumColumns(), e.features)
	}

	for _, batch := range tbl.ByClass() {
		ci, ok := e.index[batch.Class]
		if !ok {
			return fmt.Errorf("unknown class %q", batch.Class)
		}

		n := float64(len(batch.Cols[0]))
		priorWeight := e.weights[ci]
		total := priorWeight + n + epsilon

		for j, vals := range batch.Cols {
			batchMean := stat.Mean(vals, nil)

			var ss float64
			for _, v := range vals {
				d := v - batchMean
				ss += d * d
			}
			batchVariance := ss / (n + epsilon)

			oldMean := e.means[ci][j]
			oldVariance := e.variances[ci][j]

			e.means[ci][j] = (n*batchMean + priorWeight*oldMean) / total

			// Parallel variance combination; the middle term accounts for
			// the squared shift between the batch and running means.
			shift := n*oldMean - n*batchMean
			e.variances[ci][j] = (priorWeight*oldVariance+
				n*batchVariance+
				(priorWeight/(n*total))*shift*shift)/total + epsilon
		}

		e.weights[ci] += n
	}

	totalWeight := floats.Sum(e.weights)
	for ci := range e.classes {
		e.priors[ci] = math.Log((e.weights[ci] + epsilon) / (totalWeight + epsilon))
	}

	return nil
}

// Predict returns the class with the highest joint log-likelihood. Ties
// break toward the earliest class in declaration order.
func (e *Estimator) Predict(sample []float64) (string, error) {
	joint, err := e.jointLogLikelihood(sample)
	if err != nil {
		return "", err
	}
	return e.classes[floats.MaxIdx(joint)], nil
}

// PredictProba returns per-class probabilities in class order.
//
// The joint log-likelihoods are exponentiated as-is, with no max
// subtraction; well-separated classes can underflow to zero or overflow.
func (e *Estimator) PredictProba(sample []float64) ([]float64, error) {
	joint, err := e.jointLogLikelihood(sample)
	if err != nil {
		return nil, err
	}

	probs := make([]float64, len(joint))
	for i, ll := range joint {
		probs[i] = math.Exp(ll)
	}
	denom := floats.Sum(probs) + epsilon
	for i := range probs {
		probs[i] /= denom
	}
	return probs, nil
}

func (e *Estimator) jointLogLikelihood(sample []float64) ([]float64, error) {
	if e.classes == nil {
		return nil, ErrNotTrained
	}
	if len(sample) != e.features {
		return nil, fmt.Errorf("sample has %d features, estimator has %d", len(sample), e.features)
	}

	joint := make([]float64, len(e.classes))
	for ci := range e.classes {
		ll := e.priors[ci]
		for j, x := range sample {
			ll += logGaussianPDF(x, e.means[ci][j], e.variances[ci][j])
		}
		joint[ci] = ll
	}
	return joint, nil
}

func logGaussianPDF(x, mean, variance float64) float64 {
	d := x - mean
	return -0.5*math.Log(2*math.Pi*variance) - 0.5*d*d/variance
}

// Classes returns the class labels in declaration order.
func (e *Estimator) Classes() []string {
	return append([]string(nil), e.classes...)
}

// Weight returns the accumulated sample weight for a class.
func (e *Estimator) Weight(class string) (float64, error) {
	ci, err := e.classIndex(class)
	if err != nil {
		return 0, err
	}
	return e.weights[ci], nil
}

// PriorLogProb returns the log prior probability of a class.
func (e *Estimator) PriorLogProb(class string) (float64, error) {
	ci, err := e.classIndex(class)
	if err != nil {
		return 0, err
	}
	return e.priors[ci], nil
}

// Mean returns the running mean for a class and feature column.
func (e *Estimator) Mean(class string, j int) (float64, error) {
	ci, err := e.classIndex(class)
	if err != nil {
		return 0, err
	}
	if j < 0 || j >= e.features {
		return 0, fmt.Errorf("feature column %d out of range for %d features", j, e.features)
	}
	return e.means[ci][j], nil
}

// Variance returns the running variance for a class and feature column.
func (e *Estimator) Variance(class string, j int) (float64, error) {
	ci, err := e.classIndex(class)
	if err != nil {
		return 0, err
	}
	if j < 0 || j >= e.features {
		return 0, fmt.Errorf("feature column %d out of range for %d features", j, e.features)
	}
	return e.variances[ci][j], nil
}

func (e *Estimator) classIndex(class string) (int, error) {
	if e.classes == nil {
		return 0, ErrNotTrained
	}
	ci, ok := e.index[class]
	if !ok {
		return 0, fmt.Errorf("unknown class %q", class)
	}
	return ci, nil
}

// Statistics returns copies of the per-class weights, means, and variances
// in class order, for persistence.
func (e *Estimator) Statistics() (weights []float64, means, variances [][]float64) {
	weights = append([]float64(nil), e.weights...)
	means = make([][]float64, len(e.means))
	variances = make([][]float64, len(e.variances))
	for i := range e.means {
		means[i] = append([]float64(nil), e.means[i]...)
		variances[i] = append([]float64(nil), e.variances[i]...)
	}
	return weights, means, variances
}

// FromStatistics rebuilds an estimator from persisted statistics,
// recomputing the log priors from the weights.
func FromStatistics(classes []string, weights []float64, means, variances [][]float64) (*Estimator, error) {
	if len(classes) < 2 {
		return nil, fmt.Errorf("need at least 2 classes, got %d", len(classes))
	}
	if len(weights) != len(classes) || len(means) != len(classes) || len(variances) != len(classes) {
		return nil, fmt.Errorf("statistics do not cover all %d classes", len(classes))
	}
	features := len(means[0])
	for i := range classes {
		if len(means[i]) != features || len(variances[i]) != features {
			return nil, fmt.Errorf("class %q statistics have inconsistent feature counts", classes[i])
		}
	}

	e := &Estimator{
		classes:  append([]string(nil), classes...),
		index:    make(map[string]int, len(classes)),
		features: features,
		weights:  append([]float64(nil), weights...),
		priors:   make([]float64, len(classes)),
	}
	for i, c := range classes {
		e.index[c] = i
		e.means = append(e.means, append([]float64(nil), means[i]...))
		e.variances = append(e.variances, append([]float64(nil), variances[i]...))
	}

	totalWeight := floats.Sum(e.weights)
	for ci := range e.classes {
		e.priors[ci] = math.Log((e.weights[ci] + epsilon) / (totalWeight + epsilon))
	}

	return e, nil
}

func checkContinuous(tbl *dataset.Table) error {
	for j := 0; j < tbl.NumColumns(); j++ {
		if tbl.Kind(j) != dataset.Continuous {
			return fmt.Errorf("column %d: %w", j, ErrCategoricalColumn)
		}
	}
	return nil
}
